// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"spacenexus/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
	// ErrRuleCoolingDown is returned by RecordTrigger when the rule was
	// triggered by someone else within its cooldown window.
	ErrRuleCoolingDown = errors.New("rule is cooling down")
	// ErrNotPending is returned when a status change is requested for a
	// delivery that already reached a terminal status.
	ErrNotPending = errors.New("delivery is not pending")

	errMalformedRule = errors.New("malformed alert rule")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateAlertRule(ctx context.Context, rule *model.AlertRule) error
	GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error)
	ListActiveRules(ctx context.Context, triggerType model.TriggerType) ([]model.AlertRule, error)
	RecordTrigger(ctx context.Context, rule *model.AlertRule, history *model.AlertHistory, deliveries []model.AlertDelivery, at time.Time) error
	ListAlertHistory(ctx context.Context, ruleID string) ([]model.AlertHistory, error)

	ListDeliveries(ctx context.Context, userID string) ([]model.AlertDelivery, error)
	ListPendingDeliveries(ctx context.Context, channel model.Channel, limit int) ([]model.AlertDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error

	CreateCompany(ctx context.Context, c *model.CompanyProfile) error
	CreateNewsArticle(ctx context.Context, a *model.NewsArticle) error
	CreateContractAward(ctx context.Context, c *model.ContractAward) error
	CreateServiceListing(ctx context.Context, l *model.ServiceListing) error
	CreateWatchlistItem(ctx context.Context, item *model.CompanyWatchlistItem) error

	RecentNewsArticles(ctx context.Context, since time.Time) ([]model.NewsArticle, error)
	RecentContractAwards(ctx context.Context, since time.Time) ([]model.ContractAward, error)
	RecentServiceListings(ctx context.Context, since time.Time) ([]model.ServiceListing, error)
	ListWatchers(ctx context.Context, companyID string, alertType model.WatchlistAlertType) ([]model.CompanyWatchlistItem, error)
	RecordWatchlistAlert(ctx context.Context, log *model.WatchlistAlertLog, deliveries []model.AlertDelivery) error

	Close() error
}
