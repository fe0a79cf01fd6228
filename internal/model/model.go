// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"time"
)

// TriggerType is the category of event an alert rule subscribes to.
type TriggerType string

// Supported trigger types.
const (
	TriggerLaunchStatus  TriggerType = "launch_status"
	TriggerNewsKeyword   TriggerType = "news_keyword"
	TriggerContractAward TriggerType = "contract_award"
)

// Channel is a delivery channel for a notification.
type Channel string

// Supported delivery channels.
const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// Priority is the urgency level of an alert rule.
type Priority string

// Supported priorities.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DeliveryStatus tracks a delivery through the dispatcher.
type DeliveryStatus string

// Delivery statuses. Deliveries are created pending; sent and failed are terminal.
const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// AlertRule is a user's standing subscription to a class of events.
type AlertRule struct {
	ID              string
	UserID          string
	Name            string
	TriggerType     TriggerType
	TriggerConfig   json.RawMessage
	Channels        []Channel
	Priority        Priority
	LastTriggeredAt *time.Time
	CooldownMinutes int
	IsActive        bool
	TriggerCount    int
	CreatedAt       time.Time
}

// AlertHistory is the audit record of one rule firing for one event.
type AlertHistory struct {
	ID          string
	RuleID      string
	UserID      string
	TriggerType TriggerType
	EventData   map[string]any
	CreatedAt   time.Time
}

// AlertDelivery is one outbound notification task for one channel.
type AlertDelivery struct {
	ID        string
	UserID    string
	HistoryID string
	Channel   Channel
	Status    DeliveryStatus
	Title     string
	Message   string
	Data      map[string]any
	Source    string
	CreatedAt time.Time
}

// CompanyProfile identifies a company that users can watch.
type CompanyProfile struct {
	ID   string
	Name string
	Slug string
}

// NewsArticle is a published article tagged with the companies it mentions.
type NewsArticle struct {
	ID          string
	Title       string
	Summary     string
	URL         string
	Source      string
	PublishedAt time.Time
	Companies   []CompanyProfile
}

// ContractAward is a government contract awarded to a company.
// AwardAmount is nil when the amount was not disclosed.
type ContractAward struct {
	ID          string
	Title       string
	Agency      string
	AwardAmount *float64
	AwardDate   time.Time
	CompanyID   string
	Company     *CompanyProfile
}

// ServiceListing is a marketplace listing published by a company.
type ServiceListing struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	CompanyID   string
	Company     *CompanyProfile
}

// WatchlistAlertType is the kind of entity a watchlist alert refers to.
type WatchlistAlertType string

// Watchlist alert types.
const (
	WatchlistNews     WatchlistAlertType = "news"
	WatchlistContract WatchlistAlertType = "contract"
	WatchlistListing  WatchlistAlertType = "listing"
)

// CompanyWatchlistItem is one user's subscription to alerts about one company.
type CompanyWatchlistItem struct {
	ID              string
	UserID          string
	CompanyID       string
	NotifyNews      bool
	NotifyContracts bool
	NotifyListings  bool
	CreatedAt       time.Time
}

// WatchlistAlertLog records that a user was alerted about an entity.
// (UserID, CompanyID, AlertType, ReferenceID) is unique.
type WatchlistAlertLog struct {
	ID          string
	UserID      string
	CompanyID   string
	AlertType   WatchlistAlertType
	ReferenceID string
	CreatedAt   time.Time
}
