// Package watchlist alerts users about recent news, contracts and marketplace
// listings of the companies on their watchlists.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"spacenexus/internal/format"
	"spacenexus/internal/model"
	"spacenexus/internal/storage"
)

// DefaultWindow is how far back each run looks for new entities.
const DefaultWindow = 24 * time.Hour

// SourceWatchlist tags deliveries created by this package.
const SourceWatchlist = "watchlist"

// Store is the persistence the processor needs.
type Store interface {
	RecentNewsArticles(ctx context.Context, since time.Time) ([]model.NewsArticle, error)
	RecentContractAwards(ctx context.Context, since time.Time) ([]model.ContractAward, error)
	RecentServiceListings(ctx context.Context, since time.Time) ([]model.ServiceListing, error)
	ListWatchers(ctx context.Context, companyID string, alertType model.WatchlistAlertType) ([]model.CompanyWatchlistItem, error)
	RecordWatchlistAlert(ctx context.Context, log *model.WatchlistAlertLog, deliveries []model.AlertDelivery) error
}

// Result holds the number of watchers alerted per pipeline.
type Result struct {
	NewsAlerts     int `json:"newsAlerts"`
	ContractAlerts int `json:"contractAlerts"`
	ListingAlerts  int `json:"listingAlerts"`
}

// Total returns the sum of all counters.
func (r Result) Total() int {
	return r.NewsAlerts + r.ContractAlerts + r.ListingAlerts
}

// Processor runs the news, contract and listing pipelines.
type Processor struct {
	store  Store
	log    *slog.Logger
	now    func() time.Time
	window time.Duration
}

// New creates a Processor with the default lookback window.
func New(store Store, log *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		log:    log,
		now:    time.Now,
		window: DefaultWindow,
	}
}

// SetClock overrides the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// SetWindow overrides the lookback window. Non-positive values are ignored.
func (p *Processor) SetWindow(d time.Duration) {
	if d > 0 {
		p.window = d
	}
}

// Process runs all three pipelines in order and returns the counters. A
// failing entity query or a canceled context ends the run early with the
// counts gathered so far.
func (p *Processor) Process(ctx context.Context) Result {
	now := p.now().UTC()
	r := &run{
		Processor: p,
		log:       p.log.With("run_id", uuid.NewString()),
		now:       now,
		since:     now.Add(-p.window),
	}

	err := r.news(ctx)
	if err == nil {
		err = r.contracts(ctx)
	}
	if err == nil {
		err = r.listings(ctx)
	}
	if err != nil {
		r.log.Error("watchlist run aborted",
			"news_alerts", r.result.NewsAlerts,
			"contract_alerts", r.result.ContractAlerts,
			"listing_alerts", r.result.ListingAlerts,
			"error", err)
		return r.result
	}

	r.log.Info("watchlist run finished",
		"news_alerts", r.result.NewsAlerts,
		"contract_alerts", r.result.ContractAlerts,
		"listing_alerts", r.result.ListingAlerts)
	return r.result
}

// run is the state of a single Process call.
type run struct {
	*Processor
	log    *slog.Logger
	now    time.Time
	since  time.Time
	result Result
}

// alert is one entity about one company, rendered for a watcher.
type alert struct {
	alertType   model.WatchlistAlertType
	referenceID string
	company     model.CompanyProfile
	title       string
	message     string
	data        map[string]any
	email       bool
}

func (r *run) news(ctx context.Context) error {
	articles, err := r.store.RecentNewsArticles(ctx, r.since)
	if err != nil {
		return fmt.Errorf("news articles: %w", err)
	}
	for _, a := range articles {
		for _, c := range a.Companies {
			message := a.Summary
			if message == "" {
				message = fmt.Sprintf("New article about %s from %s", c.Name, a.Source)
			}
			n, err := r.notify(ctx, alert{
				alertType:   model.WatchlistNews,
				referenceID: a.ID,
				company:     c,
				title:       fmt.Sprintf("%s: %s", c.Name, a.Title),
				message:     message,
				data: map[string]any{
					"type":        "watchlist_news",
					"companySlug": c.Slug,
					"link":        "/company-profiles/" + c.Slug,
				},
				email: true,
			})
			r.result.NewsAlerts += n
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) contracts(ctx context.Context) error {
	awards, err := r.store.RecentContractAwards(ctx, r.since)
	if err != nil {
		return fmt.Errorf("contract awards: %w", err)
	}
	for _, a := range awards {
		if a.Company == nil {
			r.log.Debug("contract without company profile", "contract_id", a.ID)
			continue
		}
		c := *a.Company
		amount := format.AwardAmount(a.AwardAmount)
		message := fmt.Sprintf("%s was awarded a %s contract", c.Name, amount)
		if a.Agency != "" {
			message += " by " + a.Agency
		}
		if a.Title != "" {
			message += ": " + a.Title
		}
		n, err := r.notify(ctx, alert{
			alertType:   model.WatchlistContract,
			referenceID: a.ID,
			company:     c,
			title:       fmt.Sprintf("%s: New %s Contract", c.Name, amount),
			message:     message,
			data: map[string]any{
				"type":        "watchlist_contract",
				"companySlug": c.Slug,
				"link":        "/company-profiles/" + c.Slug + "?tab=contracts",
			},
			email: true,
		})
		r.result.ContractAlerts += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) listings(ctx context.Context) error {
	listings, err := r.store.RecentServiceListings(ctx, r.since)
	if err != nil {
		return fmt.Errorf("service listings: %w", err)
	}
	for _, l := range listings {
		if l.Company == nil {
			r.log.Debug("listing without company profile", "listing_id", l.ID)
			continue
		}
		c := *l.Company
		message := fmt.Sprintf("%s listed %q on the marketplace", c.Name, l.Name)
		if l.Description != "" {
			message += ": " + format.Excerpt(l.Description, 200)
		}
		n, err := r.notify(ctx, alert{
			alertType:   model.WatchlistListing,
			referenceID: l.ID,
			company:     c,
			title:       c.Name + ": New Marketplace Listing",
			message:     message,
			data: map[string]any{
				"type": "watchlist_listing",
				"link": "/marketplace/listings/" + l.ID,
			},
		})
		r.result.ListingAlerts += n
		if err != nil {
			return err
		}
	}
	return nil
}

// notify alerts every watcher of a.company that has not been alerted about
// the entity yet. It returns the number of watchers alerted. Only context
// cancellation is returned as an error; watcher lookup and per-watcher
// failures are logged and skipped.
func (r *run) notify(ctx context.Context, a alert) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	watchers, err := r.store.ListWatchers(ctx, a.company.ID, a.alertType)
	if err != nil {
		r.log.Error("list watchers",
			"alert_type", a.alertType, "company_id", a.company.ID, "reference_id", a.referenceID, "error", err)
		return 0, ctx.Err()
	}

	alerted := 0
	for _, w := range watchers {
		if err := ctx.Err(); err != nil {
			return alerted, err
		}

		entry := &model.WatchlistAlertLog{
			UserID:      w.UserID,
			CompanyID:   a.company.ID,
			AlertType:   a.alertType,
			ReferenceID: a.referenceID,
			CreatedAt:   r.now,
		}
		err := r.store.RecordWatchlistAlert(ctx, entry, a.deliveries(w.UserID))
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			r.log.Debug("already notified",
				"alert_type", a.alertType, "user_id", w.UserID, "reference_id", a.referenceID)
			continue
		case err != nil:
			r.log.Error("record watchlist alert",
				"alert_type", a.alertType, "user_id", w.UserID, "company_id", a.company.ID,
				"reference_id", a.referenceID, "error", err)
			continue
		}
		alerted++
	}
	return alerted, nil
}

// deliveries builds the in-app delivery and, for email-enabled alerts, the
// daily digest email copy.
func (a alert) deliveries(userID string) []model.AlertDelivery {
	out := []model.AlertDelivery{{
		UserID:  userID,
		Channel: model.ChannelInApp,
		Status:  model.DeliveryPending,
		Title:   a.title,
		Message: a.message,
		Data:    maps.Clone(a.data),
		Source:  SourceWatchlist,
	}}
	if a.email {
		data := maps.Clone(a.data)
		data["emailFrequency"] = "daily_digest"
		out = append(out, model.AlertDelivery{
			UserID:  userID,
			Channel: model.ChannelEmail,
			Status:  model.DeliveryPending,
			Title:   a.title,
			Message: a.message,
			Data:    data,
			Source:  SourceWatchlist,
		})
	}
	return out
}
