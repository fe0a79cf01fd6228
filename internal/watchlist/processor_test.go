package watchlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"spacenexus/internal/model"
	"spacenexus/internal/storage"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(store Store) *Processor {
	p := New(store, discardLogger())
	p.SetClock(func() time.Time { return testNow })
	return p
}

func newTestSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fixture struct {
	t     *testing.T
	store *storage.SQLite
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: newTestSQLite(t), ctx: context.Background()}
}

func (f *fixture) company(name, slug string) model.CompanyProfile {
	f.t.Helper()
	c := model.CompanyProfile{Name: name, Slug: slug}
	if err := f.store.CreateCompany(f.ctx, &c); err != nil {
		f.t.Fatalf("CreateCompany: %v", err)
	}
	return c
}

func (f *fixture) watch(userID string, c model.CompanyProfile, news, contracts, listings bool) {
	f.t.Helper()
	item := model.CompanyWatchlistItem{
		UserID:          userID,
		CompanyID:       c.ID,
		NotifyNews:      news,
		NotifyContracts: contracts,
		NotifyListings:  listings,
	}
	if err := f.store.CreateWatchlistItem(f.ctx, &item); err != nil {
		f.t.Fatalf("CreateWatchlistItem: %v", err)
	}
}

func (f *fixture) article(title, summary string, published time.Time, companies ...model.CompanyProfile) model.NewsArticle {
	f.t.Helper()
	a := model.NewsArticle{
		Title:       title,
		Summary:     summary,
		URL:         "https://example.com/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Source:      "SpaceNews",
		PublishedAt: published,
		Companies:   companies,
	}
	if err := f.store.CreateNewsArticle(f.ctx, &a); err != nil {
		f.t.Fatalf("CreateNewsArticle: %v", err)
	}
	return a
}

func (f *fixture) contract(title string, amount *float64, c *model.CompanyProfile) model.ContractAward {
	f.t.Helper()
	a := model.ContractAward{
		Title:       title,
		Agency:      "NASA",
		AwardAmount: amount,
		AwardDate:   testNow.Add(-2 * time.Hour),
	}
	if c != nil {
		a.CompanyID = c.ID
	}
	if err := f.store.CreateContractAward(f.ctx, &a); err != nil {
		f.t.Fatalf("CreateContractAward: %v", err)
	}
	return a
}

func (f *fixture) listing(name string, c model.CompanyProfile) model.ServiceListing {
	f.t.Helper()
	l := model.ServiceListing{
		Name:        name,
		Description: "Rideshare slots to sun-synchronous orbit.",
		CreatedAt:   testNow.Add(-3 * time.Hour),
		CompanyID:   c.ID,
	}
	if err := f.store.CreateServiceListing(f.ctx, &l); err != nil {
		f.t.Fatalf("CreateServiceListing: %v", err)
	}
	return l
}

func (f *fixture) deliveries(userID string) []model.AlertDelivery {
	f.t.Helper()
	d, err := f.store.ListDeliveries(f.ctx, userID)
	if err != nil {
		f.t.Fatalf("ListDeliveries: %v", err)
	}
	return d
}

var ignoreGenerated = cmpopts.IgnoreFields(model.AlertDelivery{}, "ID", "CreatedAt")

func TestProcessNewsFansOutPerCompany(t *testing.T) {
	f := newFixture(t)
	rocket := f.company("Rocket Lab", "rocket-lab")
	relativity := f.company("Relativity Space", "relativity-space")
	f.watch("u1", rocket, true, false, false)
	f.watch("u2", relativity, true, false, false)
	f.article("Neutron and Terran R head to the pad", "", testNow.Add(-time.Hour), rocket, relativity)

	got := newTestProcessor(f.store).Process(f.ctx)
	if diff := cmp.Diff(Result{NewsAlerts: 2}, got); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}

	want := []model.AlertDelivery{
		{
			UserID:  "u1",
			Channel: model.ChannelInApp,
			Status:  model.DeliveryPending,
			Title:   "Rocket Lab: Neutron and Terran R head to the pad",
			Message: "New article about Rocket Lab from SpaceNews",
			Data: map[string]any{
				"type":        "watchlist_news",
				"companySlug": "rocket-lab",
				"link":        "/company-profiles/rocket-lab",
			},
			Source: "watchlist",
		},
		{
			UserID:  "u1",
			Channel: model.ChannelEmail,
			Status:  model.DeliveryPending,
			Title:   "Rocket Lab: Neutron and Terran R head to the pad",
			Message: "New article about Rocket Lab from SpaceNews",
			Data: map[string]any{
				"type":           "watchlist_news",
				"companySlug":    "rocket-lab",
				"link":           "/company-profiles/rocket-lab",
				"emailFrequency": "daily_digest",
			},
			Source: "watchlist",
		},
	}
	if diff := cmp.Diff(want, f.deliveries("u1"), ignoreGenerated); diff != "" {
		t.Errorf("u1 deliveries mismatch (-want +got):\n%s", diff)
	}

	u2 := f.deliveries("u2")
	if len(u2) != 2 {
		t.Fatalf("u2 deliveries = %d, want 2", len(u2))
	}
	if u2[0].Title != "Relativity Space: Neutron and Terran R head to the pad" {
		t.Errorf("u2 title = %q", u2[0].Title)
	}
}

func TestProcessNewsUsesSummary(t *testing.T) {
	f := newFixture(t)
	c := f.company("Astra", "astra")
	f.watch("u1", c, true, true, true)
	f.article("Astra returns to flight", "Rocket 4 flew successfully from Kodiak.", testNow.Add(-time.Hour), c)

	newTestProcessor(f.store).Process(f.ctx)

	d := f.deliveries("u1")
	if len(d) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(d))
	}
	if diff := cmp.Diff("Rocket 4 flew successfully from Kodiak.", d[0].Message); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessContracts(t *testing.T) {
	amount := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		amount    *float64
		wantTitle string
	}{
		{name: "disclosed amount", amount: amount(12_500_000), wantTitle: "Firefly Aerospace: New $12.5M Contract"},
		{name: "undisclosed amount", amount: nil, wantTitle: "Firefly Aerospace: New undisclosed amount Contract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.company("Firefly Aerospace", "firefly")
			f.watch("u1", c, false, true, false)
			f.contract("Blue Ghost Mission 2", tt.amount, &c)

			got := newTestProcessor(f.store).Process(f.ctx)
			if diff := cmp.Diff(Result{ContractAlerts: 1}, got); diff != "" {
				t.Errorf("Process() mismatch (-want +got):\n%s", diff)
			}

			d := f.deliveries("u1")
			if len(d) != 2 {
				t.Fatalf("deliveries = %d, want 2", len(d))
			}
			var channels []model.Channel
			for _, del := range d {
				channels = append(channels, del.Channel)
				if diff := cmp.Diff(tt.wantTitle, del.Title); diff != "" {
					t.Errorf("title mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff("/company-profiles/firefly?tab=contracts", del.Data["link"]); diff != "" {
					t.Errorf("link mismatch (-want +got):\n%s", diff)
				}
			}
			if diff := cmp.Diff([]model.Channel{model.ChannelInApp, model.ChannelEmail}, channels); diff != "" {
				t.Errorf("channels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessContractWithoutCompanySkipped(t *testing.T) {
	f := newFixture(t)
	c := f.company("Intuitive Machines", "intuitive-machines")
	f.watch("u1", c, true, true, true)
	f.contract("Unassigned task order", nil, nil)

	got := newTestProcessor(f.store).Process(f.ctx)
	if diff := cmp.Diff(Result{}, got); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessListingsInAppOnly(t *testing.T) {
	f := newFixture(t)
	c := f.company("Exolaunch", "exolaunch")
	f.watch("u1", c, false, false, true)
	l := f.listing("SSO rideshare integration", c)

	got := newTestProcessor(f.store).Process(f.ctx)
	if diff := cmp.Diff(Result{ListingAlerts: 1}, got); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}

	want := []model.AlertDelivery{{
		UserID:  "u1",
		Channel: model.ChannelInApp,
		Status:  model.DeliveryPending,
		Title:   "Exolaunch: New Marketplace Listing",
		Message: `Exolaunch listed "SSO rideshare integration" on the marketplace: Rideshare slots to sun-synchronous orbit.`,
		Data: map[string]any{
			"type": "watchlist_listing",
			"link": "/marketplace/listings/" + l.ID,
		},
		Source: "watchlist",
	}}
	if diff := cmp.Diff(want, f.deliveries("u1"), ignoreGenerated); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessRespectsNotifyFlags(t *testing.T) {
	f := newFixture(t)
	c := f.company("Vast", "vast")
	f.watch("news-only", c, true, false, false)
	f.watch("listings-only", c, false, false, true)
	f.article("Haven-1 integration update", "", testNow.Add(-time.Hour), c)
	f.contract("ISS private astronaut mission", nil, &c)
	f.listing("Station crew time", c)

	got := newTestProcessor(f.store).Process(f.ctx)
	if diff := cmp.Diff(Result{NewsAlerts: 1, ListingAlerts: 1}, got); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}
	if n := len(f.deliveries("news-only")); n != 2 {
		t.Errorf("news-only deliveries = %d, want 2", n)
	}
	if n := len(f.deliveries("listings-only")); n != 1 {
		t.Errorf("listings-only deliveries = %d, want 1", n)
	}
}

func TestProcessWindow(t *testing.T) {
	f := newFixture(t)
	c := f.company("Axiom Space", "axiom")
	f.watch("u1", c, true, false, false)
	f.article("Fresh", "", testNow.Add(-23*time.Hour), c)
	f.article("Boundary", "", testNow.Add(-24*time.Hour), c)
	f.article("Stale", "", testNow.Add(-25*time.Hour), c)

	got := newTestProcessor(f.store).Process(f.ctx)
	if diff := cmp.Diff(Result{NewsAlerts: 2}, got); diff != "" {
		t.Errorf("default window mismatch (-want +got):\n%s", diff)
	}

	p := newTestProcessor(f.store)
	p.SetWindow(48 * time.Hour)
	got = p.Process(f.ctx)
	if diff := cmp.Diff(Result{NewsAlerts: 1}, got); diff != "" {
		t.Errorf("widened window mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.company("Planet", "planet")
	b := f.company("Maxar", "maxar")
	for _, u := range []string{"u1", "u2", "u3"} {
		f.watch(u, a, true, true, true)
		f.watch(u, b, true, true, true)
	}
	f.article("Imagery market consolidates", "", testNow.Add(-time.Hour), a, b)
	f.contract("NRO commercial imagery", nil, &a)
	f.listing("Tasking API", b)

	p := newTestProcessor(f.store)
	first := p.Process(f.ctx)
	if diff := cmp.Diff(Result{NewsAlerts: 6, ContractAlerts: 3, ListingAlerts: 3}, first); diff != "" {
		t.Errorf("first run mismatch (-want +got):\n%s", diff)
	}

	second := p.Process(f.ctx)
	if diff := cmp.Diff(Result{}, second); diff != "" {
		t.Errorf("second run mismatch (-want +got):\n%s", diff)
	}

	// 2 news + 2 news + 2 contract + 1 listing per user
	if n := len(f.deliveries("u1")); n != 7 {
		t.Errorf("u1 deliveries = %d, want 7", n)
	}
}

func TestProcessConcurrentRunsAlertOnce(t *testing.T) {
	f := newFixture(t)
	c := f.company("Stoke Space", "stoke")
	for i := range 5 {
		f.watch(fmt.Sprintf("u%d", i), c, true, true, true)
	}
	f.article("Nova static fire", "", testNow.Add(-time.Hour), c)
	f.contract("Tactically responsive launch", nil, &c)
	f.listing("Reusable upper stage", c)

	const runs = 6
	results := make([]Result, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = newTestProcessor(f.store).Process(f.ctx)
		}()
	}
	wg.Wait()

	var total Result
	for _, r := range results {
		total.NewsAlerts += r.NewsAlerts
		total.ContractAlerts += r.ContractAlerts
		total.ListingAlerts += r.ListingAlerts
	}
	if diff := cmp.Diff(Result{NewsAlerts: 5, ContractAlerts: 5, ListingAlerts: 5}, total); diff != "" {
		t.Errorf("combined results mismatch (-want +got):\n%s", diff)
	}
	if n := len(f.deliveries("u0")); n != 5 {
		t.Errorf("u0 deliveries = %d, want 5", n)
	}
}

// fakeStore serves fixed entities and injects failures.
type fakeStore struct {
	news      []model.NewsArticle
	contracts []model.ContractAward
	listings  []model.ServiceListing
	watchers  map[string][]model.CompanyWatchlistItem

	newsErr, contractsErr, listingsErr error
	watchersErr                        map[string]error
	recordErr                          map[string]error

	calls    []string
	recorded []model.WatchlistAlertLog
}

func (f *fakeStore) RecentNewsArticles(_ context.Context, since time.Time) ([]model.NewsArticle, error) {
	f.calls = append(f.calls, "news")
	return f.news, f.newsErr
}

func (f *fakeStore) RecentContractAwards(_ context.Context, since time.Time) ([]model.ContractAward, error) {
	f.calls = append(f.calls, "contracts")
	return f.contracts, f.contractsErr
}

func (f *fakeStore) RecentServiceListings(_ context.Context, since time.Time) ([]model.ServiceListing, error) {
	f.calls = append(f.calls, "listings")
	return f.listings, f.listingsErr
}

func (f *fakeStore) ListWatchers(_ context.Context, companyID string, alertType model.WatchlistAlertType) ([]model.CompanyWatchlistItem, error) {
	f.calls = append(f.calls, "watchers:"+companyID)
	if err := f.watchersErr[companyID]; err != nil {
		return nil, err
	}
	return f.watchers[companyID], nil
}

func (f *fakeStore) RecordWatchlistAlert(_ context.Context, log *model.WatchlistAlertLog, _ []model.AlertDelivery) error {
	if err := f.recordErr[log.UserID]; err != nil {
		return err
	}
	f.recorded = append(f.recorded, *log)
	return nil
}

func TestProcessFailures(t *testing.T) {
	acme := model.CompanyProfile{ID: "acme", Name: "Acme", Slug: "acme"}
	orbit := model.CompanyProfile{ID: "orbit", Name: "Orbit", Slug: "orbit"}
	watchers := map[string][]model.CompanyWatchlistItem{
		"acme":  {{UserID: "u1"}, {UserID: "u2"}},
		"orbit": {{UserID: "u3"}},
	}
	news := []model.NewsArticle{{ID: "n1", Title: "Launch", Companies: []model.CompanyProfile{acme, orbit}}}
	contracts := []model.ContractAward{{ID: "c1", Company: &acme}, {ID: "c2", CompanyID: "ghost"}}
	listings := []model.ServiceListing{{ID: "l1", Company: &orbit}}
	boom := errors.New("connection reset")

	tests := []struct {
		name      string
		store     *fakeStore
		want      Result
		wantCalls []string
	}{
		{
			name:      "news query fails",
			store:     &fakeStore{news: news, newsErr: boom},
			want:      Result{},
			wantCalls: []string{"news"},
		},
		{
			name: "contract query fails after news",
			store: &fakeStore{
				news: news, watchers: watchers, contractsErr: boom,
			},
			want:      Result{NewsAlerts: 3},
			wantCalls: []string{"news", "watchers:acme", "watchers:orbit", "contracts"},
		},
		{
			name: "watcher lookup failure skips one company",
			store: &fakeStore{
				news: news, contracts: contracts, listings: listings, watchers: watchers,
				watchersErr: map[string]error{"acme": boom},
			},
			want: Result{NewsAlerts: 1, ListingAlerts: 1},
			wantCalls: []string{
				"news", "watchers:acme", "watchers:orbit",
				"contracts", "watchers:acme",
				"listings", "watchers:orbit",
			},
		},
		{
			name: "record failure excludes one watcher",
			store: &fakeStore{
				news: news, contracts: contracts, listings: listings, watchers: watchers,
				recordErr: map[string]error{"u1": boom},
			},
			want: Result{NewsAlerts: 2, ContractAlerts: 1, ListingAlerts: 1},
			wantCalls: []string{
				"news", "watchers:acme", "watchers:orbit",
				"contracts", "watchers:acme",
				"listings", "watchers:orbit",
			},
		},
		{
			name: "duplicates are not counted",
			store: &fakeStore{
				news: news, watchers: watchers,
				recordErr: map[string]error{"u2": fmt.Errorf("insert: %w", storage.ErrDuplicate)},
			},
			want:      Result{NewsAlerts: 2},
			wantCalls: []string{"news", "watchers:acme", "watchers:orbit", "contracts", "listings"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestProcessor(tt.store).Process(context.Background())
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Process() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCalls, tt.store.calls); diff != "" {
				t.Errorf("store calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessCanceled(t *testing.T) {
	store := &fakeStore{
		news: []model.NewsArticle{{
			ID:        "n1",
			Title:     "Launch",
			Companies: []model.CompanyProfile{{ID: "acme", Name: "Acme", Slug: "acme"}},
		}},
		watchers: map[string][]model.CompanyWatchlistItem{"acme": {{UserID: "u1"}}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := newTestProcessor(store).Process(ctx)
	if diff := cmp.Diff(Result{}, got); diff != "" {
		t.Errorf("Process() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"news"}, store.calls); diff != "" {
		t.Errorf("store calls mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessLogEntries(t *testing.T) {
	acme := model.CompanyProfile{ID: "acme", Name: "Acme", Slug: "acme"}
	store := &fakeStore{
		news:      []model.NewsArticle{{ID: "n1", Title: "Launch", Companies: []model.CompanyProfile{acme}}},
		contracts: []model.ContractAward{{ID: "c1", Company: &acme}},
		listings:  []model.ServiceListing{{ID: "l1", Company: &acme}},
		watchers:  map[string][]model.CompanyWatchlistItem{"acme": {{UserID: "u1"}}},
	}

	newTestProcessor(store).Process(context.Background())

	want := []model.WatchlistAlertLog{
		{UserID: "u1", CompanyID: "acme", AlertType: model.WatchlistNews, ReferenceID: "n1", CreatedAt: testNow},
		{UserID: "u1", CompanyID: "acme", AlertType: model.WatchlistContract, ReferenceID: "c1", CreatedAt: testNow},
		{UserID: "u1", CompanyID: "acme", AlertType: model.WatchlistListing, ReferenceID: "l1", CreatedAt: testNow},
	}
	if diff := cmp.Diff(want, store.recorded); diff != "" {
		t.Errorf("log entries mismatch (-want +got):\n%s", diff)
	}
}
