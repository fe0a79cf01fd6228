package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"spacenexus/internal/model"
	"spacenexus/internal/storage"
	"spacenexus/internal/watchlist"
)

type countingRunner struct {
	mu     sync.Mutex
	calls  int
	stopAt int
	cancel context.CancelFunc
}

func (r *countingRunner) Process(_ context.Context) watchlist.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == r.stopAt {
		r.cancel()
	}
	return watchlist.Result{NewsAlerts: 1}
}

func (r *countingRunner) getCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunTicksUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &countingRunner{stopAt: 3, cancel: cancel}
	sched := New(runner, discardLogger())
	sched.SetTickInterval(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	if diff := cmp.Diff(3, runner.getCalls()); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFirstPassImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &countingRunner{stopAt: 1, cancel: cancel}
	sched := New(runner, discardLogger())
	// An hour-long tick would time the test out if the first pass waited for it.

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass did not run immediately")
	}
	if diff := cmp.Diff(1, runner.getCalls()); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceSkipsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &countingRunner{cancel: func() {}}
	New(runner, discardLogger()).runOnce(ctx)

	if diff := cmp.Diff(0, runner.getCalls()); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceWithWatchlistProcessor(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	company := model.CompanyProfile{Name: "Impulse Space", Slug: "impulse-space"}
	if err := store.CreateCompany(ctx, &company); err != nil {
		t.Fatalf("create company: %v", err)
	}
	if err := store.CreateWatchlistItem(ctx, &model.CompanyWatchlistItem{
		UserID:     "u1",
		CompanyID:  company.ID,
		NotifyNews: true,
	}); err != nil {
		t.Fatalf("create watchlist item: %v", err)
	}
	if err := store.CreateNewsArticle(ctx, &model.NewsArticle{
		Title:     "Helios kick stage completes hot fire",
		Source:    "Payload",
		Companies: []model.CompanyProfile{company},
	}); err != nil {
		t.Fatalf("create article: %v", err)
	}

	sched := New(watchlist.New(store, discardLogger()), discardLogger())
	sched.runOnce(ctx)
	sched.runOnce(ctx)

	deliveries, err := store.ListDeliveries(ctx, "u1")
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if diff := cmp.Diff(2, len(deliveries)); diff != "" {
		t.Errorf("delivery count mismatch (-want +got):\n%s", diff)
	}
}
