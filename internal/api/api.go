// Package api exposes the alert processors and the delivery queue over HTTP
// for cron callers and the delivery dispatcher.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"spacenexus/internal/alert"
	"spacenexus/internal/model"
	"spacenexus/internal/storage"
	"spacenexus/internal/watchlist"
)

const maxEventBytes = 1 << 20

// AlertProcessor processes raw trigger events.
type AlertProcessor interface {
	ProcessRaw(ctx context.Context, triggerType model.TriggerType, data []byte) (int, error)
}

// WatchlistProcessor runs one watchlist pass.
type WatchlistProcessor interface {
	Process(ctx context.Context) watchlist.Result
}

// DeliveryStore is the dispatcher-facing part of the delivery queue.
type DeliveryStore interface {
	ListPendingDeliveries(ctx context.Context, channel model.Channel, limit int) ([]model.AlertDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error
}

// Authorizer decides whether a bearer token may call the /api routes.
type Authorizer interface {
	IsTokenAllowed(token string) bool
}

// Deps holds the collaborators of the HTTP handlers.
type Deps struct {
	Auth       Authorizer
	Alerts     AlertProcessor
	Watchlist  WatchlistProcessor
	Deliveries DeliveryStore
	Log        *slog.Logger
}

// NewServer returns an HTTP server serving the API on addr.
func NewServer(addr string, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Router(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Router builds the HTTP routes.
func Router(deps Deps) http.Handler {
	ctrl := &controller{deps: deps, log: deps.Log}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(deps.Auth))

		r.Route("/cron", func(r chi.Router) {
			r.Post("/alerts/{triggerType}", ctrl.triggerAlerts)
			r.Post("/watchlist-alerts", ctrl.watchlistAlerts)
		})
		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/pending", ctrl.pendingDeliveries)
			r.Post("/{id}/status", ctrl.updateDeliveryStatus)
		})
	})

	return r
}

func bearerAuth(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if auth != nil && !auth.IsTokenAllowed(token) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

type controller struct {
	deps Deps
	log  *slog.Logger
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Error("encode response", "error", err)
		ctrl.reject(w, http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (ctrl *controller) triggerAlerts(w http.ResponseWriter, r *http.Request) {
	triggerType := model.TriggerType(chi.URLParam(r, "triggerType"))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		ctrl.reject(w, status, err)
		return
	}

	n, err := ctrl.deps.Alerts.ProcessRaw(r.Context(), triggerType, data)
	switch {
	case errors.Is(err, alert.ErrUnknownTrigger):
		ctrl.reject(w, http.StatusNotFound, err)
		return
	case err != nil:
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"triggered": n})
}

func (ctrl *controller) watchlistAlerts(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, ctrl.deps.Watchlist.Process(r.Context()))
}

type deliveryResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	HistoryID string         `json:"historyId,omitempty"`
	Channel   model.Channel  `json:"channel"`
	Status    string         `json:"status"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (ctrl *controller) pendingDeliveries(w http.ResponseWriter, r *http.Request) {
	channel := model.Channel(r.URL.Query().Get("channel"))
	if !channel.Valid() {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid channel %q", channel))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = v
	}

	deliveries, err := ctrl.deps.Deliveries.ListPendingDeliveries(r.Context(), channel, limit)
	if err != nil {
		ctrl.log.Error("list pending deliveries", "channel", channel, "error", err)
		ctrl.reject(w, http.StatusInternalServerError, nil)
		return
	}

	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, deliveryResponse{
			ID:        d.ID,
			UserID:    d.UserID,
			HistoryID: d.HistoryID,
			Channel:   d.Channel,
			Status:    string(d.Status),
			Title:     d.Title,
			Message:   d.Message,
			Data:      d.Data,
			Source:    d.Source,
			CreatedAt: d.CreatedAt,
		})
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deliveries": out})
}

func (ctrl *controller) updateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status model.DeliveryStatus `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&body); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if body.Status != model.DeliverySent && body.Status != model.DeliveryFailed {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("status must be %q or %q", model.DeliverySent, model.DeliveryFailed))
		return
	}

	err := ctrl.deps.Deliveries.UpdateDeliveryStatus(r.Context(), id, body.Status)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
		return
	case errors.Is(err, storage.ErrNotPending):
		ctrl.reject(w, http.StatusConflict, err)
		return
	case err != nil:
		ctrl.log.Error("update delivery status", "delivery_id", id, "error", err)
		ctrl.reject(w, http.StatusInternalServerError, nil)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}
