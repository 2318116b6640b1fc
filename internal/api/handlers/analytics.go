package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// AnalyticsSubscriberStore is the subscriber counting surface for analytics.
type AnalyticsSubscriberStore interface {
	ActiveCount(ctx context.Context, userID string) (int, error)
	CountAddedSince(ctx context.Context, userID string, since time.Time) (int, error)
	GrowthByDay(ctx context.Context, userID string, days int, now time.Time) ([]types.GrowthPoint, error)
}

// AnalyticsEventStore is the engagement counting surface for analytics.
type AnalyticsEventStore interface {
	CountSince(ctx context.Context, userID string, eventType types.EventType, since time.Time) (int, error)
}

// AnalyticsHandler serves the dashboard summary numbers.
type AnalyticsHandler struct {
	subscribers AnalyticsSubscriberStore
	events      AnalyticsEventStore
	logger      *slog.Logger
	nowFn       func() time.Time
}

// NewAnalyticsHandler creates an AnalyticsHandler.
func NewAnalyticsHandler(subscribers AnalyticsSubscriberStore, events AnalyticsEventStore, l *slog.Logger) *AnalyticsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AnalyticsHandler{subscribers: subscribers, events: events, logger: l, nowFn: time.Now}
}

// RegisterRoutes mounts analytics routes on the provided chi.Router.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/overview", h.Overview)
		r.Get("/growth", h.Growth)
	})
}

// Overview handles GET /v1/analytics/overview. Open and click rates are
// computed over the last 30 days of events; no sent emails means zero rates
// rather than a division error.
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := types.GetUserID(ctx)
	now := h.nowFn().UTC()

	total, err := h.subscribers.ActiveCount(ctx, userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	added7, err := h.subscribers.CountAddedSince(ctx, userID, now.AddDate(0, 0, -7))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	added30, err := h.subscribers.CountAddedSince(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	since := now.AddDate(0, 0, -30)
	sent, err := h.events.CountSince(ctx, userID, types.EventSent, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	opened, err := h.events.CountSince(ctx, userID, types.EventOpened, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	clicked, err := h.events.CountSince(ctx, userID, types.EventClicked, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	overview := types.AnalyticsOverview{
		TotalSubscribers: total,
		AddedLast7Days:   added7,
		AddedLast30Days:  added30,
		EmailsSentLast30: sent,
	}
	if sent > 0 {
		overview.AverageOpenRate = float64(opened) / float64(sent)
		overview.AverageClickRate = float64(clicked) / float64(sent)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: overview})
}

// Growth handles GET /v1/analytics/growth?days=30: daily new-subscriber
// counts with zero-filled gaps. days defaults to 30 and is capped at 365.
func (h *AnalyticsHandler) Growth(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationBody,
				"days must be a positive integer",
				err,
			))
			return
		}
		days = parsed
	}
	if days > 365 {
		days = 365
	}

	points, err := h.subscribers.GrowthByDay(r.Context(), types.GetUserID(r.Context()), days, h.nowFn().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: points})
}
