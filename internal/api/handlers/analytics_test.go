package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plainly/internal/types"
)

type mockAnalyticsSubscriberStore struct {
	activeCount int
	addedCounts map[int]int // days back -> count, keyed by whole days before now

	growthDays int
	growthNow  time.Time
}

func (m *mockAnalyticsSubscriberStore) ActiveCount(ctx context.Context, userID string) (int, error) {
	return m.activeCount, nil
}

func (m *mockAnalyticsSubscriberStore) CountAddedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	days := int(analyticsTestNow().Sub(since).Hours() / 24)
	return m.addedCounts[days], nil
}

func (m *mockAnalyticsSubscriberStore) GrowthByDay(ctx context.Context, userID string, days int, now time.Time) ([]types.GrowthPoint, error) {
	m.growthDays = days
	m.growthNow = now
	return []types.GrowthPoint{{Date: "2026-03-01", Count: 2}}, nil
}

type mockAnalyticsEventStore struct {
	counts map[types.EventType]int
}

func (m *mockAnalyticsEventStore) CountSince(ctx context.Context, userID string, eventType types.EventType, since time.Time) (int, error) {
	return m.counts[eventType], nil
}

func analyticsTestNow() time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func newAnalyticsRouter(subs *mockAnalyticsSubscriberStore, events *mockAnalyticsEventStore) http.Handler {
	h := NewAnalyticsHandler(subs, events, testLogger())
	h.nowFn = analyticsTestNow
	return newRouter(h.RegisterRoutes)
}

func TestAnalyticsOverview(t *testing.T) {
	subs := &mockAnalyticsSubscriberStore{
		activeCount: 120,
		addedCounts: map[int]int{7: 5, 30: 18},
	}
	events := &mockAnalyticsEventStore{
		counts: map[types.EventType]int{
			types.EventSent:    10,
			types.EventOpened:  4,
			types.EventClicked: 1,
		},
	}
	router := newAnalyticsRouter(subs, events)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/analytics/overview", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var overview types.AnalyticsOverview
	decodeData(t, w, &overview)
	assert.Equal(t, 120, overview.TotalSubscribers)
	assert.Equal(t, 5, overview.AddedLast7Days)
	assert.Equal(t, 18, overview.AddedLast30Days)
	assert.Equal(t, 10, overview.EmailsSentLast30)
	assert.InDelta(t, 0.4, overview.AverageOpenRate, 0.0001)
	assert.InDelta(t, 0.1, overview.AverageClickRate, 0.0001)
}

func TestAnalyticsOverview_NoSentEmails(t *testing.T) {
	subs := &mockAnalyticsSubscriberStore{addedCounts: map[int]int{}}
	events := &mockAnalyticsEventStore{counts: map[types.EventType]int{
		types.EventOpened: 3, // stale opens from a deleted account should not divide by zero
	}}
	router := newAnalyticsRouter(subs, events)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/analytics/overview", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var overview types.AnalyticsOverview
	decodeData(t, w, &overview)
	assert.Zero(t, overview.AverageOpenRate)
	assert.Zero(t, overview.AverageClickRate)
}

func TestAnalyticsGrowth_DefaultWindow(t *testing.T) {
	subs := &mockAnalyticsSubscriberStore{}
	router := newAnalyticsRouter(subs, &mockAnalyticsEventStore{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/analytics/growth", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, subs.growthDays)
	assert.Equal(t, analyticsTestNow(), subs.growthNow)
}

func TestAnalyticsGrowth_CustomWindowCapped(t *testing.T) {
	subs := &mockAnalyticsSubscriberStore{}
	router := newAnalyticsRouter(subs, &mockAnalyticsEventStore{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/analytics/growth?days=1000", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 365, subs.growthDays)
}

func TestAnalyticsGrowth_InvalidDays(t *testing.T) {
	router := newAnalyticsRouter(&mockAnalyticsSubscriberStore{}, &mockAnalyticsEventStore{})

	for _, days := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, jsonRequest(t, http.MethodGet, "/analytics/growth?days="+days, nil))

		assert.Equal(t, http.StatusBadRequest, w.Code, "days=%s", days)
		assert.Equal(t, string(types.ErrCodeValidationBody), decodeErrorCode(t, w))
	}
}
