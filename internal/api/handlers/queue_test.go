package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plainly/internal/types"
)

type mockCycleRunner struct {
	result types.CycleResult
	err    error
	calls  int
}

func (m *mockCycleRunner) RunCycle(ctx context.Context) (types.CycleResult, error) {
	m.calls++
	return m.result, m.err
}

func TestQueueProcess(t *testing.T) {
	runner := &mockCycleRunner{result: types.CycleResult{Processed: 5, Sent: 4, Failed: 1}}
	h := NewQueueHandler(runner, testLogger())
	router := newRouter(h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/queue/process", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runner.calls)
	// Flat envelope, zero counters included.
	assert.JSONEq(t, `{"success":true,"processed":5,"sent":4,"failed":1}`, w.Body.String())
}

func TestQueueProcess_EmptyQueue(t *testing.T) {
	runner := &mockCycleRunner{}
	h := NewQueueHandler(runner, testLogger())
	router := newRouter(h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/queue/process", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"processed":0,"sent":0,"failed":0}`, w.Body.String())
}

func TestQueueProcess_CycleError(t *testing.T) {
	runner := &mockCycleRunner{err: errors.New("failed to fetch due jobs: connection refused")}
	h := NewQueueHandler(runner, testLogger())
	router := newRouter(h.RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/queue/process", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "failed to fetch due jobs: connection refused", resp.Error)
}
