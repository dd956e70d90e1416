package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/gateway/internal/gateway/artifact"
	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
	"github.com/aixgo-dev/gateway/internal/gateway/costbook"
	"github.com/aixgo-dev/gateway/internal/gateway/eventhub"
	"github.com/aixgo-dev/gateway/internal/gateway/orchestrator"
	"github.com/aixgo-dev/gateway/internal/gateway/quality"
)

type fakeCaller struct{}

func (fakeCaller) Call(ctx context.Context, provider, model, q string) (quality.Response, error) {
	return quality.Response{Content: "a reasonably detailed answer to the question asked", Provider: provider, InputTokens: 10, OutputTokens: 20}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	book := costbook.New()
	b := budget.New(budget.Config{DailyLimit: 100, WeeklyLimit: 500, MonthlyLimit: 2000})
	c := cache.New(cache.NewMemoryAdapter(), cache.Config{})
	a := artifact.New(100, nil)
	events := eventhub.New(8)
	orc := orchestrator.New(book, b, c, a, events, fakeCaller{})
	return NewServer(orc, b, c, a, events, nil, nil)
}

func TestHandleQuerySuccess(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"text": "What is the capital of France?"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Decision.Provider)
}

func TestHandleQueryRejectsEmptyText(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"text": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBudget(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/budget", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "daily")
}

func TestHandleCacheStatsAndClear(t *testing.T) {
	s := newTestServer(t)

	statsReq := httptest.NewRequest(http.MethodGet, "/api/cache", nil)
	statsRec := httptest.NewRecorder()
	s.Router().ServeHTTP(statsRec, statsReq)
	assert.Equal(t, http.StatusOK, statsRec.Code)

	clearReq := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	clearRec := httptest.NewRecorder()
	s.Router().ServeHTTP(clearRec, clearReq)
	assert.Equal(t, http.StatusOK, clearRec.Code)
}

func TestHandleArtifactsAfterQuery(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"text": "Summarize the plot of a short story."})
	qreq := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	qrec := httptest.NewRecorder()
	s.Router().ServeHTTP(qrec, qreq)
	require.Equal(t, http.StatusOK, qrec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/artifacts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var artifacts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	assert.NotEmpty(t, artifacts)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "healthy", payload["status"])
	assert.Contains(t, payload, "providers")
	assert.Contains(t, payload, "wsClients")
	assert.Contains(t, payload, "uptime")
	assert.Contains(t, payload, "timestamp")
}

func TestHandleAnalyticsEventsRejectsBadToken(t *testing.T) {
	book := costbook.New()
	b := budget.New(budget.Config{DailyLimit: 100, WeeklyLimit: 500, MonthlyLimit: 2000})
	c := cache.New(cache.NewMemoryAdapter(), cache.Config{})
	a := artifact.New(100, nil)
	events := eventhub.New(8)
	orc := orchestrator.New(book, b, c, a, events, fakeCaller{})
	s := NewServer(orc, b, c, a, events, nil, []string{"correct-token"})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/analytics/events"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=wrong-token", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=correct-token", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	conn.Close()
}

func TestHandleManagerView(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/manager-view", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "summary")
	assert.Contains(t, payload, "budget")
	assert.Contains(t, payload, "cache")
}
