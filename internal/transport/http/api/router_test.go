package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradebridge/internal/bridge"
	"tradebridge/internal/gate"
	"tradebridge/internal/mapper"
	"tradebridge/internal/session"
	"tradebridge/internal/store/audit"
	"tradebridge/internal/venue/paper"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newPaperServer(t *testing.T) (*Server, *paper.Venue) {
	t.Helper()
	v := paper.New(paper.Options{StartID: 55})
	g := gate.New(gate.Options{ActionTimeout: time.Second})
	guardian := session.NewGuardian(v, g, session.Options{RefreshInterval: time.Hour, BreakerThreshold: 3, BreakerCooldown: time.Minute})
	m := mapper.New(v, guardian, mapper.Options{SettleDelay: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	srv, err := NewServer(ServerConfig{Bridge: bridge.NewService(g, guardian, m, bridge.Options{})})
	require.NoError(t, err)
	return srv, v
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	srv, v := newPaperServer(t)
	h := srv.Handler()

	code, body := do(t, h, http.MethodPost, "/api/trades",
		`{"action":"trade","ticket":1001,"volume":0.1,"direction":"BUY","take_profit":0,"stop_loss":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "success", "action": "BUY", "trade_id": "55"}, body)

	code, body = do(t, h, http.MethodPost, "/api/trades",
		`{"action":"modify","ticket":"1001","volume":0,"direction":"","take_profit":0,"stop_loss":1.2000}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "modify", body["action"])
	assert.Equal(t, "55", body["trade_id"])

	code, body = do(t, h, http.MethodGet, "/api/trades/mappings", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = do(t, h, http.MethodPost, "/api/trades",
		`{"action":"delete","ticket":"1001","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "closed", body["status"])
	_, open := v.Position("55")
	assert.False(t, open)

	code, body = do(t, h, http.MethodPost, "/api/trades",
		`{"action":"delete","ticket":"1001","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "not_mapped", body["status"])
}

func TestCommandValidationErrors(t *testing.T) {
	srv, _ := newPaperServer(t)
	h := srv.Handler()

	code, body := do(t, h, http.MethodPost, "/api/trades", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No JSON data received, or invalid format", body["error"])
	assert.Equal(t, "invalid_input", body["code"])

	code, body = do(t, h, http.MethodPost, "/api/trades", `{"action":"trade"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing fields: ticket, volume, direction, take_profit, stop_loss", body["error"])

	code, body = do(t, h, http.MethodPost, "/api/trades",
		`{"action":"nope","ticket":"1","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid action", body["error"])

	code, body = do(t, h, http.MethodPost, "/api/trades",
		`{"action":"modify","ticket":"404","volume":0,"direction":"","take_profit":0,"stop_loss":1}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_mapped", body["code"])
}

func TestCloseAllOverHTTP(t *testing.T) {
	srv, v := newPaperServer(t)
	h := srv.Handler()
	code, body := do(t, h, http.MethodPost, "/api/trades",
		`{"action":"delete_all","ticket":"","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no_trades_to_close", body["status"])
	assert.Equal(t, 1, v.Calls(paper.OpList))
}

func TestSessionEndpoints(t *testing.T) {
	srv, v := newPaperServer(t)
	h := srv.Handler()

	code, body := do(t, h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "operational", body["state"])
	assert.Equal(t, float64(0), body["gate_pending"])

	code, body = do(t, h, http.MethodPost, "/api/session/refresh", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["refreshes"])

	v.SetRefreshHeals(false)
	v.SetHealthy(false)
	code, body = do(t, h, http.MethodPost, "/api/session/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "session_degraded", body["code"])
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _ := newPaperServer(t)
	h := srv.Handler()

	code, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	// 先触发一次动作，确保 vec 指标已有样本
	do(t, h, http.MethodPost, "/api/trades",
		`{"action":"delete_all","ticket":"","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradebridge_actions_total")
	assert.Contains(t, rec.Body.String(), "tradebridge_session_state")
}

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) Dispatch(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(bridge.Result), args.Error(1)
}

func (m *mockBridge) Forget(ctx context.Context, ticket string) (mapper.Mapping, error) {
	args := m.Called(ctx, ticket)
	return args.Get(0).(mapper.Mapping), args.Error(1)
}

func (m *mockBridge) Mappings() []mapper.Mapping {
	return m.Called().Get(0).([]mapper.Mapping)
}

func (m *mockBridge) SessionStatus() bridge.SessionStatus {
	return m.Called().Get(0).(bridge.SessionStatus)
}

func (m *mockBridge) RefreshSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBridge) Operations(ctx context.Context, ticket string, limit int) ([]audit.Operation, error) {
	args := m.Called(ctx, ticket, limit)
	return args.Get(0).([]audit.Operation), args.Error(1)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{bridge.New(bridge.KindResourceBusy, "busy"), http.StatusServiceUnavailable},
		{bridge.New(bridge.KindSessionDegraded, "down"), http.StatusServiceUnavailable},
		{bridge.New(bridge.KindActionFailed, "failed"), http.StatusBadGateway},
		{bridge.New(bridge.KindReconciliationFailed, "unknown id"), http.StatusInternalServerError},
		{bridge.New(bridge.KindInternal, "internal error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		b := &mockBridge{}
		b.On("Dispatch", mock.Anything, mock.Anything).Return(bridge.Result{}, tt.err).Once()
		srv, err := NewServer(ServerConfig{Bridge: b})
		require.NoError(t, err)

		code, body := do(t, srv.Handler(), http.MethodPost, "/api/trades",
			`{"action":"delete","ticket":"1","volume":0,"direction":"","take_profit":0,"stop_loss":0}`)
		assert.Equal(t, tt.status, code, tt.err.Error())
		assert.Equal(t, bridge.PublicMessage(tt.err), body["error"])
		b.AssertExpectations(t)
	}
}

func TestForgetAndOperationsRoutes(t *testing.T) {
	b := &mockBridge{}
	b.On("Forget", mock.Anything, "1001").Return(mapper.Mapping{Ticket: "1001", PositionID: "55"}, nil).Once()
	b.On("Forget", mock.Anything, "404").Return(mapper.Mapping{}, bridge.New(bridge.KindNotMapped, "Ticket ID 404 not found in trade map.")).Once()
	b.On("Operations", mock.Anything, "", 500).Return([]audit.Operation{{ID: "a", Action: "trade"}}, nil).Once()
	b.On("Operations", mock.Anything, "1001", 50).Return([]audit.Operation{
		{ID: "b", Action: "delete", Ticket: "1001"},
		{ID: "a", Action: "trade", Ticket: "1001"},
	}, nil).Once()
	srv, err := NewServer(ServerConfig{Bridge: b})
	require.NoError(t, err)
	h := srv.Handler()

	code, body := do(t, h, http.MethodDelete, "/api/trades/mappings/1001", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Trade removed from map: 55", body["success"])

	code, _ = do(t, h, http.MethodDelete, "/api/trades/mappings/404", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, h, http.MethodGet, "/api/trades/operations?limit=9999", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = do(t, h, http.MethodGet, "/api/trades/operations?ticket=1001", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
	b.AssertExpectations(t)
}

func TestNewServerRequiresBridge(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
