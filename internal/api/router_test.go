package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/config"
	"github.com/nomercy/ranked-backend/internal/repository"
	"github.com/nomercy/ranked-backend/internal/service"
	"github.com/nomercy/ranked-backend/internal/websocket"
	jwtutil "github.com/nomercy/ranked-backend/pkg/jwt"
	"github.com/nomercy/ranked-backend/pkg/metrics"
	"github.com/nomercy/ranked-backend/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	jwt    *jwtutil.JWTManager
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	return newStandbyAwareServer(t, limiter, nil)
}

func newStandbyAwareServer(t *testing.T, limiter ratelimit.Limiter, engineReady func() bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	hub := websocket.NewHub(zap.NewNop())
	mm := service.NewMatchmakingService(service.Dependencies{
		Matches:  repository.NewMemoryMatchRepository(),
		Rankings: repository.NewMemoryRankingRepository(),
		Bans:     repository.NewMemoryBanRepository(),
		Events:   hub,
		Metrics:  metrics.NewMatchmaking(registry),
		Clock:    clock.NewMock(),
		Logger:   zap.NewNop(),
	}, config.DefaultRankedModes(), service.DefaultOptions())
	t.Cleanup(mm.Stop)

	jwt := jwtutil.NewJWTManager("test-secret", time.Hour)
	router := SetupRouter(Dependencies{
		Env:                "test",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		JWT:                jwt,
		Matchmaking:        mm,
		Matches:            service.NewMatchService(mm),
		Hub:                hub,
		QueueLimiter:       limiter,
		Gatherer:           registry,
		EngineReady:        engineReady,
	})
	return &testServer{router: router, jwt: jwt}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := s.jwt.Generate(jwtutil.Claims{UserID: userID, Username: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

var joinBody = map[string]string{
	"rankedMode": "hardcore",
	"gameMode":   "Search & Destroy",
	"platform":   "console",
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, nil)
	w, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "active", body["engine"])
}

func TestRouter_StandbyRejectsEngineRoutes(t *testing.T) {
	var ready atomic.Bool
	s := newStandbyAwareServer(t, nil, ready.Load)
	token := s.token(t, "p1", "")

	w, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "standby", body["engine"])

	w, body = s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "standby", body["error"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/matches/m1", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/modes", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "static reads stay available")

	ready.Store(true)
	w, _ = s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRouter_QueueFlow(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, "p1", "")

	w, _ := s.do(t, http.MethodPost, "/api/v1/queue/join", "", joinBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	queue := body["queue"].(map[string]any)
	assert.Equal(t, true, queue["inQueue"])
	assert.Equal(t, float64(1), queue["position"])

	w, body = s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_queued", body["error"])

	w, body = s.do(t, http.MethodGet, "/api/v1/queue/status", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["queued"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/queue/leave", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/queue/leave", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_queued", body["error"])
}

func TestRouter_JoinValidation(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, "p1", "")

	w, body := s.do(t, http.MethodPost, "/api/v1/queue/join", token, map[string]string{"rankedMode": "hardcore"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", body["error"])

	w, body = s.do(t, http.MethodPost, "/api/v1/queue/join", token, map[string]string{
		"rankedMode": "arcade", "gameMode": "Search & Destroy", "platform": "console",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "mode_unavailable", body["error"])
}

func TestRouter_QueueRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimit.NewRateLimiter(clock.NewMock(), 2, 1))
	token := s.token(t, "p1", "")

	w, _ := s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	w, _ = s.do(t, http.MethodPost, "/api/v1/queue/leave", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/v1/queue/join", token, joinBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["error"])

	// other players have their own budget
	w, _ = s.do(t, http.MethodPost, "/api/v1/queue/join", s.token(t, "p2", ""), joinBody)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_AdminTestMatch(t *testing.T) {
	s := newTestServer(t, nil)
	player := s.token(t, "p1", "")
	admin := s.token(t, "admin", jwtutil.RoleAdmin)

	req := map[string]any{
		"rankedMode": "hardcore",
		"gameMode":   "Search & Destroy",
		"teamSize":   4,
		"players":    []map[string]string{{"id": "p1", "displayName": "Ghost"}},
	}

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/test-matches", player, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/v1/admin/test-matches", admin, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	match := body["match"].(map[string]any)
	id := match["id"].(string)
	assert.Len(t, match["players"], 8)

	w, body = s.do(t, http.MethodGet, "/api/v1/matches/"+id, player, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["match"].(map[string]any)["status"])

	w, body = s.do(t, http.MethodPost, "/api/v1/matches/"+id+"/vote", player, map[string]string{"map": "Nowhere"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_map", body["error"])

	w, body = s.do(t, http.MethodPost, "/api/v1/matches/"+id+"/vote", s.token(t, "stranger", ""), map[string]string{"map": "Arsenal"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_in_match", body["error"])

	w, body = s.do(t, http.MethodGet, "/api/v1/matches/missing", player, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "match_not_found", body["error"])

	w, body = s.do(t, http.MethodPost, "/api/v1/admin/matches/"+id+"/cancel", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", body["match"].(map[string]any)["status"])
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/queue/join", s.token(t, "p1", ""), joinBody)

	w, _ := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ranked_queue_size")
}
