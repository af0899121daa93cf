package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/db"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/network"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/util"
)

const testToken = "s3cret"

type fakeHandle struct {
	closed atomic.Bool
	reason atomic.Value
}

func (h *fakeHandle) Disconnect(reason string) {
	h.reason.Store(reason)
	h.closed.Store(true)
}

func (h *fakeHandle) Closed() bool { return h.closed.Load() }

type fakeAudit struct{}

func (fakeAudit) Recent(_ context.Context, limit int) ([]db.SessionRecord, error) {
	return []db.SessionRecord{{Name: "alice"}, {Name: "bob"}}[:min(limit, 2)], nil
}

func (fakeAudit) RecentFailures(context.Context, int) ([]db.FailureRecord, error) {
	return []db.FailureRecord{}, nil
}

type fakeConns int64

func (f fakeConns) Connections() int64 { return int64(f) }

type testEnv struct {
	srv      *Server
	cfg      *config.Config
	bus      *events.EventBus
	sessions *session.Registry
}

func newTestEnv(t *testing.T, deps Dependencies) *testEnv {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.World.Void = true
	cfg.API.Token = testToken
	cfg.API.RateLimitRPS = 0
	cfg.Logging.Directory = t.TempDir()

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	sessions := session.NewRegistry(5)
	deps.Sessions = sessions
	deps.Status = network.NewStatusCache("Limbo", sessions, time.Second)
	if deps.Conns == nil {
		deps.Conns = fakeConns(1)
	}

	return &testEnv{
		srv:      NewServer(cfg, bus, deps),
		cfg:      cfg,
		bus:      bus,
		sessions: sessions,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, auth bool) (*httptest.ResponseRecorder, map[string]interface{}) {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t, Dependencies{})

	t.Run("ping", func(t *testing.T) {
		rec, body := env.do(t, http.MethodGet, "/api/public/ping", nil, false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "crawlspace", rec.Header().Get("Server"))
	})

	t.Run("status", func(t *testing.T) {
		require.NoError(t, env.sessions.TryRegister(session.Entry{UUID: uuid.New(), Name: "a"}, nil))
		rec, body := env.do(t, http.MethodGet, "/api/public/status", nil, false)
		assert.Equal(t, http.StatusOK, rec.Code)
		status := body["status"].(map[string]interface{})
		players := status["players"].(map[string]interface{})
		assert.EqualValues(t, 1, players["online"])
		assert.EqualValues(t, 5, players["max"])
	})

	t.Run("unknown api route", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodGet, "/api/public/nope", nil, false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRequireToken(t *testing.T) {
	env := newTestEnv(t, Dependencies{})

	rec, _ := env.do(t, http.MethodGet, "/api/monitor/players", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/monitor/players", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrong := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(wrong, req)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/monitor/players?token="+testToken, nil)
	query := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(query, req)
	assert.Equal(t, http.StatusOK, query.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/monitor/players", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireToken_EmptyDisablesAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireToken(""))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer abc"))
	assert.Empty(t, extractBearerToken("Basic abc"))
	assert.Empty(t, extractBearerToken(""))
}

func TestPlayersAndKick(t *testing.T) {
	env := newTestEnv(t, Dependencies{})

	aliceID := uuid.New()
	alice := &fakeHandle{}
	bob := &fakeHandle{}
	require.NoError(t, env.sessions.TryRegister(session.Entry{UUID: aliceID, Name: "Alice", JoinedAt: time.Now()}, alice))
	require.NoError(t, env.sessions.TryRegister(session.Entry{UUID: uuid.New(), Name: "Bob", JoinedAt: time.Now()}, bob))

	t.Run("list", func(t *testing.T) {
		rec, body := env.do(t, http.MethodGet, "/api/monitor/players", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, body["online"])
		assert.Len(t, body["players"], 2)
	})

	t.Run("lookup by name and uuid", func(t *testing.T) {
		rec, body := env.do(t, http.MethodGet, "/api/monitor/players/alice", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		player := body["player"].(map[string]interface{})
		assert.Equal(t, aliceID.String(), player["uuid"])

		rec, _ = env.do(t, http.MethodGet, "/api/monitor/players/"+aliceID.String(), nil, true)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = env.do(t, http.MethodGet, "/api/monitor/players/nobody", nil, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("kick one", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/control/kick/Alice", kickRequest{Reason: "bye"}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, alice.Closed())
		assert.Equal(t, "bye", alice.reason.Load())
		assert.False(t, bob.Closed())
	})

	t.Run("kick unknown", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/control/kick/nobody", nil, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("kick all uses default reason", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/control/kick_all", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, body["count"])
		assert.True(t, bob.Closed())
		assert.Equal(t, DefaultKickReason, bob.reason.Load())
	})
}

func TestAuditRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, Dependencies{})
		rec, _ := env.do(t, http.MethodGet, "/api/monitor/sessions", nil, true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		rec, _ = env.do(t, http.MethodGet, "/api/monitor/cluster", nil, true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, Dependencies{Audit: fakeAudit{}})
		rec, body := env.do(t, http.MethodGet, "/api/monitor/sessions?count=1", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])

		rec, body = env.do(t, http.MethodGet, "/api/monitor/failures", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, body["count"])
	})
}

func TestSystemAndWorld(t *testing.T) {
	env := newTestEnv(t, Dependencies{Conns: fakeConns(7)})

	rec, body := env.do(t, http.MethodGet, "/api/monitor/system", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, body["connections"])
	assert.Contains(t, body, "system")

	rec, body = env.do(t, http.MethodGet, "/api/monitor/world", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["void"])
}

func TestLogEntries(t *testing.T) {
	env := newTestEnv(t, Dependencies{})

	lines := []string{
		`{"level":"info","time":"2024-06-01T10:00:00Z","component":"network","message":"listening","addr":":25565"}`,
		`not json at all`,
		`{"level":"warn","time":"2024-06-01T10:00:01Z","message":"slow"}`,
	}
	path := filepath.Join(env.cfg.Logging.Directory, util.LogFileName)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	rec, body := env.do(t, http.MethodGet, "/api/monitor/logs?count=2", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	entries, err := readRecentLogEntries(path, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "network", entries[0].Component)
	assert.Equal(t, ":25565", entries[0].Fields["addr"])
	assert.Equal(t, "not json at all", entries[1].Message)
	assert.Equal(t, "warn", entries[2].Level)

	missing, err := readRecentLogEntries(filepath.Join(t.TempDir(), "absent.log"), 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestConfigRoutes(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	t.Run("get redacts secrets", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodGet, "/api/configure/config", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), testToken)
		assert.Contains(t, rec.Body.String(), "********")
	})

	t.Run("live field", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPatch, "/api/configure/config",
			configPatch{Section: "logging", Key: "level", Value: "debug"}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["restart_required"])
		assert.Equal(t, "debug", env.cfg.Snapshot().Logging.Level)

		reloaded, err := config.Load(filepath.Dir(env.cfg.Path()))
		require.NoError(t, err)
		assert.Equal(t, "debug", reloaded.Logging.Level)
	})

	t.Run("restart field", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPatch, "/api/configure/config",
			configPatch{Section: "server", Key: "motd", Value: "Hello"}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["restart_required"])
		assert.Equal(t, "Hello", env.cfg.Snapshot().Server.MOTD)
	})

	t.Run("invalid value is rejected and not applied", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPatch, "/api/configure/config",
			configPatch{Section: "timers", Key: "keep_alive_timeout_sec", Value: 1}, true)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, 15, env.cfg.Snapshot().Timers.KeepAliveTimeoutSec)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPatch, "/api/configure/config",
			configPatch{Section: "server", Key: "nope", Value: 1}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = env.do(t, http.MethodPatch, "/api/configure/config",
			configPatch{Section: "nope", Key: "motd", Value: 1}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPatch, "/api/configure/config", map[string]string{"section": "server"}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst of 2 exhausted")
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("a"))
	}
}

func TestStreamTypes(t *testing.T) {
	all, err := streamTypes("")
	require.NoError(t, err)
	assert.Equal(t, events.AllTypes, all)

	some, err := streamTypes("player_joined, player_left")
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{events.EventPlayerJoined, events.EventPlayerLeft}, some)

	_, err = streamTypes("player_joined,bogus")
	assert.Error(t, err)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/monitor/events?types=player_joined&token=" + testToken
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.bus.HandlerCount(events.EventPlayerJoined) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.bus.HandlerCount(events.EventPlayerLeft))

	env.bus.Emit(context.Background(), events.Event{
		Type:    events.EventPlayerJoined,
		Source:  "test",
		Payload: events.PlayerPayload{Name: "alice"},
	})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "player_joined", got.Type)
	assert.Equal(t, "alice", got.Payload["name"])

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return env.bus.HandlerCount(events.EventPlayerJoined) == 0
	}, 2*time.Second, 5*time.Millisecond, "subscriber removed after disconnect")
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, Dependencies{})

	rec, _ := env.do(t, http.MethodGet, "/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>crawlspace</title>")

	rec, _ = env.do(t, http.MethodGet, "/app.js", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/missing.txt", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
