package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/memory"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/redis"
	"github.com/lifequest/lifequest-hub/internal/interface/http/handlers"
)

const testProfileID = "7f0c2b8e-4b7a-4c1e-9d55-0a1f3e2d4c5b"

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type stubReader struct {
	snap *redis.ProgressionSnapshot
	err  error
}

func (r stubReader) GetProgression(context.Context, string) (*redis.ProgressionSnapshot, error) {
	return r.snap, r.err
}

// exampleStore holds 640 XP: level 7, rank E.
func exampleStore() *memory.RecordStore {
	s := memory.NewRecordStore()
	s.Seed(content.CollectionSkills, content.Record{"id": "s1", "level": 50})
	s.Seed(content.CollectionProjects, content.Record{"id": "p1", "is_featured": true})
	s.Seed(content.CollectionCertifications, content.Record{"id": "c1"}, content.Record{"id": "c2"})
	s.Seed(content.CollectionExperiences, content.Record{"id": "e1"})
	s.Seed(content.CollectionCourses, content.Record{"id": "co1", "progress": 40})
	s.Seed(content.CollectionHabits, content.Record{"id": "h1", "streak": 10})
	s.CreateCollection(content.CollectionAchievements)
	return s
}

type testEnv struct {
	store  *memory.RecordStore
	pub    *recordingPublisher
	health *handlers.CompositeHealthChecker
	server *Server
}

func newTestEnv(t *testing.T, reader ProgressionReader) *testEnv {
	t.Helper()

	store := exampleStore()
	calc := query.NewComputeTotalXPHandler(store, query.DefaultComputeTotalXPConfig())
	pub := &recordingPublisher{}
	health := handlers.NewCompositeHealthChecker("test")

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0

	srv := NewServer(cfg, Dependencies{
		Calculator:    calc,
		Syncer:        command.NewSyncProfileHandler(store, calc, pub, command.SyncProfileHandlerConfig{}),
		Progression:   reader,
		Publisher:     pub,
		HealthChecker: health,
	})
	return &testEnv{store: store, pub: pub, health: health, server: srv}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestGetProgression(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/progression", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.RequestID)

	resp := decodeData[ProgressionResponse](t, body)
	assert.Equal(t, 640, resp.TotalXP)
	assert.Equal(t, 7, resp.Level)
	assert.Equal(t, progression.RankE, resp.Rank)
	assert.Equal(t, "computed", resp.Source)
	require.NotNil(t, resp.Breakdown)
	assert.Equal(t, 250, resp.Breakdown.Skills)
	assert.Equal(t, 0, env.store.Writes())
}

func TestGetTiers(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/progression/tiers", "")
	require.Equal(t, http.StatusOK, code)

	resp := decodeData[TiersResponse](t, body)
	assert.Equal(t, progression.MaxLevel, resp.MaxLevel)
	assert.Equal(t, progression.XPToMaxLevel, resp.XPToMaxLevel)
	require.Len(t, resp.Tiers, progression.MaxLevel)
	assert.Equal(t, progression.TierRow{Level: 1, Tier: 1, Cost: 100, Cumulative: 0}, resp.Tiers[0])
}

func TestGetProfileProgression_FromCache(t *testing.T) {
	synced := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	env := newTestEnv(t, stubReader{snap: &redis.ProgressionSnapshot{
		ProfileID: testProfileID,
		State:     progression.Resolve(1200),
		SyncedAt:  synced,
	}})

	code, body := env.do(t, http.MethodGet, "/api/v1/profiles/"+testProfileID+"/progression", "")
	require.Equal(t, http.StatusOK, code)

	resp := decodeData[ProgressionResponse](t, body)
	assert.Equal(t, "cache", resp.Source)
	assert.Equal(t, 1200, resp.TotalXP)
	require.NotNil(t, resp.SyncedAt)
	assert.True(t, synced.Equal(*resp.SyncedAt))
}

func TestGetProfileProgression_FallsBackOnMiss(t *testing.T) {
	for name, reader := range map[string]ProgressionReader{
		"miss":    stubReader{err: redis.ErrCacheMiss},
		"failure": stubReader{err: errors.New("connection refused")},
		"none":    nil,
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, reader)

			code, body := env.do(t, http.MethodGet, "/api/v1/profiles/"+testProfileID+"/progression", "")
			require.Equal(t, http.StatusOK, code)

			resp := decodeData[ProgressionResponse](t, body)
			assert.Equal(t, "computed", resp.Source)
			assert.Equal(t, 640, resp.TotalXP)
		})
	}
}

func TestSyncProfile_Persists(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Seed(content.CollectionProfile, content.Record{"id": testProfileID, "level": 1, "rank": "E"})

	code, body := env.do(t, http.MethodPost, "/api/v1/profiles/"+testProfileID+"/sync", "")
	require.Equal(t, http.StatusOK, code)

	resp := decodeData[SyncResponse](t, body)
	assert.True(t, resp.Persisted)
	assert.True(t, resp.LevelChanged)
	assert.Equal(t, testProfileID, resp.ProfileID)
	assert.Equal(t, 7, resp.Level)
	assert.Equal(t, 1, env.store.Writes())
}

func TestSyncProfile_DefaultAddressesSingleton(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Seed(content.CollectionProfile, content.Record{"id": "only"})

	code, body := env.do(t, http.MethodPost, "/api/v1/profiles/default/sync", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "only", decodeData[SyncResponse](t, body).ProfileID)
}

func TestSyncProfile_NotFoundStillReturnsValues(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/api/v1/profiles/"+testProfileID+"/sync", "")
	require.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "profile_not_found", body.Error.Code)

	resp := decodeData[SyncResponse](t, body)
	assert.False(t, resp.Persisted)
	assert.Equal(t, 640, resp.TotalXP)
}

type stubSyncer struct {
	result *command.SyncProfileResult
	err    error
}

func (s stubSyncer) Handle(context.Context, command.SyncProfileCommand) (*command.SyncProfileResult, error) {
	return s.result, s.err
}

func TestSyncProfile_WriteFailureReturnsValues(t *testing.T) {
	store := exampleStore()
	calc := query.NewComputeTotalXPHandler(store, query.DefaultComputeTotalXPConfig())
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0

	writeErr := shared.WrapError("profile", "Update", shared.ErrProfileWriteFailed,
		"failed to persist progression", errors.New("connection reset"))
	srv := NewServer(cfg, Dependencies{
		Calculator: calc,
		Syncer: stubSyncer{
			result: &command.SyncProfileResult{
				ProfileID: testProfileID,
				State:     progression.Resolve(640),
				Breakdown: progression.Breakdown{Skills: 250},
			},
			err: writeErr,
		},
	})
	env := &testEnv{store: store, server: srv}

	code, body := env.do(t, http.MethodPost, "/api/v1/profiles/"+testProfileID+"/sync", "")
	require.Equal(t, http.StatusBadGateway, code)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "profile_write_failed", body.Error.Code)

	resp := decodeData[SyncResponse](t, body)
	assert.False(t, resp.Persisted)
	assert.Equal(t, testProfileID, resp.ProfileID)
	assert.Equal(t, 640, resp.TotalXP)
	assert.Equal(t, 7, resp.Level)
	assert.Equal(t, 40, resp.CurrentXP)
	assert.Equal(t, progression.RankE, resp.Rank)
	require.NotNil(t, resp.Breakdown)
	assert.Equal(t, 250, resp.Breakdown.Skills)
}

func TestGetProfileProgression_RejectsBadID(t *testing.T) {
	var asked []string
	env := newTestEnv(t, recordingReader{ids: &asked})

	code, body := env.do(t, http.MethodGet, "/api/v1/profiles/not-a-uuid/progression", "")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_profile_id", body.Error.Code)
	assert.Empty(t, asked)

	code, _ = env.do(t, http.MethodGet, "/api/v1/profiles/default/progression", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"default"}, asked)
}

type recordingReader struct {
	ids *[]string
}

func (r recordingReader) GetProgression(_ context.Context, id string) (*redis.ProgressionSnapshot, error) {
	*r.ids = append(*r.ids, id)
	return nil, redis.ErrCacheMiss
}

func TestSyncProfile_InvalidID(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/api/v1/profiles/not-a-uuid/sync", "")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_profile_id", body.Error.Code)
}

func TestRecordChanged_PublishesEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/changed",
		strings.NewReader(`{"collection":"skills","action":"updated","record_id":"s1"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	env.pub.mu.Lock()
	defer env.pub.mu.Unlock()
	require.Len(t, env.pub.events, 1)
	event, ok := env.pub.events[0].(shared.RecordChangedEvent)
	require.True(t, ok)
	assert.Equal(t, shared.EventRecordUpdated, event.EventType())
	assert.Equal(t, "skills", event.Collection)
	assert.Equal(t, "s1", event.RecordID)
	assert.Equal(t, "req-42", event.Correlation())
}

func TestRecordChanged_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/api/v1/records/changed",
		`{"collection":"recipes","action":"renamed","profile_id":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "validation_failed", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "collection")
	assert.Contains(t, body.Error.Fields, "action")
	assert.Contains(t, body.Error.Fields, "profile_id")

	code, body = env.do(t, http.MethodPost, "/api/v1/records/changed", `{"collection":`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_json", body.Error.Code)

	assert.Empty(t, env.pub.events)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.health.AddCheck("record_store", handlers.NewPingCheck(pingerFunc(func(context.Context) error { return nil })))
	env.health.AddOptionalCheck("cache", func(context.Context) error { return errors.New("down") })

	code, _ := env.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	status := decodeData[handlers.HealthStatus](t, body)
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)

	code, _ = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestServer_ServeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/live")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
