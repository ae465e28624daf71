package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/envelope"
	"github.com/jonwraymond/sitesync/health"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/resilience"
	"github.com/jonwraymond/sitesync/store"
)

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newServer(t *testing.T, mutate ...func(*Config)) (*Server, *store.SQLite) {
	t.Helper()
	db := openStore(t)
	cfg := Config{Repository: db}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, db
}

func do(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, envelope.Envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope.Envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func createItem(t *testing.T, h http.Handler, projectID, title string) *model.WorkItem {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/api/work-items", map[string]string{"projectId": projectID, "title": title, "status": "todo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var w model.WorkItem
	require.NoError(t, env.Decode(&w))
	return &w
}

func TestNew_RequiresRepository(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestList_CachedAndInvalidatedByCreate(t *testing.T) {
	s, _ := newServer(t)
	createItem(t, s, "p1", "Pour slab")

	rec, env := do(t, s, http.MethodGet, "/api/work-items?projectId=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	assert.Equal(t, &envelope.Pagination{Page: 1, Limit: store.DefaultLimit, Total: 1, TotalPages: 1}, env.Pagination)

	rec, _ = do(t, s, http.MethodGet, "/api/work-items?projectId=p1", nil)
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))

	createItem(t, s, "p1", "Frame walls")

	rec, env = do(t, s, http.MethodGet, "/api/work-items?projectId=p1", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	var items []model.WorkItem
	require.NoError(t, env.Decode(&items))
	require.Len(t, items, 2)
	assert.Equal(t, "Frame walls", items[0].Title)
}

func TestUpdate_InvalidatesRecordAndProjectScopes(t *testing.T) {
	s, _ := newServer(t)
	w := createItem(t, s, "p1", "Pour slab")

	do(t, s, http.MethodGet, "/api/work-items/"+w.ID, nil)
	rec, _ := do(t, s, http.MethodGet, "/api/work-items/"+w.ID, nil)
	require.Equal(t, "HIT", rec.Header().Get(HeaderCache))
	do(t, s, http.MethodGet, "/api/work-items?projectId=p2", nil)

	rec, env := do(t, s, http.MethodPatch, "/api/work-items/"+w.ID, map[string]any{"status": "done", "projectId": "p2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.WorkItem
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "done", got.Status)

	rec, env = do(t, s, http.MethodGet, "/api/work-items/"+w.ID, nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "done", got.Status)

	rec, env = do(t, s, http.MethodGet, "/api/work-items?projectId=p2", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache), "the new project's lists are stale too")
	assert.Equal(t, 1, env.Pagination.Total)
}

func TestDelete_RemovesAndInvalidates(t *testing.T) {
	s, _ := newServer(t)
	w := createItem(t, s, "p1", "Pour slab")
	do(t, s, http.MethodGet, "/api/work-items/stats?projectId=p1", nil)

	rec, _ := do(t, s, http.MethodDelete, "/api/work-items/"+w.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, s, http.MethodGet, "/api/work-items/"+w.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/api/work-items/stats?projectId=p1", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	var st model.Stats
	require.NoError(t, env.Decode(&st))
	assert.Zero(t, st.Total)
}

func TestCreate_ValidationError(t *testing.T) {
	s, _ := newServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/work-items", map[string]string{"title": "orphan", "status": "started"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	fields, _ := env.Error.Details["fields"].(map[string]any)
	assert.Contains(t, fields, "projectId")
	assert.Contains(t, fields, "status")

	req := httptest.NewRequest(http.MethodPost, "/api/work-items", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnknownCollection(t *testing.T) {
	s, _ := newServer(t)
	rec, env := do(t, s, http.MethodGet, "/api/invoices", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestListQuery_Errors(t *testing.T) {
	s, _ := newServer(t)
	rec, env := do(t, s, http.MethodGet, "/api/projects?page=two", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	for _, filter := range []string{"a%20b=x", "x%5B=1", "status%27%29=open"} {
		rec, env = do(t, s, http.MethodGet, "/api/projects?"+filter, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, filter)
		assert.Equal(t, "INVALID_INPUT", env.Error.Code, filter)
	}
}

func TestAddPhoto(t *testing.T) {
	s, _ := newServer(t)
	rec, env := do(t, s, http.MethodPost, "/api/daily-logs", map[string]any{"projectId": "p1", "date": "2026-10-16", "crewCount": 9})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dl model.DailyLog
	require.NoError(t, env.Decode(&dl))

	rec, env = do(t, s, http.MethodPost, "/api/daily-logs/"+dl.ID+"/photos", map[string]string{"url": "https://cdn.example.com/n.jpg"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, env.Decode(&dl))
	assert.Len(t, dl.Photos, 1)

	rec, _ = do(t, s, http.MethodPost, "/api/daily-logs/missing/photos", map[string]string{"url": "https://cdn.example.com/n.jpg"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_RejectsWithContract(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	policies := resilience.DefaultLimitPolicies()
	policies[resilience.ClassRead] = resilience.LimitPolicy{Window: time.Minute, MaxRequests: 2}
	limiters := resilience.NewLimiterSet(policies, resilience.WithLimiterClock(func() time.Time { return now }))
	s, _ := newServer(t, func(c *Config) { c.Limiters = limiters })

	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/api/projects", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get(HeaderLimit))
	}

	rec, env := do(t, s, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get(HeaderRetry))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "1792152060", rec.Header().Get(HeaderReset))
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.Equal(t, float64(60), env.Error.Details["retryAfter"])
	assert.Equal(t, "2026-10-16T12:01:00Z", env.Error.Details["resetTime"])

	rec, _ = do(t, s, http.MethodPost, "/api/projects", map[string]string{"name": "Tower B"})
	assert.Equal(t, http.StatusCreated, rec.Code, "write budget is independent of reads")
}

func TestRateLimit_PerCaller(t *testing.T) {
	policies := resilience.DefaultLimitPolicies()
	policies[resilience.ClassRead] = resilience.LimitPolicy{Window: time.Minute, MaxRequests: 1}
	s, _ := newServer(t, func(c *Config) {
		c.Limiters = resilience.NewLimiterSet(policies)
		c.Resolver = auth.NewResolver(auth.ResolverConfig{TrustProxy: true})
	})

	get := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		req.Header.Set("X-Forwarded-For", addr)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.1"))
	assert.Equal(t, http.StatusOK, get("203.0.113.2"))
}

// brokenWindows fails every operation.
type brokenWindows struct{}

var errWindows = stderrors.New("window store offline")

func (brokenWindows) Hit(context.Context, string, int, time.Duration, time.Time) (resilience.Window, bool, error) {
	return resilience.Window{}, false, errWindows
}
func (brokenWindows) Peek(context.Context, string) (resilience.Window, bool, error) {
	return resilience.Window{}, false, errWindows
}
func (brokenWindows) Sweep(context.Context, time.Time) (int, error) { return 0, errWindows }
func (brokenWindows) Reset(context.Context, string) (int, error)    { return 0, errWindows }

func TestRateLimit_FailsOpen(t *testing.T) {
	limiters := resilience.NewLimiterSet(resilience.DefaultLimitPolicies(), resilience.WithWindowStore(brokenWindows{}))
	s, _ := newServer(t, func(c *Config) { c.Limiters = limiters })

	rec, _ := do(t, s, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderLimit))
}

// blockingRepo holds List calls until released.
type blockingRepo struct {
	*store.SQLite
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRepo) List(ctx context.Context, collection string, q store.ListQuery) (store.Page, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.SQLite.List(ctx, collection, q)
}

// slowListRepo reads the first List page, then holds it until released.
type slowListRepo struct {
	*store.SQLite
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (r *slowListRepo) List(ctx context.Context, collection string, q store.ListQuery) (store.Page, error) {
	page, err := r.SQLite.List(ctx, collection, q)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return page, err
}

func TestList_ReadRacingMutationIsNotCached(t *testing.T) {
	repo := &slowListRepo{SQLite: openStore(t), read: make(chan struct{}), release: make(chan struct{})}
	s, err := New(Config{Repository: repo})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work-items?projectId=p1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	})
	<-repo.read

	created := createItem(t, s, "p1", "poured slab")
	close(repo.release)
	wg.Wait()

	rec, env := do(t, s, http.MethodGet, "/api/work-items?projectId=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache), "the pre-create page must not be served from cache")
	var items []model.WorkItem
	require.NoError(t, env.Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	repo := &blockingRepo{SQLite: openStore(t), entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, err := New(Config{Repository: repo, MaxInFlight: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	<-repo.entered

	rec, env := do(t, s, http.MethodGet, "/api/work-items", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)

	close(repo.release)
	wg.Wait()
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	agg := health.NewAggregator(health.AggregatorConfig{})
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "sitesync_test_total"}))

	s, db := newServer(t, func(c *Config) {
		c.Health = agg
		c.Gatherer = reg
		c.Version = "1.2.3"
	})
	agg.Register(health.NewPingChecker("database", db, 0))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sitesync_test_total")
}
