package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/tableside/kiosk/internal/auth"
	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/internal/session"
	"github.com/ferg-cod3s/tableside/kiosk/internal/store"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

var t0 = time.Date(2025, 7, 4, 19, 30, 0, 0, time.UTC)

type backend struct {
	mu    sync.Mutex
	calls int
	valid bool
}

func (b *backend) ValidateSession(ctx context.Context, id string) (*types.ValidateSessionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return &types.ValidateSessionResponse{IsValid: b.valid}, nil
}

func (b *backend) setValid(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.valid = v
}

func (b *backend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type harness struct {
	clock   *clock.Fake
	backend *backend
	manager *session.Manager
	guard   *Guard
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	codec, err := auth.NewSessionCodec("guard-test", 24*time.Hour, clk)
	require.NoError(t, err)

	h := &harness{clock: clk, backend: &backend{valid: true}}
	h.manager = session.NewManager(session.Options{
		Store:     store.NewMemoryStore(codec, 24*time.Hour, clk),
		Validator: h.backend,
		Clock:     clk,
		Logger:    zerolog.Nop(),
	})
	h.guard = New(h.manager, Options{Clock: clk, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		h.guard.Close()
		h.manager.Close()
	})

	h.handler = h.guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := SessionFromContext(r.Context())
		if !ok {
			http.Error(w, "no session in context", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("table " + snap.SessionID))
	}))
	return h
}

func (h *harness) get(path string, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) establish(t *testing.T) {
	t.Helper()
	require.NoError(t, h.manager.SetSession("s1", &types.Session{TableID: 7, CreatedAt: t0}))
}

func TestGuard_FreshClientLoadsThenRedirects(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/", "text/html")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Refresh"))
	assert.Empty(t, rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "table")

	h.manager.Initialize()

	rec = h.get("/", "text/html")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, DefaultRedirect, rec.Header().Get("Location"))
	assert.Equal(t, 0, h.backend.callCount())
}

func TestGuard_APIResponses(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/api/session", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"loading"}`, rec.Body.String())

	h.manager.Initialize()

	rec = h.get("/api/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session required", body["error"])
	assert.Equal(t, DefaultRedirect, body["redirect"])
}

func TestGuard_ServesAndArms(t *testing.T) {
	h := newHarness(t)
	h.manager.Initialize()
	h.establish(t)

	rec := h.get("/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "table s1", rec.Body.String())
	assert.True(t, h.guard.Revalidator().Armed())

	h.get("/", "")
	h.get("/api/menu", "")
	assert.Equal(t, 1, h.clock.Pending(), "arming is idempotent")
}

func TestGuard_RevalidatesOnCadence(t *testing.T) {
	h := newHarness(t)
	h.manager.Initialize()
	h.establish(t)
	h.get("/", "")

	h.clock.Advance(DefaultInterval - time.Second)
	assert.Equal(t, 0, h.backend.callCount())

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.backend.callCount())

	h.clock.Advance(2 * DefaultInterval)
	assert.Equal(t, 3, h.backend.callCount())
	assert.True(t, h.guard.Revalidator().Armed())
}

func TestGuard_RejectionStopsCadenceAndRedirects(t *testing.T) {
	h := newHarness(t)
	h.manager.Initialize()
	h.establish(t)
	h.get("/", "")

	h.backend.setValid(false)
	h.clock.Advance(DefaultInterval)

	assert.False(t, h.manager.HasValidSession())
	assert.False(t, h.guard.Revalidator().Armed())
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(10 * DefaultInterval)
	assert.Equal(t, 1, h.backend.callCount())

	rec := h.get("/", "text/html")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestGuard_ClearingSessionDisarms(t *testing.T) {
	h := newHarness(t)
	h.manager.Initialize()
	h.establish(t)
	h.get("/", "")
	require.True(t, h.guard.Revalidator().Armed())

	h.manager.InvalidateSession("session ended: Table closed")

	assert.False(t, h.guard.Revalidator().Armed())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, http.StatusSeeOther, h.get("/", "").Code)
}

func TestGuard_CloseTearsDown(t *testing.T) {
	h := newHarness(t)
	h.manager.Initialize()
	h.establish(t)
	h.get("/", "")

	h.guard.Close()
	h.guard.Close()
	assert.False(t, h.guard.Revalidator().Armed())
	assert.Equal(t, 0, h.clock.Pending())

	h.get("/", "")
	assert.False(t, h.guard.Revalidator().Armed(), "closed revalidator never rearms")
	h.clock.Advance(DefaultInterval)
	assert.Equal(t, 0, h.backend.callCount())
}

func TestGuard_CustomRedirect(t *testing.T) {
	h := newHarness(t)
	h.guard = New(h.manager, Options{RedirectPath: "/scan-again", Clock: h.clock, Logger: zerolog.Nop()})
	t.Cleanup(h.guard.Close)
	h.handler = h.guard.Middleware(http.NotFoundHandler())
	h.manager.Initialize()

	rec := h.get("/orders", "")
	assert.Equal(t, "/scan-again", rec.Header().Get("Location"))
}
