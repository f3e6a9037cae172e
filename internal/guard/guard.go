// Package guard gates protected routes on the kiosk session and keeps an
// active session revalidated while it is being used.
package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/internal/session"
)

// DefaultRedirect is the re-authentication page
const DefaultRedirect = "/session-required"

// Source is the session state the guard reads
type Source interface {
	Validator
	Snapshot() session.Snapshot
	Watch(fn func(session.Change)) (cancel func())
}

// Options configures a Guard
type Options struct {
	RedirectPath    string
	Interval        time.Duration
	ValidateTimeout time.Duration
	Clock           clock.Clock
	Logger          zerolog.Logger
}

type contextKey string

// SessionContextKey holds the snapshot a guarded request was admitted with
const SessionContextKey contextKey = "session"

// Guard admits requests only while a session is held
type Guard struct {
	source      Source
	redirect    string
	revalidator *Revalidator
	logger      zerolog.Logger

	once   sync.Once
	cancel func()
}

// New creates a guard over source. The revalidator is disarmed whenever the
// source stops holding a session.
func New(source Source, opts Options) *Guard {
	if opts.RedirectPath == "" {
		opts.RedirectPath = DefaultRedirect
	}
	g := &Guard{
		source:      source,
		redirect:    opts.RedirectPath,
		revalidator: NewRevalidator(source, opts.Clock, opts.Interval, opts.ValidateTimeout, opts.Logger),
		logger:      opts.Logger,
	}
	g.cancel = source.Watch(func(c session.Change) {
		if !c.Current.HasValidSession {
			g.revalidator.Disarm()
		}
	})
	return g
}

// Middleware wraps protected routes
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := g.source.Snapshot()

		switch {
		case snap.Loading:
			g.loadingResponse(w, r)
		case !snap.HasValidSession:
			g.logger.Debug().Str("path", r.URL.Path).Msg("🔒 No session, redirecting")
			g.sessionRequiredResponse(w, r)
		default:
			g.revalidator.Arm()
			ctx := context.WithValue(r.Context(), SessionContextKey, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Revalidator returns the periodic driver owned by the guard
func (g *Guard) Revalidator() *Revalidator {
	return g.revalidator
}

// Close tears the revalidator down and stops watching the source
func (g *Guard) Close() {
	g.once.Do(func() {
		g.cancel()
		g.revalidator.Close()
	})
}

// SessionFromContext returns the snapshot stored by Middleware
func SessionFromContext(ctx context.Context) (session.Snapshot, bool) {
	snap, ok := ctx.Value(SessionContextKey).(session.Snapshot)
	return snap, ok
}

// loadingResponse sends a placeholder that asks the browser to retry shortly
func (g *Guard) loadingResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "loading"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(loadingPage))
}

// sessionRequiredResponse sends API clients a 401 and browsers a redirect
func (g *Guard) sessionRequiredResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":    "session required",
			"redirect": g.redirect,
		})
		return
	}
	http.Redirect(w, r, g.redirect, http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

const loadingPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Loading</title></head>
<body><p>Loading your table…</p></body></html>
`
