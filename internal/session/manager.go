// Package session owns the kiosk's table session: loading it from the store,
// revalidating it against the backend and reporting whether it is usable.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/internal/store"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// State is the lifecycle state of the held session
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateLoading          State = "loading"
	StateEmpty            State = "empty"
	StateLocallyValid     State = "locally_valid"
	StateBackendConfirmed State = "backend_confirmed"
	StateInvalid          State = "invalid"
)

// Validator asks the backend whether a session is still valid
type Validator interface {
	ValidateSession(ctx context.Context, sessionID string) (*types.ValidateSessionResponse, error)
}

// Snapshot is a consistent copy of the manager state
type Snapshot struct {
	SessionID       string
	Session         *types.Session
	HasValidSession bool
	Loading         bool
	State           State
}

// Response converts the snapshot for the local API
func (s Snapshot) Response() types.SessionResponse {
	return types.SessionResponse{
		SessionID:       s.SessionID,
		Session:         s.Session,
		HasValidSession: s.HasValidSession,
		Loading:         s.Loading,
		State:           string(s.State),
	}
}

// Change is delivered to watchers after every state change
type Change struct {
	Previous Snapshot
	Current  Snapshot
}

// Options configures a Manager
type Options struct {
	Store           store.Store
	Validator       Validator
	Clock           clock.Clock
	ValidateTimeout time.Duration
	Logger          zerolog.Logger
}

// Manager is the single owner and writer of the session
type Manager struct {
	store     store.Store
	validator Validator
	clock     clock.Clock
	timeout   time.Duration
	logger    zerolog.Logger

	// writeMu orders store writes so they match the order of memory updates
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	loading bool
	id      string
	data    *types.Session

	watchMu   sync.RWMutex
	watchers  map[int]func(Change)
	nextWatch int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an uninitialized manager
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ValidateTimeout <= 0 {
		opts.ValidateTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     opts.Store,
		validator: opts.Validator,
		clock:     opts.Clock,
		timeout:   opts.ValidateTimeout,
		logger:    opts.Logger,
		state:     StateUninitialized,
		loading:   true,
		watchers:  make(map[int]func(Change)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Initialize loads the stored session. Local state is settled and loading is
// cleared before this returns; a locally valid session is then confirmed
// with the backend in the background.
func (m *Manager) Initialize() {
	prev := m.setLocked(func() {
		m.state = StateLoading
		m.loading = true
	})
	m.notify(prev)

	m.writeMu.Lock()
	id, data, err := m.store.Load()
	if err != nil {
		if store.Recoverable(err) {
			m.logger.Warn().Err(err).Msg("⚠️ Discarding malformed stored session")
		} else {
			m.logger.Error().Err(err).Msg("❌ Failed to load stored session")
		}
		m.clearStore()
		id, data = "", nil
	}

	now := m.clock.Now()
	switch {
	case id == "" || data == nil:
		prev = m.setLocked(func() { m.emptyLocked(StateEmpty) })
	case data.Expired(now):
		m.logger.Info().Str("session_id", id).Time("expires_at", *data.ExpiresAt).Msg("⏰ Stored session expired")
		m.clearStore()
		prev = m.setLocked(func() { m.emptyLocked(StateEmpty) })
	default:
		prev = m.setLocked(func() {
			m.id = id
			m.data = data
			m.state = StateLocallyValid
			m.loading = false
		})
	}
	m.writeMu.Unlock()
	m.notify(prev)

	if id != "" && data != nil && !data.Expired(now) {
		m.logger.Info().Str("session_id", id).Int("table_id", data.TableID).Msg("📋 Restored stored session")
		m.validateInBackground(id)
	}
}

// ReloadSession re-runs the load and expiry check
func (m *Manager) ReloadSession() {
	m.Initialize()
}

// ValidateWithBackend confirms the held session with the backend. It returns
// false when no session is held or the backend rejects it. Transport failures
// keep the session and report whether one is still held.
func (m *Manager) ValidateWithBackend(ctx context.Context) bool {
	m.mu.Lock()
	id := m.id
	m.mu.Unlock()

	if id == "" || m.validator == nil {
		return false
	}

	resp, err := m.validator.ValidateSession(ctx, id)
	return m.applyValidation(id, resp, err)
}

// SetSession stores a freshly issued session
func (m *Manager) SetSession(id string, data *types.Session) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if data == nil {
		return fmt.Errorf("session data cannot be nil")
	}
	if data.ID != "" && data.ID != id {
		return fmt.Errorf("session data id %q does not match %q", data.ID, id)
	}

	s := data.Clone()
	s.ID = id

	m.writeMu.Lock()
	prev := m.setLocked(func() {
		m.id = id
		m.data = s
		m.state = StateLocallyValid
		m.loading = false
	})
	err := m.store.Save(id, s)
	m.writeMu.Unlock()
	m.notify(prev)

	if err != nil {
		m.logger.Error().Err(err).Str("session_id", id).Msg("❌ Failed to persist session")
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.logger.Info().Str("session_id", id).Int("table_id", s.TableID).Msg("✅ Session established")
	return nil
}

// ClearSession removes the session from memory and the store. Safe to call
// when nothing is held.
func (m *Manager) ClearSession() {
	m.clear(StateEmpty, "cleared")
}

// InvalidateSession clears the session because it was found invalid
func (m *Manager) InvalidateSession(reason string) {
	m.clear(StateInvalid, reason)
}

// Snapshot returns the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// HasValidSession reports local presence of both identifier and data
func (m *Manager) HasValidSession() bool {
	return m.Snapshot().HasValidSession
}

// Watch registers fn for state changes. fn runs on the goroutine that made
// the change and must not block.
func (m *Manager) Watch(fn func(Change)) (cancel func()) {
	m.watchMu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	m.watchMu.Unlock()

	return func() {
		m.watchMu.Lock()
		delete(m.watchers, id)
		m.watchMu.Unlock()
	}
}

// Wait blocks until background validations have finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels background validations and waits for them
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) validateInBackground(id string) {
	if m.validator == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()

		resp, err := m.validator.ValidateSession(ctx, id)
		m.applyValidation(id, resp, err)
	}()
}

// applyValidation applies a backend answer for id unless the held session
// changed while the call was in flight
func (m *Manager) applyValidation(id string, resp *types.ValidateSessionResponse, err error) bool {
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("⚠️ Session validation failed, keeping session")
		return m.Snapshot().HasValidSession
	}

	m.writeMu.Lock()

	m.mu.Lock()
	if m.id != id {
		held := m.snapshotLocked().HasValidSession
		m.mu.Unlock()
		m.writeMu.Unlock()
		m.logger.Debug().Str("session_id", id).Msg("Ignoring validation result for replaced session")
		return held
	}
	m.mu.Unlock()

	if resp == nil || !resp.IsValid {
		prev := m.setLocked(func() { m.emptyLocked(StateInvalid) })
		m.clearStore()
		m.writeMu.Unlock()
		m.notify(prev)
		m.logger.Info().Str("session_id", id).Msg("🛑 Backend rejected session")
		return false
	}

	var merged *types.Session
	prev := m.setLocked(func() {
		merged = MergeValidated(m.data, resp.Session)
		m.data = merged
		m.state = StateBackendConfirmed
	})
	err = m.store.Save(id, merged)
	m.writeMu.Unlock()
	m.notify(prev)

	if err != nil {
		m.logger.Error().Err(err).Str("session_id", id).Msg("❌ Failed to persist validated session")
	} else {
		m.logger.Debug().Str("session_id", id).Msg("Session confirmed by backend")
	}
	return true
}

func (m *Manager) clear(state State, reason string) {
	m.writeMu.Lock()
	var had string
	prev := m.setLocked(func() {
		had = m.id
		m.emptyLocked(state)
	})
	m.clearStore()
	m.writeMu.Unlock()
	m.notify(prev)

	if had != "" {
		m.logger.Info().Str("session_id", had).Str("reason", reason).Msg("🧹 Session cleared")
	}
}

func (m *Manager) clearStore() {
	if err := m.store.Clear(); err != nil {
		m.logger.Error().Err(err).Msg("❌ Failed to clear stored session")
	}
}

// emptyLocked drops the held session; loading is always cleared
func (m *Manager) emptyLocked(state State) {
	m.id = ""
	m.data = nil
	m.state = state
	m.loading = false
}

// setLocked applies fn under mu and returns the state before it
func (m *Manager) setLocked(fn func()) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.snapshotLocked()
	fn()
	return prev
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:       m.id,
		Session:         m.data.Clone(),
		HasValidSession: m.id != "" && m.data != nil,
		Loading:         m.loading,
		State:           m.state,
	}
}

func (m *Manager) notify(prev Snapshot) {
	change := Change{Previous: prev, Current: m.Snapshot()}
	if change.Previous.State == change.Current.State &&
		change.Previous.SessionID == change.Current.SessionID &&
		change.Previous.Loading == change.Current.Loading &&
		sameExpiry(change.Previous.Session, change.Current.Session) {
		return
	}

	m.watchMu.RLock()
	watchers := make([]func(Change), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.watchMu.RUnlock()

	for _, fn := range watchers {
		fn(change)
	}
}

func sameExpiry(a, b *types.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ExpiresAt == nil || b.ExpiresAt == nil {
		return a.ExpiresAt == b.ExpiresAt
	}
	return a.ExpiresAt.Equal(*b.ExpiresAt)
}
