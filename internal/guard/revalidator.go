package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
)

// DefaultInterval is the revalidation cadence while a session is active
const DefaultInterval = 2 * time.Minute

// Validator confirms the held session with the backend
type Validator interface {
	ValidateWithBackend(ctx context.Context) bool
}

// Revalidator calls ValidateWithBackend on a fixed cadence while armed
type Revalidator struct {
	validator Validator
	clock     clock.Clock
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	armed  bool
	closed bool
	gen    uint64
	timer  clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRevalidator creates a disarmed revalidator
func NewRevalidator(v Validator, clk clock.Clock, interval, timeout time.Duration, logger zerolog.Logger) *Revalidator {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Revalidator{
		validator: v,
		clock:     clk,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Arm starts the cadence. Calling it while armed does nothing.
func (r *Revalidator) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.armed {
		return
	}
	r.armed = true
	r.gen++
	r.scheduleLocked(r.gen)
	r.logger.Debug().Dur("interval", r.interval).Msg("⏱️ Session revalidation armed")
}

// Disarm stops the cadence; a validation already in flight is discarded
func (r *Revalidator) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarmLocked()
}

// Armed reports whether a revalidation is scheduled
func (r *Revalidator) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Close disarms for good and cancels any call in flight
func (r *Revalidator) Close() {
	r.mu.Lock()
	r.closed = true
	r.disarmLocked()
	r.mu.Unlock()
	r.cancel()
}

func (r *Revalidator) disarmLocked() {
	if !r.armed {
		return
	}
	r.armed = false
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.logger.Debug().Msg("⏱️ Session revalidation disarmed")
}

func (r *Revalidator) scheduleLocked(gen uint64) {
	r.timer = r.clock.AfterFunc(r.interval, func() { r.tick(gen) })
}

func (r *Revalidator) tick(gen uint64) {
	r.mu.Lock()
	if !r.armed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	valid := r.validator.ValidateWithBackend(ctx)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed || gen != r.gen {
		return
	}
	if !valid {
		r.logger.Info().Msg("🛑 Session no longer valid, stopping revalidation")
		r.disarmLocked()
		return
	}
	r.scheduleLocked(gen)
}
