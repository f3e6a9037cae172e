package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
)

// Channel is the part of the push channel the coordinator drives
type Channel interface {
	Connected() bool
	JoinTable(tableID int, sessionID string) error
	LeaveTable(tableID int) error
	Subscribe(fn func(channel.Event)) (cancel func())
}

type room struct {
	tableID   int
	sessionID string
}

// Coordinator keeps the push channel subscribed to the held session's table
// and clears the session when the server ends it
type Coordinator struct {
	manager *Manager
	channel Channel
	logger  zerolog.Logger

	mu      sync.Mutex
	joined  *room
	cancels []func()
}

// NewCoordinator links a manager to a push channel. Call Start to begin.
func NewCoordinator(m *Manager, ch Channel, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		manager: m,
		channel: ch,
		logger:  logger,
	}
}

// Start subscribes to both sides and joins the table if already possible
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.cancels = append(c.cancels,
		c.manager.Watch(func(Change) { c.sync() }),
		c.channel.Subscribe(c.handleEvent),
	)
	c.mu.Unlock()

	c.sync()
}

// Stop removes the subscriptions
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Coordinator) handleEvent(ev channel.Event) {
	switch e := ev.(type) {
	case channel.ConnectionChanged:
		// a fresh connection is in no rooms
		c.mu.Lock()
		c.joined = nil
		c.mu.Unlock()
		if e.State == channel.StateConnected {
			c.sync()
		}

	case channel.SessionEnded:
		snap := c.manager.Snapshot()
		if !snap.HasValidSession {
			return
		}
		if (e.SessionID != "" && e.SessionID == snap.SessionID) ||
			(e.TableID != 0 && e.TableID == snap.Session.TableID) {
			reason := "session ended"
			if e.Reason != "" {
				reason = "session ended: " + e.Reason
			}
			c.manager.InvalidateSession(reason)
		}

	case channel.BillPaid:
		snap := c.manager.Snapshot()
		if snap.HasValidSession && e.TableID != 0 && e.TableID == snap.Session.TableID {
			c.manager.InvalidateSession("bill paid")
		}
	}
}

// sync joins or leaves rooms so the channel follows the held session
func (c *Coordinator) sync() {
	snap := c.manager.Snapshot()
	connected := c.channel.Connected()

	var want *room
	if snap.HasValidSession {
		want = &room{tableID: snap.Session.TableID, sessionID: snap.SessionID}
	}

	c.mu.Lock()
	if !connected {
		c.joined = nil
		c.mu.Unlock()
		return
	}
	have := c.joined
	if sameRoom(have, want) {
		c.mu.Unlock()
		return
	}
	c.joined = want
	c.mu.Unlock()

	if have != nil && (want == nil || have.tableID != want.tableID) {
		if err := c.channel.LeaveTable(have.tableID); err != nil {
			c.logger.Debug().Err(err).Int("table_id", have.tableID).Msg("Leave table skipped")
		}
	}
	if want != nil {
		if err := c.channel.JoinTable(want.tableID, want.sessionID); err != nil {
			c.logger.Debug().Err(err).Int("table_id", want.tableID).Msg("Join table skipped")
			c.mu.Lock()
			if sameRoom(c.joined, want) {
				c.joined = nil
			}
			c.mu.Unlock()
		}
	}
}

func sameRoom(a, b *room) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
