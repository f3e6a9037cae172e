// Package channel maintains the push connection to the backend and exposes
// its events as typed values.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
)

// State is the transport state of the channel
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned by outbound operations while the channel is down
var ErrNotConnected = errors.New("channel not connected")

// Options configures a Client
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Backoff          BackoffPolicy
	Clock            clock.Clock
	Header           http.Header
	Logger           zerolog.Logger
}

// Status describes the connection for the connectivity indicator
type Status struct {
	ClientID  string    `json:"clientId"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Exhausted bool      `json:"exhausted"`
	LastPong  time.Time `json:"lastPong,omitempty"`
}

// Client is the push channel client. Every connection attempt gets a new
// generation; goroutines and timers of older generations are ignored.
type Client struct {
	opts    Options
	id      string
	clock   clock.Clock
	dialer  *websocket.Dialer
	logger  zerolog.Logger
	backlog *Backlog

	mu         sync.Mutex
	gen        uint64
	state      State
	conn       *websocket.Conn
	attempts   int
	exhausted  bool
	closed     bool
	lastPong   time.Time
	retryTimer clock.Timer
	pingTimer  clock.Timer
	dialCancel context.CancelFunc

	writeMu sync.Mutex

	subsMu  sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	wg sync.WaitGroup
}

// NewClient creates a disconnected client. Call Start to connect.
func NewClient(opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Backoff.BaseDelay <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	return &Client{
		opts:  opts,
		id:    uuid.New().String(),
		clock: opts.Clock,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger:  opts.Logger,
		backlog: NewBacklog(),
		state:   StateDisconnected,
		subs:    make(map[int]func(Event)),
	}
}

// ID returns the client identifier sent in the X-Client-ID header
func (c *Client) ID() string {
	return c.id
}

// Start begins connecting in the background
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected || c.retryTimer != nil {
		return
	}
	c.closed = false
	c.beginAttemptLocked()
}

// Reconnect tears down the current connection and timers, resets the
// attempt counter and dials immediately
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.teardownLocked()
	c.closed = false
	c.attempts = 0
	c.exhausted = false
	c.beginAttemptLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("🔄 Explicit reconnect requested")
	c.publish(c.connectionEvent())
}

// Close disconnects without scheduling a reconnect and waits for the
// connection goroutines to exit. It must not be called from a subscriber.
func (c *Client) Close() {
	c.mu.Lock()
	wasDown := c.state == StateDisconnected && c.retryTimer == nil
	c.closed = true
	c.teardownLocked()
	c.mu.Unlock()

	c.wg.Wait()
	if !wasDown {
		c.logger.Info().Msg("🔌 Channel closed")
		c.publish(c.connectionEvent())
	}
}

// Status returns the current connection status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		ClientID:  c.id,
		State:     c.state,
		Attempts:  c.attempts,
		Exhausted: c.exhausted,
		LastPong:  c.lastPong,
	}
}

// Connected reports whether the channel is currently connected
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// Subscribe registers fn for every inbound event and connection change.
// fn runs on a channel goroutine and must not block.
func (c *Client) Subscribe(fn func(Event)) (cancel func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// Notifications returns the recorded order, bill and staff backlog
func (c *Client) Notifications() Notifications {
	return c.backlog.Snapshot()
}

// ClearNotifications empties the backlog
func (c *Client) ClearNotifications() {
	c.backlog.Clear()
}

// JoinTable subscribes this device to the table room
func (c *Client) JoinTable(tableID int, sessionID string) error {
	data := struct {
		TableID   int    `json:"tableId"`
		SessionID string `json:"sessionId,omitempty"`
	}{tableID, sessionID}
	if err := c.emit(EventJoinTable, data); err != nil {
		return err
	}
	c.logger.Info().Int("table_id", tableID).Str("session_id", sessionID).Msg("🍽️ Joining table")
	return nil
}

// LeaveTable unsubscribes from the table room
func (c *Client) LeaveTable(tableID int) error {
	data := struct {
		TableID int `json:"tableId"`
	}{tableID}
	if err := c.emit(EventLeaveTable, data); err != nil {
		return err
	}
	c.logger.Info().Int("table_id", tableID).Msg("🍽️ Leaving table")
	return nil
}

// SendMessageToStaff forwards a diner message to the staff dashboard
func (c *Client) SendMessageToStaff(tableID int, message, kind string) error {
	if kind == "" {
		kind = "info"
	}
	data := struct {
		TableID int    `json:"tableId"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}{tableID, message, kind}
	if err := c.emit(EventMessageToStaff, data); err != nil {
		return err
	}
	c.logger.Info().Int("table_id", tableID).Msg("💬 Sent message to staff")
	return nil
}

func (c *Client) emit(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return c.write(conn, Frame{Event: event, Data: raw})
}

func (c *Client) write(conn *websocket.Conn, f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Event, err)
	}
	return nil
}

// beginAttemptLocked starts a new generation and dials it
func (c *Client) beginAttemptLocked() {
	c.gen++
	gen := c.gen
	c.retryTimer = nil
	c.state = StateConnecting

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	c.dialCancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.dial(ctx, gen)
	}()
}

// teardownLocked invalidates the current generation and releases its resources
func (c *Client) teardownLocked() {
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Client) dial(ctx context.Context, gen uint64) {
	header := http.Header{}
	for k, v := range c.opts.Header {
		header[k] = v
	}
	header.Set("X-Client-ID", c.id)

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("url", c.opts.URL).Msg("❌ Channel connection error")
		c.handleDrop(gen, err)
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.exhausted = false
	c.dialCancel = nil
	c.lastPong = c.clock.Now()
	c.schedulePingLocked(gen)
	c.mu.Unlock()

	c.logger.Info().Str("client_id", c.id).Msg("✅ Connected to push channel")
	c.publish(c.connectionEvent())

	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed channel frame")
			continue
		}

		if f.Event == EventPong {
			c.mu.Lock()
			if gen == c.gen {
				c.lastPong = c.clock.Now()
			}
			c.mu.Unlock()
			continue
		}

		ev, err := Decode(f, c.clock.Now())
		if err != nil {
			c.logger.Warn().Err(err).Str("event", f.Event).Msg("Ignoring undecodable channel event")
			continue
		}
		if ev == nil {
			c.logger.Debug().Str("event", f.Event).Msg("Ignoring unknown channel event")
			continue
		}

		if !c.current(gen) {
			return
		}
		c.backlog.Record(ev)
		c.logEvent(ev)
		c.publish(ev)
	}
}

// handleDrop moves a live generation to disconnected and schedules the next
// attempt while the backoff policy allows it
func (c *Client) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	wasConnected := c.state == StateConnected
	c.teardownLocked()

	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.opts.Backoff.Exhausted(c.attempts) {
		c.exhausted = true
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Error().Int("attempts", attempts).Msg("❌ Channel reconnect attempts exhausted")
		c.publish(c.connectionEvent())
		return
	}

	delay := c.opts.Backoff.Delay(c.attempts)
	c.attempts++
	next := c.gen
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if next != c.gen || c.closed {
			return
		}
		c.beginAttemptLocked()
	})
	attempts := c.attempts
	c.mu.Unlock()

	if wasConnected {
		c.logger.Warn().Err(cause).Msg("❌ Disconnected from push channel")
	}
	c.logger.Info().Int("attempt", attempts).Dur("delay", delay).Msg("🔄 Scheduling channel reconnect")
	c.publish(c.connectionEvent())
}

func (c *Client) schedulePingLocked(gen uint64) {
	c.pingTimer = c.clock.AfterFunc(c.opts.PingInterval, func() {
		c.ping(gen)
	})
}

// ping sends a keep-alive and drops the connection when no pong has been
// seen for two intervals
func (c *Client) ping(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	silent := c.clock.Now().Sub(c.lastPong)
	c.mu.Unlock()

	if silent > 2*c.opts.PingInterval {
		c.logger.Warn().Dur("silent", silent).Msg("⚠️ No pong from push channel, dropping connection")
		conn.Close()
		return
	}

	if err := c.write(conn, Frame{Event: EventPing}); err != nil {
		c.logger.Warn().Err(err).Msg("Channel ping failed")
		conn.Close()
		return
	}

	c.mu.Lock()
	if gen == c.gen && c.state == StateConnected {
		c.schedulePingLocked(gen)
	}
	c.mu.Unlock()
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) connectionEvent() ConnectionChanged {
	s := c.Status()
	return ConnectionChanged{State: s.State, Attempts: s.Attempts, Exhausted: s.Exhausted}
}

func (c *Client) publish(ev Event) {
	c.subsMu.RLock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Client) logEvent(ev Event) {
	switch e := ev.(type) {
	case OrderCreated:
		c.logger.Info().Int("order_id", e.OrderID).Msg("📋 Order confirmation received")
	case OrderStatusUpdated:
		c.logger.Info().Int("order_id", e.OrderID).Str("status", e.Status).Msg("📋 Order status updated")
	case BillCreated, BillUpdated, BillPaid:
		c.logger.Info().Str("event", ev.EventName()).Msg("💰 Bill event received")
	case StaffMessage:
		c.logger.Info().Str("type", e.Type).Msg("💬 Message from staff")
	case SystemMessage:
		c.logger.Info().Msg("📢 System message")
	case SessionEnded:
		c.logger.Info().Str("session_id", e.SessionID).Int("table_id", e.TableID).Str("reason", e.Reason).Msg("🛑 Session ended by server")
	case JoinedTable:
		c.logger.Info().Int("table_id", e.TableID).Msg("🍽️ Joined table room")
	case LeftTable:
		c.logger.Info().Int("table_id", e.TableID).Msg("🍽️ Left table room")
	case ServerError:
		c.logger.Error().Str("message", e.Message).Msg("🔴 Channel error event")
	default:
		c.logger.Debug().Str("event", ev.EventName()).Msg("Channel event")
	}
}
