// Package events streams session, connectivity and table events to the
// diner UI over Server-Sent Events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// message is either an event or an SSE comment
type message struct {
	event   *types.ServerEvent
	comment string
}

// Client represents a connected SSE client
type Client struct {
	ID       string
	Channel  chan message
	Writer   http.ResponseWriter
	Request  *http.Request
	Flusher  http.Flusher
	lastSeen atomic.Int64
}

// NewClient creates a new SSE client
func NewClient(id string, w http.ResponseWriter, r *http.Request) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	c := &Client{
		ID:      id,
		Channel: make(chan message, 100),
		Writer:  w,
		Request: r,
		Flusher: flusher,
	}
	c.touch()
	return c, nil
}

// LastSeen returns the time of the last successful write
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// EventBroadcaster manages Server-Sent Events broadcasting to multiple clients
type EventBroadcaster struct {
	clients       map[string]*Client
	eventChannel  chan *types.ServerEvent
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	heartbeatTick time.Duration
	clientTimeout time.Duration
	logger        zerolog.Logger
	done          sync.WaitGroup
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(logger zerolog.Logger) *EventBroadcaster {
	ctx, cancel := context.WithCancel(context.Background())

	return &EventBroadcaster{
		clients:       make(map[string]*Client),
		eventChannel:  make(chan *types.ServerEvent, 1000),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		ctx:           ctx,
		cancel:        cancel,
		heartbeatTick: 30 * time.Second,
		clientTimeout: 2 * time.Minute,
		logger:        logger,
	}
}

// SetHeartbeat overrides the heartbeat interval and stale client timeout.
// Call before Start.
func (eb *EventBroadcaster) SetHeartbeat(tick, timeout time.Duration) {
	eb.heartbeatTick = tick
	eb.clientTimeout = timeout
}

// Start begins the broadcaster's event loop
func (eb *EventBroadcaster) Start() {
	eb.done.Add(2)
	go eb.eventLoop()
	go eb.heartbeatLoop()
	eb.logger.Info().Msg("📡 Event broadcaster started")
}

// Stop shuts down the broadcaster
func (eb *EventBroadcaster) Stop() {
	eb.cancel()
	eb.done.Wait()

	eb.mu.Lock()
	for _, client := range eb.clients {
		close(client.Channel)
	}
	eb.clients = make(map[string]*Client)
	eb.mu.Unlock()

	eb.logger.Info().Msg("📡 Event broadcaster stopped")
}

// Broadcast sends an event to all connected clients
func (eb *EventBroadcaster) Broadcast(event *types.ServerEvent) {
	select {
	case eb.eventChannel <- event:
		eb.logger.Debug().Str("type", string(event.Type)).Msg("📢 Broadcasting event")
	default:
		eb.logger.Warn().Str("type", string(event.Type)).Msg("⚠️ Event channel full, dropping event")
	}
}

// RegisterClient adds a new SSE client
func (eb *EventBroadcaster) RegisterClient(client *Client) bool {
	select {
	case eb.register <- client:
		return true
	case <-eb.ctx.Done():
		eb.logger.Warn().Str("client_id", client.ID).Msg("⚠️ Cannot register client: broadcaster is shutting down")
		return false
	}
}

// UnregisterClient removes an SSE client
func (eb *EventBroadcaster) UnregisterClient(client *Client) {
	select {
	case eb.unregister <- client:
	case <-eb.ctx.Done():
	}
}

// GetClientCount returns the number of connected clients
func (eb *EventBroadcaster) GetClientCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.clients)
}

// eventLoop handles the main event broadcasting logic
func (eb *EventBroadcaster) eventLoop() {
	defer eb.done.Done()

	for {
		select {
		case <-eb.ctx.Done():
			return

		case client := <-eb.register:
			eb.mu.Lock()
			eb.clients[client.ID] = client
			total := len(eb.clients)
			eb.mu.Unlock()
			eb.logger.Info().Str("client_id", client.ID).Int("total", total).Msg("📡 Client connected")

			eb.queue(client, message{event: types.NewServerEvent(types.EventConnected)})

		case client := <-eb.unregister:
			eb.mu.Lock()
			if _, exists := eb.clients[client.ID]; exists {
				delete(eb.clients, client.ID)
				close(client.Channel)
			}
			total := len(eb.clients)
			eb.mu.Unlock()
			eb.logger.Info().Str("client_id", client.ID).Int("total", total).Msg("📡 Client disconnected")

		case event := <-eb.eventChannel:
			eb.mu.RLock()
			for _, client := range eb.clients {
				eb.queue(client, message{event: event})
			}
			count := len(eb.clients)
			eb.mu.RUnlock()

			if count > 0 {
				eb.logger.Debug().Int("clients", count).Str("type", string(event.Type)).Msg("📢 Event broadcasted")
			}
		}
	}
}

// heartbeatLoop sends periodic heartbeat comments and drops stale clients
func (eb *EventBroadcaster) heartbeatLoop() {
	defer eb.done.Done()

	ticker := time.NewTicker(eb.heartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case <-ticker.C:
			eb.sendHeartbeat()
			eb.cleanupStaleClients()
		}
	}
}

// sendHeartbeat queues an SSE comment, which does not trigger client events
func (eb *EventBroadcaster) sendHeartbeat() {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, client := range eb.clients {
		eb.queue(client, message{comment: "heartbeat"})
	}
}

// cleanupStaleClients removes clients that haven't been written to recently
func (eb *EventBroadcaster) cleanupStaleClients() {
	cutoff := time.Now().Add(-eb.clientTimeout)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, client := range eb.clients {
		if client.LastSeen().Before(cutoff) {
			eb.logger.Warn().Str("client_id", id).Msg("⚠️ Removing stale client")
			delete(eb.clients, id)
			close(client.Channel)
		}
	}
}

// queue must be called with mu held so the channel is not closed under it
func (eb *EventBroadcaster) queue(client *Client, msg message) {
	select {
	case client.Channel <- msg:
	default:
		// the client may catch up, keep it registered
		eb.logger.Warn().Str("client_id", client.ID).Msg("⚠️ Client event channel full, dropping event")
	}
}

// writeSSEEvent writes an SSE event to a client
func (eb *EventBroadcaster) writeSSEEvent(client *Client, event *types.ServerEvent, eventID int) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	sseMessage := fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", eventID, event.Type, string(data))
	if _, err := client.Writer.Write([]byte(sseMessage)); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}

	client.Flusher.Flush()
	client.touch()
	return nil
}

// writeSSEComment writes an SSE comment to a client
func (eb *EventBroadcaster) writeSSEComment(client *Client, comment string) error {
	if _, err := fmt.Fprintf(client.Writer, ":%s\n\n", comment); err != nil {
		return fmt.Errorf("failed to write SSE comment: %w", err)
	}

	client.Flusher.Flush()
	client.touch()
	return nil
}

// HandleSSE handles Server-Sent Events HTTP connections
func (eb *EventBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	client, err := NewClient(uuid.New().String(), w, r)
	if err != nil {
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	client.Flusher.Flush()

	if !eb.RegisterClient(client) {
		return
	}
	defer eb.UnregisterClient(client)

	eventID := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-eb.ctx.Done():
			return

		case msg, ok := <-client.Channel:
			if !ok {
				return
			}

			if msg.event == nil {
				err = eb.writeSSEComment(client, msg.comment)
			} else {
				eventID++
				err = eb.writeSSEEvent(client, msg.event, eventID)
			}
			if err != nil {
				eb.logger.Warn().Err(err).Str("client_id", client.ID).Msg("⚠️ Failed to send event to client")
				return
			}
		}
	}
}
