package types

import (
	"time"
)

// ServerEventType defines the types of events streamed to the diner UI via SSE
type ServerEventType string

const (
	// Session lifecycle events
	EventSessionChanged ServerEventType = "session-changed"
	EventSessionEnded   ServerEventType = "session-ended"

	// Order and bill events
	EventOrderCreated       ServerEventType = "order-created"
	EventOrderStatusUpdated ServerEventType = "order-status-updated"
	EventBillCreated        ServerEventType = "bill-created"
	EventBillUpdated        ServerEventType = "bill-updated"
	EventBillPaid           ServerEventType = "bill-paid"

	// Messages
	EventStaffMessage  ServerEventType = "staff-message"
	EventSystemMessage ServerEventType = "system-message"
	EventTableStatus   ServerEventType = "table-status-changed"

	// Connectivity events
	EventConnected         ServerEventType = "connected"
	EventConnectionChanged ServerEventType = "connection-changed"

	// Server events
	EventHeartbeat      ServerEventType = "heartbeat"
	EventServerShutdown ServerEventType = "server-shutdown"
)

// ServerEvent represents an event that can be broadcast via Server-Sent Events
type ServerEvent struct {
	Type      ServerEventType `json:"type"`
	SessionID *string         `json:"sessionId,omitempty"`
	TableID   *int            `json:"tableId,omitempty"`
	OrderID   *int            `json:"orderId,omitempty"`
	BillID    *int            `json:"billId,omitempty"`
	Status    *string         `json:"status,omitempty"`
	Amount    *float64        `json:"totalAmount,omitempty"`
	Message   *string         `json:"message,omitempty"`
	Kind      *string         `json:"kind,omitempty"`
	Valid     *bool           `json:"hasValidSession,omitempty"`
	Timestamp string          `json:"timestamp"` // ISO 8601 format
}

// NewServerEvent creates a new server event with the current timestamp
func NewServerEvent(eventType ServerEventType) *ServerEvent {
	return &ServerEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// WithSessionID adds session ID to the event
func (e *ServerEvent) WithSessionID(sessionID string) *ServerEvent {
	e.SessionID = &sessionID
	return e
}

// WithTableID adds table ID to the event
func (e *ServerEvent) WithTableID(tableID int) *ServerEvent {
	e.TableID = &tableID
	return e
}

// WithOrder adds order ID and status to the event
func (e *ServerEvent) WithOrder(orderID int, status string) *ServerEvent {
	e.OrderID = &orderID
	if status != "" {
		e.Status = &status
	}
	return e
}

// WithBill adds bill ID and optional total to the event
func (e *ServerEvent) WithBill(billID int, amount *float64) *ServerEvent {
	e.BillID = &billID
	e.Amount = amount
	return e
}

// WithStatus adds a status string to the event
func (e *ServerEvent) WithStatus(status string) *ServerEvent {
	e.Status = &status
	return e
}

// WithMessage adds message to the event
func (e *ServerEvent) WithMessage(message string) *ServerEvent {
	e.Message = &message
	return e
}

// WithKind adds a message kind (info, warning, ...) to the event
func (e *ServerEvent) WithKind(kind string) *ServerEvent {
	e.Kind = &kind
	return e
}

// WithValid adds the session validity flag to the event
func (e *ServerEvent) WithValid(valid bool) *ServerEvent {
	e.Valid = &valid
	return e
}
