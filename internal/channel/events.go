package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Inbound event names
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusUpdated = "order_status_updated"
	EventBillCreated        = "bill_created"
	EventBillUpdated        = "bill_updated"
	EventBillPaid           = "bill_paid"
	EventStaffMessage       = "staff_message"
	EventSystemMessage      = "system_message"
	EventTableStatusChanged = "table_status_changed"
	EventSessionEnded       = "session_ended"
	EventJoinedTable        = "joined_table"
	EventLeftTable          = "left_table"
	EventError              = "error"
	EventPong               = "pong"
)

// Outbound event names
const (
	EventJoinTable       = "join_table"
	EventLeaveTable      = "leave_table"
	EventMessageToStaff  = "customer_message_to_staff"
	EventPing            = "ping"
	eventConnectionState = "connection_changed"
)

// Frame is one JSON text message on the channel
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is implemented by every typed inbound event
type Event interface {
	EventName() string
}

type OrderCreated struct {
	OrderID   int
	TableID   int
	Message   string
	Timestamp time.Time
}

type OrderStatusUpdated struct {
	OrderID   int
	TableID   int
	Status    string
	Message   string
	Timestamp time.Time
}

type BillCreated struct {
	BillID      int
	TableID     int
	TotalAmount *float64
	Message     string
	Timestamp   time.Time
}

type BillUpdated struct {
	BillID      int
	TableID     int
	TotalAmount *float64
	Message     string
	Timestamp   time.Time
}

type BillPaid struct {
	BillID    int
	TableID   int
	Message   string
	Timestamp time.Time
}

type StaffMessage struct {
	TableID   int
	Message   string
	Type      string
	Timestamp time.Time
}

type SystemMessage struct {
	Message   string
	Type      string
	Timestamp time.Time
}

type TableStatusChanged struct {
	TableID   int
	Status    string
	Timestamp time.Time
}

// SessionEnded tells the table its session was closed server-side
type SessionEnded struct {
	SessionID string
	TableID   int
	Reason    string
	Timestamp time.Time
}

// JoinedTable acknowledges join_table
type JoinedTable struct {
	TableID   int
	SessionID string
}

// LeftTable acknowledges leave_table
type LeftTable struct {
	TableID int
}

// ServerError is an error event sent by the backend
type ServerError struct {
	Message string
}

// ConnectionChanged is published locally whenever the transport state changes
type ConnectionChanged struct {
	State     State
	Attempts  int
	Exhausted bool
}

func (OrderCreated) EventName() string { return EventOrderCreated }
func (OrderStatusUpdated) EventName() string { return EventOrderStatusUpdated }
func (BillCreated) EventName() string { return EventBillCreated }
func (BillUpdated) EventName() string { return EventBillUpdated }
func (BillPaid) EventName() string { return EventBillPaid }
func (StaffMessage) EventName() string { return EventStaffMessage }
func (SystemMessage) EventName() string { return EventSystemMessage }
func (TableStatusChanged) EventName() string { return EventTableStatusChanged }
func (SessionEnded) EventName() string { return EventSessionEnded }
func (JoinedTable) EventName() string { return EventJoinedTable }
func (LeftTable) EventName() string { return EventLeftTable }
func (ServerError) EventName() string { return EventError }
func (ConnectionChanged) EventName() string { return eventConnectionState }

// payload is the union of every inbound data field
type payload struct {
	OrderID     int       `json:"orderId"`
	BillID      int       `json:"billId"`
	TableID     int       `json:"tableId"`
	SessionID   string    `json:"sessionId"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	TotalAmount *float64  `json:"totalAmount"`
	Timestamp   timestamp `json:"timestamp"`
}

// timestamp accepts epoch milliseconds or an RFC 3339 string
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` || s == "0" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", str)
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

func (p payload) at(now time.Time) time.Time {
	if p.Timestamp.IsZero() {
		return now
	}
	return p.Timestamp.Time
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Decode turns a frame into a typed event, filling the default messages the
// diner UI shows. It returns nil for pong and for unknown events.
func Decode(f Frame, now time.Time) (Event, error) {
	if f.Event == EventError {
		return decodeError(f.Data), nil
	}

	var p payload
	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", f.Event, err)
		}
	}

	switch f.Event {
	case EventOrderCreated:
		return OrderCreated{
			OrderID:   p.OrderID,
			TableID:   p.TableID,
			Message:   orDefault(p.Message, "Your order has been received!"),
			Timestamp: p.at(now),
		}, nil
	case EventOrderStatusUpdated:
		return OrderStatusUpdated{
			OrderID:   p.OrderID,
			TableID:   p.TableID,
			Status:    p.Status,
			Message:   orDefault(p.Message, "Order status: "+p.Status),
			Timestamp: p.at(now),
		}, nil
	case EventBillCreated:
		return BillCreated{
			BillID:      p.BillID,
			TableID:     p.TableID,
			TotalAmount: p.TotalAmount,
			Message:     orDefault(p.Message, "Your bill is ready!"),
			Timestamp:   p.at(now),
		}, nil
	case EventBillUpdated:
		return BillUpdated{
			BillID:      p.BillID,
			TableID:     p.TableID,
			TotalAmount: p.TotalAmount,
			Message:     orDefault(p.Message, "Your bill has been updated"),
			Timestamp:   p.at(now),
		}, nil
	case EventBillPaid:
		return BillPaid{
			BillID:    p.BillID,
			TableID:   p.TableID,
			Message:   orDefault(p.Message, "Thank you for your payment!"),
			Timestamp: p.at(now),
		}, nil
	case EventStaffMessage:
		return StaffMessage{
			TableID:   p.TableID,
			Message:   p.Message,
			Type:      orDefault(p.Type, "info"),
			Timestamp: p.at(now),
		}, nil
	case EventSystemMessage:
		return SystemMessage{
			Message:   p.Message,
			Type:      orDefault(p.Type, "info"),
			Timestamp: p.at(now),
		}, nil
	case EventTableStatusChanged:
		return TableStatusChanged{
			TableID:   p.TableID,
			Status:    p.Status,
			Timestamp: p.at(now),
		}, nil
	case EventSessionEnded:
		return SessionEnded{
			SessionID: p.SessionID,
			TableID:   p.TableID,
			Reason:    p.Reason,
			Timestamp: p.at(now),
		}, nil
	case EventJoinedTable:
		return JoinedTable{TableID: p.TableID, SessionID: p.SessionID}, nil
	case EventLeftTable:
		return LeftTable{TableID: p.TableID}, nil
	default:
		return nil, nil
	}
}

// decodeError accepts either a bare string or an object with a message
func decodeError(data json.RawMessage) ServerError {
	var msg string
	if json.Unmarshal(data, &msg) == nil {
		return ServerError{Message: msg}
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
		return ServerError{Message: obj.Message}
	}
	return ServerError{Message: string(data)}
}
