package events

import (
	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
	"github.com/ferg-cod3s/tableside/kiosk/internal/session"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// ChannelSource delivers push channel events
type ChannelSource interface {
	Subscribe(fn func(channel.Event)) (cancel func())
}

// SessionSource delivers session state changes
type SessionSource interface {
	Watch(fn func(session.Change)) (cancel func())
}

// Forward broadcasts channel events and session changes until cancel is called
func (eb *EventBroadcaster) Forward(ch ChannelSource, sessions SessionSource) (cancel func()) {
	var cancels []func()
	if ch != nil {
		cancels = append(cancels, ch.Subscribe(func(ev channel.Event) {
			if se := FromChannelEvent(ev); se != nil {
				eb.Broadcast(se)
			}
		}))
	}
	if sessions != nil {
		cancels = append(cancels, sessions.Watch(func(c session.Change) {
			eb.Broadcast(FromSessionChange(c))
		}))
	}
	return func() {
		for _, fn := range cancels {
			fn()
		}
	}
}

// FromChannelEvent converts a push channel event for the UI. Room
// acknowledgements and errors are not forwarded.
func FromChannelEvent(ev channel.Event) *types.ServerEvent {
	switch e := ev.(type) {
	case channel.OrderCreated:
		return types.NewServerEvent(types.EventOrderCreated).
			WithTableID(e.TableID).WithOrder(e.OrderID, types.OrderPending).WithMessage(e.Message)
	case channel.OrderStatusUpdated:
		return types.NewServerEvent(types.EventOrderStatusUpdated).
			WithTableID(e.TableID).WithOrder(e.OrderID, e.Status).WithMessage(e.Message)
	case channel.BillCreated:
		return types.NewServerEvent(types.EventBillCreated).
			WithTableID(e.TableID).WithBill(e.BillID, e.TotalAmount).WithMessage(e.Message)
	case channel.BillUpdated:
		return types.NewServerEvent(types.EventBillUpdated).
			WithTableID(e.TableID).WithBill(e.BillID, e.TotalAmount).WithMessage(e.Message)
	case channel.BillPaid:
		return types.NewServerEvent(types.EventBillPaid).
			WithTableID(e.TableID).WithBill(e.BillID, nil).WithMessage(e.Message)
	case channel.StaffMessage:
		return types.NewServerEvent(types.EventStaffMessage).
			WithTableID(e.TableID).WithMessage(e.Message).WithKind(e.Type)
	case channel.SystemMessage:
		return types.NewServerEvent(types.EventSystemMessage).
			WithMessage(e.Message).WithKind(e.Type)
	case channel.TableStatusChanged:
		return types.NewServerEvent(types.EventTableStatus).
			WithTableID(e.TableID).WithStatus(e.Status)
	case channel.SessionEnded:
		se := types.NewServerEvent(types.EventSessionEnded).WithMessage(e.Reason)
		if e.SessionID != "" {
			se.WithSessionID(e.SessionID)
		}
		if e.TableID != 0 {
			se.WithTableID(e.TableID)
		}
		return se
	case channel.ConnectionChanged:
		return types.NewServerEvent(types.EventConnectionChanged).WithStatus(string(e.State))
	}
	return nil
}

// FromSessionChange converts a session state change for the UI
func FromSessionChange(c session.Change) *types.ServerEvent {
	cur := c.Current
	se := types.NewServerEvent(types.EventSessionChanged).
		WithStatus(string(cur.State)).
		WithValid(cur.HasValidSession)
	if cur.SessionID != "" {
		se.WithSessionID(cur.SessionID)
	}
	if cur.Session != nil {
		se.WithTableID(cur.Session.TableID)
	}
	return se
}
