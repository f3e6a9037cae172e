package channel

import (
	"sync"
	"time"
)

// BacklogLimit is the number of records kept per list
const BacklogLimit = 10

// OrderUpdate is a recorded order notification
type OrderUpdate struct {
	OrderID   int       `json:"orderId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BillUpdate is a recorded bill notification
type BillUpdate struct {
	BillID      int       `json:"billId"`
	TotalAmount *float64  `json:"totalAmount,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// StaffNotice is a recorded staff message
type StaffNotice struct {
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FromStaff bool      `json:"fromStaff"`
}

// Notifications is a copy of the backlog, newest first
type Notifications struct {
	OrderUpdates  []OrderUpdate `json:"orderUpdates"`
	BillUpdates   []BillUpdate  `json:"billUpdates"`
	StaffMessages []StaffNotice `json:"staffMessages"`
}

// Backlog keeps the most recent order, bill and staff records in memory
type Backlog struct {
	mu     sync.Mutex
	orders []OrderUpdate
	bills  []BillUpdate
	staff  []StaffNotice
}

// NewBacklog creates an empty backlog
func NewBacklog() *Backlog {
	return &Backlog{
		orders: []OrderUpdate{},
		bills:  []BillUpdate{},
		staff:  []StaffNotice{},
	}
}

// Record stores ev if it is an order, bill or staff event
func (b *Backlog) Record(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case OrderCreated:
		b.orders = prepend(b.orders, OrderUpdate{OrderID: e.OrderID, Status: "PENDING", Message: e.Message, Timestamp: e.Timestamp})
	case OrderStatusUpdated:
		b.orders = prepend(b.orders, OrderUpdate{OrderID: e.OrderID, Status: e.Status, Message: e.Message, Timestamp: e.Timestamp})
	case BillCreated:
		b.bills = prepend(b.bills, BillUpdate{BillID: e.BillID, TotalAmount: e.TotalAmount, Message: e.Message, Timestamp: e.Timestamp})
	case BillUpdated:
		b.bills = prepend(b.bills, BillUpdate{BillID: e.BillID, TotalAmount: e.TotalAmount, Message: e.Message, Timestamp: e.Timestamp})
	case BillPaid:
		b.bills = prepend(b.bills, BillUpdate{BillID: e.BillID, Message: e.Message, Timestamp: e.Timestamp})
	case StaffMessage:
		b.staff = prepend(b.staff, StaffNotice{Message: e.Message, Type: e.Type, Timestamp: e.Timestamp, FromStaff: true})
	default:
		return false
	}
	return true
}

// Snapshot returns a copy of all three lists
func (b *Backlog) Snapshot() Notifications {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Notifications{
		OrderUpdates:  append([]OrderUpdate{}, b.orders...),
		BillUpdates:   append([]BillUpdate{}, b.bills...),
		StaffMessages: append([]StaffNotice{}, b.staff...),
	}
}

// Clear empties all three lists
func (b *Backlog) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = []OrderUpdate{}
	b.bills = []BillUpdate{}
	b.staff = []StaffNotice{}
}

func prepend[T any](list []T, item T) []T {
	keep := len(list)
	if keep > BacklogLimit-1 {
		keep = BacklogLimit - 1
	}
	out := make([]T, 0, keep+1)
	out = append(out, item)
	return append(out, list[:keep]...)
}
