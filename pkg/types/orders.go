package types

import "time"

// Order status values used by the backend
const (
	OrderPending    = "PENDING"
	OrderInProgress = "IN_PROGRESS"
	OrderDone       = "DONE"
	OrderCancelled  = "CANCELLED"
)

// MenuItem mirrors the backend menu schema
type MenuItem struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description *string `json:"description"`
	FoodType    *string `json:"foodtype"`
	IsAvailable bool    `json:"isAvailable"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

// Order mirrors the backend order schema
type Order struct {
	ID         int         `json:"id"`
	TableID    int         `json:"tableId"`
	SessionID  *string     `json:"sessionId"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	QueuePos   *int        `json:"queuePos"`
	OrderItems []OrderItem `json:"orderItems"`
}

// OrderItem is one line of an order
type OrderItem struct {
	ID         int       `json:"id"`
	OrderID    int       `json:"orderId"`
	MenuItemID int       `json:"menuItemId"`
	Quantity   int       `json:"quantity"`
	Note       *string   `json:"note"`
	MenuItem   *MenuItem `json:"menuItem,omitempty"`
}

// Table mirrors the backend table schema
type Table struct {
	ID          int     `json:"id"`
	TableNumber int     `json:"tableNumber"`
	Status      *string `json:"status"`
	Capacity    int     `json:"capacity"`
}

// OrderLine is one cart line submitted by the diner UI
type OrderLine struct {
	MenuItemID int    `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note,omitempty"`
}

// CreateOrderRequest is sent to POST /orders
type CreateOrderRequest struct {
	TableID   int         `json:"tableId"`
	SessionID string      `json:"sessionId,omitempty"`
	Items     []OrderLine `json:"items"`
}
