package push

import (
	"fmt"

	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
)

const notificationIcon = "/favicon.ico"

// NotificationPayload represents the data sent in a push notification
type NotificationPayload struct {
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Icon      string                 `json:"icon,omitempty"`
	Tag       string                 `json:"tag,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`

	RequireInteraction bool `json:"requireInteraction,omitempty"`
}

// NotificationsFor maps a channel event to the notifications shown to the
// diner. Events that are not user facing map to nil.
func NotificationsFor(ev channel.Event) []*NotificationPayload {
	switch e := ev.(type) {
	case channel.OrderCreated:
		return one("Order Confirmed", e.Message, "order-confirmed", map[string]interface{}{"orderId": e.OrderID})
	case channel.OrderStatusUpdated:
		return one("Order Update", e.Message, "order-update", map[string]interface{}{"orderId": e.OrderID, "status": e.Status})
	case channel.BillCreated:
		return one("Bill Ready", withTotal(e.Message, "Total", e.TotalAmount), "bill-ready", map[string]interface{}{"billId": e.BillID})
	case channel.BillUpdated:
		return one("Bill Updated", withTotal(e.Message, "New total", e.TotalAmount), "bill-updated", map[string]interface{}{"billId": e.BillID})
	case channel.BillPaid:
		return []*NotificationPayload{
			payload("Payment Confirmed", e.Message, "payment-confirmed", map[string]interface{}{"billId": e.BillID}),
			payload("Session Completed", "Thank you for your payment! Your session has been completed.", "session-completed", nil),
		}
	case channel.StaffMessage:
		return one("Message from Staff", e.Message, "staff-message", nil)
	case channel.SystemMessage:
		return one("Restaurant Notice", e.Message, "restaurant-notice", nil)
	case channel.SessionEnded:
		body := e.Reason
		if body == "" {
			body = "Your session has been closed"
		}
		p := payload("Session Ended", body, "session-ended", nil)
		p.RequireInteraction = true
		return []*NotificationPayload{p}
	}
	return nil
}

// wants reports whether prefs allow notifications for ev
func wants(prefs NotificationPreferences, ev channel.Event) bool {
	switch ev.(type) {
	case channel.OrderCreated, channel.OrderStatusUpdated:
		return prefs.OrderUpdates
	case channel.BillCreated, channel.BillUpdated, channel.BillPaid:
		return prefs.BillUpdates
	case channel.StaffMessage, channel.SystemMessage:
		return prefs.StaffMessages
	case channel.SessionEnded:
		return prefs.SessionEvents
	}
	return false
}

func one(title, body, tag string, data map[string]interface{}) []*NotificationPayload {
	return []*NotificationPayload{payload(title, body, tag, data)}
}

func payload(title, body, tag string, data map[string]interface{}) *NotificationPayload {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["type"] = tag
	return &NotificationPayload{
		Title: title,
		Body:  body,
		Icon:  notificationIcon,
		Tag:   tag,
		Data:  data,
	}
}

func withTotal(message, label string, total *float64) string {
	if total == nil {
		return message
	}
	return fmt.Sprintf("%s %s: $%.2f", message, label, *total)
}
