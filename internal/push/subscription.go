package push

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSubscriptionNotFound is returned for unknown ids and endpoints
var ErrSubscriptionNotFound = errors.New("subscription not found")

// PushSubscription is one browser subscribed on behalf of a table session
type PushSubscription struct {
	ID          string                  `json:"id"`
	SessionID   string                  `json:"sessionId"`
	TableID     int                     `json:"tableId"`
	Endpoint    string                  `json:"endpoint"`
	Keys        PushSubscriptionKeys    `json:"keys"`
	Preferences NotificationPreferences `json:"preferences"`
	Created     time.Time               `json:"created"`
	LastUsed    *time.Time              `json:"lastUsed,omitempty"`
}

// PushSubscriptionKeys contains the encryption keys for the subscription
type PushSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// NotificationPreferences selects which table events are pushed
type NotificationPreferences struct {
	OrderUpdates  bool `json:"orderUpdates"`
	BillUpdates   bool `json:"billUpdates"`
	StaffMessages bool `json:"staffMessages"`
	SessionEvents bool `json:"sessionEvents"`
}

// DefaultNotificationPreferences enables everything
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		OrderUpdates:  true,
		BillUpdates:   true,
		StaffMessages: true,
		SessionEvents: true,
	}
}

// SubscriptionStore manages push subscriptions
type SubscriptionStore interface {
	Upsert(subscription *PushSubscription) (created bool, err error)
	Get(id string) (*PushSubscription, error)
	GetAll() ([]*PushSubscription, error)
	GetBySession(sessionID string) ([]*PushSubscription, error)
	GetByTable(tableID int) ([]*PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
	MarkAsUsed(id string) error
	Count() int
}

// InMemorySubscriptionStore is an in-memory implementation of SubscriptionStore
type InMemorySubscriptionStore struct {
	subscriptions map[string]*PushSubscription
	endpointIndex map[string]string // endpoint -> subscription ID
	mu            sync.RWMutex
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subscriptions: make(map[string]*PushSubscription),
		endpointIndex: make(map[string]string),
	}
}

// Upsert stores a subscription. A known endpoint is rebound to the new
// session and keys and keeps its id.
func (s *InMemorySubscriptionStore) Upsert(subscription *PushSubscription) (bool, error) {
	if subscription.SessionID == "" {
		return false, fmt.Errorf("session ID is required")
	}
	if subscription.Endpoint == "" {
		return false, fmt.Errorf("endpoint is required")
	}
	if subscription.Keys.P256dh == "" || subscription.Keys.Auth == "" {
		return false, fmt.Errorf("encryption keys are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.endpointIndex[subscription.Endpoint]; exists {
		subscription.ID = id
		subscription.Created = s.subscriptions[id].Created
		s.subscriptions[id] = copySubscription(subscription)
		return false, nil
	}

	if subscription.ID == "" {
		subscription.ID = uuid.New().String()
	}
	if subscription.Created.IsZero() {
		subscription.Created = time.Now()
	}
	s.subscriptions[subscription.ID] = copySubscription(subscription)
	s.endpointIndex[subscription.Endpoint] = subscription.ID
	return true, nil
}

// Get retrieves a subscription by ID
func (s *InMemorySubscriptionStore) Get(id string) (*PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscription, exists := s.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return copySubscription(subscription), nil
}

// GetAll retrieves all subscriptions
func (s *InMemorySubscriptionStore) GetAll() ([]*PushSubscription, error) {
	return s.filter(func(*PushSubscription) bool { return true }), nil
}

// GetBySession retrieves all subscriptions made under a session
func (s *InMemorySubscriptionStore) GetBySession(sessionID string) ([]*PushSubscription, error) {
	return s.filter(func(sub *PushSubscription) bool { return sub.SessionID == sessionID }), nil
}

// GetByTable retrieves all subscriptions made at a table
func (s *InMemorySubscriptionStore) GetByTable(tableID int) ([]*PushSubscription, error) {
	return s.filter(func(sub *PushSubscription) bool { return sub.TableID == tableID }), nil
}

func (s *InMemorySubscriptionStore) filter(keep func(*PushSubscription) bool) []*PushSubscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscriptions := make([]*PushSubscription, 0)
	for _, subscription := range s.subscriptions {
		if keep(subscription) {
			subscriptions = append(subscriptions, copySubscription(subscription))
		}
	}
	return subscriptions
}

// DeleteByEndpoint removes a subscription by endpoint
func (s *InMemorySubscriptionStore) DeleteByEndpoint(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.endpointIndex[endpoint]
	if !exists {
		return fmt.Errorf("%w for endpoint: %s", ErrSubscriptionNotFound, endpoint)
	}
	delete(s.subscriptions, id)
	delete(s.endpointIndex, endpoint)
	return nil
}

// MarkAsUsed updates the last used timestamp
func (s *InMemorySubscriptionStore) MarkAsUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscription, exists := s.subscriptions[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	now := time.Now()
	subscription.LastUsed = &now
	return nil
}

// Count returns the number of stored subscriptions
func (s *InMemorySubscriptionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions)
}

func copySubscription(sub *PushSubscription) *PushSubscription {
	c := *sub
	if sub.LastUsed != nil {
		lastUsed := *sub.LastUsed
		c.LastUsed = &lastUsed
	}
	return &c
}

// SubscriptionRequest is the browser PushSubscription JSON plus preferences
type SubscriptionRequest struct {
	Endpoint    string                   `json:"endpoint"`
	Keys        PushSubscriptionKeys     `json:"keys"`
	Preferences *NotificationPreferences `json:"preferences,omitempty"`
}

// ToSubscription binds the request to a table session
func (sr *SubscriptionRequest) ToSubscription(sessionID string, tableID int) *PushSubscription {
	prefs := DefaultNotificationPreferences()
	if sr.Preferences != nil {
		prefs = *sr.Preferences
	}
	return &PushSubscription{
		SessionID:   sessionID,
		TableID:     tableID,
		Endpoint:    sr.Endpoint,
		Keys:        sr.Keys,
		Preferences: prefs,
	}
}

// Validate checks if the subscription request is valid
func (sr *SubscriptionRequest) Validate() error {
	if sr.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sr.Keys.P256dh == "" {
		return fmt.Errorf("p256dh key is required")
	}
	if sr.Keys.Auth == "" {
		return fmt.Errorf("auth key is required")
	}
	return nil
}
