package push

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
)

// browserKeys returns subscription keys the way a browser would produce them
func browserKeys(t *testing.T) PushSubscriptionKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return PushSubscriptionKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

// pushEndpoint is a fake browser push service
type pushEndpoint struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	hits     map[string]int
}

func newPushEndpoint(statuses ...int) *pushEndpoint {
	e := &pushEndpoint{statuses: statuses, hits: make(map[string]int)}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.hits[r.URL.Path]++
		status := http.StatusCreated
		if len(e.statuses) > 0 {
			status = e.statuses[0]
			e.statuses = e.statuses[1:]
		}
		e.mu.Unlock()
		w.WriteHeader(status)
	}))
	return e
}

func (e *pushEndpoint) hitsFor(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits[path]
}

func newTestService(t *testing.T, store SubscriptionStore) *Service {
	t.Helper()
	keys, err := NewVAPIDKeyManager(t.TempDir()).GenerateKeys()
	require.NoError(t, err)

	service, err := NewService(keys, store, ServiceConfig{
		Subject:    "mailto:test@tableside.local",
		Attempts:   3,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(service.Close)
	return service
}

func subscribe(t *testing.T, store SubscriptionStore, endpoint, sessionID string, tableID int) *PushSubscription {
	t.Helper()
	sub := &PushSubscription{
		SessionID:   sessionID,
		TableID:     tableID,
		Endpoint:    endpoint,
		Keys:        browserKeys(t),
		Preferences: DefaultNotificationPreferences(),
	}
	_, err := store.Upsert(sub)
	require.NoError(t, err)
	return sub
}

func TestVAPIDKeyManager(t *testing.T) {
	t.Run("Generate VAPID Keys", func(t *testing.T) {
		manager := NewVAPIDKeyManager(t.TempDir())

		keys, err := manager.GenerateKeys()
		require.NoError(t, err)
		assert.NoError(t, manager.ValidateKeys(keys))
	})

	t.Run("Save and Load VAPID Keys", func(t *testing.T) {
		manager := NewVAPIDKeyManager(t.TempDir())

		generated, err := manager.GenerateKeys()
		require.NoError(t, err)
		require.NoError(t, manager.SaveKeys(generated))

		loaded, err := manager.LoadKeys()
		require.NoError(t, err)
		assert.Equal(t, generated, loaded)
	})

	t.Run("Get or Generate Keys", func(t *testing.T) {
		dir := t.TempDir()

		keys1, err := NewVAPIDKeyManager(dir).GetOrGenerateKeys()
		require.NoError(t, err)

		// a fresh manager reads the same keys back from disk
		keys2, err := NewVAPIDKeyManager(dir).GetOrGenerateKeys()
		require.NoError(t, err)
		assert.Equal(t, keys1, keys2)
	})

	t.Run("Corrupt Key File Is Not Replaced", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, vapidFile), []byte("{"), 0600))

		_, err := NewVAPIDKeyManager(dir).GetOrGenerateKeys()
		assert.Error(t, err)
	})

	t.Run("Validate Rejects Bad Keys", func(t *testing.T) {
		manager := NewVAPIDKeyManager(t.TempDir())
		keys, err := manager.GenerateKeys()
		require.NoError(t, err)

		assert.Error(t, manager.ValidateKeys(&VAPIDKeys{PrivateKey: keys.PrivateKey}))
		assert.Error(t, manager.ValidateKeys(&VAPIDKeys{PublicKey: keys.PublicKey}))
		assert.Error(t, manager.ValidateKeys(&VAPIDKeys{PublicKey: "c2hvcnQ", PrivateKey: keys.PrivateKey}))
		assert.Error(t, manager.ValidateKeys(&VAPIDKeys{PublicKey: keys.PublicKey, PrivateKey: "!!"}))
	})
}

func TestSubscriptionStore(t *testing.T) {
	t.Run("Upsert and Get Subscription", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		sub := subscribe(t, store, "https://push.example/a", "s1", 7)
		assert.NotEmpty(t, sub.ID)
		assert.False(t, sub.Created.IsZero())

		got, err := store.Get(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, 7, got.TableID)
	})

	t.Run("Known Endpoint Is Rebound", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		first := subscribe(t, store, "https://push.example/a", "s1", 7)

		again := &PushSubscription{SessionID: "s2", TableID: 9, Endpoint: first.Endpoint, Keys: browserKeys(t)}
		created, err := store.Upsert(again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, 1, store.Count())

		got, err := store.Get(first.ID)
		require.NoError(t, err)
		assert.Equal(t, "s2", got.SessionID)
		assert.Equal(t, 9, got.TableID)
	})

	t.Run("Lookups", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		subscribe(t, store, "https://push.example/a", "s1", 7)
		subscribe(t, store, "https://push.example/b", "s1", 7)
		subscribe(t, store, "https://push.example/c", "s2", 8)

		bySession, _ := store.GetBySession("s1")
		assert.Len(t, bySession, 2)
		byTable, _ := store.GetByTable(8)
		assert.Len(t, byTable, 1)
		all, _ := store.GetAll()
		assert.Len(t, all, 3)
		none, _ := store.GetByTable(99)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("Delete By Endpoint", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		sub := subscribe(t, store, "https://push.example/a", "s1", 7)

		require.NoError(t, store.DeleteByEndpoint(sub.Endpoint))
		_, err := store.Get(sub.ID)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
		assert.ErrorIs(t, store.DeleteByEndpoint(sub.Endpoint), ErrSubscriptionNotFound)
	})

	t.Run("Missing Fields", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		keys := PushSubscriptionKeys{P256dh: "p", Auth: "a"}

		for _, sub := range []*PushSubscription{
			{Endpoint: "https://push.example/a", Keys: keys},
			{SessionID: "s1", Keys: keys},
			{SessionID: "s1", Endpoint: "https://push.example/a"},
		} {
			_, err := store.Upsert(sub)
			assert.Error(t, err)
		}
		assert.Equal(t, 0, store.Count())
	})

	t.Run("Returned Copies Are Independent", func(t *testing.T) {
		store := NewInMemorySubscriptionStore()
		sub := subscribe(t, store, "https://push.example/a", "s1", 7)
		require.NoError(t, store.MarkAsUsed(sub.ID))

		got, _ := store.Get(sub.ID)
		require.NotNil(t, got.LastUsed)
		got.TableID = 99
		*got.LastUsed = time.Time{}

		again, _ := store.Get(sub.ID)
		assert.Equal(t, 7, again.TableID)
		assert.False(t, again.LastUsed.IsZero())
	})
}

func TestNotificationsFor(t *testing.T) {
	total := 42.5

	tests := []struct {
		name   string
		event  channel.Event
		titles []string
		body   string
	}{
		{"order created", channel.OrderCreated{OrderID: 1, Message: "Your order has been received!"}, []string{"Order Confirmed"}, "Your order has been received!"},
		{"order status", channel.OrderStatusUpdated{OrderID: 1, Status: "DONE", Message: "Ready"}, []string{"Order Update"}, "Ready"},
		{"bill created", channel.BillCreated{BillID: 2, TotalAmount: &total, Message: "Your bill is ready"}, []string{"Bill Ready"}, "Your bill is ready Total: $42.50"},
		{"bill updated", channel.BillUpdated{BillID: 2, TotalAmount: &total, Message: "Updated"}, []string{"Bill Updated"}, "Updated New total: $42.50"},
		{"bill updated without total", channel.BillUpdated{BillID: 2, Message: "Updated"}, []string{"Bill Updated"}, "Updated"},
		{"bill paid", channel.BillPaid{BillID: 2, TableID: 7, Message: "Thank you for your payment!"}, []string{"Payment Confirmed", "Session Completed"}, "Thank you for your payment!"},
		{"staff message", channel.StaffMessage{Message: "Your drinks are coming"}, []string{"Message from Staff"}, "Your drinks are coming"},
		{"system message", channel.SystemMessage{Message: "Kitchen closes at 10"}, []string{"Restaurant Notice"}, "Kitchen closes at 10"},
		{"session ended", channel.SessionEnded{TableID: 7, Reason: "Table closed"}, []string{"Session Ended"}, "Table closed"},
		{"session ended without reason", channel.SessionEnded{TableID: 7}, []string{"Session Ended"}, "Your session has been closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads := NotificationsFor(tt.event)
			require.Len(t, payloads, len(tt.titles))
			for i, title := range tt.titles {
				assert.Equal(t, title, payloads[i].Title)
				assert.Equal(t, notificationIcon, payloads[i].Icon)
				assert.Equal(t, payloads[i].Tag, payloads[i].Data["type"])
			}
			assert.Equal(t, tt.body, payloads[0].Body)
		})
	}

	assert.Nil(t, NotificationsFor(channel.JoinedTable{TableID: 7}))
	assert.Nil(t, NotificationsFor(channel.ConnectionChanged{State: channel.StateConnected}))
	assert.Nil(t, NotificationsFor(channel.TableStatusChanged{TableID: 7, Status: "FREE"}))
}

func TestPushService(t *testing.T) {
	t.Run("Requires Keys", func(t *testing.T) {
		_, err := NewService(nil, NewInMemorySubscriptionStore(), ServiceConfig{}, zerolog.Nop())
		assert.Error(t, err)
		_, err = NewService(&VAPIDKeys{PublicKey: "x"}, NewInMemorySubscriptionStore(), ServiceConfig{}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("Delivers And Marks Used", func(t *testing.T) {
		endpoint := newPushEndpoint()
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		sub := subscribe(t, store, endpoint.URL+"/a", "s1", 7)

		err := service.Send(context.Background(), sub, NotificationsFor(channel.StaffMessage{TableID: 7, Message: "hi"})[0])
		require.NoError(t, err)
		assert.Equal(t, 1, endpoint.hitsFor("/a"))
		assert.Equal(t, int64(1), service.GetStats().TotalSent)

		got, _ := store.Get(sub.ID)
		assert.NotNil(t, got.LastUsed)
	})

	t.Run("Retries Transient Failures", func(t *testing.T) {
		endpoint := newPushEndpoint(http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusCreated)
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		sub := subscribe(t, store, endpoint.URL+"/a", "s1", 7)

		require.NoError(t, service.Send(context.Background(), sub, &NotificationPayload{Title: "t"}))
		assert.Equal(t, 3, endpoint.hitsFor("/a"))
		assert.Equal(t, int64(2), service.GetStats().TotalRetries)
	})

	t.Run("Gone Subscription Is Removed", func(t *testing.T) {
		endpoint := newPushEndpoint(http.StatusGone)
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		sub := subscribe(t, store, endpoint.URL+"/a", "s1", 7)

		err := service.Send(context.Background(), sub, &NotificationPayload{Title: "t"})
		assert.ErrorIs(t, err, ErrSubscriptionGone)
		assert.Equal(t, 1, endpoint.hitsFor("/a"))
		assert.Equal(t, 0, store.Count())
		assert.Equal(t, int64(1), service.GetStats().TotalFailed)
	})

	t.Run("Rejected Notification Is Not Retried", func(t *testing.T) {
		endpoint := newPushEndpoint(http.StatusBadRequest)
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		sub := subscribe(t, store, endpoint.URL+"/a", "s1", 7)

		assert.Error(t, service.Send(context.Background(), sub, &NotificationPayload{Title: "t"}))
		assert.Equal(t, 1, endpoint.hitsFor("/a"))
		assert.Equal(t, 1, store.Count())
	})

	t.Run("Notify Targets Table And Preferences", func(t *testing.T) {
		endpoint := newPushEndpoint()
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)

		subscribe(t, store, endpoint.URL+"/here", "s1", 7)
		subscribe(t, store, endpoint.URL+"/elsewhere", "s2", 8)
		muted := &PushSubscription{
			SessionID:   "s1",
			TableID:     7,
			Endpoint:    endpoint.URL + "/muted",
			Keys:        browserKeys(t),
			Preferences: NotificationPreferences{OrderUpdates: true},
		}
		_, err := store.Upsert(muted)
		require.NoError(t, err)

		ev := channel.BillPaid{BillID: 2, TableID: 7, Message: "Thank you for your payment!"}
		sent := service.Notify(context.Background(), ev, NotificationsFor(ev))

		assert.Equal(t, 2, sent)
		assert.Equal(t, 2, endpoint.hitsFor("/here"))
		assert.Equal(t, 0, endpoint.hitsFor("/elsewhere"))
		assert.Equal(t, 0, endpoint.hitsFor("/muted"))
	})

	t.Run("Session Ended Targets Session", func(t *testing.T) {
		endpoint := newPushEndpoint()
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		subscribe(t, store, endpoint.URL+"/s1", "s1", 7)
		subscribe(t, store, endpoint.URL+"/s2", "s2", 7)

		ev := channel.SessionEnded{SessionID: "s2", Reason: "Table closed"}
		assert.Equal(t, 1, service.Notify(context.Background(), ev, NotificationsFor(ev)))
		assert.Equal(t, 1, endpoint.hitsFor("/s2"))

		assert.Equal(t, 0, service.Notify(context.Background(), channel.SessionEnded{}, NotificationsFor(channel.SessionEnded{})))
	})

	t.Run("Forward Delivers Channel Events", func(t *testing.T) {
		endpoint := newPushEndpoint()
		defer endpoint.Close()
		store := NewInMemorySubscriptionStore()
		service := newTestService(t, store)
		subscribe(t, store, endpoint.URL+"/a", "s1", 7)

		src := &eventSource{}
		cancel := service.Forward(src)
		src.emit(channel.SystemMessage{Message: "Kitchen closes at 10"})
		src.emit(channel.JoinedTable{TableID: 7})
		service.Wait()
		assert.Equal(t, 1, endpoint.hitsFor("/a"))

		cancel()
		src.emit(channel.SystemMessage{Message: "again"})
		service.Wait()
		assert.Equal(t, 1, endpoint.hitsFor("/a"))
	})
}

type eventSource struct {
	mu  sync.Mutex
	fns []func(channel.Event)
}

func (s *eventSource) Subscribe(fn func(channel.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
	idx := len(s.fns) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fns[idx] = nil
	}
}

func (s *eventSource) emit(ev channel.Event) {
	s.mu.Lock()
	fns := append([](func(channel.Event))(nil), s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(ev)
		}
	}
}

func TestPushHandlers(t *testing.T) {
	setup := func(t *testing.T, current CurrentSession) (*mux.Router, *InMemorySubscriptionStore) {
		t.Helper()
		store := NewInMemorySubscriptionStore()
		manager := NewVAPIDKeyManager(t.TempDir())
		handler := NewPushHandler(newTestService(t, store), manager, store, current, zerolog.Nop())
		router := mux.NewRouter()
		handler.RegisterRoutes(router)
		return router, store
	}
	withSession := func() (string, int, bool) { return "s1", 7, true }
	noSession := func() (string, int, bool) { return "", 0, false }

	do := func(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("VAPID Public Key", func(t *testing.T) {
		router, _ := setup(t, withSession)
		rec := do(router, "GET", "/api/push/vapid-public-key", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["publicKey"])
	})

	t.Run("Subscribe Requires Session", func(t *testing.T) {
		router, store := setup(t, noSession)
		rec := do(router, "POST", "/api/push/subscribe", SubscriptionRequest{
			Endpoint: "https://push.example/a",
			Keys:     browserKeys(t),
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, store.Count())
	})

	t.Run("Subscribe Then Resubscribe", func(t *testing.T) {
		router, store := setup(t, withSession)
		req := SubscriptionRequest{Endpoint: "https://push.example/a", Keys: browserKeys(t)}

		assert.Equal(t, http.StatusCreated, do(router, "POST", "/api/push/subscribe", req).Code)
		assert.Equal(t, http.StatusOK, do(router, "POST", "/api/push/subscribe", req).Code)

		subs, _ := store.GetByTable(7)
		require.Len(t, subs, 1)
		assert.Equal(t, "s1", subs[0].SessionID)
		assert.Equal(t, DefaultNotificationPreferences(), subs[0].Preferences)
	})

	t.Run("Subscribe Validation", func(t *testing.T) {
		router, _ := setup(t, withSession)
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/api/push/subscribe", SubscriptionRequest{Endpoint: "https://push.example/a"}).Code)

		req := httptest.NewRequest("POST", "/api/push/subscribe", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		router, store := setup(t, withSession)
		req := SubscriptionRequest{Endpoint: "https://push.example/a", Keys: browserKeys(t)}
		do(router, "POST", "/api/push/subscribe", req)

		body := map[string]string{"endpoint": req.Endpoint}
		assert.Equal(t, http.StatusOK, do(router, "POST", "/api/push/unsubscribe", body).Code)
		assert.Equal(t, 0, store.Count())
		assert.Equal(t, http.StatusNotFound, do(router, "POST", "/api/push/unsubscribe", body).Code)
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/api/push/unsubscribe", map[string]string{}).Code)
	})

	t.Run("Status", func(t *testing.T) {
		router, store := setup(t, withSession)
		subscribe(t, store, "https://push.example/a", "s1", 7)

		rec := do(router, "GET", "/api/push/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["vapidKeysReady"])
		assert.Equal(t, float64(1), resp["subscriptions"])
	})

}
