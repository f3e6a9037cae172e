package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
)

// ErrSubscriptionGone is returned when the push service no longer knows the
// endpoint; the subscription is removed
var ErrSubscriptionGone = errors.New("push subscription expired")

// ServiceConfig contains configuration for the push service
type ServiceConfig struct {
	// Subject is the VAPID contact, a mailto: or https: URL
	Subject string
	// TTL is how long, in seconds, the push service keeps undelivered messages
	TTL         int
	Urgency     webpush.Urgency
	Attempts    uint
	RetryDelay  time.Duration
	SendTimeout time.Duration
	HTTPClient  webpush.HTTPClient
}

// DefaultServiceConfig returns the settings used by the kiosk
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Subject:     "mailto:kiosk@tableside.local",
		TTL:         3600,
		Urgency:     webpush.UrgencyHigh,
		Attempts:    3,
		RetryDelay:  2 * time.Second,
		SendTimeout: 30 * time.Second,
	}
}

// Stats tracks notification sending statistics
type Stats struct {
	TotalSent    int64      `json:"totalSent"`
	TotalFailed  int64      `json:"totalFailed"`
	TotalRetries int64      `json:"totalRetries"`
	LastSent     *time.Time `json:"lastSent,omitempty"`
	LastError    *time.Time `json:"lastError,omitempty"`
}

// ChannelSource delivers push channel events
type ChannelSource interface {
	Subscribe(fn func(channel.Event)) (cancel func())
}

// Service sends Web Push notifications for table events
type Service struct {
	keys   *VAPIDKeys
	store  SubscriptionStore
	config ServiceConfig
	logger zerolog.Logger

	stats      Stats
	statsMutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a push notification service
func NewService(keys *VAPIDKeys, store SubscriptionStore, config ServiceConfig, logger zerolog.Logger) (*Service, error) {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil, fmt.Errorf("VAPID keys are required")
	}
	defaults := DefaultServiceConfig()
	if config.Subject == "" {
		config.Subject = defaults.Subject
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.Urgency == "" {
		config.Urgency = defaults.Urgency
	}
	if config.Attempts == 0 {
		config.Attempts = defaults.Attempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		keys:   keys,
		store:  store,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Forward turns channel events into notifications until cancel is called.
// Delivery runs in the background so the channel is never blocked.
func (s *Service) Forward(ch ChannelSource) (cancel func()) {
	return ch.Subscribe(func(ev channel.Event) {
		payloads := NotificationsFor(ev)
		if len(payloads) == 0 {
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.config.SendTimeout)
			defer cancel()
			s.Notify(ctx, ev, payloads)
		}()
	})
}

// Notify sends payloads to every subscription targeted by ev whose
// preferences allow it. It returns the number of successful deliveries.
func (s *Service) Notify(ctx context.Context, ev channel.Event, payloads []*NotificationPayload) int {
	subscriptions, err := s.targets(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", ev.EventName()).Msg("❌ Failed to look up push subscriptions")
		return 0
	}

	sent := 0
	for _, sub := range subscriptions {
		if !wants(sub.Preferences, ev) {
			continue
		}
		for _, p := range payloads {
			if err := s.Send(ctx, sub, p); err != nil {
				s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Str("title", p.Title).Msg("⚠️ Push notification not delivered")
				if errors.Is(err, ErrSubscriptionGone) {
					break
				}
				continue
			}
			sent++
		}
	}
	return sent
}

// Send delivers one payload, retrying transient push service failures
func (s *Service) Send(ctx context.Context, sub *PushSubscription, payload *NotificationPayload) error {
	if payload.Timestamp == 0 {
		payload.Timestamp = time.Now().UnixMilli()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.recordError()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	options := &webpush.Options{
		HTTPClient:      s.config.HTTPClient,
		Subscriber:      s.config.Subject,
		TTL:             s.config.TTL,
		Urgency:         s.config.Urgency,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
	}

	err = retry.Do(
		func() error {
			resp, err := webpush.SendNotificationWithContext(ctx, body, target, options)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return classify(resp.StatusCode)
		},
		retry.Context(ctx),
		retry.Attempts(s.config.Attempts),
		retry.Delay(s.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.updateStats(func(stats *Stats) { stats.TotalRetries++ })
			s.logger.Debug().Err(err).Uint("attempt", n+1).Str("subscription_id", sub.ID).Msg("🔄 Retrying push notification")
		}),
	)
	if err != nil {
		s.recordError()
		if errors.Is(err, ErrSubscriptionGone) {
			s.logger.Info().Str("subscription_id", sub.ID).Msg("🚫 Removing expired push subscription")
			if derr := s.store.DeleteByEndpoint(sub.Endpoint); derr != nil && !errors.Is(derr, ErrSubscriptionNotFound) {
				s.logger.Error().Err(derr).Msg("❌ Failed to remove push subscription")
			}
		}
		return err
	}

	if err := s.store.MarkAsUsed(sub.ID); err != nil {
		s.logger.Debug().Err(err).Str("subscription_id", sub.ID).Msg("Subscription removed during delivery")
	}
	s.recordSuccess()
	return nil
}

// Close cancels deliveries in flight and waits for them
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until background deliveries have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// GetStats returns current push service statistics
func (s *Service) GetStats() Stats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// classify maps a push service status code to a retry decision
func classify(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return retry.Unrecoverable(ErrSubscriptionGone)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("push service returned %d", code)
	default:
		return retry.Unrecoverable(fmt.Errorf("push service rejected notification with %d", code))
	}
}

// targets picks the subscriptions an event is addressed to
func (s *Service) targets(ev channel.Event) ([]*PushSubscription, error) {
	switch e := ev.(type) {
	case channel.SessionEnded:
		if e.SessionID != "" {
			return s.store.GetBySession(e.SessionID)
		}
		if e.TableID != 0 {
			return s.store.GetByTable(e.TableID)
		}
		return nil, nil
	case channel.SystemMessage:
		return s.store.GetAll()
	}

	if table := tableOf(ev); table != 0 {
		return s.store.GetByTable(table)
	}
	return s.store.GetAll()
}

func tableOf(ev channel.Event) int {
	switch e := ev.(type) {
	case channel.OrderCreated:
		return e.TableID
	case channel.OrderStatusUpdated:
		return e.TableID
	case channel.BillCreated:
		return e.TableID
	case channel.BillUpdated:
		return e.TableID
	case channel.BillPaid:
		return e.TableID
	case channel.StaffMessage:
		return e.TableID
	}
	return 0
}

func (s *Service) recordSuccess() {
	s.updateStats(func(stats *Stats) {
		stats.TotalSent++
		now := time.Now()
		stats.LastSent = &now
	})
}

func (s *Service) recordError() {
	s.updateStats(func(stats *Stats) {
		stats.TotalFailed++
		now := time.Now()
		stats.LastError = &now
	})
}

func (s *Service) updateStats(updater func(*Stats)) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	updater(&s.stats)
}
