package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// CurrentSession reports the session a new subscription is bound to
type CurrentSession func() (sessionID string, tableID int, ok bool)

// PushHandler provides HTTP handlers for push notification management
type PushHandler struct {
	service           *Service
	vapidKeyManager   *VAPIDKeyManager
	subscriptionStore SubscriptionStore
	current           CurrentSession
	logger            zerolog.Logger
}

// NewPushHandler creates a new push notification handler
func NewPushHandler(service *Service, vapidKeyManager *VAPIDKeyManager, subscriptionStore SubscriptionStore, current CurrentSession, logger zerolog.Logger) *PushHandler {
	return &PushHandler{
		service:           service,
		vapidKeyManager:   vapidKeyManager,
		subscriptionStore: subscriptionStore,
		current:           current,
		logger:            logger,
	}
}

// RegisterRoutes registers push notification API routes
func (h *PushHandler) RegisterRoutes(router *mux.Router) {
	pushRouter := router.PathPrefix("/api/push").Subrouter()

	pushRouter.HandleFunc("/vapid-public-key", h.handleGetVAPIDPublicKey).Methods("GET")
	pushRouter.HandleFunc("/subscribe", h.handleSubscribe).Methods("POST")
	pushRouter.HandleFunc("/unsubscribe", h.handleUnsubscribe).Methods("POST")
	pushRouter.HandleFunc("/status", h.handleGetStatus).Methods("GET")
}

// handleGetVAPIDPublicKey returns the application server key for PushManager.subscribe
func (h *PushHandler) handleGetVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vapidKeyManager.GetOrGenerateKeys()
	if err != nil {
		h.logger.Error().Err(err).Msg("❌ Failed to get VAPID keys")
		h.writeJSONError(w, "Push notifications unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"publicKey": keys.PublicKey,
	})
}

// handleSubscribe binds a browser subscription to the current table session
func (h *PushHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID, tableID, ok := h.current()
	if !ok {
		h.writeJSONError(w, "session required", http.StatusUnauthorized)
		return
	}

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeJSONError(w, fmt.Sprintf("Invalid subscription: %v", err), http.StatusBadRequest)
		return
	}

	subscription := req.ToSubscription(sessionID, tableID)
	created, err := h.subscriptionStore.Upsert(subscription)
	if err != nil {
		h.writeJSONError(w, fmt.Sprintf("Failed to save subscription: %v", err), http.StatusBadRequest)
		return
	}

	status, message := http.StatusOK, "Subscription updated"
	if created {
		status, message = http.StatusCreated, "Subscription created"
		h.logger.Info().Str("subscription_id", subscription.ID).Int("table_id", tableID).Msg("🔔 Push subscription created")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":      true,
		"message":      message,
		"subscription": subscription,
	})
}

// handleUnsubscribe removes a push subscription by endpoint
func (h *PushHandler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" {
		h.writeJSONError(w, "Endpoint is required", http.StatusBadRequest)
		return
	}

	if err := h.subscriptionStore.DeleteByEndpoint(req.Endpoint); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			h.writeJSONError(w, "Subscription not found", http.StatusNotFound)
			return
		}
		h.writeJSONError(w, fmt.Sprintf("Failed to delete subscription: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Subscription removed",
	})
}

// handleGetStatus returns push notification service status
func (h *PushHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vapidKeyManager.GetOrGenerateKeys()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled":        true,
		"vapidKeysReady": err == nil && keys != nil,
		"subscriptions":  h.subscriptionStore.Count(),
		"stats":          h.service.GetStats(),
		"timestamp":      time.Now().Unix(),
	})
}

// writeJSONError writes a JSON error response
func (h *PushHandler) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
