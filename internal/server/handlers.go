package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ferg-cod3s/tableside/kiosk/internal/backend"
	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
	"github.com/ferg-cod3s/tableside/kiosk/internal/guard"
	"github.com/ferg-cod3s/tableside/kiosk/internal/security"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

const maxOrderLines = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(s.startTime).Round(time.Second).String(),
		"hasValidSession": s.sessions.HasValidSession(),
		"channel":         s.channel.Status().State,
	})
}

// handleStatus reports session and connectivity state for the UI indicator
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"serverName":   s.config.ServerName,
		"session":      s.sessions.Snapshot().Response(),
		"connection":   s.channel.Status(),
		"revalidating": s.guard.Revalidator().Armed(),
		"push":         s.pushService != nil,
		"sseClients":   s.broadcaster.GetClientCount(),
		"timestamp":    time.Now().Unix(),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.channel.Reconnect()
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  s.channel.Status(),
	})
}

// handleScan exchanges a QR code token for a table session
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		s.renderPage(w, http.StatusBadRequest, scanFailedPage, pageData{Message: "Invalid QR code"})
		return
	}

	resp, err := s.backend.CreateSession(r.Context(), token, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("⚠️ QR token exchange failed")
		status := http.StatusBadGateway
		message := "Failed to join table. Please try scanning again."
		if !backend.IsTransient(err) {
			status = http.StatusNotFound
			message = "This QR code is not valid for any table."
		}
		s.renderPage(w, status, scanFailedPage, pageData{Message: message})
		return
	}

	data := resp.Session
	if err := s.sessions.SetSession(resp.ID, &data); err != nil {
		// The session is held in memory; only persistence failed
		s.logger.Error().Err(err).Str("session_id", resp.ID).Msg("❌ Session not persisted")
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSessionRequired(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, sessionRequiredPage, pageData{})
}

func (s *Server) handleMenuPage(w http.ResponseWriter, r *http.Request) {
	snap, _ := guard.SessionFromContext(r.Context())
	s.renderPage(w, http.StatusOK, menuPage, pageData{
		ServerName: s.config.ServerName,
		TableID:    snap.Session.TableID,
	})
}

// handleStaffReset clears the table session after a staff PIN check
func (s *Server) handleStaffReset(w http.ResponseWriter, r *http.Request) {
	if !s.staff.Enabled() {
		s.writeJSONError(w, "staff reset is not configured", http.StatusForbidden)
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if !s.staff.Verify(req.PIN) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("🔒 Staff reset rejected")
		s.writeJSONError(w, "invalid staff PIN", http.StatusUnauthorized)
		return
	}

	s.sessions.ClearSession()
	s.logger.Info().Msg("🧹 Table session reset by staff")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.Snapshot().Response())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearSession()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"redirect": guard.DefaultRedirect,
	})
}

// handleValidateSession revalidates on demand and reports the outcome
func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	valid := s.sessions.ValidateWithBackend(r.Context())
	resp := map[string]interface{}{
		"valid":   valid,
		"session": s.sessions.Snapshot().Response(),
	}
	if !valid {
		resp["redirect"] = guard.DefaultRedirect
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleMenu proxies the backend menu, falling back to the last good copy
func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	onlyAvailable := true
	if v := r.URL.Query().Get("onlyAvailable"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSONError(w, "onlyAvailable must be a boolean", http.StatusBadRequest)
			return
		}
		onlyAvailable = parsed
	}

	items, err := s.backend.GetMenu(r.Context(), onlyAvailable)
	if err == nil {
		if items == nil {
			items = []types.MenuItem{}
		}
		s.menu.put(onlyAvailable, items)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "stale": false})
		return
	}

	cached, fetched, ok := s.menu.get(onlyAvailable)
	if !ok {
		s.writeBackendError(w, err, "menu")
		return
	}
	s.logger.Warn().Err(err).Time("cached_at", fetched).Msg("⚠️ Serving cached menu")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":     cached,
		"stale":     true,
		"fetchedAt": fetched,
	})
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	snap, _ := guard.SessionFromContext(r.Context())
	table, err := s.backend.GetTable(r.Context(), snap.Session.TableID)
	if err != nil {
		s.writeBackendError(w, err, "table")
		return
	}
	s.writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	snap, _ := guard.SessionFromContext(r.Context())
	orders, err := s.backend.GetSessionOrders(r.Context(), snap.SessionID)
	if err != nil {
		s.writeBackendError(w, err, "orders")
		return
	}
	if orders == nil {
		orders = []types.Order{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

// handleCreateOrder submits the diner cart against the held session
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []types.OrderLine `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if err := validateOrderLines(req.Items); err != nil {
		s.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range req.Items {
		req.Items[i].Note = security.SanitizeNote(req.Items[i].Note)
	}

	snap, _ := guard.SessionFromContext(r.Context())
	order, err := s.backend.CreateOrder(r.Context(), types.CreateOrderRequest{
		TableID:   snap.Session.TableID,
		SessionID: snap.SessionID,
		Items:     req.Items,
	})
	if err != nil {
		s.writeBackendError(w, err, "order")
		return
	}

	s.logger.Info().Int("order_id", order.ID).Int("table_id", order.TableID).Msg("🧾 Order submitted")
	s.writeJSON(w, http.StatusCreated, order)
}

func validateOrderLines(lines []types.OrderLine) error {
	if len(lines) == 0 {
		return errors.New("order must contain at least one item")
	}
	if len(lines) > maxOrderLines {
		return fmt.Errorf("order cannot contain more than %d lines", maxOrderLines)
	}
	for i, line := range lines {
		if line.MenuItemID <= 0 {
			return fmt.Errorf("item %d: menuItemId is required", i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
	}
	return nil
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.channel.Notifications())
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.channel.ClearNotifications()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleStaffMessage relays a diner message to staff over the push channel
func (s *Server) handleStaffMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	message := security.SanitizeMessage(req.Message)
	if message == "" {
		s.writeJSONError(w, "message is required", http.StatusBadRequest)
		return
	}
	kind := req.Type
	if kind == "" {
		kind = "request"
	}

	snap, _ := guard.SessionFromContext(r.Context())
	if err := s.channel.SendMessageToStaff(snap.Session.TableID, message, kind); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			s.writeJSONError(w, "not connected to the restaurant, please try again", http.StatusServiceUnavailable)
			return
		}
		s.writeJSONError(w, "failed to send message", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

// writeBackendError maps backend failures without leaking transport details
func (s *Server) writeBackendError(w http.ResponseWriter, err error, what string) {
	var se *backend.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && !backend.IsTransient(err) {
		message := se.Message
		if message == "" {
			message = fmt.Sprintf("%s request rejected", what)
		}
		s.writeJSONError(w, message, se.StatusCode)
		return
	}
	s.logger.Error().Err(err).Str("resource", what).Msg("❌ Backend request failed")
	s.writeJSONError(w, fmt.Sprintf("%s is temporarily unavailable", what), http.StatusBadGateway)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("⚠️ Failed to encode response")
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

// menuCache keeps the last menu fetched successfully per availability filter
type menuCache struct {
	mu      sync.RWMutex
	entries map[bool]menuEntry
}

type menuEntry struct {
	items   []types.MenuItem
	fetched time.Time
}

func newMenuCache() *menuCache {
	return &menuCache{entries: make(map[bool]menuEntry)}
}

func (c *menuCache) put(onlyAvailable bool, items []types.MenuItem) {
	c.mu.Lock()
	c.entries[onlyAvailable] = menuEntry{items: items, fetched: time.Now()}
	c.mu.Unlock()
}

func (c *menuCache) get(onlyAvailable bool) ([]types.MenuItem, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[onlyAvailable]
	return e.items, e.fetched, ok
}
