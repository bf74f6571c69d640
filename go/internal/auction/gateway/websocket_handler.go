package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/bidhouse/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	resolver          auth.Resolver
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, resolver auth.Resolver) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		resolver:          resolver,
	}
}

// HandleAuctionConnection authenticates the request and upgrades it. Requests
// without a valid principal are refused before any room is joined.
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.Resolve(r)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejected unauthenticated websocket connection")
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, principal)
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", principal.UserID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	if ev, err := NewEvent(EventAuthenticated, AuthenticatedPayload{UserID: principal.UserID, Role: string(principal.Role)}); err == nil {
		h.connectionManager.SendTo(conn, ev)
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
