package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/room/presence"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
)

// WebSocketHandler owns the /ws surface: session handshake, presence
// registration and per-frame command dispatch.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	service           *Service
	presence          *presence.Tracker
}

// commandError is the frame sent back when a command fails.
type commandError struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// NewWebSocketHandler wires the websocket surface and installs the command
// and close handlers on the connection manager.
func NewWebSocketHandler(cm *ConnectionManager, svc *Service, tracker *presence.Tracker) *WebSocketHandler {
	h := &WebSocketHandler{
		connectionManager: cm,
		service:           svc,
		presence:          tracker,
	}
	cm.OnCommand(h.handleCommand)
	cm.OnClose(h.handleClose)
	cm.OnPong(h.handlePong)
	return h
}

// HandleRoomConnection validates the session key, registers presence and
// upgrades to a websocket. The disconnect cleanup is armed before the
// upgrade completes, so a ghost viewer cannot survive an abrupt drop.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	sessionKey := r.URL.Query().Get("session_key")

	session, err := h.service.Sessions().Validate(r.Context(), roomID, sessionKey)
	if err != nil {
		if errors.Is(err, roomerr.ErrPermissionDenied) || errors.Is(err, roomerr.ErrValidation) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("session validation failed")
		http.Error(w, "session validation failed", http.StatusInternalServerError)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, session)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	if err := h.presence.Join(r.Context(), roomID, session.UserID, conn.ID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("user_id", session.UserID).Msg("failed to register presence")
	}

	// Late joiners get the current state immediately instead of waiting for
	// the next event-driven fan-out.
	if state, err := h.service.State().Snapshot(r.Context(), roomID); err == nil {
		if data, err := json.Marshal(state); err == nil {
			h.connectionManager.SendTo(conn, data)
		}
	} else {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to build initial snapshot")
	}
}

// handleCommand runs one client frame. The session is re-validated per
// command so a restriction applied mid-connection takes effect on the very
// next command, not the next reconnect.
func (h *WebSocketHandler) handleCommand(ctx context.Context, conn *Connection, raw []byte) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		h.sendError(conn, "", err)
		return
	}

	session, err := h.service.Sessions().Validate(ctx, conn.Session.RoomID, conn.Session.SessionKey)
	if err != nil {
		h.sendError(conn, string(cmd.Type), err)
		conn.Conn.Close()
		return
	}

	if err := h.service.Dispatch(ctx, session, cmd); err != nil {
		h.sendError(conn, string(cmd.Type), err)
	}
}

// handlePong refreshes the connection's liveness lease so the store reaper
// leaves it alone while the socket keeps answering pings.
func (h *WebSocketHandler) handlePong(conn *Connection) {
	if err := h.presence.Heartbeat(context.Background(), conn.ID); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("failed to refresh presence heartbeat")
	}
}

// handleClose fires the armed disconnect cleanup for the dropped connection.
func (h *WebSocketHandler) handleClose(conn *Connection) {
	ctx := context.Background()
	if err := h.presence.Disconnected(ctx, conn.ID); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", conn.ID).
			Str("user_id", conn.Session.UserID).
			Msg("disconnect cleanup failed")
	}
}

func (h *WebSocketHandler) sendError(conn *Connection, command string, err error) {
	frame := commandError{Type: "Error", Command: command, Error: err.Error()}
	data, marshalErr := json.Marshal(frame)
	if marshalErr != nil {
		return
	}
	h.connectionManager.SendTo(conn, data)
}

// HandleConnectionStats reports active connection counts.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"room_connections":  rooms,
	})
}

// RegisterRoutes registers the websocket routes on mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
