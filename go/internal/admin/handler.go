// Package admin exposes the operator HTTP surface: event configuration and
// auction history queries for the dashboard and moderator panel.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/eventcfg"
	"github.com/dibslive/dibs/go/internal/room/history"
)

const defaultHistoryLimit = 20

// Handler serves the admin endpoints.
type Handler struct {
	eventCfg *eventcfg.Manager
	history  *history.Repository
}

// NewHandler returns the admin HTTP handler.
func NewHandler(cfg *eventcfg.Manager, hist *history.Repository) *Handler {
	return &Handler{eventCfg: cfg, history: hist}
}

// RegisterRoutes registers the admin routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/event-config", h.getEventConfig)
	mux.HandleFunc("PUT /admin/event-config", h.putEventConfig)
	mux.HandleFunc("POST /admin/event-config/extend", h.extendEventConfig)
	mux.HandleFunc("GET /admin/history", h.listHistory)
}

func (h *Handler) getEventConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.eventCfg.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read event config")
		http.Error(w, "failed to read event config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cfg)
}

func (h *Handler) putEventConfig(w http.ResponseWriter, r *http.Request) {
	var in eventcfg.Config
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "malformed config", http.StatusBadRequest)
		return
	}

	cfg, err := h.eventCfg.Update(r.Context(), func(cfg *eventcfg.Config) {
		*cfg = in
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to update event config")
		http.Error(w, "failed to update event config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cfg)
}

// extendEventConfig pushes the event end time out, default ten minutes.
func (h *Handler) extendEventConfig(w http.ResponseWriter, r *http.Request) {
	minutes := 10
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "minutes must be a positive integer", http.StatusBadRequest)
			return
		}
		minutes = n
	}

	cfg, err := h.eventCfg.ExtendEndTime(r.Context(), time.Now(), time.Duration(minutes)*time.Minute)
	if err != nil {
		log.Error().Err(err).Msg("failed to extend event end time")
		http.Error(w, "failed to extend event end time", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cfg)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.history.ListByRoom(r.Context(), roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to list history")
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
