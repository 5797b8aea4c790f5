package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
	"github.com/sinricsync/sinric-bridge/internal/device"
)

// deviceView is the JSON shape of a device in API responses.
type deviceView struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      device.Kind  `json:"kind"`
	Room      string       `json:"room,omitempty"`
	State     device.State `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func newDeviceView(d *device.Device) deviceView {
	return deviceView{
		ID:        d.ID,
		Name:      d.Name,
		Kind:      d.Kind,
		Room:      d.Room,
		State:     d.State(),
		UpdatedAt: d.UpdatedAt(),
	}
}

// handleListDevices returns all registered devices.
//
// Query parameters:
//   - kind: filter by device kind (switch, light, thermostat, ...)
//   - room: filter by room name (case-insensitive)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	room := r.URL.Query().Get("room")

	views := make([]deviceView, 0)
	for _, d := range s.bridge.Registry().List() {
		if kind != "" && d.Kind.String() != kind {
			continue
		}
		if room != "" && !strings.EqualFold(d.Room, room) {
			continue
		}
		views = append(views, newDeviceView(d))
	}

	slices.SortFunc(views, func(a, b deviceView) int {
		return strings.Compare(a.ID, b.ID)
	})

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.bridge.Registry().Get(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, newDeviceView(d))
}

// handleDeviceHistory returns recent state changes for a device,
// newest first.
//
// Query parameters:
//   - limit: maximum entries to return (default 50, capped server-side)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.bridge.Registry().Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := s.bridge.Store().History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history query failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// actionRequest is the body of POST /api/devices/{id}/actions.
type actionRequest struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// handleDeviceAction forwards a command to the portal. The local state is
// not mutated here; the resulting change arrives back over the event
// stream, so a 202 means "accepted by the portal", not "applied".
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	err := s.bridge.Command(r.Context(), id, cloud.Action(req.Action), req.Value)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"deviceId": id,
			"action":   req.Action,
			"accepted": true,
		})
	case errors.Is(err, cloud.ErrUnknownAction):
		writeBadRequest(w, "unknown action: "+req.Action)
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	default:
		s.logger.Error("command dispatch failed", "device_id", id, "action", req.Action, "error", err)
		writeInternalError(w, "command dispatch failed")
	}
}
