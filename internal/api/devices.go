package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/monitor"
)

// createDeviceRequest is the body of POST /devices. Telemetry starts at
// the device defaults.
type createDeviceRequest struct {
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Type    string `json:"type"`
	TopicID string `json:"topic_id"`
}

// handleListDevices returns all devices ordered by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.Devices(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, "list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	dev, err := s.service.Device(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice creates a new, unsubscribed device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := device.NewDevice(req.Name, req.Brand, req.Type, req.TopicID)
	if err := s.service.CreateDevice(r.Context(), dev); err != nil {
		s.writeServiceError(w, r, err, "create device")
		return
	}
	s.auditLog(r, audit.ActionCreate, audit.EntityDevice, idString(dev.ID), map[string]any{
		"name":     dev.Name,
		"topic_id": dev.TopicID,
	})
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device's descriptive fields or topic.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var u monitor.DeviceUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.service.UpdateDevice(r.Context(), id, u)
	if err != nil {
		s.writeServiceError(w, r, err, "update device")
		return
	}
	s.auditLog(r, audit.ActionUpdate, audit.EntityDevice, idString(id), updateDetails(u))
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteDevice(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err, "delete device")
		return
	}
	s.auditLog(r, audit.ActionDelete, audit.EntityDevice, idString(id), nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSubscribeDevice subscribes to the device's topic. A broker refusal
// or timeout is reported as subscribed=false with 200, matching the
// session's boolean outcome.
func (s *Server) handleSubscribeDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	subscribed, err := s.service.SubscribeDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "subscribe device")
		return
	}
	s.auditLog(r, audit.ActionSubscribe, audit.EntityDevice, idString(id), map[string]any{"subscribed": subscribed})
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "subscribed": subscribed})
}

// handleUnsubscribeDevice removes the device's subscription.
func (s *Server) handleUnsubscribeDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	done, err := s.service.UnsubscribeDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "unsubscribe device")
		return
	}
	s.auditLog(r, audit.ActionUnsubscribe, audit.EntityDevice, idString(id), map[string]any{"unsubscribed": done})
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "unsubscribed": done})
}

// handleDeviceHistory returns recent telemetry, newest first.
//
// Query parameters:
//   - limit: maximum entries (default and cap set by the history store)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.service.DeviceHistory(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, r, err, "device history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "history": entries, "count": len(entries)})
}

// deviceID parses the {id} URL parameter, writing a 400 on failure.
func deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// updateDetails lists the fields a PATCH changed.
func updateDetails(u monitor.DeviceUpdate) map[string]any {
	d := make(map[string]any)
	if u.Name != nil {
		d["name"] = *u.Name
	}
	if u.Brand != nil {
		d["brand"] = *u.Brand
	}
	if u.Type != nil {
		d["type"] = *u.Type
	}
	if u.TopicID != nil {
		d["topic_id"] = *u.TopicID
	}
	return d
}
