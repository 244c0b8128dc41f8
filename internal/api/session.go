package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/devicelink/internal/audit"
)

// connectRequest optionally overrides the configured broker credentials.
type connectRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// publishRequest is the body of POST /session/publish. Payload is sent as
// UTF-8 text unless PayloadBase64 is set.
type publishRequest struct {
	Topic         string `json:"topic"`
	Payload       string `json:"payload"`
	PayloadBase64 string `json:"payload_base64"`
	QoS           *int   `json:"qos"`
	Retained      bool   `json:"retained"`
}

// handleSessionStatus returns the session state, subscriptions and counters.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleConnect opens the session. An empty body uses the configured
// credentials.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	if req.Username != nil || req.Password != nil {
		err = s.service.ConnectWithCredentials(r.Context(), deref(req.Username), deref(req.Password))
	} else {
		err = s.service.Connect(r.Context())
	}
	if err != nil {
		s.writeServiceError(w, r, err, "connect")
		return
	}
	s.auditLog(r, audit.ActionConnect, audit.EntitySession, "", map[string]any{
		"custom_credentials": req.Username != nil || req.Password != nil,
	})

	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleDisconnect closes the session.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Disconnect(r.Context()); err != nil {
		s.writeServiceError(w, r, err, "disconnect")
		return
	}
	s.auditLog(r, audit.ActionDisconnect, audit.EntitySession, "", nil)
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handlePublish publishes one message through the session.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload := []byte(req.Payload)
	if req.PayloadBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			writeBadRequest(w, "payload_base64 is not valid base64")
			return
		}
		payload = decoded
	}

	qos := 1
	if req.QoS != nil {
		qos = *req.QoS
	}
	if qos < 0 || qos > 2 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "qos must be 0, 1 or 2")
		return
	}

	if err := s.service.Publish(r.Context(), req.Topic, payload, byte(qos), req.Retained); err != nil {
		s.writeServiceError(w, r, err, "publish")
		return
	}
	s.auditLog(r, audit.ActionPublish, audit.EntitySession, "", map[string]any{
		"topic":    req.Topic,
		"bytes":    len(payload),
		"qos":      qos,
		"retained": req.Retained,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"topic": req.Topic,
		"bytes": len(payload),
	})
}

// decodeOptionalJSON decodes r.Body into v, treating an empty body as {}.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
