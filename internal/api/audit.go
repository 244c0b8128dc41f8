package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/auth"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries are dropped while it is full.
const auditChanSize = 256

// auditLog enqueues an audit entry for the request's caller. It is a no-op
// when no audit repository is configured.
func (s *Server) auditLog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		Details:    details,
	}
	if claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims); ok {
		entry.Actor = claims.Subject
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then drains what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit entries, newest first.
//
// Query parameters:
//   - action: connect, disconnect, publish, create, update, delete, subscribe, unsubscribe
//   - entity_type: session or device
//   - entity_id: device id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeNotFound(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
