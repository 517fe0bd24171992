package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/repos"
	"citizen-grievance-platform/shared/authx"
	"citizen-grievance-platform/shared/httpx"
	"citizen-grievance-platform/shared/logx"
)

type AuditMiddleware struct {
	Enabled bool
	Repo    *repos.AuditRepo
	Logger  logx.Logger
	Skip    func(*http.Request) bool
	Timeout time.Duration
}

func (m AuditMiddleware) Wrap(next http.Handler) http.Handler {
	if !m.Enabled || m.Repo == nil {
		return next
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lrw := &auditResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		if !shouldAudit(r, lrw.statusCode) {
			return
		}

		resourceType, resourceID := resourceFromPath(r.URL.Path)
		entry := models.AuditLog{
			OccurredAt:   time.Now().UTC(),
			Action:       actionForRequest(r, lrw.statusCode),
			ResourceType: resourceType,
			ResourceID:   resourceID,
			RequestID:    httpx.RequestIDFromContext(r.Context()),
			Method:       r.Method,
			Path:         r.URL.Path,
			StatusCode:   lrw.statusCode,
			DurationMS:   time.Since(start).Milliseconds(),
			ClientIP:     clientIP(r),
			UserAgent:    strings.TrimSpace(r.UserAgent()),
			Details:      auditDetails(lrw.statusCode),
		}
		if auth, ok := authx.FromContext(r.Context()); ok {
			entry.Subject = auth.Subject
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := m.Repo.WriteAuditLog(ctx, []models.AuditLog{entry}); err != nil {
				m.Logger.Warn(context.Background(), "audit_write_failed", "audit write failed",
					slog.String("error", err.Error()),
				)
			}
		}()
	})
}

type auditResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *auditResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func shouldAudit(r *http.Request, statusCode int) bool {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true
	}
	return r.Method == http.MethodPost || r.Method == http.MethodPut ||
		r.Method == http.MethodPatch || r.Method == http.MethodDelete
}

func actionForRequest(r *http.Request, statusCode int) string {
	if statusCode == http.StatusUnauthorized {
		return "auth_failed"
	}
	switch r.Method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func auditDetails(statusCode int) []byte {
	b, err := json.Marshal(map[string]any{"status_code": statusCode})
	if err != nil {
		return nil
	}
	return b
}

var auditedResources = map[string]struct{}{
	"complaints": {}, "config": {}, "escalations": {},
}

func resourceFromPath(path string) (*string, *string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" {
		return nil, nil
	}
	resource := parts[2]
	if _, ok := auditedResources[resource]; !ok {
		return nil, nil
	}
	var id *string
	if len(parts) >= 4 {
		val := strings.TrimSpace(parts[3])
		if val != "" {
			id = &val
		}
	}
	return &resource, id
}

func clientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	return r.RemoteAddr
}
