package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/secrets"
)

// SecurityLogger writes security and audit events. Seeds never reach it in
// the clear.
type SecurityLogger struct {
	logger *zap.Logger
}

// NewSecurityLogger creates a security logger under the "security" name.
func NewSecurityLogger(logger *zap.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.Named("security")}
}

func contextFields(ctx map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx))
	for key, value := range ctx {
		fields = append(fields, zap.Any(key, value))
	}
	return fields
}

// LogSecurityEvent records a suspicious or rejected request.
func (sl *SecurityLogger) LogSecurityEvent(requestID, event, message string, ctx map[string]any, remoteAddr string) {
	fields := append([]zap.Field{
		zap.String("event", event),
		zap.String("request_id", requestID),
		zap.String("remote_addr", remoteAddr),
		zap.String("detail", message),
	}, contextFields(ctx)...)
	sl.logger.Warn("security_event", fields...)
}

// LogAuditEvent records an operator-visible action and its outcome.
func (sl *SecurityLogger) LogAuditEvent(requestID, action, resource, outcome string, ctx map[string]any) {
	fields := append([]zap.Field{
		zap.String("action", action),
		zap.String("resource", resource),
		zap.String("outcome", outcome),
		zap.String("request_id", requestID),
	}, contextFields(ctx)...)
	sl.logger.Info("audit_event", fields...)
}

// LogSystemStartup records the server configuration at boot.
func (sl *SecurityLogger) LogSystemStartup(ctx map[string]any) {
	fields := append([]zap.Field{
		zap.String("engine_version", EngineVersion),
		zap.String("git_commit", GitCommit),
	}, contextFields(ctx)...)
	sl.logger.Info("system_startup", fields...)
}

// SecurityLoggingMiddleware logs request_start and request_completed for
// every request.
func (s *Server) SecurityLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.logger.Debug("request_start",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request_completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// AdminAuth requires "Authorization: Bearer <key>" matching the configured
// bcrypt hash. Without a hash the admin routes are disabled.
func (s *Server) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKeyHash == "" {
			s.errorHandler.HandleUnauthorized(w, r, http.StatusServiceUnavailable, "Admin API is disabled")
			return
		}
		key, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || !secrets.CompareKey(s.adminKeyHash, key) {
			s.errorHandler.HandleUnauthorized(w, r, http.StatusUnauthorized, "Invalid or missing admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
