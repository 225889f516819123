package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/service"
	"github.com/MJE43/tigrinho-pf/internal/store"
	"github.com/MJE43/tigrinho-pf/internal/strategy"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	var ctx map[string]any
	if len(eb.context) > 0 {
		ctx = eb.context
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         *zap.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// classified is an error mapped onto the HTTP envelope.
type classified struct {
	status  int
	errType string
	field   string
}

// classify maps domain sentinel errors to a status and error type.
func classify(err error) classified {
	switch {
	case errors.Is(err, service.ErrInvalidBet):
		return classified{http.StatusBadRequest, ErrTypeValidation, "bet"}
	case errors.Is(err, service.ErrInvalidLines):
		return classified{http.StatusBadRequest, ErrTypeValidation, "lines"}
	case errors.Is(err, service.ErrInvalidSeed):
		return classified{http.StatusBadRequest, ErrTypeInvalidSeed, "client_seed"}
	case errors.Is(err, service.ErrMissingServerSeed):
		return classified{http.StatusBadRequest, ErrTypeInvalidSeed, "server_seed"}
	case errors.Is(err, service.ErrInvalidRTP):
		return classified{http.StatusBadRequest, ErrTypeInvalidParams, "rtp_target"}
	case errors.Is(err, games.ErrPayoutColumns):
		return classified{http.StatusBadRequest, ErrTypeInvalidParams, "reels"}
	case errors.Is(err, store.ErrEmptySeed):
		return classified{http.StatusBadRequest, ErrTypeInvalidSeed, "new_seed"}
	case errors.Is(err, store.ErrSeedReused):
		return classified{http.StatusConflict, ErrTypeConflict, "new_seed"}
	case errors.Is(err, store.ErrSpinNotFound):
		return classified{http.StatusNotFound, ErrTypeNotFound, ""}
	case errors.Is(err, store.ErrParamsNotFound):
		return classified{http.StatusServiceUnavailable, ErrTypeServiceUnavailable, ""}
	case errors.Is(err, scan.ErrInvalidRange):
		return classified{http.StatusBadRequest, ErrTypeInvalidNonce, "nonce_end"}
	case errors.Is(err, scan.ErrInvalidParams):
		return classified{http.StatusBadRequest, ErrTypeInvalidParams, ""}
	case errors.Is(err, scan.ErrGameNotFound):
		return classified{http.StatusBadRequest, ErrTypeGameNotFound, "game"}
	case errors.Is(err, strategy.ErrMissingSeeds):
		return classified{http.StatusBadRequest, ErrTypeInvalidSeed, ""}
	case errors.Is(err, strategy.ErrTooManyBets), errors.Is(err, strategy.ErrInvalidBalance),
		errors.Is(err, strategy.ErrInvalidStartBet):
		return classified{http.StatusBadRequest, ErrTypeInvalidParams, ""}
	case errors.Is(err, strategy.ErrNoDobet), errors.Is(err, strategy.ErrInvalidNextBet):
		return classified{http.StatusUnprocessableEntity, ErrTypeScriptError, "script"}
	case errors.Is(err, context.DeadlineExceeded):
		return classified{http.StatusGatewayTimeout, ErrTypeTimeout, ""}
	default:
		return classified{http.StatusInternalServerError, ErrTypeInternal, ""}
	}
}

// HandleError classifies err and writes the matching response. Internal
// errors are reported with a generic message.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	var engineErr EngineError
	if errors.As(err, &engineErr) {
		eh.logError(r, engineErr, http.StatusBadRequest)
		eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
		return
	}

	c := classify(err)
	message := err.Error()
	if c.status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	builder := NewError(c.errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if c.field != "" {
		builder.WithContext("field", c.field)
	}
	engineErr = builder.Build()

	if c.status == http.StatusBadRequest {
		eh.securityLogger.LogSecurityEvent(requestID, "validation_failure", err.Error(),
			map[string]any{"field": c.field, "path": r.URL.Path}, r.RemoteAddr)
	}
	eh.logError(r, engineErr, c.status, zap.Error(err))
	eh.writeErrorResponse(w, c.status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]any{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// HandleUnauthorized rejects a request to an admin route.
func (eh *ErrorHandler) HandleUnauthorized(w http.ResponseWriter, r *http.Request, status int, reason string) {
	requestID := middleware.GetReqID(r.Context())

	errType := ErrTypeUnauthorized
	if status == http.StatusServiceUnavailable {
		errType = ErrTypeServiceUnavailable
	}
	engineErr := NewError(errType, reason).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		Build()

	eh.securityLogger.LogSecurityEvent(requestID, "admin_auth_failure", reason,
		map[string]any{"path": r.URL.Path}, r.RemoteAddr)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	}
	eh.writeErrorResponse(w, status, engineErr)
}

// logError logs the error with appropriate level and context
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int, extra ...zap.Field) {
	category := GetErrorCategory(engineErr.Type)

	fields := []zap.Field{
		zap.String("type", engineErr.Type),
		zap.String("category", string(category)),
		zap.String("message", engineErr.Message),
		zap.Int("status", status),
		zap.String("request_id", engineErr.RequestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_ip", r.RemoteAddr),
	}
	for key, value := range engineErr.Context {
		// Never log raw seeds - only hashes
		if key == "server_seed" || key == "client_seed" || key == "path" || key == "method" {
			continue
		}
		fields = append(fields, zap.Any(key, value))
	}
	fields = append(fields, extra...)

	if status >= http.StatusInternalServerError {
		eh.logger.Error("error_occurred", fields...)
		return
	}
	eh.logger.Warn("error_occurred", fields...)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Error("failed to encode error response", zap.Error(err))
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Error("panic_recovered",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.Any("panic", rvr),
					zap.Stack("stack"),
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
