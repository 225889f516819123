// Package api exposes the slot service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRequestTimeout = 60 * time.Second
	maxBodyBytes          = 1 << 20
)

// Options configures a Server.
type Options struct {
	// AdminKeyHash is the bcrypt hash admin bearer keys are checked
	// against. Empty disables the admin routes.
	AdminKeyHash   string
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server handles HTTP requests
type Server struct {
	svc            *service.SlotService
	errorHandler   *ErrorHandler
	logger         *zap.Logger
	securityLogger *SecurityLogger
	adminKeyHash   string
	corsOrigins    []string
	requestTimeout time.Duration
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(svc *service.SlotService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	securityLogger := NewSecurityLogger(logger)
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	server := &Server{
		svc:            svc,
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		adminKeyHash:   opts.AdminKeyHash,
		corsOrigins:    opts.CORSOrigins,
		requestTimeout: opts.RequestTimeout,
		startTime:      time.Now(),
	}

	securityLogger.LogSystemStartup(map[string]any{
		"games_available": len(games.ListGames()),
		"admin_enabled":   opts.AdminKeyHash != "",
		"request_timeout": opts.RequestTimeout.String(),
	})

	return server
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Engine-Version", "X-Error-Type", "X-Error-Category"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", s.mountAPI)
	// Unprefixed routes mirror /api/v1.
	s.mountAPI(r)

	return r
}

func (s *Server) mountAPI(r chi.Router) {
	r.Get("/verify", s.handleCommitment)
	r.Post("/spin", s.handleSpin)
	r.Post("/verify/outcome", s.handleVerifyOutcome)
	r.Post("/seed/hash", s.handleSeedHash)
	r.Get("/seeds/revealed", s.handleRevealedSeeds)
	r.Get("/history", s.handleHistory)
	r.Get("/history/{id}", s.handleGetSpin)
	r.Post("/scan", s.handleScan)
	r.Post("/replay", s.handleReplay)
	r.Get("/games", s.handleListGames)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.AdminAuth)
		r.Post("/set-params", s.handleSetParams)
		r.Post("/rotate-seed", s.handleRotateSeed)
		r.Get("/export.csv", s.handleExportCSV)
		r.Get("/stats", s.handleStats)
	})
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// decodeJSON reads a bounded JSON body into dst, writing a validation error
// and returning false when it can't.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return false
	}
	return true
}
