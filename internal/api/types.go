package api

import (
	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/store"
	"github.com/MJE43/tigrinho-pf/internal/strategy"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidSeed   = "invalid_seed"
	ErrTypeInvalidNonce  = "invalid_nonce"
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"

	// Game-related errors
	ErrTypeGameNotFound   = "game_not_found"
	ErrTypeGameEvaluation = "game_evaluation_error"
	ErrTypeScriptError    = "script_error"

	// Access and state errors
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeNotFound     = "not_found"
	ErrTypeConflict     = "conflict"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategoryAuth       ErrorCategory = "auth"
	CategoryState      ErrorCategory = "state"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidSeed, ErrTypeInvalidNonce, ErrTypeInvalidParams, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeGameNotFound, ErrTypeGameEvaluation, ErrTypeScriptError:
		return CategoryGame
	case ErrTypeUnauthorized:
		return CategoryAuth
	case ErrTypeNotFound, ErrTypeConflict:
		return CategoryState
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// CommitmentResponse is the public view of the live seed.
type CommitmentResponse struct {
	ServerSeedHash string `json:"server_seed_hash"`
	Nonce          uint64 `json:"nonce"`
}

// ScanResponse represents the complete scan response
type ScanResponse struct {
	Hits          []scan.Hit       `json:"hits"`
	Summary       scan.Summary     `json:"summary"`
	EngineVersion string           `json:"engine_version"`
	Echo          scan.ScanRequest `json:"echo"`
}

// GamesResponse represents the games metadata response
type GamesResponse struct {
	Games         []games.GameSpec `json:"games"`
	EngineVersion string           `json:"engine_version"`
}

// SeedHashRequest represents a seed hashing request
type SeedHashRequest struct {
	ServerSeed string `json:"server_seed"`
}

// SeedHashResponse represents a seed hashing response
type SeedHashResponse struct {
	Hash          string `json:"hash"`
	EngineVersion string `json:"engine_version"`
}

// RevealedSeedsResponse lists retired seeds.
type RevealedSeedsResponse struct {
	Seeds  []store.SeedEpoch `json:"seeds"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// SetParamsRequest replaces the RTP target and paytable.
type SetParamsRequest struct {
	RTPTarget *float64       `json:"rtp_target"`
	Paytable  games.Paytable `json:"paytable"`
}

// RotateSeedRequest installs NewSeed, or a random seed when it is empty.
type RotateSeedRequest struct {
	NewSeed string `json:"new_seed"`
}

// ReplayRequest runs Script against a revealed server seed.
type ReplayRequest struct {
	Script string `json:"script"`
	strategy.Options
}

// StatusResponse acknowledges an admin action.
type StatusResponse struct {
	Status string `json:"status"`
}
