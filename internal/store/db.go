package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MJE43/tigrinho-pf/internal/games"
)

var (
	ErrParamsNotFound = errors.New("operator params not initialised")
	ErrSpinNotFound   = errors.New("spin not found")
	ErrEmptySeed      = errors.New("server seed must not be empty")
	ErrSeedReused     = errors.New("server seed has already been used")
)

// DB represents the database interface
type DB interface {
	Close() error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error

	// EnsureParams creates the params row from seed when none exists and
	// repairs a stored commitment that no longer matches the stored seed.
	EnsureParams(ctx context.Context, seed string, rtpTarget float64, paytableJSON string) (*Params, error)
	GetParams(ctx context.Context) (*Params, error)
	SetParams(ctx context.Context, rtpTarget float64, paytableJSON string) error

	// ExecSpin reads the params, advances the nonce, calls play with the
	// advanced snapshot and records the result, all in one transaction.
	ExecSpin(ctx context.Context, clientSeed string, play PlayFunc) (*SpinRecord, error)

	// RotateSeed retires the live seed, installs newSeed and resets the nonce.
	// It returns the retired epoch with its seed revealed.
	RotateSeed(ctx context.Context, newSeed string) (*SeedEpoch, error)

	ListSpins(ctx context.Context, query SpinsQuery) (*SpinsPage, error)
	GetSpin(ctx context.Context, id string) (*SpinRecord, error)
	ListSeedEpochs(ctx context.Context, limit, offset int) ([]SeedEpoch, error)
	Totals(ctx context.Context) (*Totals, error)
	ExportCSV(ctx context.Context, w io.Writer) error
}

// Params is the singleton operator state. ServerSeed never leaves the process
// through JSON.
type Params struct {
	ServerSeed     string    `json:"-" db:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash" db:"server_seed_hash"`
	RTPTarget      float64   `json:"rtp_target" db:"rtp_target"`
	PaytableJSON   string    `json:"paytable_json" db:"paytable_json"`
	Nonce          uint64    `json:"nonce" db:"nonce"`
	EpochID        string    `json:"epoch_id" db:"epoch_id"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PlayFunc evaluates a spin against a params snapshot whose nonce has
// already been advanced. It must be pure: ExecSpin may call it again on a
// fresh snapshot after a transient conflict.
type PlayFunc func(p Params) (SpinResult, error)

// SpinResult is what a PlayFunc hands back for recording.
type SpinResult struct {
	Reels  games.Grid
	Bet    float64
	Lines  uint32
	Payout float64
}

// SpinRecord is one row of the append-only spin history.
type SpinRecord struct {
	ID             string     `json:"id" db:"id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ClientSeed     string     `json:"client_seed" db:"client_seed"`
	Nonce          uint64     `json:"nonce" db:"nonce"`
	ServerSeedHash string     `json:"server_seed_hash" db:"server_seed_hash"`
	EpochID        string     `json:"epoch_id" db:"epoch_id"`
	Reels          games.Grid `json:"reels" db:"reels_json"`
	Bet            float64    `json:"bet" db:"bet"`
	Lines          uint32     `json:"lines" db:"lines"`
	Payout         float64    `json:"payout" db:"payout"`
	// PaytableJSON is the paytable the spin was priced with. Rows recorded
	// before it was tracked hold "".
	PaytableJSON   string     `json:"paytable_json,omitempty" db:"paytable_json"`
}

// SeedEpoch is a retired server seed, revealed so past spins can be verified.
type SeedEpoch struct {
	ID             string    `json:"id" db:"id"`
	ServerSeed     string    `json:"server_seed" db:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash" db:"server_seed_hash"`
	FinalNonce     uint64    `json:"final_nonce" db:"final_nonce"`
	SpinCount      int64     `json:"spin_count" db:"spin_count"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	RotatedAt      time.Time `json:"rotated_at" db:"rotated_at"`
}

// SpinsQuery represents query parameters for listing spins
type SpinsQuery struct {
	ClientSeed     string `json:"client_seed,omitempty"`
	ServerSeedHash string `json:"server_seed_hash,omitempty"`
	Page           int    `json:"page"`
	PerPage        int    `json:"perPage"`
	// Offset, when positive, skips that many rows and takes precedence
	// over Page.
	Offset         int    `json:"offset,omitempty"`
}

// SpinsPage represents a paginated spin listing, newest first
type SpinsPage struct {
	Spins      []SpinRecord `json:"spins"`
	TotalCount int          `json:"totalCount"`
	Page       int          `json:"page"`
	PerPage    int          `json:"perPage"`
	TotalPages int          `json:"totalPages"`
}

// Totals aggregates the whole spin history.
type Totals struct {
	Spins        int64   `json:"spins"`
	WinningSpins int64   `json:"winning_spins"`
	TotalBet     float64 `json:"total_bet"`
	TotalPayout  float64 `json:"total_payout"`
	MaxPayout    float64 `json:"max_payout"`
}

const (
	defaultPerPage = 50
	maxPerPage     = 1000
)

func normalizePage(q SpinsQuery) SpinsQuery {
	if q.PerPage <= 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// offset is the number of rows a normalized query skips.
func (q SpinsQuery) offset() int {
	if q.Offset > 0 {
		return q.Offset
	}
	return (q.Page - 1) * q.PerPage
}

func totalPages(total, perPage int) int {
	return (total + perPage - 1) / perPage
}
