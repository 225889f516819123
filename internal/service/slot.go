// Package service turns validated requests into spins against the stored
// operator state. It owns input validation; the engine below it never fails.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/logging"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/store"
	"github.com/MJE43/tigrinho-pf/internal/strategy"
)

// MaxClientSeedLength bounds client seeds in bytes.
const MaxClientSeedLength = 256

// amountPlaces is the precision bets and payouts are normalised to.
const amountPlaces = 8

var (
	ErrInvalidBet   = errors.New("bet must be finite and at least 0.00000001")
	ErrInvalidLines = errors.New("lines must be greater than zero")
	ErrInvalidSeed  = fmt.Errorf("client seed must be 1 to %d bytes", MaxClientSeedLength)
	ErrInvalidRTP   = errors.New("rtp_target must be a finite number in [0, 1]")
)

// SpinRequest is what a player submits.
type SpinRequest struct {
	ClientSeed string  `json:"client_seed"`
	Bet        float64 `json:"bet"`
	Lines      uint32  `json:"lines"`
}

// SpinResponse is the published outcome of one spin.
type SpinResponse struct {
	SpinID         string     `json:"spin_id"`
	ServerSeedHash string     `json:"server_seed_hash"`
	Nonce          uint64     `json:"nonce"`
	Reels          games.Grid `json:"reels"`
	Bet            float64    `json:"bet"`
	Lines          uint32     `json:"lines"`
	Payout         float64    `json:"payout"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CommitmentResponse publishes the live seed commitment.
type CommitmentResponse struct {
	ServerSeedHash string `json:"server_seed_hash"`
	Nonce          uint64 `json:"nonce"`
	EpochID        string `json:"epoch_id"`
}

// RotateResponse reveals the retired seed and commits to the new one.
type RotateResponse struct {
	Revealed          store.SeedEpoch `json:"revealed"`
	NewServerSeedHash string          `json:"new_server_seed_hash"`
}

// Stats summarises the spin history.
type Stats struct {
	store.Totals
	RTP            decimal.Decimal `json:"rtp"`
	RTPTarget      float64         `json:"rtp_target"`
	ServerSeedHash string          `json:"server_seed_hash"`
	Nonce          uint64          `json:"nonce"`
}

// SlotService runs spins and operator actions against a store.
type SlotService struct {
	db      store.DB
	reels   games.ReelsConfig
	scanner *scan.Scanner
	logger  *zap.Logger
}

// NewSlotService checks that reels can be priced by the row rule.
func NewSlotService(db store.DB, reels games.ReelsConfig, logger *zap.Logger) (*SlotService, error) {
	if _, err := games.NewEngineParams(reels, games.DefaultPaytable(), 0); err != nil {
		return nil, fmt.Errorf("reels: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotService{
		db:      db,
		reels:   reels.Clone(),
		scanner: scan.NewScanner(),
		logger:  logger,
	}, nil
}

// Reels returns a copy of the configured reels.
func (s *SlotService) Reels() games.ReelsConfig {
	return s.reels.Clone()
}

// GenerateServerSeed returns 32 random bytes as hex.
func GenerateServerSeed() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// normalizeAmount rounds to amountPlaces decimal places.
func normalizeAmount(v float64) float64 {
	return decimal.NewFromFloat(v).Round(amountPlaces).InexactFloat64()
}

// validBet reports whether bet is still positive once rounded to
// amountPlaces.
func validBet(bet float64) bool {
	if math.IsInf(bet, 0) || math.IsNaN(bet) {
		return false
	}
	return normalizeAmount(bet) > 0
}

func validateSpin(req SpinRequest) error {
	if !validBet(req.Bet) {
		return ErrInvalidBet
	}
	if req.Lines == 0 {
		return ErrInvalidLines
	}
	if req.ClientSeed == "" || len(req.ClientSeed) > MaxClientSeedLength {
		return ErrInvalidSeed
	}
	return nil
}

// engineParams builds the spin parameters from a params snapshot. A stored
// paytable that doesn't decode is replaced by the default one.
func (s *SlotService) engineParams(p store.Params) games.EngineParams {
	paytable, err := games.PaytableOrDefault(p.PaytableJSON)
	if err != nil {
		s.logger.Warn("stored paytable is unreadable, using default",
			zap.Error(err),
			zap.String("epoch_id", p.EpochID),
		)
	}
	return games.EngineParams{Reels: s.reels, Paytable: paytable, RTPTarget: p.RTPTarget}
}

// Spin validates req, then advances the nonce and records the outcome in one
// store transaction.
func (s *SlotService) Spin(ctx context.Context, req SpinRequest) (*SpinResponse, error) {
	if err := validateSpin(req); err != nil {
		return nil, err
	}
	bet := normalizeAmount(req.Bet)

	rec, err := s.db.ExecSpin(ctx, req.ClientSeed, func(p store.Params) (store.SpinResult, error) {
		out := games.SpinWithSeeds(p.ServerSeed, req.ClientSeed, p.Nonce, s.engineParams(p), bet, req.Lines)
		return store.SpinResult{
			Reels:  out.Indices(),
			Bet:    bet,
			Lines:  out.Lines,
			Payout: normalizeAmount(out.Payout),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spin",
		zap.String("spin_id", rec.ID),
		logging.Seed("client_seed", rec.ClientSeed),
		zap.Uint64("nonce", rec.Nonce),
		zap.String("server_seed_hash", rec.ServerSeedHash),
		zap.Float64("bet", rec.Bet),
		zap.Float64("payout", rec.Payout),
	)

	return &SpinResponse{
		SpinID:         rec.ID,
		ServerSeedHash: rec.ServerSeedHash,
		Nonce:          rec.Nonce,
		Reels:          rec.Reels,
		Bet:            rec.Bet,
		Lines:          rec.Lines,
		Payout:         rec.Payout,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// Commitment returns the live seed commitment and the last nonce used.
func (s *SlotService) Commitment(ctx context.Context) (*CommitmentResponse, error) {
	p, err := s.db.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	return &CommitmentResponse{ServerSeedHash: p.ServerSeedHash, Nonce: p.Nonce, EpochID: p.EpochID}, nil
}

// CurrentEngineParams returns the parameters the next spin would use.
func (s *SlotService) CurrentEngineParams(ctx context.Context) (games.EngineParams, error) {
	p, err := s.db.GetParams(ctx)
	if err != nil {
		return games.EngineParams{}, err
	}
	return s.engineParams(*p), nil
}

// SetParams replaces the RTP target and paytable. The seed and nonce are
// untouched.
func (s *SlotService) SetParams(ctx context.Context, rtpTarget float64, paytable games.Paytable) error {
	if math.IsNaN(rtpTarget) || rtpTarget < 0 || rtpTarget > 1 {
		return ErrInvalidRTP
	}
	raw, err := paytable.MarshalString()
	if err != nil {
		return fmt.Errorf("encode paytable: %w", err)
	}
	if err := s.db.SetParams(ctx, rtpTarget, raw); err != nil {
		return err
	}
	s.logger.Info("params updated", zap.Float64("rtp_target", rtpTarget), zap.Int("paytable_entries", len(paytable)))
	return nil
}

// RotateSeed retires the live seed and installs newSeed, or a random seed
// when newSeed is empty.
func (s *SlotService) RotateSeed(ctx context.Context, newSeed string) (*RotateResponse, error) {
	if newSeed == "" {
		seed, err := GenerateServerSeed()
		if err != nil {
			return nil, err
		}
		newSeed = seed
	}
	epoch, err := s.db.RotateSeed(ctx, newSeed)
	if err != nil {
		return nil, err
	}
	newHash := engine.Commitment(newSeed)
	s.logger.Info("server seed rotated",
		zap.String("retired_epoch", epoch.ID),
		zap.String("retired_hash", epoch.ServerSeedHash),
		zap.Uint64("final_nonce", epoch.FinalNonce),
		zap.String("new_hash", newHash),
	)
	return &RotateResponse{Revealed: *epoch, NewServerSeedHash: newHash}, nil
}

// History pages through recorded spins, newest first.
func (s *SlotService) History(ctx context.Context, query store.SpinsQuery) (*store.SpinsPage, error) {
	return s.db.ListSpins(ctx, query)
}

// GetSpin returns one recorded spin.
func (s *SlotService) GetSpin(ctx context.Context, id string) (*store.SpinRecord, error) {
	return s.db.GetSpin(ctx, id)
}

// RevealedSeeds lists retired seeds, most recently rotated first.
func (s *SlotService) RevealedSeeds(ctx context.Context, limit, offset int) ([]store.SeedEpoch, error) {
	return s.db.ListSeedEpochs(ctx, limit, offset)
}

// Stats aggregates the history. RTP is total payout over total bet, zero when
// nothing has been wagered.
func (s *SlotService) Stats(ctx context.Context) (*Stats, error) {
	totals, err := s.db.Totals(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.db.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Totals:         *totals,
		RTP:            rtp(totals.TotalPayout, totals.TotalBet),
		RTPTarget:      p.RTPTarget,
		ServerSeedHash: p.ServerSeedHash,
		Nonce:          p.Nonce,
	}, nil
}

func rtp(payout, bet float64) decimal.Decimal {
	b := decimal.NewFromFloat(bet)
	if b.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(payout).DivRound(b, amountPlaces)
}

// Ping checks that the store is reachable.
func (s *SlotService) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ExportCSV writes the full spin history to w, oldest first.
func (s *SlotService) ExportCSV(ctx context.Context, w io.Writer) error {
	return s.db.ExportCSV(ctx, w)
}

// liveOrDefaultParams returns the stored engine parameters, or the defaults
// with the configured reels before the params row exists.
func (s *SlotService) liveOrDefaultParams(ctx context.Context) (games.EngineParams, error) {
	params, err := s.CurrentEngineParams(ctx)
	if errors.Is(err, store.ErrParamsNotFound) {
		return games.EngineParams{Reels: s.reels, Paytable: games.DefaultPaytable()}, nil
	}
	return params, err
}

// Scan runs a nonce scan. Without explicit engine parameters it uses the
// configured reels and the stored paytable.
func (s *SlotService) Scan(ctx context.Context, req scan.ScanRequest) (*scan.ScanResult, error) {
	if req.Engine == nil && (req.Game == "" || req.Game == "slot") {
		params, err := s.liveOrDefaultParams(ctx)
		if err != nil {
			return nil, err
		}
		req.Engine = &params
	}
	start := time.Now()
	res, err := s.scanner.Scan(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scan",
		logging.Seed("server_seed", req.Seeds.Server),
		logging.Seed("client_seed", req.Seeds.Client),
		zap.Uint64("nonce_start", req.NonceStart),
		zap.Uint64("nonce_end", req.NonceEnd),
		zap.Uint64("evaluated", res.Summary.TotalEvaluated),
		zap.Int("hits", res.Summary.HitsFound),
		zap.Bool("timed_out", res.Summary.TimedOut),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Replay runs a betting script against a revealed server seed using the live
// reels and paytable.
func (s *SlotService) Replay(ctx context.Context, source string, opts strategy.Options) (*strategy.Result, error) {
	if len(opts.ClientSeed) > MaxClientSeedLength {
		return nil, ErrInvalidSeed
	}
	params, err := s.liveOrDefaultParams(ctx)
	if err != nil {
		return nil, err
	}
	opts.Engine = params

	start := time.Now()
	res, err := strategy.Replay(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("replay",
		zap.String("server_seed_hash", res.ServerSeedHash),
		logging.Seed("client_seed", opts.ClientSeed),
		zap.Int("bets", res.Stats.Bets),
		zap.String("profit", res.Stats.Profit.String()),
		zap.String("stop_reason", res.StopReason),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}
