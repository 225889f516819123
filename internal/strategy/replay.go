// Package strategy replays scripted betting strategies against revealed
// seeds. Every bet is recomputed from the seeds, so a replay is fully
// deterministic for a given script and Options.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
)

const (
	// amountPlaces is the precision bets and payouts are rounded to.
	amountPlaces = 8

	DefaultMaxBets      = 1000
	MaxBetsLimit        = 100_000
	defaultCallTimeout  = 250 * time.Millisecond
	defaultChartPoints  = 200
	maxClientSeedLength = 256
)

// Stop reasons reported in Result.StopReason.
const (
	StopScript    = "stop"
	StopBalance   = "insufficient_balance"
	StopMaxBets   = "max_bets"
	StopCancelled = "cancelled"
)

var (
	ErrNoDobet         = errors.New("script must define a dobet() function")
	ErrInvalidNextBet  = errors.New("nextbet must be a positive finite number")
	ErrMissingSeeds    = errors.New("server and client seeds are required")
	ErrTooManyBets     = fmt.Errorf("max_bets cannot exceed %d", MaxBetsLimit)
	ErrInvalidBalance  = errors.New("start_balance cannot be negative")
	ErrInvalidStartBet = errors.New("base_bet must be positive")
)

// Options configures a replay.
type Options struct {
	ServerSeed string `json:"server_seed"`
	ClientSeed string `json:"client_seed"`
	// StartNonce defaults to 1.
	StartNonce uint64 `json:"start_nonce"`
	// MaxBets defaults to DefaultMaxBets.
	MaxBets int `json:"max_bets"`
	// StartBalance enables the balance check when positive. With a zero
	// balance the session can run into negative profit.
	StartBalance float64 `json:"start_balance"`
	// BaseBet seeds basebet and nextbet before the script runs; default 1.
	BaseBet float64 `json:"base_bet"`
	// Lines defaults to 1.
	Lines       uint32             `json:"lines"`
	Engine      games.EngineParams `json:"-"`
	CallTimeout time.Duration      `json:"-"`
	ChartPoints int                `json:"-"`
}

// Bet is one replayed spin.
type Bet struct {
	Number     int             `json:"number"`
	ClientSeed string          `json:"client_seed"`
	Nonce      uint64          `json:"nonce"`
	Reels      games.Grid      `json:"reels"`
	Amount     decimal.Decimal `json:"amount"`
	Lines      uint32          `json:"lines"`
	Payout     decimal.Decimal `json:"payout"`
	Balance    decimal.Decimal `json:"balance"`
}

// Result is the outcome of a replay.
type Result struct {
	ServerSeedHash string          `json:"server_seed_hash"`
	Bets           []Bet           `json:"bets"`
	Stats          *Statistics     `json:"stats"`
	RTP            decimal.Decimal `json:"rtp"`
	Chart          []ChartPoint    `json:"chart"`
	Logs           []LogEntry      `json:"logs"`
	StopReason     string          `json:"stop_reason"`
}

func (o *Options) withDefaults() error {
	if o.ServerSeed == "" || o.ClientSeed == "" {
		return ErrMissingSeeds
	}
	if o.StartNonce == 0 {
		o.StartNonce = 1
	}
	if o.MaxBets <= 0 {
		o.MaxBets = DefaultMaxBets
	}
	if o.MaxBets > MaxBetsLimit {
		return ErrTooManyBets
	}
	if o.StartBalance < 0 {
		return ErrInvalidBalance
	}
	if o.BaseBet < 0 {
		return ErrInvalidStartBet
	}
	if o.BaseBet == 0 {
		o.BaseBet = 1
	}
	if o.Lines == 0 {
		o.Lines = 1
	}
	if len(o.Engine.Reels.Reels) == 0 {
		o.Engine = games.DefaultEngineParams(0)
	}
	if o.ChartPoints <= 0 {
		o.ChartPoints = defaultChartPoints
	}
	return nil
}

// Replay runs source against sequential nonces. The script's top level runs
// once, then dobet() runs after every bet to choose the next one. The loop
// ends on stop(), when the next bet exceeds a positive starting balance, at
// MaxBets, or when ctx is done. A script error or an invalid nextbet aborts
// the replay with an error.
func Replay(ctx context.Context, source string, opts Options) (*Result, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}

	vm := NewVM(opts.CallTimeout)
	stats := NewStatistics(decimal.NewFromFloat(opts.StartBalance))
	chart := NewChartBuffer(opts.ChartPoints)
	vars := &Variables{
		NextBet:    opts.BaseBet,
		BaseBet:    opts.BaseBet,
		Nonce:      opts.StartNonce,
		ClientSeed: opts.ClientSeed,
		Lines:      opts.Lines,
		Stats:      stats,
	}
	res := &Result{
		ServerSeedHash: engine.Commitment(opts.ServerSeed),
		Bets:           make([]Bet, 0, min(opts.MaxBets, 1024)),
		Stats:          stats,
	}
	finish := func(reason string) (*Result, error) {
		res.StopReason = reason
		res.RTP = stats.RTP()
		res.Chart = chart.Points
		res.Logs = vm.Logs()
		return res, nil
	}

	injectVariables(vm.runtime, vars)
	if err := vm.Execute(ctx, source); err != nil {
		return nil, err
	}
	if !vm.HasDobet() {
		return nil, ErrNoDobet
	}
	syncFromVM(vm.runtime, vars)
	applyResetSeed(vm, vars)

	limited := stats.StartBal.IsPositive()
	for {
		if vm.IsStopRequested() {
			return finish(stopReason(vm))
		}
		if stats.Bets >= opts.MaxBets {
			return finish(StopMaxBets)
		}
		if ctx.Err() != nil {
			return finish(StopCancelled)
		}

		amount := betAmount(vars.NextBet)
		if !amount.IsPositive() {
			return nil, fmt.Errorf("bet %d: %w (got %v)", stats.Bets+1, ErrInvalidNextBet, vars.NextBet)
		}
		if limited && amount.GreaterThan(stats.Balance) {
			return finish(StopBalance)
		}

		out := games.SpinWithSeeds(opts.ServerSeed, vars.ClientSeed, vars.Nonce, opts.Engine, amount.InexactFloat64(), vars.Lines)
		payout := decimal.NewFromFloat(out.Payout).Round(amountPlaces)
		stats.RecordBet(amount, payout)

		reels := out.Indices()
		res.Bets = append(res.Bets, Bet{
			Number:     stats.Bets,
			ClientSeed: vars.ClientSeed,
			Nonce:      vars.Nonce,
			Reels:      reels,
			Amount:     amount,
			Lines:      vars.Lines,
			Payout:     payout,
			Balance:    stats.Balance,
		})
		chart.Push(ChartPoint{BetNumber: stats.Bets, Profit: stats.Profit, Win: payout.IsPositive()})

		vars.PreviousBet = amount.InexactFloat64()
		vars.Win = payout.IsPositive()
		vars.Payout = payout.InexactFloat64()
		vars.LastReels = reels
		vars.Nonce++

		vm.bet = stats.Bets
		injectVariables(vm.runtime, vars)
		if err := vm.CallDobet(ctx); err != nil {
			if ctx.Err() != nil {
				return finish(StopCancelled)
			}
			return nil, fmt.Errorf("bet %d: %w", stats.Bets, err)
		}
		syncFromVM(vm.runtime, vars)
		applyResetSeed(vm, vars)
	}
}

// applyResetSeed switches to a seed requested with resetseed(). The nonce
// restarts at 1 as it does after a real client seed change.
func applyResetSeed(vm *VM, vars *Variables) {
	if seed, ok := vm.takeClientSeed(); ok {
		vars.ClientSeed = seed
		vars.Nonce = 1
	}
}

func stopReason(vm *VM) string {
	if vm.stopReason != "" {
		return StopScript + ": " + vm.stopReason
	}
	return StopScript
}
