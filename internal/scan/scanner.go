package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
)

// MaxRange caps how many nonces a single scan may cover.
const MaxRange = 10_000_000

// TargetOp represents comparison operations for scanning
type TargetOp string

const (
	OpEqual        TargetOp = "eq"
	OpGreater      TargetOp = "gt"
	OpGreaterEqual TargetOp = "ge"
	OpLess         TargetOp = "lt"
	OpLessEqual    TargetOp = "le"
	OpBetween      TargetOp = "between"
	OpOutside      TargetOp = "outside"
)

// Valid reports whether op is a known operator.
func (op TargetOp) Valid() bool {
	switch op {
	case OpEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpBetween, OpOutside:
		return true
	}
	return false
}

// ScanRequest represents a scan operation request. Engine overrides the
// registered game's reels and paytable when set.
type ScanRequest struct {
	Game       string              `json:"game"`
	Seeds      games.Seeds         `json:"seeds"`
	NonceStart uint64              `json:"nonce_start"`
	NonceEnd   uint64              `json:"nonce_end"`
	Params     map[string]any      `json:"params,omitempty"`
	Engine     *games.EngineParams `json:"engine,omitempty"`
	Bet        float64             `json:"bet,omitempty"` // defaults to 1
	TargetOp   TargetOp            `json:"target_op"`
	TargetVal  float64             `json:"target_val"`
	TargetVal2 float64             `json:"target_val2,omitempty"` // for "between" and "outside"
	Tolerance  float64             `json:"tolerance"`             // default 1e-9
	Limit      int                 `json:"limit,omitempty"`
	TimeoutMs  int                 `json:"timeout_ms,omitempty"`
}

// Hit represents a single matching result
type Hit struct {
	Nonce  uint64  `json:"nonce"`
	Metric float64 `json:"metric"`
}

// Summary contains aggregate statistics. Min/Max/Mean cover the hits; the
// money fields cover every evaluated nonce.
type Summary struct {
	TotalEvaluated uint64          `json:"total_evaluated"`
	HitsFound      int             `json:"hits_found"`
	MinMetric      float64         `json:"min_metric"`
	MaxMetric      float64         `json:"max_metric"`
	MeanMetric     float64         `json:"mean_metric"`
	WinningSpins   uint64          `json:"winning_spins"`
	TotalBet       decimal.Decimal `json:"total_bet"`
	TotalPayout    decimal.Decimal `json:"total_payout"`
	RTP            decimal.Decimal `json:"rtp"`
	TimedOut       bool            `json:"timed_out,omitempty"`
}

// ScanResult contains the complete scan results
type ScanResult struct {
	Hits          []Hit       `json:"hits"`
	Summary       Summary     `json:"summary"`
	EngineVersion string      `json:"engine_version,omitempty"`
	Echo          ScanRequest `json:"echo"`
}

// Err returns ErrTimeout when the scan stopped before covering the range.
func (r *ScanResult) Err() error {
	if r.Summary.TimedOut {
		return ErrTimeout
	}
	return nil
}

// ScanJob represents a batch of nonces to process
type ScanJob struct {
	NonceStart uint64
	NonceEnd   uint64
}

// Scanner scans nonce ranges with a pool of workers.
type Scanner struct {
	workerCount int
	floatPool   *sync.Pool
}

// TargetEvaluator handles target condition evaluation with tolerance
type TargetEvaluator struct {
	op        TargetOp
	val1      float64
	val2      float64 // for "between" and "outside"
	tolerance float64
}

// NewTargetEvaluator creates a new target evaluator
func NewTargetEvaluator(op TargetOp, val1, val2, tolerance float64) *TargetEvaluator {
	return &TargetEvaluator{
		op:        op,
		val1:      val1,
		val2:      val2,
		tolerance: tolerance,
	}
}

// Matches checks if a metric matches the target criteria
func (te *TargetEvaluator) Matches(metric float64) bool {
	switch te.op {
	case OpEqual:
		return math.Abs(metric-te.val1) <= te.tolerance
	case OpGreater:
		return metric > te.val1+te.tolerance
	case OpGreaterEqual:
		return metric >= te.val1-te.tolerance
	case OpLess:
		return metric < te.val1-te.tolerance
	case OpLessEqual:
		return metric <= te.val1+te.tolerance
	case OpBetween:
		return metric >= te.val1-te.tolerance && metric <= te.val2+te.tolerance
	case OpOutside:
		return metric < te.val1-te.tolerance || metric > te.val2+te.tolerance
	default:
		return false
	}
}

// NewScanner creates a scanner with one worker per available CPU.
func NewScanner() *Scanner {
	return NewScannerWithWorkers(runtime.GOMAXPROCS(0))
}

// NewScannerWithWorkers creates a scanner with a fixed worker count.
func NewScannerWithWorkers(n int) *Scanner {
	if n < 1 {
		n = 1
	}
	return &Scanner{
		workerCount: n,
		floatPool: &sync.Pool{
			New: func() any {
				s := make([]float64, 0, 8)
				return &s
			},
		},
	}
}

func (s *Scanner) resolveGame(req ScanRequest) (games.Game, error) {
	if req.Engine != nil {
		params, err := games.NewEngineParams(req.Engine.Reels, req.Engine.Paytable, req.Engine.RTPTarget)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return &games.SlotGame{Params: params}, nil
	}
	name := req.Game
	if name == "" {
		name = "slot"
	}
	game, ok := games.GetGame(name)
	if !ok {
		return nil, ErrGameNotFound
	}
	return game, nil
}

func validate(req ScanRequest) error {
	if req.NonceEnd < req.NonceStart {
		return fmt.Errorf("%w: nonce_end %d is before nonce_start %d", ErrInvalidRange, req.NonceEnd, req.NonceStart)
	}
	if req.NonceEnd-req.NonceStart >= MaxRange {
		return fmt.Errorf("%w: at most %d nonces per scan", ErrInvalidRange, MaxRange)
	}
	if !req.TargetOp.Valid() {
		return fmt.Errorf("%w: unknown target_op %q", ErrInvalidParams, req.TargetOp)
	}
	if (req.TargetOp == OpBetween || req.TargetOp == OpOutside) && req.TargetVal2 < req.TargetVal {
		return fmt.Errorf("%w: target_val2 must be >= target_val", ErrInvalidParams)
	}
	if req.Bet < 0 || math.IsNaN(req.Bet) || math.IsInf(req.Bet, 0) {
		return fmt.Errorf("%w: bet must be a finite non-negative number", ErrInvalidParams)
	}
	if req.Limit < 0 || req.TimeoutMs < 0 || req.Tolerance < 0 {
		return fmt.Errorf("%w: limit, timeout_ms and tolerance must not be negative", ErrInvalidParams)
	}
	return nil
}

// Scan evaluates every nonce in [NonceStart, NonceEnd] and returns the hits
// in nonce order. A timeout or cancellation yields a partial result with
// Summary.TimedOut set rather than an error.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	game, err := s.resolveGame(req)
	if err != nil {
		return nil, err
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = 1e-9
	}
	bet := req.Bet
	if bet == 0 {
		bet = 1
	}

	evaluator := NewTargetEvaluator(req.TargetOp, req.TargetVal, req.TargetVal2, tolerance)
	jobs := make(chan ScanJob, s.workerCount*2)
	hits := make(chan Hit, 1024)
	totals := &aggregate{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.generateJobs(gctx, jobs, req.NonceStart, req.NonceEnd)
	})
	for i := 0; i < s.workerCount; i++ {
		w := &scanWorker{
			jobs:      jobs,
			hits:      hits,
			game:      game,
			seeds:     req.Seeds,
			params:    req.Params,
			bet:       decimal.NewFromFloat(bet),
			evaluator: evaluator,
			floatPool: s.floatPool,
			totals:    totals,
		}
		g.Go(func() error { return w.run(gctx) })
	}

	var waitErr error
	go func() {
		waitErr = g.Wait()
		close(hits)
	}()

	collected := make([]Hit, 0, 64)
	for hit := range hits {
		collected = append(collected, hit)
	}

	timedOut := false
	if waitErr != nil {
		if !errors.Is(waitErr, context.DeadlineExceeded) && !errors.Is(waitErr, context.Canceled) {
			return nil, waitErr
		}
		timedOut = true
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Nonce < collected[j].Nonce })
	summary := summarize(collected, totals, decimal.NewFromFloat(bet), timedOut)
	if req.Limit > 0 && len(collected) > req.Limit {
		collected = collected[:req.Limit]
	}

	return &ScanResult{
		Hits:    collected,
		Summary: summary,
		Echo:    req,
	}, nil
}

// generateJobs splits [start, end] into batches without overflowing at MaxUint64.
func (s *Scanner) generateJobs(ctx context.Context, jobs chan<- ScanJob, start, end uint64) error {
	defer close(jobs)

	const batchSize = 4096

	for current := start; ; {
		batchEnd := end
		if end-current >= batchSize {
			batchEnd = current + batchSize - 1
		}

		select {
		case jobs <- ScanJob{NonceStart: current, NonceEnd: batchEnd}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if batchEnd == end {
			return nil
		}
		current = batchEnd + 1
	}
}

// aggregate merges per-worker totals.
type aggregate struct {
	mu        sync.Mutex
	evaluated uint64
	wins      uint64
	payout    decimal.Decimal
}

func (a *aggregate) add(evaluated, wins uint64, payout decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evaluated += evaluated
	a.wins += wins
	a.payout = a.payout.Add(payout)
}

type scanWorker struct {
	jobs      <-chan ScanJob
	hits      chan<- Hit
	game      games.Game
	seeds     games.Seeds
	params    map[string]any
	bet       decimal.Decimal
	evaluator *TargetEvaluator
	floatPool *sync.Pool
	totals    *aggregate

	evaluated uint64
	wins      uint64
	payout    decimal.Decimal
}

func (w *scanWorker) run(ctx context.Context) error {
	defer func() { w.totals.add(w.evaluated, w.wins, w.payout) }()

	buf := w.floatPool.Get().(*[]float64)
	defer w.floatPool.Put(buf)

	floatsNeeded := w.game.FloatCount(w.params)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return nil
			}
			if err := w.process(ctx, job, buf, floatsNeeded); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *scanWorker) process(ctx context.Context, job ScanJob, buf *[]float64, floatsNeeded int) error {
	for nonce := job.NonceStart; ; nonce++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		*buf = engine.FloatsInto(*buf, w.seeds.Server, w.seeds.Client, nonce, floatsNeeded)
		result, err := w.game.EvaluateWithFloats(*buf, w.params)
		if err != nil {
			return fmt.Errorf("nonce %d: %w", nonce, err)
		}

		w.evaluated++
		if result.Metric > 0 {
			w.wins++
			w.payout = w.payout.Add(w.bet.Mul(decimal.NewFromFloat(result.Metric)))
		}

		if w.evaluator.Matches(result.Metric) {
			select {
			case w.hits <- Hit{Nonce: nonce, Metric: result.Metric}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if nonce == job.NonceEnd {
			return nil
		}
	}
}

func summarize(hits []Hit, totals *aggregate, bet decimal.Decimal, timedOut bool) Summary {
	totals.mu.Lock()
	defer totals.mu.Unlock()

	summary := Summary{
		TotalEvaluated: totals.evaluated,
		HitsFound:      len(hits),
		WinningSpins:   totals.wins,
		TotalBet:       bet.Mul(decimal.NewFromInt(int64(totals.evaluated))),
		TotalPayout:    totals.payout,
		RTP:            decimal.Zero,
		TimedOut:       timedOut,
	}
	if !summary.TotalBet.IsZero() {
		summary.RTP = summary.TotalPayout.DivRound(summary.TotalBet, 8)
	}

	if len(hits) == 0 {
		return summary
	}

	min, max, sum := hits[0].Metric, hits[0].Metric, 0.0
	for _, h := range hits {
		if h.Metric < min {
			min = h.Metric
		}
		if h.Metric > max {
			max = h.Metric
		}
		sum += h.Metric
	}
	summary.MinMetric = min
	summary.MaxMetric = max
	summary.MeanMetric = sum / float64(len(hits))
	return summary
}
