package games

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/MJE43/tigrinho-pf/internal/engine"
)

// FloatSource yields floats in [0, 1). *engine.FloatStream implements it.
type FloatSource interface {
	Next() float64
}

// EngineParams is the operator state a spin is evaluated against.
type EngineParams struct {
	Reels     ReelsConfig `json:"reels"`
	Paytable  Paytable    `json:"paytable"`
	RTPTarget float64     `json:"rtp_target"` // informational only
}

// NewEngineParams validates the reel configuration for the row payout rule.
func NewEngineParams(reels ReelsConfig, paytable Paytable, rtpTarget float64) (EngineParams, error) {
	if err := reels.Validate(); err != nil {
		return EngineParams{}, err
	}
	if reels.Columns() != PayoutColumns {
		return EngineParams{}, fmt.Errorf("%w: got %d", ErrPayoutColumns, reels.Columns())
	}
	return EngineParams{Reels: reels, Paytable: paytable, RTPTarget: rtpTarget}, nil
}

// DefaultEngineParams returns the default reels and paytable.
func DefaultEngineParams(rtpTarget float64) EngineParams {
	return EngineParams{Reels: DefaultReels3x3(), Paytable: DefaultPaytable(), RTPTarget: rtpTarget}
}

// SpinOutcome is the visible window (rows x columns) and the total payout.
type SpinOutcome struct {
	Window [][]Symbol `json:"window"`
	Payout float64    `json:"payout"`
	Lines  uint32     `json:"lines"`
}

// Indices returns the window as symbol indices.
func (o SpinOutcome) Indices() Grid {
	return WindowIndices(o.Window)
}

// ComputeWindow draws one float per column and lays out the visible rows.
// Column c starts at floor(f*len) mod len and row r shows strip[(start+r) mod len].
// Every strip must be non-empty.
func ComputeWindow(src FloatSource, reels ReelsConfig) [][]Symbol {
	floats := make([]float64, len(reels.Reels))
	for i := range floats {
		floats[i] = src.Next()
	}
	return windowFromFloats(floats, reels)
}

func windowFromFloats(floats []float64, reels ReelsConfig) [][]Symbol {
	rows := reels.Rows
	if rows < 0 {
		rows = 0
	}
	cols := len(reels.Reels)

	window := make([][]Symbol, rows)
	cells := make([]Symbol, rows*cols)
	for r := range window {
		window[r] = cells[r*cols : (r+1)*cols : (r+1)*cols]
	}

	for c, strip := range reels.Reels {
		n := len(strip)
		start := int(floats[c]*float64(n)) % n
		for r := 0; r < rows; r++ {
			window[r][c] = strip[(start+r)%n]
		}
	}
	return window
}

// EvaluatePayout prices every row of the window. A row of at least three
// columns matches when any of its first three symbols is Wild or all three
// are equal; it pays bet times the multiplier for three of the effective
// symbol, which is the second symbol when the first is Wild and the first
// symbol otherwise. Narrower rows never match.
func EvaluatePayout(window [][]Symbol, paytable Paytable, bet float64) float64 {
	total := 0.0
	for _, row := range window {
		if len(row) < PayoutColumns {
			continue
		}
		a, b, c := row[0], row[1], row[2]
		if !(a.IsWild() || b.IsWild() || c.IsWild() || (a == b && b == c)) {
			continue
		}
		sym := a
		if a.IsWild() {
			sym = b
		}
		if m, ok := paytable.Find(sym.Index(), 3); ok {
			total += bet * m
		}
	}
	return total
}

// Spin builds the window from src and prices it. lines is carried through to
// the outcome but does not affect the payout.
func Spin(src FloatSource, params EngineParams, bet float64, lines uint32) SpinOutcome {
	window := ComputeWindow(src, params.Reels)
	return SpinOutcome{
		Window: window,
		Payout: EvaluatePayout(window, params.Paytable, bet),
		Lines:  lines,
	}
}

// SpinWithSeeds runs Spin on a fresh stream for (serverSeed, clientSeed, nonce).
func SpinWithSeeds(serverSeed, clientSeed string, nonce uint64, params EngineParams, bet float64, lines uint32) SpinOutcome {
	return Spin(engine.NewFloatStream(serverSeed, clientSeed, nonce), params, bet, lines)
}

// Verify recomputes the window and compares it with expected index for index.
// Any shape difference, or a reel configuration that can't produce a window,
// is a mismatch.
func Verify(serverSeed, clientSeed string, nonce uint64, reels ReelsConfig, expected [][]uint8) bool {
	if reels.Validate() != nil {
		return false
	}
	window := ComputeWindow(engine.NewFloatStream(serverSeed, clientSeed, nonce), reels)
	if len(window) != len(expected) {
		return false
	}
	for r, row := range window {
		if len(row) != len(expected[r]) {
			return false
		}
		for c, sym := range row {
			if sym.Index() != expected[r][c] {
				return false
			}
		}
	}
	return true
}

// WindowIndices converts a window to its wire form.
func WindowIndices(window [][]Symbol) Grid {
	out := make(Grid, len(window))
	for r, row := range window {
		out[r] = make([]uint8, len(row))
		for c, sym := range row {
			out[r][c] = sym.Index()
		}
	}
	return out
}

// WindowFromIndices converts wire indices back to symbols, reducing each mod 5.
func WindowFromIndices(indices [][]uint8) [][]Symbol {
	out := make([][]Symbol, len(indices))
	for r, row := range indices {
		out[r] = make([]Symbol, len(row))
		for c, idx := range row {
			out[r][c] = SymbolFromIndex(uint64(idx))
		}
	}
	return out
}

// Grid is a window in wire form: rows of symbol indices. It encodes as
// nested JSON number arrays rather than base64 rows.
type Grid [][]uint8

// MarshalJSON implements json.Marshaler.
func (g Grid) MarshalJSON() ([]byte, error) {
	rows := make([][]int, len(g))
	for i, row := range g {
		rows[i] = make([]int, len(row))
		for j, v := range row {
			rows[i][j] = int(v)
		}
	}
	return jsoniter.Marshal(rows)
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var rows [][]int
	if err := jsoniter.Unmarshal(data, &rows); err != nil {
		return err
	}
	if rows == nil {
		*g = nil
		return nil
	}
	out := make(Grid, len(rows))
	for i, row := range rows {
		out[i] = make([]uint8, len(row))
		for j, v := range row {
			if v < 0 || v > 255 {
				return fmt.Errorf("symbol index %d at (%d,%d) is out of range", v, i, j)
			}
			out[i][j] = uint8(v)
		}
	}
	*g = out
	return nil
}
