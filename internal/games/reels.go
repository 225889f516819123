package games

import (
	"errors"
	"fmt"
)

var (
	ErrNoReels       = errors.New("reel configuration has no columns")
	ErrEmptyStrip    = errors.New("reel strip is empty")
	ErrInvalidRows   = errors.New("visible rows must be at least 1")
	ErrPayoutColumns = errors.New("payout rule requires exactly 3 columns")
)

// PayoutColumns is the number of columns the row payout rule inspects.
const PayoutColumns = 3

// ReelsConfig describes one strip per column and how many rows are visible.
// Rows may exceed a strip's length; the window wraps around the strip.
type ReelsConfig struct {
	Reels [][]Symbol `json:"reels" yaml:"reels"`
	Rows  int        `json:"rows" yaml:"rows"`
}

// DefaultReelStrip returns the built-in strip A B C D Wild A B C D.
func DefaultReelStrip() []Symbol {
	return []Symbol{SymbolA, SymbolB, SymbolC, SymbolD, SymbolWild, SymbolA, SymbolB, SymbolC, SymbolD}
}

// DefaultReels3x3 returns three identical default strips with three visible rows.
func DefaultReels3x3() ReelsConfig {
	return ReelsConfig{
		Reels: [][]Symbol{DefaultReelStrip(), DefaultReelStrip(), DefaultReelStrip()},
		Rows:  3,
	}
}

// Columns returns the number of reels.
func (rc ReelsConfig) Columns() int {
	return len(rc.Reels)
}

// Validate checks the structural invariants the window builder relies on.
func (rc ReelsConfig) Validate() error {
	if len(rc.Reels) == 0 {
		return ErrNoReels
	}
	for i, strip := range rc.Reels {
		if len(strip) == 0 {
			return fmt.Errorf("column %d: %w", i, ErrEmptyStrip)
		}
	}
	if rc.Rows < 1 {
		return ErrInvalidRows
	}
	return nil
}

// Clone returns a deep copy so callers can't alias the strips.
func (rc ReelsConfig) Clone() ReelsConfig {
	out := ReelsConfig{Rows: rc.Rows, Reels: make([][]Symbol, len(rc.Reels))}
	for i, strip := range rc.Reels {
		out.Reels[i] = append([]Symbol(nil), strip...)
	}
	return out
}
