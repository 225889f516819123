package games

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// PaytableEntry prices a run of Count identical symbols.
type PaytableEntry struct {
	Symbol           uint8   `json:"symbol" yaml:"symbol"`
	Count            uint8   `json:"count" yaml:"count"`
	PayoutMultiplier float64 `json:"payout_multiplier" yaml:"payout_multiplier"`
}

// Paytable is an ordered list of entries. Lookups return the first match.
type Paytable []PaytableEntry

// DefaultPaytable returns the built-in table: A=5, B=4, C=3, D=2, Wild=10, all for three of a kind.
func DefaultPaytable() Paytable {
	return Paytable{
		{Symbol: SymbolA.Index(), Count: 3, PayoutMultiplier: 5},
		{Symbol: SymbolB.Index(), Count: 3, PayoutMultiplier: 4},
		{Symbol: SymbolC.Index(), Count: 3, PayoutMultiplier: 3},
		{Symbol: SymbolD.Index(), Count: 3, PayoutMultiplier: 2},
		{Symbol: SymbolWild.Index(), Count: 3, PayoutMultiplier: 10},
	}
}

// Find returns the multiplier of the first entry matching (symbol, count).
func (p Paytable) Find(symbol, count uint8) (float64, bool) {
	for _, e := range p {
		if e.Symbol == symbol && e.Count == count {
			return e.PayoutMultiplier, true
		}
	}
	return 0, false
}

// Multiplier is Find with absent entries priced at zero.
func (p Paytable) Multiplier(symbol Symbol, count uint8) float64 {
	m, _ := p.Find(symbol.Index(), count)
	return m
}

// MarshalString encodes the table in its stored JSON form.
func (p Paytable) MarshalString() (string, error) {
	if p == nil {
		p = Paytable{}
	}
	return jsoniter.MarshalToString(p)
}

var errEmptyPaytable = errors.New("paytable json is empty")

// ParsePaytable decodes the stored JSON form.
func ParsePaytable(raw string) (Paytable, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errEmptyPaytable
	}
	var p Paytable
	if err := jsoniter.UnmarshalFromString(raw, &p); err != nil {
		return nil, fmt.Errorf("decode paytable: %w", err)
	}
	return p, nil
}

// PaytableOrDefault decodes raw and falls back to DefaultPaytable when it
// can't be parsed. The decode error is returned alongside the fallback so the
// caller can report it; the returned table is always usable.
func PaytableOrDefault(raw string) (Paytable, error) {
	p, err := ParsePaytable(raw)
	if err != nil {
		return DefaultPaytable(), err
	}
	return p, nil
}
