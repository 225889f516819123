package games

import (
	"fmt"
	"strconv"
	"strings"
)

// Symbol is one of the five reel symbols. Its numeric value is the wire index.
type Symbol uint8

const (
	SymbolA Symbol = iota
	SymbolB
	SymbolC
	SymbolD
	SymbolWild
)

// SymbolCount is the size of the closed symbol set.
const SymbolCount = 5

var symbolNames = [SymbolCount]string{"A", "B", "C", "D", "Wild"}

// SymbolFromIndex maps any integer onto the symbol set by reducing it mod 5.
func SymbolFromIndex(i uint64) Symbol {
	return Symbol(i % SymbolCount)
}

// Index returns the wire index in [0, 4].
func (s Symbol) Index() uint8 {
	return uint8(s) % SymbolCount
}

// IsWild reports whether s is the Wild symbol.
func (s Symbol) IsWild() bool {
	return s.Index() == uint8(SymbolWild)
}

func (s Symbol) String() string {
	return symbolNames[s.Index()]
}

// ParseSymbol accepts a symbol name (case-insensitive) or its decimal index.
func ParseSymbol(text string) (Symbol, error) {
	text = strings.TrimSpace(text)
	for i, name := range symbolNames {
		if strings.EqualFold(text, name) {
			return Symbol(i), nil
		}
	}
	if n, err := strconv.ParseUint(text, 10, 8); err == nil && n < SymbolCount {
		return Symbol(n), nil
	}
	return 0, fmt.Errorf("unknown symbol %q", text)
}

// MarshalText encodes the symbol by name.
func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a symbol name or index.
func (s *Symbol) UnmarshalText(text []byte) error {
	sym, err := ParseSymbol(string(text))
	if err != nil {
		return err
	}
	*s = sym
	return nil
}
