// Package asset handles asset symbol parsing and normalization.
//
// A Symbol is the key of every per-asset structure in the engine. Using a
// distinct type instead of a bare string keeps call sites from mixing
// symbols with account IDs or lot IDs.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches upper-case tickers, optionally with a chain suffix.
// Examples: BTC, ETH, USDC, USDC.E, 1INCH
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,12}(\.[A-Z0-9]{1,6})?$`)

var ErrInvalidSymbol = errors.New("asset: invalid symbol")

// Symbol identifies a tradable asset, e.g. "BTC".
type Symbol string

// ParseSymbol trims and upper-cases s and validates it against the symbol
// format.
func ParseSymbol(s string) (Symbol, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(norm) {
		return "", fmt.Errorf("%w: %q (expected 1-12 letters or digits, optional .SUFFIX)",
			ErrInvalidSymbol, s)
	}
	return Symbol(norm), nil
}

// MustParseSymbol is like ParseSymbol but panics on error. Intended for
// constants and tests.
func MustParseSymbol(s string) Symbol {
	sym, err := ParseSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

// ParseSymbols parses a comma separated list, skipping empty items.
func ParseSymbols(list string) ([]Symbol, error) {
	var out []Symbol
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sym, err := ParseSymbol(part)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

func (s Symbol) String() string { return string(s) }

// IsZero reports whether s is the empty symbol.
func (s Symbol) IsZero() bool { return s == "" }
