// Package limits implements concentration limits that account for
// correlation between assets.
//
// A holder who buys BTC and WBTC, or several dollar stablecoins, carries
// the same risk several times over. Assets are assigned to named groups and
// the limiter enforces a cap on cost basis in any single asset as well as
// on the aggregate cost basis across a group.
package limits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
)

var (
	// ErrAssetLimitExceeded is returned when a buy would push a single
	// asset's cost basis beyond the per-asset maximum.
	ErrAssetLimitExceeded = errors.New("limits: per-asset limit exceeded")

	// ErrGroupLimitExceeded is returned when a buy would push the aggregate
	// cost basis across a correlated group beyond the group maximum.
	ErrGroupLimitExceeded = errors.New("limits: group exposure limit exceeded")

	// ErrInvalidGroups is returned by ParseGroups for malformed input.
	ErrInvalidGroups = errors.New("limits: invalid asset groups")
)

// PositionLimiter enforces concentration limits with group awareness.
//
// A zero limit disables that check. Assets absent from Groups are only
// subject to the per-asset limit.
type PositionLimiter struct {
	// MaxPerAsset is the maximum cost basis held in any single asset.
	MaxPerAsset decimal.Decimal

	// MaxPerGroup is the maximum aggregate cost basis across all assets
	// that share a group.
	MaxPerGroup decimal.Decimal

	// Groups maps an asset to its correlation group name.
	Groups map[asset.Symbol]string
}

// NewPositionLimiter creates a limiter with the given per-asset and group
// limits.
func NewPositionLimiter(maxPerAsset, maxPerGroup decimal.Decimal, groups map[asset.Symbol]string) *PositionLimiter {
	if groups == nil {
		groups = make(map[asset.Symbol]string)
	}
	return &PositionLimiter{
		MaxPerAsset: maxPerAsset,
		MaxPerGroup: maxPerGroup,
		Groups:      groups,
	}
}

// Enabled reports whether any limit is configured.
func (l *PositionLimiter) Enabled() bool {
	return l != nil && (l.MaxPerAsset.IsPositive() || l.MaxPerGroup.IsPositive())
}

// CheckBuy validates whether a buy respects the limits.
//
// Parameters:
//   - target: asset being bought
//   - costDelta: total cost of the buy including fees
//   - existing: map of asset → current cost basis for this account
//
// Returns nil if the buy is within limits, or an error describing the violation.
func (l *PositionLimiter) CheckBuy(
	target asset.Symbol,
	costDelta decimal.Decimal,
	existing map[asset.Symbol]decimal.Decimal,
) error {
	if !l.Enabled() {
		return nil
	}

	// 1. Per-asset limit.
	newPosition := existing[target].Add(costDelta)
	if l.MaxPerAsset.IsPositive() && newPosition.GreaterThan(l.MaxPerAsset) {
		return fmt.Errorf("%w: %s would hold %s (max %s)",
			ErrAssetLimitExceeded, target, newPosition, l.MaxPerAsset)
	}

	// 2. Group exposure: sum cost basis across assets sharing the group.
	group, ok := l.Groups[target]
	if !ok || !l.MaxPerGroup.IsPositive() {
		return nil
	}
	total := newPosition
	for sym, cost := range existing {
		if sym == target {
			continue // already counted via newPosition above
		}
		if l.Groups[sym] == group {
			total = total.Add(cost)
		}
	}
	if total.GreaterThan(l.MaxPerGroup) {
		return fmt.Errorf("%w: group %s would hold %s (max %s)",
			ErrGroupLimitExceeded, group, total, l.MaxPerGroup)
	}
	return nil
}

// ParseGroups parses a group list of the form
// "STABLE:USDT,USDC;BTC:BTC,WBTC". An asset may belong to one group only.
func ParseGroups(s string) (map[asset.Symbol]string, error) {
	groups := make(map[asset.Symbol]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, members, ok := strings.Cut(part, ":")
		name = strings.ToUpper(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGroups, part)
		}
		symbols, err := asset.ParseSymbols(members)
		if err != nil {
			return nil, fmt.Errorf("%w: group %s: %v", ErrInvalidGroups, name, err)
		}
		if len(symbols) == 0 {
			return nil, fmt.Errorf("%w: group %s has no members", ErrInvalidGroups, name)
		}
		for _, sym := range symbols {
			if prev, dup := groups[sym]; dup && prev != name {
				return nil, fmt.Errorf("%w: %s in both %s and %s", ErrInvalidGroups, sym, prev, name)
			}
			groups[sym] = name
		}
	}
	return groups, nil
}
