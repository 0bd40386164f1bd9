package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
)

// MarketValue is the current valuation of a position, supplied by the
// caller at query time.
type MarketValue struct {
	TotalValue decimal.Decimal `json:"total_value"`
	Quantity   decimal.Decimal `json:"quantity"` // informational; open quantity comes from the lots
}

// UnrealizedPnL is the mark-to-market state of one symbol.
type UnrealizedPnL struct {
	Quantity             decimal.Decimal `json:"quantity"`
	AvgCostBasis         decimal.Decimal `json:"avg_cost_basis"`
	TotalCostBasis       decimal.Decimal `json:"total_cost_basis"`
	CurrentValue         decimal.Decimal `json:"current_value"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// PortfolioTotals aggregates realized and unrealized P&L.
type PortfolioTotals struct {
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalCurrentValue  decimal.Decimal `json:"total_current_value"`
	TotalCostBasis     decimal.Decimal `json:"total_cost_basis"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	ReturnPercent      decimal.Decimal `json:"return_percent"`
}

// Holding is the aggregate view of one symbol's open lots.
type Holding struct {
	Quantity       decimal.Decimal `json:"quantity"`
	AvgCostBasis   decimal.Decimal `json:"avg_cost_basis"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	Lots           []Lot           `json:"lots"`
}

// UnrealizedPnL values every symbol that has open lots and an entry in
// values. Symbols without a supplied value are skipped.
func (e *Engine) UnrealizedPnL(values map[asset.Symbol]MarketValue) map[asset.Symbol]UnrealizedPnL {
	out := make(map[asset.Symbol]UnrealizedPnL)
	for sym, lots := range e.holdings {
		mv, ok := values[sym]
		if !ok {
			continue
		}
		qty := sumQuantity(lots)
		cost := sumCost(lots)
		pnl := mv.TotalValue.Sub(cost)
		out[sym] = UnrealizedPnL{
			Quantity:             qty,
			AvgCostBasis:         avgCost(cost, qty),
			TotalCostBasis:       cost,
			CurrentValue:         mv.TotalValue,
			UnrealizedPnL:        pnl,
			UnrealizedPnLPercent: percentOf(pnl, cost),
		}
	}
	return out
}

// PortfolioTotals sums UnrealizedPnL over all valued symbols and adds the
// realized total. Cost basis of symbols without a supplied value is not
// counted.
func (e *Engine) PortfolioTotals(values map[asset.Symbol]MarketValue) PortfolioTotals {
	t := PortfolioTotals{
		TotalUnrealizedPnL: decimal.Zero,
		TotalCurrentValue:  decimal.Zero,
		TotalCostBasis:     decimal.Zero,
		TotalRealizedPnL:   e.realized,
	}
	for _, u := range e.UnrealizedPnL(values) {
		t.TotalUnrealizedPnL = t.TotalUnrealizedPnL.Add(u.UnrealizedPnL)
		t.TotalCurrentValue = t.TotalCurrentValue.Add(u.CurrentValue)
		t.TotalCostBasis = t.TotalCostBasis.Add(u.TotalCostBasis)
	}
	t.TotalPnL = t.TotalRealizedPnL.Add(t.TotalUnrealizedPnL)
	t.ReturnPercent = percentOf(t.TotalPnL, t.TotalCostBasis)
	return t
}

// Holdings returns every symbol with at least one open lot. The lots are
// copies; changing them does not affect the engine.
func (e *Engine) Holdings() map[asset.Symbol]Holding {
	out := make(map[asset.Symbol]Holding, len(e.holdings))
	for sym, lots := range e.holdings {
		if len(lots) == 0 {
			continue
		}
		qty := sumQuantity(lots)
		cost := sumCost(lots)
		out[sym] = Holding{
			Quantity:       qty,
			AvgCostBasis:   avgCost(cost, qty),
			TotalCostBasis: cost,
			Lots:           append([]Lot(nil), lots...),
		}
	}
	return out
}
