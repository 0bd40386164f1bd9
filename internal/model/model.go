// Package model defines the journal and reporting types shared across the
// service. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal entry kinds. Replaying the entries of an account in sequence
// order rebuilds its engine.
const (
	KindBuy      = "BUY"
	KindSell     = "SELL"
	KindSellLots = "SELL_LOTS"
	KindTrade    = "TRADE"
	KindMethod   = "METHOD"
	KindReset    = "RESET"
)

// JournalEntry is an immutable record of one accepted engine mutation.
// Once appended, entries are never modified or deleted.
type JournalEntry struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Seq       int64  `json:"seq" db:"seq"` // assigned by the store, per account
	Kind      string `json:"kind" db:"kind"`

	// BUY, SELL, SELL_LOTS and the sell leg of TRADE.
	Symbol   string          `json:"symbol,omitempty" db:"symbol"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Value    decimal.Decimal `json:"value" db:"value"` // total cost for buys, proceeds for sells

	// Buy leg of TRADE.
	ToSymbol   string          `json:"to_symbol,omitempty" db:"to_symbol"`
	ToQuantity decimal.Decimal `json:"to_quantity" db:"to_quantity"`
	ToValue    decimal.Decimal `json:"to_value" db:"to_value"`

	LotIDs []string `json:"lot_ids,omitempty" db:"lot_ids"` // SELL_LOTS
	Method string   `json:"method,omitempty" db:"method"`   // METHOD

	Timestamp time.Time `json:"timestamp" db:"timestamp"` // trade time
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Realization is the durable tax-lot record of one lot portion consumed by a
// sell.
type Realization struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	EntryID    string          `json:"entry_id" db:"entry_id"` // journal entry of the sell
	Symbol     string          `json:"symbol" db:"symbol"`
	LotID      string          `json:"lot_id" db:"lot_id"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	SaleValue  decimal.Decimal `json:"sale_value" db:"sale_value"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"`
	AcquiredAt time.Time       `json:"acquired_at" db:"acquired_at"`
	SoldAt     time.Time       `json:"sold_at" db:"sold_at"`
}

// HoldingSummary is the per-symbol quick view.
type HoldingSummary struct {
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis"`
}

// RealizedSummary reports the realized accumulator of an account.
type RealizedSummary struct {
	AccountID   string          `json:"account_id"`
	Method      string          `json:"method"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}
