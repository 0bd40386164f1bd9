// Package pnl implements lot-based cost-basis and profit-and-loss accounting.
//
// An Engine keeps, per asset, the open purchase lots and a running realized
// P&L total. Buys open lots, sells consume them according to the active
// Method and realize gains, and valuation queries compare open lots with
// market values supplied by the caller. The engine never stores prices and
// performs no I/O.
//
// All quantities and money use shopspring/decimal. Each lot carries its
// remaining total cost, so a lot that is sold out releases exactly what was
// paid for it. Partial sells take a quantity share of that cost, and other
// divisions (unit cost, averages, percentages) use decimal.DivisionPrecision
// digits.
//
// An Engine is not safe for concurrent use. Callers serialize access per
// instance.
package pnl

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
)

var (
	// ErrInsufficientHoldings is returned when a sell asks for more than the
	// open quantity of a symbol. Nothing is mutated.
	ErrInsufficientHoldings = errors.New("pnl: insufficient holdings")

	// ErrInvalidArgument is returned for non-positive quantities, negative
	// values, empty symbols and unknown methods.
	ErrInvalidArgument = errors.New("pnl: invalid argument")

	// ErrLotNotFound is returned when a specific-lot sell names a lot that is
	// not open for the symbol.
	ErrLotNotFound = errors.New("pnl: lot not found")
)

var hundred = decimal.NewFromInt(100)

// Lot is an open purchase record for one asset.
type Lot struct {
	ID        string          `json:"id"`
	Quantity  decimal.Decimal `json:"quantity"`  // remaining, removed at zero
	Cost      decimal.Decimal `json:"cost"`      // remaining total cost
	UnitCost  decimal.Decimal `json:"unit_cost"` // at acquisition, reporting only
	Timestamp time.Time       `json:"timestamp"`
}

// CostBasis returns the cost of the remaining quantity.
func (l Lot) CostBasis() decimal.Decimal {
	return l.Cost
}

// LotSale is the part of a sell that was taken from one lot.
type LotSale struct {
	LotID      string          `json:"lot_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	SaleValue  decimal.Decimal `json:"sale_value"` // quantity share of the total proceeds
	PnL        decimal.Decimal `json:"pnl"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// SellResult describes one completed sell.
type SellResult struct {
	Symbol    asset.Symbol    `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	SaleValue decimal.Decimal `json:"sale_value"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp time.Time       `json:"timestamp"`
	Lots      []LotSale       `json:"lots"`
}

// Engine owns the open lots and realized P&L of one account.
type Engine struct {
	method   Method
	holdings map[asset.Symbol][]Lot
	realized decimal.Decimal
	seq      int64 // buy sequence, source of lot IDs, survives Reset
}

// NewEngine creates an empty engine. An empty method defaults to FIFO.
// An invalid method also falls back to FIFO; use SetMethod to get an error.
func NewEngine(method Method) *Engine {
	if !method.Valid() {
		method = FIFO
	}
	return &Engine{
		method:   method,
		holdings: make(map[asset.Symbol][]Lot),
		realized: decimal.Zero,
	}
}

// Method returns the active accounting method.
func (e *Engine) Method() Method { return e.method }

// SetMethod changes the method used by future sells. Lots already consumed
// are not revisited.
func (e *Engine) SetMethod(m Method) error {
	if !m.Valid() {
		return fmt.Errorf("%w: unknown accounting method %q", ErrInvalidArgument, string(m))
	}
	e.method = m
	return nil
}

// RealizedPnL returns the running total of every completed sell.
func (e *Engine) RealizedPnL() decimal.Decimal { return e.realized }

// Reset clears all holdings and realized P&L. The method is kept, and so is
// the lot sequence: lot IDs are never reused within an engine's history.
func (e *Engine) Reset() {
	e.holdings = make(map[asset.Symbol][]Lot)
	e.realized = decimal.Zero
}

// RecordBuy opens a new lot of qty units that cost totalCost in all,
// fees included. Lots are never merged, even for identical buys.
func (e *Engine) RecordBuy(sym asset.Symbol, qty, totalCost decimal.Decimal, ts time.Time) error {
	if err := validateBuy(sym, qty, totalCost); err != nil {
		return err
	}
	e.openLot(sym, qty, totalCost, ts)
	return nil
}

// RecordSell sells qty units of sym for saleValue (after fees), consuming
// lots in the order of the active method, and adds the P&L to the realized
// total. It fails with ErrInsufficientHoldings without mutating anything if
// less than qty is open.
func (e *Engine) RecordSell(sym asset.Symbol, qty, saleValue decimal.Decimal, ts time.Time) (*SellResult, error) {
	if err := e.checkSell(sym, qty, saleValue); err != nil {
		return nil, err
	}
	order := selectionOrder(e.holdings[sym], e.method)
	return e.consume(sym, order, qty, saleValue, ts), nil
}

// RecordSellLots sells qty units of sym taken from the listed lots, in the
// listed order, regardless of the active method. Lots that are listed but
// not needed to fill qty are left untouched.
func (e *Engine) RecordSellLots(sym asset.Symbol, lotIDs []string, qty, saleValue decimal.Decimal, ts time.Time) (*SellResult, error) {
	if err := validateSell(sym, qty, saleValue); err != nil {
		return nil, err
	}
	if len(lotIDs) == 0 {
		return nil, fmt.Errorf("%w: no lots selected", ErrInvalidArgument)
	}

	lots := e.holdings[sym]
	index := make(map[string]int, len(lots))
	for i, l := range lots {
		index[l.ID] = i
	}

	order := make([]int, 0, len(lotIDs))
	seen := make(map[string]bool, len(lotIDs))
	selected := decimal.Zero
	for _, id := range lotIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: lot %s selected twice", ErrInvalidArgument, id)
		}
		seen[id] = true
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no open lot %s", ErrLotNotFound, sym, id)
		}
		order = append(order, i)
		selected = selected.Add(lots[i].Quantity)
	}
	if selected.LessThan(qty) {
		return nil, fmt.Errorf("%w: %s selected lots hold %s, want %s",
			ErrInsufficientHoldings, sym, selected, qty)
	}

	return e.consume(sym, order, qty, saleValue, ts), nil
}

// RecordTrade exchanges fromQty of from (valued at fromValue) for toQty of
// to (costing toValue). The sell leg realizes P&L on from and the buy leg
// opens a lot of to. Both legs are validated before either is applied, so a
// failed trade leaves the engine unchanged.
func (e *Engine) RecordTrade(from asset.Symbol, fromQty decimal.Decimal, to asset.Symbol, toQty, fromValue, toValue decimal.Decimal, ts time.Time) (*SellResult, error) {
	if err := e.checkSell(from, fromQty, fromValue); err != nil {
		return nil, err
	}
	if err := validateBuy(to, toQty, toValue); err != nil {
		return nil, err
	}

	order := selectionOrder(e.holdings[from], e.method)
	res := e.consume(from, order, fromQty, fromValue, ts)
	e.openLot(to, toQty, toValue, ts)
	return res, nil
}

// TotalQuantity returns the open quantity of sym, 0 if none.
func (e *Engine) TotalQuantity(sym asset.Symbol) decimal.Decimal {
	return sumQuantity(e.holdings[sym])
}

// AvgCostBasis returns the average unit cost of the open lots of sym,
// 0 if none.
func (e *Engine) AvgCostBasis(sym asset.Symbol) decimal.Decimal {
	lots := e.holdings[sym]
	return avgCost(sumCost(lots), sumQuantity(lots))
}

func (e *Engine) openLot(sym asset.Symbol, qty, totalCost decimal.Decimal, ts time.Time) {
	e.seq++
	e.holdings[sym] = append(e.holdings[sym], Lot{
		ID:        fmt.Sprintf("%s-%d", sym, e.seq),
		Quantity:  qty,
		Cost:      totalCost,
		UnitCost:  totalCost.Div(qty),
		Timestamp: ts,
	})
}

func (e *Engine) checkSell(sym asset.Symbol, qty, saleValue decimal.Decimal) error {
	if err := validateSell(sym, qty, saleValue); err != nil {
		return err
	}
	// A symbol never bought holds zero.
	if held := sumQuantity(e.holdings[sym]); held.LessThan(qty) {
		return fmt.Errorf("%w: %s holds %s, want %s", ErrInsufficientHoldings, sym, held, qty)
	}
	return nil
}

// consume takes qty from the lots of sym at the given indices, in order.
// The caller has checked that the indexed lots hold at least qty.
func (e *Engine) consume(sym asset.Symbol, order []int, qty, saleValue decimal.Decimal, ts time.Time) *SellResult {
	lots := e.holdings[sym]
	res := &SellResult{
		Symbol:    sym,
		Quantity:  qty,
		CostBasis: decimal.Zero,
		SaleValue: saleValue,
		Timestamp: ts,
	}

	remaining := qty
	allocated := decimal.Zero
	for _, i := range order {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lots[i].Quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		// The portion that empties a lot takes all of its remaining cost.
		cost := lots[i].Cost
		if take.LessThan(lots[i].Quantity) {
			cost = lots[i].Cost.Mul(take).Div(lots[i].Quantity)
		}
		lots[i].Quantity = lots[i].Quantity.Sub(take)
		lots[i].Cost = lots[i].Cost.Sub(cost)
		remaining = remaining.Sub(take)

		// Proceeds are split by quantity share. The last portion takes the
		// remainder so the portions sum to saleValue exactly.
		value := saleValue.Sub(allocated)
		if remaining.IsPositive() {
			value = saleValue.Mul(take).Div(qty)
		}
		allocated = allocated.Add(value)

		res.CostBasis = res.CostBasis.Add(cost)
		res.Lots = append(res.Lots, LotSale{
			LotID:      lots[i].ID,
			Quantity:   take,
			CostBasis:  cost,
			SaleValue:  value,
			PnL:        value.Sub(cost),
			AcquiredAt: lots[i].Timestamp,
		})
	}
	res.PnL = saleValue.Sub(res.CostBasis)

	if open := compact(lots); len(open) > 0 {
		e.holdings[sym] = open
	} else {
		delete(e.holdings, sym)
	}
	e.realized = e.realized.Add(res.PnL)
	return res
}

// selectionOrder returns lot indices in consumption order. Ties on
// timestamp keep record order.
func selectionOrder(lots []Lot, m Method) []int {
	order := make([]int, len(lots))
	for i := range order {
		order[i] = i
	}
	switch m {
	case FIFO:
		sort.SliceStable(order, func(a, b int) bool {
			return lots[order[a]].Timestamp.Before(lots[order[b]].Timestamp)
		})
	case LIFO:
		sort.SliceStable(order, func(a, b int) bool {
			return lots[order[a]].Timestamp.After(lots[order[b]].Timestamp)
		})
	}
	return order
}

// compact drops exhausted lots, keeping record order.
func compact(lots []Lot) []Lot {
	open := lots[:0]
	for _, l := range lots {
		if l.Quantity.IsPositive() {
			open = append(open, l)
		}
	}
	return open
}

func validateBuy(sym asset.Symbol, qty, totalCost decimal.Decimal) error {
	switch {
	case sym.IsZero():
		return fmt.Errorf("%w: empty symbol", ErrInvalidArgument)
	case !qty.IsPositive():
		return fmt.Errorf("%w: buy quantity must be positive, got %s", ErrInvalidArgument, qty)
	case totalCost.IsNegative():
		return fmt.Errorf("%w: buy cost must not be negative, got %s", ErrInvalidArgument, totalCost)
	}
	return nil
}

func validateSell(sym asset.Symbol, qty, saleValue decimal.Decimal) error {
	switch {
	case sym.IsZero():
		return fmt.Errorf("%w: empty symbol", ErrInvalidArgument)
	case !qty.IsPositive():
		return fmt.Errorf("%w: sell quantity must be positive, got %s", ErrInvalidArgument, qty)
	case saleValue.IsNegative():
		return fmt.Errorf("%w: sale value must not be negative, got %s", ErrInvalidArgument, saleValue)
	}
	return nil
}

func sumQuantity(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.Quantity)
	}
	return total
}

func sumCost(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.CostBasis())
	}
	return total
}

func avgCost(cost, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return cost.Div(qty)
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
