package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultdesk/pnl-engine/internal/asset"
)

const (
	BTC asset.Symbol = "BTC"
	ETH asset.Symbol = "ETH"
	SOL asset.Symbol = "SOL"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// at returns t0 plus n hours.
func at(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Hour)
}

func assertDecimal(t *testing.T, want, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func assertNear(t *testing.T, want, got decimal.Decimal, tolerance float64) {
	t.Helper()
	assert.Truef(t, want.Sub(got).Abs().LessThanOrEqual(d(tolerance)),
		"want %s ± %v, got %s", want, tolerance, got)
}

// btcScenario buys 1 BTC for 10,000 and 1 BTC for 12,000, then sells 1.5
// BTC for 19,500.
func btcScenario(t *testing.T, e *Engine) *SellResult {
	t.Helper()
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))
	res, err := e.RecordSell(BTC, d(1.5), d(19500), at(3))
	require.NoError(t, err)
	return res
}

// --- Construction & configuration ---

func TestNewEngine_DefaultsToFIFO(t *testing.T) {
	assert.Equal(t, FIFO, NewEngine("").Method())
	assert.Equal(t, LIFO, NewEngine(LIFO).Method())
	assert.Equal(t, FIFO, NewEngine("AVERAGE").Method())
}

func TestNewEngine_Empty(t *testing.T) {
	e := NewEngine(FIFO)
	assert.Empty(t, e.Holdings())
	assertDecimal(t, decimal.Zero, e.RealizedPnL())
}

func TestSetMethod(t *testing.T) {
	e := NewEngine(FIFO)

	require.NoError(t, e.SetMethod(LIFO))
	assert.Equal(t, LIFO, e.Method())

	err := e.SetMethod("HIFO")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, LIFO, e.Method(), "failed SetMethod must not change the method")
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
	}{
		{"FIFO", FIFO},
		{"fifo", FIFO},
		{" lifo ", LIFO},
		{"Specific", Specific},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseMethod("average")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// --- Buys ---

func TestRecordBuy_OpensSeparateLots(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))

	h := e.Holdings()[BTC]
	require.Len(t, h.Lots, 2, "identical buys must not merge")
	assert.NotEqual(t, h.Lots[0].ID, h.Lots[1].ID)
	assertDecimal(t, d(10000), h.Lots[0].UnitCost)
	assertDecimal(t, d(2), e.TotalQuantity(BTC))
}

func TestRecordBuy_UnitCostIncludesFees(t *testing.T) {
	e := NewEngine(FIFO)
	// 4 units at 25 plus 2 in fees.
	require.NoError(t, e.RecordBuy(ETH, d(4), d(102), at(1)))
	assertDecimal(t, d(25.5), e.Holdings()[ETH].Lots[0].UnitCost)
	assertDecimal(t, d(25.5), e.AvgCostBasis(ETH))
}

func TestRecordBuy_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		sym  asset.Symbol
		qty  decimal.Decimal
		cost decimal.Decimal
	}{
		{"empty symbol", "", d(1), d(1)},
		{"zero quantity", BTC, decimal.Zero, d(1)},
		{"negative quantity", BTC, d(-1), d(1)},
		{"negative cost", BTC, d(1), d(-5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(FIFO)
			err := e.RecordBuy(tt.sym, tt.qty, tt.cost, at(1))
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, e.Holdings())
		})
	}
}

// --- Sells ---

func TestRecordSell_FIFOScenario(t *testing.T) {
	e := NewEngine(FIFO)
	res := btcScenario(t, e)

	assertDecimal(t, d(1.5), res.Quantity)
	assertDecimal(t, d(16000), res.CostBasis)
	assertDecimal(t, d(19500), res.SaleValue)
	assertDecimal(t, d(3500), res.PnL)

	require.Len(t, res.Lots, 2)
	assert.Equal(t, "BTC-1", res.Lots[0].LotID)
	assertDecimal(t, d(1), res.Lots[0].Quantity)
	assertDecimal(t, d(10000), res.Lots[0].CostBasis)
	assertDecimal(t, d(13000), res.Lots[0].SaleValue)
	assertDecimal(t, d(3000), res.Lots[0].PnL)
	assert.Equal(t, at(1), res.Lots[0].AcquiredAt)

	assert.Equal(t, "BTC-2", res.Lots[1].LotID)
	assertDecimal(t, d(0.5), res.Lots[1].Quantity)
	assertDecimal(t, d(6000), res.Lots[1].CostBasis)
	assertDecimal(t, d(6500), res.Lots[1].SaleValue)
	assertDecimal(t, d(500), res.Lots[1].PnL)

	h := e.Holdings()
	require.Contains(t, h, BTC)
	require.Len(t, h[BTC].Lots, 1)
	assertDecimal(t, d(0.5), h[BTC].Quantity)
	assertDecimal(t, d(12000), h[BTC].AvgCostBasis)
	assertDecimal(t, d(6000), h[BTC].TotalCostBasis)
	assertDecimal(t, d(3500), e.RealizedPnL())
}

func TestRecordSell_FIFOConsumesOldestLot(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(SOL, d(1), d(100), at(1)))
	require.NoError(t, e.RecordBuy(SOL, d(2), d(300), at(2)))
	require.NoError(t, e.RecordBuy(SOL, d(3), d(600), at(3)))

	res, err := e.RecordSell(SOL, d(1), d(150), at(4))
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.Equal(t, "SOL-1", res.Lots[0].LotID)

	lots := e.Holdings()[SOL].Lots
	require.Len(t, lots, 2)
	assert.Equal(t, "SOL-2", lots[0].ID)
	assertDecimal(t, d(2), lots[0].Quantity)
	assert.Equal(t, "SOL-3", lots[1].ID)
	assertDecimal(t, d(3), lots[1].Quantity)
}

func TestRecordSell_LIFOConsumesNewestLot(t *testing.T) {
	e := NewEngine(LIFO)
	require.NoError(t, e.RecordBuy(SOL, d(1), d(100), at(1)))
	require.NoError(t, e.RecordBuy(SOL, d(2), d(300), at(2)))
	require.NoError(t, e.RecordBuy(SOL, d(3), d(600), at(3)))

	res, err := e.RecordSell(SOL, d(3), d(660), at(4))
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.Equal(t, "SOL-3", res.Lots[0].LotID)
	assertDecimal(t, d(600), res.CostBasis)
	assertDecimal(t, d(60), res.PnL)

	lots := e.Holdings()[SOL].Lots
	require.Len(t, lots, 2)
	assertDecimal(t, d(1), lots[0].Quantity)
	assertDecimal(t, d(2), lots[1].Quantity)
}

func TestRecordSell_OrderUsesTimestampNotRecordOrder(t *testing.T) {
	// Lots recorded out of time order.
	newer, older := at(5), at(1)

	fifo := NewEngine(FIFO)
	require.NoError(t, fifo.RecordBuy(BTC, d(1), d(20000), newer))
	require.NoError(t, fifo.RecordBuy(BTC, d(1), d(10000), older))
	res, err := fifo.RecordSell(BTC, d(1), d(15000), at(6))
	require.NoError(t, err)
	assert.Equal(t, "BTC-2", res.Lots[0].LotID)
	assertDecimal(t, d(5000), res.PnL)

	lifo := NewEngine(LIFO)
	require.NoError(t, lifo.RecordBuy(BTC, d(1), d(10000), older))
	require.NoError(t, lifo.RecordBuy(BTC, d(1), d(20000), newer))
	require.NoError(t, lifo.RecordBuy(BTC, d(1), d(15000), at(3)))
	res, err = lifo.RecordSell(BTC, d(1), d(15000), at(6))
	require.NoError(t, err)
	assert.Equal(t, "BTC-2", res.Lots[0].LotID)
	assertDecimal(t, d(-5000), res.PnL)
}

func TestRecordSell_SpecificKeepsRecordOrder(t *testing.T) {
	e := NewEngine(Specific)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(20000), at(5)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))

	res, err := e.RecordSell(BTC, d(1), d(15000), at(6))
	require.NoError(t, err)
	assert.Equal(t, "BTC-1", res.Lots[0].LotID)
}

func TestRecordSell_ProportionalAllocation(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(ETH, d(0.3), d(1000), at(1)))
	require.NoError(t, e.RecordBuy(ETH, d(0.7), d(2500), at(2)))
	require.NoError(t, e.RecordBuy(ETH, d(1.1), d(3333), at(3)))

	res, err := e.RecordSell(ETH, d(1.9), d(7777.77), at(4))
	require.NoError(t, err)
	require.Len(t, res.Lots, 3)

	sumValue, sumPnL, sumCost, sumQty := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range res.Lots {
		sumValue = sumValue.Add(l.SaleValue)
		sumPnL = sumPnL.Add(l.PnL)
		sumCost = sumCost.Add(l.CostBasis)
		sumQty = sumQty.Add(l.Quantity)
	}
	assertDecimal(t, res.SaleValue, sumValue, "per-lot sale values must sum to the total")
	assertDecimal(t, res.PnL, sumPnL, "per-lot P&L must sum to the total")
	assertDecimal(t, res.CostBasis, sumCost)
	assertDecimal(t, d(1.9), sumQty)
	assertDecimal(t, res.SaleValue.Sub(res.CostBasis), res.PnL)

	// Same effective unit price for every portion.
	unit := d(7777.77).Div(d(1.9))
	for _, l := range res.Lots {
		assertNear(t, unit.Mul(l.Quantity), l.SaleValue, 1e-9)
	}
}

func TestRecordSell_RemovesExhaustedLots(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))

	_, err := e.RecordSell(BTC, d(1), d(11000), at(3))
	require.NoError(t, err)
	lots := e.Holdings()[BTC].Lots
	require.Len(t, lots, 1)
	assert.Equal(t, "BTC-2", lots[0].ID)

	_, err = e.RecordSell(BTC, d(1), d(11000), at(4))
	require.NoError(t, err)
	assert.NotContains(t, e.Holdings(), BTC, "a fully sold symbol must be omitted")
	assertDecimal(t, decimal.Zero, e.TotalQuantity(BTC))
	assertDecimal(t, decimal.Zero, e.AvgCostBasis(BTC))
}

func TestRecordSell_InsufficientHoldings(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))
	before := e.Holdings()

	_, err := e.RecordSell(BTC, d(2.5), d(30000), at(3))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
	assert.Equal(t, before, e.Holdings(), "failed sell must not mutate holdings")
	assertDecimal(t, decimal.Zero, e.RealizedPnL())
}

func TestRecordSell_UnknownSymbolIsInsufficient(t *testing.T) {
	e := NewEngine(FIFO)
	_, err := e.RecordSell(ETH, d(1), d(100), at(1))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
}

func TestRecordSell_InvalidArguments(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))

	_, err := e.RecordSell(BTC, decimal.Zero, d(1), at(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.RecordSell(BTC, d(-1), d(1), at(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.RecordSell(BTC, d(1), d(-1), at(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.RecordSell("", d(1), d(1), at(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordSell_SellAtLossLowersRealized(t *testing.T) {
	e := NewEngine(FIFO)
	btcScenario(t, e)
	res, err := e.RecordSell(BTC, d(0.5), d(5000), at(4))
	require.NoError(t, err)
	assertDecimal(t, d(-1000), res.PnL)
	assertDecimal(t, d(2500), e.RealizedPnL())
}

func TestSetMethod_AffectsOnlyFutureSells(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(14000), at(3)))

	first, err := e.RecordSell(BTC, d(1), d(13000), at(4))
	require.NoError(t, err)
	assert.Equal(t, "BTC-1", first.Lots[0].LotID)

	require.NoError(t, e.SetMethod(LIFO))
	second, err := e.RecordSell(BTC, d(1), d(13000), at(5))
	require.NoError(t, err)
	assert.Equal(t, "BTC-3", second.Lots[0].LotID)

	assertDecimal(t, d(3000), first.PnL)
	assertDecimal(t, d(2000), e.RealizedPnL())
	lots := e.Holdings()[BTC].Lots
	require.Len(t, lots, 1)
	assert.Equal(t, "BTC-2", lots[0].ID)
}

// --- Specific lot identification ---

func TestRecordSellLots_ConsumesListedLotsInOrder(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))
	require.NoError(t, e.RecordBuy(BTC, d(1), d(14000), at(3)))

	res, err := e.RecordSellLots(BTC, []string{"BTC-3", "BTC-1"}, d(1.5), d(21000), at(4))
	require.NoError(t, err)
	require.Len(t, res.Lots, 2)
	assert.Equal(t, "BTC-3", res.Lots[0].LotID)
	assertDecimal(t, d(1), res.Lots[0].Quantity)
	assert.Equal(t, "BTC-1", res.Lots[1].LotID)
	assertDecimal(t, d(0.5), res.Lots[1].Quantity)
	assertDecimal(t, d(19000), res.CostBasis)
	assertDecimal(t, d(2000), res.PnL)

	h := e.Holdings()[BTC]
	require.Len(t, h.Lots, 2)
	assert.Equal(t, "BTC-1", h.Lots[0].ID)
	assertDecimal(t, d(0.5), h.Lots[0].Quantity)
	assert.Equal(t, "BTC-2", h.Lots[1].ID)
	assertDecimal(t, d(1), h.Lots[1].Quantity)
}

func TestRecordSellLots_Errors(t *testing.T) {
	newEngine := func() *Engine {
		e := NewEngine(Specific)
		require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
		require.NoError(t, e.RecordBuy(BTC, d(1), d(12000), at(2)))
		return e
	}

	tests := []struct {
		name   string
		lotIDs []string
		qty    decimal.Decimal
		want   error
	}{
		{"no lots", nil, d(1), ErrInvalidArgument},
		{"unknown lot", []string{"BTC-9"}, d(1), ErrLotNotFound},
		{"other symbol lot", []string{"ETH-1"}, d(1), ErrLotNotFound},
		{"duplicate lot", []string{"BTC-1", "BTC-1"}, d(1), ErrInvalidArgument},
		{"selection too small", []string{"BTC-2"}, d(1.5), ErrInsufficientHoldings},
		{"zero quantity", []string{"BTC-1"}, decimal.Zero, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine()
			before := e.Holdings()
			_, err := e.RecordSellLots(BTC, tt.lotIDs, tt.qty, d(1000), at(3))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, e.Holdings())
			assertDecimal(t, decimal.Zero, e.RealizedPnL())
		})
	}
}

// --- Trades ---

func TestRecordTrade_SellsThenBuys(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))

	res, err := e.RecordTrade(BTC, d(1), ETH, d(10), d(15000), d(15000), at(2))
	require.NoError(t, err)
	assertDecimal(t, d(5000), res.PnL)
	assertDecimal(t, d(5000), e.RealizedPnL())

	assert.NotContains(t, e.Holdings(), BTC)
	eth := e.Holdings()[ETH]
	require.Len(t, eth.Lots, 1)
	assertDecimal(t, d(10), eth.Quantity)
	assertDecimal(t, d(1500), eth.AvgCostBasis)
	assert.Equal(t, at(2), eth.Lots[0].Timestamp)
}

func TestRecordTrade_FailedLegLeavesStateUnchanged(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))
	before := e.Holdings()

	_, err := e.RecordTrade(BTC, d(1), ETH, decimal.Zero, d(15000), d(15000), at(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.RecordTrade(BTC, d(2), ETH, d(10), d(15000), d(15000), at(2))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	assert.Equal(t, before, e.Holdings())
	assertDecimal(t, decimal.Zero, e.RealizedPnL())
}

// --- Invariants over sequences ---

func TestQuantityConservationAndRealizedAdditivity(t *testing.T) {
	type op struct {
		buy   bool
		qty   float64
		value float64
	}
	ops := []op{
		{true, 2, 200},
		{true, 0.5, 70},
		{false, 1.25, 180},
		{true, 3, 270},
		{false, 0.25, 20},
		{false, 2, 260},
		{true, 0.1, 11},
		{false, 1.6, 150},
	}

	for _, m := range Methods {
		t.Run(string(m), func(t *testing.T) {
			e := NewEngine(m)
			wantQty := decimal.Zero
			wantRealized := decimal.Zero
			for i, o := range ops {
				if o.buy {
					require.NoError(t, e.RecordBuy(SOL, d(o.qty), d(o.value), at(i)))
					wantQty = wantQty.Add(d(o.qty))
				} else {
					res, err := e.RecordSell(SOL, d(o.qty), d(o.value), at(i))
					require.NoError(t, err)
					wantQty = wantQty.Sub(d(o.qty))
					wantRealized = wantRealized.Add(res.SaleValue.Sub(res.CostBasis))
				}
				assertDecimal(t, wantQty, e.TotalQuantity(SOL), "after op", i)

				lotSum := decimal.Zero
				for _, l := range e.Holdings()[SOL].Lots {
					assert.True(t, l.Quantity.IsPositive(), "no zero-size lots may remain")
					lotSum = lotSum.Add(l.Quantity)
				}
				assertDecimal(t, wantQty, lotSum)
			}
			assertDecimal(t, wantRealized, e.RealizedPnL())
		})
	}
}

// --- Reset ---

func TestReset(t *testing.T) {
	e := NewEngine(LIFO)
	btcScenario(t, e)
	require.NoError(t, e.RecordBuy(ETH, d(3), d(9000), at(4)))

	e.Reset()
	assert.Empty(t, e.Holdings())
	assertDecimal(t, decimal.Zero, e.RealizedPnL())
	assert.Equal(t, LIFO, e.Method())

	e.Reset()
	assert.Empty(t, e.Holdings())

	require.NoError(t, e.RecordBuy(BTC, d(1), d(1), at(5)))
	assert.Equal(t, "BTC-4", e.Holdings()[BTC].Lots[0].ID, "lot IDs are not reused after reset")
}

// --- Cost precision ---

func TestRecordSell_FullLotReleasesExactCost(t *testing.T) {
	e := NewEngine(FIFO)
	// 10/3 has no finite decimal expansion.
	require.NoError(t, e.RecordBuy(BTC, d(3), d(10), at(1)))
	assertDecimal(t, d(10), e.Holdings()[BTC].TotalCostBasis)

	res, err := e.RecordSell(BTC, d(3), d(10), at(2))
	require.NoError(t, err)
	assertDecimal(t, d(10), res.CostBasis)
	assertDecimal(t, decimal.Zero, res.PnL)
	assertDecimal(t, decimal.Zero, e.RealizedPnL())
}

func TestRecordSell_PartialSellsSumToLotCost(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(3), d(10), at(1)))

	total := decimal.Zero
	for i := 0; i < 3; i++ {
		res, err := e.RecordSell(BTC, d(1), d(4), at(2+i))
		require.NoError(t, err)
		total = total.Add(res.CostBasis)
	}
	assertDecimal(t, d(10), total)
	assertDecimal(t, d(2), e.RealizedPnL())
	assert.Empty(t, e.Holdings())
}

func TestRecordSell_TinyUnitCostKeepsCostBasis(t *testing.T) {
	e := NewEngine(FIFO)
	qty := decimal.RequireFromString("300000000000000000")
	require.NoError(t, e.RecordBuy(BTC, qty, d(1), at(1)))

	h := e.Holdings()[BTC]
	assertDecimal(t, d(1), h.TotalCostBasis)

	res, err := e.RecordSell(BTC, qty, d(1), at(2))
	require.NoError(t, err)
	assertDecimal(t, d(1), res.CostBasis)
	assertDecimal(t, decimal.Zero, res.PnL)
}

func TestHoldings_ReturnsCopies(t *testing.T) {
	e := NewEngine(FIFO)
	require.NoError(t, e.RecordBuy(BTC, d(1), d(10000), at(1)))

	h := e.Holdings()
	h[BTC].Lots[0].Quantity = d(100)

	assertDecimal(t, d(1), e.TotalQuantity(BTC))
}
