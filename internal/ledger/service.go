// Package ledger provides the account service around the pnl engine: the
// HTTP handlers, per-account engines rebuilt from the journal, and the
// websocket hub that announces accepted mutations.
//
// All monetary values use shopspring/decimal. Never float64 for money.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
	"github.com/vaultdesk/pnl-engine/internal/limits"
	"github.com/vaultdesk/pnl-engine/internal/metrics"
	"github.com/vaultdesk/pnl-engine/internal/model"
	"github.com/vaultdesk/pnl-engine/internal/pnl"
	"github.com/vaultdesk/pnl-engine/internal/store"
)

const maxAccountIDLen = 128

// errInvalidAccount is returned for empty or oversized account IDs.
var errInvalidAccount = fmt.Errorf("%w: account id must be 1-%d characters", pnl.ErrInvalidArgument, maxAccountIDLen)

// Service serves account operations. Each account owns one engine, built
// on first use by replaying the account's journal and guarded by its own
// mutex; different accounts proceed in parallel.
type Service struct {
	store         store.Store
	limiter       *limits.PositionLimiter
	wsHub         *WSHub // optional WebSocket hub for mutation broadcasts
	defaultMethod pnl.Method

	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	mu     sync.Mutex
	engine *pnl.Engine // nil until loaded from the journal
}

// NewService creates a new ledger service.
// Pass nil for limiter or hub to disable concentration limits or
// WebSocket broadcasting.
func NewService(st store.Store, limiter *limits.PositionLimiter, hub *WSHub, defaultMethod pnl.Method) *Service {
	if !defaultMethod.Valid() {
		defaultMethod = pnl.FIFO
	}
	return &Service{
		store:         st,
		limiter:       limiter,
		wsHub:         hub,
		defaultMethod: defaultMethod,
		accounts:      make(map[string]*account),
	}
}

// RegisterRoutes mounts the account API on r.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/accounts", s.ListAccounts)
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Post("/buys", s.RecordBuy)
		r.Post("/sells", s.RecordSell)
		r.Post("/trades", s.RecordTrade)
		r.Post("/valuation", s.Valuation)
		r.Post("/totals", s.Totals)
		r.Get("/holdings", s.GetHoldings)
		r.Get("/holdings/{symbol}", s.GetHolding)
		r.Get("/realized", s.GetRealized)
		r.Get("/realizations", s.GetRealizations)
		r.Get("/journal", s.GetJournal)
		r.Put("/method", s.SetMethod)
		r.Post("/reset", s.Reset)
	})
}

// --- Request/Response types ---

// BuyRequest is the JSON body for POST /buys.
type BuyRequest struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"` // fees included
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// SellRequest is the JSON body for POST /sells. When LotIDs is set the
// listed lots are consumed in that order regardless of the active method.
type SellRequest struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	SaleValue decimal.Decimal `json:"sale_value"`
	LotIDs    []string        `json:"lot_ids,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	FromSymbol   string          `json:"from_symbol"`
	FromQuantity decimal.Decimal `json:"from_quantity"`
	FromValue    decimal.Decimal `json:"from_value"`
	ToSymbol     string          `json:"to_symbol"`
	ToQuantity   decimal.Decimal `json:"to_quantity"`
	ToValue      decimal.Decimal `json:"to_value"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
}

// MethodRequest is the JSON body for PUT /method.
type MethodRequest struct {
	Method string `json:"method"`
}

// ValuationRequest carries caller-supplied market values keyed by symbol.
type ValuationRequest struct {
	Values map[string]pnl.MarketValue `json:"values"`
}

// EntryResponse is returned from every mutation.
type EntryResponse struct {
	EntryID     string                `json:"entry_id"`
	Seq         int64                 `json:"seq"`
	Kind        string                `json:"kind"`
	Sell        *pnl.SellResult       `json:"sell,omitempty"`
	Holding     *model.HoldingSummary `json:"holding,omitempty"` // bought symbol after the entry
	Method      string                `json:"method"`
	RealizedPnL decimal.Decimal       `json:"realized_pnl"`
}

// --- HTTP Handlers ---

// RecordBuy handles POST /api/v1/accounts/{accountID}/buys
func (s *Service) RecordBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sym, err := asset.ParseSymbol(req.Symbol)
	if err != nil {
		s.fail(w, err)
		return
	}

	entry := s.newEntry(chi.URLParam(r, "accountID"), model.KindBuy, req.Timestamp)
	entry.Symbol = sym.String()
	entry.Quantity = req.Quantity
	entry.Value = req.TotalCost

	check := func(e *pnl.Engine) error {
		return s.limiter.CheckBuy(sym, req.TotalCost, costBases(e))
	}
	resp, err := s.mutate(r.Context(), entry, check, holdingOf(sym))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RecordSell handles POST /api/v1/accounts/{accountID}/sells
func (s *Service) RecordSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sym, err := asset.ParseSymbol(req.Symbol)
	if err != nil {
		s.fail(w, err)
		return
	}

	kind := model.KindSell
	if len(req.LotIDs) > 0 {
		kind = model.KindSellLots
	}
	entry := s.newEntry(chi.URLParam(r, "accountID"), kind, req.Timestamp)
	entry.Symbol = sym.String()
	entry.Quantity = req.Quantity
	entry.Value = req.SaleValue
	entry.LotIDs = req.LotIDs

	resp, err := s.mutate(r.Context(), entry, nil, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordTrade handles POST /api/v1/accounts/{accountID}/trades
// Sells FromQuantity of FromSymbol and buys ToQuantity of ToSymbol as one
// journal entry.
func (s *Service) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	from, err := asset.ParseSymbol(req.FromSymbol)
	if err != nil {
		s.fail(w, err)
		return
	}
	to, err := asset.ParseSymbol(req.ToSymbol)
	if err != nil {
		s.fail(w, err)
		return
	}

	entry := s.newEntry(chi.URLParam(r, "accountID"), model.KindTrade, req.Timestamp)
	entry.Symbol = from.String()
	entry.Quantity = req.FromQuantity
	entry.Value = req.FromValue
	entry.ToSymbol = to.String()
	entry.ToQuantity = req.ToQuantity
	entry.ToValue = req.ToValue

	resp, err := s.mutate(r.Context(), entry, nil, holdingOf(to))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetMethod handles PUT /api/v1/accounts/{accountID}/method
func (s *Service) SetMethod(w http.ResponseWriter, r *http.Request) {
	var req MethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := pnl.ParseMethod(req.Method)
	if err != nil {
		s.fail(w, err)
		return
	}

	entry := s.newEntry(chi.URLParam(r, "accountID"), model.KindMethod, nil)
	entry.Method = m.String()

	resp, err := s.mutate(r.Context(), entry, nil, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST /api/v1/accounts/{accountID}/reset
// Clears holdings and realized P&L. The journal keeps the history.
func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	entry := s.newEntry(chi.URLParam(r, "accountID"), model.KindReset, nil)

	resp, err := s.mutate(r.Context(), entry, nil, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Valuation handles POST /api/v1/accounts/{accountID}/valuation
// Returns unrealized P&L for every held symbol with a supplied value.
func (s *Service) Valuation(w http.ResponseWriter, r *http.Request) {
	values, ok := s.decodeValues(w, r)
	if !ok {
		return
	}
	var out map[asset.Symbol]pnl.UnrealizedPnL
	err := s.view(r.Context(), chi.URLParam(r, "accountID"), func(e *pnl.Engine) {
		out = e.UnrealizedPnL(values)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Totals handles POST /api/v1/accounts/{accountID}/totals
func (s *Service) Totals(w http.ResponseWriter, r *http.Request) {
	values, ok := s.decodeValues(w, r)
	if !ok {
		return
	}
	var out pnl.PortfolioTotals
	err := s.view(r.Context(), chi.URLParam(r, "accountID"), func(e *pnl.Engine) {
		out = e.PortfolioTotals(values)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHoldings handles GET /api/v1/accounts/{accountID}/holdings
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	var out map[asset.Symbol]pnl.Holding
	err := s.view(r.Context(), chi.URLParam(r, "accountID"), func(e *pnl.Engine) {
		out = e.Holdings()
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHolding handles GET /api/v1/accounts/{accountID}/holdings/{symbol}
// Unknown symbols report zero quantity and zero average cost.
func (s *Service) GetHolding(w http.ResponseWriter, r *http.Request) {
	sym, err := asset.ParseSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		s.fail(w, err)
		return
	}
	accountID := chi.URLParam(r, "accountID")
	var out *model.HoldingSummary
	err = s.view(r.Context(), accountID, func(e *pnl.Engine) {
		out = holdingOf(sym)(accountID, e)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRealized handles GET /api/v1/accounts/{accountID}/realized
func (s *Service) GetRealized(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var out model.RealizedSummary
	err := s.view(r.Context(), accountID, func(e *pnl.Engine) {
		out = model.RealizedSummary{
			AccountID:   accountID,
			Method:      e.Method().String(),
			RealizedPnL: e.RealizedPnL(),
		}
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRealizations handles GET /api/v1/accounts/{accountID}/realizations
// Returns the per-lot history of every sell, including sells before a reset.
func (s *Service) GetRealizations(w http.ResponseWriter, r *http.Request) {
	realizations, err := s.store.ListRealizations(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load realizations", http.StatusInternalServerError)
		return
	}
	if realizations == nil {
		realizations = []model.Realization{}
	}
	writeJSON(w, http.StatusOK, realizations)
}

// GetJournal handles GET /api/v1/accounts/{accountID}/journal
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// --- Account engines ---

func (s *Service) account(accountID string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		acct = &account{}
		s.accounts[accountID] = acct
	}
	return acct
}

// lookup returns the account if it is already tracked.
func (s *Service) lookup(accountID string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	return acct, ok
}

// load rebuilds the account engine from the journal if it is not cached.
// The journal is read from the primary store, never from a cache.
// The caller holds acct.mu.
func (s *Service) load(ctx context.Context, accountID string, acct *account) error {
	if acct.engine != nil {
		return nil
	}
	start := time.Now()
	entries, err := store.Primary(s.store).ListEntries(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	engine, err := Replay(entries, s.defaultMethod)
	if err != nil {
		return err
	}
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	metrics.LoadedAccounts.Inc()
	acct.engine = engine

	slog.Debug("account loaded", "account", accountID, "entries", len(entries))
	return nil
}

// view runs fn against the account engine under the account lock.
// Accounts without journal entries are answered from an empty engine and
// are not tracked, so reads of unknown accounts hold no memory.
func (s *Service) view(ctx context.Context, accountID string, fn func(*pnl.Engine)) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	acct, ok := s.lookup(accountID)
	if !ok {
		entries, err := store.Primary(s.store).ListEntries(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load journal: %w", err)
		}
		if len(entries) == 0 {
			fn(pnl.NewEngine(s.defaultMethod))
			return nil
		}
		acct = s.account(accountID)
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if err := s.load(ctx, accountID, acct); err != nil {
		return err
	}
	fn(acct.engine)
	return nil
}

// mutate applies entry to the account engine and appends it to the journal.
// check, if set, may refuse the entry before it is applied. after, if set,
// describes the holding to report once the entry is durable.
//
// If the append fails the engine already reflects the entry, so it is
// dropped and the next request rebuilds it from the journal.
func (s *Service) mutate(
	ctx context.Context,
	entry *model.JournalEntry,
	check func(*pnl.Engine) error,
	after func(string, *pnl.Engine) *model.HoldingSummary,
) (*EntryResponse, error) {
	if err := validateAccountID(entry.AccountID); err != nil {
		return nil, err
	}
	start := time.Now()
	acct := s.account(entry.AccountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if err := s.load(ctx, entry.AccountID, acct); err != nil {
		return nil, err
	}
	e := acct.engine

	if check != nil {
		if err := check(e); err != nil {
			recordRejection(err)
			return nil, err
		}
	}

	if entry.Kind == model.KindSell || entry.Kind == model.KindTrade {
		entry.Method = e.Method().String()
	}
	res, err := Apply(e, *entry)
	if err != nil {
		recordRejection(err)
		return nil, err
	}

	if err := s.store.AppendEntry(ctx, entry, realizationsOf(entry, res)); err != nil {
		acct.engine = nil
		metrics.LoadedAccounts.Dec()
		return nil, fmt.Errorf("append journal entry: %w", err)
	}

	metrics.JournalEntriesTotal.WithLabelValues(entry.Kind).Inc()
	metrics.MutationLatency.WithLabelValues(entry.Kind).Observe(time.Since(start).Seconds())

	resp := &EntryResponse{
		EntryID:     entry.ID,
		Seq:         entry.Seq,
		Kind:        entry.Kind,
		Sell:        res,
		Method:      e.Method().String(),
		RealizedPnL: e.RealizedPnL(),
	}
	if after != nil {
		resp.Holding = after(entry.AccountID, e)
	}

	attrs := []any{
		"entry_id", entry.ID,
		"account", entry.AccountID,
		"seq", entry.Seq,
		"kind", entry.Kind,
	}
	if entry.Symbol != "" {
		attrs = append(attrs, "symbol", entry.Symbol, "qty", entry.Quantity.String())
	}
	if res != nil {
		metrics.RealizedPnL.Add(res.PnL.InexactFloat64())
		metrics.SoldVolume.WithLabelValues(res.Symbol.String()).Add(res.Quantity.InexactFloat64())
		attrs = append(attrs, "pnl", res.PnL.String(), "lots", len(res.Lots))
	}
	slog.Info("journal entry recorded", attrs...)

	if s.wsHub != nil {
		s.wsHub.Broadcast(eventFor(entry, res, resp))
	}
	return resp, nil
}

func (s *Service) newEntry(accountID, kind string, ts *time.Time) *model.JournalEntry {
	now := time.Now().UTC()
	return &model.JournalEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Timestamp: tradeTime(ts, now),
		CreatedAt: now,
	}
}

func (s *Service) decodeValues(w http.ResponseWriter, r *http.Request) (map[asset.Symbol]pnl.MarketValue, bool) {
	var req ValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	values := make(map[asset.Symbol]pnl.MarketValue, len(req.Values))
	for raw, v := range req.Values {
		sym, err := asset.ParseSymbol(raw)
		if err != nil {
			s.fail(w, err)
			return nil, false
		}
		if v.TotalValue.IsNegative() {
			s.fail(w, fmt.Errorf("%w: %s market value is negative", pnl.ErrInvalidArgument, sym))
			return nil, false
		}
		values[sym] = v
	}
	return values, true
}

// fail maps err onto an HTTP status and writes it.
func (s *Service) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// --- Helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, pnl.ErrInvalidArgument),
		errors.Is(err, pnl.ErrLotNotFound),
		errors.Is(err, asset.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, pnl.ErrInsufficientHoldings),
		errors.Is(err, limits.ErrAssetLimitExceeded),
		errors.Is(err, limits.ErrGroupLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func recordRejection(err error) {
	reason := "other"
	switch {
	case errors.Is(err, pnl.ErrInsufficientHoldings):
		reason = "insufficient_holdings"
	case errors.Is(err, pnl.ErrLotNotFound):
		reason = "lot_not_found"
	case errors.Is(err, pnl.ErrInvalidArgument), errors.Is(err, asset.ErrInvalidSymbol):
		reason = "invalid_argument"
	case errors.Is(err, limits.ErrAssetLimitExceeded):
		reason = "asset_limit"
	case errors.Is(err, limits.ErrGroupLimitExceeded):
		reason = "group_limit"
	}
	metrics.RejectionsTotal.WithLabelValues(reason).Inc()
}

func validateAccountID(id string) error {
	if id == "" || len(id) > maxAccountIDLen {
		return errInvalidAccount
	}
	return nil
}

// tradeTime returns the requested trade time or now. Times are kept at
// microsecond precision so a journal round trip through PostgreSQL yields
// the same lot ordering.
func tradeTime(ts *time.Time, now time.Time) time.Time {
	t := now
	if ts != nil && !ts.IsZero() {
		t = *ts
	}
	return t.UTC().Truncate(time.Microsecond)
}

func costBases(e *pnl.Engine) map[asset.Symbol]decimal.Decimal {
	holdings := e.Holdings()
	out := make(map[asset.Symbol]decimal.Decimal, len(holdings))
	for sym, h := range holdings {
		out[sym] = h.TotalCostBasis
	}
	return out
}

func holdingOf(sym asset.Symbol) func(string, *pnl.Engine) *model.HoldingSummary {
	return func(accountID string, e *pnl.Engine) *model.HoldingSummary {
		return &model.HoldingSummary{
			AccountID:    accountID,
			Symbol:       sym.String(),
			Quantity:     e.TotalQuantity(sym),
			AvgCostBasis: e.AvgCostBasis(sym),
		}
	}
}

func realizationsOf(entry *model.JournalEntry, res *pnl.SellResult) []model.Realization {
	if res == nil {
		return nil
	}
	out := make([]model.Realization, 0, len(res.Lots))
	for _, ls := range res.Lots {
		out = append(out, model.Realization{
			ID:         uuid.New().String(),
			AccountID:  entry.AccountID,
			EntryID:    entry.ID,
			Symbol:     res.Symbol.String(),
			LotID:      ls.LotID,
			Quantity:   ls.Quantity,
			CostBasis:  ls.CostBasis,
			SaleValue:  ls.SaleValue,
			PnL:        ls.PnL,
			AcquiredAt: ls.AcquiredAt,
			SoldAt:     res.Timestamp,
		})
	}
	return out
}

var eventTypes = map[string]string{
	model.KindBuy:      "buy_recorded",
	model.KindSell:     "sell_realized",
	model.KindSellLots: "sell_realized",
	model.KindTrade:    "trade_swapped",
	model.KindMethod:   "method_changed",
	model.KindReset:    "account_reset",
}

func eventFor(entry *model.JournalEntry, res *pnl.SellResult, resp *EntryResponse) WSMessage {
	msg := WSMessage{
		Type:        eventTypes[entry.Kind],
		AccountID:   entry.AccountID,
		EntryID:     entry.ID,
		Seq:         entry.Seq,
		Symbol:      entry.Symbol,
		ToSymbol:    entry.ToSymbol,
		Method:      resp.Method,
		RealizedPnL: resp.RealizedPnL.String(),
	}
	if entry.Symbol != "" {
		msg.Quantity = entry.Quantity.String()
		msg.Value = entry.Value.String()
	}
	if res != nil {
		msg.PnL = res.PnL.String()
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
