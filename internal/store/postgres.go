package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Schema: internal/store/migrations/postgres/001_init.sql
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendEntry(ctx context.Context, e *model.JournalEntry, realizations []model.Realization) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize sequence assignment per account.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.AccountID); err != nil {
		return fmt.Errorf("lock account %s: %w", e.AccountID, err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM journal_entries WHERE account_id = $1`,
		e.AccountID).Scan(&seq); err != nil {
		return fmt.Errorf("next seq for %s: %w", e.AccountID, err)
	}

	lotIDs := e.LotIDs
	if lotIDs == nil {
		lotIDs = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO journal_entries
		   (id, account_id, seq, kind, symbol, quantity, value,
		    to_symbol, to_quantity, to_value, lot_ids, method, timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC,
		         $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14)`,
		e.ID, e.AccountID, seq, e.Kind, e.Symbol,
		e.Quantity.String(), e.Value.String(),
		e.ToSymbol, e.ToQuantity.String(), e.ToValue.String(),
		lotIDs, e.Method, e.Timestamp, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.ID, err)
	}

	for _, r := range realizations {
		_, err := tx.Exec(ctx,
			`INSERT INTO realizations
			   (id, account_id, entry_id, symbol, lot_id, quantity, cost_basis, sale_value, pnl, acquired_at, sold_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
			r.ID, r.AccountID, r.EntryID, r.Symbol, r.LotID,
			r.Quantity.String(), r.CostBasis.String(), r.SaleValue.String(), r.PnL.String(),
			r.AcquiredAt, r.SoldAt,
		)
		if err != nil {
			return fmt.Errorf("insert realization %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	e.Seq = seq
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, accountID string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, seq, kind, symbol,
		        quantity::TEXT, value::TEXT,
		        to_symbol, to_quantity::TEXT, to_value::TEXT,
		        lot_ids, method, timestamp, created_at
		 FROM journal_entries WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *PostgresStore) ListRealizations(ctx context.Context, accountID string) ([]model.Realization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.account_id, r.entry_id, r.symbol, r.lot_id,
		        r.quantity::TEXT, r.cost_basis::TEXT, r.sale_value::TEXT, r.pnl::TEXT,
		        r.acquired_at, r.sold_at
		 FROM realizations r
		 JOIN journal_entries je ON je.id = r.entry_id
		 WHERE r.account_id = $1
		 ORDER BY je.seq, r.sold_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Realization
	for rows.Next() {
		var r model.Realization
		var qtyS, costS, valueS, pnlS string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.EntryID, &r.Symbol, &r.LotID,
			&qtyS, &costS, &valueS, &pnlS,
			&r.AcquiredAt, &r.SoldAt); err != nil {
			return nil, err
		}
		r.Quantity, _ = decimal.NewFromString(qtyS)
		r.CostBasis, _ = decimal.NewFromString(costS)
		r.SaleValue, _ = decimal.NewFromString(valueS)
		r.PnL, _ = decimal.NewFromString(pnlS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT account_id FROM journal_entries ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// scanJournalEntries reads pgx rows into JournalEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanJournalEntries(rows pgxRows) ([]model.JournalEntry, error) {
	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var qtyS, valueS, toQtyS, toValueS string

		if err := rows.Scan(&e.ID, &e.AccountID, &e.Seq, &e.Kind, &e.Symbol,
			&qtyS, &valueS,
			&e.ToSymbol, &toQtyS, &toValueS,
			&e.LotIDs, &e.Method, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Quantity, _ = decimal.NewFromString(qtyS)
		e.Value, _ = decimal.NewFromString(valueS)
		e.ToQuantity, _ = decimal.NewFromString(toQtyS)
		e.ToValue, _ = decimal.NewFromString(toValueS)
		if len(e.LotIDs) == 0 {
			e.LotIDs = nil
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
