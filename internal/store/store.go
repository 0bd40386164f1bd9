// Package store defines the journal persistence interface for the ledger
// service. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache) and in-memory (for testing).
package store

import (
	"context"

	"github.com/vaultdesk/pnl-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// AppendEntry assigns entry the next sequence number of its account and
	// appends it together with the realizations it produced. Both are
	// written or neither is.
	AppendEntry(ctx context.Context, entry *model.JournalEntry, realizations []model.Realization) error

	// ListEntries returns the account's journal in sequence order.
	ListEntries(ctx context.Context, accountID string) ([]model.JournalEntry, error)

	// ListRealizations returns the account's realizations in sale order.
	ListRealizations(ctx context.Context, accountID string) ([]model.Realization, error)

	// ListAccounts returns every account with at least one entry.
	ListAccounts(ctx context.Context) ([]string, error)
}

// Primary returns the source-of-truth store behind s. Caching stores expose
// it through a Primary method; any other store is its own primary.
func Primary(s Store) Store {
	if c, ok := s.(interface{ Primary() Store }); ok {
		return c.Primary()
	}
	return s
}
