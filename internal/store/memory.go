package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vaultdesk/pnl-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	entries      map[string][]model.JournalEntry
	realizations map[string][]model.Realization
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:      make(map[string][]model.JournalEntry),
		realizations: make(map[string][]model.Realization),
	}
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry *model.JournalEntry, realizations []model.Realization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Seq = int64(len(s.entries[entry.AccountID]) + 1)

	// Store copies to avoid external mutation.
	e := *entry
	e.LotIDs = append([]string(nil), entry.LotIDs...)
	s.entries[entry.AccountID] = append(s.entries[entry.AccountID], e)
	s.realizations[entry.AccountID] = append(s.realizations[entry.AccountID], realizations...)
	return nil
}

func (s *MemoryStore) ListEntries(_ context.Context, accountID string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.JournalEntry(nil), s.entries[accountID]...), nil
}

func (s *MemoryStore) ListRealizations(_ context.Context, accountID string) ([]model.Realization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Realization(nil), s.realizations[accountID]...), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]string, 0, len(s.entries))
	for id := range s.entries {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return accounts, nil
}
