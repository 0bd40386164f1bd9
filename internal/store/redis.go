package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultdesk/pnl-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cached lists are keyed by the account's cache generation, which every
// append increments. A reader that fetched from the primary before a
// concurrent append can only populate the previous generation, which no
// later read looks at.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendEntry(ctx context.Context, entry *model.JournalEntry, realizations []model.Realization) error {
	if err := s.primary.AppendEntry(ctx, entry, realizations); err != nil {
		return err
	}
	// Invalidate; next read will re-populate under the new generation.
	if err := s.rdb.Incr(ctx, generationKey(entry.AccountID)).Err(); err != nil {
		slog.Warn("cache invalidation failed", "account", entry.AccountID, "error", err)
	}
	return nil
}

// Primary returns the source-of-truth store. Engine rebuilds read from it
// directly.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Read-through (check cache first) ---

func (s *CachedStore) ListEntries(ctx context.Context, accountID string) ([]model.JournalEntry, error) {
	gen, ok := s.generation(ctx, accountID)
	var entries []model.JournalEntry
	if ok && s.readCache(ctx, journalKey(accountID, gen), &entries) {
		return entries, nil
	}

	entries, err := s.primary.ListEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.writeCache(ctx, journalKey(accountID, gen), entries)
	}
	return entries, nil
}

func (s *CachedStore) ListRealizations(ctx context.Context, accountID string) ([]model.Realization, error) {
	gen, ok := s.generation(ctx, accountID)
	var realizations []model.Realization
	if ok && s.readCache(ctx, realizationsKey(accountID, gen), &realizations) {
		return realizations, nil
	}

	realizations, err := s.primary.ListRealizations(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.writeCache(ctx, realizationsKey(accountID, gen), realizations)
	}
	return realizations, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.primary.ListAccounts(ctx)
}

// --- Cache helpers ---

// generation returns the account's cache generation. ok is false when Redis
// cannot be read, in which case the cache is bypassed.
func (s *CachedStore) generation(ctx context.Context, accountID string) (int64, bool) {
	gen, err := s.rdb.Get(ctx, generationKey(accountID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		return 0, false
	}
	return gen, true
}

func (s *CachedStore) readCache(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) writeCache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func generationKey(accountID string) string { return fmt.Sprintf("journal-gen:%s", accountID) }

func journalKey(accountID string, gen int64) string {
	return fmt.Sprintf("journal:%s:%d", accountID, gen)
}

func realizationsKey(accountID string, gen int64) string {
	return fmt.Sprintf("realizations:%s:%d", accountID, gen)
}
