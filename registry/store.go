package registry

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// AssignSymbolID computes the signed 64-bit truncation of a
// cryptographic hash over the business key (venue, venue_symbol,
// valid_from_ts_us): deterministic, stable across rebuilds,
// collision-resistant.
func AssignSymbolID(venue, venueSymbol string, validFromUs int64) int64 {
	key := fmt.Sprintf("%s|%s|%d", venue, venueSymbol, validFromUs)
	sum := blake2b.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Store owns a Table under single-writer/many-reader discipline:
// writers commit with optimistic concurrency; readers always observe
// a point-in-time snapshot value, independent of any later commit.
type Store struct {
	mu      sync.RWMutex
	current *Table
}

// NewStore wraps an initial Table (typically the output of Bootstrap)
// as the registry's first committed version.
func NewStore(initial *Table) *Store {
	return &Store{current: initial}
}

// Snapshot returns the currently committed Table. The returned value
// is never mutated by a later commit -- Upsert always allocates a new
// Rows slice -- so callers may read it across an arbitrarily long
// operation without synchronization.
func (s *Store) Snapshot() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CommitUpsert performs Upsert against the store's current table and
// commits the result, but only if expectedVersion matches the store's
// actual current version. A concurrent commit invalidates the attempt
// with a ConflictError; the caller must re-read Snapshot and retry.
func (s *Store) CommitUpsert(expectedVersion int64, newSnapshot []Snapshot, effectiveTs int64, delistings []NaturalKey) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Version != expectedVersion {
		return nil, staleRegistryConflict(expectedVersion, s.current.Version)
	}

	next, err := Upsert(s.current, newSnapshot, effectiveTs, delistings)
	if err != nil {
		return nil, err
	}
	next.Version = s.current.Version + 1
	s.current = next
	return next, nil
}
