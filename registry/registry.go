// Package registry implements the SCD2 symbol registry: pure
// functional operations (Bootstrap/Upsert/Validate/AssignSymbolID)
// over a versioned table value, committed under optimistic
// concurrency.
package registry

import (
	"fmt"
	"sort"

	"github.com/pointline-dev/pointline/perr"
)

// MaxValidUntil marks a row's validity window as open-ended;
// is_current is equivalent to valid_until_ts_us == MaxValidUntil.
const MaxValidUntil = int64(1<<63 - 1)

// NaturalKey is a symbol's (venue, venue_symbol) identity, stable
// across SCD2 versions.
type NaturalKey struct {
	Venue       string
	VenueSymbol string
}

// Attrs are the tracked attributes that trigger a new SCD2 version
// when they change.
type Attrs struct {
	CanonicalSymbol string
	MarketType      string // spot|perp|future|option|main-board|...
	BaseAsset       string
	QuoteAsset      string
	TickSize        int64 // scaled per schema.Scale of the owning domain
	LotSize         int64
	ContractSize    int64
}

func (a Attrs) equal(b Attrs) bool {
	return a == b
}

// Snapshot is one full current-state listing fed to Bootstrap/Upsert:
// one entry per natural key known to be live as of the effective
// timestamp.
type Snapshot struct {
	Key   NaturalKey
	Attrs Attrs
}

// Version is one SCD2 row.
type Version struct {
	Key           NaturalKey
	Attrs         Attrs
	ValidFromUs   int64
	ValidUntilUs  int64
	IsCurrent     bool
	SymbolID      int64
}

// Table is an immutable versioned value: once returned from Bootstrap,
// Upsert, or Store.Snapshot, its Rows are never mutated in place --
// the same append-only discipline the event tables follow.
type Table struct {
	Version int64
	Rows    []Version
}

// Bootstrap turns a full current-state listing into SCD2 rows, all
// starting at effectiveTs and open-ended.
func Bootstrap(snapshot []Snapshot, effectiveTs int64) (*Table, error) {
	rows := make([]Version, 0, len(snapshot))
	seen := make(map[NaturalKey]bool, len(snapshot))
	for _, s := range snapshot {
		if seen[s.Key] {
			return nil, fmt.Errorf("registry: bootstrap: duplicate natural key %+v", s.Key)
		}
		seen[s.Key] = true
		rows = append(rows, Version{
			Key:          s.Key,
			Attrs:        s.Attrs,
			ValidFromUs:  effectiveTs,
			ValidUntilUs: MaxValidUntil,
			IsCurrent:    true,
			SymbolID:     AssignSymbolID(s.Key.Venue, s.Key.VenueSymbol, effectiveTs),
		})
	}
	t := &Table{Version: 0, Rows: rows}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Upsert applies a new snapshot against the current table as of
// effectiveTs, with three cases per natural key: unseen key -> insert;
// changed attributes -> close + insert; unchanged -> no-op. Keys in
// delistings close their current version with no successor.
//
// Upsert is a pure function: it never mutates current in place, and
// never touches an OCC version counter -- that is Store's job.
func Upsert(current *Table, newSnapshot []Snapshot, effectiveTs int64, delistings []NaturalKey) (*Table, error) {
	currentByKey := make(map[NaturalKey]int, len(current.Rows))
	for i, r := range current.Rows {
		if r.IsCurrent {
			currentByKey[r.Key] = i
		}
	}

	delisted := make(map[NaturalKey]bool, len(delistings))
	for _, k := range delistings {
		delisted[k] = true
	}

	out := make([]Version, len(current.Rows))
	copy(out, current.Rows)

	seenInSnapshot := make(map[NaturalKey]bool, len(newSnapshot))
	for _, s := range newSnapshot {
		if seenInSnapshot[s.Key] {
			return nil, fmt.Errorf("registry: upsert: duplicate natural key %+v in new snapshot", s.Key)
		}
		seenInSnapshot[s.Key] = true

		idx, tracked := currentByKey[s.Key]
		switch {
		case !tracked:
			// case (i): unseen key
			out = append(out, Version{
				Key:          s.Key,
				Attrs:        s.Attrs,
				ValidFromUs:  effectiveTs,
				ValidUntilUs: MaxValidUntil,
				IsCurrent:    true,
				SymbolID:     AssignSymbolID(s.Key.Venue, s.Key.VenueSymbol, effectiveTs),
			})
		case !out[idx].Attrs.equal(s.Attrs):
			// case (ii): tracked attributes changed
			out[idx].ValidUntilUs = effectiveTs
			out[idx].IsCurrent = false
			out = append(out, Version{
				Key:          s.Key,
				Attrs:        s.Attrs,
				ValidFromUs:  effectiveTs,
				ValidUntilUs: MaxValidUntil,
				IsCurrent:    true,
				SymbolID:     AssignSymbolID(s.Key.Venue, s.Key.VenueSymbol, effectiveTs),
			})
		default:
			// case (iii): unchanged, no-op
		}
	}

	for key, idx := range currentByKey {
		if delisted[key] {
			out[idx].ValidUntilUs = effectiveTs
			out[idx].IsCurrent = false
		}
	}

	next := &Table{Version: current.Version, Rows: out}
	if err := Validate(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Validate enforces the registry invariants: at most one is_current
// per natural key, non-overlapping validity windows per natural key,
// and unique symbol_id across the registry. Fails with a precise
// reason on the first violation found.
func Validate(t *Table) error {
	bySymbolID := make(map[int64]NaturalKey, len(t.Rows))
	byKey := make(map[NaturalKey][]Version, len(t.Rows))

	for _, r := range t.Rows {
		if other, dup := bySymbolID[r.SymbolID]; dup && other != r.Key {
			return fmt.Errorf("registry: duplicate symbol_id %d shared by %+v and %+v", r.SymbolID, other, r.Key)
		}
		bySymbolID[r.SymbolID] = r.Key
		byKey[r.Key] = append(byKey[r.Key], r)
	}

	for key, versions := range byKey {
		currentCount := 0
		sorted := append([]Version(nil), versions...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidFromUs < sorted[j].ValidFromUs })

		for i, v := range sorted {
			if v.IsCurrent != (v.ValidUntilUs == MaxValidUntil) {
				return fmt.Errorf("registry: key %+v: is_current must equal (valid_until == MaxValidUntil)", key)
			}
			if v.IsCurrent {
				currentCount++
			}
			if v.ValidFromUs >= v.ValidUntilUs {
				return fmt.Errorf("registry: key %+v: valid_from %d must precede valid_until %d", key, v.ValidFromUs, v.ValidUntilUs)
			}
			if i > 0 && sorted[i-1].ValidUntilUs > v.ValidFromUs {
				return fmt.Errorf("registry: key %+v: overlapping validity windows", key)
			}
		}
		if currentCount > 1 {
			return fmt.Errorf("registry: key %+v: more than one is_current version", key)
		}
	}
	return nil
}

// FindAsOf returns the SCD2 version for key whose validity window
// contains ts ([valid_from, valid_until)), if any.
func FindAsOf(t *Table, key NaturalKey, ts int64) (Version, bool) {
	for _, r := range t.Rows {
		if r.Key == key && r.ValidFromUs <= ts && ts < r.ValidUntilUs {
			return r, true
		}
	}
	return Version{}, false
}

// FindBySymbolID returns the version carrying the given surrogate id.
func FindBySymbolID(t *Table, symbolID int64) (Version, bool) {
	for _, r := range t.Rows {
		if r.SymbolID == symbolID {
			return r, true
		}
	}
	return Version{}, false
}

// VersionsIntersecting returns every version of key whose validity
// window intersects [start, end) -- used by the PIT query kernel to
// resolve a human-readable symbol to the set of symbol_id values
// covering a query range, with no implicit latest-only behavior.
func VersionsIntersecting(t *Table, key NaturalKey, start, end int64) []Version {
	var out []Version
	for _, r := range t.Rows {
		if r.Key != key {
			continue
		}
		if r.ValidFromUs < end && start < r.ValidUntilUs {
			out = append(out, r)
		}
	}
	return out
}

// staleRegistryConflict adapts a version mismatch to the shared error
// taxonomy.
func staleRegistryConflict(expected, actual int64) error {
	return &perr.ConflictError{Resource: "registry", ExpectedVersion: expected, ActualVersion: actual}
}
