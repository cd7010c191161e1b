// Package query is Pointline's PIT query kernel: partition-pruned
// range reads over one event table, symbol-key resolution against the
// registry with no implicit latest-only behavior, and decode-at-edge
// for scaled columns.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/venuezone"
	"github.com/pointline-dev/pointline/registry"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

func parseDateInLoc(date string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", date, loc)
}

// Options controls one LoadEvents call.
type Options struct {
	// Columns restricts the output to the named columns, in that order.
	// A nil/empty slice projects every column in the table's spec.
	Columns []string
	// IncludeLineage selects whether file_id/file_seq are projected
	// when Columns is empty; without it the full projection omits
	// them. With an explicit Columns list it has no effect, and the
	// lineage columns appear only if listed.
	IncludeLineage bool
}

// LoadEvents reads a half-open range [start, end) on ts_event_us,
// resolved against every symbol_id whose registry validity window
// intersects that range, with partition pruning by venue and by the
// trading_date partitions the range can possibly touch.
func LoadEvents(ctx context.Context, table *storage.Table, reg *registry.Table, venue, symbolKey string, startUs, endUs int64, opts Options) (*colfile.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if endUs <= startUs {
		return colfile.NewFrame(table.Spec, 0), nil
	}

	key := registry.NaturalKey{Venue: venue, VenueSymbol: symbolKey}
	versions := registry.VersionsIntersecting(reg, key, startUs, endUs)
	if len(versions) == 0 {
		return colfile.NewFrame(table.Spec, 0), nil
	}
	symbolIDs := make(map[int64]bool, len(versions))
	for _, v := range versions {
		symbolIDs[v.SymbolID] = true
	}

	prefixes, err := partitionPrefixes(table.Spec, venue, startUs, endUs)
	if err != nil {
		return nil, err
	}

	full, err := table.Read(prefixes...)
	if err != nil {
		return nil, err
	}

	symbolIdx := full.Spec.ColumnIndex("symbol_id")
	tsIdx := full.Spec.ColumnIndex("ts_event_us")
	filtered := full.Select(func(i int) bool {
		if symbolIdx >= 0 && !symbolIDs[full.Columns[symbolIdx][i].Int64] {
			return false
		}
		if tsIdx >= 0 {
			ts := full.Columns[tsIdx][i].Int64
			if ts < startUs || ts >= endUs {
				return false
			}
		}
		return true
	})

	return project(filtered, opts)
}

// partitionPrefixes returns every "venue=<v>/trading_date=<d>"
// partition directory that can possibly hold a row with ts_event_us in
// [start, end), by enumerating every calendar date (in the venue's
// local zone) the range touches.
func partitionPrefixes(spec *schema.TableSpec, venue string, startUs, endUs int64) ([]string, error) {
	if !spec.IsPartitioned() {
		return nil, nil
	}
	firstDate, err := venuezone.TradingDate(venue, startUs)
	if err != nil {
		return nil, err
	}
	lastDate, err := venuezone.TradingDate(venue, endUs-1)
	if err != nil {
		return nil, err
	}
	loc, err := venuezone.Lookup(venue)
	if err != nil {
		return nil, err
	}

	var prefixes []string
	cur, err := parseDateInLoc(firstDate, loc)
	if err != nil {
		return nil, err
	}
	last, err := parseDateInLoc(lastDate, loc)
	if err != nil {
		return nil, err
	}
	for !cur.After(last) {
		prefixes = append(prefixes, fmt.Sprintf("venue=%s/trading_date=%s", venue, cur.Format("2006-01-02")))
		cur = cur.AddDate(0, 0, 1)
	}
	return prefixes, nil
}

func project(f *colfile.Frame, opts Options) (*colfile.Frame, error) {
	cols := opts.Columns
	if len(cols) == 0 {
		if opts.IncludeLineage {
			return f, nil
		}
		cols = make([]string, 0, len(f.Spec.Columns))
		for _, c := range f.Spec.Columns {
			if c.Name == "file_id" || c.Name == "file_seq" {
				continue
			}
			cols = append(cols, c.Name)
		}
	}

	projSpec := &schema.TableSpec{
		Name:          f.Spec.Name,
		TieBreakCols:  f.Spec.TieBreakCols,
		PartitionCols: f.Spec.PartitionCols,
	}
	srcIdx := make([]int, 0, len(cols))
	for _, name := range cols {
		idx := f.Spec.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("query: column %q not in table %s", name, f.Spec.Name)
		}
		projSpec.Columns = append(projSpec.Columns, f.Spec.Columns[idx])
		srcIdx = append(srcIdx, idx)
	}

	out := colfile.NewFrame(projSpec, f.NumRows)
	row := make([]colfile.Cell, len(srcIdx))
	for i := 0; i < f.NumRows; i++ {
		for j, idx := range srcIdx {
			row[j] = f.Columns[idx][i]
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// JoinedMeta is one row's as-of symbol-registry attributes, aligned by
// position to the Frame passed to JoinSymbolMeta.
type JoinedMeta struct {
	Found   bool
	Version registry.Version
}

// JoinSymbolMeta attaches symbol metadata as of each row's own
// timestamp: for each row of f, find the registry version whose
// (venue, symbol_id) identity and validity window contains the row's
// tsCol timestamp. Since every committed event row carries a
// registry-covered symbol_id, a
// miss here indicates the registry snapshot given is older than the
// one the row was ingested against.
func JoinSymbolMeta(f *colfile.Frame, reg *registry.Table, tsCol string) ([]JoinedMeta, error) {
	symbolIdx := f.Spec.ColumnIndex("symbol_id")
	tsIdx := f.Spec.ColumnIndex(tsCol)
	if symbolIdx < 0 {
		return nil, fmt.Errorf("query: frame %s has no symbol_id column", f.Spec.Name)
	}
	if tsIdx < 0 {
		return nil, fmt.Errorf("query: frame %s has no column %q", f.Spec.Name, tsCol)
	}

	bySymbolID := make(map[int64]registry.Version, len(reg.Rows))
	for _, v := range reg.Rows {
		bySymbolID[v.SymbolID] = v
	}

	out := make([]JoinedMeta, f.NumRows)
	for i := 0; i < f.NumRows; i++ {
		symbolID := f.Columns[symbolIdx][i].Int64
		ts := f.Columns[tsIdx][i].Int64
		v, ok := bySymbolID[symbolID]
		if !ok || ts < v.ValidFromUs || ts >= v.ValidUntilUs {
			out[i] = JoinedMeta{Found: false}
			continue
		}
		out[i] = JoinedMeta{Found: true, Version: v}
	}
	return out, nil
}

// DecodeScaledColumns multiplies every TypeScaledInt64 column in cols
// (or every scaled column in the table if cols is empty) by its
// table-declared increment, returning one float64 slice per decoded
// column keyed by name. Decoding happens here, at the research edge,
// never mid-pipeline.
func DecodeScaledColumns(f *colfile.Frame, cols ...string) (map[string][]float64, error) {
	if len(cols) == 0 {
		for _, c := range f.Spec.Columns {
			if c.Type == schema.TypeScaledInt64 {
				cols = append(cols, c.Name)
			}
		}
	}
	sort.Strings(cols)

	out := make(map[string][]float64, len(cols))
	for _, name := range cols {
		col, ok := f.Spec.Column(name)
		if !ok {
			return nil, fmt.Errorf("query: column %q not in table %s", name, f.Spec.Name)
		}
		if col.Type != schema.TypeScaledInt64 {
			return nil, fmt.Errorf("query: column %q is not scaled", name)
		}
		idx := f.Spec.ColumnIndex(name)
		values := make([]float64, f.NumRows)
		for i := 0; i < f.NumRows; i++ {
			cell := f.Columns[idx][i]
			if cell.Null {
				values[i] = 0
				continue
			}
			values[i] = col.Scale.Decode(cell.Int64)
		}
		out[name] = values
	}
	return out, nil
}
