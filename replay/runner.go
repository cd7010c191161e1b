// Run is the replay kernel's entry point: it streams a pre-sorted
// sequence of book updates through a BookState and a set of
// configured feature signals, emitting one row per (window, feature)
// pair on a fixed time grid.
//
// PIT safety: Run only ever consumes updates with TsEventUs < the
// current window boundary; no forward lookup crosses a boundary.
// Determinism: given the same ordered Updates and the same
// WindowSpec/FeatureConfig, the emitted Rows are byte-identical across
// runs, since every step is a pure function of prior state plus the
// next update in tie-break order.
package replay

import (
	"fmt"
	"sort"
)

// SampleMode selects when a feature is evaluated.
type SampleMode uint8

const (
	// SamplePerUpdate pushes the signal's value into its aggregator on
	// every update in the window (the default for book-based and
	// delta-based signals alike).
	SamplePerUpdate SampleMode = iota
	// SampleWindowEnd evaluates the signal exactly once, at the window
	// boundary, against the book state as of that instant rather than
	// per update.
	SampleWindowEnd
)

// FeatureConfig names one output feature: which signal computes it,
// how its per-update values are aggregated into one window value, and
// when it samples.
type FeatureConfig struct {
	Signal FeatureSignal
	Agg    string
	Sample SampleMode
}

// OutputRow is one emitted (window, feature) pair, matching the
// feature_rows TableSpec.
type OutputRow struct {
	Venue         string
	SymbolID      int64
	WindowStartUs int64
	WindowEndUs   int64
	FeatureName   string
	Value         float64
	HasValue      bool
	BookReset     bool
}

// Meta is replay's summary counters.
type Meta struct {
	RowsProcessed    int
	CrossedBookCount int64
	WindowsEmitted   int
}

// Decode converts a book's scaled integer to its real value; callers
// typically pass schema.Scale.Decode for the replayed table's price
// scale.
type Decode func(int64) float64

// Run replays updates (already sorted by the table's tie-break order)
// over window, emitting one OutputRow per (window boundary, feature)
// pair. depth bounds how many price levels each book-based signal
// scans.
func Run(venue string, symbolID int64, updates []Update, window WindowSpec, features map[string]FeatureConfig, decode Decode, depth int) ([]OutputRow, Meta, error) {
	boundaries := window.Boundaries()
	if len(boundaries) == 0 {
		return nil, Meta{}, nil
	}

	// Feature names are sorted once up front and iterated in that
	// fixed order everywhere below, so the emitted row sequence never
	// depends on Go's randomized map iteration order.
	names := make([]string, 0, len(features))
	aggs := make(map[string]Aggregator, len(features))
	for name, cfg := range features {
		agg, err := NewAggregator(cfg.Agg)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("replay: feature %q: %w", name, err)
		}
		aggs[name] = agg
		names = append(names, name)
	}
	sort.Strings(names)

	book := NewBookState()
	var rows []OutputRow
	var meta Meta

	boundaryIdx := 0
	windowResetFlag := false

	emit := func() {
		end := boundaries[boundaryIdx]
		start := end - window.StepUs
		for _, name := range names {
			cfg := features[name]
			if cfg.Sample == SampleWindowEnd {
				snap := book.Snapshot(depth, decode)
				mid, hasMid := snap.Mid()
				ctx := UpdateContext{BookAfter: snap, MidAfter: mid, HasMidAfter: hasMid}
				if v, ok := cfg.Signal.OnUpdate(ctx); ok {
					aggs[name].Push(v)
				}
			}
			value, ok := aggs[name].EmitAndReset()
			rows = append(rows, OutputRow{
				Venue:         venue,
				SymbolID:      symbolID,
				WindowStartUs: start,
				WindowEndUs:   end,
				FeatureName:   name,
				Value:         value,
				HasValue:      ok,
				BookReset:     windowResetFlag,
			})
		}
		meta.WindowsEmitted++
		boundaryIdx++
		windowResetFlag = false
	}

	for _, u := range updates {
		// PIT safety: never consume an update at or past the window
		// we are about to close.
		for boundaryIdx < len(boundaries) && u.TsEventUs >= boundaries[boundaryIdx] {
			emit()
		}
		if boundaryIdx >= len(boundaries) {
			break
		}

		before := book.Snapshot(depth, decode)
		midBefore, hasMidBefore := before.Mid()

		res := book.Apply(u)
		meta.RowsProcessed++
		if res.Crossed {
			meta.CrossedBookCount++
		}
		if res.BookReset {
			windowResetFlag = true
		}

		after := book.Snapshot(depth, decode)
		midAfter, hasMidAfter := after.Mid()

		ctx := UpdateContext{
			Update:       u,
			Result:       res,
			BookBefore:   before,
			BookAfter:    after,
			MidBefore:    midBefore,
			HasMidBefore: hasMidBefore,
			MidAfter:     midAfter,
			HasMidAfter:  hasMidAfter,
		}
		for _, name := range names {
			cfg := features[name]
			if cfg.Sample != SamplePerUpdate {
				continue
			}
			if v, ok := cfg.Signal.OnUpdate(ctx); ok {
				aggs[name].Push(v)
			}
		}
	}

	// Updates exhausted before the range did: close every remaining
	// window against the final book state, one row per configured
	// feature for every boundary in range.
	for boundaryIdx < len(boundaries) {
		emit()
	}

	return rows, meta, nil
}
