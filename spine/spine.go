// Package spine builds canonical reference-timestamp sequences per
// (venue, symbol) -- clock, trade, volume, and dollar spines -- and
// aligns arbitrary event streams onto them with a forward-only as-of
// join. Spines and aligned rows are plain value types, matching the
// rest of the pipeline's value-flow discipline.
package spine

import (
	"fmt"
	"sort"
)

// Alignment anchors a clock spine's first boundary.
type Alignment uint8

const (
	// AlignStart anchors the first boundary at StartUs exactly.
	AlignStart Alignment = iota
	// AlignEpoch anchors boundaries to multiples of StepUs since the
	// Unix epoch, so spines built over adjacent ranges share grid
	// points regardless of where each range happens to start.
	AlignEpoch
)

// Point is one reference timestamp on a spine.
type Point struct {
	TsEventUs int64
}

// ClockSpec configures an evenly spaced clock spine.
type ClockSpec struct {
	StartUs   int64
	EndUs     int64
	StepUs    int64
	Alignment Alignment
}

// BuildClock produces boundaries evenly spaced by StepUs across
// [StartUs, EndUs). The result is strictly increasing by
// construction.
func BuildClock(spec ClockSpec) ([]Point, error) {
	if spec.StepUs <= 0 {
		return nil, fmt.Errorf("spine: clock step_us must be positive, got %d", spec.StepUs)
	}
	if spec.EndUs <= spec.StartUs {
		return nil, nil
	}

	first := spec.StartUs
	if spec.Alignment == AlignEpoch {
		first = ((spec.StartUs / spec.StepUs) + 1) * spec.StepUs
		if spec.StartUs%spec.StepUs == 0 {
			first = spec.StartUs
		}
	}

	var points []Point
	for ts := first; ts < spec.EndUs; ts += spec.StepUs {
		points = append(points, Point{TsEventUs: ts})
	}
	return points, nil
}

// TradeEvent is the minimal shape BuildTrades and the volume/dollar
// builders need from a trades-table row.
type TradeEvent struct {
	TsEventUs int64
	// Qty and Price are scaled integers (schema.Scale's
	// representation); the dollar spine multiplies them directly
	// rather than decoding to float, so its threshold stays an exact
	// integer comparison.
	Qty   int64
	Price int64
}

// BuildTrades emits one spine point per unique trade timestamp, in
// ascending order. events must already be sorted by TsEventUs (the
// table's tie-break order); duplicate timestamps
// (multiple trades in the same microsecond) collapse to one boundary.
func BuildTrades(events []TradeEvent) []Point {
	var points []Point
	var last int64
	have := false
	for _, e := range events {
		if have && e.TsEventUs == last {
			continue
		}
		points = append(points, Point{TsEventUs: e.TsEventUs})
		last = e.TsEventUs
		have = true
	}
	return points
}

// BuildVolume emits one spine point each time cumulative traded
// quantity crosses a multiple of thresholdQty. thresholdQty is in the
// same scaled-integer units as TradeEvent.Qty.
func BuildVolume(events []TradeEvent, thresholdQty int64) ([]Point, error) {
	if thresholdQty <= 0 {
		return nil, fmt.Errorf("spine: volume threshold must be positive, got %d", thresholdQty)
	}
	var points []Point
	var cum int64
	nextBoundary := thresholdQty
	for _, e := range events {
		cum += e.Qty
		for cum >= nextBoundary {
			points = append(points, Point{TsEventUs: e.TsEventUs})
			nextBoundary += thresholdQty
		}
	}
	return dedupSameTs(points), nil
}

// BuildDollar emits one spine point each time cumulative notional
// (price * qty, both scaled integers) crosses a multiple of
// thresholdNotional.
func BuildDollar(events []TradeEvent, thresholdNotional int64) ([]Point, error) {
	if thresholdNotional <= 0 {
		return nil, fmt.Errorf("spine: dollar threshold must be positive, got %d", thresholdNotional)
	}
	var points []Point
	var cum int64
	nextBoundary := thresholdNotional
	for _, e := range events {
		cum += e.Price * e.Qty
		for cum >= nextBoundary {
			points = append(points, Point{TsEventUs: e.TsEventUs})
			nextBoundary += thresholdNotional
		}
	}
	return dedupSameTs(points), nil
}

// dedupSameTs collapses consecutive points sharing a timestamp --
// several thresholds can cross within the same trade -- so the result
// stays strictly increasing rather than merely non-decreasing.
func dedupSameTs(points []Point) []Point {
	if len(points) == 0 {
		return points
	}
	out := points[:1]
	for _, p := range points[1:] {
		if p.TsEventUs == out[len(out)-1].TsEventUs {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Aligned is one event mapped onto its spine boundary.
type Aligned struct {
	EventIndex  int
	TsEventUs   int64
	BoundaryUs  int64
	HasBoundary bool
}

// AlignToSpine performs a forward as-of join: each event's timestamp
// maps to the earliest spine boundary at or after it. Forward-only,
// to avoid lookahead -- never maps an event to a boundary strictly
// earlier than the event's own timestamp. events and spine must each
// be sorted ascending by
// timestamp already (the table's tie-break order and BuildClock's/
// BuildTrades'/BuildVolume's/BuildDollar's construction, respectively).
// An event past the spine's last boundary has HasBoundary = false.
func AlignToSpine(eventTsUs []int64, spine []Point) []Aligned {
	out := make([]Aligned, len(eventTsUs))
	idx := 0
	for i, ts := range eventTsUs {
		for idx < len(spine) && spine[idx].TsEventUs < ts {
			idx++
		}
		out[i] = Aligned{EventIndex: i, TsEventUs: ts}
		if idx < len(spine) {
			out[i].BoundaryUs = spine[idx].TsEventUs
			out[i].HasBoundary = true
		}
	}
	return out
}

// IsStrictlyIncreasing reports whether points form a valid spine.
// Exported for callers (and tests) that build spines from external
// data and want to assert the invariant rather than trust
// construction.
func IsStrictlyIncreasing(points []Point) bool {
	for i := 1; i < len(points); i++ {
		if points[i].TsEventUs <= points[i-1].TsEventUs {
			return false
		}
	}
	return true
}

// SortTradeEvents sorts events by timestamp in place; callers reading
// from storage.Table.Read already get tie-break order, but this helper
// lets ad-hoc callers (tests, research notebooks materialized in Go)
// establish it directly.
func SortTradeEvents(events []TradeEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].TsEventUs < events[j].TsEventUs })
}
