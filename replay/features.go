package replay

import "math"

// UpdateContext bundles a feature signal's inputs (the update, the
// book before and after it, the mid price) into one value, the
// idiomatic-Go equivalent of a multi-argument callback.
type UpdateContext struct {
	Update      Update
	Result      ApplyResult
	BookBefore  BookSnapshot
	BookAfter   BookSnapshot
	MidBefore   float64
	HasMidBefore bool
	MidAfter    float64
	HasMidAfter  bool
}

// FeatureSignal computes one value from an update/book transition, or
// reports it has nothing to contribute this update (e.g. the book has
// no two-sided market yet).
type FeatureSignal interface {
	Name() string
	OnUpdate(ctx UpdateContext) (value float64, ok bool)
}

// --- Book-based signals (stateless per update; default agg = last) ---

// MidPriceSignal emits the decoded mid price.
type MidPriceSignal struct{}

func (MidPriceSignal) Name() string { return "mid_price" }

func (MidPriceSignal) OnUpdate(ctx UpdateContext) (float64, bool) {
	if !ctx.HasMidAfter {
		return 0, false
	}
	return ctx.MidAfter, true
}

// SpreadSignal emits ask - bid at the top of book.
type SpreadSignal struct{}

func (SpreadSignal) Name() string { return "spread" }

func (SpreadSignal) OnUpdate(ctx UpdateContext) (float64, bool) {
	spread, ok := ctx.BookAfter.Spread()
	return spread, ok
}

// WeightedDepthSignal sums each level's quantity on Side, decayed by
// its distance from mid in basis points at rate HalflifeBps: weight =
// 2^(-distance_bps / HalflifeBps).
type WeightedDepthSignal struct {
	SignalSide  Side
	HalflifeBps float64
}

func (s WeightedDepthSignal) Name() string {
	return "weighted_depth_" + s.SignalSide.String()
}

func (s WeightedDepthSignal) OnUpdate(ctx UpdateContext) (float64, bool) {
	mid, ok := ctx.MidAfter, ctx.HasMidAfter
	if !ok || mid == 0 {
		return 0, false
	}
	levels := ctx.BookAfter.Bids
	if s.SignalSide == SideAsk {
		levels = ctx.BookAfter.Asks
	}
	return weightedDepth(levels, mid, s.HalflifeBps), true
}

func weightedDepth(levels []Level, mid, halflifeBps float64) float64 {
	var total float64
	for _, l := range levels {
		distanceBps := math.Abs(l.Price-mid) / mid * 10_000
		weight := math.Exp2(-distanceBps / halflifeBps)
		total += l.Qty * weight
	}
	return total
}

// BookImbalanceSignal emits (weightedBidDepth - weightedAskDepth) /
// (weightedBidDepth + weightedAskDepth), in [-1, 1].
type BookImbalanceSignal struct {
	HalflifeBps float64
}

func (BookImbalanceSignal) Name() string { return "book_imbalance" }

func (s BookImbalanceSignal) OnUpdate(ctx UpdateContext) (float64, bool) {
	mid, ok := ctx.MidAfter, ctx.HasMidAfter
	if !ok || mid == 0 {
		return 0, false
	}
	bidDepth := weightedDepth(ctx.BookAfter.Bids, mid, s.HalflifeBps)
	askDepth := weightedDepth(ctx.BookAfter.Asks, mid, s.HalflifeBps)
	denom := bidDepth + askDepth
	if denom == 0 {
		return 0, false
	}
	return (bidDepth - askDepth) / denom, true
}

// --- Delta-based signals (stateful per update; default agg = sum) ---

// OrderFlowImbalanceSignal contributes qty_new - qty_prev at the
// touched level, signed by side (bid growth is positive flow, ask
// growth is negative flow), optionally decayed by the touched level's
// distance from mid.
type OrderFlowImbalanceSignal struct {
	DistanceWeighted bool
	HalflifeBps      float64
	Scale            func(int64) float64
}

func (OrderFlowImbalanceSignal) Name() string { return "order_flow_imbalance" }

func (s OrderFlowImbalanceSignal) OnUpdate(ctx UpdateContext) (float64, bool) {
	delta := s.Scale(ctx.Result.NewQty) - s.Scale(ctx.Result.PrevQty)
	sign := 1.0
	if ctx.Update.Side == SideAsk {
		sign = -1.0
	}
	contribution := sign * delta

	if s.DistanceWeighted && ctx.HasMidAfter && ctx.MidAfter != 0 {
		price := s.Scale(ctx.Update.Price)
		distanceBps := math.Abs(price-ctx.MidAfter) / ctx.MidAfter * 10_000
		contribution *= math.Exp2(-distanceBps / s.HalflifeBps)
	}
	return contribution, true
}

// --- Aggregators ---

// Aggregator folds a window's per-update values into one emitted
// value. EmitAndReset's second return reports whether anything was
// pushed, so a window with no contributing updates emits a null
// feature_rows value rather than a fabricated zero.
type Aggregator interface {
	Push(v float64)
	EmitAndReset() (value float64, ok bool)
}

// NewAggregator builds one of the five default aggregators: last,
// mean, sum, min, max.
func NewAggregator(kind string) (Aggregator, error) {
	switch kind {
	case "last":
		return &lastAgg{}, nil
	case "mean":
		return &meanAgg{}, nil
	case "sum":
		return &sumAgg{}, nil
	case "min":
		return &minMaxAgg{isMin: true}, nil
	case "max":
		return &minMaxAgg{isMin: false}, nil
	default:
		return nil, unknownAggKind(kind)
	}
}

type aggKindError struct{ kind string }

func (e *aggKindError) Error() string { return "replay: unknown aggregator kind " + e.kind }

func unknownAggKind(kind string) error { return &aggKindError{kind: kind} }

type lastAgg struct {
	v   float64
	has bool
}

func (a *lastAgg) Push(v float64) { a.v = v; a.has = true }
func (a *lastAgg) EmitAndReset() (float64, bool) {
	v, ok := a.v, a.has
	a.v, a.has = 0, false
	return v, ok
}

type meanAgg struct {
	sum float64
	n   int
}

func (a *meanAgg) Push(v float64) { a.sum += v; a.n++ }
func (a *meanAgg) EmitAndReset() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	v := a.sum / float64(a.n)
	a.sum, a.n = 0, 0
	return v, true
}

type sumAgg struct {
	sum float64
	has bool
}

func (a *sumAgg) Push(v float64) { a.sum += v; a.has = true }
func (a *sumAgg) EmitAndReset() (float64, bool) {
	v, ok := a.sum, a.has
	a.sum, a.has = 0, false
	return v, ok
}

type minMaxAgg struct {
	isMin bool
	v     float64
	has   bool
}

func (a *minMaxAgg) Push(v float64) {
	if !a.has || (a.isMin && v < a.v) || (!a.isMin && v > a.v) {
		a.v = v
	}
	a.has = true
}

func (a *minMaxAgg) EmitAndReset() (float64, bool) {
	v, ok := a.v, a.has
	a.v, a.has = 0, false
	return v, ok
}
