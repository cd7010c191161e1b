// Package replay rebuilds L2 order books from incremental updates and
// runs a feature/aggregator pipeline that emits per-window signals
// over the replayed book.
//
// Each side is an unbounded ordered price->quantity map backed by
// google/btree; stdlib has no ordered map, and the book has no fixed
// depth cap.
package replay

import (
	"github.com/google/btree"
)

// Side names a book side.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// level is one ordered-map entry: an integer price (already scaled per
// schema.Scale, never decoded mid-pipeline) and its quantity.
type level struct {
	price int64
	qty   int64
}

// bookSide is one side's ordered price->quantity map, with its own
// snapshot-burst tracking state so a multi-row snapshot resets the
// side exactly once -- and only the side the snapshot carries.
type bookSide struct {
	side      Side
	tree      *btree.BTreeG[level]
	inBurst   bool
}

func newBookSide(side Side) *bookSide {
	var less func(a, b level) bool
	if side == SideBid {
		// Bids order best (highest) first: descending price.
		less = func(a, b level) bool { return a.price > b.price }
	} else {
		// Asks order best (lowest) first: ascending price.
		less = func(a, b level) bool { return a.price < b.price }
	}
	return &bookSide{side: side, tree: btree.NewG(32, less)}
}

func (b *bookSide) get(price int64) (int64, bool) {
	l, ok := b.tree.Get(level{price: price})
	if !ok {
		return 0, false
	}
	return l.qty, true
}

func (b *bookSide) set(price, qty int64) {
	if qty == 0 {
		b.tree.Delete(level{price: price})
		return
	}
	b.tree.ReplaceOrInsert(level{price: price, qty: qty})
}

func (b *bookSide) reset() {
	b.tree.Clear(false)
}

func (b *bookSide) best() (level, bool) {
	var out level
	found := false
	b.tree.Ascend(func(l level) bool {
		out = l
		found = true
		return false
	})
	return out, found
}

// levels returns up to depth levels, best-first, as decoded values.
func (b *bookSide) levels(depth int, decode func(int64) float64) []Level {
	out := make([]Level, 0, depth)
	b.tree.Ascend(func(l level) bool {
		out = append(out, Level{Price: decode(l.price), Qty: decode(l.qty)})
		return len(out) < depth
	})
	return out
}

// Level is a decoded (price, qty) pair as exposed to feature signals
// -- the one place in the replay kernel where scaled integers are
// decoded, since feature computation is itself a research-edge
// consumer of the canonical store.
type Level struct {
	Price float64
	Qty   float64
}

// BookState is one (venue, symbol) order book, owned exclusively by
// the replay stream that built it, never shared.
type BookState struct {
	Bids *bookSide
	Asks *bookSide
}

// NewBookState returns an empty book.
func NewBookState() *BookState {
	return &BookState{Bids: newBookSide(SideBid), Asks: newBookSide(SideAsk)}
}

// Update is one incremental or snapshot row, already resolved to the
// table's tie-break order by the caller: updates are applied in
// strict (ts_event_us, file_id, file_seq) order.
type Update struct {
	TsEventUs  int64
	FileID     int64
	FileSeq    int64
	IsSnapshot bool
	Side       Side
	Price      int64
	Qty        int64
}

// ApplyResult reports what Apply observed about one update, for the
// feature/aggregator layer and for replay meta counters.
type ApplyResult struct {
	// Crossed is true if, after applying this update, the best bid is
	// at or above the best ask -- flagged and counted, never dropped.
	Crossed bool
	// BookReset is true if this update was the first is_snapshot row
	// of a new snapshot burst on its side, triggering a reset before
	// the level was applied.
	BookReset bool
	// PrevQty/NewQty are the touched level's quantity immediately
	// before and after this update (0 for a level that did not exist,
	// or that was removed by qty == 0).
	PrevQty int64
	NewQty  int64
}

// Apply mutates the book for one update and reports what happened.
// qty == 0 removes the level. A row with is_snapshot =
// true resets its side exactly once per contiguous run of snapshot
// rows, not on every row of the burst -- a real vendor snapshot is
// emitted as one row per level, all flagged is_snapshot, and a per-row
// reset would discard every level but the last.
func (b *BookState) Apply(u Update) ApplyResult {
	side := b.side(u.Side)

	var res ApplyResult
	if u.IsSnapshot {
		if !side.inBurst {
			side.reset()
			side.inBurst = true
			res.BookReset = true
		}
	} else {
		side.inBurst = false
	}

	prevQty, existed := side.get(u.Price)
	if !existed {
		prevQty = 0
	}
	res.PrevQty = prevQty
	side.set(u.Price, u.Qty)
	res.NewQty = u.Qty

	if bestBid, ok := b.Bids.best(); ok {
		if bestAsk, ok := b.Asks.best(); ok {
			res.Crossed = bestBid.price >= bestAsk.price
		}
	}
	return res
}

func (b *BookState) side(s Side) *bookSide {
	if s == SideBid {
		return b.Bids
	}
	return b.Asks
}

// Snapshot returns a decoded, depth-truncated view of both sides, used
// as the book-before/book-after inputs to feature signals.
func (b *BookState) Snapshot(depth int, decode func(int64) float64) BookSnapshot {
	return BookSnapshot{
		Bids: b.Bids.levels(depth, decode),
		Asks: b.Asks.levels(depth, decode),
	}
}

// BookSnapshot is a decoded, depth-truncated view of one book state.
type BookSnapshot struct {
	Bids []Level
	Asks []Level
}

// Mid returns the decoded mid price (average of best bid and best
// ask), and false if either side is empty.
func (s BookSnapshot) Mid() (float64, bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, false
	}
	return (s.Bids[0].Price + s.Asks[0].Price) / 2, true
}

// Spread returns ask - bid at the top of book, and false if either
// side is empty.
func (s BookSnapshot) Spread() (float64, bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price - s.Bids[0].Price, true
}
