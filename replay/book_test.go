package replay_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/replay"
)

var _ = Describe("BookState.Apply", func() {
	It("resets the side on a snapshot row and keeps only the snapshot level", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideBid, Price: 100, Qty: 5})
		book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideBid, Price: 100, Qty: 3})
		res := book.Apply(replay.Update{TsEventUs: 30, Side: replay.SideBid, Price: 100, Qty: 7, IsSnapshot: true})

		Expect(res.BookReset).To(BeTrue())
		snap := book.Snapshot(10, func(v int64) float64 { return float64(v) })
		Expect(snap.Bids).To(HaveLen(1))
		Expect(snap.Bids[0].Price).To(Equal(100.0))
		Expect(snap.Bids[0].Qty).To(Equal(7.0))
	})

	It("removes a level entirely when qty == 0", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideAsk, Price: 200, Qty: 4})
		book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideAsk, Price: 200, Qty: 0})

		snap := book.Snapshot(10, func(v int64) float64 { return float64(v) })
		Expect(snap.Asks).To(BeEmpty())
	})

	It("resets only the side carried by the snapshot, leaving the other side's incremental stream intact", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideAsk, Price: 200, Qty: 4})
		book.Apply(replay.Update{TsEventUs: 15, Side: replay.SideBid, Price: 100, Qty: 5, IsSnapshot: true})
		book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideAsk, Price: 201, Qty: 2})

		snap := book.Snapshot(10, func(v int64) float64 { return float64(v) })
		Expect(snap.Bids).To(HaveLen(1))
		Expect(snap.Asks).To(HaveLen(2))
	})

	It("only resets once per contiguous snapshot burst, not per row", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideBid, Price: 99, Qty: 1})
		r1 := book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideBid, Price: 100, Qty: 7, IsSnapshot: true})
		r2 := book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideBid, Price: 98, Qty: 3, IsSnapshot: true})

		Expect(r1.BookReset).To(BeTrue())
		Expect(r2.BookReset).To(BeFalse())

		snap := book.Snapshot(10, func(v int64) float64 { return float64(v) })
		Expect(snap.Bids).To(HaveLen(2))
	})

	It("flags a crossed book without dropping the update", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideBid, Price: 100, Qty: 1})
		book.Apply(replay.Update{TsEventUs: 11, Side: replay.SideAsk, Price: 105, Qty: 1})
		res := book.Apply(replay.Update{TsEventUs: 12, Side: replay.SideBid, Price: 110, Qty: 1})

		Expect(res.Crossed).To(BeTrue())
		snap := book.Snapshot(10, func(v int64) float64 { return float64(v) })
		Expect(snap.Bids[0].Price).To(Equal(110.0))
	})

	It("reports prev/new qty at the touched level for delta-based features", func() {
		book := replay.NewBookState()
		book.Apply(replay.Update{TsEventUs: 10, Side: replay.SideBid, Price: 100, Qty: 5})
		res := book.Apply(replay.Update{TsEventUs: 20, Side: replay.SideBid, Price: 100, Qty: 8})

		Expect(res.PrevQty).To(Equal(int64(5)))
		Expect(res.NewQty).To(Equal(int64(8)))
	})
})
