package storage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

func testSpec() *schema.TableSpec {
	return &schema.TableSpec{
		Name: "test_trades",
		Columns: []schema.ColumnSpec{
			{Name: "venue", Type: schema.TypeString},
			{Name: "trading_date", Type: schema.TypeDate},
			{Name: "ts_event_us", Type: schema.TypeTimestampUs},
			{Name: "price", Type: schema.TypeScaledInt64, Scale: schema.Scale{Increment: 1.0 / 1e9}},
		},
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us"},
	}
}

func frameWithRows(spec *schema.TableSpec, venue, date string, timestamps ...int64) *colfile.Frame {
	f := colfile.NewFrame(spec, len(timestamps))
	for _, ts := range timestamps {
		_ = f.AppendRow([]colfile.Cell{
			colfile.StringCell(venue),
			colfile.StringCell(date),
			colfile.Int64Cell(ts),
			colfile.Int64Cell(1_000_000_000),
		})
	}
	return f
}

var _ = Describe("Table", func() {
	var dir string
	var spec *schema.TableSpec

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		spec = testSpec()
	})

	It("appends a frame and reads it back sorted by tie-break order", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		f := frameWithRows(spec, "binance-spot", "2026-07-29", 300, 100, 200)
		v1, err := tbl.Append(context.Background(), 0, f)
		Expect(err).NotTo(HaveOccurred())
		Expect(v1).To(Equal(int64(1)))

		out, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(3))
		tsIdx := out.Spec.ColumnIndex("ts_event_us")
		Expect(out.Columns[tsIdx][0].Int64).To(Equal(int64(100)))
		Expect(out.Columns[tsIdx][1].Int64).To(Equal(int64(200)))
		Expect(out.Columns[tsIdx][2].Int64).To(Equal(int64(300)))
	})

	It("rejects a second append at a stale expected version", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		f1 := frameWithRows(spec, "binance-spot", "2026-07-29", 100)
		_, err = tbl.Append(context.Background(), 0, f1)
		Expect(err).NotTo(HaveOccurred())

		f2 := frameWithRows(spec, "binance-spot", "2026-07-29", 200)
		_, err = tbl.Append(context.Background(), 0, f2)
		Expect(err).To(HaveOccurred())
	})

	It("prunes reads to the requested partition", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		v1, err := tbl.Append(context.Background(), 0, frameWithRows(spec, "binance-spot", "2026-07-29", 100))
		Expect(err).NotTo(HaveOccurred())
		_, err = tbl.Append(context.Background(), v1, frameWithRows(spec, "okx-spot", "2026-07-29", 200))
		Expect(err).NotTo(HaveOccurred())

		out, err := tbl.Read("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(1))
	})

	It("compacts multiple part files into one without changing query results", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		v1, err := tbl.Append(context.Background(), 0, frameWithRows(spec, "binance-spot", "2026-07-29", 300))
		Expect(err).NotTo(HaveOccurred())
		v2, err := tbl.Append(context.Background(), v1, frameWithRows(spec, "binance-spot", "2026-07-29", 100))
		Expect(err).NotTo(HaveOccurred())

		before, err := tbl.Read("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())

		_, err = tbl.Compact(v2, "venue=binance-spot/trading_date=2026-07-29", 1_700_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())

		after, err := tbl.Read("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())
		Expect(after.NumRows).To(Equal(before.NumRows))

		entries, err := tbl.LiveFileEntries("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})

	It("vacuum leaves a live part file in place", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())
		_, err = tbl.Append(context.Background(), 0, frameWithRows(spec, "binance-spot", "2026-07-29", 100))
		Expect(err).NotTo(HaveOccurred())

		removed, err := tbl.Vacuum(time.Hour, 1_700_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(0))
	})

	It("vacuum withholds superseded files until the retention window elapses", func() {
		tbl, err := storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		v1, err := tbl.Append(context.Background(), 0, frameWithRows(spec, "binance-spot", "2026-07-29", 300))
		Expect(err).NotTo(HaveOccurred())
		v2, err := tbl.Append(context.Background(), v1, frameWithRows(spec, "binance-spot", "2026-07-29", 100))
		Expect(err).NotTo(HaveOccurred())

		compactAtUs := int64(1_700_000_000_000_000)
		_, err = tbl.Compact(v2, "venue=binance-spot/trading_date=2026-07-29", compactAtUs)
		Expect(err).NotTo(HaveOccurred())

		// Still within the retention window: the two superseded
		// originals stay on disk for any reader whose snapshot predates
		// the compaction.
		removed, err := tbl.Vacuum(time.Hour, compactAtUs+30*int64(time.Minute/time.Microsecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(0))

		entries, err := tbl.LiveFileEntries("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))

		// Past the retention window: the two superseded originals are
		// removed, the compacted file stays.
		removed, err = tbl.Vacuum(time.Hour, compactAtUs+2*int64(time.Hour/time.Microsecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(2))

		entries, err = tbl.LiveFileEntries("venue=binance-spot/trading_date=2026-07-29")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})
})
