package query_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/query"
	"github.com/pointline-dev/pointline/registry"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

var priceScale = schema.Scale{Increment: 1.0 / 1e9}

func tradeRow(spec *schema.TableSpec, symID, tsUs int64, priceUnits float64, tradeID string) []colfile.Cell {
	price, _ := priceScale.Encode(priceUnits)
	qty, _ := priceScale.Encode(1.0)
	tradeIDCell := colfile.StringCell(tradeID)
	if tradeID == "" {
		tradeIDCell = colfile.NullCell()
	}
	return []colfile.Cell{
		colfile.StringCell("binance-spot"),
		colfile.Int64Cell(1),
		colfile.Int64Cell(symID),
		colfile.Int64Cell(tsUs),
		colfile.StringCell("2023-11-14"),
		colfile.StringCell("buy"),
		colfile.Int64Cell(price),
		colfile.Int64Cell(qty),
		tradeIDCell,
		colfile.Int64Cell(1),  // file_id, overwritten by test-specific file_seq below
		colfile.Int64Cell(0),
	}
}

// Round-trip trades: written rows come back exactly, sorted and
// decodable, for a venue in the closed venuezone enumeration.
var _ = Describe("LoadEvents", func() {
	var (
		spec   *schema.TableSpec
		tbl    *storage.Table
		reg    *registry.Table
		symKey = registry.NaturalKey{Venue: "binance-spot", VenueSymbol: "AB"}
		symID  int64
	)

	BeforeEach(func() {
		cat := schema.NewCatalog()
		var ok bool
		spec, ok = cat.Lookup("crypto_trades")
		Expect(ok).To(BeTrue())

		dir := GinkgoT().TempDir()
		var err error
		tbl, err = storage.Open(dir, spec)
		Expect(err).NotTo(HaveOccurred())

		reg, err = registry.Bootstrap([]registry.Snapshot{
			{Key: symKey, Attrs: registry.Attrs{CanonicalSymbol: "AB-USD", MarketType: "spot", BaseAsset: "AB", QuoteAsset: "USD", TickSize: 1, LotSize: 1, ContractSize: 1}},
		}, 1_699_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
		symID = reg.Rows[0].SymbolID

		f := colfile.NewFrame(spec, 3)
		timestamps := []int64{1_700_000_000_000_000, 1_700_000_000_000_001, 1_700_000_000_000_002}
		prices := []float64{100.0, 100.5, 101.0}
		for i, ts := range timestamps {
			cells := tradeRow(spec, symID, ts, prices[i], "")
			fileSeqIdx := len(cells) - 1
			cells[fileSeqIdx] = colfile.Int64Cell(int64(i + 1))
			Expect(f.AppendRow(cells)).To(Succeed())
		}
		_, err = tbl.Append(context.Background(), 0, f)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns exactly the rows in range, sorted, decodable", func() {
		out, err := query.LoadEvents(context.Background(), tbl, reg, "binance-spot", "AB",
			1_700_000_000_000_000, 1_700_000_000_000_003, query.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(3))

		tsIdx := out.Spec.ColumnIndex("ts_event_us")
		Expect(out.Columns[tsIdx][0].Int64).To(Equal(int64(1_700_000_000_000_000)))
		Expect(out.Columns[tsIdx][2].Int64).To(Equal(int64(1_700_000_000_000_002)))

		decoded, err := query.DecodeScaledColumns(out, "price")
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded["price"]).To(Equal([]float64{100.0, 100.5, 101.0}))
	})

	It("excludes lineage columns by default", func() {
		out, err := query.LoadEvents(context.Background(), tbl, reg, "binance-spot", "AB",
			1_700_000_000_000_000, 1_700_000_000_000_003, query.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Spec.ColumnIndex("file_id")).To(Equal(-1))
	})

	It("includes lineage columns when requested", func() {
		out, err := query.LoadEvents(context.Background(), tbl, reg, "binance-spot", "AB",
			1_700_000_000_000_000, 1_700_000_000_000_003, query.Options{IncludeLineage: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Spec.ColumnIndex("file_id")).NotTo(Equal(-1))
	})

	It("returns no rows for a symbol with no registry coverage", func() {
		out, err := query.LoadEvents(context.Background(), tbl, reg, "binance-spot", "ZZ",
			1_700_000_000_000_000, 1_700_000_000_000_003, query.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(0))
	})

	It("prunes to the requested half-open range", func() {
		out, err := query.LoadEvents(context.Background(), tbl, reg, "binance-spot", "AB",
			1_700_000_000_000_001, 1_700_000_000_000_002, query.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(1))
		tsIdx := out.Spec.ColumnIndex("ts_event_us")
		Expect(out.Columns[tsIdx][0].Int64).To(Equal(int64(1_700_000_000_000_001)))
	})
})

var _ = Describe("JoinSymbolMeta", func() {
	It("attaches the as-of registry version per row", func() {
		symKey := registry.NaturalKey{Venue: "binance-spot", VenueSymbol: "AB"}
		reg, err := registry.Bootstrap([]registry.Snapshot{
			{Key: symKey, Attrs: registry.Attrs{CanonicalSymbol: "AB-USD", MarketType: "spot", TickSize: 1, LotSize: 1, ContractSize: 1}},
		}, 1_699_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())

		cat := schema.NewCatalog()
		spec, _ := cat.Lookup("crypto_trades")
		f := colfile.NewFrame(spec, 1)
		Expect(f.AppendRow(tradeRow(spec, reg.Rows[0].SymbolID, 1_700_000_000_000_000, 100.0, ""))).To(Succeed())

		metas, err := query.JoinSymbolMeta(f, reg, "ts_event_us")
		Expect(err).NotTo(HaveOccurred())
		Expect(metas).To(HaveLen(1))
		Expect(metas[0].Found).To(BeTrue())
		Expect(metas[0].Version.Attrs.CanonicalSymbol).To(Equal("AB-USD"))
	})
})
