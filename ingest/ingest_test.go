package ingest_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/ingest"
	"github.com/pointline-dev/pointline/manifest"
	_ "github.com/pointline-dev/pointline/parser/binance"
	_ "github.com/pointline-dev/pointline/parser/deribit"
	"github.com/pointline-dev/pointline/parser"
	_ "github.com/pointline-dev/pointline/parser/sse"
	_ "github.com/pointline-dev/pointline/parser/szse"
	"github.com/pointline-dev/pointline/quarantine"
	"github.com/pointline-dev/pointline/query"
	"github.com/pointline-dev/pointline/registry"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

// newDeps wires a fresh set of collaborators rooted at a temp
// directory, with a registry covering venue=binance-spot
// symbol=BTCUSDT from well before any fixture's event timestamps.
func newDeps(root string) (ingest.Deps, *registry.Store) {
	cat := schema.NewCatalog()

	reg, err := registry.Bootstrap([]registry.Snapshot{
		{
			Key:   registry.NaturalKey{Venue: "binance-spot", VenueSymbol: "BTCUSDT"},
			Attrs: registry.Attrs{CanonicalSymbol: "BTC-USDT", MarketType: "spot", BaseAsset: "BTC", QuoteAsset: "USDT", TickSize: 1, LotSize: 1, ContractSize: 1},
		},
		{
			Key:   registry.NaturalKey{Venue: "sse", VenueSymbol: "600000"},
			Attrs: registry.Attrs{CanonicalSymbol: "600000.SH", MarketType: "main-board", TickSize: 1, LotSize: 100, ContractSize: 1},
		},
		{
			Key:   registry.NaturalKey{Venue: "szse", VenueSymbol: "000001"},
			Attrs: registry.Attrs{CanonicalSymbol: "000001.SZ", MarketType: "main-board", TickSize: 1, LotSize: 100, ContractSize: 1},
		},
		{
			Key:   registry.NaturalKey{Venue: "deribit", VenueSymbol: "BTC-26SEP25-60000-C"},
			Attrs: registry.Attrs{CanonicalSymbol: "BTC-26SEP25-60000-C", MarketType: "option", BaseAsset: "BTC", QuoteAsset: "USD", TickSize: 1, LotSize: 1, ContractSize: 1},
		},
		{
			Key:   registry.NaturalKey{Venue: "deribit", VenueSymbol: "BTC-PERPETUAL"},
			Attrs: registry.Attrs{CanonicalSymbol: "BTC-PERP", MarketType: "perp", BaseAsset: "BTC", QuoteAsset: "USD", TickSize: 1, LotSize: 1, ContractSize: 1},
		},
	}, 1_699_000_000_000_000)
	Expect(err).NotTo(HaveOccurred())
	regStore := registry.NewStore(reg)

	man, err := manifest.Open(filepath.Join(root, "manifest"))
	Expect(err).NotTo(HaveOccurred())
	qlog, err := quarantine.Open(filepath.Join(root, "quarantine"))
	Expect(err).NotTo(HaveOccurred())

	tablesDir := filepath.Join(root, "tables")
	deps := ingest.Deps{
		Catalog:    cat,
		Registry:   regStore,
		Manifest:   man,
		Quarantine: qlog,
		OpenTable: func(tableName string) (*storage.Table, error) {
			spec, ok := cat.Lookup(tableName)
			if !ok {
				return nil, os.ErrNotExist
			}
			return storage.Open(filepath.Join(tablesDir, tableName), spec)
		},
	}
	return deps, regStore
}

func writeTradesFixture(dir string, body string) string {
	path := filepath.Join(dir, "trades.jsonl")
	Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
	return path
}

var _ = Describe("IngestFile", func() {
	var (
		root string
		deps ingest.Deps
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		deps, _ = newDeps(root)
	})

	// 3 trades land in crypto_trades and LoadEvents returns exactly
	// those rows, sorted, decodable back to the original prices.
	It("writes a round trip of trades visible through the query kernel", func() {
		fixtureDir := GinkgoT().TempDir()
		body := `{"T":1700000000000,"p":"100.00","q":"1.0","m":false,"a":1,"s":"BTCUSDT"}
{"T":1700000000000,"p":"100.50","q":"1.0","m":true,"a":2,"s":"BTCUSDT"}
{"T":1700000000001,"p":"101.00","q":"1.0","m":false,"a":3,"s":"BTCUSDT"}
`
		path := writeTradesFixture(fixtureDir, body)

		meta := parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path}
		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_500_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.State).To(Equal(manifest.StateCompleted))
		Expect(result.RowsTotal).To(Equal(int64(3)))
		Expect(result.RowsWritten).To(Equal(int64(3)))
		Expect(result.RowsQuarantined).To(Equal(int64(0)))

		tbl, err := deps.OpenTable("crypto_trades")
		Expect(err).NotTo(HaveOccurred())

		out, err := query.LoadEvents(context.Background(), tbl, deps.Registry.Snapshot(), "binance-spot", "BTCUSDT",
			1_700_000_000_000_000, 1_700_000_000_002_000, query.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumRows).To(Equal(3))

		decoded, err := query.DecodeScaledColumns(out, "price")
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded["price"]).To(ConsistOf(100.0, 100.5, 101.0))
	})

	// Re-running with force=false against the same content hash is a
	// no-op that leaves the manifest and storage snapshot unchanged.
	It("is idempotent on re-ingest with force=false", func() {
		fixtureDir := GinkgoT().TempDir()
		body := `{"T":1700000000000,"p":"100.00","q":"1.0","m":false,"a":1,"s":"BTCUSDT"}
`
		path := writeTradesFixture(fixtureDir, body)
		meta := parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path}

		first, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_500_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Skipped).To(BeFalse())

		second, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_600_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Skipped).To(BeTrue())
		Expect(second.FileID).To(Equal(first.FileID))
		Expect(second.RowsWritten).To(Equal(first.RowsWritten))
		Expect(second.RowsQuarantined).To(Equal(first.RowsQuarantined))

		tbl, err := deps.OpenTable("crypto_trades")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(1))
	})

	// A symbol with no registry coverage is entirely quarantined,
	// never written, and the manifest still reaches state completed.
	It("quarantines every row for a symbol with no registry coverage", func() {
		fixtureDir := GinkgoT().TempDir()
		body := `{"T":1700000000000,"p":"1.00","q":"1.0","m":false,"a":1,"s":"ZZZUSDT"}
{"T":1700000000001,"p":"1.01","q":"1.0","m":false,"a":2,"s":"ZZZUSDT"}
`
		path := writeTradesFixture(fixtureDir, body)
		meta := parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path}

		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_500_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.State).To(Equal(manifest.StateCompleted))
		Expect(result.RowsTotal).To(Equal(int64(2)))
		Expect(result.RowsWritten).To(Equal(int64(0)))
		Expect(result.RowsQuarantined).To(Equal(int64(2)))

		tbl, err := deps.OpenTable("crypto_trades")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(0))
	})

	It("dry-runs without writing to storage or advancing the manifest past in-progress", func() {
		fixtureDir := GinkgoT().TempDir()
		body := `{"T":1700000000000,"p":"100.00","q":"1.0","m":false,"a":1,"s":"BTCUSDT"}
`
		path := writeTradesFixture(fixtureDir, body)
		meta := parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path}

		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_500_000, DryRun: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowsWritten).To(Equal(int64(1)))
		Expect(result.State).To(Equal(manifest.StateInProgress))

		tbl, err := deps.OpenTable("crypto_trades")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(0))
	})

	// SSE requires non-null channel/sequence fields per row; a
	// violation quarantines that row alone, the parser never aborts
	// the whole file.
	It("quarantines an SSE row with an empty required field while writing the rest of the file", func() {
		fixtureDir := GinkgoT().TempDir()
		path := filepath.Join(fixtureDir, "600000_20260729_ticks.csv")
		body := "ChannelNo,ApplSeqNum,BidApplSeqNum,OfferApplSeqNum,ExecType,Price,Qty,TradeTime\n" +
			",1001,900,901,F,1050,100,20260729093000123\n" +
			"1,1002,902,903,C,1051,50,20260729093000456\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		meta := parser.FileMeta{Vendor: "sse", DataType: "l3_tick_events", Path: path}
		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_753_000_000_000_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowsTotal).To(Equal(int64(2)))
		Expect(result.RowsWritten).To(Equal(int64(1)))
		Expect(result.RowsQuarantined).To(Equal(int64(1)))

		tbl, err := deps.OpenTable("cn_l3_tick_events")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(1))
	})

	// SZSE requires per-channel ApplSeqNum continuity; every
	// out-of-sequence row is quarantined (a rejected row never becomes
	// the channel's baseline), while rows continuing the last accepted
	// sequence still land in the table.
	It("quarantines an SZSE row with a per-channel sequence gap while writing the rest of the file", func() {
		fixtureDir := GinkgoT().TempDir()
		path := filepath.Join(fixtureDir, "000001_20260729_orders.csv")
		body := "ChannelNo,ApplSeqNum,Side,OrderType,EventKind,Price,Qty,TransactTime\n" +
			"1,1001,1,2,ADD,1050,100,20260729093000123\n" +
			"1,1005,2,2,CANCEL,1051,50,20260729093000456\n" +
			"1,1002,1,2,ADD,1052,25,20260729093000789\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		meta := parser.FileMeta{Vendor: "szse", DataType: "l3_order_events", Path: path}
		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_753_000_000_000_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowsTotal).To(Equal(int64(3)))
		Expect(result.RowsWritten).To(Equal(int64(2)))
		Expect(result.RowsQuarantined).To(Equal(int64(1)))

		tbl, err := deps.OpenTable("cn_l3_order_events")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(2))
	})

	// The options chain carries a second symbol reference: the
	// underlying resolves through the same as-of join as the row's own
	// venue_symbol, and a miss quarantines that row alone.
	It("resolves the options chain underlying and quarantines rows whose underlying has no coverage", func() {
		fixtureDir := GinkgoT().TempDir()
		path := filepath.Join(fixtureDir, "chain.jsonl")
		body := `{"timestamp":1700000000000,"instrument_name":"BTC-26SEP25-60000-C","underlying":"BTC-PERPETUAL","strike":60000.0,"expiration_timestamp":1758873600000,"option_type":"call","mark_price":0.0525,"index_price":64999.9,"open_interest":1250.3}
{"timestamp":1700000000001,"instrument_name":"BTC-26SEP25-60000-C","underlying":"BTC-27MAR26","strike":60000.0,"expiration_timestamp":1758873600000,"option_type":"call","mark_price":0.0526,"index_price":65000.1,"open_interest":1250.3}
`
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		meta := parser.FileMeta{Vendor: "deribit", DataType: "options_chain", Path: path}
		result, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{NowUs: 1_700_000_000_500_000})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.State).To(Equal(manifest.StateCompleted))
		Expect(result.RowsTotal).To(Equal(int64(2)))
		Expect(result.RowsWritten).To(Equal(int64(1)))
		Expect(result.RowsQuarantined).To(Equal(int64(1)))

		tbl, err := deps.OpenTable("crypto_options_chain")
		Expect(err).NotTo(HaveOccurred())
		frame, err := tbl.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.NumRows).To(Equal(1))

		snap := deps.Registry.Snapshot()
		underlying, found := registry.FindAsOf(snap, registry.NaturalKey{Venue: "deribit", VenueSymbol: "BTC-PERPETUAL"}, 1_700_000_000_000_000)
		Expect(found).To(BeTrue())
		idx := frame.Spec.ColumnIndex("underlying_symbol_id")
		Expect(frame.Columns[idx][0].Int64).To(Equal(underlying.SymbolID))
	})

	It("rejects an unknown (vendor, data_type) pairing", func() {
		meta := parser.FileMeta{Vendor: "nope", DataType: "trades", Path: "/nonexistent"}
		_, err := ingest.IngestFile(context.Background(), deps, meta, ingest.Options{})
		Expect(err).To(HaveOccurred())
	})
})
