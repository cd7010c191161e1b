package binance_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	_ "github.com/pointline-dev/pointline/parser/binance"

	"github.com/pointline-dev/pointline/parser"
)

var _ = Describe("Trades parser", func() {
	It("parses a newline-delimited aggTrade export", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "trades.jsonl")
		body := `{"T":1753776000123,"p":"65000.50","q":"0.01","m":false,"a":555,"s":"BTCUSDT"}
{"T":1753776000456,"p":"65000.75","q":"0.02","m":true,"a":556,"s":"BTCUSDT"}
`
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("binance-spot", "trades")
		Expect(err).NotTo(HaveOccurred())

		frame, err := p.Parse(context.Background(), parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path})
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.Rows).To(HaveLen(2))
		Expect(frame.Rows[0]["venue_symbol"].String).To(Equal("BTCUSDT"))
		Expect(frame.Rows[0]["ts_event_us"].Int64).To(Equal(int64(1753776000123000)))
		Expect(frame.Rows[0]["side"].String).To(Equal("buy"))
		Expect(frame.Rows[1]["side"].String).To(Equal("sell"))
	})

	It("fails fast on a non-finite price literal", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "trades.jsonl")
		body := `{"T":1753776000123,"p":"NaN","q":"0.01","m":false,"a":555,"s":"BTCUSDT"}
`
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("binance-spot", "trades")
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Parse(context.Background(), parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path})
		Expect(err).To(HaveOccurred())
	})

	It("fails fast on malformed json", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "trades.jsonl")
		Expect(os.WriteFile(path, []byte("not json\n"), 0o644)).To(Succeed())

		p, err := parser.Lookup("binance-spot", "trades")
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Parse(context.Background(), parser.FileMeta{Vendor: "binance-spot", DataType: "trades", Path: path})
		Expect(err).To(HaveOccurred())
	})
})
