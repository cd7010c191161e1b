package sse_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	_ "github.com/pointline-dev/pointline/parser/sse"

	"github.com/pointline-dev/pointline/parser"
)

const header = "ChannelNo,ApplSeqNum,BidApplSeqNum,OfferApplSeqNum,ExecType,Price,Qty,TradeTime\n"

var _ = Describe("L3 tick events parser", func() {
	It("lifts the symbol from the filename and decodes CST timestamps", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "600000_20260729_ticks.csv")
		body := header +
			"1,1001,900,901,F,1050,100,20260729093000123\n" +
			"1,1002,902,903,C,1051,50,20260729093000456\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("sse", "l3_tick_events")
		Expect(err).NotTo(HaveOccurred())

		frame, err := p.Parse(context.Background(), parser.FileMeta{Vendor: "sse", DataType: "l3_tick_events", Path: path})
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.Rows).To(HaveLen(2))
		Expect(frame.Rows[0]["venue_symbol"].String).To(Equal("600000"))
		Expect(frame.Rows[0]["exec_type"].String).To(Equal("FILL"))
		Expect(frame.Rows[1]["exec_type"].String).To(Equal("CANCEL"))
		Expect(frame.Rows[0]["bid_ref"].Int64).To(Equal(int64(900)))
		Expect(frame.Rows[0]["ask_ref"].Int64).To(Equal(int64(901)))
	})

	It("uses the SymbolHint when provided instead of the filename", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "anything.csv")
		body := header + "1,1001,900,901,F,1050,100,20260729093000123\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("sse", "l3_tick_events")
		Expect(err).NotTo(HaveOccurred())

		frame, err := p.Parse(context.Background(), parser.FileMeta{Vendor: "sse", DataType: "l3_tick_events", Path: path, SymbolHint: "600001"})
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.Rows[0]["venue_symbol"].String).To(Equal("600001"))
	})

	It("rejects schema drift in the header", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "600000_20260729_ticks.csv")
		body := "Wrong,Header\n1,2\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("sse", "l3_tick_events")
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Parse(context.Background(), parser.FileMeta{Vendor: "sse", DataType: "l3_tick_events", Path: path})
		Expect(err).To(HaveOccurred())
	})

	It("passes through a row with an empty required field as null, for ingest to quarantine", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "600000_20260729_ticks.csv")
		body := header + ",1001,900,901,F,1050,100,20260729093000123\n" +
			"1,1002,902,903,C,1051,50,20260729093000456\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		p, err := parser.Lookup("sse", "l3_tick_events")
		Expect(err).NotTo(HaveOccurred())

		frame, err := p.Parse(context.Background(), parser.FileMeta{Vendor: "sse", DataType: "l3_tick_events", Path: path})
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.Rows).To(HaveLen(2))
		Expect(frame.Rows[0]["channel_no"].Null).To(BeTrue())
		Expect(frame.Rows[1]["channel_no"].Null).To(BeFalse())
	})
})
