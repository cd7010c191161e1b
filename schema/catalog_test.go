package schema_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/schema"
)

var _ = Describe("Catalog", func() {
	Context("builtin tables", func() {
		It("registers every canonical table", func() {
			c := schema.NewCatalog()
			for _, name := range []string{
				"crypto_trades",
				"crypto_book_updates",
				"crypto_quotes",
				"crypto_deriv_ticker",
				"crypto_liquidations",
				"crypto_options_chain",
				"cn_l3_order_events",
				"cn_l3_tick_events",
				"feature_rows",
			} {
				_, ok := c.Lookup(name)
				Expect(ok).To(BeTrue(), "expected table %s to be registered", name)
			}
		})

		It("rejects a duplicate table name", func() {
			c := schema.NewCatalog()
			trades, _ := c.Lookup("crypto_trades")
			err := c.Register(trades)
			Expect(err).To(HaveOccurred())
		})

		It("gives crypto_trades the timestamp-then-lineage tie-break order", func() {
			c := schema.NewCatalog()
			trades, ok := c.Lookup("crypto_trades")
			Expect(ok).To(BeTrue())
			Expect(trades.TieBreakCols).To(Equal([]string{"ts_event_us", "file_id", "file_seq"}))
			Expect(trades.PartitionCols).To(Equal([]string{"venue", "trading_date"}))
		})

		It("gives the CN L3 tables sequence-based tie-break order", func() {
			c := schema.NewCatalog()
			orders, ok := c.Lookup("cn_l3_order_events")
			Expect(ok).To(BeTrue())
			Expect(orders.TieBreakCols).To(Equal([]string{"channel_no", "appl_seq_num"}))
		})
	})

	Context("TableSpec.Validate", func() {
		It("rejects a scaled column with no increment", func() {
			t := &schema.TableSpec{
				Name: "bad",
				Columns: []schema.ColumnSpec{
					{Name: "price", Type: schema.TypeScaledInt64},
				},
			}
			Expect(t.Validate()).To(HaveOccurred())
		})

		It("rejects a partition column that was not declared", func() {
			t := &schema.TableSpec{
				Name:          "bad",
				Columns:       []schema.ColumnSpec{{Name: "x", Type: schema.TypeInt64}},
				PartitionCols: []string{"missing"},
			}
			Expect(t.Validate()).To(HaveOccurred())
		})
	})
})

var _ = Describe("Scale", func() {
	It("round-trips exactly for multiples of the increment", func() {
		s := schema.Scale{Increment: 1.0 / 1e9}
		encoded, err := s.Encode(123.456789000)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Decode(encoded)).To(BeNumerically("~", 123.456789000, 1e-9))
	})

	It("rejects a non-positive increment", func() {
		s := schema.Scale{Increment: 0}
		_, err := s.Encode(1.0)
		Expect(err).To(HaveOccurred())
	})

	It("rejects non-finite inputs", func() {
		s := schema.Scale{Increment: 1.0 / 1e9}
		for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, err := s.Encode(x)
			Expect(err).To(HaveOccurred())
		}
	})
})
