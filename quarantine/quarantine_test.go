package quarantine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/quarantine"
)

var _ = Describe("Log", func() {
	It("appends rows and counts them per file", func() {
		dir := GinkgoT().TempDir()
		log, err := quarantine.Open(dir)
		Expect(err).NotTo(HaveOccurred())

		rows := []quarantine.Row{
			{
				LoggedAtUs: 1_700_000_000_000_000,
				FileID:     1,
				FileSeq:    -1,
				Table:      "crypto_trades",
				Rule:       "no_symbol_version",
				Severity:   "reject",
				Message:    "no registry coverage for ex-a/ZZ at ts",
			},
			{
				LoggedAtUs: 1_700_000_000_000_001,
				FileID:     1,
				FileSeq:    -1,
				Table:      "crypto_trades",
				Rule:       "no_symbol_version",
				Severity:   "reject",
				Message:    "no registry coverage for ex-a/ZZ at ts",
			},
		}
		Expect(log.Append(context.Background(), rows)).To(Succeed())

		count, err := log.CountsByFile(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(2)))
	})
})
