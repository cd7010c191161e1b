package registry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pointline-dev/pointline/registry"
)

var abKey = registry.NaturalKey{Venue: "ex-a", VenueSymbol: "AB"}

func abAttrs(tick int64) registry.Attrs {
	return registry.Attrs{
		CanonicalSymbol: "AB-USD",
		MarketType:      "spot",
		BaseAsset:       "AB",
		QuoteAsset:      "USD",
		TickSize:        tick,
		LotSize:         1,
		ContractSize:    1,
	}
}

var _ = Describe("Bootstrap", func() {
	It("assigns deterministic, stable symbol ids", func() {
		snap := []registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}
		t1, err := registry.Bootstrap(snap, 1_699_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
		t2, err := registry.Bootstrap(snap, 1_699_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(t1.Rows[0].SymbolID).To(Equal(t2.Rows[0].SymbolID))
	})

	It("rejects a duplicate natural key in one snapshot", func() {
		snap := []registry.Snapshot{
			{Key: abKey, Attrs: abAttrs(1)},
			{Key: abKey, Attrs: abAttrs(2)},
		}
		_, err := registry.Bootstrap(snap, 1_699_000_000_000_000)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Upsert", func() {
	var base *registry.Table

	BeforeEach(func() {
		var err error
		base, err = registry.Bootstrap([]registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}, 1_699_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
	})

	It("no-ops when attributes are unchanged", func() {
		next, err := registry.Upsert(base, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Rows).To(HaveLen(1))
		Expect(next.Rows[0].IsCurrent).To(BeTrue())
	})

	It("closes the previous version and inserts a new one when attributes change", func() {
		next, err := registry.Upsert(base, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(2)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Rows).To(HaveLen(2))

		old, found := findClosed(next.Rows, abKey)
		Expect(found).To(BeTrue())
		Expect(old.ValidUntilUs).To(Equal(int64(1_700_000_000_000_000)))
		Expect(old.IsCurrent).To(BeFalse())

		cur, found := registry.FindAsOf(next, abKey, 1_700_000_000_000_000)
		Expect(found).To(BeTrue())
		Expect(cur.Attrs.TickSize).To(Equal(int64(2)))
	})

	It("inserts a fresh version for an unseen key", func() {
		cdKey := registry.NaturalKey{Venue: "ex-a", VenueSymbol: "CD"}
		next, err := registry.Upsert(base, []registry.Snapshot{{Key: cdKey, Attrs: abAttrs(1)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Rows).To(HaveLen(2))
	})

	It("closes a delisted key with no successor", func() {
		next, err := registry.Upsert(base, nil, 1_700_000_000_000_000, []registry.NaturalKey{abKey})
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Rows).To(HaveLen(1))
		Expect(next.Rows[0].IsCurrent).To(BeFalse())
		Expect(next.Rows[0].ValidUntilUs).To(Equal(int64(1_700_000_000_000_000)))
	})

	It("produces a table that satisfies Validate's invariants", func() {
		next, err := registry.Upsert(base, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(2)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.Validate(next)).NotTo(HaveOccurred())
	})
})

var _ = Describe("Store", func() {
	It("commits successfully when the expected version matches", func() {
		base, _ := registry.Bootstrap([]registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}, 1_699_000_000_000_000)
		store := registry.NewStore(base)
		next, err := store.CommitUpsert(base.Version, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(2)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Version).To(Equal(base.Version + 1))
	})

	It("rejects a commit against a stale version", func() {
		base, _ := registry.Bootstrap([]registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}, 1_699_000_000_000_000)
		store := registry.NewStore(base)
		_, err := store.CommitUpsert(base.Version, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(2)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.CommitUpsert(base.Version, nil, 1_700_100_000_000_000, nil)
		Expect(err).To(HaveOccurred())
	})

	It("never mutates a snapshot already handed to a reader", func() {
		base, _ := registry.Bootstrap([]registry.Snapshot{{Key: abKey, Attrs: abAttrs(1)}}, 1_699_000_000_000_000)
		store := registry.NewStore(base)
		readerSnap := store.Snapshot()
		_, err := store.CommitUpsert(base.Version, []registry.Snapshot{{Key: abKey, Attrs: abAttrs(2)}}, 1_700_000_000_000_000, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(readerSnap.Rows).To(HaveLen(1))
		Expect(readerSnap.Rows[0].Attrs.TickSize).To(Equal(int64(1)))
	})
})

func findClosed(rows []registry.Version, key registry.NaturalKey) (registry.Version, bool) {
	for _, r := range rows {
		if r.Key == key && !r.IsCurrent {
			return r, true
		}
	}
	return registry.Version{}, false
}
