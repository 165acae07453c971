package store_test

import (
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/store"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// Signatures are irrelevant to the store's indices, so blocks and QCs are
// built without them.

func trBlock(author block.Pid, slot block.Slot, view block.View, prev block.QCs, oneQC block.QC, payload byte) block.Block {
	height := block.Height(0)
	for i := range prev {
		if prev[i].Height > height {
			height = prev[i].Height
		}
	}
	return block.Block{
		Kind:    block.KindTransaction,
		View:    view,
		Height:  height + 1,
		Author:  author,
		Slot:    slot,
		Payload: block.Transactions{block.Transaction{payload}},
		Prev:    prev,
		OneQC:   oneQC,
	}
}

func leadBlock(author block.Pid, slot block.Slot, view block.View, prev block.QCs, oneQC block.QC) block.Block {
	height := block.Height(0)
	for i := range prev {
		if prev[i].Height > height {
			height = prev[i].Height
		}
	}
	return block.Block{
		Kind:   block.KindLeader,
		View:   view,
		Height: height + 1,
		Author: author,
		Slot:   slot,
		Prev:   prev,
		OneQC:  oneQC,
	}
}

func qcFor(level uint8, b block.Block) block.QC {
	return block.QC{VoteData: block.NewVoteData(level, b)}
}

var _ = Describe("Store", func() {
	Context("when newly initialised", func() {
		It("should hold the finalized genesis block and its 1-QC as the single tip", func() {
			s := store.New(store.DefaultOptions())
			Expect(s.IsBlockFinalized(block.GenesisHash())).To(BeTrue())
			tip, ok := s.SingleTip()
			Expect(ok).To(BeTrue())
			Expect(tip.Equal(block.GenesisQC())).To(BeTrue())
			Expect(s.Greatest1QC().Equal(block.GenesisQC())).To(BeTrue())
			Expect(s.HasUnfinalized()).To(BeFalse())
			Expect(s.SelfCheck()).To(BeEmpty())
		})
	})

	Context("when ingesting blocks and QCs", func() {
		It("should be idempotent on content", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			added, _, _ := s.IngestBlock(b)
			Expect(added).To(BeTrue())
			added, _, _ = s.IngestBlock(b)
			Expect(added).To(BeFalse())

			qc := qcFor(0, b)
			Expect(s.IngestQC(qc)).To(BeTrue())
			Expect(s.IngestQC(qc)).To(BeFalse())
		})

		It("should recognise the single tip of the message set", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b)
			Expect(s.BlockIsSingleTip(b.Hash())).To(BeTrue())

			// A competing block pointing at the same tip disqualifies both.
			other := trBlock(2, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xBB)
			s.IngestBlock(other)
			Expect(s.BlockIsSingleTip(b.Hash())).To(BeFalse())
			Expect(s.BlockIsSingleTip(other.Hash())).To(BeFalse())
		})

		It("should replace tips that the new QC observes", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b)

			qc0 := qcFor(0, b)
			s.IngestQC(qc0)
			tip, ok := s.SingleTip()
			Expect(ok).To(BeTrue())
			Expect(tip.VoteData.Equal(qc0.VoteData)).To(BeTrue())

			qc1 := qcFor(1, b)
			s.IngestQC(qc1)
			tip, ok = s.SingleTip()
			Expect(ok).To(BeTrue())
			Expect(tip.VoteData.Equal(qc1.VoteData)).To(BeTrue())
			Expect(s.Greatest1QC().VoteData.Equal(qc1.VoteData)).To(BeTrue())
			Expect(s.SelfCheck()).To(BeEmpty())
		})

		It("should keep competing QCs as separate tips", func() {
			s := store.New(store.DefaultOptions())
			b1 := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			b2 := trBlock(2, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xBB)
			s.IngestBlock(b1)
			s.IngestBlock(b2)
			s.IngestQC(qcFor(0, b1))
			s.IngestQC(qcFor(0, b2))
			Expect(s.Tips()).To(HaveLen(2))
			_, ok := s.SingleTip()
			Expect(ok).To(BeFalse())
			Expect(s.SelfCheck()).To(BeEmpty())
		})
	})

	Context("when finalizing", func() {
		It("should not let a 2-QC finalize itself", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b)
			s.IngestQC(qcFor(2, b))
			Expect(s.IsBlockFinalized(b.Hash())).To(BeFalse())
			Expect(s.HasUnfinalized()).To(BeTrue())
		})

		It("should finalize a 2-QC once a further QC observes it", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b)
			qc2 := qcFor(2, b)
			s.IngestQC(qc2)

			next := trBlock(1, 1, 0, block.QCs{qc2}, block.GenesisQC(), 0xAB)
			s.IngestBlock(next)
			s.IngestQC(qcFor(0, next))

			Expect(s.IsBlockFinalized(b.Hash())).To(BeTrue())
			Expect(s.IsFinalized(qc2.VoteData)).To(BeTrue())
			Expect(s.SelfCheck()).To(BeEmpty())
		})

		It("should close finalization downward over prev edges", func() {
			s := store.New(store.DefaultOptions())
			b1 := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b1)
			qc1 := qcFor(1, b1)
			s.IngestQC(qc1)

			b2 := trBlock(1, 1, 0, block.QCs{qc1}, qc1, 0xAB)
			s.IngestBlock(b2)
			qc2 := qcFor(2, b2)
			s.IngestQC(qc2)

			b3 := trBlock(1, 2, 0, block.QCs{qc2}, qc1, 0xAC)
			s.IngestBlock(b3)
			s.IngestQC(qcFor(0, b3))

			Expect(s.IsBlockFinalized(b2.Hash())).To(BeTrue())
			Expect(s.IsBlockFinalized(b1.Hash())).To(BeTrue())
			Expect(s.SelfCheck()).To(BeEmpty())
		})

		It("should track unfinalized leader blocks per view", func() {
			s := store.New(store.DefaultOptions())
			b := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b)
			qc0 := qcFor(0, b)
			s.IngestQC(qc0)

			lb := leadBlock(0, 0, 0, block.QCs{qc0}, block.GenesisQC())
			s.IngestBlock(lb)
			Expect(s.HasLeaderBlock(block.View(0))).To(BeTrue())
			Expect(s.HasLeaderBlockBy(block.View(0), block.Pid(0))).To(BeTrue())
			Expect(s.HasUnfinalizedLeader(block.View(0))).To(BeTrue())

			qcLead2 := qcFor(2, lb)
			s.IngestQC(qcLead2)
			after := trBlock(1, 1, 0, block.QCs{qcLead2}, block.GenesisQC(), 0xAB)
			s.IngestBlock(after)
			s.IngestQC(qcFor(0, after))
			Expect(s.HasUnfinalizedLeader(block.View(0))).To(BeFalse())
			Expect(s.SelfCheck()).To(BeEmpty())
		})
	})

	Context("when authors equivocate", func() {
		It("should record the evidence and keep both blocks", func() {
			s := store.New(store.DefaultOptions())
			b1 := trBlock(3, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			b2 := trBlock(3, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xBB)
			_, _, equiv := s.IngestBlock(b1)
			Expect(equiv).To(BeNil())
			_, _, equiv = s.IngestBlock(b2)
			Expect(equiv).ToNot(BeNil())
			Expect(equiv.Key).To(Equal(b1.Key()))
			Expect(s.Equivocations()).To(HaveLen(1))

			_, ok := s.Block(b1.Hash())
			Expect(ok).To(BeTrue())
			_, ok = s.Block(b2.Hash())
			Expect(ok).To(BeTrue())
		})
	})

	Context("when queried for complaints", func() {
		It("should return a maximal unfinalized QC deterministically", func() {
			s := store.New(store.DefaultOptions())
			b1 := trBlock(1, 0, 0, block.QCs{block.GenesisQC()}, block.GenesisQC(), 0xAA)
			s.IngestBlock(b1)
			qc1 := qcFor(1, b1)
			s.IngestQC(qc1)
			b2 := trBlock(1, 1, 0, block.QCs{qc1}, qc1, 0xAB)
			s.IngestBlock(b2)
			qcB2 := qcFor(0, b2)
			s.IngestQC(qcB2)

			max, ok := s.MaxUnfinalized()
			Expect(ok).To(BeTrue())
			Expect(max.VoteData.Equal(qcB2.VoteData)).To(BeTrue())
		})
	})

	Context("when recording view messages", func() {
		It("should deduplicate per signer and sort by signer", func() {
			s := store.New(store.DefaultOptions())
			vm1 := block.ViewMessage{View: 1, MaxOneQC: block.GenesisQC(), Signer: 2}
			vm2 := block.ViewMessage{View: 1, MaxOneQC: block.GenesisQC(), Signer: 0}
			Expect(s.AddViewMessage(vm1)).To(BeTrue())
			Expect(s.AddViewMessage(vm1)).To(BeFalse())
			Expect(s.AddViewMessage(vm2)).To(BeTrue())
			vms := s.ViewMessages(1)
			Expect(vms).To(HaveLen(2))
			Expect(vms[0].Signer).To(Equal(block.Pid(0)))
			Expect(vms[1].Signer).To(Equal(block.Pid(2)))
		})
	})
})
