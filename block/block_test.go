package block_test

import (
	"math/rand"
	"reflect"
	"testing/quick"
	"time"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/surge/surgeutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Block", func() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	Context("kinds", func() {
		It("should order the leader tag before the transaction tag", func() {
			Expect(block.KindGenesis < block.KindLeader).To(BeTrue())
			Expect(block.KindLeader < block.KindTransaction).To(BeTrue())
		})
	})

	Context("genesis", func() {
		It("should be the sentinel at height zero", func() {
			genesis := block.Genesis()
			Expect(genesis.Kind).To(Equal(block.KindGenesis))
			Expect(genesis.Height).To(Equal(block.Height(0)))
			Expect(genesis.View).To(Equal(block.View(0)))
			Expect(genesis.Slot).To(Equal(block.Slot(0)))
			Expect(genesis.Payload).To(BeEmpty())
			Expect(genesis.Prev).To(BeEmpty())
		})

		It("should hash deterministically", func() {
			Expect(block.GenesisHash()).To(Equal(block.Genesis().Hash()))
			Expect(block.GenesisHash()).To(Equal(block.GenesisHash()))
		})

		It("should carry a canonical 1-QC", func() {
			qc := block.GenesisQC()
			Expect(qc.Level).To(Equal(uint8(1)))
			Expect(qc.IsGenesis()).To(BeTrue())
			hash := block.GenesisHash()
			Expect(qc.BlockHash.Equal(&hash)).To(BeTrue())
		})
	})

	Context("content hashing", func() {
		It("should not change when the signature changes", func() {
			b := block.Block{
				Kind:    block.KindTransaction,
				View:    1,
				Height:  3,
				Author:  2,
				Slot:    1,
				Payload: block.Transactions{block.Transaction{0x01, 0x02}},
				Prev:    block.QCs{block.GenesisQC()},
				OneQC:   block.GenesisQC(),
			}
			before := b.Hash()
			r.Read(b.Signature[:])
			Expect(b.Hash()).To(Equal(before))
		})

		It("should change when the payload changes", func() {
			b := block.Block{
				Kind:    block.KindTransaction,
				View:    1,
				Height:  3,
				Author:  2,
				Slot:    1,
				Payload: block.Transactions{block.Transaction{0x01}},
				Prev:    block.QCs{block.GenesisQC()},
				OneQC:   block.GenesisQC(),
			}
			before := b.Hash()
			b.Payload = block.Transactions{block.Transaction{0x02}}
			Expect(b.Hash()).ToNot(Equal(before))
		})
	})

	Context("the QC preorder", func() {
		It("should compare views before kinds before heights", func() {
			lo := block.VoteData{Level: 1, Kind: block.KindTransaction, View: 1, Height: 9}
			hi := block.VoteData{Level: 1, Kind: block.KindLeader, View: 2, Height: 1}
			Expect(lo.Compare(hi)).To(Equal(-1))
			Expect(hi.Compare(lo)).To(Equal(1))

			lead := block.VoteData{Level: 1, Kind: block.KindLeader, View: 2, Height: 9}
			tr := block.VoteData{Level: 1, Kind: block.KindTransaction, View: 2, Height: 1}
			Expect(lead.Compare(tr)).To(Equal(-1))

			low := block.VoteData{Level: 1, Kind: block.KindTransaction, View: 2, Height: 1}
			high := block.VoteData{Level: 1, Kind: block.KindTransaction, View: 2, Height: 2}
			Expect(low.Compare(high)).To(Equal(-1))
		})

		It("should tie on equal view, kind, and height regardless of the rest", func() {
			a := block.VoteData{Level: 0, Kind: block.KindTransaction, View: 2, Height: 5, Author: 0, Slot: 1}
			b := block.VoteData{Level: 2, Kind: block.KindTransaction, View: 2, Height: 5, Author: 3, Slot: 9}
			Expect(a.Compare(b)).To(Equal(0))
		})
	})

	Context("marshaling and unmarshaling", func() {
		types := map[string]reflect.Type{
			"vote data":        reflect.TypeOf(block.VoteData{}),
			"vote":             reflect.TypeOf(block.Vote{}),
			"qc":               reflect.TypeOf(block.QC{}),
			"end view":         reflect.TypeOf(block.EndView{}),
			"view certificate": reflect.TypeOf(block.ViewCert{}),
		}

		It("should be the same after marshaling and unmarshaling", func() {
			for name, t := range types {
				loop := func() bool {
					Expect(surgeutil.MarshalUnmarshalCheck(t)).To(Succeed(), name)
					return true
				}
				Expect(quick.Check(loop, &quick.Config{MaxCount: 16})).To(Succeed(), name)
			}
		})

		It("should not panic when fuzzing", func() {
			for name, t := range types {
				Expect(func() { surgeutil.Fuzz(t) }).ToNot(Panic(), name)
			}
		})

		It("should return an error when the buffer is too small", func() {
			t := reflect.TypeOf(block.VoteData{})
			Expect(surgeutil.MarshalBufTooSmall(t)).To(Succeed())
			Expect(surgeutil.MarshalRemTooSmall(t)).To(Succeed())
		})
	})
})
