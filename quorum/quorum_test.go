package quorum_test

import (
	"math/rand"
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/quorum"
	"github.com/renproject/morpheus/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Aggregator", func() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	voteFrom := func(vd block.VoteData, signer block.Pid) block.Vote {
		partial := id.Signature{}
		r.Read(partial[:])
		return block.Vote{VoteData: vd, Signer: signer, Partial: partial}
	}

	Context("when inserting votes", func() {
		It("should form a QC at exactly n-f distinct signers", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)
			vd := testutil.RandomVoteData(r)

			fresh, _, formed := agg.InsertVote(voteFrom(vd, 0))
			Expect(fresh).To(BeTrue())
			Expect(formed).To(BeFalse())
			fresh, _, formed = agg.InsertVote(voteFrom(vd, 1))
			Expect(fresh).To(BeTrue())
			Expect(formed).To(BeFalse())
			fresh, qc, formed := agg.InsertVote(voteFrom(vd, 2))
			Expect(fresh).To(BeTrue())
			Expect(formed).To(BeTrue())
			Expect(qc.VoteData.Equal(vd)).To(BeTrue())
			Expect(qc.Signature.Partials).To(HaveLen(3))
		})

		It("should count each signer once", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)
			vd := testutil.RandomVoteData(r)

			fresh, _, _ := agg.InsertVote(voteFrom(vd, 0))
			Expect(fresh).To(BeTrue())
			fresh, _, formed := agg.InsertVote(voteFrom(vd, 0))
			Expect(fresh).To(BeFalse())
			Expect(formed).To(BeFalse())
			Expect(agg.NumVotes(vd)).To(Equal(1))
		})

		It("should ignore votes for keys that already produced a QC", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)
			vd := testutil.RandomVoteData(r)

			agg.InsertVote(voteFrom(vd, 0))
			agg.InsertVote(voteFrom(vd, 1))
			_, _, formed := agg.InsertVote(voteFrom(vd, 2))
			Expect(formed).To(BeTrue())

			fresh, _, formed := agg.InsertVote(voteFrom(vd, 3))
			Expect(fresh).To(BeFalse())
			Expect(formed).To(BeFalse())
		})
	})

	Context("when inserting end-view messages", func() {
		endViewFrom := func(view block.View, signer block.Pid) block.EndView {
			partial := id.Signature{}
			r.Read(partial[:])
			return block.EndView{View: view, Signer: signer, Partial: partial}
		}

		It("should report a quorum at f+1 distinct signers and certify the next view", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)

			Expect(agg.InsertEndView(endViewFrom(3, 0))).To(BeTrue())
			_, ok := agg.MaxEndViewQuorum(0)
			Expect(ok).To(BeFalse())

			Expect(agg.InsertEndView(endViewFrom(3, 1))).To(BeTrue())
			view, ok := agg.MaxEndViewQuorum(0)
			Expect(ok).To(BeTrue())
			Expect(view).To(Equal(block.View(3)))

			cert := agg.MakeViewCert(view)
			Expect(cert.View).To(Equal(block.View(4)))
			Expect(cert.Signature.Partials).To(HaveLen(2))

			// The certified view is consumed.
			_, ok = agg.MaxEndViewQuorum(0)
			Expect(ok).To(BeFalse())
			Expect(agg.InsertEndView(endViewFrom(3, 2))).To(BeFalse())
		})

		It("should ignore quorums below the minimum view", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)
			agg.InsertEndView(endViewFrom(3, 0))
			agg.InsertEndView(endViewFrom(3, 1))
			_, ok := agg.MaxEndViewQuorum(4)
			Expect(ok).To(BeFalse())
		})

		It("should pick the greatest certifiable view", func() {
			agg := quorum.New(quorum.DefaultOptions(), 4, 1)
			agg.InsertEndView(endViewFrom(3, 0))
			agg.InsertEndView(endViewFrom(3, 1))
			agg.InsertEndView(endViewFrom(5, 0))
			agg.InsertEndView(endViewFrom(5, 2))
			view, ok := agg.MaxEndViewQuorum(0)
			Expect(ok).To(BeTrue())
			Expect(view).To(Equal(block.View(5)))
		})
	})
})
