package process_test

import (
	"time"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
	"github.com/renproject/morpheus/quorum"
	"github.com/renproject/morpheus/scheduler"
	"github.com/renproject/morpheus/store"
	"github.com/renproject/morpheus/testutil"
	"github.com/renproject/morpheus/timer"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type cast struct {
	to  block.Pid
	msg process.Message
}

type recordingBroadcaster struct {
	broadcasts []process.Message
	casts      []cast
}

func (rec *recordingBroadcaster) Broadcast(m process.Message) {
	rec.broadcasts = append(rec.broadcasts, m)
}

func (rec *recordingBroadcaster) Cast(to block.Pid, m process.Message) {
	rec.casts = append(rec.casts, cast{to: to, msg: m})
}

func (rec *recordingBroadcaster) broadcastVotes(level uint8) []block.Vote {
	votes := []block.Vote{}
	for _, m := range rec.broadcasts {
		if vm, ok := m.(process.VoteMessage); ok && vm.Vote.Level == level {
			votes = append(votes, vm.Vote)
		}
	}
	return votes
}

var _ = Describe("Process", func() {
	n, f := 4, 1
	members, signers := testutil.NewMembers(n)
	sched := scheduler.NewRoundRobin(n)

	newProcess := func(whoami block.Pid) (*process.Process, *recordingBroadcaster) {
		rec := &recordingBroadcaster{}
		p := process.New(
			process.DefaultOptions().WithDebugChecks(true),
			whoami,
			n, f,
			members,
			signers[whoami],
			sched,
			store.New(store.DefaultOptions()),
			quorum.New(quorum.DefaultOptions(), n, f),
			timer.NewViewTimer(timer.DefaultOptions()),
			nil,
			rec,
			nil,
			nil,
			nil,
		)
		p.Start(time.Unix(0, 0))
		return p, rec
	}

	signedTrBlock := func(author block.Pid) block.Block {
		b := block.Block{
			Kind:          block.KindTransaction,
			View:          0,
			Height:        1,
			Author:        author,
			Slot:          0,
			Payload:       block.Transactions{block.Transaction{0xAA}},
			Prev:          block.QCs{block.GenesisQC()},
			OneQC:         block.GenesisQC(),
			Justification: block.ViewMessages{},
		}
		signature, err := signers[author].Sign(b.SigHash())
		Expect(err).ToNot(HaveOccurred())
		b.Signature = signature
		return b
	}

	voteFor := func(level uint8, b block.Block, signer block.Pid) process.Message {
		vd := block.NewVoteData(level, b)
		partial, err := signers[signer].Sign(vd.SigHash())
		Expect(err).ToNot(HaveOccurred())
		return process.VoteMessage{Vote: block.Vote{VoteData: vd, Signer: signer, Partial: partial}}
	}

	Context("when a fresh transaction block arrives", func() {
		It("should 0-vote to the author and 1-vote on the direct path", func() {
			p, rec := newProcess(0)
			b := signedTrBlock(1)
			p.HandleMessage(process.BlockMessage{Block: b})

			zeroVotes := []cast{}
			for _, c := range rec.casts {
				if vm, ok := c.msg.(process.VoteMessage); ok && vm.Vote.Level == 0 {
					zeroVotes = append(zeroVotes, c)
				}
			}
			Expect(zeroVotes).To(HaveLen(1))
			Expect(zeroVotes[0].to).To(Equal(block.Pid(1)))

			oneVotes := rec.broadcastVotes(1)
			Expect(oneVotes).To(HaveLen(1))
			hash := b.Hash()
			Expect(oneVotes[0].BlockHash.Equal(&hash)).To(BeTrue())

			Expect(p.CurrentPhase()).To(Equal(process.DirectPhase))
		})

		It("should never vote twice for the same opportunity", func() {
			p, rec := newProcess(0)
			b := signedTrBlock(1)
			p.HandleMessage(process.BlockMessage{Block: b})
			p.HandleMessage(process.BlockMessage{Block: b})
			Expect(rec.broadcastVotes(1)).To(HaveLen(1))
		})
	})

	Context("when 1-votes reach a quorum", func() {
		It("should form the 1-QC locally and 2-vote the block", func() {
			p, rec := newProcess(0)
			b := signedTrBlock(1)
			p.HandleMessage(process.BlockMessage{Block: b})

			// Own 1-vote is already aggregated; two more reach n-f.
			p.HandleMessage(voteFor(1, b, 1))
			Expect(rec.broadcastVotes(2)).To(BeEmpty())
			p.HandleMessage(voteFor(1, b, 2))

			twoVotes := rec.broadcastVotes(2)
			Expect(twoVotes).To(HaveLen(1))
			hash := b.Hash()
			Expect(twoVotes[0].BlockHash.Equal(&hash)).To(BeTrue())

			tip, ok := p.Store().SingleTip()
			Expect(ok).To(BeTrue())
			Expect(tip.Level).To(Equal(uint8(1)))
		})
	})

	Context("when competing blocks arrive", func() {
		It("should not 1-vote a block that is no longer the single tip", func() {
			p, rec := newProcess(0)
			b1 := signedTrBlock(1)
			b2 := signedTrBlock(2)
			p.HandleMessage(process.BlockMessage{Block: b1})
			Expect(rec.broadcastVotes(1)).To(HaveLen(1))

			// The competing block disqualifies single-tip status, so no
			// further direct votes happen.
			p.HandleMessage(process.BlockMessage{Block: b2})
			Expect(rec.broadcastVotes(1)).To(HaveLen(1))
		})
	})

	Context("when the view times out", func() {
		It("should complain after six deltas and request an end of view after twelve", func() {
			// Process 1 is not the leader of view 0, so its complaints are
			// observable as casts to the leader.
			p, rec := newProcess(1)
			b := signedTrBlock(2)
			p.HandleMessage(process.BlockMessage{Block: b})
			p.HandleMessage(voteFor(1, b, 0))
			p.HandleMessage(voteFor(1, b, 2))

			delta := timer.DefaultOptions().Delta
			p.Tick(time.Unix(0, 0).Add(6 * delta))

			complaints := []cast{}
			for _, c := range rec.casts {
				if _, ok := c.msg.(process.QCMessage); ok {
					complaints = append(complaints, c)
				}
			}
			Expect(complaints).ToNot(BeEmpty())

			p.Tick(time.Unix(0, 0).Add(12 * delta))
			endViews := []process.Message{}
			for _, m := range rec.broadcasts {
				if _, ok := m.(process.EndViewMessage); ok {
					endViews = append(endViews, m)
				}
			}
			Expect(endViews).To(HaveLen(1))

			// The end-view message is sent once per view.
			p.Tick(time.Unix(0, 0).Add(13 * delta))
			endViews = endViews[:0]
			for _, m := range rec.broadcasts {
				if _, ok := m.(process.EndViewMessage); ok {
					endViews = append(endViews, m)
				}
			}
			Expect(endViews).To(HaveLen(1))
		})
	})
})
