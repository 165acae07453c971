package morpheus_test

import (
	"time"

	"github.com/renproject/morpheus"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
	"github.com/renproject/morpheus/sig"
	"github.com/renproject/morpheus/testutil"
	"github.com/republicprotocol/co-go"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type caughtEquivocation struct {
	first  block.Block
	second block.Block
}

type catcher struct {
	caught []caughtEquivocation
}

func (c *catcher) CatchDoubleBlock(first, second block.Block) {
	c.caught = append(c.caught, caughtEquivocation{first: first, second: second})
}

type cluster struct {
	n        int
	delta    time.Duration
	net      *testutil.Network
	clock    *testutil.LogicalClock
	nodes    []morpheus.Morpheus
	members  sig.Members
	signers  []sig.Signer
	catchers []*catcher
}

// newCluster wires n Morpheus instances over the in-process network. Passing
// a pid in crashed leaves that process unregistered: its messages are never
// delivered, and it never speaks.
func newCluster(n int, delta time.Duration, crashed map[block.Pid]bool) *cluster {
	members, signers := testutil.NewMembers(n)
	c := &cluster{
		n:        n,
		delta:    delta,
		net:      testutil.NewNetwork(),
		clock:    testutil.NewLogicalClock(),
		nodes:    make([]morpheus.Morpheus, n),
		members:  members,
		signers:  signers,
		catchers: make([]*catcher, n),
	}
	for i := 0; i < n; i++ {
		if crashed[block.Pid(i)] {
			continue
		}
		c.catchers[i] = &catcher{}
		c.nodes[i] = morpheus.New(
			morpheus.Options{Delta: delta, Clock: c.clock, DebugChecks: true},
			block.Pid(i),
			members,
			signers[i],
			testutil.NewJournal(),
			c.net.BroadcasterFor(block.Pid(i), n),
			nil,
			c.catchers[i],
		)
		c.net.Register(block.Pid(i), c.nodes[i])
	}
	for i := 0; i < n; i++ {
		if c.nodes[i] != nil {
			c.nodes[i].Start()
		}
	}
	c.net.Settle(1000000)
	return c
}

// settleFor advances logical time in delta steps, delivering all traffic
// after every step, until the predicate holds or the tick budget runs out.
func (c *cluster) settleFor(maxTicks int, done func() bool) bool {
	c.net.Settle(1000000)
	for i := 0; i < maxTicks; i++ {
		if done() {
			return true
		}
		c.net.Tick(c.clock.Advance(c.delta))
		c.net.Settle(1000000)
	}
	return done()
}

func (c *cluster) prefixes() []block.Transactions {
	prefixes := []block.Transactions{}
	for i := 0; i < c.n; i++ {
		if c.nodes[i] != nil {
			prefixes = append(prefixes, c.nodes[i].CommittedPrefix())
		}
	}
	return prefixes
}

func equalPrefixes(prefixes []block.Transactions) bool {
	for i := 1; i < len(prefixes); i++ {
		if len(prefixes[i]) != len(prefixes[0]) {
			return false
		}
		for j := range prefixes[i] {
			if string(prefixes[i][j]) != string(prefixes[0][j]) {
				return false
			}
		}
	}
	return true
}

var _ = Describe("Morpheus", func() {
	delta := 100 * time.Millisecond

	Context("when one process submits a transaction", func() {
		It("should commit it on every correct process without timeouts", func() {
			c := newCluster(4, delta, nil)
			tx := block.Transaction{0xAA}
			c.nodes[1].SubmitTransaction(tx)
			c.net.Settle(1000000)

			for _, prefix := range c.prefixes() {
				Expect(prefix).To(Equal(block.Transactions{tx}))
			}
		})
	})

	Context("when the leader of the first view has crashed", func() {
		It("should stay consistent and advance the view after the timeout", func() {
			c := newCluster(4, delta, map[block.Pid]bool{0: true})
			tx := block.Transaction{0xAA}
			c.nodes[1].SubmitTransaction(tx)
			c.net.Settle(1000000)

			// The direct path needs no leader: the transaction commits.
			for _, prefix := range c.prefixes() {
				Expect(prefix).To(Equal(block.Transactions{tx}))
			}

			// Unfinalized QCs eventually force the view change past the
			// crashed leader.
			advanced := c.settleFor(20, func() bool {
				for i := 1; i < 4; i++ {
					if c.nodes[i].CurrentView() < 1 {
						return false
					}
				}
				return true
			})
			Expect(advanced).To(BeTrue())
			for _, prefix := range c.prefixes() {
				Expect(prefix).To(Equal(block.Transactions{tx}))
			}
		})
	})

	Context("when two processes submit conflicting transactions", func() {
		It("should order them identically on every process", func() {
			c := newCluster(4, delta, nil)
			tx1 := block.Transaction{0xB1}
			tx2 := block.Transaction{0xB2}
			co.ParBegin(
				func() { c.nodes[1].SubmitTransaction(tx1) },
				func() { c.nodes[2].SubmitTransaction(tx2) },
			)

			committed := c.settleFor(100, func() bool {
				prefixes := c.prefixes()
				if !equalPrefixes(prefixes) {
					return false
				}
				return len(prefixes[0]) == 2
			})
			Expect(committed).To(BeTrue())

			prefixes := c.prefixes()
			Expect(prefixes[0]).To(ConsistOf(tx1, tx2))
			for _, prefix := range c.prefixes() {
				Expect(prefix).To(Equal(prefixes[0]))
			}
		})
	})

	Context("when a byzantine process equivocates", func() {
		It("should catch the evidence and commit at most one of the blocks", func() {
			// Process 3 is byzantine: it exists in the member table but runs
			// no replica; the test injects its conflicting blocks directly.
			c := newCluster(4, delta, map[block.Pid]bool{3: true})

			makeBlock := func(payload byte) block.Block {
				b := block.Block{
					Kind:          block.KindTransaction,
					View:          0,
					Height:        1,
					Author:        3,
					Slot:          0,
					Payload:       block.Transactions{block.Transaction{payload}},
					Prev:          block.QCs{block.GenesisQC()},
					OneQC:         block.GenesisQC(),
					Justification: block.ViewMessages{},
				}
				signature, err := c.signers[3].Sign(b.SigHash())
				Expect(err).ToNot(HaveOccurred())
				b.Signature = signature
				return b
			}
			b1 := makeBlock(0xE1)
			b2 := makeBlock(0xE2)

			for i := 0; i < 3; i++ {
				c.nodes[i].HandleMessage(3, process.BlockMessage{Block: b1})
				c.nodes[i].HandleMessage(3, process.BlockMessage{Block: b2})
			}
			c.settleFor(30, func() bool { return false })

			// Every correct process caught the equivocation.
			for i := 0; i < 3; i++ {
				Expect(c.catchers[i].caught).ToNot(BeEmpty())
			}

			// Prefixes agree, and at most one of the equivocating payloads
			// is committed.
			prefixes := c.prefixes()
			Expect(equalPrefixes(prefixes)).To(BeTrue())
			count := 0
			for _, tx := range prefixes[0] {
				if string(tx) == string(block.Transaction{0xE1}) || string(tx) == string(block.Transaction{0xE2}) {
					count++
				}
			}
			Expect(count).To(BeNumerically("<=", 1))
		})
	})
})
