// Package testutil provides helpers for testing the consensus engine: key
// and member generation, random artifacts, an in-memory journal, and a
// deterministic in-process network simulator.
package testutil

import (
	"math/rand"
	"sync"
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
	"github.com/renproject/morpheus/sig"
	"github.com/renproject/morpheus/sig/ecdsa"
)

// NewMembers generates n fresh keypairs and returns the member table along
// with the signer for every pid.
func NewMembers(n int) (sig.Members, []sig.Signer) {
	members := make(sig.Members, n)
	signers := make([]sig.Signer, n)
	for i := 0; i < n; i++ {
		signer, signatory, err := ecdsa.NewFromRandom(block.Pid(i))
		if err != nil {
			panic(err)
		}
		members[i] = signatory
		signers[i] = signer
	}
	return members, signers
}

// RandomHash returns a random hash.
func RandomHash(r *rand.Rand) id.Hash {
	hash := id.Hash{}
	r.Read(hash[:])
	return hash
}

// RandomTransaction returns a random opaque payload.
func RandomTransaction(r *rand.Rand) block.Transaction {
	tx := make(block.Transaction, 1+r.Intn(64))
	r.Read(tx)
	return tx
}

// RandomVoteData returns random vote data for a transaction or leader
// block.
func RandomVoteData(r *rand.Rand) block.VoteData {
	kind := block.KindTransaction
	if r.Int()%2 == 0 {
		kind = block.KindLeader
	}
	return block.VoteData{
		Level:     uint8(r.Intn(3)),
		Kind:      kind,
		View:      block.View(r.Int63n(100)),
		Height:    block.Height(1 + r.Int63n(100)),
		Author:    block.Pid(r.Intn(4)),
		Slot:      block.Slot(r.Int63n(100)),
		BlockHash: RandomHash(r),
	}
}

// RandomVote returns a random unsigned-content vote carrying a throwaway
// partial signature.
func RandomVote(r *rand.Rand) block.Vote {
	partial := id.Signature{}
	r.Read(partial[:])
	return block.Vote{
		VoteData: RandomVoteData(r),
		Signer:   block.Pid(r.Intn(4)),
		Partial:  partial,
	}
}

// Journal is an in-memory implementation of the replica journal. Appends are
// idempotent by content hash.
type Journal struct {
	mu sync.Mutex

	state      *process.State
	blocks     block.Blocks
	qcs        block.QCs
	seenBlocks map[id.Hash]bool
	seenQCs    map[block.VoteData]bool
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{
		seenBlocks: map[id.Hash]bool{},
		seenQCs:    map[block.VoteData]bool{},
	}
}

// SaveState stores a deep copy of the state.
func (j *Journal) SaveState(state *process.State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cloned := state.Clone()
	j.state = &cloned
}

// RestoreState loads the stored state, if any.
func (j *Journal) RestoreState(state *process.State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != nil {
		*state = j.state.Clone()
	}
}

// AppendBlock records a block once.
func (j *Journal) AppendBlock(b block.Block) {
	j.mu.Lock()
	defer j.mu.Unlock()
	hash := b.Hash()
	if j.seenBlocks[hash] {
		return
	}
	j.seenBlocks[hash] = true
	j.blocks = append(j.blocks, b)
}

// AppendQC records a QC once.
func (j *Journal) AppendQC(qc block.QC) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seenQCs[qc.VoteData] {
		return
	}
	j.seenQCs[qc.VoteData] = true
	j.qcs = append(j.qcs, qc)
}

// Blocks returns the journaled blocks in append order.
func (j *Journal) Blocks() block.Blocks {
	j.mu.Lock()
	defer j.mu.Unlock()
	blocks := make(block.Blocks, len(j.blocks))
	copy(blocks, j.blocks)
	return blocks
}

// QCs returns the journaled QCs in append order.
func (j *Journal) QCs() block.QCs {
	j.mu.Lock()
	defer j.mu.Unlock()
	qcs := make(block.QCs, len(j.qcs))
	copy(qcs, j.qcs)
	return qcs
}

// LogicalClock is a manually advanced clock for driving timeout rules in
// tests.
type LogicalClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewLogicalClock returns a clock starting at a fixed epoch.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{now: time.Unix(0, 0)}
}

// Now returns the current logical time.
func (clock *LogicalClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

// Advance moves the clock forward.
func (clock *LogicalClock) Advance(d time.Duration) time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(d)
	return clock.now
}
