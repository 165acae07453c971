// Package order extracts the committed transaction log from a store. The
// extraction is a pure function of the store contents: it depends only on
// which artifacts are present, not on the order in which they arrived, so
// every process holding the same artifacts extracts the same sequence. The
// extraction is also monotone: a store that has grown only ever extends the
// sequence it extracted before. This pair of properties is what turns the
// block DAG into state machine replication.
package order

import (
	"bytes"
	"sort"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/store"
)

// Committed returns the totally-ordered transaction sequence extracted from
// the store: the payloads of the transaction blocks in Sequence, in order.
func Committed(s *store.Store) block.Transactions {
	txs := block.Transactions{}
	for _, b := range Sequence(s) {
		if b.Kind == block.KindTransaction {
			txs = append(txs, b.Payload...)
		}
	}
	return txs
}

// Sequence returns the ordered block sequence underlying the committed log.
//
// The anchor is the block of the maximal 2-QC whose block is present; when
// no such QC exists the anchor is genesis. The sequence is built by walking
// the anchor's 1-QC chain down to genesis and, at each link, appending the
// canonical topological extension of the blocks newly observed at that link.
func Sequence(s *store.Store) block.Blocks {
	anchor := anchorBlock(s)
	chain := oneQCChain(s, anchor)

	ordered := block.Blocks{}
	emitted := map[id.Hash]bool{}
	prevObserved := map[id.Hash]bool{}
	for _, b := range chain {
		observed := s.ObservedBlocks(b.Hash())
		segment := []block.Block{}
		for hash := range observed {
			if prevObserved[hash] || emitted[hash] {
				continue
			}
			if sb, ok := s.Block(hash); ok {
				segment = append(segment, sb)
			}
		}
		for _, sb := range topologicalExtension(s, segment) {
			hash := sb.Hash()
			if !emitted[hash] {
				emitted[hash] = true
				ordered = append(ordered, sb)
			}
		}
		prevObserved = observed
	}
	return ordered
}

// anchorBlock picks the block of the maximal 2-QC present in the store,
// falling back to genesis.
func anchorBlock(s *store.Store) block.Block {
	twoQCs := s.TwoQCs()
	if len(twoQCs) == 0 {
		return block.Genesis()
	}
	// TwoQCs is sorted canonically, so the last entry is maximal under the
	// QC preorder with ties broken totally.
	best := twoQCs[len(twoQCs)-1]
	b, ok := s.Block(best.BlockHash)
	if !ok {
		return block.Genesis()
	}
	return b
}

// oneQCChain returns the chain of blocks from genesis up to the anchor,
// linked by each block's 1-QC. A link whose block is missing from the store
// truncates the chain at that point.
func oneQCChain(s *store.Store, anchor block.Block) block.Blocks {
	chain := block.Blocks{anchor}
	current := anchor
	for current.Kind != block.KindGenesis {
		next, ok := s.Block(current.OneQC.BlockHash)
		if !ok {
			break
		}
		chain = append(chain, next)
		current = next
	}
	// Reverse into genesis-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// topologicalExtension orders a segment of blocks so that observed blocks
// come first, breaking ties between incomparable blocks by the fixed total
// order over (view, kind tag, height, author, slot, hash).
func topologicalExtension(s *store.Store, segment []block.Block) block.Blocks {
	type node struct {
		b        block.Block
		hash     id.Hash
		observes map[id.Hash]bool
	}

	inSegment := map[id.Hash]bool{}
	nodes := make([]node, 0, len(segment))
	for _, b := range segment {
		hash := b.Hash()
		inSegment[hash] = true
		nodes = append(nodes, node{b: b, hash: hash, observes: s.ObservedBlocks(hash)})
	}
	sort.Slice(nodes, func(i, j int) bool {
		return blockLess(nodes[i].b, nodes[j].b)
	})

	ordered := make(block.Blocks, 0, len(nodes))
	done := map[id.Hash]bool{}
	for len(ordered) < len(nodes) {
		progressed := false
		for i := range nodes {
			if done[nodes[i].hash] {
				continue
			}
			ready := true
			for hash := range nodes[i].observes {
				if hash != nodes[i].hash && inSegment[hash] && !done[hash] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[nodes[i].hash] = true
			ordered = append(ordered, nodes[i].b)
			progressed = true
			break
		}
		if !progressed {
			// A cycle is impossible: heights strictly decrease along prev
			// edges. Guard against it anyway rather than spinning.
			for i := range nodes {
				if !done[nodes[i].hash] {
					done[nodes[i].hash] = true
					ordered = append(ordered, nodes[i].b)
				}
			}
		}
	}
	return ordered
}

// blockLess is the fixed total order used to break ties in the topological
// extension.
func blockLess(a, b block.Block) bool {
	if a.View != b.View {
		return a.View < b.View
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	if a.Author != b.Author {
		return a.Author < b.Author
	}
	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	aHash, bHash := a.Hash(), b.Hash()
	return bytes.Compare(aHash[:], bHash[:]) < 0
}
