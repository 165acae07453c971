// Package store implements the indexed, content-addressed store of blocks and
// quorum certificates held by one process. It is the set M of received
// artifacts and the set Q of QCs, together with the derived indices that the
// transition engine needs in sub-linear time: the tip set, the finalized set,
// per-author/kind/slot lookups, the greatest 1-QC, and the observes relation.
//
// The store is owned exclusively by its process: all mutation is serialised
// through the engine and no internal locking is performed.
package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/sirupsen/logrus"
)

// A Recorder is notified exactly once for every block and QC that enters the
// store. Replicas use it to journal store contents for crash recovery.
type Recorder interface {
	RecordBlock(block.Block)
	RecordQC(block.QC)
}

// Equivocation is evidence that one author signed two valid blocks for the
// same (kind, slot). The store keeps the first block under the production-key
// index and records the conflict; it takes no other action.
type Equivocation struct {
	Key        block.ProductionKey
	FirstHash  id.Hash
	SecondHash id.Hash
}

// Options define a set of properties that parameterise the store.
type Options struct {
	Logger   logrus.FieldLogger
	Recorder Recorder
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		Logger: logrus.StandardLogger(),
	}
}

// WithLogger updates the logger used by the store.
func (opts Options) WithLogger(logger logrus.FieldLogger) Options {
	opts.Logger = logger
	return opts
}

// WithRecorder updates the recorder notified of fresh ingests.
func (opts Options) WithRecorder(recorder Recorder) Options {
	opts.Recorder = recorder
	return opts
}

type slotLevelKey struct {
	key   block.ProductionKey
	level uint8
}

// A Store indexes every block and QC that one process has received. It is
// append-only: artifacts are ingested once and never mutated or evicted.
type Store struct {
	opts Options

	blocks     map[id.Hash]block.Block
	blockByKey map[block.ProductionKey]id.Hash
	pointedBy  map[id.Hash]map[id.Hash]bool

	qcs      map[block.VoteData]block.QC
	qcBySlot map[slotLevelKey]block.QC

	tips []block.VoteData

	finalized      map[id.Hash]bool
	unfinalized    map[id.Hash]map[block.VoteData]bool
	unfinalized2QC map[block.VoteData]bool

	leadByView            map[block.View]map[block.Pid]bool
	unfinalizedLeadByView map[block.View]map[id.Hash]bool

	max1QC    block.QC
	maxView   block.View
	maxViewQC block.QC
	maxHeight block.Height

	viewMessages       map[block.View]block.ViewMessages
	viewMessageSigners map[block.View]map[block.Pid]bool

	viewCerts   map[block.View]block.ViewCert
	maxCertView block.View

	equivocations []Equivocation
}

// New returns a store seeded with the genesis block and its canonical 1-QC,
// both of which are finalized from initialisation.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	genesis := block.Genesis()
	genesisHash := genesis.Hash()
	genesisQC := block.GenesisQC()

	s := &Store{
		opts: opts,

		blocks:     map[id.Hash]block.Block{genesisHash: genesis},
		blockByKey: map[block.ProductionKey]id.Hash{genesis.Key(): genesisHash},
		pointedBy:  map[id.Hash]map[id.Hash]bool{},

		qcs:      map[block.VoteData]block.QC{genesisQC.VoteData: genesisQC},
		qcBySlot: map[slotLevelKey]block.QC{},

		tips: []block.VoteData{genesisQC.VoteData},

		finalized:      map[id.Hash]bool{genesisHash: true},
		unfinalized:    map[id.Hash]map[block.VoteData]bool{},
		unfinalized2QC: map[block.VoteData]bool{},

		leadByView:            map[block.View]map[block.Pid]bool{},
		unfinalizedLeadByView: map[block.View]map[id.Hash]bool{},

		max1QC:    genesisQC,
		maxView:   0,
		maxViewQC: genesisQC,
		maxHeight: 0,

		viewMessages:       map[block.View]block.ViewMessages{},
		viewMessageSigners: map[block.View]map[block.Pid]bool{},

		viewCerts:   map[block.View]block.ViewCert{},
		maxCertView: 0,
	}
	return s
}

// IngestBlock inserts the block and incrementally updates every index that
// depends on it. The QCs carried by the block (prev pointers and the 1-QC)
// are ingested afterwards, so that the observes relation can traverse the new
// predecessor edges. Returns whether the block was fresh, the QCs that were
// newly enumerated into Q, and any equivocation evidence.
func (s *Store) IngestBlock(b block.Block) (bool, block.QCs, *Equivocation) {
	hash := b.Hash()
	if _, ok := s.blocks[hash]; ok {
		return false, nil, nil
	}
	s.blocks[hash] = b

	var equiv *Equivocation
	key := b.Key()
	if existing, ok := s.blockByKey[key]; ok {
		equiv = &Equivocation{Key: key, FirstHash: existing, SecondHash: hash}
		s.equivocations = append(s.equivocations, *equiv)
		s.opts.Logger.Warnf("equivocation: author=%v signed two %v blocks at slot=%v", key.Author, key.Kind, key.Slot)
	} else {
		s.blockByKey[key] = hash
	}

	if b.Height > s.maxHeight {
		s.maxHeight = b.Height
	}

	if b.Kind == block.KindLeader {
		if s.leadByView[b.View] == nil {
			s.leadByView[b.View] = map[block.Pid]bool{}
		}
		s.leadByView[b.View][b.Author] = true
		if s.unfinalizedLeadByView[b.View] == nil {
			s.unfinalizedLeadByView[b.View] = map[id.Hash]bool{}
		}
		s.unfinalizedLeadByView[b.View][hash] = true
	}

	for i := range b.Prev {
		target := b.Prev[i].BlockHash
		if s.pointedBy[target] == nil {
			s.pointedBy[target] = map[id.Hash]bool{}
		}
		s.pointedBy[target][hash] = true
	}

	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordBlock(b)
	}

	newQCs := block.QCs{}
	for i := range b.Prev {
		if s.IngestQC(b.Prev[i]) {
			newQCs = append(newQCs, b.Prev[i])
		}
	}
	if s.IngestQC(b.OneQC) {
		newQCs = append(newQCs, b.OneQC)
	}
	return true, newQCs, equiv
}

// IngestQC enumerates a QC into Q and incrementally updates the per-slot
// index, the greatest 1-QC, the maximum view, the tip set, and finality.
// Ingestion is idempotent on content.
func (s *Store) IngestQC(qc block.QC) bool {
	if _, ok := s.qcs[qc.VoteData]; ok {
		return false
	}
	s.qcs[qc.VoteData] = qc

	if qc.Kind != block.KindGenesis {
		slk := slotLevelKey{key: qc.Key(), level: qc.Level}
		if _, ok := s.qcBySlot[slk]; !ok {
			s.qcBySlot[slk] = qc
		}

		if !s.finalized[qc.BlockHash] {
			if s.unfinalized[qc.BlockHash] == nil {
				s.unfinalized[qc.BlockHash] = map[block.VoteData]bool{}
			}
			s.unfinalized[qc.BlockHash][qc.VoteData] = true
		}
	}

	if qc.Level == 1 {
		if s.max1QC.VoteData.Compare(qc.VoteData) <= 0 {
			s.max1QC = qc
		}
	}
	if qc.View > s.maxView {
		s.maxView = qc.View
		s.maxViewQC = qc
	}

	s.updateTips(qc)
	s.updateFinality(qc)

	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordQC(qc)
	}
	return true
}

// updateTips maintains the maximal antichain of Q under the observes
// preorder: tips that the new QC observes are replaced by it, and the new QC
// joins the antichain whenever no existing tip observes it.
func (s *Store) updateTips(qc block.QC) {
	replaced := map[block.VoteData]bool{}
	for _, tip := range s.tips {
		if s.Observes(qc.VoteData, tip) {
			replaced[tip] = true
		}
	}
	if len(replaced) > 0 {
		kept := s.tips[:0]
		for _, tip := range s.tips {
			if !replaced[tip] {
				kept = append(kept, tip)
			}
		}
		s.tips = append(kept, qc.VoteData)
		return
	}
	for _, tip := range s.tips {
		if s.Observes(tip, qc.VoteData) {
			return
		}
	}
	s.tips = append(s.tips, qc.VoteData)
}

// updateFinality finalizes every pending 2-QC that the new QC observes. A
// 2-QC joins the pending set after the scan, so it can never finalize itself;
// it needs a further QC to observe it. Finalization closes downward: every
// block observed by a finalized block is finalized with it.
func (s *Store) updateFinality(qc block.QC) {
	finalizedHere := []block.VoteData{}
	for pending := range s.unfinalized2QC {
		if s.Observes(qc.VoteData, pending) {
			finalizedHere = append(finalizedHere, pending)
		}
	}
	if qc.Level == 2 {
		s.unfinalized2QC[qc.VoteData] = true
	}
	for _, vd := range finalizedHere {
		delete(s.unfinalized2QC, vd)
		s.finalizeBlock(vd.BlockHash)
	}
}

// finalizeBlock marks the block and everything it observes as finalized,
// clearing the corresponding complaint-tracking entries.
func (s *Store) finalizeBlock(hash id.Hash) {
	queue := []id.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if s.finalized[h] {
			continue
		}
		s.finalized[h] = true
		delete(s.unfinalized, h)
		for vd := range s.unfinalized2QC {
			if vd.BlockHash.Equal(&h) {
				delete(s.unfinalized2QC, vd)
			}
		}
		if b, ok := s.blocks[h]; ok {
			if b.Kind == block.KindLeader {
				delete(s.unfinalizedLeadByView[b.View], h)
			}
			for i := range b.Prev {
				queue = append(queue, b.Prev[i].BlockHash)
			}
		}
	}
}

// Observes reports whether q observes q2 under the minimal preorder closed
// over: same kind and author with a later slot; same kind, author, and slot
// with a level at least as high; and block-level pointing through prev edges
// for blocks present in the store.
func (s *Store) Observes(q, q2 block.VoteData) bool {
	visited := map[block.VoteData]bool{}
	queue := []block.VoteData{q}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node] {
			continue
		}
		visited[node] = true
		if slotObserves(node, q2) {
			return true
		}
		if b, ok := s.blocks[node.BlockHash]; ok {
			for i := range b.Prev {
				// Pointing relates blocks, so a prev edge to the block of q2
				// observes q2 at every level.
				if b.Prev[i].BlockHash.Equal(&q2.BlockHash) {
					return true
				}
				queue = append(queue, b.Prev[i].VoteData)
			}
		}
	}
	return false
}

func slotObserves(q, q2 block.VoteData) bool {
	if q.Kind == q2.Kind && q.Author == q2.Author {
		if q.Slot > q2.Slot {
			return true
		}
		if q.Slot == q2.Slot && q.Level >= q2.Level {
			return true
		}
	}
	return false
}

// Block returns the block with the given content hash.
func (s *Store) Block(hash id.Hash) (block.Block, bool) {
	b, ok := s.blocks[hash]
	return b, ok
}

// BlockByKey returns the first block ingested for the production key.
func (s *Store) BlockByKey(key block.ProductionKey) (block.Block, bool) {
	hash, ok := s.blockByKey[key]
	if !ok {
		return block.Block{}, false
	}
	return s.blocks[hash], true
}

// QC returns the QC with the given vote data.
func (s *Store) QC(vd block.VoteData) (block.QC, bool) {
	qc, ok := s.qcs[vd]
	return qc, ok
}

// QCAt returns the QC at the given level for the production key.
func (s *Store) QCAt(key block.ProductionKey, level uint8) (block.QC, bool) {
	qc, ok := s.qcBySlot[slotLevelKey{key: key, level: level}]
	return qc, ok
}

// AnyQCAt returns a QC at any level for the production key, preferring the
// highest level present.
func (s *Store) AnyQCAt(key block.ProductionKey) (block.QC, bool) {
	for level := uint8(2); ; level-- {
		if qc, ok := s.qcBySlot[slotLevelKey{key: key, level: level}]; ok {
			return qc, true
		}
		if level == 0 {
			return block.QC{}, false
		}
	}
}

// Greatest1QC returns the maximal 1-QC under the QC preorder.
func (s *Store) Greatest1QC() block.QC {
	return s.max1QC
}

// Tips returns the QCs in the maximal antichain of Q, ordered canonically.
func (s *Store) Tips() block.QCs {
	tips := make([]block.VoteData, len(s.tips))
	copy(tips, s.tips)
	sortVoteData(tips)
	qcs := make(block.QCs, 0, len(tips))
	for _, vd := range tips {
		qcs = append(qcs, s.qcs[vd])
	}
	return qcs
}

// SingleTip returns the QC that observes every other QC in Q, if one exists.
func (s *Store) SingleTip() (block.QC, bool) {
	if len(s.tips) != 1 {
		return block.QC{}, false
	}
	return s.qcs[s.tips[0]], true
}

// BlockIsSingleTip reports whether the block is a single tip of M: a single
// tip QC exists, and the block is the only block in the store pointing to the
// tip's block. A conflicting second pointer disqualifies the status.
func (s *Store) BlockIsSingleTip(hash id.Hash) bool {
	tip, ok := s.SingleTip()
	if !ok {
		return false
	}
	parents := s.pointedBy[tip.BlockHash]
	return len(parents) == 1 && parents[hash]
}

// IsBlockFinalized reports whether the block has been finalized.
func (s *Store) IsBlockFinalized(hash id.Hash) bool {
	return s.finalized[hash]
}

// IsFinalized reports whether the QC's block has been finalized. The
// finalized set grows monotonically.
func (s *Store) IsFinalized(vd block.VoteData) bool {
	return s.finalized[vd.BlockHash]
}

// HasUnfinalized reports whether any QC in Q is not yet finalized.
func (s *Store) HasUnfinalized() bool {
	return len(s.unfinalized) > 0
}

// MaxUnfinalized returns a maximal unfinalized QC under the observes
// preorder. Candidates are visited in canonical order, so the result is
// deterministic for a given store content.
func (s *Store) MaxUnfinalized() (block.QC, bool) {
	candidates := []block.VoteData{}
	for _, vds := range s.unfinalized {
		for vd := range vds {
			candidates = append(candidates, vd)
		}
	}
	if len(candidates) == 0 {
		return block.QC{}, false
	}
	sortVoteData(candidates)
	max := candidates[0]
	for _, vd := range candidates[1:] {
		if s.Observes(vd, max) && !s.Observes(max, vd) {
			max = vd
		}
	}
	return s.qcs[max], true
}

// HasLeaderBlock reports whether any leader block for the view is in the
// store.
func (s *Store) HasLeaderBlock(view block.View) bool {
	return len(s.leadByView[view]) > 0
}

// HasLeaderBlockBy reports whether the author has a leader block for the view
// in the store.
func (s *Store) HasLeaderBlockBy(view block.View, author block.Pid) bool {
	return s.leadByView[view][author]
}

// HasUnfinalizedLeader reports whether any leader block for the view is not
// yet finalized.
func (s *Store) HasUnfinalizedLeader(view block.View) bool {
	return len(s.unfinalizedLeadByView[view]) > 0
}

// MaxView returns the greatest view carried by any QC in Q, and the QC that
// carries it.
func (s *Store) MaxView() (block.View, block.QC) {
	return s.maxView, s.maxViewQC
}

// MaxHeight returns the greatest height of any block in the store.
func (s *Store) MaxHeight() block.Height {
	return s.maxHeight
}

// AddViewMessage records a view message, deduplicated per view and signer.
func (s *Store) AddViewMessage(vm block.ViewMessage) bool {
	if s.viewMessageSigners[vm.View] == nil {
		s.viewMessageSigners[vm.View] = map[block.Pid]bool{}
	}
	if s.viewMessageSigners[vm.View][vm.Signer] {
		return false
	}
	s.viewMessageSigners[vm.View][vm.Signer] = true
	s.viewMessages[vm.View] = append(s.viewMessages[vm.View], vm)
	return true
}

// ViewMessages returns the view messages recorded for the view, ordered by
// signer.
func (s *Store) ViewMessages(view block.View) block.ViewMessages {
	vms := make(block.ViewMessages, len(s.viewMessages[view]))
	copy(vms, s.viewMessages[view])
	sort.Slice(vms, func(i, j int) bool { return vms[i].Signer < vms[j].Signer })
	return vms
}

// IngestViewCert records a view certificate.
func (s *Store) IngestViewCert(vc block.ViewCert) bool {
	if _, ok := s.viewCerts[vc.View]; ok {
		return false
	}
	s.viewCerts[vc.View] = vc
	if vc.View > s.maxCertView {
		s.maxCertView = vc.View
	}
	return true
}

// MaxCertView returns the greatest view for which a certificate is held.
func (s *Store) MaxCertView() (block.View, block.ViewCert, bool) {
	if s.maxCertView == 0 {
		return 0, block.ViewCert{}, false
	}
	return s.maxCertView, s.viewCerts[s.maxCertView], true
}

// ViewCert returns the certificate for the view.
func (s *Store) ViewCert(view block.View) (block.ViewCert, bool) {
	vc, ok := s.viewCerts[view]
	return vc, ok
}

// TwoQCs returns every 2-QC whose referenced block is in the store, in
// canonical order.
func (s *Store) TwoQCs() block.QCs {
	vds := []block.VoteData{}
	for vd := range s.qcs {
		if vd.Level == 2 {
			if _, ok := s.blocks[vd.BlockHash]; ok {
				vds = append(vds, vd)
			}
		}
	}
	sortVoteData(vds)
	qcs := make(block.QCs, 0, len(vds))
	for _, vd := range vds {
		qcs = append(qcs, s.qcs[vd])
	}
	return qcs
}

// ObservedBlocks returns the reflexive-transitive closure of the points-to
// relation from the block with the given hash, restricted to blocks present
// in the store.
func (s *Store) ObservedBlocks(hash id.Hash) map[id.Hash]bool {
	observed := map[id.Hash]bool{}
	queue := []id.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if observed[h] {
			continue
		}
		b, ok := s.blocks[h]
		if !ok {
			continue
		}
		observed[h] = true
		for i := range b.Prev {
			queue = append(queue, b.Prev[i].BlockHash)
		}
	}
	return observed
}

// Blocks returns every block in the store, in canonical order.
func (s *Store) Blocks() block.Blocks {
	hashes := make([]id.Hash, 0, len(s.blocks))
	for h := range s.blocks {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	blocks := make(block.Blocks, 0, len(hashes))
	for _, h := range hashes {
		blocks = append(blocks, s.blocks[h])
	}
	return blocks
}

// NumBlocks returns the number of blocks in the store.
func (s *Store) NumBlocks() int {
	return len(s.blocks)
}

// Equivocations returns the recorded equivocation evidence.
func (s *Store) Equivocations() []Equivocation {
	evidence := make([]Equivocation, len(s.equivocations))
	copy(evidence, s.equivocations)
	return evidence
}

// QCs returns every QC in Q, in canonical order.
func (s *Store) QCs() block.QCs {
	vds := make([]block.VoteData, 0, len(s.qcs))
	for vd := range s.qcs {
		vds = append(vds, vd)
	}
	sortVoteData(vds)
	qcs := make(block.QCs, 0, len(vds))
	for _, vd := range vds {
		qcs = append(qcs, s.qcs[vd])
	}
	return qcs
}

// SelfCheck cross-checks the derived indices against the relations that
// define them, returning a description of every violation found. It is
// quadratic in the store and intended for debug builds and tests only.
func (s *Store) SelfCheck() []string {
	violations := []string{}

	// At most one 1-QC and one 2-QC per production key.
	perKey := map[slotLevelKey]int{}
	for vd := range s.qcs {
		if vd.Kind == block.KindGenesis {
			continue
		}
		perKey[slotLevelKey{key: vd.Key(), level: vd.Level}]++
	}
	for slk, count := range perKey {
		if count > 1 && slk.level > 0 {
			violations = append(violations, fmt.Sprintf("%d %d-QCs for %v", count, slk.level, slk.key))
		}
	}

	// The greatest 1-QC is a 1-QC and is maximal among 1-QCs.
	if s.max1QC.Level != 1 {
		violations = append(violations, fmt.Sprintf("greatest 1-QC has level %d", s.max1QC.Level))
	}
	for vd := range s.qcs {
		if vd.Level == 1 && s.max1QC.VoteData.Compare(vd) < 0 {
			violations = append(violations, fmt.Sprintf("1-QC %v above the tracked greatest %v", vd, s.max1QC.VoteData))
		}
	}

	// Tips form an antichain: no tip strictly observes another.
	for _, tip := range s.tips {
		if _, ok := s.qcs[tip]; !ok {
			violations = append(violations, fmt.Sprintf("tip %v is not in Q", tip))
		}
		for _, other := range s.tips {
			if tip == other {
				continue
			}
			if s.Observes(tip, other) && !s.Observes(other, tip) {
				violations = append(violations, fmt.Sprintf("tip %v strictly observes tip %v", tip, other))
			}
		}
	}

	// Every QC is observed by some tip.
	for vd := range s.qcs {
		observed := false
		for _, tip := range s.tips {
			if s.Observes(tip, vd) {
				observed = true
				break
			}
		}
		if !observed {
			violations = append(violations, fmt.Sprintf("qc %v is not observed by any tip", vd))
		}
	}

	// Blocks are structurally consistent with their indices.
	for hash, b := range s.blocks {
		if b.Kind != block.KindGenesis {
			maxPrev := block.Height(0)
			for i := range b.Prev {
				if s.pointedBy[b.Prev[i].BlockHash] == nil || !s.pointedBy[b.Prev[i].BlockHash][hash] {
					violations = append(violations, fmt.Sprintf("block %v points to %v without a reverse index entry", b, b.Prev[i].VoteData))
				}
				if b.Prev[i].Height > maxPrev {
					maxPrev = b.Prev[i].Height
				}
			}
			if b.Height != maxPrev+1 {
				violations = append(violations, fmt.Sprintf("block %v has height %d, expected %d", b, b.Height, maxPrev+1))
			}
		}
		if b.Height > s.maxHeight {
			violations = append(violations, fmt.Sprintf("block %v exceeds the tracked max height %d", b, s.maxHeight))
		}
	}

	// Finalized blocks carry no unfinalized tracking entries.
	for hash := range s.finalized {
		if _, ok := s.unfinalized[hash]; ok {
			violations = append(violations, fmt.Sprintf("block %v is both finalized and unfinalized", hash))
		}
	}
	for vd := range s.unfinalized2QC {
		if vd.Level != 2 {
			violations = append(violations, fmt.Sprintf("pending 2-QC %v has level %d", vd, vd.Level))
		}
		if s.finalized[vd.BlockHash] {
			violations = append(violations, fmt.Sprintf("pending 2-QC %v refers to a finalized block", vd))
		}
	}

	return violations
}

// sortVoteData orders vote data canonically: by the QC preorder first, then
// author, slot, level, and block hash to break ties totally.
func sortVoteData(vds []block.VoteData) {
	sort.Slice(vds, func(i, j int) bool {
		if cmp := vds[i].Compare(vds[j]); cmp != 0 {
			return cmp < 0
		}
		if vds[i].Author != vds[j].Author {
			return vds[i].Author < vds[j].Author
		}
		if vds[i].Slot != vds[j].Slot {
			return vds[i].Slot < vds[j].Slot
		}
		if vds[i].Level != vds[j].Level {
			return vds[i].Level < vds[j].Level
		}
		return bytes.Compare(vds[i].BlockHash[:], vds[j].BlockHash[:]) < 0
	})
}
