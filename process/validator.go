package process

import (
	"fmt"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/scheduler"
	"github.com/renproject/morpheus/sig"
)

// A Validator decides, for each inbound artifact in isolation, whether it is
// admissible: structurally well-formed, signed by a member, and consistent
// with the block validity rules. Invalid artifacts are dropped silently by
// the caller; the Validator never mutates state.
type Validator struct {
	members   sig.Members
	scheduler scheduler.Scheduler
	n, f      int
}

// NewValidator returns a Validator for a system of n processes tolerating f
// faults, with the given member table and leader schedule.
func NewValidator(members sig.Members, scheduler scheduler.Scheduler, n, f int) *Validator {
	return &Validator{members: members, scheduler: scheduler, n: n, f: f}
}

// ValidateMessage checks an inbound message. A nil error means the message
// may be ingested.
func (v *Validator) ValidateMessage(m Message) error {
	switch m := m.(type) {
	case BlockMessage:
		return v.ValidateBlock(m.Block)
	case VoteMessage:
		return v.ValidateVote(m.Vote)
	case QCMessage:
		return v.ValidateQC(m.QC)
	case ViewMessageMessage:
		return v.ValidateViewMessage(m.ViewMessage)
	case EndViewMessage:
		return v.ValidateEndView(m.EndView)
	case ViewCertMessage:
		return v.ValidateViewCert(m.ViewCert)
	default:
		return fmt.Errorf("bad message: unexpected type %T", m)
	}
}

// ValidateBlock checks the block validity rules for transaction and leader
// blocks. The genesis block is never transmitted and is always rejected.
func (v *Validator) ValidateBlock(b block.Block) error {
	switch b.Kind {
	case block.KindTransaction, block.KindLeader:
	default:
		return fmt.Errorf("bad block: kind=%v", b.Kind)
	}
	if b.View < 0 || b.Height <= 0 || b.Slot < 0 {
		return fmt.Errorf("bad block: view=%v height=%v slot=%v", b.View, b.Height, b.Slot)
	}
	if !v.members.ContainsPid(b.Author) {
		return fmt.Errorf("bad block: author=%v is not a member", b.Author)
	}
	if err := sig.Verify(v.members, b.Author, b.SigHash(), b.Signature); err != nil {
		return fmt.Errorf("bad block: %v", err)
	}

	if len(b.Prev) == 0 {
		return fmt.Errorf("bad block: empty prev")
	}
	maxPrevHeight := block.Height(0)
	for i := range b.Prev {
		if err := v.ValidateQC(b.Prev[i]); err != nil {
			return fmt.Errorf("bad block: prev %v: %v", i, err)
		}
		if b.Prev[i].Height >= b.Height {
			return fmt.Errorf("bad block: prev %v: height=%v not below %v", i, b.Prev[i].Height, b.Height)
		}
		if b.Prev[i].View > b.View {
			return fmt.Errorf("bad block: prev %v: view=%v above %v", i, b.Prev[i].View, b.View)
		}
		if b.Prev[i].Height > maxPrevHeight {
			maxPrevHeight = b.Prev[i].Height
		}
	}
	if b.Height != maxPrevHeight+1 {
		return fmt.Errorf("bad block: height=%v, expected %v", b.Height, maxPrevHeight+1)
	}

	if b.OneQC.Level != 1 {
		return fmt.Errorf("bad block: one qc level=%v", b.OneQC.Level)
	}
	if err := v.ValidateQC(b.OneQC); err != nil {
		return fmt.Errorf("bad block: one qc: %v", err)
	}
	if b.OneQC.Height >= b.Height {
		return fmt.Errorf("bad block: one qc height=%v not below %v", b.OneQC.Height, b.Height)
	}

	switch b.Kind {
	case block.KindTransaction:
		return v.validateTransactionBlock(b)
	case block.KindLeader:
		return v.validateLeaderBlock(b)
	}
	return nil
}

func (v *Validator) validateTransactionBlock(b block.Block) error {
	if len(b.Payload) == 0 {
		return fmt.Errorf("bad transaction block: empty payload")
	}
	if len(b.Justification) != 0 {
		return fmt.Errorf("bad transaction block: unexpected justification")
	}
	if b.Slot > 0 {
		if !prevContains(b.Prev, block.KindTransaction, b.Author, b.Slot-1) {
			return fmt.Errorf("bad transaction block: no prev qc for slot=%v", b.Slot-1)
		}
	}
	return nil
}

func (v *Validator) validateLeaderBlock(b block.Block) error {
	if len(b.Payload) != 0 {
		return fmt.Errorf("bad leader block: unexpected payload")
	}
	if leader := v.scheduler.Leader(b.View); leader != b.Author {
		return fmt.Errorf("bad leader block: author=%v, expected leader=%v", b.Author, leader)
	}

	var prevSelf *block.QC
	for i := range b.Prev {
		if b.Prev[i].Kind == block.KindLeader && b.Prev[i].Author == b.Author && b.Prev[i].Slot == b.Slot-1 {
			if prevSelf != nil {
				return fmt.Errorf("bad leader block: multiple prev qcs for slot=%v", b.Slot-1)
			}
			prevSelf = &b.Prev[i]
		}
	}
	if b.Slot > 0 && prevSelf == nil {
		return fmt.Errorf("bad leader block: no prev qc for slot=%v", b.Slot-1)
	}

	firstInView := b.Slot == 0 || prevSelf.View < b.View
	if firstInView {
		return v.validateJustification(b)
	}

	// Continuation in the same view: the 1-QC must certify the previous
	// leader block, and no justification is carried.
	if len(b.Justification) != 0 {
		return fmt.Errorf("bad leader block: unexpected justification")
	}
	if !b.OneQC.BlockHash.Equal(&prevSelf.BlockHash) {
		return fmt.Errorf("bad leader block: one qc does not certify previous leader block")
	}
	return nil
}

func (v *Validator) validateJustification(b block.Block) error {
	signers := map[block.Pid]bool{}
	for i := range b.Justification {
		vm := b.Justification[i]
		if vm.View != b.View {
			return fmt.Errorf("bad justification: view message %v: view=%v, expected %v", i, vm.View, b.View)
		}
		if err := v.ValidateViewMessage(vm); err != nil {
			return fmt.Errorf("bad justification: view message %v: %v", i, err)
		}
		if signers[vm.Signer] {
			return fmt.Errorf("bad justification: duplicate signer=%v", vm.Signer)
		}
		signers[vm.Signer] = true
		if b.OneQC.VoteData.Compare(vm.MaxOneQC.VoteData) < 0 {
			return fmt.Errorf("bad justification: one qc below view message %v", i)
		}
	}
	if len(signers) < v.n-v.f {
		return fmt.Errorf("bad justification: %v signers, need %v", len(signers), v.n-v.f)
	}
	return nil
}

// ValidateVote checks the schema, membership and partial signature of a
// vote.
func (v *Validator) ValidateVote(vote block.Vote) error {
	if vote.Level > 2 {
		return fmt.Errorf("bad vote: level=%v", vote.Level)
	}
	switch vote.Kind {
	case block.KindTransaction, block.KindLeader:
	default:
		return fmt.Errorf("bad vote: kind=%v", vote.Kind)
	}
	if vote.View < 0 || vote.Height <= 0 || vote.Slot < 0 {
		return fmt.Errorf("bad vote: view=%v height=%v slot=%v", vote.View, vote.Height, vote.Slot)
	}
	if !v.members.ContainsPid(vote.Author) {
		return fmt.Errorf("bad vote: author=%v is not a member", vote.Author)
	}
	if err := sig.Verify(v.members, vote.Signer, vote.VoteData.SigHash(), vote.Partial); err != nil {
		return fmt.Errorf("bad vote: %v", err)
	}
	return nil
}

// ValidateQC checks the threshold signature of a QC. The canonical genesis
// 1-QC is recognised structurally and accepted.
func (v *Validator) ValidateQC(qc block.QC) error {
	if qc.IsGenesis() {
		if !qc.Equal(block.GenesisQC()) {
			return fmt.Errorf("bad qc: malformed genesis qc")
		}
		return nil
	}
	if qc.Level > 2 {
		return fmt.Errorf("bad qc: level=%v", qc.Level)
	}
	switch qc.Kind {
	case block.KindTransaction, block.KindLeader:
	default:
		return fmt.Errorf("bad qc: kind=%v", qc.Kind)
	}
	if err := sig.VerifyThreshold(v.members, qc.VoteData.SigHash(), qc.Signature, v.n-v.f); err != nil {
		return fmt.Errorf("bad qc: %v", err)
	}
	return nil
}

// ValidateViewMessage checks the signature of a view message and its
// embedded 1-QC.
func (v *Validator) ValidateViewMessage(vm block.ViewMessage) error {
	if vm.View < 0 {
		return fmt.Errorf("bad view message: view=%v", vm.View)
	}
	if vm.MaxOneQC.Level != 1 {
		return fmt.Errorf("bad view message: qc level=%v", vm.MaxOneQC.Level)
	}
	if err := v.ValidateQC(vm.MaxOneQC); err != nil {
		return fmt.Errorf("bad view message: %v", err)
	}
	if err := sig.Verify(v.members, vm.Signer, vm.SigHash(), vm.Signature); err != nil {
		return fmt.Errorf("bad view message: %v", err)
	}
	return nil
}

// ValidateEndView checks the partial signature of an end-view message.
func (v *Validator) ValidateEndView(ev block.EndView) error {
	if ev.View < 0 {
		return fmt.Errorf("bad end-view: view=%v", ev.View)
	}
	if err := sig.Verify(v.members, ev.Signer, ev.SigHash(), ev.Partial); err != nil {
		return fmt.Errorf("bad end-view: %v", err)
	}
	return nil
}

// ValidateViewCert checks the f+1 threshold signature of a view
// certificate.
func (v *Validator) ValidateViewCert(vc block.ViewCert) error {
	if vc.View < 1 {
		return fmt.Errorf("bad view certificate: view=%v", vc.View)
	}
	if err := sig.VerifyThreshold(v.members, vc.SigHash(), vc.Signature, v.f+1); err != nil {
		return fmt.Errorf("bad view certificate: %v", err)
	}
	return nil
}

func prevContains(prev block.QCs, kind block.Kind, author block.Pid, slot block.Slot) bool {
	for i := range prev {
		if prev[i].Kind == kind && prev[i].Author == author && prev[i].Slot == slot {
			return true
		}
	}
	return false
}
