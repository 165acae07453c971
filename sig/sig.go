// Package sig supplies the cryptographic capabilities that the consensus core
// treats as injected: per-process signing, recover-based verification against
// a fixed member table, and the aggregate threshold scheme used for quorum
// certificates and view certificates. The schemes are assumed perfect under
// the stated adversary; any operation returning an error is treated by the
// core as malformed input.
package sig

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
)

// Members is the immutable table of signatories agreed at construction,
// indexed by Pid. All membership and threshold checks resolve against it.
type Members []id.Signatory

// Contains returns true if the signatory is a member.
func (members Members) Contains(signatory id.Signatory) bool {
	_, ok := members.PidOf(signatory)
	return ok
}

// PidOf returns the Pid of the signatory, if it is a member.
func (members Members) PidOf(signatory id.Signatory) (block.Pid, bool) {
	for i := range members {
		if members[i].Equal(&signatory) {
			return block.Pid(i), true
		}
	}
	return 0, false
}

// ContainsPid returns true if the pid indexes into the member table.
func (members Members) ContainsPid(pid block.Pid) bool {
	return int(pid) < len(members)
}

// A Signer produces partial signatures on behalf of one process.
type Signer interface {
	// Sign the hash, returning a recoverable signature.
	Sign(hash id.Hash) (id.Signature, error)
	// Pid of the process that this Signer signs for.
	Pid() block.Pid
	// Signatory derived from the public key.
	Signatory() id.Signatory
}

// Verify that the signature over the hash was produced by the member at the
// given pid. Verification is by public-key recovery, so no signature scheme
// state is needed beyond the member table.
func Verify(members Members, pid block.Pid, hash id.Hash, signature id.Signature) error {
	if !members.ContainsPid(pid) {
		return fmt.Errorf("bad signer: pid=%v out of range", pid)
	}
	pubKey, err := crypto.SigToPub(hash[:], signature[:])
	if err != nil {
		return fmt.Errorf("recovering signatory: %v", err)
	}
	signatory := id.NewSignatory((*id.PubKey)(pubKey))
	if !members[pid].Equal(&signatory) {
		return fmt.Errorf("bad signatory: expected signatory=%v, got signatory=%v", members[pid], signatory)
	}
	return nil
}

// Combine partial signatures into a threshold signature. Partials are sorted
// so that the aggregate is canonical regardless of collection order. An
// attempt to combine fewer than threshold partials is a bug in the caller.
func Combine(partials []id.Signature, threshold int) (block.ThresholdSig, error) {
	if len(partials) < threshold {
		return block.ThresholdSig{}, fmt.Errorf("invariant violation: combining %v partials, need %v", len(partials), threshold)
	}
	sorted := make([]id.Signature, len(partials))
	copy(sorted, partials)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return block.ThresholdSig{Partials: sorted}, nil
}

// VerifyThreshold checks that the threshold signature over the hash carries
// at least threshold partials from distinct members.
func VerifyThreshold(members Members, hash id.Hash, sig block.ThresholdSig, threshold int) error {
	if len(sig.Partials) < threshold {
		return fmt.Errorf("bad threshold signature: %v partials, need %v", len(sig.Partials), threshold)
	}
	seen := map[id.Signatory]bool{}
	for i := range sig.Partials {
		pubKey, err := crypto.SigToPub(hash[:], sig.Partials[i][:])
		if err != nil {
			return fmt.Errorf("recovering partial %v: %v", i, err)
		}
		signatory := id.NewSignatory((*id.PubKey)(pubKey))
		if !members.Contains(signatory) {
			return fmt.Errorf("bad partial %v: signatory=%v is not a member", i, signatory)
		}
		if seen[signatory] {
			return fmt.Errorf("bad partial %v: duplicate signatory=%v", i, signatory)
		}
		seen[signatory] = true
	}
	return nil
}
