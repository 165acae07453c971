package block

import (
	"fmt"

	"github.com/renproject/id"
	"github.com/renproject/surge"
	"golang.org/x/crypto/sha3"
)

// Domain separation tags for signing hashes, so that a signature over one
// artifact can never be replayed as a signature over another.
const (
	sigDomainVote     = uint8(0x01)
	sigDomainView     = uint8(0x02)
	sigDomainEndView  = uint8(0x03)
	sigDomainBlockTag = uint8(0x04)
)

// VoteData is the unsigned content of a vote: the level together with every
// block field needed to disambiguate authors, slots and kinds, so that a
// quorum can be aggregated without holding the referenced block. It is the
// canonical key under which partial signatures accumulate.
type VoteData struct {
	Level     uint8   `json:"level"`
	Kind      Kind    `json:"kind"`
	View      View    `json:"view"`
	Height    Height  `json:"height"`
	Author    Pid     `json:"author"`
	Slot      Slot    `json:"slot"`
	BlockHash id.Hash `json:"blockHash"`
}

// NewVoteData returns the vote data at the given level for the given block.
func NewVoteData(level uint8, b Block) VoteData {
	return VoteData{
		Level:     level,
		Kind:      b.Kind,
		View:      b.View,
		Height:    b.Height,
		Author:    b.Author,
		Slot:      b.Slot,
		BlockHash: b.Hash(),
	}
}

// Key returns the production key of the referenced block.
func (vd VoteData) Key() ProductionKey {
	return ProductionKey{Kind: vd.Kind, Author: vd.Author, Slot: vd.Slot}
}

// Compare implements the QC preorder: lexicographic on (view, kind tag,
// height), where the leader tag orders before the transaction tag. Distinct
// blocks may tie, but tied QCs that agree on (kind, view, height) certify the
// same block whenever quorum intersection holds.
func (vd VoteData) Compare(other VoteData) int {
	if vd.View != other.View {
		if vd.View < other.View {
			return -1
		}
		return 1
	}
	if vd.Kind != other.Kind {
		if vd.Kind < other.Kind {
			return -1
		}
		return 1
	}
	if vd.Height != other.Height {
		if vd.Height < other.Height {
			return -1
		}
		return 1
	}
	return 0
}

// Equal compares one vote data with another, field by field.
func (vd VoteData) Equal(other VoteData) bool {
	return vd.Level == other.Level &&
		vd.Kind == other.Kind &&
		vd.View == other.View &&
		vd.Height == other.Height &&
		vd.Author == other.Author &&
		vd.Slot == other.Slot &&
		vd.BlockHash.Equal(&other.BlockHash)
}

// SigHash returns the hash that vote partials sign.
func (vd VoteData) SigHash() id.Hash {
	buf := make([]byte, 1+vd.SizeHint())
	buf[0] = sigDomainVote
	if _, _, err := vd.Marshal(buf[1:], surge.MaxBytes); err != nil {
		panic(fmt.Errorf("invariant violation: marshaling vote data: %v", err))
	}
	return sha3.Sum256(buf)
}

// String implements the `fmt.Stringer` interface.
func (vd VoteData) String() string {
	return fmt.Sprintf("VoteData(z=%d,kind=%v,view=%v,height=%v,author=%v,slot=%v)", vd.Level, vd.Kind, vd.View, vd.Height, vd.Author, vd.Slot)
}

// SizeHint of how many bytes are needed to represent this vote data in
// binary.
func (vd VoteData) SizeHint() int {
	return surge.SizeHint(vd.Level) +
		surge.SizeHint(vd.Kind) +
		surge.SizeHint(int64(vd.View)) +
		surge.SizeHint(int64(vd.Height)) +
		surge.SizeHint(uint64(vd.Author)) +
		surge.SizeHint(int64(vd.Slot)) +
		surge.SizeHint(vd.BlockHash)
}

// Marshal this vote data into binary.
func (vd VoteData) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Marshal(vd.Level, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling level=%v: %v", vd.Level, err)
	}
	buf, rem, err = surge.Marshal(vd.Kind, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling kind=%v: %v", vd.Kind, err)
	}
	buf, rem, err = surge.Marshal(int64(vd.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling view=%v: %v", vd.View, err)
	}
	buf, rem, err = surge.Marshal(int64(vd.Height), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling height=%v: %v", vd.Height, err)
	}
	buf, rem, err = surge.Marshal(uint64(vd.Author), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling author=%v: %v", vd.Author, err)
	}
	buf, rem, err = surge.Marshal(int64(vd.Slot), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling slot=%v: %v", vd.Slot, err)
	}
	buf, rem, err = surge.Marshal(vd.BlockHash, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling block hash: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this vote data from binary.
func (vd *VoteData) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Unmarshal(&vd.Level, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling level: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&vd.Kind, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling kind: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&vd.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling view: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&vd.Height), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling height: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*uint64)(&vd.Author), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling author: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&vd.Slot), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling slot: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&vd.BlockHash, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling block hash: %v", err)
	}
	return buf, rem, nil
}

// Votes defines a wrapper type around the []Vote type.
type Votes []Vote

// A Vote is a signed vote data: one process's partial signature towards a QC
// at the given level.
type Vote struct {
	VoteData

	Signer  Pid          `json:"signer"`
	Partial id.Signature `json:"partial"`
}

// Equal compares one vote with another.
func (v Vote) Equal(other Vote) bool {
	return v.VoteData.Equal(other.VoteData) &&
		v.Signer == other.Signer &&
		v.Partial.Equal(&other.Partial)
}

// String implements the `fmt.Stringer` interface.
func (v Vote) String() string {
	return fmt.Sprintf("Vote(%v,signer=%v)", v.VoteData, v.Signer)
}

// SizeHint of how many bytes are needed to represent this vote in binary.
func (v Vote) SizeHint() int {
	return v.VoteData.SizeHint() +
		surge.SizeHint(uint64(v.Signer)) +
		surge.SizeHint(v.Partial)
}

// Marshal this vote into binary.
func (v Vote) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := v.VoteData.Marshal(buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = surge.Marshal(uint64(v.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling signer=%v: %v", v.Signer, err)
	}
	buf, rem, err = surge.Marshal(v.Partial, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling partial: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this vote from binary.
func (v *Vote) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := v.VoteData.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = surge.Unmarshal((*uint64)(&v.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling signer: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&v.Partial, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling partial: %v", err)
	}
	return buf, rem, nil
}

// A ThresholdSig attests that a threshold of distinct members signed the same
// hash. It is an aggregate of recoverable ECDSA partials; verifiers recover
// each signer and check distinctness, membership, and the count against the
// threshold.
type ThresholdSig struct {
	Partials []id.Signature `json:"partials"`
}

// Equal compares one threshold signature with another.
func (ts ThresholdSig) Equal(other ThresholdSig) bool {
	if len(ts.Partials) != len(other.Partials) {
		return false
	}
	for i := range ts.Partials {
		if !ts.Partials[i].Equal(&other.Partials[i]) {
			return false
		}
	}
	return true
}

// SizeHint of how many bytes are needed to represent this threshold
// signature in binary.
func (ts ThresholdSig) SizeHint() int {
	return surge.SizeHint(ts.Partials)
}

// Marshal this threshold signature into binary.
func (ts ThresholdSig) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Marshal(ts.Partials, buf, rem)
}

// Unmarshal into this threshold signature from binary.
func (ts *ThresholdSig) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Unmarshal(&ts.Partials, buf, rem)
}

// QCs defines a wrapper type around the []QC type.
type QCs []QC

// A QC is a vote data together with a threshold signature attesting that n-f
// distinct processes signed that exact vote data.
type QC struct {
	VoteData

	Signature ThresholdSig `json:"signature"`
}

// IsGenesis returns true for the canonical genesis 1-QC, which carries no
// threshold signature and is trusted from initialisation.
func (qc QC) IsGenesis() bool {
	return qc.Kind == KindGenesis && qc.Level == 1 && qc.Height == 0 && len(qc.Signature.Partials) == 0
}

// Equal compares one QC with another.
func (qc QC) Equal(other QC) bool {
	return qc.VoteData.Equal(other.VoteData) && qc.Signature.Equal(other.Signature)
}

// String implements the `fmt.Stringer` interface.
func (qc QC) String() string {
	return fmt.Sprintf("QC(%v)", qc.VoteData)
}

// SizeHint of how many bytes are needed to represent this QC in binary.
func (qc QC) SizeHint() int {
	return qc.VoteData.SizeHint() + surge.SizeHint(qc.Signature)
}

// Marshal this QC into binary.
func (qc QC) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := qc.VoteData.Marshal(buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = surge.Marshal(qc.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling threshold signature: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this QC from binary.
func (qc *QC) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := qc.VoteData.Unmarshal(buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = surge.Unmarshal(&qc.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling threshold signature: %v", err)
	}
	return buf, rem, nil
}
