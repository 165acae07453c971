// Package block defines the artifacts that Morpheus processes exchange and
// store: blocks of the three kinds, votes and the vote data they are keyed by,
// quorum certificates, and the view-change messages. All artifacts are
// immutable values that are content-addressed by the hash of their canonical
// binary encoding.
package block

import (
	"fmt"

	"github.com/renproject/id"
	"github.com/renproject/surge"
	"golang.org/x/crypto/sha3"
)

// Kind enumerates the three kinds of block in the DAG. The declaration order
// is load-bearing: the QC preorder compares kinds by this tag, and Leader must
// order before Transaction.
type Kind uint8

const (
	KindGenesis Kind = iota
	KindLeader
	KindTransaction
)

// String implements the `fmt.Stringer` interface.
func (kind Kind) String() string {
	switch kind {
	case KindGenesis:
		return "genesis"
	case KindLeader:
		return "leader"
	case KindTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("kind(%d)", uint8(kind))
	}
}

// SizeHint of how many bytes are needed to represent a kind in binary.
func (kind Kind) SizeHint() int {
	return surge.SizeHint(uint8(kind))
}

// Marshal this kind into binary.
func (kind Kind) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Marshal(uint8(kind), buf, rem)
}

// Unmarshal into this kind from binary.
func (kind *Kind) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	return surge.Unmarshal((*uint8)(kind), buf, rem)
}

// A View is a numbered epoch with a deterministic leader.
type View int64

// A Height is the DAG depth of a block; it strictly exceeds the maximum
// height of any block that the block points to.
type Height int64

// A Slot is a per-author monotone sequence number, counted separately for
// each block kind.
type Slot int64

// A Pid identifies a process. Pids are indices in [0, n) into the member
// table agreed at construction.
type Pid uint64

// Transaction is an opaque application payload. The engine never inspects
// its contents.
type Transaction []byte

// Transactions defines a wrapper type around the []Transaction type.
type Transactions []Transaction

// Blocks defines a wrapper type around the []Block type.
type Blocks []Block

// A Block is a vertex in the Morpheus DAG. Transaction blocks carry payloads,
// leader blocks order competing transaction blocks, and the genesis block is
// the unique sentinel at height zero. Blocks are immutable once signed.
type Block struct {
	Kind   Kind   `json:"kind"`
	View   View   `json:"view"`
	Height Height `json:"height"`
	Author Pid    `json:"author"`
	Slot   Slot   `json:"slot"`

	// Payload is non-empty exactly when Kind is KindTransaction.
	Payload Transactions `json:"payload"`
	// Prev points to blocks of strictly smaller height.
	Prev QCs `json:"prev"`
	// OneQC is a 1-QC to some block of strictly smaller height.
	OneQC QC `json:"oneQC"`
	// Justification is non-empty only for the first leader block that its
	// author produces in a view.
	Justification ViewMessages `json:"justification"`

	Signature id.Signature `json:"signature"`
}

// Genesis returns the sentinel block. Every process starts with this block
// and its canonical 1-QC already in its store.
func Genesis() Block {
	return Block{
		Kind:          KindGenesis,
		View:          0,
		Height:        0,
		Author:        0,
		Slot:          0,
		Payload:       Transactions{},
		Prev:          QCs{},
		OneQC:         QC{},
		Justification: ViewMessages{},
	}
}

// GenesisHash returns the content hash of the sentinel block.
func GenesisHash() id.Hash {
	b := Genesis()
	return b.Hash()
}

// GenesisQC returns the canonical 1-QC for the genesis block. It carries an
// empty threshold signature; verifiers must recognise it structurally.
func GenesisQC() QC {
	return QC{
		VoteData: VoteData{
			Level:     1,
			Kind:      KindGenesis,
			View:      0,
			Height:    0,
			Author:    0,
			Slot:      0,
			BlockHash: GenesisHash(),
		},
	}
}

// Hash returns the content hash of the block: the sha3-256 digest of a
// block domain tag followed by the canonical encoding of everything except
// the signature. Votes and QCs refer
// to blocks by this hash, so it must be stable across signing.
func (b Block) Hash() id.Hash {
	buf := make([]byte, 1+b.sigSizeHint())
	buf[0] = sigDomainBlockTag
	if _, _, err := b.sigMarshal(buf[1:], surge.MaxBytes); err != nil {
		panic(fmt.Errorf("invariant violation: marshaling block: %v", err))
	}
	return sha3.Sum256(buf)
}

// SigHash returns the hash that the author signs. It is the content hash.
func (b Block) SigHash() id.Hash {
	return b.Hash()
}

// Key returns the production key of the block: at most one valid block per
// (kind, author, slot) may be signed by a correct author.
func (b Block) Key() ProductionKey {
	return ProductionKey{Kind: b.Kind, Author: b.Author, Slot: b.Slot}
}

// Equal compares one block with another by content hash.
func (b Block) Equal(other Block) bool {
	hash := b.Hash()
	otherHash := other.Hash()
	return hash.Equal(&otherHash)
}

// String implements the `fmt.Stringer` interface.
func (b Block) String() string {
	return fmt.Sprintf("Block(kind=%v,view=%v,height=%v,author=%v,slot=%v)", b.Kind, b.View, b.Height, b.Author, b.Slot)
}

// A ProductionKey identifies the unique position that a block occupies in its
// author's sequence of produced blocks.
type ProductionKey struct {
	Kind   Kind `json:"kind"`
	Author Pid  `json:"author"`
	Slot   Slot `json:"slot"`
}

// String implements the `fmt.Stringer` interface.
func (key ProductionKey) String() string {
	return fmt.Sprintf("(%v,%v,%v)", key.Kind, key.Author, key.Slot)
}

// SizeHint of how many bytes are needed to represent this block in binary.
func (b Block) SizeHint() int {
	return b.sigSizeHint() + surge.SizeHint(b.Signature)
}

func (b Block) sigSizeHint() int {
	return surge.SizeHint(b.Kind) +
		surge.SizeHint(int64(b.View)) +
		surge.SizeHint(int64(b.Height)) +
		surge.SizeHint(uint64(b.Author)) +
		surge.SizeHint(int64(b.Slot)) +
		surge.SizeHint(b.Payload) +
		surge.SizeHint(b.Prev) +
		surge.SizeHint(b.OneQC) +
		surge.SizeHint(b.Justification)
}

// Marshal this block into binary.
func (b Block) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := b.sigMarshal(buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = surge.Marshal(b.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling signature: %v", err)
	}
	return buf, rem, nil
}

func (b Block) sigMarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Marshal(b.Kind, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling kind=%v: %v", b.Kind, err)
	}
	buf, rem, err = surge.Marshal(int64(b.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling view=%v: %v", b.View, err)
	}
	buf, rem, err = surge.Marshal(int64(b.Height), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling height=%v: %v", b.Height, err)
	}
	buf, rem, err = surge.Marshal(uint64(b.Author), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling author=%v: %v", b.Author, err)
	}
	buf, rem, err = surge.Marshal(int64(b.Slot), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling slot=%v: %v", b.Slot, err)
	}
	buf, rem, err = surge.Marshal(b.Payload, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling payload: %v", err)
	}
	buf, rem, err = surge.Marshal(b.Prev, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling prev: %v", err)
	}
	buf, rem, err = surge.Marshal(b.OneQC, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling one qc: %v", err)
	}
	buf, rem, err = surge.Marshal(b.Justification, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling justification: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this block from binary.
func (b *Block) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Unmarshal(&b.Kind, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling kind: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&b.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling view: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&b.Height), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling height: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*uint64)(&b.Author), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling author: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*int64)(&b.Slot), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling slot: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&b.Payload, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling payload: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&b.Prev, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling prev: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&b.OneQC, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling one qc: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&b.Justification, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling justification: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&b.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling signature: %v", err)
	}
	return buf, rem, nil
}
