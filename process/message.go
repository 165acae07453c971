package process

import (
	"fmt"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/surge"
	"golang.org/x/crypto/sha3"
)

// MessageType tags the closed set of messages that a process accepts from
// the transport.
type MessageType uint8

// Enumerate all message types.
const (
	NilMessageType MessageType = iota
	BlockMessageType
	VoteMessageType
	QCMessageType
	ViewMessageType
	EndViewMessageType
	ViewCertMessageType
)

// Messages defines a wrapper type around the []Message type.
type Messages []Message

// A Message is one of the six inbound artifacts. The set is closed: the
// engine pattern-matches on the type tag and the match is total.
type Message interface {
	fmt.Stringer

	// Type of the message.
	Type() MessageType
	// Hash of the message content, used for duplicate suppression.
	Hash() id.Hash
}

func messageHash(msgType MessageType, v interface{}) id.Hash {
	body, err := surge.ToBinary(v)
	if err != nil {
		panic(fmt.Errorf("invariant violation: marshaling message: %v", err))
	}
	buf := make([]byte, 0, 1+len(body))
	buf = append(buf, uint8(msgType))
	buf = append(buf, body...)
	return sha3.Sum256(buf)
}

// A BlockMessage carries a block.
type BlockMessage struct {
	Block block.Block
}

// Type implements the Message interface.
func (m BlockMessage) Type() MessageType { return BlockMessageType }

// Hash implements the Message interface.
func (m BlockMessage) Hash() id.Hash { return messageHash(BlockMessageType, m.Block) }

// String implements the `fmt.Stringer` interface.
func (m BlockMessage) String() string { return fmt.Sprintf("BlockMessage(%v)", m.Block) }

// A VoteMessage carries one vote.
type VoteMessage struct {
	Vote block.Vote
}

// Type implements the Message interface.
func (m VoteMessage) Type() MessageType { return VoteMessageType }

// Hash implements the Message interface.
func (m VoteMessage) Hash() id.Hash { return messageHash(VoteMessageType, m.Vote) }

// String implements the `fmt.Stringer` interface.
func (m VoteMessage) String() string { return fmt.Sprintf("VoteMessage(%v)", m.Vote) }

// A QCMessage carries a quorum certificate.
type QCMessage struct {
	QC block.QC
}

// Type implements the Message interface.
func (m QCMessage) Type() MessageType { return QCMessageType }

// Hash implements the Message interface.
func (m QCMessage) Hash() id.Hash { return messageHash(QCMessageType, m.QC) }

// String implements the `fmt.Stringer` interface.
func (m QCMessage) String() string { return fmt.Sprintf("QCMessage(%v)", m.QC) }

// A ViewMessageMessage carries the declaration a process sends to the leader
// of a view on entering it.
type ViewMessageMessage struct {
	ViewMessage block.ViewMessage
}

// Type implements the Message interface.
func (m ViewMessageMessage) Type() MessageType { return ViewMessageType }

// Hash implements the Message interface.
func (m ViewMessageMessage) Hash() id.Hash { return messageHash(ViewMessageType, m.ViewMessage) }

// String implements the `fmt.Stringer` interface.
func (m ViewMessageMessage) String() string {
	return fmt.Sprintf("ViewMessageMessage(%v)", m.ViewMessage)
}

// An EndViewMessage carries one process's wish to abandon a view.
type EndViewMessage struct {
	EndView block.EndView
}

// Type implements the Message interface.
func (m EndViewMessage) Type() MessageType { return EndViewMessageType }

// Hash implements the Message interface.
func (m EndViewMessage) Hash() id.Hash { return messageHash(EndViewMessageType, m.EndView) }

// String implements the `fmt.Stringer` interface.
func (m EndViewMessage) String() string { return fmt.Sprintf("EndViewMessage(%v)", m.EndView) }

// A ViewCertMessage carries a certificate for entering a view.
type ViewCertMessage struct {
	ViewCert block.ViewCert
}

// Type implements the Message interface.
func (m ViewCertMessage) Type() MessageType { return ViewCertMessageType }

// Hash implements the Message interface.
func (m ViewCertMessage) Hash() id.Hash { return messageHash(ViewCertMessageType, m.ViewCert) }

// String implements the `fmt.Stringer` interface.
func (m ViewCertMessage) String() string { return fmt.Sprintf("ViewCertMessage(%v)", m.ViewCert) }
