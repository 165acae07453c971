// Package ecdsa implements the sig.Signer capability over recoverable ECDSA
// signatures on the secp256k1 curve.
package ecdsa

import (
	"crypto/ecdsa"
	"fmt"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/sig"
)

// New returns a Signer for the process at the given pid, signing with the
// given private key.
func New(pid block.Pid, privKey *ecdsa.PrivateKey) sig.Signer {
	return &signer{pid: pid, privKey: privKey}
}

// NewFromRandom generates a fresh private key and returns a Signer for the
// process at the given pid, along with the signatory that other processes
// must enter into their member tables.
func NewFromRandom(pid block.Pid) (sig.Signer, id.Signatory, error) {
	privKey, err := ethCrypto.GenerateKey()
	if err != nil {
		return nil, id.Signatory{}, fmt.Errorf("generating key: %v", err)
	}
	s := &signer{pid: pid, privKey: privKey}
	return s, s.Signatory(), nil
}

type signer struct {
	pid     block.Pid
	privKey *ecdsa.PrivateKey
}

func (s *signer) Sign(hash id.Hash) (id.Signature, error) {
	raw, err := ethCrypto.Sign(hash[:], s.privKey)
	if err != nil {
		return id.Signature{}, fmt.Errorf("signing hash: %v", err)
	}
	if len(raw) != id.SizeHintSignature {
		return id.Signature{}, fmt.Errorf("invariant violation: expected signature length=%v, got=%v", id.SizeHintSignature, len(raw))
	}
	signature := id.Signature{}
	copy(signature[:], raw)
	return signature, nil
}

func (s *signer) Pid() block.Pid {
	return s.pid
}

func (s *signer) Signatory() id.Signatory {
	return id.NewSignatory((*id.PubKey)(&s.privKey.PublicKey))
}
