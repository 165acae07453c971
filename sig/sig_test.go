package sig_test

import (
	"math/rand"
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/sig"
	"github.com/renproject/morpheus/sig/ecdsa"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sig", func() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	randomHash := func() id.Hash {
		hash := id.Hash{}
		r.Read(hash[:])
		return hash
	}

	newMembers := func(n int) (sig.Members, []sig.Signer) {
		members := make(sig.Members, n)
		signers := make([]sig.Signer, n)
		for i := 0; i < n; i++ {
			signer, signatory, err := ecdsa.NewFromRandom(block.Pid(i))
			Expect(err).ToNot(HaveOccurred())
			members[i] = signatory
			signers[i] = signer
		}
		return members, signers
	}

	Context("when signing and verifying", func() {
		It("should verify a signature against the signer's pid", func() {
			members, signers := newMembers(4)
			hash := randomHash()
			signature, err := signers[2].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.Verify(members, 2, hash, signature)).To(Succeed())
		})

		It("should reject a signature attributed to the wrong pid", func() {
			members, signers := newMembers(4)
			hash := randomHash()
			signature, err := signers[2].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.Verify(members, 1, hash, signature)).ToNot(Succeed())
		})

		It("should reject an out-of-range pid", func() {
			members, signers := newMembers(4)
			hash := randomHash()
			signature, err := signers[2].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.Verify(members, 7, hash, signature)).ToNot(Succeed())
		})
	})

	Context("when combining threshold signatures", func() {
		It("should verify an aggregate from distinct members", func() {
			members, signers := newMembers(4)
			hash := randomHash()
			partials := []id.Signature{}
			for i := 0; i < 3; i++ {
				partial, err := signers[i].Sign(hash)
				Expect(err).ToNot(HaveOccurred())
				partials = append(partials, partial)
			}
			threshSig, err := sig.Combine(partials, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.VerifyThreshold(members, hash, threshSig, 3)).To(Succeed())
		})

		It("should produce the same aggregate regardless of collection order", func() {
			_, signers := newMembers(4)
			hash := randomHash()
			partials := []id.Signature{}
			for i := 0; i < 3; i++ {
				partial, err := signers[i].Sign(hash)
				Expect(err).ToNot(HaveOccurred())
				partials = append(partials, partial)
			}
			forward, err := sig.Combine(partials, 3)
			Expect(err).ToNot(HaveOccurred())
			reversed := []id.Signature{partials[2], partials[1], partials[0]}
			backward, err := sig.Combine(reversed, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(forward.Equal(backward)).To(BeTrue())
		})

		It("should reject duplicated signers", func() {
			members, signers := newMembers(4)
			hash := randomHash()
			partial, err := signers[0].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			other, err := signers[1].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			threshSig, err := sig.Combine([]id.Signature{partial, partial, other}, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.VerifyThreshold(members, hash, threshSig, 3)).ToNot(Succeed())
		})

		It("should reject non-members", func() {
			members, _ := newMembers(4)
			_, outsiders := newMembers(4)
			hash := randomHash()
			partials := []id.Signature{}
			for i := 0; i < 3; i++ {
				partial, err := outsiders[i].Sign(hash)
				Expect(err).ToNot(HaveOccurred())
				partials = append(partials, partial)
			}
			threshSig, err := sig.Combine(partials, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(sig.VerifyThreshold(members, hash, threshSig, 3)).ToNot(Succeed())
		})

		It("should refuse to combine below the threshold", func() {
			_, signers := newMembers(4)
			hash := randomHash()
			partial, err := signers[0].Sign(hash)
			Expect(err).ToNot(HaveOccurred())
			_, err = sig.Combine([]id.Signature{partial}, 3)
			Expect(err).To(HaveOccurred())
		})
	})
})
