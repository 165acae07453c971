package block

import (
	"fmt"

	"github.com/renproject/id"
	"github.com/renproject/surge"
	"golang.org/x/crypto/sha3"
)

// ViewMessages defines a wrapper type around the []ViewMessage type.
type ViewMessages []ViewMessage

// A ViewMessage is the declaration a process sends to the leader of a view on
// entering it. MaxOneQC is the greatest 1-QC, under the QC preorder, that the
// signer had observed at that moment; the leader uses it to justify its first
// leader block of the view.
type ViewMessage struct {
	View      View         `json:"view"`
	MaxOneQC  QC           `json:"maxOneQC"`
	Signer    Pid          `json:"signer"`
	Signature id.Signature `json:"signature"`
}

// SigHash returns the hash that the signer signs.
func (vm ViewMessage) SigHash() id.Hash {
	size := 1 + surge.SizeHint(int64(vm.View)) + surge.SizeHint(vm.MaxOneQC)
	buf := make([]byte, size)
	buf[0] = sigDomainView
	tail, rem, err := surge.Marshal(int64(vm.View), buf[1:], surge.MaxBytes)
	if err == nil {
		_, _, err = surge.Marshal(vm.MaxOneQC, tail, rem)
	}
	if err != nil {
		panic(fmt.Errorf("invariant violation: marshaling view message: %v", err))
	}
	return sha3.Sum256(buf)
}

// Equal compares one view message with another.
func (vm ViewMessage) Equal(other ViewMessage) bool {
	return vm.View == other.View &&
		vm.MaxOneQC.Equal(other.MaxOneQC) &&
		vm.Signer == other.Signer &&
		vm.Signature.Equal(&other.Signature)
}

// String implements the `fmt.Stringer` interface.
func (vm ViewMessage) String() string {
	return fmt.Sprintf("ViewMessage(view=%v,signer=%v,maxOneQC=%v)", vm.View, vm.Signer, vm.MaxOneQC)
}

// SizeHint of how many bytes are needed to represent this view message in
// binary.
func (vm ViewMessage) SizeHint() int {
	return surge.SizeHint(int64(vm.View)) +
		surge.SizeHint(vm.MaxOneQC) +
		surge.SizeHint(uint64(vm.Signer)) +
		surge.SizeHint(vm.Signature)
}

// Marshal this view message into binary.
func (vm ViewMessage) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Marshal(int64(vm.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling view=%v: %v", vm.View, err)
	}
	buf, rem, err = surge.Marshal(vm.MaxOneQC, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling max one qc: %v", err)
	}
	buf, rem, err = surge.Marshal(uint64(vm.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling signer=%v: %v", vm.Signer, err)
	}
	buf, rem, err = surge.Marshal(vm.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling signature: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this view message from binary.
func (vm *ViewMessage) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Unmarshal((*int64)(&vm.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling view: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&vm.MaxOneQC, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling max one qc: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*uint64)(&vm.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling signer: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&vm.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling signature: %v", err)
	}
	return buf, rem, nil
}

// EndViewSigHash returns the hash that end-view partials for the given view
// sign. It is shared by EndView and ViewCert so that a certificate for view
// v+1 verifies against the partials collected for view v.
func EndViewSigHash(view View) id.Hash {
	buf := make([]byte, 1+surge.SizeHint(int64(view)))
	buf[0] = sigDomainEndView
	if _, _, err := surge.Marshal(int64(view), buf[1:], surge.MaxBytes); err != nil {
		panic(fmt.Errorf("invariant violation: marshaling end view: %v", err))
	}
	return sha3.Sum256(buf)
}

// EndViews defines a wrapper type around the []EndView type.
type EndViews []EndView

// An EndView is one process's wish to abandon a view. A multiset of f+1 of
// them aggregates into a ViewCert for the next view.
type EndView struct {
	View    View         `json:"view"`
	Signer  Pid          `json:"signer"`
	Partial id.Signature `json:"partial"`
}

// SigHash returns the hash that the signer signs.
func (ev EndView) SigHash() id.Hash {
	return EndViewSigHash(ev.View)
}

// Equal compares one end-view message with another.
func (ev EndView) Equal(other EndView) bool {
	return ev.View == other.View &&
		ev.Signer == other.Signer &&
		ev.Partial.Equal(&other.Partial)
}

// String implements the `fmt.Stringer` interface.
func (ev EndView) String() string {
	return fmt.Sprintf("EndView(view=%v,signer=%v)", ev.View, ev.Signer)
}

// SizeHint of how many bytes are needed to represent this end-view message
// in binary.
func (ev EndView) SizeHint() int {
	return surge.SizeHint(int64(ev.View)) +
		surge.SizeHint(uint64(ev.Signer)) +
		surge.SizeHint(ev.Partial)
}

// Marshal this end-view message into binary.
func (ev EndView) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Marshal(int64(ev.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling view=%v: %v", ev.View, err)
	}
	buf, rem, err = surge.Marshal(uint64(ev.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling signer=%v: %v", ev.Signer, err)
	}
	buf, rem, err = surge.Marshal(ev.Partial, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling partial: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this end-view message from binary.
func (ev *EndView) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Unmarshal((*int64)(&ev.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling view: %v", err)
	}
	buf, rem, err = surge.Unmarshal((*uint64)(&ev.Signer), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling signer: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&ev.Partial, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling partial: %v", err)
	}
	return buf, rem, nil
}

// A ViewCert certifies entry into View: it aggregates f+1 end-view partials
// for View-1.
type ViewCert struct {
	View      View         `json:"view"`
	Signature ThresholdSig `json:"signature"`
}

// SigHash returns the hash that the aggregated partials signed.
func (vc ViewCert) SigHash() id.Hash {
	return EndViewSigHash(vc.View - 1)
}

// Equal compares one view certificate with another.
func (vc ViewCert) Equal(other ViewCert) bool {
	return vc.View == other.View && vc.Signature.Equal(other.Signature)
}

// String implements the `fmt.Stringer` interface.
func (vc ViewCert) String() string {
	return fmt.Sprintf("ViewCert(view=%v)", vc.View)
}

// SizeHint of how many bytes are needed to represent this view certificate
// in binary.
func (vc ViewCert) SizeHint() int {
	return surge.SizeHint(int64(vc.View)) + surge.SizeHint(vc.Signature)
}

// Marshal this view certificate into binary.
func (vc ViewCert) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Marshal(int64(vc.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling view=%v: %v", vc.View, err)
	}
	buf, rem, err = surge.Marshal(vc.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling threshold signature: %v", err)
	}
	return buf, rem, nil
}

// Unmarshal into this view certificate from binary.
func (vc *ViewCert) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.Unmarshal((*int64)(&vc.View), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling view: %v", err)
	}
	buf, rem, err = surge.Unmarshal(&vc.Signature, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling threshold signature: %v", err)
	}
	return buf, rem, nil
}
