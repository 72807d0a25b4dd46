package journal

import (
	"errors"
	"fmt"
)

// SelectorSize is the width of the verifier selector prefixed to a seal.
const SelectorSize = 4

// Selector routes a seal to the verifier contract that accepts it.
type Selector [SelectorSize]byte

// DevSelector marks seals produced by the development prover. No
// production verifier accepts it.
var DevSelector = Selector{0xff, 0xff, 0xff, 0xff}

var ErrSealShort = errors.New("journal: seal shorter than selector")

func (s Selector) String() string { return fmt.Sprintf("%#x", s[:]) }

// EncodeSeal returns selector ‖ seal, the attestation bytes submitted on
// chain next to the journal.
func EncodeSeal(sel Selector, seal []byte) []byte {
	out := make([]byte, 0, SelectorSize+len(seal))
	out = append(out, sel[:]...)
	return append(out, seal...)
}

// DecodeSeal splits an encoded attestation.
func DecodeSeal(b []byte) (Selector, []byte, error) {
	var sel Selector
	if len(b) < SelectorSize {
		return sel, nil, fmt.Errorf("%w: %d bytes", ErrSealShort, len(b))
	}
	copy(sel[:], b)
	return sel, append([]byte(nil), b[SelectorSize:]...), nil
}
