package rollup

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/eth2030/xproof/crypto"
)

// ErrExtraSeal is returned when a Linea header's extra data is too short
// to carry the sequencer seal.
var ErrExtraSeal = errors.New("rollup: header extra data missing sequencer seal")

// SealHash returns the digest a Linea sequencer signs: the hash of the
// header with the trailing 65-byte seal removed from its extra data.
func SealHash(h *types.Header) (common.Hash, error) {
	if len(h.Extra) < crypto.SignatureLength {
		return common.Hash{}, ErrExtraSeal
	}
	cpy := types.CopyHeader(h)
	cpy.Extra = cpy.Extra[:len(cpy.Extra)-crypto.SignatureLength]
	return cpy.Hash(), nil
}

// HeaderSigner recovers the sequencer that sealed h.
func HeaderSigner(h *types.Header) (common.Address, error) {
	hash, err := SealHash(h)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(hash[:], h.Extra[len(h.Extra)-crypto.SignatureLength:])
}

// SealHeader appends a seal by key to h's extra data. h is modified.
func SealHeader(h *types.Header, key *ecdsa.PrivateKey) error {
	h.Extra = append(h.Extra, make([]byte, crypto.SignatureLength)...)
	hash, err := SealHash(h)
	if err != nil {
		return err
	}
	sig, err := crypto.SignHash(hash[:], key)
	if err != nil {
		return err
	}
	copy(h.Extra[len(h.Extra)-crypto.SignatureLength:], sig)
	return nil
}
