package zkvm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/journal"
)

var (
	ErrSealLength   = errors.New("zkvm: invalid seal length")
	ErrSealSelector = errors.New("zkvm: seal selector is not the development selector")
	ErrSealInvalid  = errors.New("zkvm: seal verification failed")
)

// Groth16-shaped seal: A(64) + B(128) + C(64) = 256 bytes. The development
// seal derives the points by hashing; it proves nothing and is only
// accepted under the development selector.
const (
	sealPointASize = 64
	sealPointBSize = 128
	sealPointCSize = 64
	SealSize       = sealPointASize + sealPointBSize + sealPointCSize
)

// DevSeal derives the development seal over imageID and the journal
// digest.
func DevSeal(imageID common.Hash, j []byte) []byte {
	digest := journal.Digest(j)
	a := pointA(imageID, digest)
	b := pointB(a, imageID)
	c := pointC(a, b)

	seal := make([]byte, 0, SealSize)
	seal = append(seal, a[:]...)
	seal = append(seal, b[:]...)
	return append(seal, c[:]...)
}

// VerifySeal checks a selector-prefixed development attestation against
// imageID and the journal.
func VerifySeal(imageID common.Hash, j, attestation []byte) error {
	sel, seal, err := journal.DecodeSeal(attestation)
	if err != nil {
		return err
	}
	if sel != journal.DevSelector {
		return ErrSealSelector
	}
	if len(seal) != SealSize {
		return ErrSealLength
	}
	if !bytes.Equal(seal, DevSeal(imageID, j)) {
		return ErrSealInvalid
	}
	return nil
}

// pointA = H(digest ‖ image ‖ "ProofPointA") ‖ H("A_second" ‖ digest ‖ image)
func pointA(imageID, digest common.Hash) [64]byte {
	h1 := sha256.New()
	h1.Write(digest[:])
	h1.Write(imageID[:])
	h1.Write([]byte("ProofPointA"))

	h2 := sha256.New()
	h2.Write([]byte("A_second"))
	h2.Write(digest[:])
	h2.Write(imageID[:])

	var out [64]byte
	copy(out[:32], h1.Sum(nil))
	copy(out[32:], h2.Sum(nil))
	return out
}

func pointB(a [64]byte, imageID common.Hash) [128]byte {
	var out [128]byte
	for i := 0; i < 4; i++ {
		h := sha256.New()
		h.Write(a[:])
		h.Write(imageID[:])
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		h.Write([]byte("ProofPointB"))
		copy(out[i*32:], h.Sum(nil))
	}
	return out
}

func pointC(a [64]byte, b [128]byte) [64]byte {
	h1 := sha256.New()
	h1.Write(a[:])
	h1.Write(b[:])
	h1.Write([]byte("ProofPointC_first"))

	h2 := sha256.New()
	h2.Write(b[:])
	h2.Write(a[:])
	h2.Write([]byte("ProofPointC_second"))

	var out [64]byte
	copy(out[:32], h1.Sum(nil))
	copy(out[32:], h2.Sum(nil))
	return out
}
