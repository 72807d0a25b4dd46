package crypto

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = 65

var (
	ErrSignatureLength = errors.New("secp256k1: signature must be 65 bytes")
	ErrHashLength      = errors.New("secp256k1: hash must be 32 bytes")
	ErrRecoveryID      = errors.New("secp256k1: invalid recovery id")
	ErrSignatureValues = errors.New("secp256k1: signature values out of range or high s")
)

// RecoverAddress returns the address that signed hash. V may be encoded
// either raw (0/1) or with the legacy 27 offset; s must be in the lower
// half of the curve order.
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	if len(hash) != 32 {
		return common.Address{}, ErrHashLength
	}
	if len(sig) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	norm := make([]byte, SignatureLength)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, ErrRecoveryID
	}
	r, s := new(big.Int).SetBytes(norm[:32]), new(big.Int).SetBytes(norm[32:64])
	if !gethcrypto.ValidateSignatureValues(norm[64], r, s, true) {
		return common.Address{}, ErrSignatureValues
	}
	pub, err := gethcrypto.SigToPub(hash, norm)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}

// SignHash signs a 32-byte digest, returning V in {27, 28}, which is what
// sequencers publish.
func SignHash(hash []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// GenerateKey creates a fresh secp256k1 key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// PubkeyToAddress derives the account address of a public key.
func PubkeyToAddress(p ecdsa.PublicKey) common.Address {
	return gethcrypto.PubkeyToAddress(p)
}
