// BLS12-381 over the supranational/blst bindings, "MinPk" scheme as used by
// the beacon chain:
//   - public keys in G1 (48-byte compressed)
//   - signatures in G2 (96-byte compressed)
//   - DST: BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_

package crypto

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// blsDST is the domain separation tag for beacon chain BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

const (
	BLSPubkeySize    = 48
	BLSSignatureSize = 96
)

var (
	ErrBLSInvalidIKM       = errors.New("bls: IKM must be at least 32 bytes")
	ErrBLSKeyGenFailed     = errors.New("bls: key generation failed")
	ErrBLSNoSignatures     = errors.New("bls: no signatures to aggregate")
	ErrBLSAggregateFailed  = errors.New("bls: signature aggregation failed")
	ErrBLSInvalidPublicKey = errors.New("bls: invalid public key")
)

// FastAggregateVerify checks an aggregate signature where every signer in
// pubkeys signed the same message. Any undecodable key or signature, or an
// empty signer set, yields false.
func FastAggregateVerify(pubkeys [][BLSPubkeySize]byte, msg []byte, sig [BLSSignatureSize]byte) bool {
	if len(pubkeys) == 0 {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig[:])
	if s == nil {
		return false
	}
	pks := make([]*blst.P1Affine, len(pubkeys))
	for i := range pubkeys {
		pks[i] = new(blst.P1Affine).Uncompress(pubkeys[i][:])
		if pks[i] == nil {
			return false
		}
	}
	return s.FastAggregateVerify(true, pks, msg, blsDST)
}

// ValidatePubkey reports whether pk decodes to a valid G1 point in the
// prime-order subgroup.
func ValidatePubkey(pk [BLSPubkeySize]byte) error {
	p := new(blst.P1Affine).Uncompress(pk[:])
	if p == nil || !p.KeyValidate() {
		return ErrBLSInvalidPublicKey
	}
	return nil
}

// BLSSecretKey is a signing key. It exists for fixtures and local tooling;
// the verification path never holds secret keys.
type BLSSecretKey struct {
	sk *blst.SecretKey
}

// GenerateBLSKey derives a secret key from input key material (>= 32 bytes).
func GenerateBLSKey(ikm []byte) (*BLSSecretKey, error) {
	if len(ikm) < 32 {
		return nil, ErrBLSInvalidIKM
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, ErrBLSKeyGenFailed
	}
	return &BLSSecretKey{sk: sk}, nil
}

// PublicKey returns the compressed G1 public key.
func (k *BLSSecretKey) PublicKey() [BLSPubkeySize]byte {
	var out [BLSPubkeySize]byte
	copy(out[:], new(blst.P1Affine).From(k.sk).Compress())
	return out
}

// Sign returns the compressed G2 signature over msg.
func (k *BLSSecretKey) Sign(msg []byte) [BLSSignatureSize]byte {
	var out [BLSSignatureSize]byte
	copy(out[:], new(blst.P2Affine).Sign(k.sk, msg, blsDST).Compress())
	return out
}

// AggregateSignatures folds compressed signatures into one.
func AggregateSignatures(sigs [][BLSSignatureSize]byte) ([BLSSignatureSize]byte, error) {
	var out [BLSSignatureSize]byte
	if len(sigs) == 0 {
		return out, ErrBLSNoSignatures
	}
	raw := make([][]byte, len(sigs))
	for i := range sigs {
		raw[i] = sigs[i][:]
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(raw, true) {
		return out, ErrBLSAggregateFailed
	}
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}

// AggregatePubkeys folds compressed public keys into one, as stored in a
// sync committee's aggregate_pubkey field.
func AggregatePubkeys(pks [][BLSPubkeySize]byte) ([BLSPubkeySize]byte, error) {
	var out [BLSPubkeySize]byte
	if len(pks) == 0 {
		return out, ErrBLSInvalidPublicKey
	}
	raw := make([][]byte, len(pks))
	for i := range pks {
		raw[i] = pks[i][:]
	}
	agg := new(blst.P1Aggregate)
	if !agg.AggregateCompressed(raw, true) {
		return out, ErrBLSInvalidPublicKey
	}
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}
