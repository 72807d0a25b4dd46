package light

import (
	"errors"
	"math/bits"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/ssz"
)

// MinQuorumNumerator and MinQuorumDenominator define the minimum
// participation threshold: at least 2/3 of the committee must sign.
const (
	MinQuorumNumerator   = 2
	MinQuorumDenominator = 3
)

var (
	ErrBitsLength                = errors.New("light: sync aggregate bitvector has wrong length")
	ErrInsufficientParticipation = errors.New("light: sync committee quorum not met (need 2/3)")
	ErrSignatureInvalid          = errors.New("light: sync committee aggregate signature invalid")
	ErrCommitteeSize             = errors.New("light: sync committee has wrong size")
)

// ComputeDomain is compute_domain(domain_type, fork_version,
// genesis_validators_root).
func ComputeDomain(domainType, forkVersion [4]byte, genesisValidatorsRoot [32]byte) [32]byte {
	var version [32]byte
	copy(version[:], forkVersion[:])
	forkDataRoot := ssz.HashTreeRootContainer(version, genesisValidatorsRoot)

	var domain [32]byte
	copy(domain[:4], domainType[:])
	copy(domain[4:], forkDataRoot[:28])
	return domain
}

// SigningRoot is compute_signing_root for an object root under domain.
func SigningRoot(objectRoot, domain [32]byte) [32]byte {
	return ssz.HashTreeRootContainer(objectRoot, domain)
}

// SyncCommitteeDomain returns the domain a sync aggregate included at
// signatureSlot was signed under. Signers attest to the previous slot, so
// the fork version is taken at the epoch of signatureSlot-1.
func SyncCommitteeDomain(params *chain.BeaconParams, signatureSlot uint64) ([32]byte, error) {
	prev := signatureSlot
	if prev > 0 {
		prev--
	}
	fork, ok := params.ForkAt(Epoch(prev))
	if !ok {
		return [32]byte{}, ErrUnsupportedFork
	}
	return ComputeDomain(DomainSyncCommittee, fork.Version, params.GenesisValidatorsRoot), nil
}

// countParticipants returns the number of set bits in a Bitvector[512].
func countParticipants(bitvector []byte) int {
	n := 0
	for _, b := range bitvector {
		n += bits.OnesCount8(b)
	}
	return n
}

// participants returns the public keys whose bits are set. Bit i lives in
// byte i/8 at position i%8 (SSZ little-endian bit order).
func participants(committee *SyncCommittee, bitvector []byte) [][48]byte {
	out := make([][48]byte, 0, countParticipants(bitvector))
	for i, pk := range committee.Pubkeys {
		if bitvector[i/8]&(1<<uint(i%8)) != 0 {
			out = append(out, pk)
		}
	}
	return out
}

// verifySyncAggregate checks quorum and the aggregate signature of the
// participating members over signingRoot.
func verifySyncAggregate(committee *SyncCommittee, agg *SyncAggregate, signingRoot [32]byte) error {
	if len(committee.Pubkeys) != SyncCommitteeSize {
		return ErrCommitteeSize
	}
	if len(agg.Bits) != SyncCommitteeSize/8 {
		return ErrBitsLength
	}
	count := countParticipants(agg.Bits)
	if count*MinQuorumDenominator < SyncCommitteeSize*MinQuorumNumerator {
		return ErrInsufficientParticipation
	}
	if !crypto.FastAggregateVerify(participants(committee, agg.Bits), signingRoot[:], agg.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}
