// Package light implements the Ethereum beacon chain light client used to
// anchor L1 execution state: bootstrap from a trusted checkpoint, sync
// committee tracking across periods, finality and execution-payload Merkle
// branches, and BLS aggregate signature checks.
//
// All containers hash with real SSZ hash_tree_root so proofs served by a
// beacon node's light client API verify unchanged.
package light

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/ssz"
)

// Beacon chain constants.
const (
	SlotsPerEpoch                = 32
	EpochsPerSyncCommitteePeriod = 256
	SlotsPerSyncCommitteePeriod  = SlotsPerEpoch * EpochsPerSyncCommitteePeriod
	SyncCommitteeSize            = 512
	MaxExtraDataBytes            = 32

	// executionPayloadGIndex locates execution_payload in BeaconBlockBody.
	executionPayloadGIndex = 25
)

// DomainSyncCommittee is DOMAIN_SYNC_COMMITTEE.
var DomainSyncCommittee = [4]byte{0x07, 0x00, 0x00, 0x00}

// BeaconBlockHeader is the consensus block header.
type BeaconBlockHeader struct {
	Slot          uint64
	ProposerIndex uint64
	ParentRoot    common.Hash
	StateRoot     common.Hash
	BodyRoot      common.Hash
}

// HashTreeRoot returns the SSZ root of the header, which is the beacon
// block root.
func (h *BeaconBlockHeader) HashTreeRoot() [32]byte {
	return ssz.HashTreeRootContainer(
		ssz.HashTreeRootUint64(h.Slot),
		ssz.HashTreeRootUint64(h.ProposerIndex),
		h.ParentRoot,
		h.StateRoot,
		h.BodyRoot,
	)
}

// ExecutionPayloadHeader is the Deneb execution payload header, unchanged
// through Electra and Fulu.
type ExecutionPayloadHeader struct {
	ParentHash       common.Hash
	FeeRecipient     common.Address
	StateRoot        common.Hash
	ReceiptsRoot     common.Hash
	LogsBloom        [256]byte
	PrevRandao       common.Hash
	BlockNumber      uint64
	GasLimit         uint64
	GasUsed          uint64
	Timestamp        uint64
	ExtraData        []byte
	BaseFeePerGas    *uint256.Int
	BlockHash        common.Hash
	TransactionsRoot common.Hash
	WithdrawalsRoot  common.Hash
	BlobGasUsed      uint64
	ExcessBlobGas    uint64
}

// HashTreeRoot returns the SSZ root of the payload header.
func (e *ExecutionPayloadHeader) HashTreeRoot() ([32]byte, error) {
	extra, err := ssz.HashTreeRootByteList(e.ExtraData, MaxExtraDataBytes)
	if err != nil {
		return [32]byte{}, err
	}
	var baseFee [32]byte
	if e.BaseFeePerGas != nil {
		be := e.BaseFeePerGas.Bytes32()
		for i := 0; i < 32; i++ {
			baseFee[i] = be[31-i]
		}
	}
	return ssz.HashTreeRootContainer(
		e.ParentHash,
		ssz.HashTreeRootByteVector(e.FeeRecipient[:]),
		e.StateRoot,
		e.ReceiptsRoot,
		ssz.HashTreeRootByteVector(e.LogsBloom[:]),
		e.PrevRandao,
		ssz.HashTreeRootUint64(e.BlockNumber),
		ssz.HashTreeRootUint64(e.GasLimit),
		ssz.HashTreeRootUint64(e.GasUsed),
		ssz.HashTreeRootUint64(e.Timestamp),
		extra,
		baseFee,
		e.BlockHash,
		e.TransactionsRoot,
		e.WithdrawalsRoot,
		ssz.HashTreeRootUint64(e.BlobGasUsed),
		ssz.HashTreeRootUint64(e.ExcessBlobGas),
	), nil
}

// LightClientHeader pairs a beacon header with its execution payload header
// and the branch proving one inside the other.
type LightClientHeader struct {
	Beacon          BeaconBlockHeader
	Execution       ExecutionPayloadHeader
	ExecutionBranch [][32]byte
}

// SyncCommittee is the 512-member committee of one period.
type SyncCommittee struct {
	Pubkeys         [][48]byte
	AggregatePubkey [48]byte
}

// HashTreeRoot returns the SSZ root of the committee.
func (c *SyncCommittee) HashTreeRoot() [32]byte {
	roots := make([][32]byte, len(c.Pubkeys))
	for i := range c.Pubkeys {
		roots[i] = ssz.HashTreeRootByteVector(c.Pubkeys[i][:])
	}
	return ssz.HashTreeRootContainer(
		ssz.Merkleize(roots, SyncCommitteeSize),
		ssz.HashTreeRootByteVector(c.AggregatePubkey[:]),
	)
}

// SyncAggregate is the committee's participation bitvector and aggregate
// signature over the attested header.
type SyncAggregate struct {
	Bits      []byte // Bitvector[512], 64 bytes
	Signature [96]byte
}

// Bootstrap is the light client bootstrap served for a trusted block root.
type Bootstrap struct {
	Header                     LightClientHeader
	CurrentSyncCommittee       SyncCommittee
	CurrentSyncCommitteeBranch [][32]byte
}

// Update is a light client update. Finality updates leave the next
// committee unset; optimistic updates also leave the finalized header unset.
type Update struct {
	AttestedHeader          LightClientHeader
	NextSyncCommittee       *SyncCommittee `rlp:"nil"`
	NextSyncCommitteeBranch [][32]byte
	FinalizedHeader         *LightClientHeader `rlp:"nil"`
	FinalityBranch          [][32]byte
	SyncAggregate           SyncAggregate
	SignatureSlot           uint64
}

// SyncCommitteePeriod returns the committee period of slot.
func SyncCommitteePeriod(slot uint64) uint64 {
	return slot / SlotsPerSyncCommitteePeriod
}

// Epoch returns the epoch of slot.
func Epoch(slot uint64) uint64 {
	return slot / SlotsPerEpoch
}
