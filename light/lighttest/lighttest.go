// Package lighttest builds self-consistent beacon chain fixtures: sync
// committees with real BLS keys, beacon states whose roots commit to those
// committees and to finalized checkpoints, and signed light client updates.
//
// Committees reuse a handful of distinct keys across all 512 seats so that
// signing and aggregation stay fast.
package lighttest

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/ssz"
)

const distinctKeys = 4

// ElectraEpoch is the fork boundary of the fixture chain: periods 0 and 1
// are Deneb, period 2 onwards Electra.
const ElectraEpoch = 2 * light.EpochsPerSyncCommitteePeriod

// Params returns beacon parameters for the fixture chain.
func Params() *chain.BeaconParams {
	return &chain.BeaconParams{
		GenesisValidatorsRoot: common.HexToHash("0x6c1d1d8f0f5c2a44d3b7c1d8a58d6d2f1d0a4e9e7b3f5e1c2a0b9d8c7e6f5a4b"),
		Forks: []chain.Fork{
			{Name: "deneb", Epoch: 0, Version: [4]byte{0x04, 0x00, 0x00, 0x01}},
			{Name: "electra", Epoch: ElectraEpoch, Version: [4]byte{0x05, 0x00, 0x00, 0x01}},
		},
	}
}

// Builder produces fixtures for one chain. It caches keys per period.
type Builder struct {
	Params *chain.BeaconParams

	keys       map[uint64][]*crypto.BLSSecretKey
	committees map[uint64]*light.SyncCommittee
}

// NewBuilder returns a builder over Params().
func NewBuilder() *Builder {
	return &Builder{
		Params:     Params(),
		keys:       make(map[uint64][]*crypto.BLSSecretKey),
		committees: make(map[uint64]*light.SyncCommittee),
	}
}

func (b *Builder) periodKeys(period uint64) []*crypto.BLSSecretKey {
	if ks, ok := b.keys[period]; ok {
		return ks
	}
	ks := make([]*crypto.BLSSecretKey, distinctKeys)
	for i := range ks {
		ikm := crypto.Keccak256([]byte(fmt.Sprintf("lighttest committee %d key %d", period, i)))
		k, err := crypto.GenerateBLSKey(ikm)
		if err != nil {
			panic(err)
		}
		ks[i] = k
	}
	b.keys[period] = ks
	return ks
}

// Committee returns the sync committee of period. Callers may modify the
// returned value.
func (b *Builder) Committee(period uint64) *light.SyncCommittee {
	if c, ok := b.committees[period]; ok {
		cp := *c
		cp.Pubkeys = append([][48]byte(nil), c.Pubkeys...)
		return &cp
	}
	ks := b.periodKeys(period)
	pks := make([][48]byte, distinctKeys)
	for i, k := range ks {
		pks[i] = k.PublicKey()
	}
	c := &light.SyncCommittee{Pubkeys: make([][48]byte, light.SyncCommitteeSize)}
	for i := range c.Pubkeys {
		c.Pubkeys[i] = pks[i%distinctKeys]
	}
	agg, err := crypto.AggregatePubkeys(c.Pubkeys)
	if err != nil {
		panic(err)
	}
	c.AggregatePubkey = agg
	b.committees[period] = c
	return b.Committee(period)
}

// Execution returns a payload header for block number with the given state
// root and block hash. Other fields are filled deterministically.
func Execution(number uint64, stateRoot, blockHash common.Hash) light.ExecutionPayloadHeader {
	return light.ExecutionPayloadHeader{
		ParentHash:    common.BytesToHash(crypto.Keccak256(blockHash[:])),
		FeeRecipient:  common.HexToAddress("0x4675c7e5baafbffbca748158becba61ef3b0a263"),
		StateRoot:     stateRoot,
		BlockNumber:   number,
		GasLimit:      36_000_000,
		GasUsed:       12_000_000,
		Timestamp:     1_700_000_000 + number*12,
		ExtraData:     []byte("lighttest"),
		BaseFeePerGas: uint256.NewInt(7),
		BlockHash:     blockHash,
	}
}

// Block is a beacon block together with the state it commits to.
type Block struct {
	Header light.LightClientHeader

	stateLeaves [][32]byte
	stateSize   int
	checkpoint  uint64 // finalized epoch
}

func filler(tag string, slot uint64, i int) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], slot)
	return [32]byte(crypto.Keccak256([]byte(tag), buf[:], []byte{byte(i)}))
}

// Block builds a block at slot carrying exec. Its state holds the current
// and next committees of the slot's period and, if finalized is non-nil,
// a finalized checkpoint pointing at it.
func (b *Builder) Block(slot uint64, exec light.ExecutionPayloadHeader, finalized *light.LightClientHeader) *Block {
	execRoot, err := exec.HashTreeRoot()
	if err != nil {
		panic(err)
	}
	body := make([][32]byte, 16)
	for i := range body {
		body[i] = filler("body", slot, i)
	}
	body[9] = execRoot

	fork, ok := b.Params.ForkAt(light.Epoch(slot))
	if !ok {
		panic("lighttest: slot before first fork")
	}
	size := 1 << light.StateDepth(fork.Name)
	state := make([][32]byte, size)
	for i := range state {
		state[i] = filler("state", slot, i)
	}
	period := light.SyncCommitteePeriod(slot)
	state[22] = b.Committee(period).HashTreeRoot()
	state[23] = b.Committee(period + 1).HashTreeRoot()

	blk := &Block{stateSize: size}
	if finalized != nil {
		blk.checkpoint = light.Epoch(finalized.Beacon.Slot)
		state[20] = ssz.HashTreeRootContainer(ssz.HashTreeRootUint64(blk.checkpoint), finalized.Beacon.HashTreeRoot())
	}
	blk.stateLeaves = state

	blk.Header = light.LightClientHeader{
		Beacon: light.BeaconBlockHeader{
			Slot:          slot,
			ProposerIndex: slot % 1000,
			ParentRoot:    filler("parent", slot, 0),
			StateRoot:     ssz.Merkleize(state, size),
			BodyRoot:      ssz.Merkleize(body, 16),
		},
		Execution:       exec,
		ExecutionBranch: ssz.Branch(body, 16, 9),
	}
	return blk
}

// Root returns the beacon block root.
func (blk *Block) Root() [32]byte { return blk.Header.Beacon.HashTreeRoot() }

func (blk *Block) branch(index int) [][32]byte {
	return ssz.Branch(blk.stateLeaves, blk.stateSize, index)
}

// Bootstrap returns the bootstrap for blk.
func (b *Builder) Bootstrap(blk *Block) *light.Bootstrap {
	return &light.Bootstrap{
		Header:                     blk.Header,
		CurrentSyncCommittee:       *b.Committee(light.SyncCommitteePeriod(blk.Header.Beacon.Slot)),
		CurrentSyncCommitteeBranch: blk.branch(22),
	}
}

// Update builds an update attesting to attested, finalizing finalized
// (which must be the header attested's state was built with, or nil), and
// optionally carrying the next committee. It is signed by every seat of
// the committee of signatureSlot's period.
func (b *Builder) Update(attested *Block, finalized *light.LightClientHeader, withNext bool, signatureSlot uint64) *light.Update {
	u := &light.Update{
		AttestedHeader: attested.Header,
		SignatureSlot:  signatureSlot,
	}
	if finalized != nil {
		f := *finalized
		u.FinalizedHeader = &f
		u.FinalityBranch = append([][32]byte{ssz.HashTreeRootUint64(attested.checkpoint)}, attested.branch(20)...)
	}
	if withNext {
		u.NextSyncCommittee = b.Committee(light.SyncCommitteePeriod(attested.Header.Beacon.Slot) + 1)
		u.NextSyncCommitteeBranch = attested.branch(23)
	}
	b.Sign(u, light.SyncCommitteeSize)
	return u
}

// Sign replaces u's sync aggregate with one signed by the first
// participants seats of the committee of u's signature period.
func (b *Builder) Sign(u *light.Update, participants int) {
	domain, err := light.SyncCommitteeDomain(b.Params, u.SignatureSlot)
	if err != nil {
		panic(err)
	}
	msg := light.SigningRoot(u.AttestedHeader.Beacon.HashTreeRoot(), domain)

	ks := b.periodKeys(light.SyncCommitteePeriod(u.SignatureSlot))
	var distinct [distinctKeys][96]byte
	for i, k := range ks {
		distinct[i] = k.Sign(msg[:])
	}

	bits := make([]byte, light.SyncCommitteeSize/8)
	sigs := make([][96]byte, 0, participants)
	for i := 0; i < participants; i++ {
		bits[i/8] |= 1 << uint(i%8)
		sigs = append(sigs, distinct[i%distinctKeys])
	}
	u.SyncAggregate = light.SyncAggregate{Bits: bits}
	if participants == 0 {
		return
	}
	agg, err := crypto.AggregateSignatures(sigs)
	if err != nil {
		panic(err)
	}
	u.SyncAggregate.Signature = agg
}
