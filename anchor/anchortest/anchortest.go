// Package anchortest assembles verifiable chain witnesses for the three
// consensus families over in-memory state, with the L1 contracts rollups
// settle on.
package anchortest

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/light/lighttest"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
	"github.com/eth2030/xproof/trie/trietest"
)

// Fixture chain ids.
const (
	L1    = chain.EthereumID
	OP    = chain.OptimismID
	Linea = chain.LineaID
)

// Fixed contract addresses on the fixture chains.
var (
	DisputeGameFactory = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	GameProxy          = common.HexToAddress("0x0000000000000000000000000000000000009a3e")
	LineaRollup        = common.HexToAddress("0x00000000000000000000000000000000001ea000")
)

// FinalityWindow is the OP fixture's dispute game finality window.
const FinalityWindow = 300

// GenesisTime is the timestamp of block 0 on every fixture chain.
const GenesisTime = 1_700_000_000

// Fixture holds the registry and signing keys of the fixture chains.
type Fixture struct {
	Registry *chain.Registry
	Light    *lighttest.Builder
	keys     map[uint64]*ecdsa.PrivateKey
}

func mustKey(seed string) *ecdsa.PrivateKey {
	k, err := gethcrypto.ToECDSA(crypto.Keccak256([]byte(seed)))
	if err != nil {
		panic(err)
	}
	return k
}

// Relay predeploy slots of the fixture L1.
const (
	L1BlockNumberSlot = 0
	L1BlockHashSlot   = 2
)

// New returns a fixture with an L1, an OP-Stack chain and a Linea chain.
// Every chain requires reorgDepth links. The L1 may also be relayed
// through the OP chain.
func New(reorgDepth uint64) *Fixture {
	f := &Fixture{
		Registry: chain.NewRegistry(),
		Light:    lighttest.NewBuilder(),
		keys: map[uint64]*ecdsa.PrivateKey{
			OP:    mustKey("anchortest op sequencer"),
			Linea: mustKey("anchortest linea sequencer"),
		},
	}
	f.Registry.MustRegister(&chain.Params{
		ID: L1, Name: "l1", Family: chain.FamilyBeacon,
		ReorgDepth: reorgDepth, L1ChainID: L1, Beacon: f.Light.Params,
		Relay: &chain.RelayParams{
			ChainID:    OP,
			Sequencer:  crypto.PubkeyToAddress(f.keys[OP].PublicKey),
			L1Block:    chain.L1BlockPredeploy,
			NumberSlot: L1BlockNumberSlot,
			HashSlot:   L1BlockHashSlot,
		},
	})
	f.Registry.MustRegister(&chain.Params{
		ID: OP, Name: "op", Family: chain.FamilyOPStack,
		Sequencer:  crypto.PubkeyToAddress(f.keys[OP].PublicKey),
		ReorgDepth: reorgDepth, L1ChainID: L1,
		OPStack: &chain.OPStackParams{
			DisputeGameFactory: DisputeGameFactory,
			DisputeGamesSlot:   103,
			GameType:           0,
			FinalityWindow:     FinalityWindow,
			MessagePasser:      chain.L2ToL1MessagePasser,
		},
	})
	f.Registry.MustRegister(&chain.Params{
		ID: Linea, Name: "linea", Family: chain.FamilyLinea,
		Sequencer:  crypto.PubkeyToAddress(f.keys[Linea].PublicKey),
		ReorgDepth: reorgDepth, L1ChainID: L1,
		Linea:      &chain.LineaParams{RollupContract: LineaRollup, CurrentL2BlockSlot: 201},
	})
	return f
}

// Params returns the registered params of id.
func (f *Fixture) Params(id uint64) *chain.Params {
	p, err := f.Registry.Lookup(id)
	if err != nil {
		panic(err)
	}
	return p
}

// SequencerKey returns the sequencer key of a rollup chain.
func (f *Fixture) SequencerKey(id uint64) *ecdsa.PrivateKey { return f.keys[id] }

// Blocks is a read header followed by its links. All of them share the
// state root of the read header.
type Blocks struct {
	ChainID uint64
	Read    *types.Header
	Links   []*types.Header
}

// Tip returns the last header.
func (b *Blocks) Tip() *types.Header {
	if len(b.Links) == 0 {
		return b.Read
	}
	return b.Links[len(b.Links)-1]
}

// Witness returns a witness carrying b's headers and no family material.
func (b *Blocks) Witness() *anchor.ChainWitness {
	w := &anchor.ChainWitness{ChainID: b.ChainID, Header: encode(b.Read)}
	for _, h := range b.Links {
		w.Links = append(w.Links, encode(h))
	}
	return w
}

func encode(h *types.Header) []byte {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}
	return enc
}

// Blocks builds a read header at number over st's current root, with
// links headers after it. Linea tips are sealed by the sequencer.
func (f *Fixture) Blocks(id uint64, st *trietest.State, number uint64, links int) *Blocks {
	root := st.Root()
	mk := func(n uint64, parent common.Hash) *types.Header {
		return &types.Header{
			ParentHash: parent,
			Number:     new(big.Int).SetUint64(n),
			Root:       root,
			Time:       GenesisTime + n*12,
			GasLimit:   30_000_000,
			Difficulty: new(big.Int),
			Extra:      make([]byte, 32),
		}
	}
	b := &Blocks{ChainID: id, Read: mk(number, common.Hash{0x01})}
	parent := b.Read
	for i := 0; i < links; i++ {
		h := mk(number+uint64(i)+1, parent.Hash())
		b.Links = append(b.Links, h)
		parent = h
	}
	if id == Linea {
		if err := rollup.SealHeader(b.Tip(), f.keys[Linea]); err != nil {
			panic(err)
		}
	}
	return b
}

// BeaconWitness builds a light client path from a checkpoint to a
// finalized header whose execution payload is b's tip.
func (f *Fixture) BeaconWitness(b *Blocks) *anchor.ChainWitness {
	tip := b.Tip()
	lb := f.Light
	boot := lb.Block(100, lighttest.Execution(tip.Number.Uint64()-1, tip.Root, tip.ParentHash), nil)
	fin := lb.Block(200, lighttest.Execution(tip.Number.Uint64(), tip.Root, tip.Hash()), nil)
	att := lb.Block(264, lighttest.Execution(tip.Number.Uint64()+2, tip.Root, common.Hash{0xa7}), &fin.Header)

	w := b.Witness()
	w.Beacon = &anchor.BeaconWitness{
		CheckpointRoot: boot.Root(),
		Bootstrap:      *lb.Bootstrap(boot),
		Updates:        []light.Update{*lb.Update(att, &fin.Header, false, 265)},
	}
	return w
}

// OPWitness signs a commitment for b's tip. If game is non-nil it is
// attached as the dispute game witness.
func (f *Fixture) OPWitness(b *Blocks, game *anchor.GameWitness) *anchor.ChainWitness {
	w := b.Witness()
	w.OPStack = &anchor.OPStackWitness{Commitment: f.commit(b.Tip()), Game: game}
	return w
}

func (f *Fixture) commit(h *types.Header) []byte {
	raw, err := rollup.EncodeCommitment(OP, &rollup.Payload{
		ParentBeaconRoot: common.Hash{0xbe},
		StateRoot:        h.Root,
		BlockNumber:      h.Number.Uint64(),
		Timestamp:        h.Time,
		BlockHash:        h.Hash(),
	}, f.keys[OP])
	if err != nil {
		panic(err)
	}
	return raw
}

// RelayL1 records l1's tip in the L1Block predeploy of the OP state l2.
// Build the OP blocks afterwards so they carry the updated root.
func RelayL1(l2 *trietest.State, l1 *Blocks) {
	tip := l1.Tip()
	packed := new(uint256.Int).Lsh(uint256.NewInt(tip.Time), 64)
	packed.Or(packed, uint256.NewInt(tip.Number.Uint64()))
	l2.SetCode(chain.L1BlockPredeploy, []byte{0x15}).
		SetStorage(chain.L1BlockPredeploy, trie.Slot(L1BlockNumberSlot), packed).
		SetStorage(chain.L1BlockPredeploy, trie.Slot(L1BlockHashSlot), new(uint256.Int).SetBytes32(tip.Hash().Bytes()))
}

// RelayWitness carries l1's headers, anchored through the OP commitment
// for op's tip and the L1Block proof from l2, the state op was built over.
func (f *Fixture) RelayWitness(l1, op *Blocks, l2 *trietest.State) *anchor.ChainWitness {
	tip := op.Tip()
	w := l1.Witness()
	w.Relay = &anchor.RelayWitness{
		Commitment: f.commit(tip),
		Header:     encode(tip),
		L1Block:    *l2.Prove(chain.L1BlockPredeploy, trie.Slot(L1BlockNumberSlot), trie.Slot(L1BlockHashSlot)),
	}
	return w
}

// LineaWitness attaches the rollup contract proof, if any.
func (f *Fixture) LineaWitness(b *Blocks, rollupProof *trie.AccountProof) *anchor.ChainWitness {
	w := b.Witness()
	w.Linea = &anchor.LineaWitness{Rollup: rollupProof}
	return w
}

// PrepareOP gives the L2 state a message passer account.
func PrepareOP(l2 *trietest.State) {
	l2.SetCode(chain.L2ToL1MessagePasser, []byte{0x60, 0x80}).
		SetStorage(chain.L2ToL1MessagePasser, trie.Slot(1), uint256.NewInt(3))
}

func gameUUID(l2 *trietest.State, b *Blocks) common.Hash {
	tip := b.Tip()
	mp := l2.Prove(chain.L2ToL1MessagePasser)
	output := rollup.OutputRoot(tip.Root, mp.StorageHash, tip.Hash())
	uuid, err := rollup.GameUUID(0, output, tip.Number.Uint64())
	if err != nil {
		panic(err)
	}
	return uuid
}

// SettleOP records a dispute game for b's tip in the L1 state with the
// given resolution state. l2 must be the state b was built over.
func (f *Fixture) SettleOP(l1, l2 *trietest.State, b *Blocks, st rollup.GameState) {
	uuid := gameUUID(l2, b)
	gid := rollup.GameID{Type: 0, Timestamp: st.CreatedAt, Proxy: GameProxy}
	l1.SetCode(DisputeGameFactory, []byte{0xfa}).
		SetStorage(DisputeGameFactory, rollup.GameSlot(103, uuid), gid.Encode()).
		SetCode(GameProxy, []byte{0x9a}).
		SetStorage(GameProxy, trie.Slot(rollup.GameStatusSlot), st.Encode())
}

// GameWitness proves the dispute game of b's tip from the final L1 state.
func (f *Fixture) GameWitness(l1, l2 *trietest.State, b *Blocks) *anchor.GameWitness {
	uuid := gameUUID(l2, b)
	return &anchor.GameWitness{
		MessagePasser: *l2.Prove(chain.L2ToL1MessagePasser),
		Factory:       *l1.Prove(DisputeGameFactory, rollup.GameSlot(103, uuid)),
		Game:          *l1.Prove(GameProxy, trie.Slot(rollup.GameStatusSlot)),
	}
}

// SettleLinea records finalized as the rollup contract's finalized L2
// block in the L1 state.
func SettleLinea(l1 *trietest.State, finalized uint64) {
	l1.SetCode(LineaRollup, []byte{0x1e}).
		SetStorage(LineaRollup, trie.Slot(201), uint256.NewInt(finalized))
}

// LineaProof proves the rollup contract's finalized block slot.
func LineaProof(l1 *trietest.State) *trie.AccountProof {
	return l1.Prove(LineaRollup, trie.Slot(201))
}

// ResolvedAt returns a resolution time for a game that is final at L1
// block number l1Block.
func ResolvedAt(l1Block uint64) uint64 {
	return GenesisTime + l1Block*12 - FinalityWindow
}
