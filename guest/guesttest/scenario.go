// Package guesttest builds complete, verifiable program inputs over the
// anchortest chains: an L1, an OP-Stack rollup and a Linea rollup, each
// with one lending market deployed at the same address.
package guesttest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/anchor/anchortest"
	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
	"github.com/eth2030/xproof/trie/trietest"
)

// Market is the lending market address on every fixture chain.
var Market = common.HexToAddress("0x00000000000000000000000000000000000a11e7")

// Block numbers of the read headers per chain.
const (
	L1Block    = 1000
	OPBlock    = 500
	LineaBlock = 700
	// Links is the reorg depth of every fixture chain.
	Links = 2
)

// Scenario holds the fixture chains' states.
type Scenario struct {
	Fixture *anchortest.Fixture
	Program *guest.Program
	States  map[uint64]*trietest.State
	// Relay anchors the L1 through the OP chain's L1Block predeploy in
	// requests without L1 inclusion.
	Relay bool
}

// New returns a scenario with the market deployed and empty on all chains.
func New() *Scenario {
	f := anchortest.New(Links)
	s := &Scenario{
		Fixture: f,
		Program: guest.New(f.Registry),
		States:  make(map[uint64]*trietest.State),
	}
	for _, id := range []uint64{anchortest.L1, anchortest.OP, anchortest.Linea} {
		s.States[id] = trietest.NewState().SetCode(Market, []byte{0x60, 0x80, 0x60, 0x40})
	}
	anchortest.PrepareOP(s.States[anchortest.OP])
	return s
}

// SetPosition writes user's accumulators for target on chain id.
func (s *Scenario) SetPosition(id uint64, user common.Address, target, in, out uint64) *Scenario {
	inSlot, outSlot := s.Program.Layout.Slots(user, target)
	s.States[id].
		SetStorage(Market, inSlot, uint256.NewInt(in)).
		SetStorage(Market, outSlot, uint256.NewInt(out))
	return s
}

// Input builds the witness bundle for req. Rollups are settled on L1 when
// req requires inclusion.
func (s *Scenario) Input(req *batch.Request) *guest.Input {
	f := s.Fixture
	need := make(map[uint64]bool)
	for _, id := range req.SourceChains() {
		need[id] = true
	}
	if req.RequireL1Inclusion {
		need[anchortest.L1] = true
	}

	blocks := make(map[uint64]*anchortest.Blocks)
	relay := s.Relay && need[anchortest.L1] && !req.RequireL1Inclusion
	if relay {
		blocks[anchortest.L1] = f.Blocks(anchortest.L1, s.States[anchortest.L1], L1Block, Links)
		anchortest.RelayL1(s.States[anchortest.OP], blocks[anchortest.L1])
	}
	if need[anchortest.OP] || relay {
		blocks[anchortest.OP] = f.Blocks(anchortest.OP, s.States[anchortest.OP], OPBlock, Links)
	}
	if need[anchortest.Linea] {
		blocks[anchortest.Linea] = f.Blocks(anchortest.Linea, s.States[anchortest.Linea], LineaBlock, Links)
	}
	l1 := s.States[anchortest.L1]
	if req.RequireL1Inclusion {
		if b, ok := blocks[anchortest.OP]; ok {
			resolved := anchortest.ResolvedAt(L1Block)
			f.SettleOP(l1, s.States[anchortest.OP], b, rollup.GameState{
				CreatedAt:   resolved - 3600,
				ResolvedAt:  resolved,
				Status:      rollup.GameDefenderWins,
				Initialized: true,
			})
		}
		if b, ok := blocks[anchortest.Linea]; ok {
			anchortest.SettleLinea(l1, b.Tip().Number.Uint64())
		}
	}
	if need[anchortest.L1] && !relay {
		blocks[anchortest.L1] = f.Blocks(anchortest.L1, l1, L1Block, Links)
	}

	var chains []guest.ChainInput
	for id := range need {
		b := blocks[id]
		var w *anchor.ChainWitness
		switch id {
		case anchortest.L1:
			if relay {
				w = f.RelayWitness(b, blocks[anchortest.OP], s.States[anchortest.OP])
			} else {
				w = f.BeaconWitness(b)
			}
		case anchortest.OP:
			var game *anchor.GameWitness
			if req.RequireL1Inclusion {
				game = f.GameWitness(l1, s.States[anchortest.OP], b)
			}
			w = f.OPWitness(b, game)
		case anchortest.Linea:
			var proof *trie.AccountProof
			if req.RequireL1Inclusion {
				proof = anchortest.LineaProof(l1)
			}
			w = f.LineaWitness(b, proof)
		}
		chains = append(chains, guest.ChainInput{Witness: *w, Accounts: s.accounts(req, id)})
	}
	return guest.NewInput(req, chains)
}

// accounts proves every market req reads on id with all its slots.
func (s *Scenario) accounts(req *batch.Request, id uint64) []trie.AccountProof {
	var out []trie.AccountProof
	for _, m := range req.Markets(id) {
		var slots []common.Hash
		for _, e := range req.Entries {
			if e.SourceChainID != id || e.Market != m {
				continue
			}
			for _, t := range e.Targets {
				in, o := s.Program.Layout.Slots(e.User, t)
				slots = append(slots, in, o)
			}
		}
		out = append(out, *s.States[id].Prove(m, slots...))
	}
	return out
}
