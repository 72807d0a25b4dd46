package anchor

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
)

// OPStackVerifier anchors an OP-Stack chain. The sequencer's signed block
// commitment is always checked. Without L1 inclusion the tip must be the
// committed block. With L1 inclusion the tip is the block a resolved
// dispute game on the settlement chain vouches for, and the commitment
// must not be older than it.
type OPStackVerifier struct {
	params *chain.Params
}

func (v *OPStackVerifier) Verify(w *ChainWitness, opts Options) (*Anchor, error) {
	id := v.params.ID
	if w.OPStack == nil {
		return nil, failf(id, WitnessMalformed, "no op-stack witness")
	}
	seg, err := decodeSegment(w, v.params)
	if err != nil {
		return nil, err
	}

	c, err := rollup.DecodeCommitment(w.OPStack.Commitment)
	if err != nil {
		return nil, fail(id, WitnessMalformed, err)
	}
	signer, err := c.Signer(id)
	if err != nil {
		return nil, fail(id, SequencerSigInvalid, err)
	}
	if signer != v.params.Sequencer {
		return nil, failf(id, SequencerSigInvalid, "signed by %s, sequencer is %s", signer, v.params.Sequencer)
	}

	if !opts.RequireL1Inclusion {
		if c.BlockHash != seg.tip.Hash() || c.StateRoot != seg.tip.Root || c.BlockNumber != seg.tip.Number.Uint64() {
			return nil, failf(id, ExecutionMismatch, "commitment for block %d %s, tip %d %s",
				c.BlockNumber, c.BlockHash, seg.tip.Number.Uint64(), seg.tip.Hash())
		}
		return seg.anchor(v.params, common.BytesToHash(v.params.Sequencer.Bytes()), false), nil
	}

	l1, err := settlementAnchor(v.params, opts)
	if err != nil {
		return nil, err
	}
	if c.BlockNumber < seg.tip.Number.Uint64() {
		return nil, failf(id, ExecutionMismatch, "commitment block %d behind settled block %d", c.BlockNumber, seg.tip.Number.Uint64())
	}
	if err := v.verifyGame(seg, w.OPStack.Game, l1); err != nil {
		return nil, err
	}
	return seg.anchor(v.params, l1.BlockHash(), true), nil
}

// verifyGame proves that a dispute game for the tip's output root exists
// in the factory and resolved for the defender past the finality window.
func (v *OPStackVerifier) verifyGame(seg *segment, g *GameWitness, l1 *Anchor) error {
	id, op := v.params.ID, v.params.OPStack
	if g == nil {
		return failf(id, L1InclusionMissing, "no dispute game witness")
	}

	if g.MessagePasser.Address != op.MessagePasser {
		return failf(id, WitnessMalformed, "message passer proof for %s", g.MessagePasser.Address)
	}
	mp, err := trie.VerifyAccount(seg.tip.Root, &g.MessagePasser)
	if err != nil {
		return fail(id, WitnessMalformed, err)
	}
	output := rollup.OutputRoot(seg.tip.Root, mp.StorageRoot, seg.tip.Hash())
	uuid, err := rollup.GameUUID(op.GameType, output, seg.tip.Number.Uint64())
	if err != nil {
		return fail(id, WitnessMalformed, err)
	}

	if g.Factory.Address != op.DisputeGameFactory {
		return failf(id, L1InclusionMissing, "factory proof for %s, want %s", g.Factory.Address, op.DisputeGameFactory)
	}
	word, err := provenSlot(l1, &g.Factory, rollup.GameSlot(op.DisputeGamesSlot, uuid))
	if err != nil {
		return fail(id, L1InclusionMissing, err)
	}
	if word.IsZero() {
		return failf(id, L1InclusionMissing, "no game for output %s at block %d", output, seg.tip.Number.Uint64())
	}
	gid := rollup.DecodeGameID(word)
	if gid.Type != op.GameType || gid.Proxy != g.Game.Address {
		return failf(id, L1InclusionMissing, "game record %+v does not match proof for %s", gid, g.Game.Address)
	}

	word, err = provenSlot(l1, &g.Game, trie.Slot(rollup.GameStatusSlot))
	if err != nil {
		return fail(id, L1InclusionMissing, err)
	}
	st := rollup.DecodeGameState(word)
	if !st.Final(l1.Timestamp(), op.FinalityWindow) {
		return failf(id, DisputeGameUnresolved, "game %s: %v resolved at %d, challenged=%v, L1 time %d",
			gid.Proxy, st.Status, st.ResolvedAt, st.L2BlockNumberChallenged, l1.Timestamp())
	}
	return nil
}

// verifyRelayed anchors Ethereum through an OP-Stack relay chain. The relay
// sequencer's commitment must cover the relay header, the L1Block
// predeploy slots are proven against that header's state, and the L1
// segment must end at the block they record.
func verifyRelayed(params *chain.Params, w *ChainWitness, opts Options) (*Anchor, error) {
	id, relay := params.ID, params.Relay
	if relay == nil {
		return nil, failf(id, WitnessMalformed, "no relay chain configured")
	}
	if opts.RequireL1Inclusion {
		return nil, failf(id, L1InclusionMissing, "relayed anchor rests on the chain %d sequencer", relay.ChainID)
	}
	seg, err := decodeSegment(w, params)
	if err != nil {
		return nil, err
	}

	c, err := rollup.DecodeCommitment(w.Relay.Commitment)
	if err != nil {
		return nil, fail(id, WitnessMalformed, err)
	}
	signer, err := c.Signer(relay.ChainID)
	if err != nil {
		return nil, fail(id, SequencerSigInvalid, err)
	}
	if signer != relay.Sequencer {
		return nil, failf(id, SequencerSigInvalid, "relay block signed by %s, sequencer is %s", signer, relay.Sequencer)
	}
	rh, err := decodeHeader(w.Relay.Header)
	if err != nil {
		return nil, fail(id, WitnessMalformed, err)
	}
	if c.BlockHash != rh.Hash() || c.StateRoot != rh.Root || c.BlockNumber != rh.Number.Uint64() {
		return nil, failf(id, ExecutionMismatch, "commitment for relay block %d %s, header %d %s",
			c.BlockNumber, c.BlockHash, rh.Number.Uint64(), rh.Hash())
	}

	p := &w.Relay.L1Block
	if p.Address != relay.L1Block {
		return nil, failf(id, WitnessMalformed, "L1Block proof for %s", p.Address)
	}
	number, err := slotAt(rh.Root, p, trie.Slot(relay.NumberSlot))
	if err != nil {
		return nil, fail(id, WitnessMalformed, err)
	}
	hash, err := slotAt(rh.Root, p, trie.Slot(relay.HashSlot))
	if err != nil {
		return nil, fail(id, WitnessMalformed, err)
	}
	// Uint64 keeps the low 8 bytes, dropping the packed timestamp.
	if common.Hash(hash.Bytes32()) != seg.tip.Hash() || number.Uint64() != seg.tip.Number.Uint64() {
		return nil, failf(id, ExecutionMismatch, "relay records L1 block %d %x, tip %d %s",
			number.Uint64(), hash.Bytes32(), seg.tip.Number.Uint64(), seg.tip.Hash())
	}
	return seg.anchor(params, common.BytesToHash(relay.Sequencer.Bytes()), true), nil
}

var (
	errNoSettlement    = errors.New("settlement chain anchor missing")
	errWrongSettlement = errors.New("settlement anchor is for another chain")
)

// settlementAnchor returns the verified L1 anchor a rollup settles on.
func settlementAnchor(params *chain.Params, opts Options) (*Anchor, error) {
	if !opts.L1.Verified() {
		return nil, fail(params.ID, L1InclusionMissing, errNoSettlement)
	}
	if opts.L1.ChainID() != params.L1ChainID {
		return nil, failf(params.ID, L1InclusionMissing, "%w: %d", errWrongSettlement, opts.L1.ChainID())
	}
	return opts.L1, nil
}
