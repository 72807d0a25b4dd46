package anchor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
)

// LineaVerifier anchors a Linea chain. The tip header carries the
// sequencer's seal in its extra data. With L1 inclusion, the LineaRollup
// contract on the settlement chain must report the tip as finalized.
type LineaVerifier struct {
	params *chain.Params
}

func (v *LineaVerifier) Verify(w *ChainWitness, opts Options) (*Anchor, error) {
	id := v.params.ID
	if w.Linea == nil {
		return nil, failf(id, WitnessMalformed, "no linea witness")
	}
	seg, err := decodeSegment(w, v.params)
	if err != nil {
		return nil, err
	}

	signer, err := rollup.HeaderSigner(seg.tip)
	if err != nil {
		return nil, fail(id, SequencerSigInvalid, err)
	}
	if signer != v.params.Sequencer {
		return nil, failf(id, SequencerSigInvalid, "sealed by %s, sequencer is %s", signer, v.params.Sequencer)
	}

	if !opts.RequireL1Inclusion {
		return seg.anchor(v.params, common.BytesToHash(v.params.Sequencer.Bytes()), false), nil
	}

	l1, err := settlementAnchor(v.params, opts)
	if err != nil {
		return nil, err
	}
	p := w.Linea.Rollup
	if p == nil || p.Address != v.params.Linea.RollupContract {
		return nil, failf(id, L1InclusionMissing, "no rollup contract proof")
	}
	finalized, err := provenSlot(l1, p, trie.Slot(v.params.Linea.CurrentL2BlockSlot))
	if err != nil {
		return nil, fail(id, L1InclusionMissing, err)
	}
	// LineaRollup records block numbers and shomei state roots, never
	// execution block hashes. Only the number is checked here; the tip's
	// hash is bound by the sequencer seal alone.
	if !finalized.IsUint64() || finalized.Uint64() < seg.tip.Number.Uint64() {
		return nil, failf(id, L1InclusionMissing, "L1 finalized block %s, tip %d", finalized, seg.tip.Number.Uint64())
	}
	return seg.anchor(v.params, l1.BlockHash(), true), nil
}

// provenSlot verifies p against the anchored state root and returns the
// proven value of slot.
func provenSlot(a *Anchor, p *trie.AccountProof, slot common.Hash) (*uint256.Int, error) {
	return slotAt(a.StateRoot(), p, slot)
}

func slotAt(root common.Hash, p *trie.AccountProof, slot common.Hash) (*uint256.Int, error) {
	acc, err := trie.VerifyAccount(root, p)
	if err != nil {
		return nil, err
	}
	sp, ok := p.StorageFor(slot)
	if !ok {
		return nil, fmt.Errorf("%w: %s", trie.ErrNoStorageProof, slot)
	}
	v, _, err := trie.VerifyStorage(acc.StorageRoot, sp)
	return v, err
}
