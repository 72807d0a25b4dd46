package anchor

import (
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/light"
)

// BeaconVerifier anchors Ethereum L1 through the beacon light client. The
// tip of the witness segment must be the execution payload of the latest
// finalized beacon header reached from the checkpoint. L1 anchors count
// as L1-included. A witness carrying relay material is checked through
// the configured OP-Stack relay chain instead.
type BeaconVerifier struct {
	params *chain.Params
}

func (v *BeaconVerifier) Verify(w *ChainWitness, opts Options) (*Anchor, error) {
	id := v.params.ID
	if w.Relay != nil {
		return verifyRelayed(v.params, w, opts)
	}
	if w.Beacon == nil {
		return nil, failf(id, WitnessMalformed, "no beacon witness")
	}
	seg, err := decodeSegment(w, v.params)
	if err != nil {
		return nil, err
	}

	store, err := light.NewStore(v.params.Beacon, w.Beacon.CheckpointRoot, &w.Beacon.Bootstrap)
	if err != nil {
		return nil, fail(id, lightKind(err), err)
	}
	for i := range w.Beacon.Updates {
		if err := store.ProcessUpdate(&w.Beacon.Updates[i]); err != nil {
			return nil, failf(id, lightKind(err), "update %d: %w", i, err)
		}
	}

	fin := store.Finalized().Execution
	if fin.BlockHash != seg.tip.Hash() || fin.StateRoot != seg.tip.Root || fin.BlockNumber != seg.tip.Number.Uint64() {
		return nil, failf(id, ExecutionMismatch, "finalized payload %d %s, tip %d %s",
			fin.BlockNumber, fin.BlockHash, seg.tip.Number.Uint64(), seg.tip.Hash())
	}
	return seg.anchor(v.params, w.Beacon.CheckpointRoot, true), nil
}
