package anchor

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/xproof/chain"
)

// Options are the per-run policy inputs of a verification.
type Options struct {
	// RequireL1Inclusion makes rollup verifiers prove settlement on L1.
	RequireL1Inclusion bool
	// L1 is the already verified anchor of the rollup's settlement chain.
	// Required for rollups when RequireL1Inclusion is set.
	L1 *Anchor
}

// Verifier anchors one consensus family.
type Verifier interface {
	Verify(w *ChainWitness, opts Options) (*Anchor, error)
}

// NewVerifier returns the verifier for params' family.
func NewVerifier(params *chain.Params) (Verifier, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch params.Family {
	case chain.FamilyBeacon:
		return &BeaconVerifier{params: params}, nil
	case chain.FamilyOPStack:
		return &OPStackVerifier{params: params}, nil
	case chain.FamilyLinea:
		return &LineaVerifier{params: params}, nil
	}
	return nil, chain.ErrInvalidParams
}

// Verify is NewVerifier followed by Verify.
func Verify(params *chain.Params, w *ChainWitness, opts Options) (*Anchor, error) {
	v, err := NewVerifier(params)
	if err != nil {
		return nil, fail(params.ID, WitnessMalformed, err)
	}
	return v.Verify(w, opts)
}

// segment is the decoded read header and its links up to the tip.
type segment struct {
	read *types.Header
	tip  *types.Header
}

// decodeSegment decodes w's headers and checks that each link is the
// child of the previous header and that at least depth links follow the
// read header.
func decodeSegment(w *ChainWitness, params *chain.Params) (*segment, error) {
	if w.ChainID != params.ID {
		return nil, failf(params.ID, WitnessMalformed, "witness for chain %d", w.ChainID)
	}
	if n := w.variants(); n != 1 {
		return nil, failf(params.ID, WitnessMalformed, "%d consensus variants set", n)
	}
	read, err := decodeHeader(w.Header)
	if err != nil {
		return nil, fail(params.ID, WitnessMalformed, err)
	}
	if uint64(len(w.Links)) < params.ReorgDepth {
		return nil, failf(params.ID, ReorgDepth, "%d links, need %d", len(w.Links), params.ReorgDepth)
	}
	prev := read
	for i, raw := range w.Links {
		h, err := decodeHeader(raw)
		if err != nil {
			return nil, fail(params.ID, WitnessMalformed, err)
		}
		if h.ParentHash != prev.Hash() || h.Number.Uint64() != prev.Number.Uint64()+1 {
			return nil, failf(params.ID, ExecutionMismatch, "link %d does not extend block %d", i, prev.Number.Uint64())
		}
		prev = h
	}
	return &segment{read: read, tip: prev}, nil
}

func decodeHeader(raw []byte) (*types.Header, error) {
	h := new(types.Header)
	if err := rlp.DecodeBytes(raw, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *segment) anchor(params *chain.Params, trustRoot common.Hash, l1Included bool) *Anchor {
	return &Anchor{
		chainID:    params.ID,
		family:     params.Family,
		number:     s.read.Number.Uint64(),
		hash:       s.read.Hash(),
		stateRoot:  s.read.Root,
		timestamp:  s.read.Time,
		trustRoot:  trustRoot,
		l1Included: l1Included,
		verified:   true,
	}
}

func (w *ChainWitness) variants() int {
	n := 0
	if w.Beacon != nil {
		n++
	}
	if w.OPStack != nil {
		n++
	}
	if w.Linea != nil {
		n++
	}
	if w.Relay != nil {
		n++
	}
	return n
}
