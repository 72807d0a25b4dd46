// Package guest is the batch verification program. It runs inside the
// proving environment: single-threaded, no I/O, no clock. Given a request
// and its witness bundle it anchors every chain the request reads, reads
// each position through the authenticated state reader and returns the
// journal commitment, or fails the whole run.
package guest

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/journal"
	"github.com/eth2030/xproof/state"
)

// ProgramVersion changes whenever Run's semantics change.
const ProgramVersion = 1

// Program is the verification logic, parameterized by the chains it
// trusts and the market storage layout.
type Program struct {
	Registry *chain.Registry
	Layout   state.MarketLayout
}

// New returns a program over reg with the default market layout.
func New(reg *chain.Registry) *Program {
	return &Program{Registry: reg, Layout: state.DefaultMarketLayout}
}

// ImageID identifies the program: its version, its chain registry and its
// market layout. A seal is only valid for the image that produced it.
func (p *Program) ImageID() (common.Hash, error) {
	reg, err := p.Registry.Encode()
	if err != nil {
		return common.Hash{}, fmt.Errorf("guest: encode registry: %w", err)
	}
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, ProgramVersion)
	buf = binary.BigEndian.AppendUint64(buf, p.Layout.AmountInSlot)
	buf = binary.BigEndian.AppendUint64(buf, p.Layout.AmountOutSlot)
	return crypto.Keccak256Hash(buf, reg), nil
}

// Stats describe one run.
type Stats struct {
	// AnchorVerifications counts verifier invocations per chain. Every
	// chain is verified at most once per run.
	AnchorVerifications map[uint64]int
	Entries             int
	Positions           int
}

// run is the state of one execution.
type run struct {
	prog    *Program
	in      *Input
	opts    anchor.Options
	anchors map[uint64]*anchor.Anchor
	readers map[uint64]*state.Reader
	order   []*anchor.Anchor
	stats   *Stats
}

// Run verifies in and returns its commitment. Any failure discards the
// whole run; no partial commitment is ever returned.
func (p *Program) Run(in *Input) (*journal.Commitment, *Stats, error) {
	req := &in.Request
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if err := in.checkCanonical(); err != nil {
		return nil, nil, err
	}
	r := &run{
		prog:    p,
		in:      in,
		opts:    anchor.Options{RequireL1Inclusion: req.RequireL1Inclusion},
		anchors: make(map[uint64]*anchor.Anchor),
		readers: make(map[uint64]*state.Reader),
		stats:   &Stats{AnchorVerifications: make(map[uint64]int), Entries: len(req.Entries)},
	}

	// Settlement chains go first so rollup anchors can be proven against
	// them.
	if req.RequireL1Inclusion {
		for _, id := range req.SourceChains() {
			params, err := p.Registry.Lookup(id)
			if err != nil {
				return nil, r.stats, err
			}
			if _, err := r.anchor(params.L1ChainID); err != nil {
				return nil, r.stats, err
			}
		}
	}

	c := &journal.Commitment{Version: journal.Version, L1Inclusion: req.RequireL1Inclusion}
	for i := range req.Entries {
		e := &req.Entries[i]
		reader, err := r.reader(e.SourceChainID)
		if err != nil {
			return nil, r.stats, fmt.Errorf("guest: entry %d: %w", i, err)
		}
		ci, _ := in.Chain(e.SourceChainID)
		proof, ok := ci.Account(e.Market)
		if !ok {
			return nil, r.stats, fmt.Errorf("guest: entry %d: %w %s on chain %d", i, ErrMissingAccount, e.Market, e.SourceChainID)
		}
		for _, target := range e.Targets {
			pos, err := reader.ReadPosition(proof, p.Layout, e.User, target)
			if err != nil {
				return nil, r.stats, fmt.Errorf("guest: entry %d: %w", i, err)
			}
			c.Positions = append(c.Positions, journal.Position{
				User:          pos.User(),
				Market:        pos.Market(),
				AmountIn:      *pos.AmountIn(),
				AmountOut:     *pos.AmountOut(),
				ChainID:       pos.ChainID(),
				TargetChainID: pos.TargetChainID(),
				L1Inclusion:   pos.Anchor().L1Included(),
			})
		}
	}
	for _, a := range r.order {
		c.Anchors = append(c.Anchors, journal.Anchor{
			ChainID:     a.ChainID(),
			Family:      uint8(a.Family()),
			BlockNumber: a.BlockNumber(),
			BlockHash:   a.BlockHash(),
			StateRoot:   a.StateRoot(),
			TrustRoot:   a.TrustRoot(),
		})
	}
	r.stats.Positions = len(c.Positions)
	return c, r.stats, nil
}

// anchor returns the verified anchor of id, verifying it on first use.
func (r *run) anchor(id uint64) (*anchor.Anchor, error) {
	if a, ok := r.anchors[id]; ok {
		return a, nil
	}
	params, err := r.prog.Registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	ci, err := r.in.Chain(id)
	if err != nil {
		return nil, err
	}
	opts := r.opts
	if params.Family != chain.FamilyBeacon {
		opts.L1 = r.anchors[params.L1ChainID]
	}
	r.stats.AnchorVerifications[id]++
	a, err := anchor.Verify(params, &ci.Witness, opts)
	if err != nil {
		return nil, err
	}
	r.anchors[id] = a
	r.order = append(r.order, a)
	return a, nil
}

func (r *run) reader(id uint64) (*state.Reader, error) {
	if rd, ok := r.readers[id]; ok {
		return rd, nil
	}
	a, err := r.anchor(id)
	if err != nil {
		return nil, err
	}
	rd, err := state.NewReader(a)
	if err != nil {
		return nil, err
	}
	r.readers[id] = rd
	return rd, nil
}
