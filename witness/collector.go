// Package witness gathers, on the host, everything a guest run needs: the
// consensus material and linking headers of every chain a request touches
// and the storage proofs of every position it reads. Sources are fetched
// concurrently and joined into one immutable guest input.
//
// Nothing here is trusted by the guest. A lying source produces an input
// the guest rejects, never a wrong journal.
package witness

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/log"
	"github.com/eth2030/xproof/metrics"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/state"
	"github.com/eth2030/xproof/trie"
)

var (
	ErrNoSource          = errors.New("witness: no source configured for chain")
	ErrUnavailable       = errors.New("witness: source unavailable")
	ErrMalformedResponse = errors.New("witness: malformed source response")
	ErrNotSettled        = errors.New("witness: no settled L1 record")
	ErrHeadersChanged    = errors.New("witness: headers changed during collection")
)

// Sources are the endpoints of one chain. Execution is always required;
// Beacon and Checkpoint only for beacon chains, Sequencer only for
// OP-Stack chains. A beacon chain with relay params and no Beacon source
// is read through its relay chain's sources instead, which serves
// requests without L1 inclusion only.
type Sources struct {
	Execution  ExecutionClient
	Beacon     BeaconSource
	Checkpoint common.Hash
	Sequencer  SequencerSource
}

// Config configures a Collector.
type Config struct {
	Registry *chain.Registry
	// Layout locates position slots; nil means state.DefaultMarketLayout.
	Layout *state.MarketLayout
	Chains map[uint64]Sources
	// GameLookback bounds how many recent dispute games are scanned for a
	// settled one.
	GameLookback uint64
	// ProofConcurrency bounds parallel eth_getProof calls per chain.
	ProofConcurrency int
	Logger           *log.Logger
}

// Collector gathers guest inputs from live chains.
type Collector struct {
	cfg    Config
	layout state.MarketLayout
	log    *log.Logger
}

// NewCollector checks that every configured chain is registered and has
// the sources its family needs.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Registry == nil {
		return nil, errors.New("witness: no chain registry")
	}
	if cfg.GameLookback == 0 {
		cfg.GameLookback = 64
	}
	if cfg.ProofConcurrency <= 0 {
		cfg.ProofConcurrency = 8
	}
	for id, src := range cfg.Chains {
		p, err := cfg.Registry.Lookup(id)
		if err != nil {
			return nil, err
		}
		if err := src.check(p); err != nil {
			return nil, err
		}
	}
	layout := state.DefaultMarketLayout
	if cfg.Layout != nil {
		layout = *cfg.Layout
	}
	l := cfg.Logger
	if l == nil {
		l = log.Default()
	}
	return &Collector{cfg: cfg, layout: layout, log: l.Module("witness")}, nil
}

func (s *Sources) check(p *chain.Params) error {
	missing := ""
	switch {
	case s.Execution == nil:
		missing = "execution rpc"
	case p.Family == chain.FamilyBeacon && s.Beacon == nil && p.Relay == nil:
		missing = "beacon api"
	case p.Family == chain.FamilyBeacon && s.Beacon != nil && s.Checkpoint == (common.Hash{}):
		missing = "checkpoint root"
	case p.Family == chain.FamilyOPStack && s.Sequencer == nil:
		missing = "sequencer endpoint"
	default:
		return nil
	}
	return fmt.Errorf("%w %d: %s", ErrNoSource, p.ID, missing)
}

// settlement publishes the read header of a settlement chain to the
// rollup tasks waiting on it.
type settlement struct {
	once   sync.Once
	done   chan struct{}
	header *types.Header
	err    error
}

func newSettlement() *settlement { return &settlement{done: make(chan struct{})} }

func (s *settlement) resolve(h *types.Header, err error) {
	s.once.Do(func() {
		s.header, s.err = h, err
		close(s.done)
	})
}

func (s *settlement) wait(ctx context.Context) (*types.Header, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return s.header, s.err
	}
}

// Collect gathers the input for req: one task per chain, plus the
// settlement chain of every source when L1 inclusion is required. Rollup
// tasks that prove settlement wait for their L1 task's read header.
func (c *Collector) Collect(ctx context.Context, req *batch.Request) (*guest.Input, error) {
	plan, err := c.plan(req)
	if err != nil {
		return nil, err
	}
	settled := make(map[uint64]*settlement)
	for _, p := range plan {
		if p.Family == chain.FamilyBeacon {
			settled[p.ID] = newSettlement()
		}
	}

	chains := make([]guest.ChainInput, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range plan {
		g.Go(func() error {
			t := metrics.NewTimer(metrics.WitnessFetchTime)
			ci, err := c.collectChain(gctx, req, p, settled)
			elapsed := t.Stop()
			if err != nil {
				metrics.WitnessFetchErrors.Inc()
				return fmt.Errorf("witness: chain %d: %w", p.ID, err)
			}
			c.log.Debug("chain witness ready", "chain", p.ID, "block", ci.read, "accounts", len(ci.Accounts), "elapsed", elapsed)
			chains[i] = ci.ChainInput
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("witness collection failed", "err", err)
		return nil, err
	}
	return guest.NewInput(req, chains), nil
}

// plan lists the chains req needs, sources first in request order.
func (c *Collector) plan(req *batch.Request) ([]*chain.Params, error) {
	var (
		plan []*chain.Params
		seen = make(map[uint64]bool)
	)
	add := func(id uint64) error {
		if seen[id] {
			return nil
		}
		p, err := c.cfg.Registry.Lookup(id)
		if err != nil {
			return err
		}
		if _, ok := c.cfg.Chains[id]; !ok {
			return fmt.Errorf("%w %d", ErrNoSource, id)
		}
		seen[id] = true
		plan = append(plan, p)
		return nil
	}
	for _, id := range req.SourceChains() {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	if req.RequireL1Inclusion {
		for _, p := range append([]*chain.Params(nil), plan...) {
			if err := add(p.L1ChainID); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

type chainResult struct {
	guest.ChainInput
	read uint64
}

func (c *Collector) collectChain(ctx context.Context, req *batch.Request, p *chain.Params, settled map[uint64]*settlement) (*chainResult, error) {
	src := c.cfg.Chains[p.ID]
	var (
		w   *anchor.ChainWitness
		seg *segment
		err error
	)
	switch p.Family {
	case chain.FamilyBeacon:
		s := settled[p.ID]
		if src.Beacon == nil {
			w, seg, err = c.relayed(ctx, req.RequireL1Inclusion, p, src, s)
		} else {
			w, seg, err = c.beacon(ctx, p, src, s)
		}
		if err != nil {
			s.resolve(nil, fmt.Errorf("settlement chain %d: %w", p.ID, err))
		}
	case chain.FamilyOPStack:
		w, seg, err = c.opstack(ctx, req.RequireL1Inclusion, p, src, settled)
	case chain.FamilyLinea:
		w, seg, err = c.linea(ctx, req.RequireL1Inclusion, p, src, settled)
	default:
		err = fmt.Errorf("%w: %v", chain.ErrInvalidParams, p.Family)
	}
	if err != nil {
		return nil, err
	}
	accounts, err := c.accounts(ctx, src.Execution, req, p.ID, seg.read.Number)
	if err != nil {
		return nil, err
	}
	return &chainResult{
		ChainInput: guest.ChainInput{Witness: *w, Accounts: accounts},
		read:       seg.read.Number.Uint64(),
	}, nil
}

// beacon follows the light client from the configured checkpoint to the
// latest finality update and reads the finalized execution block.
func (c *Collector) beacon(ctx context.Context, p *chain.Params, src Sources, s *settlement) (*anchor.ChainWitness, *segment, error) {
	boot, err := src.Beacon.Bootstrap(ctx, src.Checkpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	fin, err := src.Beacon.FinalityUpdate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("finality update: %w", err)
	}
	start := light.SyncCommitteePeriod(boot.Header.Beacon.Slot)
	end := light.SyncCommitteePeriod(fin.SignatureSlot)
	var updates []light.Update
	if end > start {
		if updates, err = src.Beacon.Updates(ctx, start, end-start); err != nil {
			return nil, nil, fmt.Errorf("updates: %w", err)
		}
	}
	updates = append(updates, *fin)

	seg, err := c.segment(ctx, src.Execution, p, fin.FinalizedHeader.Execution.BlockNumber)
	if err != nil {
		return nil, nil, err
	}
	s.resolve(seg.read, nil)

	w := seg.witness(p.ID)
	w.Beacon = &anchor.BeaconWitness{CheckpointRoot: src.Checkpoint, Bootstrap: *boot, Updates: updates}
	return w, seg, nil
}

// relayed reads the L1 block that the relay chain's L1Block predeploy
// records at the relay sequencer's latest commitment.
func (c *Collector) relayed(ctx context.Context, inclusion bool, p *chain.Params, src Sources, s *settlement) (*anchor.ChainWitness, *segment, error) {
	if inclusion {
		return nil, nil, fmt.Errorf("%w %d: beacon api, relayed anchors cannot prove L1 inclusion", ErrNoSource, p.ID)
	}
	r := p.Relay
	rsrc, ok := c.cfg.Chains[r.ChainID]
	if !ok || rsrc.Sequencer == nil {
		return nil, nil, fmt.Errorf("%w %d: relay chain %d", ErrNoSource, p.ID, r.ChainID)
	}
	raw, err := rsrc.Sequencer.LatestCommitment(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("relay commitment: %w", err)
	}
	cm, err := rollup.DecodeCommitment(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	at := new(big.Int).SetUint64(cm.BlockNumber)
	rh, err := rsrc.Execution.HeaderByNumber(ctx, at)
	if err != nil {
		return nil, nil, fmt.Errorf("relay header %d: %w", cm.BlockNumber, err)
	}
	if rh.Hash() != cm.BlockHash {
		return nil, nil, fmt.Errorf("%w: relay block %d is %s, commitment says %s", ErrHeadersChanged, cm.BlockNumber, rh.Hash(), cm.BlockHash)
	}
	proof, err := rsrc.Execution.Proof(ctx, r.L1Block, []common.Hash{trie.Slot(r.NumberSlot), trie.Slot(r.HashSlot)}, at)
	if err != nil {
		return nil, nil, fmt.Errorf("L1Block proof: %w", err)
	}
	if len(proof.Storage) != 2 || proof.Storage[0].Value == nil || proof.Storage[1].Value == nil {
		return nil, nil, fmt.Errorf("%w: L1Block proof has %d slots", ErrMalformedResponse, len(proof.Storage))
	}
	// The guest re-proves both values; here they only pick the segment.
	number := proof.Storage[0].Value.Uint64()
	hash := common.Hash(proof.Storage[1].Value.Bytes32())

	seg, err := c.segment(ctx, src.Execution, p, number)
	if err != nil {
		return nil, nil, err
	}
	if seg.tip.Hash() != hash {
		return nil, nil, fmt.Errorf("%w: L1 block %d is %s, relay records %s", ErrHeadersChanged, number, seg.tip.Hash(), hash)
	}
	enc, err := rlp.EncodeToBytes(rh)
	if err != nil {
		return nil, nil, err
	}
	s.resolve(seg.read, nil)
	c.log.Debug("L1 relayed", "chain", p.ID, "relay", r.ChainID, "relay_block", cm.BlockNumber, "l1_block", number)

	w := seg.witness(p.ID)
	w.Relay = &anchor.RelayWitness{Commitment: raw, Header: enc, L1Block: *proof}
	return w, seg, nil
}

// opstack reads the sequencer's latest commitment. With L1 inclusion the
// segment ends at the newest block a final dispute game vouches for,
// otherwise at the committed block.
func (c *Collector) opstack(ctx context.Context, inclusion bool, p *chain.Params, src Sources, settled map[uint64]*settlement) (*anchor.ChainWitness, *segment, error) {
	raw, err := src.Sequencer.LatestCommitment(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sequencer commitment: %w", err)
	}
	cm, err := rollup.DecodeCommitment(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !inclusion {
		seg, err := c.segment(ctx, src.Execution, p, cm.BlockNumber)
		if err != nil {
			return nil, nil, err
		}
		w := seg.witness(p.ID)
		w.OPStack = &anchor.OPStackWitness{Commitment: raw}
		return w, seg, nil
	}

	at, l1, err := c.settlement(ctx, p, settled)
	if err != nil {
		return nil, nil, err
	}
	game, err := c.findGame(ctx, l1, p.OPStack, at)
	if err != nil {
		return nil, nil, err
	}
	if game.L2Block > cm.BlockNumber {
		return nil, nil, fmt.Errorf("%w: settled block %d ahead of sequencer commitment %d", ErrNotSettled, game.L2Block, cm.BlockNumber)
	}
	c.log.Debug("dispute game found", "chain", p.ID, "game", game.Proxy, "l2", game.L2Block, "resolved", game.State.ResolvedAt)

	seg, err := c.segment(ctx, src.Execution, p, game.L2Block)
	if err != nil {
		return nil, nil, err
	}
	op := p.OPStack
	mp, err := src.Execution.Proof(ctx, op.MessagePasser, nil, seg.tip.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("message passer proof: %w", err)
	}
	output := rollup.OutputRoot(seg.tip.Root, mp.StorageHash, seg.tip.Hash())
	uuid, err := rollup.GameUUID(op.GameType, output, game.L2Block)
	if err != nil {
		return nil, nil, err
	}
	factory, err := l1.Proof(ctx, op.DisputeGameFactory, []common.Hash{rollup.GameSlot(op.DisputeGamesSlot, uuid)}, at.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("factory proof: %w", err)
	}
	gp, err := l1.Proof(ctx, game.Proxy, []common.Hash{trie.Slot(rollup.GameStatusSlot)}, at.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("game proof: %w", err)
	}

	w := seg.witness(p.ID)
	w.OPStack = &anchor.OPStackWitness{
		Commitment: raw,
		Game:       &anchor.GameWitness{MessagePasser: *mp, Factory: *factory, Game: *gp},
	}
	return w, seg, nil
}

// linea reads up to the latest block, or with L1 inclusion up to the
// block the rollup contract reports finalized at the L1 read block.
func (c *Collector) linea(ctx context.Context, inclusion bool, p *chain.Params, src Sources, settled map[uint64]*settlement) (*anchor.ChainWitness, *segment, error) {
	if !inclusion {
		head, err := src.Execution.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("latest header: %w", err)
		}
		seg, err := c.segment(ctx, src.Execution, p, head.Number.Uint64())
		if err != nil {
			return nil, nil, err
		}
		w := seg.witness(p.ID)
		w.Linea = &anchor.LineaWitness{}
		return w, seg, nil
	}

	at, l1, err := c.settlement(ctx, p, settled)
	if err != nil {
		return nil, nil, err
	}
	slot := trie.Slot(p.Linea.CurrentL2BlockSlot)
	word, err := l1.StorageAt(ctx, p.Linea.RollupContract, slot, at.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("finalized block: %w", err)
	}
	fin := new(uint256.Int).SetBytes(word)
	if !fin.IsUint64() || fin.IsZero() {
		return nil, nil, fmt.Errorf("%w: rollup reports finalized block %s", ErrNotSettled, fin)
	}
	seg, err := c.segment(ctx, src.Execution, p, fin.Uint64())
	if err != nil {
		return nil, nil, err
	}
	proof, err := l1.Proof(ctx, p.Linea.RollupContract, []common.Hash{slot}, at.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("rollup proof: %w", err)
	}
	w := seg.witness(p.ID)
	w.Linea = &anchor.LineaWitness{Rollup: proof}
	return w, seg, nil
}

// settlement waits for the read header of p's settlement chain.
func (c *Collector) settlement(ctx context.Context, p *chain.Params, settled map[uint64]*settlement) (*types.Header, ExecutionClient, error) {
	s, ok := settled[p.L1ChainID]
	if !ok {
		return nil, nil, fmt.Errorf("%w %d", ErrNoSource, p.L1ChainID)
	}
	at, err := s.wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	return at, c.cfg.Chains[p.L1ChainID].Execution, nil
}

// segment is a read header and the links up to a tip, RLP encoded.
type segment struct {
	read, tip *types.Header
	enc       [][]byte
}

func (s *segment) witness(id uint64) *anchor.ChainWitness {
	return &anchor.ChainWitness{ChainID: id, Header: s.enc[0], Links: s.enc[1:]}
}

// segment fetches the headers from tip minus the chain's reorg depth up
// to tip and checks they still link.
func (c *Collector) segment(ctx context.Context, ec ExecutionClient, p *chain.Params, tip uint64) (*segment, error) {
	if tip < p.ReorgDepth {
		return nil, fmt.Errorf("%w: tip %d below reorg depth %d", ErrMalformedResponse, tip, p.ReorgDepth)
	}
	first := tip - p.ReorgDepth
	headers := make([]*types.Header, p.ReorgDepth+1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range headers {
		g.Go(func() error {
			n := first + uint64(i)
			h, err := ec.HeaderByNumber(gctx, new(big.Int).SetUint64(n))
			if err != nil {
				return fmt.Errorf("header %d: %w", n, err)
			}
			if h.Number.Uint64() != n {
				return fmt.Errorf("%w: asked header %d, got %d", ErrMalformedResponse, n, h.Number.Uint64())
			}
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seg := &segment{read: headers[0], tip: headers[len(headers)-1], enc: make([][]byte, len(headers))}
	for i, h := range headers {
		if i > 0 && h.ParentHash != headers[i-1].Hash() {
			return nil, fmt.Errorf("%w: block %d does not extend %d", ErrHeadersChanged, h.Number.Uint64(), first+uint64(i)-1)
		}
		enc, err := rlp.EncodeToBytes(h)
		if err != nil {
			return nil, err
		}
		seg.enc[i] = enc
	}
	return seg, nil
}

// accounts proves every market req reads on chain id, each with the
// accumulator slots of its entries in request order.
func (c *Collector) accounts(ctx context.Context, ec ExecutionClient, req *batch.Request, id uint64, number *big.Int) ([]trie.AccountProof, error) {
	markets := req.Markets(id)
	if len(markets) == 0 {
		return nil, nil
	}
	out := make([]trie.AccountProof, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ProofConcurrency)
	for i, m := range markets {
		var slots []common.Hash
		for _, e := range req.Entries {
			if e.SourceChainID != id || e.Market != m {
				continue
			}
			for _, t := range e.Targets {
				in, o := c.layout.Slots(e.User, t)
				slots = append(slots, in, o)
			}
		}
		g.Go(func() error {
			p, err := ec.Proof(gctx, m, slots, number)
			if err != nil {
				return fmt.Errorf("proof of %s: %w", m, err)
			}
			out[i] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
