package witness

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/anchor/anchortest"
	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/guest/guesttest"
	"github.com/eth2030/xproof/log"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func entry(user common.Address, source uint64, targets ...uint64) batch.Entry {
	return batch.Entry{User: user, Market: guesttest.Market, Targets: targets, SourceChainID: source}
}

// env is a scenario served by fake nodes, with the input the scenario
// builds directly as the expected result.
type env struct {
	scenario *guesttest.Scenario
	want     *guest.Input
	chains   map[uint64]*fakeChain
	cfg      Config
}

func newEnv(t *testing.T, req *batch.Request) *env {
	t.Helper()
	s := guesttest.New().
		SetPosition(anchortest.L1, alice, anchortest.OP, 100, 10).
		SetPosition(anchortest.OP, alice, anchortest.Linea, 300, 30).
		SetPosition(anchortest.OP, bob, anchortest.L1, 7, 0).
		SetPosition(anchortest.Linea, bob, anchortest.OP, 50, 5)
	e := &env{
		scenario: s,
		want:     s.Input(req),
		chains:   make(map[uint64]*fakeChain),
		cfg: Config{
			Registry: s.Fixture.Registry,
			Chains:   make(map[uint64]Sources),
			Logger:   log.Discard(),
		},
	}
	var opTip uint64
	for i := range e.want.Chains {
		w := &e.want.Chains[i].Witness
		fc := newFakeChain(t, w, s.States[w.ChainID])
		e.chains[w.ChainID] = fc
		src := Sources{Execution: fc.client(t)}
		switch {
		case w.Beacon != nil:
			src.Beacon = NewBeaconClient(newFakeBeacon(t, w.Beacon).URL+"/", nil)
			src.Checkpoint = w.Beacon.CheckpointRoot
		case w.OPStack != nil:
			src.Sequencer = NewSequencerClient(newFakeSequencer(t, w.OPStack.Commitment).URL, nil)
			opTip = fc.latest
		}
		e.cfg.Chains[w.ChainID] = src
	}
	if l1, ok := e.chains[anchortest.L1]; ok && opTip != 0 {
		l1.factory = anchortest.DisputeGameFactory
		l1.games = []fakeGame{
			{gameType: 0, created: 1, proxy: anchortest.GameProxy, l2Block: opTip},
			// Newer games the collector must pass over: one still in
			// progress, one of another type.
			{gameType: 0, created: 2, proxy: common.HexToAddress("0xdead"), l2Block: opTip + 10},
			{gameType: 1, created: 3, proxy: common.HexToAddress("0xbeef"), l2Block: opTip + 20},
		}
	}
	return e
}

func (e *env) collector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(e.cfg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c
}

func encode(t *testing.T, in *guest.Input) []byte {
	t.Helper()
	b, err := guest.EncodeInput(in)
	if err != nil {
		t.Fatalf("EncodeInput: %v", err)
	}
	return b
}

func inclusionRequest() *batch.Request {
	return &batch.Request{
		Entries: []batch.Entry{
			entry(alice, anchortest.OP, anchortest.Linea),
			entry(bob, anchortest.Linea, anchortest.OP),
			entry(alice, anchortest.L1, anchortest.OP),
			entry(bob, anchortest.OP, anchortest.L1),
		},
		RequireL1Inclusion: true,
		Submitter:          batch.SubmitterSelf,
	}
}

func TestCollect_Inclusion(t *testing.T) {
	req := inclusionRequest()
	e := newEnv(t, req)
	got, err := e.collector(t).Collect(context.Background(), req)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !bytes.Equal(encode(t, got), encode(t, e.want)) {
		t.Fatal("collected input differs from the fixture input")
	}

	c, stats, err := e.scenario.Program.Run(got)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.Positions) != 4 || stats.AnchorVerifications[anchortest.L1] != 1 {
		t.Fatalf("positions = %d, L1 verifications = %d", len(c.Positions), stats.AnchorVerifications[anchortest.L1])
	}
	if got := c.Positions[1].AmountIn.Uint64(); got != 50 {
		t.Fatalf("bob on linea: amount in = %d, want 50", got)
	}
	// One proof per market per chain, plus the settlement proofs on L1.
	if n := e.chains[anchortest.OP].proofs; n != 2 {
		t.Fatalf("op proofs = %d, want 2", n)
	}
	if n := e.chains[anchortest.L1].proofs; n != 4 {
		t.Fatalf("l1 proofs = %d, want 4", n)
	}
}

func TestCollect_WithoutInclusion(t *testing.T) {
	req := &batch.Request{
		Entries: []batch.Entry{
			entry(alice, anchortest.OP, anchortest.Linea),
			entry(bob, anchortest.Linea, anchortest.OP),
		},
		Submitter: batch.SubmitterSequencer,
	}
	e := newEnv(t, req)
	got, err := e.collector(t).Collect(context.Background(), req)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got.Chains) != 2 {
		t.Fatalf("chains = %d, want 2", len(got.Chains))
	}
	if !bytes.Equal(encode(t, got), encode(t, e.want)) {
		t.Fatal("collected input differs from the fixture input")
	}
	if _, _, err := e.scenario.Program.Run(got); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCollect_NoSettledGame(t *testing.T) {
	req := inclusionRequest()
	e := newEnv(t, req)
	e.chains[anchortest.L1].games = e.chains[anchortest.L1].games[1:]
	_, err := e.collector(t).Collect(context.Background(), req)
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("err = %v, want %v", err, ErrNotSettled)
	}
}

func TestCollect_Lookback(t *testing.T) {
	req := inclusionRequest()
	e := newEnv(t, req)
	e.cfg.GameLookback = 2
	if _, err := e.collector(t).Collect(context.Background(), req); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("err = %v, want %v", err, ErrNotSettled)
	}
}

func TestCollect_HeadersChanged(t *testing.T) {
	req := &batch.Request{
		Entries:   []batch.Entry{entry(bob, anchortest.Linea, anchortest.OP)},
		Submitter: batch.SubmitterSequencer,
	}
	e := newEnv(t, req)
	fc := e.chains[anchortest.Linea]
	reorged := *fc.headers[guesttest.LineaBlock+1]
	reorged.ParentHash = common.Hash{0x0f}
	fc.headers[guesttest.LineaBlock+1] = &reorged

	if _, err := e.collector(t).Collect(context.Background(), req); !errors.Is(err, ErrHeadersChanged) {
		t.Fatalf("err = %v, want %v", err, ErrHeadersChanged)
	}
}

func TestCollect_SettlementFailure(t *testing.T) {
	req := inclusionRequest()
	e := newEnv(t, req)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "syncing", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	src := e.cfg.Chains[anchortest.L1]
	src.Beacon = NewBeaconClient(down.URL, nil)
	e.cfg.Chains[anchortest.L1] = src

	done := make(chan error, 1)
	go func() {
		_, err := e.collector(t).Collect(context.Background(), req)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v, want %v", err, ErrUnavailable)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("rollup tasks still waiting on a failed settlement chain")
	}
}

func TestCollect_Sources(t *testing.T) {
	req := inclusionRequest()
	e := newEnv(t, req)
	delete(e.cfg.Chains, anchortest.L1)
	if _, err := e.collector(t).Collect(context.Background(), req); !errors.Is(err, ErrNoSource) {
		t.Fatalf("missing settlement chain: err = %v, want %v", err, ErrNoSource)
	}

	unknown := &batch.Request{Entries: []batch.Entry{entry(alice, 777, anchortest.OP)}}
	if _, err := e.collector(t).Collect(context.Background(), unknown); !errors.Is(err, chain.ErrUnknownChain) {
		t.Fatalf("unknown chain: err = %v, want %v", err, chain.ErrUnknownChain)
	}
}

// relayEnv serves a request read on L1 with the L1 relayed through the OP
// chain: no beacon source, and an OP node holding the relay block.
func relayEnv(t *testing.T, req *batch.Request) *env {
	t.Helper()
	s := guesttest.New().SetPosition(anchortest.L1, alice, anchortest.OP, 100, 10)
	s.Relay = true
	e := &env{
		scenario: s,
		want:     s.Input(req),
		chains:   make(map[uint64]*fakeChain),
		cfg: Config{
			Registry: s.Fixture.Registry,
			Chains:   make(map[uint64]Sources),
			Logger:   log.Discard(),
		},
	}
	w := &e.want.Chains[0].Witness
	if w.Relay == nil {
		t.Fatal("fixture input is not relayed")
	}
	l1 := newFakeChain(t, w, s.States[anchortest.L1])
	op := newFakeChain(t, &anchor.ChainWitness{Header: w.Relay.Header}, s.States[anchortest.OP])
	e.chains[anchortest.L1], e.chains[anchortest.OP] = l1, op
	e.cfg.Chains[anchortest.L1] = Sources{Execution: l1.client(t)}
	e.cfg.Chains[anchortest.OP] = Sources{
		Execution: op.client(t),
		Sequencer: NewSequencerClient(newFakeSequencer(t, w.Relay.Commitment).URL, nil),
	}
	return e
}

func TestCollect_RelayedL1(t *testing.T) {
	req := &batch.Request{
		Entries:   []batch.Entry{entry(alice, anchortest.L1, anchortest.OP)},
		Submitter: batch.SubmitterSequencer,
	}
	e := relayEnv(t, req)
	got, err := e.collector(t).Collect(context.Background(), req)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !bytes.Equal(encode(t, got), encode(t, e.want)) {
		t.Fatal("collected input differs from the fixture input")
	}
	c, _, err := e.scenario.Program.Run(got)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.Positions[0].AmountIn.Uint64() != 100 {
		t.Fatalf("amount in = %s, want 100", &c.Positions[0].AmountIn)
	}
	if n := e.chains[anchortest.OP].proofs; n != 1 {
		t.Fatalf("op proofs = %d, want 1", n)
	}

	// Without a beacon source the L1 cannot settle rollups.
	incl := &batch.Request{Entries: req.Entries, RequireL1Inclusion: true}
	if _, err := e.collector(t).Collect(context.Background(), incl); !errors.Is(err, ErrNoSource) {
		t.Fatalf("inclusion: err = %v, want %v", err, ErrNoSource)
	}

	delete(e.cfg.Chains, anchortest.OP)
	if _, err := e.collector(t).Collect(context.Background(), req); !errors.Is(err, ErrNoSource) {
		t.Fatalf("no relay chain: err = %v, want %v", err, ErrNoSource)
	}
}

func TestCollect_RelayedL1Moved(t *testing.T) {
	req := &batch.Request{
		Entries:   []batch.Entry{entry(alice, anchortest.L1, anchortest.OP)},
		Submitter: batch.SubmitterSequencer,
	}
	e := relayEnv(t, req)
	fc := e.chains[anchortest.L1]
	tip := guesttest.L1Block + guesttest.Links
	moved := *fc.headers[uint64(tip)]
	moved.Extra = []byte("reorged")
	moved.ParentHash = fc.headers[uint64(tip-1)].Hash()
	fc.headers[uint64(tip)] = &moved

	if _, err := e.collector(t).Collect(context.Background(), req); !errors.Is(err, ErrHeadersChanged) {
		t.Fatalf("err = %v, want %v", err, ErrHeadersChanged)
	}
}

func TestNewCollector(t *testing.T) {
	reg := anchortest.New(0).Registry
	fc := &fakeChain{}
	exec := fc.client(t)

	tests := []struct {
		name   string
		chains map[uint64]Sources
		want   error
	}{
		{"complete", map[uint64]Sources{anchortest.Linea: {Execution: exec}}, nil},
		{"no execution", map[uint64]Sources{anchortest.Linea: {}}, ErrNoSource},
		{"no sequencer", map[uint64]Sources{anchortest.OP: {Execution: exec}}, ErrNoSource},
		{"no checkpoint", map[uint64]Sources{anchortest.L1: {Execution: exec, Beacon: NewBeaconClient("http://beacon", nil)}}, ErrNoSource},
		{"relayed l1", map[uint64]Sources{anchortest.L1: {Execution: exec}}, nil},
		{"unregistered", map[uint64]Sources{5: {Execution: exec}}, chain.ErrUnknownChain},
	}
	for _, tt := range tests {
		_, err := NewCollector(Config{Registry: reg, Chains: tt.chains})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, err := NewCollector(Config{}); err == nil {
		t.Error("collector without registry accepted")
	}
}

func TestSequencerClient(t *testing.T) {
	tests := []struct {
		name string
		body any
		want error
	}{
		{"server error", nil, ErrUnavailable},
		{"short signature", CommitmentJSON{Data: []byte{0x00}, Signature: make([]byte, 64)}, ErrMalformedResponse},
		{"bad snappy", CommitmentJSON{Data: []byte{0xff, 0xff}, Signature: make([]byte, 65)}, ErrMalformedResponse},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if tt.body == nil {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			reply(w, tt.body)
		}))
		_, err := NewSequencerClient(srv.URL, nil).LatestCommitment(context.Background())
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestBeaconClient_FinalityUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		u := updateJSON{
			SyncAggregate: syncAggregateJSON{Bits: make([]byte, 64), Signature: make([]byte, 96)},
			AttestedHeader: lightHeaderJSON{
				Execution: executionJSON{LogsBloom: make([]byte, 256), BaseFeePerGas: "7"},
			},
		}
		reply(w, envelope[updateJSON]{Data: u})
	}))
	defer srv.Close()

	_, err := NewBeaconClient(srv.URL, nil).FinalityUpdate(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want %v", err, ErrMalformedResponse)
	}
}

func TestConvertProof(t *testing.T) {
	e := newEnv(t, &batch.Request{Entries: []batch.Entry{entry(alice, anchortest.L1, anchortest.OP)}})
	l1 := e.cfg.Chains[anchortest.L1].Execution

	slot := common.Hash{0x01}
	p, err := l1.Proof(context.Background(), guesttest.Market, []common.Hash{slot}, big.NewInt(guesttest.L1Block))
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if len(p.Storage) != 1 || p.Storage[0].Key != slot || !p.Storage[0].Value.IsZero() {
		t.Fatalf("storage = %+v", p.Storage)
	}
	want := e.scenario.States[anchortest.L1].Prove(guesttest.Market, slot)
	if p.StorageHash != want.StorageHash || len(p.Proof) != len(want.Proof) {
		t.Fatalf("account proof differs: hash %s, want %s", p.StorageHash, want.StorageHash)
	}
}
