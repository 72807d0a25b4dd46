package anchor_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/anchor/anchortest"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
	"github.com/eth2030/xproof/trie/trietest"
)

var market = common.HexToAddress("0x00000000000000000000000000000000004d4b54")

func l2State() *trietest.State {
	st := trietest.NewState().
		SetCode(market, []byte{0x01}).
		SetStorage(market, trie.Slot(7), uint256.NewInt(11))
	anchortest.PrepareOP(st)
	return st
}

func expectKind(t *testing.T, err error, kind anchor.Kind) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("err = %v, want %v", err, kind)
	}
	var ae *anchor.Error
	if !errors.As(err, &ae) {
		t.Fatalf("err %T is not *anchor.Error", err)
	}
}

func verifyL1(t *testing.T, f *anchortest.Fixture, l1 *trietest.State) *anchor.Anchor {
	t.Helper()
	b := f.Blocks(anchortest.L1, l1, 1000, 2)
	a, err := anchor.Verify(f.Params(anchortest.L1), f.BeaconWitness(b), anchor.Options{})
	if err != nil {
		t.Fatalf("verify L1: %v", err)
	}
	return a
}

func TestBeacon_Verify(t *testing.T) {
	f := anchortest.New(2)
	st := l2State()
	b := f.Blocks(anchortest.L1, st, 1000, 2)
	w := f.BeaconWitness(b)

	a, err := anchor.Verify(f.Params(anchortest.L1), w, anchor.Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !a.Verified() {
		t.Fatal("anchor not verified")
	}
	if a.BlockNumber() != 1000 || a.StateRoot() != st.Root() || a.BlockHash() != b.Read.Hash() {
		t.Fatalf("anchor = %v root %s, want block 1000 root %s", a, a.StateRoot(), st.Root())
	}
	if a.TrustRoot() != w.Beacon.CheckpointRoot {
		t.Fatalf("trust root = %s, want checkpoint %s", a.TrustRoot(), w.Beacon.CheckpointRoot)
	}
	if !a.L1Included() {
		t.Fatal("L1 anchor does not report inclusion")
	}
}

func TestBeacon_Failures(t *testing.T) {
	f := anchortest.New(2)
	st := l2State()
	params := f.Params(anchortest.L1)
	b := f.Blocks(anchortest.L1, st, 1000, 2)

	w := f.BeaconWitness(b)
	w.Links = w.Links[:1]
	_, err := anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.ReorgDepth)

	w = f.BeaconWitness(b)
	w.Links[0], w.Links[1] = w.Links[1], w.Links[0]
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.ExecutionMismatch)

	// Light client finalizes a different execution block.
	other := f.Blocks(anchortest.L1, st, 2000, 2)
	w = f.BeaconWitness(other)
	w.Header, w.Links = b.Witness().Header, b.Witness().Links
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.ExecutionMismatch)

	w = f.BeaconWitness(b)
	w.Beacon.Updates[0].SyncAggregate.Signature = [96]byte{0xc0}
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.SignatureInvalid)

	w = f.BeaconWitness(b)
	w.Beacon.CheckpointRoot = common.Hash{0x01}
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.WitnessMalformed)

	// Replaying the same update twice is stale.
	w = f.BeaconWitness(b)
	w.Beacon.Updates = append(w.Beacon.Updates, w.Beacon.Updates[0])
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.StaleUpdate)

	w = f.BeaconWitness(b)
	w.ChainID = anchortest.OP
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.WitnessMalformed)
}

func TestOPStack_Sequencer(t *testing.T) {
	f := anchortest.New(2)
	st := l2State()
	params := f.Params(anchortest.OP)
	b := f.Blocks(anchortest.OP, st, 500, 2)

	a, err := anchor.Verify(params, f.OPWitness(b, nil), anchor.Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if a.BlockNumber() != 500 || a.L1Included() {
		t.Fatalf("anchor = %v included=%v", a, a.L1Included())
	}
	if want := common.BytesToHash(params.Sequencer.Bytes()); a.TrustRoot() != want {
		t.Fatalf("trust root = %s, want sequencer %s", a.TrustRoot(), want)
	}

	// Commitment signed by someone else.
	key, _ := crypto.GenerateKey()
	w := f.OPWitness(b, nil)
	tip := b.Tip()
	w.OPStack.Commitment, _ = rollup.EncodeCommitment(anchortest.OP, &rollup.Payload{
		StateRoot: tip.Root, BlockNumber: tip.Number.Uint64(), BlockHash: tip.Hash(),
	}, key)
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.SequencerSigInvalid)

	// Commitment for a different block than the tip.
	w = f.OPWitness(f.Blocks(anchortest.OP, st, 600, 2), nil)
	w.Header, w.Links = b.Witness().Header, b.Witness().Links
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.ExecutionMismatch)

	w = f.OPWitness(b, nil)
	w.OPStack.Commitment = []byte{0x00}
	_, err = anchor.Verify(params, w, anchor.Options{})
	expectKind(t, err, anchor.WitnessMalformed)
}

func TestOPStack_L1Inclusion(t *testing.T) {
	f := anchortest.New(2)
	params := f.Params(anchortest.OP)
	l2 := l2State()
	b := f.Blocks(anchortest.OP, l2, 500, 2)

	settle := func(resolvedAt uint64, challenged bool) (*anchor.Anchor, *anchor.GameWitness) {
		l1 := trietest.NewState()
		f.SettleOP(l1, l2, b, rollup.GameState{
			CreatedAt:               resolvedAt - 3600,
			ResolvedAt:              resolvedAt,
			Status:                  rollup.GameDefenderWins,
			Initialized:             true,
			L2BlockNumberChallenged: challenged,
		})
		return verifyL1(t, f, l1), f.GameWitness(l1, l2, b)
	}

	l1a, game := settle(anchortest.ResolvedAt(1000), false)
	a, err := anchor.Verify(params, f.OPWitness(b, game), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !a.L1Included() || a.TrustRoot() != l1a.BlockHash() {
		t.Fatalf("included=%v trust root %s, want L1 block %s", a.L1Included(), a.TrustRoot(), l1a.BlockHash())
	}

	l1a, game = settle(anchortest.ResolvedAt(1000)+1, false)
	_, err = anchor.Verify(params, f.OPWitness(b, game), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.DisputeGameUnresolved)

	l1a, game = settle(anchortest.ResolvedAt(1000), true)
	_, err = anchor.Verify(params, f.OPWitness(b, game), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.DisputeGameUnresolved)

	l1a, _ = settle(anchortest.ResolvedAt(1000), false)
	_, err = anchor.Verify(params, f.OPWitness(b, nil), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.L1InclusionMissing)

	_, err = anchor.Verify(params, f.OPWitness(b, game), anchor.Options{RequireL1Inclusion: true})
	expectKind(t, err, anchor.L1InclusionMissing)

	_, err = anchor.Verify(params, f.OPWitness(b, game), anchor.Options{RequireL1Inclusion: true, L1: &anchor.Anchor{}})
	expectKind(t, err, anchor.L1InclusionMissing)

	// The game settled block 500's output, not block 501's.
	other := f.Blocks(anchortest.OP, l2, 501, 2)
	l1 := trietest.NewState()
	f.SettleOP(l1, l2, b, rollup.GameState{ResolvedAt: anchortest.ResolvedAt(1000), Status: rollup.GameDefenderWins})
	l1a = verifyL1(t, f, l1)
	_, err = anchor.Verify(params, f.OPWitness(other, f.GameWitness(l1, l2, other)), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.L1InclusionMissing)
}

func TestLinea(t *testing.T) {
	f := anchortest.New(2)
	params := f.Params(anchortest.Linea)
	l2 := l2State()
	b := f.Blocks(anchortest.Linea, l2, 700, 2)

	a, err := anchor.Verify(params, f.LineaWitness(b, nil), anchor.Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if a.BlockNumber() != 700 || a.StateRoot() != l2.Root() {
		t.Fatalf("anchor = %v", a)
	}

	// Resealed by another key.
	key, _ := crypto.GenerateKey()
	tip := b.Tip()
	tip.Extra = tip.Extra[:32]
	if err := rollup.SealHeader(tip, key); err != nil {
		t.Fatalf("SealHeader: %v", err)
	}
	_, err = anchor.Verify(params, f.LineaWitness(b, nil), anchor.Options{})
	expectKind(t, err, anchor.SequencerSigInvalid)
}

func TestLinea_L1Inclusion(t *testing.T) {
	f := anchortest.New(2)
	params := f.Params(anchortest.Linea)
	l2 := l2State()
	b := f.Blocks(anchortest.Linea, l2, 700, 2)
	tip := b.Tip().Number.Uint64()

	l1 := trietest.NewState()
	anchortest.SettleLinea(l1, tip)
	l1a := verifyL1(t, f, l1)
	a, err := anchor.Verify(params, f.LineaWitness(b, anchortest.LineaProof(l1)), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !a.L1Included() || a.TrustRoot() != l1a.BlockHash() {
		t.Fatalf("included=%v trust root %s", a.L1Included(), a.TrustRoot())
	}

	l1 = trietest.NewState()
	anchortest.SettleLinea(l1, tip-1)
	l1a = verifyL1(t, f, l1)
	_, err = anchor.Verify(params, f.LineaWitness(b, anchortest.LineaProof(l1)), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.L1InclusionMissing)

	_, err = anchor.Verify(params, f.LineaWitness(b, nil), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.L1InclusionMissing)
}

func TestLinea_FinalizedNumberOnly(t *testing.T) {
	f := anchortest.New(2)
	params := f.Params(anchortest.Linea)
	l2 := l2State()
	b := f.Blocks(anchortest.Linea, l2, 700, 2)

	// The tip's seal is valid, but L1 only finalized the read block.
	l1 := trietest.NewState()
	anchortest.SettleLinea(l1, b.Read.Number.Uint64())
	l1a := verifyL1(t, f, l1)
	_, err := anchor.Verify(params, f.LineaWitness(b, anchortest.LineaProof(l1)), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	expectKind(t, err, anchor.L1InclusionMissing)

	// Finalization past the tip covers it; no hash is compared on L1.
	l1 = trietest.NewState()
	anchortest.SettleLinea(l1, b.Tip().Number.Uint64()+50)
	l1a = verifyL1(t, f, l1)
	a, err := anchor.Verify(params, f.LineaWitness(b, anchortest.LineaProof(l1)), anchor.Options{RequireL1Inclusion: true, L1: l1a})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if a.BlockNumber() != 700 || !a.L1Included() {
		t.Fatalf("anchor = %v included=%v", a, a.L1Included())
	}
}

func TestZeroAnchor(t *testing.T) {
	var a anchor.Anchor
	if a.Verified() {
		t.Fatal("zero anchor verified")
	}
	var nilAnchor *anchor.Anchor
	if nilAnchor.Verified() {
		t.Fatal("nil anchor verified")
	}
}

func TestErrorKind(t *testing.T) {
	err := error(&anchor.Error{ChainID: 10, Kind: anchor.StaleUpdate})
	if !errors.Is(err, anchor.StaleUpdate) || errors.Is(err, anchor.SignatureInvalid) {
		t.Fatalf("errors.Is mismatched kinds for %v", err)
	}
	if got := anchor.L1InclusionMissing.String(); got != "L1InclusionMissing" {
		t.Fatalf("String = %q", got)
	}
}
