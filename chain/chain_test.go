package chain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		id     uint64
		family Family
		depth  uint64
		l1     uint64
	}{
		{EthereumID, FamilyBeacon, 2, EthereumID},
		{OptimismID, FamilyOPStack, 2, EthereumID},
		{BaseID, FamilyOPStack, 2, EthereumID},
		{LineaID, FamilyLinea, 2, EthereumID},
		{SepoliaID, FamilyBeacon, 0, SepoliaID},
		{OptimismSepoliaID, FamilyOPStack, 0, SepoliaID},
		{BaseSepoliaID, FamilyOPStack, 0, SepoliaID},
		{LineaSepoliaID, FamilyLinea, 0, SepoliaID},
	}
	for _, tt := range tests {
		p, err := r.Lookup(tt.id)
		if err != nil {
			t.Fatalf("Lookup(%d): %v", tt.id, err)
		}
		if p.Family != tt.family || p.ReorgDepth != tt.depth || p.L1ChainID != tt.l1 {
			t.Fatalf("chain %d = (%v, %d, %d), want (%v, %d, %d)",
				tt.id, p.Family, p.ReorgDepth, p.L1ChainID, tt.family, tt.depth, tt.l1)
		}
	}
	if len(r.IDs()) != len(tests) {
		t.Fatalf("registry has %d chains, want %d", len(r.IDs()), len(tests))
	}
	for l1, relay := range map[uint64]uint64{EthereumID: OptimismID, SepoliaID: OptimismSepoliaID} {
		p, _ := r.Lookup(l1)
		op, _ := r.Lookup(relay)
		if p.Relay == nil || p.Relay.ChainID != relay || p.Relay.Sequencer != op.Sequencer || p.Relay.L1Block != L1BlockPredeploy {
			t.Fatalf("chain %d relay = %+v, want chain %d sequencer %s", l1, p.Relay, relay, op.Sequencer)
		}
	}
	if _, err := r.Lookup(534352); !errors.Is(err, ErrUnknownChain) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownChain)
	}
}

func TestForkAt(t *testing.T) {
	p := mainnetBeacon
	tests := []struct {
		epoch uint64
		want  string
		ok    bool
	}{
		{100, "", false},
		{269568, "deneb", true},
		{364031, "deneb", true},
		{364032, "electra", true},
		{500000, "fulu", true},
	}
	for _, tt := range tests {
		f, ok := p.ForkAt(tt.epoch)
		if ok != tt.ok || f.Name != tt.want {
			t.Fatalf("ForkAt(%d) = %q/%v, want %q/%v", tt.epoch, f.Name, ok, tt.want, tt.ok)
		}
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()
	bad := []*Params{
		{ID: 0, Family: FamilyBeacon},
		{ID: 5, Family: FamilyBeacon},
		{ID: 6, Family: FamilyOPStack, L1ChainID: 1, OPStack: &OPStackParams{}},
		{ID: 7, Family: FamilyLinea, L1ChainID: 1, Sequencer: common.Address{1}},
		{ID: 8, Family: FamilyUnknown},
		{ID: 9, Family: FamilyLinea, Sequencer: common.Address{1}, Linea: &LineaParams{}},
		{ID: 10, Family: FamilyBeacon, Beacon: &BeaconParams{Forks: []Fork{{Epoch: 5}, {Epoch: 5}}}},
		{ID: 11, Family: FamilyBeacon, Beacon: mainnetBeacon, Relay: &RelayParams{ChainID: 10, L1Block: L1BlockPredeploy}},
		{ID: 12, Family: FamilyBeacon, Beacon: mainnetBeacon, Relay: &RelayParams{ChainID: 12, Sequencer: common.Address{1}, L1Block: L1BlockPredeploy}},
		{ID: 13, Family: FamilyLinea, L1ChainID: 1, Sequencer: common.Address{1}, Linea: &LineaParams{}, Relay: opRelay(10, common.Address{1})},
	}
	for _, p := range bad {
		if err := r.Register(p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("Register(%d): err = %v, want %v", p.ID, err, ErrInvalidParams)
		}
	}
	good := &Params{ID: 77, Family: FamilyLinea, L1ChainID: 1, Sequencer: common.Address{1}, Linea: &LineaParams{}}
	r.MustRegister(good)
	if err := r.Register(good); !errors.Is(err, ErrDuplicateChain) {
		t.Fatalf("err = %v, want %v", err, ErrDuplicateChain)
	}
	if _, err := NewNetworkRegistry("holesky"); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownNetwork)
	}
}

func TestRegistry_EncodeDeterministic(t *testing.T) {
	a, err := DefaultRegistry().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, _ := DefaultRegistry().Encode()
	if !bytes.Equal(a, b) {
		t.Fatal("registry encoding is not deterministic")
	}
	m, _ := NewNetworkRegistry(Mainnet)
	c, _ := m.Encode()
	if bytes.Equal(a, c) {
		t.Fatal("different registries share an encoding")
	}
}
