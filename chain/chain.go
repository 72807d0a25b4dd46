// Package chain describes the source chains the verification core knows
// about: their consensus family, the trust parameters each family's anchor
// verifier needs, and the registry the guest program pins into its image
// identity.
package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Chain ids.
const (
	EthereumID        uint64 = 1
	OptimismID        uint64 = 10
	BaseID            uint64 = 8453
	LineaID           uint64 = 59144
	SepoliaID         uint64 = 11155111
	OptimismSepoliaID uint64 = 11155420
	BaseSepoliaID     uint64 = 84532
	LineaSepoliaID    uint64 = 59141
)

// Family selects the anchor verifier for a chain.
type Family uint8

const (
	FamilyUnknown Family = iota
	// FamilyBeacon is Ethereum L1 verified through the beacon light client.
	FamilyBeacon
	// FamilyOPStack is an optimistic rollup with sequencer commitments and
	// dispute games.
	FamilyOPStack
	// FamilyLinea is a rollup whose sequencer signs block headers directly.
	FamilyLinea
)

func (f Family) String() string {
	switch f {
	case FamilyBeacon:
		return "beacon"
	case FamilyOPStack:
		return "opstack"
	case FamilyLinea:
		return "linea"
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

var (
	ErrUnknownChain   = errors.New("chain: unknown chain id")
	ErrDuplicateChain = errors.New("chain: chain id already registered")
	ErrInvalidParams  = errors.New("chain: invalid parameters")
	ErrUnknownNetwork = errors.New("chain: unknown network")
)

// Fork is a beacon chain fork activation.
type Fork struct {
	Name    string
	Epoch   uint64
	Version [4]byte
}

// BeaconParams configures the Ethereum light client.
type BeaconParams struct {
	GenesisValidatorsRoot common.Hash
	// Forks in ascending activation order. Only forks the light client can
	// verify (Deneb onwards) are listed.
	Forks []Fork
}

// ForkAt returns the fork active at epoch.
func (p *BeaconParams) ForkAt(epoch uint64) (Fork, bool) {
	var (
		cur Fork
		ok  bool
	)
	for _, f := range p.Forks {
		if epoch >= f.Epoch {
			cur, ok = f, true
		}
	}
	return cur, ok
}

// OPStackParams configures OP-Stack dispute game lookups on L1.
type OPStackParams struct {
	DisputeGameFactory common.Address
	// DisputeGamesSlot is the storage slot of the factory's
	// _disputeGames mapping.
	DisputeGamesSlot uint64
	GameType         uint32
	// FinalityWindow is the number of seconds a resolved game must age on
	// L1 before its output is treated as final.
	FinalityWindow uint64
	MessagePasser  common.Address
}

// LineaParams configures Linea finalization lookups on L1.
type LineaParams struct {
	RollupContract common.Address
	// CurrentL2BlockSlot holds the rollup's last finalized L2 block number.
	CurrentL2BlockSlot uint64
}

// RelayParams let Ethereum be anchored through an OP-Stack chain's L1Block
// predeploy instead of the light client. The relay sequencer then vouches
// for the L1 block, so relayed anchors are refused when L1 inclusion is
// required.
type RelayParams struct {
	ChainID   uint64
	Sequencer common.Address
	L1Block   common.Address
	// NumberSlot packs the L1 block number into its low 8 bytes, next to
	// the timestamp. HashSlot holds the block hash.
	NumberSlot uint64
	HashSlot   uint64
}

// Params are the verification parameters of one chain.
type Params struct {
	ID     uint64
	Name   string
	Family Family
	// Sequencer is the commitment signer for rollup families.
	Sequencer common.Address
	// ReorgDepth is the minimum number of linking headers between the read
	// block and the consensus-verified tip.
	ReorgDepth uint64
	// L1ChainID names the settlement chain for rollups, and the chain
	// itself for Ethereum.
	L1ChainID uint64

	Beacon  *BeaconParams  `rlp:"nil"`
	OPStack *OPStackParams `rlp:"nil"`
	Linea   *LineaParams   `rlp:"nil"`
	// Relay is optional and only valid for beacon chains.
	Relay *RelayParams `rlp:"nil"`
}

// Validate checks the family-specific parameters are present.
func (p *Params) Validate() error {
	if p.ID == 0 {
		return fmt.Errorf("%w: zero chain id", ErrInvalidParams)
	}
	switch p.Family {
	case FamilyBeacon:
		if p.Beacon == nil || len(p.Beacon.Forks) == 0 {
			return fmt.Errorf("%w: chain %d: beacon params missing", ErrInvalidParams, p.ID)
		}
		for i := 1; i < len(p.Beacon.Forks); i++ {
			if p.Beacon.Forks[i].Epoch <= p.Beacon.Forks[i-1].Epoch {
				return fmt.Errorf("%w: chain %d: forks out of order", ErrInvalidParams, p.ID)
			}
		}
	case FamilyOPStack:
		if p.OPStack == nil || p.Sequencer == (common.Address{}) {
			return fmt.Errorf("%w: chain %d: opstack params missing", ErrInvalidParams, p.ID)
		}
	case FamilyLinea:
		if p.Linea == nil || p.Sequencer == (common.Address{}) {
			return fmt.Errorf("%w: chain %d: linea params missing", ErrInvalidParams, p.ID)
		}
	default:
		return fmt.Errorf("%w: chain %d: %v", ErrInvalidParams, p.ID, p.Family)
	}
	if p.Family != FamilyBeacon && p.L1ChainID == 0 {
		return fmt.Errorf("%w: chain %d: no L1 chain", ErrInvalidParams, p.ID)
	}
	if r := p.Relay; r != nil {
		if p.Family != FamilyBeacon {
			return fmt.Errorf("%w: chain %d: relay on a %v chain", ErrInvalidParams, p.ID, p.Family)
		}
		if r.ChainID == 0 || r.ChainID == p.ID || r.Sequencer == (common.Address{}) || r.L1Block == (common.Address{}) {
			return fmt.Errorf("%w: chain %d: incomplete relay params", ErrInvalidParams, p.ID)
		}
	}
	return nil
}

// Registry maps chain ids to parameters. It is built once at startup and
// read-only afterwards.
type Registry struct {
	chains map[uint64]*Params
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[uint64]*Params)}
}

// Register adds a chain.
func (r *Registry) Register(p *Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := r.chains[p.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateChain, p.ID)
	}
	r.chains[p.ID] = p
	return nil
}

// MustRegister is Register that panics, for static tables.
func (r *Registry) MustRegister(p *Params) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Lookup returns the parameters of a chain.
func (r *Registry) Lookup(id uint64) (*Params, error) {
	p, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, id)
	}
	return p, nil
}

// IDs returns all registered chain ids in ascending order.
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Encode returns the canonical RLP encoding of the registry, chains in id
// order. It is part of the program identity.
func (r *Registry) Encode() ([]byte, error) {
	list := make([]*Params, 0, len(r.chains))
	for _, id := range r.IDs() {
		list = append(list, r.chains[id])
	}
	return rlp.EncodeToBytes(list)
}
