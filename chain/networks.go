package chain

import "github.com/ethereum/go-ethereum/common"

// Network selects a set of chains that settle on the same L1.
type Network string

const (
	Mainnet Network = "mainnet"
	Sepolia Network = "sepolia"
)

var (
	// OP-Stack predeploys, identical on every OP chain.
	L2ToL1MessagePasser = common.HexToAddress("0x4200000000000000000000000000000000000016")
	L1BlockPredeploy    = common.HexToAddress("0x4200000000000000000000000000000000000015")
)

const (
	// disputeGamesSlot is the _disputeGames mapping slot in the
	// DisputeGameFactory storage layout.
	disputeGamesSlot = 103
	// lineaCurrentL2BlockSlot is the currentL2BlockNumber slot of the
	// LineaRollup proxy.
	lineaCurrentL2BlockSlot = 201
	// L1Block predeploy layout: number and timestamp share slot 0, the
	// block hash is slot 2.
	l1BlockNumberSlot = 0
	l1BlockHashSlot   = 2
)

var (
	optimismSequencer        = common.HexToAddress("0xAAAA45d9549EDA09E70937013520214382Ffc4A2")
	optimismSepoliaSequencer = common.HexToAddress("0x57CACBB0d30b01eb2462e5dC940c161aff3230D3")
)

func opRelay(id uint64, sequencer common.Address) *RelayParams {
	return &RelayParams{
		ChainID:    id,
		Sequencer:  sequencer,
		L1Block:    L1BlockPredeploy,
		NumberSlot: l1BlockNumberSlot,
		HashSlot:   l1BlockHashSlot,
	}
}

var mainnetBeacon = &BeaconParams{
	GenesisValidatorsRoot: common.HexToHash("0x4b363db94e286120d76eb905340fdd4e54bfe9f06bf33ff6cf5ad27f511bfe95"),
	Forks: []Fork{
		{Name: "deneb", Epoch: 269568, Version: [4]byte{0x04, 0x00, 0x00, 0x00}},
		{Name: "electra", Epoch: 364032, Version: [4]byte{0x05, 0x00, 0x00, 0x00}},
		{Name: "fulu", Epoch: 411392, Version: [4]byte{0x06, 0x00, 0x00, 0x00}},
	},
}

var sepoliaBeacon = &BeaconParams{
	GenesisValidatorsRoot: common.HexToHash("0xd8ea171f3c94aea21ebc42a1ed61052acf3f9209c00e4efbaaddac09ed9b8078"),
	Forks: []Fork{
		{Name: "deneb", Epoch: 132608, Version: [4]byte{0x90, 0x00, 0x00, 0x73}},
		{Name: "electra", Epoch: 222464, Version: [4]byte{0x90, 0x00, 0x00, 0x74}},
		{Name: "fulu", Epoch: 272640, Version: [4]byte{0x90, 0x00, 0x00, 0x75}},
	},
}

// MainnetChains returns the production chains.
func MainnetChains() []*Params {
	return []*Params{
		{
			ID: EthereumID, Name: "ethereum", Family: FamilyBeacon,
			ReorgDepth: 2, L1ChainID: EthereumID, Beacon: mainnetBeacon,
			Relay: opRelay(OptimismID, optimismSequencer),
		},
		{
			ID: OptimismID, Name: "optimism", Family: FamilyOPStack,
			Sequencer:  optimismSequencer,
			ReorgDepth: 2, L1ChainID: EthereumID,
			OPStack: &OPStackParams{
				DisputeGameFactory: common.HexToAddress("0xe5965Ab5962eDc7477C8520243A95517CD252fA9"),
				DisputeGamesSlot:   disputeGamesSlot,
				GameType:           0,
				FinalityWindow:     302400,
				MessagePasser:      L2ToL1MessagePasser,
			},
		},
		{
			ID: BaseID, Name: "base", Family: FamilyOPStack,
			Sequencer:  common.HexToAddress("0xAf6E19BE0F9cE7f8afd49a1824851023A8249e8a"),
			ReorgDepth: 2, L1ChainID: EthereumID,
			OPStack: &OPStackParams{
				DisputeGameFactory: common.HexToAddress("0x43edB88C4B80fDD2AdFF2412A7BebF9dF42cB40e"),
				DisputeGamesSlot:   disputeGamesSlot,
				GameType:           0,
				FinalityWindow:     302400,
				MessagePasser:      L2ToL1MessagePasser,
			},
		},
		{
			ID: LineaID, Name: "linea", Family: FamilyLinea,
			Sequencer:  common.HexToAddress("0x8f81e2e3f8b46467523463835f965ffe476e1c9e"),
			ReorgDepth: 2, L1ChainID: EthereumID,
			Linea: &LineaParams{
				RollupContract:     common.HexToAddress("0xd19d4B5d358258f05D7B411E21A1460D11B0876F"),
				CurrentL2BlockSlot: lineaCurrentL2BlockSlot,
			},
		},
	}
}

// SepoliaChains returns the test network chains. Reorg depth is zero there.
func SepoliaChains() []*Params {
	return []*Params{
		{
			ID: SepoliaID, Name: "sepolia", Family: FamilyBeacon,
			L1ChainID: SepoliaID, Beacon: sepoliaBeacon,
			Relay: opRelay(OptimismSepoliaID, optimismSepoliaSequencer),
		},
		{
			ID: OptimismSepoliaID, Name: "optimism-sepolia", Family: FamilyOPStack,
			Sequencer: optimismSepoliaSequencer,
			L1ChainID: SepoliaID,
			OPStack: &OPStackParams{
				DisputeGameFactory: common.HexToAddress("0x05F9613aDB30026FFd634f38e5C4dFd30a197Fa1"),
				DisputeGamesSlot:   disputeGamesSlot,
				GameType:           0,
				FinalityWindow:     300,
				MessagePasser:      L2ToL1MessagePasser,
			},
		},
		{
			ID: BaseSepoliaID, Name: "base-sepolia", Family: FamilyOPStack,
			Sequencer: common.HexToAddress("0xb830b99c95Ea32300039624Cb567d324D4b1D83C"),
			L1ChainID: SepoliaID,
			OPStack: &OPStackParams{
				DisputeGameFactory: common.HexToAddress("0xd6E6dBf4F7EA0ac412fD8b65ED297e64BB7a06E1"),
				DisputeGamesSlot:   disputeGamesSlot,
				GameType:           0,
				FinalityWindow:     300,
				MessagePasser:      L2ToL1MessagePasser,
			},
		},
		{
			ID: LineaSepoliaID, Name: "linea-sepolia", Family: FamilyLinea,
			Sequencer: common.HexToAddress("0xa27342f1b74c0cfb2cda74bac1628d0c1a9752f2"),
			L1ChainID: SepoliaID,
			Linea: &LineaParams{
				RollupContract:     common.HexToAddress("0xB218f8A4Bc926cF1cA7b3423c154a0D627Bdb7E5"),
				CurrentL2BlockSlot: lineaCurrentL2BlockSlot,
			},
		},
	}
}

// NewNetworkRegistry returns a registry holding the chains of the given
// networks.
func NewNetworkRegistry(networks ...Network) (*Registry, error) {
	r := NewRegistry()
	for _, n := range networks {
		var list []*Params
		switch n {
		case Mainnet:
			list = MainnetChains()
		case Sepolia:
			list = SepoliaChains()
		default:
			return nil, ErrUnknownNetwork
		}
		for _, p := range list {
			if err := r.Register(p); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// DefaultRegistry holds both mainnet and Sepolia chains, matching the
// deployed program which serves both.
func DefaultRegistry() *Registry {
	r, err := NewNetworkRegistry(Mainnet, Sepolia)
	if err != nil {
		panic(err)
	}
	return r
}
