package rollup

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/trie"
)

// OutputVersionV0 is the only output root version in use.
var OutputVersionV0 common.Hash

// OutputRoot computes the v0 L2 output root committed to by dispute games:
// keccak256(version ++ stateRoot ++ messagePasserStorageRoot ++ blockHash).
func OutputRoot(stateRoot, messagePasserStorageRoot, blockHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(OutputVersionV0[:], stateRoot[:], messagePasserStorageRoot[:], blockHash[:])
}

var gameUUIDArgs abi.Arguments

func init() {
	u32, _ := abi.NewType("uint32", "", nil)
	b32, _ := abi.NewType("bytes32", "", nil)
	bs, _ := abi.NewType("bytes", "", nil)
	gameUUIDArgs = abi.Arguments{{Type: u32}, {Type: b32}, {Type: bs}}
}

// GameUUID is DisputeGameFactory.getGameUUID for an output root game whose
// extra data is the claimed L2 block number.
func GameUUID(gameType uint32, rootClaim common.Hash, l2BlockNumber uint64) (common.Hash, error) {
	extra := common.BigToHash(new(big.Int).SetUint64(l2BlockNumber))
	enc, err := gameUUIDArgs.Pack(gameType, [32]byte(rootClaim), extra.Bytes())
	if err != nil {
		return common.Hash{}, fmt.Errorf("rollup: encode game uuid: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// GameSlot returns the factory storage key holding the GameId of uuid.
func GameSlot(disputeGamesSlot uint64, uuid common.Hash) common.Hash {
	return trie.MappingSlot(uuid, trie.Slot(disputeGamesSlot))
}

// GameID is the packed factory record of a created game:
// type (32 bits) | creation timestamp (64 bits) | proxy address (160 bits).
type GameID struct {
	Type      uint32
	Timestamp uint64
	Proxy     common.Address
}

// DecodeGameID unpacks a GameId storage word.
func DecodeGameID(v *uint256.Int) GameID {
	w := v.Bytes32()
	return GameID{
		Type:      binary.BigEndian.Uint32(w[0:4]),
		Timestamp: binary.BigEndian.Uint64(w[4:12]),
		Proxy:     common.BytesToAddress(w[12:32]),
	}
}

// Encode packs the id into its storage word.
func (g GameID) Encode() *uint256.Int {
	var w [32]byte
	binary.BigEndian.PutUint32(w[0:4], g.Type)
	binary.BigEndian.PutUint64(w[4:12], g.Timestamp)
	copy(w[12:], g.Proxy[:])
	return new(uint256.Int).SetBytes32(w[:])
}

// GameStatus is the resolution state of a dispute game.
type GameStatus uint8

const (
	GameInProgress GameStatus = iota
	GameChallengerWins
	GameDefenderWins
)

func (s GameStatus) String() string {
	switch s {
	case GameInProgress:
		return "in-progress"
	case GameChallengerWins:
		return "challenger-wins"
	case GameDefenderWins:
		return "defender-wins"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// GameStatusSlot is the FaultDisputeGame storage slot packing the game's
// timestamps and status flags.
const GameStatusSlot = 0

// GameState is the decoded slot 0 of a fault dispute game.
type GameState struct {
	CreatedAt               uint64
	ResolvedAt              uint64
	Status                  GameStatus
	Initialized             bool
	L2BlockNumberChallenged bool
}

// DecodeGameState unpacks slot 0. Solidity packs the fields from the low
// end of the word: createdAt, resolvedAt, status, initialized,
// l2BlockNumberChallenged.
func DecodeGameState(v *uint256.Int) GameState {
	w := v.Bytes32()
	return GameState{
		CreatedAt:               binary.BigEndian.Uint64(w[24:32]),
		ResolvedAt:              binary.BigEndian.Uint64(w[16:24]),
		Status:                  GameStatus(w[15]),
		Initialized:             w[14] != 0,
		L2BlockNumberChallenged: w[13] != 0,
	}
}

// Encode packs the state into its storage word.
func (g GameState) Encode() *uint256.Int {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:32], g.CreatedAt)
	binary.BigEndian.PutUint64(w[16:24], g.ResolvedAt)
	w[15] = byte(g.Status)
	if g.Initialized {
		w[14] = 1
	}
	if g.L2BlockNumberChallenged {
		w[13] = 1
	}
	return new(uint256.Int).SetBytes32(w[:])
}

// Final reports whether the game resolved for the defender, its block
// number was never challenged, and finalityWindow seconds have passed
// since resolution at time now.
func (g GameState) Final(now, finalityWindow uint64) bool {
	return g.Status == GameDefenderWins &&
		!g.L2BlockNumberChallenged &&
		g.ResolvedAt != 0 &&
		g.ResolvedAt+finalityWindow <= now
}
