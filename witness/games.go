package witness

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/rollup"
	"github.com/eth2030/xproof/trie"
)

// GamesABI covers the DisputeGameFactory and FaultDisputeGame views used
// to find a settled game.
var GamesABI = mustABI(`[
	{"type":"function","name":"gameCount","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"gameCount_","type":"uint256"}]},
	{"type":"function","name":"gameAtIndex","stateMutability":"view",
	 "inputs":[{"name":"_index","type":"uint256"}],
	 "outputs":[{"name":"gameType_","type":"uint32"},{"name":"timestamp_","type":"uint64"},{"name":"proxy_","type":"address"}]},
	{"type":"function","name":"l2BlockNumber","stateMutability":"pure","inputs":[],
	 "outputs":[{"name":"l2BlockNumber_","type":"uint256"}]}
]`)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// settledGame is a dispute game final at an L1 block.
type settledGame struct {
	Proxy   common.Address
	L2Block uint64
	State   rollup.GameState
}

// findGame scans the factory's most recent games, newest first, for
// one of the chain's game type that is final at the L1 block at.
func (c *Collector) findGame(ctx context.Context, l1 ExecutionClient, op *chain.OPStackParams, at *types.Header) (*settledGame, error) {
	out, err := view(ctx, l1, op.DisputeGameFactory, at.Number, "gameCount")
	if err != nil {
		return nil, err
	}
	count, err := result[*big.Int](out, 0)
	if err != nil {
		return nil, err
	}
	if !count.IsUint64() {
		return nil, fmt.Errorf("%w: game count %s", ErrMalformedResponse, count)
	}
	n := count.Uint64()
	for i := uint64(0); i < n && i < c.cfg.GameLookback; i++ {
		out, err := view(ctx, l1, op.DisputeGameFactory, at.Number, "gameAtIndex", new(big.Int).SetUint64(n-1-i))
		if err != nil {
			return nil, err
		}
		typ, err := result[uint32](out, 0)
		if err != nil {
			return nil, err
		}
		proxy, err := result[common.Address](out, 2)
		if err != nil {
			return nil, err
		}
		if typ != op.GameType {
			continue
		}
		word, err := l1.StorageAt(ctx, proxy, trie.Slot(rollup.GameStatusSlot), at.Number)
		if err != nil {
			return nil, err
		}
		st := rollup.DecodeGameState(new(uint256.Int).SetBytes(word))
		if !st.Final(at.Time, op.FinalityWindow) {
			continue
		}
		out, err = view(ctx, l1, proxy, at.Number, "l2BlockNumber")
		if err != nil {
			return nil, err
		}
		l2, err := result[*big.Int](out, 0)
		if err != nil {
			return nil, err
		}
		if !l2.IsUint64() {
			return nil, fmt.Errorf("%w: game %s l2 block %s", ErrMalformedResponse, proxy, l2)
		}
		return &settledGame{Proxy: proxy, L2Block: l2.Uint64(), State: st}, nil
	}
	return nil, fmt.Errorf("%w: none of the last %d games final at L1 block %d", ErrNotSettled, min(n, c.cfg.GameLookback), at.Number)
}

// view calls a read-only GamesABI method on to.
func view(ctx context.Context, ec ExecutionClient, to common.Address, number *big.Int, method string, args ...any) ([]any, error) {
	data, err := GamesABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ret, err := ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, number)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, to, err)
	}
	out, err := GamesABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrMalformedResponse, method, to, err)
	}
	return out, nil
}

func result[T any](out []any, i int) (T, error) {
	var zero T
	if i >= len(out) {
		return zero, fmt.Errorf("%w: %d results", ErrMalformedResponse, len(out))
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: result %d is %T", ErrMalformedResponse, i, out[i])
	}
	return v, nil
}
