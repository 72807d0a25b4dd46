package witness

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/trie"
)

// ExecutionClient is the execution-layer RPC surface the collector reads.
// A nil block number means the latest block.
type ExecutionClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, number *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, number *big.Int) ([]byte, error)
	// Proof returns the EIP-1186 proof of account with the given slots,
	// in slot order.
	Proof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*trie.AccountProof, error)
}

// Client is an ExecutionClient over a JSON-RPC endpoint.
type Client struct {
	*ethclient.Client
	geth *gethclient.Client
}

// Dial connects to an execution node.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("witness: dial %s: %w", url, err)
	}
	return NewClient(c), nil
}

// NewClient wraps an RPC connection.
func NewClient(c *rpc.Client) *Client {
	return &Client{Client: ethclient.NewClient(c), geth: gethclient.New(c)}
}

func (c *Client) Proof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*trie.AccountProof, error) {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Hex()
	}
	res, err := c.geth.GetProof(ctx, account, keys, number)
	if err != nil {
		return nil, err
	}
	return convertProof(account, slots, res)
}

// convertProof turns an eth_getProof result into the verifier's shape.
// Storage proofs are matched to slots by position.
func convertProof(account common.Address, slots []common.Hash, res *gethclient.AccountResult) (*trie.AccountProof, error) {
	if res.Address != account {
		return nil, fmt.Errorf("%w: proof for %s, asked %s", ErrMalformedResponse, res.Address, account)
	}
	if len(res.StorageProof) != len(slots) {
		return nil, fmt.Errorf("%w: %d storage proofs for %d slots", ErrMalformedResponse, len(res.StorageProof), len(slots))
	}
	bal, err := toUint256(res.Balance)
	if err != nil {
		return nil, err
	}
	nodes, err := decodeNodes(res.AccountProof)
	if err != nil {
		return nil, err
	}
	p := &trie.AccountProof{
		Address:     res.Address,
		Balance:     bal,
		Nonce:       res.Nonce,
		StorageHash: res.StorageHash,
		CodeHash:    res.CodeHash,
		Proof:       nodes,
	}
	for i, sp := range res.StorageProof {
		v, err := toUint256(sp.Value)
		if err != nil {
			return nil, err
		}
		nodes, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, err
		}
		p.Storage = append(p.Storage, trie.StorageProof{Key: slots[i], Value: v, Proof: nodes})
	}
	return p, nil
}

func toUint256(b *big.Int) (*uint256.Int, error) {
	v := new(uint256.Int)
	if b == nil {
		return v, nil
	}
	if b.Sign() < 0 || v.SetFromBig(b) {
		return nil, fmt.Errorf("%w: value %s out of range", ErrMalformedResponse, b)
	}
	return v, nil
}

func decodeNodes(hex []string) ([][]byte, error) {
	nodes := make([][]byte, len(hex))
	for i, h := range hex {
		n, err := hexutil.Decode(h)
		if err != nil {
			return nil, fmt.Errorf("%w: proof node %d: %v", ErrMalformedResponse, i, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}
