package guest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/trie"
)

var (
	ErrInputNotCanonical = errors.New("guest: input chains not in ascending chain id order")
	ErrMissingChain      = errors.New("guest: no witness for chain")
	ErrMissingAccount    = errors.New("guest: no account proof for market")
)

// ChainInput is everything read from one chain: the anchor witness and
// the account proofs of the markets read there, each carrying its slots.
type ChainInput struct {
	Witness  anchor.ChainWitness
	Accounts []trie.AccountProof
}

// Account returns the proof for addr.
func (c *ChainInput) Account(addr common.Address) (*trie.AccountProof, bool) {
	for i := range c.Accounts {
		if c.Accounts[i].Address == addr {
			return &c.Accounts[i], true
		}
	}
	return nil, false
}

// Input is the complete, immutable witness bundle of one run. Chains are
// sorted by chain id with no duplicates, so equal bundles encode to equal
// bytes.
type Input struct {
	Request batch.Request
	Chains  []ChainInput
}

// NewInput returns an input over req with chains in canonical order.
func NewInput(req *batch.Request, chains []ChainInput) *Input {
	sorted := append([]ChainInput(nil), chains...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Witness.ChainID < sorted[j].Witness.ChainID
	})
	return &Input{Request: *req, Chains: sorted}
}

// Chain returns the input for id.
func (in *Input) Chain(id uint64) (*ChainInput, error) {
	i := sort.Search(len(in.Chains), func(i int) bool { return in.Chains[i].Witness.ChainID >= id })
	if i == len(in.Chains) || in.Chains[i].Witness.ChainID != id {
		return nil, fmt.Errorf("%w %d", ErrMissingChain, id)
	}
	return &in.Chains[i], nil
}

func (in *Input) checkCanonical() error {
	for i := 1; i < len(in.Chains); i++ {
		if in.Chains[i].Witness.ChainID <= in.Chains[i-1].Witness.ChainID {
			return fmt.Errorf("%w: %d after %d", ErrInputNotCanonical,
				in.Chains[i].Witness.ChainID, in.Chains[i-1].Witness.ChainID)
		}
	}
	return nil
}

// EncodeInput returns the RLP image of in.
func EncodeInput(in *Input) ([]byte, error) {
	if err := in.checkCanonical(); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(in)
}

// DecodeInput parses an image produced by EncodeInput.
func DecodeInput(b []byte) (*Input, error) {
	in := new(Input)
	if err := rlp.DecodeBytes(b, in); err != nil {
		return nil, fmt.Errorf("guest: decode input: %w", err)
	}
	if err := in.checkCanonical(); err != nil {
		return nil, err
	}
	return in, nil
}
