// Package state performs authenticated reads of contract storage against
// an anchored state root. A Reader exists only for a verified anchor, and
// a VerifiedPosition only comes out of a Reader, so no read can skip the
// anchor check.
package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/trie"
)

var (
	ErrUnanchored   = errors.New("state: reader requires a verified anchor")
	ErrProofInvalid = errors.New("state: proof invalid")
	ErrNotFound     = errors.New("state: not found")
)

// ReadError reports a failed read. Err wraps ErrProofInvalid or
// ErrNotFound together with the underlying cause.
type ReadError struct {
	ChainID uint64
	Address common.Address
	Slot    *common.Hash // nil for account reads
	Err     error
}

func (e *ReadError) Error() string {
	if e.Slot == nil {
		return fmt.Sprintf("state: chain %d account %s: %v", e.ChainID, e.Address, e.Err)
	}
	return fmt.Sprintf("state: chain %d account %s slot %s: %v", e.ChainID, e.Address, *e.Slot, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader reads state at one anchored block.
type Reader struct {
	anchor *anchor.Anchor
}

// NewReader returns a reader over a's state root.
func NewReader(a *anchor.Anchor) (*Reader, error) {
	if !a.Verified() {
		return nil, ErrUnanchored
	}
	return &Reader{anchor: a}, nil
}

// Anchor returns the anchor the reader is bound to.
func (r *Reader) Anchor() *anchor.Anchor { return r.anchor }

func (r *Reader) fail(addr common.Address, slot *common.Hash, kind, cause error) *ReadError {
	return &ReadError{ChainID: r.anchor.ChainID(), Address: addr, Slot: slot, Err: fmt.Errorf("%w: %v", kind, cause)}
}

// ReadAccount verifies proof against the anchored state root.
func (r *Reader) ReadAccount(proof *trie.AccountProof) (*trie.Account, error) {
	acc, err := trie.VerifyAccount(r.anchor.StateRoot(), proof)
	switch {
	case errors.Is(err, trie.ErrAccountAbsent):
		return nil, r.fail(proof.Address, nil, ErrNotFound, err)
	case err != nil:
		return nil, r.fail(proof.Address, nil, ErrProofInvalid, err)
	}
	return acc, nil
}

// ReadStorage returns the value of slot in the account proven by proof.
// A slot absent from a present account reads as zero.
func (r *Reader) ReadStorage(proof *trie.AccountProof, slot common.Hash) (*uint256.Int, error) {
	acc, err := r.ReadAccount(proof)
	if err != nil {
		return nil, err
	}
	return r.readSlot(acc, proof, slot)
}

func (r *Reader) readSlot(acc *trie.Account, proof *trie.AccountProof, slot common.Hash) (*uint256.Int, error) {
	sp, ok := proof.StorageFor(slot)
	if !ok {
		return nil, r.fail(proof.Address, &slot, ErrNotFound, trie.ErrNoStorageProof)
	}
	v, _, err := trie.VerifyStorage(acc.StorageRoot, sp)
	if err != nil {
		return nil, r.fail(proof.Address, &slot, ErrProofInvalid, err)
	}
	return v, nil
}

// MarketLayout locates a market's per-user accumulators: the nested
// mappings accAmountIn[user][targetChainId] and
// accAmountOut[user][targetChainId].
type MarketLayout struct {
	AmountInSlot  uint64
	AmountOutSlot uint64
}

// DefaultMarketLayout is the storage layout of the deployed markets.
var DefaultMarketLayout = MarketLayout{AmountInSlot: 0, AmountOutSlot: 1}

// Slots returns the storage keys of user's accumulators for target.
func (l MarketLayout) Slots(user common.Address, target uint64) (in, out common.Hash) {
	u, t := trie.AddressKey(user), trie.Uint64Key(target)
	return trie.NestedMappingSlot(u, t, trie.Slot(l.AmountInSlot)),
		trie.NestedMappingSlot(u, t, trie.Slot(l.AmountOutSlot))
}

// VerifiedPosition is a user's position in a market read at an anchored
// block. Only a Reader constructs one.
type VerifiedPosition struct {
	user      common.Address
	market    common.Address
	chainID   uint64
	target    uint64
	amountIn  *uint256.Int
	amountOut *uint256.Int
	anchor    *anchor.Anchor
}

func (p *VerifiedPosition) User() common.Address { return p.user }
func (p *VerifiedPosition) Market() common.Address { return p.market }
func (p *VerifiedPosition) ChainID() uint64 { return p.chainID }
func (p *VerifiedPosition) TargetChainID() uint64 { return p.target }
func (p *VerifiedPosition) AmountIn() *uint256.Int { return new(uint256.Int).Set(p.amountIn) }
func (p *VerifiedPosition) AmountOut() *uint256.Int { return new(uint256.Int).Set(p.amountOut) }
func (p *VerifiedPosition) Anchor() *anchor.Anchor { return p.anchor }

// ReadPosition reads user's accumulators for target from the market
// proven by proof.
func (r *Reader) ReadPosition(proof *trie.AccountProof, layout MarketLayout, user common.Address, target uint64) (*VerifiedPosition, error) {
	acc, err := r.ReadAccount(proof)
	if err != nil {
		return nil, err
	}
	inSlot, outSlot := layout.Slots(user, target)
	in, err := r.readSlot(acc, proof, inSlot)
	if err != nil {
		return nil, err
	}
	out, err := r.readSlot(acc, proof, outSlot)
	if err != nil {
		return nil, err
	}
	return &VerifiedPosition{
		user:      user,
		market:    proof.Address,
		chainID:   r.anchor.ChainID(),
		target:    target,
		amountIn:  in,
		amountOut: out,
		anchor:    r.anchor,
	}, nil
}
