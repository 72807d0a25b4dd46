// Package trie verifies Merkle-Patricia account and storage proofs in the
// shape eth_getProof (EIP-1186) returns them. Verification is a pure
// function of the root and the supplied nodes; node hashing and path
// walking are delegated to go-ethereum's trie package.
package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/crypto"
)

var (
	// ErrProofInvalid is returned when proof nodes do not hash up to the
	// expected root or do not encode a well-formed value.
	ErrProofInvalid = errors.New("trie: proof does not verify against root")
	// ErrAccountAbsent is returned for a valid proof of absence.
	ErrAccountAbsent = errors.New("trie: account absent from state")
	// ErrAccountMismatch is returned when the proven account disagrees with
	// the fields the proof claims.
	ErrAccountMismatch = errors.New("trie: proven account differs from claimed fields")
	// ErrStorageValueMismatch is returned when a proven slot value differs
	// from the claimed value.
	ErrStorageValueMismatch = errors.New("trie: proven storage value differs from claimed value")
	// ErrNoStorageProof is returned when an account proof carries no proof
	// for a requested slot.
	ErrNoStorageProof = errors.New("trie: no storage proof for slot")
)

// AccountProof contains Merkle proof data for a single account together
// with proofs for any number of its storage slots, matching the response
// shape of eth_getProof.
type AccountProof struct {
	Address     common.Address
	Balance     *uint256.Int
	Nonce       uint64
	StorageHash common.Hash
	CodeHash    common.Hash
	Proof       [][]byte // RLP-encoded trie nodes, root first
	Storage     []StorageProof
}

// StorageProof contains the Merkle proof for a single storage slot. Key is
// the slot itself, not its hash.
type StorageProof struct {
	Key   common.Hash
	Value *uint256.Int
	Proof [][]byte
}

// StorageFor returns the storage proof for slot, if present.
func (p *AccountProof) StorageFor(slot common.Hash) (*StorageProof, bool) {
	for i := range p.Storage {
		if p.Storage[i].Key == slot {
			return &p.Storage[i], true
		}
	}
	return nil, false
}

// Account is a proven account.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot common.Hash
	CodeHash    common.Hash
}

// VerifyAccount verifies proof against the state root. It returns
// ErrAccountAbsent for a valid exclusion proof, ErrProofInvalid for nodes
// that do not lead to root and ErrAccountMismatch when the leaf disagrees
// with the claimed fields.
func VerifyAccount(root common.Hash, proof *AccountProof) (*Account, error) {
	val, err := verify(root, crypto.Keccak256(proof.Address[:]), proof.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrProofInvalid, proof.Address, err)
	}
	if val == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountAbsent, proof.Address)
	}

	var acc types.StateAccount
	if err := rlp.DecodeBytes(val, &acc); err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrProofInvalid, proof.Address, err)
	}
	out := &Account{
		Nonce:       acc.Nonce,
		Balance:     acc.Balance,
		StorageRoot: acc.Root,
		CodeHash:    common.BytesToHash(acc.CodeHash),
	}
	if out.Balance == nil {
		out.Balance = new(uint256.Int)
	}

	if proof.Nonce != out.Nonce ||
		proof.StorageHash != out.StorageRoot ||
		proof.CodeHash != out.CodeHash ||
		(proof.Balance != nil && !proof.Balance.Eq(out.Balance)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountMismatch, proof.Address)
	}
	return out, nil
}

// VerifyStorage verifies a slot proof against an account's storage root.
// An absent slot proves a zero value; present reports which case applied.
func VerifyStorage(storageRoot common.Hash, proof *StorageProof) (value *uint256.Int, present bool, err error) {
	value = new(uint256.Int)
	if storageRoot == types.EmptyRootHash {
		// Empty storage has no nodes to walk.
		if proof.Value != nil && !proof.Value.IsZero() {
			return nil, false, fmt.Errorf("%w: slot %s", ErrStorageValueMismatch, proof.Key)
		}
		return value, false, nil
	}

	val, err := verify(storageRoot, crypto.Keccak256(proof.Key[:]), proof.Proof)
	if err != nil {
		return nil, false, fmt.Errorf("%w: slot %s: %v", ErrProofInvalid, proof.Key, err)
	}
	if val != nil {
		_, content, _, err := rlp.Split(val)
		if err != nil || len(content) > 32 {
			return nil, false, fmt.Errorf("%w: slot %s: bad value encoding", ErrProofInvalid, proof.Key)
		}
		value.SetBytes(content)
		present = true
	}
	if proof.Value != nil && !proof.Value.Eq(value) {
		return nil, false, fmt.Errorf("%w: slot %s", ErrStorageValueMismatch, proof.Key)
	}
	return value, present, nil
}

// verify walks proof nodes for key under root. A nil value with a nil
// error is a valid proof of absence.
func verify(root common.Hash, key []byte, nodes [][]byte) ([]byte, error) {
	db := memorydb.New()
	for _, n := range nodes {
		if err := db.Put(crypto.Keccak256(n), n); err != nil {
			return nil, err
		}
	}
	return gethtrie.VerifyProof(root, key, db)
}
