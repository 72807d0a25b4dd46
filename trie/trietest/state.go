// Package trietest builds in-memory Merkle-Patricia state and produces
// eth_getProof shaped proofs from it, for fixtures across the module.
package trietest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/trie"
)

// nodeList collects proof nodes in the order the trie emits them (root
// first).
type nodeList [][]byte

func (n *nodeList) Put(key []byte, value []byte) error {
	*n = append(*n, common.CopyBytes(value))
	return nil
}

func (n *nodeList) Delete(key []byte) error { return nil }

type account struct {
	nonce   uint64
	balance *uint256.Int
	storage map[common.Hash]*uint256.Int
	code    common.Hash
}

// State is a mutable set of accounts. Call Root or Prove after the last
// mutation; both rebuild the tries.
type State struct {
	accounts map[common.Address]*account
}

// NewState returns an empty state.
func NewState() *State {
	return &State{accounts: make(map[common.Address]*account)}
}

func (s *State) get(addr common.Address) *account {
	a, ok := s.accounts[addr]
	if !ok {
		a = &account{
			balance: new(uint256.Int),
			storage: make(map[common.Hash]*uint256.Int),
			code:    types.EmptyCodeHash,
		}
		s.accounts[addr] = a
	}
	return a
}

// SetBalance creates the account if needed and sets its balance.
func (s *State) SetBalance(addr common.Address, v uint64) *State {
	s.get(addr).balance = uint256.NewInt(v)
	return s
}

// SetNonce creates the account if needed and sets its nonce.
func (s *State) SetNonce(addr common.Address, n uint64) *State {
	s.get(addr).nonce = n
	return s
}

// SetCode marks the account as a contract with the given code hash.
func (s *State) SetCode(addr common.Address, code []byte) *State {
	s.get(addr).code = crypto.Keccak256Hash(code)
	return s
}

// SetStorage writes a slot. Zero values delete the slot.
func (s *State) SetStorage(addr common.Address, slot common.Hash, v *uint256.Int) *State {
	a := s.get(addr)
	if v == nil || v.IsZero() {
		delete(a.storage, slot)
		return s
	}
	a.storage[slot] = new(uint256.Int).Set(v)
	return s
}

func newTrie() *gethtrie.Trie {
	return gethtrie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
}

func (s *State) storageTrie(a *account) *gethtrie.Trie {
	tr := newTrie()
	for slot, v := range a.storage {
		enc, _ := rlp.EncodeToBytes(v.Bytes())
		tr.MustUpdate(crypto.Keccak256(slot[:]), enc)
	}
	return tr
}

func (s *State) stateTrie() (*gethtrie.Trie, map[common.Address]*gethtrie.Trie) {
	tr := newTrie()
	storage := make(map[common.Address]*gethtrie.Trie, len(s.accounts))
	for addr, a := range s.accounts {
		st := s.storageTrie(a)
		storage[addr] = st
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    a.nonce,
			Balance:  a.balance,
			Root:     st.Hash(),
			CodeHash: a.code.Bytes(),
		})
		if err != nil {
			panic(err)
		}
		tr.MustUpdate(crypto.Keccak256(addr[:]), enc)
	}
	return tr, storage
}

// Root returns the state root.
func (s *State) Root() common.Hash {
	tr, _ := s.stateTrie()
	return tr.Hash()
}

// Prove returns the account proof for addr with storage proofs for slots.
// Absent accounts and slots produce exclusion proofs.
func (s *State) Prove(addr common.Address, slots ...common.Hash) *trie.AccountProof {
	tr, storage := s.stateTrie()
	tr.Hash()

	var nodes nodeList
	if err := tr.Prove(crypto.Keccak256(addr[:]), &nodes); err != nil {
		panic(err)
	}
	out := &trie.AccountProof{
		Address:     addr,
		Balance:     new(uint256.Int),
		StorageHash: types.EmptyRootHash,
		CodeHash:    types.EmptyCodeHash,
		Proof:       nodes,
	}
	a, ok := s.accounts[addr]
	if !ok {
		return out
	}
	st := storage[addr]
	out.Balance = new(uint256.Int).Set(a.balance)
	out.Nonce = a.nonce
	out.StorageHash = st.Hash()
	out.CodeHash = a.code
	for _, slot := range slots {
		var sn nodeList
		if out.StorageHash != types.EmptyRootHash {
			if err := st.Prove(crypto.Keccak256(slot[:]), &sn); err != nil {
				panic(err)
			}
		}
		v := new(uint256.Int)
		if sv, ok := a.storage[slot]; ok {
			v.Set(sv)
		}
		out.Storage = append(out.Storage, trie.StorageProof{Key: slot, Value: v, Proof: sn})
	}
	return out
}
