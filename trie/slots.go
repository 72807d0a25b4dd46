package trie

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/crypto"
)

// Slot returns the storage key of a fixed slot number.
func Slot(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// AddressKey left-pads an address into a mapping key.
func AddressKey(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// Uint64Key left-pads an integer into a mapping key.
func Uint64Key(v uint64) common.Hash {
	return Slot(v)
}

// MappingSlot returns the storage key of m[key] for a mapping declared at
// slot, following the Solidity layout keccak256(pad(key) ++ pad(slot)).
func MappingSlot(key, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(key[:], slot[:])
}

// NestedMappingSlot returns the storage key of m[outer][inner].
func NestedMappingSlot(outer, inner, slot common.Hash) common.Hash {
	return MappingSlot(inner, MappingSlot(outer, slot))
}
