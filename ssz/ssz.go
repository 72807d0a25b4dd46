// Package ssz implements the parts of Simple Serialize the light client and
// the rollup commitment decoder need: basic-type decoding, Merkleization of
// containers and vectors, and Merkle branch verification by generalized
// index.
//
// Spec: https://github.com/ethereum/consensus-specs/blob/dev/ssz/simple-serialize.md
package ssz

import "errors"

var (
	ErrSize           = errors.New("ssz: invalid size")
	ErrOffset         = errors.New("ssz: invalid offset")
	ErrListTooLong    = errors.New("ssz: list exceeds maximum length")
	ErrInvalidBool    = errors.New("ssz: invalid boolean value")
	ErrBranchLength   = errors.New("ssz: branch length does not match generalized index depth")
	ErrGeneralizedIdx = errors.New("ssz: generalized index must be >= 1")
	ErrBranchMismatch = errors.New("ssz: merkle branch does not lead to root")
)

// BytesPerLengthOffset is the size of a variable-length field offset.
const BytesPerLengthOffset = 4

// HashRoot is implemented by containers that can compute their hash tree
// root.
type HashRoot interface {
	HashTreeRoot() [32]byte
}
