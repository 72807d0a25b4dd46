package ssz

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// BytesPerChunk is the number of bytes in each leaf chunk for Merkleization.
const BytesPerChunk = 32

// hash combines two 32-byte inputs using SHA-256.
func hash(a, b [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[:32], a[:])
	copy(combined[32:], b[:])
	return sha256.Sum256(combined[:])
}

// maxZeroHashDepth bounds the precomputed zero-subtree table.
const maxZeroHashDepth = 64

var (
	zeroHashesOnce sync.Once
	zeroHashTable  [maxZeroHashDepth + 1][32]byte
)

// ZeroHash returns the root of a depth-d subtree of zero chunks.
func ZeroHash(depth int) [32]byte {
	zeroHashesOnce.Do(func() {
		for i := 1; i <= maxZeroHashDepth; i++ {
			zeroHashTable[i] = hash(zeroHashTable[i-1], zeroHashTable[i-1])
		}
	})
	if depth < 0 || depth > maxZeroHashDepth {
		return [32]byte{}
	}
	return zeroHashTable[depth]
}

// ConcatHash computes SHA-256(a || b).
func ConcatHash(a, b [32]byte) [32]byte {
	return hash(a, b)
}

// nextPowerOfTwo returns the smallest power of 2 >= n.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// treeDepth returns log2 of a power-of-two leaf count.
func treeDepth(limit int) int {
	d := 0
	for (1 << uint(d)) < limit {
		d++
	}
	return d
}

// Pack packs serialized bytes into 32-byte chunks, right-padding the last
// chunk with zeros.
func Pack(serialized []byte) [][32]byte {
	if len(serialized) == 0 {
		return nil
	}
	numChunks := (len(serialized) + BytesPerChunk - 1) / BytesPerChunk
	chunks := make([][32]byte, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * BytesPerChunk
		end := start + BytesPerChunk
		if end > len(serialized) {
			end = len(serialized)
		}
		copy(chunks[i][:], serialized[start:end])
	}
	return chunks
}

// Merkleize computes the Merkle root of chunks padded to limit leaves. A
// zero limit uses the chunk count. Padding is filled from the zero-hash
// table, so large limits cost no more than the populated part of the tree.
func Merkleize(chunks [][32]byte, limit int) [32]byte {
	if limit < len(chunks) {
		limit = len(chunks)
	}
	limit = nextPowerOfTwo(limit)
	depth := treeDepth(limit)

	layer := append([][32]byte(nil), chunks...)
	if len(layer) == 0 {
		return ZeroHash(depth)
	}
	for d := 0; d < depth; d++ {
		if len(layer)%2 == 1 {
			layer = append(layer, ZeroHash(d))
		}
		next := make([][32]byte, len(layer)/2)
		for i := range next {
			next[i] = hash(layer[2*i], layer[2*i+1])
		}
		layer = next
	}
	return layer[0]
}

// MixInLength mixes a Merkle root with a list length.
func MixInLength(root [32]byte, length uint64) [32]byte {
	var lengthChunk [32]byte
	binary.LittleEndian.PutUint64(lengthChunk[:8], length)
	return hash(root, lengthChunk)
}

// HashTreeRootUint64 computes the hash tree root of a uint64.
func HashTreeRootUint64(v uint64) [32]byte {
	var chunk [32]byte
	binary.LittleEndian.PutUint64(chunk[:8], v)
	return chunk
}

// HashTreeRootByteVector computes the root of a fixed-size byte vector
// (Bytes20, Bytes32, Bytes48, Bytes96, Bytes256, ...).
func HashTreeRootByteVector(b []byte) [32]byte {
	if len(b) <= BytesPerChunk {
		var chunk [32]byte
		copy(chunk[:], b)
		return chunk
	}
	return Merkleize(Pack(b), 0)
}

// HashTreeRootByteList computes the root of a ByteList[maxLen].
func HashTreeRootByteList(b []byte, maxLen int) ([32]byte, error) {
	if len(b) > maxLen {
		return [32]byte{}, ErrListTooLong
	}
	limit := (maxLen + BytesPerChunk - 1) / BytesPerChunk
	return MixInLength(Merkleize(Pack(b), limit), uint64(len(b))), nil
}

// HashTreeRootVector computes the root of a vector of composite elements
// given their roots.
func HashTreeRootVector(roots [][32]byte) [32]byte {
	return Merkleize(roots, 0)
}

// HashTreeRootContainer computes the root of a container from its field
// roots in declaration order.
func HashTreeRootContainer(fields ...[32]byte) [32]byte {
	return Merkleize(fields, 0)
}
