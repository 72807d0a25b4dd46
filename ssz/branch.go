package ssz

// GeneralizedIndex returns the generalized index of leaf pos in a tree of
// the given depth. The root has generalized index 1.
func GeneralizedIndex(depth, pos int) uint64 {
	return (1 << uint(depth)) + uint64(pos)
}

// ConcatGeneralizedIndices composes indices along a path through nested
// containers, outermost first.
func ConcatGeneralizedIndices(indices ...uint64) uint64 {
	out := uint64(1)
	for _, gi := range indices {
		d := GeneralizedIndexDepth(gi)
		out = out<<uint(d) | (gi - (1 << uint(d)))
	}
	return out
}

// GeneralizedIndexDepth is floor(log2(gindex)).
func GeneralizedIndexDepth(gindex uint64) int {
	d := 0
	for gindex > 1 {
		gindex >>= 1
		d++
	}
	return d
}

// VerifyBranch checks that leaf sits at gindex under root, following the
// consensus-specs is_valid_merkle_branch. The branch lists siblings from
// the leaf upwards.
func VerifyBranch(leaf [32]byte, branch [][32]byte, gindex uint64, root [32]byte) error {
	if gindex == 0 {
		return ErrGeneralizedIdx
	}
	depth := GeneralizedIndexDepth(gindex)
	if len(branch) != depth {
		return ErrBranchLength
	}
	index := gindex - (1 << uint(depth))
	value := leaf
	for i := 0; i < depth; i++ {
		if (index>>uint(i))&1 == 1 {
			value = hash(branch[i], value)
		} else {
			value = hash(value, branch[i])
		}
	}
	if value != root {
		return ErrBranchMismatch
	}
	return nil
}

// Branch returns the sibling path of leaf index in the tree built from
// chunks padded to limit leaves. It is the inverse of VerifyBranch and is
// used by collectors and fixtures that assemble proofs locally.
func Branch(chunks [][32]byte, limit, index int) [][32]byte {
	if limit < len(chunks) {
		limit = len(chunks)
	}
	limit = nextPowerOfTwo(limit)
	depth := treeDepth(limit)

	layer := append([][32]byte(nil), chunks...)
	branch := make([][32]byte, 0, depth)
	for d := 0; d < depth; d++ {
		if len(layer)%2 == 1 {
			layer = append(layer, ZeroHash(d))
		}
		sib := index ^ 1
		if sib < len(layer) {
			branch = append(branch, layer[sib])
		} else {
			branch = append(branch, ZeroHash(d))
		}
		next := make([][32]byte, len(layer)/2)
		for i := range next {
			next[i] = hash(layer[2*i], layer[2*i+1])
		}
		layer = next
		index >>= 1
	}
	return branch
}
