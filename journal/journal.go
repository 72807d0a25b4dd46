// Package journal encodes the output commitment of a verification run in
// the fixed big-endian layout on-chain verifiers decode, and wraps proof
// seals with their verifier selector.
//
// Layout, version 1:
//
//	u8  version
//	u8  l1Inclusion
//	u16 anchorCount
//	anchorCount × (u64 chainId | u8 family | u64 blockNumber | 32 blockHash | 32 stateRoot | 32 trustRoot)
//	u32 positionCount
//	positionCount × (20 user | 20 market | 32 amountIn | 32 amountOut | 32 chainId | 32 targetChainId | 1 l1Inclusion)
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/crypto"
)

// Version is the only layout this package encodes.
const Version = 1

// Record sizes in bytes.
const (
	HeaderSize   = 4
	AnchorSize   = 8 + 1 + 8 + 32 + 32 + 32
	CountSize    = 4
	PositionSize = 20 + 20 + 32 + 32 + 32 + 32 + 1
)

var (
	ErrVersion   = errors.New("journal: unknown version")
	ErrTruncated = errors.New("journal: truncated")
	ErrTrailing  = errors.New("journal: trailing bytes")
	ErrTooMany   = errors.New("journal: too many records")
	ErrBool      = errors.New("journal: invalid boolean byte")
)

// Anchor records the block a chain's positions were read at.
type Anchor struct {
	ChainID     uint64
	Family      uint8
	BlockNumber uint64
	BlockHash   common.Hash
	StateRoot   common.Hash
	TrustRoot   common.Hash
}

// Position is one verified (user, market, target chain) position.
type Position struct {
	User          common.Address
	Market        common.Address
	AmountIn      uint256.Int
	AmountOut     uint256.Int
	ChainID       uint64
	TargetChainID uint64
	L1Inclusion   bool
}

// Commitment is the journal of one run.
type Commitment struct {
	Version     uint8
	L1Inclusion bool
	Anchors     []Anchor
	Positions   []Position
}

// Size returns the encoded length of c.
func (c *Commitment) Size() int {
	return HeaderSize + len(c.Anchors)*AnchorSize + CountSize + len(c.Positions)*PositionSize
}

func putBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func getBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: %#x", ErrBool, b)
}

// Encode serializes c.
func Encode(c *Commitment) ([]byte, error) {
	if c.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, c.Version)
	}
	if len(c.Anchors) > 0xffff {
		return nil, fmt.Errorf("%w: %d anchors", ErrTooMany, len(c.Anchors))
	}
	if uint64(len(c.Positions)) > 0xffffffff {
		return nil, fmt.Errorf("%w: %d positions", ErrTooMany, len(c.Positions))
	}
	out := make([]byte, 0, c.Size())
	out = append(out, c.Version, putBool(c.L1Inclusion))
	out = binary.BigEndian.AppendUint16(out, uint16(len(c.Anchors)))
	for i := range c.Anchors {
		a := &c.Anchors[i]
		out = binary.BigEndian.AppendUint64(out, a.ChainID)
		out = append(out, a.Family)
		out = binary.BigEndian.AppendUint64(out, a.BlockNumber)
		out = append(out, a.BlockHash[:]...)
		out = append(out, a.StateRoot[:]...)
		out = append(out, a.TrustRoot[:]...)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Positions)))
	for i := range c.Positions {
		p := &c.Positions[i]
		out = append(out, p.User[:]...)
		out = append(out, p.Market[:]...)
		in, amtOut := p.AmountIn.Bytes32(), p.AmountOut.Bytes32()
		out = append(out, in[:]...)
		out = append(out, amtOut[:]...)
		out = append(out, word(p.ChainID)...)
		out = append(out, word(p.TargetChainID)...)
		out = append(out, putBool(p.L1Inclusion))
	}
	return out, nil
}

// word returns v as a 32-byte big-endian word.
func word(v uint64) []byte {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:], v)
	return w[:]
}

// readWord decodes a 32-byte word that must fit in a uint64.
func readWord(b []byte) (uint64, error) {
	for _, x := range b[:24] {
		if x != 0 {
			return 0, errors.New("journal: chain id exceeds 64 bits")
		}
	}
	return binary.BigEndian.Uint64(b[24:32]), nil
}

// Decode parses a journal, rejecting unknown versions, truncation and
// trailing bytes.
func Decode(b []byte) (*Commitment, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header", ErrTruncated)
	}
	if b[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b[0])
	}
	incl, err := getBool(b[1])
	if err != nil {
		return nil, err
	}
	c := &Commitment{Version: b[0], L1Inclusion: incl}
	n := int(binary.BigEndian.Uint16(b[2:4]))
	b = b[HeaderSize:]
	if len(b) < n*AnchorSize {
		return nil, fmt.Errorf("%w: %d anchors in %d bytes", ErrTruncated, n, len(b))
	}
	for i := 0; i < n; i++ {
		r := b[i*AnchorSize:]
		a := Anchor{
			ChainID:     binary.BigEndian.Uint64(r[0:8]),
			Family:      r[8],
			BlockNumber: binary.BigEndian.Uint64(r[9:17]),
		}
		copy(a.BlockHash[:], r[17:49])
		copy(a.StateRoot[:], r[49:81])
		copy(a.TrustRoot[:], r[81:113])
		c.Anchors = append(c.Anchors, a)
	}
	b = b[n*AnchorSize:]

	if len(b) < CountSize {
		return nil, fmt.Errorf("%w: position count", ErrTruncated)
	}
	m := uint64(binary.BigEndian.Uint32(b[:CountSize]))
	b = b[CountSize:]
	if uint64(len(b)) < m*PositionSize {
		return nil, fmt.Errorf("%w: %d positions in %d bytes", ErrTruncated, m, len(b))
	}
	for i := uint64(0); i < m; i++ {
		r := b[i*PositionSize:]
		var p Position
		copy(p.User[:], r[0:20])
		copy(p.Market[:], r[20:40])
		p.AmountIn.SetBytes32(r[40:72])
		p.AmountOut.SetBytes32(r[72:104])
		if p.ChainID, err = readWord(r[104:136]); err != nil {
			return nil, err
		}
		if p.TargetChainID, err = readWord(r[136:168]); err != nil {
			return nil, err
		}
		if p.L1Inclusion, err = getBool(r[168]); err != nil {
			return nil, err
		}
		c.Positions = append(c.Positions, p)
	}
	if rest := uint64(len(b)) - m*PositionSize; rest != 0 {
		return nil, fmt.Errorf("%w: %d", ErrTrailing, rest)
	}
	return c, nil
}

// Digest is the hash a seal commits to.
func Digest(journal []byte) common.Hash {
	return crypto.Keccak256Hash(journal)
}
