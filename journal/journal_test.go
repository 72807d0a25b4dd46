package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func position(i uint64) Position {
	return Position{
		User:          common.BytesToAddress([]byte{0xaa, byte(i)}),
		Market:        common.BytesToAddress([]byte{0xbb, byte(i)}),
		AmountIn:      *uint256.NewInt(1000 + i),
		AmountOut:     *new(uint256.Int).Lsh(uint256.NewInt(i+1), 200),
		ChainID:       1,
		TargetChainID: 59144,
		L1Inclusion:   i%2 == 0,
	}
}

func commitment(anchors, positions int) *Commitment {
	c := &Commitment{Version: Version, L1Inclusion: true}
	for i := 0; i < anchors; i++ {
		c.Anchors = append(c.Anchors, Anchor{
			ChainID:     uint64(i + 1),
			Family:      uint8(i%3 + 1),
			BlockNumber: 20_000_000 + uint64(i),
			BlockHash:   common.Hash{0x01, byte(i)},
			StateRoot:   common.Hash{0x02, byte(i)},
			TrustRoot:   common.Hash{0x03, byte(i)},
		})
	}
	for i := 0; i < positions; i++ {
		c.Positions = append(c.Positions, position(uint64(i)))
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		c := commitment(min(n, 2), n)
		enc, err := Encode(c)
		if err != nil {
			t.Fatalf("n=%d: Encode: %v", n, err)
		}
		if len(enc) != c.Size() {
			t.Fatalf("n=%d: len = %d, want %d", n, len(enc), c.Size())
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("n=%d: Decode: %v", n, err)
		}
		if !reflect.DeepEqual(dec, c) {
			t.Fatalf("n=%d: round trip mismatch:\n got %+v\nwant %+v", n, dec, c)
		}
	}
}

func TestLayout(t *testing.T) {
	c := commitment(1, 1)
	enc, _ := Encode(c)
	if enc[0] != Version || enc[1] != 1 || binary.BigEndian.Uint16(enc[2:4]) != 1 {
		t.Fatalf("header = %x", enc[:4])
	}
	a := enc[HeaderSize:]
	if binary.BigEndian.Uint64(a[:8]) != 1 || a[8] != 1 || binary.BigEndian.Uint64(a[9:17]) != 20_000_000 {
		t.Fatalf("anchor = %x", a[:AnchorSize])
	}
	p := enc[HeaderSize+AnchorSize:]
	if binary.BigEndian.Uint32(p[:4]) != 1 {
		t.Fatalf("position count = %x", p[:4])
	}
	p = p[4:]
	if !bytes.Equal(p[:20], c.Positions[0].User[:]) {
		t.Fatalf("user = %x", p[:20])
	}
	if got := new(uint256.Int).SetBytes(p[40:72]); got.Uint64() != 1000 {
		t.Fatalf("amountIn = %s, want 1000", got)
	}
	if binary.BigEndian.Uint64(p[160:168]) != 59144 || p[168] != 1 {
		t.Fatalf("position tail = %x", p[136:])
	}
}

func TestDecode_Errors(t *testing.T) {
	good, _ := Encode(commitment(2, 3))
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"version", mutate(func(b []byte) []byte { b[0] = 2; return b }), ErrVersion},
		{"flag", mutate(func(b []byte) []byte { b[1] = 2; return b }), ErrBool},
		{"truncated anchors", good[:HeaderSize+AnchorSize], ErrTruncated},
		{"no count", good[:HeaderSize+2*AnchorSize], ErrTruncated},
		{"truncated position", good[:len(good)-1], ErrTruncated},
		{"trailing", append(append([]byte(nil), good...), 0), ErrTrailing},
		{"position flag", mutate(func(b []byte) []byte { b[len(b)-1] = 9; return b }), ErrBool},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.in); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}

	// Chain ids are 64-bit in memory; a wider word is rejected.
	wide := mutate(func(b []byte) []byte { b[HeaderSize+2*AnchorSize+CountSize+104] = 1; return b })
	if _, err := Decode(wide); err == nil {
		t.Fatal("Decode accepted a chain id wider than 64 bits")
	}
}

func TestEncode_Version(t *testing.T) {
	if _, err := Encode(&Commitment{Version: 0}); !errors.Is(err, ErrVersion) {
		t.Fatalf("err = %v, want %v", err, ErrVersion)
	}
}

func TestDeterministic(t *testing.T) {
	a, _ := Encode(commitment(2, 4))
	b, _ := Encode(commitment(2, 4))
	if !bytes.Equal(a, b) || Digest(a) != Digest(b) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestSeal(t *testing.T) {
	raw := []byte{1, 2, 3}
	enc := EncodeSeal(Selector{0xc1, 0x01, 0x02, 0x03}, raw)
	if len(enc) != 7 || enc[0] != 0xc1 {
		t.Fatalf("EncodeSeal = %x", enc)
	}
	sel, seal, err := DecodeSeal(enc)
	if err != nil || sel != (Selector{0xc1, 0x01, 0x02, 0x03}) || !bytes.Equal(seal, raw) {
		t.Fatalf("DecodeSeal = %s %x %v", sel, seal, err)
	}
	if _, _, err := DecodeSeal([]byte{1, 2}); !errors.Is(err, ErrSealShort) {
		t.Fatalf("short seal: err = %v, want %v", err, ErrSealShort)
	}
}
