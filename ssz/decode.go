package ssz

import "encoding/binary"

// UnmarshalBool decodes a boolean from a single byte.
func UnmarshalBool(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, ErrSize
	}
	switch data[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

// UnmarshalUint32 decodes a uint32 from 4 bytes little-endian.
func UnmarshalUint32(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, ErrSize
	}
	return binary.LittleEndian.Uint32(data), nil
}

// UnmarshalUint64 decodes a uint64 from 8 bytes little-endian.
func UnmarshalUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, ErrSize
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadOffset reads the variable-field offset at pos and checks it points
// inside a buffer of length size, at or after the fixed part.
func ReadOffset(data []byte, pos, fixedSize int) (int, error) {
	if pos+BytesPerLengthOffset > len(data) {
		return 0, ErrSize
	}
	off := int(binary.LittleEndian.Uint32(data[pos : pos+BytesPerLengthOffset]))
	if off < fixedSize || off > len(data) {
		return 0, ErrOffset
	}
	return off, nil
}

// MarshalUint64 encodes v as 8 bytes little-endian.
func MarshalUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// MarshalUint32 encodes v as 4 bytes little-endian.
func MarshalUint32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
