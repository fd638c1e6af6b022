// Package encoding implements the fixed-width and variable-length integer
// codecs used to lay out keys and values in the ordered storage engine.
//
// Fixed-width integers are written big endian so that the byte order of an
// encoded value matches its numeric order; doubles are stored with their sign
// bit flipped for the same reason. Varints use the LEB128 layout shared with
// LevelDB and RocksDB.
//
// The Get* functions consume bytes from the front of the input slice and
// report false when the input is too short or malformed.
package encoding

import (
	"encoding/binary"
	"math"
)

// MaxVarint32Len is the maximum number of bytes a varint32 occupies.
const MaxVarint32Len = 5

// EncodeFixed8 writes value into buf[0].
func EncodeFixed8(buf []byte, value uint8) {
	buf[0] = value
}

// EncodeFixed16 writes value big endian into buf[:2].
func EncodeFixed16(buf []byte, value uint16) {
	binary.BigEndian.PutUint16(buf, value)
}

// EncodeFixed32 writes value big endian into buf[:4].
func EncodeFixed32(buf []byte, value uint32) {
	binary.BigEndian.PutUint32(buf, value)
}

// EncodeFixed64 writes value big endian into buf[:8].
func EncodeFixed64(buf []byte, value uint64) {
	binary.BigEndian.PutUint64(buf, value)
}

// PutFixed8 appends value to dst.
func PutFixed8(dst []byte, value uint8) []byte {
	return append(dst, value)
}

// PutFixed16 appends value to dst.
func PutFixed16(dst []byte, value uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, value)
}

// PutFixed32 appends value to dst.
func PutFixed32(dst []byte, value uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, value)
}

// PutFixed64 appends value to dst.
func PutFixed64(dst []byte, value uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, value)
}

// DecodeFixed16 reads a big endian uint16 from ptr[:2].
func DecodeFixed16(ptr []byte) uint16 {
	return binary.BigEndian.Uint16(ptr)
}

// DecodeFixed32 reads a big endian uint32 from ptr[:4].
func DecodeFixed32(ptr []byte) uint32 {
	return binary.BigEndian.Uint32(ptr)
}

// DecodeFixed64 reads a big endian uint64 from ptr[:8].
func DecodeFixed64(ptr []byte) uint64 {
	return binary.BigEndian.Uint64(ptr)
}

// GetFixed8 consumes one byte from input.
func GetFixed8(input *[]byte) (uint8, bool) {
	if len(*input) < 1 {
		return 0, false
	}
	v := (*input)[0]
	*input = (*input)[1:]
	return v, true
}

// GetFixed16 consumes a fixed16 from input.
func GetFixed16(input *[]byte) (uint16, bool) {
	if len(*input) < 2 {
		return 0, false
	}
	v := DecodeFixed16(*input)
	*input = (*input)[2:]
	return v, true
}

// GetFixed32 consumes a fixed32 from input.
func GetFixed32(input *[]byte) (uint32, bool) {
	if len(*input) < 4 {
		return 0, false
	}
	v := DecodeFixed32(*input)
	*input = (*input)[4:]
	return v, true
}

// GetFixed64 consumes a fixed64 from input.
func GetFixed64(input *[]byte) (uint64, bool) {
	if len(*input) < 8 {
		return 0, false
	}
	v := DecodeFixed64(*input)
	*input = (*input)[8:]
	return v, true
}

// PutDouble appends value in an order-preserving 8 byte form: positive
// numbers get their sign bit set, negative numbers have every bit inverted.
func PutDouble(dst []byte, value float64) []byte {
	u := math.Float64bits(value)
	if u>>63 == 1 {
		u ^= 0xffffffffffffffff
	} else {
		u |= 0x8000000000000000
	}
	return PutFixed64(dst, u)
}

// DecodeDouble reverses PutDouble for ptr[:8].
func DecodeDouble(ptr []byte) float64 {
	u := DecodeFixed64(ptr)
	if u>>63 == 0 {
		u ^= 0xffffffffffffffff
	} else {
		u &= 0x7fffffffffffffff
	}
	return math.Float64frombits(u)
}

// GetDouble consumes a double written by PutDouble.
func GetDouble(input *[]byte) (float64, bool) {
	if len(*input) < 8 {
		return 0, false
	}
	v := DecodeDouble(*input)
	*input = (*input)[8:]
	return v, true
}

// EncodeVarint32 writes v into buf and returns the number of bytes used.
// buf must hold at least MaxVarint32Len bytes.
func EncodeVarint32(buf []byte, v uint32) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// PutVarint32 appends v to dst.
func PutVarint32(dst []byte, v uint32) []byte {
	var buf [MaxVarint32Len]byte
	n := EncodeVarint32(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetVarint32 consumes a varint32 from input. It fails on truncated input
// and on encodings longer than MaxVarint32Len bytes.
func GetVarint32(input *[]byte) (uint32, bool) {
	var result uint32
	p := *input
	for i, shift := 0, uint(0); shift <= 28 && i < len(p); i, shift = i+1, shift+7 {
		b := uint32(p[i])
		if b&0x80 != 0 {
			result |= (b & 0x7f) << shift
			continue
		}
		result |= b << shift
		*input = p[i+1:]
		return result, true
	}
	return 0, false
}

// PutLengthPrefixed appends varint32(len(value)) followed by value.
func PutLengthPrefixed(dst, value []byte) []byte {
	dst = PutVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// GetLengthPrefixed consumes a slice written by PutLengthPrefixed. The
// returned slice aliases input.
func GetLengthPrefixed(input *[]byte) ([]byte, bool) {
	rest := *input
	n, ok := GetVarint32(&rest)
	if !ok || uint64(len(rest)) < uint64(n) {
		return nil, false
	}
	*input = rest[n:]
	return rest[:n:n], true
}
