package encoding

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedRoundTrip(t *testing.T) {
	var buf []byte
	buf = PutFixed8(buf, 0xab)
	buf = PutFixed16(buf, 0x1234)
	buf = PutFixed32(buf, 0xdeadbeef)
	buf = PutFixed64(buf, 0x0102030405060708)
	require.Len(t, buf, 1+2+4+8)

	v8, ok := GetFixed8(&buf)
	require.True(t, ok)
	assert.Equal(t, uint8(0xab), v8)

	v16, ok := GetFixed16(&buf)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), v16)

	v32, ok := GetFixed32(&buf)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), v32)

	v64, ok := GetFixed64(&buf)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), v64)

	assert.Empty(t, buf)
}

func TestFixedIsBigEndian(t *testing.T) {
	buf := make([]byte, 4)
	EncodeFixed32(buf, 1)
	assert.Equal(t, []byte{0, 0, 0, 1}, buf)

	buf = make([]byte, 8)
	EncodeFixed64(buf, 0x0100)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, buf)
}

func TestFixedShortInput(t *testing.T) {
	in := []byte{1, 2, 3}
	_, ok := GetFixed32(&in)
	assert.False(t, ok)
	assert.Len(t, in, 3, "failed read must not consume input")

	_, ok = GetFixed64(&in)
	assert.False(t, ok)

	empty := []byte{}
	_, ok = GetFixed8(&empty)
	assert.False(t, ok)
}

func TestFixed64PreservesOrder(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 1 << 32, math.MaxUint64 - 1, math.MaxUint64}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = PutFixed64(nil, v)
	}
	assert.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
}

func TestDoubleRoundTripAndOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e300, -3.5, -1, -math.SmallestNonzeroFloat64, 0, math.SmallestNonzeroFloat64, 0.5, 1, 42.25, 1e300, math.Inf(1)}

	var prev []byte
	for _, v := range values {
		enc := PutDouble(nil, v)
		require.Len(t, enc, 8)

		in := enc
		got, ok := GetDouble(&in)
		require.True(t, ok)
		assert.Equal(t, v, got)

		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, enc), "encoding of %v must sort after its predecessor", v)
		}
		prev = enc
	}
}

func TestVarint32(t *testing.T) {
	cases := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{300, 2},
		{16383, 2},
		{16384, 3},
		{1<<21 - 1, 3},
		{1 << 21, 4},
		{1<<28 - 1, 4},
		{1 << 28, 5},
		{math.MaxUint32, 5},
	}

	for _, tc := range cases {
		enc := PutVarint32(nil, tc.value)
		assert.Len(t, enc, tc.size, "value %d", tc.value)

		in := append(enc, 0xff)
		got, ok := GetVarint32(&in)
		require.True(t, ok, "value %d", tc.value)
		assert.Equal(t, tc.value, got)
		assert.Equal(t, []byte{0xff}, in, "trailing bytes must be left in place")
	}
}

func TestVarint32KnownBytes(t *testing.T) {
	assert.Equal(t, []byte{0xac, 0x02}, PutVarint32(nil, 300))

	buf := make([]byte, MaxVarint32Len)
	n := EncodeVarint32(buf, 300)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xac, 0x02}, buf[:n])
}

func TestVarint32Malformed(t *testing.T) {
	truncated := []byte{0x80, 0x80}
	_, ok := GetVarint32(&truncated)
	assert.False(t, ok)
	assert.Len(t, truncated, 2)

	tooLong := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, ok = GetVarint32(&tooLong)
	assert.False(t, ok)

	empty := []byte{}
	_, ok = GetVarint32(&empty)
	assert.False(t, ok)
}

func TestLengthPrefixed(t *testing.T) {
	var buf []byte
	buf = PutLengthPrefixed(buf, []byte("hello"))
	buf = PutLengthPrefixed(buf, []byte{})
	buf = PutLengthPrefixed(buf, []byte("a\x00b"))

	for _, want := range [][]byte{[]byte("hello"), {}, []byte("a\x00b")} {
		got, ok := GetLengthPrefixed(&buf)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Empty(t, buf)

	short := PutVarint32(nil, 10)
	short = append(short, "abc"...)
	_, ok := GetLengthPrefixed(&short)
	assert.False(t, ok)
}
