package storage

import (
	"fmt"
	"sort"

	"github.com/raniellyferreira/kvscript/encoding"
)

// ValueType represents the Redis data type of a stored value
type ValueType byte

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeHash
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeHash:
		return "hash"
	default:
		return "none"
	}
}

// recordHeaderLen is fixed8(type) + fixed64(expire-at)
const recordHeaderLen = 9

// record is the decoded form of a user value
type record struct {
	typ      ValueType
	expireAt int64 // unix ms, 0 means no expiry
	payload  []byte
}

func (r *record) expired(nowMs int64) bool {
	return r.expireAt > 0 && r.expireAt <= nowMs
}

func encodeRecord(r *record) []byte {
	buf := make([]byte, 0, recordHeaderLen+len(r.payload))
	buf = encoding.PutFixed8(buf, uint8(r.typ))
	buf = encoding.PutFixed64(buf, uint64(r.expireAt))
	return append(buf, r.payload...)
}

func decodeRecord(raw []byte) (*record, error) {
	input := raw
	typ, ok := encoding.GetFixed8(&input)
	if !ok {
		return nil, fmt.Errorf("storage: truncated value header")
	}
	expireAt, ok := encoding.GetFixed64(&input)
	if !ok {
		return nil, fmt.Errorf("storage: truncated value header")
	}
	switch ValueType(typ) {
	case ValueTypeString, ValueTypeHash:
	default:
		return nil, fmt.Errorf("storage: unknown value type %d", typ)
	}
	return &record{
		typ:      ValueType(typ),
		expireAt: int64(expireAt),
		payload:  append([]byte(nil), input...),
	}, nil
}

// Field is one hash field and its value
type Field struct {
	Name  string
	Value []byte
}

// encodeHash writes varint32(n) followed by n length-prefixed field/value
// pairs sorted by field name
func encodeHash(fields map[string][]byte) []byte {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := encoding.PutVarint32(nil, uint32(len(names)))
	for _, name := range names {
		buf = encoding.PutLengthPrefixed(buf, []byte(name))
		buf = encoding.PutLengthPrefixed(buf, fields[name])
	}
	return buf
}

func decodeHash(payload []byte) (map[string][]byte, error) {
	input := payload
	n, ok := encoding.GetVarint32(&input)
	if !ok {
		return nil, fmt.Errorf("storage: corrupt hash header")
	}
	fields := make(map[string][]byte, n)
	for i := uint32(0); i < n; i++ {
		name, ok := encoding.GetLengthPrefixed(&input)
		if !ok {
			return nil, fmt.Errorf("storage: corrupt hash field %d", i)
		}
		value, ok := encoding.GetLengthPrefixed(&input)
		if !ok {
			return nil, fmt.Errorf("storage: corrupt hash value %d", i)
		}
		fields[string(name)] = append([]byte(nil), value...)
	}
	return fields, nil
}
