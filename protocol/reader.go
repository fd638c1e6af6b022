package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// DefaultMaxBulkSize is the largest bulk string a Reader accepts (512MB, as Redis)
	DefaultMaxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements of one array
	maxArraySize = 1024 * 1024
)

var (
	// ErrProtocol wraps every malformed-input error returned by Reader
	ErrProtocol = errors.New("Protocol error")

	crlfBytes = []byte(CRLF)
)

func protoErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Reader is a streaming RESP reader. Besides RESP2 and the RESP3 scalar
// types it accepts inline commands ("PING\r\n"), which it returns as an
// array of bulk strings.
type Reader struct {
	br          *bufio.Reader
	maxBulkSize int64
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithMaxBulkSize caps the length of bulk strings
func WithMaxBulkSize(n int64) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxBulkSize = n
		}
	}
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	rd := &Reader{
		br:          bufio.NewReader(r),
		maxBulkSize: DefaultMaxBulkSize,
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch t := ValueType(typeByte); t {
	case TypeSimpleString, TypeError:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Data: line}, nil
	case TypeInteger:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		n, err := parseInt64(line)
		if err != nil {
			return Value{}, protoErrorf("invalid integer %q", line)
		}
		return Integer(n), nil
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	case TypeNull:
		if _, err := r.readLine(); err != nil {
			return Value{}, err
		}
		return Null(), nil
	case TypeBoolean:
		return r.readBoolean()
	case TypeDouble:
		return r.readDouble()
	}

	if err := r.br.UnreadByte(); err != nil {
		return Value{}, err
	}
	return r.readInline()
}

// parseInt64 parses a decimal int64 without allocating
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	neg := b[0] == '-'
	if neg || b[0] == '+' {
		b = b[1:]
	}
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		if n > (math.MaxInt64-int64(c-'0'))/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		return -n, nil
	}
	return n, nil
}

// readLength reads the length header of a bulk string or array. -1 means null.
func (r *Reader) readLength(what string, max int64) (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := parseInt64(line)
	if err != nil || n < -1 || n > max {
		return 0, protoErrorf("invalid %s length %q", what, line)
	}
	return n, nil
}

func (r *Reader) readBulkString() (Value, error) {
	n, err := r.readLength("bulk", r.maxBulkSize)
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: TypeBulkString, IsNull: true}, nil
	}

	// payload and its CRLF in one read
	data := make([]byte, n+2)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}
	if !bytes.Equal(data[n:], crlfBytes) {
		return Value{}, protoErrorf("bulk string of %d bytes not followed by CRLF", n)
	}
	return Value{Type: TypeBulkString, Data: data[:n:n]}, nil
}

func (r *Reader) readArray() (Value, error) {
	n, err := r.readLength("multibulk", maxArraySize)
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: TypeArray, IsNull: true}, nil
	}

	items := make([]Value, n)
	for i := range items {
		if items[i], err = r.ReadNext(); err != nil {
			return Value{}, err
		}
	}
	return Value{Type: TypeArray, Array: items}, nil
}

// readBoolean reads a RESP3 boolean (#t / #f)
func (r *Reader) readBoolean() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	switch string(line) {
	case "t":
		return Boolean(true), nil
	case "f":
		return Boolean(false), nil
	}
	return Value{}, protoErrorf("invalid boolean %q", line)
}

// readDouble reads a RESP3 double
func (r *Reader) readDouble() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	switch string(line) {
	case "inf":
		return Double(math.Inf(1)), nil
	case "-inf":
		return Double(math.Inf(-1)), nil
	}
	f, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return Value{}, protoErrorf("invalid double %q", line)
	}
	return Double(f), nil
}

// readInline reads a space separated command line no longer than the read
// buffer. A bare LF terminator is accepted.
func (r *Reader) readInline() (Value, error) {
	line, err := r.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return Value{}, protoErrorf("too big inline request")
	}
	if err != nil {
		return Value{}, err
	}

	fields := bytes.Fields(line)
	items := make([]Value, len(fields))
	for i, f := range fields {
		items[i] = Bulk(append([]byte(nil), f...))
	}
	return Value{Type: TypeArray, Array: items}, nil
}

// readLine reads a line terminated by CRLF, without the terminator
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(line, crlfBytes) {
		return nil, protoErrorf("line %q not terminated by CRLF", line)
	}
	return line[:len(line)-2], nil
}
