package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var errorLineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// Writer writes RESP2 replies.
//
// RESP3-only values are downgraded on the way out: null becomes a null bulk
// string, booleans become 1 or 0 and doubles are sent as bulk strings.
type Writer struct {
	bw  *bufio.Writer
	num []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:  bufio.NewWriter(w),
		num: make([]byte, 0, 24),
	}
}

// WriteValue writes v and its children
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.writeLine('+', string(v.Data))
	case TypeError:
		return w.WriteError(string(v.Data))
	case TypeInteger:
		return w.writeHeader(':', v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return w.writeHeader('$', -1)
		}
		return w.WriteBulk(v.Data)
	case TypeArray:
		if v.IsNull {
			return w.writeHeader('*', -1)
		}
		if err := w.writeHeader('*', int64(len(v.Array))); err != nil {
			return err
		}
		for _, item := range v.Array {
			if err := w.WriteValue(item); err != nil {
				return err
			}
		}
		return nil
	case TypeNull:
		return w.writeHeader('$', -1)
	case TypeBoolean:
		if v.Bool {
			return w.writeHeader(':', 1)
		}
		return w.writeHeader(':', 0)
	case TypeDouble:
		return w.WriteBulk([]byte(FormatDouble(v.Double)))
	}
	return fmt.Errorf("unsupported value type: %c", v.Type)
}

// WriteError writes an error reply. Line breaks in msg are replaced by
// spaces so the reply stays on one line.
func (w *Writer) WriteError(msg string) error {
	return w.writeLine('-', errorLineBreaks.Replace(msg))
}

// WriteBulk writes a bulk string
func (w *Writer) WriteBulk(data []byte) error {
	if err := w.writeHeader('$', int64(len(data))); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	_, err := w.bw.WriteString(CRLF)
	return err
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// writeHeader writes prefix, n and CRLF
func (w *Writer) writeHeader(prefix byte, n int64) error {
	w.num = append(w.num[:0], prefix)
	w.num = strconv.AppendInt(w.num, n, 10)
	w.num = append(w.num, CRLF...)
	_, err := w.bw.Write(w.num)
	return err
}

func (w *Writer) writeLine(prefix byte, s string) error {
	if err := w.bw.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	_, err := w.bw.WriteString(CRLF)
	return err
}
