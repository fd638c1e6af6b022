package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 value types
	TypeNull    ValueType = '_'
	TypeBoolean ValueType = '#'
	TypeDouble  ValueType = ','
)

// Value represents a parsed RESP value. It is a tagged variant: Type selects
// which of the payload fields is meaningful.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Double  float64
	Bool    bool
	Array   []Value
	IsNull  bool
}

// Integer returns an integer reply
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk returns a bulk string reply
func Bulk(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// BulkString returns a bulk string reply from s
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// Status returns a simple string reply
func Status(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// OK returns the +OK status reply
func OK() Value {
	return Status("OK")
}

// Error returns an error reply
func Error(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Errorf returns an error reply built with fmt.Sprintf
func Errorf(format string, args ...interface{}) Value {
	return Error(fmt.Sprintf(format, args...))
}

// Null returns the null reply
func Null() Value {
	return Value{Type: TypeNull, IsNull: true}
}

// Array returns an array reply holding values
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// Boolean returns a RESP3 boolean reply
func Boolean(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// Double returns a RESP3 double reply
func Double(f float64) Value {
	return Value{Type: TypeDouble, Double: f}
}

// IsNil reports whether v is any flavour of null reply
func (v Value) IsNil() bool {
	return v.Type == TypeNull || v.IsNull
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeNull:
		return "(nil)"
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeDouble:
		return FormatDouble(v.Double)
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Equal reports whether two values carry the same type and payload
func (v Value) Equal(o Value) bool {
	if v.IsNil() || o.IsNil() {
		return v.IsNil() && o.IsNil()
	}
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeInteger:
		return v.Integer == o.Integer
	case TypeBoolean:
		return v.Bool == o.Bool
	case TypeDouble:
		return v.Double == o.Double
	case TypeArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	default:
		return string(v.Data) == string(o.Data)
	}
}

// FormatDouble renders f the way Redis prints doubles
func FormatDouble(f float64) string {
	return strconv.FormatFloat(f, 'g', 17, 64)
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	// First element is the command name
	if v.Array[0].Type != TypeBulkString {
		return nil, fmt.Errorf("command name must be bulk string")
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	// Remaining elements are arguments
	for i := 1; i < len(v.Array); i++ {
		if v.Array[i].Type != TypeBulkString {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

// Argv returns the command name followed by its arguments
func (c *Command) Argv() [][]byte {
	argv := make([][]byte, 0, len(c.Args)+1)
	argv = append(argv, []byte(c.Name))
	return append(argv, c.Args...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}
