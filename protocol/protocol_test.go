package protocol_test

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/raniellyferreira/kvscript/protocol"
)

func TestReaderValues(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Value
	}{
		{"simple string", "+OK\r\n", protocol.Status("OK")},
		{"error", "-ERR unknown command\r\n", protocol.Error("ERR unknown command")},
		{"integer", ":42\r\n", protocol.Integer(42)},
		{"negative integer", ":-7\r\n", protocol.Integer(-7)},
		{"bulk string", "$5\r\nhello\r\n", protocol.BulkString("hello")},
		{"binary bulk string", "$3\r\na\x00b\r\n", protocol.BulkString("a\x00b")},
		{"empty bulk string", "$0\r\n\r\n", protocol.BulkString("")},
		{"null bulk string", "$-1\r\n", protocol.Null()},
		{"resp3 null", "_\r\n", protocol.Null()},
		{"resp3 true", "#t\r\n", protocol.Boolean(true)},
		{"resp3 false", "#f\r\n", protocol.Boolean(false)},
		{"resp3 double", ",3.25\r\n", protocol.Double(3.25)},
		{"resp3 infinity", ",-inf\r\n", protocol.Double(math.Inf(-1))},
		{
			"nested array",
			"*3\r\n:1\r\n*2\r\n$1\r\na\r\n$-1\r\n+done\r\n",
			protocol.Array(
				protocol.Integer(1),
				protocol.Array(protocol.BulkString("a"), protocol.Null()),
				protocol.Status("done"),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := protocol.NewReader(strings.NewReader(tt.input))
			value, err := reader.ReadNext()
			if err != nil {
				t.Fatalf("ReadNext() error = %v", err)
			}
			if !value.Equal(tt.expected) {
				t.Errorf("ReadNext() = %v (%c), want %v (%c)", value, value.Type, tt.expected, tt.expected.Type)
			}
		})
	}
}

func TestReaderRejectsMalformed(t *testing.T) {
	inputs := []string{
		"#x\r\n",
		",abc\r\n",
		":12a\r\n",
		"$5\r\nhi\r\n",
		"$3\r\nabcde\r\n",
		"*x\r\n",
		"+OK\n",
	}
	for _, in := range inputs {
		reader := protocol.NewReader(strings.NewReader(in))
		if _, err := reader.ReadNext(); err == nil {
			t.Errorf("ReadNext(%q) expected error", in)
		}
	}
}

func TestReaderInline(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("SET  key value\r\nPING\n\r\n"))

	tests := []protocol.Value{
		protocol.Array(protocol.BulkString("SET"), protocol.BulkString("key"), protocol.BulkString("value")),
		protocol.Array(protocol.BulkString("PING")),
		protocol.Array(),
	}
	for i, expected := range tests {
		value, err := reader.ReadNext()
		if err != nil {
			t.Fatalf("ReadNext() #%d error = %v", i, err)
		}
		if !value.Equal(expected) {
			t.Errorf("ReadNext() #%d = %v, want %v", i, value, expected)
		}
	}
}

func TestReaderMaxBulkSize(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("$10\r\n0123456789\r\n"), protocol.WithMaxBulkSize(4))
	_, err := reader.ReadNext()
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Errorf("ReadNext() error = %v, want ErrProtocol", err)
	}
}

func TestWriterDowngradesResp3(t *testing.T) {
	tests := []struct {
		name     string
		value    protocol.Value
		expected string
	}{
		{"status", protocol.OK(), "+OK\r\n"},
		{"error", protocol.Error("ERR boom"), "-ERR boom\r\n"},
		{"integer", protocol.Integer(42), ":42\r\n"},
		{"bulk", protocol.BulkString("hello"), "$5\r\nhello\r\n"},
		{"null", protocol.Null(), "$-1\r\n"},
		{"true", protocol.Boolean(true), ":1\r\n"},
		{"false", protocol.Boolean(false), ":0\r\n"},
		{"double", protocol.Double(1.5), "$3\r\n1.5\r\n"},
		{"empty array", protocol.Array(), "*0\r\n"},
		{
			"array",
			protocol.Array(protocol.BulkString("SET"), protocol.Integer(1)),
			"*2\r\n$3\r\nSET\r\n:1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writer := protocol.NewWriter(&buf)
			if err := writer.WriteValue(tt.value); err != nil {
				t.Fatalf("WriteValue() error = %v", err)
			}
			if err := writer.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
			if buf.String() != tt.expected {
				t.Errorf("WriteValue() = %q, want %q", buf.String(), tt.expected)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	value := protocol.Array(
		protocol.BulkString("eval"),
		protocol.BulkString("return 1"),
		protocol.BulkString("0"),
	)

	cmd, err := protocol.ParseCommand(value)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Name != "EVAL" {
		t.Errorf("Command name = %s, want EVAL", cmd.Name)
	}
	if len(cmd.Args) != 2 || string(cmd.Args[0]) != "return 1" {
		t.Errorf("Args = %q", cmd.Args)
	}

	argv := cmd.Argv()
	if len(argv) != 3 || string(argv[0]) != "EVAL" {
		t.Errorf("Argv() = %q", argv)
	}

	if _, err := protocol.ParseCommand(protocol.Integer(1)); err == nil {
		t.Error("ParseCommand(integer) expected error")
	}
	if _, err := protocol.ParseCommand(protocol.Array(protocol.Integer(1))); err == nil {
		t.Error("ParseCommand with integer name expected error")
	}
}

func TestValueEqual(t *testing.T) {
	if !protocol.Null().Equal(protocol.Value{Type: protocol.TypeBulkString, IsNull: true}) {
		t.Error("null bulk string and resp3 null should compare equal")
	}
	if protocol.Integer(1).Equal(protocol.Boolean(true)) {
		t.Error("integer and boolean must not compare equal")
	}
	if protocol.Array(protocol.Integer(1)).Equal(protocol.Array(protocol.Integer(1), protocol.Integer(2))) {
		t.Error("arrays of different length must not compare equal")
	}
	if protocol.Double(0.1).String() != "0.10000000000000001" {
		t.Errorf("Double string = %s", protocol.Double(0.1).String())
	}
}
