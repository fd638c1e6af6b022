package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/kvscript/command"
	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/lua"
	"github.com/raniellyferreira/kvscript/storage"
)

// Simple Redis client for testing
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTestClient(addr string) (*testClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &testClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

func (c *testClient) Close() error {
	return c.conn.Close()
}

func (c *testClient) sendCommand(cmd string, args ...string) (string, error) {
	// Build RESP command
	parts := append([]string{cmd}, args...)
	resp := "*" + strconv.Itoa(len(parts)) + "\r\n"
	for _, part := range parts {
		resp += "$" + strconv.Itoa(len(part)) + "\r\n" + part + "\r\n"
	}

	if _, err := c.conn.Write([]byte(resp)); err != nil {
		return "", err
	}
	return c.readResponse()
}

func (c *testClient) readResponse() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return "", nil
	}

	switch line[0] {
	case '+': // Simple string
		return line[1:], nil
	case '-': // Error
		return line, nil
	case ':': // Integer
		return line[1:], nil
	case '$': // Bulk string
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		if size == -1 {
			return "(nil)", nil
		}
		data := make([]byte, size+2) // +2 for CRLF
		if _, err := io.ReadFull(c.reader, data); err != nil {
			return "", err
		}
		return string(data[:size]), nil
	case '*': // Array
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		if size == -1 {
			return "(nil)", nil
		}

		result := "["
		for i := 0; i < size; i++ {
			if i > 0 {
				result += ", "
			}
			item, err := c.readResponse()
			if err != nil {
				return "", err
			}
			result += item
		}
		result += "]"
		return result, nil
	default:
		return line, nil
	}
}

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	kv, err := engine.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	store := storage.New(kv)
	scripts, err := lua.NewEngine(lua.WithPersister(store))
	if err != nil {
		t.Fatal(err)
	}

	server := NewServer("127.0.0.1:0", command.NewTable(store, scripts), opts...)
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = server.Stop()
		scripts.Close()
		kv.Close()
	})
	return server
}

func connect(t *testing.T, server *Server) *testClient {
	t.Helper()
	client, err := newTestClient(server.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type exchange struct {
	args     []string
	expected string
}

func runExchanges(t *testing.T, client *testClient, exchanges []exchange) {
	t.Helper()
	for _, ex := range exchanges {
		resp, err := client.sendCommand(ex.args[0], ex.args[1:]...)
		if err != nil {
			t.Fatalf("%v: %v", ex.args, err)
		}
		if resp != ex.expected {
			t.Errorf("%v: expected %q, got %q", ex.args, ex.expected, resp)
		}
	}
}

func TestServer_BasicCommands(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	runExchanges(t, client, []exchange{
		{[]string{"PING"}, "PONG"},
		{[]string{"SET", "testkey", "testvalue"}, "OK"},
		{[]string{"GET", "testkey"}, "testvalue"},
		{[]string{"GET", "missing"}, "(nil)"},
		{[]string{"HSET", "h", "f", "v"}, "1"},
		{[]string{"HGETALL", "h"}, "[f, v]"},
		{[]string{"DEL", "testkey", "h"}, "2"},
	})
}

func TestServer_Select(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	runExchanges(t, client, []exchange{
		{[]string{"SET", "k", "db0"}, "OK"},
		{[]string{"SELECT", "1"}, "OK"},
		{[]string{"GET", "k"}, "(nil)"},
		{[]string{"EVAL", "return redis.call('SET', KEYS[1], 'db1')", "1", "k"}, "OK"},
		{[]string{"SELECT", "0"}, "OK"},
		{[]string{"GET", "k"}, "db0"},
		{[]string{"SELECT", "16"}, "-ERR DB index is out of range"},
		{[]string{"SELECT", "x"}, "-ERR value is not an integer or out of range"},
	})
}

func TestServer_LuaScripts(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	runExchanges(t, client, []exchange{
		{[]string{"EVAL", "return 'hello world'", "0"}, "hello world"},
		{[]string{"EVAL", "return KEYS[1] .. ':' .. ARGV[1]", "1", "user", "123"}, "user:123"},
		{[]string{"EVAL", "redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])", "1", "luakey", "luavalue"}, "luavalue"},
		{[]string{"EVAL", "return {1, 2, {3, 'x'}}", "0"}, "[1, 2, [3, x]]"},
		{[]string{"EVAL", "return true", "0"}, "1"},
		{[]string{"EVAL", "return false", "0"}, "(nil)"},
		{[]string{"EVAL", "return {double = 3.5}", "0"}, "3.5"},
		{[]string{"EVAL", "return redis.status_reply('FINE')", "0"}, "FINE"},
	})

	sha, err := client.sendCommand("SCRIPT", "LOAD", "return 'cached script'")
	if err != nil {
		t.Fatal(err)
	}
	if sha != lua.SHA1Hex("return 'cached script'") {
		t.Errorf("unexpected sha %s", sha)
	}

	runExchanges(t, client, []exchange{
		{[]string{"EVALSHA", sha, "0"}, "cached script"},
		{[]string{"SCRIPT", "EXISTS", sha, "nonexistent"}, "[1, 0]"},
		{[]string{"SCRIPT", "FLUSH"}, "OK"},
		{[]string{"SCRIPT", "EXISTS", sha}, "[0]"},
	})
}

func TestServer_Functions(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	lib := "#!lua name=counters\n" +
		"redis.register_function('bump', function(keys, args) return redis.call('INCRBY', keys[1], args[1]) end)"

	runExchanges(t, client, []exchange{
		{[]string{"FUNCTION", "LOAD", lib}, "counters"},
		{[]string{"FCALL", "bump", "1", "c", "5"}, "5"},
		{[]string{"FCALL", "bump", "1", "c", "2"}, "7"},
		{[]string{"FUNCTION", "DELETE", "counters"}, "OK"},
		{[]string{"FCALL", "bump", "1", "c", "2"}, "-ERR Function not found"},
	})
}

func TestServer_ErrorHandling(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	resp, err := client.sendCommand("UNKNOWNCMD")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "-ERR unknown command") {
		t.Errorf("expected error for unknown command, got %s", resp)
	}

	resp, err = client.sendCommand("EVAL", "invalid lua syntax !!!", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "-ERR Error compiling script") {
		t.Errorf("expected error for invalid Lua syntax, got %s", resp)
	}

	resp, err = client.sendCommand("EVALSHA", "nonexistent", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "-NOSCRIPT") {
		t.Errorf("expected NOSCRIPT for non-existent script, got %s", resp)
	}

	// error messages spanning lines must stay on one RESP line
	resp, err = client.sendCommand("EVAL", "return redis.error_reply('line one\\nline two')", "0")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "-line one line two" {
		t.Errorf("expected single-line error, got %q", resp)
	}

	resp, err = client.sendCommand("PING")
	if err != nil || resp != "PONG" {
		t.Errorf("connection unusable after errors: %q, %v", resp, err)
	}
}

func TestServer_ScriptTimeout(t *testing.T) {
	server := startServer(t, WithScriptTimeout(100*time.Millisecond))
	client := connect(t, server)

	start := time.Now()
	resp, err := client.sendCommand("EVAL", "while true do end", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "-") {
		t.Errorf("expected an error reply, got %s", resp)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("script was not interrupted")
	}

	resp, err = client.sendCommand("EVAL", "return 1", "0")
	if err != nil || resp != "1" {
		t.Errorf("expected engine to recover, got %q, %v", resp, err)
	}
}

func TestServer_Auth(t *testing.T) {
	server := startServer(t, WithPassword("secret"))
	client := connect(t, server)

	runExchanges(t, client, []exchange{
		{[]string{"GET", "k"}, "-NOAUTH Authentication required."},
		{[]string{"AUTH", "wrong"}, "-WRONGPASS invalid username-password pair or user is disabled."},
		{[]string{"AUTH", "secret"}, "OK"},
		{[]string{"GET", "k"}, "(nil)"},
	})
}

func TestServer_Quit(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	resp, err := client.sendCommand("QUIT")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "OK" {
		t.Errorf("expected OK, got %s", resp)
	}
	if _, err := client.reader.ReadByte(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func TestServer_Stats(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	_, _ = client.sendCommand("PING")
	_, _ = client.sendCommand("SET", "key", "value")
	_, _ = client.sendCommand("GET", "key")
	_, _ = client.sendCommand("NOPE")

	stats := server.Stats()

	if stats["connected_clients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connected_clients"])
	}
	if stats["total_commands"].(int64) < 4 {
		t.Errorf("expected at least 4 commands, got %v", stats["total_commands"])
	}
	if stats["total_errors"].(int64) != 1 {
		t.Errorf("expected 1 error, got %v", stats["total_errors"])
	}
	if stats["total_connections"].(int64) < 1 {
		t.Errorf("expected at least 1 connection, got %v", stats["total_connections"])
	}
}

func TestServer_InlineCommands(t *testing.T) {
	server := startServer(t)
	client := connect(t, server)

	if _, err := client.conn.Write([]byte("SET inline value\r\n\r\nGET inline\r\n")); err != nil {
		t.Fatal(err)
	}
	for _, expected := range []string{"OK", "value"} {
		resp, err := client.readResponse()
		if err != nil {
			t.Fatal(err)
		}
		if resp != expected {
			t.Errorf("expected %q, got %q", expected, resp)
		}
	}
}

func TestServer_MaxClients(t *testing.T) {
	server := startServer(t, WithMaxClients(1))
	first := connect(t, server)
	runExchanges(t, first, []exchange{{[]string{"PING"}, "PONG"}})

	second := connect(t, server)
	resp, err := second.readResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp != "-ERR max number of clients reached" {
		t.Errorf("expected max clients error, got %q", resp)
	}
}

func TestServer_RateLimit(t *testing.T) {
	server := startServer(t, WithRateLimit(0.001, 2))
	client := connect(t, server)

	runExchanges(t, client, []exchange{
		{[]string{"PING"}, "PONG"},
		{[]string{"PING"}, "PONG"},
		{[]string{"PING"}, "-ERR rate limit exceeded"},
	})
}
