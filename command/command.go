package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/lua"
	"github.com/raniellyferreira/kvscript/protocol"
	"github.com/raniellyferreira/kvscript/replication"
	"github.com/raniellyferreira/kvscript/storage"
)

// Flag describes how a command interacts with the keyspace
type Flag uint8

const (
	// FlagWrite marks commands that may modify the keyspace
	FlagWrite Flag = 1 << iota
	// FlagReadOnly marks commands that only read
	FlagReadOnly
	// FlagNoScript marks commands scripts may not call
	FlagNoScript
	// FlagSortForScript sorts the array reply before a script sees it
	FlagSortForScript
)

var (
	errSyntax          = errors.New("ERR syntax error")
	errNotInteger      = errors.New("ERR value is not an integer or out of range")
	errOverflow        = errors.New("ERR increment or decrement would overflow")
	errReadOnlyReplica = errors.New("READONLY You can't write against a read only replica.")
)

// Session is the per-connection state a command sees
type Session struct {
	DB int
}

// Request is one command being executed
type Request struct {
	Ctx     context.Context
	Argv    [][]byte
	Txn     *storage.Txn
	Session *Session

	table *Table
	// script is set when the command was issued by redis.call
	script bool
}

// Arg returns argument i as a string; Arg(0) is the command name
func (r *Request) Arg(i int) string {
	return string(r.Argv[i])
}

// Proc implements a command
type Proc func(r *Request) (protocol.Value, error)

// Command is an entry of the command table
type Command struct {
	Name string
	// Arity counts the name; negative means at least -Arity arguments
	Arity int
	Flags Flag
	Proc  Proc
}

// CheckArity reports whether argc (name included) satisfies the arity
func (c *Command) CheckArity(argc int) bool {
	if c.Arity >= 0 {
		return argc == c.Arity
	}
	return argc >= -c.Arity
}

// Spec describes the command to the scripting engine
func (c *Command) Spec() lua.CommandSpec {
	return lua.CommandSpec{
		Name:          c.Name,
		Arity:         c.Arity,
		Write:         c.Flags&FlagWrite != 0,
		NoScript:      c.Flags&FlagNoScript != 0,
		SortForScript: c.Flags&FlagSortForScript != 0,
	}
}

// Metrics receives command statistics
type Metrics interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordError(errorType string)
}

// Table dispatches commands against the store. Every top-level command runs
// in its own storage.Txn: the Txn commits when the reply is not an error
// and is discarded otherwise.
type Table struct {
	commands map[string]*Command
	store    *storage.Store
	scripts  *lua.Engine

	role            replication.Role
	replicaReadOnly bool

	metrics Metrics
	logger  *zap.Logger
}

// Option configures a Table
type Option func(*Table)

// WithRole sets the node role. A read-only replica rejects client writes and
// runs every script read-only.
func WithRole(role replication.Role, replicaReadOnly bool) Option {
	return func(t *Table) {
		t.role = role
		t.replicaReadOnly = replicaReadOnly
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTable builds the command table
func NewTable(store *storage.Store, scripts *lua.Engine, opts ...Option) *Table {
	t := &Table{
		commands: make(map[string]*Command),
		store:    store,
		scripts:  scripts,
		role:     replication.RolePrimary,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, group := range [][]*Command{
		genericCommands(),
		stringCommands(),
		keyCommands(),
		hashCommands(),
		scriptingCommands(),
	} {
		for _, cmd := range group {
			t.commands[cmd.Name] = cmd
		}
	}
	return t
}

// Lookup returns the command called name (case-insensitive)
func (t *Table) Lookup(name string) (*Command, bool) {
	cmd, ok := t.commands[strings.ToLower(name)]
	return cmd, ok
}

// Names returns every command name in order
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readOnlyReplica reports whether writes from clients are rejected
func (t *Table) readOnlyReplica() bool {
	return t.role.IsReplica() && t.replicaReadOnly
}

// Exec runs argv as one unit of work
func (t *Table) Exec(ctx context.Context, sess *Session, argv [][]byte) protocol.Value {
	if len(argv) == 0 {
		return protocol.Error("ERR empty command")
	}
	start := time.Now()
	name := strings.ToLower(string(argv[0]))

	reply := t.exec(ctx, sess, name, argv)

	if t.metrics != nil {
		t.metrics.RecordCommandProcessed(name, time.Since(start))
		if reply.IsError() {
			t.metrics.RecordError(errorCode(reply.Error()))
		}
	}
	return reply
}

func (t *Table) exec(ctx context.Context, sess *Session, name string, argv [][]byte) protocol.Value {
	cmd, ok := t.commands[name]
	if !ok {
		return protocol.Errorf("ERR unknown command '%s'", argv[0])
	}
	if !cmd.CheckArity(len(argv)) {
		return protocol.Errorf("ERR wrong number of arguments for '%s' command", name)
	}
	if cmd.Flags&FlagWrite != 0 && t.readOnlyReplica() {
		return errorReply(errReadOnlyReplica)
	}

	txn := t.store.Begin(sess.DB)
	defer txn.Discard()

	req := &Request{Ctx: ctx, Argv: argv, Txn: txn, Session: sess, table: t}
	reply := t.run(cmd, req)
	if reply.IsError() {
		if txn.Dirty() {
			t.logger.Debug("discarding writes of failed command",
				zap.String("command", name),
				zap.String("error", reply.Error()))
		}
		return reply
	}
	if err := txn.Commit(); err != nil {
		t.logger.Error("commit failed", zap.String("command", name), zap.Error(err))
		return errorReply(err)
	}
	return reply
}

func (t *Table) run(cmd *Command, req *Request) protocol.Value {
	reply, err := cmd.Proc(req)
	if err != nil {
		return errorReply(err)
	}
	return reply
}

// scriptCaller runs redis.call commands inside the Txn of the command that
// started the script
type scriptCaller struct {
	parent *Request
}

func (c *scriptCaller) Lookup(name string) (lua.CommandSpec, bool) {
	cmd, ok := c.parent.table.commands[name]
	if !ok {
		return lua.CommandSpec{}, false
	}
	return cmd.Spec(), true
}

func (c *scriptCaller) Call(ctx context.Context, argv [][]byte) protocol.Value {
	t := c.parent.table
	cmd, ok := t.commands[strings.ToLower(string(argv[0]))]
	if !ok {
		return protocol.Errorf("ERR unknown command '%s'", argv[0])
	}
	req := &Request{
		Ctx:     ctx,
		Argv:    argv,
		Txn:     c.parent.Txn,
		Session: c.parent.Session,
		table:   t,
		script:  true,
	}
	return t.run(cmd, req)
}

// errorReply renders err as an error reply, adding the ERR code when the
// message has none
func errorReply(err error) protocol.Value {
	msg := err.Error()
	if errorCode(msg) == "" {
		msg = "ERR " + msg
	}
	return protocol.Error(strings.NewReplacer("\r", " ", "\n", " ").Replace(msg))
}

// errorCode returns the leading upper-case word of msg, or ""
func errorCode(msg string) string {
	code := msg
	if i := strings.IndexByte(msg, ' '); i >= 0 {
		code = msg[:i]
	}
	if code == "" {
		return ""
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && c != '_' {
			return ""
		}
	}
	return code
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

func wrongArgs(name string) error {
	return fmt.Errorf("ERR wrong number of arguments for '%s' command", name)
}

func bulkStrings(items []string) protocol.Value {
	out := make([]protocol.Value, len(items))
	for i, s := range items {
		out[i] = protocol.BulkString(s)
	}
	return protocol.Array(out...)
}

func boolInt(b bool) protocol.Value {
	if b {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}
