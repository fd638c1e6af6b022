package lua

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/kvscript/protocol"
)

// CommandSpec describes a server command as seen from scripts
type CommandSpec struct {
	Name string
	// Arity is the exact argument count including the name when positive,
	// the minimum when negative
	Arity int
	// Write marks commands that may modify the keyspace
	Write bool
	// NoScript marks commands scripts may not call
	NoScript bool
	// SortForScript marks commands whose array reply is sorted before a
	// script sees it
	SortForScript bool
}

// CheckArity reports whether argc (name included) satisfies the arity
func (c CommandSpec) CheckArity(argc int) bool {
	if c.Arity >= 0 {
		return argc == c.Arity
	}
	return argc >= -c.Arity
}

// Caller runs server commands on behalf of a script. Calls join the unit
// of work of the command that started the script.
type Caller interface {
	Lookup(name string) (CommandSpec, bool)
	Call(ctx context.Context, argv [][]byte) protocol.Value
}

func (st *State) redisCall(L *lua.LState) int {
	return st.redisGenericCommand(L, true)
}

func (st *State) redisPCall(L *lua.LState) int {
	return st.redisGenericCommand(L, false)
}

// redisGenericCommand backs redis.call (raise) and redis.pcall
func (st *State) redisGenericCommand(L *lua.LState, raise bool) int {
	argc := L.GetTop()
	if argc == 0 {
		return st.commandFailure(L, raise, &CommandError{
			Msg: "Please specify at least one argument for this redis lib call",
		})
	}

	argv := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			argv[i-1] = []byte(v)
		case lua.LNumber:
			argv[i-1] = []byte(formatNumber(v))
		default:
			st.violate(L, &SandboxViolation{
				Msg: "Lua redis lib command arguments must be strings or integers",
			})
			return 0
		}
	}

	reply, cerr := st.dispatch(argv)
	if cerr != nil {
		return st.commandFailure(L, raise, cerr)
	}
	if raise && reply.IsError() {
		st.raiseReply(L, reply.Error(), nil)
		return 0
	}

	lv, err := ReplyToLua(L, reply, st.maxDepth)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lv)
	return 1
}

// dispatch validates argv against the command table and runs it
func (st *State) dispatch(argv [][]byte) (protocol.Value, *CommandError) {
	inv := st.inv
	name := strings.ToLower(string(argv[0]))
	if inv == nil || inv.caller == nil {
		return protocol.Value{}, &CommandError{
			Command: name,
			Msg:     "redis.call is not allowed from this context",
		}
	}

	spec, ok := inv.caller.Lookup(name)
	if !ok {
		return protocol.Value{}, &CommandError{
			Command: name,
			Msg:     fmt.Sprintf("Unknown Redis command '%s' called from script", name),
		}
	}
	if spec.NoScript {
		return protocol.Value{}, &CommandError{
			Command: name,
			Msg:     fmt.Sprintf("This Redis command is not allowed from script: '%s'", name),
		}
	}
	if !spec.CheckArity(len(argv)) {
		return protocol.Value{}, &CommandError{
			Command: name,
			Msg:     fmt.Sprintf("wrong number of arguments for '%s' command", name),
		}
	}
	if spec.Write && st.readOnly {
		return protocol.Value{}, &CommandError{
			Command: name,
			Msg:     "Write commands are not allowed from read-only scripts",
		}
	}

	reply := inv.caller.Call(inv.ctx, argv)
	if spec.SortForScript && reply.Type == protocol.TypeArray {
		sortReply(reply.Array)
	}
	return reply, nil
}

// commandFailure raises cerr (redis.call) or returns it as an error
// record (redis.pcall)
func (st *State) commandFailure(L *lua.LState, raise bool, cerr *CommandError) int {
	if raise {
		st.raiseReply(L, cerr.Error(), cerr)
		return 0
	}
	L.Push(record(L, fieldErr, lua.LString(cerr.Error())))
	return 1
}

// raiseReply raises an {err = msg} record. cause, when set, is returned by
// the invocation if the record propagates to the top level.
func (st *State) raiseReply(L *lua.LState, msg string, cause error) {
	tbl := record(L, fieldErr, lua.LString(msg))
	if cause != nil && st.inv != nil {
		st.inv.raised[tbl] = cause
	}
	L.Error(tbl, 1)
}

// sortReply orders a reply array by its string form so scripts observe
// a deterministic order
func sortReply(items []protocol.Value) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].String() < items[j].String()
	})
}
