package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raniellyferreira/kvscript/lua"
	"github.com/raniellyferreira/kvscript/protocol"
	"github.com/raniellyferreira/kvscript/storage"
)

var (
	errNegativeKeys = errors.New("ERR Number of keys can't be negative")
	errTooManyKeys  = errors.New("ERR Number of keys can't be greater than number of args")
)

func scriptingCommands() []*Command {
	return []*Command{
		{Name: "eval", Arity: -3, Flags: FlagNoScript, Proc: evalCommand(false, false)},
		{Name: "eval_ro", Arity: -3, Flags: FlagNoScript | FlagReadOnly, Proc: evalCommand(false, true)},
		{Name: "evalsha", Arity: -3, Flags: FlagNoScript, Proc: evalCommand(true, false)},
		{Name: "evalsha_ro", Arity: -3, Flags: FlagNoScript | FlagReadOnly, Proc: evalCommand(true, true)},
		{Name: "fcall", Arity: -3, Flags: FlagNoScript, Proc: fcallCommand(false)},
		{Name: "fcall_ro", Arity: -3, Flags: FlagNoScript | FlagReadOnly, Proc: fcallCommand(true)},
		{Name: "script", Arity: -2, Flags: FlagNoScript, Proc: scriptCommand},
		{Name: "function", Arity: -2, Flags: FlagNoScript, Proc: functionCommand},
	}
}

// splitKeys reads "numkeys key... arg..." starting at argv[2]
func splitKeys(argv [][]byte) (keys, args [][]byte, err error) {
	n, err := parseInt(argv[2])
	if err != nil {
		return nil, nil, err
	}
	if n < 0 {
		return nil, nil, errNegativeKeys
	}
	if n > int64(len(argv)-3) {
		return nil, nil, errTooManyKeys
	}
	return argv[3 : 3+n], argv[3+n:], nil
}

// invocation builds the script inputs of r. Scripts run read-only when the
// caller asked for it or when this node is a read-only replica.
func invocation(r *Request, readOnlyCommand bool) (lua.Invocation, error) {
	keys, args, err := splitKeys(r.Argv)
	if err != nil {
		return lua.Invocation{}, err
	}
	return lua.Invocation{
		Keys:            keys,
		Args:            args,
		Caller:          &scriptCaller{parent: r},
		ReadOnly:        readOnlyCommand || r.table.readOnlyReplica(),
		ReadOnlyCommand: readOnlyCommand,
	}, nil
}

func evalCommand(isSHA, readOnly bool) Proc {
	return func(r *Request) (protocol.Value, error) {
		inv, err := invocation(r, readOnly)
		if err != nil {
			return protocol.Value{}, err
		}
		if isSHA {
			return r.table.scripts.EvalSHA(r.Ctx, r.Arg(1), inv)
		}
		return r.table.scripts.Eval(r.Ctx, r.Arg(1), inv)
	}
}

func fcallCommand(readOnly bool) Proc {
	return func(r *Request) (protocol.Value, error) {
		inv, err := invocation(r, readOnly)
		if err != nil {
			return protocol.Value{}, err
		}
		return r.table.scripts.FCall(r.Ctx, r.Arg(1), inv)
	}
}

// scriptCommand implements SCRIPT LOAD|EXISTS|FLUSH
func scriptCommand(r *Request) (protocol.Value, error) {
	sub := strings.ToUpper(r.Arg(1))
	switch {
	case sub == "LOAD" && len(r.Argv) == 3:
		sha, err := r.table.scripts.ScriptLoad(r.Arg(2))
		if err != nil {
			return protocol.Value{}, err
		}
		return protocol.BulkString(sha), nil

	case sub == "EXISTS" && len(r.Argv) >= 3:
		found := r.table.scripts.ScriptExists(argStrings(r.Argv[2:]))
		out := make([]protocol.Value, len(found))
		for i, ok := range found {
			out[i] = boolInt(ok)
		}
		return protocol.Array(out...), nil

	case sub == "FLUSH" && len(r.Argv) <= 3:
		if len(r.Argv) == 3 && !flushMode(r.Arg(2)) {
			return protocol.Value{}, errSyntax
		}
		if err := r.table.scripts.ScriptFlush(); err != nil {
			return protocol.Value{}, err
		}
		return protocol.OK(), nil

	case sub == "LOAD" || sub == "EXISTS" || sub == "FLUSH":
		return protocol.Value{}, fmt.Errorf("ERR wrong number of arguments for 'script|%s' command", strings.ToLower(sub))
	}
	return protocol.Value{}, fmt.Errorf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", r.Arg(1))
}

func flushMode(s string) bool {
	mode := strings.ToUpper(s)
	return mode == "ASYNC" || mode == "SYNC"
}

// functionCommand implements FUNCTION LOAD|DELETE|LIST|FLUSH
func functionCommand(r *Request) (protocol.Value, error) {
	scripts := r.table.scripts
	sub := strings.ToUpper(r.Arg(1))

	switch sub {
	case "LOAD", "DELETE", "FLUSH":
		if r.table.readOnlyReplica() {
			return protocol.Value{}, errReadOnlyReplica
		}
	}

	switch sub {
	case "LOAD":
		replace := false
		args := r.Argv[2:]
		if len(args) == 2 && strings.EqualFold(string(args[0]), "REPLACE") {
			replace = true
			args = args[1:]
		}
		if len(args) != 1 {
			return protocol.Value{}, errSyntax
		}
		name, err := scripts.FunctionLoad(r.Ctx, string(args[0]), replace, true)
		if err != nil {
			return protocol.Value{}, err
		}
		return protocol.BulkString(name), nil

	case "DELETE":
		if len(r.Argv) != 3 {
			return protocol.Value{}, wrongArgs("function|delete")
		}
		if err := scripts.FunctionDelete(r.Arg(2)); err != nil {
			return protocol.Value{}, err
		}
		return protocol.OK(), nil

	case "FLUSH":
		if len(r.Argv) > 3 || (len(r.Argv) == 3 && !flushMode(r.Arg(2))) {
			return protocol.Value{}, errSyntax
		}
		if err := scripts.FunctionFlush(); err != nil {
			return protocol.Value{}, err
		}
		return protocol.OK(), nil

	case "LIST":
		return functionList(r)
	}
	return protocol.Value{}, fmt.Errorf("ERR unknown subcommand '%s'. Try FUNCTION HELP.", r.Arg(1))
}

// functionList implements FUNCTION LIST [LIBRARYNAME pattern] [WITHCODE]
func functionList(r *Request) (protocol.Value, error) {
	pattern := ""
	withCode := false
	for i := 2; i < len(r.Argv); i++ {
		switch strings.ToUpper(r.Arg(i)) {
		case "WITHCODE":
			withCode = true
		case "LIBRARYNAME":
			if i+1 >= len(r.Argv) {
				return protocol.Value{}, errSyntax
			}
			i++
			pattern = r.Arg(i)
		default:
			return protocol.Value{}, errSyntax
		}
	}

	libs, err := r.table.scripts.FunctionList("")
	if err != nil {
		return protocol.Value{}, err
	}
	// no match is an empty listing, never "Library not found"
	out := make([]protocol.Value, 0, len(libs))
	for _, lib := range libs {
		if pattern != "" && !storage.MatchPattern(lib.Name, pattern) {
			continue
		}
		out = append(out, libraryReply(lib, withCode))
	}
	return protocol.Array(out...), nil
}

func libraryReply(lib *lua.Library, withCode bool) protocol.Value {
	functions := make([]protocol.Value, 0, len(lib.Functions))
	for _, name := range lib.FunctionNames() {
		flags := []protocol.Value{}
		if lib.Functions[name].NoWrites {
			flags = append(flags, protocol.Status("no-writes"))
		}
		functions = append(functions, protocol.Array(
			protocol.BulkString("name"), protocol.BulkString(name),
			protocol.BulkString("description"), protocol.Null(),
			protocol.BulkString("flags"), protocol.Array(flags...),
		))
	}

	fields := []protocol.Value{
		protocol.BulkString("library_name"), protocol.BulkString(lib.Name),
		protocol.BulkString("engine"), protocol.BulkString("LUA"),
		protocol.BulkString("functions"), protocol.Array(functions...),
	}
	if withCode {
		fields = append(fields, protocol.BulkString("library_code"), protocol.BulkString(lib.Code))
	}
	return protocol.Array(fields...)
}
