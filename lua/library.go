package lua

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Function flags accepted by redis.register_function
const flagNoWrites = "no-writes"

const libraryShebang = "#!"

// registeredFunction is a function collected while a library loads
type registeredFunction struct {
	fn       *lua.LFunction
	noWrites bool
}

// libraryLoad collects the functions a library body registers
type libraryLoad struct {
	name      string
	functions map[string]*registeredFunction
}

// loadedLibrary records a library defined in an interpreter
type loadedLibrary struct {
	version   uint64
	functions []string
}

// parseLibraryHeader reads the "#!lua name=<lib>" first line. It returns
// the library name and the body with the header line blanked so line
// numbers in errors stay right.
func parseLibraryHeader(body string) (string, string, error) {
	if !strings.HasPrefix(body, libraryShebang) {
		return "", "", &ScriptError{Msg: "Missing library metadata"}
	}
	line := body
	rest := ""
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		line, rest = body[:i], body[i:]
	}

	parts := strings.Fields(strings.TrimPrefix(line, libraryShebang))
	if len(parts) == 0 {
		return "", "", &ScriptError{Msg: "Missing library metadata"}
	}
	if engine := parts[0]; engine != "lua" {
		return "", "", &ScriptError{Msg: fmt.Sprintf("Engine '%s' not found", engine)}
	}

	name := ""
	for _, kv := range parts[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key != "name" {
			return "", "", &ScriptError{Msg: fmt.Sprintf("Invalid metadata value given: %s", kv)}
		}
		name = value
	}
	if !validName(name) {
		return "", "", &ScriptError{
			Msg: "Library names can only contain letters, numbers, or underscores(_) and must be at least one character long",
		}
	}
	return name, rest, nil
}

// validName reports whether s matches [A-Za-z0-9_]+
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

// redisRegisterFunction implements redis.register_function. It accepts
// (name, callback) or a table {function_name=, callback=, flags=}.
func (st *State) redisRegisterFunction(L *lua.LState) int {
	load := st.loading
	if load == nil {
		L.RaiseError("redis.register_function can only be called on FUNCTION LOAD command")
		return 0
	}

	var (
		name     string
		callback *lua.LFunction
		noWrites bool
	)
	switch L.GetTop() {
	case 1:
		tbl := L.CheckTable(1)
		name = lua.LVAsString(tbl.RawGetString("function_name"))
		fn, ok := tbl.RawGetString("callback").(*lua.LFunction)
		if !ok {
			L.RaiseError("callback argument given to redis.register_function must be a function")
			return 0
		}
		callback = fn
		if flags, ok := tbl.RawGetString("flags").(*lua.LTable); ok {
			var bad string
			flags.ForEach(func(_, v lua.LValue) {
				switch f := lua.LVAsString(v); f {
				case flagNoWrites:
					noWrites = true
				default:
					bad = f
				}
			})
			if bad != "" {
				L.RaiseError("unknown flag given: %s", bad)
				return 0
			}
		}
	case 2:
		name = L.CheckString(1)
		callback = L.CheckFunction(2)
	default:
		L.RaiseError("wrong number of arguments to redis.register_function")
		return 0
	}

	if !validName(name) {
		L.RaiseError("Function names can only contain letters, numbers, or underscores(_) and must be at least one character long")
		return 0
	}
	if _, dup := load.functions[name]; dup {
		L.RaiseError("Function %s already exists in library %s", name, load.name)
		return 0
	}
	load.functions[name] = &registeredFunction{fn: callback, noWrites: noWrites}
	return 0
}

// evalLibrary runs a compiled library body with redis.register_function
// enabled and returns what it registered
func (st *State) evalLibrary(ctx context.Context, name string, proto *lua.FunctionProto) (*libraryLoad, error) {
	if err := st.enter(); err != nil {
		return nil, err
	}
	defer st.leave()

	if ctx == nil {
		ctx = context.Background()
	}
	L := st.L
	load := &libraryLoad{name: name, functions: make(map[string]*registeredFunction)}
	inv := &invocation{ctx: ctx, name: "library " + name, raised: make(map[*lua.LTable]error)}
	st.loading = load
	st.inv = inv
	st.violation = nil
	L.SetContext(ctx)
	defer func() {
		L.RemoveContext()
		L.SetTop(0)
		st.loading = nil
		st.inv = nil
	}()

	fn := L.NewFunctionFromProto(proto)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return nil, st.scriptFailure(ctx, inv, err)
	}
	if st.violation != nil {
		return nil, st.violation
	}
	if len(load.functions) == 0 {
		return nil, &ScriptError{Msg: "No functions registered"}
	}
	return load, nil
}

// loadLibrary defines lib in this interpreter, replacing any earlier
// definition
func (st *State) loadLibrary(ctx context.Context, lib *Library, proto *lua.FunctionProto) error {
	if st.libraryLoaded(lib.Name) {
		st.clearLibrary(lib.Name)
	}
	load, err := st.evalLibrary(ctx, lib.Name, proto)
	if err != nil {
		return err
	}

	loaded := &loadedLibrary{version: lib.version}
	for name, rf := range load.functions {
		st.globals.RawSetString(functionPrefix+name, rf.fn)
		loaded.functions = append(loaded.functions, name)
	}
	st.libs[lib.Name] = loaded
	return nil
}

// libraryLoaded reports whether the library called name is defined in this
// interpreter
func (st *State) libraryLoaded(name string) bool {
	_, ok := st.libs[name]
	return ok
}

// clearLibrary drops the in-memory definition of a library from this
// interpreter. Persisted state is untouched.
func (st *State) clearLibrary(name string) {
	loaded, ok := st.libs[name]
	if !ok {
		return
	}
	for _, fn := range loaded.functions {
		st.globals.RawSetString(functionPrefix+fn, lua.LNil)
	}
	delete(st.libs, name)
}

// syncLibraries clears libraries that were replaced or removed in reg
// since the last sync
func (st *State) syncLibraries(reg *Registry) {
	gen := reg.Generation()
	if gen == st.gen {
		return
	}
	for name, loaded := range st.libs {
		lib, ok := reg.Library(name)
		if !ok || lib.version != loaded.version {
			st.clearLibrary(name)
		}
	}
	st.gen = gen
}

// libraryFunction returns the compiled function name of lib, loading the
// library into this interpreter when needed
func (st *State) libraryFunction(ctx context.Context, lib *Library, name string, proto *lua.FunctionProto) (*lua.LFunction, error) {
	if loaded, ok := st.libs[lib.Name]; !ok || loaded.version != lib.version {
		if err := st.loadLibrary(ctx, lib, proto); err != nil {
			return nil, err
		}
	}
	fn, ok := st.globals.RawGetString(functionPrefix + name).(*lua.LFunction)
	if !ok {
		return nil, &NotFoundError{Kind: "function", Name: name}
	}
	return fn, nil
}

// scriptFunction returns the procedure of a script, defining it on first use
func (st *State) scriptFunction(sha string, proto *lua.FunctionProto) *lua.LFunction {
	if fn, ok := st.globals.RawGetString(scriptPrefix + sha).(*lua.LFunction); ok {
		return fn
	}
	fn := st.L.NewFunctionFromProto(proto)
	st.globals.RawSetString(scriptPrefix+sha, fn)
	return fn
}
