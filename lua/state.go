package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/protocol"
)

// Interpreter limits
const (
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
	maxRegistrySize      = 1024 * 256
)

type stateStatus int

const (
	statusReady stateStatus = iota
	statusExecuting
	statusClosed
)

// StateOptions configures a State
type StateOptions struct {
	ReadOnly      bool
	CallStackSize int
	RegistrySize  int
	Logger        *zap.Logger
}

// invocation holds what one script run needs; it lives only for the
// duration of the call
type invocation struct {
	ctx    context.Context
	caller Caller
	name   string
	raised map[*lua.LTable]error
}

// State is one sandboxed interpreter. The read-only flag is fixed at
// creation. A State runs one script at a time and is closed exactly once.
type State struct {
	L        *lua.LState
	readOnly bool
	maxDepth int
	logger   *zap.Logger

	mu     sync.Mutex
	status stateStatus

	guard     *globalsGuard
	globals   *lua.LTable
	sealed    map[*lua.LTable]*lua.LTable
	rng       rand48
	inv       *invocation
	violation *SandboxViolation

	// loading is set while a library body is evaluated
	loading *libraryLoad

	// libraries currently defined in this interpreter
	libs map[string]*loadedLibrary
	gen  uint64
}

// NewState creates a sandboxed interpreter
func NewState(opts StateOptions) (*State, error) {
	if opts.CallStackSize <= 0 {
		opts.CallStackSize = DefaultCallStackSize
	}
	if opts.RegistrySize <= 0 {
		opts.RegistrySize = DefaultRegistrySize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:     true,
		CallStackSize:    opts.CallStackSize,
		RegistrySize:     opts.RegistrySize,
		RegistryMaxSize:  maxRegistrySize,
		RegistryGrowStep: 32,
	})

	st := &State{
		L:        L,
		readOnly: opts.ReadOnly,
		maxDepth: opts.CallStackSize,
		logger:   opts.Logger,
		guard:    newGlobalsGuard(),
		libs:     make(map[string]*loadedLibrary),
	}

	if err := openLibs(L); err != nil {
		L.Close()
		return nil, err
	}
	removeUnsupportedFunctions(L)
	st.loadFuncs(L)
	st.sealGlobals(L)
	return st, nil
}

// loadFuncs installs the redis table and the deterministic math.random
func (st *State) loadFuncs(L *lua.LState) {
	redis := L.NewTable()
	L.SetFuncs(redis, map[string]lua.LGFunction{
		"call":              st.redisCall,
		"pcall":             st.redisPCall,
		"sha1hex":           redisSha1hex,
		"status_reply":      redisStatusReply,
		"error_reply":       redisErrorReply,
		"log":               st.redisLog,
		"register_function": st.redisRegisterFunction,
	})
	for name, level := range logLevels {
		redis.RawSetString(name, lua.LNumber(level))
	}
	L.G.Global.RawSetString("redis", redis)

	if math, ok := L.G.Global.RawGetString(lua.MathLibName).(*lua.LTable); ok {
		math.RawSetString("random", L.NewFunction(st.mathRandom))
		math.RawSetString("randomseed", L.NewFunction(st.mathRandomSeed))
	}
}

// ReadOnly reports whether write commands are rejected
func (st *State) ReadOnly() bool {
	return st.readOnly
}

// Close releases the interpreter. Closing twice returns ErrStateClosed;
// closing while a script runs returns ErrStateBusy.
func (st *State) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.status {
	case statusClosed:
		return ErrStateClosed
	case statusExecuting:
		return ErrStateBusy
	}
	st.status = statusClosed
	st.libs = nil
	st.L.Close()
	return nil
}

// enter moves the State to executing
func (st *State) enter() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.status {
	case statusClosed:
		return ErrStateClosed
	case statusExecuting:
		return ErrStateBusy
	}
	st.status = statusExecuting
	return nil
}

func (st *State) leave() {
	st.mu.Lock()
	st.status = statusReady
	st.mu.Unlock()
}

// call runs fn under the sandbox and converts its single return value.
// KEYS and ARGV are bound for the duration of the call only; withArgs also
// passes them to fn as its two arguments.
func (st *State) call(ctx context.Context, fn *lua.LFunction, inv *invocation, keys, argv [][]byte, seed int32, withArgs bool) (protocol.Value, error) {
	if err := st.enter(); err != nil {
		return protocol.Value{}, err
	}
	defer st.leave()

	L := st.L
	if ctx == nil {
		ctx = context.Background()
	}
	inv.ctx = ctx
	inv.raised = make(map[*lua.LTable]error)
	st.inv = inv
	st.violation = nil
	st.rng.Seed(seed)

	keysTbl, argvTbl := stringsTable(L, keys), stringsTable(L, argv)
	L.G.Global.RawSetString("KEYS", keysTbl)
	L.G.Global.RawSetString("ARGV", argvTbl)
	L.SetContext(ctx)

	defer func() {
		L.RemoveContext()
		L.G.Global.RawSetString("KEYS", lua.LNil)
		L.G.Global.RawSetString("ARGV", lua.LNil)
		L.SetTop(0)
		st.inv = nil
	}()

	var args []lua.LValue
	if withArgs {
		args = []lua.LValue{keysTbl, argvTbl}
	}
	err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	if err != nil {
		return protocol.Value{}, st.scriptFailure(ctx, inv, err)
	}
	if st.violation != nil {
		return protocol.Value{}, st.violation
	}

	ret := L.Get(-1)
	reply, err := LuaToReply(ret, st.maxDepth)
	if err != nil {
		return protocol.Value{}, err
	}
	return reply, nil
}

// scriptFailure maps an error raised by user code to a typed error
func (st *State) scriptFailure(ctx context.Context, inv *invocation, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ScriptError{
			Msg: "Script killed by timeout or cancellation",
			Err: ctxErr,
		}
	}
	if st.violation != nil {
		return st.violation
	}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ScriptError{Msg: err.Error(), Err: err}
	}
	if tbl, ok := apiErr.Object.(*lua.LTable); ok {
		if cause, ok := inv.raised[tbl]; ok {
			return cause
		}
		if msg := tbl.RawGetString(fieldErr); msg != lua.LNil {
			return &ScriptError{Msg: lua.LVAsString(msg)}
		}
	}
	return &ScriptError{
		Msg: fmt.Sprintf("Error running script (call to %s): %s", inv.name, lua.LVAsString(apiErr.Object)),
		Err: err,
	}
}

func stringsTable(L *lua.LState, items [][]byte) *lua.LTable {
	tbl := L.CreateTable(len(items), 0)
	for i, item := range items {
		tbl.RawSetInt(i+1, lua.LString(item))
	}
	return tbl
}
