package lua

import (
	"context"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/protocol"
)

// Chunk names used in compile errors
const (
	scriptChunkName   = "@user_script"
	functionChunkName = "@user_function"
)

// Invocation carries the inputs of one script run
type Invocation struct {
	Keys [][]byte
	Args [][]byte

	// Caller runs redis.call commands; nil disables them
	Caller Caller

	// ReadOnly runs the script on a read-only interpreter
	ReadOnly bool

	// ReadOnlyCommand marks an explicit *_RO entry point
	ReadOnlyCommand bool

	// Seed seeds math.random for this run
	Seed int32
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	mu       sync.Mutex
	writable *State

	registry  *Registry
	cache     *protoCache
	persister Persister

	storeScripts  bool
	callStackSize int
	cacheSize     int
	logger        *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithCallStackSize bounds the Lua call stack and the reply conversion depth
func WithCallStackSize(n int) Option {
	return func(e *Engine) {
		e.callStackSize = n
	}
}

// WithCacheSize sets how many compiled chunks are kept
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithStoreScripts persists scripts run through EVAL
func WithStoreScripts(enabled bool) Option {
	return func(e *Engine) {
		e.storeScripts = enabled
	}
}

// WithLogger sets the logger used by the engine and its interpreters
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPersister stores scripts and libraries through p
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// NewEngine creates a new Lua execution engine
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:      NewRegistry(),
		callStackSize: DefaultCallStackSize,
		cacheSize:     DefaultCacheSize,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = newProtoCache(e.cacheSize)

	st, err := e.newState(false)
	if err != nil {
		return nil, err
	}
	e.writable = st
	return e, nil
}

func (e *Engine) newState(readOnly bool) (*State, error) {
	return NewState(StateOptions{
		ReadOnly:      readOnly,
		CallStackSize: e.callStackSize,
		Logger:        e.logger,
	})
}

// Registry returns the script and function registry
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Eval runs body, registering it under its digest
func (e *Engine) Eval(ctx context.Context, body string, inv Invocation) (protocol.Value, error) {
	return e.evalGeneric(ctx, body, false, inv)
}

// EvalSHA runs the script stored under sha
func (e *Engine) EvalSHA(ctx context.Context, sha string, inv Invocation) (protocol.Value, error) {
	return e.evalGeneric(ctx, sha, true, inv)
}

func (e *Engine) evalGeneric(ctx context.Context, bodyOrSHA string, isSHA bool, inv Invocation) (protocol.Value, error) {
	var sha, body string
	if isSHA {
		sha = strings.ToLower(bodyOrSHA)
		stored, ok := e.registry.Script(sha)
		if !ok {
			return protocol.Value{}, &NoScriptError{SHA: sha}
		}
		body = stored
	} else {
		body = bodyOrSHA
		var err error
		if sha, err = e.CreateFunction(body, e.storeScripts); err != nil {
			return protocol.Value{}, err
		}
	}

	proto, err := e.cache.get(sha, scriptChunkName, body)
	if err != nil {
		return protocol.Value{}, err
	}
	resolve := func(st *State) (*lua.LFunction, error) {
		return st.scriptFunction(sha, proto), nil
	}
	return e.run(ctx, inv, scriptPrefix+sha, inv.ReadOnly, false, resolve)
}

// FCall runs the library function name
func (e *Engine) FCall(ctx context.Context, name string, inv Invocation) (protocol.Value, error) {
	fn, lib, ok := e.registry.Function(name)
	if !ok {
		return protocol.Value{}, &NotFoundError{Kind: "function", Name: name}
	}
	if inv.ReadOnlyCommand && !fn.NoWrites {
		return protocol.Value{}, &ScriptError{
			Msg: "Can not execute a script with write flag using *_ro command.",
		}
	}

	proto, err := e.libraryProto(lib.Code)
	if err != nil {
		return protocol.Value{}, err
	}
	resolve := func(st *State) (*lua.LFunction, error) {
		return st.libraryFunction(ctx, lib, name, proto)
	}
	return e.run(ctx, inv, name, inv.ReadOnly || fn.NoWrites, true, resolve)
}

// run executes the function resolve returns. Read-only runs get a fresh
// interpreter; writable runs share one under the engine lock.
func (e *Engine) run(ctx context.Context, inv Invocation, name string, readOnly, withArgs bool, resolve func(*State) (*lua.LFunction, error)) (protocol.Value, error) {
	var st *State
	if readOnly {
		ro, err := e.newState(true)
		if err != nil {
			return protocol.Value{}, err
		}
		defer ro.Close()
		st = ro
	} else {
		e.mu.Lock()
		defer e.mu.Unlock()
		st = e.writable
		st.syncLibraries(e.registry)
	}

	fn, err := resolve(st)
	if err != nil {
		return protocol.Value{}, err
	}
	return st.call(ctx, fn, &invocation{caller: inv.Caller, name: name}, inv.Keys, inv.Args, inv.Seed, withArgs)
}

func (e *Engine) libraryProto(code string) (*lua.FunctionProto, error) {
	_, src, err := parseLibraryHeader(code)
	if err != nil {
		return nil, err
	}
	return e.cache.get(libraryCacheKey(code), functionChunkName, src)
}

func libraryCacheKey(code string) string {
	return "lib:" + SHA1Hex(code)
}

// CreateFunction compiles body and registers it under its digest. The
// script is persisted when store is set.
func (e *Engine) CreateFunction(body string, store bool) (string, error) {
	sha := SHA1Hex(body)
	if _, err := e.cache.get(sha, scriptChunkName, body); err != nil {
		return "", err
	}
	if _, ok := e.registry.Script(sha); ok {
		return sha, nil
	}
	if store && e.persister != nil {
		if err := e.persister.Commit(scriptBatch(sha, body)); err != nil {
			return "", err
		}
	}
	if e.registry.AddScript(sha, body) {
		e.logger.Debug("script registered", zap.String("sha", sha), zap.Bool("stored", store))
	}
	return sha, nil
}

// ScriptLoad registers and persists body without running it
func (e *Engine) ScriptLoad(body string) (string, error) {
	return e.CreateFunction(body, true)
}

// ScriptExists reports for each digest whether a script is registered
func (e *Engine) ScriptExists(shas []string) []bool {
	lower := make([]string, len(shas))
	for i, sha := range shas {
		lower[i] = strings.ToLower(sha)
	}
	return e.registry.ScriptExists(lower)
}

// ScriptFlush removes every script and resets the writable interpreter
func (e *Engine) ScriptFlush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	shas := e.registry.FlushScripts()
	for _, sha := range shas {
		e.cache.remove(sha)
	}

	st, err := e.newState(false)
	if err != nil {
		return err
	}
	if err := e.writable.Close(); err != nil {
		st.Close()
		return err
	}
	e.writable = st

	if e.persister != nil && len(shas) > 0 {
		if err := e.persister.Commit(scriptFlushBatch(shas)); err != nil {
			e.logger.Error("failed to flush persisted scripts", zap.Error(err))
			return err
		}
	}
	return nil
}

// FunctionLoad evaluates a library body and installs its functions. The
// body runs on a throwaway read-only interpreter; an existing library is
// replaced only when replace is set and the new body loaded cleanly.
func (e *Engine) FunctionLoad(ctx context.Context, body string, replace, store bool) (string, error) {
	name, _, err := parseLibraryHeader(body)
	if err != nil {
		return "", err
	}
	proto, err := e.libraryProto(body)
	if err != nil {
		return "", err
	}

	st, err := e.newState(true)
	if err != nil {
		return "", err
	}
	defer st.Close()

	load, err := st.evalLibrary(ctx, name, proto)
	if err != nil {
		return "", err
	}

	lib := &Library{
		Name:      name,
		Code:      body,
		Functions: make(map[string]*Function, len(load.functions)),
	}
	for fname, rf := range load.functions {
		lib.Functions[fname] = &Function{Name: fname, Library: name, NoWrites: rf.noWrites}
	}

	err = e.registry.ReplaceLibrary(lib, replace, func(old *Library) error {
		if !store || e.persister == nil {
			return nil
		}
		return e.persister.Commit(replaceLibraryBatch(lib, old))
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("library loaded",
		zap.String("library", name),
		zap.Strings("functions", lib.FunctionNames()),
	)
	return name, nil
}

// FunctionDelete removes the library called name
func (e *Engine) FunctionDelete(name string) error {
	return e.registry.DeleteLibrary(name, func(lib *Library) error {
		e.cache.remove(libraryCacheKey(lib.Code))
		if e.persister == nil {
			return nil
		}
		return e.persister.Commit(deleteLibraryBatch(lib))
	})
}

// FunctionList returns the library called name, or every library when name
// is empty
func (e *Engine) FunctionList(name string) ([]*Library, error) {
	if name == "" {
		return e.registry.Libraries(), nil
	}
	lib, ok := e.registry.Library(name)
	if !ok {
		return nil, &NotFoundError{Kind: "library", Name: name}
	}
	return []*Library{lib}, nil
}

// FunctionFlush removes every library
func (e *Engine) FunctionFlush() error {
	return e.registry.FlushLibraries(func(libs []*Library) error {
		for _, lib := range libs {
			e.cache.remove(libraryCacheKey(lib.Code))
		}
		if e.persister == nil || len(libs) == 0 {
			return nil
		}
		return e.persister.Commit(deleteLibraryBatch(libs...))
	})
}

// Restore replaces the registry with the scripts and libraries persisted
// through the Persister
func (e *Engine) Restore() error {
	if e.persister == nil {
		return nil
	}
	scripts, libs, err := loadPersisted(e.persister.KV())
	if err != nil {
		return err
	}
	e.registry.reset(scripts, libs)
	e.logger.Info("script registry restored",
		zap.Int("scripts", len(scripts)),
		zap.Int("libraries", len(libs)),
	)
	return nil
}

// Close releases the writable interpreter
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.purge()
	return e.writable.Close()
}
