package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Prefixes of the keys holding compiled procedures in State.globals
const (
	scriptPrefix   = "f_"
	functionPrefix = "redis_registered__"
)

// openLibs opens the allow-listed standard libraries. io, os, debug,
// package and channel are never opened.
func openLibs(L *lua.LState) error {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.name)); err != nil {
			return fmt.Errorf("lua: open library %q: %w", pair.name, err)
		}
	}
	return nil
}

// unsupportedGlobals reach the filesystem, load code at runtime, expose
// the collector or break determinism
var unsupportedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"collectgarbage",
	"print",
	"getfenv",
	"setfenv",
	"_printregs",
	"newproxy",
}

func removeUnsupportedFunctions(L *lua.LState) {
	for _, name := range unsupportedGlobals {
		L.G.Global.RawSetString(name, lua.LNil)
	}
}

// readOnlyLibs are exposed to scripts through read-only proxies
var readOnlyLibs = []string{
	"redis",
	lua.StringLibName,
	lua.MathLibName,
	lua.TabLibName,
	lua.CoroutineLibName,
}

const readOnlyTableMsg = "Attempt to modify a readonly table"

// globalsGuard rejects the creation of globals outside a static allow-list
type globalsGuard struct {
	allowed map[string]struct{}
}

func newGlobalsGuard() *globalsGuard {
	return &globalsGuard{
		allowed: map[string]struct{}{
			"KEYS": {},
			"ARGV": {},
		},
	}
}

// Allowed reports whether scripts may create the global name
func (g *globalsGuard) Allowed(name string) bool {
	_, ok := g.allowed[name]
	return ok
}

// sealGlobals moves every global into st.globals and leaves _G empty, so
// every script write to _G goes through the guard. Reads fall through to
// st.globals. Library tables are replaced by read-only proxies. Compiled
// procedures are stored in st.globals from Go and cannot be overwritten by
// scripts.
func (st *State) sealGlobals(L *lua.LState) {
	global := L.G.Global
	base := L.NewTable()

	var names []lua.LValue
	global.ForEach(func(k, v lua.LValue) {
		base.RawSet(k, v)
		names = append(names, k)
	})
	for _, k := range names {
		global.RawSet(k, lua.LNil)
	}

	st.globals = base
	st.sealed = map[*lua.LTable]*lua.LTable{global: base}

	for _, name := range readOnlyLibs {
		if lib, ok := base.RawGetString(name).(*lua.LTable); ok {
			base.RawSetString(name, st.readOnlyProxy(L, lib))
		}
	}
	// string methods resolve through the proxy and the metatable is hidden
	if mt, ok := L.GetMetatable(lua.LString("")).(*lua.LTable); ok {
		mt.RawSetString("__index", base.RawGetString(lua.StringLibName))
		mt.RawSetString("__metatable", lua.LString("protected"))
	}

	base.RawSetString("rawset", L.NewFunction(st.guardedRawSet))
	base.RawSetString("rawget", L.NewFunction(st.guardedRawGet))
	base.RawSetString("getmetatable", L.NewFunction(protectedGetMetatable))

	mt := L.NewTable()
	mt.RawSetString("__index", base)
	mt.RawSetString("__newindex", L.NewFunction(st.guardNewIndex))
	mt.RawSetString("__metatable", lua.LString("protected"))
	L.SetMetatable(global, mt)
}

// readOnlyProxy returns an empty table reading through to lib and raising
// a SandboxViolation on writes
func (st *State) readOnlyProxy(L *lua.LState, lib *lua.LTable) *lua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", lib)
	mt.RawSetString("__newindex", L.NewFunction(st.readOnlyNewIndex))
	mt.RawSetString("__metatable", lua.LString("protected"))
	L.SetMetatable(proxy, mt)
	st.sealed[proxy] = lib
	return proxy
}

func (st *State) readOnlyNewIndex(L *lua.LState) int {
	st.violate(L, &SandboxViolation{Msg: readOnlyTableMsg})
	return 0
}

func (st *State) guardNewIndex(L *lua.LState) int {
	tbl := L.CheckTable(1)
	key := L.Get(2)
	st.setGlobal(L, tbl, key, L.Get(3))
	return 0
}

func (st *State) setGlobal(L *lua.LState, tbl *lua.LTable, key, value lua.LValue) {
	name := lua.LVAsString(key)
	if !st.guard.Allowed(name) {
		st.violate(L, &SandboxViolation{
			Msg: fmt.Sprintf("Script attempted to create global variable '%s'", name),
		})
		return
	}
	tbl.RawSet(key, value)
}

// guardedRawSet is rawset that cannot bypass the guard or the read-only
// proxies
func (st *State) guardedRawSet(L *lua.LState) int {
	tbl := L.CheckTable(1)
	key := L.CheckAny(2)
	value := L.CheckAny(3)
	switch {
	case tbl == L.G.Global:
		st.setGlobal(L, tbl, key, value)
	case st.isSealed(tbl):
		st.violate(L, &SandboxViolation{Msg: readOnlyTableMsg})
	default:
		tbl.RawSet(key, value)
	}
	L.Push(tbl)
	return 1
}

// guardedRawGet is rawget that sees through the proxies
func (st *State) guardedRawGet(L *lua.LState) int {
	tbl := L.CheckTable(1)
	key := L.CheckAny(2)
	v := tbl.RawGet(key)
	if v == lua.LNil {
		if backing, ok := st.sealed[tbl]; ok {
			v = backing.RawGet(key)
		}
	}
	L.Push(v)
	return 1
}

func (st *State) isSealed(tbl *lua.LTable) bool {
	if _, ok := st.sealed[tbl]; ok {
		return true
	}
	for _, backing := range st.sealed {
		if backing == tbl {
			return true
		}
	}
	return false
}

// protectedGetMetatable honours the __metatable field
func protectedGetMetatable(L *lua.LState) int {
	mt := L.GetMetatable(L.CheckAny(1))
	if tbl, ok := mt.(*lua.LTable); ok {
		if protected := tbl.RawGetString("__metatable"); protected != lua.LNil {
			L.Push(protected)
			return 1
		}
	}
	L.Push(mt)
	return 1
}

// violate records a sandbox violation and raises it. The invocation fails
// with the violation even if the script catches the raised error.
func (st *State) violate(L *lua.LState, v *SandboxViolation) {
	if st.violation == nil {
		st.violation = v
	}
	L.RaiseError("%s", v.Msg)
}
