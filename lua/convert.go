package lua

import (
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/kvscript/protocol"
)

// Field names of the records a reply is converted to
const (
	fieldOK     = "ok"
	fieldErr    = "err"
	fieldDouble = "double"
)

var errConversionDepth = &ScriptError{Msg: "reached lua stack limit"}

// ReplyToLua converts a reply into a Lua value.
//
//	Integer      number
//	Bulk string  string
//	Status       {ok = s}
//	Error        {err = s}
//	Null         false
//	Array        sequence table
//	Boolean      boolean
//	Double       {double = n}
//
// Nesting deeper than maxDepth fails with a ScriptError.
func ReplyToLua(L *lua.LState, v protocol.Value, maxDepth int) (lua.LValue, error) {
	if maxDepth <= 0 {
		return lua.LNil, errConversionDepth
	}
	if v.IsNil() {
		return lua.LFalse, nil
	}

	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer), nil
	case protocol.TypeBulkString:
		return lua.LString(v.Data), nil
	case protocol.TypeSimpleString:
		return record(L, fieldOK, lua.LString(v.Data)), nil
	case protocol.TypeError:
		return record(L, fieldErr, lua.LString(v.Data)), nil
	case protocol.TypeBoolean:
		return lua.LBool(v.Bool), nil
	case protocol.TypeDouble:
		return record(L, fieldDouble, lua.LNumber(v.Double)), nil
	case protocol.TypeArray:
		tbl := L.CreateTable(len(v.Array), 0)
		for i, item := range v.Array {
			lv, err := ReplyToLua(L, item, maxDepth-1)
			if err != nil {
				return lua.LNil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	default:
		return lua.LFalse, nil
	}
}

func record(L *lua.LState, field string, value lua.LValue) *lua.LTable {
	tbl := L.CreateTable(0, 1)
	tbl.RawSetString(field, value)
	return tbl
}

// LuaToReply converts a Lua value into a reply. A table carrying an err
// field wins over ok, which wins over double; a clean 1..N sequence becomes
// an array and any other table an empty array. Numbers are truncated to
// integers, true becomes 1 and false becomes null.
func LuaToReply(lv lua.LValue, maxDepth int) (protocol.Value, error) {
	if maxDepth <= 0 {
		return protocol.Value{}, errConversionDepth
	}

	switch v := lv.(type) {
	case lua.LString:
		return protocol.BulkString(string(v)), nil
	case lua.LNumber:
		return protocol.Integer(truncate(float64(v))), nil
	case lua.LBool:
		if v {
			return protocol.Integer(1), nil
		}
		return protocol.Null(), nil
	case *lua.LTable:
		return tableToReply(v, maxDepth)
	default:
		return protocol.Null(), nil
	}
}

func tableToReply(tbl *lua.LTable, maxDepth int) (protocol.Value, error) {
	if errv := tbl.RawGetString(fieldErr); errv != lua.LNil {
		return protocol.Error(lua.LVAsString(errv)), nil
	}
	if ok := tbl.RawGetString(fieldOK); ok != lua.LNil {
		return protocol.Status(lua.LVAsString(ok)), nil
	}
	if d, ok := tbl.RawGetString(fieldDouble).(lua.LNumber); ok {
		return protocol.Double(float64(d)), nil
	}

	n, ok := sequenceLen(tbl)
	if !ok {
		return protocol.Array(), nil
	}
	items := make([]protocol.Value, n)
	for i := 1; i <= n; i++ {
		item, err := LuaToReply(tbl.RawGetInt(i), maxDepth-1)
		if err != nil {
			return protocol.Value{}, err
		}
		items[i-1] = item
	}
	return protocol.Array(items...), nil
}

// sequenceLen returns n when the keys of tbl are exactly 1..n
func sequenceLen(tbl *lua.LTable) (int, bool) {
	count := 0
	clean := true
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		num, isNum := k.(lua.LNumber)
		if !isNum || float64(num) != math.Trunc(float64(num)) || num < 1 {
			clean = false
		}
	})
	if !clean {
		return 0, false
	}
	for i := 1; i <= count; i++ {
		if tbl.RawGetInt(i) == lua.LNil {
			return 0, false
		}
	}
	return count, true
}

// truncate converts f to an integer rounding toward zero and saturating at
// the int64 bounds
func truncate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

// formatNumber renders n the way Lua converts numbers to strings
func formatNumber(n lua.LNumber) string {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1e14 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}
