package lua

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Log levels exposed to scripts as redis.LOG_*
const (
	LogDebug = iota
	LogVerbose
	LogNotice
	LogWarning
)

var logLevels = map[string]int{
	"LOG_DEBUG":   LogDebug,
	"LOG_VERBOSE": LogVerbose,
	"LOG_NOTICE":  LogNotice,
	"LOG_WARNING": LogWarning,
}

// SHA1Hex returns the lowercase hex SHA1 digest of body
func SHA1Hex(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

func redisSha1hex(L *lua.LState) int {
	if L.GetTop() != 1 {
		L.RaiseError("wrong number of arguments")
		return 0
	}
	L.Push(lua.LString(SHA1Hex(lua.LVAsString(L.Get(1)))))
	return 1
}

func redisStatusReply(L *lua.LState) int {
	return replyRecord(L, fieldOK)
}

func redisErrorReply(L *lua.LState) int {
	return replyRecord(L, fieldErr)
}

func replyRecord(L *lua.LState, field string) int {
	if L.GetTop() != 1 || L.Get(1).Type() != lua.LTString {
		L.RaiseError("wrong number or type of arguments")
		return 0
	}
	L.Push(record(L, field, L.Get(1)))
	return 1
}

// redisLog implements redis.log(level, message, ...)
func (st *State) redisLog(L *lua.LState) int {
	argc := L.GetTop()
	if argc < 2 {
		L.RaiseError("redis.log() requires two arguments or more.")
		return 0
	}
	level, ok := L.Get(1).(lua.LNumber)
	if !ok {
		L.RaiseError("First argument must be a number (log level).")
		return 0
	}

	parts := make([]string, 0, argc-1)
	for i := 2; i <= argc; i++ {
		parts = append(parts, lua.LVAsString(L.Get(i)))
	}
	msg := strings.Join(parts, " ")

	script := ""
	if st.inv != nil {
		script = st.inv.name
	}
	fields := []zap.Field{zap.String("script", script)}

	switch int(level) {
	case LogDebug, LogVerbose:
		st.logger.Debug(msg, fields...)
	case LogNotice:
		st.logger.Info(msg, fields...)
	case LogWarning:
		st.logger.Warn(msg, fields...)
	default:
		L.RaiseError("Invalid debug level.")
	}
	return 0
}
