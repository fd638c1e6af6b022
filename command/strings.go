package command

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/kvscript/protocol"
	"github.com/raniellyferreira/kvscript/storage"
)

func genericCommands() []*Command {
	return []*Command{
		{Name: "ping", Arity: -1, Flags: FlagReadOnly, Proc: pingCommand},
		{Name: "echo", Arity: 2, Flags: FlagReadOnly, Proc: echoCommand},
	}
}

func stringCommands() []*Command {
	return []*Command{
		{Name: "get", Arity: 2, Flags: FlagReadOnly, Proc: getCommand},
		{Name: "set", Arity: -3, Flags: FlagWrite, Proc: setCommand},
		{Name: "setnx", Arity: 3, Flags: FlagWrite, Proc: setnxCommand},
		{Name: "mget", Arity: -2, Flags: FlagReadOnly, Proc: mgetCommand},
		{Name: "mset", Arity: -3, Flags: FlagWrite, Proc: msetCommand},
		{Name: "incr", Arity: 2, Flags: FlagWrite, Proc: incrCommand},
		{Name: "incrby", Arity: 3, Flags: FlagWrite, Proc: incrbyCommand},
		{Name: "decr", Arity: 2, Flags: FlagWrite, Proc: decrCommand},
		{Name: "decrby", Arity: 3, Flags: FlagWrite, Proc: decrbyCommand},
		{Name: "append", Arity: 3, Flags: FlagWrite, Proc: appendCommand},
		{Name: "strlen", Arity: 2, Flags: FlagReadOnly, Proc: strlenCommand},
	}
}

func pingCommand(r *Request) (protocol.Value, error) {
	switch len(r.Argv) {
	case 1:
		return protocol.Status("PONG"), nil
	case 2:
		return protocol.Bulk(r.Argv[1]), nil
	default:
		return protocol.Value{}, wrongArgs("ping")
	}
}

func echoCommand(r *Request) (protocol.Value, error) {
	return protocol.Bulk(r.Argv[1]), nil
}

func getCommand(r *Request) (protocol.Value, error) {
	value, ok, err := r.Txn.Get(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk(value), nil
}

// setCommand implements SET key value [NX|XX] [GET] [EX s|PX ms|KEEPTTL]
func setCommand(r *Request) (protocol.Value, error) {
	key := r.Arg(1)
	var (
		opts        storage.SetOptions
		nx, xx, get bool
		expireSet   bool
	)
	for i := 3; i < len(r.Argv); i++ {
		switch opt := strings.ToUpper(r.Arg(i)); opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GET":
			get = true
		case "KEEPTTL":
			if expireSet {
				return protocol.Value{}, errSyntax
			}
			opts.KeepTTL = true
			expireSet = true
		case "EX", "PX":
			if expireSet || i+1 >= len(r.Argv) {
				return protocol.Value{}, errSyntax
			}
			i++
			n, err := parseInt(r.Argv[i])
			if err != nil {
				return protocol.Value{}, err
			}
			if n <= 0 {
				return protocol.Errorf("ERR invalid expire time in 'set' command"), nil
			}
			unit := time.Second
			if opt == "PX" {
				unit = time.Millisecond
			}
			opts.TTL = time.Duration(n) * unit
			expireSet = true
		default:
			return protocol.Value{}, errSyntax
		}
	}
	if nx && xx {
		return protocol.Value{}, errSyntax
	}

	old, exists, err := r.Txn.Get(key)
	switch {
	case errors.Is(err, storage.ErrWrongType) && !get:
		// SET replaces a value of any type
		exists = true
	case err != nil:
		return protocol.Value{}, err
	}

	if (nx && exists) || (xx && !exists) {
		if get && exists {
			return protocol.Bulk(old), nil
		}
		return protocol.Null(), nil
	}
	if err := r.Txn.Set(key, r.Argv[2], opts); err != nil {
		return protocol.Value{}, err
	}
	if get {
		if !exists {
			return protocol.Null(), nil
		}
		return protocol.Bulk(old), nil
	}
	return protocol.OK(), nil
}

func setnxCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.Exists(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	if n > 0 {
		return protocol.Integer(0), nil
	}
	if err := r.Txn.Set(r.Arg(1), r.Argv[2], storage.SetOptions{}); err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(1), nil
}

func mgetCommand(r *Request) (protocol.Value, error) {
	out := make([]protocol.Value, 0, len(r.Argv)-1)
	for _, key := range r.Argv[1:] {
		value, ok, err := r.Txn.Get(string(key))
		if err != nil && !errors.Is(err, storage.ErrWrongType) {
			return protocol.Value{}, err
		}
		if !ok {
			out = append(out, protocol.Null())
			continue
		}
		out = append(out, protocol.Bulk(value))
	}
	return protocol.Array(out...), nil
}

func msetCommand(r *Request) (protocol.Value, error) {
	if len(r.Argv)%2 != 1 {
		return protocol.Value{}, wrongArgs("mset")
	}
	for i := 1; i < len(r.Argv); i += 2 {
		if err := r.Txn.Set(r.Arg(i), r.Argv[i+1], storage.SetOptions{}); err != nil {
			return protocol.Value{}, err
		}
	}
	return protocol.OK(), nil
}

func incrCommand(r *Request) (protocol.Value, error) {
	return incrBy(r, 1)
}

func decrCommand(r *Request) (protocol.Value, error) {
	return incrBy(r, -1)
}

func incrbyCommand(r *Request) (protocol.Value, error) {
	delta, err := parseInt(r.Argv[2])
	if err != nil {
		return protocol.Value{}, err
	}
	return incrBy(r, delta)
}

func decrbyCommand(r *Request) (protocol.Value, error) {
	delta, err := parseInt(r.Argv[2])
	if err != nil {
		return protocol.Value{}, err
	}
	if delta == math.MinInt64 {
		return protocol.Value{}, errOverflow
	}
	return incrBy(r, -delta)
}

func incrBy(r *Request, delta int64) (protocol.Value, error) {
	key := r.Arg(1)
	value, ok, err := r.Txn.Get(key)
	if err != nil {
		return protocol.Value{}, err
	}
	var current int64
	if ok {
		if current, err = parseInt(value); err != nil {
			return protocol.Value{}, err
		}
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return protocol.Value{}, errOverflow
	}
	current += delta
	if err := r.Txn.Set(key, []byte(strconv.FormatInt(current, 10)), storage.SetOptions{KeepTTL: true}); err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(current), nil
}

func appendCommand(r *Request) (protocol.Value, error) {
	key := r.Arg(1)
	value, _, err := r.Txn.Get(key)
	if err != nil {
		return protocol.Value{}, err
	}
	value = append(append([]byte(nil), value...), r.Argv[2]...)
	if err := r.Txn.Set(key, value, storage.SetOptions{KeepTTL: true}); err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(int64(len(value))), nil
}

func strlenCommand(r *Request) (protocol.Value, error) {
	value, _, err := r.Txn.Get(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(int64(len(value))), nil
}
