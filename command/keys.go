package command

import (
	"time"

	"github.com/raniellyferreira/kvscript/protocol"
)

func keyCommands() []*Command {
	return []*Command{
		{Name: "del", Arity: -2, Flags: FlagWrite, Proc: delCommand},
		{Name: "exists", Arity: -2, Flags: FlagReadOnly, Proc: existsCommand},
		{Name: "type", Arity: 2, Flags: FlagReadOnly, Proc: typeCommand},
		{Name: "expire", Arity: 3, Flags: FlagWrite, Proc: expireCommand(time.Second)},
		{Name: "pexpire", Arity: 3, Flags: FlagWrite, Proc: expireCommand(time.Millisecond)},
		{Name: "ttl", Arity: 2, Flags: FlagReadOnly, Proc: ttlCommand},
		{Name: "pttl", Arity: 2, Flags: FlagReadOnly, Proc: pttlCommand},
		{Name: "persist", Arity: 2, Flags: FlagWrite, Proc: persistCommand},
		{Name: "keys", Arity: 2, Flags: FlagReadOnly | FlagSortForScript, Proc: keysCommand},
		{Name: "dbsize", Arity: 1, Flags: FlagReadOnly, Proc: dbsizeCommand},
	}
}

func argStrings(argv [][]byte) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = string(a)
	}
	return out
}

func delCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.Del(argStrings(r.Argv[1:])...)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}

func existsCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.Exists(argStrings(r.Argv[1:])...)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}

func typeCommand(r *Request) (protocol.Value, error) {
	typ, err := r.Txn.Type(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Status(typ.String()), nil
}

func expireCommand(unit time.Duration) Proc {
	return func(r *Request) (protocol.Value, error) {
		n, err := parseInt(r.Argv[2])
		if err != nil {
			return protocol.Value{}, err
		}
		ok, err := r.Txn.Expire(r.Arg(1), time.Duration(n)*unit)
		if err != nil {
			return protocol.Value{}, err
		}
		return boolInt(ok), nil
	}
}

func pttlCommand(r *Request) (protocol.Value, error) {
	ms, err := r.Txn.PTTL(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(ms), nil
}

func ttlCommand(r *Request) (protocol.Value, error) {
	ms, err := r.Txn.PTTL(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	if ms < 0 {
		return protocol.Integer(ms), nil
	}
	return protocol.Integer((ms + 500) / 1000), nil
}

func persistCommand(r *Request) (protocol.Value, error) {
	ok, err := r.Txn.Persist(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return boolInt(ok), nil
}

func keysCommand(r *Request) (protocol.Value, error) {
	keys, err := r.Txn.Keys(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return bulkStrings(keys), nil
}

func dbsizeCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.DBSize()
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}
