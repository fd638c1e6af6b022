package command

import (
	"github.com/raniellyferreira/kvscript/protocol"
	"github.com/raniellyferreira/kvscript/storage"
)

func hashCommands() []*Command {
	return []*Command{
		{Name: "hset", Arity: -4, Flags: FlagWrite, Proc: hsetCommand},
		{Name: "hget", Arity: 3, Flags: FlagReadOnly, Proc: hgetCommand},
		{Name: "hdel", Arity: -3, Flags: FlagWrite, Proc: hdelCommand},
		{Name: "hgetall", Arity: 2, Flags: FlagReadOnly, Proc: hgetallCommand},
		{Name: "hlen", Arity: 2, Flags: FlagReadOnly, Proc: hlenCommand},
		{Name: "hexists", Arity: 3, Flags: FlagReadOnly, Proc: hexistsCommand},
	}
}

func hsetCommand(r *Request) (protocol.Value, error) {
	if len(r.Argv)%2 != 0 {
		return protocol.Value{}, wrongArgs("hset")
	}
	pairs := make([]storage.Field, 0, (len(r.Argv)-2)/2)
	for i := 2; i < len(r.Argv); i += 2 {
		pairs = append(pairs, storage.Field{Name: r.Arg(i), Value: r.Argv[i+1]})
	}
	n, err := r.Txn.HSet(r.Arg(1), pairs...)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}

func hgetCommand(r *Request) (protocol.Value, error) {
	value, ok, err := r.Txn.HGet(r.Arg(1), r.Arg(2))
	if err != nil {
		return protocol.Value{}, err
	}
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk(value), nil
}

func hdelCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.HDel(r.Arg(1), argStrings(r.Argv[2:])...)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}

func hgetallCommand(r *Request) (protocol.Value, error) {
	fields, err := r.Txn.HGetAll(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	out := make([]protocol.Value, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, protocol.BulkString(f.Name), protocol.Bulk(f.Value))
	}
	return protocol.Array(out...), nil
}

func hlenCommand(r *Request) (protocol.Value, error) {
	n, err := r.Txn.HLen(r.Arg(1))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(n), nil
}

func hexistsCommand(r *Request) (protocol.Value, error) {
	ok, err := r.Txn.HExists(r.Arg(1), r.Arg(2))
	if err != nil {
		return protocol.Value{}, err
	}
	return boolInt(ok), nil
}
