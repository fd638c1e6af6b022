package lua

import (
	"errors"

	"github.com/raniellyferreira/kvscript/encoding"
	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/storage"
)

// Persister stores registry changes next to the keyspace. *storage.Store
// satisfies it.
type Persister interface {
	Commit(b *engine.Batch) error
	KV() engine.KV
}

const functionFlagNoWrites uint8 = 1 << 0

var errCorruptLibrary = errors.New("lua: corrupt library record")

// encodeLibrary lays out a library as
//
//	name | code | count | (function name | flags)*
//
// with length-prefixed strings and a varint32 count
func encodeLibrary(lib *Library) []byte {
	var buf []byte
	buf = encoding.PutLengthPrefixed(buf, []byte(lib.Name))
	buf = encoding.PutLengthPrefixed(buf, []byte(lib.Code))
	names := lib.FunctionNames()
	buf = encoding.PutVarint32(buf, uint32(len(names)))
	for _, name := range names {
		var flags uint8
		if lib.Functions[name].NoWrites {
			flags |= functionFlagNoWrites
		}
		buf = encoding.PutLengthPrefixed(buf, []byte(name))
		buf = encoding.PutFixed8(buf, flags)
	}
	return buf
}

func decodeLibrary(data []byte) (*Library, error) {
	in := data
	name, ok := encoding.GetLengthPrefixed(&in)
	if !ok {
		return nil, errCorruptLibrary
	}
	code, ok := encoding.GetLengthPrefixed(&in)
	if !ok {
		return nil, errCorruptLibrary
	}
	count, ok := encoding.GetVarint32(&in)
	if !ok {
		return nil, errCorruptLibrary
	}

	lib := &Library{
		Name:      string(name),
		Code:      string(code),
		Functions: make(map[string]*Function, count),
	}
	for i := uint32(0); i < count; i++ {
		fname, ok := encoding.GetLengthPrefixed(&in)
		if !ok {
			return nil, errCorruptLibrary
		}
		flags, ok := encoding.GetFixed8(&in)
		if !ok {
			return nil, errCorruptLibrary
		}
		lib.Functions[string(fname)] = &Function{
			Name:     string(fname),
			Library:  lib.Name,
			NoWrites: flags&functionFlagNoWrites != 0,
		}
	}
	return lib, nil
}

func scriptBatch(sha, body string) *engine.Batch {
	b := engine.NewBatch()
	b.Put(storage.ScriptKey(sha), []byte(body))
	return b
}

func scriptFlushBatch(shas []string) *engine.Batch {
	b := engine.NewBatch()
	for _, sha := range shas {
		b.Delete(storage.ScriptKey(sha))
	}
	return b
}

// replaceLibraryBatch writes lib and drops the function keys old owned that
// lib no longer defines
func replaceLibraryBatch(lib, old *Library) *engine.Batch {
	b := engine.NewBatch()
	if old != nil {
		for name := range old.Functions {
			if _, kept := lib.Functions[name]; !kept {
				b.Delete(storage.FunctionKey(name))
			}
		}
	}
	b.Put(storage.LibraryKey(lib.Name), encodeLibrary(lib))
	for _, name := range lib.FunctionNames() {
		b.Put(storage.FunctionKey(name), []byte(lib.Name))
	}
	return b
}

func deleteLibraryBatch(libs ...*Library) *engine.Batch {
	b := engine.NewBatch()
	for _, lib := range libs {
		b.Delete(storage.LibraryKey(lib.Name))
		for name := range lib.Functions {
			b.Delete(storage.FunctionKey(name))
		}
	}
	return b
}

// loadPersisted reads every stored script and library from kv
func loadPersisted(kv engine.KV) (map[string]string, []*Library, error) {
	scripts := make(map[string]string)
	err := kv.Scan([]byte{storage.PrefixScript}, func(key, value []byte) error {
		scripts[string(key[1:])] = string(value)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var libs []*Library
	err = kv.Scan([]byte{storage.PrefixLibrary}, func(_, value []byte) error {
		lib, err := decodeLibrary(value)
		if err != nil {
			return err
		}
		libs = append(libs, lib)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return scripts, libs, nil
}
