package lua

import (
	"strings"

	"github.com/bluele/gcache"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultCacheSize is the number of compiled chunks kept by an Engine
const DefaultCacheSize = 512

// protoCache keeps compiled chunks by the digest of their source. A
// FunctionProto is immutable and can be instantiated in any LState.
type protoCache struct {
	cache gcache.Cache
}

func newProtoCache(size int) *protoCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &protoCache{cache: gcache.New(size).LRU().Build()}
}

// get returns the compiled chunk of src, compiling it on a miss
func (c *protoCache) get(sha, name, src string) (*lua.FunctionProto, error) {
	if v, err := c.cache.Get(sha); err == nil {
		return v.(*lua.FunctionProto), nil
	}
	proto, err := compile(name, src)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(sha, proto)
	return proto, nil
}

func (c *protoCache) remove(sha string) {
	c.cache.Remove(sha)
}

func (c *protoCache) purge() {
	c.cache.Purge()
}

func (c *protoCache) len() int {
	return c.cache.Len(false)
}

// compile parses and compiles src into a chunk
func compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, &ScriptCompileError{Name: name, Err: err}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &ScriptCompileError{Name: name, Err: err}
	}
	return proto, nil
}
