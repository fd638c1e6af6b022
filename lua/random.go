package lua

import (
	"math"

	lua "github.com/yuin/gopher-lua"
)

// rand48Max is the exclusive upper bound of lrand48 results
const rand48Max = math.MaxInt32

const (
	rand48Mul  = 0x5DEECE66D
	rand48Add  = 0xB
	rand48Mask = 1<<48 - 1
)

// rand48 is an lrand48-compatible generator. The same seed produces the
// same sequence on every platform.
type rand48 struct {
	x uint64
}

// Seed resets the generator the way srand48 does
func (r *rand48) Seed(seed int32) {
	r.x = (uint64(uint32(seed))<<16 | 0x330E) & rand48Mask
}

// Int31 returns the next non-negative 31-bit value
func (r *rand48) Int31() int32 {
	r.x = (rand48Mul*r.x + rand48Add) & rand48Mask
	return int32(r.x >> 17)
}

// mathRandom replaces math.random
func (st *State) mathRandom(L *lua.LState) int {
	r := float64(st.rng.Int31()%rand48Max) / float64(rand48Max)
	switch L.GetTop() {
	case 0:
		L.Push(lua.LNumber(r))
	case 1:
		u := L.CheckInt(1)
		if u < 1 {
			L.ArgError(1, "interval is empty")
		}
		L.Push(lua.LNumber(math.Floor(r*float64(u)) + 1))
	case 2:
		l := L.CheckInt(1)
		u := L.CheckInt(2)
		if l > u {
			L.ArgError(2, "interval is empty")
		}
		L.Push(lua.LNumber(math.Floor(r*float64(u-l+1)) + float64(l)))
	default:
		L.RaiseError("wrong number of arguments")
	}
	return 1
}

// mathRandomSeed replaces math.randomseed
func (st *State) mathRandomSeed(L *lua.LState) int {
	st.rng.Seed(int32(L.CheckInt(1)))
	return 0
}
