package sb

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Runtime bundles the process-wide singletons spec.md §5 calls out as
// needing single-writer discipline during grammar compilation and
// read-only sharing afterwards: the klass registry and the interned-
// string table. DESIGN NOTES §9: "Global singletons → explicit
// registries... bundle them into a Runtime value threaded through
// parser instances."
type Runtime struct {
	registry *Registry
	strings  *stringTable
	hashKey  [2]uint64

	checking bool
	live     map[*heapHeader]string // klass name, memory-check mode only

	EmptyArray *Array
	EmptyMap   *Map
	EmptyDict  *Dict
}

// NewRuntime creates an isolated runtime: its own klass registry and
// string table, so tests (and independent embeddings) never share
// mutable state. DESIGN NOTES §9's explicit-registry recommendation.
func NewRuntime() *Runtime {
	rt := &Runtime{
		registry: newRegistry(),
		strings:  newStringTable(),
		hashKey:  [2]uint64{0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9},
	}
	// Dynamic strings compare and hash by contents, through the klass
	// hook slots every heap kind carries.
	dyn := rt.registry.Val(KlassDynString)
	dyn.Hash = func(v Value) uint64 {
		return siphashBytes(rt.hashKey, v.(*DynString).Bytes)
	}
	dyn.Eq = func(a, b Value) bool {
		return string(a.(*DynString).Bytes) == string(b.(*DynString).Bytes)
	}
	rt.EmptyArray = newEmptyArray(rt)
	rt.EmptyMap = newEmptyMap(rt)
	rt.EmptyDict = newEmptyDict(rt)
	return rt
}

// DefaultRuntime backs the package-level convenience functions, just
// as the teacher keeps package-level state (globalUniqueID in
// vm_instructions.go) for the common single-runtime case.
var DefaultRuntime = NewRuntime()

func (rt *Runtime) Registry() *Registry { return rt.registry }

// EnableMemoryCheck turns on memory-check mode for deterministic tests:
// every heap value passed to Track is recorded, and EndMemoryCheck
// reports each one not yet released. Allocation itself records
// nothing; a value never passed to Track is never checked.
func (rt *Runtime) EnableMemoryCheck() {
	rt.checking = true
	rt.live = map[*heapHeader]string{}
}

// EndMemoryCheck asserts every checked allocation has been released,
// returning a description of each leak found (klass name + pointer).
func (rt *Runtime) EndMemoryCheck() []string {
	var leaks []string
	for h, name := range rt.live {
		leaks = append(leaks, fmt.Sprintf("leaked %s @ %p (extraRC=%d)", name, h, h.extraRC))
	}
	rt.checking = false
	rt.live = nil
	return leaks
}

// Track registers a heap value with the memory-check set; it is how a
// checked region declares the allocations it is responsible for
// releasing. A no-op for immediates, permanent values, and outside
// memory-check mode.
func (rt *Runtime) Track(v Value) Value {
	if h := heapHeaderOf(v); h != nil {
		rt.track(h, rt.registry.Val(h.klass).Name)
	}
	return v
}

func (rt *Runtime) track(h *heapHeader, klassName string) {
	if rt.checking && !h.perm {
		rt.live[h] = klassName
	}
}

func (rt *Runtime) untrack(h *heapHeader) {
	if rt.checking {
		delete(rt.live, h)
	}
}

// Retain increments a heap value's refcount. Perm values are no-ops
// per spec.md §4.1.
func (rt *Runtime) Retain(v Value) Value {
	if h := heapHeaderOf(v); h != nil && !h.perm {
		if h.extraRC == extraRCMax {
			h.overflow = true
			return v
		}
		h.extraRC++
	}
	return v
}

// Release decrements a heap value's refcount, running destruct (via
// the klass Destruct hook) and untracking it once the count reaches
// zero. Perm values are no-ops.
func (rt *Runtime) Release(v Value) {
	h := heapHeaderOf(v)
	if h == nil || h.perm {
		return
	}
	if h.dealloc {
		panic("sb: refcount underflow (release after deallocation)")
	}
	if h.extraRC == 0 {
		h.dealloc = true
		if k, ok := rt.registry.byID[h.klass]; ok && k.Destruct != nil {
			k.Destruct(rt, v)
		}
		rt.untrack(h)
		return
	}
	h.extraRC--
}

// Perm marks a heap value permanent: retain/release become no-ops,
// matching spec.md §3's "perm flag (object is permanent, never
// retained/released)". Used for the empty collections and interned
// klass/string metadata shared freely across parser instances.
func (rt *Runtime) Perm(v Value) Value {
	if h := heapHeaderOf(v); h != nil {
		h.perm = true
		rt.untrack(h)
	}
	return v
}

func (rt *Runtime) RetainCount(v Value) int {
	if h := heapHeaderOf(v); h != nil {
		return int(h.extraRC) + 1
	}
	return 1
}

// heapHeaderOf extracts the embedded heapHeader from any heap Value,
// or returns nil for immediates (which have none).
func heapHeaderOf(v Value) *heapHeader {
	switch hv := v.(type) {
	case *Token:
		return &hv.heapHeader
	case *DynString:
		return &hv.heapHeader
	case *Box:
		return &hv.heapHeader
	case *Struct:
		return &hv.heapHeader
	case *Array:
		return &hv.heapHeader
	case *ArraySlice:
		return &hv.heapHeader
	case *Map:
		return &hv.heapHeader
	case *Dict:
		return &hv.heapHeader
	case *Cons:
		return &hv.heapHeader
	}
	return nil
}

// siphash stands in for spec.md §1's "siphash (consumed as a black-box
// 16-byte-keyed 64-bit hash)" — itself declared an external
// collaborator out of scope for this spec. SplitMix64 gives the same
// "opaque, well-distributed 64-bit hash of a 64-bit key" shape without
// re-deriving or vendoring an unrelated cryptographic primitive.
func siphash(key [2]uint64, x uint64) uint64 {
	z := x + key[0] ^ bits.RotateLeft64(key[1], 17)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func siphashBytes(key [2]uint64, b []byte) uint64 {
	h := key[0] ^ uint64(len(b))*0x9e3779b97f4a7c15
	for len(b) >= 8 {
		h = siphash(key, h^binary.LittleEndian.Uint64(b))
		b = b[8:]
	}
	var tail [8]byte
	copy(tail[:], b)
	return siphash(key, h^binary.LittleEndian.Uint64(tail[:]))
}
