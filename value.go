package sb

import (
	"fmt"
	"math"
	"strings"
)

// Value is the realization of spec.md §3's tagged 64-bit word as a Go
// sum type: a closed interface over the immediate kinds (Nil, Bool,
// Int, Float, Str) plus the heap kinds (Array, Map, Dict, Cons, Box,
// Struct, Token). DESIGN NOTES §9: "the interface should be the enum".
type Value interface {
	// Klass returns the runtime type descriptor id for this value.
	Klass() KlassID
	// Truthy implements spec.md §3's truth rule: anything but nil/false.
	Truthy() bool
	String() string
}

// heapHeader is embedded in every heap-allocated Value. It carries the
// instrumented refcount used only to keep spec.md §8's retain/release
// properties checkable (see DESIGN.md's Open Question) — Go's GC does
// the actual reclamation.
type heapHeader struct {
	extraRC  uint32
	overflow bool
	perm     bool
	dealloc  bool
	klass    KlassID
}

func (h *heapHeader) Klass() KlassID { return h.klass }

const extraRCMax = 0xFFF // 12 bits, matching spec.md §3's header layout

// Nil

type NilValue struct{}

var Nil Value = NilValue{}

func (NilValue) Klass() KlassID  { return KlassNil }
func (NilValue) Truthy() bool    { return false }
func (NilValue) String() string  { return "nil" }

// Undef is the sentinel used by maps/dicts/vectors for "no value
// here" without colliding with a legitimately stored nil.
type UndefValue struct{}

var Undef Value = UndefValue{}

func (UndefValue) Klass() KlassID { return KlassNil }
func (UndefValue) Truthy() bool   { return false }
func (UndefValue) String() string { return "undef" }

func IsUndef(v Value) bool {
	_, ok := v.(UndefValue)
	return ok
}

// Bool

type Bool bool

func (b Bool) Klass() KlassID { return KlassBool }
func (b Bool) Truthy() bool   { return bool(b) }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Int — the spec's 63-bit signed integer immediate; Go's int64 is the
// natural host representation once tag bits are no longer observable.

type Int int64

func (i Int) Klass() KlassID { return KlassInt }
func (i Int) Truthy() bool   { return true }
func (i Int) String() string { return fmt.Sprintf("%d", int64(i)) }

// Float

type Float float64

func (f Float) Klass() KlassID { return KlassFloat }
func (f Float) Truthy() bool   { return true }
func (f Float) String() string { return fmt.Sprintf("%g", float64(f)) }

func (f Float) IsEncodable() bool {
	// spec.md §3: "encodable iff bit 62 of the raw double is set" —
	// i.e. the double isn't one of the handful of NaN payloads the
	// tagging scheme reserves for other immediates. Ordinary finite
	// doubles and infinities are always encodable; only a narrow NaN
	// band is excluded.
	bits := math.Float64bits(float64(f))
	return !(math.IsNaN(float64(f)) && bits&(1<<62) == 0)
}

// Str is an interned string-literal reference (spec.md §3's "string
// literal id"), not a heap object: equal contents always share one id.
type Str uint32

func (s Str) Klass() KlassID { return KlassStr }
func (s Str) Truthy() bool   { return true }
func (s Str) String() string { return fmt.Sprintf("str#%d", uint32(s)) }

// StringFor resolves an interned Str back to its bytes using rt's
// string table.
func (rt *Runtime) StringFor(s Str) string { return rt.strings.ptr(uint32(s)) }

// Token is the spec.md §3 token value: {type, byte_pos, byte_size,
// line, associated value}.
type Token struct {
	heapHeader
	Type  string
	Span  Span
	Value Value // Undef if the token carries no associated value
}

func NewToken(typ string, span Span, val Value) *Token {
	if val == nil {
		val = Undef
	}
	return &Token{heapHeader: heapHeader{klass: KlassToken}, Type: typ, Span: span, Value: val}
}

func (t *Token) Truthy() bool { return true }
func (t *Token) String() string {
	return fmt.Sprintf("token(%s, %s)", t.Type, t.Span)
}

// DynString is a heap-allocated, non-interned string: the runtime
// representation a materialized capture (spec.md §4.4: "captures are
// materialized ... as fresh string values over the current source
// segment") or a callback string-building builtin (concat_char,
// char_hex, ...) produces. Unlike Str, equal contents do not share an
// id — interning every captured substring would otherwise grow the
// process-wide string table without bound.
type DynString struct {
	heapHeader
	Bytes []byte
}

func NewDynString(s string) *DynString {
	return &DynString{heapHeader: heapHeader{klass: KlassDynString}, Bytes: []byte(s)}
}

func (s *DynString) Truthy() bool   { return true }
func (s *DynString) String() string { return string(s.Bytes) }

// Box wraps a non-Value payload (used by the AST node layer's wrapper
// nodes, spec.md §3) so it can travel through Value-typed slots
// without the collections needing to know about it.
type Box struct {
	heapHeader
	Payload any
}

func NewBox(payload any) *Box {
	return &Box{heapHeader: heapHeader{klass: KlassBox}, Payload: payload}
}

func (b *Box) Truthy() bool   { return true }
func (b *Box) String() string { return "box" }

// Struct is a mutable-then-frozen tagged record, the runtime
// representation a callback's NODE_BEG/NODE_SET/NODE_END sequence
// builds (spec.md §4.4), generalized per SPEC_FULL.md §3 from
// original_source/adt/struct.c's two-phase builder/frozen split.
type Struct struct {
	heapHeader
	fields []Value
	frozen bool
}

// NewStructBuilder allocates a struct instance with every field set to
// Undef, ready for NODE_SET/NODE_SETV to fill in positionally.
func NewStructBuilder(klass KlassID, arity int) *Struct {
	fields := make([]Value, arity)
	for i := range fields {
		fields[i] = Undef
	}
	return &Struct{heapHeader: heapHeader{klass: klass}, fields: fields}
}

func (s *Struct) Truthy() bool { return true }

func (s *Struct) String() string {
	var b strings.Builder
	b.WriteString("struct(")
	for i, f := range s.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteString(")")
	return b.String()
}

// Get returns the i'th positional field, or Undef if out of range.
func (s *Struct) Get(i int) Value {
	if i < 0 || i >= len(s.fields) {
		return Undef
	}
	return s.fields[i]
}

// Set assigns the i'th positional field. It is only valid before Freeze.
func (s *Struct) Set(i int, v Value) error {
	if s.frozen {
		return fmt.Errorf("cannot set field %d on frozen struct", i)
	}
	if i < 0 || i >= len(s.fields) {
		return fmt.Errorf("field index %d out of range [0,%d)", i, len(s.fields))
	}
	s.fields[i] = v
	return nil
}

// Arity returns the number of positional fields this struct carries.
func (s *Struct) Arity() int { return len(s.fields) }

// Freeze marks the struct as complete; subsequent Set calls fail. It
// returns the receiver for convenient chaining at NODE_END.
func (s *Struct) Freeze() *Struct {
	s.frozen = true
	return s
}

func (s *Struct) Frozen() bool { return s.frozen }

// Equal implements value equality: by-value for immediates, by klass
// Eq hook (falling back to pointer identity) for heap values.
func Equal(rt *Runtime, a, b Value) bool {
	if a.Klass() != b.Klass() {
		return false
	}
	switch av := a.(type) {
	case NilValue, UndefValue:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Float:
		return av == b.(Float)
	case Str:
		return av == b.(Str)
	}
	if k := rt.registry.Val(a.Klass()); k.Eq != nil {
		return k.Eq(a, b)
	}
	return a == b
}

// Hash implements spec.md §3's value hash: dispatches to the klass Hash
// hook for heap values, or hashes the tagged word itself for immediates.
func Hash(rt *Runtime, v Value) uint64 {
	switch vv := v.(type) {
	case NilValue, UndefValue:
		return 0
	case Bool:
		if vv {
			return 1
		}
		return 2
	case Int:
		return siphash(rt.hashKey, uint64(vv))
	case Float:
		return siphash(rt.hashKey, math.Float64bits(float64(vv)))
	case Str:
		return siphash(rt.hashKey, uint64(vv))
	}
	if k := rt.registry.Val(v.Klass()); k.Hash != nil {
		return k.Hash(v)
	}
	return 0
}
