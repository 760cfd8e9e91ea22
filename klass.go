package sb

import "fmt"

// KlassID identifies a runtime type descriptor. Ids from 1 up to, but
// not including, klassReservedMax are reserved for the built-in kinds
// the value layer always carries; ids from klassReservedMax up are
// allocated at runtime for struct klasses a grammar declares.
type KlassID uint32

const (
	KlassNil KlassID = iota + 1
	KlassBool
	KlassInt
	KlassFloat
	KlassStr
	KlassArray
	KlassArraySlice
	KlassMap
	KlassDict
	KlassCons
	KlassBox
	KlassToken
	KlassDynString
	klassReservedMax
)

// Method describes a built-in operation a klass exposes to callback
// bytecode's CALL instruction (see callback_vm.go).
type Method struct {
	Name     string
	MinArgc  int
	MaxArgc  int // -1 means variadic
	Func     func(rt *Runtime, recv Value, args []Value) (Value, error)
}

// Klass is the runtime type descriptor associated with every heap
// value. Struct klasses additionally carry an ordered field list
// (spec.md §3's "struct klasses record an ordered list of field
// names").
type Klass struct {
	ID     KlassID
	Name   string
	Parent KlassID

	Fields []string // struct klasses only; positional field names

	Methods map[string]*Method
	Includes []KlassID

	Destruct func(rt *Runtime, v Value)
	Delete   func(rt *Runtime, v Value)
	Hash     func(v Value) uint64
	Eq       func(a, b Value) bool
}

func (k *Klass) FieldIndex(name string) int {
	for i, f := range k.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Registry is the append-only table of klasses for one Runtime.
// spec.md §5: "the klass registry is append-only... after grammar
// compilation [it is] effectively read-only and concurrent parser
// instances may share them freely."
type Registry struct {
	byID   map[KlassID]*Klass
	byName map[string]KlassID
	nextID KlassID
}

func newRegistry() *Registry {
	r := &Registry{
		byID:   map[KlassID]*Klass{},
		byName: map[string]KlassID{},
		nextID: klassReservedMax,
	}
	for id, name := range map[KlassID]string{
		KlassNil:        "nil",
		KlassBool:       "bool",
		KlassInt:        "int",
		KlassFloat:      "float",
		KlassStr:        "string",
		KlassArray:      "array",
		KlassArraySlice: "array-slice",
		KlassMap:        "map",
		KlassDict:       "dict",
		KlassCons:       "cons",
		KlassBox:        "box",
		KlassToken:      "token",
		KlassDynString:  "dynstring",
	} {
		r.defInternal(id, name)
	}
	return r
}

func (r *Registry) defInternal(id KlassID, name string) *Klass {
	k := &Klass{ID: id, Name: name, Methods: map[string]*Method{}}
	r.byID[id] = k
	r.byName[name] = id
	return k
}

// Ensure returns the klass id for `name`, creating a new struct klass
// with the given parent if it doesn't exist yet.
func (r *Registry) Ensure(name string, parent KlassID) KlassID {
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	k := r.defInternal(id, name)
	k.Parent = parent
	return id
}

// Find returns the klass id for `name`, or 0 if it isn't registered.
func (r *Registry) Find(name string) (KlassID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

func (r *Registry) Val(id KlassID) *Klass {
	k, ok := r.byID[id]
	if !ok {
		panic(fmt.Sprintf("unknown klass id %d", id))
	}
	return k
}

// DefineStruct registers a struct klass with the given ordered field
// list, mirroring spec.md §3's struct klass shape.
func (r *Registry) DefineStruct(name string, fields []string) KlassID {
	id := r.Ensure(name, 0)
	r.Val(id).Fields = fields
	return id
}
