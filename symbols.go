package sb

// SymbolTable is the compile-time symbol/struct table SPEC_FULL.md
// §4.0 calls out as a new component that every one of the four
// compilers (regexp/lex/callback/peg) consults through a single point,
// grounded on original_source/sb/compile-build-symbols.c,
// compile-build-vars-dict.c and compile-check-names-conflict.c.
type SymbolTable struct {
	rt *Runtime

	globals   []string
	globalIdx map[string]int32

	// locals is reset per lex/peg context, per spec.md §4.4's "Local
	// variables live on the value stack above a context's base
	// pointer" — compile-time slot numbering restarts at
	// captureSlotCount for every context.
	locals   []string
	localIdx map[string]int32

	structs map[string]*structInfo

	// patterns maps a named pattern (`Foo = /.../`) to its parsed
	// regexp AST, consulted when a lex rule's matcher is a bare
	// VarRef/GlobalVarRef (spec.md §3's "patterns dict").
	patterns map[string]*PatternDef

	// currentRule/currentTerms track the PEG rule whose callback is
	// compiling, so capture references ($n) can be checked against its
	// term count (spec.md §4.4's "$n capture reference beyond the
	// enclosing rule's term count records a warning"). currentTerms is
	// -1 outside any PEG rule — lex callbacks bind $0..$9 to regexp
	// captures, which have no term count to check against.
	currentRule  string
	currentTerms int

	knownMethods map[string]bool

	// Warnings accumulates non-fatal diagnostics across the whole
	// compile, reported on the final KlassData.
	Warnings []string
}

// structInfo is spec.md §3's struct klass arity bounds. MaxFields is
// the arity ResolveKlass reports, which the callback compiler checks
// struct literals against; MinFields is recorded but not read, and
// NODE_END requires exactly the klass's declared field count. For a
// fixed-arity struct (the common case, `struct Pair(first, second)`),
// Min==Max.
type structInfo struct {
	Klass     KlassID
	MinFields int
	MaxFields int
}

// PatternDef is one named pattern declaration (`Name = /regexp/` or
// `Name = "literal"`).
type PatternDef struct {
	Name    string
	Node    ReNode // nil if Literal is set
	Literal string
	CapCount int
}

func NewSymbolTable(rt *Runtime) *SymbolTable {
	st := &SymbolTable{
		rt:           rt,
		globalIdx:    map[string]int32{},
		localIdx:     map[string]int32{},
		structs:      map[string]*structInfo{},
		patterns:     map[string]*PatternDef{},
		currentTerms: -1,
		knownMethods: map[string]bool{},
	}
	for name := range cbBuiltins {
		st.knownMethods[name] = true
	}
	return st
}

// DeclareGlobal registers a new global variable, erroring if it is
// already declared at this scope (spec.md §7's *duplicate name*).
func (st *SymbolTable) DeclareGlobal(name string) error {
	if _, ok := st.globalIdx[name]; ok {
		return NewCompileError(ErrKindDuplicateName, Span{}, "duplicate global variable %q", name)
	}
	st.globalIdx[name] = int32(len(st.globals))
	st.globals = append(st.globals, name)
	return nil
}

func (st *SymbolTable) GlobalCount() int { return len(st.globals) }

// BeginContext resets the local-variable scope for a new lex/peg
// context or rule, restarting slot numbering at captureSlotCount.
func (st *SymbolTable) BeginContext() {
	st.locals = nil
	st.localIdx = map[string]int32{}
	st.currentRule = ""
	st.currentTerms = -1
}

// DeclareLocal registers a new local variable in the current context.
func (st *SymbolTable) DeclareLocal(name string) error {
	if _, ok := st.localIdx[name]; ok {
		return NewCompileError(ErrKindDuplicateName, Span{}, "duplicate local variable %q", name)
	}
	st.localIdx[name] = int32(captureSlotCount + len(st.locals))
	st.locals = append(st.locals, name)
	return nil
}

func (st *SymbolTable) LocalCount() int { return captureSlotCount + len(st.locals) }

// SetCurrentRule records the term count of the PEG rule currently
// compiling, for $n-out-of-range warnings.
func (st *SymbolTable) SetCurrentRule(name string, termCount int) {
	st.currentRule = name
	st.currentTerms = termCount
}

// SetTermCount overrides the checkable term count mid-rule; a
// left-join's combining callback sees one extra value (the running
// accumulator as $1) beyond its right-hand sequence's own terms.
func (st *SymbolTable) SetTermCount(n int) { st.currentTerms = n }

// AddWarnings folds one callback compilation's warnings into the
// grammar-wide list.
func (st *SymbolTable) AddWarnings(ws []string) {
	st.Warnings = append(st.Warnings, ws...)
}

// DeclareStruct registers a struct name with fixed arity (the common
// `struct Name(f1, f2, ...)` form). Variadic/min-max struct forms (an
// original_source/adt/struct.c feature beyond spec.md's own surface
// syntax) go through DeclareStructRange instead.
func (st *SymbolTable) DeclareStruct(name string, fields []string) (KlassID, error) {
	return st.DeclareStructRange(name, fields, len(fields), len(fields))
}

func (st *SymbolTable) DeclareStructRange(name string, fields []string, min, max int) (KlassID, error) {
	if _, ok := st.structs[name]; ok {
		return 0, NewCompileError(ErrKindDuplicateName, Span{}, "duplicate struct %q", name)
	}
	id := st.rt.Registry().DefineStruct(name, fields)
	st.structs[name] = &structInfo{Klass: id, MinFields: min, MaxFields: max}
	return id, nil
}

func (st *SymbolTable) DeclarePattern(p *PatternDef) error {
	if _, ok := st.patterns[p.Name]; ok {
		return NewCompileError(ErrKindDuplicateName, Span{}, "duplicate pattern %q", p.Name)
	}
	st.patterns[p.Name] = p
	return nil
}

func (st *SymbolTable) Pattern(name string) (*PatternDef, bool) {
	p, ok := st.patterns[name]
	return p, ok
}

// --- CbScope implementation (callback_compiler.go's compile-time
// name resolution interface) ---

func (st *SymbolTable) ResolveLocal(name string) (int32, bool) {
	slot, ok := st.localIdx[name]
	return slot, ok
}

func (st *SymbolTable) ResolveGlobal(name string) (int32, bool) {
	slot, ok := st.globalIdx[name]
	return slot, ok
}

func (st *SymbolTable) ResolveKlass(name string) (KlassID, int, bool) {
	info, ok := st.structs[name]
	if !ok {
		return 0, 0, false
	}
	return info.Klass, info.MaxFields, true
}

func (st *SymbolTable) TermCount() int {
	return st.currentTerms
}

func (st *SymbolTable) KnownMethod(name string) bool {
	return st.knownMethods[name]
}
