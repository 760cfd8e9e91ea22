package sb

// CbExpr is a callback-bytecode source expression, shared by lex rule
// actions and PEG term/branch callbacks per spec.md §4.4. The grammar
// compiler builds these from the surface syntax; CompileCallback lowers
// them to bytecode.
type CbExpr interface {
	cbExpr()
}

// CbLit pushes a constant value (PUSH).
type CbLit struct{ Val Value }

// CbCapture references `$n`, the n'th capture string of the enclosing
// rule (spec.md §4.4: "first 10 [local var] ids reserved for capture
// strings"). Resolved to a LOAD of the reserved slot at compile time.
type CbCapture struct{ Index int }

// CbVarRef is a LOAD/LOAD_GLOB of a named variable.
type CbVarRef struct {
	Name   string
	Global bool
}

// CbAssign is a STORE/STORE_GLOB: evaluate Expr, bind it to Name.
type CbAssign struct {
	Name   string
	Global bool
	Expr   CbExpr
}

// CbSeq runs each item for effect, keeping only the last value (a
// callback body is a sequence of statements per spec.md §6's example).
type CbSeq struct{ Items []CbExpr }

// CbIf is `if cond then else`; Else may be nil, defaulting to Nil.
type CbIf struct {
	Cond, Then, Else CbExpr
}

// CbAnd/CbOr are InfixLogic short-circuit operators.
type CbAnd struct{ A, B CbExpr }
type CbOr struct{ A, B CbExpr }

// CbNodeField is one field of a CbNodeBuild: either a plain value
// (NODE_SET) or a splatted cons-list (NODE_SETV).
type CbNodeField struct {
	Expr  CbExpr
	Splat bool
}

// CbNodeBuild builds a struct instance: `Klass(f1, *f2, ...)`.
type CbNodeBuild struct {
	Klass  string
	Fields []CbNodeField
}

// CbListField is one element of a CbListBuild.
type CbListField struct {
	Expr  CbExpr
	Splat bool
}

// CbListBuild builds a cons list from a literal element sequence,
// e.g. `[a, *b, c]`, lowering to a LIST/LISTV chain.
type CbListBuild struct{ Items []CbListField }

// CbCall invokes a built-in method (spec.md §6's action catalogue, or
// a klass method) by name with receiver nil.
type CbCall struct {
	Method string
	Args   []CbExpr
}

func (CbLit) cbExpr()       {}
func (CbCapture) cbExpr()   {}
func (CbVarRef) cbExpr()    {}
func (CbAssign) cbExpr()    {}
func (CbSeq) cbExpr()       {}
func (CbIf) cbExpr()        {}
func (CbAnd) cbExpr()       {}
func (CbOr) cbExpr()        {}
func (CbNodeBuild) cbExpr() {}
func (CbListBuild) cbExpr() {}
func (CbCall) cbExpr()      {}
