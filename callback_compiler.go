package sb

import "strconv"

// Callback bytecode opcodes, per spec.md §4.4's table. Both the lex
// and the PEG compiler embed programs compiled from this full set.
const (
	CbOpMeta Op = iota
	CbOpLoad
	CbOpStore
	CbOpLoadGlob
	CbOpStoreGlob
	CbOpPush
	CbOpPop
	CbOpNodeBeg
	CbOpNodeSet
	CbOpNodeSetv
	CbOpNodeEnd
	CbOpList
	CbOpListv
	CbOpJif
	CbOpJunless
	CbOpJmp
	CbOpCall
	CbOpEnd
)

// captureSlotCount is the number of reserved local slots spec.md §4.4
// sets aside for capture strings ($0..$9).
const captureSlotCount = 10

// CbScope resolves names during callback compilation; symbols.go's
// SymbolTable implements it for a grammar under compilation.
type CbScope interface {
	ResolveLocal(name string) (slot int32, ok bool)
	ResolveGlobal(name string) (slot int32, ok bool)
	ResolveKlass(name string) (KlassID, int, bool) // id, field arity, ok
	TermCount() int
	KnownMethod(name string) bool
}

type cbCompiler struct {
	asm      *Asm
	scope    CbScope
	warnings []string
}

// CompileCallback lowers a callback expression to bytecode, returning
// any "$n beyond term count" warnings alongside a fatal compile error.
func CompileCallback(expr CbExpr, scope CbScope) ([]Instr, []string, error) {
	c := &cbCompiler{asm: NewAsm(), scope: scope}
	c.asm.Emit(Instr{Op: CbOpMeta})
	if err := c.compile(expr); err != nil {
		return nil, c.warnings, err
	}
	c.asm.Emit(Instr{Op: CbOpEnd})
	return c.asm.Link(), c.warnings, nil
}

func (c *cbCompiler) compile(e CbExpr) error {
	switch n := e.(type) {
	case CbLit:
		c.asm.Emit(Instr{Op: CbOpPush, Val: n.Val})

	case CbCapture:
		if tc := c.scope.TermCount(); tc >= 0 && n.Index > tc {
			c.warnings = append(c.warnings, warnCaptureOutOfRange(n.Index))
		}
		c.asm.Emit(Instr{Op: CbOpLoad, A: int32(n.Index)})

	case CbVarRef:
		if n.Global {
			slot, ok := c.scope.ResolveGlobal(n.Name)
			if !ok {
				return NewCompileError(ErrKindUnknownName, Span{}, "unknown global variable %q", n.Name)
			}
			c.asm.Emit(Instr{Op: CbOpLoadGlob, A: slot})
		} else if slot, ok := c.scope.ResolveLocal(n.Name); ok {
			c.asm.Emit(Instr{Op: CbOpLoad, A: slot})
		} else if c.scope.KnownMethod(n.Name) {
			// A bare reference to a zero-arg builtin (`tokens` in
			// `end { yield(tokens) }`) reads as a variable but
			// compiles as a call.
			c.asm.Emit(Instr{Op: CbOpCall, A: 0, Str: n.Name})
		} else {
			return NewCompileError(ErrKindUnknownName, Span{}, "unknown variable %q", n.Name)
		}

	case CbAssign:
		if err := c.compile(n.Expr); err != nil {
			return err
		}
		if n.Global {
			slot, ok := c.scope.ResolveGlobal(n.Name)
			if !ok {
				return NewCompileError(ErrKindUnknownName, Span{}, "assignment to undeclared global %q", n.Name)
			}
			c.asm.Emit(Instr{Op: CbOpStoreGlob, A: slot})
		} else {
			slot, ok := c.scope.ResolveLocal(n.Name)
			if !ok {
				return NewCompileError(ErrKindUnknownName, Span{}, "assignment to undeclared variable %q", n.Name)
			}
			c.asm.Emit(Instr{Op: CbOpStore, A: slot})
		}

	case CbSeq:
		for i, it := range n.Items {
			if err := c.compile(it); err != nil {
				return err
			}
			if i < len(n.Items)-1 {
				c.asm.Emit(Instr{Op: CbOpPop})
			}
		}
		if len(n.Items) == 0 {
			c.asm.Emit(Instr{Op: CbOpPush, Val: Nil})
		}

	case CbIf:
		if err := c.compile(n.Cond); err != nil {
			return err
		}
		lelse, lend := c.asm.NewLabel(), c.asm.NewLabel()
		idx := c.asm.Emit(Instr{Op: CbOpJunless})
		c.asm.PatchOperand(idx, FieldA, lelse)
		if err := c.compile(n.Then); err != nil {
			return err
		}
		jidx := c.asm.Emit(Instr{Op: CbOpJmp})
		c.asm.PatchOperand(jidx, FieldA, lend)
		c.asm.Place(lelse)
		if n.Else != nil {
			if err := c.compile(n.Else); err != nil {
				return err
			}
		} else {
			c.asm.Emit(Instr{Op: CbOpPush, Val: Nil})
		}
		c.asm.Place(lend)

	case CbAnd:
		if err := c.compile(n.A); err != nil {
			return err
		}
		lend := c.asm.NewLabel()
		idx := c.asm.Emit(Instr{Op: CbOpJunless})
		c.asm.PatchOperand(idx, FieldA, lend)
		c.asm.Emit(Instr{Op: CbOpPop})
		if err := c.compile(n.B); err != nil {
			return err
		}
		c.asm.Place(lend)

	case CbOr:
		if err := c.compile(n.A); err != nil {
			return err
		}
		lend := c.asm.NewLabel()
		idx := c.asm.Emit(Instr{Op: CbOpJif})
		c.asm.PatchOperand(idx, FieldA, lend)
		c.asm.Emit(Instr{Op: CbOpPop})
		if err := c.compile(n.B); err != nil {
			return err
		}
		c.asm.Place(lend)

	case CbNodeBuild:
		klass, arity, ok := c.scope.ResolveKlass(n.Klass)
		if !ok {
			return NewCompileError(ErrKindUnknownName, Span{}, "unknown struct %q", n.Klass)
		}
		if len(n.Fields) > arity {
			return NewCompileError(ErrKindArityMismatch, Span{}, "struct %q takes %d fields, got %d", n.Klass, arity, len(n.Fields))
		}
		c.asm.Emit(Instr{Op: CbOpNodeBeg, A: int32(klass)})
		for _, f := range n.Fields {
			if err := c.compile(f.Expr); err != nil {
				return err
			}
			if f.Splat {
				c.asm.Emit(Instr{Op: CbOpNodeSetv})
			} else {
				c.asm.Emit(Instr{Op: CbOpNodeSet})
			}
		}
		c.asm.Emit(Instr{Op: CbOpNodeEnd})

	case CbListBuild:
		// Elements evaluate left to right; the list then folds up from
		// the right (LIST conses top-1 onto top), so the element pushes
		// and the LIST/LISTV ops come out in opposite orders.
		for _, it := range n.Items {
			if err := c.compile(it.Expr); err != nil {
				return err
			}
		}
		c.asm.Emit(Instr{Op: CbOpPush, Val: Nil})
		for i := len(n.Items) - 1; i >= 0; i-- {
			if n.Items[i].Splat {
				c.asm.Emit(Instr{Op: CbOpListv})
			} else {
				c.asm.Emit(Instr{Op: CbOpList})
			}
		}

	case CbCall:
		if !c.scope.KnownMethod(n.Method) {
			return NewCompileError(ErrKindUnknownName, Span{}, "unknown method %q", n.Method)
		}
		for _, a := range n.Args {
			if err := c.compile(a); err != nil {
				return err
			}
		}
		c.asm.Emit(Instr{Op: CbOpCall, A: int32(len(n.Args)), Str: n.Method})

	default:
		return NewCompileError(ErrKindUnknown, Span{}, "unhandled callback expression %T", e)
	}
	return nil
}

func warnCaptureOutOfRange(idx int) string {
	return "capture reference $" + strconv.Itoa(idx) + " exceeds the enclosing rule's term count"
}
