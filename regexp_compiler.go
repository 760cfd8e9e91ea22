package sb

// Regexp bytecode opcodes, per spec.md §4.3's table. Operand
// conventions (see Instr): CHAR uses A=rune; SET uses Ranges plus
// B=1 for negated; JIF_RANGE uses A=from, B=to, C=label(jump target);
// JMP/ATOMIC/AHEAD/N_AHEAD use A=label; FORK uses A=continue-label,
// B=push-label; SAVE uses A=slot index; CG uses Str=class name.
const (
	ReOpMeta Op = iota
	ReOpChar
	ReOpSet
	ReOpJifRange
	ReOpJmp
	ReOpFork
	ReOpSave
	ReOpAtomic
	ReOpAhead
	ReOpNAhead
	ReOpAnchorBOL
	ReOpAnchorEOL
	ReOpAnchorWordB
	ReOpAnchorNotWordB
	ReOpCG
	ReOpMatch
	ReOpDie
)

// ReProgram is a compiled regexp: its instruction stream plus the
// number of capturing groups (used to size the capture array, spec.md
// §4.3's simplification note in DESIGN.md — a dynamically sized slice
// instead of the original's fixed 20-slot array).
type ReProgram struct {
	Prog     []Instr
	CapCount int
}

type reCompiler struct {
	asm      *Asm
	caseFold bool
}

// CompileRegexp turns a parsed regexp AST into bytecode, per spec.md
// §4.3's "Compilation" section.
func CompileRegexp(node ReNode, capCount int, caseFold bool) *ReProgram {
	c := &reCompiler{asm: NewAsm(), caseFold: caseFold}
	c.asm.Emit(Instr{Op: ReOpMeta, A: int32(capCount)})
	c.compile(node)
	c.asm.Emit(Instr{Op: ReOpMatch})
	return &ReProgram{Prog: c.asm.Link(), CapCount: capCount}
}

func (c *reCompiler) compile(node ReNode) {
	switch n := node.(type) {
	case ReConcat:
		for _, it := range n.Items {
			c.compile(it)
		}
	case ReChar:
		ch := n.C
		if lo, hi, ok := caseFoldPair(ch); c.caseFold && ok {
			c.emitClass([]CodePointRange{{Lo: lo, Hi: lo}, {Lo: hi, Hi: hi}}, false)
			return
		}
		c.asm.Emit(Instr{Op: ReOpChar, A: int32(ch)})
	case ReAny:
		c.asm.Emit(Instr{Op: ReOpCG, Str: "any"})
	case ReClass:
		c.emitClass(n.Ranges, n.Negated)
	case RePredefined:
		c.asm.Emit(Instr{Op: ReOpCG, Str: n.Name})
	case ReUnicodeClass:
		ranges, _ := UnicodeClassRanges(n.Name)
		if n.Negated {
			ranges = NegateRanges(ranges)
		}
		c.asm.Emit(Instr{Op: ReOpSet, Ranges: ranges})
	case ReAnchor:
		switch n.Kind {
		case AnchorBOL:
			c.asm.Emit(Instr{Op: ReOpAnchorBOL})
		case AnchorEOL:
			c.asm.Emit(Instr{Op: ReOpAnchorEOL})
		case AnchorWordB:
			c.asm.Emit(Instr{Op: ReOpAnchorWordB})
		case AnchorNotWordB:
			c.asm.Emit(Instr{Op: ReOpAnchorNotWordB})
		}
	case ReAlt:
		lend := c.asm.NewLabel()
		c.compileAltItems(n.Items, lend)
		c.asm.Place(lend)
	case ReStar:
		c.compileStar(n)
	case RePlus:
		c.compilePlus(n)
	case ReOpt:
		c.compileOpt(n)
	case RePossessive:
		c.compilePossessive(n)
	case ReRepeat:
		for i := 0; i < n.Min; i++ {
			c.compile(n.Expr)
		}
		for i := 0; i < n.Max-n.Min; i++ {
			c.compileOpt(ReOpt{Expr: n.Expr})
		}
	case ReGroup:
		if n.Capture {
			slot := int32(2 + 2*n.CapIndex)
			c.asm.Emit(Instr{Op: ReOpSave, A: slot})
			c.compile(n.Expr)
			c.asm.Emit(Instr{Op: ReOpSave, A: slot + 1})
		} else {
			c.compile(n.Expr)
		}
	case ReLookaround:
		if n.Negate {
			c.compileNAhead(n.Expr)
		} else {
			c.compileAhead(n.Expr)
		}
	}
}

// caseFoldPair returns ch's lower/upper ASCII case pair when ch is an
// ASCII letter; ok is false otherwise (case-folding beyond ASCII is
// out of scope, matching the teacher VM's ASCII-only lexical checks).
func caseFoldPair(ch rune) (lo, hi rune, ok bool) {
	switch {
	case ch >= 'a' && ch <= 'z':
		return ch, ch - ('a' - 'A'), true
	case ch >= 'A' && ch <= 'Z':
		return ch + ('a' - 'A'), ch, true
	default:
		return 0, 0, false
	}
}

func (c *reCompiler) emitClass(ranges []CodePointRange, negated bool) {
	merged := SortMergeRanges(ranges)
	if negated {
		merged = NegateRanges(merged)
	}
	lsucc := c.asm.NewLabel()
	for _, r := range merged {
		idx := c.asm.Emit(Instr{Op: ReOpJifRange, A: int32(r.Lo), B: int32(r.Hi)})
		c.asm.PatchOperand(idx, FieldC, lsucc)
	}
	c.asm.Emit(Instr{Op: ReOpDie})
	c.asm.Place(lsucc)
}

func (c *reCompiler) compileAltItems(items []ReNode, lend Label) {
	if len(items) == 1 {
		c.compile(items[0])
		return
	}
	l1, l2 := c.asm.NewLabel(), c.asm.NewLabel()
	idx := c.asm.Emit(Instr{Op: ReOpFork})
	c.asm.PatchOperand(idx, FieldA, l1)
	c.asm.PatchOperand(idx, FieldB, l2)
	c.asm.Place(l1)
	c.compile(items[0])
	jidx := c.asm.Emit(Instr{Op: ReOpJmp})
	c.asm.PatchOperand(jidx, FieldA, lend)
	c.asm.Place(l2)
	c.compileAltItems(items[1:], lend)
}

func (c *reCompiler) compileOpt(n ReOpt) {
	l1, l2 := c.asm.NewLabel(), c.asm.NewLabel()
	idx := c.asm.Emit(Instr{Op: ReOpFork})
	if n.Reluctant {
		c.asm.PatchOperand(idx, FieldA, l2)
		c.asm.PatchOperand(idx, FieldB, l1)
	} else {
		c.asm.PatchOperand(idx, FieldA, l1)
		c.asm.PatchOperand(idx, FieldB, l2)
	}
	c.asm.Place(l1)
	c.compile(n.Expr)
	c.asm.Place(l2)
}

func (c *reCompiler) compilePlus(n RePlus) {
	l1, l2 := c.asm.NewLabel(), c.asm.NewLabel()
	c.asm.Place(l1)
	c.compile(n.Expr)
	idx := c.asm.Emit(Instr{Op: ReOpFork})
	if n.Reluctant {
		c.asm.PatchOperand(idx, FieldA, l2)
		c.asm.PatchOperand(idx, FieldB, l1)
	} else {
		c.asm.PatchOperand(idx, FieldA, l1)
		c.asm.PatchOperand(idx, FieldB, l2)
	}
	c.asm.Place(l2)
}

func (c *reCompiler) compileStar(n ReStar) {
	l1, l2, l3 := c.asm.NewLabel(), c.asm.NewLabel(), c.asm.NewLabel()
	c.asm.Place(l1)
	idx := c.asm.Emit(Instr{Op: ReOpFork})
	if n.Reluctant {
		c.asm.PatchOperand(idx, FieldA, l3)
		c.asm.PatchOperand(idx, FieldB, l2)
	} else {
		c.asm.PatchOperand(idx, FieldA, l2)
		c.asm.PatchOperand(idx, FieldB, l3)
	}
	c.asm.Place(l2)
	c.compile(n.Expr)
	jidx := c.asm.Emit(Instr{Op: ReOpJmp})
	c.asm.PatchOperand(jidx, FieldA, l1)
	c.asm.Place(l3)
}

func (c *reCompiler) compilePossessive(n RePossessive) {
	l := c.asm.NewLabel()
	idx := c.asm.Emit(Instr{Op: ReOpAtomic})
	c.asm.PatchOperand(idx, FieldA, l)
	c.compile(n.Expr)
	c.asm.Place(l)
}

func (c *reCompiler) compileAhead(expr ReNode) {
	l := c.asm.NewLabel()
	idx := c.asm.Emit(Instr{Op: ReOpAhead})
	c.asm.PatchOperand(idx, FieldA, l)
	c.compile(expr)
	c.asm.Place(l)
}

// compileNAhead implements `(?!expr)`. N_AHEAD pushes a real backtrack
// frame targeting lfail (reached if expr fails — the lookaround then
// succeeds, zero-width) alongside a commit mark targeting ldie
// (reached if expr succeeds — the lookaround must then force a
// failure, since the very thing it forbade just matched).
func (c *reCompiler) compileNAhead(expr ReNode) {
	ldie, lfail := c.asm.NewLabel(), c.asm.NewLabel()
	idx := c.asm.Emit(Instr{Op: ReOpNAhead})
	c.asm.PatchOperand(idx, FieldA, ldie)
	c.asm.PatchOperand(idx, FieldB, lfail)
	c.compile(expr)
	c.asm.Place(ldie)
	c.asm.Emit(Instr{Op: ReOpDie})
	c.asm.Place(lfail)
}
