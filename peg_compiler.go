package sb

// PEG bytecode opcodes, per spec.md §4.6's table. The table's "reduced
// callback ops" are realized as a call into one embedded callback
// program per rule callback/combiner (PegOpCallback) rather than
// inlined op-for-op — the same side-table shape lex_compiler.go uses for its
// CALLBACK instruction, one mechanism reused across both layers (see
// DESIGN.md).
const (
	PegOpMeta Op = iota
	PegOpTerm
	PegOpRuleCall
	PegOpRuleRet
	PegOpPushBr
	PegOpPopBr
	PegOpUnparse
	PegOpLoopUpdate
	PegOpListMaybe
	PegOpJmp
	PegOpCallback
	PegOpMatch
	PegOpFail
)

// PegProgram is the compiled PEG bytecode: one flat instruction stream
// (all rules concatenated) plus the rule-name -> entry-offset table and
// the embedded callback/combiner programs PegOpCallback indexes into.
type PegProgram struct {
	Prog      []Instr
	RuleEntry map[string]int32
	Callbacks [][]Instr
	// CallbackArity[c] is how many values PegOpCallback pops as $1..$n
	// before running Callbacks[c].
	CallbackArity []int
	GlobalCount   int
}

type pegCompiler struct {
	asm        *Asm
	syms       *SymbolTable
	ruleLabels map[string]Label
	callbacks  [][]Instr
	arity      []int
}

// CompilePeg lowers a set of PEG rules into one PegProgram.
func CompilePeg(rules []PegRule, syms *SymbolTable) (*PegProgram, error) {
	pc := &pegCompiler{asm: NewAsm(), syms: syms, ruleLabels: map[string]Label{}}
	pc.asm.Emit(Instr{Op: PegOpMeta})
	for _, r := range rules {
		pc.ruleLabels[r.Name] = pc.asm.NewLabel()
	}
	for _, r := range rules {
		syms.BeginContext()
		syms.SetCurrentRule(r.Name, TermCount(r.Body))
		pc.asm.Place(pc.ruleLabels[r.Name])
		if err := pc.compile(r.Body); err != nil {
			return nil, err
		}
		pc.asm.Emit(Instr{Op: PegOpRuleRet})
	}
	prog := pc.asm.Link()
	entries := map[string]int32{}
	for name, l := range pc.ruleLabels {
		entries[name] = pc.asm.positions[l]
	}
	return &PegProgram{
		Prog: prog, RuleEntry: entries, Callbacks: pc.callbacks,
		CallbackArity: pc.arity, GlobalCount: syms.GlobalCount(),
	}, nil
}

func (pc *pegCompiler) compile(e PegExpr) error {
	switch n := e.(type) {
	case *PegSeq:
		return pc.compileSeq(n)
	case PegChoice:
		return pc.compileChoice(n.Alts)
	case PegLeftJoin:
		return pc.compileLeftJoin(n)
	default:
		return NewCompileError(ErrKindUnknown, Span{}, "unhandled peg expression %T", e)
	}
}

func (pc *pegCompiler) compileSeq(s *PegSeq) error {
	for _, t := range s.Terms {
		if err := pc.compileTerm(t); err != nil {
			return err
		}
	}
	if s.Callback != nil {
		argc := valueTermCount(s.Terms)
		pc.syms.SetTermCount(argc)
		return pc.emitCallback(*s.Callback, argc)
	}
	return nil
}

// valueTermCount counts the terms that leave a value on the stack:
// lookahead terms rewind everything they matched, so they neither
// bind a $n nor feed the callback's argument pops.
func valueTermCount(terms []PegTerm) int {
	n := 0
	for _, t := range terms {
		if t.Lookahead == 0 {
			n++
		}
	}
	return n
}

// compileTerm emits one term: a bare rule/token match, or that match
// wrapped in lookahead/quantifier per spec.md §4.6's encoding patterns.
func (pc *pegCompiler) compileTerm(t PegTerm) error {
	switch t.Lookahead {
	case '&':
		return pc.compileAheadTerm(t, false)
	case '!':
		return pc.compileAheadTerm(t, true)
	}
	switch t.Quant {
	case '?':
		return pc.compileOptTerm(t)
	case '*':
		return pc.compileStarTerm(t)
	case '+':
		return pc.compilePlusTerm(t)
	default:
		return pc.compileBareTerm(t)
	}
}

func (pc *pegCompiler) compileBareTerm(t PegTerm) error {
	if t.RuleRef != "" {
		l, ok := pc.ruleLabels[t.RuleRef]
		if !ok {
			return NewCompileError(ErrKindUnknownName, Span{}, "reference to undefined peg rule %q", t.RuleRef)
		}
		idx := pc.asm.Emit(Instr{Op: PegOpRuleCall, Str: t.RuleRef})
		pc.asm.PatchOperand(idx, FieldA, l)
		return nil
	}
	pc.asm.Emit(Instr{Op: PegOpTerm, Str: t.TokenType})
	return nil
}

// compileAheadTerm: `&e` matches e then rewinds (UNPARSE) and proceeds;
// on e's failure the whole term fails. `!e` is the opposite: e matching
// is the failure case. Both consume no input either way, so every path
// ends with a rewind or an explicit failure, never a net cursor move.
//
//	&e:  PUSH_BR L0; e; UNPARSE; JMP L1; L0: FAIL; L1:
//	!e:  PUSH_BR L0; e; UNPARSE; FAIL;        L0:
func (pc *pegCompiler) compileAheadTerm(t PegTerm, negative bool) error {
	bare := t
	bare.Lookahead = 0
	l0 := pc.asm.NewLabel()
	idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
	pc.asm.PatchOperand(idx, FieldA, l0)
	if err := pc.compileTerm(bare); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpUnparse})
	if negative {
		pc.asm.Emit(Instr{Op: PegOpFail, Str: "negative lookahead matched"})
		pc.asm.Place(l0)
		return nil
	}
	l1 := pc.asm.NewLabel()
	jidx := pc.asm.Emit(Instr{Op: PegOpJmp})
	pc.asm.PatchOperand(jidx, FieldA, l1)
	pc.asm.Place(l0)
	pc.asm.Emit(Instr{Op: PegOpFail, Str: "positive lookahead failed"})
	pc.asm.Place(l1)
	return nil
}

// compileOptTerm: `e?` ⇒ PUSH nil; PUSH_BR L0; e; LIST_MAYBE; POP_BR; L0:
// LIST_MAYBE here folds e's single result into the nil pushed before
// the backtrack record, so e? yields a one-element array holding e's
// value when e matched, or nil when it did not.
func (pc *pegCompiler) compileOptTerm(t PegTerm) error {
	pc.pushNil()
	l0 := pc.asm.NewLabel()
	idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
	pc.asm.PatchOperand(idx, FieldA, l0)
	bare := t
	bare.Quant = 0
	if err := pc.compileBareTerm(bare); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpListMaybe})
	pc.asm.Emit(Instr{Op: PegOpPopBr})
	pc.asm.Place(l0)
	return nil
}

// compileStarTerm: `e*` ⇒ PUSH nil; PUSH_BR L0; L1: e; LIST_MAYBE;
// LOOP_UPDATE L1; L0:
func (pc *pegCompiler) compileStarTerm(t PegTerm) error {
	pc.pushNil()
	l0 := pc.asm.NewLabel()
	l1 := pc.asm.NewLabel()
	idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
	pc.asm.PatchOperand(idx, FieldA, l0)
	pc.asm.Place(l1)
	bare := t
	bare.Quant = 0
	if err := pc.compileBareTerm(bare); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpListMaybe})
	lu := pc.asm.Emit(Instr{Op: PegOpLoopUpdate})
	pc.asm.PatchOperand(lu, FieldA, l1)
	pc.asm.Place(l0)
	return nil
}

// compilePlusTerm: one mandatory e folded into a fresh list, then the
// same PUSH_BR/LOOP_UPDATE loop e* uses around subsequent applications
// (spec.md §4.6: "one mandatory e with the same pattern as e* around a
// subsequent loop").
func (pc *pegCompiler) compilePlusTerm(t PegTerm) error {
	bare := t
	bare.Quant = 0
	pc.pushNil()
	if err := pc.compileBareTerm(bare); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpListMaybe})

	l0 := pc.asm.NewLabel()
	l1 := pc.asm.NewLabel()
	idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
	pc.asm.PatchOperand(idx, FieldA, l0)
	pc.asm.Place(l1)
	if err := pc.compileBareTerm(bare); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpListMaybe})
	lu := pc.asm.Emit(Instr{Op: PegOpLoopUpdate})
	pc.asm.PatchOperand(lu, FieldA, l1)
	pc.asm.Place(l0)
	return nil
}

// pushNil emits PUSH nil the way every callback op reaches a PEG
// program: a PegOpCallback running a zero-argument embedded program.
func (pc *pegCompiler) pushNil() int32 {
	idx := len(pc.callbacks)
	pc.callbacks = append(pc.callbacks, []Instr{{Op: CbOpPush, Val: Nil}, {Op: CbOpEnd}})
	pc.arity = append(pc.arity, 0)
	return pc.asm.Emit(Instr{Op: PegOpCallback, A: int32(idx), B: 0})
}

// compileChoice: `A / B / C` ⇒ PUSH_BR L0; A; POP_BR; JMP L1; L0: (B / C); L1:
func (pc *pegCompiler) compileChoice(alts []PegExpr) error {
	if len(alts) == 1 {
		return pc.compile(alts[0])
	}
	l0 := pc.asm.NewLabel()
	l1 := pc.asm.NewLabel()
	idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
	pc.asm.PatchOperand(idx, FieldA, l0)
	if err := pc.compile(alts[0]); err != nil {
		return err
	}
	pc.asm.Emit(Instr{Op: PegOpPopBr})
	jidx := pc.asm.Emit(Instr{Op: PegOpJmp})
	pc.asm.PatchOperand(jidx, FieldA, l1)
	pc.asm.Place(l0)
	if err := pc.compileChoice(alts[1:]); err != nil {
		return err
	}
	pc.asm.Place(l1)
	return nil
}

// compileLeftJoin realizes `A /* B`, `A /+ B`, `A /? B`: parse A once
// (the running accumulator), then repeatedly parse B and fold it into
// the accumulator via B's combining callback (`[acc, B...]`), looping
// with the same single-backtrack-record discipline spec.md §4.6 uses
// for e*/e+ — one PUSH_BR both aborts a failed extension attempt and
// stops the loop once no more extensions succeed.
func (pc *pegCompiler) compileLeftJoin(n PegLeftJoin) error {
	if err := pc.compile(n.Left); err != nil {
		return err
	}
	switch n.Op {
	case '?':
		l0 := pc.asm.NewLabel()
		idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
		pc.asm.PatchOperand(idx, FieldA, l0)
		if err := pc.compileCombine(n.Right); err != nil {
			return err
		}
		pc.asm.Emit(Instr{Op: PegOpPopBr})
		pc.asm.Place(l0)
		return nil
	case '+':
		if err := pc.compileCombine(n.Right); err != nil {
			return err
		}
		fallthrough
	case '*':
		l0 := pc.asm.NewLabel()
		l1 := pc.asm.NewLabel()
		idx := pc.asm.Emit(Instr{Op: PegOpPushBr})
		pc.asm.PatchOperand(idx, FieldA, l0)
		pc.asm.Place(l1)
		if err := pc.compileCombine(n.Right); err != nil {
			return err
		}
		lu := pc.asm.Emit(Instr{Op: PegOpLoopUpdate})
		pc.asm.PatchOperand(lu, FieldA, l1)
		pc.asm.Place(l0)
		return nil
	default:
		return NewCompileError(ErrKindUnknown, Span{}, "unknown left-join operator %q", n.Op)
	}
}

// compileCombine compiles one application of a left-join's right-hand
// sequence, then its combining callback over [acc, right-terms...].
func (pc *pegCompiler) compileCombine(right *PegSeq) error {
	for _, t := range right.Terms {
		if err := pc.compileTerm(t); err != nil {
			return err
		}
	}
	if right.Callback == nil {
		return NewCompileError(ErrKindUnknown, Span{}, "left-join right-hand side needs a combining callback")
	}
	argc := valueTermCount(right.Terms) + 1
	pc.syms.SetTermCount(argc)
	return pc.emitCallback(*right.Callback, argc)
}

// emitCallback compiles cb via the shared callback compiler and emits
// a PegOpCallback invoking it against the top argc stack values as
// $1..$argc.
func (pc *pegCompiler) emitCallback(cb CbExpr, argc int) error {
	prog, warns, err := CompileCallback(cb, pc.syms)
	if err != nil {
		return err
	}
	pc.syms.AddWarnings(warns)
	idx := len(pc.callbacks)
	pc.callbacks = append(pc.callbacks, prog)
	pc.arity = append(pc.arity, argc)
	pc.asm.Emit(Instr{Op: PegOpCallback, A: int32(idx), B: int32(argc)})
	return nil
}
