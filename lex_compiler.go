package sb

import "sort"

// Lex bytecode opcodes, per spec.md §4.5's table, plus LexOpMatchLitSet
// (the DOMAIN STACK's ahocorasick-backed literal dispatch, SPEC_FULL.md
// §4.5) and LexOpJmp/LexOpPop which realize the spec's §4.5 execution
// loop directly in bytecode rather than as Go-level driver state (see
// DESIGN.md).
const (
	LexOpMeta Op = iota
	LexOpMatchRe
	LexOpMatchStr
	LexOpMatchLitSet
	LexOpCallback
	LexOpCtxCall
	LexOpPop
	LexOpCtxEnd
	LexOpJmp
)

// LexProgram is the compiled lex bytecode plus the side tables its
// opcodes index into: embedded regexp subprograms (MATCH_RE), literal
// dispatchers (MATCH_LIT_SET), and compiled callback programs
// (CALLBACK). Contexts maps each context name to its entry offset;
// CTX_CALL looks its target up there by name at runtime.
type LexProgram struct {
	Prog        []Instr
	Regexps     []*ReProgram
	Dispatchers []*LiteralDispatcher
	// DispatchTargets[d][i] is the bytecode offset to jump to when
	// Dispatchers[d]'s i'th literal is the longest match at the cursor.
	DispatchTargets [][]int32
	Callbacks       [][]Instr
	// CaptureMasks[c] is the bitmask of $n captures Callbacks[c] uses.
	CaptureMasks []uint16
	Contexts     map[string]int32 // context name -> entry offset
	RootContext  string
	GlobalCount  int
}

type lexCompiler struct {
	asm     *Asm
	syms    *SymbolTable
	regexps []*ReProgram
	dispatchers []*LiteralDispatcher
	dispatchTargets [][]int32
	callbacks []([]Instr)
	captureMasks []uint16
	contexts map[string]int32
	ctxLabels map[string]Label
}

// CompileLex lowers a fully-inlined (no `*`-prefixed matcher
// references remain) list of lex contexts into one LexProgram. The
// first context in the list is the root/entry context.
func CompileLex(contexts []*LexContext, syms *SymbolTable) (*LexProgram, error) {
	if len(contexts) == 0 {
		return nil, NewCompileError(ErrKindUnknownName, Span{}, "lex spec has no contexts")
	}
	lc := &lexCompiler{asm: NewAsm(), syms: syms, contexts: map[string]int32{}}
	lc.asm.Emit(Instr{Op: LexOpMeta})

	// Two-pass: allocate an entry label per context up front so
	// forward CTX_CALL references resolve, then compile each body.
	lc.ctxLabels = map[string]Label{}
	for _, c := range contexts {
		lc.ctxLabels[c.Name] = lc.asm.NewLabel()
	}
	for _, c := range contexts {
		syms.BeginContext()
		lc.asm.Place(lc.ctxLabels[c.Name])
		if err := lc.compileContext(c); err != nil {
			return nil, err
		}
	}
	prog := lc.asm.Link()
	for name, l := range lc.ctxLabels {
		lc.contexts[name] = lc.resolvedLabel(prog, l)
	}
	return &LexProgram{
		Prog: prog, Regexps: lc.regexps, Dispatchers: lc.dispatchers,
		DispatchTargets: lc.dispatchTargets, Callbacks: lc.callbacks,
		CaptureMasks: lc.captureMasks, Contexts: lc.contexts,
		RootContext: contexts[0].Name, GlobalCount: syms.GlobalCount(),
	}, nil
}

// resolvedLabel reads back a placed label's final bytecode offset;
// Asm.Place fixes a label's position at emit time, and Link only
// patches operand fields, so positions are already final by the time
// CompileLex needs to build its name->offset Contexts map.
func (lc *lexCompiler) resolvedLabel(prog []Instr, l Label) int32 {
	return lc.asm.positions[l]
}

func (lc *lexCompiler) compileContext(c *LexContext) error {
	if c.Begin != nil {
		if err := lc.emitCallbackInstr(*c.Begin); err != nil {
			return err
		}
	}

	// roundLabel is spec.md §4.5's round boundary: every successful
	// match loops back here (NOT to the context entry, which would
	// re-run the Begin callback every round).
	roundLabel := lc.asm.NewLabel()
	lc.asm.Place(roundLabel)
	lend := lc.asm.NewLabel()

	// Group consecutive literal-only rules (no push/pop) for
	// ahocorasick dispatch; everything else compiles straight through.
	i := 0
	var tryLabels []Label
	for range c.Rules {
		tryLabels = append(tryLabels, lc.asm.NewLabel())
	}
	for i < len(c.Rules) {
		run := lc.literalRunFrom(c.Rules, i)
		if len(run) >= 2 {
			if err := lc.compileLiteralRun(c.Rules, i, run, tryLabels, lend, roundLabel); err != nil {
				return err
			}
			i += len(run)
			continue
		}
		nextLabel := lend
		if i+1 < len(c.Rules) {
			nextLabel = tryLabels[i+1]
		}
		if err := lc.compileRule(c.Rules[i], tryLabels[i], nextLabel, roundLabel); err != nil {
			return err
		}
		i++
	}
	lc.asm.Place(lend)
	if c.End != nil {
		if err := lc.emitCallbackInstr(*c.End); err != nil {
			return err
		}
	}
	lc.asm.Emit(Instr{Op: LexOpCtxEnd})
	return nil
}

// emitCallbackInstr compiles cb into the callback side table and emits
// the CALLBACK instruction invoking it.
func (lc *lexCompiler) emitCallbackInstr(cb CbExpr) error {
	prog, mask, err := lc.compileCallbackExpr(cb)
	if err != nil {
		return err
	}
	idx := len(lc.callbacks)
	lc.callbacks = append(lc.callbacks, prog)
	lc.captureMasks = append(lc.captureMasks, mask)
	lc.asm.Emit(Instr{Op: LexOpCallback, A: int32(mask), B: int32(idx)})
	return nil
}

// literalRunFrom returns the maximal run of plain-literal, no-effect
// rules starting at i (candidates for ahocorasick dispatch).
func (lc *lexCompiler) literalRunFrom(rules []LexRule, i int) []int {
	var run []int
	for j := i; j < len(rules); j++ {
		r := rules[j]
		if _, ok := r.Matcher.(LexMatchLiteral); !ok || r.PushContext != "" || r.Pop {
			break
		}
		run = append(run, j)
	}
	return run
}

// compileLiteralRun replaces a chain of MATCH_STR rules with one
// MATCH_LIT_SET probe, per SPEC_FULL.md §4.5's literal-dispatch
// addition (lex_literals.go's LiteralDispatcher, wrapping
// github.com/coregx/ahocorasick).
func (lc *lexCompiler) compileLiteralRun(rules []LexRule, start int, run []int, tryLabels []Label, lend, roundLabel Label) error {
	lc.asm.Place(tryLabels[start])
	lits := make([]string, len(run))
	for k, idx := range run {
		lits[k] = rules[idx].Matcher.(LexMatchLiteral).Text
	}
	d, err := NewLiteralDispatcher(lits)
	if err != nil {
		return err
	}
	dIdx := len(lc.dispatchers)
	lc.dispatchers = append(lc.dispatchers, d)

	matchLabels := make([]Label, len(run))
	for k := range run {
		matchLabels[k] = lc.asm.NewLabel()
	}
	nextAfterRun := lend
	if start+len(run) < len(tryLabels) {
		nextAfterRun = tryLabels[start+len(run)]
	}
	idx := lc.asm.Emit(Instr{Op: LexOpMatchLitSet, A: int32(dIdx)})
	lc.asm.PatchOperand(idx, FieldB, nextAfterRun)

	for k, ri := range run {
		lc.asm.Place(matchLabels[k])
		if err := lc.compileMatchedTail(rules[ri], roundLabel); err != nil {
			return err
		}
	}
	// DispatchTargets must be resolved offsets; matchLabels were placed
	// right before compiling each tail, so their positions are final.
	resolved := make([]int32, len(run))
	for k := range run {
		resolved[k] = lc.asm.positions[matchLabels[k]]
	}
	lc.dispatchTargets = append(lc.dispatchTargets, resolved)
	return nil
}

// compileRule compiles one non-batched rule: a match attempt whose
// on-fail jumps to nextOnFail, whose on-match runs the optional
// callback and then the rule's push/pop/loop tail.
func (lc *lexCompiler) compileRule(r LexRule, tryLabel, nextOnFail, roundLabel Label) error {
	lc.asm.Place(tryLabel)
	matchLabel := lc.asm.NewLabel()
	switch m := r.Matcher.(type) {
	case LexMatchLiteral:
		idx := lc.asm.Emit(Instr{Op: LexOpMatchStr, Str: m.Text})
		lc.asm.PatchOperand(idx, FieldA, matchLabel)
		lc.asm.PatchOperand(idx, FieldB, nextOnFail)
	case LexMatchRegexp:
		re := CompileRegexp(m.Node, m.CapCount, false)
		ridx := len(lc.regexps)
		lc.regexps = append(lc.regexps, re)
		idx := lc.asm.Emit(Instr{Op: LexOpMatchRe, A: int32(ridx)})
		lc.asm.PatchOperand(idx, FieldB, matchLabel)
		lc.asm.PatchOperand(idx, FieldC, nextOnFail)
	case LexMatchVarRef:
		pat, ok := lc.syms.Pattern(m.Name)
		if !ok {
			return NewCompileError(ErrKindUnknownName, Span{}, "unknown pattern %q", m.Name)
		}
		if pat.Node == nil {
			idx := lc.asm.Emit(Instr{Op: LexOpMatchStr, Str: pat.Literal})
			lc.asm.PatchOperand(idx, FieldA, matchLabel)
			lc.asm.PatchOperand(idx, FieldB, nextOnFail)
		} else {
			re := CompileRegexp(pat.Node, pat.CapCount, false)
			ridx := len(lc.regexps)
			lc.regexps = append(lc.regexps, re)
			idx := lc.asm.Emit(Instr{Op: LexOpMatchRe, A: int32(ridx)})
			lc.asm.PatchOperand(idx, FieldB, matchLabel)
			lc.asm.PatchOperand(idx, FieldC, nextOnFail)
		}
	case LexMatchContext:
		// A context used as a matcher: transfer into it; the "match"
		// is decided by whether the child consumed input before it
		// popped (the VM resumes at the round start if it did, or
		// falls through to the next rule's try if it didn't).
		lc.asm.Place(matchLabel)
		if err := lc.compilePush(m.Context, roundLabel); err != nil {
			return err
		}
		jidx := lc.asm.Emit(Instr{Op: LexOpJmp})
		lc.asm.PatchOperand(jidx, FieldA, nextOnFail)
		return nil
	default:
		return NewCompileError(ErrKindUnknownName, Span{}, "unsupported lex matcher %T", m)
	}
	lc.asm.Place(matchLabel)
	return lc.compileMatchedTail(r, roundLabel)
}

// compileMatchedTail runs the rule's callback (if any) then applies
// its structural effect: pop, push, or loop back to the round start.
func (lc *lexCompiler) compileMatchedTail(r LexRule, roundLabel Label) error {
	if r.Callback != nil {
		if err := lc.emitCallbackInstr(*r.Callback); err != nil {
			return err
		}
	}
	if r.Pop {
		lc.asm.Emit(Instr{Op: LexOpPop})
		return nil
	}
	if r.PushContext != "" {
		if err := lc.compilePush(r.PushContext, roundLabel); err != nil {
			return err
		}
	}
	jidx := lc.asm.Emit(Instr{Op: LexOpJmp})
	lc.asm.PatchOperand(jidx, FieldA, roundLabel)
	return nil
}

// compilePush emits a CTX_CALL whose A operand is the round-start
// offset the VM resumes at once the pushed context pops having
// consumed input.
func (lc *lexCompiler) compilePush(targetName string, roundLabel Label) error {
	if _, ok := lc.ctxLabels[targetName]; !ok {
		return NewCompileError(ErrKindUnknownName, Span{}, "push of unknown lex context %q", targetName)
	}
	idx := lc.asm.Emit(Instr{Op: LexOpCtxCall, Str: targetName})
	lc.asm.PatchOperand(idx, FieldA, roundLabel)
	return nil
}

func (lc *lexCompiler) compileCallbackExpr(e CbExpr) ([]Instr, uint16, error) {
	prog, warns, err := CompileCallback(e, lc.syms)
	if err != nil {
		return nil, 0, err
	}
	lc.syms.AddWarnings(warns)
	mask := captureMaskOf(e)
	return prog, mask, nil
}

// captureMaskOf walks a callback expression for $n references, so the
// lex VM materializes only the capture strings a rule's callback
// actually uses (spec.md §4.4's "only for the mask bits that the
// callback actually uses").
func captureMaskOf(e CbExpr) uint16 {
	var mask uint16
	var walk func(CbExpr)
	walk = func(e CbExpr) {
		switch n := e.(type) {
		case CbCapture:
			if n.Index < 16 {
				mask |= 1 << uint(n.Index)
			}
		case CbAssign:
			walk(n.Expr)
		case CbSeq:
			for _, it := range n.Items {
				walk(it)
			}
		case CbIf:
			walk(n.Cond)
			walk(n.Then)
			if n.Else != nil {
				walk(n.Else)
			}
		case CbAnd:
			walk(n.A)
			walk(n.B)
		case CbOr:
			walk(n.A)
			walk(n.B)
		case CbNodeBuild:
			for _, f := range n.Fields {
				walk(f.Expr)
			}
		case CbListBuild:
			for _, it := range n.Items {
				walk(it.Expr)
			}
		case CbCall:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(e)
	return mask
}

// InlinePartials expands every `*`-prefixed context reference in
// place, per spec.md §4.5.3: build a dependency graph among partials,
// topologically sort (reporting the full cycle on failure), then
// substitute each reference with its (already expanded) rule list.
func InlinePartials(contexts []*LexContext) ([]*LexContext, error) {
	partials := map[string]*LexContext{}
	for _, c := range contexts {
		if c.Partial {
			partials[c.Name] = c
		}
	}
	// Only matcher references are inlining edges. A push target is a
	// runtime control transfer, not textual inclusion, so a partial
	// pushing itself (nested comments, balanced delimiters) is legal.
	refsOf := func(c *LexContext) []string {
		var out []string
		for _, r := range c.Rules {
			if cr, ok := r.Matcher.(LexMatchContext); ok {
				out = append(out, cr.Context)
			}
		}
		return out
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var order []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			cycle := append(append([]string{}, path...), name)
			return ErrGrammarCycle{Cycle: cycle}
		}
		state[name] = visiting
		path = append(path, name)
		if c, ok := partials[name]; ok {
			for _, ref := range refsOf(c) {
				if _, isPartial := partials[ref]; isPartial {
					if err := visit(ref); err != nil {
						return err
					}
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(partials))
	for name := range partials {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic visiting order
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	expandRules := func(rules []LexRule, expanded map[string][]LexRule) []LexRule {
		var out []LexRule
		for _, r := range rules {
			if cr, ok := r.Matcher.(LexMatchContext); ok {
				if sub, isPartial := expanded[cr.Context]; isPartial {
					out = append(out, sub...)
					continue
				}
			}
			out = append(out, r)
		}
		return out
	}

	expanded := map[string][]LexRule{}
	for _, name := range order {
		expanded[name] = expandRules(partials[name].Rules, expanded)
	}

	var result []*LexContext
	for _, c := range contexts {
		if c.Partial {
			continue
		}
		result = append(result, &LexContext{
			Name:  c.Name,
			Begin: c.Begin,
			Rules: expandRules(c.Rules, expanded),
			End:   c.End,
		})
	}

	// A partial can also be a push TARGET (spec.md §6's
	// `"/*" { push(*Comment) }`); inlining erases it from the matcher
	// position but the CTX_CALL still needs a real compiled context, so
	// every pushed partial is materialized (with its already-expanded
	// rule list), transitively.
	needed := map[string]bool{}
	var collectPushed func(rules []LexRule)
	collectPushed = func(rules []LexRule) {
		for _, r := range rules {
			name := r.PushContext
			if name == "" {
				continue
			}
			if _, isPartial := partials[name]; isPartial && !needed[name] {
				needed[name] = true
				collectPushed(expanded[name])
			}
		}
	}
	for _, c := range result {
		collectPushed(c.Rules)
	}
	var pushedNames []string
	for name := range needed {
		pushedNames = append(pushedNames, name)
	}
	sort.Strings(pushedNames)
	for _, name := range pushedNames {
		p := partials[name]
		result = append(result, &LexContext{
			Name:  name,
			Begin: p.Begin,
			Rules: expanded[name],
			End:   p.End,
		})
	}
	return result, nil
}
