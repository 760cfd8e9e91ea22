package sb

import "fmt"

// PEG bytecode VM: a call/backtrack stack walking a token stream, per
// spec.md §4.6's VM invariants. Grounded on vm.go's own split between a
// flat bytecode dispatch loop and Go-level frame stacks for call and
// backtrack state — the same shape peg_compiler.go's sibling lex layer
// uses for its context stack.

// pegCallFrame is one RULE_CALL activation: retPC is where RULE_RET
// resumes (negative for the outermost call, meaning "parsing is done"),
// brBase is the backtrack-stack depth at call time, so fail() knows
// which backtrack records belong to this invocation versus an
// enclosing one.
type pegCallFrame struct {
	retPC         int32
	ruleID        string
	entryTokenPos int
	brBase        int
}

// pegBrFrame is one PUSH_BR record: off is where to resume on failure,
// tokenPos/stackHeight are what to restore first.
type pegBrFrame struct {
	off         int32
	tokenPos    int
	stackHeight int
}

type memoKey struct {
	rule string
	pos  int
}

type memoEntry struct {
	ok     bool
	val    Value
	endPos int
}

// PegState runs one compiled PegProgram against a token stream produced
// by a lex stage (or supplied directly).
type PegState struct {
	rt     *Runtime
	prog   *PegProgram
	tokens []*Token

	pc        int32
	tokenPos  int
	stack     []Value
	callStack []pegCallFrame
	brStack   []pegBrFrame
	globals   []Value

	memo    map[memoKey]memoEntry
	memoize bool

	deepestPos      int
	deepestExpected []string

	stepBudget int
	steps      int
}

// NewPegState prepares a PEG run over tokens. cfg supplies peg.memoize
// and a step budget (spec.md §5's "decrementing counter per opcode");
// nil uses NewConfig's defaults and no budget.
func NewPegState(rt *Runtime, prog *PegProgram, tokens []*Token, cfg *Config) *PegState {
	ps := &PegState{rt: rt, prog: prog, tokens: tokens, memo: map[memoKey]memoEntry{}, memoize: true}
	ps.globals = make([]Value, prog.GlobalCount)
	for i := range ps.globals {
		ps.globals[i] = Undef
	}
	if cfg != nil {
		ps.memoize = cfg.GetBool("peg.memoize")
	}
	return ps
}

// SetStepBudget bounds the number of opcodes Parse will execute before
// returning a budget-exhausted error; zero (the default) means no limit.
func (ps *PegState) SetStepBudget(n int) { ps.stepBudget = n }

// Parse runs startRule to completion and asserts every token was
// consumed (spec.md §4.6's MATCH semantics), returning the rule's
// result value.
func (ps *PegState) Parse(startRule string) (Value, error) {
	entry, ok := ps.prog.RuleEntry[startRule]
	if !ok {
		return nil, fmt.Errorf("sb: unknown peg rule %q", startRule)
	}
	ps.callStack = []pegCallFrame{{retPC: -1, ruleID: startRule, entryTokenPos: 0, brBase: 0}}
	ps.pc = entry

	for {
		if ps.stepBudget > 0 {
			ps.steps++
			if ps.steps > ps.stepBudget {
				return nil, ParsingError{
					Kind:    ErrKindBudgetExhausted,
					Message: "peg step budget exhausted",
					Span:    ps.spanAt(ps.tokenPos),
				}
			}
		}
		done, err := ps.step()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	if ps.tokenPos != len(ps.tokens) {
		return nil, ParsingError{
			Kind:     ErrKindUnexpectedToken,
			Message:  fmt.Sprintf("unexpected token at position %d, %d token(s) left unconsumed", ps.tokenPos, len(ps.tokens)-ps.tokenPos),
			Span:     ps.spanAt(ps.tokenPos),
			Deepest:  ps.spanAt(ps.deepestPos),
			Expected: ps.deepestExpected,
		}
	}
	if len(ps.stack) == 0 {
		return Nil, nil
	}
	return ps.stack[len(ps.stack)-1], nil
}

func (ps *PegState) spanAt(tokenPos int) Span {
	if tokenPos >= 0 && tokenPos < len(ps.tokens) {
		return ps.tokens[tokenPos].Span
	}
	if len(ps.tokens) > 0 {
		return ps.tokens[len(ps.tokens)-1].Span
	}
	return Span{}
}

// step executes one instruction, returning done=true once the
// outermost rule's RULE_RET fires.
func (ps *PegState) step() (bool, error) {
	ins := ps.prog.Prog[ps.pc]
	switch ins.Op {
	case PegOpMeta:
		ps.pc++

	case PegOpTerm:
		if ps.tokenPos >= len(ps.tokens) || ps.tokens[ps.tokenPos].Type != ins.Str {
			ps.noteExpected(ins.Str)
			return false, ps.fail(fmt.Sprintf("expected token type %q", ins.Str))
		}
		tok := ps.tokens[ps.tokenPos]
		ps.stack = append(ps.stack, tok.Value)
		ps.tokenPos++
		ps.pc++

	case PegOpRuleCall:
		ruleID := ins.Str
		if ps.memoize {
			if me, ok := ps.memo[memoKey{ruleID, ps.tokenPos}]; ok {
				if !me.ok {
					ps.noteExpected(ruleID)
					return false, ps.fail(fmt.Sprintf("memoized failure of rule %q", ruleID))
				}
				ps.stack = append(ps.stack, me.val)
				ps.tokenPos = me.endPos
				ps.pc++
				return false, nil
			}
		}
		ps.callStack = append(ps.callStack, pegCallFrame{
			retPC: ps.pc + 1, ruleID: ruleID, entryTokenPos: ps.tokenPos, brBase: len(ps.brStack),
		})
		ps.pc = ins.A

	case PegOpRuleRet:
		cf := ps.callStack[len(ps.callStack)-1]
		ps.callStack = ps.callStack[:len(ps.callStack)-1]
		result := Value(Nil)
		if len(ps.stack) > 0 {
			result = ps.stack[len(ps.stack)-1]
		}
		if ps.memoize {
			ps.memo[memoKey{cf.ruleID, cf.entryTokenPos}] = memoEntry{ok: true, val: result, endPos: ps.tokenPos}
		}
		if cf.retPC < 0 {
			return true, nil
		}
		ps.pc = cf.retPC

	case PegOpPushBr:
		ps.brStack = append(ps.brStack, pegBrFrame{off: ins.A, tokenPos: ps.tokenPos, stackHeight: len(ps.stack)})
		ps.pc++

	case PegOpPopBr:
		ps.brStack = ps.brStack[:len(ps.brStack)-1]
		ps.pc++

	case PegOpUnparse:
		bf := ps.brStack[len(ps.brStack)-1]
		ps.brStack = ps.brStack[:len(ps.brStack)-1]
		ps.tokenPos = bf.tokenPos
		ps.stack = ps.stack[:bf.stackHeight]
		ps.pc++

	case PegOpLoopUpdate:
		bf := &ps.brStack[len(ps.brStack)-1]
		if bf.tokenPos == ps.tokenPos {
			ps.brStack = ps.brStack[:len(ps.brStack)-1]
			ps.pc++
		} else {
			bf.tokenPos = ps.tokenPos
			bf.stackHeight = len(ps.stack)
			ps.pc = ins.A
		}

	case PegOpListMaybe:
		item := ps.stack[len(ps.stack)-1]
		acc := ps.stack[len(ps.stack)-2]
		if acc == Nil {
			acc = ps.rt.EmptyArray
		}
		acc = ArrayAppend(acc, item)
		ps.stack = ps.stack[:len(ps.stack)-2]
		ps.stack = append(ps.stack, acc)
		ps.pc++

	case PegOpJmp:
		ps.pc = ins.A

	case PegOpCallback:
		if err := ps.runCallback(int(ins.A), int(ins.B)); err != nil {
			return false, err
		}
		ps.pc++

	case PegOpMatch:
		ps.pc++

	case PegOpFail:
		return false, ps.fail(ins.Str)

	default:
		return false, fmt.Errorf("sb: unreachable peg opcode %d", ins.Op)
	}
	return false, nil
}

// runCallback pops argc values off the stack as $1..$argc, runs
// Callbacks[idx] (PEG callbacks never see token/yield/parse — see
// CbHost's doc comment — so they run with a nil host) and pushes the
// result.
func (ps *PegState) runCallback(idx, argc int) error {
	args := append([]Value(nil), ps.stack[len(ps.stack)-argc:]...)
	ps.stack = ps.stack[:len(ps.stack)-argc]

	locals := make([]Value, captureSlotCount)
	for i := range locals {
		locals[i] = Undef
	}
	for i := 0; i < argc && i+1 < captureSlotCount; i++ {
		locals[i+1] = args[i]
	}

	result, _, err := RunCallback(ps.rt, ps.prog.Callbacks[idx], locals, &ps.globals, nil)
	if err != nil {
		return err
	}
	ps.stack = append(ps.stack, result)
	return nil
}

func (ps *PegState) noteExpected(what string) {
	if ps.tokenPos > ps.deepestPos {
		ps.deepestPos = ps.tokenPos
		ps.deepestExpected = nil
	}
	if ps.tokenPos == ps.deepestPos {
		for _, e := range ps.deepestExpected {
			if e == what {
				return
			}
		}
		ps.deepestExpected = append(ps.deepestExpected, what)
	}
}

// fail walks the backtrack stack looking for a record belonging to the
// current call frame (spec.md §4.6: "if none exists in the current
// call frame, the call frame is popped, failure propagates"),
// memoizing each popped frame's rule as a failure at its entry
// position so a later identical attempt short-circuits via the memo
// table instead of re-walking the same dead end.
func (ps *PegState) fail(tag string) error {
	for len(ps.callStack) > 0 {
		cf := ps.callStack[len(ps.callStack)-1]
		if len(ps.brStack) > cf.brBase {
			bf := ps.brStack[len(ps.brStack)-1]
			ps.brStack = ps.brStack[:len(ps.brStack)-1]
			ps.tokenPos = bf.tokenPos
			ps.stack = ps.stack[:bf.stackHeight]
			ps.pc = bf.off
			return nil
		}
		if ps.memoize {
			ps.memo[memoKey{cf.ruleID, cf.entryTokenPos}] = memoEntry{ok: false}
		}
		ps.callStack = ps.callStack[:len(ps.callStack)-1]
	}
	return ParsingError{
		Kind:     ErrKindUnexpectedToken,
		Message:  tag,
		Span:     ps.spanAt(ps.tokenPos),
		Deepest:  ps.spanAt(ps.deepestPos),
		Expected: ps.deepestExpected,
	}
}
