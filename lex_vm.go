package sb

import "fmt"

// Lex bytecode VM: a context-stack driver over a compiled LexProgram,
// grounded on spec.md §4.5's round-based execution model ("try each
// rule of the current context in order; on match, run its callback and
// loop back to the context's entry for another round; on push, start a
// fresh round in the new context; on explicit pop or exhausting every
// rule with nothing matched, pop back to the parent"). Round-looping
// (JMP back to a context's round start) and the one-shot rule-chain
// walk live in the bytecode itself (lex_compiler.go); only push/pop/
// terminate cross a context boundary, and those are Go-level frame
// stack operations a single linear instruction stream can't express.

type lexFrame struct {
	ctxName string
	entry   int32
	pc      int32
	locals  []Value
	result  Value

	// entryCursor/entryToken are spec.md §3's source-ptr-at-entry and
	// token_pos-at-entry frame fields: on pop, the parent resumes at
	// resumeMatched (its round start) only if the child consumed input.
	entryCursor   int
	entryToken    int
	resumeMatched int32
}

type lexSignal int

const (
	lexSigLoop lexSignal = iota
	lexSigPush
	lexSigPop
)

// LexState runs one lex program over one input buffer, implementing
// CbHost so begin/rule/end callbacks can call token/yield/parse.
type LexState struct {
	rt     *Runtime
	prog   *LexProgram
	input  []byte
	cursor int

	globals  []Value
	tokens   []*Token
	stack    []*lexFrame
	maxDepth int

	lastCaptureStart, lastCaptureEnd int
	lastCaps                         []int32

	stepBudget int
	steps      int

	// pegRunner backs parse/0; ParserInstance wires it in when a
	// grammar declares both a lex and a peg section (spec.md §4.7).
	// ranPeg records that a callback invoked it, so the instance knows
	// not to run the peg stage a second time after the lexer returns.
	pegRunner func([]*Token) (Value, error)
	ranPeg    bool
}

// SetStepBudget bounds the number of lex opcodes Run will execute
// before returning a budget-exhausted error; zero means no limit
// (spec.md §5's cancellation hook).
func (ls *LexState) SetStepBudget(n int) { ls.stepBudget = n }

// NewLexState prepares a lexer over input. cfg supplies
// lex.max_context_depth (spec.md §4.5.3's recursion guard); nil uses
// NewConfig's default.
func NewLexState(rt *Runtime, prog *LexProgram, input []byte, cfg *Config) *LexState {
	ls := &LexState{rt: rt, prog: prog, input: input, globals: make([]Value, prog.GlobalCount)}
	for i := range ls.globals {
		ls.globals[i] = Undef
	}
	ls.maxDepth = 4096
	if cfg != nil {
		ls.maxDepth = cfg.GetInt("lex.max_context_depth")
	}
	return ls
}

// Tokens returns the token stream accumulated by EmitToken so far.
func (ls *LexState) Tokens() []*Token { return ls.tokens }

// Run drives the context stack from the program's root context to
// completion, returning the accumulated token stream and whatever the
// root context's last yield/1 call produced (Nil if none).
func (ls *LexState) Run() ([]*Token, Value, error) {
	entry, ok := ls.prog.Contexts[ls.prog.RootContext]
	if !ok {
		return nil, nil, fmt.Errorf("sb: unknown root lex context %q", ls.prog.RootContext)
	}
	root := &lexFrame{ctxName: ls.prog.RootContext, entry: entry, pc: entry, result: Nil}
	ls.stack = []*lexFrame{root}

	for {
		if len(ls.stack) > ls.maxDepth {
			return nil, nil, ParsingError{
				Kind:    ErrKindBudgetExhausted,
				Message: fmt.Sprintf("lex context stack exceeded max depth %d", ls.maxDepth),
				Span:    ls.spanAt(ls.cursor),
			}
		}
		top := ls.stack[len(ls.stack)-1]
		sig, err := ls.step(top)
		if err != nil {
			return nil, nil, err
		}
		switch sig {
		case lexSigLoop, lexSigPush:
			continue
		case lexSigPop:
			finished := ls.stack[len(ls.stack)-1]
			ls.stack = ls.stack[:len(ls.stack)-1]
			if len(ls.stack) == 0 {
				return ls.tokens, finished.result, nil
			}
			if ls.cursor > finished.entryCursor {
				// The child consumed input: the push counts as this
				// round's match, so the parent restarts its round.
				ls.stack[len(ls.stack)-1].pc = finished.resumeMatched
			}
		}
	}
}

// step runs top's bytecode from its current pc until a push, pop, or
// intra-context loop-back is reached, mutating top/ls.stack/ls.cursor
// in place.
func (ls *LexState) step(top *lexFrame) (lexSignal, error) {
	for {
		if ls.stepBudget > 0 {
			ls.steps++
			if ls.steps > ls.stepBudget {
				return 0, ParsingError{
					Kind:    ErrKindBudgetExhausted,
					Message: "lex step budget exhausted",
					Span:    ls.spanAt(ls.cursor),
				}
			}
		}
		ins := ls.prog.Prog[top.pc]
		switch ins.Op {
		case LexOpMeta:
			top.pc++

		case LexOpMatchRe:
			re := ls.prog.Regexps[ins.A]
			res := RunRegexp(re, ls.input, ls.cursor)
			// A zero-width match cannot count as this round's match or
			// the round would spin forever without consuming anything.
			if res.Matched && res.End > ls.cursor {
				ls.lastCaptureStart, ls.lastCaptureEnd = res.Start, res.End
				ls.lastCaps = res.Captures
				ls.cursor = res.End
				top.pc = ins.B
			} else {
				top.pc = ins.C
			}

		case LexOpMatchStr:
			lit := ins.Str
			if len(lit) > 0 && ls.cursor+len(lit) <= len(ls.input) && string(ls.input[ls.cursor:ls.cursor+len(lit)]) == lit {
				ls.lastCaptureStart, ls.lastCaptureEnd = ls.cursor, ls.cursor+len(lit)
				ls.lastCaps = nil
				ls.cursor += len(lit)
				top.pc = ins.A
			} else {
				top.pc = ins.B
			}

		case LexOpMatchLitSet:
			d := ls.prog.Dispatchers[ins.A]
			idx, length, ok := d.MatchAt(ls.input, ls.cursor)
			if !ok {
				top.pc = ins.B
			} else {
				ls.lastCaptureStart, ls.lastCaptureEnd = ls.cursor, ls.cursor+length
				ls.lastCaps = nil
				ls.cursor += length
				top.pc = ls.prog.DispatchTargets[ins.A][idx]
			}

		case LexOpCallback:
			mask := uint16(ins.A)
			cb := ls.prog.Callbacks[ins.B]
			locals := ls.materializeCaptures(top.locals, mask)
			_, newLocals, err := RunCallback(ls.rt, cb, locals, &ls.globals, ls)
			top.locals = newLocals
			if err != nil {
				return 0, err
			}
			top.pc++

		case LexOpCtxCall:
			target, ok := ls.prog.Contexts[ins.Str]
			if !ok {
				return 0, fmt.Errorf("sb: unknown lex context %q", ins.Str)
			}
			top.pc++
			nf := &lexFrame{
				ctxName: ins.Str, entry: target, pc: target, result: Nil,
				entryCursor: ls.cursor, entryToken: len(ls.tokens),
				resumeMatched: ins.A,
			}
			ls.stack = append(ls.stack, nf)
			return lexSigPush, nil

		case LexOpPop:
			return lexSigPop, nil

		case LexOpCtxEnd:
			if len(ls.stack) == 1 && ls.cursor < len(ls.input) {
				return 0, ParsingError{
					Kind:    ErrKindLexNoMatch,
					Message: fmt.Sprintf("no rule of context %q matched", top.ctxName),
					Span:    ls.spanAt(ls.cursor),
				}
			}
			return lexSigPop, nil

		case LexOpJmp:
			top.pc = ins.A

		default:
			return 0, fmt.Errorf("sb: unreachable lex opcode %d", ins.Op)
		}
	}
}

func (ls *LexState) spanAt(byteOff int) Span {
	loc := Location{Byte: byteOff}
	return Span{Start: loc, End: loc}
}

// materializeCaptures builds a fresh capture-slot prefix (0..9) for one
// callback invocation: only the bits set in mask get a materialized
// DynString (spec.md §4.4's "only for the mask bits the callback
// actually uses"); everything past slot 9 — a context's declared local
// vars — carries over from base untouched, so state built up across a
// context's rounds (a nesting counter, say) survives between calls.
func (ls *LexState) materializeCaptures(base []Value, mask uint16) []Value {
	locals := make([]Value, captureSlotCount)
	for i := range locals {
		locals[i] = Undef
	}
	for i := 0; i < captureSlotCount; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		start, end, ok := ls.captureSpan(i)
		if ok {
			locals[i] = NewDynString(string(ls.input[start:end]))
		}
	}
	if len(base) > captureSlotCount {
		locals = append(locals, base[captureSlotCount:]...)
	}
	return locals
}

func (ls *LexState) captureSpan(n int) (start, end int, ok bool) {
	if n == 0 {
		return ls.lastCaptureStart, ls.lastCaptureEnd, true
	}
	if ls.lastCaps == nil {
		return 0, 0, false
	}
	idx := 2 + 2*(n-1)
	if idx+1 >= len(ls.lastCaps) {
		return 0, 0, false
	}
	s, e := ls.lastCaps[idx], ls.lastCaps[idx+1]
	if s < 0 || e < 0 {
		return 0, 0, false
	}
	return int(s), int(e), true
}

// --- CbHost ---

func (ls *LexState) EmitToken(typ string, val Value) error {
	span := Span{
		Start: Location{Byte: ls.lastCaptureStart},
		End:   Location{Byte: ls.lastCaptureEnd},
	}
	ls.tokens = append(ls.tokens, NewToken(typ, span, val))
	return nil
}

func (ls *LexState) Yield(v Value) error {
	if len(ls.stack) == 0 {
		return fmt.Errorf("sb: yield/1 called outside any lex context")
	}
	ls.stack[len(ls.stack)-1].result = v
	return nil
}

func (ls *LexState) Parse() (Value, error) {
	if ls.pegRunner == nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "parse/0 called but no peg program is wired")
	}
	ls.ranPeg = true
	return ls.pegRunner(ls.tokens)
}

// CurrentTokens returns the tokens emitted so far as a persistent
// array Value, the shape the `tokens` callback reference (spec.md §6:
// "end { yield(tokens) }") and the §4.5 "absent a peg-triggering
// callback, an array of collected tokens" default both need.
func (ls *LexState) CurrentTokens() Value {
	items := make([]Value, len(ls.tokens))
	for i, t := range ls.tokens {
		items[i] = t
	}
	return NewArray(ls.rt, items)
}
