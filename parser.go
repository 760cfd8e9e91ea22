package sb

import "fmt"

// ParserInstance bundles the mutable per-parse state for one compiled
// grammar, per spec.md §6's instance API: new/reset/parse/free. One
// instance is single-threaded; distinct instances over the same
// KlassData share only the (read-only after compilation) bytecode,
// klass registry, and interned-string table.
type ParserInstance struct {
	kd     *KlassData
	budget int
	tokens []*Token
	freed  bool
}

// NewParserInstance creates an instance over a compiled grammar.
func NewParserInstance(kd *KlassData) *ParserInstance {
	return &ParserInstance{kd: kd}
}

// StepBudget bounds how many opcodes each VM dispatch loop may execute
// during the next Parse, per spec.md §5's cancellation model; zero
// (the default) means unlimited. Budget exhaustion surfaces as a
// ParsingError with kind budget-exhausted.
func (pi *ParserInstance) StepBudget(n int) { pi.budget = n }

// Reset drops the state left behind by the previous Parse.
func (pi *ParserInstance) Reset() {
	pi.tokens = nil
}

// Tokens returns the token stream produced by the last Parse, also
// populated on lex failure (spec.md §7: "lex failures with a non-empty
// token stream return the tokens collected so far along with the
// failure").
func (pi *ParserInstance) Tokens() []*Token { return pi.tokens }

// Free releases the instance. The instance must not be used afterward.
func (pi *ParserInstance) Free() {
	pi.tokens = nil
	pi.kd = nil
	pi.freed = true
}

// Parse runs the grammar over input: the lex VM scans bytes into
// tokens (running rule callbacks as it goes), and the peg VM — wired
// in through the parse/0 builtin, or run directly over the final token
// stream if no callback invoked it — assembles the result value.
// Grammars with no peg section yield the root context's yielded value,
// or the token array if nothing was yielded.
func (pi *ParserInstance) Parse(input []byte) (Value, error) {
	if pi.freed {
		return nil, fmt.Errorf("sb: parser instance used after Free")
	}
	kd := pi.kd
	if kd.Lex == nil {
		return nil, NewCompileError(ErrKindUnknownName, Span{}, "grammar %q has no lex contexts", kd.Name)
	}
	ls := NewLexState(kd.Runtime, kd.Lex, input, kd.Config)
	if pi.budget > 0 {
		ls.SetStepBudget(pi.budget)
	}
	if kd.Peg != nil {
		ls.pegRunner = func(tokens []*Token) (Value, error) {
			ps := NewPegState(kd.Runtime, kd.Peg, tokens, kd.Config)
			if pi.budget > 0 {
				ps.SetStepBudget(pi.budget)
			}
			return ps.Parse(kd.StartRule)
		}
	}
	tokens, result, err := ls.Run()
	pi.tokens = ls.Tokens()
	if err != nil {
		return nil, err
	}
	if kd.Peg != nil && !ls.ranPeg {
		return ls.pegRunner(tokens)
	}
	if result == Nil || IsUndef(result) {
		return ls.CurrentTokens(), nil
	}
	return result, nil
}
