package sb

import "fmt"

// ErrorKind enumerates the error taxonomy from spec.md §7.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindDuplicateName
	ErrKindUnknownName
	ErrKindArityMismatch
	ErrKindGrammarCycle
	ErrKindQuantifierRange
	ErrKindRegexpShape
	ErrKindLexNoMatch
	ErrKindUnexpectedToken
	ErrKindCallbackType
	ErrKindBudgetExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindDuplicateName:
		return "duplicate-name"
	case ErrKindUnknownName:
		return "unknown-name"
	case ErrKindArityMismatch:
		return "arity-mismatch"
	case ErrKindGrammarCycle:
		return "grammar-cycle"
	case ErrKindQuantifierRange:
		return "quantifier-out-of-range"
	case ErrKindRegexpShape:
		return "regexp-shape-error"
	case ErrKindLexNoMatch:
		return "lex-no-match"
	case ErrKindUnexpectedToken:
		return "unexpected-token"
	case ErrKindCallbackType:
		return "callback-type-error"
	case ErrKindBudgetExhausted:
		return "budget-exhausted"
	default:
		return "unknown"
	}
}

// CompileError is raised by any of the four compilers (regexp, lex,
// callback, peg) or by the grammar-spec compile pipeline itself. It
// aborts compilation: the caller gets this single value back and the
// partial Program is discarded, per spec.md §7.
type CompileError struct {
	Kind    ErrorKind
	Message string
	Span    Span
}

func (e CompileError) Error() string {
	return fmt.Sprintf("[%s] %s @ %s", e.Kind, e.Message, e.Span)
}

func NewCompileError(kind ErrorKind, span Span, format string, args ...any) CompileError {
	return CompileError{Kind: kind, Message: fmt.Sprintf(format, args...), Span: span}
}

// ParsingError is returned by ParserInstance.Parse for any recoverable
// parse-time failure (lex no-match, unexpected token, callback type
// error, budget exhaustion).
type ParsingError struct {
	Kind     ErrorKind
	Message  string
	Span     Span
	Deepest  Span
	Expected []string
}

func (e ParsingError) Error() string {
	return fmt.Sprintf("[%s] %s @ %s", e.Kind, e.Message, e.Span)
}

// ErrGrammarCycle is raised when partial-context inlining discovers a
// cycle among `*`-prefixed contexts; Cycle names the full cycle.
type ErrGrammarCycle struct {
	Cycle []string
}

func (e ErrGrammarCycle) Error() string {
	msg := "cycle in partial contexts: "
	for i, name := range e.Cycle {
		if i > 0 {
			msg += " -> "
		}
		msg += name
	}
	return msg
}
