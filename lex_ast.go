package sb

// Lex grammar-level AST, consumed by CompileLex. Grounded on spec.md
// §4.5's context/rule model and the grammar-spec surface syntax in
// spec.md §6.
type LexContext struct {
	Name    string
	Partial bool // a `*`-prefixed context, inlined rather than compiled (§4.5.3)
	Begin   *CbExpr
	Rules   []LexRule
	End     *CbExpr
}

// LexMatcher is the thing a lex rule tries to match against the
// remaining input: a string literal, a named pattern reference, an
// inline regexp literal, or a reference to another context (push).
type LexMatcher interface{ lexMatcher() }

type LexMatchLiteral struct{ Text string }
type LexMatchRegexp struct{ Node ReNode; CapCount int }
type LexMatchVarRef struct {
	Name   string
	Global bool
}
type LexMatchContext struct{ Context string } // a bare reference used as a matcher (push-and-match)

func (LexMatchLiteral) lexMatcher() {}
func (LexMatchRegexp) lexMatcher()  {}
func (LexMatchVarRef) lexMatcher()  {}
func (LexMatchContext) lexMatcher() {}

// LexRule is one `(matcher, callback?)` pair, extended with the two
// structural rule effects spec.md §6's example surface syntax shows
// (`push(*Comment)`, `pop`) which are rule-level control transfers
// rather than value-producing callback expressions, so they get their
// own fields instead of being buried inside Callback (see DESIGN.md's
// resolution of the §4.5.3/example ambiguity).
type LexRule struct {
	Matcher     LexMatcher
	Callback    *CbExpr // ordinary action, e.g. { token(:ident, $0) }
	PushContext string  // "" unless this rule also pushes a context after Callback runs
	Pop         bool     // this rule pops the current context after Callback runs
}

func (c *LexContext) ContainsMatcher(pred func(LexMatcher) bool) bool {
	for _, r := range c.Rules {
		if pred(r.Matcher) {
			return true
		}
	}
	return false
}
