package sb

import "github.com/coregx/ahocorasick"

// LiteralDispatcher accelerates a lex context's run of plain string
// literals: instead of walking a chain of MATCH_STR byte-compares, one
// automaton probe answers whether ANY literal can still occur in the
// remaining input, and the whole rule run is skipped the instant that
// answer is no. SPEC_FULL.md's DOMAIN STACK addition, grounded on
// coregx-coregex's meta/compile.go (Builder.AddPattern/Build
// construction) and meta/find.go's Find-driven literal engine bypass.
// The automaton's Find returns the leftmost occurrence anywhere at or
// after the given offset — not the anchored "which literal starts
// exactly here, longest first" answer the lexer needs — so a match
// reported to start at the cursor is confirmed and tie-broken by
// direct byte comparison.
type LiteralDispatcher struct {
	literals []string
	auto     *ahocorasick.Automaton
}

// NewLiteralDispatcher builds one automaton over literals. Order is
// preserved: MatchAt's returned index is the literal's position in
// this slice, matching LexProgram.DispatchTargets' indexing.
func NewLiteralDispatcher(literals []string) (*LiteralDispatcher, error) {
	b := ahocorasick.NewBuilder()
	for _, lit := range literals {
		b.AddPattern([]byte(lit))
	}
	auto, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &LiteralDispatcher{literals: literals, auto: auto}, nil
}

// MatchAt reports the longest literal that begins exactly at pos in
// input, or ok=false if none does. Ties among equal-length literals
// are broken by rule declaration order, matching the MATCH_STR chain
// this replaces.
func (d *LiteralDispatcher) MatchAt(input []byte, pos int) (idx int, length int, ok bool) {
	if pos >= len(input) {
		return 0, 0, false
	}
	if d.auto != nil {
		m := d.auto.Find(input, pos)
		if m == nil || m.Start > pos {
			return 0, 0, false
		}
	}
	best := -1
	bestLen := 0
	for i, lit := range d.literals {
		if len(lit) == 0 || pos+len(lit) > len(input) {
			continue
		}
		if string(input[pos:pos+len(lit)]) == lit {
			if best < 0 || len(lit) > bestLen {
				best, bestLen = i, len(lit)
			}
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, bestLen, true
}
