package sb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tok(typ string, val Value) *Token {
	end := 1
	return NewToken(typ, Span{Start: Location{Byte: 0}, End: Location{Byte: end}}, val)
}

func pegRun(t *testing.T, rules []PegRule, syms *SymbolTable, tokens []*Token, start string) (Value, *PegState, error) {
	t.Helper()
	prog, err := CompilePeg(rules, syms)
	require.NoError(t, err)
	ps := NewPegState(syms.rt, prog, tokens, nil)
	v, perr := ps.Parse(start)
	return v, ps, perr
}

// sumGrammar is spec scenario P1/P2's `expr = .int /* '+' .int {$1+$3}`.
func sumGrammar() []PegRule {
	combine := CbExpr(CbCall{Method: "add", Args: []CbExpr{CbCapture{Index: 1}, CbCapture{Index: 3}}})
	return []PegRule{{
		Name: "expr",
		Body: PegLeftJoin{
			Op:    '*',
			Left:  &PegSeq{Terms: []PegTerm{{TokenType: "int"}}},
			Right: &PegSeq{Terms: []PegTerm{{TokenType: "+"}, {TokenType: "int"}}, Callback: &combine},
		},
	}}
}

func TestPegLeftJoinFolds(t *testing.T) {
	rt := NewRuntime()
	tokens := []*Token{
		tok("int", Int(1)), tok("+", Undef), tok("int", Int(2)),
		tok("+", Undef), tok("int", Int(3)),
	}
	v, _, err := pegRun(t, sumGrammar(), NewSymbolTable(rt), tokens, "expr")
	require.NoError(t, err)
	assert.Equal(t, Int(6), v)
}

func TestPegLeftJoinSingleElement(t *testing.T) {
	rt := NewRuntime()
	v, _, err := pegRun(t, sumGrammar(), NewSymbolTable(rt), []*Token{tok("int", Int(1))}, "expr")
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)
}

func TestPegMemoizationRunsRuleBodyOnce(t *testing.T) {
	// S = A .b / A .c — both alternatives try A at position 0. A's
	// callback conses onto a global each time its body actually runs,
	// so the list length counts executions.
	mkRules := func() []PegRule {
		bump := CbExpr(CbSeq{Items: []CbExpr{
			CbAssign{Name: "n", Global: true, Expr: CbCall{Method: "cons", Args: []CbExpr{
				CbLit{Val: Int(1)}, CbVarRef{Name: "n", Global: true},
			}}},
			CbCapture{Index: 1},
		}})
		take2 := CbExpr(CbCapture{Index: 2})
		return []PegRule{
			{Name: "S", Body: PegChoice{Alts: []PegExpr{
				&PegSeq{Terms: []PegTerm{{RuleRef: "A"}, {TokenType: "b"}}},
				&PegSeq{Terms: []PegTerm{{RuleRef: "A"}, {TokenType: "c"}}, Callback: &take2},
			}}},
			{Name: "A", Body: &PegSeq{Terms: []PegTerm{{TokenType: "int"}}, Callback: &bump}},
		}
	}
	tokens := []*Token{tok("int", Int(5)), tok("c", NewDynString("C"))}

	t.Run("memoized", func(t *testing.T) {
		rt := NewRuntime()
		syms := NewSymbolTable(rt)
		require.NoError(t, syms.DeclareGlobal("n"))
		prog, err := CompilePeg(mkRules(), syms)
		require.NoError(t, err)
		ps := NewPegState(rt, prog, tokens, nil)
		v, perr := ps.Parse("S")
		require.NoError(t, perr)
		assert.Equal(t, "C", v.String())
		assert.Len(t, ConsToSlice(ps.globals[0]), 1, "A's body ran once; the retry hit the memo")
	})

	t.Run("unmemoized runs twice", func(t *testing.T) {
		rt := NewRuntime()
		syms := NewSymbolTable(rt)
		require.NoError(t, syms.DeclareGlobal("n"))
		prog, err := CompilePeg(mkRules(), syms)
		require.NoError(t, err)
		cfg := NewConfig()
		cfg.SetBool("peg.memoize", false)
		ps := NewPegState(rt, prog, tokens, cfg)
		_, perr := ps.Parse("S")
		require.NoError(t, perr)
		assert.Len(t, ConsToSlice(ps.globals[0]), 2)
	})
}

func TestPegOrderedChoice(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "A", Body: PegChoice{Alts: []PegExpr{
		&PegSeq{Terms: []PegTerm{{TokenType: "x"}}},
		&PegSeq{Terms: []PegTerm{{TokenType: "y"}}},
	}}}}

	v, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("y", NewDynString("Y"))}, "A")
	require.NoError(t, err)
	assert.Equal(t, "Y", v.String(), "'y' matches after 'x' fails at the same position")

	v, _, err = pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("x", NewDynString("X"))}, "A")
	require.NoError(t, err)
	assert.Equal(t, "X", v.String())
}

func TestPegStarQuantifier(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{{TokenType: "a", Quant: '*'}}}}}

	t.Run("collects every match", func(t *testing.T) {
		tokens := []*Token{tok("a", Int(1)), tok("a", Int(2)), tok("a", Int(3))}
		v, _, err := pegRun(t, rules, NewSymbolTable(rt), tokens, "S")
		require.NoError(t, err)
		require.Equal(t, 3, ArraySize(v))
		assert.Equal(t, Int(2), ArrayGet(v, 1))
	})

	t.Run("zero matches leaves nil", func(t *testing.T) {
		v, _, err := pegRun(t, rules, NewSymbolTable(rt), nil, "S")
		require.NoError(t, err)
		assert.Equal(t, Nil, v)
	})
}

func TestPegPlusQuantifier(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{{TokenType: "a", Quant: '+'}}}}}

	tokens := []*Token{tok("a", Int(1)), tok("a", Int(2))}
	v, _, err := pegRun(t, rules, NewSymbolTable(rt), tokens, "S")
	require.NoError(t, err)
	assert.Equal(t, 2, ArraySize(v))

	_, _, err = pegRun(t, rules, NewSymbolTable(rt), nil, "S")
	assert.Error(t, err, "plus needs at least one match")
}

func TestPegMaybeQuantifier(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{
		{TokenType: "a", Quant: '?'},
		{TokenType: "b"},
	}, Callback: cbp(CbCapture{Index: 1})}}}

	v, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("a", Int(1)), tok("b", Undef)}, "S")
	require.NoError(t, err)
	require.Equal(t, 1, ArraySize(v))
	assert.Equal(t, Int(1), ArrayGet(v, 0))

	v, _, err = pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("b", Undef)}, "S")
	require.NoError(t, err)
	assert.Equal(t, Nil, v, "absent optional is nil")
}

func TestPegLookahead(t *testing.T) {
	rt := NewRuntime()

	t.Run("positive", func(t *testing.T) {
		rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{
			{TokenType: "a", Lookahead: '&'},
			{TokenType: "a"},
		}, Callback: cbp(CbCapture{Index: 1})}}}
		v, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("a", Int(9))}, "S")
		require.NoError(t, err)
		assert.Equal(t, Int(9), v, "lookahead consumed nothing; the real term still matched")

		_, _, err = pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("b", Undef)}, "S")
		assert.Error(t, err)
	})

	t.Run("negative", func(t *testing.T) {
		rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{
			{TokenType: "b", Lookahead: '!'},
			{TokenType: "a"},
		}, Callback: cbp(CbCapture{Index: 1})}}}
		v, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("a", Int(4))}, "S")
		require.NoError(t, err)
		assert.Equal(t, Int(4), v)

		_, _, err = pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("b", Undef)}, "S")
		assert.Error(t, err, "negative lookahead fails when its term matches")
	})
}

func TestPegUnexpectedTokenDiagnostics(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{
		{TokenType: "a"}, {TokenType: "b"},
	}, Callback: cbp(CbCapture{Index: 2})}}}

	_, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("a", Undef), tok("z", Undef)}, "S")
	require.Error(t, err)
	var pe ParsingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindUnexpectedToken, pe.Kind)
	assert.Contains(t, pe.Expected, "b", "deepest-failure tracking records the expected set")
}

func TestPegTrailingTokensRejected(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{{TokenType: "a"}}}}}
	_, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("a", Undef), tok("a", Undef)}, "S")
	require.Error(t, err)
	var pe ParsingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindUnexpectedToken, pe.Kind)
}

func TestPegUndefinedRuleIsCompileError(t *testing.T) {
	rt := NewRuntime()
	rules := []PegRule{{Name: "S", Body: &PegSeq{Terms: []PegTerm{{RuleRef: "Missing"}}}}}
	_, err := CompilePeg(rules, NewSymbolTable(rt))
	require.Error(t, err)
	var ce CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindUnknownName, ce.Kind)
}

func TestPegStepBudget(t *testing.T) {
	rt := NewRuntime()
	tokens := []*Token{
		tok("int", Int(1)), tok("+", Undef), tok("int", Int(2)),
		tok("+", Undef), tok("int", Int(3)),
	}
	prog, err := CompilePeg(sumGrammar(), NewSymbolTable(rt))
	require.NoError(t, err)
	ps := NewPegState(rt, prog, tokens, nil)
	ps.SetStepBudget(3)
	_, perr := ps.Parse("expr")
	require.Error(t, perr)
	var pe ParsingError
	require.ErrorAs(t, perr, &pe)
	assert.Equal(t, ErrKindBudgetExhausted, pe.Kind)
}

func TestPegRuleCallsNest(t *testing.T) {
	rt := NewRuntime()
	// S = P P ; P = .int — two calls at different positions memoize
	// independently.
	pair := CbExpr(CbCall{Method: "add", Args: []CbExpr{CbCapture{Index: 1}, CbCapture{Index: 2}}})
	rules := []PegRule{
		{Name: "S", Body: &PegSeq{Terms: []PegTerm{{RuleRef: "P"}, {RuleRef: "P"}}, Callback: &pair}},
		{Name: "P", Body: &PegSeq{Terms: []PegTerm{{TokenType: "int"}}}},
	}
	v, _, err := pegRun(t, rules, NewSymbolTable(rt), []*Token{tok("int", Int(3)), tok("int", Int(4))}, "S")
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)
}

func TestPegDisasmSmoke(t *testing.T) {
	rt := NewRuntime()
	prog, err := CompilePeg(sumGrammar(), NewSymbolTable(rt))
	require.NoError(t, err)
	out := DisasmPeg(prog, nil)
	assert.Contains(t, out, "rule expr")
	assert.Contains(t, out, "term")
	assert.Contains(t, out, "loop_update")
	assert.Contains(t, out, "callback")
}
