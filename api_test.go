package sb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calcGrammar = `
Digits = /[0-9]+/

lex Main {
  /\s+/
  /Digits/ { token(:int, parse_int($0)) }
  "+"      { token(:plus) }
  "*"      { token(:star) }
  "("      { token(:lparen) }
  ")"      { token(:rparen) }
  end { yield(parse()) }
}

peg Calc {
  expr = term /* .plus term { $1 + $3 }
  term = factor /* .star factor { $1 * $3 }
  factor = .int / .lparen expr .rparen { $2 }
}
`

func TestCalculatorEndToEnd(t *testing.T) {
	rt := NewRuntime()
	kd, err := GrammarFromString(rt, "calc", calcGrammar, nil)
	require.NoError(t, err)
	require.NotNil(t, kd.Lex)
	require.NotNil(t, kd.Peg)
	assert.Equal(t, "expr", kd.StartRule)

	inst := NewParserInstance(kd)
	defer inst.Free()

	cases := map[string]int64{
		"1":           1,
		"1 + 2":       3,
		"1 + 2 * 3":   7,
		"(1 + 2) * 3": 9,
		"2 * 2 * 2":   8,
		"((7))":       7,
	}
	for input, want := range cases {
		t.Run(input, func(t *testing.T) {
			v, perr := inst.Parse([]byte(input))
			require.NoError(t, perr)
			assert.Equal(t, Int(want), v)
		})
	}
}

func TestCalculatorErrors(t *testing.T) {
	rt := NewRuntime()
	kd, err := GrammarFromString(rt, "calc", calcGrammar, nil)
	require.NoError(t, err)
	inst := NewParserInstance(kd)
	defer inst.Free()

	t.Run("unexpected byte", func(t *testing.T) {
		_, perr := inst.Parse([]byte("1 + $"))
		require.Error(t, perr)
		var pe ParsingError
		require.ErrorAs(t, perr, &pe)
		assert.Equal(t, ErrKindLexNoMatch, pe.Kind)
		assert.NotEmpty(t, inst.Tokens(), "tokens before the bad byte stay observable")
	})

	t.Run("unexpected token", func(t *testing.T) {
		_, perr := inst.Parse([]byte("1 + * 2"))
		require.Error(t, perr)
		var pe ParsingError
		require.ErrorAs(t, perr, &pe)
		assert.Equal(t, ErrKindUnexpectedToken, pe.Kind)
	})

	t.Run("budget exhaustion", func(t *testing.T) {
		inst2 := NewParserInstance(kd)
		defer inst2.Free()
		inst2.StepBudget(3)
		_, perr := inst2.Parse([]byte("1 + 2 + 3 + 4"))
		require.Error(t, perr)
		var pe ParsingError
		require.ErrorAs(t, perr, &pe)
		assert.Equal(t, ErrKindBudgetExhausted, pe.Kind)
	})
}

func TestLexOnlyGrammarYieldsTokens(t *testing.T) {
	rt := NewRuntime()
	src := `
lex Main {
  /\s+/
  /[a-z]+/ { token(:word, $0) }
}
`
	kd, err := GrammarFromString(rt, "words", src, nil)
	require.NoError(t, err)
	assert.Nil(t, kd.Peg)

	inst := NewParserInstance(kd)
	defer inst.Free()
	v, perr := inst.Parse([]byte("hello brave world"))
	require.NoError(t, perr)
	require.Equal(t, 3, ArraySize(v), "no yield and no peg: the token array comes back")
	tok := ArrayGet(v, 1).(*Token)
	assert.Equal(t, "word", tok.Type)
	assert.Equal(t, "brave", tok.Value.String())
}

func TestStructBuildingGrammar(t *testing.T) {
	rt := NewRuntime()
	src := `
Ident = /[a-z]+/

struct Assign(name, value)

lex Main {
  /\s+/
  /Ident/   { token(:id, $0) }
  /[0-9]+/  { token(:num, parse_int($0)) }
  "="       { token(:eq) }
  end { yield(parse()) }
}

peg P {
  stmt = .id .eq .num { Assign($1, $3) }
}
`
	kd, err := GrammarFromString(rt, "assign", src, nil)
	require.NoError(t, err)

	inst := NewParserInstance(kd)
	defer inst.Free()
	v, perr := inst.Parse([]byte("answer = 42"))
	require.NoError(t, perr)

	s, ok := v.(*Struct)
	require.True(t, ok)
	assert.Equal(t, "Assign", rt.Registry().Val(s.Klass()).Name)
	assert.Equal(t, "answer", s.Get(0).String())
	assert.Equal(t, Int(42), s.Get(1))
	assert.True(t, s.Frozen())
}

func TestCommentStrippingGrammar(t *testing.T) {
	rt := NewRuntime()
	// spec.md §6's push/pop example: a partial comment context entered
	// from the root and popped on the closing delimiter.
	src := `
lex Main {
  /\s+/
  /[a-z]+/ { token(:word, $0) }
  "/*"     { push(*Comment) }
}

lex *Comment {
  "*/" { pop }
  /./
}
`
	kd, err := GrammarFromString(rt, "comments", src, nil)
	require.NoError(t, err)

	inst := NewParserInstance(kd)
	defer inst.Free()
	v, perr := inst.Parse([]byte("one /* two three */ four"))
	require.NoError(t, perr)
	require.Equal(t, 2, ArraySize(v))
	assert.Equal(t, "one", ArrayGet(v, 0).(*Token).Value.String())
	assert.Equal(t, "four", ArrayGet(v, 1).(*Token).Value.String())
}

func TestGrammarDuplicateNames(t *testing.T) {
	rt := NewRuntime()
	cases := map[string]string{
		"pattern": "A = /x/\nA = /y/\n",
		"struct":  "struct P(a)\nstruct P(b)\n",
		"var":     "var n;\nvar n;\n",
		"lex":     "lex M { /x/ }\nlex M { /y/ }\n",
		"peg":     "peg P { r = .x\nr = .y\n}",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := GrammarFromString(rt, "dup", src, nil)
			require.Error(t, err)
			var ce CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, ErrKindDuplicateName, ce.Kind)
		})
	}
}

func TestGrammarUnknownNames(t *testing.T) {
	rt := NewRuntime()
	t.Run("unknown pattern", func(t *testing.T) {
		_, err := GrammarFromString(rt, "g", "lex M { /Nope/ }", nil)
		require.Error(t, err)
	})
	t.Run("unknown struct", func(t *testing.T) {
		_, err := GrammarFromString(rt, "g", "lex M { /[a-z]+/ { token(:w) } }\npeg P { r = .w { Nope($1) } }", nil)
		require.Error(t, err)
	})
	t.Run("unknown peg rule", func(t *testing.T) {
		_, err := GrammarFromString(rt, "g", "lex M { /[a-z]+/ { token(:w) } }\npeg P { r = missing }", nil)
		require.Error(t, err)
	})
	t.Run("push of unknown context", func(t *testing.T) {
		_, err := GrammarFromString(rt, "g", `lex M { "x" { push(*Nope) } }`, nil)
		require.Error(t, err)
	})
}

func TestGrammarPartialCycleError(t *testing.T) {
	rt := NewRuntime()
	src := `
lex Main { *A }
lex *A { *B }
lex *B { *A }
`
	_, err := GrammarFromString(rt, "cyclic", src, nil)
	require.Error(t, err)
	var cycle ErrGrammarCycle
	require.ErrorAs(t, err, &cycle)
	assert.GreaterOrEqual(t, len(cycle.Cycle), 2)
}

func TestGrammarCaptureWarning(t *testing.T) {
	rt := NewRuntime()
	src := `
lex Main {
  /[a-z]+/ { token(:w, $0) }
  end { yield(parse()) }
}
peg P {
  r = .w { $5 }
}
`
	kd, err := GrammarFromString(rt, "warny", src, nil)
	require.NoError(t, err, "an out-of-range $n warns, it does not abort")
	require.NotEmpty(t, kd.Warnings)
	assert.Contains(t, kd.Warnings[0], "$5")
}

func TestGrammarFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calc.sb")
	require.NoError(t, os.WriteFile(path, []byte(calcGrammar), 0o644))

	rt := NewRuntime()
	kd, err := GrammarFromFile(rt, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "calc", kd.Name)

	_, err = GrammarFromFile(rt, filepath.Join(dir, "missing.sb"), nil)
	assert.Error(t, err)
}

func TestParseBytesOneShot(t *testing.T) {
	rt := NewRuntime()
	v, err := ParseBytes(rt, []byte(calcGrammar), []byte("2 + 2"), nil)
	require.NoError(t, err)
	assert.Equal(t, Int(4), v)
}

func TestParserInstanceLifecycle(t *testing.T) {
	rt := NewRuntime()
	kd, err := GrammarFromString(rt, "calc", calcGrammar, nil)
	require.NoError(t, err)

	inst := NewParserInstance(kd)
	_, perr := inst.Parse([]byte("1 + 1"))
	require.NoError(t, perr)
	assert.NotEmpty(t, inst.Tokens())

	inst.Reset()
	assert.Empty(t, inst.Tokens())

	inst.Free()
	_, perr = inst.Parse([]byte("1"))
	assert.Error(t, perr, "use after Free is rejected")
}

func TestDistinctInstancesShareNothingMutable(t *testing.T) {
	rt := NewRuntime()
	kd, err := GrammarFromString(rt, "calc", calcGrammar, nil)
	require.NoError(t, err)

	a := NewParserInstance(kd)
	b := NewParserInstance(kd)
	defer a.Free()
	defer b.Free()

	va, err := a.Parse([]byte("1 + 2"))
	require.NoError(t, err)
	vb, err := b.Parse([]byte("10 * 10"))
	require.NoError(t, err)
	assert.Equal(t, Int(3), va)
	assert.Equal(t, Int(100), vb)
	assert.NotEqual(t, a.Tokens(), b.Tokens())
}
