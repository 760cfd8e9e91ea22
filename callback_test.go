package sb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cbRun compiles expr against syms and runs it with empty capture
// slots and the given globals, no host.
func cbRun(t *testing.T, expr CbExpr, syms *SymbolTable, globals *[]Value) (Value, error) {
	t.Helper()
	prog, _, err := CompileCallback(expr, syms)
	require.NoError(t, err)
	locals := make([]Value, captureSlotCount)
	for i := range locals {
		locals[i] = Undef
	}
	rt := syms.rt
	v, _, rerr := RunCallback(rt, prog, locals, globals, nil)
	return v, rerr
}

func newTestSyms(t *testing.T) (*Runtime, *SymbolTable) {
	t.Helper()
	rt := NewRuntime()
	return rt, NewSymbolTable(rt)
}

func TestCallbackLiteralsAndArithmetic(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value

	t.Run("literal", func(t *testing.T) {
		v, err := cbRun(t, CbLit{Val: Int(42)}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(42), v)
	})

	t.Run("add", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "add", Args: []CbExpr{CbLit{Val: Int(2)}, CbLit{Val: Int(3)}}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(5), v)
	})

	t.Run("mixed promotes to float", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "mul", Args: []CbExpr{CbLit{Val: Int(2)}, CbLit{Val: Float(1.5)}}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Float(3), v)
	})

	t.Run("division by zero fails", func(t *testing.T) {
		_, err := cbRun(t, CbCall{Method: "div", Args: []CbExpr{CbLit{Val: Int(1)}, CbLit{Val: Int(0)}}}, syms, &globals)
		assert.Error(t, err)
	})

	t.Run("arithmetic on non-numbers fails", func(t *testing.T) {
		_, err := cbRun(t, CbCall{Method: "add", Args: []CbExpr{CbLit{Val: Nil}, CbLit{Val: Int(1)}}}, syms, &globals)
		assert.Error(t, err)
	})
}

func TestCallbackIfAndShortCircuit(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value

	t.Run("if true", func(t *testing.T) {
		v, err := cbRun(t, CbIf{Cond: CbLit{Val: Bool(true)}, Then: CbLit{Val: Int(1)}, Else: CbLit{Val: Int(2)}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(1), v)
	})
	t.Run("if false without else gives nil", func(t *testing.T) {
		v, err := cbRun(t, CbIf{Cond: CbLit{Val: Bool(false)}, Then: CbLit{Val: Int(1)}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Nil, v)
	})
	t.Run("and short-circuits", func(t *testing.T) {
		// the right side would fail if evaluated
		v, err := cbRun(t, CbAnd{
			A: CbLit{Val: Nil},
			B: CbCall{Method: "div", Args: []CbExpr{CbLit{Val: Int(1)}, CbLit{Val: Int(0)}}},
		}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Nil, v)
	})
	t.Run("or short-circuits", func(t *testing.T) {
		v, err := cbRun(t, CbOr{
			A: CbLit{Val: Int(7)},
			B: CbCall{Method: "div", Args: []CbExpr{CbLit{Val: Int(1)}, CbLit{Val: Int(0)}}},
		}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(7), v)
	})
}

func TestCallbackGlobalAssignment(t *testing.T) {
	_, syms := newTestSyms(t)
	require.NoError(t, syms.DeclareGlobal("count"))
	globals := []Value{Undef}

	v, err := cbRun(t, CbAssign{Name: "count", Global: true, Expr: CbLit{Val: Int(9)}}, syms, &globals)
	require.NoError(t, err)
	assert.Equal(t, Int(9), v, "assignment evaluates to the assigned value")
	assert.Equal(t, Int(9), globals[0])
}

func TestCallbackUndeclaredVariableIsFatal(t *testing.T) {
	_, syms := newTestSyms(t)
	_, _, err := CompileCallback(CbAssign{Name: "nope", Expr: CbLit{Val: Int(1)}}, syms)
	require.Error(t, err)
	var ce CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindUnknownName, ce.Kind)
}

func TestCallbackUnknownMethodIsFatal(t *testing.T) {
	_, syms := newTestSyms(t)
	_, _, err := CompileCallback(CbCall{Method: "frobnicate"}, syms)
	require.Error(t, err)
}

func TestCallbackNodeBuild(t *testing.T) {
	rt, syms := newTestSyms(t)
	_, err := syms.DeclareStruct("Pair", []string{"first", "second"})
	require.NoError(t, err)
	var globals []Value

	t.Run("fills fields positionally", func(t *testing.T) {
		v, err := cbRun(t, CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: CbLit{Val: Int(1)}},
			{Expr: CbLit{Val: Int(2)}},
		}}, syms, &globals)
		require.NoError(t, err)
		s, ok := v.(*Struct)
		require.True(t, ok)
		assert.True(t, s.Frozen())
		assert.Equal(t, Int(1), s.Get(0))
		assert.Equal(t, Int(2), s.Get(1))
		assert.Equal(t, "Pair", rt.Registry().Val(s.Klass()).Name)
	})

	t.Run("underfill is a callback error", func(t *testing.T) {
		_, err := cbRun(t, CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: CbLit{Val: Int(1)}},
		}}, syms, &globals)
		assert.Error(t, err)
	})

	t.Run("splat fills remaining fields", func(t *testing.T) {
		list := CbListBuild{Items: []CbListField{
			{Expr: CbLit{Val: Int(10)}},
			{Expr: CbLit{Val: Int(20)}},
		}}
		v, err := cbRun(t, CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: list, Splat: true},
		}}, syms, &globals)
		require.NoError(t, err)
		s := v.(*Struct)
		assert.Equal(t, Int(10), s.Get(0))
		assert.Equal(t, Int(20), s.Get(1))
	})

	t.Run("splat of non-list is a callback error", func(t *testing.T) {
		_, err := cbRun(t, CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: CbLit{Val: Int(1)}, Splat: true},
		}}, syms, &globals)
		assert.Error(t, err)
	})

	t.Run("overfill by splat is a callback error", func(t *testing.T) {
		list := CbListBuild{Items: []CbListField{
			{Expr: CbLit{Val: Int(1)}},
			{Expr: CbLit{Val: Int(2)}},
			{Expr: CbLit{Val: Int(3)}},
		}}
		_, err := cbRun(t, CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: list, Splat: true},
		}}, syms, &globals)
		assert.Error(t, err)
	})

	t.Run("arity overflow caught at compile time", func(t *testing.T) {
		_, _, err := CompileCallback(CbNodeBuild{Klass: "Pair", Fields: []CbNodeField{
			{Expr: CbLit{Val: Int(1)}},
			{Expr: CbLit{Val: Int(2)}},
			{Expr: CbLit{Val: Int(3)}},
		}}, syms)
		require.Error(t, err)
		var ce CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ErrKindArityMismatch, ce.Kind)
	})
}

func TestCallbackListBuild(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value

	t.Run("preserves order", func(t *testing.T) {
		v, err := cbRun(t, CbListBuild{Items: []CbListField{
			{Expr: CbLit{Val: Int(1)}},
			{Expr: CbLit{Val: Int(2)}},
			{Expr: CbLit{Val: Int(3)}},
		}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, []Value{Int(1), Int(2), Int(3)}, ConsToSlice(v))
	})

	t.Run("splat concatenates", func(t *testing.T) {
		inner := CbListBuild{Items: []CbListField{
			{Expr: CbLit{Val: Int(2)}},
			{Expr: CbLit{Val: Int(3)}},
		}}
		v, err := cbRun(t, CbListBuild{Items: []CbListField{
			{Expr: CbLit{Val: Int(1)}},
			{Expr: inner, Splat: true},
			{Expr: CbLit{Val: Int(4)}},
		}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, []Value{Int(1), Int(2), Int(3), Int(4)}, ConsToSlice(v))
	})

	t.Run("empty list is nil", func(t *testing.T) {
		v, err := cbRun(t, CbListBuild{}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Nil, v)
	})
}

func TestCallbackSeqKeepsLastValue(t *testing.T) {
	_, syms := newTestSyms(t)
	require.NoError(t, syms.DeclareGlobal("g"))
	globals := []Value{Undef}

	v, err := cbRun(t, CbSeq{Items: []CbExpr{
		CbAssign{Name: "g", Global: true, Expr: CbLit{Val: Int(1)}},
		CbLit{Val: Int(99)},
	}}, syms, &globals)
	require.NoError(t, err)
	assert.Equal(t, Int(99), v)
	assert.Equal(t, Int(1), globals[0])
}

func TestCallbackReturnUnwinds(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value

	v, err := cbRun(t, CbSeq{Items: []CbExpr{
		CbCall{Method: "return", Args: []CbExpr{CbLit{Val: Int(7)}}},
		CbCall{Method: "div", Args: []CbExpr{CbLit{Val: Int(1)}, CbLit{Val: Int(0)}}},
	}}, syms, &globals)
	require.NoError(t, err, "return short-circuits before the failing statement")
	assert.Equal(t, Int(7), v)
}

func TestCallbackStringBuiltins(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value

	t.Run("parse_int", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "parse_int", Args: []CbExpr{CbLit{Val: NewDynString("123")}}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(123), v)
	})
	t.Run("char_hex", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "char_hex", Args: []CbExpr{CbLit{Val: NewDynString("41")}}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, "A", v.String())
	})
	t.Run("char_escape_sp", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "char_escape_sp", Args: []CbExpr{CbLit{Val: NewDynString("n")}}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, "\n", v.String())
	})
	t.Run("concat_char", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "concat_char", Args: []CbExpr{
			CbLit{Val: NewDynString("ab")}, CbLit{Val: NewDynString("cd")},
		}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, "abcd", v.String())
	})
	t.Run("cons and tail", func(t *testing.T) {
		v, err := cbRun(t, CbCall{Method: "tail", Args: []CbExpr{
			CbCall{Method: "cons", Args: []CbExpr{CbLit{Val: Int(1)}, CbLit{Val: Int(2)}}},
		}}, syms, &globals)
		require.NoError(t, err)
		assert.Equal(t, Int(2), v)
	})
}

func TestCallbackBuiltinArityChecked(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value
	_, err := cbRun(t, CbCall{Method: "cons", Args: []CbExpr{CbLit{Val: Int(1)}}}, syms, &globals)
	require.Error(t, err)
	var ce CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindArityMismatch, ce.Kind)
}

func TestCallbackHostlessBuiltinsFail(t *testing.T) {
	_, syms := newTestSyms(t)
	var globals []Value
	for _, m := range []string{"yield", "token"} {
		_, err := cbRun(t, CbCall{Method: m, Args: []CbExpr{CbLit{Val: Nil}}}, syms, &globals)
		assert.Error(t, err, "%s needs a lex host", m)
	}
}
