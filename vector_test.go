package sb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayEmpty(t *testing.T) {
	rt := NewRuntime()
	assert.Equal(t, 0, ArraySize(rt.EmptyArray))
	assert.Equal(t, Undef, ArrayGet(rt.EmptyArray, 0))
}

func TestArrayAppendGrowsAcrossDepths(t *testing.T) {
	rt := NewRuntime()
	// 1100 elements crosses both depth boundaries: 32 -> 33 raises the
	// root, 1024 -> 1025 raises it again.
	var v Value = rt.EmptyArray
	const n = 1100
	for i := 0; i < n; i++ {
		prev := v
		v = ArrayAppend(v, Int(i))
		assert.Equal(t, ArraySize(prev)+1, ArraySize(v))
	}
	require.Equal(t, n, ArraySize(v))
	for i := 0; i < n; i++ {
		require.Equal(t, Int(i), ArrayGet(v, i), "index %d", i)
	}
}

func TestArrayAppendPersistence(t *testing.T) {
	rt := NewRuntime()
	v := NewArray(rt, []Value{Int(1), Int(2), Int(3)})
	w := ArrayAppend(v, Int(4))

	assert.NotEqual(t, Value(v), w)
	assert.Equal(t, 3, ArraySize(v))
	assert.Equal(t, 4, ArraySize(w))
	assert.Equal(t, Int(4), ArrayGet(w, 3))
	for i := 0; i < 3; i++ {
		assert.Equal(t, ArrayGet(v, i), ArrayGet(w, i))
	}
}

func TestArrayGetNegativeIndex(t *testing.T) {
	rt := NewRuntime()
	v := NewArray(rt, []Value{Int(10), Int(20), Int(30)})
	assert.Equal(t, Int(30), ArrayGet(v, -1))
	assert.Equal(t, Int(10), ArrayGet(v, -3))
	assert.Equal(t, Undef, ArrayGet(v, -4))
	assert.Equal(t, Undef, ArrayGet(v, 3))
}

func TestArraySet(t *testing.T) {
	rt := NewRuntime()
	t.Run("within range leaves siblings alone", func(t *testing.T) {
		var v Value = rt.EmptyArray
		for i := 0; i < 100; i++ {
			v = ArrayAppend(v, Int(i))
		}
		w := ArraySet(v, 50, Int(-1))
		assert.Equal(t, Int(-1), ArrayGet(w, 50))
		assert.Equal(t, Int(50), ArrayGet(v, 50))
		for i := 0; i < 100; i++ {
			if i == 50 {
				continue
			}
			require.Equal(t, ArrayGet(v, i), ArrayGet(w, i))
		}
	})

	t.Run("at size appends", func(t *testing.T) {
		v := NewArray(rt, []Value{Int(1)})
		w := ArraySet(v, 1, Int(2))
		assert.Equal(t, 2, ArraySize(w))
		assert.Equal(t, Int(2), ArrayGet(w, 1))
	})

	t.Run("past size gap-fills with nil", func(t *testing.T) {
		v := NewArray(rt, []Value{Int(1)})
		w := ArraySet(v, 4, Int(5))
		assert.Equal(t, 5, ArraySize(w))
		assert.Equal(t, Nil, ArrayGet(w, 2))
		assert.Equal(t, Int(5), ArrayGet(w, 4))
	})
}

func TestArraySlice(t *testing.T) {
	rt := NewRuntime()
	var v Value = rt.EmptyArray
	for i := 0; i < 10; i++ {
		v = ArrayAppend(v, Int(i))
	}

	s := ArraySlice1(rt, v, 2, 5)
	require.Equal(t, 5, ArraySize(s))
	for i := 0; i < 5; i++ {
		assert.Equal(t, Int(i+2), ArrayGet(s, i))
	}

	t.Run("length clipped to available elements", func(t *testing.T) {
		s := ArraySlice1(rt, v, 7, 100)
		assert.Equal(t, 3, ArraySize(s))
	})

	t.Run("fully out of range gives empty", func(t *testing.T) {
		s := ArraySlice1(rt, v, 50, 3)
		assert.Equal(t, 0, ArraySize(s))
	})

	t.Run("slice of slice composes offsets", func(t *testing.T) {
		ss := ArraySlice1(rt, s, 1, 2)
		require.Equal(t, 2, ArraySize(ss))
		assert.Equal(t, Int(3), ArrayGet(ss, 0))
		assert.Equal(t, Int(4), ArrayGet(ss, 1))
	})

	t.Run("append to slice materializes", func(t *testing.T) {
		w := ArrayAppend(s, Int(99))
		require.Equal(t, 6, ArraySize(w))
		assert.Equal(t, Int(2), ArrayGet(w, 0))
		assert.Equal(t, Int(99), ArrayGet(w, 5))
	})
}

func TestArrayRemove(t *testing.T) {
	rt := NewRuntime()
	v := NewArray(rt, []Value{Int(0), Int(1), Int(2), Int(3)})

	t.Run("at front", func(t *testing.T) {
		w := ArrayRemove(rt, v, 0)
		require.Equal(t, 3, ArraySize(w))
		assert.Equal(t, Int(1), ArrayGet(w, 0))
	})
	t.Run("at back", func(t *testing.T) {
		w := ArrayRemove(rt, v, 3)
		require.Equal(t, 3, ArraySize(w))
		assert.Equal(t, Int(2), ArrayGet(w, 2))
	})
	t.Run("interior rebuilds", func(t *testing.T) {
		w := ArrayRemove(rt, v, 1)
		require.Equal(t, 3, ArraySize(w))
		assert.Equal(t, Int(0), ArrayGet(w, 0))
		assert.Equal(t, Int(2), ArrayGet(w, 1))
		assert.Equal(t, Int(3), ArrayGet(w, 2))
	})
	t.Run("out of range is identity", func(t *testing.T) {
		assert.Equal(t, Value(v), ArrayRemove(rt, v, 9))
	})
}

func TestArrayStress(t *testing.T) {
	rt := NewRuntime()
	var v Value = rt.EmptyArray
	for i := 0; i < 40; i++ {
		v = ArrayAppend(v, NewDynString(fmt.Sprintf("s%d", i)))
	}
	s := ArraySlice1(rt, v, 5, 30)
	w := ArraySet(s, 0, Int(-5))
	assert.Equal(t, Int(-5), ArrayGet(w, 0))
	assert.Equal(t, "s6", ArrayGet(w, 1).String())
	assert.Equal(t, "s5", ArrayGet(s, 0).String())
}
