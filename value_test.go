package sb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruthiness(t *testing.T) {
	assert.False(t, Nil.Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.False(t, Undef.Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.True(t, Int(0).Truthy())
	assert.True(t, Float(0).Truthy())
	assert.True(t, NewDynString("").Truthy())
}

func TestRetainReleaseLeavesLiveSetUnchanged(t *testing.T) {
	rt := NewRuntime()
	rt.EnableMemoryCheck()

	v := rt.Track(NewDynString("hello"))
	rt.Retain(v)
	rt.Release(v)
	assert.Equal(t, 1, rt.RetainCount(v))

	rt.Release(v) // drop our own reference
	leaks := rt.EndMemoryCheck()
	assert.Empty(t, leaks)
}

func TestReleaseRunsDestructorExactlyOnce(t *testing.T) {
	rt := NewRuntime()
	destructs := 0
	rt.Registry().Val(KlassDynString).Destruct = func(rt *Runtime, v Value) {
		destructs++
	}

	v := NewDynString("x")
	rt.Retain(v)
	rt.Retain(v)
	assert.Equal(t, 3, rt.RetainCount(v))

	rt.Release(v)
	rt.Release(v)
	assert.Equal(t, 0, destructs)
	rt.Release(v)
	assert.Equal(t, 1, destructs)

	assert.Panics(t, func() { rt.Release(v) })
}

func TestPermSkipsRefcounting(t *testing.T) {
	rt := NewRuntime()
	rt.EnableMemoryCheck()
	v := rt.Track(NewDynString("perm"))
	rt.Perm(v)

	rt.Retain(v)
	rt.Release(v)
	rt.Release(v)
	rt.Release(v)
	assert.Equal(t, 1, rt.RetainCount(v))

	leaks := rt.EndMemoryCheck()
	assert.Empty(t, leaks, "perm objects are removed from the checked set")
}

func TestMemoryCheckReportsLeaks(t *testing.T) {
	rt := NewRuntime()
	rt.EnableMemoryCheck()
	rt.Track(NewDynString("leaked"))
	leaks := rt.EndMemoryCheck()
	require.Len(t, leaks, 1)
	assert.Contains(t, leaks[0], "dynstring")
}

func TestHashAgreesWithEquality(t *testing.T) {
	rt := NewRuntime()
	pairs := [][2]Value{
		{Int(42), Int(42)},
		{Float(1.5), Float(1.5)},
		{Bool(true), Bool(true)},
		{Nil, Nil},
		{rt.Intern("hello"), rt.Intern("hello")},
	}
	for _, p := range pairs {
		require.True(t, Equal(rt, p[0], p[1]))
		assert.Equal(t, Hash(rt, p[0]), Hash(rt, p[1]))
	}
	assert.False(t, Equal(rt, Int(1), Int(2)))
	assert.False(t, Equal(rt, Int(1), Float(1)))
}

func TestStringInterning(t *testing.T) {
	rt := NewRuntime()
	a := rt.Intern("token")
	b := rt.Intern("token")
	c := rt.Intern("other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "token", rt.StringFor(a))
}

func TestStructBuilderLifecycle(t *testing.T) {
	rt := NewRuntime()
	id := rt.Registry().DefineStruct("Pair", []string{"first", "second"})

	s := NewStructBuilder(id, 2)
	require.NoError(t, s.Set(0, Int(1)))
	require.NoError(t, s.Set(1, Int(2)))
	s.Freeze()

	assert.True(t, s.Frozen())
	assert.Equal(t, Int(1), s.Get(0))
	assert.Equal(t, Int(2), s.Get(1))
	assert.Equal(t, Undef, s.Get(5))
	assert.Error(t, s.Set(0, Int(9)))
}

func TestKlassRegistry(t *testing.T) {
	rt := NewRuntime()
	id := rt.Registry().Ensure("Node", 0)
	again := rt.Registry().Ensure("Node", 0)
	assert.Equal(t, id, again)

	found, ok := rt.Registry().Find("Node")
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, ok = rt.Registry().Find("Missing")
	assert.False(t, ok)

	sid := rt.Registry().DefineStruct("Pair", []string{"a", "b"})
	k := rt.Registry().Val(sid)
	assert.Equal(t, 1, k.FieldIndex("b"))
	assert.Equal(t, -1, k.FieldIndex("z"))
}
