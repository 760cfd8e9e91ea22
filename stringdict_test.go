package sb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictInsertFind(t *testing.T) {
	rt := NewRuntime()
	d := DictInsert(rt.EmptyDict, "alpha", Int(1))
	d = DictInsert(d, "beta", Int(2))

	v, ok := DictFind(d, "alpha")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)

	_, ok = DictFind(d, "gamma")
	assert.False(t, ok)
	assert.Equal(t, 2, d.Size())
}

func TestDictEmptyStringKey(t *testing.T) {
	rt := NewRuntime()
	d := DictInsert(rt.EmptyDict, "", NewDynString("A"))
	d = DictInsert(d, "a", NewDynString("B"))

	v, ok := DictFind(d, "")
	require.True(t, ok)
	assert.Equal(t, "A", v.String())
	v, ok = DictFind(d, "a")
	require.True(t, ok)
	assert.Equal(t, "B", v.String())
	assert.Equal(t, 2, d.Size())
}

func TestDictPrefixKeys(t *testing.T) {
	rt := NewRuntime()
	d := rt.EmptyDict
	keys := []string{"a", "ab", "abc", "abcd", "b"}
	for i, k := range keys {
		d = DictInsert(d, k, Int(i))
	}
	for i, k := range keys {
		v, ok := DictFind(d, k)
		require.True(t, ok, "key %q", k)
		assert.Equal(t, Int(i), v)
	}
}

func TestDictReplaceKeepsSize(t *testing.T) {
	rt := NewRuntime()
	d := DictInsert(rt.EmptyDict, "k", Int(1))
	d2 := DictInsert(d, "k", Int(2))
	assert.Equal(t, 1, d2.Size())
	v, _ := DictFind(d2, "k")
	assert.Equal(t, Int(2), v)
	v, _ = DictFind(d, "k")
	assert.Equal(t, Int(1), v)
}

func TestDictBurstPreservesEntries(t *testing.T) {
	rt := NewRuntime()
	d := rt.EmptyDict
	// Every key shares the first byte 'k', so they all land in one
	// bucket; the long tails push the bucket past 4096 bytes and force
	// a burst partway through.
	const n = 400
	tail := strings.Repeat("x", 24)
	for i := 0; i < n; i++ {
		d = DictInsert(d, fmt.Sprintf("k%03d%s", i, tail), Int(i))
	}
	require.Equal(t, n, d.Size())
	for i := 0; i < n; i++ {
		v, ok := DictFind(d, fmt.Sprintf("k%03d%s", i, tail))
		require.True(t, ok, "key %d after burst", i)
		require.Equal(t, Int(i), v)
	}
}

func TestDictRemove(t *testing.T) {
	rt := NewRuntime()
	d := rt.EmptyDict
	for i := 0; i < 50; i++ {
		d = DictInsert(d, fmt.Sprintf("key%d", i), Int(i))
	}
	d = DictRemove(d, "key25")
	assert.Equal(t, 49, d.Size())
	_, ok := DictFind(d, "key25")
	assert.False(t, ok)
	v, ok := DictFind(d, "key26")
	require.True(t, ok)
	assert.Equal(t, Int(26), v)

	t.Run("absent key keeps size", func(t *testing.T) {
		d2 := DictRemove(d, "nope")
		assert.Equal(t, d.Size(), d2.Size())
	})
	t.Run("empty key removable", func(t *testing.T) {
		d2 := DictInsert(d, "", Int(-1))
		d3 := DictRemove(d2, "")
		_, ok := DictFind(d3, "")
		assert.False(t, ok)
	})
}

func TestDictEachOrderedByBytes(t *testing.T) {
	rt := NewRuntime()
	d := rt.EmptyDict
	keys := []string{"b", "a", "ab", "", "c"}
	for _, k := range keys {
		d = DictInsert(d, k, NewDynString(k))
	}
	var visited []string
	DictEach(d, func(k string, v Value) MapEachResult {
		visited = append(visited, k)
		return MapEachNext
	})
	assert.Equal(t, []string{"", "a", "ab", "b", "c"}, visited)
}
