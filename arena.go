package sb

// arenaChunkSize is spec.md §4.2.4's per-chunk capacity (256 qwords in
// the original; here, 256 elements of whatever T the arena holds).
const arenaChunkSize = 256

// ArenaMark is a save-point returned by Arena.Mark and consumed by
// Arena.Reset, grounded on original_source/adt/utils/arena.h's
// ArenaStack {chunk, i}.
type ArenaMark struct {
	chunk int
	i     int
}

// Arena is a bump allocator over chunks of T, batch-freed together.
// Grounded on original_source/adt/utils/arena.h: a linked run of fixed
// chunks, bump-allocated, with push/pop save-points instead of
// per-object free. Used by the AST node layer (node.go) to allocate
// nodes in one shot per parse and discard them together.
type Arena[T any] struct {
	chunks   [][]T
	chunkCap int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{chunkCap: arenaChunkSize, chunks: [][]T{make([]T, 0, arenaChunkSize)}}
}

// Alloc returns a freshly bumped slice of n elements of T, zero-valued.
// A single allocation larger than one chunk is not supported — per
// spec.md §4.2.4, a future "one-shot chunk" variant is the noted open
// design point for that case.
func (a *Arena[T]) Alloc(n int) []T {
	if n > a.chunkCap {
		panic("arena: allocation exceeds one chunk; see spec.md §4.2.4 one-shot-chunk open design point")
	}
	last := a.chunks[len(a.chunks)-1]
	if len(last)+n > cap(last) {
		a.chunks = append(a.chunks, make([]T, 0, a.chunkCap))
		last = a.chunks[len(a.chunks)-1]
	}
	start := len(last)
	last = last[:start+n]
	a.chunks[len(a.chunks)-1] = last
	return last[start : start+n]
}

// Mark records the current bump position as a save-point.
func (a *Arena[T]) Mark() ArenaMark {
	last := len(a.chunks) - 1
	return ArenaMark{chunk: last, i: len(a.chunks[last])}
}

// Reset discards everything allocated since m was taken.
func (a *Arena[T]) Reset(m ArenaMark) {
	a.chunks = a.chunks[:m.chunk+1]
	a.chunks[m.chunk] = a.chunks[m.chunk][:m.i]
}

// Cleanup releases every chunk but the first, matching arena_cleanup's
// "do not free the last chunk since it is allocated together with the
// arena" comment.
func (a *Arena[T]) Cleanup() {
	first := a.chunks[0][:0]
	a.chunks = [][]T{first}
}
