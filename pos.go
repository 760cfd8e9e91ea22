package sb

import (
	"fmt"
	"sort"
)

// Location is a single point within a source buffer: a 0-based byte
// offset plus the 1-based line/column it falls on.
type Location struct {
	Line   int
	Column int
	Byte   int
}

func NewLocation(line, column, byte int) Location {
	return Location{Line: line, Column: column, Byte: byte}
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Span is a half-open range [Start, End) within a source buffer.
type Span struct {
	Start Location
	End   Location
}

func NewSpan(start, end Location) Span {
	return Span{Start: start, End: end}
}

func (s Span) String() string {
	if s.Start.Line == s.End.Line && s.Start.Column == s.End.Column {
		return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
	}
	return fmt.Sprintf("%d:%d..%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// ByteLen returns the span's length in bytes.
func (s Span) ByteLen() int { return s.End.Byte - s.Start.Byte }

// LineIndex maps byte offsets to line/column pairs in O(log lines),
// after an O(n) pass over the input to record where each line starts.
type LineIndex struct {
	input      []byte
	lineStarts []int
}

func NewLineIndex(input []byte) *LineIndex {
	starts := []int{0}
	for i, c := range input {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{input: input, lineStarts: starts}
}

// LocationAt converts a byte offset into a Location. Columns count
// bytes, not runes, matching the teacher's own column bookkeeping in
// vm.go (updatePos increments per code point consumed, which this
// helper approximates for the common ASCII grammar-source case).
func (li *LineIndex) LocationAt(byteOffset int) Location {
	i := sort.Search(len(li.lineStarts), func(i int) bool {
		return li.lineStarts[i] > byteOffset
	})
	line := i // lineStarts[i-1] <= byteOffset < lineStarts[i]
	lineStart := li.lineStarts[line-1]
	return Location{Line: line, Column: byteOffset - lineStart + 1, Byte: byteOffset}
}
