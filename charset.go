package sb

import (
	"sort"
	"unicode"

	"golang.org/x/text/unicode/rangetable"
)

// CodePointRange is one inclusive [Lo, Hi] run of code points, the
// representation spec.md §4.3's bracket-group compilation calls for:
// "recursively flatten into a list of inclusive code-point ranges,
// sort by lower bound, merge overlaps".
type CodePointRange struct {
	Lo, Hi rune
}

// maxCodePoint bounds negation, per spec.md §4.3: "for a negative
// group, invert against [0, 0x7FFFFFFF]".
const maxCodePoint = 0x7FFFFFFF

// SortMergeRanges sorts by lower bound and merges overlapping or
// adjacent runs.
func SortMergeRanges(ranges []CodePointRange) []CodePointRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]CodePointRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })
	out := []CodePointRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// NegateRanges inverts a sorted, merged range list against
// [0, maxCodePoint].
func NegateRanges(ranges []CodePointRange) []CodePointRange {
	var out []CodePointRange
	cur := rune(0)
	for _, r := range ranges {
		if r.Lo > cur {
			out = append(out, CodePointRange{Lo: cur, Hi: r.Lo - 1})
		}
		if r.Hi+1 > cur {
			cur = r.Hi + 1
		}
	}
	if cur <= maxCodePoint {
		out = append(out, CodePointRange{Lo: cur, Hi: maxCodePoint})
	}
	return out
}

// RangesHas tests membership via binary search; ranges must already
// be sorted and merged.
func RangesHas(ranges []CodePointRange, r rune) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Hi >= r })
	return i < len(ranges) && ranges[i].Lo <= r
}

// predefined classes (CG_* opcodes): d/D w/W h/H s/S, ASCII-only per
// spec.md §4.3's VM note ("word boundary treats ASCII alnum/underscore
// as a word char; language-dependent Unicode class is future work").
var (
	rangesDigit = []CodePointRange{{'0', '9'}}
	rangesWord  = SortMergeRanges([]CodePointRange{
		{'0', '9'}, {'a', 'z'}, {'A', 'Z'}, {'_', '_'},
	})
	rangesSpace = SortMergeRanges([]CodePointRange{
		{' ', ' '}, {'\t', '\t'}, {'\n', '\n'}, {'\r', '\r'}, {'\f', '\f'}, {'\v', '\v'},
	})
	rangesHoriz = []CodePointRange{{' ', ' '}, {'\t', '\t'}}
)

// PredefinedClassRanges resolves one of the CG_* predefined classes
// (d, D, w, W, h, H, s, S) to its inclusive range list.
func PredefinedClassRanges(name string) []CodePointRange {
	switch name {
	case "d":
		return rangesDigit
	case "D":
		return NegateRanges(rangesDigit)
	case "w":
		return rangesWord
	case "W":
		return NegateRanges(rangesWord)
	case "s":
		return rangesSpace
	case "S":
		return NegateRanges(rangesSpace)
	case "h":
		return rangesHoriz
	case "H":
		return NegateRanges(rangesHoriz)
	}
	return nil
}

func IsASCIIWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// unicodeClassTables maps `\p{...}` names onto golang.org/x/text's
// rangetable-backed Unicode category tables, resolving the Open
// Question spec.md §9 leaves for `\p{...}` support.
var unicodeClassTables = map[string]*unicode.RangeTable{
	"L":  unicode.L,
	"Lu": unicode.Lu,
	"Ll": unicode.Ll,
	"N":  unicode.N,
	"Nd": unicode.Nd,
	"P":  unicode.P,
	"S":  unicode.S,
	"Z":  unicode.Z,
	"C":  unicode.C,
}

// UnicodeClassRanges flattens a `\p{name}` class into the same
// inclusive-range-list shape bracket groups produce. `golang.org/x/
// text/unicode/rangetable` folds the table through rangetable.Merge
// (a no-op for one table, but the natural hook for future classes
// defined as a union of several) before the R16/R32 runs are read off
// directly — cheaper than rangetable.Visit's per-rune callback for
// tables with hundreds of thousands of code points.
func UnicodeClassRanges(name string) ([]CodePointRange, bool) {
	rt, ok := unicodeClassTables[name]
	if !ok {
		return nil, false
	}
	merged := rangetable.Merge(rt)
	var out []CodePointRange
	appendStrided := func(lo, hi, stride rune) {
		if stride <= 1 {
			out = append(out, CodePointRange{Lo: lo, Hi: hi})
			return
		}
		for r := lo; r <= hi; r += stride {
			out = append(out, CodePointRange{Lo: r, Hi: r})
		}
	}
	for _, r16 := range merged.R16 {
		appendStrided(rune(r16.Lo), rune(r16.Hi), rune(r16.Stride))
	}
	for _, r32 := range merged.R32 {
		appendStrided(rune(r32.Lo), rune(r32.Hi), rune(r32.Stride))
	}
	return SortMergeRanges(out), true
}
