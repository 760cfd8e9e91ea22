package sb

import "unicode/utf8"

// regexp bytecode VM: a single nonrecursive backtracking thread over a
// byte-slice subject, grounded on the teacher's vm.go dispatch loop
// (goto-based code/fail labels, an explicit frame stack standing in
// for the call stack a recursive matcher would use) but generalized
// from langlang's single PEG opcode set to spec.md §4.3's regexp
// opcodes, including the possessive/lookaround "marks stack" spec.md
// §4.3 implies but doesn't lay out instruction-by-instruction.

// reBacktrackFrame is a saved alternative: resume at pc with cursor
// and captures rewound to what they were when the frame was pushed.
type reBacktrackFrame struct {
	pc     int32
	cursor int
	caps   []int32
}

type reMarkKind int

const (
	reMarkAtomic reMarkKind = iota
	reMarkAhead
	reMarkNAhead
)

// reMark backs ATOMIC/AHEAD/N_AHEAD. barrier is the backtrack-stack
// depth captured before any frame this construct itself pushes (only
// N_AHEAD pushes one); when the stack is later popped back down to
// barrier or below, the mark is stale and discarded. commitPC is the
// instruction reached exactly when the guarded sub-expression finishes
// successfully, at which point the construct "commits": alternatives
// pushed since barrier are discarded.
type reMark struct {
	kind      reMarkKind
	barrier   int
	commitPC  int32
	savedCursor int
}

// ReMatchResult is the outcome of running a compiled regexp program
// against a subject starting at a given byte offset.
type ReMatchResult struct {
	Matched  bool
	Start    int
	End      int
	Captures []int32 // flat [start0, end0, start1, end1, ...], -1 where unset
	FFP      int     // furthest cursor position reached before failure
}

type reVM struct {
	prog      []Instr
	input     []byte
	pc        int32
	cursor    int
	startPos  int
	caps      []int32
	backtrack []reBacktrackFrame
	marks     []reMark
	ffp       int
}

// RunRegexp executes prog against input starting at startPos, per
// spec.md §4.3's VM semantics.
func RunRegexp(prog *ReProgram, input []byte, startPos int) ReMatchResult {
	capSlots := 2 + 2*prog.CapCount
	vm := &reVM{
		prog:     prog.Prog,
		input:    input,
		cursor:   startPos,
		startPos: startPos,
		caps:     make([]int32, capSlots),
		ffp:      startPos,
	}
	for i := range vm.caps {
		vm.caps[i] = -1
	}
	return vm.run()
}

func (vm *reVM) cloneCaps() []int32 {
	c := make([]int32, len(vm.caps))
	copy(c, vm.caps)
	return c
}

func (vm *reVM) peekRune() (rune, int, bool) {
	if vm.cursor >= len(vm.input) {
		return 0, 0, false
	}
	r, size := utf8.DecodeRune(vm.input[vm.cursor:])
	return r, size, true
}

func (vm *reVM) updateFFP() {
	if vm.cursor > vm.ffp {
		vm.ffp = vm.cursor
	}
}

func (vm *reVM) run() ReMatchResult {
code:
	for {
		// Commit-on-reach: a construct whose guarded expression just
		// finished successfully (pc landed on the mark's commitPC)
		// collapses its alternatives before the next instruction runs.
		for len(vm.marks) > 0 && vm.marks[len(vm.marks)-1].commitPC == vm.pc {
			m := vm.marks[len(vm.marks)-1]
			vm.marks = vm.marks[:len(vm.marks)-1]
			if len(vm.backtrack) > m.barrier {
				vm.backtrack = vm.backtrack[:m.barrier]
			}
			if m.kind != reMarkAtomic {
				vm.cursor = m.savedCursor
			}
		}

		var ins Instr
		if int(vm.pc) >= len(vm.prog) {
			goto fail
		}
		ins = vm.prog[vm.pc]

		switch ins.Op {
		case ReOpMeta:
			vm.pc++

		case ReOpChar:
			r, size, ok := vm.peekRune()
			if !ok || r != rune(ins.A) {
				vm.updateFFP()
				goto fail
			}
			vm.cursor += size
			vm.pc++

		case ReOpSet:
			r, size, ok := vm.peekRune()
			if !ok {
				vm.updateFFP()
				goto fail
			}
			has := RangesHas(ins.Ranges, r)
			if ins.B == 1 {
				has = !has
			}
			if !has {
				vm.updateFFP()
				goto fail
			}
			vm.cursor += size
			vm.pc++

		case ReOpJifRange:
			r, size, ok := vm.peekRune()
			if ok && r >= rune(ins.A) && r <= rune(ins.B) {
				vm.cursor += size
				vm.pc = ins.C
			} else {
				vm.pc++
			}

		case ReOpJmp:
			vm.pc = ins.A

		case ReOpFork:
			vm.backtrack = append(vm.backtrack, reBacktrackFrame{
				pc: ins.B, cursor: vm.cursor, caps: vm.cloneCaps(),
			})
			vm.pc = ins.A

		case ReOpSave:
			if int(ins.A) < len(vm.caps) {
				vm.caps[ins.A] = int32(vm.cursor)
			}
			vm.pc++

		case ReOpAtomic:
			vm.marks = append(vm.marks, reMark{
				kind: reMarkAtomic, barrier: len(vm.backtrack), commitPC: ins.A,
			})
			vm.pc++

		case ReOpAhead:
			vm.marks = append(vm.marks, reMark{
				kind: reMarkAhead, barrier: len(vm.backtrack),
				commitPC: ins.A, savedCursor: vm.cursor,
			})
			vm.pc++

		case ReOpNAhead:
			barrier := len(vm.backtrack)
			vm.backtrack = append(vm.backtrack, reBacktrackFrame{
				pc: ins.B, cursor: vm.cursor, caps: vm.cloneCaps(),
			})
			vm.marks = append(vm.marks, reMark{
				kind: reMarkNAhead, barrier: barrier,
				commitPC: ins.A, savedCursor: vm.cursor,
			})
			vm.pc++

		case ReOpAnchorBOL:
			if !vm.atBOL() {
				vm.updateFFP()
				goto fail
			}
			vm.pc++

		case ReOpAnchorEOL:
			if !vm.atEOL() {
				vm.updateFFP()
				goto fail
			}
			vm.pc++

		case ReOpAnchorWordB:
			if !vm.atWordBoundary() {
				vm.updateFFP()
				goto fail
			}
			vm.pc++

		case ReOpAnchorNotWordB:
			if vm.atWordBoundary() {
				vm.updateFFP()
				goto fail
			}
			vm.pc++

		case ReOpCG:
			if !vm.matchCG(ins.Str) {
				vm.updateFFP()
				goto fail
			}
			vm.pc++

		case ReOpMatch:
			vm.caps[0] = int32(vm.startPos)
			vm.caps[1] = int32(vm.cursor)
			return ReMatchResult{
				Matched:  true,
				Start:    vm.startPos,
				End:      vm.cursor,
				Captures: vm.caps,
				FFP:      vm.ffp,
			}

		case ReOpDie:
			goto fail

		default:
			panic("sb: unknown regexp opcode")
		}
		continue

	fail:
		if len(vm.backtrack) == 0 {
			return ReMatchResult{Matched: false, FFP: vm.ffp, Captures: vm.caps}
		}
		f := vm.backtrack[len(vm.backtrack)-1]
		vm.backtrack = vm.backtrack[:len(vm.backtrack)-1]
		newLen := len(vm.backtrack)
		// A mark is stale once execution resumes at a frame pushed
		// before the mark's construct began (frame index < barrier).
		// N_AHEAD's own escape frame sits exactly at its barrier, and
		// resuming it IS the construct completing, so the comparison
		// is inclusive for that kind only.
		for len(vm.marks) > 0 {
			m := vm.marks[len(vm.marks)-1]
			stale := m.barrier > newLen
			if m.kind == reMarkNAhead {
				stale = m.barrier >= newLen
			}
			if !stale {
				break
			}
			vm.marks = vm.marks[:len(vm.marks)-1]
		}
		vm.pc = f.pc
		vm.cursor = f.cursor
		vm.caps = f.caps
		goto code
	}
}

func (vm *reVM) matchCG(name string) bool {
	if name == "any" {
		_, size, ok := vm.peekRune()
		if !ok {
			return false
		}
		vm.cursor += size
		return true
	}
	ranges := PredefinedClassRanges(name)
	r, size, ok := vm.peekRune()
	if !ok || !RangesHas(ranges, r) {
		return false
	}
	vm.cursor += size
	return true
}

func (vm *reVM) atBOL() bool {
	if vm.cursor == 0 {
		return true
	}
	return vm.input[vm.cursor-1] == '\n'
}

func (vm *reVM) atEOL() bool {
	if vm.cursor >= len(vm.input) {
		return true
	}
	return vm.input[vm.cursor] == '\n'
}

func (vm *reVM) atWordBoundary() bool {
	before := vm.cursor > 0 && IsASCIIWordByte(vm.input[vm.cursor-1])
	after := vm.cursor < len(vm.input) && IsASCIIWordByte(vm.input[vm.cursor])
	return before != after
}
