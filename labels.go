package sb

// Op identifies an instruction across all four bytecode programs
// (regexp, callback, lex, peg). The programs don't share an opcode
// numbering space at runtime — each VM only interprets the subset
// spec.md assigns it — but they share one assembler discipline, so one
// Op type and one Instr shape serve all of them (DESIGN NOTES' "keep
// HOW, replace WHAT": the teacher's single Instruction-then-assemble
// pipeline, generalized to four bytecode dialects instead of one).
type Op uint16

// Instr is one bytecode instruction. Which of A, B, C, Str, Val, and
// Ranges are meaningful depends on Op; see each VM's doc comment for
// its operand conventions.
type Instr struct {
	Op     Op
	A, B, C int32
	Str    string
	Val    Value
	Ranges []CodePointRange
}

// Label is an opaque fixup target allocated by Asm.NewLabel and bound
// to a concrete instruction index by Asm.Place.
type Label int32

type operandField int

const (
	FieldA operandField = iota
	FieldB
	FieldC
)

type fixup struct {
	instr int
	field operandField
	label Label
}

// Asm is the shared label/fixup discipline spec.md §4.3's compilation
// section describes: "Labels are allocated as numeric tokens and
// emitted as placeholder operand values; a final pass walks the ref
// stack and patches each placeholder." One Asm instance compiles one
// bytecode program (regexp, callback, lex, or peg).
type Asm struct {
	Prog      []Instr
	nextLabel Label
	positions map[Label]int32
	fixups    []fixup
}

func NewAsm() *Asm {
	return &Asm{positions: map[Label]int32{}}
}

// NewLabel allocates a fresh, as-yet-unplaced label.
func (a *Asm) NewLabel() Label {
	a.nextLabel++
	return a.nextLabel
}

// Place binds l to the next instruction that will be emitted.
func (a *Asm) Place(l Label) {
	a.positions[l] = int32(len(a.Prog))
}

// Emit appends an instruction and returns its index.
func (a *Asm) Emit(i Instr) int32 {
	a.Prog = append(a.Prog, i)
	return int32(len(a.Prog) - 1)
}

// EmitAt appends an instruction whose operand `field` targets `l`,
// resolved at Link time.
func (a *Asm) EmitAt(i Instr, field operandField, l Label) int32 {
	idx := a.Emit(i)
	a.fixups = append(a.fixups, fixup{instr: int(idx), field: field, label: l})
	return idx
}

// PatchOperand records that instr's `field` operand should resolve to
// l's position, for instructions built incrementally (e.g. a FORK
// whose second arm isn't known until later).
func (a *Asm) PatchOperand(instr int32, field operandField, l Label) {
	a.fixups = append(a.fixups, fixup{instr: int(instr), field: field, label: l})
}

// Link resolves every fixup against its label's placed position and
// returns the final program. Panics if a label was referenced but
// never placed — a compiler bug, not a user-facing error.
func (a *Asm) Link() []Instr {
	for _, fx := range a.fixups {
		pos, ok := a.positions[fx.label]
		if !ok {
			panic("sb: label referenced but never placed")
		}
		switch fx.field {
		case FieldA:
			a.Prog[fx.instr].A = pos
		case FieldB:
			a.Prog[fx.instr].B = pos
		case FieldC:
			a.Prog[fx.instr].C = pos
		}
	}
	return a.Prog
}
