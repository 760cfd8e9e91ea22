package sb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.True(t, cfg.GetBool("peg.memoize"))
	assert.False(t, cfg.GetBool("regexp.case_fold"))
	assert.Equal(t, 4096, cfg.GetInt("lex.max_context_depth"))
}

func TestConfigTypeSafety(t *testing.T) {
	cfg := NewConfig()
	cfg.SetString("grammar.path", "/tmp/g.sb")
	assert.Equal(t, "/tmp/g.sb", cfg.GetString("grammar.path"))

	assert.Panics(t, func() { cfg.GetInt("grammar.path") })
	assert.Panics(t, func() { cfg.GetBool("no.such.key") })
}

func TestAsmLabelFixups(t *testing.T) {
	a := NewAsm()
	l := a.NewLabel()
	jmp := a.Emit(Instr{Op: CbOpJmp})
	a.PatchOperand(jmp, FieldA, l)
	a.Emit(Instr{Op: CbOpPop})
	a.Place(l)
	a.Emit(Instr{Op: CbOpEnd})

	prog := a.Link()
	assert.Equal(t, int32(2), prog[0].A, "forward reference resolves to the placed offset")
}

func TestAsmUnplacedLabelPanics(t *testing.T) {
	a := NewAsm()
	l := a.NewLabel()
	idx := a.Emit(Instr{Op: CbOpJmp})
	a.PatchOperand(idx, FieldA, l)
	assert.Panics(t, func() { a.Link() })
}
