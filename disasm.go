package sb

import (
	"fmt"
	"strings"

	"github.com/clarete/sb/ascii"
)

// Disassemblers for the four bytecode dialects, sharing one row format
// and the ascii theme's semantic colors. Plain output (theme == nil)
// is byte-identical minus the escape codes, so tests can assert on it.

var reOpNames = map[Op]string{
	ReOpMeta: "meta", ReOpChar: "char", ReOpSet: "set",
	ReOpJifRange: "jif_range", ReOpJmp: "jmp", ReOpFork: "fork",
	ReOpSave: "save", ReOpAtomic: "atomic", ReOpAhead: "ahead",
	ReOpNAhead: "n_ahead", ReOpAnchorBOL: "anchor_bol",
	ReOpAnchorEOL: "anchor_eol", ReOpAnchorWordB: "anchor_wordb",
	ReOpAnchorNotWordB: "anchor_not_wordb", ReOpCG: "cg",
	ReOpMatch: "match", ReOpDie: "die",
}

var cbOpNames = map[Op]string{
	CbOpMeta: "meta", CbOpLoad: "load", CbOpStore: "store",
	CbOpLoadGlob: "load_glob", CbOpStoreGlob: "store_glob",
	CbOpPush: "push", CbOpPop: "pop", CbOpNodeBeg: "node_beg",
	CbOpNodeSet: "node_set", CbOpNodeSetv: "node_setv",
	CbOpNodeEnd: "node_end", CbOpList: "list", CbOpListv: "listv",
	CbOpJif: "jif", CbOpJunless: "junless", CbOpJmp: "jmp",
	CbOpCall: "call", CbOpEnd: "end",
}

var lexOpNames = map[Op]string{
	LexOpMeta: "meta", LexOpMatchRe: "match_re",
	LexOpMatchStr: "match_str", LexOpMatchLitSet: "match_lit_set",
	LexOpCallback: "callback", LexOpCtxCall: "ctx_call",
	LexOpPop: "pop", LexOpCtxEnd: "ctx_end", LexOpJmp: "jmp",
}

var pegOpNames = map[Op]string{
	PegOpMeta: "meta", PegOpTerm: "term", PegOpRuleCall: "rule_call",
	PegOpRuleRet: "rule_ret", PegOpPushBr: "push_br",
	PegOpPopBr: "pop_br", PegOpUnparse: "unparse",
	PegOpLoopUpdate: "loop_update", PegOpListMaybe: "list_maybe",
	PegOpJmp: "jmp", PegOpCallback: "callback", PegOpMatch: "match",
	PegOpFail: "fail",
}

type disasm struct {
	names map[Op]string
	theme *ascii.Theme
	b     strings.Builder
}

func (d *disasm) color(c, format string, args ...any) string {
	if d.theme == nil {
		return fmt.Sprintf(format, args...)
	}
	return ascii.Color(c, format, args...)
}

func (d *disasm) row(pc int, ins Instr, operands string) {
	name := d.names[ins.Op]
	if name == "" {
		name = fmt.Sprintf("op%d", ins.Op)
	}
	var op, arg string
	if d.theme != nil {
		op = d.color(d.theme.Operator, "%-14s", name)
		arg = d.color(d.theme.Operand, "%s", operands)
	} else {
		op = fmt.Sprintf("%-14s", name)
		arg = operands
	}
	fmt.Fprintf(&d.b, "%04d  %s %s\n", pc, op, arg)
}

func (d *disasm) header(format string, args ...any) {
	if d.theme != nil {
		d.b.WriteString(d.color(d.theme.Comment, format, args...))
	} else {
		fmt.Fprintf(&d.b, format, args...)
	}
	d.b.WriteByte('\n')
}

// DisasmRegexp renders a regexp program; theme nil for plain output.
func DisasmRegexp(prog *ReProgram, theme *ascii.Theme) string {
	d := &disasm{names: reOpNames, theme: theme}
	for pc, ins := range prog.Prog {
		switch ins.Op {
		case ReOpChar:
			d.row(pc, ins, fmt.Sprintf("%q", rune(ins.A)))
		case ReOpSet:
			d.row(pc, ins, formatRanges(ins.Ranges))
		case ReOpJifRange:
			d.row(pc, ins, fmt.Sprintf("%q..%q -> %d", rune(ins.A), rune(ins.B), ins.C))
		case ReOpJmp, ReOpAtomic, ReOpAhead:
			d.row(pc, ins, fmt.Sprintf("-> %d", ins.A))
		case ReOpNAhead:
			d.row(pc, ins, fmt.Sprintf("die -> %d, ok -> %d", ins.A, ins.B))
		case ReOpFork:
			d.row(pc, ins, fmt.Sprintf("%d, %d", ins.A, ins.B))
		case ReOpSave:
			d.row(pc, ins, fmt.Sprintf("[%d]", ins.A))
		case ReOpCG:
			d.row(pc, ins, ins.Str)
		default:
			d.row(pc, ins, "")
		}
	}
	return d.b.String()
}

func formatRanges(ranges []CodePointRange) string {
	var parts []string
	for _, r := range ranges {
		if r.Lo == r.Hi {
			parts = append(parts, fmt.Sprintf("%q", r.Lo))
		} else {
			parts = append(parts, fmt.Sprintf("%q-%q", r.Lo, r.Hi))
		}
		if len(parts) == 8 {
			parts = append(parts, "...")
			break
		}
	}
	return strings.Join(parts, " ")
}

// DisasmCallback renders one callback program.
func DisasmCallback(prog []Instr, theme *ascii.Theme) string {
	d := &disasm{names: cbOpNames, theme: theme}
	for pc, ins := range prog {
		switch ins.Op {
		case CbOpLoad, CbOpStore, CbOpLoadGlob, CbOpStoreGlob:
			d.row(pc, ins, fmt.Sprintf("[%d]", ins.A))
		case CbOpPush:
			d.row(pc, ins, ins.Val.String())
		case CbOpNodeBeg:
			d.row(pc, ins, fmt.Sprintf("klass %d", ins.A))
		case CbOpJif, CbOpJunless, CbOpJmp:
			d.row(pc, ins, fmt.Sprintf("-> %d", ins.A))
		case CbOpCall:
			d.row(pc, ins, fmt.Sprintf("%s/%d", ins.Str, ins.A))
		default:
			d.row(pc, ins, "")
		}
	}
	return d.b.String()
}

// DisasmLex renders a lex program, context entries annotated, with
// each embedded regexp and callback program appended after the main
// stream.
func DisasmLex(prog *LexProgram, theme *ascii.Theme) string {
	d := &disasm{names: lexOpNames, theme: theme}
	entries := map[int32]string{}
	for name, off := range prog.Contexts {
		entries[off] = name
	}
	for pc, ins := range prog.Prog {
		if name, ok := entries[int32(pc)]; ok {
			d.header("; context %s", name)
		}
		switch ins.Op {
		case LexOpMatchRe:
			d.row(pc, ins, fmt.Sprintf("re#%d, ok -> %d, fail -> %d", ins.A, ins.B, ins.C))
		case LexOpMatchStr:
			d.row(pc, ins, fmt.Sprintf("%q, ok -> %d, fail -> %d", ins.Str, ins.A, ins.B))
		case LexOpMatchLitSet:
			d.row(pc, ins, fmt.Sprintf("set#%d, fail -> %d", ins.A, ins.B))
		case LexOpCallback:
			d.row(pc, ins, fmt.Sprintf("cb#%d, mask %#x", ins.B, uint16(ins.A)))
		case LexOpCtxCall:
			d.row(pc, ins, fmt.Sprintf("%s, resume -> %d", ins.Str, ins.A))
		case LexOpJmp:
			d.row(pc, ins, fmt.Sprintf("-> %d", ins.A))
		default:
			d.row(pc, ins, "")
		}
	}
	for i, re := range prog.Regexps {
		d.header("; regexp #%d", i)
		d.b.WriteString(DisasmRegexp(re, theme))
	}
	for i, cb := range prog.Callbacks {
		d.header("; callback #%d", i)
		d.b.WriteString(DisasmCallback(cb, theme))
	}
	return d.b.String()
}

// DisasmPeg renders a peg program, rule entries annotated, embedded
// callback programs appended.
func DisasmPeg(prog *PegProgram, theme *ascii.Theme) string {
	d := &disasm{names: pegOpNames, theme: theme}
	entries := map[int32]string{}
	for name, off := range prog.RuleEntry {
		entries[off] = name
	}
	for pc, ins := range prog.Prog {
		if name, ok := entries[int32(pc)]; ok {
			d.header("; rule %s", name)
		}
		switch ins.Op {
		case PegOpTerm:
			d.row(pc, ins, fmt.Sprintf("%q", ins.Str))
		case PegOpRuleCall:
			d.row(pc, ins, fmt.Sprintf("%s -> %d", ins.Str, ins.A))
		case PegOpPushBr, PegOpLoopUpdate, PegOpJmp:
			d.row(pc, ins, fmt.Sprintf("-> %d", ins.A))
		case PegOpCallback:
			d.row(pc, ins, fmt.Sprintf("cb#%d/%d", ins.A, ins.B))
		case PegOpFail:
			d.row(pc, ins, ins.Str)
		default:
			d.row(pc, ins, "")
		}
	}
	for i, cb := range prog.Callbacks {
		d.header("; callback #%d", i)
		d.b.WriteString(DisasmCallback(cb, theme))
	}
	return d.b.String()
}
