package sb

// GrammarAST is the parsed form of one grammar-spec source file: one
// typed Go struct per declaration kind, the compile pipeline's working
// form. The generic node-class vocabulary (Main, PatternIns, Lex, Peg,
// VarDecl, StructIns, ...) lives in grammar_bootstrap.go, which lowers
// a GrammarAST into the node arena for tooling that wants the uniform
// tree; the compilers themselves work off the typed structs here and
// the domain ASTs (ReNode/LexContext/PegRule/CbExpr) they reference.
type GrammarAST struct {
	Patterns []*PatternDef
	Globals  []string
	Structs  []StructDecl

	// LexContexts holds every `lex Name { ... }` block in declaration
	// order; the first non-partial one is the root context spec.md
	// §4.5 starts execution in.
	LexContexts []*LexContext

	// PegSections holds every `peg Name { rule = ... }` block; rules
	// across all sections share one namespace (spec.md doesn't scope
	// PEG rules per section, only per grammar).
	PegSections []PegSection
}

// StructDecl is a `struct Name(field1, field2, ...)` declaration.
type StructDecl struct {
	Name   string
	Fields []string
}

// PegSection is one `peg Name { ... }` block. Name is carried for
// diagnostics and `-dot` rule-graph labeling; the grammar's single
// start rule is the first rule of the first section (spec.md's
// example has exactly one `peg Program { ... }` block per grammar).
type PegSection struct {
	Name  string
	Rules []PegRule
}

// StartRule returns the entry PEG rule name: the first rule declared
// in the first peg section, or "" if the grammar has no PEG section.
func (g *GrammarAST) StartRule() string {
	for _, sec := range g.PegSections {
		if len(sec.Rules) > 0 {
			return sec.Rules[0].Name
		}
	}
	return ""
}

// AllPegRules flattens every peg section's rules into one slice, the
// shape CompilePeg expects.
func (g *GrammarAST) AllPegRules() []PegRule {
	var out []PegRule
	for _, sec := range g.PegSections {
		out = append(out, sec.Rules...)
	}
	return out
}

// RootLexContext returns the first non-partial lex context's name, the
// entry point CompileLex's first-context convention relies on.
func (g *GrammarAST) RootLexContext() string {
	for _, c := range g.LexContexts {
		if !c.Partial {
			return c.Name
		}
	}
	return ""
}
