package sb

import "fmt"

// CompileGrammar runs the grammar-spec compile pipeline over a parsed
// GrammarAST: name-conflict check, symbol & struct table construction,
// partial-context inlining, then bytecode emission for the lex and
// peg sections (regexp and callback programs are emitted inline at
// their use sites by the lex/peg compilers), bundled into one
// KlassData record.
func CompileGrammar(rt *Runtime, name string, ast *GrammarAST, cfg *Config) (*KlassData, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := checkNameConflicts(ast); err != nil {
		return nil, err
	}

	syms := NewSymbolTable(rt)
	for _, g := range ast.Globals {
		if err := syms.DeclareGlobal(g); err != nil {
			return nil, err
		}
	}
	for _, s := range ast.Structs {
		if _, err := syms.DeclareStruct(s.Name, s.Fields); err != nil {
			return nil, err
		}
	}
	for _, p := range ast.Patterns {
		if err := syms.DeclarePattern(p); err != nil {
			return nil, err
		}
	}

	kd := &KlassData{
		Name:    name,
		Runtime: rt,
		Config:  cfg,
		Symbols: syms,
	}
	rt.Intern(name)

	if len(ast.LexContexts) > 0 {
		inlined, err := InlinePartials(ast.LexContexts)
		if err != nil {
			return nil, err
		}
		kd.Lex, err = CompileLex(inlined, syms)
		if err != nil {
			return nil, err
		}
	}

	if rules := ast.AllPegRules(); len(rules) > 0 {
		var err error
		kd.Peg, err = CompilePeg(rules, syms)
		if err != nil {
			return nil, err
		}
		kd.StartRule = ast.StartRule()
	}

	kd.Warnings = syms.Warnings
	return kd, nil
}

// checkNameConflicts raises spec.md §7's *duplicate name* for every
// name declared twice within its own scope: patterns, globals,
// structs, lex contexts, and peg rules each form one namespace.
func checkNameConflicts(ast *GrammarAST) error {
	dup := func(kind, name string) error {
		return NewCompileError(ErrKindDuplicateName, Span{}, "duplicate %s %q", kind, name)
	}
	seen := map[string]bool{}
	for _, p := range ast.Patterns {
		if seen[p.Name] {
			return dup("pattern", p.Name)
		}
		seen[p.Name] = true
	}
	seen = map[string]bool{}
	for _, g := range ast.Globals {
		if seen[g] {
			return dup("variable", g)
		}
		seen[g] = true
	}
	seen = map[string]bool{}
	for _, s := range ast.Structs {
		if seen[s.Name] {
			return dup("struct", s.Name)
		}
		seen[s.Name] = true
	}
	seen = map[string]bool{}
	for _, c := range ast.LexContexts {
		if seen[c.Name] {
			return dup("lex context", c.Name)
		}
		seen[c.Name] = true
	}
	seen = map[string]bool{}
	for _, sec := range ast.PegSections {
		for _, r := range sec.Rules {
			if seen[r.Name] {
				return dup("peg rule", r.Name)
			}
			seen[r.Name] = true
		}
	}
	return nil
}

// GrammarFromBytes parses and compiles one grammar-spec source buffer
// into a KlassData, ready for NewParserInstance.
func GrammarFromBytes(rt *Runtime, name string, grammar []byte, cfg *Config) (*KlassData, error) {
	ast, err := NewGrammarParser(grammar).Parse()
	if err != nil {
		return nil, err
	}
	return CompileGrammar(rt, name, ast, cfg)
}

// GrammarFromString is GrammarFromBytes over a string source.
func GrammarFromString(rt *Runtime, name, grammar string, cfg *Config) (*KlassData, error) {
	return GrammarFromBytes(rt, name, []byte(grammar), cfg)
}

// MustGrammar is GrammarFromString for fixed, known-good grammars
// (the bootstrap grammar, test fixtures); it panics on any error.
func MustGrammar(rt *Runtime, name, grammar string) *KlassData {
	kd, err := GrammarFromString(rt, name, grammar, nil)
	if err != nil {
		panic(fmt.Sprintf("sb: grammar %q failed to compile: %v", name, err))
	}
	return kd
}
