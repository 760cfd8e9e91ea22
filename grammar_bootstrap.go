package sb

// The grammar-spec's own AST node classes, the fixed (context, type)
// vocabulary every grammar-spec file is described in. The bootstrap
// compiler seeds these once per runtime; a grammar's node tree (built
// by BuildGrammarNodeTree below) is expressed entirely in them.
var bootstrapClassDefs = []NodeClass{
	{Context: "Main", Type: "Main", AttrCount: 1},
	{Context: "Main", Type: "PatternIns", AttrCount: 2},
	{Context: "Main", Type: "Lex", AttrCount: 2},
	{Context: "Main", Type: "Peg", AttrCount: 2},
	{Context: "Main", Type: "VarDecl", AttrCount: 1},
	{Context: "Main", Type: "StructIns", AttrCount: 2},
	{Context: "Peg", Type: "PegRule", AttrCount: 2},
	{Context: "Peg", Type: "SeqRule", AttrCount: 2},
	{Context: "Peg", Type: "Branch", AttrCount: 3},
	{Context: "Peg", Type: "Term", AttrCount: 1},
	{Context: "Peg", Type: "TermStar", AttrCount: 1},
	{Context: "Peg", Type: "TermPlus", AttrCount: 1},
	{Context: "Peg", Type: "TermMaybe", AttrCount: 1},
	{Context: "Peg", Type: "Lookahead", AttrCount: 1},
	{Context: "Peg", Type: "NegLookahead", AttrCount: 1},
	{Context: "Peg", Type: "RefRule", AttrCount: 1},
	{Context: "Lex", Type: "RefPartialContext", AttrCount: 1},
	{Context: "Lex", Type: "SeqLexRules", AttrCount: 1},
	{Context: "Lex", Type: "LexRule", AttrCount: 2},
	{Context: "Lex", Type: "BeginCallback", AttrCount: 1},
	{Context: "Lex", Type: "EndCallback", AttrCount: 1},
	{Context: "Callback", Type: "Callback", AttrCount: 1},
	{Context: "Callback", Type: "InfixLogic", AttrCount: 3},
	{Context: "Callback", Type: "Call", AttrCount: 2},
	{Context: "Callback", Type: "Capture", AttrCount: 1},
	{Context: "Callback", Type: "CreateNode", AttrCount: 2},
	{Context: "Callback", Type: "CreateList", AttrCount: 1},
	{Context: "Callback", Type: "SplatEntry", AttrCount: 1},
	{Context: "Callback", Type: "If", AttrCount: 3},
	{Context: "Callback", Type: "Assign", AttrCount: 2},
	{Context: "Callback", Type: "GlobalAssign", AttrCount: 2},
	{Context: "Callback", Type: "VarRef", AttrCount: 1},
	{Context: "Callback", Type: "GlobalVarRef", AttrCount: 1},
	{Context: "Regexp", Type: "Seq", AttrCount: 1},
	{Context: "Regexp", Type: "PredefAnchor", AttrCount: 1},
	{Context: "Regexp", Type: "Flag", AttrCount: 1},
	{Context: "Regexp", Type: "Quantified", AttrCount: 2},
	{Context: "Regexp", Type: "QuantifiedRange", AttrCount: 3},
	{Context: "Regexp", Type: "Group", AttrCount: 1},
	{Context: "Regexp", Type: "CharGroupPredef", AttrCount: 1},
	{Context: "Regexp", Type: "UnicodeCharClass", AttrCount: 1},
	{Context: "Regexp", Type: "PredefInterpolate", AttrCount: 1},
	{Context: "Regexp", Type: "BracketCharGroup", AttrCount: 2},
	{Context: "Regexp", Type: "CharRange", AttrCount: 2},
}

// bootstrapClasses indexes the class defs by type name; type names are
// unique across contexts in the bootstrap vocabulary.
var bootstrapClasses = func() map[string]*NodeClass {
	m := make(map[string]*NodeClass, len(bootstrapClassDefs))
	for i := range bootstrapClassDefs {
		m[bootstrapClassDefs[i].Type] = &bootstrapClassDefs[i]
	}
	return m
}()

// BootstrapClass resolves one of the fixed grammar-spec node classes
// by type name.
func BootstrapClass(typeName string) (*NodeClass, bool) {
	c, ok := bootstrapClasses[typeName]
	return c, ok
}

// BuildGrammarNodeTree lowers a parsed GrammarAST into the node-arena
// representation the bootstrap vocabulary describes: a Main node whose
// single attr is the cons-list of declaration nodes. Leaf payloads
// (names, pattern sources, matcher and callback values) ride in
// wrapper nodes, so the arena tree stays uniform while the typed
// Go-side ASTs remain the compile pipeline's working form.
func BuildGrammarNodeTree(arena *NodeArena, ast *GrammarAST) NodeRef {
	var decls []NodeRef

	for _, p := range ast.Patterns {
		n := arena.NewSyntaxNode(bootstrapClasses["PatternIns"])
		arena.SetAttr(n, 0, arena.NewWrapperNode(NewDynString(p.Name)))
		arena.SetAttr(n, 1, arena.NewWrapperNode(NewBox(p)))
		decls = append(decls, n)
	}
	for _, g := range ast.Globals {
		n := arena.NewSyntaxNode(bootstrapClasses["VarDecl"])
		arena.SetAttr(n, 0, arena.NewWrapperNode(NewDynString(g)))
		decls = append(decls, n)
	}
	for _, s := range ast.Structs {
		n := arena.NewSyntaxNode(bootstrapClasses["StructIns"])
		arena.SetAttr(n, 0, arena.NewWrapperNode(NewDynString(s.Name)))
		var fields NodeRef = NilNodeRef
		for i := len(s.Fields) - 1; i >= 0; i-- {
			f := arena.NewWrapperNode(NewDynString(s.Fields[i]))
			fields = arena.NewConsNode(f, fields)
		}
		arena.SetAttr(n, 1, fields)
		decls = append(decls, n)
	}
	for _, c := range ast.LexContexts {
		n := arena.NewSyntaxNode(bootstrapClasses["Lex"])
		arena.SetAttr(n, 0, arena.NewWrapperNode(NewDynString(c.Name)))
		var rules NodeRef = NilNodeRef
		if c.End != nil {
			e := arena.NewSyntaxNode(bootstrapClasses["EndCallback"])
			arena.SetAttr(e, 0, arena.NewWrapperNode(NewBox(*c.End)))
			rules = arena.NewConsNode(e, rules)
		}
		for i := len(c.Rules) - 1; i >= 0; i-- {
			rules = arena.NewConsNode(lowerLexRule(arena, c.Rules[i]), rules)
		}
		if c.Begin != nil {
			b := arena.NewSyntaxNode(bootstrapClasses["BeginCallback"])
			arena.SetAttr(b, 0, arena.NewWrapperNode(NewBox(*c.Begin)))
			rules = arena.NewConsNode(b, rules)
		}
		seq := arena.NewSyntaxNode(bootstrapClasses["SeqLexRules"])
		arena.SetAttr(seq, 0, rules)
		arena.SetAttr(n, 1, seq)
		decls = append(decls, n)
	}
	for _, sec := range ast.PegSections {
		n := arena.NewSyntaxNode(bootstrapClasses["Peg"])
		arena.SetAttr(n, 0, arena.NewWrapperNode(NewDynString(sec.Name)))
		var rules NodeRef = NilNodeRef
		for i := len(sec.Rules) - 1; i >= 0; i-- {
			r := sec.Rules[i]
			rn := arena.NewSyntaxNode(bootstrapClasses["PegRule"])
			arena.SetAttr(rn, 0, arena.NewWrapperNode(NewDynString(r.Name)))
			arena.SetAttr(rn, 1, arena.NewWrapperNode(NewBox(r.Body)))
			rules = arena.NewConsNode(rn, rules)
		}
		arena.SetAttr(n, 1, rules)
		decls = append(decls, n)
	}

	var declList NodeRef = NilNodeRef
	for i := len(decls) - 1; i >= 0; i-- {
		declList = arena.NewConsNode(decls[i], declList)
	}
	main := arena.NewSyntaxNode(bootstrapClasses["Main"])
	arena.SetAttr(main, 0, declList)
	return main
}

func lowerLexRule(arena *NodeArena, r LexRule) NodeRef {
	n := arena.NewSyntaxNode(bootstrapClasses["LexRule"])
	var matcher NodeRef
	switch m := r.Matcher.(type) {
	case LexMatchContext:
		ref := arena.NewSyntaxNode(bootstrapClasses["RefPartialContext"])
		arena.SetAttr(ref, 0, arena.NewWrapperNode(NewDynString(m.Context)))
		matcher = ref
	default:
		matcher = arena.NewWrapperNode(NewBox(r.Matcher))
	}
	arena.SetAttr(n, 0, matcher)
	if r.Callback != nil {
		cb := arena.NewSyntaxNode(bootstrapClasses["Callback"])
		arena.SetAttr(cb, 0, arena.NewWrapperNode(NewBox(*r.Callback)))
		arena.SetAttr(n, 1, cb)
	}
	return n
}
