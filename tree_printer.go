package sb

import (
	"fmt"
	"sort"
	"strings"
)

// PrintNodeTree renders an arena node tree as an indented outline,
// one node per line. Wrapper nodes print their value, token nodes
// their type and span, cons chains flatten into their elements.
func PrintNodeTree(arena *NodeArena, root NodeRef) string {
	var b strings.Builder
	printNode(arena, root, 0, &b)
	return b.String()
}

func printNode(arena *NodeArena, r NodeRef, depth int, b *strings.Builder) {
	indent := strings.Repeat("  ", depth)
	if arena.IsNil(r) {
		fmt.Fprintf(b, "%snil\n", indent)
		return
	}
	if arena.IsCons(r) {
		for _, item := range arena.ConsSlice(r) {
			printNode(arena, item, depth, b)
		}
		return
	}
	if class := arena.Class(r); class != nil {
		fmt.Fprintf(b, "%s%s.%s\n", indent, class.Context, class.Type)
		for _, attr := range arena.Attrs(r) {
			printNode(arena, attr, depth+1, b)
		}
		return
	}
	if tok := arena.Token(r); tok != nil {
		fmt.Fprintf(b, "%stoken %s %s\n", indent, tok.Type, tok.Span)
		return
	}
	fmt.Fprintf(b, "%s%s\n", indent, arena.WrapperValue(r).String())
}

// PegRuleGraphDOT renders the rule-call graph of a grammar's PEG
// section in Graphviz DOT form: one node per rule, one edge per
// reference, the start rule doubled.
func PegRuleGraphDOT(ast *GrammarAST) string {
	var b strings.Builder
	b.WriteString("digraph rules {\n")
	start := ast.StartRule()
	for _, r := range ast.AllPegRules() {
		if r.Name == start {
			fmt.Fprintf(&b, "  %q [peripheries=2];\n", r.Name)
		} else {
			fmt.Fprintf(&b, "  %q;\n", r.Name)
		}
		refs := map[string]bool{}
		collectRuleRefs(r.Body, refs)
		names := make([]string, 0, len(refs))
		for name := range refs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %q -> %q;\n", r.Name, name)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func collectRuleRefs(e PegExpr, out map[string]bool) {
	switch n := e.(type) {
	case *PegSeq:
		for _, t := range n.Terms {
			if t.RuleRef != "" {
				out[t.RuleRef] = true
			}
		}
	case PegChoice:
		for _, a := range n.Alts {
			collectRuleRefs(a, out)
		}
	case PegLeftJoin:
		collectRuleRefs(n.Left, out)
		collectRuleRefs(n.Right, out)
	}
}
