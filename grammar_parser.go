package sb

import (
	"strconv"
	"strings"
)

// GrammarParser is a hand-written recursive-descent parser over the
// grammar-spec surface syntax from spec.md §6, grounded on the
// teacher's own grammar_parser.go (a hand-rolled recursive-descent
// parser, not a self-hosted one, for the exact same "parse the DSL
// that describes parsers" job) and regexp_parser.go's char-at-a-time
// scanning idiom within this module.
type GrammarParser struct {
	src []byte
	pos int
}

func NewGrammarParser(src []byte) *GrammarParser {
	return &GrammarParser{src: src}
}

// Parse reads the whole grammar-spec source into a GrammarAST:
// pattern definitions, variable declarations, struct definitions,
// lex contexts, and peg rule sections, in any order and interleaving,
// matching spec.md §6's example (patterns and var/struct decls appear
// before the lex/peg blocks that use them, but nothing requires it).
func (p *GrammarParser) Parse() (*GrammarAST, error) {
	ast := &GrammarAST{}
	for {
		p.skipWS()
		if p.eof() {
			break
		}
		switch {
		case p.consumeKeyword("var"):
			if err := p.parseVarDecl(ast); err != nil {
				return nil, err
			}
		case p.consumeKeyword("struct"):
			if err := p.parseStructDecl(ast); err != nil {
				return nil, err
			}
		case p.consumeKeyword("lex"):
			ctx, err := p.parseLexContext()
			if err != nil {
				return nil, err
			}
			ast.LexContexts = append(ast.LexContexts, ctx)
		case p.consumeKeyword("peg"):
			sec, err := p.parsePegSection()
			if err != nil {
				return nil, err
			}
			ast.PegSections = append(ast.PegSections, sec)
		default:
			pat, err := p.parsePatternDef()
			if err != nil {
				return nil, err
			}
			ast.Patterns = append(ast.Patterns, pat)
		}
	}
	return ast, nil
}

func (p *GrammarParser) errf(format string, args ...any) error {
	return NewCompileError(ErrKindRegexpShape, p.spanHere(), format, args...)
}

func (p *GrammarParser) spanHere() Span {
	li := NewLineIndex(p.src)
	loc := li.LocationAt(p.pos)
	return NewSpan(loc, loc)
}

// --- low-level scanning ---

func (p *GrammarParser) eof() bool { return p.pos >= len(p.src) }

func (p *GrammarParser) cur() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *GrammarParser) at(off int) byte {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

// skipWS skips whitespace and `#`-to-end-of-line comments, matching
// spec.md §6's example comment style.
func (p *GrammarParser) skipWS() {
	for !p.eof() {
		c := p.cur()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.pos++
		case c == '#':
			for !p.eof() && p.cur() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// consumeKeyword consumes `kw` only if it appears at the current
// position as a whole identifier (not a prefix of a longer name).
func (p *GrammarParser) consumeKeyword(kw string) bool {
	save := p.pos
	p.skipWS()
	if !strings.HasPrefix(string(p.src[p.pos:]), kw) {
		p.pos = save
		return false
	}
	after := p.pos + len(kw)
	if after < len(p.src) && isIdentCont(p.src[after]) {
		p.pos = save
		return false
	}
	p.pos = after
	return true
}

// peekKeyword reports whether kw is next, without consuming.
func (p *GrammarParser) peekKeyword(kw string) bool {
	save := p.pos
	ok := p.consumeKeyword(kw)
	p.pos = save
	return ok
}

func (p *GrammarParser) consumeByte(c byte) bool {
	p.skipWS()
	if p.cur() == c {
		p.pos++
		return true
	}
	return false
}

func (p *GrammarParser) expectByte(c byte) error {
	if !p.consumeByte(c) {
		return p.errf("expected %q, found %q", c, p.cur())
	}
	return nil
}

func (p *GrammarParser) consumeStr(s string) bool {
	p.skipWS()
	if strings.HasPrefix(string(p.src[p.pos:]), s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *GrammarParser) parseIdent() (string, error) {
	p.skipWS()
	start := p.pos
	if !isIdentStart(p.cur()) {
		return "", p.errf("expected identifier, found %q", p.cur())
	}
	p.pos++
	for isIdentCont(p.cur()) {
		p.pos++
	}
	return string(p.src[start:p.pos]), nil
}

// parseQuoted reads a quote-delimited string, honoring the same
// backslash escapes the lex literal/regex sublanguages use.
func (p *GrammarParser) parseQuoted(quote byte) (string, error) {
	if !p.consumeByte(quote) {
		return "", p.errf("expected %q", quote)
	}
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errf("unterminated string literal")
		}
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			return b.String(), nil
		}
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos++
			esc := p.src[p.pos]
			if r, ok := charEscapeSpMap[esc]; ok {
				b.WriteByte(r)
			} else {
				b.WriteByte(esc)
			}
			p.pos++
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
}

// parseSlashLiteral reads a `/.../ ` delimited regexp source, honoring
// `\/` as an escaped slash, returning the raw (still-escaped) source
// text between the delimiters for the regexp parser to re-lex.
func (p *GrammarParser) parseSlashLiteral() (string, error) {
	if !p.consumeByte('/') {
		return "", p.errf("expected '/'")
	}
	start := p.pos
	for {
		if p.eof() {
			return "", p.errf("unterminated regexp literal")
		}
		if p.src[p.pos] == '\\' && p.pos+1 < len(p.src) {
			p.pos += 2
			continue
		}
		if p.src[p.pos] == '/' {
			text := string(p.src[start:p.pos])
			p.pos++
			return text, nil
		}
		p.pos++
	}
}

var bareIdentOnly = func(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentCont(s[i]) {
			return false
		}
	}
	return true
}

// --- top-level declarations ---

// parsePatternDef parses `Name = /regexp/` or `Name = "literal"`.
func (p *GrammarParser) parsePatternDef() (*PatternDef, error) {
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectByte('='); err != nil {
		return nil, err
	}
	p.skipWS()
	if p.cur() == '"' {
		lit, err := p.parseQuoted('"')
		if err != nil {
			return nil, err
		}
		return &PatternDef{Name: name, Literal: lit}, nil
	}
	src, err := p.parseSlashLiteral()
	if err != nil {
		return nil, err
	}
	node, capCount, err := NewReParser(src).Parse()
	if err != nil {
		return nil, err
	}
	return &PatternDef{Name: name, Node: node, CapCount: capCount}, nil
}

// parseVarDecl parses `var a, b, c;`.
func (p *GrammarParser) parseVarDecl(ast *GrammarAST) error {
	for {
		name, err := p.parseIdent()
		if err != nil {
			return err
		}
		ast.Globals = append(ast.Globals, name)
		if p.consumeByte(',') {
			continue
		}
		break
	}
	p.consumeByte(';')
	return nil
}

// parseStructDecl parses `struct Name(field1, field2)`.
func (p *GrammarParser) parseStructDecl(ast *GrammarAST) error {
	name, err := p.parseIdent()
	if err != nil {
		return err
	}
	if err := p.expectByte('('); err != nil {
		return err
	}
	var fields []string
	for {
		p.skipWS()
		if p.cur() == ')' {
			break
		}
		f, err := p.parseIdent()
		if err != nil {
			return err
		}
		fields = append(fields, f)
		if p.consumeByte(',') {
			continue
		}
		break
	}
	if err := p.expectByte(')'); err != nil {
		return err
	}
	ast.Structs = append(ast.Structs, StructDecl{Name: name, Fields: fields})
	return nil
}

// --- lex contexts ---

func (p *GrammarParser) parseLexContext() (*LexContext, error) {
	p.skipWS()
	partial := p.consumeByte('*')
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if partial {
		name = "*" + name
	}
	ctx := &LexContext{Name: name, Partial: partial}
	if err := p.expectByte('{'); err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		if p.consumeByte('}') {
			break
		}
		if p.consumeKeyword("begin") {
			cb, err := p.parseCallbackBlock()
			if err != nil {
				return nil, err
			}
			ctx.Begin = cb
			continue
		}
		if p.consumeKeyword("end") {
			cb, err := p.parseCallbackBlock()
			if err != nil {
				return nil, err
			}
			ctx.End = cb
			continue
		}
		rule, err := p.parseLexRule()
		if err != nil {
			return nil, err
		}
		ctx.Rules = append(ctx.Rules, rule)
	}
	return ctx, nil
}

func (p *GrammarParser) parseLexRule() (LexRule, error) {
	p.skipWS()
	var matcher LexMatcher
	switch {
	case p.cur() == '"':
		lit, err := p.parseQuoted('"')
		if err != nil {
			return LexRule{}, err
		}
		matcher = LexMatchLiteral{Text: lit}
	case p.cur() == '/':
		src, err := p.parseSlashLiteral()
		if err != nil {
			return LexRule{}, err
		}
		if bareIdentOnly(src) {
			matcher = LexMatchVarRef{Name: src}
		} else {
			node, capCount, err := NewReParser(src).Parse()
			if err != nil {
				return LexRule{}, err
			}
			matcher = LexMatchRegexp{Node: node, CapCount: capCount}
		}
	case p.cur() == '*':
		p.pos++
		name, err := p.parseIdent()
		if err != nil {
			return LexRule{}, err
		}
		matcher = LexMatchContext{Context: "*" + name}
	case p.cur() == '@':
		p.pos++
		name, err := p.parseIdent()
		if err != nil {
			return LexRule{}, err
		}
		matcher = LexMatchVarRef{Name: name, Global: true}
	default:
		return LexRule{}, p.errf("expected a lex rule matcher, found %q", p.cur())
	}
	rule := LexRule{Matcher: matcher}
	p.skipWS()
	if p.cur() == '{' {
		cb, push, pop, err := p.parseLexCallbackBlock()
		if err != nil {
			return LexRule{}, err
		}
		rule.Callback = cb
		rule.PushContext = push
		rule.Pop = pop
	}
	return rule, nil
}

// parseCallbackBlock parses `{ stmt; stmt; ... }` into one CbExpr (a
// CbSeq if more than one statement).
func (p *GrammarParser) parseCallbackBlock() (*CbExpr, error) {
	if err := p.expectByte('{'); err != nil {
		return nil, err
	}
	var items []CbExpr
	for {
		p.skipWS()
		if p.consumeByte('}') {
			break
		}
		e, err := p.parseCbStmt()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		p.skipWS()
		p.consumeByte(';')
	}
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) == 1 {
		return &items[0], nil
	}
	var e CbExpr = CbSeq{Items: items}
	return &e, nil
}

// parseLexCallbackBlock is parseCallbackBlock specialized for lex
// rules: it recognizes the two structural effects spec.md §6's example
// shows called from inside a rule's action block (`push(*Comment)`,
// bare `pop`) and lifts them out of the callback bytecode into
// LexRule's own PushContext/Pop fields (see lex_ast.go's doc comment
// for why those aren't ordinary CbCall nodes).
func (p *GrammarParser) parseLexCallbackBlock() (cb *CbExpr, push string, pop bool, err error) {
	if err = p.expectByte('{'); err != nil {
		return
	}
	var items []CbExpr
	for {
		p.skipWS()
		if p.consumeByte('}') {
			break
		}
		if p.peekKeyword("pop") && p.peekIsBarePopCall() {
			p.consumeKeyword("pop")
			p.skipWS()
			if p.consumeByte('(') {
				if err = p.expectByte(')'); err != nil {
					return
				}
			}
			pop = true
			p.skipWS()
			p.consumeByte(';')
			continue
		}
		if p.peekKeyword("push") {
			save := p.pos
			p.consumeKeyword("push")
			p.skipWS()
			if p.consumeByte('(') {
				p.skipWS()
				p.consumeByte('*')
				name, e := p.parseIdent()
				if e != nil {
					err = e
					return
				}
				if e := p.expectByte(')'); e != nil {
					err = e
					return
				}
				push = "*" + name
				p.skipWS()
				p.consumeByte(';')
				continue
			}
			p.pos = save
		}
		var e CbExpr
		e, err = p.parseCbStmt()
		if err != nil {
			return
		}
		items = append(items, e)
		p.skipWS()
		p.consumeByte(';')
	}
	if len(items) == 1 {
		cb = &items[0]
	} else if len(items) > 1 {
		var e CbExpr = CbSeq{Items: items}
		cb = &e
	}
	return
}

// peekIsBarePopCall distinguishes the `pop` keyword from an identifier
// that merely starts with "pop" (e.g. a variable named `popcount`);
// consumeKeyword already guards on identifier-continuation, so this
// only needs to check it isn't being used as an assignment target.
func (p *GrammarParser) peekIsBarePopCall() bool {
	save := p.pos
	defer func() { p.pos = save }()
	if !p.consumeKeyword("pop") {
		return false
	}
	p.skipWS()
	return p.cur() != '='
}

// --- callback expressions ---

func (p *GrammarParser) parseCbStmt() (CbExpr, error) {
	p.skipWS()
	if p.cur() == '@' {
		save := p.pos
		p.pos++
		name, err := p.parseIdent()
		if err == nil {
			p.skipWS()
			if p.consumeByte('=') {
				val, err := p.parseCbExpr()
				if err != nil {
					return nil, err
				}
				return CbAssign{Name: name, Global: true, Expr: val}, nil
			}
		}
		p.pos = save
	}
	if isIdentStart(p.cur()) {
		save := p.pos
		name, err := p.parseIdent()
		if err == nil {
			p.skipWS()
			if p.cur() == '=' && p.at(1) != '=' {
				p.pos++
				val, err := p.parseCbExpr()
				if err != nil {
					return nil, err
				}
				return CbAssign{Name: name, Expr: val}, nil
			}
		}
		p.pos = save
	}
	return p.parseCbExpr()
}

func (p *GrammarParser) parseCbExpr() (CbExpr, error) { return p.parseCbOr() }

func (p *GrammarParser) parseCbOr() (CbExpr, error) {
	left, err := p.parseCbAnd()
	if err != nil {
		return nil, err
	}
	for p.consumeStr("||") {
		right, err := p.parseCbAnd()
		if err != nil {
			return nil, err
		}
		left = CbOr{A: left, B: right}
	}
	return left, nil
}

func (p *GrammarParser) parseCbAnd() (CbExpr, error) {
	left, err := p.parseCbAdd()
	if err != nil {
		return nil, err
	}
	for p.consumeStr("&&") {
		right, err := p.parseCbAdd()
		if err != nil {
			return nil, err
		}
		left = CbAnd{A: left, B: right}
	}
	return left, nil
}

func (p *GrammarParser) parseCbAdd() (CbExpr, error) {
	left, err := p.parseCbMul()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		var op string
		if p.cur() == '+' {
			op = "add"
		} else if p.cur() == '-' && p.at(1) != '>' {
			op = "sub"
		} else {
			break
		}
		p.pos++
		right, err := p.parseCbMul()
		if err != nil {
			return nil, err
		}
		left = CbCall{Method: op, Args: []CbExpr{left, right}}
	}
	return left, nil
}

func (p *GrammarParser) parseCbMul() (CbExpr, error) {
	left, err := p.parseCbUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		var op string
		if p.cur() == '*' {
			op = "mul"
		} else if p.cur() == '/' {
			op = "div"
		} else {
			break
		}
		p.pos++
		right, err := p.parseCbUnary()
		if err != nil {
			return nil, err
		}
		left = CbCall{Method: op, Args: []CbExpr{left, right}}
	}
	return left, nil
}

func (p *GrammarParser) parseCbUnary() (CbExpr, error) {
	p.skipWS()
	if p.cur() == '!' {
		p.pos++
		e, err := p.parseCbUnary()
		if err != nil {
			return nil, err
		}
		return CbCall{Method: "not", Args: []CbExpr{e}}, nil
	}
	return p.parseCbPrimary()
}

func (p *GrammarParser) parseCbPrimary() (CbExpr, error) {
	p.skipWS()
	switch {
	case p.cur() == '$':
		p.pos++
		start := p.pos
		for p.cur() >= '0' && p.cur() <= '9' {
			p.pos++
		}
		if start == p.pos {
			return nil, p.errf("expected a digit after '$'")
		}
		n, _ := strconv.Atoi(string(p.src[start:p.pos]))
		return CbCapture{Index: n}, nil

	case p.cur() == ':':
		p.pos++
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		return CbLit{Val: NewDynString(name)}, nil

	case p.cur() == '"':
		s, err := p.parseQuoted('"')
		if err != nil {
			return nil, err
		}
		return CbLit{Val: NewDynString(s)}, nil

	case p.cur() == '@':
		p.pos++
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		return CbVarRef{Name: name, Global: true}, nil

	case p.cur() == '(':
		p.pos++
		e, err := p.parseCbExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectByte(')'); err != nil {
			return nil, err
		}
		return e, nil

	case p.cur() == '[':
		return p.parseCbListBuild()

	case p.cur() == '-':
		p.pos++
		e, err := p.parseCbUnary()
		if err != nil {
			return nil, err
		}
		return CbCall{Method: "neg", Args: []CbExpr{e}}, nil

	case p.cur() >= '0' && p.cur() <= '9':
		return p.parseCbNumber()
	}

	if p.consumeKeyword("if") {
		return p.parseCbIf()
	}
	if p.consumeKeyword("nil") {
		return CbLit{Val: Nil}, nil
	}
	if p.consumeKeyword("true") {
		return CbLit{Val: Bool(true)}, nil
	}
	if p.consumeKeyword("false") {
		return CbLit{Val: Bool(false)}, nil
	}

	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	p.skipWS()
	if p.cur() == '(' {
		args, err := p.parseCbArgs()
		if err != nil {
			return nil, err
		}
		if isUpper(name) {
			var fields []CbNodeField
			for _, a := range args {
				fields = append(fields, CbNodeField{Expr: a.expr, Splat: a.splat})
			}
			return CbNodeBuild{Klass: name, Fields: fields}, nil
		}
		var cargs []CbExpr
		for _, a := range args {
			cargs = append(cargs, a.expr)
		}
		return CbCall{Method: name, Args: cargs}, nil
	}
	return CbVarRef{Name: name}, nil
}

func isUpper(s string) bool { return s != "" && s[0] >= 'A' && s[0] <= 'Z' }

type cbArg struct {
	expr  CbExpr
	splat bool
}

func (p *GrammarParser) parseCbArgs() ([]cbArg, error) {
	if err := p.expectByte('('); err != nil {
		return nil, err
	}
	var args []cbArg
	p.skipWS()
	if p.cur() == ')' {
		p.pos++
		return args, nil
	}
	for {
		p.skipWS()
		splat := p.consumeByte('*')
		e, err := p.parseCbExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, cbArg{expr: e, splat: splat})
		if p.consumeByte(',') {
			continue
		}
		break
	}
	if err := p.expectByte(')'); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *GrammarParser) parseCbListBuild() (CbExpr, error) {
	if err := p.expectByte('['); err != nil {
		return nil, err
	}
	var items []CbListField
	p.skipWS()
	if p.cur() == ']' {
		p.pos++
		return CbListBuild{}, nil
	}
	for {
		p.skipWS()
		splat := p.consumeByte('*')
		e, err := p.parseCbExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, CbListField{Expr: e, Splat: splat})
		if p.consumeByte(',') {
			continue
		}
		break
	}
	if err := p.expectByte(']'); err != nil {
		return nil, err
	}
	return CbListBuild{Items: items}, nil
}

// parseCbIf parses `if(cond, then[, else])`, the function-call-shaped
// surface form for spec.md §3's `If` node class.
func (p *GrammarParser) parseCbIf() (CbExpr, error) {
	args, err := p.parseCbArgs()
	if err != nil {
		return nil, err
	}
	if len(args) < 2 || len(args) > 3 {
		return nil, p.errf("if() expects 2 or 3 arguments, got %d", len(args))
	}
	n := CbIf{Cond: args[0].expr, Then: args[1].expr}
	if len(args) == 3 {
		n.Else = args[2].expr
	}
	return n, nil
}

func (p *GrammarParser) parseCbNumber() (CbExpr, error) {
	start := p.pos
	for p.cur() >= '0' && p.cur() <= '9' {
		p.pos++
	}
	isFloat := false
	if p.cur() == '.' && p.at(1) >= '0' && p.at(1) <= '9' {
		isFloat = true
		p.pos++
		for p.cur() >= '0' && p.cur() <= '9' {
			p.pos++
		}
	}
	text := string(p.src[start:p.pos])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errf("bad float literal %q: %v", text, err)
		}
		return CbLit{Val: Float(f)}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errf("bad int literal %q: %v", text, err)
	}
	return CbLit{Val: Int(n)}, nil
}

// --- peg sections ---

func (p *GrammarParser) parsePegSection() (PegSection, error) {
	name, err := p.parseIdent()
	if err != nil {
		return PegSection{}, err
	}
	sec := PegSection{Name: name}
	if err := p.expectByte('{'); err != nil {
		return sec, err
	}
	for {
		p.skipWS()
		if p.consumeByte('}') {
			break
		}
		rule, err := p.parsePegRule()
		if err != nil {
			return sec, err
		}
		sec.Rules = append(sec.Rules, rule)
	}
	return sec, nil
}

func (p *GrammarParser) parsePegRule() (PegRule, error) {
	name, err := p.parseIdent()
	if err != nil {
		return PegRule{}, err
	}
	if err := p.expectByte('='); err != nil {
		return PegRule{}, err
	}
	body, err := p.parsePegChoice()
	if err != nil {
		return PegRule{}, err
	}
	return PegRule{Name: name, Body: body}, nil
}

// parsePegChoice parses `alt ('/' alt)*`, where each `alt` may itself
// be a left-join expression.
func (p *GrammarParser) parsePegChoice() (PegExpr, error) {
	first, err := p.parsePegAlt()
	if err != nil {
		return nil, err
	}
	alts := []PegExpr{first}
	for {
		p.skipWS()
		if p.cur() == '/' && !p.isJoinOpAt(p.pos) {
			p.pos++
			next, err := p.parsePegAlt()
			if err != nil {
				return nil, err
			}
			alts = append(alts, next)
			continue
		}
		break
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return PegChoice{Alts: alts}, nil
}

func (p *GrammarParser) isJoinOpAt(pos int) bool {
	if pos+1 >= len(p.src) {
		return false
	}
	c := p.src[pos+1]
	return c == '*' || c == '+' || c == '?'
}

// parsePegAlt parses one alternative: a sequence, optionally followed
// by a left-join operator and its right-hand sequence.
func (p *GrammarParser) parsePegAlt() (PegExpr, error) {
	left, err := p.parsePegSeq(false)
	if err != nil {
		return nil, err
	}
	p.skipWS()
	if p.cur() == '/' && p.isJoinOpAt(p.pos) {
		op := p.src[p.pos+1]
		p.pos += 2
		right, err := p.parsePegSeq(true)
		if err != nil {
			return nil, err
		}
		rightSeq, ok := right.(*PegSeq)
		if !ok {
			return nil, p.errf("left-join right-hand side must be a plain sequence")
		}
		return PegLeftJoin{Op: op, Left: left, Right: rightSeq}, nil
	}
	return left, nil
}

// parsePegSeq parses a run of terms followed by an optional `{ cb }`.
// requireCallback enforces spec.md §4.6's "left-join right-hand side
// needs a combining callback" invariant at parse time rather than only
// at CompilePeg's emitCallback check, giving a clearer error location.
func (p *GrammarParser) parsePegSeq(requireCallback bool) (PegExpr, error) {
	var terms []PegTerm
	for {
		p.skipWS()
		if !p.pegTermStarts() || p.peekRuleStart() {
			break
		}
		t, err := p.parsePegTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	seq := &PegSeq{Terms: terms}
	p.skipWS()
	if p.cur() == '{' {
		cb, err := p.parseCallbackBlock()
		if err != nil {
			return nil, err
		}
		seq.Callback = cb
	} else if requireCallback {
		return nil, p.errf("left-join right-hand side needs a { combining callback }")
	}
	return seq, nil
}

// peekRuleStart reports whether the next tokens form `ident =`, i.e.
// the start of the NEXT rule rather than one more term of the current
// sequence — rule boundaries are not line-sensitive, so this lookahead
// is what separates `list = item* \n item = .x` into two rules.
func (p *GrammarParser) peekRuleStart() bool {
	save := p.pos
	defer func() { p.pos = save }()
	p.skipWS()
	if !isIdentStart(p.cur()) {
		return false
	}
	if _, err := p.parseIdent(); err != nil {
		return false
	}
	p.skipWS()
	return p.cur() == '=' && p.at(1) != '='
}

func (p *GrammarParser) pegTermStarts() bool {
	c := p.cur()
	if c == '}' || c == 0 {
		return false
	}
	if c == '/' {
		// '/' always starts the next alternative or a left-join, never
		// a term.
		return false
	}
	return c == '.' || c == '\'' || c == '"' || c == '&' || c == '!' || isIdentStart(c)
}

func (p *GrammarParser) parsePegTerm() (PegTerm, error) {
	var t PegTerm
	p.skipWS()
	if p.cur() == '&' || p.cur() == '!' {
		t.Lookahead = p.cur()
		p.pos++
		p.skipWS()
	}
	switch {
	case p.cur() == '.':
		p.pos++
		name, err := p.parseIdent()
		if err != nil {
			return t, err
		}
		t.TokenType = name
	case p.cur() == '\'':
		lit, err := p.parseQuoted('\'')
		if err != nil {
			return t, err
		}
		t.TokenType = lit
	case p.cur() == '"':
		lit, err := p.parseQuoted('"')
		if err != nil {
			return t, err
		}
		t.TokenType = lit
	case isIdentStart(p.cur()):
		name, err := p.parseIdent()
		if err != nil {
			return t, err
		}
		t.RuleRef = name
	default:
		return t, p.errf("expected a peg term, found %q", p.cur())
	}
	if p.cur() == '?' || p.cur() == '*' || p.cur() == '+' {
		t.Quant = p.cur()
		p.pos++
	}
	return t, nil
}
