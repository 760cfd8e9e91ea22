package sb

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback bytecode VM, shared by lex and PEG. Grounded on spec.md
// §4.4: "A shared value stack and a container-info stack. Node
// construction uses NODE_BEG -> repeated NODE_SET/NODE_SETV ->
// NODE_END; over- or under-fill is an error."

// cbContainer tracks one in-progress NODE_BEG..NODE_END span: stackPos
// is the value-stack index the struct itself occupies (it stays there,
// untouched, while fields are pushed above it and popped off by
// NODE_SET/NODE_SETV), limit is the struct's field arity, count is how
// many fields have been set so far.
type cbContainer struct {
	stackPos int
	limit    int
	count    int
}

// cbReturn is the internal "return/1" unwind signal: it stops bytecode
// execution immediately with the given value as the callback's result,
// analogous to the teacher's early-exit control flow within a single
// VM dispatch loop rather than a general exception mechanism (spec.md
// §1's Non-goals: "no ... exceptions").
type cbReturn struct{ val Value }

func (cbReturn) Error() string { return "return" }

// CbHost is the implicit parse-state receiver spec.md §6 describes for
// builtin actions ("a pure function of its arguments and the implicit
// parse-state receiver"). Lex callbacks get a host that can emit
// tokens and yield; PEG callbacks (and lex callbacks that never touch
// token/yield/parse) may run with host == nil, in which case those
// three builtins fail with a callback-type error instead of panicking.
type CbHost interface {
	EmitToken(typ string, val Value) error
	Yield(v Value) error
	Parse() (Value, error)
	CurrentTokens() Value
}

// CbVM executes one compiled callback program against a fresh operand
// stack, with locals (capture slots 0..9 plus declared local vars)
// and a pointer to the lexer/peg instance's persistent global slice.
type CbVM struct {
	rt         *Runtime
	prog       []Instr
	pc         int
	stack      []Value
	containers []cbContainer
	locals     []Value
	globals    *[]Value
	host       CbHost
}

// RunCallback executes prog with the given locals (index 0..9 are the
// reserved capture slots per spec.md §4.4) and globals, returning the
// value left on top of the stack when END (or an explicit return/1)
// is reached, plus the (possibly grown) locals slice so a caller that
// runs several callbacks against the same scope — a lex context's
// begin/rule/end callbacks share one set of declared local vars across
// a context's lifetime — can thread state between calls.
func RunCallback(rt *Runtime, prog []Instr, locals []Value, globals *[]Value, host CbHost) (Value, []Value, error) {
	vm := &CbVM{rt: rt, prog: prog, locals: locals, globals: globals, host: host}
	result, err := vm.run()
	return result, vm.locals, err
}

func (vm *CbVM) push(v Value) { vm.stack = append(vm.stack, v) }
func (vm *CbVM) pop() Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}
func (vm *CbVM) top() Value { return vm.stack[len(vm.stack)-1] }

func (vm *CbVM) run() (result Value, err error) {
	for {
		if vm.pc >= len(vm.prog) {
			return nil, fmt.Errorf("sb: callback program ran off the end without END")
		}
		ins := vm.prog[vm.pc]
		switch ins.Op {
		case CbOpMeta:
			vm.pc++

		case CbOpLoad:
			vm.push(vm.localAt(int(ins.A)))
			vm.pc++

		case CbOpStore:
			vm.setLocalAt(int(ins.A), vm.top())
			vm.pc++

		case CbOpLoadGlob:
			vm.push((*vm.globals)[ins.A])
			vm.pc++

		case CbOpStoreGlob:
			(*vm.globals)[ins.A] = vm.top()
			vm.pc++

		case CbOpPush:
			vm.push(ins.Val)
			vm.pc++

		case CbOpPop:
			vm.pop()
			vm.pc++

		case CbOpNodeBeg:
			s := NewStructBuilder(KlassID(ins.A), vm.rt.Registry().Val(KlassID(ins.A)).arityOrLen())
			vm.containers = append(vm.containers, cbContainer{stackPos: len(vm.stack), limit: s.Arity()})
			vm.push(s)
			vm.pc++

		case CbOpNodeSet:
			val := vm.pop()
			c := &vm.containers[len(vm.containers)-1]
			st := vm.stack[c.stackPos].(*Struct)
			if c.count >= c.limit {
				return nil, NewCompileError(ErrKindCallbackType, Span{}, "struct overfilled: %d fields, arity %d", c.count+1, c.limit)
			}
			if serr := st.Set(c.count, val); serr != nil {
				return nil, serr
			}
			c.count++
			vm.pc++

		case CbOpNodeSetv:
			val := vm.pop()
			if !IsNilOrCons(val) {
				return nil, NewCompileError(ErrKindCallbackType, Span{}, "splat of non-list into struct fields")
			}
			c := &vm.containers[len(vm.containers)-1]
			st := vm.stack[c.stackPos].(*Struct)
			for _, item := range ConsToSlice(val) {
				if c.count >= c.limit {
					return nil, NewCompileError(ErrKindCallbackType, Span{}, "struct overfilled by splat: arity %d", c.limit)
				}
				if serr := st.Set(c.count, item); serr != nil {
					return nil, serr
				}
				c.count++
			}
			vm.pc++

		case CbOpNodeEnd:
			c := vm.containers[len(vm.containers)-1]
			vm.containers = vm.containers[:len(vm.containers)-1]
			if c.count != c.limit {
				return nil, NewCompileError(ErrKindCallbackType, Span{}, "struct underfilled: got %d fields, need %d", c.count, c.limit)
			}
			vm.stack[c.stackPos].(*Struct).Freeze()
			vm.pc++

		case CbOpList:
			b := vm.pop()
			a := vm.pop()
			vm.push(NewCons(a, b))
			vm.pc++

		case CbOpListv:
			b := vm.pop()
			a := vm.pop()
			if !IsNilOrCons(a) {
				return nil, NewCompileError(ErrKindCallbackType, Span{}, "splat of non-list in list literal")
			}
			vm.push(consConcat(a, b))
			vm.pc++

		case CbOpJif:
			if vm.pop().Truthy() {
				vm.pc = int(ins.A)
			} else {
				vm.pc++
			}

		case CbOpJunless:
			if !vm.pop().Truthy() {
				vm.pc = int(ins.A)
			} else {
				vm.pc++
			}

		case CbOpJmp:
			vm.pc = int(ins.A)

		case CbOpCall:
			argc := int(ins.A)
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			fn, ok := cbBuiltins[ins.Str]
			if !ok {
				return nil, NewCompileError(ErrKindUnknownName, Span{}, "unknown callback builtin %q", ins.Str)
			}
			if bounds, ok := cbBuiltinArity[ins.Str]; ok {
				if argc < bounds[0] || (bounds[1] >= 0 && argc > bounds[1]) {
					return nil, NewCompileError(ErrKindArityMismatch, Span{}, "%s called with %d argument(s)", ins.Str, argc)
				}
			}
			ret, cerr := fn(vm, args)
			if r, isReturn := cerr.(cbReturn); isReturn {
				return r.val, nil
			}
			if cerr != nil {
				return nil, cerr
			}
			vm.push(ret)
			vm.pc++

		case CbOpEnd:
			if len(vm.stack) == 0 {
				return Nil, nil
			}
			return vm.top(), nil

		default:
			panic(fmt.Sprintf("sb: unreachable callback opcode %d", ins.Op))
		}
	}
}

func (vm *CbVM) localAt(i int) Value {
	if i < len(vm.locals) {
		return vm.locals[i]
	}
	return Undef
}

func (vm *CbVM) setLocalAt(i int, v Value) {
	for i >= len(vm.locals) {
		vm.locals = append(vm.locals, Undef)
	}
	vm.locals[i] = v
}

// arityOrLen is a tiny helper so NODE_BEG can size a Struct builder
// directly off the klass's registered field list.
func (k *Klass) arityOrLen() int { return len(k.Fields) }

func IsNilOrCons(v Value) bool {
	if v == Nil {
		return true
	}
	_, ok := v.(*Cons)
	return ok
}

// consConcat appends list a in front of list b, building fresh cells
// (cons cells are immutable), backing the LISTV splat-concat opcode.
func consConcat(a, b Value) Value {
	items := ConsToSlice(a)
	res := b
	for i := len(items) - 1; i >= 0; i-- {
		res = NewCons(items[i], res)
	}
	return res
}

// cbBuiltinFunc implements one of spec.md §6's named callback actions.
// Returning a cbReturn value signals return/1's early-exit.
type cbBuiltinFunc func(vm *CbVM, args []Value) (Value, error)

// cbBuiltinArity bounds each builtin's argc, checked at CALL dispatch;
// -1 for the upper bound means variadic (spec.md §4.1's MinArgc/
// MaxArgc method shape, applied to the builtin table).
var cbBuiltinArity = map[string][2]int{
	"token": {1, 2}, "yield": {1, 1}, "return": {1, 1}, "parse": {0, 0},
	"parse_int": {1, 1}, "char_hex": {1, 1}, "char_no_escape": {1, 1},
	"char_escape_sp": {1, 1}, "concat_char": {1, -1}, "cons": {2, 2},
	"tail": {1, 1}, "style": {2, 2}, "compile_spellbreak": {1, 1},
	"tokens": {0, 0}, "add": {2, 2}, "sub": {2, 2}, "mul": {2, 2},
	"div": {2, 2}, "neg": {1, 1}, "not": {1, 1}, "eq": {2, 2},
	"lt": {2, 2}, "gt": {2, 2},
}

var cbBuiltins = map[string]cbBuiltinFunc{
	"token": cbBuiltinToken,
	"yield": cbBuiltinYield,
	"return": func(vm *CbVM, args []Value) (Value, error) {
		return nil, cbReturn{val: args[0]}
	},
	"parse":               cbBuiltinParse,
	"parse_int":           cbBuiltinParseInt,
	"char_hex":            cbBuiltinCharHex,
	"char_no_escape":      cbBuiltinCharNoEscape,
	"char_escape_sp":      cbBuiltinCharEscapeSp,
	"concat_char":         cbBuiltinConcatChar,
	"cons":                cbBuiltinCons,
	"tail":                cbBuiltinTail,
	"style":               cbBuiltinStyle,
	"compile_spellbreak":  cbBuiltinCompileSpellbreak,
	"tokens":              cbBuiltinTokens,
	"add":                 cbBuiltinArith('+'),
	"sub":                 cbBuiltinArith('-'),
	"mul":                 cbBuiltinArith('*'),
	"div":                 cbBuiltinArith('/'),
	"neg":                 cbBuiltinNeg,
	"not":                 cbBuiltinNot,
	"eq":                  cbBuiltinEq,
	"lt":                  cbBuiltinCompare('<'),
	"gt":                  cbBuiltinCompare('>'),
}

// cbBuiltinTokens backs the grammar-spec callback surface's bare
// `tokens` reference (spec.md §6's `end { yield(tokens) }`): the array
// of tokens the enclosing lex context has emitted so far.
func cbBuiltinTokens(vm *CbVM, args []Value) (Value, error) {
	if vm.host == nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "tokens called outside a lex context")
	}
	return vm.host.CurrentTokens(), nil
}

func numVal(v Value) (float64, bool, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true, true
	case Float:
		return float64(n), false, true
	}
	return 0, false, false
}

// cbBuiltinArith implements the four infix arithmetic operators
// callback expressions compile `a OP b` down to (grammar_parser.go's
// CbCall{Method: "add"|"sub"|"mul"|"div"}); integer operands stay
// integer unless either side is a float, matching ordinary numeric
// tower promotion.
func cbBuiltinArith(op byte) cbBuiltinFunc {
	return func(vm *CbVM, args []Value) (Value, error) {
		a, aInt, aOk := numVal(args[0])
		b, bInt, bOk := numVal(args[1])
		if !aOk || !bOk {
			return nil, NewCompileError(ErrKindCallbackType, Span{}, "arithmetic on a non-numeric value")
		}
		var r float64
		switch op {
		case '+':
			r = a + b
		case '-':
			r = a - b
		case '*':
			r = a * b
		case '/':
			if b == 0 {
				return nil, NewCompileError(ErrKindCallbackType, Span{}, "division by zero")
			}
			r = a / b
		}
		if aInt && bInt && op != '/' {
			return Int(r), nil
		}
		return Float(r), nil
	}
}

func cbBuiltinNeg(vm *CbVM, args []Value) (Value, error) {
	v, isInt, ok := numVal(args[0])
	if !ok {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "negation of a non-numeric value")
	}
	if isInt {
		return Int(-v), nil
	}
	return Float(-v), nil
}

func cbBuiltinNot(vm *CbVM, args []Value) (Value, error) {
	return Bool(!args[0].Truthy()), nil
}

func cbBuiltinEq(vm *CbVM, args []Value) (Value, error) {
	return Bool(Equal(vm.rt, args[0], args[1])), nil
}

func cbBuiltinCompare(op byte) cbBuiltinFunc {
	return func(vm *CbVM, args []Value) (Value, error) {
		a, _, aOk := numVal(args[0])
		b, _, bOk := numVal(args[1])
		if !aOk || !bOk {
			return nil, NewCompileError(ErrKindCallbackType, Span{}, "comparison of a non-numeric value")
		}
		if op == '<' {
			return Bool(a < b), nil
		}
		return Bool(a > b), nil
	}
}

func valueString(v Value) (string, bool) {
	switch s := v.(type) {
	case *DynString:
		return string(s.Bytes), true
	case Str:
		return "", false // caller must resolve against the Runtime's string table; unreachable from builtins (captures use DynString)
	}
	return "", false
}

func cbBuiltinToken(vm *CbVM, args []Value) (Value, error) {
	if vm.host == nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "token/1,2 called outside a lex context")
	}
	if len(args) < 1 {
		return nil, NewCompileError(ErrKindArityMismatch, Span{}, "token expects 1 or 2 arguments")
	}
	typ, ok := valueString(args[0])
	if !ok {
		if dv, ok2 := args[0].(*DynString); ok2 {
			typ = string(dv.Bytes)
		} else {
			typ = args[0].String()
		}
	}
	var val Value = Undef
	if len(args) == 2 {
		val = args[1]
	}
	if err := vm.host.EmitToken(typ, val); err != nil {
		return nil, err
	}
	return Nil, nil
}

func cbBuiltinYield(vm *CbVM, args []Value) (Value, error) {
	if vm.host == nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "yield/1 called outside a lex context")
	}
	if err := vm.host.Yield(args[0]); err != nil {
		return nil, err
	}
	return Nil, nil
}

func cbBuiltinParse(vm *CbVM, args []Value) (Value, error) {
	if vm.host == nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "parse/0 called outside a lex context")
	}
	return vm.host.Parse()
}

func cbBuiltinParseInt(vm *CbVM, args []Value) (Value, error) {
	s, ok := args[0].(*DynString)
	if !ok {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "parse_int expects a string")
	}
	n, err := strconv.ParseInt(string(s.Bytes), 10, 64)
	if err != nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "parse_int: %v", err)
	}
	return Int(n), nil
}

func cbBuiltinCharHex(vm *CbVM, args []Value) (Value, error) {
	s, ok := args[0].(*DynString)
	if !ok {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "char_hex expects a string")
	}
	n, err := strconv.ParseInt(string(s.Bytes), 16, 32)
	if err != nil {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "char_hex: %v", err)
	}
	return NewDynString(string(rune(n))), nil
}

func cbBuiltinCharNoEscape(vm *CbVM, args []Value) (Value, error) {
	s, ok := args[0].(*DynString)
	if !ok {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "char_no_escape expects a string")
	}
	return s, nil
}

// charEscapeSpMap is the small set of single-letter escapes a lexer's
// string-literal rules expand (\n \t \r \\ \" \').
var charEscapeSpMap = map[byte]byte{
	'n': '\n', 't': '\t', 'r': '\r', '\\': '\\', '"': '"', '\'': '\'', '0': 0,
}

func cbBuiltinCharEscapeSp(vm *CbVM, args []Value) (Value, error) {
	s, ok := args[0].(*DynString)
	if !ok || len(s.Bytes) == 0 {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "char_escape_sp expects a non-empty string")
	}
	if r, ok := charEscapeSpMap[s.Bytes[0]]; ok {
		return NewDynString(string(r)), nil
	}
	return NewDynString(string(s.Bytes[0])), nil
}

func cbBuiltinConcatChar(vm *CbVM, args []Value) (Value, error) {
	var b strings.Builder
	for _, a := range args {
		if s, ok := a.(*DynString); ok {
			b.Write(s.Bytes)
		} else {
			b.WriteString(a.String())
		}
	}
	return NewDynString(b.String()), nil
}

func cbBuiltinCons(vm *CbVM, args []Value) (Value, error) {
	return NewCons(args[0], args[1]), nil
}

func cbBuiltinTail(vm *CbVM, args []Value) (Value, error) {
	c, ok := args[0].(*Cons)
	if !ok {
		return nil, NewCompileError(ErrKindCallbackType, Span{}, "tail/1 expects a cons cell")
	}
	return c.Tail, nil
}

// cbBuiltinStyle stands in for a presentation-layer hook
// (style(text, tag)) grammars can use to annotate tokens for
// highlighted disassembly output without touching the AST shape.
func cbBuiltinStyle(vm *CbVM, args []Value) (Value, error) {
	return args[0], nil
}

// cbBuiltinCompileSpellbreak is the one grammar-specific action named
// in spec.md §6's catalogue without further elaboration there; kept as
// a pass-through identity hook (a grammar author wires the real
// behavior through a klass method override) rather than guessed at.
func cbBuiltinCompileSpellbreak(vm *CbVM, args []Value) (Value, error) {
	return args[0], nil
}
