package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clarete/sb"
	"github.com/clarete/sb/ascii"
)

func main() {
	var (
		grammarPath = flag.String("grammar", "", "Path to the grammar-spec file")
		inputPath   = flag.String("input", "", "Path to the input file to parse")
		astOnly     = flag.Bool("ast-only", false, "Dump the grammar's AST instead of parsing")
		asmOnly     = flag.Bool("asm-only", false, "Dump the compiled bytecode instead of parsing")
		tokensOnly  = flag.Bool("tokens-only", false, "Stop after the lex stage and print the token stream")
		dot         = flag.Bool("dot", false, "Dump the peg rule-call graph in DOT form")
		colored     = flag.Bool("color", false, "Colorize -asm-only output")
		budget      = flag.Int("step-budget", 0, "Abort after this many VM steps (0 = unlimited)")
	)
	flag.Parse()

	if *grammarPath == "" {
		log.Fatal("Grammar not informed")
	}

	grammarData, err := os.ReadFile(*grammarPath)
	if err != nil {
		log.Fatalf("Can't read grammar file: %s", err.Error())
	}
	ast, err := sb.NewGrammarParser(grammarData).Parse()
	if err != nil {
		log.Fatalf("Can't parse grammar file: %s", err.Error())
	}

	if *astOnly {
		arena := sb.NewNodeArena()
		fmt.Print(sb.PrintNodeTree(arena, sb.BuildGrammarNodeTree(arena, ast)))
		return
	}
	if *dot {
		fmt.Print(sb.PegRuleGraphDOT(ast))
		return
	}

	rt := sb.NewRuntime()
	kd, err := sb.CompileGrammar(rt, "grammar", ast, nil)
	if err != nil {
		log.Fatalf("Can't compile grammar file: %s", err.Error())
	}
	for _, w := range kd.Warnings {
		log.Printf("warning: %s", w)
	}

	if *asmOnly {
		var theme *ascii.Theme
		if *colored {
			theme = &ascii.DefaultTheme
		}
		if kd.Lex != nil {
			fmt.Println("== lex ==")
			fmt.Print(sb.DisasmLex(kd.Lex, theme))
		}
		if kd.Peg != nil {
			fmt.Println("== peg ==")
			fmt.Print(sb.DisasmPeg(kd.Peg, theme))
		}
		return
	}

	if *inputPath == "" {
		log.Fatal("Input not informed")
	}
	inputData, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("Can't read input file: %s", err.Error())
	}

	inst := sb.NewParserInstance(kd)
	defer inst.Free()
	if *budget > 0 {
		inst.StepBudget(*budget)
	}
	result, perr := inst.Parse(inputData)

	if *tokensOnly {
		for _, tok := range inst.Tokens() {
			fmt.Printf("%s %s %v\n", tok.Type, tok.Span, tok.Value)
		}
		if perr != nil {
			log.Fatalf("Parse failed: %s", perr.Error())
		}
		return
	}

	if perr != nil {
		log.Fatalf("Parse failed: %s", perr.Error())
	}
	fmt.Println(result.String())
}
