// Package sb is a parser-generator runtime: a grammar-spec source file
// declares named regular expressions, a context-stacked lexer with
// embedded callbacks, PEG rules over the token stream, and the tagged
// struct types those callbacks instantiate. Compiling a grammar yields
// a KlassData — three bytecode programs (regexp, lex, peg) plus symbol
// tables — and a generated parser is an interpreter over those
// bytecodes applied to user input.
package sb

import (
	"os"
	"path/filepath"
	"strings"
)

// GrammarFromFile reads, parses, and compiles a grammar-spec file.
// The grammar's name is the file's base name without extension.
func GrammarFromFile(rt *Runtime, path string, cfg *Config) (*KlassData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return GrammarFromBytes(rt, name, data, cfg)
}

// ParseBytes is the one-shot convenience path: compile grammar, spin
// up an instance, parse input, free the instance.
func ParseBytes(rt *Runtime, grammar, input []byte, cfg *Config) (Value, error) {
	kd, err := GrammarFromBytes(rt, "grammar", grammar, cfg)
	if err != nil {
		return nil, err
	}
	pi := NewParserInstance(kd)
	defer pi.Free()
	return pi.Parse(input)
}
