package sb

// KlassData is the per-grammar compiled artifact: the three bytecode
// programs (regexp subprograms live inside the lex program's side
// tables), the symbol/struct tables, and the runtime whose klass
// registry and interned-string table the grammar's struct klasses were
// allocated in. GrammarFromBytes returns one; NewParserInstance
// consumes one. After compilation it is read-only and may be shared
// freely across parser instances.
type KlassData struct {
	Name    string
	Runtime *Runtime
	Config  *Config

	Lex *LexProgram // nil if the grammar declares no lex contexts
	Peg *PegProgram // nil if the grammar declares no peg rules

	// StartRule is the entry PEG rule: the first rule of the first peg
	// section.
	StartRule string

	Symbols *SymbolTable

	// Warnings collects non-fatal compile diagnostics ($n capture
	// references beyond the enclosing rule's term count).
	Warnings []string
}
