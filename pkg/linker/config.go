package linker

import "github.com/winksaville/lld/pkg/wasmobj"

// WasmPageSize is the atomic unit of linear-memory growth: 64 KiB.
const WasmPageSize = 65536

// Config is the process-wide linker configuration, populated once at
// link entry and read for the remainder of the link.
type Config struct {
	Output string

	EntrySymbol  string
	ExportEntryAs string

	AllowUndefined        bool
	AllowUndefinedFile    string
	AllowUndefinedSymbols map[string]bool

	EmitRelocs  bool
	Relocatable bool
	StripAll    bool
	StripDebug  bool
	Verbose     bool

	Color ColorMode

	LibraryPaths []string
	Sysroot      string

	InitialMemory uint64
	MaxMemory     uint64
	HasMaxMemory  bool
	StackSize     uint64

	// LLVMOptions collects every -mllvm value verbatim. This linker has
	// no code generator to forward them to; they are accepted (build
	// systems pass them unconditionally) and otherwise ignored.
	LLVMOptions []string

	// SyntheticGlobals holds driver-created globals (the stack pointer,
	// today) paired with their initial record so the Writer can emit
	// them alongside per-object globals.
	SyntheticGlobals []SyntheticGlobal

	// ExtraExports names symbols --export=NAME forces into the EXPORT
	// section even if no input object flagged them WASM_SYM_EXPORTED.
	ExtraExports []string
}

// SyntheticGlobal pairs a driver-created Symbol with the wasm global
// record the Writer should emit for it.
type SyntheticGlobal struct {
	Symbol  *Symbol
	Type    wasmobj.ValueType
	Mutable bool
	Init    int64
}

func NewConfig() *Config {
	return &Config{
		Output:                "a.out",
		EntrySymbol:           "_start",
		ExportEntryAs:         "_start",
		AllowUndefinedSymbols: map[string]bool{},
		StackSize:             WasmPageSize,
	}
}
