// Package wasmobj parses relocatable WebAssembly object files: modules
// carrying the "linking" and "reloc.*" custom sections that LLVM's wasm
// backend emits and that lld's wasm port consumes. It exposes exactly the
// surface a linker needs (types, functions, globals, imports, exports,
// memories, tables, segments, code bytes and relocations) and knows
// nothing about symbol resolution or index-space merging; that policy
// lives in pkg/linker.
package wasmobj

// Section ids from the core wasm binary format, exported for the writer
// side (pkg/linker) to frame its own output sections with.
const (
	SecCustom   = 0
	SecType     = 1
	SecImport   = 2
	SecFunction = 3
	SecTable    = 4
	SecMemory   = 5
	SecGlobal   = 6
	SecExport   = 7
	SecStart    = 8
	SecElement  = 9
	SecCode     = 10
	SecData     = 11
)

// ValueType is a wasm value type byte (i32, i64, f32, f64, ...).
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
	ValueTypeV128 ValueType = 0x7b
	ValueTypeFuncref ValueType = 0x70
)

// ExternalKind identifies what an import or export refers to.
type ExternalKind byte

const (
	ExternalFunction ExternalKind = 0
	ExternalTable    ExternalKind = 1
	ExternalMemory   ExternalKind = 2
	ExternalGlobal   ExternalKind = 3
)

// FuncType is a single entry of the TYPE section: `0x60 params... results...`.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Limits is the (initial[, max]) pair used by memories and tables.
type Limits struct {
	Initial uint32
	Max     uint32
	HasMax  bool
}

// Import is one IMPORT section entry. Kind selects which of the typed
// fields below is meaningful.
type Import struct {
	Module string
	Field  string
	Kind   ExternalKind

	FuncTypeIndex uint32 // Kind == ExternalFunction
	TableLimits   Limits // Kind == ExternalTable
	MemoryLimits  Limits // Kind == ExternalMemory
	GlobalType    ValueType
	GlobalMutable bool
}

// Export is one EXPORT section entry.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// InitOpcode names the handful of constant-expression opcodes wasm-ld's
// object format actually uses for global initializers and segment offsets.
type InitOpcode byte

const (
	OpI32Const   InitOpcode = 0x41
	OpI64Const   InitOpcode = 0x42
	OpGlobalGet  InitOpcode = 0x23
)

// InitExpr is a constant expression: one opcode, one immediate, `end`.
type InitExpr struct {
	Opcode    InitOpcode
	Int32     int32
	Int64     int64
	GlobalIdx uint32
}

// Global is a GLOBAL section entry: locally defined type/mutability/init.
type Global struct {
	Type    ValueType
	Mutable bool
	Init    InitExpr
}

// Memory is a MEMORY section entry.
type Memory struct {
	Limits Limits
}

// Table is a TABLE section entry.
type Table struct {
	ElemType ValueType
	Limits   Limits
}

// ElemSegment is one ELEM section entry.
type ElemSegment struct {
	TableIndex uint32
	Offset     InitExpr
	Functions  []uint32
}

// DataSegment is one DATA section entry.
type DataSegment struct {
	MemoryIndex uint32
	Offset      InitExpr
	Bytes       []byte

	// PayloadOffset is where Bytes began within the DATA section's raw
	// payload, the same numbering reloc.DATA's Reloc.Offset values use.
	PayloadOffset uint32
}

// RelocType is a value from the wasm object-file relocation type space
// (the same enumeration used in `reloc.*` custom sections).
type RelocType byte

const (
	RelocFunctionIndexLEB RelocType = 0
	RelocTableIndexSLEB   RelocType = 1
	RelocTableIndexI32    RelocType = 2
	RelocMemoryAddrLEB    RelocType = 3
	RelocMemoryAddrSLEB   RelocType = 4
	RelocMemoryAddrI32    RelocType = 5
	RelocTypeIndexLEB     RelocType = 6
	RelocGlobalIndexLEB   RelocType = 7
)

// Reloc is one entry from a `reloc.CODE` or `reloc.DATA` custom section.
type Reloc struct {
	Type   RelocType
	Offset uint32
	Index  uint32
	Addend int32
}

// SymbolKind mirrors the WASM_SYMBOL_TABLE subsection's per-symbol kind
// byte inside the `linking` custom section.
type SymbolKind byte

const (
	SymKindFunction SymbolKind = 0
	SymKindData     SymbolKind = 1
	SymKindGlobal   SymbolKind = 2
)

const (
	SymFlagWeak       uint32 = 1 << 0
	SymFlagUndefined  uint32 = 1 << 4
	SymFlagExported   uint32 = 1 << 2
)

// SymbolInfo is one entry of the `linking` section's WASM_SYMBOL_TABLE
// subsection: it associates a name with an element index into this
// object's own import or export table, plus flags.
type SymbolInfo struct {
	Kind  SymbolKind
	Flags uint32
	Name  string

	// Index is either the element index into ElfSym-equivalent tables:
	// for a defined function/global it is the *absolute* function/global
	// index (import space + local space); for an undefined one it's the
	// index into FunctionImports or GlobalImports (imports of that kind
	// only). Data symbols carry a segment index + offset +
	// size instead.
	Index uint32

	DataSegmentIndex uint32
	DataOffset       uint32
	DataSize         uint32
}

func (s *SymbolInfo) IsWeak() bool      { return s.Flags&SymFlagWeak != 0 }
func (s *SymbolInfo) IsUndefined() bool { return s.Flags&SymFlagUndefined != 0 }
func (s *SymbolInfo) IsExported() bool  { return s.Flags&SymFlagExported != 0 }

// Module is the fully parsed view of one relocatable wasm object file.
type Module struct {
	Types   []FuncType
	Imports []Import
	Globals []Global
	Memories []Memory
	Tables  []Table
	Elems   []ElemSegment
	Data    []DataSegment
	Exports []Export

	// FuncTypeIndexes[i] is the type index of the i-th *locally defined*
	// function (i.e. FUNCTION section content, not counting imports).
	FuncTypeIndexes []uint32

	// CodeSection is the raw bytes of the CODE section's contents,
	// including its own leading function-count ULEB128, exactly as it
	// appeared in the input (§4.5 CODE contract skips this prefix when
	// copying into the merged output).
	CodeSection []byte
	CodeRelocs  []Reloc
	DataRelocs  []Reloc

	Symbols []SymbolInfo

	// FunctionImports and GlobalImports are Imports filtered by kind, in
	// file order — used repeatedly when mapping a symbol's element index
	// to whether it names an import or a local definition.
	FunctionImports []Import
	GlobalImports   []Import
}

func (m *Module) BuildImportViews() {
	m.FunctionImports = nil
	m.GlobalImports = nil
	for _, im := range m.Imports {
		switch im.Kind {
		case ExternalFunction:
			m.FunctionImports = append(m.FunctionImports, im)
		case ExternalGlobal:
			m.GlobalImports = append(m.GlobalImports, im)
		}
	}
}
