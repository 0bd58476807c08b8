package linker

// SymKind is a five-way tagged union over a symbol's resolution state,
// represented explicitly rather than through inheritance or a bag of
// nullable fields plus a numeric rank.
type SymKind int

const (
	SymUndefined SymKind = iota
	SymDefinedFunction
	SymDefinedGlobal
	SymUndefinedFunction
	SymUndefinedGlobal
	SymLazy
)

func (k SymKind) String() string {
	switch k {
	case SymDefinedFunction:
		return "defined-function"
	case SymDefinedGlobal:
		return "defined-global"
	case SymUndefinedFunction:
		return "undefined-function"
	case SymUndefinedGlobal:
		return "undefined-global"
	case SymLazy:
		return "lazy"
	default:
		return "undefined"
	}
}

func (k SymKind) IsFunction() bool {
	return k == SymDefinedFunction || k == SymUndefinedFunction
}

func (k SymKind) IsGlobal() bool {
	return k == SymDefinedGlobal || k == SymUndefinedGlobal
}

func (k SymKind) IsDefined() bool {
	return k == SymDefinedFunction || k == SymDefinedGlobal
}

func (k SymKind) IsUndefined() bool {
	return k == SymUndefinedFunction || k == SymUndefinedGlobal
}

// Symbol is a name→definition binding shared by every input file that
// mentions it. Exactly one of OutputIndex's writes is allowed to happen;
// IndexAssigned guards that invariant.
type Symbol struct {
	Name string
	Kind SymKind

	File *Object // owning input file; nil for synthetic symbols

	// SymIndex indexes File.Module.Symbols (the object's own
	// WASM_SYMBOL_TABLE entry), or -1 for a synthetic symbol.
	SymIndex int

	// ImportIndex is the position of this symbol's import declaration
	// within File.Module.FunctionImports or File.Module.GlobalImports,
	// valid only while Kind.IsUndefined(). It lets the Writer recover
	// the import's original type/mutability when emitting the merged
	// IMPORT section, since an undefined Symbol carries no type of its
	// own — only the object that declared the import does.
	ImportIndex int

	// ArchiveCookie identifies the archive member to pull when this
	// symbol is Lazy and later referenced as undefined. Meaningless
	// once Kind != SymLazy.
	ArchiveCookie int
	ArchiveFile   *Archive

	IsWeak bool

	OutputIndex   uint32
	IndexAssigned bool
}

func NewSymbol(name string) *Symbol {
	return &Symbol{Name: name, ArchiveCookie: -1, ImportIndex: -1}
}

// AssignIndex sets Symbol's output index exactly once; a second call is
// a programming error.
func (s *Symbol) AssignIndex(idx uint32) {
	if s.IndexAssigned {
		panic("wld: symbol index assigned twice: " + s.Name)
	}
	s.OutputIndex = idx
	s.IndexAssigned = true
}
