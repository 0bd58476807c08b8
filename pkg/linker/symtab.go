package linker

import "github.com/winksaville/lld/pkg/wasmobj"

// SymbolTable owns every Symbol for one link and implements its
// resolution rules (undefined→defined upgrade, defined→undefined keep,
// weak-overridden-by-strong, strong-vs-strong conflict, weak-vs-weak
// first-wins, undefined-vs-undefined narrowing), plus lazy archive
// pull-in.
//
// A Symbol's identity is its *pointer*: once created for a name it is
// mutated in place for the rest of the link rather than replaced, so
// that any Object holding a pointer to it (FunctionImportSymbols,
// GlobalImportSymbols) observes the eventual resolution automatically.
type SymbolTable struct {
	diag *Diagnostics
	cfg  *Config

	byName map[string]*Symbol
	order  []string

	Objects []*Object

	arena *Arena[Symbol]
}

func NewSymbolTable(diag *Diagnostics, cfg *Config) *SymbolTable {
	return &SymbolTable{
		diag:   diag,
		cfg:    cfg,
		byName: map[string]*Symbol{},
		arena:  NewArena[Symbol](),
	}
}

func kindFor(info *wasmobj.SymbolInfo) SymKind {
	switch info.Kind {
	case wasmobj.SymKindFunction:
		if info.IsUndefined() {
			return SymUndefinedFunction
		}
		return SymDefinedFunction
	case wasmobj.SymKindGlobal:
		if info.IsUndefined() {
			return SymUndefinedGlobal
		}
		return SymDefinedGlobal
	default:
		return SymUndefined
	}
}

// insert returns the Symbol bound to name, creating and registering a
// fresh, kind-less one if this is the first sighting. The bool result
// reports whether a new Symbol was allocated.
func (st *SymbolTable) insert(name string) (*Symbol, bool) {
	sym, ok := st.byName[name]
	if ok {
		return sym, false
	}
	sym = st.arena.New()
	sym.Name = name
	sym.ArchiveCookie = -1
	sym.ImportIndex = -1
	st.byName[name] = sym
	st.order = append(st.order, name)
	return sym, true
}

// addDefined records a defined-function or defined-global sighting from
// file's own WASM_SYMBOL_TABLE, applying the usual resolution rules.
func (st *SymbolTable) addDefined(file *Object, symIndex int, info *wasmobj.SymbolInfo) *Symbol {
	sym, _ := st.insert(info.Name)
	st.merge(sym, file, symIndex, -1, kindFor(info), info.IsWeak())
	return sym
}

// addUndefined records an undefined-function or undefined-global sighting,
// either from file's own WASM_SYMBOL_TABLE or from an import with no
// symbol-table entry of its own (symIndex == importIdx in that case).
func (st *SymbolTable) addUndefined(file *Object, symIndex, importIdx int, info *wasmobj.SymbolInfo) *Symbol {
	sym, _ := st.insert(info.Name)
	st.merge(sym, file, symIndex, importIdx, kindFor(info), info.IsWeak())
	return sym
}

// addDefinedGlobal creates or reuses name as a defined global, for
// linker-synthesized definitions (the stack pointer) that own no input
// file's WASM_SYMBOL_TABLE entry. A freshly inserted name is simply
// bound; a name already sighted must already belong to the global
// family (global or not-yet-resolved), or this is a type conflict.
func (st *SymbolTable) addDefinedGlobal(name string) *Symbol {
	sym, inserted := st.insert(name)
	if inserted {
		sym.Kind = SymDefinedGlobal
		sym.SymIndex = -1
		return sym
	}
	if sym.Kind != SymUndefined && !sym.Kind.IsGlobal() {
		st.diag.Errorf("symbol type mismatch: %s referenced as both a function and a global", name)
		return sym
	}
	sym.Kind = SymDefinedGlobal
	sym.SymIndex = -1
	return sym
}

// addUndefinedFunction creates or reuses name as an undefined function,
// for driver-required references (the entry point) recorded before any
// input file is loaded. It never downgrades a name already resolved to
// a defined or undefined function; it only errors if the name was
// already claimed by the global family.
func (st *SymbolTable) addUndefinedFunction(name string) *Symbol {
	sym, inserted := st.insert(name)
	if inserted {
		sym.Kind = SymUndefinedFunction
		return sym
	}
	if sym.Kind != SymUndefined && !sym.Kind.IsFunction() {
		st.diag.Errorf("symbol type mismatch: %s referenced as both a function and a global", name)
		return sym
	}
	if sym.Kind == SymUndefined {
		sym.Kind = SymUndefinedFunction
	}
	return sym
}

// resolve is the entry point Object.Parse calls for each Function/Global
// WASM_SYMBOL_TABLE entry it walks.
func (st *SymbolTable) resolve(file *Object, symIndex int, info *wasmobj.SymbolInfo) *Symbol {
	if info.Name == "" {
		return NewSymbol("")
	}
	if info.IsUndefined() {
		return st.addUndefined(file, symIndex, int(info.Index), info)
	}
	return st.addDefined(file, symIndex, info)
}

// resolveImportFallback resolves an import that has no WASM_SYMBOL_TABLE
// entry of its own, using the import's field name directly.
func (st *SymbolTable) resolveImportFallback(file *Object, name string, kind SymKind, importIdx int) *Symbol {
	if name == "" {
		return NewSymbol("")
	}
	sym, _ := st.insert(name)
	st.merge(sym, file, importIdx, importIdx, kind, false)
	return sym
}

// addLazy registers one archive's directory of (name, cookie) pairs.
// A name already bound to an undefined reference is pulled in
// immediately; a name with no prior sighting becomes Lazy; anything
// else (already Defined, or already Lazy from an earlier archive) wins
// over this entry.
func (st *SymbolTable) addLazy(archive *Archive, entries []LazyEntry) {
	for _, e := range entries {
		sym, existed := st.byName[e.Name]
		if !existed {
			sym = st.arena.New()
			sym.Name = e.Name
			sym.Kind = SymLazy
			sym.ArchiveCookie = e.Cookie
			sym.ArchiveFile = archive
			st.byName[e.Name] = sym
			st.order = append(st.order, e.Name)
			continue
		}
		if sym.Kind == SymUndefined || sym.Kind.IsUndefined() {
			if _, err := archive.PullMember(st, e.Cookie); err != nil {
				st.diag.Error(err.Error())
			}
		}
		// Kind == SymLazy or IsDefined(): an earlier sighting already
		// owns this name; this archive loses the race.
	}
}

// addFile appends obj to the input file list and walks its symbols.
func (st *SymbolTable) addFile(obj *Object) error {
	st.Objects = append(st.Objects, obj)
	obj.Priority = len(st.Objects)
	return obj.Parse(st)
}

func (st *SymbolTable) set(sym *Symbol, file *Object, symIndex, importIdx int, kind SymKind, weak bool) {
	sym.Kind = kind
	sym.File = file
	sym.SymIndex = symIndex
	sym.ImportIndex = importIdx
	sym.IsWeak = weak
	sym.ArchiveFile = nil
	sym.ArchiveCookie = -1
}

func (st *SymbolTable) checkTypeMatch(sym *Symbol, newKind SymKind) {
	if sym.Kind != SymUndefined && sym.Kind != SymLazy && sym.Kind.IsFunction() != newKind.IsFunction() {
		st.diag.Errorf("symbol type mismatch: %s referenced as both a function and a global", sym.Name)
	}
}

// merge applies the resolution rules for one new sighting of sym,
// mutating sym in place rather than replacing it.
func (st *SymbolTable) merge(sym *Symbol, file *Object, symIndex, importIdx int, newKind SymKind, newWeak bool) {
	switch {
	case sym.Kind == SymUndefined:
		st.set(sym, file, symIndex, importIdx, newKind, newWeak)

	case sym.Kind == SymLazy:
		if newKind.IsUndefined() && sym.ArchiveFile != nil {
			if _, err := sym.ArchiveFile.PullMember(st, sym.ArchiveCookie); err != nil {
				st.diag.Error(err.Error())
			}
			return
		}
		st.set(sym, file, symIndex, importIdx, newKind, newWeak)

	case sym.Kind.IsUndefined() && newKind.IsDefined():
		st.checkTypeMatch(sym, newKind)
		st.set(sym, file, symIndex, importIdx, newKind, newWeak)

	case sym.Kind.IsDefined() && newKind.IsUndefined():
		st.checkTypeMatch(sym, newKind)
		// keep the existing definition.

	case sym.Kind.IsDefined() && newKind.IsDefined():
		st.checkTypeMatch(sym, newKind)
		switch {
		case sym.IsWeak && !newWeak:
			st.set(sym, file, symIndex, importIdx, newKind, newWeak)
		case !sym.IsWeak && newWeak:
			// existing strong definition wins over a weak duplicate.
		case sym.IsWeak && newWeak:
			// first weak definition wins.
		default:
			st.diag.Errorf("duplicate symbol %s defined in both %s and %s", sym.Name, sym.File.Name, file.Name)
		}

	case sym.Kind.IsUndefined() && newKind.IsUndefined():
		st.checkTypeMatch(sym, newKind)
		sym.IsWeak = sym.IsWeak && newWeak
	}
}

func (st *SymbolTable) find(name string) *Symbol {
	return st.byName[name]
}

// reportRemainingUndefines fails the link for any symbol that is still
// Undefined once every input has been loaded (an unpulled Lazy symbol is
// never referenced, so it is not reported), unless
// the driver configuration allows it (--allow-undefined, a matching
// --allow-undefined-symbols entry, or --relocatable, which produces
// partial output that is expected to carry unresolved symbols forward).
func (st *SymbolTable) reportRemainingUndefines() {
	if st.cfg.Relocatable || st.cfg.AllowUndefined {
		return
	}
	for _, name := range st.order {
		sym := st.byName[name]
		if sym.Kind != SymUndefinedFunction && sym.Kind != SymUndefinedGlobal {
			continue
		}
		if st.cfg.AllowUndefinedSymbols[name] {
			continue
		}
		st.diag.Errorf("undefined symbol: %s", name)
	}
}

func (st *SymbolTable) diagErr() error {
	if st.diag.ErrorCount > 0 {
		return errLinkFailed
	}
	return nil
}
