package linker

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/winksaville/lld/pkg/utils"
	"github.com/winksaville/lld/pkg/wasmobj"
)

const (
	dataAlign = 16
	wasmMagic = "\x00asm"
)

// Writer turns a resolved SymbolTable and its Objects into the final
// wasm binary, in five phases: calculateImports, calculateOffsets,
// assignSymbolIndexes, layoutMemory, emit.
type Writer struct {
	cfg  *Config
	diag *Diagnostics
	st   *SymbolTable

	functionImports []wasmobj.Import
	globalImports   []wasmobj.Import

	memoryInitialPages uint32

	// totalTableLength and elemFunctions are Phase B's per-object table
	// and element-segment accumulation: the single merged
	// table's length is the sum of each input's own declared table, and
	// the ELEM section is the raw concatenation of each input's element
	// segment functions, written unmapped.
	totalTableLength uint32
	elemFunctions    []uint32

	exports []wasmobj.Export

	forcedExport map[string]bool
}

func NewWriter(cfg *Config, diag *Diagnostics, st *SymbolTable) *Writer {
	return &Writer{cfg: cfg, diag: diag, st: st}
}

// Link runs every phase and returns the finished module bytes.
func (w *Writer) Link() ([]byte, error) {
	if w.diag.ErrorCount > 0 {
		return nil, errLinkFailed
	}
	w.calculateImports()
	w.calculateOffsets()
	w.assignSymbolIndexes()
	w.layoutMemory()
	w.buildExports()
	if w.diag.ErrorCount > 0 {
		return nil, errLinkFailed
	}
	return w.emit()
}

// calculateImports decides the final IMPORT section content: every
// symbol that never got defined anywhere becomes an import, in the
// order it was first sighted, taking dense indices at the front of its
// index space. A symbol with no owning file at all (a driver-synthesized
// reference, such as the entry point, left unresolved under
// --allow-undefined) carries no import shape of its own and is skipped;
// it stays an undefined symbol name with no IMPORT section entry.
func (w *Writer) calculateImports() {
	for _, name := range w.st.order {
		sym := w.st.find(name)
		if sym.Kind.IsUndefined() && sym.File == nil {
			continue
		}
		switch sym.Kind {
		case SymUndefinedFunction:
			im := sym.File.Module.FunctionImports[sym.ImportIndex]
			sym.AssignIndex(uint32(len(w.functionImports)))
			w.functionImports = append(w.functionImports, wasmobj.Import{
				Module:        "env",
				Field:         sym.Name,
				Kind:          wasmobj.ExternalFunction,
				FuncTypeIndex: sym.File.relocateTypeIndex(im.FuncTypeIndex),
			})
		case SymUndefinedGlobal:
			im := sym.File.Module.GlobalImports[sym.ImportIndex]
			sym.AssignIndex(uint32(len(w.globalImports)))
			w.globalImports = append(w.globalImports, wasmobj.Import{
				Module:        "env",
				Field:         sym.Name,
				Kind:          wasmobj.ExternalGlobal,
				GlobalType:    im.GlobalType,
				GlobalMutable: im.GlobalMutable,
			})
		}
	}
}

// calculateOffsets walks every Object in load order, assigns it a base
// offset into each merged index space, validates its memory/table/elem
// shape, and accumulates the single merged table's length and element
// list. Global indices are only accumulated per object for a
// --relocatable output, which carries every input's globals forward;
// a non-relocatable output carries only the synthetic globals the
// driver creates (the stack pointer), so per-object globals are
// dropped rather than merged.
func (w *Writer) calculateOffsets() {
	nextType := uint32(0)
	nextFunc := uint32(len(w.functionImports))
	nextGlobal := uint32(len(w.globalImports))

	for _, sg := range w.cfg.SyntheticGlobals {
		sg.Symbol.AssignIndex(nextGlobal)
		nextGlobal++
	}

	codeOffset := uint32(0)
	for _, obj := range w.st.Objects {
		obj.TypeIndexOffset = nextType
		nextType += uint32(len(obj.Module.Types))

		obj.FunctionIndexOffset = nextFunc
		nextFunc += uint32(len(obj.Module.FuncTypeIndexes))

		if w.cfg.Relocatable {
			obj.GlobalIndexOffset = nextGlobal
			nextGlobal += uint32(len(obj.Module.Globals))
		}

		if len(obj.Module.Memories) > 1 {
			w.diag.Fatalf("%s: more than one memory per object is not supported", obj.Name)
		}
		if len(obj.Module.Tables) > 1 {
			w.diag.Fatalf("%s: more than one table per object is not supported", obj.Name)
		}
		if len(obj.Module.Elems) > 1 {
			w.diag.Fatalf("%s: more than one element segment per object is not supported", obj.Name)
		}
		if len(obj.Module.Tables) == 1 {
			w.totalTableLength += obj.Module.Tables[0].Limits.Initial
		}
		for _, elem := range obj.Module.Elems {
			if elem.TableIndex != 0 {
				w.diag.Fatalf("%s: element segment references table %d, only table 0 is supported", obj.Name, elem.TableIndex)
			}
			if elem.Offset.Int32 != 0 {
				w.diag.Fatalf("%s: element segment has non-zero offset %d, only offset 0 is supported", obj.Name, elem.Offset.Int32)
			}
			w.elemFunctions = append(w.elemFunctions, elem.Functions...)
		}

		prefixLen, body := stripFunctionCountPrefix(obj.Module.CodeSection)
		obj.CodePrefixLen = prefixLen
		obj.CodeBody = append([]byte(nil), body...) // own copy: relocations mutate in place
		obj.CodeSectionOffset = codeOffset
		codeOffset += uint32(len(obj.CodeBody))
	}
}

// stripFunctionCountPrefix returns the leading ULEB128 function-count's
// byte length and the remaining function-body bytes.
func stripFunctionCountPrefix(codeSection []byte) (int, []byte) {
	n := 0
	for n < len(codeSection) {
		if codeSection[n]&0x80 == 0 {
			n++
			break
		}
		n++
	}
	return n, codeSection[n:]
}

// assignSymbolIndexes gives every still-unindexed defined symbol its
// output index, derived from its owning object's offsets computed above.
func (w *Writer) assignSymbolIndexes() {
	for _, name := range w.st.order {
		sym := w.st.find(name)
		if sym.IndexAssigned {
			continue
		}
		switch sym.Kind {
		case SymDefinedFunction:
			info := &sym.File.Module.Symbols[sym.SymIndex]
			local := info.Index - uint32(len(sym.File.Module.FunctionImports))
			sym.AssignIndex(sym.File.FunctionIndexOffset + local)
		case SymDefinedGlobal:
			info := &sym.File.Module.Symbols[sym.SymIndex]
			local := info.Index - uint32(len(sym.File.Module.GlobalImports))
			sym.AssignIndex(sym.File.GlobalIndexOffset + local)
		}
	}
}

// layoutMemory reserves page 0, places the stack above it for an
// executable output, then walks every object in load order handing out
// one page-aligned slab per declared memory for its static data. A
// --relocatable output carries no stack of its own (the eventual
// executable link that consumes it lays out the stack), and an object
// that declares no memory (or an empty one) gets no data offset at all.
func (w *Writer) layoutMemory() {
	addr := uint64(WasmPageSize) // page 0 is reserved

	if !w.cfg.Relocatable {
		stackSize := w.cfg.StackSize
		if stackSize == 0 {
			stackSize = WasmPageSize
		}
		addr += stackSize
		// The stack grows downward from its top; write the computed
		// top back into the synthetic global every object's prologue
		// initializes __stack_pointer from.
		for i, sg := range w.cfg.SyntheticGlobals {
			if sg.Symbol.Name == "__stack_pointer" {
				w.cfg.SyntheticGlobals[i].Init = int64(addr)
			}
		}
	}

	for _, obj := range w.st.Objects {
		if len(obj.Module.Memories) == 0 || obj.Module.Memories[0].Limits.Initial == 0 {
			continue
		}
		obj.DataOffset = addr
		addr += uint64(obj.Module.Memories[0].Limits.Initial) * WasmPageSize
	}

	// --initial-memory and --max-memory are both accepted on the command
	// line but, matching the original writer this is grounded on, never
	// feed into TotalMemoryPages: only page 0, the stack, and each
	// object's own declared memory size affect layout.
	w.memoryInitialPages = uint32(utils.AlignTo(addr, WasmPageSize) / WasmPageSize)
}

// buildExports assembles the EXPORT section: linear memory is always
// exported, the entry point is exported under its configured external
// name, and any symbol an input object flagged WASM_SYM_EXPORTED is
// carried through under its own name.
func (w *Writer) buildExports() {
	w.forcedExport = map[string]bool{}
	for _, name := range w.cfg.ExtraExports {
		w.forcedExport[name] = true
	}

	w.exports = append(w.exports, wasmobj.Export{Name: "memory", Kind: wasmobj.ExternalMemory, Index: 0})

	exported := map[string]bool{}
	if w.cfg.EntrySymbol != "" {
		entry := w.st.find(w.cfg.EntrySymbol)
		if entry != nil && entry.Kind == SymDefinedFunction {
			w.exports = append(w.exports, wasmobj.Export{Name: w.cfg.ExportEntryAs, Kind: wasmobj.ExternalFunction, Index: entry.OutputIndex})
			exported[w.cfg.EntrySymbol] = true
		} else if !w.cfg.Relocatable {
			w.diag.Warn(fmt.Sprintf("entry symbol not defined: %s", w.cfg.EntrySymbol))
		}
	}

	for _, name := range w.st.order {
		if exported[name] {
			continue
		}
		sym := w.st.find(name)
		if sym.Kind != SymDefinedFunction && sym.Kind != SymDefinedGlobal {
			continue
		}
		forced := w.forcedExport[name]
		if sym.SymIndex >= 0 {
			info := &sym.File.Module.Symbols[sym.SymIndex]
			if !info.IsExported() && !forced {
				continue
			}
		} else if !forced {
			continue
		}
		kind := wasmobj.ExternalFunction
		if sym.Kind == SymDefinedGlobal {
			kind = wasmobj.ExternalGlobal
		}
		w.exports = append(w.exports, wasmobj.Export{Name: name, Kind: kind, Index: sym.OutputIndex})
		exported[name] = true
	}

	for _, name := range w.cfg.ExtraExports {
		if exported[name] {
			continue
		}
		w.diag.Warn(fmt.Sprintf("--export: symbol not defined, cannot export: %s", name))
	}
}

// emit assembles the finished module: magic, version, then every
// standard section in wasm's fixed canonical order, ending with the
// custom sections (reloc.CODE, reloc.DATA, linking, name) this linker
// chooses to carry forward.
func (w *Writer) emit() ([]byte, error) {
	out := &bytes.Buffer{}
	out.WriteString(wasmMagic)
	if err := writeU32LE(out, 1); err != nil {
		return nil, err
	}

	if err := w.emitTypeSection(out); err != nil {
		return nil, err
	}
	if err := w.emitImportSection(out); err != nil {
		return nil, err
	}
	nLocalFuncs, err := w.emitFunctionSection(out)
	if err != nil {
		return nil, err
	}
	if err := w.emitTableSection(out); err != nil {
		return nil, err
	}
	if err := w.emitMemorySection(out); err != nil {
		return nil, err
	}
	if err := w.emitGlobalSection(out); err != nil {
		return nil, err
	}
	if err := w.emitExportSection(out); err != nil {
		return nil, err
	}
	if err := w.emitElementSection(out); err != nil {
		return nil, err
	}
	relocatedCode, codeSecIdx, err := w.emitCodeSection(out, nLocalFuncs)
	if err != nil {
		return nil, err
	}
	relocatedData, dataSecIdx, err := w.emitDataSection(out)
	if err != nil {
		return nil, err
	}

	if w.cfg.EmitRelocs || w.cfg.Relocatable {
		if err := w.emitRelocSection(out, "reloc.CODE", codeSecIdx, relocatedCode); err != nil {
			return nil, err
		}
		if err := w.emitRelocSection(out, "reloc.DATA", dataSecIdx, relocatedData); err != nil {
			return nil, err
		}
	}
	if w.cfg.Relocatable {
		if err := w.emitLinkingSection(out); err != nil {
			return nil, err
		}
	}
	if !w.cfg.StripAll && !w.cfg.StripDebug {
		if err := w.emitNameSection(out); err != nil {
			return nil, err
		}
	}

	return out.Bytes(), nil
}

func (w *Writer) emitTypeSection(out *bytes.Buffer) error {
	var buf bytes.Buffer
	total := 0
	for _, obj := range w.st.Objects {
		total += len(obj.Module.Types)
	}
	if total == 0 {
		return nil
	}
	writeULEB128(&buf, uint64(total))
	for _, obj := range w.st.Objects {
		for _, t := range obj.Module.Types {
			buf.WriteByte(0x60)
			writeULEB128(&buf, uint64(len(t.Params)))
			for _, p := range t.Params {
				buf.WriteByte(byte(p))
			}
			writeULEB128(&buf, uint64(len(t.Results)))
			for _, r := range t.Results {
				buf.WriteByte(byte(r))
			}
		}
	}
	return writeSection(out, wasmobj.SecType, buf.Bytes())
}

func (w *Writer) emitImportSection(out *bytes.Buffer) error {
	total := len(w.functionImports) + len(w.globalImports)
	if total == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeULEB128(&buf, uint64(total))
	for _, im := range w.functionImports {
		writeName(&buf, im.Module)
		writeName(&buf, im.Field)
		buf.WriteByte(byte(wasmobj.ExternalFunction))
		writeULEB128(&buf, uint64(im.FuncTypeIndex))
	}
	for _, im := range w.globalImports {
		writeName(&buf, im.Module)
		writeName(&buf, im.Field)
		buf.WriteByte(byte(wasmobj.ExternalGlobal))
		buf.WriteByte(byte(im.GlobalType))
		if im.GlobalMutable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return writeSection(out, wasmobj.SecImport, buf.Bytes())
}

func (w *Writer) emitFunctionSection(out *bytes.Buffer) (int, error) {
	var buf bytes.Buffer
	n := 0
	for _, obj := range w.st.Objects {
		n += len(obj.Module.FuncTypeIndexes)
	}
	if n == 0 {
		return 0, nil
	}
	writeULEB128(&buf, uint64(n))
	for _, obj := range w.st.Objects {
		for _, t := range obj.Module.FuncTypeIndexes {
			writeULEB128(&buf, uint64(obj.relocateTypeIndex(t)))
		}
	}
	return n, writeSection(out, wasmobj.SecFunction, buf.Bytes())
}

func (w *Writer) emitTableSection(out *bytes.Buffer) error {
	if w.totalTableLength == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeULEB128(&buf, 1) // one table
	buf.WriteByte(byte(wasmobj.ValueTypeFuncref))
	buf.WriteByte(1) // flags: has max
	writeULEB128(&buf, uint64(w.totalTableLength))
	writeULEB128(&buf, uint64(w.totalTableLength))
	return writeSection(out, wasmobj.SecTable, buf.Bytes())
}

// emitMemorySection writes exactly one memory with limits flags always
// 0 (initial only, no declared max), matching the original wasm writer
// this linker is grounded on: neither --max-memory nor --initial-memory
// is written into the MEMORY section or read by layoutMemory.
func (w *Writer) emitMemorySection(out *bytes.Buffer) error {
	var buf bytes.Buffer
	writeULEB128(&buf, 1) // one memory
	buf.WriteByte(0)
	writeULEB128(&buf, uint64(w.memoryInitialPages))
	return writeSection(out, wasmobj.SecMemory, buf.Bytes())
}

func writeConstInitExpr(buf *bytes.Buffer, valType wasmobj.ValueType, val int64) {
	if valType == wasmobj.ValueTypeI64 {
		buf.WriteByte(byte(wasmobj.OpI64Const))
	} else {
		buf.WriteByte(byte(wasmobj.OpI32Const))
	}
	writeSLEB128(buf, val)
	buf.WriteByte(0x0b)
}

func (w *Writer) emitGlobalSection(out *bytes.Buffer) error {
	n := len(w.cfg.SyntheticGlobals)
	if w.cfg.Relocatable {
		for _, obj := range w.st.Objects {
			n += len(obj.Module.Globals)
		}
	}
	if n == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeULEB128(&buf, uint64(n))

	for _, sg := range w.cfg.SyntheticGlobals {
		buf.WriteByte(byte(sg.Type))
		if sg.Mutable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeConstInitExpr(&buf, sg.Type, sg.Init)
	}

	if !w.cfg.Relocatable {
		return writeSection(out, wasmobj.SecGlobal, buf.Bytes())
	}
	for _, obj := range w.st.Objects {
		for _, g := range obj.Module.Globals {
			buf.WriteByte(byte(g.Type))
			if g.Mutable {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			switch g.Init.Opcode {
			case wasmobj.OpI32Const:
				writeConstInitExpr(&buf, wasmobj.ValueTypeI32, int64(g.Init.Int32))
			case wasmobj.OpI64Const:
				writeConstInitExpr(&buf, wasmobj.ValueTypeI64, g.Init.Int64)
			case wasmobj.OpGlobalGet:
				buf.WriteByte(byte(wasmobj.OpGlobalGet))
				writeULEB128(&buf, uint64(obj.relocateGlobalIndex(g.Init.GlobalIdx)))
				buf.WriteByte(0x0b)
			}
		}
	}
	return writeSection(out, wasmobj.SecGlobal, buf.Bytes())
}

func (w *Writer) emitExportSection(out *bytes.Buffer) error {
	var buf bytes.Buffer
	writeULEB128(&buf, uint64(len(w.exports)))
	for _, e := range w.exports {
		writeName(&buf, e.Name)
		buf.WriteByte(byte(e.Kind))
		writeULEB128(&buf, uint64(e.Index))
	}
	return writeSection(out, wasmobj.SecExport, buf.Bytes())
}

// emitElementSection writes the single merged ELEM segment: table index
// 0, offset i32.const 0, then every input element segment's function
// indices concatenated in input order. Indices are written unmapped:
// callers are expected to have table-relative references already.
func (w *Writer) emitElementSection(out *bytes.Buffer) error {
	if len(w.elemFunctions) == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeULEB128(&buf, 1) // one segment
	writeULEB128(&buf, 0) // table index 0
	buf.WriteByte(byte(wasmobj.OpI32Const))
	writeSLEB128(&buf, 0)
	buf.WriteByte(0x0b)
	writeULEB128(&buf, uint64(len(w.elemFunctions)))
	for _, fn := range w.elemFunctions {
		writeULEB128(&buf, uint64(fn))
	}
	return writeSection(out, wasmobj.SecElement, buf.Bytes())
}

// relocRecord is a resolved relocation restated in the merged output's
// coordinate space, kept so reloc.CODE/reloc.DATA can mirror it back out
// for a subsequent --relocatable pass.
type relocRecord struct {
	Type   wasmobj.RelocType
	Offset uint32
	Index  uint32
	Addend int32
}

func (w *Writer) emitCodeSection(out *bytes.Buffer, nLocalFuncs int) ([]relocRecord, int, error) {
	sectionIndex := w.sectionOrdinal(false)
	if nLocalFuncs == 0 {
		return nil, sectionIndex, nil
	}

	var buf bytes.Buffer
	writeULEB128(&buf, uint64(nLocalFuncs))

	var records []relocRecord
	for _, obj := range w.st.Objects {
		rc := &relocContext{obj: obj}
		for _, rel := range obj.Module.CodeRelocs {
			localOff := int64(rel.Offset) - int64(obj.CodePrefixLen)
			if localOff < 0 || localOff >= int64(len(obj.CodeBody)) {
				continue
			}
			if err := applyCodeReloc(rc, obj.CodeBody, uint32(localOff), rel); err != nil {
				w.diag.Error(err.Error())
				continue
			}
			records = append(records, relocRecord{
				Type:   rel.Type,
				Offset: obj.CodeSectionOffset + uint32(localOff),
				Index:  relocatedIndex(obj, rel),
				Addend: rel.Addend,
			})
		}
		buf.Write(obj.CodeBody)
	}
	// The size of the leading function-count ULEB128 shifts every
	// merged offset by a fixed amount; correct it now that the final
	// count (and therefore its own width) is known.
	shift := uint32(uleb128Size(uint64(nLocalFuncs)))
	for i := range records {
		records[i].Offset += shift
	}

	return records, sectionIndex, writeSection(out, wasmobj.SecCode, buf.Bytes())
}

// relocatedIndex recomputes the post-link value a relocation's Index
// field resolves to, matching whichever branch applyCodeReloc took.
func relocatedIndex(obj *Object, rel wasmobj.Reloc) uint32 {
	switch rel.Type {
	case wasmobj.RelocFunctionIndexLEB:
		return obj.relocateFunctionIndex(rel.Index)
	case wasmobj.RelocTypeIndexLEB:
		return obj.relocateTypeIndex(rel.Index)
	case wasmobj.RelocGlobalIndexLEB:
		return obj.relocateGlobalIndex(rel.Index)
	case wasmobj.RelocTableIndexSLEB:
		return obj.relocateTableIndex(rel.Index)
	default:
		return rel.Index
	}
}

func (w *Writer) emitDataSection(out *bytes.Buffer) ([]relocRecord, int, error) {
	sectionIndex := w.sectionOrdinal(true)

	total := 0
	for _, obj := range w.st.Objects {
		total += len(obj.Module.Data)
	}
	if total == 0 {
		return nil, sectionIndex, nil
	}

	var buf bytes.Buffer
	writeULEB128(&buf, uint64(total))

	var records []relocRecord

	for _, obj := range w.st.Objects {
		rc := &relocContext{obj: obj}
		for si := range obj.Module.Data {
			seg := &obj.Module.Data[si]
			bs := append([]byte(nil), seg.Bytes...)
			addr := int32(obj.DataOffset) + seg.Offset.Int32
			writeULEB128(&buf, 0) // memory index 0
			buf.WriteByte(byte(wasmobj.OpI32Const))
			writeSLEB128(&buf, int64(addr))
			buf.WriteByte(0x0b)
			writeULEB128(&buf, uint64(len(bs)))
			// Output relocation offsets count from the start of the DATA
			// payload, where this segment's bytes begin right here.
			segStart := uint32(buf.Len())
			for _, rel := range obj.Module.DataRelocs {
				if rel.Offset < seg.PayloadOffset || rel.Offset >= seg.PayloadOffset+uint32(len(seg.Bytes)) {
					continue
				}
				localOff := rel.Offset - seg.PayloadOffset
				if err := applyDataReloc(rc, bs, localOff, rel); err != nil {
					w.diag.Error(err.Error())
					continue
				}
				records = append(records, relocRecord{
					Type:   rel.Type,
					Offset: segStart + localOff,
					Index:  relocatedIndex(obj, rel),
					Addend: rel.Addend,
				})
			}
			buf.Write(bs)
		}
	}

	return records, sectionIndex, writeSection(out, wasmobj.SecData, buf.Bytes())
}

// sectionOrdinal returns the 0-based index a would-be section occupies
// among the sections this linker actually emits, following the fixed
// canonical order (TYPE, IMPORT, FUNCTION, TABLE, MEMORY, GLOBAL,
// EXPORT, ELEMENT, CODE, DATA; a section with nothing to say is
// skipped entirely rather than emitted empty). isData selects DATA's
// ordinal instead of CODE's.
func (w *Writer) sectionOrdinal(isData bool) int {
	haveTypes, haveFuncs := false, false
	haveGlobals := len(w.cfg.SyntheticGlobals) > 0
	for _, obj := range w.st.Objects {
		haveTypes = haveTypes || len(obj.Module.Types) > 0
		haveFuncs = haveFuncs || len(obj.Module.FuncTypeIndexes) > 0
		haveGlobals = haveGlobals || (w.cfg.Relocatable && len(obj.Module.Globals) > 0)
	}

	idx := 0
	if haveTypes {
		idx++
	}
	if len(w.functionImports)+len(w.globalImports) > 0 {
		idx++
	}
	if haveFuncs {
		idx++
	}
	if w.totalTableLength > 0 {
		idx++
	}
	idx++ // memory: always emitted
	if haveGlobals {
		idx++
	}
	idx++ // exports: always emitted
	if len(w.elemFunctions) > 0 {
		idx++
	}
	if isData && haveFuncs {
		idx++ // code's own ordinal precedes data's
	}
	return idx
}

func (w *Writer) emitRelocSection(out *bytes.Buffer, name string, sectionIndex int, records []relocRecord) error {
	if len(records) == 0 {
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Offset < records[j].Offset })
	var body []byte
	bw := newByteWriter(&body)
	writeULEB128(bw, uint64(sectionIndex))
	writeULEB128(bw, uint64(len(records)))
	for _, r := range records {
		bw.Write([]byte{byte(r.Type)})
		writeULEB128(bw, uint64(r.Offset))
		writeULEB128(bw, uint64(r.Index))
		switch r.Type {
		case wasmobj.RelocMemoryAddrLEB, wasmobj.RelocMemoryAddrSLEB, wasmobj.RelocMemoryAddrI32:
			writeSLEB128(bw, int64(r.Addend))
		}
	}
	return writeCustomSection(out, name, body)
}

// emitLinkingSection writes a minimal WASM_SYMBOL_TABLE subsection so a
// --relocatable output can itself be fed back into this linker as an
// input object, round-tripping the symbols it still leaves undefined.
func (w *Writer) emitLinkingSection(out *bytes.Buffer) error {
	var body []byte
	bw := newByteWriter(&body)
	writeULEB128(bw, 2) // linking section version

	var symtab []byte
	sw := newByteWriter(&symtab)

	var defined []*Symbol
	for _, name := range w.st.order {
		sym := w.st.find(name)
		if sym.Kind == SymDefinedFunction || sym.Kind == SymDefinedGlobal ||
			sym.Kind == SymUndefinedFunction || sym.Kind == SymUndefinedGlobal {
			defined = append(defined, sym)
		}
	}
	writeULEB128(sw, uint64(len(defined)))
	for _, sym := range defined {
		kind := wasmobj.SymKindFunction
		if sym.Kind == SymDefinedGlobal || sym.Kind == SymUndefinedGlobal {
			kind = wasmobj.SymKindGlobal
		}
		sw.Write([]byte{byte(kind)})
		var flags uint64
		if sym.IsWeak {
			flags |= uint64(wasmobj.SymFlagWeak)
		}
		if sym.Kind.IsUndefined() {
			flags |= uint64(wasmobj.SymFlagUndefined)
		}
		writeULEB128(sw, flags)
		writeULEB128(sw, uint64(sym.OutputIndex))
		if !sym.Kind.IsUndefined() {
			writeName(sw, sym.Name)
		}
	}

	bw.Write([]byte{8}) // WASM_SYMBOL_TABLE subsection id
	writeULEB128(bw, uint64(len(symtab)))
	bw.Write(symtab)

	return writeCustomSection(out, "linking", body)
}

func (w *Writer) emitNameSection(out *bytes.Buffer) error {
	type entry struct {
		idx  uint32
		name string
	}
	var entries []entry
	for _, im := range w.functionImports {
		// import indices were assigned densely from 0; recover via the
		// same order they were appended in.
		entries = append(entries, entry{idx: uint32(len(entries)), name: im.Field})
	}
	for _, name := range w.st.order {
		sym := w.st.find(name)
		if sym.Kind == SymDefinedFunction {
			entries = append(entries, entry{idx: sym.OutputIndex, name: sym.Name})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	var funcNames []byte
	fw := newByteWriter(&funcNames)
	writeULEB128(fw, uint64(len(entries)))
	for _, e := range entries {
		writeULEB128(fw, uint64(e.idx))
		writeName(fw, e.name)
	}

	var body []byte
	bw := newByteWriter(&body)
	bw.Write([]byte{1}) // function names subsection id
	writeULEB128(bw, uint64(len(funcNames)))
	bw.Write(funcNames)

	return writeCustomSection(out, "name", body)
}
