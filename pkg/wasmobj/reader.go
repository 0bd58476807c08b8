package wasmobj

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const (
	wasmMagic   = "\x00asm"
	wasmVersion = 1
)

// Section ids from the core wasm binary format.
const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secTable    = 4
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secStart    = 8
	secElement  = 9
	secCode     = 10
	secData     = 11
)

// Parse decodes a relocatable wasm object file into a *Module; callers
// never need to touch its raw section bytes again once parsing returns.
func Parse(r io.Reader) (*Module, error) {
	br := bufio.NewReader(r)

	magic, err := readBytes(br, 4)
	if err != nil {
		return nil, fmt.Errorf("wasmobj: read magic: %w", err)
	}
	if string(magic) != wasmMagic {
		return nil, fmt.Errorf("wasmobj: bad magic")
	}
	version, err := readU32LE(br)
	if err != nil {
		return nil, fmt.Errorf("wasmobj: read version: %w", err)
	}
	if version != wasmVersion {
		return nil, fmt.Errorf("wasmobj: unsupported version %d", version)
	}

	m := &Module{}
	relocSections := map[string][]Reloc{}

	for {
		id, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wasmobj: read section id: %w", err)
		}

		size, _, err := readULEB128(br)
		if err != nil {
			return nil, fmt.Errorf("wasmobj: read section size: %w", err)
		}

		payload, err := readBytes(br, size)
		if err != nil {
			return nil, fmt.Errorf("wasmobj: read section payload: %w", err)
		}
		pr := bufio.NewReader(bytes.NewReader(payload))

		switch id {
		case secCustom:
			name, err := readName(pr)
			if err != nil {
				return nil, fmt.Errorf("wasmobj: custom section name: %w", err)
			}
			switch {
			case name == "linking":
				if err := parseLinkingSection(pr, m); err != nil {
					return nil, fmt.Errorf("wasmobj: linking section: %w", err)
				}
			case name == "reloc.CODE":
				rs, err := parseRelocSection(pr)
				if err != nil {
					return nil, fmt.Errorf("wasmobj: reloc.CODE: %w", err)
				}
				relocSections["CODE"] = rs
			case name == "reloc.DATA":
				rs, err := parseRelocSection(pr)
				if err != nil {
					return nil, fmt.Errorf("wasmobj: reloc.DATA: %w", err)
				}
				relocSections["DATA"] = rs
			default:
				// name, producers, target_features, etc: not needed by the
				// linker core, ignored like any other custom section.
			}
		case secType:
			if m.Types, err = parseTypeSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: type section: %w", err)
			}
		case secImport:
			if m.Imports, err = parseImportSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: import section: %w", err)
			}
		case secFunction:
			if m.FuncTypeIndexes, err = parseFunctionSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: function section: %w", err)
			}
		case secTable:
			if m.Tables, err = parseTableSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: table section: %w", err)
			}
		case secMemory:
			if m.Memories, err = parseMemorySection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: memory section: %w", err)
			}
		case secGlobal:
			if m.Globals, err = parseGlobalSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: global section: %w", err)
			}
		case secExport:
			if m.Exports, err = parseExportSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: export section: %w", err)
			}
		case secStart:
			// consumed, but relocatable object inputs never carry a start
			// entry: it is an output-only concept assigned during linking.
		case secElement:
			if m.Elems, err = parseElementSection(pr); err != nil {
				return nil, fmt.Errorf("wasmobj: element section: %w", err)
			}
		case secCode:
			m.CodeSection = payload
		case secData:
			if m.Data, err = parseDataSection(payload); err != nil {
				return nil, fmt.Errorf("wasmobj: data section: %w", err)
			}
		default:
			return nil, fmt.Errorf("wasmobj: unknown section id %d", id)
		}
	}

	m.CodeRelocs = relocSections["CODE"]
	m.DataRelocs = relocSections["DATA"]
	m.BuildImportViews()
	return m, nil
}

func parseValueType(b byte) ValueType { return ValueType(b) }

func parseTypeSection(r *bufio.Reader) ([]FuncType, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	types := make([]FuncType, 0, count)
	for i := uint64(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if form != 0x60 {
			return nil, fmt.Errorf("invalid func type form 0x%x", form)
		}
		nParams, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		params := make([]ValueType, nParams)
		for j := range params {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			params[j] = parseValueType(b)
		}
		nResults, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		results := make([]ValueType, nResults)
		for j := range results {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			results[j] = parseValueType(b)
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	return types, nil
}

func parseLimits(r *bufio.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	initial, _, err := readULEB128(r)
	if err != nil {
		return Limits{}, err
	}
	lim := Limits{Initial: uint32(initial)}
	if flags&1 != 0 {
		max, _, err := readULEB128(r)
		if err != nil {
			return Limits{}, err
		}
		lim.Max = uint32(max)
		lim.HasMax = true
	}
	return lim, nil
}

func parseImportSection(r *bufio.Reader) ([]Import, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, count)
	for i := uint64(0); i < count; i++ {
		mod, err := readName(r)
		if err != nil {
			return nil, err
		}
		field, err := readName(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		im := Import{Module: mod, Field: field, Kind: ExternalKind(kindByte)}
		switch im.Kind {
		case ExternalFunction:
			idx, _, err := readULEB128(r)
			if err != nil {
				return nil, err
			}
			im.FuncTypeIndex = uint32(idx)
		case ExternalTable:
			elemType, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			_ = elemType
			lim, err := parseLimits(r)
			if err != nil {
				return nil, err
			}
			im.TableLimits = lim
		case ExternalMemory:
			lim, err := parseLimits(r)
			if err != nil {
				return nil, err
			}
			im.MemoryLimits = lim
		case ExternalGlobal:
			t, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			mut, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			im.GlobalType = parseValueType(t)
			im.GlobalMutable = mut != 0
		default:
			return nil, fmt.Errorf("invalid import kind %d", kindByte)
		}
		imports = append(imports, im)
	}
	return imports, nil
}

func parseFunctionSection(r *bufio.Reader) ([]uint32, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		idx, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		out[i] = uint32(idx)
	}
	return out, nil
}

func parseTableSection(r *bufio.Reader) ([]Table, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]Table, count)
	for i := range out {
		elemType, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		lim, err := parseLimits(r)
		if err != nil {
			return nil, err
		}
		out[i] = Table{ElemType: parseValueType(elemType), Limits: lim}
	}
	return out, nil
}

func parseMemorySection(r *bufio.Reader) ([]Memory, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, count)
	for i := range out {
		lim, err := parseLimits(r)
		if err != nil {
			return nil, err
		}
		out[i] = Memory{Limits: lim}
	}
	return out, nil
}

func parseInitExpr(r *bufio.Reader) (InitExpr, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		return InitExpr{}, err
	}
	var e InitExpr
	e.Opcode = InitOpcode(opByte)
	switch e.Opcode {
	case OpI32Const:
		v, _, err := readSLEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.Int32 = int32(v)
	case OpI64Const:
		v, _, err := readSLEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.Int64 = v
	case OpGlobalGet:
		v, _, err := readULEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.GlobalIdx = uint32(v)
	default:
		return InitExpr{}, fmt.Errorf("unsupported init expr opcode 0x%x", opByte)
	}
	end, err := r.ReadByte()
	if err != nil {
		return InitExpr{}, err
	}
	if end != 0x0b {
		return InitExpr{}, fmt.Errorf("init expr missing end opcode")
	}
	return e, nil
}

func parseGlobalSection(r *bufio.Reader) ([]Global, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]Global, count)
	for i := range out {
		t, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		init, err := parseInitExpr(r)
		if err != nil {
			return nil, err
		}
		out[i] = Global{Type: parseValueType(t), Mutable: mut != 0, Init: init}
	}
	return out, nil
}

func parseExportSection(r *bufio.Reader) ([]Export, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]Export, count)
	for i := range out {
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		idx, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		out[i] = Export{Name: name, Kind: ExternalKind(kindByte), Index: uint32(idx)}
	}
	return out, nil
}

func parseElementSection(r *bufio.Reader) ([]ElemSegment, error) {
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]ElemSegment, count)
	for i := range out {
		tableIdx, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		offset, err := parseInitExpr(r)
		if err != nil {
			return nil, err
		}
		n, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		fns := make([]uint32, n)
		for j := range fns {
			idx, _, err := readULEB128(r)
			if err != nil {
				return nil, err
			}
			fns[j] = uint32(idx)
		}
		out[i] = ElemSegment{TableIndex: uint32(tableIdx), Offset: offset, Functions: fns}
	}
	return out, nil
}

// parseDataSection takes the raw section payload directly (rather than
// the shared bufio.Reader every other section parser uses) so it can
// track each segment's byte payload offset via bytes.Reader.Len() — the
// same offset numbering reloc.DATA's Reloc.Offset values are expressed
// in, needed later to locate which segment a data relocation falls in.
func parseDataSection(payload []byte) ([]DataSegment, error) {
	br := bytes.NewReader(payload)
	count, _, err := readULEB128(br)
	if err != nil {
		return nil, err
	}
	out := make([]DataSegment, count)
	for i := range out {
		memIdx, _, err := readULEB128(br)
		if err != nil {
			return nil, err
		}
		offset, err := parseInitExprBytes(br)
		if err != nil {
			return nil, err
		}
		n, _, err := readULEB128(br)
		if err != nil {
			return nil, err
		}
		payloadOffset := uint32(len(payload) - br.Len())
		bs, err := readBytes(br, n)
		if err != nil {
			return nil, err
		}
		out[i] = DataSegment{MemoryIndex: uint32(memIdx), Offset: offset, Bytes: bs, PayloadOffset: payloadOffset}
	}
	return out, nil
}

// parseInitExprBytes is parseInitExpr generalized over lebReader so
// parseDataSection can call it from its bytes.Reader-based cursor.
func parseInitExprBytes(r lebReader) (InitExpr, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		return InitExpr{}, err
	}
	var e InitExpr
	e.Opcode = InitOpcode(opByte)
	switch e.Opcode {
	case OpI32Const:
		v, _, err := readSLEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.Int32 = int32(v)
	case OpI64Const:
		v, _, err := readSLEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.Int64 = v
	case OpGlobalGet:
		v, _, err := readULEB128(r)
		if err != nil {
			return InitExpr{}, err
		}
		e.GlobalIdx = uint32(v)
	default:
		return InitExpr{}, fmt.Errorf("unsupported init expr opcode 0x%x", opByte)
	}
	end, err := r.ReadByte()
	if err != nil {
		return InitExpr{}, err
	}
	if end != 0x0b {
		return InitExpr{}, fmt.Errorf("init expr missing end opcode")
	}
	return e, nil
}

const (
	linkingSubsecSegmentInfo  = 5
	linkingSubsecInitFuncs    = 6
	linkingSubsecComdatInfo   = 7
	linkingSubsecSymbolTable  = 8
)

func parseLinkingSection(r *bufio.Reader, m *Module) error {
	_, _, err := readULEB128(r) // version
	if err != nil {
		return err
	}
	for {
		idByte, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		size, _, err := readULEB128(r)
		if err != nil {
			return err
		}
		payload, err := readBytes(r, size)
		if err != nil {
			return err
		}
		if idByte != linkingSubsecSymbolTable {
			continue
		}

		sr := bufio.NewReader(bytes.NewReader(payload))
		count, _, err := readULEB128(sr)
		if err != nil {
			return err
		}
		syms := make([]SymbolInfo, 0, count)
		for i := uint64(0); i < count; i++ {
			kindByte, err := sr.ReadByte()
			if err != nil {
				return err
			}
			flags, _, err := readULEB128(sr)
			if err != nil {
				return err
			}
			sym := SymbolInfo{Kind: SymbolKind(kindByte), Flags: uint32(flags)}

			switch sym.Kind {
			case SymKindFunction, SymKindGlobal:
				idx, _, err := readULEB128(sr)
				if err != nil {
					return err
				}
				sym.Index = uint32(idx)
				if !sym.IsUndefined() {
					name, err := readName(sr)
					if err != nil {
						return err
					}
					sym.Name = name
				}
			case SymKindData:
				name, err := readName(sr)
				if err != nil {
					return err
				}
				sym.Name = name
				if !sym.IsUndefined() {
					segIdx, _, err := readULEB128(sr)
					if err != nil {
						return err
					}
					off, _, err := readULEB128(sr)
					if err != nil {
						return err
					}
					size, _, err := readULEB128(sr)
					if err != nil {
						return err
					}
					sym.DataSegmentIndex = uint32(segIdx)
					sym.DataOffset = uint32(off)
					sym.DataSize = uint32(size)
				}
			default:
				return fmt.Errorf("unknown linking symbol kind %d", kindByte)
			}
			syms = append(syms, sym)
		}
		m.Symbols = syms
	}
}

func parseRelocSection(r *bufio.Reader) ([]Reloc, error) {
	_, _, err := readULEB128(r) // target section index, unused: caller knows CODE vs DATA
	if err != nil {
		return nil, err
	}
	count, _, err := readULEB128(r)
	if err != nil {
		return nil, err
	}
	out := make([]Reloc, count)
	for i := range out {
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		offset, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		index, _, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		rel := Reloc{Type: RelocType(typeByte), Offset: uint32(offset), Index: uint32(index)}
		switch rel.Type {
		case RelocMemoryAddrLEB, RelocMemoryAddrSLEB, RelocMemoryAddrI32:
			addend, _, err := readSLEB128(r)
			if err != nil {
				return nil, err
			}
			rel.Addend = int32(addend)
		}
		out[i] = rel
	}
	return out, nil
}
