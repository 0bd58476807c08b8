package wasmobj

import (
	"bytes"
	"testing"
)

// buildULEB mirrors the encoder in pkg/linker without importing it (that
// would be a cycle); wasmobj only ever needs to decode, but the tests
// need to produce bytes to decode.
func buildULEB(val uint64) []byte {
	var out []byte
	for {
		b := byte(val & 0x7f)
		val >>= 7
		if val != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if val == 0 {
			return out
		}
	}
}

func buildName(s string) []byte {
	return append(buildULEB(uint64(len(s))), []byte(s)...)
}

func section(id byte, payload []byte) []byte {
	return append(append([]byte{id}, buildULEB(uint64(len(payload)))...), payload...)
}

// minimalModule builds a module with one imported function, one defined
// function of type () -> i32 that returns a constant, and a "linking"
// section naming the defined function fn.
func minimalModule(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(wasmMagic)
	buf.Write([]byte{1, 0, 0, 0})

	// TYPE: two entries, () -> () and () -> i32
	typePayload := append(buildULEB(2),
		append([]byte{0x60}, append(buildULEB(0), buildULEB(0)...)...)...)
	typePayload = append(typePayload, 0x60)
	typePayload = append(typePayload, buildULEB(0)...)
	typePayload = append(typePayload, buildULEB(1)...)
	typePayload = append(typePayload, byte(ValueTypeI32))
	buf.Write(section(secType, typePayload))

	// IMPORT: env.imported_fn, type 0
	importPayload := buildULEB(1)
	importPayload = append(importPayload, buildName("env")...)
	importPayload = append(importPayload, buildName("imported_fn")...)
	importPayload = append(importPayload, byte(ExternalFunction))
	importPayload = append(importPayload, buildULEB(0)...)
	buf.Write(section(secImport, importPayload))

	// FUNCTION: one local function of type 1
	buf.Write(section(secFunction, append(buildULEB(1), buildULEB(1)...)))

	// CODE: one function body, empty locals, i32.const 42, end
	body := []byte{0x41}
	body = append(body, buildULEB(42)...)
	body = append(body, 0x0b)
	fn := append(buildULEB(0), body...) // 0 local decls
	fnFramed := append(buildULEB(uint64(len(fn))), fn...)
	codePayload := append(buildULEB(1), fnFramed...)
	buf.Write(section(secCode, codePayload))

	// linking section: one defined function symbol "fn" at absolute index 1
	symtab := buildULEB(1)
	symtab = append(symtab, byte(SymKindFunction))
	symtab = append(symtab, buildULEB(uint64(SymFlagExported))...)
	symtab = append(symtab, buildULEB(1)...) // absolute function index (1 import + local 0)
	symtab = append(symtab, buildName("fn")...)

	linking := buildULEB(2) // version
	linking = append(linking, byte(8))
	linking = append(linking, buildULEB(uint64(len(symtab)))...)
	linking = append(linking, symtab...)

	custom := buildName("linking")
	custom = append(custom, linking...)
	buf.Write(section(secCustom, custom))

	return buf.Bytes()
}

func TestParseMinimalModule(t *testing.T) {
	data := minimalModule(t)
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Types) != 2 {
		t.Fatalf("want 2 types, got %d", len(m.Types))
	}
	if len(m.FunctionImports) != 1 || m.FunctionImports[0].Field != "imported_fn" {
		t.Fatalf("unexpected function imports: %+v", m.FunctionImports)
	}
	if len(m.FuncTypeIndexes) != 1 || m.FuncTypeIndexes[0] != 1 {
		t.Fatalf("unexpected function section: %+v", m.FuncTypeIndexes)
	}
	if len(m.Symbols) != 1 || m.Symbols[0].Name != "fn" || !m.Symbols[0].IsExported() {
		t.Fatalf("unexpected symbols: %+v", m.Symbols)
	}
	prefixLen, body := 0, m.CodeSection
	for prefixLen < len(body) && body[prefixLen]&0x80 != 0 {
		prefixLen++
	}
	prefixLen++
	if len(body) <= prefixLen {
		t.Fatalf("code section too short: %d bytes", len(body))
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse(bytes.NewReader([]byte("not-wasm"))); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseDataSectionPayloadOffsets(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(wasmMagic)
	buf.Write([]byte{1, 0, 0, 0})

	seg1 := []byte("abc")
	seg2 := []byte("de")

	dataPayload := buildULEB(2)
	dataPayload = append(dataPayload, buildULEB(0)...)     // memory index
	dataPayload = append(dataPayload, 0x41)                // i32.const
	dataPayload = append(dataPayload, buildULEB(0)...)     // offset 0
	dataPayload = append(dataPayload, 0x0b)                // end
	dataPayload = append(dataPayload, buildULEB(uint64(len(seg1)))...)
	dataPayload = append(dataPayload, seg1...)

	dataPayload = append(dataPayload, buildULEB(0)...)
	dataPayload = append(dataPayload, 0x41)
	dataPayload = append(dataPayload, buildULEB(16)...)
	dataPayload = append(dataPayload, 0x0b)
	dataPayload = append(dataPayload, buildULEB(uint64(len(seg2)))...)
	dataPayload = append(dataPayload, seg2...)

	buf.Write(section(secData, dataPayload))

	m, err := Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Data) != 2 {
		t.Fatalf("want 2 data segments, got %d", len(m.Data))
	}
	if !bytes.Equal(m.Data[0].Bytes, seg1) || !bytes.Equal(m.Data[1].Bytes, seg2) {
		t.Fatalf("unexpected segment bytes: %+v", m.Data)
	}
	if m.Data[1].PayloadOffset <= m.Data[0].PayloadOffset {
		t.Fatalf("expected second segment's payload offset to follow the first: %+v", m.Data)
	}
}
