package linker

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/winksaville/lld/pkg/wasmobj"
)

// buildWasmObjectBytes assembles a real, minimal wasm object (via the
// same encoder helpers the Writer itself uses) defining a single
// no-argument, no-result function named symName, so it round-trips
// through the actual wasmobj.Parse reader instead of a hand-built
// *wasmobj.Module.
func buildWasmObjectBytes(t *testing.T, symName string) []byte {
	t.Helper()
	var out bytes.Buffer
	out.WriteString(wasmMagic)
	if err := writeU32LE(&out, 1); err != nil {
		t.Fatal(err)
	}

	var typePayload bytes.Buffer
	writeULEB128(&typePayload, 1)
	typePayload.WriteByte(0x60)
	writeULEB128(&typePayload, 0)
	writeULEB128(&typePayload, 0)
	if err := writeSection(&out, wasmobj.SecType, typePayload.Bytes()); err != nil {
		t.Fatal(err)
	}

	var funcPayload bytes.Buffer
	writeULEB128(&funcPayload, 1)
	writeULEB128(&funcPayload, 0)
	if err := writeSection(&out, wasmobj.SecFunction, funcPayload.Bytes()); err != nil {
		t.Fatal(err)
	}

	var codePayload bytes.Buffer
	writeULEB128(&codePayload, 1)
	fn := []byte{0, 0x0b} // 0 local decls, then end
	writeULEB128(&codePayload, uint64(len(fn)))
	codePayload.Write(fn)
	if err := writeSection(&out, wasmobj.SecCode, codePayload.Bytes()); err != nil {
		t.Fatal(err)
	}

	var symtab bytes.Buffer
	writeULEB128(&symtab, 1)
	symtab.WriteByte(byte(wasmobj.SymKindFunction))
	writeULEB128(&symtab, uint64(wasmobj.SymFlagExported))
	writeULEB128(&symtab, 0) // absolute function index: no imports, local 0
	if err := writeName(&symtab, symName); err != nil {
		t.Fatal(err)
	}

	var linking bytes.Buffer
	writeULEB128(&linking, 2) // linking section version
	linking.WriteByte(8)      // WASM_SYMBOL_TABLE subsection id
	writeULEB128(&linking, uint64(symtab.Len()))
	linking.Write(symtab.Bytes())
	if err := writeCustomSection(&out, "linking", linking.Bytes()); err != nil {
		t.Fatal(err)
	}

	return out.Bytes()
}

// arMember frames one member's header + body per the Unix ar format,
// padding the body to an even length as real archives do.
func arMember(name string, data []byte) []byte {
	var hdr [60]byte
	for i := range hdr {
		hdr[i] = ' '
	}
	copy(hdr[0:], name+"/")
	copy(hdr[48:58], []byte(fmt.Sprintf("%-10d", len(data))))
	hdr[58], hdr[59] = '`', '\n'

	buf := append([]byte{}, hdr[:]...)
	buf = append(buf, data...)
	if len(data)%2 == 1 {
		buf = append(buf, '\n')
	}
	return buf
}

func buildArchive(members map[string][]byte, order []string) []byte {
	buf := []byte("!<arch>\n")
	for _, name := range order {
		buf = append(buf, arMember(name, members[name])...)
	}
	return buf
}

func TestArchiveLazyPullInAfterUndefinedReference(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	consumer := NewObject("consumer.o", definingObject("helper", "", false))
	if err := st.addFile(consumer); err != nil {
		t.Fatalf("addFile consumer: %v", err)
	}
	if sym := st.find("helper"); sym == nil || sym.Kind != SymUndefinedFunction {
		t.Fatalf("expected helper undefined before archive load, got %+v", st.find("helper"))
	}

	archiveBytes := buildArchive(map[string][]byte{
		"helper.o": buildWasmObjectBytes(t, "helper"),
	}, []string{"helper.o"})

	loadInput(st, diag, "libhelper.a", archiveBytes)

	sym := st.find("helper")
	if sym == nil || sym.Kind != SymDefinedFunction {
		t.Fatalf("expected helper defined after archive pull-in, got %+v", sym)
	}
	if sym.File == nil || sym.File.Name != "helper.o" {
		t.Fatalf("expected helper resolved to the archive member, got %+v", sym.File)
	}
	if len(st.Objects) != 2 {
		t.Fatalf("expected consumer.o and the pulled member in Objects, got %d", len(st.Objects))
	}
	if diag.ErrorCount != 0 {
		t.Fatalf("unexpected errors: %d", diag.ErrorCount)
	}
}

func TestArchiveLazyPullInBeforeUndefinedReference(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	archiveBytes := buildArchive(map[string][]byte{
		"helper.o": buildWasmObjectBytes(t, "helper"),
	}, []string{"helper.o"})
	loadInput(st, diag, "libhelper.a", archiveBytes)

	if sym := st.find("helper"); sym == nil || sym.Kind != SymLazy {
		t.Fatalf("expected helper Lazy before any reference, got %+v", st.find("helper"))
	}
	if len(st.Objects) != 0 {
		t.Fatalf("archive member should not be pulled before it is referenced, got %d objects", len(st.Objects))
	}

	consumer := NewObject("consumer.o", definingObject("helper", "", false))
	if err := st.addFile(consumer); err != nil {
		t.Fatalf("addFile consumer: %v", err)
	}

	sym := st.find("helper")
	if sym == nil || sym.Kind != SymDefinedFunction {
		t.Fatalf("expected helper defined once referenced, got %+v", sym)
	}
	if len(st.Objects) != 2 {
		t.Fatalf("expected the archive member to have been pulled in, got %d objects", len(st.Objects))
	}
}

func TestArchiveUnreferencedMemberIsNeverPulled(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	archiveBytes := buildArchive(map[string][]byte{
		"unused.o": buildWasmObjectBytes(t, "unused"),
	}, []string{"unused.o"})
	loadInput(st, diag, "libunused.a", archiveBytes)

	if sym := st.find("unused"); sym == nil || sym.Kind != SymLazy {
		t.Fatalf("expected unused Lazy and un-pulled, got %+v", st.find("unused"))
	}
	if len(st.Objects) != 0 {
		t.Fatalf("expected no archive member to be pulled in, got %d objects", len(st.Objects))
	}

	st.reportRemainingUndefines()
	if diag.ErrorCount != 0 {
		t.Fatalf("an unreferenced lazy symbol must not be reported as undefined, got %d errors", diag.ErrorCount)
	}
}
