package linker

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/winksaville/lld/pkg/wasmobj"
)

// startObjectBytes encodes a minimal relocatable wasm object defining and
// exporting a no-argument, no-result "_start" function: TYPE, FUNCTION,
// CODE, and a linking section carrying its one WASM_SYMBOL_TABLE entry.
func startObjectBytes(t *testing.T) []byte {
	t.Helper()
	var out bytes.Buffer
	out.WriteString("\x00asm")
	if err := writeU32LE(&out, 1); err != nil {
		t.Fatalf("write version: %v", err)
	}

	var typeSec bytes.Buffer
	writeULEB128(&typeSec, 1)
	typeSec.WriteByte(0x60)
	writeULEB128(&typeSec, 0)
	writeULEB128(&typeSec, 0)
	if err := writeSection(&out, wasmobj.SecType, typeSec.Bytes()); err != nil {
		t.Fatalf("write type section: %v", err)
	}

	var funcSec bytes.Buffer
	writeULEB128(&funcSec, 1)
	writeULEB128(&funcSec, 0)
	if err := writeSection(&out, wasmobj.SecFunction, funcSec.Bytes()); err != nil {
		t.Fatalf("write function section: %v", err)
	}

	var codeSec bytes.Buffer
	writeULEB128(&codeSec, 1)
	body := []byte{0x00, 0x0b} // no locals, end
	writeULEB128(&codeSec, uint64(len(body)))
	codeSec.Write(body)
	if err := writeSection(&out, wasmobj.SecCode, codeSec.Bytes()); err != nil {
		t.Fatalf("write code section: %v", err)
	}

	var symtab bytes.Buffer
	writeULEB128(&symtab, 1) // one symbol
	symtab.WriteByte(byte(wasmobj.SymKindFunction))
	writeULEB128(&symtab, uint64(wasmobj.SymFlagExported))
	writeULEB128(&symtab, 0) // absolute function index 0
	writeName(&symtab, "_start")

	var linking bytes.Buffer
	writeULEB128(&linking, 2) // linking section version
	linking.WriteByte(8)      // WASM_SYMBOL_TABLE subsection id
	writeULEB128(&linking, uint64(symtab.Len()))
	linking.Write(symtab.Bytes())

	if err := writeCustomSection(&out, "linking", linking.Bytes()); err != nil {
		t.Fatalf("write linking section: %v", err)
	}

	return out.Bytes()
}

func writeTempObject(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, startObjectBytes(t), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// TestRunExecutableSynthesizesStackPointer exercises Run end to end for
// an executable link: the driver must synthesize __stack_pointer, patch
// its init expression to the stack-top address computed once memory is
// laid out, and export the entry point.
func TestRunExecutableSynthesizesStackPointer(t *testing.T) {
	dir := t.TempDir()
	objPath := writeTempObject(t, dir, "start.o")
	outPath := filepath.Join(dir, "a.out")

	cfg := NewConfig()
	cfg.Output = outPath
	diag := newTestDiag()

	if err := Run(cfg, diag, []string{objPath}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diag.ErrorCount != 0 {
		t.Fatalf("unexpected diagnostics: %d", diag.ErrorCount)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	mod, err := wasmobj.Parse(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse linked output: %v", err)
	}

	if len(mod.Globals) != 1 {
		t.Fatalf("expected exactly one global (__stack_pointer), got %d", len(mod.Globals))
	}
	g := mod.Globals[0]
	if !g.Mutable || g.Type != wasmobj.ValueTypeI32 {
		t.Fatalf("__stack_pointer should be a mutable i32, got %+v", g)
	}
	// page 0 reserved (WasmPageSize) + one page of default stack.
	wantTop := int32(WasmPageSize + WasmPageSize)
	if g.Init.Int32 != wantTop {
		t.Fatalf("__stack_pointer init = %d, want %d", g.Init.Int32, wantTop)
	}

	foundStart := false
	for _, e := range mod.Exports {
		if e.Name == "_start" && e.Kind == wasmobj.ExternalFunction {
			foundStart = true
		}
	}
	if !foundStart {
		t.Fatal("expected _start to be exported")
	}
}

// TestRunRelocatableOmitsStackPointer exercises Run's --relocatable path:
// a partial link produces no synthetic __stack_pointer global, since the
// eventual executable link that consumes this output owns memory layout.
func TestRunRelocatableOmitsStackPointer(t *testing.T) {
	dir := t.TempDir()
	objPath := writeTempObject(t, dir, "start.o")
	outPath := filepath.Join(dir, "out.o")

	cfg := NewConfig()
	cfg.Output = outPath
	cfg.Relocatable = true
	diag := newTestDiag()

	if err := Run(cfg, diag, []string{objPath}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diag.ErrorCount != 0 {
		t.Fatalf("unexpected diagnostics: %d", diag.ErrorCount)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	mod, err := wasmobj.Parse(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse relocatable output: %v", err)
	}
	if len(mod.Globals) != 0 {
		t.Fatalf("expected no synthetic __stack_pointer global in relocatable output, got %d globals", len(mod.Globals))
	}
}

// TestRunFatalUndefinedEntry confirms an entry point with no defining
// object anywhere fails the link, once the entry is synthesized as an
// undefined function up front (rather than only warning in the Writer).
func TestRunFatalUndefinedEntry(t *testing.T) {
	dir := t.TempDir()
	// An object that defines nothing named "_start".
	var out bytes.Buffer
	out.WriteString("\x00asm")
	writeU32LE(&out, 1)
	path := filepath.Join(dir, "empty.o")
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	cfg := NewConfig()
	cfg.Output = filepath.Join(dir, "a.out")
	diag := newTestDiag()

	if err := Run(cfg, diag, []string{path}); err == nil {
		t.Fatal("expected Run to fail for an undefined entry point")
	}
	if diag.ErrorCount == 0 {
		t.Fatal("expected reportRemainingUndefines to record the undefined entry symbol")
	}
}
