package linker

import (
	"bytes"
	"testing"

	"github.com/winksaville/lld/pkg/wasmobj"
)

func newTestDiag() *Diagnostics {
	return NewDiagnostics(&bytes.Buffer{}, nil, ColorNever)
}

// definingObject returns a Module that imports importName (if non-empty)
// and defines one function named defName at local index 0.
func definingObject(importName, defName string, weak bool) *wasmobj.Module {
	m := &wasmobj.Module{
		Types:           []wasmobj.FuncType{{}},
		FuncTypeIndexes: []uint32{0},
	}
	nImports := uint32(0)
	if importName != "" {
		m.Imports = []wasmobj.Import{{Module: "env", Field: importName, Kind: wasmobj.ExternalFunction}}
		nImports = 1
	}
	m.BuildImportViews()

	var flags uint32
	if weak {
		flags |= wasmobj.SymFlagWeak
	}
	m.Symbols = []wasmobj.SymbolInfo{
		{Kind: wasmobj.SymKindFunction, Flags: flags, Name: defName, Index: nImports},
	}
	if importName != "" {
		m.Symbols = append(m.Symbols, wasmobj.SymbolInfo{
			Kind: wasmobj.SymKindFunction, Flags: wasmobj.SymFlagUndefined, Name: importName, Index: 0,
		})
	}
	return m
}

func TestResolveUndefinedThenDefined(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	consumer := NewObject("consumer.o", definingObject("callee", "", false))
	if err := st.addFile(consumer); err != nil {
		t.Fatalf("addFile consumer: %v", err)
	}
	sym := st.find("callee")
	if sym == nil || sym.Kind != SymUndefinedFunction {
		t.Fatalf("expected callee undefined after first file, got %+v", sym)
	}

	provider := NewObject("provider.o", definingObject("", "callee", false))
	if err := st.addFile(provider); err != nil {
		t.Fatalf("addFile provider: %v", err)
	}
	if sym.Kind != SymDefinedFunction {
		t.Fatalf("expected callee defined after provider loaded, got %v", sym.Kind)
	}
	if consumer.FunctionImportSymbols[0] != sym {
		t.Fatal("consumer's import-view pointer should observe the same Symbol that got resolved")
	}
	if diag.ErrorCount != 0 {
		t.Fatalf("unexpected errors: %d", diag.ErrorCount)
	}
}

func TestWeakOverriddenByStrong(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	weakDef := NewObject("weak.o", definingObject("", "shared", true))
	strongDef := NewObject("strong.o", definingObject("", "shared", false))

	if err := st.addFile(weakDef); err != nil {
		t.Fatal(err)
	}
	if err := st.addFile(strongDef); err != nil {
		t.Fatal(err)
	}

	sym := st.find("shared")
	if sym.File != strongDef {
		t.Fatalf("expected strong definition to win, got file=%v", sym.File.Name)
	}
	if diag.ErrorCount != 0 {
		t.Fatalf("unexpected errors: %d", diag.ErrorCount)
	}
}

func TestDuplicateStrongDefinitionIsAnError(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	a := NewObject("a.o", definingObject("", "dup", false))
	b := NewObject("b.o", definingObject("", "dup", false))

	if err := st.addFile(a); err != nil {
		t.Fatal(err)
	}
	if err := st.addFile(b); err != nil {
		t.Fatal(err)
	}
	if diag.ErrorCount == 0 {
		t.Fatal("expected a duplicate-symbol error")
	}
}

func TestReportRemainingUndefinesRespectsAllowList(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	cfg.AllowUndefinedSymbols["missing"] = true
	st := NewSymbolTable(diag, cfg)

	obj := NewObject("consumer.o", definingObject("missing", "", false))
	if err := st.addFile(obj); err != nil {
		t.Fatal(err)
	}
	st.reportRemainingUndefines()
	if diag.ErrorCount != 0 {
		t.Fatalf("allow-listed undefined symbol should not error, got %d errors", diag.ErrorCount)
	}
}

func TestReportRemainingUndefinesFailsByDefault(t *testing.T) {
	diag := newTestDiag()
	cfg := NewConfig()
	st := NewSymbolTable(diag, cfg)

	obj := NewObject("consumer.o", definingObject("missing", "", false))
	if err := st.addFile(obj); err != nil {
		t.Fatal(err)
	}
	st.reportRemainingUndefines()
	if diag.ErrorCount == 0 {
		t.Fatal("expected undefined symbol to be reported by default")
	}
}
