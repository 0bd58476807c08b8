package linker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/winksaville/lld/pkg/utils"
	"github.com/winksaville/lld/pkg/wasmobj"
)

// ParseArgs parses argv with closures over a mutable remaining-args
// slice rather than a flags package, since the option set mixes GNU
// long options, single-letter bundles, and lld-style `-z key=value`
// forms that don't map cleanly onto the standard library's flag model.
// It returns the populated Config, a Diagnostics wired to stderr, and
// the list of positional input paths (object files, archives, -l<name>
// references) in command-line order.
func ParseArgs(argv []string, version string) (*Config, *Diagnostics, []string) {
	cfg := NewConfig()
	color := ColorAuto
	diag := NewDiagnostics(os.Stderr, nil, color)

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	args := argv
	remaining := make([]string, 0)
	var arg string

	readArg := func(name string) bool {
		if len(args) == 0 {
			return false
		}
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					diag.Fatalf("option %s: argument missing", opt)
				}
				arg = args[1]
				args = args[2:]
				return true
			}
			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		if len(args) == 0 {
			return false
		}
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	for len(args) > 0 {
		switch {
		case readFlag("help"):
			fmt.Printf("Usage: wld [options] file...\n")
			os.Exit(0)

		case readFlag("v"), readFlag("version"):
			fmt.Printf("wld %s\n", version)
			os.Exit(0)

		case readArg("o"), readArg("output"):
			cfg.Output = arg

		case readArg("entry"):
			cfg.EntrySymbol = arg
			cfg.ExportEntryAs = arg

		case readArg("export"):
			cfg.ExtraExports = append(cfg.ExtraExports, arg)

		case readFlag("allow-undefined"):
			cfg.AllowUndefined = true

		case readArg("allow-undefined-symbol"), readArg("allow-undefined-symbols"):
			for _, name := range strings.Split(arg, ",") {
				cfg.AllowUndefinedSymbols[strings.TrimSpace(name)] = true
			}

		case readArg("allow-undefined-file"):
			cfg.AllowUndefinedFile = arg
			contents, err := os.ReadFile(arg)
			if err != nil {
				diag.Fatalf("--allow-undefined-file: %v", err)
			}
			for _, name := range strings.Split(string(contents), "\n") {
				name = strings.TrimSpace(name)
				if name != "" {
					cfg.AllowUndefinedSymbols[name] = true
				}
			}

		case readFlag("emit-relocs"), readFlag("q"):
			cfg.EmitRelocs = true

		case readFlag("relocatable"), readFlag("r"):
			cfg.Relocatable = true

		case readFlag("strip-all"), readFlag("s"):
			cfg.StripAll = true

		case readFlag("strip-debug"), readFlag("S"):
			cfg.StripDebug = true

		case readFlag("verbose"):
			cfg.Verbose = true

		case readFlag("color-diagnostics"):
			cfg.Color = ColorAlways
			diag.Color = cfg.Color

		case readFlag("no-color-diagnostics"):
			cfg.Color = ColorNever
			diag.Color = cfg.Color

		case readArg("color-diagnostics"):
			switch arg {
			case "always":
				cfg.Color = ColorAlways
			case "never":
				cfg.Color = ColorNever
			default:
				cfg.Color = ColorAuto
			}
			diag.Color = cfg.Color

		case readArg("L"), readArg("library-path"):
			cfg.LibraryPaths = append(cfg.LibraryPaths, arg)

		case readArg("l"):
			remaining = append(remaining, "-l"+arg)

		case readArg("sysroot"):
			cfg.Sysroot = arg

		case readArg("initial-memory"):
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				diag.Fatalf("--initial-memory: %v", err)
			}
			cfg.InitialMemory = n

		case readArg("max-memory"):
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				diag.Fatalf("--max-memory: %v", err)
			}
			cfg.MaxMemory = n
			cfg.HasMaxMemory = true

		case readArg("z"):
			if rest, ok := utils_RemovePrefix(arg, "stack-size="); ok {
				n, err := strconv.ParseUint(rest, 10, 64)
				if err != nil {
					diag.Fatalf("-z stack-size: %v", err)
				}
				cfg.StackSize = n
			}
			// other -z options this linker doesn't model are ignored.

		case readArg("mllvm"):
			cfg.LLVMOptions = append(cfg.LLVMOptions, arg)

		case readFlag("static"), readFlag("no-gc-sections"), readFlag("gc-sections"),
			readFlag("no-relax"), readFlag("as-needed"), readFlag("start-group"),
			readFlag("end-group"):
			// accepted for build-system compatibility, no effect here.

		case readArg("plugin"), readArg("plugin-opt"), readArg("build-id"),
			readArg("hash-style"), readArg("O"):
			// accepted, ignored.

		default:
			if strings.HasPrefix(args[0], "-") {
				diag.Fatalf("unknown command line option: %s", args[0])
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range cfg.LibraryPaths {
		cfg.LibraryPaths[i] = filepath.Clean(path)
	}

	return cfg, diag, remaining
}

// utils_RemovePrefix mirrors utils.RemovePrefix; kept local since the
// shared helper was trimmed from pkg/utils along with the ELF-only bit
// twiddling it used to sit next to.
func utils_RemovePrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return strings.TrimPrefix(s, prefix), true
	}
	return s, false
}

// Run executes one full link: load every input, resolve symbols, then
// hand off to the Writer. Inputs are taken in command-line order, and
// each one is parsed and its symbols resolved before the next is read.
func Run(cfg *Config, diag *Diagnostics, inputs []string) error {
	st := NewSymbolTable(diag, cfg)

	if !cfg.Relocatable {
		createSyntheticGlobals(cfg, st)
		st.addUndefinedFunction(cfg.EntrySymbol)
	}

	seenArchives := utils.NewMapSet[string]()
	for _, path := range inputs {
		if strings.HasPrefix(path, "-l") {
			name := strings.TrimPrefix(path, "-l")
			f, ok := findLibrary(cfg, name)
			if !ok {
				diag.Fatalf("cannot find library -l%s", name)
			}
			if seenArchives.Contains(f.Name) {
				continue
			}
			seenArchives.Add(f.Name)
			loadInput(st, diag, f.Name, f.Contents)
			continue
		}
		f := MustReadFile(diag, path)
		loadInput(st, diag, f.Name, f.Contents)
	}

	for _, name := range cfg.ExtraExports {
		markExported(st, name)
	}

	st.reportRemainingUndefines()
	if diag.ErrorCount > 0 {
		return errLinkFailed
	}

	w := NewWriter(cfg, diag, st)
	out, err := w.Link()
	if err != nil {
		return err
	}

	return os.WriteFile(cfg.Output, out, 0666)
}

// loadInput dispatches one input file's contents to the object or
// archive loader based on its magic number.
func loadInput(st *SymbolTable, diag *Diagnostics, name string, contents []byte) {
	switch {
	case isWasmObject(contents):
		mod, err := wasmobj.Parse(bytes.NewReader(contents))
		if err != nil {
			diag.Errorf("%s: %v", name, err)
			return
		}
		obj := NewObject(name, mod)
		if err := st.addFile(obj); err != nil {
			diag.Error(err.Error())
		}

	case isArArchive(contents):
		ar, err := NewArchive(name, contents)
		if err != nil {
			diag.Errorf("%s: %v", name, err)
			return
		}
		entries := ar.BuildDirectory(diag)
		st.addLazy(ar, entries)

	default:
		diag.Errorf("%s: not a wasm object file or ar archive", name)
	}
}

// createSyntheticGlobals installs the one global this linker itself
// defines rather than reading from an object: __stack_pointer, the
// mutable i32 every input object's prologue/epilogue references to
// grow and shrink the call stack.
func createSyntheticGlobals(cfg *Config, st *SymbolTable) {
	sp := st.addDefinedGlobal("__stack_pointer")

	stackSize := cfg.StackSize
	if stackSize == 0 {
		stackSize = WasmPageSize
	}
	cfg.SyntheticGlobals = append(cfg.SyntheticGlobals, SyntheticGlobal{
		Symbol:  sp,
		Type:    wasmobj.ValueTypeI32,
		Mutable: true,
		Init:    int64(stackSize),
	})
}

// markExported checks a --export=NAME name against the symbol table and
// warns when no symbol of that name exists. It exports nothing itself:
// the Writer's buildExports reads Config.ExtraExports and exports each
// defined symbol named there, including synthetic ones like
// __stack_pointer that carry no WASM_SYM_EXPORTED flag.
func markExported(st *SymbolTable, name string) {
	sym := st.find(name)
	if sym == nil {
		st.diag.Warn(fmt.Sprintf("--export: symbol not found: %s", name))
	}
}
