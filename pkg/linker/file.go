package linker

import (
	"os"
	"path/filepath"
	"strings"
)

// File is a thin wrapper around a path and its full contents.
type File struct {
	Name     string
	Contents []byte
}

func MustReadFile(diag *Diagnostics, filename string) *File {
	contents, err := os.ReadFile(filename)
	if err != nil {
		diag.Fatalf("cannot open %s: %v", filename, err)
	}
	return &File{Name: filename, Contents: contents}
}

func openLibrary(path string) *File {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return &File{Name: path, Contents: contents}
}

// findLibrary implements `-l<name>` path resolution: `${dir}/lib<name>.a`
// (or `${dir}/<rest>` when name starts with `:`) over each `-L<dir>`,
// with `=<rest>` expanded against `--sysroot` first.
func findLibrary(cfg *Config, name string) (*File, bool) {
	stem := "lib" + name + ".a"
	if strings.HasPrefix(name, ":") {
		stem = strings.TrimPrefix(name, ":")
	}

	for _, dir := range cfg.LibraryPaths {
		dir = expandSysroot(cfg, dir)
		if f := openLibrary(filepath.Join(dir, stem)); f != nil {
			return f, true
		}
	}
	return nil, false
}

func expandSysroot(cfg *Config, dir string) string {
	if strings.HasPrefix(dir, "=") && cfg.Sysroot != "" {
		return filepath.Join(cfg.Sysroot, strings.TrimPrefix(dir, "="))
	}
	return dir
}

// isWasmObject reports whether contents begins with the wasm binary
// magic number.
func isWasmObject(contents []byte) bool {
	return len(contents) >= 4 && string(contents[:4]) == "\x00asm"
}

func isArArchive(contents []byte) bool {
	return len(contents) >= 8 && string(contents[:8]) == "!<arch>\n"
}
