package linker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/winksaville/lld/pkg/wasmobj"
)

// rawMember is one directory entry inside an `ar` container, before it
// has been decided whether the member is ever pulled into the link.
type rawMember struct {
	Name string
	Data []byte
}

// Archive is the Lazy-symbol side of the InputFile variant pair. Its
// container format (the Unix `ar` archive) is target-agnostic, so the
// byte-walking logic below (header layout, BSD/SysV long-name handling)
// applies unchanged regardless of what each member wraps; only the
// payload differs (a wasm object here).
type Archive struct {
	Name    string
	Members []rawMember

	// modules[i] caches the parse of Members[i], built once when the
	// archive's symbol directory is scanned so PullMember never parses
	// the same bytes twice.
	modules []*wasmobj.Module
	pulled  []bool
}

// NewArchive splits an `ar` container into member records without
// interpreting any of them as wasm yet.
func NewArchive(name string, contents []byte) (*Archive, error) {
	members, err := readArMembers(contents)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", name, err)
	}
	a := &Archive{Name: name, Members: members}
	a.modules = make([]*wasmobj.Module, len(members))
	a.pulled = make([]bool, len(members))
	return a, nil
}

// LazyEntry is one (defined-symbol-name, member-cookie) pair discovered
// while scanning an archive's directory.
type LazyEntry struct {
	Name   string
	Cookie int
}

// BuildDirectory parses every member once to learn its symbol names,
// returning the union of (name, cookie) pairs the driver should register
// as Lazy symbols. A member's parse result is cached for the eventual
// PullMember call, so this is the archive's only full parse pass.
func (a *Archive) BuildDirectory(diag *Diagnostics) []LazyEntry {
	var entries []LazyEntry
	for i, m := range a.Members {
		mod, err := wasmobj.Parse(bytes.NewReader(m.Data))
		if err != nil {
			diag.Warn(fmt.Sprintf("archive %s: skipping member %s: %v", a.Name, m.Name, err))
			continue
		}
		a.modules[i] = mod
		for _, sym := range mod.Symbols {
			if sym.IsUndefined() || sym.Kind == wasmobj.SymKindData {
				continue
			}
			entries = append(entries, LazyEntry{Name: sym.Name, Cookie: i})
		}
	}
	return entries
}

// PullMember realizes the member identified by cookie as an Object and
// feeds it to the symbol table, exactly once.
func (a *Archive) PullMember(st *SymbolTable, cookie int) (*Object, error) {
	if a.pulled[cookie] {
		return nil, nil
	}
	a.pulled[cookie] = true

	mod := a.modules[cookie]
	if mod == nil {
		return nil, fmt.Errorf("archive %s: member %s has no cached parse", a.Name, a.Members[cookie].Name)
	}

	obj := NewObject(a.Members[cookie].Name, mod)
	obj.ParentArchive = a.Name
	if err := st.addFile(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// arHdr is the 60-byte fixed `ar` member header.
type arHdr struct {
	Name [16]byte
	Date [12]byte
	Uid  [6]byte
	Gid  [6]byte
	Mode [8]byte
	Size [10]byte
	Fmag [2]byte
}

func (h *arHdr) startsWith(s string) bool {
	return len(h.Name) >= len(s) && string(h.Name[:len(s)]) == s
}

func (h *arHdr) isStrtab() bool { return h.startsWith("// ") }
func (h *arHdr) isSymtab() bool { return h.startsWith("/ ") || h.startsWith("/SYM64/ ") }

func (h *arHdr) size() (int, error) {
	var n int
	if _, err := fmt.Sscanf(string(h.Size[:]), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (h *arHdr) readName(strtab []byte, ptr *[]byte) (string, error) {
	// BSD-style long filename: "#1/<len>", name stored inline before body.
	if h.startsWith("#1/") {
		var n int
		if _, err := fmt.Sscanf(trimSpace(string(h.Name[3:])), "%d", &n); err != nil {
			return "", err
		}
		if n > len(*ptr) {
			return "", fmt.Errorf("bsd long name overruns member body")
		}
		name := (*ptr)[:n]
		*ptr = (*ptr)[n:]
		if end := bytes.IndexByte(name, 0); end != -1 {
			name = name[:end]
		}
		return string(name), nil
	}

	// SysV-style long filename: "/<offset>" into the "//" strtab member.
	if h.startsWith("/") {
		var off int
		if _, err := fmt.Sscanf(trimSpace(string(h.Name[1:])), "%d", &off); err != nil {
			return "", err
		}
		if off > len(strtab) {
			return "", fmt.Errorf("sysv long name offset out of range")
		}
		end := bytes.Index(strtab[off:], []byte("/\n"))
		if end == -1 {
			return "", fmt.Errorf("sysv long name not terminated")
		}
		return string(strtab[off : off+end]), nil
	}

	// Short filename, "/"-terminated.
	if end := bytes.IndexByte(h.Name[:], '/'); end != -1 {
		return string(h.Name[:end]), nil
	}
	return trimSpace(string(h.Name[:])), nil
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && s[i] == ' ' {
		i++
	}
	for j > i && s[j-1] == ' ' {
		j--
	}
	return s[i:j]
}

func readArMembers(contents []byte) ([]rawMember, error) {
	const magic = "!<arch>\n"
	if len(contents) < len(magic) || string(contents[:len(magic)]) != magic {
		return nil, fmt.Errorf("not an ar archive")
	}

	pos := len(magic)
	var strtab []byte
	var members []rawMember

	for pos+2 <= len(contents) {
		if (pos-len(magic))%2 == 1 {
			pos++
		}
		if pos+int(unsafe.Sizeof(arHdr{})) > len(contents) {
			break
		}

		var hdr arHdr
		if err := binary.Read(bytes.NewReader(contents[pos:]), binary.LittleEndian, &hdr); err != nil {
			return nil, err
		}
		bodyStart := pos + int(unsafe.Sizeof(arHdr{}))
		size, err := hdr.size()
		if err != nil {
			return nil, err
		}
		bodyEnd := bodyStart + size
		if bodyEnd > len(contents) {
			return nil, fmt.Errorf("member body overruns archive")
		}
		pos = bodyEnd

		if hdr.isStrtab() {
			strtab = contents[bodyStart:bodyEnd]
			continue
		}
		if hdr.isSymtab() {
			continue // we rebuild the directory ourselves; see BuildDirectory.
		}

		body := contents[bodyStart:bodyEnd]
		ptr := body
		name, err := hdr.readName(strtab, &ptr)
		if err != nil {
			return nil, err
		}
		if name == "__.SYMDEF" || name == "__.SYMDEF SORTED" {
			continue
		}

		members = append(members, rawMember{Name: name, Data: ptr})
	}

	return members, nil
}
