package linker

import (
	"fmt"

	"github.com/winksaville/lld/pkg/wasmobj"
)

// relocContext wraps the Object a relocation belongs to. It exists as a
// distinct type (rather than passing *Object directly) so applyCodeReloc
// and applyDataReloc share one signature even though only code
// relocations currently need anything beyond the Object itself.
type relocContext struct {
	obj *Object
}

// encodedWidth reports how many bytes the LEB128 value starting at
// buf[0] occupies, purely from the continuation bit — it works
// identically for the signed and unsigned encodings.
func encodedWidth(buf []byte) (int, error) {
	for n := 0; n < len(buf); n++ {
		if buf[n]&0x80 == 0 {
			return n + 1, nil
		}
	}
	return 0, fmt.Errorf("relocation target: unterminated leb128")
}

// applyCodeReloc rewrites one relocation in place within buf, which is
// one object's own code body (its CODE payload without the leading
// function-count ULEB128), at offset off within that body.
func applyCodeReloc(rc *relocContext, buf []byte, off uint32, rel wasmobj.Reloc) error {
	width, err := encodedWidth(buf[off:])
	if err != nil {
		return err
	}
	field := buf[off : off+uint32(width)]

	switch rel.Type {
	case wasmobj.RelocFunctionIndexLEB:
		return putULEB128Padded(field, uint64(rc.obj.relocateFunctionIndex(rel.Index)))

	case wasmobj.RelocTypeIndexLEB:
		return putULEB128Padded(field, uint64(rc.obj.relocateTypeIndex(rel.Index)))

	case wasmobj.RelocGlobalIndexLEB:
		return putULEB128Padded(field, uint64(rc.obj.relocateGlobalIndex(rel.Index)))

	case wasmobj.RelocTableIndexSLEB:
		val := int64(rc.obj.relocateTableIndex(rel.Index)) + int64(rel.Addend)
		return putSLEB128Padded(field, val)

	case wasmobj.RelocMemoryAddrLEB:
		addr, err := memoryAddrFor(rc.obj, rel)
		if err != nil {
			return err
		}
		return putULEB128Padded(field, uint64(addr))

	case wasmobj.RelocMemoryAddrSLEB:
		addr, err := memoryAddrFor(rc.obj, rel)
		if err != nil {
			return err
		}
		return putSLEB128Padded(field, int64(addr))

	case wasmobj.RelocTableIndexI32, wasmobj.RelocMemoryAddrI32:
		return fmt.Errorf("relocation type %d (fixed 4-byte i32 form) is not supported by this linker", rel.Type)

	default:
		return fmt.Errorf("unknown relocation type %d", rel.Type)
	}
}

// applyDataReloc is applyCodeReloc's counterpart for reloc.DATA entries,
// operating on a copy of one data segment's bytes with off already
// translated to an offset within that segment.
func applyDataReloc(rc *relocContext, buf []byte, off uint32, rel wasmobj.Reloc) error {
	return applyCodeReloc(rc, buf, off, rel)
}

// memoryAddrFor resolves a RelocMemoryAddr* relocation's Index (a Data
// symbol's index into obj.Module.Symbols) to a final linear-memory
// address, adding the relocation's addend.
func memoryAddrFor(obj *Object, rel wasmobj.Reloc) (int32, error) {
	addr, err := obj.getGlobalAddress(int(rel.Index))
	if err != nil {
		return 0, err
	}
	return int32(addr) + rel.Addend, nil
}
