package linker

import (
	"fmt"
	"io"

	"github.com/winksaville/lld/pkg/wasmobj"
)

// writeULEB128 writes val as an unsigned LEB128, using as few bytes as
// possible, and returns the byte count written.
func writeULEB128(w io.Writer, val uint64) (int, error) {
	n := 0
	for {
		b := byte(val & 0x7f)
		val >>= 7
		if val != 0 {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return n, err
		}
		n++
		if val == 0 {
			return n, nil
		}
	}
}

func writeSLEB128(w io.Writer, val int64) (int, error) {
	n := 0
	more := true
	for more {
		b := byte(val & 0x7f)
		val >>= 7
		signBitSet := b&0x40 != 0
		if (val == 0 && !signBitSet) || (val == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func uleb128Size(val uint64) int {
	n := 1
	for val >>= 7; val != 0; val >>= 7 {
		n++
	}
	return n
}

// putULEB128Padded encodes val as an unsigned LEB128 into exactly
// len(buf) bytes, setting the continuation bit on every byte but the
// last. Relocation application needs this: a wasm object's producer
// already reserved a fixed byte width for an index at a given code
// offset, and rewriting it to a different width would shift every byte
// after it, invalidating the rest of the section's offsets.
func putULEB128Padded(buf []byte, val uint64) error {
	if len(buf) == 0 {
		return fmt.Errorf("uleb128: zero-width buffer")
	}
	if uleb128Size(val) > len(buf) {
		return fmt.Errorf("uleb128: value %d does not fit in %d bytes", val, len(buf))
	}
	for i := 0; i < len(buf); i++ {
		b := byte(val & 0x7f)
		val >>= 7
		if i != len(buf)-1 {
			b |= 0x80
		}
		buf[i] = b
	}
	return nil
}

func sleb128Size(val int64) int {
	n := 0
	more := true
	for more {
		b := byte(val & 0x7f)
		val >>= 7
		signBitSet := b&0x40 != 0
		if (val == 0 && !signBitSet) || (val == -1 && signBitSet) {
			more = false
		}
		n++
	}
	return n
}

func putSLEB128Padded(buf []byte, val int64) error {
	if len(buf) == 0 {
		return fmt.Errorf("sleb128: zero-width buffer")
	}
	if sleb128Size(val) > len(buf) {
		return fmt.Errorf("sleb128: value %d does not fit in %d bytes", val, len(buf))
	}
	for i := 0; i < len(buf); i++ {
		b := byte(val & 0x7f)
		val >>= 7
		if i != len(buf)-1 {
			b |= 0x80
			// val is signed, so the arithmetic shift above already fills
			// the padding bytes of a negative value with its sign bits.
		}
		buf[i] = b
	}
	return nil
}

func writeU32LE(w io.Writer, val uint32) error {
	_, err := w.Write([]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)})
	return err
}

// writeName writes a ULEB128 length followed by the string's bytes, the
// wasm binary format's convention for names.
func writeName(w io.Writer, s string) error {
	if _, err := writeULEB128(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// writeSection frames a fully-built payload as `id, size, payload`. Every
// section in this linker's output is assembled into its own buffer
// first, so unlike ELF's fixed-offset layout there is nothing to
// backpatch: the size is simply the finished buffer's length. The size
// itself is written as a 5-byte padded ULEB128, matching the
// fixed-width convention real wasm linkers use for section sizes, so a
// byte-for-byte comparison against their output isn't thrown off by an
// otherwise-equivalent minimal-width encoding.
func writeSection(out io.Writer, id byte, payload []byte) error {
	if _, err := out.Write([]byte{id}); err != nil {
		return err
	}
	var size [5]byte
	if err := putULEB128Padded(size[:], uint64(len(payload))); err != nil {
		return err
	}
	if _, err := out.Write(size[:]); err != nil {
		return err
	}
	_, err := out.Write(payload)
	return err
}

// writeCustomSection frames a custom section, whose payload starts with
// its own name.
func writeCustomSection(out io.Writer, name string, body []byte) error {
	var buf []byte
	bw := newByteWriter(&buf)
	if err := writeName(bw, name); err != nil {
		return err
	}
	buf = append(buf, body...)
	return writeSection(out, wasmobj.SecCustom, buf)
}

// byteWriter is the minimal io.Writer over a *[]byte, used where callers
// build small payloads before framing them into a section.
type byteWriter struct {
	buf *[]byte
}

func newByteWriter(buf *[]byte) *byteWriter {
	return &byteWriter{buf: buf}
}

func (w *byteWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
