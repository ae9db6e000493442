package procmem

import (
	"debug/pe"
	"fmt"
	"io"
)

// Headers holds the parts of a loaded image's PE headers the patcher needs.
type Headers struct {
	Is64          bool
	TimeDateStamp uint32
	ImageSize     uint32
	CheckSum      uint32
	Import        pe.DataDirectory
}

// ReadHeaders parses the PE headers at the start of img.
//
// A loaded image keeps its headers at the base address in their on-disk
// layout, so debug/pe can parse them directly. Section data is not read:
// after loading, sections live at their RVA rather than their file offset.
func ReadHeaders(img Image) (*Headers, error) {
	f, err := pe.NewFile(NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("parse image headers: %w", err)
	}
	defer f.Close()

	h := &Headers{TimeDateStamp: f.FileHeader.TimeDateStamp}

	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		h.Is64 = true
		h.ImageSize = oh.SizeOfImage
		h.CheckSum = oh.CheckSum
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			h.Import = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	case *pe.OptionalHeader32:
		h.ImageSize = oh.SizeOfImage
		h.CheckSum = oh.CheckSum
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			h.Import = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	default:
		return nil, fmt.Errorf("parse image headers: optional header is missing")
	}

	return h, nil
}

// Reader is an io.ReaderAt over an image where offsets are RVAs.
type Reader struct {
	img Image
}

// NewReader returns a Reader for img.
func NewReader(img Image) *Reader {
	return &Reader{img: img}
}

func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	size := int64(r.img.Size())
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= size {
		return 0, io.EOF
	}

	n := len(p)
	var eof bool
	if off+int64(n) > size {
		n = int(size - off)
		eof = true
	}
	if err := r.img.ReadAt(p[:n], r.img.Base()+uintptr(off)); err != nil {
		return 0, err
	}
	if eof {
		return n, io.EOF
	}
	return n, nil
}

// ReadCString reads a NUL-terminated string of at most max bytes at addr.
func ReadCString(m Memory, addr uintptr, max int) (string, error) {
	var out []byte
	chunk := make([]byte, 64)
	for len(out) < max {
		n := len(chunk)
		if rest := max - len(out); rest < n {
			n = rest
		}
		// Fall back to byte reads near the end of a mapping.
		if err := m.ReadAt(chunk[:n], addr); err != nil {
			if n == 1 {
				return "", err
			}
			chunk = chunk[:1]
			continue
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				return string(append(out, chunk[:i]...)), nil
			}
		}
		out = append(out, chunk[:n]...)
		addr += uintptr(n)
	}
	return "", fmt.Errorf("string at 0x%x longer than %d bytes", addr, max)
}
