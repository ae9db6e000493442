// Package testimage builds synthetic loaded PE images for tests.
package testimage

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"strings"

	"github.com/pboyd/ckpe/procmem"
)

const (
	DefaultBase = 0x140000000
	DefaultSize = 0x20000

	TextRVA   = 0x1000
	TextSize  = 0x8000
	ImportRVA = 0x9000
	DataRVA   = 0xa000

	// CaveSize is the size of the executable region reserved at the end of
	// the image for thunks.
	CaveSize = 0x1000

	// ImportedBase is where the fake imported functions "live".
	ImportedBase = 0x7ff800000000
)

// Import is one DLL import with its functions imported by name.
type Import struct {
	DLL       string
	Functions []string
}

type Options struct {
	Base          uintptr
	Size          int
	PE32          bool
	TimeDateStamp uint32
	CheckSum      uint32
	Imports       []Import
}

// Image is a synthetic image with PE headers, a text section, an import
// directory and a thunk cave.
type Image struct {
	*procmem.Buffer

	// IAT maps "dll!function" to the absolute address of its IAT slot.
	IAT map[string]uintptr
	// Imported maps "dll!function" to the pointer initially stored in its slot.
	Imported map[string]uintptr
}

// New builds an image from opts. Headers and imports are read-only, the text
// section and cave are read/execute, everything else read/write.
func New(opts Options) *Image {
	if opts.Base == 0 {
		opts.Base = DefaultBase
		if opts.PE32 {
			opts.Base = 0x400000
		}
	}
	if opts.Size == 0 {
		opts.Size = DefaultSize
	}

	img := &Image{
		Buffer:   procmem.NewBuffer(opts.Base, opts.Size, procmem.DefaultPageSize),
		IAT:      make(map[string]uintptr),
		Imported: make(map[string]uintptr),
	}
	img.Load(opts.Base, headers(opts))
	img.Load(opts.Base+ImportRVA, img.imports(opts))

	img.Protect(opts.Base, TextRVA, procmem.ProtRead)
	img.Protect(opts.Base+TextRVA, TextSize, procmem.ProtRX)
	img.Protect(opts.Base+ImportRVA, DataRVA-ImportRVA, procmem.ProtRead)
	img.Protect(opts.Base+img.Size()-CaveSize, CaveSize, procmem.ProtRX)
	return img
}

// Addr returns the absolute address of rva.
func (img *Image) Addr(rva uint32) uintptr {
	return img.Base() + uintptr(rva)
}

// CaveStart returns the absolute address of the thunk cave.
func (img *Image) CaveStart() uintptr {
	return img.Base() + img.Size() - CaveSize
}

// Key formats an IAT map key.
func Key(dll, function string) string {
	return strings.ToLower(dll) + "!" + function
}

// Code writes raw instruction bytes at rva ignoring protection.
func (img *Image) Code(rva uint32, code ...byte) {
	img.Load(img.Addr(rva), code)
}

// Read returns n bytes at rva ignoring protection.
func (img *Image) Read(rva uint32, n int) []byte {
	off := int(rva)
	out := make([]byte, n)
	copy(out, img.Bytes()[off:off+n])
	return out
}

func headers(opts Options) []byte {
	var buf bytes.Buffer

	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x80)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	fh := pe.FileHeader{
		Machine:         pe.IMAGE_FILE_MACHINE_AMD64,
		TimeDateStamp:   opts.TimeDateStamp,
		Characteristics: pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE,
	}
	importDir := pe.DataDirectory{VirtualAddress: ImportRVA, Size: uint32(20 * (len(opts.Imports) + 1))}

	if opts.PE32 {
		fh.Machine = pe.IMAGE_FILE_MACHINE_I386
		fh.SizeOfOptionalHeader = uint16(binary.Size(pe.OptionalHeader32{}))
		binary.Write(&buf, binary.LittleEndian, fh)
		oh := pe.OptionalHeader32{
			Magic:               0x10b,
			ImageBase:           uint32(opts.Base),
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			SizeOfImage:         uint32(opts.Size),
			SizeOfHeaders:       0x400,
			CheckSum:            opts.CheckSum,
			Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
			NumberOfRvaAndSizes: 16,
		}
		oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = importDir
		binary.Write(&buf, binary.LittleEndian, oh)
		return buf.Bytes()
	}

	fh.SizeOfOptionalHeader = uint16(binary.Size(pe.OptionalHeader64{}))
	binary.Write(&buf, binary.LittleEndian, fh)
	oh := pe.OptionalHeader64{
		Magic:               0x20b,
		ImageBase:           uint64(opts.Base),
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         uint32(opts.Size),
		SizeOfHeaders:       0x400,
		CheckSum:            opts.CheckSum,
		Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = importDir
	binary.Write(&buf, binary.LittleEndian, oh)
	return buf.Bytes()
}

// imports lays out the import directory at ImportRVA: descriptors, then per
// DLL its name, lookup table, address table and hint/name entries.
func (img *Image) imports(opts Options) []byte {
	thunkSize := 8
	if opts.PE32 {
		thunkSize = 4
	}
	putThunk := func(b []byte, v uint64) {
		if thunkSize == 8 {
			binary.LittleEndian.PutUint64(b, v)
		} else {
			binary.LittleEndian.PutUint32(b, uint32(v))
		}
	}

	out := make([]byte, DataRVA-ImportRVA)
	cursor := 20 * (len(opts.Imports) + 1)
	alloc := func(n int) int {
		at := cursor
		cursor += (n + 7) &^ 7
		return at
	}

	imported := uintptr(ImportedBase)
	if opts.PE32 {
		imported = 0x77000000
	}

	for i, imp := range opts.Imports {
		name := alloc(len(imp.DLL) + 1)
		copy(out[name:], imp.DLL)

		lookup := alloc((len(imp.Functions) + 1) * thunkSize)
		iat := alloc((len(imp.Functions) + 1) * thunkSize)

		for j, fn := range imp.Functions {
			hint := alloc(2 + len(fn) + 1)
			binary.LittleEndian.PutUint16(out[hint:], uint16(j))
			copy(out[hint+2:], fn)

			putThunk(out[lookup+j*thunkSize:], uint64(ImportRVA+hint))
			putThunk(out[iat+j*thunkSize:], uint64(imported))

			key := Key(imp.DLL, fn)
			img.IAT[key] = opts.Base + ImportRVA + uintptr(iat+j*thunkSize)
			img.Imported[key] = imported
			imported += 0x10
		}

		d := out[i*20:]
		binary.LittleEndian.PutUint32(d[0:], uint32(ImportRVA+lookup))
		binary.LittleEndian.PutUint32(d[12:], uint32(ImportRVA+name))
		binary.LittleEndian.PutUint32(d[16:], uint32(ImportRVA+iat))
	}

	return out
}
