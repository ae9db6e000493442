package relocator

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pboyd/ckpe/procmem"
)

const (
	importDescriptorSize = 20
	maxImportName        = 256
)

// PatchIAT replaces the import address table entry of function imported by
// name from dll. The DLL name matches case-insensitively. It returns the
// pointer the entry held before.
func (r *Relocator) PatchIAT(dll, function string, replacement uintptr) (uintptr, *Patch, error) {
	slot, err := r.findImport(dll, function)
	if err != nil {
		return 0, nil, err
	}

	size := r.pointerSize()
	buf := make([]byte, size)
	if size == 8 {
		binary.LittleEndian.PutUint64(buf, uint64(replacement))
	} else {
		binary.LittleEndian.PutUint32(buf, uint32(replacement))
	}

	p, err := r.write("iat", slot, buf)
	if err != nil {
		return 0, nil, err
	}

	var original uintptr
	if size == 8 {
		original = uintptr(binary.LittleEndian.Uint64(p.Original))
	} else {
		original = uintptr(binary.LittleEndian.Uint32(p.Original))
	}
	return original, p, nil
}

func (r *Relocator) pointerSize() int {
	if r.headers != nil && !r.headers.Is64 {
		return 4
	}
	return 8
}

// findImport walks the import directory and returns the address of the IAT
// slot for dll!function.
func (r *Relocator) findImport(dll, function string) (uintptr, error) {
	if r.headers == nil {
		return 0, fmt.Errorf("%w: %s!%s: image headers unreadable", ErrImportNotFound, dll, function)
	}
	dir := r.headers.Import
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return 0, fmt.Errorf("%w: %s!%s: no import directory", ErrImportNotFound, dll, function)
	}

	base := r.img.Base()
	size := r.pointerSize()
	ordinalFlag := uint64(1) << 63
	if size == 4 {
		ordinalFlag = 1 << 31
	}

	desc := make([]byte, importDescriptorSize)
	for addr := base + uintptr(dir.VirtualAddress); ; addr += importDescriptorSize {
		if err := r.img.ReadAt(desc, addr); err != nil {
			return 0, fmt.Errorf("read import descriptor: %w", err)
		}
		lookupRVA := binary.LittleEndian.Uint32(desc[0:])
		nameRVA := binary.LittleEndian.Uint32(desc[12:])
		iatRVA := binary.LittleEndian.Uint32(desc[16:])
		if nameRVA == 0 && iatRVA == 0 {
			break
		}

		name, err := procmem.ReadCString(r.img, base+uintptr(nameRVA), maxImportName)
		if err != nil {
			return 0, fmt.Errorf("read import name: %w", err)
		}
		if !strings.EqualFold(name, dll) {
			continue
		}

		// Bound images may have no lookup table, the IAT holds the names
		// until it is resolved. Once resolved the names are gone and the
		// descriptor is skipped.
		bound := lookupRVA == 0
		if bound {
			lookupRVA = iatRVA
		}

		thunk := make([]byte, size)
		for i := uintptr(0); ; i++ {
			if err := r.img.ReadAt(thunk, base+uintptr(lookupRVA)+i*uintptr(size)); err != nil {
				return 0, fmt.Errorf("read import lookup table: %w", err)
			}
			var v uint64
			if size == 8 {
				v = binary.LittleEndian.Uint64(thunk)
			} else {
				v = uint64(binary.LittleEndian.Uint32(thunk))
			}
			if v == 0 {
				break
			}
			if v&ordinalFlag != 0 {
				continue
			}

			// Skip the two byte hint.
			fn, err := procmem.ReadCString(r.img, base+uintptr(uint32(v))+2, maxImportName)
			if err != nil && bound {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("read import function name: %w", err)
			}
			if fn == function {
				return base + uintptr(iatRVA) + i*uintptr(size), nil
			}
		}
	}

	return 0, fmt.Errorf("%w: %s!%s", ErrImportNotFound, dll, function)
}
