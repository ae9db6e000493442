//go:build windows || unix

package procmem

import (
	"os"
	"unsafe"
)

// Process is the live image of a module mapped into the current process.
type Process struct {
	base uintptr
	size uintptr
}

func (p *Process) Base() uintptr { return p.base }

func (p *Process) Size() uintptr { return p.size }

func (p *Process) PageSize() uintptr { return uintptr(os.Getpagesize()) }

func (p *Process) ReadAt(b []byte, addr uintptr) error {
	if err := p.check("read", addr, uintptr(len(b)), ProtRead); err != nil {
		return err
	}
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)))
	return nil
}

func (p *Process) WriteAt(b []byte, addr uintptr) error {
	if err := p.check("write", addr, uintptr(len(b)), ProtWrite); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)), b)
	return nil
}

// pageRange rounds [addr, addr+size) out to whole pages.
func pageRange(addr, size uintptr, pageSize int) (uintptr, uintptr) {
	ps := uintptr(pageSize)

	// Round address down to page boundary.
	pageStart := addr &^ (ps - 1)

	// Round up to cover complete pages.
	regionSize := (addr - pageStart + size + ps - 1) &^ (ps - 1)
	return pageStart, regionSize
}
