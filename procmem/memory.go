// Package procmem provides access to the memory of a loaded host image.
//
// Everything above this package addresses the host through the Image
// interface, so the same patching code runs against the live process and
// against a synthetic Buffer in tests.
package procmem

import (
	"errors"
	"fmt"
)

// Prot is a set of page access rights.
type Prot int

const (
	ProtNone Prot = 0
	ProtRead Prot = 1 << (iota - 1)
	ProtWrite
	ProtExec

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

var (
	// ErrUnmapped is returned for accesses outside any mapped region.
	ErrUnmapped = errors.New("address not mapped")
	// ErrAccessDenied is returned when a page's protection forbids the access.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnsupported is returned when the platform has no live image support.
	ErrUnsupported = errors.New("live image access not supported on this platform")
)

// Memory reads, writes and re-protects ranges of absolute addresses.
type Memory interface {
	ReadAt(p []byte, addr uintptr) error
	WriteAt(p []byte, addr uintptr) error
	// Protect changes the protection of the pages covering [addr, addr+size)
	// and returns the protection the first page had before the call. Callers
	// that need every page's old protection protect one page at a time.
	Protect(addr, size uintptr, prot Prot) (Prot, error)
	// PageSize returns the granularity of Protect.
	PageSize() uintptr
}

// Image is a Memory holding one loaded executable image.
type Image interface {
	Memory
	Base() uintptr
	Size() uintptr
}

// InstructionCacheFlusher is implemented by memories that need the
// instruction cache flushed after code is modified.
type InstructionCacheFlusher interface {
	FlushInstructionCache(addr, size uintptr) error
}

// Contains reports whether [addr, addr+size) lies inside img.
func Contains(img Image, addr, size uintptr) bool {
	base := img.Base()
	end := base + img.Size()
	return addr >= base && addr < end && size <= end-addr
}

// RangeError describes a failed access.
type RangeError struct {
	Op   string
	Addr uintptr
	Size uintptr
	Err  error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s 0x%x+%d: %v", e.Op, e.Addr, e.Size, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}
