//go:build unix

package procmem

import (
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Attach returns the live image of size bytes mapped at base. Protect reads
// the previous protection from /proc/self/maps, so it fails on systems
// without procfs.
func Attach(base, size uintptr) *Process {
	return &Process{base: base, size: size}
}

// Self is only supported on Windows.
func Self() (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) Protect(addr, size uintptr, prot Prot) (Prot, error) {
	if !Contains(p, addr, size) {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: ErrUnmapped}
	}
	start, length := pageRange(addr, size, syscall.Getpagesize())
	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), length)

	old, err := mappedProt(start)
	if err != nil {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: err}
	}
	if err := unix.Mprotect(region, toMprotect(prot)); err != nil {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: os.NewSyscallError("mprotect", err)}
	}
	return old, nil
}

func (p *Process) check(op string, addr, size uintptr, need Prot) error {
	if !Contains(p, addr, size) {
		return &RangeError{Op: op, Addr: addr, Size: size, Err: ErrUnmapped}
	}
	return nil
}

func toMprotect(prot Prot) int {
	flags := unix.PROT_NONE
	if prot&ProtRead != 0 {
		flags |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		flags |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		flags |= unix.PROT_EXEC
	}
	return flags
}
