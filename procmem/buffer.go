package procmem

import (
	"fmt"
	"sync"
)

// DefaultPageSize is the page size used by NewBuffer when none is given.
const DefaultPageSize = 0x1000

// Buffer is an in-memory Image with per-page protection. Reads need
// ProtRead and writes need ProtWrite on every touched page, the same as a
// real loaded image.
type Buffer struct {
	mu       sync.Mutex
	base     uintptr
	data     []byte
	pageSize uintptr
	prots    []Prot

	protectCalls int
}

// NewBuffer returns a zeroed Buffer of size bytes at base. Every page starts
// as ProtRW. size is rounded up to whole pages.
func NewBuffer(base uintptr, size int, pageSize int) *Buffer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	ps := uintptr(pageSize)
	n := (uintptr(size) + ps - 1) / ps
	b := &Buffer{
		base:     base,
		data:     make([]byte, n*ps),
		pageSize: ps,
		prots:    make([]Prot, n),
	}
	for i := range b.prots {
		b.prots[i] = ProtRW
	}
	return b
}

func (b *Buffer) Base() uintptr { return b.base }

func (b *Buffer) Size() uintptr { return uintptr(len(b.data)) }

func (b *Buffer) PageSize() uintptr { return b.pageSize }

// Bytes returns the backing slice. Callers must not retain it across
// concurrent writes.
func (b *Buffer) Bytes() []byte { return b.data }

// ProtectCalls returns how many times Protect succeeded.
func (b *Buffer) ProtectCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.protectCalls
}

// ProtAt returns the protection of the page holding addr.
func (b *Buffer) ProtAt(addr uintptr) (Prot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	first, _, err := b.pages(addr, 1)
	if err != nil {
		return ProtNone, err
	}
	return b.prots[first], nil
}

// Load copies p into the buffer at addr ignoring page protection. It is meant
// for building fixtures.
func (b *Buffer) Load(addr uintptr, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := addr - b.base
	copy(b.data[off:], p)
}

func (b *Buffer) ReadAt(p []byte, addr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("read", addr, uintptr(len(p)), ProtRead); err != nil {
		return err
	}
	off := addr - b.base
	copy(p, b.data[off:off+uintptr(len(p))])
	return nil
}

func (b *Buffer) WriteAt(p []byte, addr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("write", addr, uintptr(len(p)), ProtWrite); err != nil {
		return err
	}
	off := addr - b.base
	copy(b.data[off:], p)
	return nil
}

func (b *Buffer) Protect(addr, size uintptr, prot Prot) (Prot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	first, last, err := b.pages(addr, size)
	if err != nil {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: err}
	}
	old := b.prots[first]
	for i := first; i <= last; i++ {
		b.prots[i] = prot
	}
	b.protectCalls++
	return old, nil
}

func (b *Buffer) check(op string, addr, size uintptr, need Prot) error {
	first, last, err := b.pages(addr, size)
	if err != nil {
		return &RangeError{Op: op, Addr: addr, Size: size, Err: err}
	}
	for i := first; i <= last; i++ {
		if b.prots[i]&need != need {
			return &RangeError{
				Op:   op,
				Addr: addr,
				Size: size,
				Err:  fmt.Errorf("%w: page 0x%x is %v", ErrAccessDenied, b.base+i*b.pageSize, b.prots[i]),
			}
		}
	}
	return nil
}

func (b *Buffer) pages(addr, size uintptr) (first, last uintptr, err error) {
	if size == 0 {
		size = 1
	}
	end := b.base + uintptr(len(b.data))
	if addr < b.base || addr >= end || size > end-addr {
		return 0, 0, ErrUnmapped
	}
	first = (addr - b.base) / b.pageSize
	last = (addr + size - 1 - b.base) / b.pageSize
	return first, last, nil
}
