package relocator

import (
	"fmt"
	"sync"

	"github.com/pboyd/ckpe/procmem"
)

// Allocator hands out executable memory for thunks and trampolines.
type Allocator interface {
	// Allocate reserves size bytes and returns their address.
	Allocate(size int) (uintptr, error)
	// Write stores code at addr, which must have come from Allocate.
	Write(addr uintptr, code []byte) error
}

// Releaser is implemented by allocators that can take back a block from
// Allocate.
type Releaser interface {
	Release(addr uintptr) error
}

// CaveAllocator bump allocates from a region of padding inside the host
// image. Only the most recent allocations can be released, newest first.
type CaveAllocator struct {
	mu    sync.Mutex
	mem   procmem.Memory
	start uintptr
	end   uintptr
	next  uintptr

	// marks is next as it was before each outstanding allocation, keyed by
	// allocation order.
	marks []caveMark
}

type caveMark struct {
	addr, next uintptr
}

// NewCaveAllocator returns an allocator over [start, start+size) of mem.
func NewCaveAllocator(mem procmem.Memory, start, size uintptr) *CaveAllocator {
	return &CaveAllocator{
		mem:   mem,
		start: start,
		end:   start + size,
		next:  start,
	}
}

// Allocate returns size bytes aligned to 16.
func (c *CaveAllocator) Allocate(size int) (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := (c.next + 0xf) &^ 0xf
	if size <= 0 || addr+uintptr(size) > c.end || addr < c.next {
		return 0, fmt.Errorf("%w: %d bytes requested, %d left", ErrCaveExhausted, size, c.end-min(c.next, c.end))
	}
	c.marks = append(c.marks, caveMark{addr: addr, next: c.next})
	c.next = addr + uintptr(size)
	return addr, nil
}

// Release returns the block at addr to the cave. addr must be the newest
// allocation still held.
func (c *CaveAllocator) Release(addr uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.marks); n > 0 && c.marks[n-1].addr == addr {
		c.next = c.marks[n-1].next
		c.marks = c.marks[:n-1]
		return nil
	}
	return fmt.Errorf("release 0x%x: not the newest cave allocation", addr)
}

func (c *CaveAllocator) Write(addr uintptr, code []byte) error {
	c.mu.Lock()
	next := c.next
	c.mu.Unlock()

	if addr < c.start || addr+uintptr(len(code)) > next {
		return fmt.Errorf("write 0x%x+%d outside allocated cave", addr, len(code))
	}
	return writeCode(c.mem, addr, code)
}

// Remaining returns the bytes left in the cave.
func (c *CaveAllocator) Remaining() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end - c.next
}
