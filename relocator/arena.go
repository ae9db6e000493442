//go:build unix || windows

package relocator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// ArenaAllocator allocates executable code from an mmap backed arena in
// the current process. The arena is kept read/execute except while Write
// runs.
type ArenaAllocator struct {
	*malloc.Arena
	backend  *placedBackend
	start    uintptr
	mprotect func(int) error
	mu       sync.Mutex
	blocks   map[uintptr][]byte
}

// arenaSearchStep is the distance between placement attempts when looking
// for free address space near the image.
const arenaSearchStep = 1 << 24

// NewArenaAllocator returns an allocator whose arena starts at size bytes.
// When near is non-zero the arena is placed within rel32 reach of near, so
// branches from the image can target thunks directly. Address space is
// searched outwards from near.
func NewArenaAllocator(size int, near uintptr) (*ArenaAllocator, error) {
	if near == 0 {
		a := newArena(size, 0)
		if a == nil {
			return nil, errors.New("unable to initialize arena")
		}
		return a, nil
	}

	try := func(hint uintptr) *ArenaAllocator {
		a := newArena(size, hint)
		if a == nil {
			return nil
		}
		if !fitsRel32(near, a.start, 64) || !fitsRel32(near, a.start+uintptr(size), 64) {
			a.release()
			return nil
		}
		return a
	}

	limit := uintptr(math.MaxInt32) - uintptr(size)
	for off := uintptr(arenaSearchStep); off < limit; off += arenaSearchStep {
		if off < near {
			if a := try(near - off); a != nil {
				return a, nil
			}
		}
		if near+off > near {
			if a := try(near + off); a != nil {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no free address space within rel32 reach of 0x%x", ErrOutOfRange, near)
}

func newArena(size int, hint uintptr) *ArenaAllocator {
	opts := []malloc.BackendOpt{malloc.MmapProt(protExec), malloc.MmapFlags(mmapFlags)}
	if hint != 0 {
		opts = append(opts, malloc.MmapAddr(hint))
	}
	be := &placedBackend{ArenaBackend: malloc.MmapBackend(opts...)}

	a := &ArenaAllocator{
		blocks:   make(map[uintptr][]byte),
		backend:  be,
		mprotect: func(int) error { return nil },
	}
	if protBE, ok := be.ArenaBackend.(malloc.ProtectedArenaBackend); ok {
		a.mprotect = protBE.Protect
	}

	a.Arena = malloc.NewArena(uint64(size), malloc.Backend(be))
	if a.Arena == nil {
		return nil
	}
	a.start = uintptr(unsafe.Pointer(unsafe.SliceData(be.first)))
	if err := a.mprotect(protRX); err != nil {
		a.release()
		return nil
	}
	return a
}

// release unmaps an arena that was never handed out.
func (a *ArenaAllocator) release() {
	a.backend.Free(a.backend.first)
}

// placedBackend records the first mapping so the arena's placement can be
// checked.
type placedBackend struct {
	malloc.ArenaBackend
	first []byte
}

func (b *placedBackend) Grow(buf []byte, size uintptr) ([]byte, error) {
	out, err := b.ArenaBackend.Grow(buf, size)
	if err == nil && b.first == nil {
		b.first = out
	}
	return out, err
}

func (b *placedBackend) Free(buf []byte) error {
	if f, ok := b.ArenaBackend.(malloc.FreeableArenaBackend); ok {
		return f.Free(buf)
	}
	return nil
}

func (a *ArenaAllocator) Allocate(size int) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.mprotect(protRWX); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProtectionChangeFailed, err)
	}
	defer a.mprotect(protRX)

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return 0, err
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	a.blocks[addr] = buf
	return addr, nil
}

func (a *ArenaAllocator) Write(addr uintptr, code []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.blocks[addr]
	if !ok || len(code) > len(buf) {
		return fmt.Errorf("write 0x%x+%d outside allocated arena block", addr, len(code))
	}

	if err := a.mprotect(protRWX); err != nil {
		return fmt.Errorf("%w: %w", ErrProtectionChangeFailed, err)
	}
	copy(buf, code)
	return a.mprotect(protRX)
}

// Release frees the block allocated at addr.
func (a *ArenaAllocator) Release(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.blocks[addr]
	if !ok {
		return fmt.Errorf("release 0x%x: not an arena block", addr)
	}

	if err := a.mprotect(protRWX); err != nil {
		return fmt.Errorf("%w: %w", ErrProtectionChangeFailed, err)
	}
	malloc.FreeSlice(a.Arena, buf)
	delete(a.blocks, addr)
	return a.mprotect(protRX)
}

// Bytes returns the block allocated at addr.
func (a *ArenaAllocator) Bytes(addr uintptr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[addr]
}

// Close frees every block.
func (a *ArenaAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.mprotect(protRWX); err != nil {
		return fmt.Errorf("%w: %w", ErrProtectionChangeFailed, err)
	}
	for addr, buf := range a.blocks {
		malloc.FreeSlice(a.Arena, buf)
		delete(a.blocks, addr)
	}
	return a.mprotect(protRX)
}
