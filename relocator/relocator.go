// Package relocator applies code and data patches to the loaded host image.
//
// Every write goes through the same path: the touched range is made
// writable, the bytes it held are saved in a Patch, the new bytes are
// written, the previous protection is put back and the instruction cache is
// flushed. A Patch can later be reverted with Restore.
package relocator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pboyd/ckpe/procmem"
	"github.com/pboyd/ckpe/reldb"
)

// Relocator patches one host image.
type Relocator struct {
	img     procmem.Image
	log     *slog.Logger
	alloc   Allocator
	mode    int
	headers *procmem.Headers

	mu sync.Mutex
}

// Option configures a Relocator.
type Option func(*Relocator)

// WithLogger sets the logger mutations are reported to at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relocator) {
		r.log = l
	}
}

// WithAllocator sets where thunks and trampolines are placed. Without one,
// targets beyond rel32 reach fail with ErrOutOfRange.
func WithAllocator(a Allocator) Option {
	return func(r *Relocator) {
		r.alloc = a
	}
}

// WithMode forces 32 or 64 bit decoding. By default the mode follows the
// image's optional header.
func WithMode(mode int) Option {
	return func(r *Relocator) {
		r.mode = mode
	}
}

// New returns a Relocator for img.
func New(img procmem.Image, opts ...Option) *Relocator {
	r := &Relocator{img: img}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}

	// Images without readable headers are still patchable, only PatchIAT
	// needs them.
	if h, err := procmem.ReadHeaders(img); err == nil {
		r.headers = h
		if r.mode == 0 && !h.Is64 {
			r.mode = 32
		}
	}
	if r.mode == 0 {
		r.mode = 64
	}
	return r
}

// Image returns the patched image.
func (r *Relocator) Image() procmem.Image { return r.img }

// Mode returns 32 or 64.
func (r *Relocator) Mode() int { return r.mode }

// Resolve converts an offset into an absolute address.
func (r *Relocator) Resolve(rva reldb.RVA) (uintptr, error) {
	addr := r.img.Base() + uintptr(rva)
	if !procmem.Contains(r.img, addr, 1) {
		return 0, fmt.Errorf("%w: rva %v", ErrAddressUnmapped, rva)
	}
	return addr, nil
}

// Patch is a record of one write. Restore uses it to undo the write.
type Patch struct {
	Addr        uintptr
	Original    []byte
	Replacement []byte

	// blocks are allocator blocks the replacement branches into, in
	// allocation order. They are released once the patch is restored.
	blocks   []uintptr
	restored bool
}

// Len returns the number of bytes patched.
func (p *Patch) Len() int { return len(p.Replacement) }

// Patch overwrites the bytes at addr with data.
func (r *Relocator) Patch(addr uintptr, data []byte) (*Patch, error) {
	return r.write("patch", addr, data)
}

// PatchNop fills n bytes at addr with NOP.
func (r *Relocator) PatchNop(addr uintptr, n int) (*Patch, error) {
	return r.write("nop", addr, bytes.Repeat([]byte{opcodeNOP}, n))
}

// Restore writes back the bytes p replaced. It fails with ErrPatchConflict
// if the patched range no longer holds p's replacement.
func (r *Relocator) Restore(p *Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.restored {
		return nil
	}

	err := writable(r.img, p.Addr, uintptr(len(p.Original)), func() error {
		current := make([]byte, len(p.Replacement))
		if err := r.img.ReadAt(current, p.Addr); err != nil {
			return err
		}
		if !bytes.Equal(current, p.Replacement) {
			return fmt.Errorf("%w: 0x%x", ErrPatchConflict, p.Addr)
		}
		if err := r.img.WriteAt(p.Original, p.Addr); err != nil {
			return err
		}
		return r.flush(p.Addr, len(p.Original))
	})
	if err != nil {
		return fmt.Errorf("restore 0x%x: %w", p.Addr, err)
	}

	p.restored = true
	r.debug("restored", p.Addr, p.Replacement, p.Original)
	for i := len(p.blocks) - 1; i >= 0; i-- {
		r.release(p.blocks[i])
	}
	p.blocks = nil
	return nil
}

// writeOwning is write for a replacement that branches into block. block
// is released if the write fails and kept with the patch otherwise.
func (r *Relocator) writeOwning(op string, addr uintptr, data []byte, block uintptr) (*Patch, error) {
	p, err := r.write(op, addr, data)
	if err != nil {
		r.release(block)
		return nil, err
	}
	if block != 0 {
		p.blocks = append(p.blocks, block)
	}
	return p, nil
}

func (r *Relocator) write(op string, addr uintptr, data []byte) (*Patch, error) {
	if !procmem.Contains(r.img, addr, uintptr(len(data))) {
		return nil, fmt.Errorf("%s 0x%x+%d: %w", op, addr, len(data), ErrAddressUnmapped)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Patch{
		Addr:        addr,
		Original:    make([]byte, len(data)),
		Replacement: bytes.Clone(data),
	}
	err := writable(r.img, addr, uintptr(len(data)), func() error {
		if err := r.img.ReadAt(p.Original, addr); err != nil {
			return err
		}
		if err := r.img.WriteAt(data, addr); err != nil {
			return err
		}
		return r.flush(addr, len(data))
	})
	if err != nil {
		return nil, fmt.Errorf("%s 0x%x: %w", op, addr, err)
	}

	r.debug(op, addr, p.Original, p.Replacement)
	return p, nil
}

func (r *Relocator) flush(addr uintptr, n int) error {
	if f, ok := r.img.(procmem.InstructionCacheFlusher); ok {
		return f.FlushInstructionCache(addr, uintptr(n))
	}
	return nil
}

// read returns up to n readable bytes at addr, stopping at the end of the
// image.
func (r *Relocator) read(addr uintptr, n int) ([]byte, error) {
	if !procmem.Contains(r.img, addr, 1) {
		return nil, fmt.Errorf("0x%x: %w", addr, ErrAddressUnmapped)
	}
	if rest := r.img.Base() + r.img.Size() - addr; uintptr(n) > rest {
		n = int(rest)
	}
	buf := make([]byte, n)
	if err := r.img.ReadAt(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Relocator) debug(op string, addr uintptr, before, after []byte) {
	if !r.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	r.log.Debug(op,
		slog.String("addr", fmt.Sprintf("0x%x", addr)),
		slog.Int("len", len(after)),
		slog.String("before", disassemble(before, addr, r.mode)),
		slog.String("after", disassemble(after, addr, r.mode)),
	)
}
