package relocator

import (
	"errors"
	"fmt"
	"iter"

	"github.com/pboyd/ckpe/procmem"
)

// writable runs fn with [addr, addr+size) set to RWX and puts back each
// page's previous protection afterwards, including when fn panics. Pages
// are changed one at a time because a range can span pages with different
// protections.
func writable(mem procmem.Memory, addr, size uintptr, fn func() error) (err error) {
	type saved struct {
		addr, size uintptr
		prot       procmem.Prot
	}
	var pages []saved

	defer func() {
		for i := len(pages) - 1; i >= 0; i-- {
			pg := pages[i]
			if _, rerr := mem.Protect(pg.addr, pg.size, pg.prot); rerr != nil {
				err = errors.Join(err, fmt.Errorf("%w: restore %v at 0x%x: %w", ErrProtectionChangeFailed, pg.prot, pg.addr, rerr))
			}
		}
	}()

	for pg, n := range pageSpans(addr, size, mem.PageSize()) {
		old, perr := mem.Protect(pg, n, procmem.ProtRWX)
		if perr != nil {
			return fmt.Errorf("%w: 0x%x+%d: %w", ErrProtectionChangeFailed, pg, n, perr)
		}
		pages = append(pages, saved{addr: pg, size: n, prot: old})
	}

	return fn()
}

// pageSpans yields the part of [addr, addr+size) that falls in each page.
func pageSpans(addr, size, pageSize uintptr) iter.Seq2[uintptr, uintptr] {
	return func(yield func(uintptr, uintptr) bool) {
		if pageSize == 0 {
			pageSize = procmem.DefaultPageSize
		}
		if size == 0 {
			size = 1
		}
		end := addr + size
		for a := addr; a < end; {
			next := (a &^ (pageSize - 1)) + pageSize
			n := min(next, end) - a
			if !yield(a, n) {
				return
			}
			a += n
		}
	}
}

// writeCode writes code at addr under writable and flushes the instruction
// cache when mem supports it.
func writeCode(mem procmem.Memory, addr uintptr, code []byte) error {
	return writable(mem, addr, uintptr(len(code)), func() error {
		if err := mem.WriteAt(code, addr); err != nil {
			return err
		}
		if f, ok := mem.(procmem.InstructionCacheFlusher); ok {
			return f.FlushInstructionCache(addr, uintptr(len(code)))
		}
		return nil
	})
}
