package relocator

import (
	"fmt"
	"log/slog"

	"golang.org/x/arch/x86/x86asm"
)

// DetourCall redirects the call instruction at src to dst. src must hold
// CALL rel32 or CALL [disp32]. The instruction keeps its length.
func (r *Relocator) DetourCall(src, dst uintptr) (*Patch, error) {
	return r.detour(src, dst, x86asm.CALL, opcodeCALLrel, modrmCALLmem)
}

// DetourJump redirects the jump instruction at src to dst. src must hold
// JMP rel32 or JMP [disp32].
func (r *Relocator) DetourJump(src, dst uintptr) (*Patch, error) {
	return r.detour(src, dst, x86asm.JMP, opcodeJMPrel, modrmJMPmem)
}

func (r *Relocator) detour(src, dst uintptr, op x86asm.Op, opcode, modrm byte) (*Patch, error) {
	code, err := r.read(src, maxInstructionSize)
	if err != nil {
		return nil, fmt.Errorf("detour 0x%x: %w", src, err)
	}

	inst, err := x86asm.Decode(code, r.mode)
	if err != nil || inst.Op != op {
		return nil, fmt.Errorf("detour 0x%x: %w: want %s", src, ErrNotBranch, op)
	}

	switch {
	case inst.Len == rel32Size && code[0] == opcode:
	case inst.Len == 6 && code[0] == opcodeGroup5 && code[1] == modrm:
	default:
		return nil, fmt.Errorf("detour 0x%x: %w: unsupported form %s", src, ErrNotBranch, inst)
	}

	target, thunk, err := r.reach(src+rel32Size, dst)
	if err != nil {
		return nil, fmt.Errorf("detour 0x%x: %w", src, err)
	}

	buf := rel32(opcode, src, target)
	if inst.Len > rel32Size {
		buf = append(buf, opcodeNOP)
	}
	return r.writeOwning("detour", src, buf, thunk)
}

// WriteJump replaces the start of the routine at src with a JMP to dst.
// The remainder of the instructions the jump overlaps is filled with INT3.
func (r *Relocator) WriteJump(src, dst uintptr) (*Patch, error) {
	code, err := r.read(src, rel32Size+maxInstructionSize)
	if err != nil {
		return nil, fmt.Errorf("jump 0x%x: %w", src, err)
	}
	n, err := cover(code, rel32Size, r.mode)
	if err != nil {
		return nil, fmt.Errorf("jump 0x%x: %w", src, err)
	}

	target, thunk, err := r.reach(src+rel32Size, dst)
	if err != nil {
		return nil, fmt.Errorf("jump 0x%x: %w", src, err)
	}

	buf := make([]byte, n)
	if err := insertJump(buf, src, target); err != nil {
		r.release(thunk)
		return nil, err
	}
	return r.writeOwning("jump", src, buf, thunk)
}

// Hook is an installed routine hook.
type Hook struct {
	*Patch
	// Trampoline runs the hooked routine as it was before the hook.
	Trampoline uintptr
}

// HookRoutine redirects the routine at src to dst like WriteJump, and also
// copies the overwritten prologue into a trampoline so the previous
// behaviour stays callable through Hook.Trampoline. It needs an allocator.
func (r *Relocator) HookRoutine(src, dst uintptr) (*Hook, error) {
	if r.alloc == nil {
		return nil, fmt.Errorf("hook 0x%x: %w: no allocator", src, ErrOutOfRange)
	}

	code, err := r.read(src, rel32Size+maxInstructionSize)
	if err != nil {
		return nil, fmt.Errorf("hook 0x%x: %w", src, err)
	}
	n, err := cover(code, rel32Size, r.mode)
	if err != nil {
		return nil, fmt.Errorf("hook 0x%x: %w", src, err)
	}
	prologue := code[:n]

	tramp, err := r.alloc.Allocate(relocatedSize(prologue))
	if err != nil {
		return nil, fmt.Errorf("hook 0x%x: %w", src, err)
	}
	moved, err := relocate(prologue, src, tramp, r.mode)
	if err != nil {
		r.release(tramp)
		return nil, fmt.Errorf("hook 0x%x: %w", src, err)
	}
	if err := r.alloc.Write(tramp, moved); err != nil {
		r.release(tramp)
		return nil, fmt.Errorf("hook 0x%x: %w", src, err)
	}

	p, err := r.WriteJump(src, dst)
	if err != nil {
		r.release(tramp)
		return nil, err
	}
	p.blocks = append([]uintptr{tramp}, p.blocks...)
	return &Hook{Patch: p, Trampoline: tramp}, nil
}

// reach returns dst if it is within rel32 reach of next, otherwise the
// address of a thunk that jumps to dst. thunk is the block allocated for
// the jump, or zero.
func (r *Relocator) reach(next, dst uintptr) (target, thunk uintptr, err error) {
	if fitsRel32(next, dst, r.mode) {
		return dst, 0, nil
	}
	if r.alloc == nil {
		return 0, 0, fmt.Errorf("%w: 0x%x from 0x%x and no allocator", ErrOutOfRange, dst, next)
	}

	thunk, err = r.alloc.Allocate(thunkSize)
	if err != nil {
		return 0, 0, err
	}
	if !fitsRel32(next, thunk, r.mode) {
		r.release(thunk)
		return 0, 0, fmt.Errorf("%w: thunk 0x%x from 0x%x", ErrOutOfRange, thunk, next)
	}
	if err := r.alloc.Write(thunk, absJump(dst)); err != nil {
		r.release(thunk)
		return 0, 0, err
	}

	r.log.Debug("thunk",
		slog.String("addr", fmt.Sprintf("0x%x", thunk)),
		slog.String("target", fmt.Sprintf("0x%x", dst)),
	)
	return thunk, thunk, nil
}

// release hands an allocator block back when the allocator supports it.
func (r *Relocator) release(addr uintptr) {
	if addr == 0 {
		return
	}
	rel, ok := r.alloc.(Releaser)
	if !ok {
		return
	}
	if err := rel.Release(addr); err != nil {
		r.log.Debug("release", slog.String("addr", fmt.Sprintf("0x%x", addr)), slog.Any("err", err))
	}
}
