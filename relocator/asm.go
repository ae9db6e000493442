package relocator

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeJMPrel  = 0xe9 // JMP rel32
	opcodeJMPrel8 = 0xeb // JMP rel8
	opcodeGroup5  = 0xff // CALL/JMP r/m
	opcodeINT3    = 0xcc
	opcodeNOP     = 0x90
	opcodeLEA     = 0x8d
	opcodeMOV_r_m = 0x8b // MOV r, r/m

	// ModRM bytes for CALL [disp32] and JMP [disp32]. In 64-bit mode the
	// displacement is RIP relative.
	modrmCALLmem = 0x15
	modrmJMPmem  = 0x25

	rel32Size = 5

	// thunkSize is FF 25 00000000 followed by the absolute target.
	thunkSize = 14

	// maxInstructionSize is the longest x86 encoding.
	maxInstructionSize = 15
)

// fitsRel32 reports whether dest can be reached by a rel32 displacement from
// the instruction ending at next.
func fitsRel32(next, dest uintptr, mode int) bool {
	if mode == 32 {
		return true
	}
	d := int64(dest) - int64(next)
	return d >= math.MinInt32 && d <= math.MaxInt32
}

// rel32 encodes opcode with a displacement from the instruction at src to
// dest.
func rel32(opcode byte, src, dest uintptr) []byte {
	buf := make([]byte, rel32Size)
	buf[0] = opcode
	binary.LittleEndian.PutUint32(buf[1:], uint32(int32(int64(dest)-int64(src+rel32Size))))
	return buf
}

// insertJump fills buf, which will live at src, with a JMP rel32 to dest and
// pads the rest with INT3.
func insertJump(buf []byte, src, dest uintptr) error {
	if len(buf) < rel32Size {
		return fmt.Errorf("buffer too small for jump instruction: %d bytes", len(buf))
	}
	copy(buf, rel32(opcodeJMPrel, src, dest))
	for i := rel32Size; i < len(buf); i++ {
		buf[i] = opcodeINT3
	}
	return nil
}

// absJump returns the x86-64 machine code equivalent of:
//
//	JMP [RIP+0]
//	.quad dest
func absJump(dest uintptr) []byte {
	buf := make([]byte, thunkSize)
	buf[0] = opcodeGroup5
	buf[1] = modrmJMPmem
	binary.LittleEndian.PutUint64(buf[6:], uint64(dest))
	return buf
}

// absCall returns the x86-64 machine code equivalent of:
//
//	CALL [RIP+2]
//	JMP  +8
//	.quad dest
func absCall(dest uintptr) []byte {
	buf := make([]byte, 16)
	buf[0] = opcodeGroup5
	buf[1] = modrmCALLmem
	binary.LittleEndian.PutUint32(buf[2:], 2)
	buf[6] = opcodeJMPrel8
	buf[7] = 8
	binary.LittleEndian.PutUint64(buf[8:], uint64(dest))
	return buf
}

// relocate copies the machine instructions in src, which live at srcAddr,
// into code that will run from destAddr, translating relative operands as
// it goes. The result ends with a jump back to the instruction after src.
func relocate(src []byte, srcAddr, destAddr uintptr, mode int) ([]byte, error) {
	var dest []byte

	for i := 0; i < len(src); {
		inst, err := x86asm.Decode(src[i:], mode)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		srcNext := srcAddr + uintptr(i+inst.Len)
		at := destAddr + uintptr(len(dest))

		switch {
		case (src[i] == opcodeCALLrel || src[i] == opcodeJMPrel) && inst.Len == rel32Size:
			rel, ok := inst.Args[0].(x86asm.Rel)
			if !ok {
				return nil, fmt.Errorf("decode error at offset %d: unknown argument", i)
			}
			target := uintptr(int64(srcNext) + int64(rel))
			if fitsRel32(at+rel32Size, target, mode) {
				dest = append(dest, rel32(src[i], at, target)...)
			} else if src[i] == opcodeCALLrel {
				dest = append(dest, absCall(target)...)
			} else {
				dest = append(dest, absJump(target)...)
			}
		case isRelativeBranch(inst):
			return nil, fmt.Errorf("%w: %s at offset %d", ErrUnrelocatable, inst.Op, i)
		case mode == 64 && ripRelative(inst):
			op, ok := ripOpcode(src[i:i+inst.Len], inst)
			if !ok {
				return nil, fmt.Errorf("%w: RIP relative %s at offset %d", ErrUnrelocatable, inst.Op, i)
			}
			dest, err = appendRIP(dest, src[i:i+inst.Len], inst, op, srcNext, at)
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
		default:
			dest = append(dest, src[i:i+inst.Len]...)
		}

		i += inst.Len
	}

	back := srcAddr + uintptr(len(src))
	at := destAddr + uintptr(len(dest))
	if fitsRel32(at+rel32Size, back, mode) {
		dest = append(dest, rel32(opcodeJMPrel, at, back)...)
	} else {
		dest = append(dest, absJump(back)...)
	}
	return dest, nil
}

// relocatedSize is an upper bound on the output of relocate for src.
func relocatedSize(src []byte) int {
	// Every instruction can expand to an absolute call.
	return len(src)*16/rel32Size + 16 + thunkSize
}

func isRelativeBranch(inst x86asm.Inst) bool {
	if _, ok := inst.Args[0].(x86asm.Rel); !ok {
		return false
	}
	return true
}

func ripRelative(inst x86asm.Inst) bool {
	for _, arg := range inst.Args {
		if mem, ok := arg.(x86asm.Mem); ok && mem.Base == x86asm.RIP {
			return true
		}
	}
	return false
}

// ripOpcode returns the opcode of a LEA or MOV r, r/m, skipping any REX
// prefix.
func ripOpcode(code []byte, inst x86asm.Inst) (byte, bool) {
	if inst.Op != x86asm.LEA && inst.Op != x86asm.MOV {
		return 0, false
	}
	for _, b := range code {
		if b&0xf0 == 0x40 {
			continue
		}
		return b, b == opcodeLEA || b == opcodeMOV_r_m
	}
	return 0, false
}

// appendRIP copies a LEA or MOV whose source operand is RIP relative,
// rewriting the trailing disp32 for the new address.
func appendRIP(dest, code []byte, inst x86asm.Inst, op byte, srcNext, at uintptr) ([]byte, error) {
	if op != opcodeLEA && op != opcodeMOV_r_m {
		return nil, fmt.Errorf("%w: RIP relative %s", ErrUnrelocatable, inst.Op)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		return nil, fmt.Errorf("%w: unknown argument", ErrUnrelocatable)
	}

	destNext := at + uintptr(inst.Len)
	newDisp := (int64(srcNext) + mem.Disp) - int64(destNext)
	if newDisp < math.MinInt32 || newDisp > math.MaxInt32 {
		return nil, fmt.Errorf("%w: unable to translate instruction relative address", ErrOutOfRange)
	}

	start := len(dest)
	dest = append(dest, code...)
	binary.LittleEndian.PutUint32(dest[start+inst.Len-4:], uint32(newDisp))
	return dest, nil
}

// cover returns how many whole instructions at the start of code are needed
// to hold at least n bytes.
func cover(code []byte, n, mode int) (int, error) {
	i := 0
	for i < n {
		inst, err := x86asm.Decode(code[i:], mode)
		if err != nil {
			return 0, fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		i += inst.Len
	}
	return i, nil
}

// disassemble formats code, located at addr, one instruction per line. Bytes
// that do not decode are printed as such.
func disassemble(code []byte, addr uintptr, mode int) string {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], mode)
		if err != nil {
			fmt.Fprintf(&buf, "0x%08x\t%-20s\t(bad)\n", addr+uintptr(i), hex.EncodeToString(code[i:]))
			break
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", addr+uintptr(i), hex.EncodeToString(code[i:i+inst.Len]), inst.String())

		i += inst.Len
	}

	return buf.String()
}
