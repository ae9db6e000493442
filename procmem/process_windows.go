//go:build windows

package procmem

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32DLL               = windows.NewLazySystemDLL("kernel32.dll")
	flushInstructionCacheProc = kernel32DLL.NewProc("FlushInstructionCache")
)

// Self returns the image of the process executable.
func Self() (*Process, error) {
	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return nil, os.NewSyscallError("GetModuleHandleEx", err)
	}
	return Module(uintptr(module))
}

// Module returns the image of the module loaded at base. The image size is
// taken from the module's optional header.
func Module(base uintptr) (*Process, error) {
	p := &Process{base: base, size: 0x40}
	var lfanew [4]byte
	if err := p.ReadAt(lfanew[:], base+0x3c); err != nil {
		return nil, err
	}
	// SizeOfImage sits at the same optional header offset for PE32 and PE32+.
	off := uintptr(uint32(lfanew[0]) | uint32(lfanew[1])<<8 | uint32(lfanew[2])<<16 | uint32(lfanew[3])<<24)
	sizeAddr := base + off + 4 + 20 + 56
	p.size = sizeAddr + 4 - base
	var size [4]byte
	if err := p.ReadAt(size[:], sizeAddr); err != nil {
		return nil, err
	}
	p.size = uintptr(uint32(size[0]) | uint32(size[1])<<8 | uint32(size[2])<<16 | uint32(size[3])<<24)
	return p, nil
}

func (p *Process) Protect(addr, size uintptr, prot Prot) (Prot, error) {
	if !Contains(p, addr, size) {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: ErrUnmapped}
	}
	start, length := pageRange(addr, size, syscall.Getpagesize())

	var old uint32
	if err := windows.VirtualProtect(start, length, toPageFlags(prot), &old); err != nil {
		return ProtNone, &RangeError{Op: "protect", Addr: addr, Size: size, Err: os.NewSyscallError("VirtualProtect", err)}
	}
	return fromPageFlags(old), nil
}

func (p *Process) FlushInstructionCache(addr, size uintptr) error {
	r1, _, lastErr := flushInstructionCacheProc.Call(uintptr(windows.CurrentProcess()), addr, size)
	if r1 == 0 {
		return os.NewSyscallError("FlushInstructionCache", lastErr)
	}
	return nil
}

func (p *Process) check(op string, addr, size uintptr, need Prot) error {
	if !Contains(p, addr, size) {
		return &RangeError{Op: op, Addr: addr, Size: size, Err: ErrUnmapped}
	}
	for cur := addr; cur < addr+size || cur == addr; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(cur, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return &RangeError{Op: op, Addr: addr, Size: size, Err: os.NewSyscallError("VirtualQuery", err)}
		}
		if mbi.State != windows.MEM_COMMIT {
			return &RangeError{Op: op, Addr: addr, Size: size, Err: ErrUnmapped}
		}
		if have := fromPageFlags(mbi.Protect); have&need != need {
			return &RangeError{Op: op, Addr: addr, Size: size, Err: fmt.Errorf("%w: region is %v", ErrAccessDenied, have)}
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= cur {
			break
		}
		cur = next
	}
	return nil
}

func toPageFlags(prot Prot) uint32 {
	switch prot {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRW, ProtWrite:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtRX:
		return windows.PAGE_EXECUTE_READ
	case ProtRWX, ProtWrite | ProtExec:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func fromPageFlags(flags uint32) Prot {
	switch flags &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtRW
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_EXECUTE_READ:
		return ProtRX
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtRWX
	default:
		return ProtNone
	}
}
