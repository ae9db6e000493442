package inicache

import "unsafe"

// dword returns the low 32 bits of a register argument. The upper half of
// a 64-bit register holding a DWORD parameter is undefined.
func dword(v uintptr) uintptr {
	return uintptr(uint32(v))
}

// narrowBuf returns the caller's buffer of n chars at p. n is a DWORD.
func narrowBuf(p, n uintptr) []byte {
	n = dword(n)
	if p == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}

// wideBuf is narrowBuf for UTF-16 buffers.
func wideBuf(p, n uintptr) []uint16 {
	n = dword(n)
	if p == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(p)), n)
}
