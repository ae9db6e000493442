//go:build windows

package inicache

import (
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procSetLastError = kernel32.NewProc("SetLastError")
)

func setLastError(e Errno) {
	procSetLastError.Call(uintptr(e))
}

// SystemHooks connects a Manager to the native API. Its callbacks decode
// their arguments and call the Manager; as a Profile it forwards to the
// original kernel32 entry points.
type SystemHooks struct {
	m *Manager

	mu        sync.Mutex
	callbacks map[string]uintptr
	originals map[string]uintptr
}

// NewSystemHooks builds the callbacks for m and makes the hooks m's
// fallback.
func NewSystemHooks(m *Manager) *SystemHooks {
	h := &SystemHooks{m: m, originals: make(map[string]uintptr)}
	h.callbacks = map[string]uintptr{
		"GetPrivateProfileIntA":      syscall.NewCallback(h.getIntA),
		"GetPrivateProfileIntW":      syscall.NewCallback(h.getIntW),
		"GetPrivateProfileStringA":   syscall.NewCallback(h.getStringA),
		"GetPrivateProfileStringW":   syscall.NewCallback(h.getStringW),
		"GetPrivateProfileStructA":   syscall.NewCallback(h.getStructA),
		"WritePrivateProfileStringA": syscall.NewCallback(h.writeStringA),
		"WritePrivateProfileStringW": syscall.NewCallback(h.writeStringW),
		"WritePrivateProfileStructA": syscall.NewCallback(h.writeStructA),
	}
	m.SetFallback(h)
	return h
}

func (h *SystemHooks) Callback(api string) uintptr { return h.callbacks[api] }

func (h *SystemHooks) SetOriginal(api string, original uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.originals[api] = original
}

func (h *SystemHooks) original(api string) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.originals[api]
}

func narrowArg(p uintptr) *string {
	if p == 0 {
		return nil
	}
	s := DecodeNarrow([]byte(windows.BytePtrToString((*byte)(unsafe.Pointer(p)))))
	return &s
}

func wideArg(p uintptr) *string {
	if p == 0 {
		return nil
	}
	s := windows.UTF16PtrToString((*uint16)(unsafe.Pointer(p)))
	return &s
}

func boolResult(ok bool) uintptr {
	if ok {
		return 1
	}
	return 0
}

func (h *SystemHooks) getIntA(section, key, def, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	v, errno := h.m.GetPrivateProfileIntA(narrowArg(section), narrowArg(key), int32(def), narrowArg(file))
	setLastError(errno)
	return uintptr(v)
}

func (h *SystemHooks) getIntW(section, key, def, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	v, errno := h.m.GetPrivateProfileIntW(wideArg(section), wideArg(key), int32(def), wideArg(file))
	setLastError(errno)
	return uintptr(v)
}

func (h *SystemHooks) getStringA(section, key, def, dst, size, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	n, errno := h.m.GetPrivateProfileStringA(narrowArg(section), narrowArg(key), narrowArg(def), narrowBuf(dst, size), narrowArg(file))
	setLastError(errno)
	return uintptr(n)
}

func (h *SystemHooks) getStringW(section, key, def, dst, size, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	n, errno := h.m.GetPrivateProfileStringW(wideArg(section), wideArg(key), wideArg(def), wideBuf(dst, size), wideArg(file))
	setLastError(errno)
	return uintptr(n)
}

func (h *SystemHooks) getStructA(section, key, dst, size, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	if dword(size) >= maxStructSize {
		return 0
	}
	buf := narrowBuf(dst, size)
	if buf == nil {
		buf = []byte{}
	}
	ok, errno := h.m.GetPrivateProfileStructA(narrowArg(section), narrowArg(key), buf, narrowArg(file))
	setLastError(errno)
	return boolResult(ok)
}

func (h *SystemHooks) writeStringA(section, key, value, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	ok, errno := h.m.WritePrivateProfileStringA(narrowArg(section), narrowArg(key), narrowArg(value), narrowArg(file))
	setLastError(errno)
	return boolResult(ok)
}

func (h *SystemHooks) writeStringW(section, key, value, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	ok, errno := h.m.WritePrivateProfileStringW(wideArg(section), wideArg(key), wideArg(value), wideArg(file))
	setLastError(errno)
	return boolResult(ok)
}

func (h *SystemHooks) writeStructA(section, key, data, size, file uintptr) uintptr {
	setLastError(ErrorSuccess)
	if dword(size) >= maxStructSize {
		return 0
	}
	var buf []byte
	if data != 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(data)), dword(size))
	}
	ok, errno := h.m.WritePrivateProfileStructA(narrowArg(section), narrowArg(key), buf, narrowArg(file))
	setLastError(errno)
	return boolResult(ok)
}

// The Profile side forwards to the original entry points.

// cargs converts arguments for a native call and keeps the converted
// memory reachable until the call returns.
type cargs struct {
	keep []any
}

func (a *cargs) narrow(s *string) uintptr {
	if s == nil {
		return 0
	}
	p, err := windows.BytePtrFromString(string(EncodeNarrow(*s)))
	if err != nil {
		return 0
	}
	a.keep = append(a.keep, p)
	return uintptr(unsafe.Pointer(p))
}

func (a *cargs) wide(s *string) uintptr {
	if s == nil {
		return 0
	}
	p, err := windows.UTF16PtrFromString(*s)
	if err != nil {
		return 0
	}
	a.keep = append(a.keep, p)
	return uintptr(unsafe.Pointer(p))
}

func (a *cargs) bytes(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	a.keep = append(a.keep, b)
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func (a *cargs) units(u []uint16) uintptr {
	if len(u) == 0 {
		return 0
	}
	a.keep = append(a.keep, u)
	return uintptr(unsafe.Pointer(unsafe.SliceData(u)))
}

func (h *SystemHooks) call(api string, a *cargs, args ...uintptr) (uintptr, Errno) {
	defer runtime.KeepAlive(a.keep)

	fn := h.original(api)
	if fn == 0 {
		return 0, ErrorFileNotFound
	}
	r, _, errno := syscall.SyscallN(fn, args...)
	return r, Errno(errno)
}

func (h *SystemHooks) GetPrivateProfileIntA(section, key *string, def int32, file *string) (uint32, Errno) {
	var a cargs
	r, errno := h.call("GetPrivateProfileIntA", &a, a.narrow(section), a.narrow(key), uintptr(def), a.narrow(file))
	return uint32(r), errno
}

func (h *SystemHooks) GetPrivateProfileIntW(section, key *string, def int32, file *string) (uint32, Errno) {
	var a cargs
	r, errno := h.call("GetPrivateProfileIntW", &a, a.wide(section), a.wide(key), uintptr(def), a.wide(file))
	return uint32(r), errno
}

func (h *SystemHooks) GetPrivateProfileStringA(section, key, def *string, dst []byte, file *string) (uint32, Errno) {
	var a cargs
	r, errno := h.call("GetPrivateProfileStringA", &a, a.narrow(section), a.narrow(key), a.narrow(def), a.bytes(dst), uintptr(len(dst)), a.narrow(file))
	return uint32(r), errno
}

func (h *SystemHooks) GetPrivateProfileStringW(section, key, def *string, dst []uint16, file *string) (uint32, Errno) {
	var a cargs
	r, errno := h.call("GetPrivateProfileStringW", &a, a.wide(section), a.wide(key), a.wide(def), a.units(dst), uintptr(len(dst)), a.wide(file))
	return uint32(r), errno
}

func (h *SystemHooks) GetPrivateProfileStructA(section, key *string, dst []byte, file *string) (bool, Errno) {
	var a cargs
	r, errno := h.call("GetPrivateProfileStructA", &a, a.narrow(section), a.narrow(key), a.bytes(dst), uintptr(len(dst)), a.narrow(file))
	return r != 0, errno
}

func (h *SystemHooks) WritePrivateProfileStringA(section, key, value, file *string) (bool, Errno) {
	var a cargs
	r, errno := h.call("WritePrivateProfileStringA", &a, a.narrow(section), a.narrow(key), a.narrow(value), a.narrow(file))
	return r != 0, errno
}

func (h *SystemHooks) WritePrivateProfileStringW(section, key, value, file *string) (bool, Errno) {
	var a cargs
	r, errno := h.call("WritePrivateProfileStringW", &a, a.wide(section), a.wide(key), a.wide(value), a.wide(file))
	return r != 0, errno
}

func (h *SystemHooks) WritePrivateProfileStructA(section, key *string, data []byte, file *string) (bool, Errno) {
	var a cargs
	r, errno := h.call("WritePrivateProfileStructA", &a, a.narrow(section), a.narrow(key), a.bytes(data), uintptr(len(data)), a.narrow(file))
	return r != 0, errno
}
