//go:build windows

package relocator

import "golang.org/x/sys/windows"

const (
	protExec  = windows.PAGE_EXECUTE
	protRX    = windows.PAGE_EXECUTE_READ
	protRWX   = windows.PAGE_EXECUTE_READWRITE
	mmapFlags = 0
)
