//go:build unix

package relocator

import "golang.org/x/sys/unix"

const (
	protExec  = unix.PROT_READ | unix.PROT_EXEC
	protRX    = unix.PROT_READ | unix.PROT_EXEC
	protRWX   = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	mmapFlags = 0
)
