//go:build unix && !linux

package procmem

import "fmt"

func mappedProt(addr uintptr) (Prot, error) {
	return ProtNone, fmt.Errorf("%w: page protection query at 0x%x", ErrUnsupported, addr)
}
