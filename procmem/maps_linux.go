package procmem

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const mapsPath = "/proc/self/maps"

// mappedProt returns the protection of the mapping holding addr, as listed
// in /proc/self/maps.
func mappedProt(addr uintptr) (Prot, error) {
	f, err := os.Open(mapsPath)
	if err != nil {
		return ProtNone, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		start, end, prot, ok := parseMapsLine(s.Text())
		if ok && addr >= start && addr < end {
			return prot, nil
		}
	}
	if err := s.Err(); err != nil {
		return ProtNone, fmt.Errorf("%s: %w", mapsPath, err)
	}
	return ProtNone, fmt.Errorf("%w: 0x%x not in %s", ErrUnmapped, addr, mapsPath)
}

// parseMapsLine parses "start-end perms ..." from one line of a maps file.
func parseMapsLine(line string) (start, end uintptr, prot Prot, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, ProtNone, false
	}
	lo, hi, found := strings.Cut(fields[0], "-")
	if !found {
		return 0, 0, ProtNone, false
	}
	s, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return 0, 0, ProtNone, false
	}
	e, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return 0, 0, ProtNone, false
	}

	perms := fields[1]
	if len(perms) < 3 {
		return 0, 0, ProtNone, false
	}
	if perms[0] == 'r' {
		prot |= ProtRead
	}
	if perms[1] == 'w' {
		prot |= ProtWrite
	}
	if perms[2] == 'x' {
		prot |= ProtExec
	}
	return uintptr(s), uintptr(e), prot, true
}
