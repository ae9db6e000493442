package relocator

import "errors"

var (
	// ErrAddressUnmapped is returned for addresses outside the host image.
	ErrAddressUnmapped = errors.New("address outside host image")
	// ErrProtectionChangeFailed is returned when page protection could not
	// be changed or restored.
	ErrProtectionChangeFailed = errors.New("page protection change failed")
	// ErrNotBranch is returned when a detour source is not the expected
	// branch instruction.
	ErrNotBranch = errors.New("not a branch instruction")
	// ErrOutOfRange is returned when a target cannot be reached even
	// through a thunk.
	ErrOutOfRange = errors.New("branch target out of range")
	// ErrImportNotFound is returned by PatchIAT when the import does not
	// exist.
	ErrImportNotFound = errors.New("import not found")
	// ErrPatchConflict is returned by Restore when the patched bytes were
	// changed by someone else.
	ErrPatchConflict = errors.New("patched bytes were modified")
	// ErrCaveExhausted is returned when a CaveAllocator has no room left.
	ErrCaveExhausted = errors.New("code cave exhausted")
	// ErrUnrelocatable is returned when a routine prologue contains an
	// instruction that cannot be moved.
	ErrUnrelocatable = errors.New("instruction cannot be relocated")
)
