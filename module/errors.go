package module

import (
	"errors"
	"fmt"

	"github.com/pboyd/ckpe/reldb"
)

var (
	// ErrVersionMismatch means the running build has no database entry.
	ErrVersionMismatch = errors.New("running build is not in the relocation database")
	// ErrNotApplicable means the module rejected the running build.
	ErrNotApplicable = errors.New("module not applicable to running build")
	// ErrDependencyCycle marks modules that could not be ordered.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrDependencyUnsatisfied means a dependency is unknown or did not
	// activate.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")
	// ErrCannotDisable is returned by Shutdown for modules that are not
	// activated or cannot be disabled at runtime.
	ErrCannotDisable = errors.New("module cannot be disabled")
	// ErrInUse is returned by Shutdown while an activated module depends on
	// the target.
	ErrInUse = errors.New("module is in use")
	// ErrUnknownModule is returned for names that were never registered.
	ErrUnknownModule = errors.New("unknown module")
	// ErrDuplicateModule is returned by Register for a name already taken.
	ErrDuplicateModule = errors.New("duplicate module")
	// ErrUnsupportedItem means the build's item has a layout version the
	// module has no code for.
	ErrUnsupportedItem = errors.New("unsupported item version")
	// ErrAlreadyRun is returned by a second call to Driver.Run.
	ErrAlreadyRun = errors.New("driver already ran")
)

// ActivationError is a failed Activate call.
type ActivationError struct {
	Module string
	Build  reldb.BuildIdentity
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activate %q on %s: %v", e.Module, e.Build, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}
