// Package quithandler makes the editor exit as soon as it is asked to,
// skipping the slow teardown of its scene.
package quithandler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

// Name is the module name, also the database item name.
const Name = "Quit Handler"

// Patch redirects every call site in the item to the quit routine.
type Patch struct {
	module.Base
	quit uintptr
}

// New returns the module. quit is the native routine that ends the process.
func New(quit uintptr) *Patch {
	return &Patch{
		Base: module.Base{ModuleName: Name},
		quit: quit,
	}
}

func (p *Patch) IsApplicable(reldb.BuildIdentity, string) bool { return true }

func (p *Patch) Activate(r *relocator.Relocator, item *reldb.Item) error {
	if item == nil {
		return reldb.ErrItemMissing
	}
	if item.Version() != 1 {
		return fmt.Errorf("%w: %q version %d", module.ErrUnsupportedItem, item.Name(), item.Version())
	}

	var written []*relocator.Patch
	undo := func(err error) error {
		for _, patch := range slices.Backward(written) {
			err = errors.Join(err, r.Restore(patch))
		}
		return err
	}

	for _, slot := range item.Slots() {
		rva, _ := item.Offset(slot)
		addr, err := r.Resolve(rva)
		if err != nil {
			return undo(fmt.Errorf("slot %d: %w", slot, err))
		}
		patch, err := r.DetourCall(addr, p.quit)
		if err != nil {
			return undo(fmt.Errorf("slot %d: %w", slot, err))
		}
		written = append(written, patch)
	}
	return nil
}

func (p *Patch) Shutdown(*relocator.Relocator, *reldb.Item) error {
	return module.ErrCannotDisable
}
