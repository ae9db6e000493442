// Package pointerhandle replaces the editor's object handle manager.
//
// The stock manager runs out of handles in large worldspaces. The
// replacement routines live outside the editor and are reached by jumps
// written over the entry points of the stock ones. The entry points moved
// between builds, so each build has its own install routine and its own
// item layout.
package pointerhandle

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

const (
	// Name is the module name, also the database item name.
	Name = "Replace BSPointerHandle And Manager"
	// ExtremeOption selects the aggressive replacement.
	ExtremeOption = "CreationKit:bBSPointerHandleExtremly"

	family = "fallout4"
)

// Role is a stock routine the replacement takes over.
type Role int

const (
	Create Role = iota
	Release
	Lookup
	Compact
)

func (r Role) String() string {
	switch r {
	case Create:
		return "create"
	case Release:
		return "release"
	case Lookup:
		return "lookup"
	case Compact:
		return "compact"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Routines returns the replacement entry point for role. extreme selects
// the aggressive variant. A zero address leaves the stock routine in place.
type Routines func(role Role, extreme bool) uintptr

// layout maps item slots to the routine each one holds.
type layout struct {
	version uint32
	slots   map[uint32]Role
}

var layouts = map[string]layout{
	"163": {version: 1, slots: map[uint32]Role{0: Create, 1: Release, 2: Lookup}},
	// Lookup was inlined into its callers, compaction became a routine.
	"980": {version: 2, slots: map[uint32]Role{0: Create, 1: Release, 3: Compact}},
}

// Patch is the module.
type Patch struct {
	module.Base
	routines Routines
	extreme  bool
	log      *slog.Logger

	strategies module.Strategies
	hook       *module.SharedHook

	mu      sync.Mutex
	r       *relocator.Relocator
	item    *reldb.Item
	install module.Install
	patches []*relocator.Patch
}

// New returns the module. opts decides whether the aggressive variant is
// installed.
func New(routines Routines, opts module.Options, log *slog.Logger) *Patch {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Patch{
		Base:     module.Base{ModuleName: Name},
		routines: routines,
		extreme:  opts.Enabled(ExtremeOption, false),
		log:      log,
	}
	p.strategies = module.Strategies{
		"163": p.install163,
		"980": p.install980,
	}
	p.hook = module.NewSharedHook(Name, p.installHook, p.uninstallHook)
	return p
}

// Hook is the shared replacement. Modules that rely on the replacement
// being in place hold a reference to it.
func (p *Patch) Hook() *module.SharedHook { return p.hook }

func (p *Patch) IsApplicable(build reldb.BuildIdentity, _ string) bool {
	return build.Family == family && p.strategies.Supports(build)
}

// IsVersionValid reports whether item has the layout its build's install
// routine expects.
func (p *Patch) IsVersionValid(item *reldb.Item) bool {
	l, ok := layouts[item.Build().Short()]
	return ok && item.Version() == l.version
}

func (p *Patch) Activate(r *relocator.Relocator, item *reldb.Item) error {
	if item == nil {
		return reldb.ErrItemMissing
	}
	install, err := p.strategies.Select(item.Build())
	if err != nil {
		return err
	}
	if !p.IsVersionValid(item) {
		return fmt.Errorf("%w: %q version %d on %s", module.ErrUnsupportedItem, item.Name(), item.Version(), item.Build())
	}

	p.mu.Lock()
	p.r, p.item, p.install = r, item, install
	p.mu.Unlock()

	return p.hook.Acquire()
}

// Shutdown drops the module's own reference. The stock routines come back
// once every other holder has released the hook too.
func (p *Patch) Shutdown(*relocator.Relocator, *reldb.Item) error {
	return p.hook.Release()
}

func (p *Patch) installHook() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.install == nil {
		return errors.New("not activated")
	}
	return p.install(p.r, p.item)
}

func (p *Patch) uninstallHook() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, patch := range slices.Backward(p.patches) {
		if err := p.r.Restore(patch); err != nil {
			errs = append(errs, err)
		}
	}
	p.patches = nil
	return errors.Join(errs...)
}

func (p *Patch) install163(r *relocator.Relocator, item *reldb.Item) error {
	return p.jumpAll(r, item, layouts["163"])
}

// install980 also requires the release routine: without it handles from
// the replacement would be freed by the stock manager.
func (p *Patch) install980(r *relocator.Relocator, item *reldb.Item) error {
	if _, err := item.Require(1); err != nil {
		return err
	}
	return p.jumpAll(r, item, layouts["980"])
}

// jumpAll writes a jump to the replacement over every slot of item that l
// names. On failure the jumps already written are undone.
func (p *Patch) jumpAll(r *relocator.Relocator, item *reldb.Item, l layout) error {
	var written []*relocator.Patch
	undo := func(err error) error {
		for _, patch := range slices.Backward(written) {
			err = errors.Join(err, r.Restore(patch))
		}
		return err
	}

	for _, slot := range item.Slots() {
		role, ok := l.slots[slot]
		if !ok {
			continue
		}
		dst := p.routines(role, p.extreme)
		if dst == 0 {
			continue
		}

		rva, _ := item.Offset(slot)
		src, err := r.Resolve(rva)
		if err == nil {
			var patch *relocator.Patch
			if patch, err = r.WriteJump(src, dst); err == nil {
				written = append(written, patch)
				p.log.Debug("handle routine replaced",
					slog.String("role", role.String()),
					slog.Bool("extreme", p.extreme),
					slog.String("rva", rva.String()))
				continue
			}
		}
		return undo(fmt.Errorf("%s routine: %w", role, err))
	}

	p.patches = written
	return nil
}
