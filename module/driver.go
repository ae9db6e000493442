package module

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

// Status is the outcome for one module.
type Status struct {
	Module string
	State  State
	Err    error
}

// Report is the result of Driver.Run.
type Report struct {
	Build reldb.BuildIdentity
	// Modules is in registration order.
	Modules []Status
	// Activated lists activated modules in activation order.
	Activated []string
}

// Status returns the status of name.
func (r *Report) Status(name string) (Status, bool) {
	for _, s := range r.Modules {
		if s.Module == name {
			return s, true
		}
	}
	return Status{}, false
}

// Count returns how many modules ended in state.
func (r *Report) Count(state State) int {
	n := 0
	for _, s := range r.Modules {
		if s.State == state {
			n++
		}
	}
	return n
}

// Err joins the errors of failed modules.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Modules {
		if s.State == Failed {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// Driver runs the lifecycle of the modules in a Registry against one
// relocator. Run is meant to be called once, before the host starts its own
// threads.
type Driver struct {
	reg   *Registry
	reloc *relocator.Relocator
	opts  Options
	log   *slog.Logger

	mu        sync.Mutex
	ran       bool
	build     reldb.BuildIdentity
	items     *reldb.ItemSet
	status    map[string]*Status
	activated []string
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithOptions sets the configuration consulted for module options. The
// default switches every option off.
func WithOptions(opts Options) DriverOption {
	return func(d *Driver) {
		d.opts = opts
	}
}

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.log = l
	}
}

// NewDriver returns a driver for the modules in reg.
func NewDriver(reg *Registry, reloc *relocator.Relocator, opts ...DriverOption) *Driver {
	d := &Driver{
		reg:    reg,
		reloc:  reloc,
		status: make(map[string]*Status, reg.Len()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.opts == nil {
		d.opts = OptionsFunc(func(_ string, def bool) bool { return def })
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	for _, m := range reg.modules {
		d.status[m.Name()] = &Status{Module: m.Name(), State: Created}
	}
	return d
}

// Run activates every module that applies to build, in dependency order.
// items is the database entry for build, nil if the build is unknown, in
// which case every module is inapplicable.
func (d *Driver) Run(build reldb.BuildIdentity, items *reldb.ItemSet) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ran {
		return nil, ErrAlreadyRun
	}
	d.ran = true
	d.build = build
	d.items = items

	log := d.log.With(slog.String("build", build.String()))

	if items == nil {
		log.Warn("build not in relocation database, running unpatched")
		for _, m := range d.reg.modules {
			d.set(m, Inapplicable, ErrVersionMismatch)
		}
		return d.report(), nil
	}

	var candidates []Module
	for _, m := range d.reg.modules {
		d.set(m, Queried, nil)
		if !m.IsApplicable(build, build.VersionString()) {
			d.set(m, Inapplicable, ErrNotApplicable)
			continue
		}
		if opt := m.OptionName(); opt != "" && !d.opts.Enabled(opt, false) {
			d.set(m, Disabled, nil)
			continue
		}
		candidates = append(candidates, m)
	}

	sorted, blocked, cyclic := order(candidates)
	for _, m := range blocked {
		if cyclic[m.Name()] {
			d.set(m, Inapplicable, fmt.Errorf("%w: %s", ErrDependencyCycle, m.Name()))
		}
	}

	for _, m := range append(sorted, blocked...) {
		if cyclic[m.Name()] {
			continue
		}
		if dep, ok := d.unsatisfied(m); !ok {
			d.set(m, Skipped, fmt.Errorf("%w: %q needs %q", ErrDependencyUnsatisfied, m.Name(), dep))
			continue
		}

		item, _ := items.Item(m.Name())
		if err := m.Activate(d.reloc, item); err != nil {
			d.set(m, Failed, &ActivationError{Module: m.Name(), Build: build, Err: err})
			continue
		}
		d.set(m, Activated, nil)
		d.activated = append(d.activated, m.Name())
	}

	return d.report(), nil
}

// unsatisfied returns the first dependency of m that is not activated.
func (d *Driver) unsatisfied(m Module) (string, bool) {
	for _, dep := range m.Dependencies() {
		s, ok := d.status[dep]
		if !ok || s.State != Activated {
			return dep, false
		}
	}
	return "", true
}

// Shutdown reverses an activated module that can be disabled at runtime.
func (d *Driver) Shutdown(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown(name)
}

func (d *Driver) shutdown(name string) error {
	m, ok := d.reg.Lookup(name)
	if !ok {
		return fmt.Errorf("shutdown %q: %w", name, ErrUnknownModule)
	}
	s := d.status[name]
	if s.State != Activated || !m.CanRuntimeDisable() {
		return fmt.Errorf("shutdown %q (%v): %w", name, s.State, ErrCannotDisable)
	}

	if user, ok := d.inUse(name); ok {
		return fmt.Errorf("shutdown %q: %w by %q", name, ErrInUse, user)
	}

	item, _ := d.items.Item(name)
	if err := m.Shutdown(d.reloc, item); err != nil {
		d.log.Error("module shutdown failed",
			slog.String("module", name),
			slog.String("build", d.build.String()),
			slog.Any("error", err),
		)
		return fmt.Errorf("shutdown %q: %w", name, err)
	}
	d.set(m, Shutdown, nil)
	return nil
}

// inUse returns an activated module that depends on name.
func (d *Driver) inUse(name string) (string, bool) {
	for _, other := range d.activated {
		om, _ := d.reg.Lookup(other)
		if d.status[other].State == Activated && slices.Contains(om.Dependencies(), name) {
			return other, true
		}
	}
	return "", false
}

// Close shuts down every runtime disableable module in reverse activation
// order, then closes modules that implement io.Closer. Modules still used by
// a module that stays activated are left alone.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(d.activated) {
		m, _ := d.reg.Lookup(name)
		if _, used := d.inUse(name); used {
			continue
		}
		if m.CanRuntimeDisable() && d.status[name].State == Activated {
			if err := d.shutdown(name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, name := range slices.Backward(d.activated) {
		m, _ := d.reg.Lookup(name)
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// State returns the current state of name.
func (d *Driver) State(name string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.status[name]; ok {
		return s.State
	}
	return Created
}

func (d *Driver) set(m Module, state State, err error) {
	s := d.status[m.Name()]
	s.State = state
	s.Err = err

	attrs := []any{
		slog.String("module", m.Name()),
		slog.String("build", d.build.String()),
		slog.String("state", state.String()),
	}
	switch state {
	case Queried:
		d.log.Debug("module queried", attrs...)
	case Failed:
		d.log.Error("module failed", append(attrs, slog.Any("error", err))...)
	case Skipped, Inapplicable:
		d.log.Info("module not activated", append(attrs, slog.Any("error", err))...)
	default:
		d.log.Info("module "+state.String(), attrs...)
	}
}

func (d *Driver) report() *Report {
	r := &Report{Build: d.build, Activated: slices.Clone(d.activated)}
	for _, m := range d.reg.modules {
		r.Modules = append(r.Modules, *d.status[m.Name()])
	}
	return r
}
