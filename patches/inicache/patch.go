package inicache

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

const importDLL = "kernel32.dll"

// Hooks supplies the native entry points the IAT is pointed at and takes
// the entry points they replace.
type Hooks interface {
	Callback(api string) uintptr
	SetOriginal(api string, original uintptr)
}

// Patch is the module that installs the cache.
type Patch struct {
	module.Base
	manager *Manager
	hooks   Hooks
	log     *slog.Logger
}

// NewPatch returns the module serving the private profile API from m
// through hooks.
func NewPatch(m *Manager, hooks Hooks) *Patch {
	return &Patch{
		Base: module.Base{
			ModuleName: "INI Cache Data",
			Option:     "CreationKit:bINICache",
		},
		manager: m,
		hooks:   hooks,
		log:     m.log,
	}
}

func (p *Patch) Manager() *Manager { return p.manager }

func (p *Patch) IsApplicable(reldb.BuildIdentity, string) bool { return true }

// Activate points each imported profile API at its hook. APIs the host does
// not import are skipped. If any API fails the slots already hooked are
// put back, so the host is left as it was.
func (p *Patch) Activate(r *relocator.Relocator, _ *reldb.Item) error {
	var (
		errs    []error
		written []*relocator.Patch
	)
	for _, api := range APIs {
		cb := p.hooks.Callback(api)
		if cb == 0 {
			continue
		}
		original, patch, err := r.PatchIAT(importDLL, api, cb)
		if errors.Is(err, relocator.ErrImportNotFound) {
			p.log.Debug("profile api not imported", slog.String("api", api))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", api, err))
			continue
		}
		p.hooks.SetOriginal(api, original)
		written = append(written, patch)
	}

	if len(errs) > 0 {
		for _, patch := range slices.Backward(written) {
			errs = append(errs, r.Restore(patch))
		}
		return errors.Join(errs...)
	}
	p.log.Debug("profile api hooked", slog.Int("count", len(written)))
	return nil
}

// Shutdown is never called: the hooks stay for the process lifetime since
// callers may hold documents mid-read.
func (p *Patch) Shutdown(*relocator.Relocator, *reldb.Item) error {
	return module.ErrCannotDisable
}

// Close writes changed profiles back.
func (p *Patch) Close() error {
	return p.manager.Close()
}
