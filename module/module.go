// Package module defines patch units and drives their lifecycle.
//
// A Module is activated at most once per process by a Driver, which decides
// from the running build, the configuration and the declared dependencies
// which modules run and in which order. Failures stay local: one module
// failing only affects the modules that depend on it.
package module

import (
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

// Module is one patch unit.
type Module interface {
	// Name identifies the module. It is also the name of the module's item
	// in the relocation database.
	Name() string
	// OptionName is the "Section:key" option that enables the module, or
	// "" if the module is not user toggleable.
	OptionName() string
	// CanRuntimeDisable reports whether Shutdown may be called while the
	// host runs.
	CanRuntimeDisable() bool
	// Dependencies names modules that must be activated first.
	Dependencies() []string
	IsApplicable(build reldb.BuildIdentity, runtimeVersion string) bool
	// Activate installs the module. item is nil when the build has no item
	// for the module.
	Activate(r *relocator.Relocator, item *reldb.Item) error
	Shutdown(r *relocator.Relocator, item *reldb.Item) error
}

// Base implements the identity methods of Module from plain fields. Embed it
// and add IsApplicable, Activate and Shutdown.
type Base struct {
	ModuleName     string
	Option         string
	RuntimeDisable bool
	Requires       []string
}

func (b Base) Name() string { return b.ModuleName }

func (b Base) OptionName() string { return b.Option }

func (b Base) CanRuntimeDisable() bool { return b.RuntimeDisable }

func (b Base) Dependencies() []string { return b.Requires }

// Options tells the Driver whether an option is switched on.
type Options interface {
	Enabled(option string, def bool) bool
}

// OptionsFunc adapts a function to Options.
type OptionsFunc func(option string, def bool) bool

func (f OptionsFunc) Enabled(option string, def bool) bool { return f(option, def) }

// AllEnabled switches every option on.
var AllEnabled Options = OptionsFunc(func(string, bool) bool { return true })
