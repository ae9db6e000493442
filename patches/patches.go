// Package patches is the table of patches shipped with the engine.
package patches

import (
	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/patches/inicache"
	"github.com/pboyd/ckpe/patches/pointerhandle"
	"github.com/pboyd/ckpe/patches/quithandler"
)

// Host supplies the native pieces the patches install.
type Host interface {
	// Profiles returns the INI cache and the hooks serving it.
	Profiles() (*inicache.Manager, inicache.Hooks)
	// QuitRoutine is the address of a routine that ends the process.
	QuitRoutine() uintptr
	// HandleRoutines returns the replacement handle manager entry points.
	HandleRoutines() pointerhandle.Routines
	Options() module.Options
}

// Default returns the shipped patches in registration order.
func Default(host Host) []module.Module {
	m, hooks := host.Profiles()
	return []module.Module{
		inicache.NewPatch(m, hooks),
		quithandler.New(host.QuitRoutine()),
		pointerhandle.New(host.HandleRoutines(), host.Options(), m.Logger()),
	}
}
