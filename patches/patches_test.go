package patches

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/patches/inicache"
	"github.com/pboyd/ckpe/patches/pointerhandle"
)

type fakeHost struct{}

type noHooks struct{}

func (noHooks) Callback(string) uintptr { return 0 }

func (noHooks) SetOriginal(string, uintptr) {}

func (fakeHost) Profiles() (*inicache.Manager, inicache.Hooks) {
	return inicache.New(inicache.Options{}), noHooks{}
}

func (fakeHost) QuitRoutine() uintptr { return 0x1000 }

func (fakeHost) HandleRoutines() pointerhandle.Routines {
	return func(pointerhandle.Role, bool) uintptr { return 0 }
}

func (fakeHost) Options() module.Options { return module.AllEnabled }

func TestDefault(t *testing.T) {
	mods := Default(fakeHost{})

	var names []string
	for _, m := range mods {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"INI Cache Data", "Quit Handler", "Replace BSPointerHandle And Manager"}, names)

	_, err := module.NewRegistry(mods...)
	require.NoError(t, err)
}
