package module

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/ckpe/internal/testimage"
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

var testBuild = reldb.BuildIdentity{Family: "fallout4", Version: "1.10.980"}

type fakeModule struct {
	Base
	calls       *[]string
	applicable  bool
	activateErr error
	closed      bool
	gotItem     *reldb.Item
}

func (m *fakeModule) IsApplicable(build reldb.BuildIdentity, runtimeVersion string) bool {
	return m.applicable
}

func (m *fakeModule) Activate(r *relocator.Relocator, item *reldb.Item) error {
	*m.calls = append(*m.calls, "activate "+m.ModuleName)
	m.gotItem = item
	return m.activateErr
}

func (m *fakeModule) Shutdown(r *relocator.Relocator, item *reldb.Item) error {
	*m.calls = append(*m.calls, "shutdown "+m.ModuleName)
	return nil
}

type closingModule struct {
	*fakeModule
}

func (m closingModule) Close() error {
	*m.calls = append(*m.calls, "close "+m.ModuleName)
	m.closed = true
	return nil
}

type harness struct {
	calls []string
	mods  map[string]*fakeModule
	reg   *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	return &harness{mods: make(map[string]*fakeModule), reg: reg}
}

func (h *harness) add(t *testing.T, name string, deps ...string) *fakeModule {
	t.Helper()
	m := &fakeModule{
		Base:       Base{ModuleName: name, Requires: deps},
		calls:      &h.calls,
		applicable: true,
	}
	h.mods[name] = m
	require.NoError(t, h.reg.Register(m))
	return m
}

func (h *harness) driver(opts ...DriverOption) *Driver {
	img := testimage.New(testimage.Options{})
	return NewDriver(h.reg, relocator.New(img), opts...)
}

func emptyItems(t *testing.T, items ...*reldb.Item) *reldb.ItemSet {
	t.Helper()
	set, err := reldb.NewItemSet(testBuild, reldb.Fingerprint{}, items...)
	require.NoError(t, err)
	return set
}

func TestRegistry_Duplicate(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	err := h.reg.Register(&fakeModule{Base: Base{ModuleName: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateModule)
	assert.Equal(t, 1, h.reg.Len())

	assert.Error(t, h.reg.Register(&fakeModule{}))
}

func TestRun_Order(t *testing.T) {
	h := newHarness(t)
	h.add(t, "c", "b")
	h.add(t, "a")
	h.add(t, "b", "a")
	h.add(t, "d")

	report, err := h.driver().Run(testBuild, emptyItems(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Activated)
	assert.Equal(t, 4, report.Count(Activated))
	assert.Equal(t, []string{"activate a", "activate b", "activate c", "activate d"}, h.calls)
}

func TestRun_OrderTiesFollowRegistration(t *testing.T) {
	h := newHarness(t)
	h.add(t, "z")
	h.add(t, "y")
	h.add(t, "x")

	report, err := h.driver().Run(testBuild, emptyItems(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, report.Activated)
}

func TestRun_Cycle(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)
	h.add(t, "a", "b")
	h.add(t, "b", "a")
	h.add(t, "c", "a")
	h.add(t, "d")
	h.add(t, "self", "self")

	report, err := h.driver().Run(testBuild, emptyItems(t))
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "self"} {
		s, _ := report.Status(name)
		assert.Equal(Inapplicable, s.State, name)
		assert.ErrorIs(s.Err, ErrDependencyCycle, name)
	}
	s, _ := report.Status("c")
	assert.Equal(Skipped, s.State)
	assert.ErrorIs(s.Err, ErrDependencyUnsatisfied)

	assert.Equal([]string{"d"}, report.Activated)
	assert.Equal([]string{"activate d"}, h.calls)
}

func TestRun_FailedDependencySkipsDependents(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)
	boom := errors.New("boom")
	h.add(t, "a").activateErr = boom
	h.add(t, "b", "a")
	h.add(t, "c")
	h.add(t, "d", "missing")

	report, err := h.driver().Run(testBuild, emptyItems(t))
	require.NoError(t, err)

	s, _ := report.Status("a")
	assert.Equal(Failed, s.State)
	var actErr *ActivationError
	if assert.ErrorAs(s.Err, &actErr) {
		assert.Equal("a", actErr.Module)
		assert.Equal(testBuild, actErr.Build)
	}
	assert.ErrorIs(report.Err(), boom)

	s, _ = report.Status("b")
	assert.Equal(Skipped, s.State)
	s, _ = report.Status("d")
	assert.Equal(Skipped, s.State)
	assert.ErrorContains(s.Err, `"missing"`)

	assert.Equal([]string{"c"}, report.Activated)
	assert.Equal([]string{"activate a", "activate c"}, h.calls)
}

func TestRun_UnknownBuild(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a")
	h.add(t, "b")

	report, err := h.driver().Run(testBuild, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(Inapplicable))
	for _, s := range report.Modules {
		assert.ErrorIs(t, s.Err, ErrVersionMismatch)
	}
	assert.Empty(t, h.calls)
}

func TestRun_ApplicabilityAndOptions(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)
	h.add(t, "other build").applicable = false
	h.add(t, "off").Option = "CreationKit:bOff"
	h.add(t, "on").Option = "CreationKit:bOn"
	h.add(t, "always")

	opts := OptionsFunc(func(option string, def bool) bool {
		return option == "CreationKit:bOn"
	})
	d := h.driver(WithOptions(opts))
	report, err := d.Run(testBuild, emptyItems(t))
	require.NoError(t, err)

	assert.Equal(Inapplicable, d.State("other build"))
	assert.Equal(Disabled, d.State("off"))
	assert.Equal([]string{"on", "always"}, report.Activated)

	_, err = d.Run(testBuild, emptyItems(t))
	assert.ErrorIs(err, ErrAlreadyRun)
}

func TestRun_OptionsDefaultOff(t *testing.T) {
	h := newHarness(t)
	h.add(t, "toggle").Option = "CreationKit:bToggle"

	report, err := h.driver().Run(testBuild, emptyItems(t))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(Disabled))
}

func TestRun_PassesItem(t *testing.T) {
	h := newHarness(t)
	with := h.add(t, "with")
	without := h.add(t, "without")

	item := reldb.NewItem(testBuild, "with", 1, map[uint32]reldb.RVA{0: 0x1000})
	_, err := h.driver().Run(testBuild, emptyItems(t, item))
	require.NoError(t, err)

	assert.Same(t, item, with.gotItem)
	assert.Nil(t, without.gotItem)
}

func TestShutdown(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)
	h.add(t, "fixed")
	h.add(t, "base").RuntimeDisable = true
	h.add(t, "user", "base").RuntimeDisable = true

	d := h.driver()
	_, err := d.Run(testBuild, emptyItems(t))
	require.NoError(t, err)

	assert.ErrorIs(d.Shutdown("fixed"), ErrCannotDisable)
	assert.ErrorIs(d.Shutdown("base"), ErrInUse)
	assert.ErrorIs(d.Shutdown("nope"), ErrUnknownModule)

	require.NoError(t, d.Shutdown("user"))
	require.NoError(t, d.Shutdown("base"))
	assert.Equal(Shutdown, d.State("base"))
	assert.ErrorIs(d.Shutdown("base"), ErrCannotDisable)

	assert.NotContains(h.calls, "shutdown fixed")
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.add(t, "fixed")
	h.add(t, "a").RuntimeDisable = true
	h.add(t, "b", "a").RuntimeDisable = true
	cache := &fakeModule{Base: Base{ModuleName: "cache"}, calls: &h.calls, applicable: true}
	require.NoError(t, h.reg.Register(closingModule{cache}))

	d := h.driver()
	_, err := d.Run(testBuild, emptyItems(t))
	require.NoError(t, err)
	h.calls = nil

	require.NoError(t, d.Close())
	assert.Equal(t, []string{"shutdown b", "shutdown a", "close cache"}, h.calls)
	assert.Equal(t, Activated, d.State("fixed"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "activated", Activated.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, Skipped.Terminal())
	assert.False(t, Activated.Terminal())
}
