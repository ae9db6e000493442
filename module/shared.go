package module

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned by SharedHook.Release without a matching
// Acquire.
var ErrNotAcquired = errors.New("shared hook released more often than acquired")

// SharedHook is a low level hook used by several modules. It is installed
// by the first Acquire and removed by the last Release.
type SharedHook struct {
	name      string
	install   func() error
	uninstall func() error

	mu   sync.Mutex
	refs int
}

// NewSharedHook returns an uninstalled hook.
func NewSharedHook(name string, install, uninstall func() error) *SharedHook {
	return &SharedHook{name: name, install: install, uninstall: uninstall}
}

// Acquire takes a reference, installing the hook if it is the first.
func (h *SharedHook) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refs == 0 {
		if err := h.install(); err != nil {
			return fmt.Errorf("install shared hook %q: %w", h.name, err)
		}
	}
	h.refs++
	return nil
}

// Release drops a reference, uninstalling the hook if it was the last.
func (h *SharedHook) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.refs {
	case 0:
		return fmt.Errorf("%q: %w", h.name, ErrNotAcquired)
	case 1:
		if err := h.uninstall(); err != nil {
			return fmt.Errorf("uninstall shared hook %q: %w", h.name, err)
		}
	}
	h.refs--
	return nil
}

// Installed reports whether the hook is currently installed.
func (h *SharedHook) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs > 0
}

// Refs returns the number of outstanding references.
func (h *SharedHook) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}
