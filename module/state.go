package module

import "fmt"

// State is where a module is in its lifecycle.
type State int

const (
	Created State = iota
	Queried
	// Inapplicable modules are never called again.
	Inapplicable
	Disabled
	// Skipped modules had a dependency that did not activate.
	Skipped
	Failed
	Activated
	Shutdown
)

var stateNames = [...]string{
	Created:      "created",
	Queried:      "queried",
	Inapplicable: "inapplicable",
	Disabled:     "disabled",
	Skipped:      "skipped",
	Failed:       "failed",
	Activated:    "activated",
	Shutdown:     "shutdown",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the driver will make no further calls for s.
func (s State) Terminal() bool {
	switch s {
	case Inapplicable, Disabled, Skipped, Failed, Shutdown:
		return true
	}
	return false
}
