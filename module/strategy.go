package module

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

// ErrNoStrategy means no install routine exists for the running build.
var ErrNoStrategy = errors.New("no install strategy for build")

// Install is one build specific activation routine.
type Install func(r *relocator.Relocator, item *reldb.Item) error

// Strategies maps a build's short version ("163") to its install routine.
type Strategies map[string]Install

// Select returns the routine for build.
func (s Strategies) Select(build reldb.BuildIdentity) (Install, error) {
	fn, ok := s[build.Short()]
	if !ok {
		return nil, fmt.Errorf("%w %s (have %v)", ErrNoStrategy, build, slices.Sorted(maps.Keys(s)))
	}
	return fn, nil
}

// Supports reports whether build has a routine.
func (s Strategies) Supports(build reldb.BuildIdentity) bool {
	_, ok := s[build.Short()]
	return ok
}
