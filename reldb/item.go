package reldb

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrSlotMissing means the build has no address for a slot.
	ErrSlotMissing = errors.New("slot missing for build")
	// ErrItemMissing means the build has no item for a patch.
	ErrItemMissing = errors.New("item missing for build")
)

// SlotError reports a slot a caller required but the build does not have.
type SlotError struct {
	Build BuildIdentity
	Item  string
	Slot  uint32
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("item %q slot %d: %v %s", e.Item, e.Slot, ErrSlotMissing, e.Build)
}

func (e *SlotError) Unwrap() error {
	return ErrSlotMissing
}

// Item is the address table of one patch for one build.
type Item struct {
	build   BuildIdentity
	name    string
	version uint32
	offsets map[uint32]RVA
}

// NewItem returns an item. slots is copied.
func NewItem(build BuildIdentity, name string, version uint32, slots map[uint32]RVA) *Item {
	return &Item{
		build:   build,
		name:    name,
		version: version,
		offsets: maps.Clone(slots),
	}
}

func (it *Item) Build() BuildIdentity { return it.build }

func (it *Item) Name() string { return it.name }

// Version is the layout tag of the item. Patches use it to decide whether
// they understand the slots.
func (it *Item) Version() uint32 { return it.version }

// Count returns the number of slots defined.
func (it *Item) Count() int { return len(it.offsets) }

// Slots returns the defined slot ids in ascending order.
func (it *Item) Slots() []uint32 {
	return slices.Sorted(maps.Keys(it.offsets))
}

// Offset returns the RVA of slot.
func (it *Item) Offset(slot uint32) (RVA, bool) {
	if it == nil {
		return 0, false
	}
	rva, ok := it.offsets[slot]
	return rva, ok
}

// Require is Offset with a *SlotError when the slot is absent.
func (it *Item) Require(slot uint32) (RVA, error) {
	if it == nil {
		return 0, ErrItemMissing
	}
	rva, ok := it.offsets[slot]
	if !ok {
		return 0, &SlotError{Build: it.build, Item: it.name, Slot: slot}
	}
	return rva, nil
}

// ItemSet is every item of one build.
type ItemSet struct {
	build       BuildIdentity
	fingerprint Fingerprint
	items       map[string]*Item
}

// NewItemSet groups items of build. Items whose build differs from build
// or whose name repeats are rejected.
func NewItemSet(build BuildIdentity, fp Fingerprint, items ...*Item) (*ItemSet, error) {
	if build.Family == "" || build.Version == "" {
		return nil, fmt.Errorf("build identity %q is incomplete", build)
	}
	set := &ItemSet{
		build:       build,
		fingerprint: fp,
		items:       make(map[string]*Item, len(items)),
	}
	for _, it := range items {
		if it.build != build {
			return nil, fmt.Errorf("item %q belongs to %s, not %s", it.name, it.build, build)
		}
		if _, dup := set.items[it.name]; dup {
			return nil, fmt.Errorf("build %s: duplicate item %q", build, it.name)
		}
		set.items[it.name] = it
	}
	return set, nil
}

func (s *ItemSet) Build() BuildIdentity { return s.build }

func (s *ItemSet) Fingerprint() Fingerprint { return s.fingerprint }

// Item returns the item named name.
func (s *ItemSet) Item(name string) (*Item, bool) {
	if s == nil {
		return nil, false
	}
	it, ok := s.items[name]
	return it, ok
}

// Items returns all items sorted by name.
func (s *ItemSet) Items() []*Item {
	out := make([]*Item, 0, len(s.items))
	for _, name := range slices.Sorted(maps.Keys(s.items)) {
		out = append(out, s.items[name])
	}
	return out
}
