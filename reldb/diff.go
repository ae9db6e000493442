package reldb

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Differences lists how the items of two builds differ.
type Differences struct {
	A, B  BuildIdentity
	Items []*ItemDifference
}

// ItemDifference is one item present in either build. A nil side means the
// item is absent from that build.
type ItemDifference struct {
	Name     string
	A        *Item
	B        *Item
	Versions bool
	Slots    []*SlotDifference
}

// SlotDifference is one slot whose offset differs. A missing side is
// reported with the corresponding ok flag false.
type SlotDifference struct {
	Slot uint32
	A, B RVA
	InA  bool
	InB  bool
}

// Empty reports whether the builds have the same items and slot sets.
// Offsets are expected to move between builds and are not compared.
func (d *Differences) Empty() bool {
	for _, it := range d.Items {
		if it.A == nil || it.B == nil || it.Versions {
			return false
		}
		for _, s := range it.Slots {
			if !s.InA || !s.InB {
				return false
			}
		}
	}
	return true
}

// Err joins one error per structural difference.
func (d *Differences) Err() error {
	errs := []error{}
	for _, it := range d.Items {
		switch {
		case it.A == nil:
			errs = append(errs, fmt.Errorf("item %q: only in %s", it.Name, d.B))
			continue
		case it.B == nil:
			errs = append(errs, fmt.Errorf("item %q: only in %s", it.Name, d.A))
			continue
		case it.Versions:
			errs = append(errs, fmt.Errorf("item %q: version %d != %d", it.Name, it.A.version, it.B.version))
		}
		for _, s := range it.Slots {
			if !s.InA {
				errs = append(errs, fmt.Errorf("item %q slot %d: only in %s", it.Name, s.Slot, d.B))
			} else if !s.InB {
				errs = append(errs, fmt.Errorf("item %q slot %d: only in %s", it.Name, s.Slot, d.A))
			}
		}
	}
	return errors.Join(errs...)
}

// Diff compares the items of two builds.
func Diff(a, b *ItemSet) *Differences {
	d := &Differences{A: a.build, B: b.build}

	all := make(map[string]struct{}, len(a.items)+len(b.items))
	for name := range a.items {
		all[name] = struct{}{}
	}
	for name := range b.items {
		all[name] = struct{}{}
	}

	for _, name := range slices.Sorted(maps.Keys(all)) {
		ia, ib := a.items[name], b.items[name]
		id := &ItemDifference{Name: name, A: ia, B: ib}
		if ia != nil && ib != nil {
			id.Versions = ia.version != ib.version
			id.Slots = diffSlots(ia, ib)
			if !id.Versions && len(id.Slots) == 0 {
				continue
			}
		}
		d.Items = append(d.Items, id)
	}
	return d
}

func diffSlots(a, b *Item) []*SlotDifference {
	slots := make(map[uint32]struct{}, len(a.offsets)+len(b.offsets))
	for s := range a.offsets {
		slots[s] = struct{}{}
	}
	for s := range b.offsets {
		slots[s] = struct{}{}
	}

	var out []*SlotDifference
	for _, s := range slices.Sorted(maps.Keys(slots)) {
		ra, inA := a.offsets[s]
		rb, inB := b.offsets[s]
		if inA && inB && ra == rb {
			continue
		}
		out = append(out, &SlotDifference{Slot: s, A: ra, B: rb, InA: inA, InB: inB})
	}
	return out
}
