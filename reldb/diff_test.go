package reldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	assert := assert.New(t)
	db := loadTestSource(t)

	a, _ := db.Lookup(build163)
	b, _ := db.Lookup(build980)
	d := Diff(a, b)

	require.Len(t, d.Items, 2)
	assert.Equal("Quit Handler", d.Items[0].Name)
	assert.False(d.Items[0].Versions)

	ph := d.Items[1]
	assert.True(ph.Versions)
	require.Len(t, ph.Slots, 4)
	assert.Equal(uint32(2), ph.Slots[2].Slot)
	assert.True(ph.Slots[2].InA)
	assert.False(ph.Slots[2].InB)
	assert.Equal(uint32(3), ph.Slots[3].Slot)
	assert.False(ph.Slots[3].InA)

	assert.False(d.Empty())
	err := d.Err()
	assert.ErrorContains(err, "version 1 != 2")
	assert.ErrorContains(err, "slot 2: only in fallout4/1.10.163")
	assert.ErrorContains(err, "slot 3: only in fallout4/1.10.980")
}

func TestDiff_SameLayout(t *testing.T) {
	a, err := NewItemSet(build163, Fingerprint{}, NewItem(build163, "x", 1, map[uint32]RVA{0: 0x10}))
	require.NoError(t, err)
	b, err := NewItemSet(build980, Fingerprint{}, NewItem(build980, "x", 1, map[uint32]RVA{0: 0x20}))
	require.NoError(t, err)

	d := Diff(a, b)
	assert.True(t, d.Empty())
	assert.NoError(t, d.Err())
}
