package relocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/ckpe/procmem"
)

func TestCaveAllocator(t *testing.T) {
	assert := assert.New(t)

	buf := procmem.NewBuffer(0x10000, 0x100, 0)
	buf.Protect(buf.Base(), buf.Size(), procmem.ProtRX)
	c := NewCaveAllocator(buf, buf.Base(), 0x40)

	a, err := c.Allocate(14)
	require.NoError(t, err)
	b, err := c.Allocate(14)
	require.NoError(t, err)
	assert.Equal(uintptr(0x10000), a)
	assert.Equal(uintptr(0x10010), b)

	require.NoError(t, c.Write(b, []byte{0xcc, 0xcc}))
	assert.Equal([]byte{0xcc, 0xcc}, buf.Bytes()[0x10:0x12])
	prot, _ := buf.ProtAt(b)
	assert.Equal(procmem.ProtRX, prot)

	assert.Error(c.Write(0x10030, []byte{1}), "not allocated yet")

	_, err = c.Allocate(0x30)
	assert.ErrorIs(err, ErrCaveExhausted)

	_, err = c.Allocate(0x20)
	assert.NoError(err)
	assert.Equal(uintptr(0), c.Remaining())
}

func TestCaveAllocator_Release(t *testing.T) {
	assert := assert.New(t)

	buf := procmem.NewBuffer(0x10000, 0x100, 0)
	c := NewCaveAllocator(buf, buf.Base(), 0x40)

	a, err := c.Allocate(14)
	require.NoError(t, err)
	b, err := c.Allocate(14)
	require.NoError(t, err)

	assert.Error(c.Release(a), "only the newest block can be released")
	require.NoError(t, c.Release(b))
	require.NoError(t, c.Release(a))
	assert.Equal(uintptr(0x40), c.Remaining())

	again, err := c.Allocate(14)
	require.NoError(t, err)
	assert.Equal(a, again)
}
