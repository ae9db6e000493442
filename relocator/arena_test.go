//go:build unix

package relocator

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocator(t *testing.T) {
	a, err := NewArenaAllocator(1<<16, 0)
	require.NoError(t, err)
	defer a.Close()

	addr, err := a.Allocate(thunkSize)
	require.NoError(t, err)
	require.NotZero(t, addr)

	code := absJump(0x7ff800001000)
	require.NoError(t, a.Write(addr, code))
	assert.Equal(t, code, a.Bytes(addr)[:len(code)])

	assert.Error(t, a.Write(addr+1, code), "not a block start")
	assert.Error(t, a.Write(addr, make([]byte, 1024)), "larger than the block")
}

func TestArenaAllocator_Near(t *testing.T) {
	near := reflect.ValueOf(TestArenaAllocator_Near).Pointer()

	a, err := NewArenaAllocator(1<<16, near)
	require.NoError(t, err)
	defer a.Close()

	addr, err := a.Allocate(thunkSize)
	require.NoError(t, err)
	assert.True(t, fitsRel32(near, addr, 64), "arena at 0x%x is out of reach of 0x%x", addr, near)
	require.NoError(t, a.Write(addr, absJump(0x7ff800001000)))
}
