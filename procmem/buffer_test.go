package procmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Protection(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	buf := NewBuffer(0x10000, 0x3000, 0x1000)
	require.Equal(uintptr(0x3000), buf.Size())

	old, err := buf.Protect(0x11000, 0x1000, ProtRX)
	require.NoError(err)
	assert.Equal(ProtRW, old)

	err = buf.WriteAt([]byte{1, 2, 3}, 0x11000)
	assert.ErrorIs(err, ErrAccessDenied)

	// A write crossing into the read-only page is refused as a whole.
	err = buf.WriteAt([]byte{1, 2}, 0x10fff)
	assert.ErrorIs(err, ErrAccessDenied)
	assert.Equal(byte(0), buf.Bytes()[0xfff])

	require.NoError(buf.WriteAt([]byte{0xaa}, 0x12000))
	got := make([]byte, 1)
	require.NoError(buf.ReadAt(got, 0x12000))
	assert.Equal([]byte{0xaa}, got)

	prot, err := buf.ProtAt(0x11800)
	require.NoError(err)
	assert.Equal(ProtRX, prot)
	assert.Equal(1, buf.ProtectCalls())
}

func TestBuffer_Unmapped(t *testing.T) {
	buf := NewBuffer(0x10000, 0x1000, 0)

	cases := map[string]struct {
		addr uintptr
		size int
	}{
		"below base":       {addr: 0xffff, size: 1},
		"at end":           {addr: 0x11000, size: 1},
		"crossing the end": {addr: 0x10ffe, size: 4},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, buf.ReadAt(make([]byte, tc.size), tc.addr), ErrUnmapped)
			assert.ErrorIs(t, buf.WriteAt(make([]byte, tc.size), tc.addr), ErrUnmapped)
			_, err := buf.Protect(tc.addr, uintptr(tc.size), ProtRWX)
			assert.ErrorIs(t, err, ErrUnmapped)
		})
	}
}

func TestProt_String(t *testing.T) {
	assert.Equal(t, "r-x", ProtRX.String())
	assert.Equal(t, "rwx", ProtRWX.String())
	assert.Equal(t, "---", ProtNone.String())
}

func TestReadCString(t *testing.T) {
	buf := NewBuffer(0x10000, 0x1000, 0)
	buf.Load(0x10ff8, []byte("kernel3"))

	s, err := ReadCString(buf, 0x10ff8, 64)
	require.NoError(t, err)
	assert.Equal(t, "kernel3", s)

	// No terminator before the end of the mapping.
	buf.Load(0x10ff8, []byte("kernel32"))
	_, err = ReadCString(buf, 0x10ff8, 64)
	assert.ErrorIs(t, err, ErrUnmapped)
}
