package inicache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanValue(t *testing.T) {
	cases := map[string]string{
		"  plain \t":       "plain",
		`"quoted"`:         "quoted",
		`"  spaced "`:      "  spaced ",
		`'single'`:         "single",
		`"unbalanced`:      `"unbalanced`,
		`""`:               "",
		`"`:                `"`,
		"\v\f\"both\"\r\n": "both",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanValue(in), "%q", in)
	}
}

func TestParseUint(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"42", 42},
		{"  42  ", 42},
		{"0x1F", 31},
		{"0X1f", 31},
		{`"0x10"`, 16},
		{"12abc", 12},
		{"abc", 0},
		{"", 0},
		{"-1", math.MaxUint32},
		{"+7", 7},
		{"99999999999", math.MaxUint32},
		{"0xFFFFFFFFFF", math.MaxUint32},
		// Only the 0x prefix selects hex.
		{"x10", 0},
		{"010", 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseUint(tc.in), "%q", tc.in)
	}
}

func TestStructEncoding(t *testing.T) {
	assert := assert.New(t)

	s := encodeStruct([]byte{0x01, 0x02, 0xab})
	assert.Equal("0102ABAE", s)

	out := make([]byte, 3)
	assert.True(decodeStruct(s, out))
	assert.Equal([]byte{0x01, 0x02, 0xab}, out)

	assert.True(decodeStruct("0102abae", out), "lower case hex")
	assert.False(decodeStruct("0102ABAF", out), "bad checksum")
	assert.False(decodeStruct("0102AB", out), "short")
	assert.False(decodeStruct("01G2ABAE", out), "not hex")

	assert.Equal("00", encodeStruct(nil))
	assert.True(decodeStruct("00", []byte{}))
}

func TestCopyValue(t *testing.T) {
	dst := []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	assert.Equal(t, uint32(3), copyValue(dst, []byte("abc")))
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0xaa, 0xaa}, dst)

	dst = make([]byte, 4)
	assert.Equal(t, uint32(3), copyValue(dst, []byte("abcdef")))
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, dst)

	assert.Equal(t, uint32(0), copyValue([]byte{}, []byte("abc")))
}

func TestCopyList(t *testing.T) {
	names := [][]uint16{EncodeWide("ab"), EncodeWide("cd")}

	dst := make([]uint16, 8)
	assert.Equal(t, uint32(6), copyList(dst, names))
	assert.Equal(t, EncodeWide("ab\x00cd\x00\x00\x00"), dst)

	dst = make([]uint16, 5)
	assert.Equal(t, uint32(3), copyList(dst, names))
	assert.Equal(t, EncodeWide("ab\x00\x00\x00"), dst)

	dst = []uint16{1, 1, 1}
	assert.Equal(t, uint32(0), copyList(dst, nil))
	assert.Equal(t, []uint16{0, 0, 1}, dst)
}

func TestEncoding(t *testing.T) {
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, EncodeNarrow("café"))
	assert.Equal(t, "café", DecodeNarrow([]byte{'c', 'a', 'f', 0xe9}))
	assert.Equal(t, []byte("?"), EncodeNarrow("日"))
	assert.Equal(t, "Grüße", DecodeWide(EncodeWide("Grüße")))
}
