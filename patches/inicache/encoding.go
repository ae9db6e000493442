package inicache

import (
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// Narrow strings are in the host's ANSI code page. The editor only ever runs
// with Windows-1252.

// DecodeNarrow converts ANSI bytes to a string.
func DecodeNarrow(b []byte) string {
	s, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// EncodeNarrow converts s to ANSI bytes. Characters outside the code page
// become '?'.
func EncodeNarrow(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

func DecodeWide(u []uint16) string {
	return string(utf16.Decode(u))
}

func EncodeWide(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
