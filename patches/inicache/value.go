package inicache

import (
	"math"
	"strings"
)

const whitespace = " \t\n\r\f\v"

// cleanValue trims whitespace and removes one pair of surrounding quotes.
func cleanValue(s string) string {
	s = strings.Trim(s, whitespace)
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

// parseUint reads an integer value: 0x or 0X for hexadecimal, decimal
// otherwise. Parsing follows strtoul: an optional sign, as many digits as
// are valid, saturation on overflow and negation modulo 2^32.
func parseUint(s string) uint32 {
	s = cleanValue(s)
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return strtoul(s[2:], 16)
	}
	return strtoul(s, 10)
}

func strtoul(s string, base uint64) uint32 {
	s = strings.TrimLeft(s, whitespace)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var v uint64
	for i := 0; i < len(s); i++ {
		d := digit(s[i])
		if d >= base {
			break
		}
		v = v*base + d
		if v > math.MaxUint32 {
			return math.MaxUint32
		}
	}
	if neg {
		return uint32(-int64(v))
	}
	return uint32(v)
}

func digit(c byte) uint64 {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0')
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return uint64(c-'A') + 10
	}
	return math.MaxUint64
}

const hexDigits = "0123456789ABCDEF"

// encodeStruct formats data as uppercase hex followed by a checksum byte,
// the sum of all bytes modulo 256.
func encodeStruct(data []byte) string {
	var b strings.Builder
	b.Grow(len(data)*2 + 2)
	var sum byte
	for _, c := range data {
		sum += c
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	b.WriteByte(hexDigits[sum>>4])
	b.WriteByte(hexDigits[sum&0xf])
	return b.String()
}

// decodeStruct fills dst from a value written by encodeStruct. The value
// must have exactly the right length and checksum.
func decodeStruct(s string, dst []byte) bool {
	if len(s) != len(dst)*2+2 {
		return false
	}
	var sum byte
	out := make([]byte, len(dst))
	for i := 0; i <= len(dst); i++ {
		hi, lo := digit(s[2*i]), digit(s[2*i+1])
		if hi > 0xf || lo > 0xf {
			return false
		}
		b := byte(hi<<4 | lo)
		if i == len(dst) {
			if b != sum {
				return false
			}
			break
		}
		out[i] = b
		sum += b
	}
	copy(dst, out)
	return true
}

// copyValue copies src into dst as a terminated string, truncating to
// len(dst)-1 characters. It returns the number of characters copied, not
// counting the terminator.
func copyValue[T byte | uint16](dst, src []T) uint32 {
	if len(dst) == 0 {
		return 0
	}
	n := min(len(src), len(dst)-1)
	copy(dst, src[:n])
	dst[n] = 0
	return uint32(n)
}

// copyList copies names into dst, each terminated, followed by one more
// terminator. When the list does not fit it is cut at len(dst)-2
// characters, ends with two terminators and len(dst)-2 is returned.
func copyList[T byte | uint16](dst []T, names [][]T) uint32 {
	if len(dst) == 0 {
		return 0
	}

	var flat []T
	for _, name := range names {
		flat = append(flat, name...)
		flat = append(flat, 0)
	}

	if len(flat)+1 <= len(dst) {
		copy(dst, flat)
		dst[len(flat)] = 0
		if len(flat) == 0 && len(dst) > 1 {
			dst[1] = 0
		}
		return uint32(len(flat))
	}

	if len(dst) < 2 {
		dst[0] = 0
		return 0
	}
	n := len(dst) - 2
	copy(dst, flat[:n])
	dst[n] = 0
	dst[n+1] = 0
	return uint32(n)
}
