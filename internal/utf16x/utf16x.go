// Package utf16x encodes and decodes the little-endian UTF-16 strings stored
// in long file name entries and GPT partition names.
package utf16x

import (
	"encoding/binary"
	"errors"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	ErrShortBuffer = errors.New("utf16x: short buffer")
	ErrOddLength   = errors.New("utf16x: odd byte count")
	ErrInvalid     = errors.New("utf16x: invalid encoding")
)

const selfMax = 0xffff // Largest rune encoded in a single code unit.

// RuneLen returns the number of bytes needed to encode r.
func RuneLen(r rune) int {
	if r > selfMax && r <= unicode.MaxRune {
		return 4
	}
	return 2
}

// PutRune writes r to b and returns the number of bytes written. Runes that
// cannot be represented are written as U+FFFD.
func PutRune(b []byte, r rune) int {
	if r > selfMax && r <= unicode.MaxRune {
		hi, lo := utf16.EncodeRune(r)
		binary.LittleEndian.PutUint16(b[2:], uint16(lo))
		binary.LittleEndian.PutUint16(b, uint16(hi))
		return 4
	}
	if r < 0 || r > unicode.MaxRune || utf16.IsSurrogate(r) {
		r = utf8.RuneError
	}
	binary.LittleEndian.PutUint16(b, uint16(r))
	return 2
}

// Rune decodes the first character of b. It returns size 0 when b holds no
// complete code unit. An unpaired surrogate decodes as U+FFFD with size 2.
func Rune(b []byte) (r rune, size int) {
	if len(b) < 2 {
		return utf8.RuneError, 0
	}
	u := rune(binary.LittleEndian.Uint16(b))
	if !utf16.IsSurrogate(u) {
		return u, 2
	}
	if len(b) >= 4 {
		r = utf16.DecodeRune(u, rune(binary.LittleEndian.Uint16(b[2:])))
		if r != utf8.RuneError {
			return r, 4
		}
	}
	return utf8.RuneError, 2
}

// Len returns the byte length of the NUL terminated string at the start of
// b, or the even part of len(b) if there is no terminator.
func Len(b []byte) int {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return i
		}
	}
	return len(b) &^ 1
}

// Encode writes s to dst as UTF-16 and returns the number of bytes written.
func Encode(dst []byte, s string) (int, error) {
	n := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return n, ErrInvalid
		}
		if RuneLen(r) > len(dst)-n {
			return n, ErrShortBuffer
		}
		n += PutRune(dst[n:], r)
		i += size
	}
	return n, nil
}

// Decode writes the UTF-8 form of the UTF-16 string src to dst and returns
// the number of bytes written. Unpaired surrogates are rejected.
func Decode(dst, src []byte) (int, error) {
	if len(src)%2 != 0 {
		return 0, ErrOddLength
	}
	n := 0
	for len(src) > 0 {
		r, size := Rune(src)
		if r == utf8.RuneError && utf16.IsSurrogate(rune(binary.LittleEndian.Uint16(src))) {
			return n, ErrInvalid
		}
		if utf8.RuneLen(r) > len(dst)-n {
			return n, ErrShortBuffer
		}
		n += utf8.EncodeRune(dst[n:], r)
		src = src[size:]
	}
	return n, nil
}
