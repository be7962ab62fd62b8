package utf16x

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello.txt", "Ünïcode ñame", "日本語のファイル", "emoji 😀 and 𝄞"} {
		buf := make([]byte, 4*len(s))
		n, err := Encode(buf, s)
		require.NoError(t, err, s)
		want := utf16.Encode([]rune(s))
		require.Equal(t, 2*len(want), n, s)
		for i, u := range want {
			assert.Equal(t, u, binary.LittleEndian.Uint16(buf[2*i:]))
		}
		out := make([]byte, len(s))
		m, err := Decode(out, buf[:n])
		require.NoError(t, err, s)
		assert.Equal(t, s, string(out[:m]))
	}
}

func TestSurrogates(t *testing.T) {
	var buf [4]byte
	assert.Equal(t, 4, RuneLen('😀'))
	assert.Equal(t, 4, PutRune(buf[:], '😀'))
	r, size := Rune(buf[:])
	assert.Equal(t, '😀', r)
	assert.Equal(t, 4, size)

	// Unpaired high surrogate.
	r, size = Rune(buf[:2])
	assert.Equal(t, '\uFFFD', r)
	assert.Equal(t, 2, size)
	_, err := Decode(make([]byte, 8), buf[:2])
	assert.ErrorIs(t, err, ErrInvalid)

	// Lone low surrogate.
	binary.LittleEndian.PutUint16(buf[:], 0xdc00)
	r, _ = Rune(buf[:2])
	assert.Equal(t, '\uFFFD', r)

	assert.Equal(t, 2, PutRune(buf[:], 0xd800))
	assert.Equal(t, uint16(0xfffd), binary.LittleEndian.Uint16(buf[:]))
	_, size = Rune(buf[:1])
	assert.Zero(t, size)
}

func TestLen(t *testing.T) {
	assert.Equal(t, 4, Len([]byte{'a', 0, 'b', 0, 0, 0, 'c', 0}))
	assert.Equal(t, 0, Len([]byte{0, 0}))
	assert.Equal(t, 4, Len([]byte{'a', 0, 'b', 0, 'c'}))
}

func TestErrors(t *testing.T) {
	_, err := Decode(make([]byte, 8), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddLength)
	n, err := Encode(make([]byte, 4), "abc")
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, 4, n)
	_, err = Encode(make([]byte, 2), "😀")
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = Encode(make([]byte, 8), "\xff")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Decode(make([]byte, 1), []byte{0xe9, 0})
	assert.ErrorIs(t, err, ErrShortBuffer)
}
