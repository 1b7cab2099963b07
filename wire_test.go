package mysqlnio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLenencIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 1<<16 - 1, 1 << 16, 1<<24 - 1, 1 << 24, 1<<32 + 7}

	for _, v := range cases {
		buf := make([]byte, 9)
		n := putLenencInt(buf, v)
		assert.Equal(t, n, lenencIntSize(v))

		got, m := getLenencInt(buf)
		assert.Equal(t, n, m)
		assert.Equal(t, v, got)
	}
}

func TestLenencStringRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	n := putLenencString(buf, "hello")

	s, m := getLenencString(buf)
	assert.Equal(t, n, m)
	assert.True(t, s.valid)
	assert.Equal(t, "hello", s.value)
}

func TestLenencStringNull(t *testing.T) {
	buf := []byte{0xfb}
	s, n := getLenencString(buf)
	assert.Equal(t, 1, n)
	assert.False(t, s.valid)
}

func TestNullTerminatedStringRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	n := putNullTerminatedString(buf, "root")

	v, m := getNullTerminatedString(buf)
	assert.Equal(t, n, m)
	assert.Equal(t, "root", v)
}

func TestUint24RoundTrip(t *testing.T) {
	buf := make([]byte, 3)
	putUint24(buf, 0xabcdef)
	assert.Equal(t, uint32(0xabcdef), getUint24(buf))
}

func TestIsNull(t *testing.T) {
	// bit 0 (offset 2 -> absolute bit 2) set
	bitmap := []byte{0b00000100}
	assert.True(t, isNull(bitmap, 0, 2))
	assert.False(t, isNull(bitmap, 1, 2))
}
