package mysqlnio

import "encoding/binary"

// wire-format helpers, grounded on the teacher's util.go.

func getUint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// getLenencInt reads a length-encoded integer and returns the number of
// bytes consumed.
func getLenencInt(b []byte) (v uint64, n int) {
	if len(b) == 0 {
		return 0, 0
	}
	first := b[0]
	switch {
	case first < 0xfb:
		return uint64(first), 1
	case first == 0xfb:
		// 0xfb as a standalone lenenc-int prefix denotes NULL in the
		// column-value encoding; callers that can observe NULL use
		// getLenencString instead. As a bare integer, treat it as 0.
		return 0, 1
	case first == 0xfc:
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3
	case first == 0xfd:
		return uint64(getUint24(b[1:4])), 4
	case first == 0xfe:
		return binary.LittleEndian.Uint64(b[1:9]), 9
	default:
		return 0, 1
	}
}

func putLenencInt(b []byte, v uint64) (n int) {
	switch {
	case v < 251:
		b[0] = byte(v)
		return 1
	case v < 1<<16:
		b[0] = 0xfc
		binary.LittleEndian.PutUint16(b[1:3], uint16(v))
		return 3
	case v < 1<<24:
		b[0] = 0xfd
		putUint24(b[1:4], uint32(v))
		return 4
	default:
		b[0] = 0xfe
		binary.LittleEndian.PutUint64(b[1:9], v)
		return 9
	}
}

func lenencIntSize(v uint64) int {
	switch {
	case v < 251:
		return 1
	case v < 1<<16:
		return 3
	case v < 1<<24:
		return 4
	default:
		return 9
	}
}

// nullString is a string that distinguishes SQL NULL from the empty string.
type nullString struct {
	value string
	valid bool
}

func getLenencString(b []byte) (s nullString, n int) {
	if len(b) > 0 && b[0] == 0xfb {
		return nullString{valid: false}, 1
	}
	length, ni := getLenencInt(b)
	s.value = string(b[ni : ni+int(length)])
	s.valid = true
	return s, ni + int(length)
}

func putLenencString(b []byte, v string) (n int) {
	n = putLenencInt(b, uint64(len(v)))
	n += copy(b[n:], v)
	return n
}

func getNullTerminatedString(b []byte) (v string, n int) {
	for n < len(b) && b[n] != 0 {
		n++
	}
	v = string(b[0:n])
	n++ // skip the terminator
	return v, n
}

func putNullTerminatedString(b []byte, v string) (n int) {
	n = copy(b, v)
	b[n] = 0
	n++
	return n
}

// isNull reports whether the column at the given position (0-based) is set
// in a binary-protocol NULL bitmap. offset is 2 for result set rows (the
// two reserved leading bits) and 0 for COM_STMT_EXECUTE parameter bitmaps.
func isNull(bitmap []byte, pos, offset int) bool {
	pos += offset
	return bitmap[pos/8]&(1<<uint(pos%8)) != 0
}

func zerofy(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
