package mysqlnio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// codec encodes client messages into frame payloads and decodes server
// frame payloads into the tagged serverMessage variant (spec §4.3). It
// reuses a scratch buffer across encode calls so command encoding does not
// allocate per call.
type codec struct {
	scratch []byte
}

func newCodec() *codec {
	return &codec{scratch: make([]byte, 4096)}
}

// grow returns a scratch slice of at least n bytes, growing and replacing
// the backing array only when the current one is too small.
func (c *codec) grow(n int) []byte {
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	return c.scratch[:n]
}

// -- encoding --------------------------------------------------------------

func (c *codec) encodeQuery(sql string) ([]byte, error) {
	b := c.grow(4 + 1 + len(sql))
	off := 4
	b[off] = comQuery
	off++
	off += copy(b[off:], sql)
	return b[:off], nil
}

func (c *codec) encodeInitDB(schema string) ([]byte, error) {
	b := c.grow(4 + 1 + len(schema))
	off := 4
	b[off] = comInitDB
	off++
	off += copy(b[off:], schema)
	return b[:off], nil
}

func (c *codec) encodeQuit() ([]byte, error) {
	b := c.grow(4 + 1)
	b[4] = comQuit
	return b[:5], nil
}

// handshakeResponseParams carries what encodeHandshakeResponse needs to
// build the packet, grounded on the teacher's populateHandshakeResponse1/2.
type handshakeResponseParams struct {
	capabilities   uint32
	maxPacketSize  uint32
	charset        uint8
	username       string
	authResponse   []byte
	schema         string
	authPluginName string
}

func (c *codec) encodeHandshakeResponse(p handshakeResponseParams) ([]byte, error) {
	authLenenc := p.capabilities&clientPluginAuthLenencClientData != 0
	secureConn := p.capabilities&clientSecureConnection != 0
	withDB := p.schema != "" && p.capabilities&clientConnectWithDB != 0
	withPluginAuth := p.capabilities&clientPluginAuth != 0

	length := 4 + 4 + 1 + 23
	length += len(p.username) + 1

	switch {
	case authLenenc:
		length += lenencIntSize(uint64(len(p.authResponse))) + len(p.authResponse)
	case secureConn:
		length += 1 + len(p.authResponse)
	default:
		length += len(p.authResponse) + 1
	}
	if withDB {
		length += len(p.schema) + 1
	}
	if withPluginAuth {
		length += len(p.authPluginName) + 1
	}

	b := c.grow(4 + length)
	off := 4

	binary.LittleEndian.PutUint32(b[off:off+4], p.capabilities)
	off += 4
	binary.LittleEndian.PutUint32(b[off:off+4], p.maxPacketSize)
	off += 4
	b[off] = p.charset
	off++
	off += 23 // reserved

	off += putNullTerminatedString(b[off:], p.username)

	switch {
	case authLenenc:
		off += putLenencString(b[off:], string(p.authResponse))
	case secureConn:
		b[off] = byte(len(p.authResponse))
		off++
		off += copy(b[off:], p.authResponse)
	default:
		off += putNullTerminatedString(b[off:], string(p.authResponse))
	}

	if withDB {
		off += putNullTerminatedString(b[off:], p.schema)
	}
	if withPluginAuth {
		off += putNullTerminatedString(b[off:], p.authPluginName)
	}

	return b[:off], nil
}

func (c *codec) encodeSSLRequest(capabilities, maxPacketSize uint32, charset uint8) ([]byte, error) {
	b := c.grow(4 + 4 + 4 + 1 + 23)
	off := 4
	binary.LittleEndian.PutUint32(b[off:off+4], capabilities)
	off += 4
	binary.LittleEndian.PutUint32(b[off:off+4], maxPacketSize)
	off += 4
	b[off] = charset
	off++
	off += 23
	return b[:off], nil
}

// encodeRaw wraps payload in a single frame with no command byte, used for
// the LOCAL INFILE data/terminating-empty packets (spec's supplemented
// LOCAL INFILE feature), grounded on the teacher's createInfileDataPacket/
// createEmptyPacket.
func (c *codec) encodeRaw(payload []byte) ([]byte, error) {
	b := c.grow(4 + len(payload))
	off := 4
	off += copy(b[off:], payload)
	return b[:off], nil
}

func (c *codec) encodeAuthSwitchResponse(authResponse []byte) ([]byte, error) {
	b := c.grow(4 + len(authResponse))
	off := 4
	off += copy(b[off:], authResponse)
	return b[:off], nil
}

// -- decoding ----------------------------------------------------------------

func decodeHandshake(b []byte) (*handshakeMessage, error) {
	if len(b) < 1 || b[0] != 0x0a {
		return nil, errors.New("mysqlnio: unsupported handshake protocol version")
	}
	off := 1
	h := &handshakeMessage{}

	var n int
	h.serverVersion, n = getNullTerminatedString(b[off:])
	off += n

	h.connectionID = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	authDataPart1Off := off
	off += 8
	off++ // filler

	h.capabilities = uint32(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2

	authDataLength := 0
	if len(b) > off {
		h.charset = b[off]
		off++

		h.statusFlags = binary.LittleEndian.Uint16(b[off : off+2])
		off += 2

		h.capabilities |= uint32(binary.LittleEndian.Uint16(b[off:off+2])) << 16
		off += 2

		if h.capabilities&clientPluginAuth != 0 {
			authDataLength = int(b[off])
			off++
		} else {
			off++
		}

		off += 10 // reserved

		var authDataPart2Off, authDataPart2Len int
		if h.capabilities&clientSecureConnection != 0 {
			if authDataLength-8 > 13 {
				authDataLength = 13 + 8
			}
			authDataPart2Off = off
			authDataPart2Len = authDataLength - 8
			off += authDataPart2Len
			authDataLength-- // ignore the trailing 0x00
		}

		authData := make([]byte, authDataLength)
		copy(authData[0:8], b[authDataPart1Off:authDataPart1Off+8])
		if authDataLength > 8 {
			copy(authData[8:], b[authDataPart2Off:authDataPart2Off+authDataPart2Len])
		}
		h.authPluginData = authData

		if h.capabilities&clientPluginAuth != 0 {
			h.authPluginName, n = getNullTerminatedString(b[off:])
			off += n
		}
	}
	return h, nil
}

func decodeAuthSwitchRequest(b []byte) (*authSwitchRequestMessage, error) {
	// b[0] == 0xfe, the AuthSwitchRequest header
	off := 1
	name, n := getNullTerminatedString(b[off:])
	off += n
	data := make([]byte, len(b)-off)
	copy(data, b[off:])
	return &authSwitchRequestMessage{pluginName: name, pluginData: data}, nil
}

func decodeOK(b []byte) *okMessage {
	off := 1
	msg := &okMessage{}
	var n int
	msg.affectedRows, n = getLenencInt(b[off:])
	off += n
	msg.lastInsertID, n = getLenencInt(b[off:])
	off += n
	msg.statusFlags = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	msg.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	if off < len(b) {
		msg.info = string(b[off:])
	}
	return msg
}

func decodeErr(b []byte) *errMessage {
	off := 1
	msg := &errMessage{}
	msg.code = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	off++ // '#' marker
	msg.sqlState = string(b[off : off+5])
	off += 5
	msg.message = string(b[off:])
	return msg
}

func decodeEOF(b []byte) *eofMessage {
	off := 1
	msg := &eofMessage{}
	msg.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	msg.statusFlags = binary.LittleEndian.Uint16(b[off : off+2])
	return msg
}

func decodeColumnDefinition(b []byte) (*columnDefinitionMessage, error) {
	var off, n int
	col := &ColumnDefinition{}

	var s nullString
	s, n = getLenencString(b[off:])
	col.Catalog = s.value
	off += n
	s, n = getLenencString(b[off:])
	col.Schema = s.value
	off += n
	s, n = getLenencString(b[off:])
	col.Table = s.value
	off += n
	s, n = getLenencString(b[off:])
	col.OrgTable = s.value
	off += n
	s, n = getLenencString(b[off:])
	col.Name = s.value
	off += n
	s, n = getLenencString(b[off:])
	col.OrgName = s.value
	off += n

	_, n = getLenencInt(b[off:]) // length of fixed-length fields, always 0x0c
	off += n

	col.Charset = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	col.ColumnLength = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	col.ColumnType = b[off]
	off++
	col.Flags = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	col.Decimals = b[off]
	off++
	off += 2 // filler

	if off != len(b) {
		return nil, &BufferNotFullyConsumed{Remaining: len(b) - off}
	}
	return &columnDefinitionMessage{def: col}, nil
}

func decodeTextRow(b []byte, columnCount int) *rowMessage {
	values := make([]nullString, columnCount)
	off := 0
	for i := 0; i < columnCount; i++ {
		v, n := getLenencString(b[off:])
		values[i] = v
		off += n
	}
	return &rowMessage{values: values}
}

func decodePrepareOK(b []byte) *preparedStatementPreparedMessage {
	off := 1
	msg := &preparedStatementPreparedMessage{}
	msg.statementID = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	msg.columnCount = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	msg.paramCount = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	off++ // filler
	if off+2 <= len(b) {
		msg.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	}
	return msg
}
