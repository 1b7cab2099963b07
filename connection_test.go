package mysqlnio

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- fake server plumbing --------------------------------------------------
//
// These helpers stand in for a real mysqld, grounded in the same
// net.Listen/net.Dial socket-pair shape the corpus uses for protocol-level
// tests (see vitessio-vitess's netutil conn_test.go).

func startFakeServer(t *testing.T) (addr string, accept <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
	}()
	return ln.Addr().String(), ch
}

func readFramePlain(t *testing.T, conn net.Conn) (seq byte, payload []byte) {
	t.Helper()
	header := make([]byte, 4)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	length := getUint24(header[0:3])
	seq = header[3]
	payload = make([]byte, length)
	_, err = readFull(conn, payload)
	require.NoError(t, err)
	return seq, payload
}

func readFull(conn net.Conn, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := conn.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFramePlain(t *testing.T, conn net.Conn, seq byte, payload []byte) {
	t.Helper()
	header := make([]byte, 4)
	putUint24(header[0:3], uint32(len(payload)))
	header[3] = seq
	_, err := conn.Write(append(header, payload...))
	require.NoError(t, err)
}

func buildHandshakePacket(t *testing.T, connID uint32, seed20 []byte, pluginName string) []byte {
	t.Helper()
	require.Len(t, seed20, 20)

	caps := uint32(defaultCapabilities)

	buf := []byte{0x0a}
	buf = append(buf, []byte("8.0.34-fake")...)
	buf = append(buf, 0x00)

	connIDBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(connIDBytes, connID)
	buf = append(buf, connIDBytes...)

	buf = append(buf, seed20[0:8]...)
	buf = append(buf, 0x00) // filler

	capsLow := make([]byte, 2)
	binary.LittleEndian.PutUint16(capsLow, uint16(caps))
	buf = append(buf, capsLow...)

	buf = append(buf, 0x2d) // charset: utf8mb4_general_ci

	statusBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(statusBytes, uint16(serverStatusAutocommit))
	buf = append(buf, statusBytes...)

	capsHigh := make([]byte, 2)
	binary.LittleEndian.PutUint16(capsHigh, uint16(caps>>16))
	buf = append(buf, capsHigh...)

	buf = append(buf, byte(21)) // auth-plugin-data length
	buf = append(buf, make([]byte, 10)...)

	part2 := append(append([]byte{}, seed20[8:20]...), 0x00) // 13 bytes
	buf = append(buf, part2...)

	buf = append(buf, []byte(pluginName)...)
	buf = append(buf, 0x00)
	return buf
}

func buildOKPacket(affectedRows, lastInsertID uint64, statusFlags, warnings uint16) []byte {
	buf := make([]byte, 1+9+9+2+2)
	off := 0
	buf[off] = packetOK
	off++
	off += putLenencInt(buf[off:], affectedRows)
	off += putLenencInt(buf[off:], lastInsertID)
	binary.LittleEndian.PutUint16(buf[off:off+2], statusFlags)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], warnings)
	off += 2
	return buf[:off]
}

func buildErrPacket(code uint16, sqlState, message string) []byte {
	buf := []byte{packetERR}
	codeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(codeBytes, code)
	buf = append(buf, codeBytes...)
	buf = append(buf, '#')
	buf = append(buf, []byte(sqlState)...)
	buf = append(buf, []byte(message)...)
	return buf
}

func buildEOFPacket(warnings, statusFlags uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = packetEOF
	binary.LittleEndian.PutUint16(buf[1:3], warnings)
	binary.LittleEndian.PutUint16(buf[3:5], statusFlags)
	return buf
}

func buildColumnDefPacket(name string, colType uint8) []byte {
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 16)

	appendLenencStr := func(s string) {
		n := putLenencString(tmp, s)
		buf = append(buf, tmp[:n]...)
	}
	appendLenencStr("def")
	appendLenencStr("testdb")
	appendLenencStr("t")
	appendLenencStr("t")
	appendLenencStr(name)
	appendLenencStr(name)

	n := putLenencInt(tmp, 0x0c)
	buf = append(buf, tmp[:n]...)

	rest := make([]byte, 2+4+1+2+1+2)
	binary.LittleEndian.PutUint16(rest[0:2], 45) // charset
	binary.LittleEndian.PutUint32(rest[2:6], 255)
	rest[6] = colType
	binary.LittleEndian.PutUint16(rest[7:9], 0)
	rest[9] = 0
	buf = append(buf, rest...)
	return buf
}

func buildTextRowPacket(values ...string) []byte {
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 16)
	for _, v := range values {
		n := putLenencString(tmp, v)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

func buildPrepareOKPacket(statementID uint32, columnCount, paramCount, warnings uint16) []byte {
	buf := make([]byte, 12)
	buf[0] = packetOK
	binary.LittleEndian.PutUint32(buf[1:5], statementID)
	binary.LittleEndian.PutUint16(buf[5:7], columnCount)
	binary.LittleEndian.PutUint16(buf[7:9], paramCount)
	binary.LittleEndian.PutUint16(buf[10:12], warnings)
	return buf
}

// buildBinaryRowPacket builds a single-column binary result row with no
// nulls, holding a typeLong value.
func buildBinaryRowPacket(value uint32) []byte {
	buf := []byte{0x00, 0x00} // header + null bitmap
	valBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(valBytes, value)
	return append(buf, valBytes...)
}

// performHandshake drives the server side of a full Connect(), returning
// once the client has been sent a final OK packet.
func performHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	seed := make([]byte, 20)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	writeFramePlain(t, conn, 0, buildHandshakePacket(t, 7, seed, "mysql_native_password"))

	_, _ = readFramePlain(t, conn) // handshake response; contents not asserted here

	writeFramePlain(t, conn, 2, buildOKPacket(0, 0, serverStatusAutocommit, 0))
}

func dialAndConnect(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	addr, accept := startFakeServer(t)

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg, err := NewConfig(host, port, "root", "secret", "")
	require.NoError(t, err)

	conn := NewConnection(cfg, nil)

	done := make(chan *Connection, 1)
	go func() {
		c, cerr := conn.Connect(context.Background())
		require.NoError(t, cerr)
		done <- c
	}()

	serverConn := <-accept
	t.Cleanup(func() { serverConn.Close() })
	performHandshake(t, serverConn)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not complete")
	}

	return conn, serverConn
}

func TestConnectHandshakeOK(t *testing.T) {
	conn, _ := dialAndConnect(t)
	assert.True(t, conn.IsConnected())
	assert.Equal(t, 8, conn.Version().Major)
	assert.Equal(t, 0, conn.Version().Minor)
}

func TestSendQueryOK(t *testing.T) {
	conn, server := dialAndConnect(t)

	future, err := conn.SendQuery("INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	seq, payload := readFramePlain(t, server)
	assert.Equal(t, byte(0), seq)
	assert.Equal(t, byte(comQuery), payload[0])

	writeFramePlain(t, server, 1, buildOKPacket(1, 42, serverStatusAutocommit, 0))

	res, err := future.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Equal(t, int64(42), res.LastInsertID)
	assert.Nil(t, res.ResultSet)
}

func TestSendQueryResultSet(t *testing.T) {
	conn, server := dialAndConnect(t)

	future, err := conn.SendQuery("SELECT id, name FROM t")
	require.NoError(t, err)
	readFramePlain(t, server)

	tmp := make([]byte, 9)
	n := putLenencInt(tmp, 2)
	writeFramePlain(t, server, 1, tmp[:n])
	writeFramePlain(t, server, 2, buildColumnDefPacket("id", typeLong))
	writeFramePlain(t, server, 3, buildColumnDefPacket("name", typeVarString))
	writeFramePlain(t, server, 4, buildEOFPacket(0, serverStatusAutocommit))
	writeFramePlain(t, server, 5, buildTextRowPacket("1", "alice"))
	writeFramePlain(t, server, 6, buildEOFPacket(0, serverStatusAutocommit))

	res, err := future.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.ResultSet)
	require.Len(t, res.ResultSet.Rows, 1)
	assert.Equal(t, []string{"id", "name"}, res.ResultSet.ColumnNames())
	assert.Equal(t, "1", res.ResultSet.Rows[0][0])
	assert.Equal(t, "alice", res.ResultSet.Rows[0][1])
}

func TestSendQueryServerError(t *testing.T) {
	conn, server := dialAndConnect(t)

	future, err := conn.SendQuery("SELECT * FROM missing")
	require.NoError(t, err)
	readFramePlain(t, server)

	writeFramePlain(t, server, 1, buildErrPacket(1146, "42S02", "Table 'missing' doesn't exist"))

	_, err = future.Get(context.Background())
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(1146), perr.Code)

	// a failed query returns the connection to Ready, not Closed.
	assert.True(t, conn.IsConnected())
}

func TestStillRunningQueryRejectsSynchronously(t *testing.T) {
	conn, server := dialAndConnect(t)

	_, err := conn.SendQuery("SELECT SLEEP(10)")
	require.NoError(t, err)
	readFramePlain(t, server)

	_, err = conn.SendQuery("SELECT 1")
	require.Error(t, err)
	var stillRunning *ConnectionStillRunningQuery
	require.ErrorAs(t, err, &stillRunning)

	writeFramePlain(t, server, 1, buildOKPacket(0, 0, serverStatusAutocommit, 0))
}

func TestSendQueryNotConnected(t *testing.T) {
	cfg, err := NewConfig("127.0.0.1", 3306, "root", "", "")
	require.NoError(t, err)
	conn := NewConnection(cfg, nil)

	_, err = conn.SendQuery("SELECT 1")
	require.Error(t, err)
	var notConnected *NotConnected
	require.ErrorAs(t, err, &notConnected)
}

func TestQueryTimeout(t *testing.T) {
	addr, accept := startFakeServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg, err := NewConfig(host, port, "root", "secret", "")
	require.NoError(t, err)
	cfg.QueryTimeout = 50 * time.Millisecond

	conn := NewConnection(cfg, nil)
	done := make(chan *Connection, 1)
	go func() {
		c, cerr := conn.Connect(context.Background())
		require.NoError(t, cerr)
		done <- c
	}()

	server := <-accept
	t.Cleanup(func() { server.Close() })
	performHandshake(t, server)
	<-done

	future, err := conn.SendQuery("SELECT SLEEP(10)")
	require.NoError(t, err)
	readFramePlain(t, server) // server never responds

	_, err = future.Get(context.Background())
	require.Error(t, err)
	var timedOut *TimedOut
	require.ErrorAs(t, err, &timedOut)

	assert.True(t, conn.IsTimeout())
	assert.False(t, conn.IsConnected())

	// the close future carries the failure that closed the connection.
	closeErr := conn.Close(context.Background())
	var closeTimedOut *TimedOut
	assert.ErrorAs(t, closeErr, &closeTimedOut)
}

// TestSendPreparedStatementRoundTrip drives a full prepare/execute/close
// cycle through the Connection Core's prepared-statement phase machine
// (handlePrepareOK, afterPrepareParamDefs, sendExecute, closeStatement).
func TestSendPreparedStatementRoundTrip(t *testing.T) {
	conn, server := dialAndConnect(t)

	future, err := conn.SendPreparedStatement("SELECT id FROM t WHERE id = ?", []interface{}{int64(5)})
	require.NoError(t, err)

	seq, payload := readFramePlain(t, server)
	assert.Equal(t, byte(0), seq)
	assert.Equal(t, byte(comStmtPrepare), payload[0])

	writeFramePlain(t, server, 1, buildPrepareOKPacket(7, 1, 1, 0))
	writeFramePlain(t, server, 2, buildColumnDefPacket("id", typeLong)) // param definition
	writeFramePlain(t, server, 3, buildEOFPacket(0, serverStatusAutocommit))
	writeFramePlain(t, server, 4, buildColumnDefPacket("id", typeLong)) // result column definition
	writeFramePlain(t, server, 5, buildEOFPacket(0, serverStatusAutocommit))

	seq, payload = readFramePlain(t, server)
	assert.Equal(t, byte(0), seq)
	assert.Equal(t, byte(comStmtExecute), payload[0])
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(payload[1:5]))

	tmp := make([]byte, 9)
	n := putLenencInt(tmp, 1)
	writeFramePlain(t, server, 1, tmp[:n])
	writeFramePlain(t, server, 2, buildColumnDefPacket("id", typeLong))
	writeFramePlain(t, server, 3, buildEOFPacket(0, serverStatusAutocommit))
	writeFramePlain(t, server, 4, buildBinaryRowPacket(5))
	writeFramePlain(t, server, 5, buildEOFPacket(0, serverStatusAutocommit))

	_, payload = readFramePlain(t, server)
	assert.Equal(t, byte(comStmtClose), payload[0])
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(payload[1:5]))

	res, err := future.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.ResultSet)
	require.Len(t, res.ResultSet.Rows, 1)
	assert.Equal(t, uint32(5), res.ResultSet.Rows[0][0])

	assert.True(t, conn.IsConnected())
}

// TestConnectAuthFailure exercises spec scenario S2: the server rejects the
// handshake response with an ERR packet instead of OK, and Connect must
// fail rather than leave the connection half-established.
func TestConnectAuthFailure(t *testing.T) {
	addr, accept := startFakeServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg, err := NewConfig(host, port, "root", "wrong-password", "")
	require.NoError(t, err)
	conn := NewConnection(cfg, nil)

	errCh := make(chan error, 1)
	go func() {
		_, cerr := conn.Connect(context.Background())
		errCh <- cerr
	}()

	server := <-accept
	t.Cleanup(func() { server.Close() })

	seed := make([]byte, 20)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	writeFramePlain(t, server, 0, buildHandshakePacket(t, 9, seed, "mysql_native_password"))
	readFramePlain(t, server) // handshake response; contents not asserted here

	writeFramePlain(t, server, 2, buildErrPacket(1045, "28000", "Access denied for user 'root'"))

	select {
	case cerr := <-errCh:
		require.Error(t, cerr)
		var perr *ProtocolError
		require.ErrorAs(t, cerr, &perr)
		assert.Equal(t, uint16(1045), perr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not fail as expected")
	}

	assert.False(t, conn.IsConnected())
}

// TestSendPreparedStatementInsufficientParameters exercises spec scenario
// S5: a mismatched placeholder/value count is rejected synchronously, before
// any network I/O -- the connection here is never even dialed.
func TestSendPreparedStatementInsufficientParameters(t *testing.T) {
	cfg, err := NewConfig("127.0.0.1", 3306, "root", "", "")
	require.NoError(t, err)
	conn := NewConnection(cfg, nil)

	_, err = conn.SendPreparedStatement("SELECT * FROM t WHERE id = ? AND name = ?", []interface{}{int64(1)})
	require.Error(t, err)
	var insufficient *InsufficientParameters
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Expected)
	assert.Equal(t, 1, insufficient.Actual)
}
