package mysqlnio

import (
	"bytes"
	"compress/zlib"
	"io"
	"net"
)

// compressionThreshold is the payload size above which write actually
// zlib-compresses the packet; smaller payloads are wrapped in a plain
// compressed-protocol frame instead, since compressing them would only add
// overhead.
const compressionThreshold = 50

// compressedReadWriter layers the compressed packet protocol (7-byte
// header: compressed length, sequence number, uncompressed length) over the
// plain net.Conn once Config.Compress negotiates it during the handshake,
// grounded on the teacher's compressRW (compress.go). It is a collaborator
// of the Frame Transport rather than the transport itself: frameTransport
// still owns the net.Conn and decides when to delegate here.
//
// pending holds decompressed bytes that have been read off the wire but not
// yet consumed by the transport, since one compressed packet can expand
// into more bytes than a single read call asked for.
type compressedReadWriter struct {
	pending bytes.Buffer

	readBuf  []byte
	writeBuf []byte

	seqno         uint8
	maxPacketSize uint32
}

func newCompressedReadWriter(maxPacketSize uint32) *compressedReadWriter {
	return &compressedReadWriter{maxPacketSize: maxPacketSize}
}

func growBuf(buf *[]byte, n int) []byte {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	return (*buf)[:n]
}

// read satisfies a request for length decompressed bytes, pulling and
// decompressing further compressed packets from conn until pending holds
// enough.
func (rw *compressedReadWriter) read(conn net.Conn, b []byte, length int) (int, error) {
	for rw.pending.Len() < length {
		if err := rw.fill(conn); err != nil {
			return 0, err
		}
	}
	return io.ReadFull(&rw.pending, b[:length])
}

// fill reads one compressed packet from conn and appends its decompressed
// payload to pending.
func (rw *compressedReadWriter) fill(conn net.Conn) error {
	header := growBuf(&rw.readBuf, 7)
	if _, err := io.ReadFull(conn, header); err != nil {
		return newTransportError(err)
	}

	compressedLength := int(getUint24(header[0:3]))
	if rw.seqno != header[3] {
		return newTransportError(errPacketsOutOfOrder)
	}
	uncompressedLength := int(getUint24(header[4:7]))
	rw.seqno++

	if rw.maxPacketSize != 0 && uint32(compressedLength+7) > rw.maxPacketSize {
		return newTransportError(errPacketTooLarge)
	}

	payload := growBuf(&rw.readBuf, compressedLength)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return newTransportError(err)
	}

	if uncompressedLength == 0 {
		rw.pending.Write(payload)
		return nil
	}

	src, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return newTransportError(err)
	}
	if _, err := io.CopyN(&rw.pending, src, int64(uncompressedLength)); err != nil {
		return newTransportError(err)
	}
	return nil
}

// write wraps b, a complete outgoing frame payload, in a compressed-protocol
// packet and writes it to conn.
func (rw *compressedReadWriter) write(conn net.Conn, b []byte) (int, error) {
	var (
		packet []byte
		err    error
	)
	if len(b) > compressionThreshold {
		packet, err = rw.compressPacket(b)
	} else {
		packet, err = rw.plainPacket(b)
	}
	if err != nil {
		return 0, err
	}

	rw.seqno++
	n, err := conn.Write(packet)
	if err != nil {
		return n, newTransportError(err)
	}
	return n, nil
}

func (rw *compressedReadWriter) compressPacket(b []byte) ([]byte, error) {
	var z bytes.Buffer
	w, err := zlib.NewWriterLevel(&z, zlib.DefaultCompression)
	if err != nil {
		return nil, newTransportError(err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, newTransportError(err)
	}
	if err := w.Close(); err != nil {
		return nil, newTransportError(err)
	}

	packet := growBuf(&rw.writeBuf, 7+z.Len())
	putUint24(packet[0:3], uint32(z.Len()))
	packet[3] = rw.seqno
	putUint24(packet[4:7], uint32(len(b)))
	copy(packet[7:], z.Bytes())
	return packet, nil
}

func (rw *compressedReadWriter) plainPacket(b []byte) ([]byte, error) {
	packet := growBuf(&rw.writeBuf, 7+len(b))
	putUint24(packet[0:3], uint32(len(b)))
	packet[3] = rw.seqno
	putUint24(packet[4:7], 0)
	copy(packet[7:], b)
	return packet, nil
}

func (rw *compressedReadWriter) reset() {
	rw.seqno = 0
	rw.pending.Reset()
}
