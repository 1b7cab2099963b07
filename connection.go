package mysqlnio

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// connState is the Connection Core's protocol state, per spec §4.1. Owned
// exclusively by the run-loop goroutine.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateAwaitingHandshake
	// stateAwaitingHandshakeResult also covers the AwaitingAuthSwitch
	// sub-state: the transition table leaves a connection in the same
	// state on AuthSwitchRequest, so no separate value earns its keep.
	stateAwaitingHandshakeResult
	stateReady
	stateQuerying
	stateClosed
)

// queryPhase tracks progress through a single query's multi-packet round
// trip, once the Connection Core is in stateQuerying. Grounded on the
// teacher's handleQueryResponse/handleResultSet/handleComStmtPrepareResponse
// sequencing, restructured as explicit phases so each arriving frame can be
// dispatched without a blocking read loop.
type queryPhase int

const (
	phaseNone queryPhase = iota
	phaseTextAwaitingHeader
	phasePrepareAwaitingOK
	phasePrepareAwaitingParamDefs
	phasePrepareAwaitingParamEOF
	phasePrepareAwaitingColumnDefs
	phasePrepareAwaitingColumnEOF
	phaseExecuteAwaitingHeader
	phaseAwaitingColumnDefs
	phaseAwaitingColumnEOF
	phaseAwaitingRows
	phaseAwaitingInfileResult
)

// pendingQuery is the value installed in Connection.pending, the
// single-slot atomically-swappable register of spec §3.
type pendingQuery struct {
	future     *Future[*QueryResult]
	generation uint64
}

var connectionCounter uint64

// errBox lets an error live behind an atomic.Pointer, since atomic.Pointer
// requires a concrete pointer type and error is an interface.
type errBox struct{ err error }

// ConnectionOptions carries the collaborators a Connection needs beyond its
// Config: a logger, optional metrics, and an optional LOCAL INFILE handler.
type ConnectionOptions struct {
	Logger        *zap.Logger
	Metrics       *Metrics
	InfileHandler InfileHandler
}

// Connection is one long-lived session against a MySQL server, realizing
// the Connection Core (spec §4.1) as a single run-loop goroutine, grounded
// on the teacher's Conn (prot_conn.go), generalized from blocking call/return
// into the async delegate shape described in SPEC_FULL.md §5.
type Connection struct {
	id  string
	cfg *Config
	log *zap.Logger

	metrics       *Metrics
	infileHandler InfileHandler

	transport *frameTransport
	codec     *codec

	events chan any

	connectFuture *Future[*Connection]
	closeFuture   *Future[*Connection]

	connectStarted atomic.Bool
	closeStarted   atomic.Bool
	closeResolved  bool

	connected atomic.Bool
	querying  atomic.Bool
	timedOut  atomic.Bool
	version   atomic.Pointer[ServerVersion]
	lastErr   atomic.Pointer[errBox]

	pending atomic.Pointer[pendingQuery]

	// run-loop-only state below; never touched from another goroutine.
	state          connState
	phase          queryPhase
	negotiatedCaps uint32
	statusFlags    uint16
	warnings       uint16
	remaining      int
	acc            *resultAccumulator
	binaryResult   bool
	stmt           *preparedStatement
	stmtValues     []interface{}
	timeout         timeoutScheduler
	infileSavedErr  error
	teardownStarted bool
}

// NewConnection creates a Connection in the Disconnected state. Nothing is
// dialed until Connect is called.
func NewConnection(cfg *Config, opts *ConnectionOptions) *Connection {
	if opts == nil {
		opts = &ConnectionOptions{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	infile := opts.InfileHandler
	if infile == nil {
		infile = denyInfileHandler{}
	}

	n := atomic.AddUint64(&connectionCounter, 1)
	c := &Connection{
		id:            fmt.Sprintf("mysqlnio-conn-%d", n),
		cfg:           cfg,
		log:           log,
		metrics:       opts.Metrics,
		infileHandler: infile,
		codec:         newCodec(),
		events:        make(chan any, 4),
		connectFuture: NewFuture[*Connection](),
		closeFuture:   NewFuture[*Connection](),
	}
	go c.runLoop()
	return c
}

// -- frameDelegate ---------------------------------------------------------

func (c *Connection) onFrame(payload []byte) {
	c.events <- eventFrame{payload: payload}
}

func (c *Connection) onTransportError(err error) {
	c.events <- eventTransportError{err: err}
}

// -- events ------------------------------------------------------------------

type eventConnect struct{}
type eventSendQuery struct {
	sql string
	p   *pendingQuery
}
type eventSendPrepared struct {
	sql    string
	values []interface{}
	p      *pendingQuery
}
type eventClose struct{}
type eventFrame struct{ payload []byte }
type eventTransportError struct{ err error }
type eventTimeout struct{ generation uint64 }
type eventReaderDone struct{}

// runLoop is the single goroutine that owns all Connection state mutation,
// realizing spec §5's "single-threaded cooperative per connection" model.
// It exits once the close sequence has delivered eventReaderDone, at which
// point the events channel is closed and no further sends are valid.
func (c *Connection) runLoop() {
	for ev := range c.events {
		switch e := ev.(type) {
		case eventConnect:
			c.handleConnect()
		case eventSendQuery:
			c.handleSendQuery(e.sql, e.p)
		case eventSendPrepared:
			c.handleSendPrepared(e.sql, e.values, e.p)
		case eventClose:
			c.handleClose()
		case eventFrame:
			c.handleFrame(e.payload)
		case eventTransportError:
			c.handleTransportError(e.err)
		case eventTimeout:
			c.handleTimeout(e.generation)
		case eventReaderDone:
			c.resolveClose()
			return
		}
	}
}

// -- connect -----------------------------------------------------------------

func (c *Connection) handleConnect() {
	if c.state != stateDisconnected {
		return
	}
	c.state = stateConnecting

	c.transport = newFrameTransport(c.log)
	c.transport.maxPacketSize = c.cfg.MaxPacketSize

	ctx := context.Background()
	if err := c.transport.dial(ctx, c.cfg.address(), c.cfg.Socket); err != nil {
		c.failConnect(err)
		return
	}

	c.transport.startReadLoop(ctx, c)
	c.state = stateAwaitingHandshake
}

func (c *Connection) failConnect(err error) {
	c.setLastErr(err)
	c.connectFuture.resolve(nil, err)
	c.state = stateClosed
	c.beginTeardown()
}

// -- send_query / send_prepared_statement ------------------------------------

func (c *Connection) handleSendQuery(sql string, p *pendingQuery) {
	if c.state != stateReady {
		c.rejectInstalled(p, &NotConnected{ConnectionID: c.id})
		return
	}

	c.state = stateQuerying
	c.querying.Store(true)
	c.timedOut.Store(false)
	c.armTimeout(p.generation)

	c.transport.resetSeqno()
	frame, err := c.codec.encodeQuery(sql)
	if err != nil {
		c.completeQueryErr(err)
		return
	}
	if err := c.transport.writeFrame(frame); err != nil {
		c.completeQueryErr(err)
		return
	}
	c.phase = phaseTextAwaitingHeader
}

func (c *Connection) handleSendPrepared(sql string, values []interface{}, p *pendingQuery) {
	if c.state != stateReady {
		c.rejectInstalled(p, &NotConnected{ConnectionID: c.id})
		return
	}

	c.state = stateQuerying
	c.querying.Store(true)
	c.timedOut.Store(false)
	c.armTimeout(p.generation)
	c.stmtValues = values

	c.transport.resetSeqno()
	frame, err := c.codec.encodeStmtPrepare(sql)
	if err != nil {
		c.completeQueryErr(err)
		return
	}
	if err := c.transport.writeFrame(frame); err != nil {
		c.completeQueryErr(err)
		return
	}
	c.phase = phasePrepareAwaitingOK
}

// rejectInstalled resolves a pending-query future that was already installed
// by the caller's synchronous CAS, for a rejection discovered inside the run
// loop -- the caller's readiness snapshot at call time was stale.
func (c *Connection) rejectInstalled(p *pendingQuery, err error) {
	c.pending.CompareAndSwap(p, nil)
	p.future.resolve(nil, err)
}

// -- frame dispatch ------------------------------------------------------

func (c *Connection) handleFrame(payload []byte) {
	if c.metrics != nil {
		c.metrics.BytesRead.Add(float64(len(payload) + 4))
	}

	switch c.state {
	case stateAwaitingHandshake:
		c.handleHandshakeFrame(payload)
	case stateAwaitingHandshakeResult:
		c.handleHandshakeResultFrame(payload)
	case stateQuerying:
		c.handleQueryFrame(payload)
	default:
		c.log.Warn("mysqlnio: dropped spurious frame",
			zap.String("connection", c.id), zap.Int("state", int(c.state)))
	}
}

func (c *Connection) handleHandshakeFrame(payload []byte) {
	h, err := decodeHandshake(payload)
	if err != nil {
		c.failConnect(newTransportError(err))
		return
	}

	v := parseServerVersion(h.serverVersion)
	c.version.Store(&v)

	serverCaps := h.capabilities
	caps := c.cfg.clientCapabilities & serverCaps

	if c.cfg.SSL != SSLDisable {
		if serverCaps&clientSSL == 0 {
			if c.cfg.SSL == SSLRequire {
				c.failConnect(newTransportError(fmt.Errorf("mysqlnio: server does not support TLS but ssl=require")))
				return
			}
		} else {
			caps |= clientSSL
			sslFrame, err := c.codec.encodeSSLRequest(caps, c.cfg.MaxPacketSize, c.cfg.charsetID)
			if err != nil {
				c.failConnect(err)
				return
			}
			if err := c.transport.writeFrame(sslFrame); err != nil {
				c.failConnect(err)
				return
			}
			tlsConn, err := upgradeTLS(c.transport.conn, c.cfg)
			if err != nil {
				c.failConnect(err)
				return
			}
			c.transport.upgrade(tlsConn)
		}
	}

	c.negotiatedCaps = caps
	authResponse := authResponseFor(h.authPluginName, c.cfg.Password, h.authPluginData)

	frame, err := c.codec.encodeHandshakeResponse(handshakeResponseParams{
		capabilities:   caps,
		maxPacketSize:  c.cfg.MaxPacketSize,
		charset:        c.cfg.charsetID,
		username:       c.cfg.User,
		authResponse:   authResponse,
		schema:         c.cfg.Database,
		authPluginName: h.authPluginName,
	})
	if err != nil {
		c.failConnect(err)
		return
	}
	if err := c.transport.writeFrame(frame); err != nil {
		c.failConnect(err)
		return
	}

	if caps&clientCompress != 0 {
		c.transport.enableCompression()
	}

	c.state = stateAwaitingHandshakeResult
}

func (c *Connection) handleHandshakeResultFrame(payload []byte) {
	switch payload[0] {
	case packetOK:
		ok := decodeOK(payload)
		c.statusFlags = ok.statusFlags
		c.warnings = ok.warnings
		c.connected.Store(true)
		c.state = stateReady
		if c.metrics != nil {
			c.metrics.ConnectionState.Set(float64(stateReady))
		}
		c.connectFuture.resolve(c, nil)
	case packetERR:
		e := decodeErr(payload)
		c.failConnect(newProtocolError(e.code, e.sqlState, e.message, 0))
	default: // AuthSwitchRequest; unambiguous in this state (see codec.go)
		req, err := decodeAuthSwitchRequest(payload)
		if err != nil {
			c.failConnect(newTransportError(err))
			return
		}
		resp := authResponseFor(req.pluginName, c.cfg.Password, req.pluginData)
		frame, err := c.codec.encodeAuthSwitchResponse(resp)
		if err != nil {
			c.failConnect(err)
			return
		}
		if err := c.transport.writeFrame(frame); err != nil {
			c.failConnect(err)
		}
	}
}

// handleQueryFrame dispatches a frame received while stateQuerying according
// to c.phase. Grounded on the teacher's
// handleQueryResponse/handleResultSet/handleComStmtPrepareResponse, folded
// into an explicit phase machine so each frame is handled by one dispatch
// instead of a blocking read loop.
func (c *Connection) handleQueryFrame(payload []byte) {
	switch c.phase {
	case phaseTextAwaitingHeader, phaseExecuteAwaitingHeader:
		c.handleResultHeader(payload)

	case phasePrepareAwaitingOK:
		c.handlePrepareOK(payload)

	case phasePrepareAwaitingParamDefs:
		if payload[0] == packetEOF {
			c.afterPrepareParamDefs()
			return
		}
		// param definitions are not surfaced in the public API; decode
		// only to validate framing and advance.
		if _, err := decodeColumnDefinition(payload); err != nil {
			c.handleFatalDecodeError(err)
			return
		}
		c.remaining--
		if c.remaining == 0 {
			c.phase = phasePrepareAwaitingParamEOF
		}

	case phasePrepareAwaitingParamEOF:
		if payload[0] != packetEOF {
			c.handleFatalDecodeError(newProtocolError(0, "", "expected EOF after parameter definitions", 0))
			return
		}
		c.afterPrepareParamDefs()

	case phasePrepareAwaitingColumnDefs:
		def, err := decodeColumnDefinition(payload)
		if err != nil {
			c.handleFatalDecodeError(err)
			return
		}
		c.stmt.columnDefs = append(c.stmt.columnDefs, def.def)
		c.remaining--
		if c.remaining == 0 {
			c.phase = phasePrepareAwaitingColumnEOF
		}

	case phasePrepareAwaitingColumnEOF:
		if payload[0] != packetEOF {
			c.handleFatalDecodeError(newProtocolError(0, "", "expected EOF after column definitions", 0))
			return
		}
		c.sendExecute()

	case phaseAwaitingColumnDefs:
		def, err := decodeColumnDefinition(payload)
		if err != nil {
			c.handleFatalDecodeError(err)
			return
		}
		if c.acc.addColumn(def.def) {
			c.phase = phaseAwaitingColumnEOF
		}

	case phaseAwaitingColumnEOF:
		if payload[0] != packetEOF {
			c.handleFatalDecodeError(newProtocolError(0, "", "expected EOF after column definitions", 0))
			return
		}
		eof := decodeEOF(payload)
		c.statusFlags = eof.statusFlags
		c.warnings = eof.warnings
		c.acc.beginRows()
		c.phase = phaseAwaitingRows

	case phaseAwaitingRows:
		switch payload[0] {
		case packetEOF:
			eof := decodeEOF(payload)
			c.statusFlags = eof.statusFlags
			c.warnings = eof.warnings
			c.finishPossiblyPrepared(c.acc.finish(c.warnings, c.statusFlags))
		case packetERR:
			e := decodeErr(payload)
			c.closeStatement()
			c.completeQueryErr(newProtocolError(e.code, e.sqlState, e.message, 0))
		default:
			if c.binaryResult {
				c.acc.addBinaryRow(payload)
			} else {
				row := decodeTextRow(payload, len(c.acc.columns))
				c.acc.addTextRow(row.values)
			}
		}

	case phaseAwaitingInfileResult:
		switch payload[0] {
		case packetOK:
			ok := decodeOK(payload)
			if c.infileSavedErr != nil {
				c.completeQueryErr(c.infileSavedErr)
				return
			}
			c.completeQueryResult(queryResultFromOK(ok))
		case packetERR:
			e := decodeErr(payload)
			c.completeQueryErr(newProtocolError(e.code, e.sqlState, e.message, 0))
		default:
			c.handleFatalDecodeError(newProtocolError(0, "", "unexpected frame after LOCAL INFILE", 0))
		}
	}
}

func (c *Connection) handleFatalDecodeError(err error) {
	c.completeQueryErr(err)
	c.beginTeardown()
}

func (c *Connection) handleResultHeader(payload []byte) {
	switch payload[0] {
	case packetOK:
		ok := decodeOK(payload)
		c.finishPossiblyPrepared(queryResultFromOK(ok))
	case packetERR:
		e := decodeErr(payload)
		c.closeStatement()
		c.completeQueryErr(newProtocolError(e.code, e.sqlState, e.message, 0))
	case packetInfileReq:
		c.beginInfile(string(payload[1:]))
	default:
		columnCount, _ := getLenencInt(payload)
		c.binaryResult = c.phase == phaseExecuteAwaitingHeader
		c.acc = newResultAccumulator(int(columnCount), c.binaryResult)
		if columnCount > 0 {
			c.phase = phaseAwaitingColumnDefs
		} else {
			c.phase = phaseAwaitingColumnEOF
		}
	}
}

func (c *Connection) beginInfile(filename string) {
	data, err := c.infileHandler.Open(filename)
	c.infileSavedErr = err

	if err == nil {
		if frame, ferr := c.codec.encodeRaw(data); ferr != nil {
			c.infileSavedErr = ferr
		} else if werr := c.transport.writeFrame(frame); werr != nil {
			c.infileSavedErr = werr
		}
	}

	if empty, eerr := c.codec.encodeRaw(nil); eerr == nil {
		_ = c.transport.writeFrame(empty)
	}
	c.phase = phaseAwaitingInfileResult
}

func (c *Connection) handlePrepareOK(payload []byte) {
	switch payload[0] {
	case packetERR:
		e := decodeErr(payload)
		c.completeQueryErr(newProtocolError(e.code, e.sqlState, e.message, 0))
	case packetOK:
		msg := decodePrepareOK(payload)
		c.stmt = &preparedStatement{
			id:          msg.statementID,
			paramCount:  msg.paramCount,
			columnCount: msg.columnCount,
		}
		c.warnings = msg.warnings
		if msg.paramCount > 0 {
			c.remaining = int(msg.paramCount)
			c.phase = phasePrepareAwaitingParamDefs
		} else {
			c.afterPrepareParamDefs()
		}
	default:
		c.handleFatalDecodeError(newProtocolError(0, "", "unexpected frame after COM_STMT_PREPARE", 0))
	}
}

func (c *Connection) afterPrepareParamDefs() {
	if c.stmt.columnCount > 0 {
		c.remaining = int(c.stmt.columnCount)
		c.phase = phasePrepareAwaitingColumnDefs
	} else {
		c.sendExecute()
	}
}

func (c *Connection) sendExecute() {
	if len(c.stmtValues) != int(c.stmt.paramCount) {
		c.completeQueryErr(&InsufficientParameters{Expected: int(c.stmt.paramCount), Actual: len(c.stmtValues)})
		c.closeStatement()
		return
	}

	c.transport.resetSeqno()
	frame, err := c.codec.encodeStmtExecute(c.stmt.id, c.stmtValues)
	if err != nil {
		c.completeQueryErr(err)
		c.closeStatement()
		return
	}
	if err := c.transport.writeFrame(frame); err != nil {
		c.completeQueryErr(err)
		return
	}
	c.phase = phaseExecuteAwaitingHeader
}

// finishPossiblyPrepared completes the pending query with res, closing the
// server-side prepared statement handle first if this query came from
// send_prepared_statement.
func (c *Connection) finishPossiblyPrepared(res *QueryResult) {
	c.closeStatement()
	c.completeQueryResult(res)
}

func (c *Connection) closeStatement() {
	if c.stmt == nil {
		return
	}
	c.transport.resetSeqno()
	if frame, err := c.codec.encodeStmtClose(c.stmt.id); err == nil {
		_ = c.transport.writeFrame(frame)
	}
	c.stmt = nil
}

// -- completion helpers -------------------------------------------------

func (c *Connection) armTimeout(generation uint64) {
	c.timeout.cancel()
	if c.cfg.QueryTimeout > 0 {
		c.timeout.arm(c.cfg.QueryTimeout, generation, func(ev timeoutEvent) {
			c.events <- eventTimeout{generation: ev.generation}
		})
	}
}

func (c *Connection) completeQueryResult(res *QueryResult) {
	c.timeout.cancel()
	p := c.pending.Load()
	c.pending.Store(nil)
	c.querying.Store(false)
	c.phase = phaseNone
	c.acc = nil
	c.state = stateReady
	if p != nil {
		p.future.resolve(res, nil)
	}
	if c.metrics != nil {
		c.metrics.QueriesIssued.Inc()
	}
}

func (c *Connection) completeQueryErr(err error) {
	c.timeout.cancel()
	p := c.pending.Load()
	c.pending.Store(nil)
	c.querying.Store(false)
	c.phase = phaseNone
	c.acc = nil
	if c.state != stateClosed {
		c.state = stateReady
	}
	if p != nil {
		p.future.resolve(nil, err)
	}
	if c.metrics != nil {
		c.metrics.QueriesFailed.Inc()
	}
}

func (c *Connection) handleTimeout(generation uint64) {
	p := c.pending.Load()
	if p == nil || p.generation != generation || c.state != stateQuerying {
		return // stale fire; query already completed by other means
	}
	c.timedOut.Store(true)
	if c.metrics != nil {
		c.metrics.QueriesTimedOut.Inc()
	}
	c.pending.Store(nil)
	timeoutErr := &TimedOut{ConnectionID: c.id, After: c.timeout.elapsed()}
	p.future.resolve(nil, timeoutErr)
	c.setLastErr(timeoutErr)
	c.connected.Store(false)
	c.querying.Store(false)
	c.state = stateClosed
	c.beginTeardown()
}

// -- transport errors and teardown ---------------------------------------

func (c *Connection) handleTransportError(err error) {
	if c.state == stateClosed {
		return
	}
	c.setLastErr(err)

	if !c.connectFuture.Done() {
		c.connectFuture.resolve(nil, err)
	}
	if p := c.pending.Load(); p != nil {
		c.pending.Store(nil)
		p.future.resolve(nil, err)
	}
	c.timeout.cancel()
	c.querying.Store(false)
	c.connected.Store(false)
	c.state = stateClosed
	c.beginTeardown()
}

func (c *Connection) handleClose() {
	if c.state == stateClosed {
		return
	}

	if c.state == stateReady || c.state == stateQuerying {
		c.transport.resetSeqno()
		if frame, err := c.codec.encodeQuit(); err == nil {
			_ = c.transport.writeFrame(frame)
		}
	}

	if p := c.pending.Load(); p != nil {
		c.pending.Store(nil)
		p.future.resolve(nil, &errClosing{ConnectionID: c.id})
	}

	c.timeout.cancel()
	c.connected.Store(false)
	c.querying.Store(false)
	c.state = stateClosed
	if c.metrics != nil {
		c.metrics.ConnectionState.Set(float64(stateClosed))
	}
	c.beginTeardown()
}

// beginTeardown closes the transport and arranges for eventReaderDone to be
// delivered once the reader goroutine has fully unwound, so Close()'s
// future never resolves while a goroutine is still running. Safe to call
// more than once or before a transport exists.
func (c *Connection) beginTeardown() {
	if c.teardownStarted {
		return
	}
	c.teardownStarted = true
	if c.transport == nil {
		c.resolveClose()
		return
	}
	_ = c.transport.close()
	go func() {
		c.transport.stop()
		c.events <- eventReaderDone{}
	}()
}

func (c *Connection) resolveClose() {
	if c.closeResolved {
		return
	}
	c.closeResolved = true
	var err error
	if b := c.lastErr.Load(); b != nil {
		err = b.err
	}
	c.closeFuture.resolve(c, err)
	close(c.events)
}

func (c *Connection) setLastErr(err error) {
	c.lastErr.Store(&errBox{err: err})
}
