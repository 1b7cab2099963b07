package mysqlnio

import (
	"context"
	"strings"
	"sync/atomic"
)

// Connect dials the server and runs the handshake. It is safe to call more
// than once; every call after the first returns the same future without
// re-dialing, per spec §4.1's "Connect is idempotent once issued" framing.
func (c *Connection) Connect(ctx context.Context) (*Connection, error) {
	if c.connectStarted.CompareAndSwap(false, true) {
		c.events <- eventConnect{}
	}
	return c.connectFuture.Get(ctx)
}

// Close sends COM_QUIT (if connected), tears down the transport, and waits
// for the reader goroutine to fully unwind before returning -- no goroutine
// is left running against a Closed connection. Safe to call more than once.
func (c *Connection) Close(ctx context.Context) error {
	// Once the close future has resolved, the run loop has exited and closed
	// its event channel, so there is nothing left to send.
	if !c.closeFuture.Done() && c.closeStarted.CompareAndSwap(false, true) {
		c.events <- eventClose{}
	}
	_, err := c.closeFuture.Get(ctx)
	return err
}

// Disconnect is an alias for Close, matching the terminology used elsewhere
// in spec §4.1 (connect-future / disconnect-future).
func (c *Connection) Disconnect(ctx context.Context) error {
	return c.Close(ctx)
}

// SendQuery issues a COM_QUERY and returns a future for its result. It
// rejects synchronously, before any network I/O, if a query is already in
// flight on this connection (ConnectionStillRunningQuery) or if the
// connection is not Ready (NotConnected) -- spec §4.1's single-slot
// pending-query contract, realized via a compare-and-swap on c.pending.
func (c *Connection) SendQuery(sql string) (*Future[*QueryResult], error) {
	future := NewFuture[*QueryResult]()
	p := &pendingQuery{future: future, generation: c.nextGeneration()}

	if !c.connected.Load() {
		return nil, &NotConnected{ConnectionID: c.id}
	}
	if !c.pending.CompareAndSwap(nil, p) {
		return nil, &ConnectionStillRunningQuery{ConnectionID: c.id, RaceLost: true}
	}

	c.events <- eventSendQuery{sql: sql, p: p}
	return future, nil
}

// SendPreparedStatement issues a COM_STMT_PREPARE/EXECUTE/CLOSE sequence
// for sql bound to values, returning a future for its result.
//
// Placeholder validation is deliberately naive: it counts every '?' byte in
// sql, including ones that appear inside string literals or comments, and
// rejects synchronously (InsufficientParameters) if that count does not
// match len(values). This mirrors the naive approach used throughout the
// wire layer (see wire.go's lenenc helpers) rather than parsing SQL.
func (c *Connection) SendPreparedStatement(sql string, values []interface{}) (*Future[*QueryResult], error) {
	if n := strings.Count(sql, "?"); n != len(values) {
		return nil, &InsufficientParameters{Expected: n, Actual: len(values)}
	}

	future := NewFuture[*QueryResult]()
	p := &pendingQuery{future: future, generation: c.nextGeneration()}

	if !c.connected.Load() {
		return nil, &NotConnected{ConnectionID: c.id}
	}
	if !c.pending.CompareAndSwap(nil, p) {
		return nil, &ConnectionStillRunningQuery{ConnectionID: c.id, RaceLost: true}
	}

	c.events <- eventSendPrepared{sql: sql, values: values, p: p}
	return future, nil
}

// InTransaction runs body bracketed by BEGIN/COMMIT, rolling back instead of
// committing if body returns an error. Nested calls are not supported: the
// inner BEGIN would be sent while the outer transaction's connection is
// already mid-transaction, which is left undefined by spec §4.7.
func (c *Connection) InTransaction(ctx context.Context, body func() error) error {
	if _, err := c.query(ctx, "BEGIN"); err != nil {
		return err
	}

	if err := body(); err != nil {
		if _, rerr := c.query(ctx, "ROLLBACK"); rerr != nil {
			return rerr
		}
		return err
	}

	if _, err := c.query(ctx, "COMMIT"); err != nil {
		return err
	}
	return nil
}

func (c *Connection) query(ctx context.Context, sql string) (*QueryResult, error) {
	future, err := c.SendQuery(sql)
	if err != nil {
		return nil, err
	}
	return future.Get(ctx)
}

// IsConnected reports whether the connection is currently Ready or
// Querying.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// IsQuerying reports whether a query is currently in flight.
func (c *Connection) IsQuerying() bool { return c.querying.Load() }

// IsTimeout reports whether the most recent query attempt timed out. It is
// reset the next time a query is sent.
func (c *Connection) IsTimeout() bool { return c.timedOut.Load() }

// Version returns the server's parsed version, valid once Connect has
// resolved successfully.
func (c *Connection) Version() ServerVersion {
	if v := c.version.Load(); v != nil {
		return *v
	}
	return ServerVersion{}
}

// LastError returns the most recent error observed on this connection, or
// nil if none has occurred.
func (c *Connection) LastError() error {
	if b := c.lastErr.Load(); b != nil {
		return b.err
	}
	return nil
}

// ID returns the connection's diagnostic identifier, used in error messages
// and log fields.
func (c *Connection) ID() string { return c.id }

var generationCounter uint64

func (c *Connection) nextGeneration() uint64 {
	return atomic.AddUint64(&generationCounter, 1)
}
