package mysqlnio

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DatabaseError is the base type of every user-facing error this driver
// returns. Concrete error values below all implement it.
type DatabaseError interface {
	error
	databaseError()
}

// ProtocolError is a native MySQL (errorCode, sqlState, message) triple
// reported by the server, either while connecting or while a query is in
// flight.
type ProtocolError struct {
	Code     uint16
	SQLState string
	Message  string
	Warnings uint16
	When     time.Time
	cause    error
}

func (e *ProtocolError) databaseError() {}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mysqlnio: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.cause }

func newProtocolError(code uint16, sqlState, message string, warnings uint16) *ProtocolError {
	return &ProtocolError{Code: code, SQLState: sqlState, Message: message, Warnings: warnings, When: time.Now()}
}

// ConnectionStillRunningQuery is returned synchronously by SendQuery /
// SendPreparedStatement when the pending-query slot is already occupied.
type ConnectionStillRunningQuery struct {
	ConnectionID string
	// RaceLost is always true as returned by SendQuery and
	// SendPreparedStatement: the slot is claimed with a single
	// compare-and-swap, so a slot that was already occupied and a race lost
	// against a concurrent caller are not told apart.
	RaceLost bool
}

func (e *ConnectionStillRunningQuery) databaseError() {}

func (e *ConnectionStillRunningQuery) Error() string {
	return fmt.Sprintf("mysqlnio: connection %s already has a query in flight", e.ConnectionID)
}

// InsufficientParameters is returned synchronously by SendPreparedStatement
// when the placeholder count does not match the supplied value count.
type InsufficientParameters struct {
	Expected int
	Actual   int
}

func (e *InsufficientParameters) databaseError() {}

func (e *InsufficientParameters) Error() string {
	return fmt.Sprintf("mysqlnio: expected %d parameter(s), got %d", e.Expected, e.Actual)
}

// NotConnected is returned when an operation is attempted on a connection
// that is not in the Ready state (never connected, still connecting, or
// already closed).
type NotConnected struct {
	ConnectionID string
}

func (e *NotConnected) databaseError() {}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("mysqlnio: connection %s is not connected", e.ConnectionID)
}

// BufferNotFullyConsumed is raised by the codec when a decoded message
// leaves unread bytes in its frame — a guard against silent protocol drift.
type BufferNotFullyConsumed struct {
	Remaining int
}

func (e *BufferNotFullyConsumed) databaseError() {}

func (e *BufferNotFullyConsumed) Error() string {
	return fmt.Sprintf("mysqlnio: %d byte(s) left unread in decoded frame", e.Remaining)
}

// TransportError wraps an underlying I/O failure from the Frame Transport.
type TransportError struct {
	cause error
}

func (e *TransportError) databaseError() {}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mysqlnio: transport error: %v", e.cause)
}

func (e *TransportError) Unwrap() error { return e.cause }

func newTransportError(cause error) *TransportError {
	return &TransportError{cause: errors.WithStack(cause)}
}

// TimedOut is returned when a query exceeds its configured deadline.
type TimedOut struct {
	ConnectionID string
	After        time.Duration
}

func (e *TimedOut) databaseError() {}

func (e *TimedOut) Error() string {
	return fmt.Sprintf("mysqlnio: connection %s timed out after %s", e.ConnectionID, e.After)
}

// errPacketsOutOfOrder is returned by the compressed read/write path when
// the server's packet sequence number does not match what was expected.
var errPacketsOutOfOrder = errors.New("mysqlnio: packets received out of order")

// errPacketTooLarge is returned when an outgoing frame, or an incoming packet
// on the compressed path, exceeds the configured maximum packet size.
var errPacketTooLarge = errors.New("mysqlnio: packet too large")

// errClosing is the sentinel failure value delivered to a pending query that
// is in flight when Close() is called.
type errClosing struct{ ConnectionID string }

func (e *errClosing) databaseError() {}

func (e *errClosing) Error() string {
	return fmt.Sprintf("mysqlnio: connection %s is being closed", e.ConnectionID)
}
