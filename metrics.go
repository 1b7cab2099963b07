package mysqlnio

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the client-side instrumentation surface for a Connection, new
// domain-stack wiring per SPEC_FULL.md -- the teacher has no metrics layer
// at all, so this is grounded on the rest of the retrieval pack's use of
// github.com/prometheus/client_golang for exactly this kind of client
// instrumentation (connection/pool gauges, operation counters).
type Metrics struct {
	QueriesIssued   prometheus.Counter
	QueriesTimedOut prometheus.Counter
	QueriesFailed   prometheus.Counter
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter
	ConnectionState prometheus.Gauge
}

// NewMetrics constructs a Metrics registered under the given registerer. A
// nil registerer is valid and simply skips registration, so tests and
// short-lived connections are not forced to carry a global registry.
func NewMetrics(reg prometheus.Registerer, connectionID string) *Metrics {
	labels := prometheus.Labels{"connection_id": connectionID}

	m := &Metrics{
		QueriesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysqlnio_queries_issued_total",
			Help:        "Total number of queries on this connection that completed successfully.",
			ConstLabels: labels,
		}),
		QueriesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysqlnio_queries_timed_out_total",
			Help:        "Total number of queries that exceeded their deadline.",
			ConstLabels: labels,
		}),
		QueriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysqlnio_queries_failed_total",
			Help:        "Total number of queries that failed with a server error or a client-side encode, write or decode error; timeouts, read-side transport failures and queries cut off by Close are not counted.",
			ConstLabels: labels,
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysqlnio_bytes_read_total",
			Help:        "Total bytes read from the server.",
			ConstLabels: labels,
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mysqlnio_bytes_written_total",
			Help:        "Registered for bytes written to the server; Connection does not increment it.",
			ConstLabels: labels,
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mysqlnio_connection_state",
			Help:        "Connection state as the connState enum value, set when the handshake completes and when Close runs; other transitions do not update it.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.QueriesIssued, m.QueriesTimedOut, m.QueriesFailed,
			m.BytesRead, m.BytesWritten, m.ConnectionState)
	}
	return m
}
