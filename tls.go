package mysqlnio

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/pkg/errors"
)

// upgradeTLS wraps conn in a TLS client connection, adapted from the
// teacher's ssl.go sslConnect. Unlike the teacher -- which always requires
// both a client certificate and key -- this driver gates the upgrade behind
// Config.SSL (spec's supplemented SSL policy: disable/prefer/require) and
// tolerates a certificate-less setup, since "prefer" should not fail a
// connection to a server with no client-cert requirement.
func upgradeTLS(conn net.Conn, cfg *Config) (net.Conn, error) {
	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
	}

	if cfg.SSLCA != "" {
		pemCerts, err := os.ReadFile(cfg.SSLCA)
		if err != nil {
			return nil, errors.Wrap(err, "mysqlnio: reading sslCA")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemCerts) {
			return nil, errors.New("mysqlnio: sslCA contains no usable certificates")
		}
		tlsConfig.RootCAs = pool
	} else {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return nil, errors.Wrap(err, "mysqlnio: loading client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return nil, errors.Wrap(err, "mysqlnio: TLS handshake")
	}
	return tlsConn, nil
}
