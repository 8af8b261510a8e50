// Package quic carries relay sessions over QUIC. Each connection holds one
// bidirectional stream, exposed as a net.Conn so the session layer can use
// it in place of TCP.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

// DefaultIdleTimeout keeps idle relay connections open long enough for
// sparse traffic.
const DefaultIdleTimeout = 60 * time.Second

func defaultConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultIdleTimeout / 3,
	}
}

type Listener struct {
	inner *q.Listener
}

// Listen accepts QUIC connections on a UDP address.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := q.ListenAddr(addr, tlsConf, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

// Accept waits for a connection and its first stream.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, err
	}
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, err
	}
	return &streamConn{Stream: st, conn: conn}, nil
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

// Dialer opens relay connections. DialContext matches session.DialFunc.
type Dialer struct {
	TLSConfig *tls.Config
	Config    *q.Config
}

func (d *Dialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	conf := d.Config
	if conf == nil {
		conf = defaultConfig()
	}
	conn, err := q.DialAddr(ctx, addr, d.TLSConfig, conf)
	if err != nil {
		return nil, err
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, err
	}
	return &streamConn{Stream: st, conn: conn}, nil
}

// Dial opens a relay connection with tlsConf.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (net.Conn, error) {
	d := Dialer{TLSConfig: tlsConf}
	return d.DialContext(ctx, "udp", addr)
}

// streamConn is one QUIC stream standing in for a TCP connection.
type streamConn struct {
	*q.Stream
	conn *q.Conn
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close ends the stream and the connection under it.
func (c *streamConn) Close() error {
	c.Stream.CancelRead(0)
	c.Stream.Close()
	return c.conn.CloseWithError(0, "")
}

var _ net.Conn = (*streamConn)(nil)
