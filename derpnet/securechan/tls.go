package securechan

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	recordHeaderLen = 5
	// maxRecordBody is the largest ciphertext body crypto/tls accepts.
	maxRecordBody = 16384 + 2048
	maxPlaintext  = 16384
)

// RecordReserve is the buffer space a frame writer leaves unused. The TLS
// record holding a frame's last byte may also carry up to a full record of
// whatever follows, and it is decrypted in place, so a frame of at most
// BufferSize-RecordReserve bytes is always readable.
const RecordReserve = recordHeaderLen + maxRecordBody

// TLSLayer runs crypto/tls over a Stream's buffer. During the handshake it
// reads the socket one record at a time so that no post-handshake bytes are
// swallowed; afterwards records are fed to crypto/tls from the buffer.
type TLSLayer struct {
	config *tls.Config
	shim   *recordConn
	conn   *tls.Conn
}

// NewTLSLayer returns a layer using a clone of config. A nil config means
// system roots with the handshake host as server name.
func NewTLSLayer(config *tls.Config) *TLSLayer {
	if config == nil {
		config = &tls.Config{}
	}
	return &TLSLayer{config: config.Clone()}
}

func (l *TLSLayer) Handshake(ctx context.Context, conn net.Conn, host string) error {
	cfg := l.config
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		cfg.MinVersion = tls.VersionTLS12
	}
	l.shim = &recordConn{conn: conn}
	l.conn = tls.Client(l.shim, cfg)
	if err := l.conn.HandshakeContext(ctx); err != nil {
		return err
	}
	l.shim.detach()
	return nil
}

func (l *TLSLayer) MaxMessageSize() int { return maxPlaintext }

// ConnectionState exposes the negotiated parameters.
func (l *TLSLayer) ConnectionState() tls.ConnectionState {
	if l.conn == nil {
		return tls.ConnectionState{}
	}
	return l.conn.ConnectionState()
}

func (l *TLSLayer) Encrypt(dst, p []byte) ([]byte, error) {
	if l.conn == nil {
		return dst, ErrNotEstablished
	}
	if len(p) > 0 {
		if _, err := l.conn.Write(p); err != nil {
			return dst, err
		}
	}
	return l.shim.drain(dst), nil
}

func (l *TLSLayer) Decrypt(window []byte, n int) (int, int, error) {
	if l.conn == nil {
		return 0, 0, ErrNotEstablished
	}
	used := 0
	for n-used >= recordHeaderLen {
		body := int(binary.BigEndian.Uint16(window[used+3 : used+5]))
		if body > maxRecordBody {
			return 0, 0, fmt.Errorf("%w: record body %d bytes", ErrCorrupt, body)
		}
		if n-used < recordHeaderLen+body {
			break
		}
		used += recordHeaderLen + body
	}
	if used == 0 {
		return 0, 0, nil
	}

	// The records are copied out, so plaintext may overwrite them in place.
	l.shim.feed(window[:used])
	plain := 0
	var err error
	for plain < used {
		var m int
		m, err = l.conn.Read(window[plain:used])
		plain += m
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				err = nil
			}
			break
		}
	}
	copy(window[plain:], window[used:n])
	return plain, used, err
}

func (l *TLSLayer) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

var errWouldBlock = wouldBlockError{}

// wouldBlockError is temporary so crypto/tls keeps the connection usable.
type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "securechan: no buffered record" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

// recordConn is the net.Conn crypto/tls sees. While attached it reads the
// real socket without crossing a record boundary. Once detached it serves
// records handed over by Decrypt and queues writes for Encrypt.
type recordConn struct {
	conn     net.Conn
	detached bool

	hdr     [recordHeaderLen]byte
	hdrN    int
	body    int
	inbound int

	in []byte

	mu  sync.Mutex
	out []byte
}

func (c *recordConn) detach() {
	c.detached = true
	c.in = c.in[:0]
}

func (c *recordConn) feed(records []byte) {
	c.in = append(c.in[:0], records...)
}

func (c *recordConn) drain(dst []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst = append(dst, c.out...)
	c.out = c.out[:0]
	return dst
}

func (c *recordConn) Read(p []byte) (int, error) {
	if c.detached {
		if len(c.in) == 0 {
			return 0, errWouldBlock
		}
		n := copy(p, c.in)
		c.in = c.in[n:]
		return n, nil
	}
	return c.readRecordBounded(p)
}

func (c *recordConn) readRecordBounded(p []byte) (int, error) {
	if c.inbound >= BufferSize {
		return 0, fmt.Errorf("%w: handshake flight over %d bytes", ErrOversized, BufferSize)
	}
	if c.hdrN < recordHeaderLen {
		if want := recordHeaderLen - c.hdrN; len(p) > want {
			p = p[:want]
		}
		n, err := c.conn.Read(p)
		copy(c.hdr[c.hdrN:], p[:n])
		c.hdrN += n
		c.inbound += n
		if c.hdrN == recordHeaderLen {
			c.body = int(binary.BigEndian.Uint16(c.hdr[3:]))
			if c.body == 0 {
				c.hdrN = 0
			}
		}
		return n, err
	}
	if len(p) > c.body {
		p = p[:c.body]
	}
	n, err := c.conn.Read(p)
	c.body -= n
	c.inbound += n
	if c.body == 0 {
		c.hdrN = 0
	}
	return n, err
}

func (c *recordConn) Write(p []byte) (int, error) {
	if c.detached {
		c.mu.Lock()
		c.out = append(c.out, p...)
		c.mu.Unlock()
		return len(p), nil
	}
	c.inbound = 0
	return c.conn.Write(p)
}

// Close only reaches the socket during the handshake, which is how a
// cancelled HandshakeContext interrupts it. The Stream owns the socket
// afterwards.
func (c *recordConn) Close() error {
	if c.detached {
		return nil
	}
	return c.conn.Close()
}

func (c *recordConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *recordConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *recordConn) SetDeadline(t time.Time) error {
	if c.detached {
		return nil
	}
	return c.conn.SetDeadline(t)
}

func (c *recordConn) SetReadDeadline(t time.Time) error {
	if c.detached {
		return nil
	}
	return c.conn.SetReadDeadline(t)
}

func (c *recordConn) SetWriteDeadline(t time.Time) error {
	if c.detached {
		return nil
	}
	return c.conn.SetWriteDeadline(t)
}

var _ net.Conn = (*recordConn)(nil)
