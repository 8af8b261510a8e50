package securechan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// pollInterval bounds a non-blocking read on conns without a raw fd.
	pollInterval = time.Millisecond

	closeFlushTimeout = 100 * time.Millisecond
)

// Stream is a secure channel over one connection. One goroutine may read
// while another writes; Close is safe from any goroutine.
type Stream struct {
	conn  net.Conn
	layer Layer

	// rmu serializes socket reads between the reading goroutine and the
	// readiness pump.
	rmu         sync.Mutex
	buf         Buffer
	rerr        error
	pump        *pump
	established bool

	wmu  sync.Mutex
	wbuf []byte

	readyOnce sync.Once
	ready     chan struct{}
	wantPump  atomic.Bool

	sent     atomic.Uint64
	received atomic.Uint64
	closed   atomic.Bool
	done     chan struct{}
}

// NewStream wraps conn. The layer must not have been used before.
func NewStream(conn net.Conn, layer Layer) *Stream {
	if layer == nil {
		layer = PlainLayer{}
	}
	return &Stream{conn: conn, layer: layer, done: make(chan struct{})}
}

// Establish runs the layer handshake. On failure the connection is closed.
func (s *Stream) Establish(ctx context.Context, host string) error {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if s.established {
		return nil
	}
	if err := s.layer.Handshake(ctx, &countedConn{Conn: s.conn, s: s}, host); err != nil {
		s.Close()
		return err
	}
	s.established = true
	return nil
}

// Buffer exposes the receive buffer to the reading goroutine.
func (s *Stream) Buffer() *Buffer { return &s.buf }

// Layer returns the record layer.
func (s *Stream) Layer() Layer { return s.layer }

// Sent is the number of bytes written to the socket.
func (s *Stream) Sent() uint64 { return s.sent.Load() }

// Received is the number of bytes read from the socket.
func (s *Stream) Received() uint64 { return s.received.Load() }

// Write protects p and writes all of it.
func (s *Stream) Write(p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	max := s.layer.MaxMessageSize()
	for len(p) > 0 {
		unit := p
		if len(unit) > max {
			unit = unit[:max]
		}
		var err error
		s.wbuf, err = s.layer.Encrypt(s.wbuf[:0], unit)
		if err != nil {
			return err
		}
		if err := s.writeAll(s.wbuf); err != nil {
			return err
		}
		p = p[len(unit):]
	}
	return nil
}

func (s *Stream) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := s.conn.Write(b)
		s.sent.Add(uint64(n))
		if err != nil {
			return s.closedError(err)
		}
		b = b[n:]
	}
	return nil
}

// Read decrypts what is buffered and, if that yields no plaintext, reads
// the socket once. With wait unset the read never blocks. progress reports
// whether bytes arrived or plaintext grew.
func (s *Stream) Read(wait bool) (progress bool, err error) {
	s.rmu.Lock()
	defer s.unlockRead()
	if s.closed.Load() {
		return false, ErrClosed
	}
	before := s.buf.size
	if err := s.decrypt(); err != nil {
		return false, err
	}
	if s.buf.size > before {
		return true, nil
	}
	if s.rerr != nil {
		return false, s.rerr
	}
	free := s.buf.Free()
	if len(free) == 0 {
		return false, ErrOversized
	}

	n, err := s.fill(free, wait)
	if n > 0 {
		s.buf.Grow(n)
		if derr := s.decrypt(); derr != nil {
			return true, derr
		}
	}
	if err != nil {
		if n > 0 {
			s.rerr = err
			return true, nil
		}
		return false, err
	}
	return n > 0, nil
}

// WaitReadable blocks until at least one byte has been buffered or ctx is
// done. Whatever arrives is kept for the next Read.
func (s *Stream) WaitReadable(ctx context.Context) error {
	s.rmu.Lock()
	defer s.unlockRead()
	if s.closed.Load() {
		return ErrClosed
	}
	if s.rerr != nil {
		return s.rerr
	}
	free := s.buf.Free()
	if len(free) == 0 {
		return ErrOversized
	}

	var n int
	var err error
	if s.pump != nil {
		if err := s.pump.wait(ctx); err != nil {
			return err
		}
		n, err = s.pump.take(free, false)
	} else {
		n, err = s.readContext(ctx, free)
	}
	if n > 0 {
		s.buf.Grow(n)
		if derr := s.decrypt(); derr != nil {
			return derr
		}
		if err != nil {
			s.rerr = err
		}
		return nil
	}
	return err
}

func (s *Stream) readContext(ctx context.Context, p []byte) (int, error) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Unix(1, 0))
		close(fired)
	})
	n, err := s.conn.Read(p)
	if !stop() {
		<-fired
		s.conn.SetReadDeadline(time.Time{})
		if err != nil && isTimeout(err) {
			err = ctx.Err()
		}
	}
	if n > 0 {
		s.received.Add(uint64(n))
	}
	if err != nil && !errors.Is(err, ctx.Err()) {
		err = s.closedError(err)
	}
	return n, err
}

func (s *Stream) fill(p []byte, wait bool) (int, error) {
	if s.pump != nil {
		return s.pump.take(p, wait)
	}
	var n int
	var err error
	if wait {
		n, err = s.conn.Read(p)
	} else {
		n, err = readNonblocking(s.conn, p)
	}
	if n > 0 {
		s.received.Add(uint64(n))
	}
	if err != nil {
		err = s.closedError(err)
	}
	return n, err
}

func (s *Stream) decrypt() error {
	pending := s.buf.received - s.buf.size
	if pending == 0 {
		return nil
	}
	if !s.established {
		return ErrNotEstablished
	}
	plain, used, err := s.layer.Decrypt(s.buf.data[s.buf.size:], pending)
	if cerr := s.buf.commit(plain, used); cerr != nil {
		return cerr
	}
	s.flushLayer()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		s.rerr = fmt.Errorf("%w: %w", ErrClosed, err)
		if plain > 0 {
			return nil
		}
		return s.rerr
	default:
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
}

// flushLayer sends output the layer queued while decrypting. It gives up
// when a writer holds the lock; that writer's next Encrypt carries it.
func (s *Stream) flushLayer() {
	if !s.wmu.TryLock() {
		return
	}
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return
	}
	var err error
	s.wbuf, err = s.layer.Encrypt(s.wbuf[:0], nil)
	if err == nil && len(s.wbuf) > 0 {
		s.writeAll(s.wbuf)
	}
}

func (s *Stream) closedError(err error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// Close tears down the layer and the connection. Later calls return
// ErrClosed.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.done)
	lerr := s.layer.Close()
	if s.wmu.TryLock() {
		var err error
		s.wbuf, err = s.layer.Encrypt(s.wbuf[:0], nil)
		if err == nil && len(s.wbuf) > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
			s.conn.Write(s.wbuf)
		}
		s.wmu.Unlock()
	}
	if err := s.conn.Close(); err != nil {
		return err
	}
	if lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		return lerr
	}
	return nil
}

// Readable returns a channel that receives a value when bytes have been
// buffered since the last signal. The first call starts a goroutine that
// owns all further socket reads; the channel also fires once up front so
// nothing already buffered is missed.
func (s *Stream) Readable() <-chan struct{} {
	s.readyOnce.Do(func() {
		s.ready = make(chan struct{}, 1)
		s.ready <- struct{}{}
		s.wantPump.Store(true)
	})
	if s.rmu.TryLock() {
		s.unlockRead()
	}
	return s.ready
}

func (s *Stream) unlockRead() {
	if s.pump == nil && s.wantPump.Load() && s.established && !s.closed.Load() {
		s.pump = newPump()
		go s.pump.run(s)
	}
	s.rmu.Unlock()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readWithDeadline is the portable non-blocking read.
func readWithDeadline(conn net.Conn, p []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	conn.SetReadDeadline(time.Time{})
	if err != nil && isTimeout(err) {
		err = nil
	}
	return n, err
}

// countedConn counts handshake traffic.
type countedConn struct {
	net.Conn
	s *Stream
}

func (c *countedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.s.received.Add(uint64(n))
	return n, err
}

func (c *countedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.s.sent.Add(uint64(n))
	return n, err
}
