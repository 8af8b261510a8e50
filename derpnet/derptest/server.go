// Package derptest runs an in-process relay for tests and examples. It
// speaks the relay side of the protocol over plain TCP, TLS or QUIC and
// routes SendPacket frames to the addressed client. Relay-side crypto uses
// golang.org/x/crypto/nacl/box, independently of derpnet/crypto.
package derptest

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/nacl/box"

	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/protocol"
	"github.com/TheusHen/derpnet/derpnet/transport/quic"
)

var ErrServerClosed = errors.New("derptest: server closed")

// Server is a single-node relay.
type Server struct {
	priv   key.Private
	pub    key.Public
	logger *slog.Logger

	// Info is sealed into every ServerInfo frame.
	Info protocol.ServerInfo

	mu        sync.Mutex
	clients   map[key.Public]*client
	listeners []io.Closer
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

type client struct {
	key  key.Public
	conn net.Conn
	wmu  sync.Mutex
}

func (c *client) writeFrame(t protocol.FrameType, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, t, payload)
}

// NewServer creates a relay with a fresh key. A nil logger discards.
func NewServer(logger *slog.Logger) (*Server, error) {
	priv, err := key.NewPrivate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		priv:    priv,
		pub:     priv.Public(),
		logger:  logger,
		Info:    protocol.ServerInfo{Version: protocol.ProtocolVersion},
		clients: make(map[key.Public]*client),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// PublicKey is the key announced in ServerKey frames.
func (s *Server) PublicKey() key.Public { return s.pub }

// Forwarded counts packets delivered to a connected client.
func (s *Server) Forwarded() uint64 { return s.forwarded.Load() }

// Dropped counts packets addressed to unknown clients.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Connected reports whether a client with k has completed the handshake.
func (s *Server) Connected(k key.Public) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[k]
	return ok
}

// Inject writes a raw frame to a connected client.
func (s *Server) Inject(k key.Public, t protocol.FrameType, payload []byte) error {
	s.mu.Lock()
	c := s.clients[k]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("derptest: %s not connected", k.ShortString())
	}
	return c.writeFrame(t, payload)
}

func (s *Server) track(c io.Closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, c)
	return nil
}

// Serve accepts connections from ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.track(ln); err != nil {
		return err
	}
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ListenTCP serves plain relay connections and returns the bound address.
func (s *Server) ListenTCP(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	if err := s.track(ln); err != nil {
		return "", err
	}
	go s.serve(ln)
	return ln.Addr().String(), nil
}

// ListenTLS serves TLS relay connections with a self-signed certificate for
// hosts. Clients must trust the returned pool.
func (s *Server) ListenTLS(addr string, hosts ...string) (string, *x509.CertPool, error) {
	cert, pool, err := quic.SelfSignedCertificate(hosts...)
	if err != nil {
		return "", nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	if err := s.track(ln); err != nil {
		return "", nil, err
	}
	go s.serve(tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}}))
	return ln.Addr().String(), pool, nil
}

// ListenQUIC serves relay connections over QUIC streams.
func (s *Server) ListenQUIC(addr string, hosts ...string) (string, *x509.CertPool, error) {
	cert, pool, err := quic.SelfSignedCertificate(hosts...)
	if err != nil {
		return "", nil, err
	}
	ln, err := quic.Listen(addr, quic.NewServerTLSConfig(cert))
	if err != nil {
		return "", nil, err
	}
	if err := s.track(ln); err != nil {
		return "", nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept(context.Background())
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.ServeConn(conn)
			}()
		}
	}()
	return ln.AddrString(), pool, nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops all listeners and connections and waits for them to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	for _, l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// ServeConn runs the relay protocol on one connection until it fails.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	c, br, err := s.accept(conn)
	if err != nil {
		s.logger.Debug("relay handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	defer s.unregister(c)
	s.logger.Info("client connected", "key", c.key.ShortString())

	for {
		f, err := protocol.ReadFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.logger.Debug("client read failed", "key", c.key.ShortString(), "err", err)
			}
			return
		}
		switch f.Type {
		case protocol.FrameSendPacket:
			s.forward(c, f.Payload)
		case protocol.FramePing:
			c.writeFrame(protocol.FramePong, f.Payload)
		default:
			s.logger.Debug("frame ignored", "type", f.Type)
		}
	}
}

func (s *Server) accept(conn net.Conn) (*client, *bufio.Reader, error) {
	br := bufio.NewReader(conn)
	if _, err := protocol.ReadUpgradeRequest(br); err != nil {
		return nil, nil, err
	}
	c := &client{conn: conn}
	if err := c.writeFrame(protocol.FrameServerKey, protocol.AppendServerKey(nil, s.pub)); err != nil {
		return nil, nil, err
	}

	f, err := protocol.ReadFrame(br)
	if err != nil {
		return nil, nil, err
	}
	if f.Type != protocol.FrameClientInfo {
		return nil, nil, fmt.Errorf("%w: %v", protocol.ErrUnexpectedType, f.Type)
	}
	clientKey, sealed, err := protocol.ParseClientInfo(f.Payload)
	if err != nil {
		return nil, nil, err
	}
	var shared [32]byte
	box.Precompute(&shared, clientKey.Raw32(), s.priv.Raw32())
	body, err := openSealed(sealed, &shared)
	if err != nil {
		return nil, nil, err
	}
	if _, err := protocol.DecodeClientInfo(body); err != nil {
		return nil, nil, err
	}
	c.key = clientKey

	info, err := protocol.EncodeServerInfo(s.Info)
	if err != nil {
		return nil, nil, err
	}
	out, err := seal(info, &shared)
	if err != nil {
		return nil, nil, err
	}
	// Registered first so packets sent as soon as the client is ready are
	// not dropped.
	s.register(c)
	if err := c.writeFrame(protocol.FrameServerInfo, out); err != nil {
		s.unregister(c)
		return nil, nil, err
	}
	return c, br, nil
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.clients[c.key]; ok {
		old.conn.Close()
	}
	s.clients[c.key] = c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.key] == c {
		delete(s.clients, c.key)
	}
}

func (s *Server) forward(from *client, payload []byte) {
	dst, sealed, err := protocol.SplitPacket(payload)
	if err != nil {
		s.logger.Debug("short send packet", "from", from.key.ShortString(), "len", len(payload))
		return
	}
	s.mu.Lock()
	to := s.clients[dst]
	s.mu.Unlock()
	if to == nil {
		s.dropped.Add(1)
		s.logger.Debug("no such peer", "dst", dst.ShortString())
		return
	}
	out := protocol.AppendPacketHeader(make([]byte, 0, len(payload)), from.key)
	out = append(out, sealed...)
	if err := to.writeFrame(protocol.FrameRecvPacket, out); err != nil {
		s.logger.Debug("forward failed", "dst", dst.ShortString(), "err", err)
		return
	}
	s.forwarded.Add(1)
}

// seal returns nonce || tag || ciphertext.
func seal(msg []byte, shared *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return box.SealAfterPrecomputation(nonce[:], msg, &nonce, shared), nil
}

var errOpen = errors.New("derptest: sealed box did not open")

func openSealed(sealed []byte, shared *[32]byte) ([]byte, error) {
	if len(sealed) < 24+box.Overhead {
		return nil, errOpen
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := box.OpenAfterPrecomputation(nil, sealed[24:], &nonce, shared)
	if !ok {
		return nil, errOpen
	}
	return out, nil
}
