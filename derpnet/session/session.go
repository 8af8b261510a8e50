package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheusHen/derpnet/derpnet/crypto"
	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/protocol"
	"github.com/TheusHen/derpnet/derpnet/securechan"
)

// MaxPayload is the largest plaintext one packet can carry. Any receiver
// can read a packet of this size whatever its transport.
const MaxPayload = MaxWriteFrameSize - protocol.HeaderSize - protocol.PacketOverhead

// State is the session lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateServerKeyWait
	StateClientInfoSent
	StateServerInfoWait
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateServerKeyWait:
		return "server-key-wait"
	case StateClientInfoSent:
		return "client-info-sent"
	case StateServerInfoWait:
		return "server-info-wait"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Handshaking reports whether s is one of the handshake states.
func (s State) Handshaking() bool {
	return s >= StateServerKeyWait && s <= StateServerInfoWait
}

// Packet is an authenticated datagram. Payload aliases the receive buffer
// and is only valid until the next Recv.
type Packet struct {
	Source  key.Public
	Payload []byte
}

// Stats are raw socket byte counts plus dropped packets.
type Stats struct {
	Sent         uint64
	Received     uint64
	AuthFailures uint64
}

// Session is a client connection to one relay.
//
// Send and Recv may run on different goroutines; each side keeps its own
// key cache. Close may be called from anywhere and unblocks a waiting Recv.
type Session struct {
	host   string
	stream *securechan.Stream
	codec  *FrameCodec
	logger *slog.Logger
	rand   io.Reader

	priv       key.Private
	pub        key.Public
	serverKey  key.Public
	serverInfo protocol.ServerInfo

	sendKeys *crypto.KeyCache

	rmu      sync.Mutex
	recvKeys *crypto.KeyCache

	state        atomic.Int32
	authFailures atomic.Uint64
}

// Open connects to host, runs the relay handshake and returns a ready
// session. host is a bare name or address; the port comes from options.
func Open(ctx context.Context, host string, priv key.Private, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if priv.IsZero() {
		return nil, fmt.Errorf("%w: zero private key", ErrHandshakeFailed)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(o.relayPort()))
	conn, err := o.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrHandshakeFailed, addr, err)
	}

	var layer securechan.Layer = securechan.PlainLayer{}
	if !o.plain {
		layer = securechan.NewTLSLayer(o.tlsConfig)
	}
	s := newSession(conn, layer, host, priv, &o)
	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
	if err := s.handshake(ctx); err != nil {
		s.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})
	return s, nil
}

func newSession(conn net.Conn, layer securechan.Layer, host string, priv key.Private, o *options) *Session {
	stream := securechan.NewStream(conn, layer)
	logger := o.logger.With("relay", host)
	s := &Session{
		host:     host,
		stream:   stream,
		codec:    NewFrameCodec(stream, o.maxPollReads, logger),
		logger:   logger,
		rand:     o.rand,
		priv:     priv,
		pub:      priv.Public(),
		sendKeys: crypto.NewKeyCache(priv, o.keyCacheSize),
		recvKeys: crypto.NewKeyCache(priv, o.keyCacheSize),
	}
	s.setState(StateConnecting)
	return s
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Host returns the relay host name.
func (s *Session) Host() string { return s.host }

// PublicKey returns the client's public key.
func (s *Session) PublicKey() key.Public { return s.pub }

// ServerKey returns the relay's public key learned during the handshake.
func (s *Session) ServerKey() key.Public { return s.serverKey }

// ServerInfo returns what the relay announced. Fields it left out are zero.
func (s *Session) ServerInfo() protocol.ServerInfo { return s.serverInfo }

func (s *Session) Stats() Stats {
	return Stats{
		Sent:         s.stream.Sent(),
		Received:     s.stream.Received(),
		AuthFailures: s.authFailures.Load(),
	}
}

// Readable returns an edge-triggered channel that fires when bytes have
// arrived. After a signal, call Recv(false) until it returns ErrNoData.
// The first call starts a reader goroutine for the rest of the session.
func (s *Session) Readable() <-chan struct{} {
	return s.stream.Readable()
}

func (s *Session) checkReady() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	return fmt.Errorf("%w: session is %v", ErrHandshakeFailed, s.State())
}

func (s *Session) fail(err error) error {
	if err == nil {
		return nil
	}
	if s.State() == StateClosed {
		return ErrClosed
	}
	return err
}

// Send seals payload for dst and hands it to the relay.
func (s *Session) Send(dst key.Public, payload []byte) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	err := s.codec.WriteFrameFunc(protocol.FrameSendPacket, protocol.PacketOverhead+len(payload), func(b []byte) ([]byte, error) {
		shared, err := s.sendKeys.Get(dst.Raw32())
		if err != nil {
			return nil, fmt.Errorf("session: send to %s: %w", dst.ShortString(), err)
		}
		return crypto.SealBox(protocol.AppendPacketHeader(b, dst), s.rand, payload, shared)
	})
	return s.fail(err)
}

// SendEx is Send with a caller-supplied shared key and nonce. The caller
// must never reuse a nonce under the same key.
func (s *Session) SendEx(dst key.Public, shared *[32]byte, nonce *[crypto.NonceSize]byte, payload []byte) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	err := s.codec.WriteFrameFunc(protocol.FrameSendPacket, protocol.PacketOverhead+len(payload), func(b []byte) ([]byte, error) {
		return crypto.SealBoxWithNonce(protocol.AppendPacketHeader(b, dst), nonce, payload, shared), nil
	})
	return s.fail(err)
}

// Recv returns the next authenticated packet. Frames that carry no packet
// are skipped, as are packets that fail to authenticate. Without wait it
// returns ErrNoData once nothing complete is buffered.
func (s *Session) Recv(wait bool) (Packet, error) {
	s.rmu.Lock()
	defer s.unlockRecv()
	return s.recv(wait)
}

// RecvContext waits for a packet until ctx is done. An expired deadline
// returns ErrTimeout.
func (s *Session) RecvContext(ctx context.Context) (Packet, error) {
	s.rmu.Lock()
	defer s.unlockRecv()
	for {
		p, err := s.recv(false)
		if !errors.Is(err, ErrNoData) {
			return p, err
		}
		if err := s.stream.WaitReadable(ctx); err != nil {
			return Packet{}, s.fail(contextError(ctx, err))
		}
	}
}

func (s *Session) recv(wait bool) (Packet, error) {
	if err := s.checkReady(); err != nil {
		return Packet{}, err
	}
	for {
		f, err := s.codec.ReadFrame(wait)
		if errors.Is(err, ErrNoFrame) {
			return Packet{}, ErrNoData
		}
		if err != nil {
			return Packet{}, s.fail(err)
		}
		if p, ok := s.handleFrame(f); ok {
			return p, nil
		}
	}
}

func (s *Session) handleFrame(f protocol.Frame) (Packet, bool) {
	switch f.Type {
	case protocol.FrameRecvPacket:
		p, err := s.openPacket(f.Payload)
		if err != nil {
			return Packet{}, false
		}
		return p, true
	case protocol.FrameKeepAlive, protocol.FramePing, protocol.FramePeerGone,
		protocol.FramePeerPresent, protocol.FrameHealth, protocol.FrameRestarting:
		s.logger.Debug("relay frame ignored", "type", f.Type, "len", len(f.Payload))
	default:
		s.logger.Debug("unknown relay frame skipped", "type", uint8(f.Type), "len", len(f.Payload))
	}
	return Packet{}, false
}

func (s *Session) openPacket(payload []byte) (Packet, error) {
	src, box, err := protocol.SplitPacket(payload)
	if err != nil {
		s.logger.Warn("short packet dropped", "len", len(payload))
		return Packet{}, err
	}
	shared, err := s.recvKeys.Get(src.Raw32())
	if err == nil {
		var msg []byte
		if msg, err = crypto.OpenBoxInPlace(box, shared); err == nil {
			return Packet{Source: src, Payload: msg}, nil
		}
	}
	s.authFailures.Add(1)
	s.logger.Warn("packet dropped", "src", src.ShortString(), "err", err)
	return Packet{}, fmt.Errorf("%w: from %s: %w", ErrAuthenticationFailed, src.ShortString(), err)
}

func (s *Session) unlockRecv() {
	if s.State() == StateClosed {
		s.recvKeys.Wipe()
	}
	s.rmu.Unlock()
}

// Close shuts the connection and wipes key material. It returns ErrClosed
// if the session was already closed.
func (s *Session) Close() error {
	for {
		st := s.State()
		if st == StateClosed {
			return ErrClosed
		}
		if s.state.CompareAndSwap(int32(st), int32(StateClosed)) {
			break
		}
	}
	err := s.stream.Close()
	crypto.Wipe(s.priv[:])
	s.codec.withWriteLock(s.sendKeys.Wipe)
	// A Recv in flight wipes its cache when it returns.
	if s.rmu.TryLock() {
		s.unlockRecv()
	}
	if errors.Is(err, securechan.ErrClosed) {
		return nil
	}
	return err
}
