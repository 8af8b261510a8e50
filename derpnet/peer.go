package derpnet

import (
	"context"
	"sync"

	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/session"
	"github.com/TheusHen/derpnet/derpnet/transfer"
)

// GenerateKeyPair returns a fresh relay identity.
func GenerateKeyPair() (key.Private, key.Public, error) {
	priv, err := key.NewPrivate()
	if err != nil {
		return key.Private{}, key.Public{}, err
	}
	return priv, priv.Public(), nil
}

// GetPublicKey derives the public key of priv.
func GetPublicKey(priv key.Private) key.Public { return priv.Public() }

// Open connects to the relay at host and completes the DERP handshake.
func Open(ctx context.Context, host string, priv key.Private, opts ...session.Option) (*session.Session, error) {
	return session.Open(ctx, host, priv, opts...)
}

// Message is a reassembled message from another client of the relay.
type Message struct {
	Source key.Public
	Data   []byte
}

// PeerStats groups the counters of a Peer's layers.
type PeerStats struct {
	Session  session.Stats
	Sent     transfer.Stats
	Received transfer.Stats
}

// Peer sends and receives messages of any size up to the transfer limit
// over one relay session.
type Peer struct {
	sess   *session.Session
	sender *transfer.Sender
	asm    *transfer.Assembler
	mu     sync.Mutex
}

// NewPeer wraps an open session. The Peer owns sess from then on.
func NewPeer(sess *session.Session, cfg transfer.Config) *Peer {
	return &Peer{
		sess:   sess,
		sender: transfer.NewSender(sess, sess.PublicKey(), cfg),
		asm:    transfer.NewAssembler(cfg),
	}
}

// Dial opens a session to host and wraps it in a Peer.
func Dial(ctx context.Context, host string, priv key.Private, cfg transfer.Config, opts ...session.Option) (*Peer, error) {
	sess, err := session.Open(ctx, host, priv, opts...)
	if err != nil {
		return nil, err
	}
	return NewPeer(sess, cfg), nil
}

func (p *Peer) Session() *session.Session { return p.sess }
func (p *Peer) PublicKey() key.Public     { return p.sess.PublicKey() }

// SendMessage sends msg to dst and returns its message id.
func (p *Peer) SendMessage(dst key.Public, msg []byte) (uint64, error) {
	return p.sender.Send(dst, msg)
}

// RecvMessage blocks until a complete message arrives or ctx is done.
// Packets that are not valid transfer shards are dropped and counted in
// Stats().Received.Rejected.
func (p *Peer) RecvMessage(ctx context.Context) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		pkt, err := p.sess.RecvContext(ctx)
		if err != nil {
			return Message{}, err
		}
		data, done, err := p.asm.Add(pkt.Source, pkt.Payload)
		if err != nil || !done {
			continue
		}
		return Message{Source: pkt.Source, Data: data}, nil
	}
}

func (p *Peer) Stats() PeerStats {
	return PeerStats{
		Session:  p.sess.Stats(),
		Sent:     p.sender.Stats(),
		Received: p.asm.Stats(),
	}
}

// Close closes the session. A second call returns session.ErrClosed.
func (p *Peer) Close() error { return p.sess.Close() }
