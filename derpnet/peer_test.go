package derpnet

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/TheusHen/derpnet/derpnet/derptest"
	"github.com/TheusHen/derpnet/derpnet/session"
	"github.com/TheusHen/derpnet/derpnet/transfer"
)

func dialPair(t *testing.T, cfg transfer.Config) (*Peer, *Peer) {
	t.Helper()
	srv, err := derptest.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	addr, err := srv.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	host, p, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var peers [2]*Peer
	for i := range peers {
		priv, _, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		peers[i], err = Dial(ctx, host, priv, cfg, session.WithPlainHTTP(true), session.WithPort(port))
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		t.Cleanup(func() { peers[i].Close() })
	}
	return peers[0], peers[1]
}

func TestGetPublicKey(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if GetPublicKey(priv) != pub {
		t.Fatalf("GetPublicKey disagrees with GenerateKeyPair")
	}
}

func TestPeerLargeMessage(t *testing.T) {
	a, b := dialPair(t, transfer.Config{Codec: transfer.CodecZstd})
	msg := make([]byte, 200_000)
	rand.Read(msg[:100_000])

	if _, err := a.SendMessage(b.PublicKey(), msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := b.RecvMessage(ctx)
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if got.Source != a.PublicKey() || !bytes.Equal(got.Data, msg) {
		t.Fatalf("got %d bytes from %s", len(got.Data), got.Source.ShortString())
	}
	if st := a.Stats(); st.Sent.Messages != 1 || st.Session.Sent == 0 {
		t.Fatalf("sender stats = %+v", st)
	}
}

func TestPeerSkipsRawPackets(t *testing.T) {
	a, b := dialPair(t, transfer.Config{})
	if err := a.Session().Send(b.PublicKey(), []byte("not a shard")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := a.SendMessage(b.PublicKey(), []byte("hello")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := b.RecvMessage(ctx)
	if err != nil || string(got.Data) != "hello" {
		t.Fatalf("RecvMessage = %q, %v", got.Data, err)
	}
	if n := b.Stats().Received.Rejected; n != 1 {
		t.Fatalf("Rejected = %d, want 1", n)
	}
}

func TestPeerRecvTimeout(t *testing.T) {
	_, b := dialPair(t, transfer.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.RecvMessage(ctx); !errors.Is(err, session.ErrTimeout) {
		t.Fatalf("RecvMessage = %v, want ErrTimeout", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("second Close = %v", err)
	}
}
