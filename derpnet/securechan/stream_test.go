package securechan

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"testing"
	"time"
)

const testHost = "relay.test"

func testCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: testHost},
		DNSNames:              []string{testHost},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, pool
}

// tcpPair returns both ends of a loopback TCP connection. Loopback has
// kernel buffers, which a TLS server flight needs.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatalf("Accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// readAtLeast reads until n plaintext bytes are buffered and consumes them.
func readAtLeast(t *testing.T, s *Stream, n int) []byte {
	t.Helper()
	for len(s.Buffer().Plain()) < n {
		if _, err := s.Read(true); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	out := append([]byte(nil), s.Buffer().Plain()[:n]...)
	if err := s.Buffer().Consume(n); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	return out
}

func TestPlainStreamOverPipe(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	s := NewStream(c1, PlainLayer{})
	defer s.Close()
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	go func() {
		for _, b := range []byte("hello") {
			c2.Write([]byte{b})
		}
	}()
	if got := readAtLeast(t, s, 5); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	wrote := make(chan error, 1)
	go func() { wrote <- s.Write([]byte("ping")) }()
	var got [4]byte
	if _, err := io.ReadFull(c2, got[:]); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got[:]) != "ping" {
		t.Fatalf("peer got %q", got)
	}
	if err := <-wrote; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if s.Sent() != 4 || s.Received() != 5 {
		t.Fatalf("counters sent=%d received=%d", s.Sent(), s.Received())
	}
}

func TestNonblockingReadWithoutData(t *testing.T) {
	client, _ := tcpPair(t)
	s := NewStream(client, PlainLayer{})
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	start := time.Now()
	progress, err := s.Read(false)
	if err != nil || progress {
		t.Fatalf("Read(false) = %v, %v", progress, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("non-blocking read blocked")
	}
}

func TestReadReportsClose(t *testing.T) {
	client, server := tcpPair(t)
	s := NewStream(client, PlainLayer{})
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	server.Close()
	if _, err := s.Read(true); !errors.Is(err, ErrClosed) {
		t.Fatalf("Read after peer close: %v", err)
	}
}

func TestOversized(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	s := NewStream(c1, PlainLayer{})
	defer s.Close()
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	go c2.Write(make([]byte, BufferSize+1))

	for !s.Buffer().Full() {
		if _, err := s.Read(true); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if _, err := s.Read(true); !errors.Is(err, ErrOversized) {
		t.Fatalf("Read on full buffer: %v", err)
	}
}

func TestWaitReadableContext(t *testing.T) {
	client, server := tcpPair(t)
	s := NewStream(client, PlainLayer{})
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitReadable(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReadable = %v", err)
	}

	// The expired deadline must not leak into later reads.
	server.Write([]byte("x"))
	if err := s.WaitReadable(context.Background()); err != nil {
		t.Fatalf("WaitReadable: %v", err)
	}
	if got := string(s.Buffer().Plain()); got != "x" {
		t.Fatalf("buffered %q", got)
	}
}

func TestReadableSignals(t *testing.T) {
	client, server := tcpPair(t)
	s := NewStream(client, PlainLayer{})
	defer s.Close()
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	ready := s.Readable()
	<-ready // initial signal

	if progress, err := s.Read(false); err != nil || progress {
		t.Fatalf("Read(false) before data = %v, %v", progress, err)
	}
	server.Write([]byte("wake"))
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("no readiness signal")
	}
	for len(s.Buffer().Plain()) < 4 {
		if _, err := s.Read(false); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if got := string(s.Buffer().Plain()); got != "wake" {
		t.Fatalf("got %q", got)
	}
}

func runTLSServer(t *testing.T, conn net.Conn, cfg *tls.Config, script func(*tls.Conn) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		tc := tls.Server(conn, cfg)
		if err := tc.Handshake(); err != nil {
			done <- err
			return
		}
		done <- script(tc)
	}()
	return done
}

func testTLSStream(t *testing.T, maxVersion uint16) {
	cert, pool := testCert(t)
	client, server := tcpPair(t)

	large := bytes.Repeat([]byte("0123456789abcdef"), 40<<10/16)
	done := runTLSServer(t, server, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MaxVersion:   maxVersion,
	}, func(tc *tls.Conn) error {
		if _, err := tc.Write([]byte("hello")); err != nil {
			return err
		}
		if _, err := tc.Write(large); err != nil {
			return err
		}
		var got [4]byte
		if _, err := io.ReadFull(tc, got[:]); err != nil {
			return err
		}
		if string(got[:]) != "ping" {
			return errors.New("server got " + string(got[:]))
		}
		return tc.Close()
	})

	s := NewStream(client, NewTLSLayer(&tls.Config{RootCAs: pool}))
	defer s.Close()
	if err := s.Establish(context.Background(), testHost); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if got := s.Layer().(*TLSLayer).ConnectionState().Version; maxVersion != 0 && got != maxVersion {
		t.Fatalf("negotiated %x", got)
	}
	if got := readAtLeast(t, s, 5); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := readAtLeast(t, s, len(large)); !bytes.Equal(got, large) {
		t.Fatalf("large message corrupted")
	}
	if err := s.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
	for {
		if _, err := s.Read(true); err != nil {
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("Read after close_notify: %v", err)
			}
			break
		}
	}
	if s.Received() <= uint64(len(large)) || s.Sent() == 0 {
		t.Fatalf("counters sent=%d received=%d", s.Sent(), s.Received())
	}
}

func TestTLSStream13(t *testing.T) { testTLSStream(t, 0) }

func TestTLSStream12(t *testing.T) { testTLSStream(t, tls.VersionTLS12) }

func TestTLSRejectsUntrustedCert(t *testing.T) {
	cert, _ := testCert(t)
	client, server := tcpPair(t)
	runTLSServer(t, server, &tls.Config{Certificates: []tls.Certificate{cert}}, func(*tls.Conn) error { return nil })

	s := NewStream(client, NewTLSLayer(&tls.Config{RootCAs: x509.NewCertPool()}))
	if err := s.Establish(context.Background(), testHost); err == nil {
		t.Fatalf("Establish trusted an unknown CA")
	}
	if err := s.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after failed handshake: %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	s := NewStream(c1, PlainLayer{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Read(false); !errors.Is(err, ErrClosed) {
		t.Fatalf("Read after Close: %v", err)
	}
}

func BenchmarkBufferCycle(b *testing.B) {
	var buf Buffer
	chunk := make([]byte, 1024)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		n := copy(buf.Free(), chunk)
		buf.Grow(n)
		buf.commit(n, n)
		buf.Consume(n)
	}
}
