package session

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/TheusHen/derpnet/derpnet/crypto"
)

const (
	// PlainHTTPEnv switches sessions to unencrypted relay connections when
	// set to "1", for relays deployed without TLS.
	PlainHTTPEnv = "DERPNET_USE_PLAIN_HTTP"

	DefaultTLSPort      = 443
	DefaultPlainPort    = 80
	DefaultMaxPollReads = 64
	DefaultKeyCacheSize = crypto.DefaultKeyCacheSize
)

// DialFunc opens the transport connection. net.Dialer.DialContext and the
// QUIC dialer in transport/quic both fit.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures Open.
type Option func(*options)

type options struct {
	port         int
	plain        bool
	tlsConfig    *tls.Config
	dial         DialFunc
	logger       *slog.Logger
	keyCacheSize int
	maxPollReads int
	rand         io.Reader
}

func defaultOptions() options {
	var d net.Dialer
	return options{
		plain:        os.Getenv(PlainHTTPEnv) == "1",
		dial:         d.DialContext,
		logger:       slog.New(discardHandler{}),
		keyCacheSize: DefaultKeyCacheSize,
		maxPollReads: DefaultMaxPollReads,
		rand:         rand.Reader,
	}
}

func (o *options) relayPort() int {
	switch {
	case o.port > 0:
		return o.port
	case o.plain:
		return DefaultPlainPort
	}
	return DefaultTLSPort
}

// WithPort overrides the relay port (443 with TLS, 80 without).
func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

// WithPlainHTTP skips TLS. Use it for test relays and for transports that
// already encrypt.
func WithPlainHTTP(plain bool) Option {
	return func(o *options) { o.plain = plain }
}

// WithTLSConfig sets the TLS client config. ServerName defaults to the relay
// host.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithDialer replaces the TCP dialer, for example with a QUIC stream dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// WithLogger sets the session logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithKeyCacheSize sets how many peer keys each direction remembers.
func WithKeyCacheSize(n int) Option {
	return func(o *options) { o.keyCacheSize = n }
}

// WithMaxPollReads caps the socket reads one non-blocking Recv may issue.
func WithMaxPollReads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPollReads = n
		}
	}
}

// WithRand sets the nonce source.
func WithRand(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
