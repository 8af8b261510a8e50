package session

import (
	"context"
	"fmt"

	"github.com/TheusHen/derpnet/derpnet/crypto"
	"github.com/TheusHen/derpnet/derpnet/protocol"
)

func handshakeError(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHandshakeFailed, step, err)
}

// handshake runs the relay exchange:
//
//	client                           relay
//	  secure channel + upgrade  ->
//	                            <-   ServerKey  (magic, relay key)
//	  ClientInfo                ->   (client key, sealed {"version": 2})
//	                            <-   ServerInfo (sealed JSON)
//
// Any other frame before ServerInfo is fatal.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.stream.Establish(ctx, s.host); err != nil {
		return handshakeError("secure channel", err)
	}
	if err := s.stream.Write(protocol.UpgradeRequest(s.host)); err != nil {
		return handshakeError("upgrade", err)
	}

	s.setState(StateServerKeyWait)
	f, err := s.expect(ctx, protocol.FrameServerKey)
	if err != nil {
		return err
	}
	serverKey, err := protocol.ParseServerKey(f.Payload)
	if err != nil {
		return handshakeError("server key", err)
	}
	s.serverKey = serverKey

	shared, err := crypto.SharedKey(s.priv.Raw32(), serverKey.Raw32())
	if err != nil {
		return handshakeError("server key", err)
	}
	defer crypto.Wipe(shared[:])

	info := protocol.DefaultClientInfo
	err = s.codec.WriteFrameFunc(protocol.FrameClientInfo, protocol.KeyLen+crypto.Overhead+len(info), func(b []byte) ([]byte, error) {
		return crypto.SealBox(protocol.AppendClientInfo(b, s.pub, nil), s.rand, info, &shared)
	})
	if err != nil {
		return handshakeError("client info", err)
	}
	s.setState(StateClientInfoSent)

	s.setState(StateServerInfoWait)
	f, err = s.expect(ctx, protocol.FrameServerInfo)
	if err != nil {
		return err
	}
	body, err := crypto.OpenBoxInPlace(f.Payload, &shared)
	if err != nil {
		return handshakeError("server info", err)
	}
	si, err := protocol.DecodeServerInfo(body)
	if err != nil {
		s.logger.Debug("server info is not JSON", "err", err)
	}
	s.serverInfo = si
	if err := s.codec.Release(); err != nil {
		return handshakeError("server info", err)
	}

	s.setState(StateReady)
	s.logger.Info("relay handshake complete",
		"server_key", serverKey.ShortString(),
		"client_key", s.pub.ShortString())
	return nil
}

func (s *Session) expect(ctx context.Context, want protocol.FrameType) (protocol.Frame, error) {
	f, err := s.codec.ReadFrameContext(ctx)
	if err != nil {
		return f, handshakeError("waiting for "+want.String(), err)
	}
	if f.Type != want {
		return f, handshakeError("waiting for "+want.String(), fmt.Errorf("%w: got %v", protocol.ErrUnexpectedType, f.Type))
	}
	return f, nil
}
