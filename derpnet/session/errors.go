package session

import (
	"errors"
	"fmt"

	"github.com/TheusHen/derpnet/derpnet/securechan"
)

var (
	ErrHandshakeFailed      = errors.New("session: handshake failed")
	ErrAuthenticationFailed = errors.New("session: packet authentication failed")
	ErrProtocolViolation    = errors.New("session: protocol violation")
	ErrTransportClosed      = errors.New("session: transport closed")
	ErrTimeout              = errors.New("session: timed out")
	ErrNoData               = errors.New("session: no data available")
	ErrClosed               = errors.New("session: closed")

	// ErrNoFrame is returned by a non-blocking ReadFrame with no complete
	// frame buffered.
	ErrNoFrame = errors.New("session: no complete frame buffered")

	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrProtocolViolation)
)

// transportError folds secure channel failures into the session taxonomy.
func transportError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, securechan.ErrClosed):
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	case errors.Is(err, securechan.ErrOversized), errors.Is(err, securechan.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return err
}
