package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TheusHen/derpnet/derpnet/protocol"
	"github.com/TheusHen/derpnet/derpnet/securechan"
)

// MaxFrameSize is the largest frame, header included, that fits the
// receive buffer.
const MaxFrameSize = securechan.BufferSize

// MaxWriteFrameSize is the largest frame WriteFrame sends. It leaves room
// for a TLS record on the receiving side.
const MaxWriteFrameSize = MaxFrameSize - securechan.RecordReserve

// FrameCodec reads and writes relay frames over a Stream. Frames are
// returned in arrival order and a returned payload aliases the receive
// buffer until the next ReadFrame or Release.
//
// One goroutine reads while another writes.
type FrameCodec struct {
	stream       *securechan.Stream
	logger       *slog.Logger
	maxPollReads int
	pending      int

	wmu     sync.Mutex
	scratch []byte
}

// NewFrameCodec returns a codec over an established stream.
func NewFrameCodec(stream *securechan.Stream, maxPollReads int, logger *slog.Logger) *FrameCodec {
	if maxPollReads <= 0 {
		maxPollReads = DefaultMaxPollReads
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &FrameCodec{stream: stream, maxPollReads: maxPollReads, logger: logger}
}

// Release drops the frame returned by the last ReadFrame.
func (c *FrameCodec) Release() error {
	if c.pending == 0 {
		return nil
	}
	n := c.pending
	c.pending = 0
	return c.stream.Buffer().Consume(n)
}

// ReadFrame returns the next frame. With wait set it blocks until one is
// complete; otherwise it reads only while bytes keep arriving, at most
// maxPollReads times, and then returns ErrNoFrame.
func (c *FrameCodec) ReadFrame(wait bool) (protocol.Frame, error) {
	if err := c.Release(); err != nil {
		return protocol.Frame{}, err
	}
	for polls := 0; ; {
		f, ok, err := c.parse()
		if err != nil || ok {
			return f, err
		}
		progress, err := c.stream.Read(wait)
		if err != nil {
			return protocol.Frame{}, transportError(err)
		}
		c.logWatermarks()
		if wait {
			continue
		}
		if polls++; !progress || polls >= c.maxPollReads {
			if f, ok, err := c.parse(); err != nil || ok {
				return f, err
			}
			return protocol.Frame{}, ErrNoFrame
		}
	}
}

// ReadFrameContext blocks for the next frame until ctx is done.
func (c *FrameCodec) ReadFrameContext(ctx context.Context) (protocol.Frame, error) {
	for {
		f, err := c.ReadFrame(false)
		if !errors.Is(err, ErrNoFrame) {
			return f, err
		}
		if err := c.stream.WaitReadable(ctx); err != nil {
			return protocol.Frame{}, contextError(ctx, err)
		}
	}
}

func (c *FrameCodec) parse() (protocol.Frame, bool, error) {
	plain := c.stream.Buffer().Plain()
	t, n, err := protocol.ParseHeader(plain)
	if err != nil {
		return protocol.Frame{}, false, nil
	}
	if uint64(n) > uint64(MaxFrameSize-protocol.HeaderSize) {
		return protocol.Frame{}, false, fmt.Errorf("%w: %v frame of %d bytes exceeds %d byte buffer",
			ErrProtocolViolation, t, n, MaxFrameSize)
	}
	total := protocol.HeaderSize + int(n)
	if len(plain) < total {
		return protocol.Frame{}, false, nil
	}
	c.pending = total
	return protocol.Frame{Type: t, Payload: plain[protocol.HeaderSize:total]}, true, nil
}

func (c *FrameCodec) logWatermarks() {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	b := c.stream.Buffer()
	c.logger.Debug("relay read", "plain", len(b.Plain()), "pending", len(b.Pending()))
}

// WriteFrame writes one frame with a single Stream write.
func (c *FrameCodec) WriteFrame(t protocol.FrameType, payload []byte) error {
	return c.WriteFrameFunc(t, len(payload), func(dst []byte) ([]byte, error) {
		return append(dst, payload...), nil
	})
}

// WriteFrameFunc writes a frame whose n byte payload fill appends behind the
// header, so payloads can be sealed straight into the send buffer. fill runs
// under the write lock.
func (c *FrameCodec) WriteFrameFunc(t protocol.FrameType, n int, fill func(dst []byte) ([]byte, error)) error {
	if n < 0 || n > MaxWriteFrameSize-protocol.HeaderSize {
		return fmt.Errorf("%w: %d byte %v frame", ErrPayloadTooLarge, n, t)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	frame, err := fill(protocol.AppendHeader(c.scratch[:0], t, n))
	if err != nil {
		return err
	}
	c.scratch = frame
	if got := len(frame) - protocol.HeaderSize; got != n {
		return fmt.Errorf("session: %v payload is %d bytes, header says %d", t, got, n)
	}
	return transportError(c.stream.Write(frame))
}

// withWriteLock runs f while no frame is being written.
func (c *FrameCodec) withWriteLock(f func()) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	f()
}

func contextError(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, cerr)
		}
		return cerr
	}
	return transportError(err)
}
