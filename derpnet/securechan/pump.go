package securechan

import (
	"context"
	"sync"
)

// pump owns the socket once a caller asks for a readiness channel. It reads
// ahead into a bounded backlog and signals on every arrival.
type pump struct {
	mu    sync.Mutex
	data  []byte
	err   error
	wake  chan struct{}
	space chan struct{}
}

func newPump() *pump {
	return &pump{
		wake:  make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

func (p *pump) run(s *Stream) {
	chunk := make([]byte, maxRecordBody+recordHeaderLen)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.received.Add(uint64(n))
		}
		p.mu.Lock()
		p.data = append(p.data, chunk[:n]...)
		if err != nil {
			p.err = s.closedError(err)
		}
		backlog := len(p.data)
		p.mu.Unlock()

		notify(p.wake)
		notify(s.ready)
		if err != nil {
			return
		}
		for backlog >= BufferSize {
			select {
			case <-p.space:
			case <-s.done:
				return
			}
			p.mu.Lock()
			backlog = len(p.data)
			p.mu.Unlock()
		}
	}
}

// take moves backlog bytes into dst.
func (p *pump) take(dst []byte, wait bool) (int, error) {
	for {
		p.mu.Lock()
		n := copy(dst, p.data)
		p.data = p.data[:copy(p.data, p.data[n:])]
		err := p.err
		p.mu.Unlock()
		if n > 0 {
			notify(p.space)
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		if !wait {
			return 0, nil
		}
		<-p.wake
	}
}

// wait blocks until the backlog is non-empty, the socket failed, or ctx is
// done.
func (p *pump) wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		ready := len(p.data) > 0 || p.err != nil
		p.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-p.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
