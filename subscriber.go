package gocan

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Subscriber struct {
	cl           *Client
	identifiers  map[uint32]struct{}
	responseChan chan *CANFrame
	closeOnce    sync.Once
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.cl.h.unregister(s)
	})
}

func (s *Subscriber) Chan() <-chan *CANFrame {
	return s.responseChan
}

// wants reports whether the subscriber filters on id, no identifiers means everything
func (s *Subscriber) wants(id uint32) bool {
	if len(s.identifiers) == 0 {
		return true
	}
	_, ok := s.identifiers[id]
	return ok
}

func (s *Subscriber) drain() int {
	var n int
	for {
		select {
		case _, ok := <-s.responseChan:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Wait blocks until a frame arrives, the timeout expires or ctx is cancelled.
func (s *Subscriber) Wait(ctx context.Context, timeout time.Duration) (*CANFrame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait: %w", ctx.Err())
	case <-t.C:
		return nil, &TimeoutError{
			Timeout: timeout.Milliseconds(),
			Frames:  s.ids(),
			Type:    "wait",
		}
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponsechannelClosed
		}
		return frame, nil
	}
}

func (s *Subscriber) ids() []uint32 {
	out := make([]uint32, 0, len(s.identifiers))
	for id := range s.identifiers {
		out = append(out, id)
	}
	return out
}
