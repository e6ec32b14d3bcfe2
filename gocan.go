package gocan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const sendTimeout = 1 * time.Second

type Client struct {
	adapter   Adapter
	h         *handler
	cancel    context.CancelFunc
	errg      *errgroup.Group
	closeOnce sync.Once
}

// New opens the adapter and starts fanning out incoming frames to subscribers.
// A fatal adapter error tears down every subscription.
func New(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, errors.New("adapter is nil")
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", adapter.Name(), err)
	}

	cctx, cancel := context.WithCancel(ctx)
	errg, gctx := errgroup.WithContext(cctx)

	c := &Client{
		adapter: adapter,
		h:       newHandler(adapter),
		cancel:  cancel,
		errg:    errg,
	}

	errg.Go(func() error {
		return c.h.run(gctx)
	})
	errg.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-adapter.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("%s: %w", adapter.Name(), err)
		}
	})

	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

// Close stops the frame handler and closes the adapter. It returns the fatal
// adapter error if one occurred during the client lifetime.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		closeErr := c.adapter.Close()
		err = c.errg.Wait()
		if err == nil {
			err = closeErr
		}
	})
	return err
}

// Send a CAN Frame
func (c *Client) Send(frame *CANFrame) error {
	t := time.NewTimer(sendTimeout)
	defer t.Stop()
	select {
	case c.adapter.Send() <- frame:
		return nil
	case <-t.C:
		return ErrSendTimeout
	}
}

// Shortcommand to send a standard 11bit frame
func (c *Client) SendFrame(identifier uint32, data []byte, t CANFrameType) error {
	return c.Send(NewFrame(identifier, data, t))
}

// Subscribe returns a subscriber receiving frames with any of the given identifiers,
// or all frames if none are given. The caller must Close it.
func (c *Client) Subscribe(identifiers ...uint32) *Subscriber {
	sub := &Subscriber{
		cl:           c,
		identifiers:  make(map[uint32]struct{}, len(identifiers)),
		responseChan: make(chan *CANFrame, 64),
	}
	for _, id := range identifiers {
		sub.identifiers[id] = struct{}{}
	}
	c.h.register(sub)
	return sub
}

// Wait for a single frame with any of the given identifiers
func (c *Client) Wait(ctx context.Context, timeout time.Duration, identifiers ...uint32) (*CANFrame, error) {
	sub := c.Subscribe(identifiers...)
	defer sub.Close()
	return sub.Wait(ctx, timeout)
}

// SendAndWait subscribes before sending so a fast response can't be missed
func (c *Client) SendAndWait(ctx context.Context, frame *CANFrame, timeout time.Duration, identifiers ...uint32) (*CANFrame, error) {
	sub := c.Subscribe(identifiers...)
	defer sub.Close()
	if err := c.Send(frame); err != nil {
		return nil, err
	}
	return sub.Wait(ctx, timeout)
}

// Clear drops pending frames that subscribers have not consumed yet and
// returns how many were dropped.
func (c *Client) Clear() int {
	return c.h.clear()
}
