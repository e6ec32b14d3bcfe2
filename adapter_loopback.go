package gocan

import (
	"context"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Loopback",
		Description:        "echoes every sent frame back as incoming, for testing",
		RequiresSerialPort: false,
		New:                NewLoopback,
	}); err != nil {
		panic(err)
	}
}

type Loopback struct {
	*BaseAdapter
}

func NewLoopback(cfg *AdapterConfig) (Adapter, error) {
	return &Loopback{
		BaseAdapter: NewBaseAdapter("Loopback", cfg),
	}, nil
}

func (v *Loopback) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Loopback) Close() error {
	v.BaseAdapter.Close()
	return nil
}

func (v *Loopback) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			v.deliver(NewFrame(frame.Identifier, frame.Data, Incoming))
		}
	}
}
