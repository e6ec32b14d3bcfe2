package gocan

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// handler takes care of faning out incoming frames to any subs
type handler struct {
	adapter Adapter

	subs   map[*Subscriber]struct{}
	closed bool
	mu     sync.RWMutex
}

func newHandler(adapter Adapter) *handler {
	return &handler{
		adapter: adapter,
		subs:    make(map[*Subscriber]struct{}),
	}
}

func (h *handler) register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.responseChan)
		return
	}
	h.subs[sub] = struct{}{}
}

func (h *handler) unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.responseChan)
	}
}

func (h *handler) run(ctx context.Context) error {
	defer h.closeAll()
	recvChan := h.adapter.Recv()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-recvChan:
			if !ok {
				log.Println("incoming channel closed")
				return nil
			}
			if frame == nil {
				continue
			}
			if log.IsLevelEnabled(log.DebugLevel) {
				log.Debug(frame.ColorString())
			}
			h.deliver(frame)
		}
	}
}

// NOTE: We send while holding RLock on h.mu. unregister acquires the write lock
// and closes sub.responseChan. Holding RLock guarantees the channel won't be closed
// mid-send.
func (h *handler) deliver(frame *CANFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(frame.Identifier) {
			continue
		}
		select {
		case sub.responseChan <- frame:
		default:
			log.Printf("failed to deliver 0x%03X", frame.Identifier)
		}
	}
}

// clear drops every frame that has been delivered but not yet consumed.
func (h *handler) clear() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var dropped int
	for sub := range h.subs {
		dropped += sub.drain()
	}
	return dropped
}

func (h *handler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.responseChan)
	}
}
