// Package tp20 implements the VW TP 2.0 transport protocol on top of a gocan client
package tp20

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	gocan "github.com/roffe/kwpflash"
	log "github.com/sirupsen/logrus"
)

const (
	setupID = 0x200

	opSetupRequest  = 0xC0
	opSetupPositive = 0xD0
	opParamsRequest = 0xA0
	opParamsReply   = 0xA1
	opChannelTest   = 0xA3
	opDisconnect    = 0xA8

	// data frame opcodes, upper nibble
	opWaitAckMore = 0x0
	opWaitAckLast = 0x1
	opNoAckMore   = 0x2
	opNoAckLast   = 0x3
	opNotReady    = 0x9
	opAck         = 0xB

	appKWP = 0x01
)

var (
	ErrDisconnected = errors.New("tp20: channel disconnected by ecu")
	ErrClosed       = errors.New("tp20: channel closed")
)

// params is the timing parameter set sent after channel setup: block size 15,
// ack timeout 100ms, minimum frame interval 5ms
var params = []byte{opParamsRequest, 0x0F, 0x8A, 0xFF, 0x32, 0xFF}

type Channel struct {
	c       *gocan.Client
	sub     *gocan.Subscriber
	id      byte
	tx, rx  uint32
	timeout time.Duration
	txSeq   byte

	closeOnce sync.Once
	closed    bool
}

type Option func(*Channel)

// WithTimeout sets the receive timeout for a single frame
func WithTimeout(d time.Duration) Option {
	return func(ch *Channel) {
		ch.timeout = d
	}
}

// Dial opens a channel to the ECU with the given logical id and exchanges
// timing parameters.
func Dial(ctx context.Context, c *gocan.Client, logicalID byte, opts ...Option) (*Channel, error) {
	ch := &Channel{
		c:       c,
		id:      logicalID,
		timeout: time.Second,
	}
	for _, o := range opts {
		o(ch)
	}

	setup := gocan.NewFrame(setupID, []byte{logicalID, opSetupRequest, 0x00, 0x10, 0x00, 0x03, appKWP}, gocan.ResponseRequired)
	resp, err := c.SendAndWait(ctx, setup, ch.timeout, setupID+uint32(logicalID))
	if err != nil {
		return nil, fmt.Errorf("channel setup: %w", err)
	}
	d := resp.Data
	if len(d) < 6 || d[1] != opSetupPositive {
		return nil, fmt.Errorf("channel setup: unexpected response %X", d)
	}
	ch.tx = uint32(binary.LittleEndian.Uint16(d[2:4])) & 0x7FF
	ch.rx = uint32(binary.LittleEndian.Uint16(d[4:6])) & 0x7FF
	ch.sub = c.Subscribe(ch.rx)

	log.Debugf("tp20: channel 0x%X tx 0x%03X rx 0x%03X", logicalID, ch.tx, ch.rx)

	if err := ch.SendFrame(ctx, params); err != nil {
		ch.sub.Close()
		return nil, fmt.Errorf("channel parameters: %w", err)
	}
	p, err := ch.RecvFrame(ctx)
	if err != nil {
		ch.sub.Close()
		return nil, fmt.Errorf("channel parameters: %w", err)
	}
	if len(p) == 0 || p[0] != opParamsReply {
		ch.sub.Close()
		return nil, fmt.Errorf("channel parameters: unexpected response %X", p)
	}
	return ch, nil
}

func (ch *Channel) String() string {
	return fmt.Sprintf("tp20 channel 0x%X (tx 0x%03X, rx 0x%03X)", ch.id, ch.tx, ch.rx)
}

// SendFrame writes a raw frame on the channel
func (ch *Channel) SendFrame(ctx context.Context, data []byte) error {
	if ch.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ch.c.SendFrame(ch.tx, data, gocan.Outgoing)
}

// RecvFrame waits for the next raw frame on the channel
func (ch *Channel) RecvFrame(ctx context.Context) ([]byte, error) {
	if ch.closed {
		return nil, ErrClosed
	}
	f, err := ch.sub.Wait(ctx, ch.timeout)
	if err != nil {
		return nil, err
	}
	if len(f.Data) > 0 && f.Data[0] == opDisconnect {
		return nil, ErrDisconnected
	}
	return f.Data, nil
}

// Send segments msg into data frames, length prefixed, and waits for the ECU
// to acknowledge the last one.
func (ch *Channel) Send(ctx context.Context, msg []byte) error {
	if len(msg) > 0xFFFF {
		return fmt.Errorf("tp20: message of %d bytes is too long", len(msg))
	}
	payload := binary.BigEndian.AppendUint16(make([]byte, 0, len(msg)+2), uint16(len(msg)))
	payload = append(payload, msg...)

	for i := 0; i < len(payload); i += 7 {
		end := min(i+7, len(payload))
		op := byte(opNoAckMore)
		if end == len(payload) {
			op = opWaitAckLast
		}
		frame := append([]byte{op<<4 | ch.txSeq}, payload[i:end]...)
		if err := ch.SendFrame(ctx, frame); err != nil {
			return err
		}
		ch.txSeq = (ch.txSeq + 1) & 0x0F
	}

	for {
		d, err := ch.RecvFrame(ctx)
		if err != nil {
			return fmt.Errorf("tp20: waiting for ack: %w", err)
		}
		if len(d) == 0 {
			continue
		}
		switch d[0] >> 4 {
		case opAck:
			if d[0]&0x0F != ch.txSeq {
				log.Debugf("tp20: ack for sequence %X, expected %X", d[0]&0x0F, ch.txSeq)
			}
			return nil
		case opNotReady:
			continue
		default:
			return fmt.Errorf("tp20: expected ack, got %X", d)
		}
	}
}

// Recv reassembles the next message, acknowledging frames that ask for it.
func (ch *Channel) Recv(ctx context.Context) ([]byte, error) {
	var payload []byte
	for {
		d, err := ch.RecvFrame(ctx)
		if err != nil {
			return nil, err
		}
		if len(d) == 0 {
			continue
		}
		op, seq := d[0]>>4, d[0]&0x0F
		switch op {
		case opWaitAckMore, opWaitAckLast, opNoAckMore, opNoAckLast:
		case opAck, opNotReady, opParamsReply >> 4:
			// stray ack or channel test reply
			continue
		default:
			return nil, fmt.Errorf("tp20: unexpected frame %X", d)
		}
		payload = append(payload, d[1:]...)
		if op == opWaitAckMore || op == opWaitAckLast {
			if err := ch.SendFrame(ctx, []byte{opAck<<4 | (seq+1)&0x0F}); err != nil {
				return nil, err
			}
		}
		if op == opWaitAckLast || op == opNoAckLast {
			break
		}
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("tp20: short message %X", payload)
	}
	n := int(binary.BigEndian.Uint16(payload))
	if len(payload)-2 < n {
		return nil, fmt.Errorf("tp20: message announced %d bytes, got %d", n, len(payload)-2)
	}
	return payload[2 : 2+n], nil
}

// KeepAlive runs one channel test exchange
func (ch *Channel) KeepAlive(ctx context.Context) error {
	if err := ch.SendFrame(ctx, []byte{opChannelTest}); err != nil {
		return err
	}
	_, err := ch.RecvFrame(ctx)
	return err
}

// Close sends a disconnect and releases the subscription. It is safe to call
// more than once.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		if ch.sub == nil {
			return
		}
		err = ch.c.SendFrame(ch.tx, []byte{opDisconnect}, gocan.Outgoing)
		ch.closed = true
		ch.sub.Close()
	})
	return err
}
