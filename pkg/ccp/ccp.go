// Package ccp is a minimal CAN Calibration Protocol master for reading ECU memory
package ccp

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	gocan "github.com/roffe/kwpflash"
	log "github.com/sirupsen/logrus"
)

const (
	CONNECT    = 0x01
	SET_MTA    = 0x02
	UPLOAD     = 0x04
	DISCONNECT = 0x07

	crmPID   = 0xFF
	eventPID = 0xFE

	// upload is limited to the five data bytes of a CRM
	maxUpload = 5
)

// default identifiers on the 1K0909144 family
const (
	DefaultCRO = 1746
	DefaultDTO = 1747
)

type Client struct {
	c       *gocan.Client
	cro     uint32
	dto     uint32
	order   binary.ByteOrder
	timeout time.Duration
	ctr     byte
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func New(c *gocan.Client, croID, dtoID uint32, order binary.ByteOrder, opts ...Option) *Client {
	cl := &Client{
		c:       c,
		cro:     croID,
		dto:     dtoID,
		order:   order,
		timeout: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

// command sends a CRO and returns the data bytes of the matching CRM
func (cl *Client) command(ctx context.Context, cmd byte, params ...byte) ([]byte, error) {
	ctr := cl.ctr
	cl.ctr++
	data := make([]byte, 8)
	data[0], data[1] = cmd, ctr
	copy(data[2:], params)

	sub := cl.c.Subscribe(cl.dto)
	defer sub.Close()
	if err := cl.c.SendFrame(cl.cro, data, gocan.ResponseRequired); err != nil {
		return nil, err
	}
	for {
		f, err := sub.Wait(ctx, cl.timeout)
		if err != nil {
			return nil, fmt.Errorf("ccp command 0x%02X: %w", cmd, err)
		}
		d := f.Data
		if len(d) < 3 || d[0] == eventPID {
			continue
		}
		if d[0] != crmPID || d[2] != ctr {
			log.Debugf("ccp: ignoring %X", d)
			continue
		}
		if d[1] != 0x00 {
			return nil, &Error{Command: cmd, Code: d[1]}
		}
		return d[3:], nil
	}
}

func (cl *Client) Connect(ctx context.Context, station uint16) error {
	p := make([]byte, 2)
	cl.order.PutUint16(p, station)
	_, err := cl.command(ctx, CONNECT, p...)
	return err
}

// Disconnect ends the session with station
func (cl *Client) Disconnect(ctx context.Context, station uint16) error {
	p := []byte{0x01, 0x00, 0x00, 0x00}
	cl.order.PutUint16(p[2:], station)
	_, err := cl.command(ctx, DISCONNECT, p...)
	return err
}

func (cl *Client) SetMTA(ctx context.Context, mta, ext byte, address uint32) error {
	p := []byte{mta, ext, 0, 0, 0, 0}
	cl.order.PutUint32(p[2:], address)
	_, err := cl.command(ctx, SET_MTA, p...)
	return err
}

// Upload reads size bytes from MTA0 and post-increments it
func (cl *Client) Upload(ctx context.Context, size int) ([]byte, error) {
	if size < 1 || size > maxUpload {
		return nil, fmt.Errorf("ccp: upload size %d out of range 1-%d", size, maxUpload)
	}
	resp, err := cl.command(ctx, UPLOAD, byte(size))
	if err != nil {
		return nil, err
	}
	if len(resp) < size {
		return nil, fmt.Errorf("ccp: short upload %X", resp)
	}
	return resp[:size], nil
}

// Read dumps length bytes starting at address in blocks of blockSize. A
// failed block is retried after setting the MTA again.
func (cl *Client) Read(ctx context.Context, address uint32, length, blockSize int, progress func(int)) ([]byte, error) {
	if err := cl.SetMTA(ctx, 0, 0, address); err != nil {
		return nil, err
	}
	out := make([]byte, 0, length)
	for len(out) < length {
		n := min(blockSize, length-len(out))
		addr := address + uint32(len(out))
		var block []byte
		err := retry.Do(
			func() error {
				var err error
				block, err = cl.Upload(ctx, n)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(10*time.Millisecond),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(_ uint, err error) {
				log.Printf("upload at 0x%06X failed, retrying: %v", addr, err)
				if err := cl.SetMTA(ctx, 0, 0, addr); err != nil {
					log.Printf("set mta: %v", err)
				}
			}),
		)
		if err != nil {
			return out, fmt.Errorf("read at 0x%06X: %w", addr, err)
		}
		out = append(out, block...)
		if progress != nil {
			progress(len(block))
		}
	}
	return out, nil
}
