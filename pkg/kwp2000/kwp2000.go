package kwp2000

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Transport carries complete KWP2000 messages, service id first
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

type Client struct {
	t              Transport
	pendingTimeout time.Duration
}

type Option func(*Client)

// WithPendingTimeout sets how long the client keeps waiting while the ECU
// answers "response pending"
func WithPendingTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.pendingTimeout = d
	}
}

func New(t Transport, opts ...Option) *Client {
	c := &Client{
		t:              t,
		pendingTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request sends a service request and returns the positive response payload
// with the response service id stripped.
func (c *Client) Request(ctx context.Context, service byte, data ...byte) ([]byte, error) {
	req := append([]byte{service}, data...)
	log.Debugf("kwp >> %X", req)
	if err := c.t.Send(ctx, req); err != nil {
		return nil, err
	}

	var pending context.Context
	for {
		rctx := ctx
		if pending != nil {
			rctx = pending
		}
		resp, err := c.t.Recv(rctx)
		if err != nil {
			return nil, err
		}
		log.Debugf("kwp << %X", resp)
		if len(resp) == 0 {
			return nil, ErrShortResponse
		}

		switch {
		case resp[0] == service+POSITIVE_OFFSET:
			return resp[1:], nil
		case resp[0] == NEGATIVE_RESPONSE && len(resp) >= 3 && resp[1] == service:
			if resp[2] != REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING {
				return nil, &NegativeResponseError{Service: service, Code: resp[2]}
			}
			if pending == nil {
				var cancel context.CancelFunc
				pending, cancel = context.WithTimeout(ctx, c.pendingTimeout)
				defer cancel()
			}
			log.Debugf("service 0x%02X: response pending", service)
		default:
			return nil, &UnexpectedResponseError{Service: service, Response: resp}
		}
	}
}

// requestEcho sends a request whose positive response echoes the first data byte
func (c *Client) requestEcho(ctx context.Context, service byte, data ...byte) ([]byte, error) {
	resp, err := c.Request(ctx, service, data...)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] != data[0] {
		return nil, &UnexpectedResponseError{Service: service, Response: resp}
	}
	return resp[1:], nil
}

func (c *Client) DiagnosticSessionControl(ctx context.Context, session byte) error {
	if _, err := c.Request(ctx, DIAGNOSTIC_SESSION_CONTROL, session); err != nil {
		return fmt.Errorf("DiagnosticSessionControl: %w", err)
	}
	return nil
}

func (c *Client) ReadECUIdentification(ctx context.Context, ident byte) ([]byte, error) {
	resp, err := c.requestEcho(ctx, READ_ECU_IDENTIFICATION, ident)
	if err != nil {
		return nil, fmt.Errorf("ReadECUIdentification: %w", err)
	}
	return resp, nil
}

// SecurityAccess requests a seed when key is nil, otherwise sends the key
func (c *Client) SecurityAccess(ctx context.Context, accessType byte, key []byte) ([]byte, error) {
	resp, err := c.requestEcho(ctx, SECURITY_ACCESS, append([]byte{accessType}, key...)...)
	if err != nil {
		return nil, fmt.Errorf("SecurityAccess: %w", err)
	}
	return resp, nil
}

// RequestDownload announces a download of size bytes to address and returns
// the maximum block length the ECU accepts.
func (c *Client) RequestDownload(ctx context.Context, address, size uint32) (int, error) {
	if address > 0xFFFFFF || size > 0xFFFFFF {
		return 0, fmt.Errorf("RequestDownload: address 0x%X or size 0x%X does not fit 24 bits", address, size)
	}
	data := append(uint24(address), 0x00)
	data = append(data, uint24(size)...)
	resp, err := c.Request(ctx, REQUEST_DOWNLOAD, data...)
	if err != nil {
		return 0, fmt.Errorf("RequestDownload: %w", err)
	}
	switch len(resp) {
	case 1:
		return int(resp[0]), nil
	case 2:
		return int(resp[0])<<8 | int(resp[1]), nil
	}
	return 0, fmt.Errorf("RequestDownload: %w", &UnexpectedResponseError{Service: REQUEST_DOWNLOAD, Response: resp})
}

// EraseFlash starts the erase routine for [start, end]
func (c *Client) EraseFlash(ctx context.Context, start, end uint32) ([]byte, error) {
	data := append([]byte{ERASE_FLASH}, uint24(start)...)
	data = append(data, uint24(end)...)
	resp, err := c.requestEcho(ctx, START_ROUTINE_BY_LOCAL_IDENTIFIER, data...)
	if err != nil {
		return nil, fmt.Errorf("EraseFlash: %w", err)
	}
	return resp, nil
}

func (c *Client) CalculateFlashChecksum(ctx context.Context, start, end uint32, checksum uint16) ([]byte, error) {
	data := append([]byte{CALCULATE_FLASH_CHECKSUM}, uint24(start)...)
	data = append(data, uint24(end)...)
	data = append(data, byte(checksum>>8), byte(checksum))
	resp, err := c.requestEcho(ctx, START_ROUTINE_BY_LOCAL_IDENTIFIER, data...)
	if err != nil {
		return nil, fmt.Errorf("CalculateFlashChecksum: %w", err)
	}
	return resp, nil
}

func (c *Client) RequestRoutineResults(ctx context.Context, routine byte) ([]byte, error) {
	resp, err := c.requestEcho(ctx, REQUEST_ROUTINE_RESULTS_BY_LOCAL_IDENTIFIER, routine)
	if err != nil {
		return nil, fmt.Errorf("RequestRoutineResults: %w", err)
	}
	return resp, nil
}

func (c *Client) TransferData(ctx context.Context, data []byte) error {
	if _, err := c.Request(ctx, TRANSFER_DATA, data...); err != nil {
		return fmt.Errorf("TransferData: %w", err)
	}
	return nil
}

func (c *Client) RequestTransferExit(ctx context.Context) error {
	if _, err := c.Request(ctx, REQUEST_TRANSFER_EXIT); err != nil {
		return fmt.Errorf("RequestTransferExit: %w", err)
	}
	return nil
}

func (c *Client) StopCommunication(ctx context.Context) error {
	if _, err := c.Request(ctx, STOP_COMMUNICATION); err != nil {
		return fmt.Errorf("StopCommunication: %w", err)
	}
	return nil
}

// IsNegative reports whether err carries a negative response with code
func IsNegative(err error, code byte) bool {
	var nr *NegativeResponseError
	return errors.As(err, &nr) && nr.Code == code
}

func uint24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
