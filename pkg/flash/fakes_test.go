package flash

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type fakeTransport struct {
	id      int
	frames  [][]byte
	closed  bool
	recvErr error
}

func (t *fakeTransport) Send(context.Context, []byte) error { return nil }
func (t *fakeTransport) Recv(context.Context) ([]byte, error) { return nil, errors.New("not used") }
func (t *fakeTransport) Close() error { t.closed = true; return nil }

func (t *fakeTransport) SendFrame(_ context.Context, data []byte) error {
	if t.closed {
		return errors.New("send on closed transport")
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) RecvFrame(context.Context) ([]byte, error) {
	if t.recvErr != nil {
		return nil, t.recvErr
	}
	return []byte{0xA1, 0x0F, 0x8A, 0xFF, 0x4A, 0xFF}, nil
}

// fakeBus fails the first failN dials
type fakeBus struct {
	failN      int
	dials      int
	clears     int
	transports []*fakeTransport
}

func (b *fakeBus) Clear() { b.clears++ }

func (b *fakeBus) Dial(ctx context.Context, logicalID byte) (Transport, error) {
	b.dials++
	if b.dials <= b.failN {
		return nil, fmt.Errorf("dial %d: no answer", b.dials)
	}
	t := &fakeTransport{id: len(b.transports)}
	b.transports = append(b.transports, t)
	return t, nil
}

type fakeSleeper struct {
	slept []time.Duration
	err   error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return s.err
}

// fakeClient records every call, failures are injected per method name
type fakeClient struct {
	calls      []string
	transports []Transport
	chunks     [][]byte

	seed         []byte
	chunkSize    int
	eraseResult  []byte
	checksumRes  []byte
	ident        []byte
	checksumSent uint16
	fail         map[string]error
	// onCall runs before every recorded call
	onCall func(name string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		seed:        []byte{0x12, 0x34, 0x56, 0x78},
		chunkSize:   0xFE,
		eraseResult: []byte{0x00},
		checksumRes: []byte{0x00},
		ident:       []byte("1K0909144R  3502"),
		fail:        map[string]error{},
	}
}

func (c *fakeClient) factory(t Transport) DiagnosticClient {
	c.transports = append(c.transports, t)
	return c
}

func (c *fakeClient) call(name string) error {
	if c.onCall != nil {
		c.onCall(name)
	}
	c.calls = append(c.calls, name)
	return c.fail[name]
}

func (c *fakeClient) DiagnosticSessionControl(_ context.Context, session byte) error {
	return c.call(fmt.Sprintf("session %02X", session))
}

func (c *fakeClient) ReadECUIdentification(_ context.Context, ident byte) ([]byte, error) {
	if err := c.call(fmt.Sprintf("ident %02X", ident)); err != nil {
		return nil, err
	}
	return c.ident, nil
}

func (c *fakeClient) SecurityAccess(_ context.Context, accessType byte, key []byte) ([]byte, error) {
	if err := c.call(fmt.Sprintf("security %02X %X", accessType, key)); err != nil {
		return nil, err
	}
	if key == nil {
		return c.seed, nil
	}
	return nil, nil
}

func (c *fakeClient) RequestDownload(_ context.Context, address, size uint32) (int, error) {
	if err := c.call(fmt.Sprintf("download %06X %X", address, size)); err != nil {
		return 0, err
	}
	return c.chunkSize, nil
}

func (c *fakeClient) EraseFlash(_ context.Context, start, end uint32) ([]byte, error) {
	return nil, c.call(fmt.Sprintf("erase %06X %06X", start, end))
}

func (c *fakeClient) RequestRoutineResults(_ context.Context, routine byte) ([]byte, error) {
	if err := c.call(fmt.Sprintf("results %02X", routine)); err != nil {
		return nil, err
	}
	if routine == 0xC4 {
		return c.eraseResult, nil
	}
	return c.checksumRes, nil
}

func (c *fakeClient) TransferData(_ context.Context, data []byte) error {
	c.chunks = append(c.chunks, append([]byte(nil), data...))
	if err := c.fail["transfer"]; err != nil {
		return err
	}
	return nil
}

func (c *fakeClient) RequestTransferExit(context.Context) error {
	return c.call("transfer exit")
}

func (c *fakeClient) CalculateFlashChecksum(_ context.Context, start, end uint32, checksum uint16) ([]byte, error) {
	c.checksumSent = checksum
	return nil, c.call(fmt.Sprintf("checksum %06X %06X", start, end))
}

func (c *fakeClient) StopCommunication(context.Context) error {
	return c.call("stop")
}
