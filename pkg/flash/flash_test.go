package flash

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/roffe/kwpflash/pkg/firmware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func sum16(b []byte) uint16 {
	var s uint16
	for _, v := range b {
		s += uint16(v)
	}
	return s
}

func TestTransferChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		lastLen   int
		chunks    int
	}{
		{"remainder", 1000, 240, 40, 5},
		{"exact", 480, 240, 240, 2},
		{"single short", 17, 240, 17, 1},
		{"larger chunks", 4096, 254, 32, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := sequence(tt.size)
			client := newFakeClient()
			link := &fakeTransport{}
			var progressed int

			sum, err := Transfer(context.Background(), data, tt.chunkSize, client, link, func(n int) { progressed += n })
			require.NoError(t, err)

			require.Len(t, client.chunks, tt.chunks)
			assert.Len(t, client.chunks[len(client.chunks)-1], tt.lastLen)
			assert.Equal(t, data, bytes.Join(client.chunks, nil))
			assert.Equal(t, sum16(data), sum)
			assert.Equal(t, tt.size, progressed)

			require.Len(t, link.frames, tt.chunks, "one keep alive per chunk")
			for _, f := range link.frames {
				assert.Equal(t, []byte{0xA3}, f)
			}
		})
	}
}

func TestTransferChecksumWraps(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF}, 0x1000)
	sum, err := Transfer(context.Background(), data, MinChunkSize, newFakeClient(), &fakeTransport{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16((0xFF*0x1000)%65536), sum)
}

func TestTransferChunkSizeTooSmall(t *testing.T) {
	client := newFakeClient()
	_, err := Transfer(context.Background(), sequence(100), MinChunkSize-1, client, &fakeTransport{}, nil)
	var cs *ChunkSizeError
	require.ErrorAs(t, err, &cs)
	assert.Equal(t, MinChunkSize-1, cs.Size)
	assert.Empty(t, client.chunks)
}

func TestTransferKeepAliveFailure(t *testing.T) {
	client := newFakeClient()
	link := &fakeTransport{recvErr: errors.New("timeout")}
	_, err := Transfer(context.Background(), sequence(1000), MinChunkSize, client, link, nil)
	assert.ErrorContains(t, err, "keep alive")
	assert.Len(t, client.chunks, 1)
}

func TestTransferCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newFakeClient()
	_, err := Transfer(ctx, sequence(1000), MinChunkSize, client, &fakeTransport{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.chunks)
}

func TestReconnectExhausts(t *testing.T) {
	bus := &fakeBus{failN: 100}
	sl := &fakeSleeper{}
	_, err := Reconnect(context.Background(), bus, DefaultLogicalID, WithSleeper(sl.Sleep))

	var re *ReconnectExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 10, re.Attempts)
	assert.Equal(t, 10, bus.dials)
	assert.Equal(t, 10, bus.clears)
	require.Len(t, sl.slept, 10)
	for _, d := range sl.slept {
		assert.Equal(t, time.Second, d)
	}
	assert.ErrorContains(t, err, "dial 10")
}

func TestReconnectSucceedsLater(t *testing.T) {
	bus := &fakeBus{failN: 2}
	sl := &fakeSleeper{}
	tr, err := Reconnect(context.Background(), bus, DefaultLogicalID,
		WithSleeper(sl.Sleep), WithAttempts(5), WithDelay(250*time.Millisecond))
	require.NoError(t, err)
	assert.Same(t, bus.transports[0], tr)
	assert.Equal(t, 3, bus.dials)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, sl.slept)
}

func TestReconnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus := &fakeBus{}
	sl := &fakeSleeper{err: context.Canceled}
	_, err := Reconnect(ctx, bus, DefaultLogicalID, WithSleeper(sl.Sleep))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, bus.dials)
}

const (
	testStart = 0x100
	testEnd   = 0x4FF
)

// patchedImage is a small image without the end of firmware marker
func patchedImage() []byte {
	img := sequence(0x800)
	copy(img[len(img)-4:], []byte{0xFF, 0xFF, 0xFF, 0xFF})
	return img
}

type harness struct {
	bus     *fakeBus
	client  *fakeClient
	sleeper *fakeSleeper
	seen    []State
	flasher *Flasher
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		bus:     &fakeBus{},
		client:  newFakeClient(),
		sleeper: &fakeSleeper{},
	}
	opts = append([]Option{
		WithClientFactory(h.client.factory),
		WithReconnectOptions(WithSleeper(h.sleeper.Sleep)),
		WithObserver(func(_, to State) { h.seen = append(h.seen, to) }),
	}, opts...)
	h.flasher = New(h.bus, opts...)
	return h
}

func TestSessionHappyPath(t *testing.T) {
	h := newHarness()
	img := patchedImage()

	s, err := h.flasher.Run(context.Background(), img, testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0xFE, s.ChunkSize())
	require.Len(t, h.client.chunks, 5)
	assert.Len(t, h.client.chunks[0], MinChunkSize, "blocks stay at the minimum even when more is negotiated")
	assert.Equal(t, ChecksumVerified, s.LastConfirmed())

	assert.Equal(t, []string{
		"session 85",
		"ident 9B",
		"ident 9C",
		"security 11 ",
		"security 12 D124FD19",
		"download 000100 400",
		"erase 000100 0004FF",
		"results C4",
		"transfer exit",
		"checksum 000100 0004FF",
		"results C5",
		"stop",
	}, h.client.calls)

	assert.Equal(t, []State{
		ProgrammingSessionRequested, Reconnecting, Identified, SeedRequested, KeySent,
		DownloadRequested, Erasing, ReconnectingAfterErase, EraseVerified, Transferring,
		TransferExitRequested, ChecksumRequested, ChecksumVerified, Stopped,
	}, h.seen)

	data := img[testStart : testEnd+1]
	assert.Equal(t, data, bytes.Join(h.client.chunks, nil))
	assert.Equal(t, sum16(data), s.Checksum())
	assert.Equal(t, sum16(data), h.client.checksumSent)

	// initial connect plus one reconnect after programming mode and one after erase
	require.Len(t, h.bus.transports, 3)
	for _, tr := range h.bus.transports {
		assert.True(t, tr.closed)
	}
	assert.Empty(t, h.bus.transports[0].frames, "keep alive must use the latest transport")
	assert.Empty(t, h.bus.transports[1].frames)
	assert.Len(t, h.bus.transports[2].frames, 5)
	assert.Len(t, h.sleeper.slept, 2)
}

func TestSessionEraseFailed(t *testing.T) {
	h := newHarness()
	h.client.eraseResult = []byte{0x01}

	s, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, EraseVerified, se.State)
	assert.Equal(t, ReconnectingAfterErase, se.LastConfirmed)
	assert.True(t, se.Destructive)
	var ef *EraseFailedError
	assert.ErrorAs(t, err, &ef)
	assert.Equal(t, Failed, s.State())
	assert.Empty(t, h.client.chunks)
	assert.NotContains(t, h.client.calls, "stop")
}

func TestSessionChunkSizeRejectedBeforeErase(t *testing.T) {
	h := newHarness()
	h.client.chunkSize = 128

	s, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var cs *ChunkSizeError
	require.ErrorAs(t, err, &cs)
	assert.Equal(t, 128, cs.Size)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, DownloadRequested, se.State)
	assert.Equal(t, KeySent, se.LastConfirmed)
	assert.False(t, se.Destructive)
	assert.Equal(t, 128, s.ChunkSize())
	for _, c := range h.client.calls {
		assert.NotContains(t, c, "erase")
	}
}

func TestSessionKeyRejected(t *testing.T) {
	h := newHarness()
	h.client.fail["security 12 D124FD19"] = errors.New("service 0x27 rejected: Invalid key")

	_, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KeySent, se.State)
	assert.Equal(t, SeedRequested, se.LastConfirmed)
	assert.Equal(t, "security 12 D124FD19", h.client.calls[len(h.client.calls)-1], "key is not retried")
}

func TestSessionChecksumFailed(t *testing.T) {
	h := newHarness()
	h.client.checksumRes = []byte{0x02}

	_, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var tc *TransferChecksumFailedError
	require.ErrorAs(t, err, &tc)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ChecksumVerified, se.State)
	assert.True(t, se.Destructive)
}

func TestSessionStopFailureIsIgnored(t *testing.T) {
	h := newHarness()
	h.client.fail["stop"] = errors.New("no response")

	s, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
}

func TestSessionEmptyIdentification(t *testing.T) {
	h := newHarness()
	h.client.ident = nil

	_, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	assert.ErrorIs(t, err, ErrEmptyIdentification)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Identified, se.State)
}

func TestSessionReconnectExhausted(t *testing.T) {
	h := newHarness(WithReconnectOptions(WithAttempts(3)))
	h.bus.failN = 0

	// first dial succeeds, every reconnect fails
	bus := &failingAfterFirst{fakeBus: h.bus}
	h.flasher.bus = bus

	_, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var re *ReconnectExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Reconnecting, se.State)
	assert.False(t, se.Destructive)
}

type failingAfterFirst struct {
	*fakeBus
}

func (b *failingAfterFirst) Dial(ctx context.Context, id byte) (Transport, error) {
	if b.dials == 0 {
		return b.fakeBus.Dial(ctx, id)
	}
	b.dials++
	return nil, errors.New("no answer")
}

func TestSessionIgnoresCancelAfterErase(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.client.onCall = func(name string) {
		if strings.HasPrefix(name, "erase") {
			cancel()
		}
	}

	s, err := h.flasher.Run(ctx, patchedImage(), testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
	assert.Len(t, h.client.chunks, 5)
	assert.Equal(t, "stop", h.client.calls[len(h.client.calls)-1])
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSessionCancelBeforeEraseIsClean(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.client.onCall = func(name string) {
		if strings.HasPrefix(name, "download") {
			cancel()
		}
	}

	s, err := h.flasher.Run(ctx, patchedImage(), testStart, testEnd)
	assert.ErrorIs(t, err, context.Canceled)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Erasing, se.State)
	assert.Equal(t, DownloadRequested, se.LastConfirmed)
	assert.False(t, se.Destructive)
	assert.Equal(t, Failed, s.State())
	for _, c := range h.client.calls {
		assert.NotContains(t, c, "erase")
	}
}

func TestPreflightThenFlash(t *testing.T) {
	var asked int
	h := newHarness(WithConfirmer(ConfirmFunc(func(string) (bool, error) {
		asked++
		return true, nil
	}), ""))

	require.NoError(t, h.flasher.Preflight(patchedImage(), testStart, testEnd))
	assert.Equal(t, 1, asked)
	assert.Equal(t, 0, h.bus.dials)
	assert.Empty(t, h.client.calls)

	s, err := h.flasher.Flash(context.Background(), patchedImage(), testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 1, asked, "Flash does not ask again")

	_, err = h.flasher.Flash(context.Background(), patchedImage(), testEnd, testStart)
	var re *firmware.RangeError
	assert.ErrorAs(t, err, &re)
}

func TestUserAbortOpensNothing(t *testing.T) {
	var prompted string
	h := newHarness(WithConfirmer(ConfirmFunc(func(p string) (bool, error) {
		prompted = p
		return false, nil
	}), "flash now"))

	s, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	assert.ErrorIs(t, err, ErrUserAborted)
	assert.Nil(t, s)
	assert.Equal(t, "flash now", prompted)
	assert.Equal(t, 0, h.bus.dials)
	assert.Empty(t, h.client.calls)
}

func TestPreflight(t *testing.T) {
	unpatched := patchedImage()
	copy(unpatched[len(unpatched)-4:], "Ende")

	tests := []struct {
		name       string
		image      []byte
		start, end uint32
		check      func(t *testing.T, err error)
	}{
		{"start after end", patchedImage(), 0x200, 0x100, func(t *testing.T, err error) {
			var re *firmware.RangeError
			assert.ErrorAs(t, err, &re)
		}},
		{"end past image", patchedImage(), 0x100, 0x800, func(t *testing.T, err error) {
			var re *firmware.RangeError
			assert.ErrorAs(t, err, &re)
		}},
		{"not patched", unpatched, testStart, testEnd, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotPatched)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(WithConfirmer(ConfirmFunc(func(string) (bool, error) {
				t.Fatal("confirmer must not be asked")
				return false, nil
			}), ""))
			_, err := h.flasher.Run(context.Background(), tt.image, tt.start, tt.end)
			tt.check(t, err)
			assert.Equal(t, 0, h.bus.dials)
		})
	}
}

func TestPreflightVariant(t *testing.T) {
	v := &firmware.Variant{
		Tag:       "test",
		ImageSize: 0x800,
		Checksums: []firmware.ChecksumRegion{{Offset: 0x7F0, Start: 0x000, End: 0x7F0}},
	}
	h := newHarness(WithVariant(v))
	_, err := h.flasher.Run(context.Background(), patchedImage(), testStart, testEnd)
	var cm *firmware.ChecksumMismatchError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, 0, h.bus.dials)

	img, err := firmware.Update(patchedImage(), v.Checksums)
	require.NoError(t, err)
	_, err = h.flasher.Run(context.Background(), img, testStart, testEnd)
	require.NoError(t, err)

	h = newHarness(WithVariant(v))
	_, err = h.flasher.Run(context.Background(), img[:0x700], testStart, testEnd)
	var se *firmware.SizeError
	assert.ErrorAs(t, err, &se)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting after erase", ReconnectingAfterErase.String())
	assert.Equal(t, "State(99)", State(99).String())
}
