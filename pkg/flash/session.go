package flash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roffe/kwpflash/pkg/firmware"
	"github.com/roffe/kwpflash/pkg/kwp2000"
	log "github.com/sirupsen/logrus"
)

// Session drives one reprogramming cycle. It owns its transport and is
// discarded once it reaches Stopped or Failed.
type Session struct {
	cfg *Config
	bus Bus

	start, end uint32
	data       []byte

	state       State
	confirmed   State
	destructive bool
	chunkSize   int
	checksum    uint16

	transport Transport
	client    DiagnosticClient
}

func (s *Session) State() State { return s.state }
func (s *Session) ChunkSize() int { return s.chunkSize }
func (s *Session) Checksum() uint16 { return s.checksum }
func (s *Session) Destructive() bool { return s.destructive }
func (s *Session) LastConfirmed() State { return s.confirmed }

func (s *Session) enter(state State) {
	if s.cfg.Observer != nil {
		s.cfg.Observer(s.state, state)
	}
	log.WithField("state", state.String()).Debug("enter")
	s.state = state
}

func (s *Session) fail(err error) error {
	failed := s.state
	s.enter(Failed)
	return &StepError{
		State:         failed,
		LastConfirmed: s.confirmed,
		Destructive:   s.destructive,
		Err:           err,
	}
}

type step struct {
	state State
	run   func(context.Context) error
}

func (s *Session) run(ctx context.Context) error {
	defer func() {
		if s.transport != nil {
			s.transport.Close()
		}
	}()

	log.Println("connecting")
	t, err := s.bus.Dial(ctx, s.cfg.LogicalID)
	if err != nil {
		return s.fail(fmt.Errorf("connect: %w", err))
	}
	s.attach(t)

	steps := []step{
		{ProgrammingSessionRequested, s.requestProgrammingSession},
		{Reconnecting, s.reconnect},
		{Identified, s.identify},
		{SeedRequested, s.requestSeed},
		// KeySent is entered by requestSeed once the key is computed
		{DownloadRequested, s.requestDownload},
		{Erasing, s.erase},
		{ReconnectingAfterErase, s.reconnect},
		{EraseVerified, s.verifyErase},
		{Transferring, s.transfer},
		{TransferExitRequested, s.transferExit},
		{ChecksumRequested, s.requestChecksum},
		{ChecksumVerified, s.verifyChecksum},
	}
	for _, st := range steps {
		s.enter(st.state)
		if st.state == Erasing {
			if err := ctx.Err(); err != nil {
				return s.fail(err)
			}
			// from erase on the session runs to the end, cancellation is ignored
			ctx = context.WithoutCancel(ctx)
		}
		if err := st.run(ctx); err != nil {
			return s.fail(err)
		}
		s.confirmed = s.state
	}

	s.enter(Stopped)
	if err := s.client.StopCommunication(ctx); err != nil {
		log.Printf("stop communication: %v", err)
	}
	log.Println("done")
	return nil
}

func (s *Session) attach(t Transport) {
	s.transport = t
	s.client = s.cfg.NewClient(t)
}

func (s *Session) requestProgrammingSession(ctx context.Context) error {
	log.Println("entering programming mode")
	return s.client.DiagnosticSessionControl(ctx, kwp2000.SESSION_PROGRAMMING)
}

// reconnect replaces the transport, the old one is never used again
func (s *Session) reconnect(ctx context.Context) error {
	s.transport.Close()
	s.transport, s.client = nil, nil
	t, err := Reconnect(ctx, s.bus, s.cfg.LogicalID, s.cfg.Reconnect...)
	if err != nil {
		return err
	}
	s.attach(t)
	return nil
}

func (s *Session) identify(ctx context.Context) error {
	ident, err := s.client.ReadECUIdentification(ctx, kwp2000.ECU_IDENT)
	if err != nil {
		return err
	}
	if len(ident) == 0 {
		return fmt.Errorf("ecu identification: %w", ErrEmptyIdentification)
	}
	log.Printf("ECU identification: %q", ident)

	status, err := s.client.ReadECUIdentification(ctx, kwp2000.STATUS_FLASH)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		return fmt.Errorf("flash status: %w", ErrEmptyIdentification)
	}
	log.Printf("Flash status: %X", status)
	return nil
}

func (s *Session) requestSeed(ctx context.Context) error {
	resp, err := s.client.SecurityAccess(ctx, kwp2000.PROGRAMMING_REQUEST_SEED, nil)
	if err != nil {
		return err
	}
	seed, err := kwp2000.SeedFromBytes(resp)
	if err != nil {
		return err
	}
	key := kwp2000.ComputeKey(seed)
	log.Debugf("seed 0x%08X key 0x%08X", seed, key)
	s.confirmed = s.state

	s.enter(KeySent)
	_, err = s.client.SecurityAccess(ctx, kwp2000.PROGRAMMING_SEND_KEY, kwp2000.KeyBytes(key))
	return err
}

func (s *Session) requestDownload(ctx context.Context) error {
	size, err := s.client.RequestDownload(ctx, s.start, s.end-s.start+1)
	if err != nil {
		return err
	}
	s.chunkSize = size
	log.WithField("chunk", size).Println("download accepted")
	if size < MinChunkSize {
		return &ChunkSizeError{Size: size, Min: MinChunkSize}
	}
	return nil
}

func (s *Session) erase(ctx context.Context) error {
	log.WithField("address", fmt.Sprintf("0x%06X-0x%06X", s.start, s.end)).Println("erasing flash")
	s.destructive = true
	_, err := s.client.EraseFlash(ctx, s.start, s.end)
	return err
}

func (s *Session) verifyErase(ctx context.Context) error {
	res, err := s.client.RequestRoutineResults(ctx, kwp2000.ERASE_FLASH)
	if err != nil {
		return err
	}
	if !bytes.Equal(res, []byte{0x00}) {
		return &EraseFailedError{Start: s.start, End: s.end, Result: res}
	}
	return nil
}

func (s *Session) transfer(ctx context.Context) error {
	// always MinChunkSize, the negotiated size only has to be at least that
	sum, err := Transfer(ctx, s.data, MinChunkSize, s.client, s.transport, s.cfg.Progress)
	if err != nil {
		return err
	}
	s.checksum = sum
	log.Printf("transferred %d bytes, checksum 0x%04X", len(s.data), sum)
	return nil
}

func (s *Session) transferExit(ctx context.Context) error {
	return s.client.RequestTransferExit(ctx)
}

func (s *Session) requestChecksum(ctx context.Context) error {
	_, err := s.client.CalculateFlashChecksum(ctx, s.start, s.end, s.checksum)
	return err
}

func (s *Session) verifyChecksum(ctx context.Context) error {
	res, err := s.client.RequestRoutineResults(ctx, kwp2000.CALCULATE_FLASH_CHECKSUM)
	if err != nil {
		return err
	}
	if !bytes.Equal(res, []byte{0x00}) {
		return &TransferChecksumFailedError{Start: s.start, End: s.end, Checksum: s.checksum, Result: res}
	}
	return nil
}

// Flasher runs the pre-flight checks and then a Session
type Flasher struct {
	bus Bus
	cfg *Config
}

func New(bus Bus, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Flasher{bus: bus, cfg: cfg}
}

// Preflight checks image and the range and asks the operator. It touches
// neither the bus nor any transport.
func (f *Flasher) Preflight(image []byte, start, end uint32) error {
	if start >= end || int(end) >= len(image) {
		return &firmware.RangeError{Start: int(start), End: int(end), Size: len(image)}
	}
	if !firmware.IsPatched(image) {
		return ErrNotPatched
	}
	if v := f.cfg.Variant; v != nil {
		if len(image) != v.ImageSize {
			return &firmware.SizeError{Variant: v.Tag, Expected: v.ImageSize, Actual: len(image)}
		}
		if err := firmware.Verify(image, v.Checksums); err != nil {
			return err
		}
	}
	if f.cfg.Confirmer != nil {
		ok, err := f.cfg.Confirmer.Confirm(f.cfg.Prompt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserAborted
		}
	}
	return nil
}

// Flash runs a session for image[start:end+1] without the pre-flight. The
// caller must have run Preflight on the same image and range.
func (f *Flasher) Flash(ctx context.Context, image []byte, start, end uint32) (*Session, error) {
	if start >= end || int(end) >= len(image) {
		return nil, &firmware.RangeError{Start: int(start), End: int(end), Size: len(image)}
	}
	s := &Session{
		cfg:   f.cfg,
		bus:   f.bus,
		start: start,
		end:   end,
		data:  image[start : end+1],
	}
	return s, s.run(ctx)
}

// Run flashes image[start:end+1]. Nothing is sent on the bus unless every
// pre-flight check passed and the operator confirmed.
func (f *Flasher) Run(ctx context.Context, image []byte, start, end uint32) (*Session, error) {
	if err := f.Preflight(image, start, end); err != nil {
		return nil, err
	}
	return f.Flash(ctx, image, start, end)
}
