package flash

import (
	"context"
	"time"
)

// Transport is an open diagnostic channel to the ECU
type Transport interface {
	// Send and Recv carry complete diagnostic messages
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	// SendFrame and RecvFrame work on single raw frames of the channel
	SendFrame(ctx context.Context, data []byte) error
	RecvFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Bus opens transports and drops stale traffic
type Bus interface {
	Clear()
	Dial(ctx context.Context, logicalID byte) (Transport, error)
}

type DiagnosticClient interface {
	DiagnosticSessionControl(ctx context.Context, session byte) error
	ReadECUIdentification(ctx context.Context, ident byte) ([]byte, error)
	SecurityAccess(ctx context.Context, accessType byte, key []byte) ([]byte, error)
	RequestDownload(ctx context.Context, address, size uint32) (int, error)
	EraseFlash(ctx context.Context, start, end uint32) ([]byte, error)
	RequestRoutineResults(ctx context.Context, routine byte) ([]byte, error)
	DataTransferer
	RequestTransferExit(ctx context.Context) error
	CalculateFlashChecksum(ctx context.Context, start, end uint32, checksum uint16) ([]byte, error)
	StopCommunication(ctx context.Context) error
}

type DataTransferer interface {
	TransferData(ctx context.Context, data []byte) error
}

// KeepAliver is the raw frame half of a Transport
type KeepAliver interface {
	SendFrame(ctx context.Context, data []byte) error
	RecvFrame(ctx context.Context) ([]byte, error)
}

// ClientFactory builds a diagnostic client on top of a fresh transport
type ClientFactory func(Transport) DiagnosticClient

type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type ConfirmFunc func(prompt string) (bool, error)

func (f ConfirmFunc) Confirm(prompt string) (bool, error) {
	return f(prompt)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
