package flash

import (
	"errors"
	"fmt"
)

var (
	ErrUserAborted         = errors.New("aborted by user")
	ErrNotPatched          = errors.New("firmware is not patched, end of firmware marker present")
	ErrEmptyIdentification = errors.New("empty identification response")
)

type ChunkSizeError struct {
	Size int
	Min  int
}

func (e *ChunkSizeError) Error() string {
	return fmt.Sprintf("chunk size %d is below the required minimum of %d", e.Size, e.Min)
}

type ReconnectExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("failed to reconnect after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error {
	return e.Err
}

type EraseFailedError struct {
	Start, End uint32
	Result     []byte
}

func (e *EraseFailedError) Error() string {
	return fmt.Sprintf("erase of 0x%06X-0x%06X failed, routine result %X", e.Start, e.End, e.Result)
}

type TransferChecksumFailedError struct {
	Start, End uint32
	Checksum   uint16
	Result     []byte
}

func (e *TransferChecksumFailedError) Error() string {
	return fmt.Sprintf("ecu rejected checksum 0x%04X over 0x%06X-0x%06X, routine result %X", e.Checksum, e.Start, e.End, e.Result)
}

// StepError is returned by a session that failed. Destructive is set once the
// erase routine has been issued, the ECU may then be left without valid firmware.
type StepError struct {
	State         State
	LastConfirmed State
	Destructive   bool
	Err           error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s failed (last confirmed step: %s): %v", e.State, e.LastConfirmed, e.Err)
	if e.Destructive {
		msg += ", flash was erased, the ECU needs manual recovery"
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}
