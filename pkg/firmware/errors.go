package firmware

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownVariant = errors.New("unknown firmware variant")
)

// ChecksumMismatchError is returned for the first region whose stored CRC
// does not match its coverage.
type ChecksumMismatchError struct {
	Index    int
	Offset   int
	Stored   uint16
	Computed uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum region %d mismatch at 0x%06X: stored 0x%04X, computed 0x%04X", e.Index, e.Offset, e.Stored, e.Computed)
}

// ChecksumUpdateFailedError means the image did not verify after the
// checksum slots were rewritten.
type ChecksumUpdateFailedError struct {
	Index int
	Err   error
}

func (e *ChecksumUpdateFailedError) Error() string {
	return fmt.Sprintf("checksum region %d does not verify after update: %v", e.Index, e.Err)
}

func (e *ChecksumUpdateFailedError) Unwrap() error {
	return e.Err
}

type PatchMismatchError struct {
	Address  int
	Actual   []byte
	Expected []byte
}

func (e *PatchMismatchError) Error() string {
	return fmt.Sprintf("unexpected bytes at 0x%06X: got %X, expected %X", e.Address, e.Actual, e.Expected)
}

type PatchLengthError struct {
	Address     int
	Original    int
	Replacement int
}

func (e *PatchLengthError) Error() string {
	return fmt.Sprintf("patch at 0x%06X: replacement is %d bytes, original is %d", e.Address, e.Replacement, e.Original)
}

type LengthInvariantError struct {
	Before int
	After  int
}

func (e *LengthInvariantError) Error() string {
	return fmt.Sprintf("image length changed from %d to %d", e.Before, e.After)
}

// RangeError is returned when an address range falls outside the image.
type RangeError struct {
	Start int
	End   int
	Size  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range 0x%06X-0x%06X is invalid for an image of %d bytes", e.Start, e.End, e.Size)
}

type RegionError struct {
	Index  int
	Region ChecksumRegion
	Size   int
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("checksum region %d (%s) is out of bounds for an image of %d bytes", e.Index, e.Region, e.Size)
}

type SizeError struct {
	Variant  string
	Expected int
	Actual   int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("variant %s expects a %d byte image, got %d", e.Variant, e.Expected, e.Actual)
}
