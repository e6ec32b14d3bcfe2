package firmware

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// ChecksumRegion declares that the two bytes at Offset hold the big endian
// CRC16/XMODEM of image[Start:End].
type ChecksumRegion struct {
	Offset int
	Start  int
	End    int
}

func (r ChecksumRegion) String() string {
	return fmt.Sprintf("slot 0x%06X over 0x%06X-0x%06X", r.Offset, r.Start, r.End)
}

// CRC16 is CRC16/XMODEM over data
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

func checkRegions(image []byte, regions []ChecksumRegion) error {
	for i, r := range regions {
		if r.Start < 0 || r.Start > r.End || r.End > len(image) || r.Offset < 0 || r.Offset+2 > len(image) {
			return &RegionError{Index: i, Region: r, Size: len(image)}
		}
	}
	return nil
}

// Verify checks every region in order and reports the first mismatch.
func Verify(image []byte, regions []ChecksumRegion) error {
	if err := checkRegions(image, regions); err != nil {
		return err
	}
	for i, r := range regions {
		stored := binary.BigEndian.Uint16(image[r.Offset:])
		computed := CRC16(image[r.Start:r.End])
		if stored != computed {
			return &ChecksumMismatchError{
				Index:    i,
				Offset:   r.Offset,
				Stored:   stored,
				Computed: computed,
			}
		}
	}
	return nil
}

// Valid reports whether every region matches its slot
func Valid(image []byte, regions []ChecksumRegion) bool {
	return Verify(image, regions) == nil
}

// Update returns a copy of image with every checksum slot rewritten. Regions
// are processed in declared order on the copy, so a region covering an
// earlier slot sees the new value.
func Update(image []byte, regions []ChecksumRegion) ([]byte, error) {
	if err := checkRegions(image, regions); err != nil {
		return nil, err
	}
	out := make([]byte, len(image))
	copy(out, image)
	for _, r := range regions {
		binary.BigEndian.PutUint16(out[r.Offset:], CRC16(out[r.Start:r.End]))
	}
	return out, nil
}
