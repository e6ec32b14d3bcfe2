package firmware

import (
	"bytes"
	"fmt"
	"sort"
)

const (
	ImageSize = 0x60000

	// end of firmware marker, cleared by every patch set
	markerOffset = 0x5FFFC
)

var endMarker = []byte("Ende")

// PatchEntry replaces Original at Address with Replacement. A nil
// Replacement only asserts that Original is present.
type PatchEntry struct {
	Address     int
	Original    []byte
	Replacement []byte
	Comment     string
}

type Variant struct {
	Tag       string
	ImageSize int
	Patches   []PatchEntry
	Checksums []ChecksumRegion
}

// Validate checks that every entry has a same length replacement and lies
// inside the image.
func (v *Variant) Validate() error {
	for _, p := range v.Patches {
		if p.Replacement != nil && len(p.Replacement) != len(p.Original) {
			return &PatchLengthError{Address: p.Address, Original: len(p.Original), Replacement: len(p.Replacement)}
		}
		if p.Address < 0 || p.Address+len(p.Original) > v.ImageSize {
			return &RangeError{Start: p.Address, End: p.Address + len(p.Original), Size: v.ImageSize}
		}
	}
	return checkRegions(make([]byte, v.ImageSize), v.Checksums)
}

// IsPatched reports whether the end of firmware marker has been cleared.
func IsPatched(image []byte) bool {
	if len(image) < len(endMarker) {
		return false
	}
	return !bytes.Equal(image[len(image)-len(endMarker):], endMarker)
}

// Catalog maps a software version tag to its variant
type Catalog map[string]*Variant

// Get returns the variant for tag or ErrUnknownVariant
func (c Catalog) Get(tag string) (*Variant, error) {
	v, ok := c[tag]
	if !ok {
		return nil, fmt.Errorf("%w %q, known: %v", ErrUnknownVariant, tag, c.Tags())
	}
	return v, nil
}

// Tags returns the known tags, sorted
func (c Catalog) Tags() []string {
	out := make([]string, 0, len(c))
	for tag := range c {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Variants builds the compiled in patch sets. Each call returns fresh tables.
func Variants() Catalog {
	return Catalog{
		"2501": {
			Tag:       "2501",
			ImageSize: ImageSize,
			Patches: []PatchEntry{
				{0x5E7A8, []byte("1K0909144E \x002501"), []byte("1K0909144E \x002502"), "software number and version"},
				{0x5E221, []byte{0x64}, []byte{0x00}, "disengage countdown"},
				{0x5E283, []byte{0x32}, []byte{0x00}, "min speed"},
				{markerOffset, endMarker, []byte{0xFF, 0xFF, 0xFF, 0xFF}, "end of firmware marker"},
			},
			Checksums: []ChecksumRegion{
				{Offset: 0x5EFFC, Start: 0x5E000, End: 0x5EFFC},
			},
		},
		"3501": {
			Tag:       "3501",
			ImageSize: ImageSize,
			Patches: []PatchEntry{
				{0x5D828, []byte("1K0909144R \x003501"), []byte("1K0909144R \x003502"), "software number and version"},
				{0x5D289, []byte{0x64}, []byte{0x00}, "disengage countdown"},
				{0x5D2FA, []byte{0x14}, []byte{0x00}, "min speed"},
				{markerOffset, endMarker, []byte{0xFF, 0xFF, 0xFF, 0xFF}, "end of firmware marker"},
			},
			Checksums: append(aswRegions(),
				// calibration 0x5C000-0x5EFFE
				ChecksumRegion{Offset: 0x5DFFC, Start: 0x5C000, End: 0x5CFFF},
				ChecksumRegion{Offset: 0x5DFFE, Start: 0x5CFFF, End: 0x5DFFC},
				ChecksumRegion{Offset: 0x5EFFE, Start: 0x5E000, End: 0x5EFFE},
			),
		},
	}
}

// aswRegions covers 0xA000-0x5C000 in 0xFFF byte steps, slots packed from
// 0x5FEF8. The last region is cut at 0x5C000.
func aswRegions() []ChecksumRegion {
	const (
		start  = 0x0A000
		end    = 0x5C000
		step   = 0xFFF
		offset = 0x5FEF8
		count  = 83
	)
	out := make([]ChecksumRegion, 0, count+3)
	for i := 0; i < count; i++ {
		s := start + i*step
		out = append(out, ChecksumRegion{
			Offset: offset + 2*i,
			Start:  s,
			End:    min(s+step, end),
		})
	}
	return out
}
