package firmware

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Patch applies v to a copy of image and rewrites the checksum slots. The
// input is never modified and nothing is returned unless every step held.
func Patch(image []byte, v *Variant) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(image) != v.ImageSize {
		return nil, &SizeError{Variant: v.Tag, Expected: v.ImageSize, Actual: len(image)}
	}
	if err := Verify(image, v.Checksums); err != nil {
		return nil, err
	}

	out := make([]byte, len(image))
	copy(out, image)

	for _, p := range v.Patches {
		end := p.Address + len(p.Original)
		if end > len(out) {
			return nil, &RangeError{Start: p.Address, End: end, Size: len(out)}
		}
		if cur := out[p.Address:end]; !bytes.Equal(cur, p.Original) {
			return nil, &PatchMismatchError{Address: p.Address, Actual: clone(cur), Expected: clone(p.Original)}
		}
		if p.Replacement == nil {
			continue
		}
		copy(out[p.Address:end], p.Replacement)
		if cur := out[p.Address:end]; !bytes.Equal(cur, p.Replacement) {
			return nil, &PatchMismatchError{Address: p.Address, Actual: clone(cur), Expected: clone(p.Replacement)}
		}
		log.WithField("address", fmt.Sprintf("0x%06X", p.Address)).Debugf("patched %s", p.Comment)
	}

	out, err := Update(out, v.Checksums)
	if err != nil {
		return nil, err
	}
	if err := Verify(out, v.Checksums); err != nil {
		idx := -1
		if cm, ok := err.(*ChecksumMismatchError); ok {
			idx = cm.Index
		}
		return nil, &ChecksumUpdateFailedError{Index: idx, Err: err}
	}
	if len(out) != len(image) {
		return nil, &LengthInvariantError{Before: len(image), After: len(out)}
	}
	return out, nil
}

// Load reads an image and checks it has the size v expects.
func Load(filename string, v *Variant) ([]byte, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if len(b) != v.ImageSize {
		return nil, &SizeError{Variant: v.Tag, Expected: v.ImageSize, Actual: len(b)}
	}
	return b, nil
}

// PatchFile patches in and writes the result to out. The output is written
// to a temporary file next to out and renamed into place once complete.
func PatchFile(in, out string, v *Variant) error {
	image, err := Load(in, v)
	if err != nil {
		return err
	}
	patched, err := Patch(image, v)
	if err != nil {
		return err
	}
	return WriteFile(out, patched)
}

// WriteFile atomically replaces filename with data.
func WriteFile(filename string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename to %s: %w", filename, err)
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
