package kwp2000

import (
	"encoding/binary"
	"fmt"
)

const (
	keyK1 = 0x003F1735
	keyK2 = 0xA3FF7890
)

// ComputeKey derives the programming security access key from a seed.
func ComputeKey(seed uint32) uint32 {
	for i := 0; i < 3; i++ {
		tmp := seed ^ keyK1
		seed = tmp + keyK2
		if seed < keyK2 {
			seed = seed>>1 | tmp<<31
		}
	}
	return seed
}

// SeedFromBytes reads the big endian seed of a security access response
func SeedFromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("seed must be 4 bytes, got %d: %X", len(b), b)
	}
	return binary.BigEndian.Uint32(b), nil
}

// KeyBytes encodes key big endian for the send key request
func KeyBytes(key uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, key)
}
