package util

import (
	"hash/crc32"
)

// Checksum utilities for source entries and wire partitions.
// Uses CRC32 (IEEE polynomial), the same checksum the storage node writes.

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ComputeChecksumParts computes one CRC32 over several byte slices without concatenating them
func ComputeChecksumParts(parts ...[]byte) uint32 {
	var sum uint32
	for _, p := range parts {
		sum = crc32.Update(sum, crc32Table, p)
	}
	return sum
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}
