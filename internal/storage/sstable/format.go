package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// On-disk layout of a data file:
//
//	header:  magic "PSST" | version uint16 | reserved uint16
//	entry:   size int32 | checksum uint32 (version 2 only) | JSON-encoded Entry
//
// The index file (<data>.idx) lists entries in write order:
//
//	keyLen int32 | key | offset int64 | size int32 | checksum uint32 (version 2 only)
//
// All integers are little endian.

const (
	// DataFileExt is the extension of data files
	DataFileExt = ".sst"
	// IndexFileExt is appended to the data file path to name its index
	IndexFileExt = ".idx"

	// Version1 files carry no checksums
	Version1 uint16 = 1
	// Version2 files carry a CRC32 per entry
	Version2 uint16 = 2
	// CurrentVersion is what the writer produces by default
	CurrentVersion = Version2

	headerSize = 8
)

var magic = [4]byte{'P', 'S', 'S', 'T'}

var (
	ErrBadMagic           = errors.New("not a pairdb sstable: bad magic")
	ErrUnsupportedVersion = errors.New("unsupported sstable version")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrTruncated          = errors.New("truncated sstable")
	ErrIndexMismatch      = errors.New("index does not match data file")
)

// Entry is one partition stored in an SSTable
type Entry struct {
	Key         string `json:"key"` // partition key
	Value       []byte `json:"value"`
	Timestamp   int64  `json:"timestamp"`
	IsTombstone bool   `json:"is_tombstone,omitempty"`
}

// IndexEntry represents an entry in the SSTable index
type IndexEntry struct {
	Key      string
	Offset   int64
	Size     int32
	Checksum uint32 // CRC32 of the entry data, zero for version 1
}

// SupportedVersion reports whether the reader understands a format version
func SupportedVersion(v uint16) bool {
	return v == Version1 || v == Version2
}

func hasChecksums(v uint16) bool {
	return v >= Version2
}

func writeHeader(w io.Writer, version uint16) error {
	var buf [headerSize]byte
	copy(buf[:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], version)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates a data file header, returning its version
func ReadHeader(r io.Reader) (uint16, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: header", ErrTruncated)
		}
		return 0, err
	}
	if [4]byte(buf[:4]) != magic {
		return 0, ErrBadMagic
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if !SupportedVersion(version) {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return version, nil
}
