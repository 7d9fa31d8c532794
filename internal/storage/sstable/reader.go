package sstable

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/devrev/pairdb/bulkloader/internal/util"
)

// SSTableReader reads entries from an SSTable in index order. Files are opened read-only.
type SSTableReader struct {
	dataPath string
	dataFile *os.File
	dataSize int64
	version  uint16
	index    []IndexEntry
	next     int
}

// NewSSTableReader opens a data file and its index, validating the header and
// loading the whole index before any entry is read.
func NewSSTableReader(dataPath string) (*SSTableReader, error) {
	dataFile, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	reader := &SSTableReader{
		dataPath: dataPath,
		dataFile: dataFile,
	}

	if err := reader.init(); err != nil {
		dataFile.Close()
		return nil, err
	}

	return reader, nil
}

func (r *SSTableReader) init() error {
	info, err := r.dataFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat data file: %w", err)
	}
	r.dataSize = info.Size()

	version, err := ReadHeader(r.dataFile)
	if err != nil {
		return err
	}
	r.version = version

	indexFile, err := os.Open(r.dataPath + IndexFileExt)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer indexFile.Close()

	if err := r.loadIndex(bufio.NewReader(indexFile)); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	return nil
}

// loadIndex loads the index file into memory, checking every entry points inside the data file
func (r *SSTableReader) loadIndex(in io.Reader) error {
	for {
		// Read key length
		var keyLen int32
		if err := binary.Read(in, binary.LittleEndian, &keyLen); err != nil {
			if err == io.EOF {
				break
			}
			return truncated(err)
		}
		if keyLen < 0 || int64(keyLen) > r.dataSize {
			return fmt.Errorf("%w: key length %d", ErrIndexMismatch, keyLen)
		}

		// Read key
		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(in, keyBytes); err != nil {
			return truncated(err)
		}

		// Read offset
		var offset int64
		if err := binary.Read(in, binary.LittleEndian, &offset); err != nil {
			return truncated(err)
		}

		// Read size
		var size int32
		if err := binary.Read(in, binary.LittleEndian, &size); err != nil {
			return truncated(err)
		}

		var checksum uint32
		if hasChecksums(r.version) {
			if err := binary.Read(in, binary.LittleEndian, &checksum); err != nil {
				return truncated(err)
			}
		}

		if offset < headerSize || size < 0 || offset+r.frameSize()+int64(size) > r.dataSize {
			return fmt.Errorf("%w: entry %q at offset %d size %d", ErrIndexMismatch, keyBytes, offset, size)
		}

		r.index = append(r.index, IndexEntry{
			Key:      string(keyBytes),
			Offset:   offset,
			Size:     size,
			Checksum: checksum,
		})
	}

	return nil
}

// frameSize is the number of bytes preceding each entry's payload
func (r *SSTableReader) frameSize() int64 {
	if hasChecksums(r.version) {
		return 8
	}
	return 4
}

// Version returns the format version of the file
func (r *SSTableReader) Version() uint16 {
	return r.version
}

// Len returns the number of entries listed in the index
func (r *SSTableReader) Len() int {
	return len(r.index)
}

// Path returns the data file path
func (r *SSTableReader) Path() string {
	return r.dataPath
}

// Next returns the next entry together with its encoded bytes, or io.EOF
func (r *SSTableReader) Next() (*Entry, []byte, error) {
	if r.next >= len(r.index) {
		return nil, nil, io.EOF
	}
	indexEntry := r.index[r.next]
	r.next++

	entry, data, err := r.readAt(indexEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("entry %q: %w", indexEntry.Key, err)
	}
	return entry, data, nil
}

// readAt reads one entry with checksum validation
func (r *SSTableReader) readAt(indexEntry IndexEntry) (*Entry, []byte, error) {
	// Seek to offset
	if _, err := r.dataFile.Seek(indexEntry.Offset, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("failed to seek to offset: %w", err)
	}

	// Read entry size
	var entrySize int32
	if err := binary.Read(r.dataFile, binary.LittleEndian, &entrySize); err != nil {
		return nil, nil, truncated(err)
	}
	if entrySize != indexEntry.Size {
		return nil, nil, fmt.Errorf("%w: size %d, index says %d", ErrIndexMismatch, entrySize, indexEntry.Size)
	}

	var checksum uint32
	if hasChecksums(r.version) {
		if err := binary.Read(r.dataFile, binary.LittleEndian, &checksum); err != nil {
			return nil, nil, truncated(err)
		}
	}

	// Read entry data
	data := make([]byte, entrySize)
	if _, err := io.ReadFull(r.dataFile, data); err != nil {
		return nil, nil, truncated(err)
	}

	if hasChecksums(r.version) {
		if checksum != indexEntry.Checksum || !util.ValidateChecksum(data, checksum) {
			return nil, nil, fmt.Errorf("%w: expected %d, got %d",
				ErrChecksumMismatch, checksum, util.ComputeChecksum(data))
		}
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	if entry.Key != indexEntry.Key {
		return nil, nil, fmt.Errorf("%w: key %q, index says %q", ErrIndexMismatch, entry.Key, indexEntry.Key)
	}

	return &entry, data, nil
}

// Close closes the reader
func (r *SSTableReader) Close() error {
	return r.dataFile.Close()
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

// ValidateFile opens a data file, checks its header and index, and closes it again
func ValidateFile(dataPath string) (version uint16, entries int, err error) {
	r, err := NewSSTableReader(dataPath)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()
	return r.Version(), r.Len(), nil
}
