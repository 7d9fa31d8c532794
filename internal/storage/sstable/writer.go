package sstable

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/devrev/pairdb/bulkloader/internal/util"
)

// SSTableWriter writes data to an SSTable file. The loader itself only reads
// SSTables; the writer produces files for fixtures and export tooling.
type SSTableWriter struct {
	dataFile  *os.File
	indexFile *os.File
	version   uint16
	offset    int64
	index     []IndexEntry
}

// WriterConfig holds SSTable writer configuration
type WriterConfig struct {
	Version uint16
}

// NewSSTableWriter creates a new SSTable writer at filePath (index at filePath+".idx")
func NewSSTableWriter(filePath string, config *WriterConfig) (*SSTableWriter, error) {
	version := CurrentVersion
	if config != nil && config.Version != 0 {
		version = config.Version
	}
	if !SupportedVersion(version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	dataFile, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create data file: %w", err)
	}

	indexFile, err := os.Create(filePath + IndexFileExt)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}

	if err := writeHeader(dataFile, version); err != nil {
		dataFile.Close()
		indexFile.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &SSTableWriter{
		dataFile:  dataFile,
		indexFile: indexFile,
		version:   version,
		offset:    headerSize,
		index:     make([]IndexEntry, 0),
	}, nil
}

// Write appends an entry to the SSTable
func (w *SSTableWriter) Write(entry *Entry) error {
	// Serialize entry to JSON
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// Write entry size
	entrySize := int32(len(data))
	if err := binary.Write(w.dataFile, binary.LittleEndian, entrySize); err != nil {
		return fmt.Errorf("failed to write entry size: %w", err)
	}
	written := int64(4)

	var checksum uint32
	if hasChecksums(w.version) {
		checksum = util.ComputeChecksum(data)
		if err := binary.Write(w.dataFile, binary.LittleEndian, checksum); err != nil {
			return fmt.Errorf("failed to write checksum: %w", err)
		}
		written += 4
	}

	// Write entry data
	n, err := w.dataFile.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write entry data: %w", err)
	}

	w.index = append(w.index, IndexEntry{
		Key:      entry.Key,
		Offset:   w.offset,
		Size:     entrySize,
		Checksum: checksum,
	})

	w.offset += written + int64(n)

	return nil
}

// Finalize writes the index and syncs both files
func (w *SSTableWriter) Finalize() error {
	for _, entry := range w.index {
		if err := w.writeIndexEntry(entry); err != nil {
			return fmt.Errorf("failed to write index entry: %w", err)
		}
	}

	if err := w.dataFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync data file: %w", err)
	}
	if err := w.indexFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync index file: %w", err)
	}

	return nil
}

// writeIndexEntry writes a single index entry
func (w *SSTableWriter) writeIndexEntry(entry IndexEntry) error {
	// Write key length
	keyLen := int32(len(entry.Key))
	if err := binary.Write(w.indexFile, binary.LittleEndian, keyLen); err != nil {
		return err
	}

	// Write key
	if _, err := w.indexFile.Write([]byte(entry.Key)); err != nil {
		return err
	}

	// Write offset
	if err := binary.Write(w.indexFile, binary.LittleEndian, entry.Offset); err != nil {
		return err
	}

	// Write size
	if err := binary.Write(w.indexFile, binary.LittleEndian, entry.Size); err != nil {
		return err
	}

	if hasChecksums(w.version) {
		if err := binary.Write(w.indexFile, binary.LittleEndian, entry.Checksum); err != nil {
			return err
		}
	}

	return nil
}

// Size returns the current size of the data file
func (w *SSTableWriter) Size() int64 {
	return w.offset
}

// Close closes all files
func (w *SSTableWriter) Close() error {
	var err error
	if e := w.dataFile.Close(); e != nil {
		err = e
	}
	if e := w.indexFile.Close(); e != nil {
		err = e
	}
	return err
}

// WriteTable writes entries to a new SSTable in one call
func WriteTable(filePath string, version uint16, entries []*Entry) error {
	w, err := NewSSTableWriter(filePath, &WriterConfig{Version: version})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Finalize(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
