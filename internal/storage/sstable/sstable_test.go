package sstable

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []*Entry {
	return []*Entry{
		{Key: "user:1", Value: []byte("alice"), Timestamp: 100},
		{Key: "user:2", Value: []byte("bob"), Timestamp: 200},
		{Key: "user:3", Timestamp: 300, IsTombstone: true},
	}
}

func readAll(t *testing.T, r *SSTableReader) []*Entry {
	t.Helper()
	var out []*Entry
	for {
		e, raw, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		require.NotEmpty(t, raw)
		out = append(out, e)
	}
}

func TestWriteAndRead(t *testing.T) {
	for _, version := range []uint16{Version1, Version2} {
		path := filepath.Join(t.TempDir(), "data"+DataFileExt)
		require.NoError(t, WriteTable(path, version, sampleEntries()))

		r, err := NewSSTableReader(path)
		require.NoError(t, err)

		assert.Equal(t, version, r.Version())
		assert.Equal(t, 3, r.Len())
		assert.Equal(t, path, r.Path())
		assert.Equal(t, sampleEntries(), readAll(t, r))

		// Exhausted reader keeps returning EOF
		_, _, err = r.Next()
		assert.Equal(t, io.EOF, err)
		require.NoError(t, r.Close())
	}
}

func TestWriter_DefaultVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+DataFileExt)
	w, err := NewSSTableWriter(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(&Entry{Key: "k", Value: []byte("v")}))
	assert.Greater(t, w.Size(), int64(headerSize))
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())

	version, n, err := ValidateFile(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, version)
	assert.Equal(t, 1, n)
}

func TestWriter_UnsupportedVersion(t *testing.T) {
	_, err := NewSSTableWriter(filepath.Join(t.TempDir(), "x.sst"), &WriterConfig{Version: 9})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestReader_EmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty"+DataFileExt)
	require.NoError(t, WriteTable(path, CurrentVersion, nil))

	r, err := NewSSTableReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 0, r.Len())
	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+DataFileExt)
	require.NoError(t, os.WriteFile(path, []byte("NOTANSSTABLE"), 0o644))
	require.NoError(t, os.WriteFile(path+IndexFileExt, nil, 0o644))

	_, err := NewSSTableReader(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReader_TruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short"+DataFileExt)
	require.NoError(t, os.WriteFile(path, []byte("PS"), 0o644))

	_, err := NewSSTableReader(path)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReader_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v9"+DataFileExt)
	require.NoError(t, os.WriteFile(path, []byte{'P', 'S', 'S', 'T', 9, 0, 0, 0}, 0o644))

	_, err := NewSSTableReader(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestReader_MissingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+DataFileExt)
	require.NoError(t, WriteTable(path, CurrentVersion, sampleEntries()))
	require.NoError(t, os.Remove(path+IndexFileExt))

	_, err := NewSSTableReader(path)
	assert.Error(t, err)
}

func TestReader_IndexPointsPastEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+DataFileExt)
	require.NoError(t, WriteTable(path, CurrentVersion, sampleEntries()))

	// Drop the tail of the data file so the last index entry dangles
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-4))

	_, err = NewSSTableReader(path)
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

func TestReader_TruncatedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+DataFileExt)
	require.NoError(t, WriteTable(path, CurrentVersion, sampleEntries()))

	info, err := os.Stat(path + IndexFileExt)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path+IndexFileExt, info.Size()-2))

	_, err = NewSSTableReader(path)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReader_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+DataFileExt)
	require.NoError(t, WriteTable(path, Version2, sampleEntries()))

	// Flip one byte inside the first entry's payload
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize+8+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := NewSSTableReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Next()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
