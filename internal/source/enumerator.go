package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/storage/sstable"
	"github.com/devrev/pairdb/bulkloader/internal/validation"
)

// File describes one validated data file
type File struct {
	Path    string
	Table   model.TableID
	Version uint16
	Entries int
}

// Options controls how a source directory is read
type Options struct {
	// TargetKeyspace replaces the keyspace derived from the directory layout
	TargetKeyspace string
	// ValidateParallel bounds concurrent header and index validation
	ValidateParallel int
	// MaxKeySize and MaxValueSize reject entries a node would refuse; zero
	// means the node defaults
	MaxKeySize   int
	MaxValueSize int
}

// Enumerator discovers SSTables under a directory
type Enumerator struct {
	opts   Options
	logger *zap.Logger
}

// NewEnumerator creates a new enumerator
func NewEnumerator(opts Options, logger *zap.Logger) *Enumerator {
	if opts.ValidateParallel <= 0 {
		opts.ValidateParallel = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{opts: opts, logger: logger}
}

// Enumerate walks dir for data files and validates every one of them before
// returning. Nothing is yielded from a directory containing a corrupt file.
func (e *Enumerator) Enumerate(ctx context.Context, dir string) (*Enumeration, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, loaderrors.Usage(fmt.Sprintf("cannot read source directory %s", dir), err)
	}
	if !info.IsDir() {
		return nil, loaderrors.Usagef("source %s is not a directory", dir)
	}

	paths, err := findDataFiles(dir)
	if err != nil {
		return nil, loaderrors.Usage(fmt.Sprintf("cannot walk source directory %s", dir), err)
	}

	files := make([]File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ValidateParallel)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := e.validate(path)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, loaderrors.Canceled("source validation canceled", ctx.Err())
		}
		return nil, err
	}

	e.logger.Info("Source directory enumerated",
		zap.String("dir", dir),
		zap.Int("files", len(files)))

	return &Enumeration{
		files:     files,
		validator: validation.NewValidatorWithLimits(e.opts.MaxKeySize, e.opts.MaxValueSize),
		logger:    e.logger,
	}, nil
}

// validate checks a file's header and index and derives its table
func (e *Enumerator) validate(path string) (File, error) {
	table, err := tableFromPath(path)
	if err != nil {
		return File{}, loaderrors.CorruptSource(path, "cannot derive keyspace and table from path", err)
	}
	if e.opts.TargetKeyspace != "" {
		table.Keyspace = e.opts.TargetKeyspace
	}

	version, n, err := sstable.ValidateFile(path)
	if err != nil {
		return File{}, loaderrors.CorruptSource(path, "invalid sstable", err)
	}

	e.logger.Debug("Validated source file",
		zap.String("path", path),
		zap.String("table", table.String()),
		zap.Uint16("version", version),
		zap.Int("entries", n))

	return File{Path: path, Table: table, Version: version, Entries: n}, nil
}

func findDataFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), sstable.DataFileExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// tableFromPath reads .../<keyspace>/<table>[-<id>]/<file>.sst
func tableFromPath(path string) (model.TableID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.TableID{}, err
	}
	tableDir := filepath.Dir(abs)
	keyspaceDir := filepath.Dir(tableDir)

	table, _, _ := strings.Cut(filepath.Base(tableDir), "-")
	keyspace := filepath.Base(keyspaceDir)

	if !validName(table) || !validName(keyspace) || keyspaceDir == tableDir {
		return model.TableID{}, fmt.Errorf("path %s is not <keyspace>/<table>/<file>", path)
	}
	return model.TableID{Keyspace: keyspace, Table: table}, nil
}

func validName(s string) bool {
	return s != "" && s != "." && s != string(filepath.Separator)
}

// Enumeration yields partitions from validated files, files in path order and
// entries in file order. It is not safe for concurrent use.
type Enumeration struct {
	files     []File
	next      int
	reader    *sstable.SSTableReader
	validator *validation.Validator
	logger    *zap.Logger
}

// Files returns the validated files
func (en *Enumeration) Files() []File {
	out := make([]File, len(en.files))
	copy(out, en.files)
	return out
}

// Tables returns the distinct tables found, sorted
func (en *Enumeration) Tables() []model.TableID {
	seen := make(map[model.TableID]bool)
	tables := make([]model.TableID, 0)
	for _, f := range en.files {
		if !seen[f.Table] {
			seen[f.Table] = true
			tables = append(tables, f.Table)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].String() < tables[j].String() })
	return tables
}

// TotalEntries returns the number of entries across all files
func (en *Enumeration) TotalEntries() int {
	total := 0
	for _, f := range en.files {
		total += f.Entries
	}
	return total
}

// Next returns the next partition, or io.EOF once every file is exhausted
func (en *Enumeration) Next(ctx context.Context) (*model.PartitionRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, loaderrors.Canceled("source enumeration canceled", err)
		}

		if en.reader == nil {
			if en.next >= len(en.files) {
				return nil, io.EOF
			}
			path := en.files[en.next].Path
			r, err := sstable.NewSSTableReader(path)
			if err != nil {
				return nil, loaderrors.CorruptSource(path, "cannot reopen sstable", err)
			}
			en.reader = r
		}

		file := en.files[en.next]
		entry, raw, err := en.reader.Next()
		if err == io.EOF {
			en.closeReader()
			en.next++
			continue
		}
		if err != nil {
			return nil, loaderrors.CorruptSource(file.Path, "unreadable entry", err)
		}
		if err := en.validator.ValidateEntry(entry.Key, entry.Value); err != nil {
			return nil, loaderrors.CorruptSource(file.Path, "invalid entry", err)
		}

		return &model.PartitionRecord{
			Key:        []byte(entry.Key),
			Table:      file.Table,
			Payload:    raw,
			SourceFile: file.Path,
		}, nil
	}
}

func (en *Enumeration) closeReader() {
	if en.reader == nil {
		return
	}
	if err := en.reader.Close(); err != nil {
		en.logger.Warn("Failed to close source file", zap.String("path", en.reader.Path()), zap.Error(err))
	}
	en.reader = nil
}

// Close releases the currently open file, if any
func (en *Enumeration) Close() error {
	en.closeReader()
	en.next = len(en.files)
	return nil
}
