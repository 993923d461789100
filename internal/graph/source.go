package graph

import (
	"io"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

var (
	// ErrMissingFile is returned when a data file does not exist.
	ErrMissingFile = errors.New("data file not found")
	// ErrCorruptFile is returned when a data file's size is inconsistent
	// with its record layout.
	ErrCorruptFile = errors.New("data file corrupt")
)

// Strategy selects how a data file is accessed.
type Strategy string

const (
	// StrategyMemory reads the whole file into process memory once.
	StrategyMemory Strategy = "memory"
	// StrategyMmap maps the file read-only and lets the page cache decide
	// what stays resident.
	StrategyMmap Strategy = "mmap"
	// StrategyPread keeps the file open and issues a positioned read per
	// record. Lowest resident memory, highest per-query latency.
	StrategyPread Strategy = "pread"
)

// ParseStrategy validates a strategy name. The empty string selects
// StrategyMemory.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return StrategyMemory, nil
	case StrategyMemory, StrategyMmap, StrategyPread:
		return s, nil
	default:
		return "", errors.Errorf("unknown storage strategy %q", name)
	}
}

// Option configures how stores open their files.
type Option func(*options)

type options struct {
	strategy Strategy
}

// WithStrategy selects the file access strategy.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		if s != "" {
			o.strategy = s
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{strategy: StrategyMemory}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// blob is a read-only, random-access view of one data file.
type blob interface {
	io.ReaderAt
	Size() int64
	Close() error
}

type byteBlob struct {
	data  []byte
	close func() error
}

func (b *byteBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *byteBlob) Size() int64 { return int64(len(b.data)) }

func (b *byteBlob) Close() error {
	if b.close == nil {
		return nil
	}
	err := b.close()
	b.close = nil
	return err
}

type fileBlob struct {
	f    *os.File
	size int64
}

func (b *fileBlob) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }
func (b *fileBlob) Size() int64                             { return b.size }
func (b *fileBlob) Close() error                            { return b.f.Close() }

func openBlob(path string, strategy Strategy) (blob, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingFile, "open %s", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	size := info.Size()

	switch strategy {
	case StrategyPread:
		return &fileBlob{f: f, size: size}, nil
	case StrategyMmap:
		if size == 0 {
			_ = f.Close()
			return &byteBlob{}, nil
		}
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "mmap %s", path)
		}
		return &byteBlob{data: m, close: func() error {
			err := m.Unmap()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		}}, nil
	default:
		defer f.Close()
		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		return &byteBlob{data: data}, nil
	}
}
