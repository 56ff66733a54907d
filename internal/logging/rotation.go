package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes past which the log is rotated.
	// 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. 0 keeps none.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
	// Fs is the filesystem the log lives on. Nil means the OS filesystem.
	Fs afero.Fs
}

// DefaultRotationConfig returns a RotationConfig with sensible defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an append-only log file that moves itself aside once
// it grows past a size limit. Rotated files are named path.1 (newest) to
// path.N, with a .gz suffix when compressed. It is safe for concurrent use.
type RotatingWriter struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	limit    int64
	keep     int
	compress bool

	file afero.File
	size int64
}

// NewRotatingWriter opens, or creates, the log file at path.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	fs := config.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	rw := &RotatingWriter{
		fs:       fs,
		path:     path,
		limit:    int64(config.MaxSizeMB) << 20,
		keep:     config.MaxBackups,
		compress: config.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := rw.fs.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := rw.fs.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file, rw.size = f, info.Size()
	return nil
}

// Write appends p, rotating first when p would take the file past the
// limit. A failed rotation is reported on stderr and the write goes to
// the current file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
		if rw.file == nil {
			return 0, fmt.Errorf("log file is closed")
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.closeFile(); err != nil {
		return err
	}

	var moveErr error
	if rw.keep > 0 {
		rw.shiftBackups()
		moveErr = rw.fs.Rename(rw.path, rw.Backup(1))
		if moveErr == nil && rw.compress {
			moveErr = rw.gzip(rw.Backup(1))
		}
	} else {
		moveErr = rw.fs.Remove(rw.path)
	}

	if err := rw.open(); err != nil {
		return err
	}
	return moveErr
}

// shiftBackups renames path.i to path.i+1, dropping the oldest.
func (rw *RotatingWriter) shiftBackups() {
	for i := rw.keep; i >= 1; i-- {
		for _, ext := range []string{"", ".gz"} {
			src := rw.Backup(i) + ext
			if i == rw.keep {
				_ = rw.fs.Remove(src)
				continue
			}
			_ = rw.fs.Rename(src, rw.Backup(i+1)+ext)
		}
	}
}

// gzip replaces path by path.gz.
func (rw *RotatingWriter) gzip(path string) error {
	src, err := rw.fs.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := rw.fs.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = rw.fs.Remove(path + ".gz")
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	return rw.fs.Remove(path)
}

// Backup returns the path of the n-th rotated file, without compression
// suffix.
func (rw *RotatingWriter) Backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

func (rw *RotatingWriter) closeFile() error {
	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// Sync flushes the log file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close closes the log file. Later writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.closeFile()
}

// Size returns the size of the current log file in bytes.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Path returns the path of the current log file.
func (rw *RotatingWriter) Path() string {
	return rw.path
}
