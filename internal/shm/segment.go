// Package shm provides named shared-memory segments used to hand image
// buffers to the worker process without copying them through a pipe.
//
// A Segment is a file in a tmpfs directory (normally /dev/shm) mapped
// into memory with mmap(2). The worker opens the same name on its side.
// Segments are owned by an Arena, which unmaps and unlinks every segment
// it holds on Release.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// DefaultDir is the tmpfs directory backing POSIX shared memory on Linux.
const DefaultDir = "/dev/shm"

// namePrefix matches the prefix used by Python's shared_memory module.
const namePrefix = "psm_"

// Dir returns dir when set, DefaultDir when it exists, and the system
// temp directory otherwise.
func Dir(dir string) string {
	if dir != "" {
		return dir
	}
	if fi, err := os.Stat(DefaultDir); err == nil && fi.IsDir() {
		return DefaultDir
	}
	return os.TempDir()
}

// NewName returns a fresh segment name.
func NewName() string {
	return namePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Segment is one mapped shared-memory block.
type Segment struct {
	name string
	path string
	size int
	file *os.File
	data []byte
}

// Create allocates a new segment of size bytes in dir.
func Create(dir string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid segment size %d", size)
	}
	name := NewName()
	path := filepath.Join(Dir(dir), name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", name, err)
	}
	seg, err := mapFile(name, path, f, size)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return seg, nil
}

// Open maps an existing segment. A size of 0 maps the whole segment.
func Open(dir, name string, size int) (*Segment, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("shm: invalid segment name %q", name)
	}
	path := filepath.Join(Dir(dir), name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	if size == 0 {
		size = int(fi.Size())
	}
	if size <= 0 || int64(size) > fi.Size() {
		_ = f.Close()
		return nil, fmt.Errorf("shm: segment %s holds %d bytes, want %d", name, fi.Size(), size)
	}
	return mapFile(name, path, f, size)
}

func mapFile(name, path string, f *os.File, size int) (*Segment, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Segment{name: name, path: path, size: size, file: f, data: data}, nil
}

// Name returns the segment name as passed to the worker.
func (s *Segment) Name() string { return s.name }

// Size returns the mapped size in bytes.
func (s *Segment) Size() int { return s.size }

// Bytes returns the mapped memory. It is invalid after Close.
func (s *Segment) Bytes() []byte { return s.data }

// Close unmaps the segment. It is safe to call more than once.
func (s *Segment) Close() error {
	var errs []error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, fmt.Errorf("shm: munmap %s: %w", s.name, err))
		}
		s.data = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
		s.file = nil
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Unlink removes the segment name. Memory stays valid for processes that
// still map it.
func (s *Segment) Unlink() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: unlink %s: %w", s.name, err)
	}
	return nil
}
