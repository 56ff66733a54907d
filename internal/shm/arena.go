package shm

import (
	"errors"
	"sync"
)

// Arena owns the segments of one detection run. Release unmaps and
// unlinks all of them; it is meant to be deferred right after NewArena so
// memory is returned on every exit path.
type Arena struct {
	mu       sync.Mutex
	dir      string
	segments []*Segment
	released bool
}

// NewArena creates an arena allocating segments in dir (see Dir).
func NewArena(dir string) *Arena {
	return &Arena{dir: Dir(dir)}
}

// Dir returns the directory segments are allocated in.
func (a *Arena) Dir() string { return a.dir }

var errReleased = errors.New("shm: arena already released")

// Create allocates a segment owned by the arena.
func (a *Arena) Create(size int) (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, errReleased
	}
	seg, err := Create(a.dir, size)
	if err != nil {
		return nil, err
	}
	a.segments = append(a.segments, seg)
	return seg, nil
}

// Open maps a segment created by another process and takes ownership of it.
func (a *Arena) Open(name string, size int) (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, errReleased
	}
	seg, err := Open(a.dir, name, size)
	if err != nil {
		return nil, err
	}
	a.segments = append(a.segments, seg)
	return seg, nil
}

// Len returns the number of live segments.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Release closes and unlinks every segment. Subsequent calls are no-ops.
func (a *Arena) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.released = true
	var errs []error
	for _, seg := range a.segments {
		if err := seg.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := seg.Unlink(); err != nil {
			errs = append(errs, err)
		}
	}
	a.segments = nil
	return errors.Join(errs...)
}
