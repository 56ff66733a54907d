package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/spotbridge/internal/errors"
)

var errLockHeld = errors.New("lock held by another process")

// envLock is an exclusive flock(2) on an environment's lock file. It keeps
// two spotbridge processes from building, or pruning, the same
// environment at once. flock locks belong to the open file description, so
// two envLocks on one path conflict even inside a single process.
type envLock struct {
	f *os.File
}

// tryLock takes the lock at path without blocking. It returns errLockHeld
// when another holder has it.
func tryLock(path string) (*envLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	switch err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err {
	case nil:
		return &envLock{f: f}, nil
	case unix.EWOULDBLOCK:
		_ = f.Close()
		return nil, errLockHeld
	default:
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
}

// waitLock retries tryLock with exponential backoff, starting at poll and
// capped at 16*poll, until it succeeds or ctx is done.
func waitLock(ctx context.Context, path string, poll time.Duration) (*envLock, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll
	b.MaxInterval = 16 * poll
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (*envLock, error) {
		l, err := tryLock(path)
		if err != nil && !errors.Is(err, errLockHeld) {
			return nil, backoff.Permanent(err)
		}
		return l, err
	}, backoff.WithContext(b, ctx))
}

// release drops the lock. Calling it on a nil or released lock is a no-op.
func (l *envLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}
