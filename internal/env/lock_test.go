package env

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.lock")

	first, err := tryLock(path)
	require.NoError(t, err)

	_, err = tryLock(path)
	assert.ErrorIs(t, err, errLockHeld)

	require.NoError(t, first.release())
	require.NoError(t, first.release(), "second release is a no-op")

	again, err := tryLock(path)
	require.NoError(t, err)
	assert.NoError(t, again.release())
}

func TestTryLock_MissingDirectory(t *testing.T) {
	_, err := tryLock(filepath.Join(t.TempDir(), "missing", "env.lock"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errLockHeld)
}

func TestRelease_Nil(t *testing.T) {
	var l *envLock
	assert.NoError(t, l.release())
}

func TestWaitLock(t *testing.T) {
	tests := []struct {
		name      string
		holdFor   time.Duration
		timeout   time.Duration
		wantError bool
	}{
		{"free", 0, time.Second, false},
		{"released while waiting", 50 * time.Millisecond, 5 * time.Second, false},
		{"held past deadline", -1, 50 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "env.lock")
			if tt.holdFor != 0 {
				holder, err := tryLock(path)
				require.NoError(t, err)
				if tt.holdFor > 0 {
					time.AfterFunc(tt.holdFor, func() { _ = holder.release() })
				} else {
					t.Cleanup(func() { _ = holder.release() })
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()
			l, err := waitLock(ctx, path, 5*time.Millisecond)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, l.release())
		})
	}
}

func TestWaitLock_PermanentError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := waitLock(ctx, filepath.Join(t.TempDir(), "missing", "env.lock"), time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "open failures are not retried")
}
