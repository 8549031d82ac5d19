// Package lock keeps a single engine instance per working directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultTimeout bounds how long Acquire waits for a held lock.
const DefaultTimeout = 5 * time.Second

// ErrLocked means another process holds the lock.
var ErrLocked = errors.New("another instance is already running")

// Lock is an acquired process lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive lock on path, waiting up to timeout.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}

	fl := flock.New(path)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
