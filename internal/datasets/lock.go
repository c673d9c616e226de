package datasets

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// lockPath holds an exclusive advisory lock on path+".lock" so that at most
// one process downloads a given cache path at a time.
func lockPath(ctx context.Context, path string, retry time.Duration) (func() error, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, retry)
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %q: not acquired", path)
	}
	return lock.Unlock, nil
}
