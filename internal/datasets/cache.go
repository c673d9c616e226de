package datasets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CacheStrategy decides whether a cached file can be served, records what it
// needs after a download, and removes cached state.
type CacheStrategy interface {
	Valid(path string, spec DatasetSpec) (bool, error)
	Commit(path string, spec DatasetSpec) error
	Evict(path string) error
}

// PresenceStrategy treats any regular file at the cache path as valid. Files
// are reused until removed or force-downloaded.
type PresenceStrategy struct{}

func (PresenceStrategy) Valid(path string, _ DatasetSpec) (bool, error) {
	_, ok, err := statRegular(path)
	return ok, err
}

func (PresenceStrategy) Commit(string, DatasetSpec) error {
	return nil
}

func (PresenceStrategy) Evict(path string) error {
	return removeIfExists(path)
}

// ChecksumStrategy stores an xxhash64 of the downloaded file next to it and
// rejects cached files that no longer match.
type ChecksumStrategy struct{}

func checksumPath(path string) string {
	return path + ".xxh64"
}

func (ChecksumStrategy) Valid(path string, _ DatasetSpec) (bool, error) {
	_, ok, err := statRegular(path)
	if err != nil || !ok {
		return false, err
	}
	recorded, err := os.ReadFile(checksumPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read checksum for %q: %w", path, err)
	}
	want, err := strconv.ParseUint(strings.TrimSpace(string(recorded)), 16, 64)
	if err != nil {
		return false, nil
	}
	got, err := fileXXHash(path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func (ChecksumStrategy) Commit(path string, _ DatasetSpec) error {
	sum, err := fileXXHash(path)
	if err != nil {
		return err
	}
	return os.WriteFile(checksumPath(path), []byte(fmt.Sprintf("%016x\n", sum)), 0o644)
}

func (ChecksumStrategy) Evict(path string) error {
	return errors.Join(removeIfExists(path), removeIfExists(checksumPath(path)))
}

// TTLStrategy serves a cached file until it is older than MaxAge.
type TTLStrategy struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (s TTLStrategy) Valid(path string, _ DatasetSpec) (bool, error) {
	info, ok, err := statRegular(path)
	if err != nil || !ok {
		return false, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().Sub(info.ModTime()) <= s.MaxAge, nil
}

func (TTLStrategy) Commit(string, DatasetSpec) error {
	return nil
}

func (TTLStrategy) Evict(path string) error {
	return removeIfExists(path)
}

func statRegular(path string) (os.FileInfo, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("cache path %q is not a regular file", path)
	}
	return info, true, nil
}

// removeIfExists tolerates a concurrent removal.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fileXXHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return 0, fmt.Errorf("hash %q: %w", path, err)
	}
	return digest.Sum64(), nil
}
