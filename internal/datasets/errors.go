package datasets

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownDataset       = errors.New("unknown dataset")
	ErrDatasetUnavailable   = errors.New("dataset unavailable")
	ErrDatasetFormat        = errors.New("dataset format invalid")
	ErrDatasetShapeMismatch = errors.New("dataset shape mismatch")
	ErrInvalidVersion       = errors.New("invalid dataset version")
	ErrCacheEviction        = errors.New("dataset cache eviction failed")
	ErrInvalidSpec          = errors.New("invalid dataset spec")
)

// DatasetShapeMismatchError guards against serving a stale or wrong-version
// cached file.
type DatasetShapeMismatchError struct {
	Path     string
	Expected Shape
	Actual   Shape
}

func (e *DatasetShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", ErrDatasetShapeMismatch, e.Path, e.Expected, e.Actual)
}

func (e *DatasetShapeMismatchError) Unwrap() error {
	return ErrDatasetShapeMismatch
}

type InvalidVersionError struct {
	Version string
	Valid   []string
}

func (e *InvalidVersionError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("%s: %q (dataset has no versions)", ErrInvalidVersion, e.Version)
	}
	return fmt.Sprintf("%s: %q, must be one of [%s]", ErrInvalidVersion, e.Version, strings.Join(e.Valid, ", "))
}

func (e *InvalidVersionError) Unwrap() error {
	return ErrInvalidVersion
}

type CacheEvictionError struct {
	Path string
	Err  error
}

func (e *CacheEvictionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCacheEviction, e.Path, e.Err)
}

func (e *CacheEvictionError) Unwrap() []error {
	return []error{ErrCacheEviction, e.Err}
}
