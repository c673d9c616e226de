package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type FetchOptions struct {
	// Path overrides DatasetSpec.DefaultCachePath.
	Path          string
	ForceDownload bool
	// Version selects the filter version; empty uses the filter default.
	Version string
}

// CachedDataset is owned by the caller; nothing in it is shared with other
// Fetch calls.
type CachedDataset struct {
	Spec           DatasetSpec
	Path           string
	Table          *Table
	Version        string
	Downloaded     bool
	LoadedShape    Shape
	DroppedRows    int
	DroppedColumns int
}

type Provider struct {
	fetcher   Fetcher
	strategy  CacheStrategy
	loaders   map[string]Loader
	logger    zerolog.Logger
	lockRetry time.Duration
	downloads singleflight.Group
}

type ProviderOption func(*Provider)

func WithFetcher(fetcher Fetcher) ProviderOption {
	return func(p *Provider) {
		if fetcher != nil {
			p.fetcher = fetcher
		}
	}
}

func WithCacheStrategy(strategy CacheStrategy) ProviderOption {
	return func(p *Provider) {
		if strategy != nil {
			p.strategy = strategy
		}
	}
}

func WithLoader(format string, loader Loader) ProviderOption {
	return func(p *Provider) {
		p.loaders[format] = loader
	}
}

func WithLogger(logger zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

func WithLockRetry(retry time.Duration) ProviderOption {
	return func(p *Provider) {
		if retry > 0 {
			p.lockRetry = retry
		}
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		fetcher:  DefaultFetcher(),
		strategy: PresenceStrategy{},
		loaders: map[string]Loader{
			FormatArrow:   ArrowFileLoader{},
			FormatParquet: ParquetLoader{},
			FormatH5AD: BridgeLoader{
				Format:  FormatH5AD,
				Command: ParseBridgeCommand(os.Getenv("TFSERVE_H5AD_CONVERTER_CMD")),
			},
		},
		logger:    zerolog.Nop(),
		lockRetry: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns the dataset described by spec, downloading it only when the
// cache strategy rejects the local copy or ForceDownload is set.
func (p *Provider) Fetch(ctx context.Context, spec DatasetSpec, opts FetchOptions) (*CachedDataset, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	path, err := ResolveCachePath(spec, opts.Path)
	if err != nil {
		return nil, err
	}
	loader, ok := p.loaders[spec.Format]
	if !ok {
		return nil, fmt.Errorf("%w: no loader registered for format %q", ErrDatasetFormat, spec.Format)
	}
	filter := spec.activeFilter()
	version := opts.Version
	switch typed := filter.(type) {
	case nil:
		if version != "" {
			return nil, &InvalidVersionError{Version: version}
		}
	case *VersionFilter:
		if version == "" {
			version = typed.DefaultVersion
		}
		if _, ok := typed.Versions[version]; !ok {
			return nil, &InvalidVersionError{Version: version, Valid: typed.VersionNames()}
		}
	}

	downloaded, err := p.ensure(ctx, spec, path, opts.ForceDownload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	table, err := loader.Load(ctx, path)
	if err != nil {
		if !errors.Is(err, ErrDatasetFormat) {
			err = fmt.Errorf("%w: %w", ErrDatasetFormat, err)
		}
		return nil, err
	}
	loaded := table.Shape()
	p.logger.Debug().
		Str("dataset", spec.Name).
		Str("path", path).
		Stringer("shape", loaded).
		Dur("elapsed", time.Since(start)).
		Msg("dataset_loaded")

	if spec.ExpectedShape != nil && *spec.ExpectedShape != loaded {
		return nil, &DatasetShapeMismatchError{Path: path, Expected: *spec.ExpectedShape, Actual: loaded}
	}

	if filter != nil {
		table, err = filter.Apply(table, version)
		if err != nil {
			return nil, err
		}
	}
	final := table.Shape()
	p.logger.Info().
		Str("dataset", spec.Name).
		Str("version", version).
		Bool("downloaded", downloaded).
		Stringer("shape", final).
		Msg("dataset_ready")

	return &CachedDataset{
		Spec:           spec,
		Path:           path,
		Table:          table,
		Version:        version,
		Downloaded:     downloaded,
		LoadedShape:    loaded,
		DroppedRows:    loaded.Rows - final.Rows,
		DroppedColumns: loaded.Columns - final.Columns,
	}, nil
}

// ensure makes path hold a valid copy. Concurrent callers in this process
// share one attempt; other processes are excluded by the lock file. The
// shared attempt is detached from any single caller's cancellation, and each
// caller stops waiting when its own ctx is done.
func (p *Provider) ensure(ctx context.Context, spec DatasetSpec, path string, force bool) (bool, error) {
	key := path
	if force {
		key += "|force"
	}
	shared := context.WithoutCancel(ctx)
	ch := p.downloads.DoChan(key, func() (any, error) {
		return p.ensureLocked(shared, spec, path, force)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Provider) ensureLocked(ctx context.Context, spec DatasetSpec, path string, force bool) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("%w: create cache dir: %w", ErrDatasetUnavailable, err)
	}
	unlock, err := lockPath(ctx, path, p.lockRetry)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}
	defer func() {
		if unlockErr := unlock(); unlockErr != nil {
			p.logger.Warn().Err(unlockErr).Str("path", path).Msg("dataset_unlock_failed")
		}
	}()

	if force {
		if err := p.strategy.Evict(path); err != nil {
			return false, &CacheEvictionError{Path: path, Err: err}
		}
		p.logger.Info().Str("dataset", spec.Name).Str("path", path).Msg("dataset_cache_evicted")
	}

	valid, err := p.strategy.Valid(path, spec)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}
	if valid {
		p.logger.Debug().Str("dataset", spec.Name).Str("path", path).Msg("dataset_cache_hit")
		return false, nil
	}
	if _, present, _ := statRegular(path); present {
		p.logger.Warn().Str("dataset", spec.Name).Str("path", path).Msg("dataset_cache_stale")
		if err := p.strategy.Evict(path); err != nil {
			return false, &CacheEvictionError{Path: path, Err: err}
		}
	}

	start := time.Now()
	if err := p.download(ctx, spec, path); err != nil {
		p.logger.Error().Err(err).Str("dataset", spec.Name).Str("url", spec.BackupURL).Msg("dataset_download_failed")
		return false, fmt.Errorf("%w: %s: %w", ErrDatasetUnavailable, path, err)
	}
	if err := p.strategy.Commit(path, spec); err != nil {
		return false, fmt.Errorf("%w: commit %s: %w", ErrDatasetUnavailable, path, err)
	}
	p.logger.Info().
		Str("dataset", spec.Name).
		Str("url", spec.BackupURL).
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("dataset_downloaded")
	return true, nil
}

// download stages into a temp file in the cache directory and renames it
// into place only after it has been verified.
func (p *Provider) download(ctx context.Context, spec DatasetSpec, path string) error {
	if strings.TrimSpace(spec.BackupURL) == "" {
		return fmt.Errorf("dataset %q has no backup url", spec.Name)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		_ = removeIfExists(tmpPath)
	}()

	if err := p.fetcher.Fetch(ctx, spec.BackupURL, tmpPath); err != nil {
		return err
	}
	if want := strings.TrimSpace(spec.SHA256); want != "" {
		got, err := fileSHA256(tmpPath)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("sha256 mismatch: expected %s, got %s", want, got)
		}
	}
	return os.Rename(tmpPath, path)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
