package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DatasetSpec describes one named remote dataset.
type DatasetSpec struct {
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description,omitempty"`
	BackupURL        string         `yaml:"backup_url"`
	Format           string         `yaml:"format"`
	DefaultCachePath string         `yaml:"default_cache_path"`
	ExpectedShape    *Shape         `yaml:"expected_shape,omitempty"`
	SHA256           string         `yaml:"sha256,omitempty"`
	VersionFilter    *VersionFilter `yaml:"version_filter,omitempty"`

	// Filter replaces VersionFilter when set.
	Filter Filter `yaml:"-"`
}

func (s DatasetSpec) activeFilter() Filter {
	if s.Filter != nil {
		return s.Filter
	}
	if s.VersionFilter != nil {
		return s.VersionFilter
	}
	return nil
}

func (s DatasetSpec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("dataset name is required")
	}
	if _, err := CanonicalExtension(s.Format); err != nil {
		return fmt.Errorf("dataset %q: %w", s.Name, err)
	}
	if s.ExpectedShape != nil && (s.ExpectedShape.Rows < 0 || s.ExpectedShape.Columns < 0) {
		return fmt.Errorf("dataset %q: expected shape %s is negative", s.Name, *s.ExpectedShape)
	}
	if s.VersionFilter != nil {
		if err := s.VersionFilter.validate(); err != nil {
			return fmt.Errorf("dataset %q: %w", s.Name, err)
		}
	}
	return nil
}

// ResolveCachePath expands path (or the dataset's DefaultCachePath) to an absolute path
// ending in the format's canonical extension.
func ResolveCachePath(spec DatasetSpec, path string) (string, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = strings.TrimSpace(spec.DefaultCachePath)
	}
	if candidate == "" {
		candidate = filepath.Join("~", ".cache", "transcriptformer", spec.Name)
	}
	expanded, err := expandHome(candidate)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve cache path %q: %w", candidate, err)
	}
	ext, err := CanonicalExtension(spec.Format)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(abs, ext) {
		abs += ext
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
