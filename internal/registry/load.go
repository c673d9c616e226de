package registry

import (
	"fmt"
	"path/filepath"

	"github.com/transcriptformer/tfserve/internal/predictor"
)

// Context is what a loaded package hands to the adapter: artifact keys
// resolved to local paths, plus free-form tags.
type Context struct {
	Artifacts map[string]string
	Tags      map[string]string
}

// FromContext builds an adapter from resolved artifacts. Options are applied
// after the packaged bindings, so WithEmbedding overrides a packaged embedding.
func FromContext(loadCtx Context, opts ...predictor.Option) (*predictor.Adapter, error) {
	variant := loadCtx.Tags[TagModelVariant]
	if variant == "" {
		variant = predictor.VariantUnknown
	}
	bound := make([]predictor.Option, 0, len(opts)+1)
	if embedding := loadCtx.Artifacts[ArtifactEmbedding]; embedding != "" {
		bound = append(bound, predictor.WithEmbedding(embedding))
	}
	bound = append(bound, opts...)
	return predictor.Load(loadCtx.Artifacts[ArtifactCheckpoint], variant, bound...)
}

// LoadContext reads the package in dir and returns a ready adapter.
func LoadContext(dir string, opts ...predictor.Option) (*predictor.Adapter, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	artifacts := make(map[string]string, len(manifest.Artifacts))
	for key, rel := range manifest.Artifacts {
		artifacts[key] = resolveArtifact(dir, rel)
	}
	adapter, err := FromContext(Context{Artifacts: artifacts, Tags: manifest.Tags}, opts...)
	if err != nil {
		return nil, fmt.Errorf("load package %q: %w", dir, err)
	}
	return adapter, nil
}

func resolveArtifact(dir string, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	abs, err := filepath.Abs(filepath.Join(dir, rel))
	if err != nil {
		return filepath.Join(dir, rel)
	}
	return abs
}
