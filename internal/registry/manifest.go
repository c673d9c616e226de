// Package registry stores a Transcriptformer checkpoint as a self-describing
// model package and loads it back into a prediction adapter.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ManifestFile = "model.yaml"
	Flavor       = "transcriptformer.exec"

	ArtifactCheckpoint = "checkpoint_path"
	ArtifactEmbedding  = "pretrained_embedding"
	TagModelVariant    = "model_variant"
)

var ErrInvalidPackage = errors.New("invalid model package")

type ColumnSpec struct {
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type"`
}

type Signature struct {
	Inputs  []ColumnSpec `yaml:"inputs"`
	Outputs []ColumnSpec `yaml:"outputs"`
}

// DefaultSignature: the input is a file path, the output a record with the
// written output_file.
func DefaultSignature() Signature {
	return Signature{
		Inputs:  []ColumnSpec{{Type: "string"}},
		Outputs: []ColumnSpec{{Name: "output_file", Type: "string"}},
	}
}

type Manifest struct {
	Name         string            `yaml:"name"`
	Flavor       string            `yaml:"flavor"`
	CreatedAt    time.Time         `yaml:"created_at"`
	Artifacts    map[string]string `yaml:"artifacts"`
	Tags         map[string]string `yaml:"tags,omitempty"`
	Signature    Signature         `yaml:"signature"`
	Requirements string            `yaml:"requirements,omitempty"`
}

func (m Manifest) validate() error {
	if m.Flavor != Flavor {
		return fmt.Errorf("%w: unsupported flavor %q", ErrInvalidPackage, m.Flavor)
	}
	if m.Artifacts[ArtifactCheckpoint] == "" {
		return fmt.Errorf("%w: artifact %q is missing", ErrInvalidPackage, ArtifactCheckpoint)
	}
	return nil
}

func ReadManifest(dir string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read manifest: %w", ErrInvalidPackage, err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("%w: parse manifest: %w", ErrInvalidPackage, err)
	}
	if err := manifest.validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func writeManifest(dir string, manifest Manifest) error {
	raw, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644)
}
