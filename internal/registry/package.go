package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PackageSpec describes a model package to write.
type PackageSpec struct {
	Variant        string
	CheckpointPath string
	EmbeddingPath  string
	OutputDir      string
	Requirements   string
}

// PackageDir is where Save writes the package for a variant.
func PackageDir(outputDir string, variant string) string {
	return filepath.Join(outputDir, "transcriptformer_"+variant)
}

// Save writes the package directory. Artifacts are linked, not copied:
// checkpoints are several gigabytes and stay where the caller keeps them.
func Save(spec PackageSpec) (string, error) {
	variant := strings.TrimSpace(spec.Variant)
	if variant == "" {
		return "", fmt.Errorf("%w: model variant is required", ErrInvalidPackage)
	}
	checkpoint, err := absExisting(spec.CheckpointPath, "checkpoint")
	if err != nil {
		return "", err
	}
	dir := PackageDir(spec.OutputDir, variant)
	artifactsDir := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("create package dir: %w", err)
	}

	manifest := Manifest{
		Name:      filepath.Base(dir),
		Flavor:    Flavor,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Artifacts: map[string]string{},
		Tags:      map[string]string{TagModelVariant: variant},
		Signature: DefaultSignature(),
	}
	if err := linkArtifact(artifactsDir, ArtifactCheckpoint, checkpoint); err != nil {
		return "", err
	}
	manifest.Artifacts[ArtifactCheckpoint] = filepath.Join("artifacts", ArtifactCheckpoint)

	if strings.TrimSpace(spec.EmbeddingPath) != "" {
		embedding, err := absExisting(spec.EmbeddingPath, "pretrained embedding")
		if err != nil {
			return "", err
		}
		if err := linkArtifact(artifactsDir, ArtifactEmbedding, embedding); err != nil {
			return "", err
		}
		manifest.Artifacts[ArtifactEmbedding] = filepath.Join("artifacts", ArtifactEmbedding)
	}

	if strings.TrimSpace(spec.Requirements) != "" {
		name := filepath.Base(spec.Requirements)
		if err := copyFile(spec.Requirements, filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("copy requirements: %w", err)
		}
		manifest.Requirements = name
	}

	if err := writeManifest(dir, manifest); err != nil {
		return "", err
	}
	return dir, nil
}

func absExisting(path string, label string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("%w: %s path is required", ErrInvalidPackage, label)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve %s path %q: %w", label, clean, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: %s path %q: %w", ErrInvalidPackage, label, abs, err)
	}
	return abs, nil
}

func linkArtifact(artifactsDir string, key string, target string) error {
	link := filepath.Join(artifactsDir, key)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace artifact %q: %w", key, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("link artifact %q: %w", key, err)
	}
	return nil
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
