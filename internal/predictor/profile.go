package predictor

import "strings"

const (
	VariantSapiens  = "tf_sapiens"
	VariantExemplar = "tf_exemplar"
	VariantMetazoa  = "tf_metazoa"
	VariantUnknown  = "unknown"
)

// Empirical defaults for a Tesla T4.
var defaultBatchSizes = map[string]int{
	VariantSapiens:  32,
	VariantExemplar: 8,
	VariantMetazoa:  2,
}

const fallbackBatchSize = 16

// DefaultBatchSize returns the tuned batch size for a model variant.
func DefaultBatchSize(variant string) int {
	if size, ok := defaultBatchSizes[variant]; ok {
		return size
	}
	return fallbackBatchSize
}

// KnownVariant reports whether variant has its own tuned defaults.
func KnownVariant(variant string) bool {
	_, ok := defaultBatchSizes[variant]
	return ok
}

// Profile is bound once at load time and never mutated afterwards.
type Profile struct {
	Variant        string
	CheckpointPath string
	EmbeddingPath  string
}

func normalizeVariant(variant string) string {
	clean := strings.ToLower(strings.TrimSpace(variant))
	if !KnownVariant(clean) {
		return VariantUnknown
	}
	return clean
}
