package predictor

import (
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultExecutable = "transcriptformer"

// ResolvedInvocation is derived per request and never persisted.
type ResolvedInvocation struct {
	Executable string
	Args       []string
}

// Command renders the invocation for logs.
func (inv ResolvedInvocation) Command() string {
	return strings.Join(append([]string{inv.Executable}, inv.Args...), " ")
}

// BatchSize returns the value following --batch-size, or "" when absent.
func (inv ResolvedInvocation) BatchSize() string {
	return inv.flagValue("--batch-size")
}

func (inv ResolvedInvocation) flagValue(flag string) string {
	for idx := 0; idx+1 < len(inv.Args); idx++ {
		if inv.Args[idx] == flag {
			return inv.Args[idx+1]
		}
	}
	return ""
}

func buildInvocation(executable string, profile Profile, req PredictionRequest) ResolvedInvocation {
	outputFile := filepath.Clean(req.Params.OutputFile)
	batchSize := req.Params.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize(profile.Variant)
	}
	geneColName := strings.TrimSpace(req.Params.GeneColName)
	if geneColName == "" {
		geneColName = DefaultGeneColName
	}
	precision := strings.TrimSpace(req.Params.Precision)
	if precision == "" {
		precision = DefaultPrecision
	}

	args := []string{
		"inference",
		"--checkpoint-path", profile.CheckpointPath,
		"--data-file", req.InputPath,
		"--output-path", filepath.Dir(outputFile),
		"--output-filename", filepath.Base(outputFile),
		"--batch-size", strconv.Itoa(batchSize),
		"--gene-col-name", geneColName,
		"--precision", precision,
	}
	if profile.EmbeddingPath != "" {
		args = append(args, "--pretrained-embedding", profile.EmbeddingPath)
	}
	return ResolvedInvocation{Executable: executable, Args: args}
}
