package predictor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu     sync.Mutex
	calls  []ResolvedInvocation
	result ExecResult
	err    error
}

func (r *recordingRunner) Run(_ context.Context, inv ResolvedInvocation) (ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inv)
	return r.result, r.err
}

func (r *recordingRunner) Calls() []ResolvedInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResolvedInvocation, len(r.calls))
	copy(out, r.calls)
	return out
}

func writeInputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.h5ad")
	require.NoError(t, os.WriteFile(path, []byte("cells"), 0o644))
	return path
}

func writeStubExecutable(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcriptformer")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestDefaultBatchSize(t *testing.T) {
	cases := map[string]int{
		VariantSapiens:  32,
		VariantExemplar: 8,
		VariantMetazoa:  2,
		VariantUnknown:  16,
		"tf_unreleased": 16,
		"":              16,
	}
	for variant, want := range cases {
		assert.Equal(t, want, DefaultBatchSize(variant), "variant %q", variant)
	}
}

func TestLoadRequiresCheckpoint(t *testing.T) {
	_, err := Load("  ", VariantSapiens)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadNormalizesUnrecognizedVariant(t *testing.T) {
	adapter, err := Load("/ck", "tf_unreleased")
	require.NoError(t, err)
	assert.Equal(t, VariantUnknown, adapter.Profile().Variant)
}

func TestLoadDiscardsChildStdoutByDefault(t *testing.T) {
	adapter, err := Load("/ck", VariantSapiens)
	require.NoError(t, err)
	runner, ok := adapter.runner.(ProcessRunner)
	require.True(t, ok)
	assert.Equal(t, io.Discard, runner.Stdout)
}

func TestBuildInvocationArgumentOrder(t *testing.T) {
	input := writeInputFile(t)
	adapter, err := Load("/ck/tf_sapiens", VariantSapiens, WithEmbedding("/emb/esm2.h5"))
	require.NoError(t, err)

	inv, err := adapter.BuildInvocation(PredictionRequest{
		InputPath: input,
		Params: Parameters{
			OutputFile:  "/results/run1/embeddings.h5ad",
			GeneColName: "gene_symbol",
			Precision:   "32",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"inference",
		"--checkpoint-path", "/ck/tf_sapiens",
		"--data-file", input,
		"--output-path", "/results/run1",
		"--output-filename", "embeddings.h5ad",
		"--batch-size", "32",
		"--gene-col-name", "gene_symbol",
		"--precision", "32",
		"--pretrained-embedding", "/emb/esm2.h5",
	}, inv.Args)
	assert.Equal(t, DefaultExecutable, inv.Executable)
}

func TestBuildInvocationDefaults(t *testing.T) {
	input := writeInputFile(t)
	adapter, err := Load("/ck", VariantMetazoa)
	require.NoError(t, err)

	inv, err := adapter.BuildInvocation(PredictionRequest{
		InputPath: input,
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2", inv.BatchSize())
	assert.Equal(t, DefaultGeneColName, inv.flagValue("--gene-col-name"))
	assert.Equal(t, DefaultPrecision, inv.flagValue("--precision"))
	assert.NotContains(t, inv.Command(), "--pretrained-embedding", "embedding flag must be omitted when none is bound")
}

func TestBuildInvocationBatchSizeOverride(t *testing.T) {
	input := writeInputFile(t)
	params, err := ParseParameters(map[string]any{
		ParamOutputFile: "/tmp/out.h5ad",
		ParamBatchSize:  7,
	})
	require.NoError(t, err)
	adapter, err := Load("/ck", VariantSapiens)
	require.NoError(t, err)

	inv, err := adapter.BuildInvocation(PredictionRequest{InputPath: input, Params: params})
	require.NoError(t, err)
	assert.Equal(t, "7", inv.BatchSize())
}

func TestPredictMissingInputSkipsExecution(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked")
	stub := writeStubExecutable(t, "touch "+marker)
	adapter, err := Load("/ck", VariantSapiens, WithExecutable(stub))
	require.NoError(t, err)

	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: filepath.Join(t.TempDir(), "missing.h5ad"),
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.NoFileExists(t, marker, "executable must not run for invalid input")
}

func TestPredictDirectoryInputIsInvalid(t *testing.T) {
	runner := &recordingRunner{}
	adapter, err := Load("/ck", VariantSapiens, WithRunner(runner))
	require.NoError(t, err)

	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: t.TempDir(),
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, runner.Calls())
}

func TestPredictMissingOutputFileSkipsExecution(t *testing.T) {
	runner := &recordingRunner{}
	adapter, err := Load("/ck", VariantSapiens, WithRunner(runner))
	require.NoError(t, err)

	_, err = adapter.Predict(context.Background(), PredictionRequest{InputPath: writeInputFile(t)})
	require.ErrorIs(t, err, ErrMissingParameter)
	assert.Empty(t, runner.Calls())
}

func TestPredictReturnsOutputFileUnchanged(t *testing.T) {
	stub := writeStubExecutable(t, "echo 'loading checkpoint'\nexit 0")
	adapter, err := Load("/ck", VariantSapiens, WithExecutable(stub))
	require.NoError(t, err)
	req, err := NewPredictionRequest(writeInputFile(t), Parameters{OutputFile: "/tmp/out.dat"})
	require.NoError(t, err)

	result, err := adapter.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.dat", result.OutputFile)
}

func TestPredictPassesArgumentsToExecutable(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	stub := writeStubExecutable(t, `printf '%s\n' "$@" > `+argsFile)
	adapter, err := Load("/ck", VariantExemplar, WithExecutable(stub))
	require.NoError(t, err)
	input := writeInputFile(t)

	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: input,
		Params:    Parameters{OutputFile: "/out/emb.h5ad"},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"inference",
		"--checkpoint-path", "/ck",
		"--data-file", input,
		"--output-path", "/out",
		"--output-filename", "emb.h5ad",
		"--batch-size", "8",
		"--gene-col-name", "ensembl_id",
		"--precision", "16-mixed",
	}, strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func TestPredictNonZeroExit(t *testing.T) {
	stub := writeStubExecutable(t, "echo 'CUDA out of memory' >&2\nexit 3")
	adapter, err := Load("/ck", VariantSapiens, WithExecutable(stub))
	require.NoError(t, err)

	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: writeInputFile(t),
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.ErrorIs(t, err, ErrInferenceExecution)
	var execErr *InferenceExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "CUDA out of memory", execErr.Stderr)
}

func TestPredictRunnerFailureIsNotRetried(t *testing.T) {
	runner := &recordingRunner{result: ExecResult{ExitCode: 1}}
	adapter, err := Load("/ck", VariantSapiens, WithRunner(runner))
	require.NoError(t, err)

	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: writeInputFile(t),
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.Error(t, err)
	assert.Len(t, runner.Calls(), 1)
}

func TestPredictTimeoutKillsProcess(t *testing.T) {
	stub := writeStubExecutable(t, "sleep 30")
	adapter, err := Load(
		"/ck",
		VariantSapiens,
		WithExecutable(stub),
		WithTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	_, err = adapter.Predict(context.Background(), PredictionRequest{
		InputPath: writeInputFile(t),
		Params:    Parameters{OutputFile: "/tmp/out.h5ad"},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second, "child process was not terminated")
}

func TestProcessRunnerMissingExecutable(t *testing.T) {
	_, err := ProcessRunner{}.Run(context.Background(), ResolvedInvocation{
		Executable: filepath.Join(t.TempDir(), "absent"),
	})
	require.Error(t, err)
}

func TestProcessRunnerCancelledContextDoesNotStart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "started")
	stub := writeStubExecutable(t, "touch "+marker)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ProcessRunner{}.Run(ctx, ResolvedInvocation{Executable: stub})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, marker)
}

func TestCappedBufferKeepsTail(t *testing.T) {
	buf := &cappedBuffer{limit: 4}
	_, _ = buf.Write([]byte("abc"))
	_, _ = buf.Write([]byte("def"))
	assert.Equal(t, "cdef", buf.String())
}
