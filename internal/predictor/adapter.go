package predictor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Adapter turns prediction requests into invocations of the external
// inference executable. It holds no mutable state and is safe for concurrent
// use as long as callers do not share output paths.
type Adapter struct {
	profile    Profile
	executable string
	runner     Runner
	timeout    time.Duration
	logger     zerolog.Logger
}

type Option func(*Adapter)

// WithEmbedding binds a pretrained embedding. A bound embedding is passed on
// every invocation.
func WithEmbedding(path string) Option {
	return func(a *Adapter) {
		a.profile.EmbeddingPath = strings.TrimSpace(path)
	}
}

func WithExecutable(executable string) Option {
	return func(a *Adapter) {
		if clean := strings.TrimSpace(executable); clean != "" {
			a.executable = clean
		}
	}
}

func WithRunner(runner Runner) Option {
	return func(a *Adapter) {
		if runner != nil {
			a.runner = runner
		}
	}
}

// WithTimeout bounds every Predict call; zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Load binds the model profile. It records paths only.
func Load(checkpointPath string, variant string, opts ...Option) (*Adapter, error) {
	checkpoint := strings.TrimSpace(checkpointPath)
	if checkpoint == "" {
		return nil, fmt.Errorf("%w: checkpoint path is required", ErrConfiguration)
	}
	adapter := &Adapter{
		profile: Profile{
			Variant:        normalizeVariant(variant),
			CheckpointPath: checkpoint,
		},
		executable: DefaultExecutable,
		runner:     ProcessRunner{Stdout: io.Discard},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(adapter)
	}
	if adapter.profile.Variant == VariantUnknown {
		adapter.logger.Warn().
			Str("variant", variant).
			Int("batch_size", DefaultBatchSize(VariantUnknown)).
			Msg("model_variant_unrecognized")
	}
	return adapter, nil
}

func (a *Adapter) Profile() Profile {
	return a.profile
}

func (a *Adapter) Name() string {
	return "transcriptformer-" + a.profile.Variant
}

// BuildInvocation validates req and resolves it into the executable's
// argument list without running anything.
func (a *Adapter) BuildInvocation(req PredictionRequest) (ResolvedInvocation, error) {
	if err := validateInput(req.InputPath); err != nil {
		return ResolvedInvocation{}, err
	}
	if strings.TrimSpace(req.Params.OutputFile) == "" {
		return ResolvedInvocation{}, fmt.Errorf("%w: %s is required", ErrMissingParameter, ParamOutputFile)
	}
	if req.Params.BatchSize < 0 {
		return ResolvedInvocation{}, fmt.Errorf(
			"%w: %s must be positive, got %d",
			ErrInvalidParameter,
			ParamBatchSize,
			req.Params.BatchSize,
		)
	}
	return buildInvocation(a.executable, a.profile, req), nil
}

// Predict runs inference synchronously. Failures are never retried: the
// executable may already have written partial output.
func (a *Adapter) Predict(ctx context.Context, req PredictionRequest) (PredictionResult, error) {
	inv, err := a.BuildInvocation(req)
	if err != nil {
		return PredictionResult{}, err
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	a.logger.Info().
		Str("variant", a.profile.Variant).
		Str("input_path", req.InputPath).
		Str("output_file", req.Params.OutputFile).
		Str("batch_size", inv.BatchSize()).
		Msg("inference_start")
	start := time.Now()
	result, runErr := a.runner.Run(ctx, inv)
	elapsed := time.Since(start)
	if runErr != nil {
		a.logger.Error().
			Err(runErr).
			Str("command", inv.Command()).
			Dur("elapsed", elapsed).
			Msg("inference_run_failed")
		return PredictionResult{}, fmt.Errorf("%w: %w", ErrInferenceExecution, runErr)
	}
	if !result.Success() {
		a.logger.Error().
			Int("exit_code", result.ExitCode).
			Str("stderr", result.Stderr).
			Str("command", inv.Command()).
			Dur("elapsed", elapsed).
			Msg("inference_exit_nonzero")
		return PredictionResult{}, &InferenceExecutionError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	a.logger.Info().
		Str("output_file", req.Params.OutputFile).
		Dur("elapsed", elapsed).
		Msg("inference_done")
	return PredictionResult{OutputFile: req.Params.OutputFile}, nil
}

func validateInput(inputPath string) error {
	if strings.TrimSpace(inputPath) == "" {
		return fmt.Errorf("%w: input path is required", ErrInvalidInput)
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("%w: input path %q: %w", ErrInvalidInput, inputPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: input path %q is not a regular file", ErrInvalidInput, inputPath)
	}
	return nil
}
