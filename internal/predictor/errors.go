package predictor

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration      = errors.New("adapter configuration invalid")
	ErrInvalidInput       = errors.New("prediction input invalid")
	ErrMissingParameter   = errors.New("prediction parameter missing")
	ErrInvalidParameter   = errors.New("prediction parameter invalid")
	ErrInferenceExecution = errors.New("inference execution failed")
)

// InferenceExecutionError reports a non-zero exit of the inference executable.
// Stderr is diagnostic text only.
type InferenceExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *InferenceExecutionError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit code %d", ErrInferenceExecution, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", ErrInferenceExecution, e.ExitCode, e.Stderr)
}

func (e *InferenceExecutionError) Unwrap() error {
	return ErrInferenceExecution
}
