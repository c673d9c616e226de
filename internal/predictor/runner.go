package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
)

const maxCapturedStderr = 64 * 1024

// ExecResult is the outcome of a process that ran to completion.
type ExecResult struct {
	ExitCode int
	Stderr   string
}

func (r ExecResult) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a resolved invocation. A non-nil error means the process
// could not be started or was cancelled; a completed process always reports
// through ExecResult.
type Runner interface {
	Run(ctx context.Context, inv ResolvedInvocation) (ExecResult, error)
}

// ProcessRunner runs the executable in its own process group so that
// cancellation terminates the whole job tree.
type ProcessRunner struct {
	Env    []string
	Stdout io.Writer
}

func (r ProcessRunner) Run(ctx context.Context, inv ResolvedInvocation) (ExecResult, error) {
	if strings.TrimSpace(inv.Executable) == "" {
		return ExecResult{}, fmt.Errorf("%w: executable is not configured", ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return ExecResult{}, fmt.Errorf("inference cancelled: %w", err)
	}
	cmd := exec.Command(inv.Executable, inv.Args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = r.Stdout
	stderr := &cappedBuffer{limit: maxCapturedStderr}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return ExecResult{}, fmt.Errorf("start %s: %w", inv.Executable, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return ExecResult{}, fmt.Errorf("inference cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	result := ExecResult{Stderr: strings.TrimSpace(stderr.String())}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return ExecResult{}, fmt.Errorf("wait %s: %w", inv.Executable, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			// killed by a signal that we did not send
			result.ExitCode = 128 + int(syscall.SIGKILL)
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				result.ExitCode = 128 + int(status.Signal())
			}
		}
	}
	return result, nil
}

// cappedBuffer keeps the tail of the stream once limit is exceeded.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= b.limit {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.limit:])
		return n, nil
	}
	if overflow := b.buf.Len() + len(p) - b.limit; overflow > 0 {
		b.buf.Next(overflow)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
