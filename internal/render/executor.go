package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/meshforge/internal/workspace"
)

var (
	// ErrToolUnavailable indicates the compiler binary is missing or not
	// runnable.
	ErrToolUnavailable = errors.New("geometry compiler unavailable")

	// ErrOutputMissing indicates the compiler exited zero but left no
	// usable artifact. The exit code is not fully trusted.
	ErrOutputMissing = errors.New("compiler produced no output")

	// ErrTimeout indicates the compiler exceeded the configured wall-clock
	// limit and was killed.
	ErrTimeout = errors.New("render timed out")
)

// CompileError carries the compiler's diagnostic text verbatim so the
// program's author can fix their input.
type CompileError struct {
	Stderr string
}

func (e *CompileError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return "compilation failed"
	}
	return "compilation failed: " + msg
}

// Artifact is the mesh file produced by one successful compiler run.
type Artifact struct {
	ID   string
	Path string
}

// Executor invokes the external geometry compiler once per call. It holds
// no mutable state, so concurrent executions only share the binary itself.
type Executor struct {
	profile Profile
	timeout time.Duration
}

// NewExecutor builds an executor for the given compiler profile. A zero
// timeout disables the wall-clock limit.
func NewExecutor(profile Profile, timeout time.Duration) *Executor {
	return &Executor{profile: profile, timeout: timeout}
}

func (e *Executor) MIMEType() string { return e.profile.MIMEType }

// Execute runs the compiler against the job's workspace and classifies the
// outcome. Every failure is terminal; no retry is attempted here.
func (e *Executor) Execute(ctx context.Context, job workspace.Job) (Artifact, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(e.profile.Args)+3)
	args = append(args, e.profile.Args...)
	args = append(args, "-o", job.ArtifactPath, job.SourcePath)
	cmd := exec.CommandContext(runCtx, e.profile.Binary, args...)
	cmd.Dir = job.WorkspaceDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Artifact{}, fmt.Errorf("%w after %s (job %s)", ErrTimeout, e.timeout, job.ID)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Artifact{}, &CompileError{Stderr: stderr.String()}
		}
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, e.profile.Binary, err)
	}

	st, statErr := os.Stat(job.ArtifactPath)
	if statErr != nil || st.Size() == 0 {
		return Artifact{}, fmt.Errorf("%w at %s", ErrOutputMissing, job.ArtifactPath)
	}
	return Artifact{ID: filepath.Base(job.ArtifactPath), Path: job.ArtifactPath}, nil
}
