package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/example/meshforge/internal/artifact"
	"github.com/example/meshforge/internal/library"
	"github.com/example/meshforge/internal/observability"
	"github.com/example/meshforge/internal/render"
	"github.com/example/meshforge/internal/state"
	"github.com/example/meshforge/internal/workspace"
)

// ErrEmptySource indicates a render request with no geometry program text.
var ErrEmptySource = errors.New("source text is empty")

// Pipeline composes the library pool, workspace manager, render executor
// and artifact registry into the operations the request layer calls.
type Pipeline struct {
	libs       *library.Registry
	workspaces *workspace.Manager
	executor   *render.Executor
	artifacts  *artifact.Registry
	store      state.Store
}

func New(libs *library.Registry, workspaces *workspace.Manager, executor *render.Executor, artifacts *artifact.Registry, store state.Store) *Pipeline {
	return &Pipeline{
		libs:       libs,
		workspaces: workspaces,
		executor:   executor,
		artifacts:  artifacts,
		store:      store,
	}
}

// RenderResult identifies a published artifact. ArtifactRef is the opaque
// token a later Fetch resolves.
type RenderResult struct {
	JobID       string
	ArtifactID  string
	ArtifactRef string
}

// FetchResult streams one artifact's bytes to the caller, who must close
// Body.
type FetchResult struct {
	ID       string
	Size     int64
	MIMEType string
	Body     io.ReadCloser
}

// Render stages a workspace for the source text, runs the compiler, and
// publishes the produced artifact. Each call is independent; failures are
// terminal and surfaced unchanged.
func (p *Pipeline) Render(ctx context.Context, sourceText string) (RenderResult, error) {
	if sourceText == "" {
		return RenderResult{}, ErrEmptySource
	}

	start := time.Now()
	job, err := p.workspaces.CreateWorkspace(sourceText)
	p.recordJob(ctx, job.ID, state.JobCreated, "", "")
	if err != nil {
		p.recordJob(ctx, job.ID, state.JobFailed, err.Error(), "")
		observability.Default.IncCounter("renders_total", map[string]string{"outcome": "stage_failed"}, 1)
		return RenderResult{}, err
	}
	p.recordJob(ctx, job.ID, state.JobStaged, "", "")

	art, err := p.executor.Execute(ctx, job)
	if err != nil {
		p.recordJob(ctx, job.ID, state.JobFailed, err.Error(), "")
		observability.Default.IncCounter("renders_total", map[string]string{"outcome": renderFailureOutcome(err)}, 1)
		return RenderResult{}, err
	}
	p.recordJob(ctx, job.ID, state.JobExecuted, "", art.ID)

	if err := p.artifacts.Publish(ctx, art.ID, art.Path); err != nil {
		p.recordJob(ctx, job.ID, state.JobFailed, err.Error(), art.ID)
		observability.Default.IncCounter("renders_total", map[string]string{"outcome": "publish_failed"}, 1)
		return RenderResult{}, err
	}
	p.recordJob(ctx, job.ID, state.JobPublished, "", art.ID)
	observability.Default.IncCounter("renders_total", map[string]string{"outcome": "ok"}, 1)
	observability.Default.SetGauge("render_duration_seconds", nil, time.Since(start).Seconds())

	return RenderResult{
		JobID:       job.ID,
		ArtifactID:  art.ID,
		ArtifactRef: "/api/view3d?file=" + art.ID,
	}, nil
}

// RenderAndFetch runs the same pipeline but returns the artifact inline
// instead of a reference.
func (p *Pipeline) RenderAndFetch(ctx context.Context, sourceText string) (RenderResult, FetchResult, error) {
	res, err := p.Render(ctx, sourceText)
	if err != nil {
		return RenderResult{}, FetchResult{}, err
	}
	fetch, err := p.Fetch(res.ArtifactID)
	if err != nil {
		return RenderResult{}, FetchResult{}, err
	}
	return res, fetch, nil
}

// Fetch resolves an artifact reference to its bytes.
func (p *Pipeline) Fetch(id string) (FetchResult, error) {
	path, err := p.artifacts.Resolve(id)
	if err != nil {
		return FetchResult{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, id)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return FetchResult{}, fmt.Errorf("stat artifact %s: %w", id, err)
	}
	return FetchResult{
		ID:       id,
		Size:     st.Size(),
		MIMEType: p.executor.MIMEType(),
		Body:     f,
	}, nil
}

// RegisterLibrary adds or overwrites a file in the shared pool. Visible to
// workspaces created after the write completes.
func (p *Pipeline) RegisterLibrary(name string, content []byte) error {
	if err := p.libs.Register(name, content); err != nil {
		return err
	}
	observability.Default.IncCounter("library_uploads_total", nil, 1)
	return nil
}

// JobStatus reports the lifecycle record for one job id.
func (p *Pipeline) JobStatus(ctx context.Context, jobID string) (state.JobRecord, bool, error) {
	return p.store.GetJob(ctx, jobID)
}

// Ping is the health probe.
func (p *Pipeline) Ping() string { return "ok" }

func (p *Pipeline) recordJob(ctx context.Context, jobID, status, message, artifactID string) {
	if jobID == "" {
		return
	}
	if err := p.store.SetJobStatus(ctx, jobID, status, message, artifactID); err != nil {
		log.Printf("record job %s status=%s: %v", jobID, status, err)
	}
}

func renderFailureOutcome(err error) string {
	var compileErr *render.CompileError
	switch {
	case errors.Is(err, render.ErrTimeout):
		return "timeout"
	case errors.Is(err, render.ErrToolUnavailable):
		return "tool_unavailable"
	case errors.Is(err, render.ErrOutputMissing):
		return "output_missing"
	case errors.As(err, &compileErr):
		return "compile_failed"
	default:
		return "error"
	}
}
