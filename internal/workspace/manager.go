package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/example/meshforge/internal/library"
)

// Job is one request to convert a geometry program into a mesh artifact.
// The workspace manager owns it until the render executor completes.
type Job struct {
	ID           string
	WorkspaceDir string
	SourcePath   string
	ArtifactPath string
}

// Manager allocates an isolated directory per job under a common root and
// materializes the job's inputs into it.
type Manager struct {
	root        string
	libs        *library.Registry
	sourceExt   string
	artifactExt string
}

func NewManager(root string, libs *library.Registry, sourceExt, artifactExt string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, libs: libs, sourceExt: sourceExt, artifactExt: artifactExt}, nil
}

func (m *Manager) Root() string { return m.root }

// CreateWorkspace stages a new job: a fresh uuid names the directory, the
// source file, and the eventual artifact, so two concurrent calls never
// share a path. The current library pool snapshot is copied alongside the
// source so relative includes resolve. On failure the returned Job still
// carries the generated id so callers can record the failed attempt.
func (m *Manager) CreateWorkspace(sourceText string) (Job, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	job := Job{
		ID:           id,
		WorkspaceDir: dir,
		SourcePath:   filepath.Join(dir, id+m.sourceExt),
		ArtifactPath: filepath.Join(dir, id+m.artifactExt),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return job, fmt.Errorf("create workspace %s: %w", id, err)
	}
	if err := os.WriteFile(job.SourcePath, []byte(sourceText), 0o644); err != nil {
		return job, fmt.Errorf("write source for %s: %w", id, err)
	}
	snapshot, err := m.libs.Snapshot()
	if err != nil {
		return job, fmt.Errorf("snapshot library pool for %s: %w", id, err)
	}
	for _, lib := range snapshot {
		if err := os.WriteFile(filepath.Join(dir, lib.Name), lib.Content, 0o644); err != nil {
			return job, fmt.Errorf("stage library %s for %s: %w", lib.Name, id, err)
		}
	}
	return job, nil
}
