package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/meshforge/internal/library"
)

func newTestManager(t *testing.T) (*Manager, *library.Registry) {
	t.Helper()
	libs, err := library.NewRegistry(t.TempDir(), ".scad")
	if err != nil {
		t.Fatalf("new library registry: %v", err)
	}
	m, err := NewManager(t.TempDir(), libs, ".scad", ".stl")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, libs
}

func TestCreateWorkspaceStagesSourceAndLibraries(t *testing.T) {
	m, libs := newTestManager(t)
	if err := libs.Register("helper.scad", []byte("module helper() {}")); err != nil {
		t.Fatalf("register library: %v", err)
	}

	job, err := m.CreateWorkspace("cube([1,1,1]);")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("job id is empty")
	}
	if filepath.Dir(job.SourcePath) != job.WorkspaceDir || filepath.Dir(job.ArtifactPath) != job.WorkspaceDir {
		t.Fatalf("source/artifact not inside workspace: %+v", job)
	}
	src, err := os.ReadFile(job.SourcePath)
	if err != nil || string(src) != "cube([1,1,1]);" {
		t.Fatalf("source file: %q, %v", src, err)
	}
	lib, err := os.ReadFile(filepath.Join(job.WorkspaceDir, "helper.scad"))
	if err != nil || string(lib) != "module helper() {}" {
		t.Fatalf("staged library: %q, %v", lib, err)
	}
}

func TestCreateWorkspaceSnapshotIsPointInTime(t *testing.T) {
	m, libs := newTestManager(t)

	job, err := m.CreateWorkspace("sphere(1);")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	// An upload after staging must not appear in the staged workspace.
	if err := libs.Register("late.scad", []byte("x")); err != nil {
		t.Fatalf("register library: %v", err)
	}
	if _, err := os.Stat(filepath.Join(job.WorkspaceDir, "late.scad")); !os.IsNotExist(err) {
		t.Fatalf("late library leaked into staged workspace")
	}

	job2, err := m.CreateWorkspace("sphere(2);")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(job2.WorkspaceDir, "late.scad")); err != nil {
		t.Fatalf("library missing from later workspace: %v", err)
	}
}

func TestConcurrentWorkspacesNeverCollide(t *testing.T) {
	m, _ := newTestManager(t)

	const n = 200
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := m.CreateWorkspace("cube([1,1,1]);")
			ids[i] = job.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create workspace %d: %v", i, errs[i])
		}
		if _, dup := seen[ids[i]]; dup {
			t.Fatalf("duplicate job id %s", ids[i])
		}
		seen[ids[i]] = struct{}{}
	}
}
