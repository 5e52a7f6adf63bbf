package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidName indicates a library filename that is empty, contains path
// separators, or does not carry the recognized library extension.
var ErrInvalidName = errors.New("invalid library filename")

// File is one entry of the shared library pool.
type File struct {
	Name    string
	Content []byte
}

// Registry is the shared pool of auxiliary source files available to every
// render job. Writes publish atomically (temp file + rename) so a snapshot
// never observes a partially written library.
type Registry struct {
	root string
	ext  string
}

func NewRegistry(root, ext string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library pool dir: %w", err)
	}
	return &Registry{root: root, ext: ext}, nil
}

func (r *Registry) Root() string { return r.root }

// Register writes or overwrites the named library file. The name must be a
// plain filename ending in the pool's extension.
func (r *Registry) Register(name string, content []byte) error {
	if err := r.validateName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("stage library %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write library %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write library %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(r.root, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish library %s: %w", name, err)
	}
	return nil
}

// Snapshot returns a point-in-time copy of the pool contents, sorted by
// name. Uploads completing after the snapshot are not reflected in it.
func (r *Registry) Snapshot() ([]File, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list library pool: %w", err)
	}
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), r.ext) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(r.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read library %s: %w", e.Name(), err)
		}
		out = append(out, File{Name: e.Name(), Content: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if !strings.HasSuffix(name, r.ext) || name == r.ext {
		return fmt.Errorf("%w: %q must end in %s", ErrInvalidName, name, r.ext)
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	}
	return nil
}
