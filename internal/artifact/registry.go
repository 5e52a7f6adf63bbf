package artifact

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/example/meshforge/internal/observability"
)

var (
	// ErrNotFound indicates the id resolves neither in the index nor on
	// disk under the artifact root.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidID indicates a malformed artifact identifier.
	ErrInvalidID = errors.New("invalid artifact id")
)

// Mirror copies published artifacts to secondary storage. Implementations
// are best-effort; a mirror failure never fails the publish.
type Mirror interface {
	Put(ctx context.Context, id, path string) error
}

type entry struct {
	id          string
	path        string
	publishedAt time.Time
	elem        *list.Element
}

// Registry indexes produced artifacts by id for later retrieval. The index
// is process-lifetime only; the filesystem under root is the source of
// truth and a recursive scan backstops index misses after a restart.
// Capacity and age bounds evict the oldest entries along with their backing
// job directories, so a long-running service does not grow without bound.
type Registry struct {
	mu         sync.Mutex
	root       string
	ext        string
	maxEntries int
	ttl        time.Duration
	entries    map[string]*entry
	order      *list.List // front = most recently used
	mirror     Mirror
}

type Options struct {
	// MaxEntries bounds the index size; 0 disables capacity eviction.
	MaxEntries int
	// TTL bounds artifact age from publication; 0 disables age eviction.
	TTL time.Duration
	// Mirror, when non-nil, receives every published artifact.
	Mirror Mirror
}

func NewRegistry(root, ext string, opts Options) *Registry {
	return &Registry{
		root:       root,
		ext:        ext,
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		entries:    make(map[string]*entry),
		order:      list.New(),
		mirror:     opts.Mirror,
	}
}

// Publish inserts id -> path into the index. Ids derive from unique job
// ids, so a republish of the same id is an idempotent overwrite.
func (r *Registry) Publish(ctx context.Context, id, path string) error {
	if err := r.validateID(id); err != nil {
		return err
	}
	r.mu.Lock()
	r.insertLocked(id, path, time.Now().UTC())
	r.evictLocked()
	r.mu.Unlock()
	observability.Default.IncCounter("artifacts_indexed_total", nil, 1)

	if r.mirror != nil {
		if err := r.mirror.Put(ctx, id, path); err != nil {
			log.Printf("artifact mirror failed id=%s: %v", id, err)
			observability.Default.IncCounter("artifact_mirror_failures_total", nil, 1)
		}
	}
	return nil
}

// Resolve maps an artifact id to its filesystem path: index hit first, then
// a recursive scan of the artifact root. The scan is a deliberate
// consistency backstop for a cold index, not a fast path.
func (r *Registry) Resolve(id string) (string, error) {
	if err := r.validateID(id); err != nil {
		return "", err
	}
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		if r.ttl > 0 && time.Since(e.publishedAt) > r.ttl {
			r.removeLocked(e, true)
		} else {
			r.order.MoveToFront(e.elem)
			path := e.path
			r.mu.Unlock()
			if _, err := os.Stat(path); err != nil {
				return "", fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return path, nil
		}
	}
	r.mu.Unlock()

	observability.Default.IncCounter("artifact_fallback_scans_total", nil, 1)
	path, err := r.scan(id)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.insertLocked(id, path, time.Now().UTC())
	r.evictLocked()
	r.mu.Unlock()
	return path, nil
}

// Len reports the current index size.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Forget drops the in-memory index without touching the filesystem. The
// next Resolve falls back to scanning, as after a process restart.
func (r *Registry) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.order.Init()
}

func (r *Registry) insertLocked(id, path string, now time.Time) {
	if e, ok := r.entries[id]; ok {
		e.path = path
		e.publishedAt = now
		r.order.MoveToFront(e.elem)
		return
	}
	e := &entry{id: id, path: path, publishedAt: now}
	e.elem = r.order.PushFront(e)
	r.entries[id] = e
}

// evictLocked enforces the capacity and age bounds, removing backing job
// directories for everything it drops.
func (r *Registry) evictLocked() {
	if r.ttl > 0 {
		cutoff := time.Now().UTC().Add(-r.ttl)
		for el := r.order.Back(); el != nil; {
			prev := el.Prev()
			e := el.Value.(*entry)
			if e.publishedAt.Before(cutoff) {
				r.removeLocked(e, true)
			}
			el = prev
		}
	}
	if r.maxEntries > 0 {
		for len(r.entries) > r.maxEntries {
			el := r.order.Back()
			if el == nil {
				break
			}
			r.removeLocked(el.Value.(*entry), true)
		}
	}
}

func (r *Registry) removeLocked(e *entry, deleteBacking bool) {
	r.order.Remove(e.elem)
	delete(r.entries, e.id)
	if !deleteBacking {
		return
	}
	dir := filepath.Dir(e.path)
	// Never remove anything outside the artifact root.
	if rel, err := filepath.Rel(r.root, dir); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("evict artifact %s: %v", e.id, err)
		return
	}
	observability.Default.IncCounter("artifact_evictions_total", nil, 1)
}

func (r *Registry) scan(id string) (string, error) {
	var found string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == id {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan artifact root: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

func (r *Registry) validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidID)
	}
	if !strings.HasSuffix(id, r.ext) || id == r.ext {
		return fmt.Errorf("%w: %q must end in %s", ErrInvalidID, id, r.ext)
	}
	if filepath.Base(id) != id {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidID, id)
	}
	return nil
}
