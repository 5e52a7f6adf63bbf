package state

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]JobRecord)}
}

func (m *MemoryStore) PutJob(_ context.Context, job JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (JobRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok, nil
}

func (m *MemoryStore) SetJobStatus(_ context.Context, jobID, status, message, artifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		job = JobRecord{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	job.Status = status
	job.Message = message
	if artifactID != "" {
		job.ArtifactID = artifactID
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[jobID] = job
	return nil
}

func (m *MemoryStore) CountJobsByStatus(_ context.Context, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, j := range m.jobs {
		if status != "" && j.Status != status {
			continue
		}
		count++
	}
	return count, nil
}
