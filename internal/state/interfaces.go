package state

import "context"

// Store holds job status records for the lifetime of the process. The
// filesystem under the workspace root is the durable source of truth;
// records here only answer status queries.
type Store interface {
	PutJob(ctx context.Context, job JobRecord) error
	GetJob(ctx context.Context, jobID string) (JobRecord, bool, error)
	SetJobStatus(ctx context.Context, jobID, status, message, artifactID string) error
	CountJobsByStatus(ctx context.Context, status string) (int, error)
}
