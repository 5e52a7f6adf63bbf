package state

import "time"

// Render job lifecycle. A job either runs to publication or fails; there is
// no cancelled state and nothing interrupts a running compiler.
const (
	JobCreated   = "created"
	JobStaged    = "staged"
	JobExecuted  = "executed"
	JobPublished = "published"
	JobFailed    = "failed"
)

type JobRecord struct {
	ID         string
	Status     string
	Message    string
	ArtifactID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
