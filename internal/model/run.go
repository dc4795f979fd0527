package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a pipeline execution.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunInvalid RunStatus = "invalid"
	RunFailed  RunStatus = "failed"
)

// RunRecord is one row per pipeline execution: audit trail and the
// statistical population for the validation gate's rolling baseline.
type RunRecord struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      RunStatus
	TotalOffers int
	PagesFailed int
	Reason      string
	DryRun      bool
}
