// Package history persists temporal runs and their points in SQLite so past
// trends can be listed and replayed without checking anything out again.
package history

import (
	"time"

	"github.com/google/uuid"

	"codetax/internal/temporal"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one temporal classification over a date range.
type Run struct {
	ID            string                  `json:"id"`
	EpicKey       string                  `json:"epicKey"`
	Taxonomy      string                  `json:"taxonomy,omitempty"`
	From          time.Time               `json:"from"`
	To            time.Time               `json:"to"`
	Status        RunStatus               `json:"status"`
	CreatedAt     time.Time               `json:"createdAt"`
	CompletedAt   *time.Time              `json:"completedAt,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Collaborators []temporal.Collaborator `json:"collaborators,omitempty"`
	PointCount    int                     `json:"pointCount"`
}

// NewRun creates a running run with a fresh ID.
func NewRun(epicKey, taxonomy string, dr temporal.DateRange) *Run {
	return &Run{
		ID:        uuid.New().String(),
		EpicKey:   epicKey,
		Taxonomy:  taxonomy,
		From:      dr.From,
		To:        dr.To,
		Status:    RunRunning,
		CreatedAt: time.Now().UTC(),
	}
}

// IsTerminal returns true if the run is no longer running.
func (r *Run) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
