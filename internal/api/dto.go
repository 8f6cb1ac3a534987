package api

import (
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/jobs"
)

// Job is an import job as returned by the API (aliased from the domain layer).
type Job = jobs.Job

// JobListResponse wraps the retained import jobs, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs" validate:"required"`
}

// StatsResponse is the collection summary (aliased from the storage layer).
type StatsResponse = collection.Stats
