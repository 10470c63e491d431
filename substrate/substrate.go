// Package substrate defines the contract between the pipeline engine and the
// batch execution service which runs the tasks of each stage.
package substrate

import (
	"context"
	"errors"
)

// ErrClosed is returned by Submit once a Substrate has been closed
var ErrClosed = errors.New("substrate is closed")

// Task is one independently retryable unit of work, typically one partition of a stage
type Task struct {
	Name string
	// Run executes a single attempt, numbered from 1. Each attempt must start from scratch.
	Run func(ctx context.Context, attempt int) error
}

// Job is the set of tasks which make up one stage
type Job struct {
	ID    string
	Name  string
	Tasks []Task
}

// Handle tracks a submitted Job
type Handle interface {
	// Wait blocks until every task of the job has succeeded, or one has failed all of its attempts
	Wait(ctx context.Context) error
}

// Substrate runs jobs on behalf of a pipeline
type Substrate interface {
	Submit(ctx context.Context, job *Job) (Handle, error)
	// Close waits for in-flight jobs and releases resources
	Close() error
}
