package sluice

import (
	"fmt"
	"time"

	"github.com/go-sif/sluice/internal/exec"
	"github.com/go-sif/sluice/internal/graph"
	iutil "github.com/go-sif/sluice/internal/util"
)

// Status is the outcome of a stage
type Status string

const (
	// StatusSucceeded marks a stage whose every task committed
	StatusSucceeded Status = Status(exec.StatusSucceeded)
	// StatusFailed marks a stage with a task which failed all of its attempts
	StatusFailed Status = Status(exec.StatusFailed)
	// StatusSkipped marks a stage which never ran because a stage it depends on did not succeed
	StatusSkipped Status = Status(exec.StatusSkipped)
	// StatusCanceled marks a stage interrupted or never started because the run was cancelled
	StatusCanceled Status = Status(exec.StatusCanceled)
)

// StageStats are the counters of a single stage, counting committed task attempts only
type StageStats struct {
	Tasks           int64
	Attempts        int64
	RecordsRead     int64
	RecordsWritten  int64
	RecordsShuffled int64
	RecordsSkipped  int64
	Runtime         time.Duration
	AvgTaskRuntime  time.Duration // Rolling average over the most recently committed tasks
}

// StageResult reports the outcome of one stage of a run
type StageResult struct {
	ID     int
	Name   string
	Status Status
	Err    error
	Stats  StageStats
}

// WriteResult reports the outcome of one registered write
type WriteResult struct {
	Target     string
	Collection string
	Err        error
}

// Succeeded is true if the write was fully committed
func (w WriteResult) Succeeded() bool {
	return w.Err == nil
}

// Result reports the outcome of a run
type Result struct {
	RunID    string
	Stages   []StageResult
	Writes   []WriteResult
	Warnings []error // Failures to abort writers, which do not fail their write
	Runtime  time.Duration
}

// Succeeded is true if every write of the run was committed
func (r *Result) Succeeded() bool {
	return len(r.Failed()) == 0
}

// Failed lists the writes of the run which did not commit
func (r *Result) Failed() []WriteResult {
	var failed []WriteResult
	for _, w := range r.Writes {
		if !w.Succeeded() {
			failed = append(failed, w)
		}
	}
	return failed
}

// PipelineError is returned by Run and Done when at least one write failed.
// Writes which are not listed committed successfully.
type PipelineError struct {
	Pipeline string
	Failed   []WriteResult
}

// Error returns a textual representation of this PipelineError
func (e *PipelineError) Error() string {
	errs := make([]error, len(e.Failed))
	for i, w := range e.Failed {
		errs[i] = fmt.Errorf("write of %s to %s: %w", w.Collection, w.Target, w.Err)
	}
	return fmt.Sprintf("pipeline %s: %d write(s) failed: %v", e.Pipeline, len(e.Failed), iutil.MergeErrors(errs...))
}

// Unwrap returns the errors of all failed writes
func (e *PipelineError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, w := range e.Failed {
		errs[i] = w.Err
	}
	return errs
}

func newResult(runID string, g *graph.Graph, out *exec.Outcome, writes []graph.Write) *Result {
	res := &Result{RunID: runID, Warnings: out.Warnings, Runtime: out.Runtime}
	for _, s := range out.Stages {
		res.Stages = append(res.Stages, StageResult{
			ID:     s.ID,
			Name:   s.Name,
			Status: Status(s.Status),
			Err:    s.Err,
			Stats: StageStats{
				Tasks:           s.Stats.Tasks,
				Attempts:        s.Stats.Attempts,
				RecordsRead:     s.Stats.RecordsRead,
				RecordsWritten:  s.Stats.RecordsWritten,
				RecordsShuffled: s.Stats.RecordsShuffled,
				RecordsSkipped:  s.Stats.RecordsSkipped,
				Runtime:         s.Stats.Runtime,
				AvgTaskRuntime:  s.Stats.AverageRecentTaskRuntime,
			},
		})
	}
	for _, w := range out.Writes {
		pw := writes[w.Index]
		res.Writes = append(res.Writes, WriteResult{
			Target:     pw.Target,
			Collection: g.Node(pw.Node).Name,
			Err:        w.Err,
		})
	}
	return res
}
