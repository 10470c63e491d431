package errors

import (
	"fmt"
	"strings"
)

// MissingTypeError occurs when a collection, source or target is constructed without a type descriptor
type MissingTypeError struct{ Node string }

// Error returns a textual representation of this MissingTypeError
func (e *MissingTypeError) Error() string {
	return fmt.Sprintf("%s: no output type descriptor was supplied", e.Node)
}

// MissingArgumentError occurs when a required construction argument (a DoFn, Combiner, Source or Target) is nil
type MissingArgumentError struct {
	Op  string
	Arg string
}

// Error returns a textual representation of this MissingArgumentError
func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("%s: %s must not be nil", e.Op, e.Arg)
}

// IncompatibleTypeError occurs when a consumer's expected element type does not match its producer's
type IncompatibleTypeError struct {
	Producer string
	Consumer string
	Have     string
	Want     string
}

// Error returns a textual representation of this IncompatibleTypeError
func (e *IncompatibleTypeError) Error() string {
	return fmt.Sprintf("%s produces %s but %s expects %s", e.Producer, e.Have, e.Consumer, e.Want)
}

// NotSerializableError occurs when a DoFn's configuration cannot be encoded and decoded for shipment to tasks
type NotSerializableError struct {
	Fn  string
	Err error
}

// Error returns a textual representation of this NotSerializableError
func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("DoFn %s is not serializable: %v", e.Fn, e.Err)
}

// Unwrap returns the underlying encoding error
func (e *NotSerializableError) Unwrap() error { return e.Err }

// InvalidSelectionError occurs when a source's selection descriptor is malformed
type InvalidSelectionError struct {
	Source string
	Reason string
}

// Error returns a textual representation of this InvalidSelectionError
func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection for %s: %s", e.Source, e.Reason)
}

// PipelineStateError occurs when a Pipeline is mutated or run in a state which does not permit it
type PipelineStateError struct {
	Pipeline string
	State    string
	Op       string
}

// Error returns a textual representation of this PipelineStateError
func (e *PipelineStateError) Error() string {
	return fmt.Sprintf("pipeline %s: cannot %s while %s", e.Pipeline, e.Op, e.State)
}

// InvalidCollectionError occurs when a collection is uninitialized or belongs to a different Pipeline
type InvalidCollectionError struct {
	Op     string
	Reason string
}

// Error returns a textual representation of this InvalidCollectionError
func (e *InvalidCollectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// EmptyUnionError occurs when Union is called without any collections
type EmptyUnionError struct{}

// Error returns a textual representation of this EmptyUnionError
func (e *EmptyUnionError) Error() string {
	return "union requires at least one collection"
}

// CycleError occurs when the planner finds a node which is its own ancestor
type CycleError struct{ Path []string }

// Error returns a textual representation of this CycleError
func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline graph contains a cycle: %s", strings.Join(e.Path, " -> "))
}

// UnsatisfiableWriteError occurs when a write's ancestry contains a root which is not a Source
type UnsatisfiableWriteError struct {
	Target string
	Node   string
}

// Error returns a textual representation of this UnsatisfiableWriteError
func (e *UnsatisfiableWriteError) Error() string {
	return fmt.Sprintf("write to %s cannot be satisfied: %s has no source", e.Target, e.Node)
}

// MalformedNodeError occurs when a node's parents or payload do not match its kind
type MalformedNodeError struct {
	Node   string
	Reason string
}

// Error returns a textual representation of this MalformedNodeError
func (e *MalformedNodeError) Error() string {
	return fmt.Sprintf("malformed node %s: %s", e.Node, e.Reason)
}

// RecordError wraps a failure raised by user code while processing a single record
type RecordError struct {
	Fn  string
	Err error
}

// Error returns a textual representation of this RecordError
func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Fn, e.Err)
}

// Unwrap returns the failure raised by user code
func (e *RecordError) Unwrap() error { return e.Err }

// TaskError occurs when a task has failed every attempt it was allowed
type TaskError struct {
	Job      string
	Task     string
	Attempts int
	Err      error
}

// Error returns a textual representation of this TaskError
func (e *TaskError) Error() string {
	return fmt.Sprintf("job %s: task %s failed after %d attempt(s): %v", e.Job, e.Task, e.Attempts, e.Err)
}

// Unwrap returns the error of the final attempt
func (e *TaskError) Unwrap() error { return e.Err }

// UpstreamFailedError marks a stage which was skipped because a stage it depends on did not succeed
type UpstreamFailedError struct {
	Stage int
	Err   error
}

// Error returns a textual representation of this UpstreamFailedError
func (e *UpstreamFailedError) Error() string {
	return fmt.Sprintf("upstream stage %d did not succeed: %v", e.Stage, e.Err)
}

// Unwrap returns the upstream stage's error
func (e *UpstreamFailedError) Unwrap() error { return e.Err }
