package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/plan"
	"github.com/go-sif/sluice/internal/shuffle"
	"github.com/go-sif/sluice/internal/stats"
	"github.com/go-sif/sluice/substrate"
	"go.uber.org/zap"
)

// Status is the outcome of a stage
type Status string

const (
	// StatusSucceeded marks a stage whose every task committed
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a stage with a task which failed all of its attempts
	StatusFailed Status = "failed"
	// StatusSkipped marks a stage which never started because a dependency did not succeed
	StatusSkipped Status = "skipped"
	// StatusCanceled marks a stage interrupted or never started because the run was cancelled
	StatusCanceled Status = "canceled"
)

// Config configures the execution of a Plan
type Config struct {
	RunID              string
	Pipeline           string
	Shards             int
	IgnoreRecordErrors bool
	Substrate          substrate.Substrate
	Logger             *zap.Logger
	ShuffleMemoryLimit int64
	TempDir            string
}

// StageOutcome reports how a stage finished
type StageOutcome struct {
	ID     int
	Name   string
	Status Status
	Err    error
	Stats  stats.Snapshot
}

// WriteOutcome reports how a pending write finished. Err is nil on success.
type WriteOutcome struct {
	Index int
	Err   error
}

// Outcome is the result of executing a Plan
type Outcome struct {
	Stages   []StageOutcome
	Writes   []WriteOutcome
	Warnings []error
	Runtime  time.Duration
}

// driver executes the stages of one Plan
type driver struct {
	g            *graph.Graph
	p            *plan.Plan
	conf         Config
	store        *shuffle.Store
	logger       *zap.Logger
	statsTracker *stats.RunStatistics

	warningsLock sync.Mutex
	warnings     []error
}

// Execute runs every stage of p, each as soon as the stages it depends on have
// succeeded. A failed stage causes its dependents to be skipped; independent
// stages still run. Execute blocks until every stage has finished or been skipped.
func Execute(ctx context.Context, g *graph.Graph, p *plan.Plan, conf Config) *Outcome {
	if conf.Shards <= 0 {
		conf.Shards = 1
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	d := &driver{
		g:            g,
		p:            p,
		conf:         conf,
		store:        shuffle.NewStore(&shuffle.StoreConf{MemoryLimit: conf.ShuffleMemoryLimit, TempDir: conf.TempDir}),
		logger:       conf.Logger.With(zap.String("pipeline", conf.Pipeline), zap.String("run", conf.RunID)),
		statsTracker: &stats.RunStatistics{},
	}
	defer func() {
		if err := d.store.Release(); err != nil {
			d.logger.Warn("failed to release shuffle data", zap.Error(err))
		}
	}()
	d.statsTracker.Start(p.Size())

	outcomes := make([]StageOutcome, p.Size())
	done := make([]chan struct{}, p.Size())
	for i := range done {
		done[i] = make(chan struct{})
	}
	var wg sync.WaitGroup
	for _, s := range p.Stages {
		wg.Add(1)
		go func(s *plan.Stage) {
			defer wg.Done()
			defer close(done[s.ID])
			for _, dep := range s.Deps {
				<-done[dep]
			}
			outcomes[s.ID] = d.runStage(ctx, s, outcomes)
		}(s)
	}
	wg.Wait()
	d.statsTracker.Finish()

	res := &Outcome{Stages: outcomes, Runtime: d.statsTracker.GetRuntime()}
	for i, w := range p.Writes {
		wo := WriteOutcome{Index: i}
		if so := outcomes[p.StageOf[w.Node]]; so.Status != StatusSucceeded {
			wo.Err = so.Err
		}
		res.Writes = append(res.Writes, wo)
	}
	d.warningsLock.Lock()
	res.Warnings = append([]error(nil), d.warnings...)
	d.warningsLock.Unlock()
	return res
}

func (d *driver) warn(err error) {
	d.logger.Warn("cleanup failed", zap.Error(err))
	d.warningsLock.Lock()
	defer d.warningsLock.Unlock()
	d.warnings = append(d.warnings, err)
}

func (d *driver) runStage(ctx context.Context, s *plan.Stage, outcomes []StageOutcome) StageOutcome {
	out := StageOutcome{ID: s.ID, Name: s.Name}
	logger := d.logger.With(zap.Int("stage", s.ID), zap.String("input", s.Name))
	for _, dep := range s.Deps {
		switch outcomes[dep].Status {
		case StatusSucceeded:
		case StatusCanceled:
			out.Status, out.Err = StatusCanceled, outcomes[dep].Err
			return out
		default:
			out.Status = StatusSkipped
			out.Err = &serrors.UpstreamFailedError{Stage: dep, Err: outcomes[dep].Err}
			logger.Warn("skipping stage", zap.Int("upstream", dep), zap.Error(outcomes[dep].Err))
			return out
		}
	}
	if err := ctx.Err(); err != nil {
		out.Status, out.Err = StatusCanceled, err
		return out
	}

	ss := d.statsTracker.Stage(s.ID)
	ss.Start()
	logger.Info("starting stage")
	err := d.submit(ctx, s, ss, logger)
	ss.Finish()
	out.Stats = ss.Snapshot()
	switch {
	case err == nil:
		out.Status = StatusSucceeded
		logger.Info("stage succeeded",
			zap.Int64("tasks", out.Stats.Tasks),
			zap.Int64("attempts", out.Stats.Attempts),
			zap.Int64("records_read", out.Stats.RecordsRead),
			zap.Int64("records_written", out.Stats.RecordsWritten),
			zap.Duration("runtime", out.Stats.Runtime))
	case ctx.Err() != nil:
		out.Status, out.Err = StatusCanceled, fmt.Errorf("stage %d (%s): %w", s.ID, s.Name, ctx.Err())
		logger.Warn("stage canceled")
	default:
		out.Status, out.Err = StatusFailed, fmt.Errorf("stage %d (%s): %w", s.ID, s.Name, err)
		logger.Error("stage failed", zap.Error(err))
	}
	return out
}

func (d *driver) submit(ctx context.Context, s *plan.Stage, ss *stats.StageStatistics, logger *zap.Logger) error {
	inputs, err := d.inputs(ctx, s)
	if err != nil {
		return err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	job := &substrate.Job{
		ID:    id.String(),
		Name:  fmt.Sprintf("%s/stage-%d", d.conf.Pipeline, s.ID),
		Tasks: make([]substrate.Task, len(inputs)),
	}
	for i, in := range inputs {
		i, in := i, in
		job.Tasks[i] = substrate.Task{
			Name: in.name,
			Run: func(ctx context.Context, attempt int) error {
				return d.runTask(ctx, s, i, attempt, in.read, ss, logger)
			},
		}
	}
	logger.Debug("submitting job", zap.String("job", job.ID), zap.Int("tasks", len(job.Tasks)))
	h, err := d.conf.Substrate.Submit(ctx, job)
	if err != nil {
		return err
	}
	err = h.Wait(ctx)
	if ctx.Err() != nil {
		// let attempts still in flight observe the cancellation before their buffers go away
		_ = h.Wait(context.Background())
	}
	return err
}

func (d *driver) runTask(ctx context.Context, s *plan.Stage, task, attempt int, read readFunc, ss *stats.StageStatistics, logger *zap.Logger) error {
	ss.StartAttempt()
	start := time.Now()
	tc, err := d.newTaskContext(ctx, s, task, attempt)
	if err == nil {
		err = read(ctx, tc)
	}
	if err == nil {
		err = tc.finish()
	}
	if err == nil {
		err = tc.commit()
	}
	if err != nil {
		tc.abort()
		logger.Debug("task attempt failed", zap.Int("task", task), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}
	ss.CommitTask(tc.counters, time.Since(start))
	return nil
}
