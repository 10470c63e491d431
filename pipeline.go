package sluice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/exec"
	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/plan"
	"github.com/go-sif/sluice/substrate"
	"github.com/go-sif/sluice/substrate/local"
	"go.uber.org/zap"
)

type pipelineState int

const (
	stateBuilding pipelineState = iota
	stateRunning
	stateFinished
	stateAborted
)

func (s pipelineState) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateRunning:
		return "running"
	case stateFinished:
		return "finished"
	default:
		return "aborted"
	}
}

// Pipeline records a graph of transformations and the writes which should be performed.
// Nothing is executed until Run or Done is called.
type Pipeline struct {
	name          string
	opts          Options
	logger        *zap.Logger
	sub           substrate.Substrate
	ownsSubstrate bool
	releaseOnce   sync.Once
	releaseErr    error

	lock   sync.Mutex
	state  pipelineState
	graph  *graph.Graph
	writes []graph.Write
}

// NewPipeline creates an empty Pipeline. opts may be nil.
func NewPipeline(name string, opts *Options) (*Pipeline, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if err := ensureDefaultOptionsValues(&o); err != nil {
		return nil, err
	}
	p := &Pipeline{
		name:   name,
		opts:   o,
		logger: o.Logger.With(zap.String("pipeline", name)),
		sub:    o.Substrate,
		graph:  graph.New(),
	}
	if p.sub == nil {
		p.sub = local.New(&local.Options{
			Parallelism:     o.Parallelism,
			MaxAttempts:     o.MaxTaskAttempts,
			InitialInterval: o.RetryInitialInterval,
			MaxInterval:     o.RetryMaxInterval,
			Logger:          p.logger,
		})
		p.ownsSubstrate = true
	}
	return p, nil
}

// Name returns the name of this Pipeline
func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) stateError(op string) error {
	return &serrors.PipelineStateError{Pipeline: p.name, State: p.state.String(), Op: op}
}

func (p *Pipeline) addNode(op string, n *graph.Node) (graph.NodeID, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != stateBuilding {
		return 0, p.stateError(op)
	}
	for _, parent := range n.Parents {
		if p.graph.Node(parent) == nil {
			return 0, &serrors.InvalidCollectionError{Op: op, Reason: "collection does not belong to this pipeline"}
		}
	}
	return p.graph.Add(n), nil
}

func (p *Pipeline) addWrite(w graph.Write) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != stateBuilding {
		return p.stateError("Write")
	}
	p.writes = append(p.writes, w)
	return nil
}

func (p *Pipeline) nodeName(id graph.NodeID) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	if n := p.graph.Node(id); n != nil {
		return n.Name
	}
	return ""
}

// Explain plans the pending writes without running them and describes the resulting stages
func (p *Pipeline) Explain() (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	pl, err := plan.New(p.graph, p.writes, plan.Options{LiftCombiners: !p.opts.DisableCombiner})
	if err != nil {
		return "", err
	}
	return pl.String(), nil
}

// Run plans and executes every pending write, blocking until all have finished.
// Pending writes are cleared and the Pipeline may be extended and run again afterwards.
// If any write fails, the returned error is a *PipelineError and the Result describes
// which writes succeeded. Cancelling ctx aborts the run and leaves the Pipeline unusable.
// DoFns are not interrupted: a cancelled Run still waits for every record already being
// processed to return from its DoFn.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.lock.Lock()
	if p.state != stateBuilding {
		defer p.lock.Unlock()
		return nil, p.stateError("run")
	}
	p.state = stateRunning
	writes := p.writes
	p.writes = nil
	p.lock.Unlock()

	res, err := p.run(ctx, writes)

	p.lock.Lock()
	defer p.lock.Unlock()
	if ctx.Err() != nil {
		p.state = stateAborted
	} else {
		p.state = stateBuilding
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, writes []graph.Write) (*Result, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	runID := id.String()
	logger := p.logger.With(zap.String("run", runID))
	if len(writes) == 0 {
		logger.Info("no pending writes")
		return &Result{RunID: runID}, nil
	}
	pl, err := plan.New(p.graph, writes, plan.Options{LiftCombiners: !p.opts.DisableCombiner})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.name, err)
	}
	logger.Info("running pipeline", zap.Int("stages", pl.Size()), zap.Int("writes", len(writes)))
	out := exec.Execute(ctx, p.graph, pl, exec.Config{
		RunID:              runID,
		Pipeline:           p.name,
		Shards:             p.opts.ShuffleShards,
		IgnoreRecordErrors: p.opts.IgnoreRecordErrors,
		Substrate:          p.sub,
		Logger:             p.opts.Logger,
		ShuffleMemoryLimit: p.opts.ShuffleMemoryLimit,
		TempDir:            p.opts.TempDir,
	})
	res := newResult(runID, p.graph, out, writes)
	if err := ctx.Err(); err != nil {
		logger.Warn("run aborted", zap.Error(err))
		return res, fmt.Errorf("pipeline %s: run %s aborted: %w", p.name, runID, err)
	}
	if failed := res.Failed(); len(failed) > 0 {
		logger.Error("run finished with failed writes", zap.Int("failed", len(failed)), zap.Duration("runtime", res.Runtime))
		return res, &PipelineError{Pipeline: p.name, Failed: failed}
	}
	logger.Info("run succeeded", zap.Duration("runtime", res.Runtime))
	return res, nil
}

// Done runs every pending write like Run, then releases the Pipeline's resources whether or
// not the run succeeded. The Pipeline cannot be used afterwards.
func (p *Pipeline) Done(ctx context.Context) (*Result, error) {
	res, err := p.Run(ctx)
	var stateErr *serrors.PipelineStateError
	if errors.As(err, &stateErr) && stateErr.State == stateRunning.String() {
		return nil, err
	}
	p.lock.Lock()
	if p.state == stateBuilding {
		p.state = stateFinished
	}
	p.lock.Unlock()
	if rerr := p.release(); rerr != nil && err == nil {
		err = rerr
	}
	return res, err
}

func (p *Pipeline) release() error {
	p.releaseOnce.Do(func() {
		if p.ownsSubstrate {
			p.releaseErr = p.sub.Close()
		}
		_ = p.logger.Sync()
	})
	return p.releaseErr
}
