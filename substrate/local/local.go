// Package local provides an in-process substrate which runs tasks on a bounded
// pool of goroutines and retries failed attempts with exponential backoff.
package local

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/substrate"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Options configure a local Substrate
type Options struct {
	Parallelism     int           // Maximum number of tasks running at once across all jobs. Defaults to runtime.NumCPU().
	MaxAttempts     int           // Attempts allowed per task before its job fails. Defaults to 4.
	InitialInterval time.Duration // Delay before the first retry. Defaults to 100ms.
	MaxInterval     time.Duration // Upper bound on the delay between retries. Defaults to 5s.
	Logger          *zap.Logger   // Defaults to a no-op logger
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// Substrate runs jobs in-process
type Substrate struct {
	opts   Options
	pool   *semaphore.Weighted
	jobs   sync.WaitGroup
	lock   sync.Mutex
	closed atomic.Bool
}

// New creates a local Substrate
func New(opts *Options) *Substrate {
	var o Options
	if opts != nil {
		o = *opts
	}
	ensureDefaultOptionsValues(&o)
	return &Substrate{
		opts: o,
		pool: semaphore.NewWeighted(int64(o.Parallelism)),
	}
}

type handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the job finishes or ctx is done
func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts running the tasks of job in the background
func (s *Substrate) Submit(ctx context.Context, job *substrate.Job) (substrate.Handle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed.Load() {
		return nil, substrate.ErrClosed
	}
	h := &handle{done: make(chan struct{})}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer close(h.done)
		h.err = s.run(ctx, job)
	}()
	return h, nil
}

// Close waits for in-flight jobs and rejects further submissions
func (s *Substrate) Close() error {
	s.lock.Lock()
	s.closed.Store(true)
	s.lock.Unlock()
	s.jobs.Wait()
	return nil
}

func (s *Substrate) run(ctx context.Context, job *substrate.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range job.Tasks {
		if err := s.pool.Acquire(gctx, 1); err != nil {
			break
		}
		task := task
		g.Go(func() error {
			defer s.pool.Release(1)
			return s.runTask(gctx, job, task)
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (s *Substrate) runTask(ctx context.Context, job *substrate.Job, task substrate.Task) error {
	logger := s.opts.Logger.With(zap.String("job", job.Name), zap.String("task", task.Name))
	attempt := 0
	op := func() error {
		attempt++
		err := task.Run(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if attempt < s.opts.MaxAttempts {
			logger.Warn("task attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxAttempts-1)), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	logger.Error("task failed", zap.Int("attempts", attempt), zap.Error(err))
	return &serrors.TaskError{Job: job.Name, Task: task.Name, Attempts: attempt, Err: err}
}
