package local

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/substrate"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newTestSubstrate(t *testing.T, parallelism, attempts int) *Substrate {
	return New(&Options{
		Parallelism:     parallelism,
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Logger:          zaptest.NewLogger(t),
	})
}

func TestRunsEveryTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 3, 1)
	defer s.Close()

	var ran atomic.Int64
	job := &substrate.Job{Name: "all"}
	for i := 0; i < 20; i++ {
		job.Tasks = append(job.Tasks, substrate.Task{Name: fmt.Sprintf("task-%d", i), Run: func(ctx context.Context, attempt int) error {
			ran.Inc()
			return nil
		}})
	}
	h, err := s.Submit(context.Background(), job)
	require.Nil(t, err)
	require.Nil(t, h.Wait(context.Background()))
	require.Equal(t, int64(20), ran.Load())
}

func TestBoundsParallelism(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 2, 1)
	defer s.Close()

	var running, peak atomic.Int64
	task := func(ctx context.Context, attempt int) error {
		n := running.Inc()
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Dec()
		return nil
	}
	var handles []substrate.Handle
	for j := 0; j < 3; j++ {
		job := &substrate.Job{Name: fmt.Sprintf("job-%d", j)}
		for i := 0; i < 4; i++ {
			job.Tasks = append(job.Tasks, substrate.Task{Name: fmt.Sprintf("task-%d", i), Run: task})
		}
		h, err := s.Submit(context.Background(), job)
		require.Nil(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.Nil(t, h.Wait(context.Background()))
	}
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestRetriesFailedAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 1, 3)
	defer s.Close()

	var attempts []int
	job := &substrate.Job{Name: "flaky", Tasks: []substrate.Task{{Name: "only", Run: func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}}}}
	h, err := s.Submit(context.Background(), job)
	require.Nil(t, err)
	require.Nil(t, h.Wait(context.Background()))
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestFailsJobAfterLastAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 2, 2)
	defer s.Close()

	sentinel := errors.New("always broken")
	job := &substrate.Job{Name: "broken", Tasks: []substrate.Task{
		{Name: "bad", Run: func(ctx context.Context, attempt int) error { return sentinel }},
		{Name: "good", Run: func(ctx context.Context, attempt int) error { return nil }},
	}}
	h, err := s.Submit(context.Background(), job)
	require.Nil(t, err)
	err = h.Wait(context.Background())
	var taskErr *serrors.TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "broken", taskErr.Job)
	require.Equal(t, "bad", taskErr.Task)
	require.Equal(t, 2, taskErr.Attempts)
	require.ErrorIs(t, err, sentinel)
}

func TestCancellationStopsRetries(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 1, 100)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	job := &substrate.Job{Name: "blocked", Tasks: []substrate.Task{{Name: "wait", Run: func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}}}}
	h, err := s.Submit(ctx, job)
	require.Nil(t, err)
	<-started
	cancel()
	require.ErrorIs(t, h.Wait(context.Background()), context.Canceled)
}

func TestRejectsSubmissionsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSubstrate(t, 1, 1)
	require.Nil(t, s.Close())
	_, err := s.Submit(context.Background(), &substrate.Job{Name: "late"})
	require.ErrorIs(t, err, substrate.ErrClosed)
}
