package stats

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

const statisticRollingWindows = 5

// TaskCounters are counted by a single task attempt and only folded into the
// stage's statistics once the attempt commits
type TaskCounters struct {
	RecordsRead     int64
	RecordsWritten  int64
	RecordsShuffled int64
	RecordsSkipped  int64
}

// Snapshot is a point-in-time copy of a stage's statistics
type Snapshot struct {
	Tasks                    int64
	Attempts                 int64
	RecordsRead              int64
	RecordsWritten           int64
	RecordsShuffled          int64
	RecordsSkipped           int64
	Runtime                  time.Duration
	AverageRecentTaskRuntime time.Duration
}

// StageStatistics contains statistics about one stage of a running pipeline
type StageStatistics struct {
	startTime       atomic.Time
	runtime         atomic.Duration
	finished        atomic.Bool
	tasks           atomic.Int64
	attempts        atomic.Int64
	recordsRead     atomic.Int64
	recordsWritten  atomic.Int64
	recordsShuffled atomic.Int64
	recordsSkipped  atomic.Int64

	lock                   sync.Mutex
	recentTaskRuntimes     []time.Duration // for rolling average of recent task processing times
	recentTaskRuntimesHead int
}

// Start tracks the beginning of the stage
func (s *StageStatistics) Start() {
	s.startTime.Store(time.Now())
}

// Finish tracks the end of the stage
func (s *StageStatistics) Finish() {
	if s.finished.CompareAndSwap(false, true) {
		s.runtime.Store(time.Since(s.startTime.Load()))
	}
}

// StartAttempt tracks the beginning of a task attempt
func (s *StageStatistics) StartAttempt() {
	s.attempts.Inc()
}

// CommitTask folds the counters of a successful task attempt into the stage
func (s *StageStatistics) CommitTask(c TaskCounters, runtime time.Duration) {
	s.tasks.Inc()
	s.recordsRead.Add(c.RecordsRead)
	s.recordsWritten.Add(c.RecordsWritten)
	s.recordsShuffled.Add(c.RecordsShuffled)
	s.recordsSkipped.Add(c.RecordsSkipped)
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.recentTaskRuntimes == nil {
		s.recentTaskRuntimes = make([]time.Duration, statisticRollingWindows)
	}
	s.recentTaskRuntimes[s.recentTaskRuntimesHead] = runtime
	s.recentTaskRuntimesHead = (s.recentTaskRuntimesHead + 1) % len(s.recentTaskRuntimes)
}

// GetRuntime returns the running time of the stage
func (s *StageStatistics) GetRuntime() time.Duration {
	if s.finished.Load() {
		return s.runtime.Load()
	}
	start := s.startTime.Load()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// GetCurrentTaskProcessingTime returns a rolling average of task processing time
func (s *StageStatistics) GetCurrentTaskProcessingTime() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	var total time.Duration
	var n int
	for _, d := range s.recentTaskRuntimes {
		if d > 0 {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// Snapshot copies the current statistics
func (s *StageStatistics) Snapshot() Snapshot {
	return Snapshot{
		Tasks:                    s.tasks.Load(),
		Attempts:                 s.attempts.Load(),
		RecordsRead:              s.recordsRead.Load(),
		RecordsWritten:           s.recordsWritten.Load(),
		RecordsShuffled:          s.recordsShuffled.Load(),
		RecordsSkipped:           s.recordsSkipped.Load(),
		Runtime:                  s.GetRuntime(),
		AverageRecentTaskRuntime: s.GetCurrentTaskProcessingTime(),
	}
}

// RunStatistics contains statistics about a running pipeline
type RunStatistics struct {
	startTime time.Time
	runtime   atomic.Duration
	finished  atomic.Bool
	stages    []*StageStatistics
}

// Start triggers statistics tracking for a run of numStages stages
func (rs *RunStatistics) Start(numStages int) {
	rs.startTime = time.Now()
	rs.stages = make([]*StageStatistics, numStages)
	for i := range rs.stages {
		rs.stages[i] = &StageStatistics{}
	}
}

// Finish completes statistics tracking
func (rs *RunStatistics) Finish() {
	if rs.finished.CompareAndSwap(false, true) {
		rs.runtime.Store(time.Since(rs.startTime))
	}
}

// Stage returns the statistics of one stage
func (rs *RunStatistics) Stage(idx int) *StageStatistics {
	return rs.stages[idx]
}

// GetRuntime returns the running time of the run
func (rs *RunStatistics) GetRuntime() time.Duration {
	if rs.finished.Load() {
		return rs.runtime.Load()
	}
	return time.Since(rs.startTime)
}
