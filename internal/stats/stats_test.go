package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnlyCommittedTasksAreCounted(t *testing.T) {
	var rs RunStatistics
	rs.Start(2)
	s := rs.Stage(1)
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.StartAttempt()
			s.StartAttempt()
			s.CommitTask(TaskCounters{RecordsRead: 10, RecordsWritten: 3, RecordsShuffled: 7, RecordsSkipped: 1}, time.Millisecond)
		}()
	}
	wg.Wait()
	s.Finish()
	rs.Finish()

	snap := s.Snapshot()
	require.Equal(t, int64(8), snap.Tasks)
	require.Equal(t, int64(16), snap.Attempts)
	require.Equal(t, int64(80), snap.RecordsRead)
	require.Equal(t, int64(24), snap.RecordsWritten)
	require.Equal(t, int64(56), snap.RecordsShuffled)
	require.Equal(t, int64(8), snap.RecordsSkipped)
	require.Equal(t, time.Millisecond, snap.AverageRecentTaskRuntime)
	require.Equal(t, snap.Runtime, s.GetRuntime())
	require.Equal(t, Snapshot{}, rs.Stage(0).Snapshot())
}
