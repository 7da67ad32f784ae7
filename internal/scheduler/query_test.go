package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuliyu/beaverq/pkg/types"
)

func TestJobsQueryRequiresQueueExceptComplete(t *testing.T) {
	s := newScheduler()
	_, err := s.JobsQuery(0, types.StateRunning, "", 0, 0)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = s.JobsQuery(0, types.StateComplete, "", 0, 0)
	assert.NoError(t, err)
}

func TestJobsQueryCompleteNewestFirstPaginated(t *testing.T) {
	s := newScheduler()
	for i, jid := range []types.JobID{"a", "b", "c"} {
		_, err := s.Put(int64(i), "q", jid, "k", "", 0, PutOptions{})
		require.NoError(t, err)
	}
	popped := s.Pop(10, "q", "w1", 10)
	require.Len(t, popped, 3)
	require.NoError(t, s.Complete(11, "a", "w1", "", CompleteOptions{}))
	require.NoError(t, s.Complete(12, "b", "w1", "", CompleteOptions{}))
	require.NoError(t, s.Complete(13, "c", "w1", "", CompleteOptions{}))

	jobs, err := s.JobsQuery(14, types.StateComplete, "", 0, 25)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []types.JobID{"c", "b", "a"}, []types.JobID{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	page, err := s.JobsQuery(14, types.StateComplete, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, types.JobID("b"), page[0].ID)
}

func TestJobsQueryScheduledAndStalled(t *testing.T) {
	cfg := types.NewConfig()
	cfg.Heartbeat = 10
	cfg.GracePeriod = 0
	s := New(cfg)

	_, err := s.Put(0, "q", "delayed", "k", "", 100, PutOptions{})
	require.NoError(t, err)
	scheduled, err := s.JobsQuery(1, types.StateScheduled, "q", 0, 25)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, types.JobID("delayed"), scheduled[0].ID)

	_, err = s.Put(0, "q", "slow", "k", "", 0, PutOptions{})
	require.NoError(t, err)
	require.Len(t, s.Pop(0, "q", "w1", 10), 1)

	stalled, err := s.JobsQuery(21, types.StateStalled, "q", 0, 25)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, types.JobID("slow"), stalled[0].ID)
}

func TestJobsQueryUnknownQueueReturnsEmpty(t *testing.T) {
	s := newScheduler()
	jobs, err := s.JobsQuery(0, types.StateWaiting, "nope", 0, 25)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRecurUpdateMovesQueueAndCapsBacklog(t *testing.T) {
	s := newScheduler()
	_, err := s.Recur(0, "q1", "tmpl", "k", "", 5, RecurOptions{})
	require.NoError(t, err)

	newQueue := "q2"
	backlog := int64(1)
	require.NoError(t, s.RecurUpdate("tmpl", RecurUpdateOptions{Queue: &newQueue, Backlog: &backlog}))

	assert.Empty(t, s.Pop(0, "q1", "w1", 10))

	popped := s.Pop(100, "q2", "w1", 10)
	require.Len(t, popped, 1)
	assert.Equal(t, types.JobID("tmpl-1"), popped[0].ID)
}
