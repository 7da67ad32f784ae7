package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuliyu/beaverq/internal/scheduler"
	"github.com/chuliyu/beaverq/pkg/types"
)

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatchUnknownCommandIsMalformed(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "not-a-command", 0, nil)
	assert.ErrorIs(t, err, scheduler.ErrMalformed)
}

func TestDispatchPutPopComplete(t *testing.T) {
	s := scheduler.New(types.NewConfig())

	jid, err := Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k",
	}))
	require.NoError(t, err)
	assert.Equal(t, types.JobID("a"), jid)

	popped, err := Dispatch(s, "pop", 1, raw(t, map[string]interface{}{
		"queue": "q", "worker": "w1", "count": 1,
	}))
	require.NoError(t, err)
	jobs, ok := popped.([]*types.Job)
	require.True(t, ok)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobID("a"), jobs[0].ID)

	_, err = Dispatch(s, "complete", 2, raw(t, map[string]interface{}{
		"jid": "a", "worker": "w1",
	}))
	require.NoError(t, err)

	job, err := Dispatch(s, "get", 3, raw(t, map[string]interface{}{"jid": "a"}))
	require.NoError(t, err)
	assert.Equal(t, types.StateComplete, job.(*types.Job).State)
}

func TestDispatchPutNotReplacedRendersSentinel(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k",
	}))
	require.NoError(t, err)
	_, err = Dispatch(s, "pop", 1, raw(t, map[string]interface{}{
		"queue": "q", "worker": "w1", "count": 1,
	}))
	require.NoError(t, err)

	resp, err := Dispatch(s, "put", 5, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k", "replace": false,
	}))
	require.Error(t, err)
	nr, ok := resp.(notReplacedResponse)
	require.True(t, ok)
	assert.Equal(t, 56, nr.Sentinel)
	assert.Equal(t, types.JobID("a"), nr.Jid)
}

func TestDispatchJobsQueryRequiresQueueExceptComplete(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "jobs", 0, raw(t, map[string]interface{}{"state": "running"}))
	assert.ErrorIs(t, err, scheduler.ErrMalformed)

	_, err = Dispatch(s, "jobs", 0, raw(t, map[string]interface{}{"state": "complete"}))
	assert.NoError(t, err)
}

func TestDispatchJobsQueryScheduledByQueue(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "delayed", "klass": "k", "delay": 100,
	}))
	require.NoError(t, err)

	resp, err := Dispatch(s, "jobs", 1, raw(t, map[string]interface{}{
		"state": "scheduled", "queue": "q",
	}))
	require.NoError(t, err)
	jobs := resp.([]*types.Job)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobID("delayed"), jobs[0].ID)
}

func TestDispatchResourceQueries(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "resource.set", 0, raw(t, map[string]interface{}{"name": "gpu", "max": 1}))
	require.NoError(t, err)

	_, err = Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k", "resources": []string{"gpu"},
	}))
	require.NoError(t, err)
	_, err = Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "b", "klass": "k", "resources": []string{"gpu"},
	}))
	require.NoError(t, err)

	exists, err := Dispatch(s, "resource.exists", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, true, exists)

	lockCount, err := Dispatch(s, "resource.lock_count", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, 1, lockCount)

	pendingCount, err := Dispatch(s, "resource.pending_count", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, 1, pendingCount)

	locks, err := Dispatch(s, "resource.locks", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, []types.JobID{"a"}, locks)

	pending, err := Dispatch(s, "resource.pending", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, []types.JobID{"b"}, pending)

	data, err := Dispatch(s, "resource.data", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	require.NoError(t, err)
	assert.Equal(t, 1, data.(types.ResourceState).Max)
}

func TestDispatchResourceUnsetConflict(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "resource.set", 0, raw(t, map[string]interface{}{"name": "gpu", "max": 1}))
	require.NoError(t, err)
	_, err = Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k", "resources": []string{"gpu"},
	}))
	require.NoError(t, err)

	_, err = Dispatch(s, "resource.unset", 0, raw(t, map[string]interface{}{"name": "gpu"}))
	assert.ErrorIs(t, err, scheduler.ErrCapacityConflict)
}

func TestDispatchStats(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "put", 0, raw(t, map[string]interface{}{
		"queue": "q", "jid": "a", "klass": "k",
	}))
	require.NoError(t, err)

	resp, err := Dispatch(s, "stats", 1, nil)
	require.NoError(t, err)
	stats := resp.(statsResponse)
	require.Len(t, stats.Queues, 1)
	assert.Equal(t, "q", stats.Queues[0].Name)
	assert.Equal(t, 1, stats.Queues[0].Waiting)
}

func TestDispatchMalformedArgs(t *testing.T) {
	s := scheduler.New(types.NewConfig())
	_, err := Dispatch(s, "put", 0, json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, scheduler.ErrMalformed)
}
