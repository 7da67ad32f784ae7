package engine

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuliyu/beaverq/pkg/types"
)

func testConfig(dir string) Config {
	return Config{
		WALPath:          filepath.Join(dir, "op.log"),
		SnapshotPath:     filepath.Join(dir, "snap.json"),
		WALBufferSize:    1,
		WALFlushInterval: time.Millisecond,
		SnapshotInterval: time.Hour,
	}
}

func TestExecutePutAndPopRoundTripThroughWAL(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Execute(0, "put", json.RawMessage(`{"queue":"q","jid":"a","klass":"k","data":""}`))
	require.NoError(t, err)

	popped, err := e.Execute(1, "pop", json.RawMessage(`{"queue":"q","worker":"w1","count":5}`))
	require.NoError(t, err)
	jobs, ok := popped.([]*types.Job)
	require.True(t, ok)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobID("a"), jobs[0].ID)
}

func TestRecoveryReplaysWALAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(cfg)
	require.NoError(t, err)
	_, err = e.Execute(0, "put", json.RawMessage(`{"queue":"q","jid":"a","klass":"k","data":""}`))
	require.NoError(t, err)
	_, err = e.Execute(1, "put", json.RawMessage(`{"queue":"q","jid":"b","klass":"k","data":""}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	jobA, ok := e2.Scheduler().Get("a")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, jobA.State)
	jobB, ok := e2.Scheduler().Get("b")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, jobB.State)
}

func TestRecoverySkipsEventsAlreadyInSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(cfg)
	require.NoError(t, err)
	_, err = e.Execute(0, "put", json.RawMessage(`{"queue":"q","jid":"a","klass":"k","data":""}`))
	require.NoError(t, err)
	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	job, ok := e2.Scheduler().Get("a")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, job.State)
}

func TestRecoverySurvivesCrashAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(cfg)
	require.NoError(t, err)
	_, err = e.Execute(0, "put", json.RawMessage(`{"queue":"q","jid":"a","klass":"k","data":""}`))
	require.NoError(t, err)
	require.NoError(t, e.Checkpoint())

	_, err = e.Execute(1, "put", json.RawMessage(`{"queue":"q","jid":"b","klass":"k","data":""}`))
	require.NoError(t, err)
	_, err = e.Execute(2, "put", json.RawMessage(`{"queue":"q","jid":"c","klass":"k","data":""}`))
	require.NoError(t, err)

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	jobA, ok := e2.Scheduler().Get("a")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, jobA.State)
	jobB, ok := e2.Scheduler().Get("b")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, jobB.State)
	jobC, ok := e2.Scheduler().Get("c")
	require.True(t, ok)
	assert.Equal(t, types.StateWaiting, jobC.State)
}

func TestCheckpointRotatesWAL(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Execute(0, "put", json.RawMessage(`{"queue":"q","jid":"a","klass":"k","data":""}`))
	require.NoError(t, err)
	require.NoError(t, e.Checkpoint())

	_, err = e.Execute(1, "put", json.RawMessage(`{"queue":"q","jid":"b","klass":"k","data":""}`))
	require.NoError(t, err)
}
