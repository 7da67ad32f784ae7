// Package dispatch is the wire-style command surface from spec §6: a
// map[string]Handler table that parses JSON arguments into typed
// Scheduler calls and renders scheduler.ErrMalformed on any shape
// mismatch. Grounded on the teacher's WAL replay event-type switch
// (replayWAL in controller.go) and the cobra command registration style
// in cli.go — both are "given a command name, look up what to do with it"
// dispatch tables; this generalizes that shape into one table shared by
// the CLI, the wire transport, and internal/engine's WAL replay.
package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/chuliyu/beaverq/internal/scheduler"
	"github.com/chuliyu/beaverq/pkg/types"
)

// Handler parses args and invokes one Scheduler operation.
type Handler func(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error)

// Table maps every mutating and read-only command name from spec §6 to its
// Handler.
var Table = map[string]Handler{
	"put":                    handlePut,
	"pop":                    handlePop,
	"peek":                   handlePeek,
	"complete":               handleComplete,
	"fail":                   handleFail,
	"retry":                  handleRetry,
	"heartbeat":              handleHeartbeat,
	"cancel":                 handleCancel,
	"priority":               handlePriority,
	"pause":                  handlePause,
	"unpause":                handleUnpause,
	"paused":                 handlePaused,
	"track":                  handleTrack,
	"untrack":                handleUntrack,
	"tag":                    handleTag,
	"depends":                handleDepends,
	"recur":                  handleRecur,
	"recur.update":           handleRecurUpdate,
	"unrecur":                handleUnrecur,
	"resource.set":           handleResourceSet,
	"resource.unset":         handleResourceUnset,
	"resource.get":           handleResourceGet,
	"resource.data":          handleResourceGet,
	"resource.exists":        handleResourceExists,
	"resource.locks":         handleResourceLocks,
	"resource.pending":       handleResourcePending,
	"resource.lock_count":    handleResourceLockCount,
	"resource.pending_count": handleResourcePendingCount,
	"get":                    handleGet,
	"jobs":                   handleJobs,
	"queues":                 handleQueues,
	"workers":                handleWorkers,
	"config.get":             handleConfigGet,
	"config.set":             handleConfigSet,
	"stats":                  handleStats,
}

// Dispatch looks up command and invokes it with args against s at now.
// ErrMalformed is returned for an unknown command, matching spec §7's
// "reject anything that doesn't fit the documented shape."
func Dispatch(s *scheduler.Scheduler, command string, now int64, args json.RawMessage) (interface{}, error) {
	h, ok := Table[command]
	if !ok {
		return nil, scheduler.ErrMalformed
	}
	return h(s, now, args)
}

func unmarshalOrMalformed(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return scheduler.ErrMalformed
	}
	return nil
}

type putArgs struct {
	Queue     string        `json:"queue"`
	Jid       types.JobID   `json:"jid"`
	Klass     string        `json:"klass"`
	Data      string        `json:"data"`
	Delay     int64         `json:"delay"`
	Priority  *int          `json:"priority,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Retries   *int          `json:"retries,omitempty"`
	Depends   []types.JobID `json:"depends,omitempty"`
	Resources []string      `json:"resources,omitempty"`
	Interval  *int64        `json:"interval,omitempty"`
	Replace   *bool         `json:"replace,omitempty"`
}

// notReplacedResponse renders scheduler.ErrNotReplaced back to the literal
// qless-core sentinel integer (56) the wire protocol expects; handlePut
// returns it together with the error itself.
type notReplacedResponse struct {
	Sentinel int         `json:"sentinel"`
	Jid      types.JobID `json:"jid"`
}

func handlePut(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a putArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	jid, err := s.Put(now, a.Queue, a.Jid, a.Klass, a.Data, a.Delay, scheduler.PutOptions{
		Priority: a.Priority, Tags: a.Tags, Retries: a.Retries, Depends: a.Depends,
		Resources: a.Resources, Interval: a.Interval, Replace: a.Replace,
	})
	if err != nil {
		var nr *scheduler.ErrNotReplaced
		if errors.As(err, &nr) {
			return notReplacedResponse{Sentinel: nr.Sentinel(), Jid: types.JobID(nr.JobID)}, err
		}
		return nil, err
	}
	return jid, nil
}

type popArgs struct {
	Queue  string `json:"queue"`
	Worker string `json:"worker"`
	Count  int    `json:"count"`
}

func handlePop(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a popArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	if a.Count <= 0 {
		a.Count = 1
	}
	return s.Pop(now, a.Queue, a.Worker, a.Count), nil
}

type peekArgs struct {
	Queue string `json:"queue"`
	Count int    `json:"count"`
}

func handlePeek(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a peekArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	if a.Count <= 0 {
		a.Count = 1
	}
	return s.Peek(now, a.Queue, a.Count), nil
}

type completeArgs struct {
	Jid       types.JobID   `json:"jid"`
	Worker    string        `json:"worker"`
	Data      string        `json:"data"`
	NextQueue string        `json:"next,omitempty"`
	Delay     int64         `json:"delay,omitempty"`
	Depends   []types.JobID `json:"depends,omitempty"`
}

func handleComplete(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a completeArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	err := s.Complete(now, a.Jid, a.Worker, a.Data, scheduler.CompleteOptions{
		NextQueue: a.NextQueue, Delay: a.Delay, Depends: a.Depends,
	})
	return nil, err
}

type failArgs struct {
	Jid     types.JobID `json:"jid"`
	Worker  string      `json:"worker"`
	Group   string      `json:"group"`
	Message string      `json:"message"`
}

func handleFail(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a failArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Fail(now, a.Jid, a.Worker, a.Group, a.Message)
}

type retryArgs struct {
	Jid     types.JobID `json:"jid"`
	Worker  string      `json:"worker"`
	Group   string      `json:"group"`
	Message string      `json:"message"`
	Delay   int64       `json:"delay"`
}

func handleRetry(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a retryArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Retry(now, a.Jid, a.Worker, a.Group, a.Message, a.Delay)
}

type heartbeatArgs struct {
	Jid    types.JobID `json:"jid"`
	Worker string      `json:"worker"`
	Data   string      `json:"data"`
}

func handleHeartbeat(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a heartbeatArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.Heartbeat(now, a.Jid, a.Worker, a.Data)
}

type jidArgs struct {
	Jid types.JobID `json:"jid"`
}

func handleCancel(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a jidArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Cancel(now, a.Jid)
}

type priorityArgs struct {
	Jid      types.JobID `json:"jid"`
	Priority int         `json:"priority"`
}

func handlePriority(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a priorityArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Priority(a.Jid, a.Priority)
}

type queueArgs struct {
	Queue string `json:"queue"`
}

func handlePause(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a queueArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	s.Pause(a.Queue)
	return nil, nil
}

func handleUnpause(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a queueArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	s.Unpause(a.Queue)
	return nil, nil
}

func handlePaused(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a queueArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.Paused(a.Queue), nil
}

func handleTrack(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a jidArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Track(a.Jid)
}

func handleUntrack(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a jidArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Untrack(a.Jid)
}

type tagArgs struct {
	Jid    types.JobID `json:"jid"`
	Add    []string    `json:"add,omitempty"`
	Remove []string    `json:"remove,omitempty"`
}

func handleTag(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a tagArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Tag(a.Jid, a.Add, a.Remove)
}

type dependsArgs struct {
	Jid    types.JobID   `json:"jid"`
	Add    []types.JobID `json:"add,omitempty"`
	Remove []types.JobID `json:"remove,omitempty"`
}

func handleDepends(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a dependsArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Depends(now, a.Jid, a.Add, a.Remove)
}

type recurArgs struct {
	Queue     string      `json:"queue"`
	Jid       types.JobID `json:"jid"`
	Klass     string      `json:"klass"`
	Data      string      `json:"data"`
	Interval  int64       `json:"interval"`
	Offset    int64       `json:"offset,omitempty"`
	Priority  int         `json:"priority,omitempty"`
	Retries   int         `json:"retries,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	Resources []string    `json:"resources,omitempty"`
	Backlog   int64       `json:"backlog,omitempty"`
}

func handleRecur(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a recurArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.Recur(now, a.Queue, a.Jid, a.Klass, a.Data, a.Interval, scheduler.RecurOptions{
		Offset: a.Offset, Priority: a.Priority, Retries: a.Retries, Tags: a.Tags,
		Resources: a.Resources, Backlog: a.Backlog,
	})
}

type recurUpdateArgs struct {
	Jid       types.JobID `json:"jid"`
	Queue     *string     `json:"queue,omitempty"`
	Klass     *string     `json:"klass,omitempty"`
	Priority  *int        `json:"priority,omitempty"`
	Interval  *int64      `json:"interval,omitempty"`
	Retries   *int        `json:"retries,omitempty"`
	Data      *string     `json:"data,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	Resources []string    `json:"resources,omitempty"`
	Backlog   *int64      `json:"backlog,omitempty"`
}

func handleRecurUpdate(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a recurUpdateArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.RecurUpdate(a.Jid, scheduler.RecurUpdateOptions{
		Queue: a.Queue, Klass: a.Klass, Priority: a.Priority, Interval: a.Interval, Retries: a.Retries,
		Data: a.Data, Tags: a.Tags, Resources: a.Resources, Backlog: a.Backlog,
	})
}

func handleUnrecur(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a jidArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return nil, s.Unrecur(a.Jid)
}

type resourceSetArgs struct {
	Name string `json:"name"`
	Max  int    `json:"max"`
}

func handleResourceSet(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a resourceSetArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	s.SetResource(now, a.Name, a.Max)
	return nil, nil
}

type resourceNameArgs struct {
	Name string `json:"name"`
}

func handleResourceUnset(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	if !s.UnsetResource(a.Name) {
		return nil, scheduler.ErrCapacityConflict
	}
	return nil, nil
}

func handleResourceGet(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	state, ok := s.Resource(a.Name)
	if !ok {
		return nil, scheduler.ErrNotFound
	}
	return state, nil
}

func handleResourceExists(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.ResourceExists(a.Name), nil
}

func handleResourceLocks(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.ResourceLocks(a.Name), nil
}

func handleResourcePending(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.ResourcePending(a.Name), nil
}

func handleResourceLockCount(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.ResourceLockCount(a.Name), nil
}

func handleResourcePendingCount(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a resourceNameArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	return s.ResourcePendingCount(a.Name), nil
}

// statsResponse is the `stats` command's payload: per-queue counts (the
// same aggregate the `queues` command returns) plus failed-group sizes,
// matching spec §6's grouping of queue/worker/failure aggregates under one
// umbrella query distinct from the single-queue `queues` lookup.
type statsResponse struct {
	Queues []types.QueueStats `json:"queues"`
	Failed map[string]int     `json:"failed"`
}

func handleStats(s *scheduler.Scheduler, now int64, _ json.RawMessage) (interface{}, error) {
	return statsResponse{
		Queues: s.Queues(now),
		Failed: s.FailedGroups(),
	}, nil
}

func handleGet(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var a jidArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	job, ok := s.Get(a.Jid)
	if !ok {
		return nil, scheduler.ErrNotFound
	}
	return job, nil
}

type jobsArgs struct {
	State   string `json:"state,omitempty"`
	Queue   string `json:"queue,omitempty"`
	Group   string `json:"group,omitempty"`
	Tracked bool   `json:"tracked,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func handleJobs(s *scheduler.Scheduler, now int64, args json.RawMessage) (interface{}, error) {
	var a jobsArgs
	if err := unmarshalOrMalformed(args, &a); err != nil {
		return nil, err
	}
	switch {
	case a.Tracked:
		return s.JobsTracked(), nil
	case a.State == "failed":
		return s.JobsFailed(a.Group), nil
	case a.State != "":
		return s.JobsQuery(now, types.JobState(a.State), a.Queue, a.Offset, a.Count)
	default:
		return nil, scheduler.ErrMalformed
	}
}

func handleQueues(s *scheduler.Scheduler, now int64, _ json.RawMessage) (interface{}, error) {
	return s.Queues(now), nil
}

func handleWorkers(s *scheduler.Scheduler, now int64, _ json.RawMessage) (interface{}, error) {
	return s.Workers(now), nil
}

func handleConfigGet(s *scheduler.Scheduler, _ int64, _ json.RawMessage) (interface{}, error) {
	return s.Config(), nil
}

func handleConfigSet(s *scheduler.Scheduler, _ int64, args json.RawMessage) (interface{}, error) {
	var cfg types.Config
	if err := unmarshalOrMalformed(args, &cfg); err != nil {
		return nil, err
	}
	s.SetConfig(cfg)
	return nil, nil
}
