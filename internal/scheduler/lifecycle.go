package scheduler

import (
	"github.com/chuliyu/beaverq/internal/store"
	"github.com/chuliyu/beaverq/pkg/types"
)

// CompleteOptions carries complete's optional pipeline-advance fields: a
// job completed with NextQueue set moves on to that queue instead of
// terminating, the way qless-core's complete/advance does.
type CompleteOptions struct {
	NextQueue string
	Delay     int64
	Depends   []types.JobID
}

// Complete marks a running job done. With NextQueue set, it instead
// advances the job into that queue (optionally delayed, optionally with a
// fresh dependency set) rather than completing it terminally.
func (s *Scheduler) Complete(now int64, jid types.JobID, worker, data string, opts CompleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	if job.State != types.StateRunning {
		return ErrWrongState
	}
	if job.Worker != worker {
		return ErrWrongWorker
	}

	q := s.store.Queue(job.Queue)
	q.Running.Remove(string(jid))
	if data != "" {
		job.Data = data
	}
	job.LastComplete = now
	job.Worker = ""
	job.Expires = 0
	job.History = append(job.History, types.HistoryEvent{What: "completed", When: now, Queue: job.Queue})

	granted := s.resources.Release(s.priorityOf, jid, job.Resources)

	if opts.NextQueue != "" {
		job.Queue = opts.NextQueue
		job.ScheduledAt = now + opts.Delay
		if opts.Depends != nil {
			s.setDependencies(job, opts.Depends)
		}
		s.place(now, job)
	} else {
		job.State = types.StateComplete
		job.Queue = ""
		s.store.Complete.Add(string(jid), float64(now), float64(s.store.NextSeq()))
		s.releaseDependents(now, jid)
	}

	s.regrant(now, granted)
	return nil
}

func (s *Scheduler) releaseDependents(now int64, jid types.JobID) {
	job := s.store.Jobs[jid]
	for _, dep := range job.Dependents {
		d, ok := s.store.Jobs[dep]
		if !ok {
			continue
		}
		d.Dependencies = removeJobID(d.Dependencies, jid)
		if d.State == types.StateDepends {
			s.place(now, d)
		}
	}
}

// regrant re-places every jid whose resources just became fully available
// (returned by a resource.Manager.Release/Set call) so it can leave
// depends for its queue.
func (s *Scheduler) regrant(now int64, jids []types.JobID) {
	for _, jid := range jids {
		if job, ok := s.store.Jobs[jid]; ok {
			s.place(now, job)
		}
	}
}

// Fail terminates a running job immediately into the named failure group,
// independent of remaining retry count.
func (s *Scheduler) Fail(now int64, jid types.JobID, worker, group, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	if job.State != types.StateRunning {
		return ErrWrongState
	}
	if job.Worker != worker {
		return ErrWrongWorker
	}
	s.failJob(now, job, group, message)
	return nil
}

// failJob is the shared terminal-failure path used by Fail, Retry
// (exhausted), and the stall sweep (exhausted).
func (s *Scheduler) failJob(now int64, job *types.Job, group, message string) {
	worker := job.Worker
	s.store.RemoveFromQueueIndices(job)
	granted := s.resources.Release(s.priorityOf, job.ID, job.Resources)

	job.State = types.StateFailed
	job.Worker = ""
	job.Expires = 0
	job.Failure = &types.Failure{Group: group, Message: message, When: now, Worker: worker}
	job.History = append(job.History, types.HistoryEvent{What: "failed", When: now, Queue: job.Queue})

	idx, ok := s.store.Failed[group]
	if !ok {
		idx = store.NewIndex()
		s.store.Failed[group] = idx
	}
	idx.Add(string(job.ID), float64(now), float64(s.store.NextSeq()))

	s.regrant(now, granted)
}

// Retry decrements remaining and returns a running job to its queue
// (after delay), or fails it into group if no retries remain.
func (s *Scheduler) Retry(now int64, jid types.JobID, worker, group, message string, delay int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	if job.State != types.StateRunning {
		return ErrWrongState
	}
	if job.Worker != worker {
		return ErrWrongWorker
	}

	job.Remaining--
	if job.Remaining < 0 {
		s.failJob(now, job, group, message)
		return ErrRetriesExhausted
	}

	q := s.store.Queue(job.Queue)
	q.Running.Remove(string(jid))
	job.Worker = ""
	job.Expires = 0
	job.ScheduledAt = now + delay
	job.Failure = &types.Failure{Group: group, Message: message, When: now}
	job.History = append(job.History, types.HistoryEvent{What: "retried", When: now, Queue: job.Queue})
	s.place(now, job)
	return nil
}

// Heartbeat extends a running job's expiry, the way a worker signals it's
// still alive mid-run. It fails with ErrWrongWorker if worker no longer
// holds the job (e.g. it already stalled out to someone else).
func (s *Scheduler) Heartbeat(now int64, jid types.JobID, worker, data string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return 0, ErrNotFound
	}
	if job.State != types.StateRunning {
		return 0, ErrWrongState
	}
	if job.Worker != worker {
		return 0, ErrWrongWorker
	}
	if data != "" {
		job.Data = data
	}
	job.Expires = now + s.cfg.Heartbeat
	q := s.store.Queue(job.Queue)
	q.Running.Add(string(jid), float64(job.Expires), float64(s.store.NextSeq()))
	return job.Expires, nil
}

// Cancel deletes jid outright. It refuses (ErrWrongState) if an incomplete,
// non-failed dependent still lists jid among its dependencies — cascading
// deletes aren't attempted, and a dependent is never left holding a
// dangling dependency.
func (s *Scheduler) Cancel(now int64, jid types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	for _, d := range job.Dependents {
		dj, ok := s.store.Jobs[d]
		if !ok || dj.State == types.StateComplete || dj.State == types.StateFailed {
			continue
		}
		for _, dep := range dj.Dependencies {
			if dep == jid {
				return ErrWrongState
			}
		}
	}

	s.store.RemoveFromQueueIndices(job)
	granted := s.resources.Release(s.priorityOf, jid, job.Resources)
	for _, dep := range job.Dependencies {
		if dj, ok := s.store.Jobs[dep]; ok {
			dj.Dependents = removeJobID(dj.Dependents, jid)
		}
	}
	s.store.Complete.Remove(string(jid))
	for _, idx := range s.store.Failed {
		idx.Remove(string(jid))
	}
	delete(s.store.Jobs, jid)

	s.regrant(now, granted)
	return nil
}

// Priority changes jid's scheduling priority, re-sorting its waiting-index
// position immediately if it's currently waiting.
func (s *Scheduler) Priority(jid types.JobID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	job.Priority = priority
	if job.State == types.StateWaiting {
		q := s.store.Queue(job.Queue)
		q.Waiting.Add(string(jid), float64(-priority), float64(job.PutAt))
	}
	return nil
}

// Pause and Unpause toggle whether a queue will hand out any jobs from Pop
// or Peek; queued state is untouched either way.
func (s *Scheduler) Pause(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Queue(queue).Paused = true
}

func (s *Scheduler) Unpause(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Queue(queue).Paused = false
}

func (s *Scheduler) Paused(queue string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Queue(queue).Paused
}

// Track and Untrack toggle a job's Tracked flag, which only affects the
// query surface (jobs("tracked")) — never scheduling itself.
func (s *Scheduler) Track(jid types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	job.Tracked = true
	return nil
}

func (s *Scheduler) Untrack(jid types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	job.Tracked = false
	return nil
}

// Tag incrementally edits jid's tag set: remove is applied before add, so
// a tag present in both ends up kept.
func (s *Scheduler) Tag(jid types.JobID, add, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	removeSet := make(map[string]bool, len(remove))
	for _, t := range remove {
		removeSet[t] = true
	}
	kept := job.Tags[:0]
	for _, t := range job.Tags {
		if !removeSet[t] {
			kept = append(kept, t)
		}
	}
	job.Tags = kept
	for _, t := range add {
		found := false
		for _, existing := range job.Tags {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			job.Tags = append(job.Tags, t)
		}
	}
	return nil
}

// Depends incrementally edits jid's dependency set, maintaining the
// dependents/dependencies symmetry invariant, and re-places jid since
// clearing its last outstanding dependency may release it from depends.
func (s *Scheduler) Depends(now int64, jid types.JobID, add, remove []types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Jobs[jid]
	if !ok {
		return ErrNotFound
	}
	removeSet := make(map[types.JobID]bool, len(remove))
	for _, d := range remove {
		removeSet[d] = true
	}
	next := make([]types.JobID, 0, len(job.Dependencies)+len(add))
	for _, d := range job.Dependencies {
		if !removeSet[d] {
			next = append(next, d)
		}
	}
	next = append(next, add...)
	s.setDependencies(job, next)
	s.place(now, job)
	return nil
}
