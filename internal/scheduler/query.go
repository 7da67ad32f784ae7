package scheduler

import (
	"sort"

	"github.com/chuliyu/beaverq/pkg/types"
)

// Get returns a defensive copy of jid's current record.
func (s *Scheduler) Get(jid types.JobID) (*types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.store.Jobs[jid]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// paginate applies offset/count the way every jobs(...) state branch does:
// count <= 0 defaults to 25 (spec §4.6's default page size), offset < 0
// clamps to 0.
func paginate(ids []string, offset, count int) []string {
	if offset < 0 {
		offset = 0
	}
	if count <= 0 {
		count = 25
	}
	if offset >= len(ids) {
		return nil
	}
	end := offset + count
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

func (s *Scheduler) jobsFromIDs(ids []string) []*types.Job {
	out := make([]*types.Job, 0, len(ids))
	for _, idStr := range ids {
		if job, ok := s.store.Jobs[types.JobID(idStr)]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

// JobsQuery implements the jobs(now, state, [queue], [offset], [count])
// surface from spec §4.6: state-specific ordering and, for every state but
// complete, a required queue. complete is newest-first across the whole
// engine (the global Complete index only orders by completion tick, not
// per-queue); running is by expires ascending; stalled is running entries
// past expires+grace; scheduled/depends/recurring are by each index's
// natural order. Pagination (offset/count) applies uniformly.
func (s *Scheduler) JobsQuery(now int64, state types.JobState, queue string, offset, count int) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state == types.StateComplete {
		ids := paginate(s.store.Complete.MembersDesc(), offset, count)
		return s.jobsFromIDs(ids), nil
	}

	if queue == "" {
		return nil, ErrMalformed
	}
	q, ok := s.store.Queues[queue]
	if !ok {
		return nil, nil
	}

	switch state {
	case types.StateRunning:
		ids := paginate(q.Running.Members(), offset, count)
		return s.jobsFromIDs(ids), nil
	case types.StateStalled:
		var ids []string
		for _, idStr := range q.Running.Members() {
			expires, _, _ := q.Running.Score(idStr)
			if int64(expires)+s.cfg.GracePeriod <= now {
				ids = append(ids, idStr)
			}
		}
		return s.jobsFromIDs(paginate(ids, offset, count)), nil
	case types.StateScheduled:
		ids := paginate(q.Scheduled.Members(), offset, count)
		return s.jobsFromIDs(ids), nil
	case types.StateDepends:
		ids := make([]string, 0, len(q.Depends))
		for jid := range q.Depends {
			ids = append(ids, string(jid))
		}
		sort.Strings(ids)
		return s.jobsFromIDs(paginate(ids, offset, count)), nil
	case types.StateRecurring:
		ids := paginate(q.Recurring.Members(), offset, count)
		return s.jobsFromIDs(ids), nil
	default:
		return nil, ErrMalformed
	}
}

// JobsTracked returns every job with Tracked set.
func (s *Scheduler) JobsTracked() []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Job
	for _, job := range s.store.Jobs {
		if job.Tracked {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

// JobsFailed returns every job that failed into group, in failure order.
func (s *Scheduler) JobsFailed(group string) []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.store.Failed[group]
	if !ok {
		return nil
	}
	var out []*types.Job
	for _, idStr := range idx.Members() {
		if job, ok := s.store.Jobs[types.JobID(idStr)]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

// FailedGroups reports every failure group and its current size.
func (s *Scheduler) FailedGroups() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.store.Failed))
	for g, idx := range s.store.Failed {
		out[g] = idx.Card()
	}
	return out
}

// Queues returns the aggregate stats for every known queue, sorted by name.
func (s *Scheduler) Queues(now int64) []types.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.QueueStats, 0, len(s.store.Queues))
	for name, q := range s.store.Queues {
		stalled := 0
		for _, idStr := range q.Running.Members() {
			expires, _, _ := q.Running.Score(idStr)
			if int64(expires)+s.cfg.GracePeriod <= now {
				stalled++
			}
		}
		due := len(q.Scheduled.RangeByScore(float64(now)))
		out = append(out, types.QueueStats{
			Name:      name,
			Paused:    q.Paused,
			Waiting:   q.Waiting.Card() + due,
			Scheduled: q.Scheduled.Card(),
			Depends:   len(q.Depends),
			Running:   q.Running.Card(),
			Stalled:   stalled,
			Recurring: q.Recurring.Card(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Workers returns the derived per-worker view of current and stalled jobs;
// a worker carries no independent state, so this is computed fresh from
// every running job each call.
func (s *Scheduler) Workers(now int64) []types.WorkerView {
	s.mu.Lock()
	defer s.mu.Unlock()
	byWorker := make(map[string]*types.WorkerView)
	for _, job := range s.store.Jobs {
		if job.State != types.StateRunning || job.Worker == "" {
			continue
		}
		wv, ok := byWorker[job.Worker]
		if !ok {
			wv = &types.WorkerView{Name: job.Worker}
			byWorker[job.Worker] = wv
		}
		if job.Expires+s.cfg.GracePeriod <= now {
			wv.Stalled = append(wv.Stalled, job.ID)
		} else {
			wv.Jobs = append(wv.Jobs, job.ID)
		}
	}
	out := make([]types.WorkerView, 0, len(byWorker))
	for _, wv := range byWorker {
		out = append(out, *wv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config returns a copy of the current tunable configuration.
func (s *Scheduler) Config() types.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the tunable configuration wholesale.
func (s *Scheduler) SetConfig(cfg types.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Resource exposes the resource manager's read surface (locks, pending,
// lock_count, pending_count, max) for query and dispatch callers.
func (s *Scheduler) Resource(name string) (types.ResourceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Get(name)
}

// SetResource creates or resizes a named resource, immediately granting as
// many pending jobs as the new capacity allows.
func (s *Scheduler) SetResource(now int64, name string, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	granted := s.resources.Set(s.priorityOf, name, max)
	s.regrant(now, granted)
}

// UnsetResource removes a resource definition, refusing while it still has
// locks or pending jobs.
func (s *Scheduler) UnsetResource(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Unset(name)
}

// ResourceExists reports whether a record for name exists. SetResource
// creates one; so does a put requiring name or any lock/pending query on it
// (with max 0).
func (s *Scheduler) ResourceExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Exists(name)
}

// ResourceLocks returns the jids currently holding a unit of name, in grant
// order.
func (s *Scheduler) ResourceLocks(name string) []types.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Locks(name)
}

// ResourcePending returns the jids waiting on name, in arrival order.
func (s *Scheduler) ResourcePending(name string) []types.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.Pending(name)
}

// ResourceLockCount reports |locks| for name.
func (s *Scheduler) ResourceLockCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.LockCount(name)
}

// ResourcePendingCount reports |pending| for name.
func (s *Scheduler) ResourcePendingCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources.PendingCount(name)
}
