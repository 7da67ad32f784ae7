// Package scheduler is the Scheduler: the single-threaded cooperative
// serializer that coordinates the store, the resource manager, and the
// recurring manifold into one consistent state machine. It plays the role
// the teacher's Controller played — "the brain that coordinates every
// module in one mutex-guarded operation" — but every method here runs to
// completion synchronously on the caller's goroutine; there are no
// background dispatch/result/timeout loops, because spec §5 mandates a
// single logical "now" per call and no suspension points inside an
// operation. "now" is always supplied by the caller, never read from the
// wall clock.
package scheduler

import (
	"sort"
	"sync"

	"github.com/chuliyu/beaverq/internal/resource"
	"github.com/chuliyu/beaverq/internal/store"
	"github.com/chuliyu/beaverq/pkg/types"
)

// Scheduler owns one mutex guarding the whole of the store, resource
// manager, and recurring state — the teacher's Controller.mu /
// JobManager.mu granularity, generalized from "protects one map" to
// "protects the whole consistent cross-index state."
type Scheduler struct {
	mu sync.Mutex

	cfg       types.Config
	store     *store.Store
	resources *resource.Manager
}

// New returns a Scheduler configured with cfg.
func New(cfg types.Config) *Scheduler {
	st := store.NewStore()
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		resources: resource.NewManager(st),
	}
}

func (s *Scheduler) priorityOf(jid types.JobID) int {
	if job, ok := s.store.Jobs[jid]; ok {
		return job.Priority
	}
	return 0
}

// cloneJob returns a defensive copy so callers can't mutate engine state
// through a returned *types.Job.
func cloneJob(job *types.Job) *types.Job {
	if job == nil {
		return nil
	}
	cp := *job
	cp.Tags = append([]string(nil), job.Tags...)
	cp.Dependencies = append([]types.JobID(nil), job.Dependencies...)
	cp.Dependents = append([]types.JobID(nil), job.Dependents...)
	cp.Resources = append([]string(nil), job.Resources...)
	cp.History = append([]types.HistoryEvent(nil), job.History...)
	if job.Failure != nil {
		f := *job.Failure
		cp.Failure = &f
	}
	return &cp
}

func (s *Scheduler) dependenciesComplete(job *types.Job) bool {
	for _, d := range job.Dependencies {
		dj, ok := s.store.Jobs[d]
		if !ok || dj.State != types.StateComplete {
			return false
		}
	}
	return true
}

// place recomputes job's placement from scratch: depends, if dependencies
// are outstanding; scheduled, if its activation (delay or interval
// throttle, whichever is later) hasn't arrived; otherwise an attempt to
// acquire its resources, landing in waiting on full grant or depends
// ("waiting for resources") otherwise. Put, Retry, Depends, an advancing
// Complete, dependency release, resource regrants and recurring
// materialization all place jobs through it (spec §4.1/§4.4's placement
// rule); Pop's waiting -> running move and the stall sweep do not.
func (s *Scheduler) place(now int64, job *types.Job) {
	s.store.RemoveFromQueueIndices(job)

	q := s.store.Queue(job.Queue)

	if !s.dependenciesComplete(job) {
		job.State = types.StateDepends
		q.Depends[job.ID] = struct{}{}
		return
	}

	activation := job.ScheduledAt
	if job.Interval > 0 && job.LastComplete > 0 {
		if throttle := job.LastComplete + job.Interval; throttle > activation {
			activation = throttle
		}
	}

	if activation > now {
		job.State = types.StateScheduled
		q.Scheduled.Add(string(job.ID), float64(activation), float64(s.store.NextSeq()))
		return
	}

	s.tryAcquireAndWait(job, q)
}

func (s *Scheduler) tryAcquireAndWait(job *types.Job, q *store.Queue) {
	if len(job.Resources) == 0 || s.resources.Acquire(job.ID, job.Resources) {
		job.State = types.StateWaiting
		q.Waiting.Add(string(job.ID), float64(-job.Priority), float64(job.PutAt))
		return
	}
	job.State = types.StateDepends
	q.Depends[job.ID] = struct{}{}
}

// PutOptions carries put's optional fields; a nil pointer means "leave
// unchanged" on replace, "use the default" on first insert.
type PutOptions struct {
	Priority  *int
	Tags      []string
	Retries   *int
	Depends   []types.JobID
	Resources []string
	Interval  *int64
	Replace   *bool
}

// Put inserts or replaces jid. Replace defaults to true; replacing a
// running, unexpired job with Replace=false is refused with ErrNotReplaced
// (the qless-core sentinel 56). Any other existing state is replaced.
func (s *Scheduler) Put(now int64, queue string, jid types.JobID, klass, data string, delay int64, opts PutOptions) (types.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queue == "" || klass == "" || jid == "" {
		return "", ErrMalformed
	}

	var granted []types.JobID
	job, existed := s.store.Jobs[jid]
	if existed {
		replace := true
		if opts.Replace != nil {
			replace = *opts.Replace
		}
		if job.State == types.StateRunning && now < job.Expires && !replace {
			return "", &ErrNotReplaced{JobID: string(jid)}
		}
		granted = s.resources.Release(s.priorityOf, jid, job.Resources)
		s.store.RemoveFromQueueIndices(job)
	} else {
		job = &types.Job{ID: jid}
		s.store.Jobs[jid] = job
	}

	job.Klass = klass
	job.Data = data
	job.Queue = queue
	job.Worker = ""
	job.Expires = 0
	job.Failure = nil

	if opts.Priority != nil {
		job.Priority = *opts.Priority
	}
	if opts.Tags != nil {
		job.Tags = append([]string(nil), opts.Tags...)
	}
	retries := job.Retries
	if retries == 0 {
		retries = 5
	}
	if opts.Retries != nil {
		retries = *opts.Retries
	}
	job.Retries = retries
	job.Remaining = retries

	if opts.Resources != nil {
		job.Resources = append([]string(nil), opts.Resources...)
	}
	if opts.Interval != nil {
		job.Interval = *opts.Interval
	}
	if opts.Depends != nil {
		s.setDependencies(job, opts.Depends)
	}

	job.PutAt = now
	job.ScheduledAt = now + delay
	job.History = append(job.History, types.HistoryEvent{What: "put", When: now, Queue: queue})

	s.place(now, job)
	s.regrant(now, granted)
	return jid, nil
}

func (s *Scheduler) setDependencies(job *types.Job, deps []types.JobID) {
	oldSet := make(map[types.JobID]bool, len(job.Dependencies))
	for _, d := range job.Dependencies {
		oldSet[d] = true
	}

	newSet := make(map[types.JobID]bool, len(deps))
	filtered := make([]types.JobID, 0, len(deps))
	for _, d := range deps {
		if d == job.ID || newSet[d] {
			continue
		}
		if dj, ok := s.store.Jobs[d]; ok && dj.State == types.StateComplete {
			continue
		}
		newSet[d] = true
		filtered = append(filtered, d)
	}

	for d := range oldSet {
		if !newSet[d] {
			if dj, ok := s.store.Jobs[d]; ok {
				dj.Dependents = removeJobID(dj.Dependents, job.ID)
			}
		}
	}
	for d := range newSet {
		if !oldSet[d] {
			if dj, ok := s.store.Jobs[d]; ok {
				dj.Dependents = appendUniqueJobID(dj.Dependents, job.ID)
			}
		}
	}
	job.Dependencies = filtered
}

func removeJobID(list []types.JobID, id types.JobID) []types.JobID {
	out := list[:0]
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func appendUniqueJobID(list []types.JobID, id types.JobID) []types.JobID {
	for _, x := range list {
		if x == id {
			return list
		}
	}
	return append(list, id)
}

// stallSweep is invoked at the start of every Pop (spec §4.3): every
// running job past expires+grace is treated as stalled — remaining is
// decremented, and the job either fails (exhausted) or returns to waiting
// for any worker to reclaim, keeping whatever resources it already holds.
func (s *Scheduler) stallSweep(now int64, q *store.Queue) {
	grace := s.cfg.GracePeriod
	for _, idStr := range q.Running.RangeByScore(float64(now - grace)) {
		jid := types.JobID(idStr)
		job := s.store.Jobs[jid]
		if job == nil {
			continue
		}
		q.Running.Remove(idStr)
		job.Remaining--
		if job.Remaining < 0 {
			s.failJob(now, job, "stalled", "job stalled past expiration with no retries remaining")
			continue
		}
		job.Worker = ""
		job.State = types.StateWaiting
		job.History = append(job.History, types.HistoryEvent{What: "stalled", When: now})
		q.Waiting.Add(idStr, float64(-job.Priority), float64(job.PutAt))
	}
}

// activateScheduled moves every due scheduled job (spec §4.1) into
// waiting or depends (resource-pending), mutating state — unlike Peek,
// which must compute the same due set without committing it.
func (s *Scheduler) activateScheduled(now int64, q *store.Queue) {
	for _, idStr := range q.Scheduled.RangeByScore(float64(now)) {
		jid := types.JobID(idStr)
		job := s.store.Jobs[jid]
		if job == nil {
			continue
		}
		q.Scheduled.Remove(idStr)
		s.tryAcquireAndWait(job, q)
	}
}

// Pop claims up to count jobs from queue for worker. It runs the stall
// sweep, activates due scheduled jobs, and materializes any due recurring
// templates before selecting from the waiting index.
func (s *Scheduler) Pop(now int64, queue, worker string, count int) []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.store.Queue(queue)
	s.stallSweep(now, q)
	s.activateScheduled(now, q)
	s.materializeDue(now, q)

	if q.Paused {
		return nil
	}
	limit := s.availableSlots(q, count)
	if limit <= 0 {
		return nil
	}

	ids := q.Waiting.RangeByRank(0, limit)
	jobs := make([]*types.Job, 0, len(ids))
	for _, idStr := range ids {
		jid := types.JobID(idStr)
		job := s.store.Jobs[jid]
		q.Waiting.Remove(idStr)
		job.State = types.StateRunning
		job.Worker = worker
		job.Expires = now + s.cfg.Heartbeat
		job.History = append(job.History, types.HistoryEvent{What: "popped", When: now, Worker: worker})
		q.Running.Add(idStr, float64(job.Expires), float64(s.store.NextSeq()))
		jobs = append(jobs, cloneJob(job))
	}
	return jobs
}

func (s *Scheduler) availableSlots(q *store.Queue, requested int) int {
	limit := requested
	max := q.MaxConcurrency
	if m, ok := s.cfg.QueueMaxConcurrency[q.Name]; ok && m > 0 {
		max = m
	}
	if max > 0 {
		avail := max - q.Running.Card()
		if avail < limit {
			limit = avail
		}
	}
	return limit
}

// Peek reports what Pop would return without claiming anything: it
// materializes due recurring templates (spec §4.5 requires this for both
// pop and peek) but never activates not-yet-due scheduled jobs, merging
// already-due ones into the view read-only instead. It does not run the
// stall sweep: running jobs past expires+grace, which the next Pop would
// reclaim, are not included.
func (s *Scheduler) Peek(now int64, queue string, count int) []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.store.Queue(queue)
	s.materializeDue(now, q)
	if q.Paused {
		return nil
	}
	limit := s.availableSlots(q, count)
	if limit <= 0 {
		return nil
	}

	ids := s.peekCandidateIDs(now, q)
	if limit < len(ids) {
		ids = ids[:limit]
	}
	jobs := make([]*types.Job, 0, len(ids))
	for _, idStr := range ids {
		jobs = append(jobs, cloneJob(s.store.Jobs[types.JobID(idStr)]))
	}
	return jobs
}

type peekCandidate struct {
	id   string
	key1 float64
	key2 float64
}

func (s *Scheduler) peekCandidateIDs(now int64, q *store.Queue) []string {
	var cands []peekCandidate
	for _, id := range q.Waiting.Members() {
		k1, k2, _ := q.Waiting.Score(id)
		cands = append(cands, peekCandidate{id, k1, k2})
	}
	for _, id := range q.Scheduled.RangeByScore(float64(now)) {
		job := s.store.Jobs[types.JobID(id)]
		if job == nil || !s.resources.WouldGrant(job.ID, job.Resources) {
			continue
		}
		cands = append(cands, peekCandidate{id, float64(-job.Priority), float64(job.PutAt)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].key1 != cands[j].key1 {
			return cands[i].key1 < cands[j].key1
		}
		return cands[i].key2 < cands[j].key2
	})
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}
