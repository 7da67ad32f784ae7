// Package store holds the in-memory state a Scheduler operates on: the
// authoritative job/resource/template maps plus the per-queue sorted
// indices derived from them. It owns no locking of its own — generalized
// from the teacher's job_manager.go "one map plus secondary indices behind
// one mutex" design, with the mutex living one level up in the Scheduler so
// a single operation can touch store, resource, and queue state under one
// lock.
package store

import "github.com/chuliyu/beaverq/pkg/types"

// Queue bundles the sorted indices that order one named queue's jobs.
type Queue struct {
	Name           string
	Paused         bool
	MaxConcurrency int // 0 means unlimited

	// Waiting orders eligible jobs by (-priority, put-at): highest
	// priority first, earliest arrival breaking ties.
	Waiting *Index

	// Scheduled orders not-yet-due jobs by (activation-tick, sequence).
	Scheduled *Index

	// Running orders claimed jobs by (expires, sequence), so a stall
	// sweep can find the earliest-expiring entries first.
	Running *Index

	// Depends holds jobs blocked on dependencies or resources; order
	// doesn't matter, membership does.
	Depends map[types.JobID]struct{}

	// Recurring orders templates rooted at this queue by (next, sequence).
	Recurring *Index
}

// NewQueue returns an empty, unpaused Queue named name.
func NewQueue(name string) *Queue {
	return &Queue{
		Name:      name,
		Waiting:   NewIndex(),
		Scheduled: NewIndex(),
		Running:   NewIndex(),
		Depends:   make(map[types.JobID]struct{}),
		Recurring: NewIndex(),
	}
}

// Resource is a named counting semaphore: up to Max concurrent holders,
// with a FIFO-ordered pending list for jobs still waiting on a grant.
type Resource struct {
	Name string
	Max  int

	Locks      map[types.JobID]struct{}
	LocksOrder []types.JobID // insertion order, for deterministic Locks() output
	Pending    []types.JobID // arrival order
}

// NewResource returns a Resource with capacity max and no holders.
func NewResource(name string, max int) *Resource {
	return &Resource{
		Name:  name,
		Max:   max,
		Locks: make(map[types.JobID]struct{}),
	}
}

// Store is the full engine state: every job, resource, recurring template,
// and queue, plus the global complete/failed indices the query surface
// reads from.
type Store struct {
	Jobs      map[types.JobID]*types.Job
	Resources map[string]*Resource
	Templates map[types.JobID]*types.RecurringTemplate
	Queues    map[string]*Queue

	// Complete orders completed jobs by (completion-tick, sequence), the
	// backing index for jobs("complete").
	Complete *Index
	// Failed is keyed by failure group, each ordered by (failure-tick,
	// sequence), backing jobs("failed", group).
	Failed map[string]*Index

	seq int64 // monotonic tie-break counter; never a timestamp
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		Jobs:      make(map[types.JobID]*types.Job),
		Resources: make(map[string]*Resource),
		Templates: make(map[types.JobID]*types.RecurringTemplate),
		Queues:    make(map[string]*Queue),
		Complete:  NewIndex(),
		Failed:    make(map[string]*Index),
	}
}

// Queue returns the named queue, creating it on first reference.
func (s *Store) Queue(name string) *Queue {
	q, ok := s.Queues[name]
	if !ok {
		q = NewQueue(name)
		s.Queues[name] = q
	}
	return q
}

// Resource returns the named resource, creating it (with max 0, i.e. always
// pending until set) on first reference.
func (s *Store) Resource(name string) *Resource {
	r, ok := s.Resources[name]
	if !ok {
		r = NewResource(name, 0)
		s.Resources[name] = r
	}
	return r
}

// NextSeq returns the next monotonic tie-break counter value.
func (s *Store) NextSeq() int64 {
	s.seq++
	return s.seq
}

// RemoveFromQueueIndices removes jid from every index of its queue that
// might currently hold it, without touching s.Jobs. Safe to call
// unconditionally before re-placing a job.
func (s *Store) RemoveFromQueueIndices(job *types.Job) {
	if job.Queue == "" {
		return
	}
	q := s.Queue(job.Queue)
	id := string(job.ID)
	q.Waiting.Remove(id)
	q.Scheduled.Remove(id)
	q.Running.Remove(id)
	delete(q.Depends, job.ID)
}
