// Package resource implements the named counting semaphores described in
// spec §4.2: each resource grants up to Max concurrent locks, queues
// excess demand FIFO, and grants out of that queue by priority (highest
// priority first, ties broken by arrival order) whenever capacity frees
// up. New domain — the teacher repo has no analogue — built in its
// struct-plus-plain-methods style rather than as an interface, matching
// job_manager.go's preference for a single concrete type per concern.
package resource

import (
	"github.com/chuliyu/beaverq/internal/store"
	"github.com/chuliyu/beaverq/pkg/types"
)

// Manager operates on a Store's resource map. It holds no lock of its own;
// the Scheduler serializes every call.
type Manager struct {
	store *store.Store
}

// NewManager returns a Manager backed by s.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// PriorityLookup resolves a jid's current priority, used to break ties
// among a resource's pending jobs on grant.
type PriorityLookup func(types.JobID) int

// Set creates or resizes a resource to max. If max grows, as many pending
// jobs as fit are granted immediately (highest priority first); Set
// returns the jids that became fully granted across all their required
// resources as a result, so the caller can move them out of depends.
func (m *Manager) Set(priorityOf PriorityLookup, name string, max int) []types.JobID {
	r := m.store.Resource(name)
	r.Max = max
	return m.fillFromPending(priorityOf, r)
}

// Unset removes a resource definition. It is a no-op if locks or pending
// jobs remain (callers should release/cancel those first).
func (m *Manager) Unset(name string) bool {
	r, ok := m.store.Resources[name]
	if !ok {
		return true
	}
	if len(r.Locks) > 0 || len(r.Pending) > 0 {
		return false
	}
	delete(m.store.Resources, name)
	return true
}

// Exists reports whether a record for name exists. Set creates one; so do
// Acquire, WouldGrant and the lock/pending accessors, which create a
// missing resource with Max 0.
func (m *Manager) Exists(name string) bool {
	_, ok := m.store.Resources[name]
	return ok
}

// Get returns the persisted view of a resource.
func (m *Manager) Get(name string) (types.ResourceState, bool) {
	r, ok := m.store.Resources[name]
	if !ok {
		return types.ResourceState{}, false
	}
	return types.ResourceState{
		Name:    r.Name,
		Max:     r.Max,
		Locks:   append([]types.JobID(nil), r.LocksOrder...),
		Pending: append([]types.JobID(nil), r.Pending...),
	}, true
}

// LockCount and PendingCount report the current holder/waiter counts.
func (m *Manager) LockCount(name string) int    { return len(m.store.Resource(name).Locks) }
func (m *Manager) PendingCount(name string) int { return len(m.store.Resource(name).Pending) }

// Locks and Pending report the current holder/waiter lists, in order.
func (m *Manager) Locks(name string) []types.JobID {
	return append([]types.JobID(nil), m.store.Resource(name).LocksOrder...)
}
func (m *Manager) Pending(name string) []types.JobID {
	return append([]types.JobID(nil), m.store.Resource(name).Pending...)
}

// WouldGrant reports whether jid could acquire every resource in names
// right now, without mutating any resource's state. Used by peek to
// surface due-but-blocked scheduled jobs correctly (spec §4.1).
func (m *Manager) WouldGrant(jid types.JobID, names []string) bool {
	for _, name := range names {
		r := m.store.Resource(name)
		if _, held := r.Locks[jid]; held {
			continue
		}
		if r.Max <= 0 || len(r.Locks) >= r.Max {
			return false
		}
	}
	return true
}

// Acquire attempts to grant every resource in names to jid, resource by
// resource in order, appending to the resource's pending list wherever
// capacity is unavailable. It reports whether jid now holds all of them.
// Partial holds are possible: a job can hold some of its resources while
// still pending on others (spec §3 invariant vi only requires that every
// *held* resource actually granted the lock, not that holds are all-or-
// nothing).
func (m *Manager) Acquire(jid types.JobID, names []string) bool {
	all := true
	for _, name := range names {
		r := m.store.Resource(name)
		if _, held := r.Locks[jid]; held {
			continue
		}
		if r.Max > 0 && len(r.Locks) < r.Max {
			grant(r, jid)
			continue
		}
		appendPending(r, jid)
		all = false
	}
	return all
}

// Release drops jid's hold (and any pending membership) on every resource
// in names, then grants freed capacity to the highest-priority pending
// jobs. It returns the jids (other than jid) that became fully granted
// across all of their own required resources as a result — the caller is
// responsible for moving those out of depends and into their queue.
func (m *Manager) Release(priorityOf PriorityLookup, jid types.JobID, names []string) []types.JobID {
	candidates := make(map[types.JobID]struct{})
	for _, name := range names {
		r := m.store.Resource(name)
		ungrant(r, jid)
		removePending(r, jid)
		for r.Max > len(r.Locks) && len(r.Pending) > 0 {
			next, ok := pickHighestPriority(priorityOf, r.Pending)
			if !ok {
				break
			}
			removePending(r, next)
			grant(r, next)
			candidates[next] = struct{}{}
		}
	}
	var granted []types.JobID
	for cand := range candidates {
		job := m.store.Jobs[cand]
		if job == nil {
			continue
		}
		if m.holdsAll(cand, job.Resources) {
			granted = append(granted, cand)
		}
	}
	return granted
}

func (m *Manager) holdsAll(jid types.JobID, names []string) bool {
	for _, name := range names {
		r := m.store.Resource(name)
		if _, held := r.Locks[jid]; !held {
			return false
		}
	}
	return true
}

func (m *Manager) fillFromPending(priorityOf PriorityLookup, r *store.Resource) []types.JobID {
	var granted []types.JobID
	for r.Max > len(r.Locks) && len(r.Pending) > 0 {
		next, ok := pickHighestPriority(priorityOf, r.Pending)
		if !ok {
			break
		}
		removePending(r, next)
		grant(r, next)
		if job := m.store.Jobs[next]; job != nil && m.holdsAll(next, job.Resources) {
			granted = append(granted, next)
		}
	}
	return granted
}

func grant(r *store.Resource, jid types.JobID) {
	r.Locks[jid] = struct{}{}
	r.LocksOrder = append(r.LocksOrder, jid)
}

func ungrant(r *store.Resource, jid types.JobID) {
	if _, ok := r.Locks[jid]; !ok {
		return
	}
	delete(r.Locks, jid)
	for i, id := range r.LocksOrder {
		if id == jid {
			r.LocksOrder = append(r.LocksOrder[:i], r.LocksOrder[i+1:]...)
			break
		}
	}
}

func appendPending(r *store.Resource, jid types.JobID) {
	for _, id := range r.Pending {
		if id == jid {
			return
		}
	}
	r.Pending = append(r.Pending, jid)
}

func removePending(r *store.Resource, jid types.JobID) {
	for i, id := range r.Pending {
		if id == jid {
			r.Pending = append(r.Pending[:i], r.Pending[i+1:]...)
			return
		}
	}
}

// pickHighestPriority scans pending in arrival order and returns the
// highest-priority entry, ties broken by earliest arrival (first match).
func pickHighestPriority(priorityOf PriorityLookup, pending []types.JobID) (types.JobID, bool) {
	if len(pending) == 0 {
		return "", false
	}
	best := pending[0]
	bestPriority := priorityOf(best)
	for _, id := range pending[1:] {
		if p := priorityOf(id); p > bestPriority {
			best, bestPriority = id, p
		}
	}
	return best, true
}
