package scheduler

import (
	"github.com/chuliyu/beaverq/internal/resource"
	"github.com/chuliyu/beaverq/internal/store"
	"github.com/chuliyu/beaverq/pkg/types"
)

// Snapshot returns a defensive deep-enough copy of the whole engine state,
// suitable for internal/snapshot to persist to disk.
func (s *Scheduler) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make(map[types.JobID]*types.Job, len(s.store.Jobs))
	for id, job := range s.store.Jobs {
		jobs[id] = cloneJob(job)
	}

	resources := make(map[string]*types.ResourceState, len(s.store.Resources))
	for name := range s.store.Resources {
		rs, _ := s.resources.Get(name)
		resources[name] = &rs
	}

	templates := make(map[types.JobID]*types.RecurringTemplate, len(s.store.Templates))
	for id, tmpl := range s.store.Templates {
		cp := *tmpl
		templates[id] = &cp
	}

	return types.Snapshot{
		Jobs:      jobs,
		Resources: resources,
		Templates: templates,
		Config:    s.cfg,
		SchemaVer: 1,
	}
}

// Restore replaces the Scheduler's entire state with snap, rebuilding
// every per-queue index from each job's persisted State rather than
// re-deriving placement — recovery trusts what was true when the snapshot
// was taken instead of re-running placement logic against an arbitrary
// "now".
func (s *Scheduler) Restore(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = snap.Config
	st := store.NewStore()
	s.store = st
	s.resources = resource.NewManager(st)

	for id, job := range snap.Jobs {
		st.Jobs[id] = job
	}
	for name, rs := range snap.Resources {
		r := st.Resource(name)
		r.Max = rs.Max
		for _, jid := range rs.Locks {
			r.Locks[jid] = struct{}{}
			r.LocksOrder = append(r.LocksOrder, jid)
		}
		r.Pending = append([]types.JobID(nil), rs.Pending...)
	}
	for id, tmpl := range snap.Templates {
		st.Templates[id] = tmpl
		q := st.Queue(tmpl.Queue)
		q.Recurring.Add(string(id), float64(tmpl.Next), float64(st.NextSeq()))
	}
	for _, job := range snap.Jobs {
		if job.State == types.StateComplete {
			st.Complete.Add(string(job.ID), float64(job.LastComplete), float64(st.NextSeq()))
			continue
		}
		if job.Queue == "" {
			continue
		}
		q := st.Queue(job.Queue)
		switch job.State {
		case types.StateWaiting:
			q.Waiting.Add(string(job.ID), float64(-job.Priority), float64(job.PutAt))
		case types.StateScheduled:
			q.Scheduled.Add(string(job.ID), float64(job.ScheduledAt), float64(st.NextSeq()))
		case types.StateDepends:
			q.Depends[job.ID] = struct{}{}
		case types.StateRunning:
			q.Running.Add(string(job.ID), float64(job.Expires), float64(st.NextSeq()))
		case types.StateFailed:
			if job.Failure != nil {
				idx, ok := st.Failed[job.Failure.Group]
				if !ok {
					idx = store.NewIndex()
					st.Failed[job.Failure.Group] = idx
				}
				idx.Add(string(job.ID), float64(job.Failure.When), float64(st.NextSeq()))
			}
		}
	}
}
