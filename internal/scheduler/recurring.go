package scheduler

import (
	"fmt"

	"github.com/chuliyu/beaverq/internal/store"
	"github.com/chuliyu/beaverq/pkg/types"
)

// RecurOptions carries recur's optional fields.
type RecurOptions struct {
	Offset    int64
	Priority  int
	Retries   int
	Tags      []string
	Resources []string
	Backlog   int64
}

// Recur registers a recurring template rooted at queue: the first instance
// becomes due at now+Offset, and one more every Interval ticks thereafter.
func (s *Scheduler) Recur(now int64, queue string, jid types.JobID, klass, data string, interval int64, opts RecurOptions) (types.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queue == "" || klass == "" || jid == "" || interval <= 0 {
		return "", ErrMalformed
	}

	retries := opts.Retries
	if retries == 0 {
		retries = 5
	}
	tmpl := &types.RecurringTemplate{
		ID:        jid,
		Klass:     klass,
		Data:      data,
		Queue:     queue,
		Interval:  interval,
		Offset:    opts.Offset,
		Tags:      append([]string(nil), opts.Tags...),
		Priority:  opts.Priority,
		Retries:   retries,
		Resources: append([]string(nil), opts.Resources...),
		Backlog:   opts.Backlog,
		Next:      now + opts.Offset,
	}
	s.store.Templates[jid] = tmpl
	q := s.store.Queue(queue)
	q.Recurring.Add(string(jid), float64(tmpl.Next), float64(s.store.NextSeq()))
	return jid, nil
}

// RecurUpdateOptions carries recur.update's partial-edit fields; a nil
// pointer (or nil slice) leaves that field untouched.
type RecurUpdateOptions struct {
	Queue     *string
	Klass     *string
	Priority  *int
	Interval  *int64
	Retries   *int
	Data      *string
	Tags      []string
	Resources []string
	Backlog   *int64
}

// RecurUpdate edits an existing recurring template in place. A Queue change
// moves the template to the new queue's Recurring index, preserving its
// current Next score (spec §4.5: "recur.update(jid, 'queue', Q): moves the
// template to queue Q").
func (s *Scheduler) RecurUpdate(jid types.JobID, opts RecurUpdateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.store.Templates[jid]
	if !ok {
		return ErrNotFound
	}
	if opts.Queue != nil && *opts.Queue != tmpl.Queue {
		s.store.Queue(tmpl.Queue).Recurring.Remove(string(jid))
		tmpl.Queue = *opts.Queue
		s.store.Queue(tmpl.Queue).Recurring.Add(string(jid), float64(tmpl.Next), float64(s.store.NextSeq()))
	}
	if opts.Klass != nil {
		tmpl.Klass = *opts.Klass
	}
	if opts.Priority != nil {
		tmpl.Priority = *opts.Priority
	}
	if opts.Interval != nil {
		tmpl.Interval = *opts.Interval
	}
	if opts.Retries != nil {
		tmpl.Retries = *opts.Retries
	}
	if opts.Data != nil {
		tmpl.Data = *opts.Data
	}
	if opts.Tags != nil {
		tmpl.Tags = append([]string(nil), opts.Tags...)
	}
	if opts.Resources != nil {
		tmpl.Resources = append([]string(nil), opts.Resources...)
	}
	if opts.Backlog != nil {
		tmpl.Backlog = *opts.Backlog
	}
	return nil
}

// Unrecur deletes a recurring template and its queue index entry.
// Instances already materialized are ordinary jobs from that point on and
// are left untouched.
func (s *Scheduler) Unrecur(jid types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.store.Templates[jid]
	if !ok {
		return ErrNotFound
	}
	s.store.Queue(tmpl.Queue).Recurring.Remove(string(jid))
	delete(s.store.Templates, jid)
	return nil
}

// materializeDue spawns every instance due from every template rooted at
// q, advancing each template past now; a template with Backlog > 0 spawns
// at most Backlog instances per call, and its Next may then still be <= now.
// Run on every Pop and every Peek
// (spec §4.5), since a template slipping behind shouldn't silently skip
// instances.
func (s *Scheduler) materializeDue(now int64, q *store.Queue) {
	for _, idStr := range q.Recurring.RangeByScore(float64(now)) {
		tid := types.JobID(idStr)
		tmpl, ok := s.store.Templates[tid]
		if !ok {
			continue
		}
		spawned := int64(0)
		for tmpl.Next <= now {
			if tmpl.Backlog > 0 && spawned >= tmpl.Backlog {
				break
			}
			spawned++
			tmpl.Count++
			instanceID := types.JobID(fmt.Sprintf("%s-%d", tmpl.ID, tmpl.Count))
			job := &types.Job{
				ID:          instanceID,
				Klass:       tmpl.Klass,
				Data:        tmpl.Data,
				Queue:       tmpl.Queue,
				Priority:    tmpl.Priority,
				Retries:     tmpl.Retries,
				Remaining:   tmpl.Retries,
				Tags:        append([]string(nil), tmpl.Tags...),
				Resources:   append([]string(nil), tmpl.Resources...),
				PutAt:       tmpl.Next,
				ScheduledAt: tmpl.Next,
			}
			job.History = append(job.History, types.HistoryEvent{What: "recurred", When: now, Queue: tmpl.Queue})
			s.store.Jobs[instanceID] = job
			s.place(now, job)
			tmpl.Next += tmpl.Interval
		}
		q.Recurring.Add(idStr, float64(tmpl.Next), float64(s.store.NextSeq()))
	}
}
