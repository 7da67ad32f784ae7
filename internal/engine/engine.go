// Package engine is the durable wrapper around internal/scheduler: it
// combines the in-memory Scheduler with a write-ahead log and periodic
// snapshots so the whole queue state survives a process restart. Grounded
// on the teacher's Controller (internal/controller/controller.go), whose
// Start method runs the same loadSnapshot -> replayWAL -> requeue shape;
// this version collapses that into one synchronous Open call (no
// goroutine performs scheduler mutation — the scheduler's own contract
// requires every call to run to completion without a suspension point)
// and keeps only the snapshot loop as genuinely background work, since
// taking a snapshot is an external side effect rather than a state
// mutation on the logical clock.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chuliyu/beaverq/internal/dispatch"
	"github.com/chuliyu/beaverq/internal/scheduler"
	"github.com/chuliyu/beaverq/internal/snapshot"
	"github.com/chuliyu/beaverq/internal/storage/wal"
	"github.com/chuliyu/beaverq/pkg/types"
)

var log = slog.Default()

// commandEvents maps every mutating dispatch command to the WAL event type
// recorded for it. Read-only commands (get, peek, queues, ...) are absent
// and never touch the WAL.
var commandEvents = map[string]wal.EventType{
	"put":            wal.EventPut,
	"pop":            wal.EventPop,
	"complete":       wal.EventComplete,
	"fail":           wal.EventFail,
	"retry":          wal.EventRetry,
	"heartbeat":      wal.EventHeartbeat,
	"cancel":         wal.EventCancel,
	"priority":       wal.EventPriority,
	"pause":          wal.EventPause,
	"unpause":        wal.EventUnpause,
	"track":          wal.EventTrack,
	"untrack":        wal.EventUntrack,
	"tag":            wal.EventTag,
	"depends":        wal.EventDepends,
	"recur":          wal.EventRecur,
	"recur.update":   wal.EventRecurUpdate,
	"unrecur":        wal.EventUnrecur,
	"resource.set":   wal.EventSetResource,
	"resource.unset": wal.EventUnsetResource,
}

// Config configures one Engine instance.
type Config struct {
	WALPath          string
	SnapshotPath     string
	WALBufferSize    int
	WALFlushInterval time.Duration
	SnapshotInterval time.Duration
	ArchiveRotated   bool
}

// Engine owns a Scheduler plus the WAL and snapshot manager that make its
// state durable across restarts.
type Engine struct {
	mu       sync.Mutex
	sched    *scheduler.Scheduler
	wal      *wal.WAL
	snap     *snapshot.Manager
	cfg      Config
	stopCh   chan struct{}
	loopWg   sync.WaitGroup
	stopOnce sync.Once
}

// Open creates the WAL and snapshot manager at the configured paths,
// restores the latest snapshot, replays every WAL record written after it,
// and starts the periodic snapshot loop. Recovery is synchronous: Open
// does not return until the Scheduler reflects every durable operation.
func Open(cfg Config) (*Engine, error) {
	if cfg.WALBufferSize <= 0 {
		cfg.WALBufferSize = 100
	}
	if cfg.WALFlushInterval <= 0 {
		cfg.WALFlushInterval = 10 * time.Millisecond
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}

	snapMgr := snapshot.NewManager(cfg.SnapshotPath)
	data, err := snapMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	}

	sched := scheduler.New(data.Config)
	sched.Restore(data)

	walInstance, err := wal.NewWAL(cfg.WALPath, false, cfg.WALBufferSize, cfg.WALFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("engine: open WAL: %w", err)
	}

	e := &Engine{
		sched:  sched,
		wal:    walInstance,
		snap:   snapMgr,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	start := time.Now()
	replayed := 0
	err = walInstance.Replay(func(event wal.Event) error {
		if event.Seq <= data.LastSeq {
			return nil
		}
		_, derr := dispatch.Dispatch(sched, commandFromEvent(event.Type), event.Now, json.RawMessage(event.Args))
		if derr != nil {
			log.Warn("engine: skipped non-idempotent replay event", "seq", event.Seq, "type", event.Type, "error", derr)
		}
		replayed++
		return nil
	})
	if err != nil {
		walInstance.Close()
		return nil, fmt.Errorf("engine: replay WAL: %w", err)
	}
	log.Info("engine recovered", "duration", time.Since(start), "jobs", len(data.Jobs), "replayed", replayed)

	e.loopWg.Add(1)
	go e.snapshotLoop()

	return e, nil
}

// commandFromEvent maps a WAL event type back to the dispatch command name
// it was recorded under.
func commandFromEvent(t wal.EventType) string {
	for cmd, et := range commandEvents {
		if et == t {
			return cmd
		}
	}
	return ""
}

// Execute runs command against the Scheduler at logical tick now. Mutating
// commands are appended to the WAL, durably, before being applied — if the
// WAL append fails, the Scheduler is never touched, so a crash between the
// two always leaves state consistent with what's on disk.
func (e *Engine) Execute(now int64, command string, args json.RawMessage) (interface{}, error) {
	if eventType, mutating := commandEvents[command]; mutating {
		if err := e.wal.Append(eventType, now, string(args)); err != nil {
			return nil, fmt.Errorf("engine: append WAL: %w", err)
		}
	}
	return dispatch.Dispatch(e.sched, command, now, args)
}

// Scheduler exposes the underlying Scheduler for callers (internal/cli)
// that want typed access instead of going through
// Execute's JSON command surface.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// Checkpoint writes a fresh snapshot of current state and rotates the WAL,
// so recovery after this point only has to replay records written since.
// Grounded on the teacher's takeSnapshot: copy state under lock, write to
// disk without the lock held, then rotate.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	data := e.sched.Snapshot()
	data.LastSeq = e.wal.GetLastSeq()
	e.mu.Unlock()

	if err := e.snap.WriteWithBackup(data); err != nil {
		return fmt.Errorf("engine: write snapshot: %w", err)
	}

	backupPath, err := e.wal.Rotate()
	if err != nil {
		return fmt.Errorf("engine: rotate WAL: %w", err)
	}
	if e.cfg.ArchiveRotated && backupPath != "" {
		if err := wal.ArchiveRotated(backupPath, backupPath+".gz"); err != nil {
			log.Warn("engine: failed to archive rotated WAL segment", "path", backupPath, "error", err)
		}
	}
	return nil
}

func (e *Engine) snapshotLoop() {
	defer e.loopWg.Done()
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Checkpoint(); err != nil {
				log.Error("engine: periodic checkpoint failed", "error", err)
			}
		}
	}
}

// Close stops the snapshot loop, takes a final checkpoint, and closes the
// WAL. Safe to call once; repeated calls after the first are no-ops.
func (e *Engine) Close() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.loopWg.Wait()

		if cerr := e.Checkpoint(); cerr != nil {
			log.Error("engine: final checkpoint failed", "error", cerr)
		}
		err = e.wal.Close()
	})
	return err
}

// SchedulerConfig returns the Scheduler's current runtime configuration,
// for callers building a status view.
func (e *Engine) SchedulerConfig() types.Config {
	return e.sched.Config()
}
