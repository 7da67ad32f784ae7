// Package wal implements the append-only, checksummed, batch-fsynced
// operation log internal/engine replays on recovery. Adapted from the
// teacher's job-dispatch WAL: the record shape changes from "job event"
// to "scheduler operation" (type + logical tick + JSON args), but the
// durability mechanics — sequence numbers, CRC32 checksums, a background
// goroutine batching writes into one fsync per batch — are unchanged.
package wal

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileInterface is the subset of *os.File the WAL needs, so tests can
// substitute a mock.
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

type batchRequest struct {
	event Event
	errCh chan error
}

// WAL is an append-only, sequence-numbered, checksummed log of scheduler
// operations, written via a background batch-fsync goroutine.
type WAL struct {
	mu           sync.Mutex
	file         FileInterface
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool

	batchChan     chan batchRequest
	bufferSize    int
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup
	isClosed      bool
}

// NewWAL opens (or creates) path and starts its background batch writer.
// bufferSize caps events per flush; flushInterval caps latency between
// flushes when the buffer isn't full.
func NewWAL(path string, syncOnAppend bool, bufferSize int, flushInterval time.Duration) (*WAL, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	encoder := json.NewEncoder(file)

	seq, err := lastSeq(path)
	if err != nil && err != ErrEmptyWAL {
		fmt.Printf("warning: failed to recover WAL sequence, starting from 0: %v\n", err)
		seq = 0
	}

	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}

	w := &WAL{
		file:          file,
		encoder:       encoder,
		path:          path,
		seq:           seq,
		syncOnAppend:  syncOnAppend,
		batchChan:     make(chan batchRequest, bufferSize*2),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		closed:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.batchWriter()

	return w, nil
}

// lastSeq scans path for the highest recorded sequence number, so a
// reopened WAL continues numbering where it left off.
func lastSeq(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrEmptyWAL
		}
		return 0, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var last Event
	found := false
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("failed to decode event: %w", err)
		}
		last = event
		found = true
	}
	if !found {
		return 0, ErrEmptyWAL
	}
	return last.Seq, nil
}

// Append enqueues a scheduler operation for the next batch flush and
// blocks until that batch is durable (or the WAL has closed).
func (w *WAL) Append(eventType EventType, now int64, args string) error {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	event := Event{
		Seq:      seq,
		Type:     eventType,
		Now:      now,
		Args:     args,
		Checksum: CalculateChecksum(eventType, args, seq),
	}

	errCh := make(chan error, 1)
	select {
	case w.batchChan <- batchRequest{event: event, errCh: errCh}:
		return <-errCh
	case <-w.closed:
		return ErrWALClosed
	}
}

// Replay reads every record from the beginning of the log, verifying each
// checksum and handing the record to handler in order.
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open WAL for replay: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if !VerifyChecksum(event) {
			return ErrChecksumMismatch
		}
		if err := handler(event); err != nil {
			return err
		}
	}
	return nil
}

// Rotate closes the current file, archives it alongside a timestamp, and
// starts a fresh empty log (called after a successful snapshot). Sequence
// numbering is NOT reset: the snapshot just written records LastSeq from
// the old numbering, and a record's Seq must stay comparable against that
// LastSeq for the replay guard in internal/engine.Open to skip exactly the
// operations the snapshot already reflects, whichever segment they end up
// in. It returns the path the old segment was archived to, so a caller can
// compress or delete it once the snapshot it precedes is durable.
func (w *WAL) Rotate() (string, error) {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return "", ErrWALClosed
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.closed)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return "", err
	}

	backupPath := w.path + "." + time.Now().Format("20060102_150405")
	if err := os.Rename(w.path, backupPath); err != nil {
		return "", err
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}

	w.file = newFile
	w.encoder = json.NewEncoder(newFile)

	w.closed = make(chan struct{})
	w.wg.Add(1)
	go w.batchWriter()
	w.isClosed = false

	return backupPath, nil
}

func (w *WAL) batchWriter() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]batchRequest, 0, w.bufferSize)

	for {
		select {
		case req := <-w.batchChan:
			batch = append(batch, req)
			if len(batch) >= w.bufferSize {
				w.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}

		case <-w.closed:
			if len(batch) > 0 {
				w.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch writes every event in batch, syncs once, and replies to each
// waiting Append call — one fsync per batch rather than per event.
func (w *WAL) flushBatch(batch []batchRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flushErr error
	for i := range batch {
		if err := w.encoder.Encode(batch[i].event); err != nil {
			flushErr = fmt.Errorf("failed to encode event: %w", err)
			break
		}
	}
	if flushErr == nil {
		if err := w.file.Sync(); err != nil {
			flushErr = fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}

	for i := range batch {
		batch[i].errCh <- flushErr
		close(batch[i].errCh)
	}
}

// Close flushes any pending batch and closes the underlying file. The WAL
// must not be used afterward.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return nil
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.closed)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// GetLastSeq reports the most recently assigned sequence number.
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// ArchiveRotated gzips the segment Rotate returned into dstPath and removes
// the uncompressed original, so internal/engine can keep rotated WAL
// segments around as compressed history instead of deleting them outright.
func ArchiveRotated(srcPath, dstPath string) error {
	if err := compressFile(srcPath, dstPath); err != nil {
		return err
	}
	return os.Remove(srcPath)
}

// compressFile gzips srcPath into dstPath.
func compressFile(srcPath, dstPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	dstFile, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gzipWriter := gzip.NewWriter(dstFile)
	defer gzipWriter.Close()

	_, err = io.Copy(gzipWriter, srcFile)
	return err
}
