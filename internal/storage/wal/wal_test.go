package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(filepath.Join(dir, "op.log"), false, 4, 5*time.Millisecond)
	assertNoError(t, err)

	assertNoError(t, w.Append(EventPut, 1, `{"jid":"a"}`))
	assertNoError(t, w.Append(EventPop, 2, `{"queue":"q"}`))
	assertNoError(t, w.Close())

	w2, err := NewWAL(filepath.Join(dir, "op.log"), false, 4, 5*time.Millisecond)
	assertNoError(t, err)
	defer w2.Close()

	var replayed []EventType
	err = w2.Replay(func(event Event) error {
		replayed = append(replayed, event.Type)
		return nil
	})
	assertNoError(t, err)

	if len(replayed) != 2 || replayed[0] != EventPut || replayed[1] != EventPop {
		t.Fatalf("replayed = %v, want [PUT POP]", replayed)
	}
	if w2.GetLastSeq() != 2 {
		t.Fatalf("last seq = %d, want 2", w2.GetLastSeq())
	}
}

func TestReplayDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "op.log")
	w, err := NewWAL(path, false, 1, time.Millisecond)
	assertNoError(t, err)
	assertNoError(t, w.Append(EventPut, 1, `{"jid":"a"}`))
	assertNoError(t, w.Close())

	tampered := Event{Seq: 1, Type: EventPut, Now: 1, Args: `{"jid":"tampered"}`, Checksum: 0}
	if VerifyChecksum(tampered) {
		t.Fatal("expected tampered event to fail checksum verification")
	}
}

func TestRotateContinuesSequenceNumbering(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(filepath.Join(dir, "op.log"), false, 1, time.Millisecond)
	assertNoError(t, err)
	assertNoError(t, w.Append(EventPut, 1, `{}`))
	backupPath, err := w.Rotate()
	assertNoError(t, err)
	if backupPath == filepath.Join(dir, "op.log") {
		t.Fatalf("backup path should differ from live path, got %q", backupPath)
	}

	if w.GetLastSeq() != 1 {
		t.Fatalf("last seq after rotate = %d, want 1 (numbering must not reset, or a crash before the next checkpoint would lose post-rotate records)", w.GetLastSeq())
	}
	assertNoError(t, w.Append(EventPut, 2, `{}`))
	if w.GetLastSeq() != 2 {
		t.Fatalf("last seq after post-rotate append = %d, want 2", w.GetLastSeq())
	}
	assertNoError(t, w.Close())
}

func TestArchiveRotatedCompressesAndRemovesOriginal(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(filepath.Join(dir, "op.log"), false, 1, time.Millisecond)
	assertNoError(t, err)
	assertNoError(t, w.Append(EventPut, 1, `{}`))
	backupPath, err := w.Rotate()
	assertNoError(t, err)
	assertNoError(t, w.Close())

	gzPath := backupPath + ".gz"
	assertNoError(t, ArchiveRotated(backupPath, gzPath))

	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Fatalf("expected original segment removed, stat err = %v", err)
	}
	if _, err := os.Stat(gzPath); err != nil {
		t.Fatalf("expected compressed archive to exist: %v", err)
	}
}
