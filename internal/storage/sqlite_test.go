package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/interview-live/internal/transcribe"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestAttemptLifecycleAndSegments(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	if err := store.CreateAttempt("att-1", startedAt); err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	if err := store.CreateAttempt(" ", startedAt); err == nil {
		t.Fatal("expected blank attempt id to be rejected")
	}

	seg := transcribe.Segment{
		Speaker:   transcribe.CandidateSpeaker,
		Text:      " I would shard by tenant. ",
		StartTime: 1.0,
		EndTime:   2.5,
		Timestamp: startedAt.Add(2 * time.Second),
	}
	if err := store.AppendSegment("att-1", seg); err != nil {
		t.Fatalf("AppendSegment failed: %v", err)
	}

	if err := store.EndAttempt("att-1", startedAt.Add(30*time.Minute)); err != nil {
		t.Fatalf("EndAttempt failed: %v", err)
	}
	if err := store.EndAttempt("missing", startedAt); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing attempt, got %v", err)
	}

	attempt, err := store.GetAttempt("att-1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Status != "ended" || attempt.EndedAt == nil || !attempt.StartedAt.Equal(startedAt) {
		t.Fatalf("unexpected attempt %+v", attempt)
	}

	segments, err := store.GetSegments("att-1")
	if err != nil {
		t.Fatalf("GetSegments failed: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "I would shard by tenant." {
		t.Fatalf("unexpected segments %+v", segments)
	}
	if !segments[0].Timestamp.Equal(seg.Timestamp) {
		t.Fatalf("expected timestamp %v, got %v", seg.Timestamp, segments[0].Timestamp)
	}
}

func TestUploadJournal(t *testing.T) {
	store := newTestSQLiteStore(t)
	created := time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC)

	u := Upload{
		ID:          "up-1",
		AttemptID:   "att-1",
		Channel:     "video",
		ContentType: "video/webm",
		Size:        2048,
		UserID:      "u1",
		CoachID:     "c1",
		SessionID:   "s1",
		MessageID:   "m1",
		ObjectKey:   "u1/c1/s1/m1/1790000000000.webm",
		CreatedAt:   created,
	}
	if err := store.BeginUpload(u); err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if err := store.BeginUpload(Upload{}); err == nil {
		t.Fatal("expected missing id to be rejected")
	}

	got, err := store.GetUpload("up-1")
	if err != nil {
		t.Fatalf("GetUpload failed: %v", err)
	}
	if got.DurableStatus != SinkPending || got.IngestStatus != SinkPending || got.FinishedAt != nil {
		t.Fatalf("expected pending sinks, got %+v", got)
	}

	if err := store.FinishSink("up-1", SinkDurable, SinkSucceeded, "gs://bucket/key", ""); err != nil {
		t.Fatalf("FinishSink durable failed: %v", err)
	}
	if err := store.FinishSink("up-1", SinkIngest, SinkFailed, "", "connection refused"); err != nil {
		t.Fatalf("FinishSink ingest failed: %v", err)
	}
	if err := store.FinishSink("up-1", "ftp", SinkFailed, "", ""); err == nil {
		t.Fatal("expected unknown sink to be rejected")
	}
	if err := store.CompleteUpload("up-1", created.Add(3*time.Second)); err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}

	got, err = store.GetUpload("up-1")
	if err != nil {
		t.Fatalf("GetUpload failed: %v", err)
	}
	if got.DurableStatus != SinkSucceeded || got.DurableLocation != "gs://bucket/key" {
		t.Fatalf("unexpected durable outcome %+v", got)
	}
	if got.IngestStatus != SinkFailed || got.IngestError != "connection refused" {
		t.Fatalf("unexpected ingest outcome %+v", got)
	}
	if got.FinishedAt == nil || got.Size != 2048 || got.ObjectKey != u.ObjectKey {
		t.Fatalf("unexpected upload row %+v", got)
	}

	failed, err := store.FailedUploads()
	if err != nil {
		t.Fatalf("FailedUploads failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "up-1" {
		t.Fatalf("expected up-1 as failed upload, got %+v", failed)
	}

	if _, err := store.GetUpload("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListUploadsNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i := range 3 {
		if err := store.BeginUpload(Upload{
			ID:          fmt.Sprintf("up-%d", i),
			Channel:     "audio",
			ContentType: "audio/wav",
			ObjectKey:   fmt.Sprintf("k-%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("BeginUpload %d failed: %v", i, err)
		}
	}

	uploads, err := store.ListUploads(2)
	if err != nil {
		t.Fatalf("ListUploads failed: %v", err)
	}
	if len(uploads) != 2 || uploads[0].ID != "up-2" || uploads[1].ID != "up-1" {
		t.Fatalf("unexpected order %+v", uploads)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	if err := store.CreateAttempt("att-c", startedAt); err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.AppendSegment("att-c", transcribe.Segment{
				Speaker:   0,
				Text:      fmt.Sprintf("segment-%d", idx),
				StartTime: float64(idx),
				EndTime:   float64(idx) + 0.5,
				Timestamp: startedAt.Add(time.Duration(idx) * time.Second),
			})
			_ = store.BeginUpload(Upload{
				ID:          fmt.Sprintf("up-%d", idx),
				Channel:     "audio",
				ContentType: "audio/wav",
				ObjectKey:   "k",
				CreatedAt:   startedAt,
			})
			_, _ = store.GetAttempt("att-c")
		}(i)
	}
	wg.Wait()

	segments, err := store.GetSegments("att-c")
	if err != nil {
		t.Fatalf("GetSegments failed: %v", err)
	}
	if len(segments) != 20 {
		t.Fatalf("expected 20 segments, got %d", len(segments))
	}
	uploads, err := store.ListUploads(100)
	if err != nil {
		t.Fatalf("ListUploads failed: %v", err)
	}
	if len(uploads) != 20 {
		t.Fatalf("expected 20 uploads, got %d", len(uploads))
	}
}
