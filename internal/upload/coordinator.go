// Package upload delivers finished recordings to the durable store and the
// transcoding ingest, and tracks which uploads are still in flight.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/interview-live/internal/blobstore"
	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/storage"
)

const defaultTimeout = 10 * time.Minute

// PendingUpload is the marker held while a recording is being uploaded.
type PendingUpload struct {
	ID        string          `json:"id"`
	Channel   capture.Channel `json:"channel"`
	Key       string          `json:"key"`
	Size      int             `json:"size"`
	CreatedAt time.Time       `json:"created_at"`
}

// Result is the outcome of both sinks for one recording.
type Result struct {
	PendingUpload
	Location      string `json:"location,omitempty"`
	DurableErr    error  `json:"-"`
	IngestErr     error  `json:"-"`
	IngestSkipped bool   `json:"ingest_skipped"`
}

// Err joins the sink failures, or returns nil when both sinks succeeded.
func (r Result) Err() error {
	return errors.Join(r.DurableErr, r.IngestErr)
}

// Journal persists upload outcomes for manual retry.
type Journal interface {
	BeginUpload(u storage.Upload) error
	FinishSink(id, sink, status, location, errMsg string) error
	CompleteUpload(id string, finishedAt time.Time) error
}

// Notifier is told when uploads start and finish.
type Notifier interface {
	UploadStarted(p PendingUpload)
	UploadFinished(r Result)
}

type Options struct {
	Store     blobstore.Store
	Registrar Registrar
	Journal   Journal
	Notifier  Notifier
	// Table is the ingest destination table.
	Table     string
	Timeout   time.Duration
}

type Coordinator struct {
	store     blobstore.Store
	registrar Registrar
	journal   Journal
	notifier  Notifier
	table     string
	timeout   time.Duration
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	pending map[string]PendingUpload
	drained chan struct{}
}

func NewCoordinator(opts Options) *Coordinator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{
		store:     opts.Store,
		registrar: opts.Registrar,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		table:     opts.Table,
		timeout:   timeout,
		now:       time.Now,
		newID:     uuid.NewString,
		pending:   make(map[string]PendingUpload),
	}
}

// Submit starts an upload in the background and returns its pending ID.
// Failures are logged and journaled, never returned.
func (c *Coordinator) Submit(rec capture.Recording, meta Metadata) string {
	if len(rec.Data) == 0 {
		slog.Warn("upload: skipping empty recording", "channel", rec.Channel, "message_id", meta.MessageID)
		return ""
	}
	p := c.begin(rec, meta)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.run(ctx, p, rec, meta)
	}()
	return p.ID
}

// Upload uploads rec to both sinks and waits for both to settle. The
// returned error joins the sink failures for callers that want them.
func (c *Coordinator) Upload(ctx context.Context, rec capture.Recording, meta Metadata) (Result, error) {
	if len(rec.Data) == 0 {
		return Result{}, ErrEmptyRecording
	}
	p := c.begin(rec, meta)
	res := c.run(ctx, p, rec, meta)
	return res, res.Err()
}

// begin inserts the pending marker before any sink work starts.
func (c *Coordinator) begin(rec capture.Recording, meta Metadata) PendingUpload {
	now := c.now()
	p := PendingUpload{
		ID:        c.newID(),
		Channel:   rec.Channel,
		Key:       ObjectKey(meta, rec.MIMEType, now),
		Size:      len(rec.Data),
		CreatedAt: now.UTC(),
	}

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.drained = make(chan struct{})
	}
	c.pending[p.ID] = p
	c.mu.Unlock()
	return p
}

func (c *Coordinator) finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	if len(c.pending) == 0 && c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
}

func (c *Coordinator) run(ctx context.Context, p PendingUpload, rec capture.Recording, meta Metadata) Result {
	defer c.finish(p.ID)

	c.journalBegin(p, rec, meta)
	if c.notifier != nil {
		c.notifier.UploadStarted(p)
	}

	res := Result{PendingUpload: p}
	var g errgroup.Group
	g.Go(func() error {
		res.Location, res.DurableErr = c.putDurable(ctx, p.Key, rec)
		return nil
	})
	g.Go(func() error {
		res.IngestSkipped, res.IngestErr = c.putIngest(ctx, meta, rec)
		return nil
	})
	_ = g.Wait()

	c.journalFinish(res)
	if res.DurableErr != nil {
		slog.Error("upload: durable sink failed", "id", p.ID, "key", p.Key, "channel", p.Channel,
			"size", p.Size, "message_id", meta.MessageID, "err", res.DurableErr)
	}
	if res.IngestErr != nil {
		slog.Error("upload: ingest sink failed", "id", p.ID, "record_id", meta.recordID(), "table", c.table,
			"channel", p.Channel, "skipped", res.IngestSkipped, "err", res.IngestErr)
	}
	if res.Err() == nil {
		slog.Info("upload: finished", "id", p.ID, "key", p.Key, "location", res.Location)
	}
	if c.notifier != nil {
		c.notifier.UploadFinished(res)
	}
	return res
}

func (c *Coordinator) putDurable(ctx context.Context, key string, rec capture.Recording) (string, error) {
	if c.store == nil {
		return "", &SinkError{Sink: SinkDurable, Key: key, Err: ErrNoStore}
	}
	loc, err := c.store.Put(ctx, key, rec.MIMEType, rec.Data)
	if err != nil {
		return "", &SinkError{Sink: SinkDurable, Key: key, Err: err}
	}
	return loc, nil
}

// putIngest requests the one-time URL and PUTs the blob to it. A failed URL
// request skips the PUT and is not retried.
func (c *Coordinator) putIngest(ctx context.Context, meta Metadata, rec capture.Recording) (bool, error) {
	recordID := meta.recordID()
	if c.registrar == nil {
		return true, &SinkError{Sink: SinkIngest, Key: recordID, Err: ErrNoRegistrar}
	}
	url, err := c.registrar.CreateUploadURL(ctx, recordID, c.table)
	if err != nil {
		return true, &SinkError{Sink: SinkIngest, Key: recordID, Err: err}
	}
	if err := c.registrar.PutBlob(ctx, url, rec.MIMEType, rec.Data); err != nil {
		return false, &SinkError{Sink: SinkIngest, Key: recordID, Err: err}
	}
	return false, nil
}

func (c *Coordinator) journalBegin(p PendingUpload, rec capture.Recording, meta Metadata) {
	if c.journal == nil {
		return
	}
	err := c.journal.BeginUpload(storage.Upload{
		ID:          p.ID,
		AttemptID:   meta.AttemptID,
		Channel:     string(rec.Channel),
		ContentType: rec.MIMEType,
		Size:        p.Size,
		UserID:      meta.UserID,
		CoachID:     meta.CoachID,
		SessionID:   meta.SessionID,
		MessageID:   meta.MessageID,
		ObjectKey:   p.Key,
		CreatedAt:   p.CreatedAt,
	})
	if err != nil {
		slog.Warn("upload: journal begin failed", "id", p.ID, "err", err)
	}
}

func (c *Coordinator) journalFinish(res Result) {
	if c.journal == nil {
		return
	}
	durable, durableMsg := storage.SinkSucceeded, ""
	if res.DurableErr != nil {
		durable, durableMsg = storage.SinkFailed, res.DurableErr.Error()
	}
	ingest, ingestMsg := storage.SinkSucceeded, ""
	switch {
	case res.IngestSkipped:
		ingest, ingestMsg = storage.SinkSkipped, res.IngestErr.Error()
	case res.IngestErr != nil:
		ingest, ingestMsg = storage.SinkFailed, res.IngestErr.Error()
	}

	if err := c.journal.FinishSink(res.ID, storage.SinkDurable, durable, res.Location, durableMsg); err != nil {
		slog.Warn("upload: journal durable outcome failed", "id", res.ID, "err", err)
	}
	if err := c.journal.FinishSink(res.ID, storage.SinkIngest, ingest, "", ingestMsg); err != nil {
		slog.Warn("upload: journal ingest outcome failed", "id", res.ID, "err", err)
	}
	if err := c.journal.CompleteUpload(res.ID, c.now()); err != nil {
		slog.Warn("upload: journal complete failed", "id", res.ID, "err", err)
	}
}

// Pending reports how many uploads are in flight.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingUploads lists in-flight uploads, oldest first.
func (c *Coordinator) PendingUploads() []PendingUpload {
	c.mu.Lock()
	out := make([]PendingUpload, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CanEndInterview is true when no upload is in flight.
func (c *Coordinator) CanEndInterview() bool {
	return c.Pending() == 0
}

// Wait blocks until no upload is in flight or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	drained := c.drained
	empty := len(c.pending) == 0
	c.mu.Unlock()
	if empty || drained == nil {
		return nil
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
