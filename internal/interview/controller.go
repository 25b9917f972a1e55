// Package interview ties the capture session, upload coordinator and voice
// session of one interview attempt together.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/transcribe"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

const stallResetTimeout = 30 * time.Second

// Attempt identifies the interview that recordings and captions belong to.
type Attempt struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CoachID   string    `json:"coachId"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

// VoiceFactory builds a voice session wired to the controller's hooks.
type VoiceFactory func(onChange func(voice.Info), onActivity func()) Voice

type Options struct {
	Capture  Capture
	Uploads  Uploads
	Store    Store
	Writer   TranscriptWriter
	Hub      EventBroadcaster
	Stall    *StallDetector
	NewVoice VoiceFactory
}

// Snapshot is the controller state reported by the status endpoint.
type Snapshot struct {
	Attempt        *Attempt    `json:"attempt"`
	PendingUploads int         `json:"pendingUploads"`
	CanEnd         bool        `json:"canEnd"`
	Voice          *voice.Info `json:"voice,omitempty"`
}

type Controller struct {
	capture  Capture
	uploads  Uploads
	store    Store
	writer   TranscriptWriter
	hub      EventBroadcaster
	stall    *StallDetector
	newVoice VoiceFactory
	now      func() time.Time

	mu      sync.Mutex
	attempt *Attempt
	lastID  string
	voice   Voice
}

var _ transcribe.CaptionSink = (*Controller)(nil)

func NewController(opts Options) *Controller {
	stall := opts.Stall
	if stall == nil {
		stall = NewStallDetector(0)
	}
	c := &Controller{
		capture:  opts.Capture,
		uploads:  opts.Uploads,
		store:    opts.Store,
		writer:   opts.Writer,
		hub:      opts.Hub,
		stall:    stall,
		newVoice: opts.NewVoice,
		now:      time.Now,
	}

	stall.OnStall(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stallResetTimeout)
		defer cancel()
		c.recoverVoice(ctx)
	})
	return c
}

// Begin opens an attempt. While one is open it is returned unchanged.
func (c *Controller) Begin(meta upload.Metadata) (Attempt, error) {
	c.mu.Lock()
	if c.attempt != nil {
		a := *c.attempt
		c.mu.Unlock()
		return a, nil
	}

	startedAt := c.now().UTC()
	id := startedAt.Format("20060102150405")
	if id == c.lastID {
		id = startedAt.Add(time.Second).Format("20060102150405")
	}
	a := Attempt{
		ID:        id,
		UserID:    meta.UserID,
		CoachID:   meta.CoachID,
		SessionID: meta.SessionID,
		StartedAt: startedAt,
	}
	c.attempt = &a
	c.lastID = id
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.CreateAttempt(id, startedAt); err != nil {
			c.mu.Lock()
			c.attempt = nil
			c.mu.Unlock()
			return Attempt{}, fmt.Errorf("create attempt: %w", err)
		}
	}

	slog.Info("interview: attempt started", "attempt_id", id, "session_id", meta.SessionID)
	if c.hub != nil {
		c.hub.BroadcastAttemptStarted(id)
	}
	return a, nil
}

func (c *Controller) Attempt() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return Attempt{}, false
	}
	return *c.attempt, true
}

// StartAnswer records one answer on the requested channels. Each finished
// recording goes to the upload coordinator tagged with messageID.
func (c *Controller) StartAnswer(ctx context.Context, messageID string, audio, video bool) error {
	if messageID == "" {
		return ErrNoMessage
	}
	a, ok := c.Attempt()
	if !ok {
		return ErrNoAttempt
	}

	meta := upload.Metadata{
		UserID:    a.UserID,
		CoachID:   a.CoachID,
		SessionID: a.SessionID,
		MessageID: messageID,
		AttemptID: a.ID,
	}
	var cb capture.Callbacks
	if audio {
		cb.OnAudioDone = c.recordingDone(meta)
	}
	if video {
		cb.OnVideoDone = c.recordingDone(meta)
	}
	if err := c.capture.Start(ctx, cb); err != nil {
		return fmt.Errorf("start answer: %w", err)
	}
	return nil
}

func (c *Controller) recordingDone(meta upload.Metadata) func(capture.Recording) {
	return func(rec capture.Recording) {
		id := c.uploads.Submit(rec, meta)
		slog.Info("interview: recording complete", "channel", rec.Channel, "message_id", meta.MessageID,
			"size", len(rec.Data), "upload_id", id)
		if c.hub != nil {
			c.hub.BroadcastRecordingComplete(rec, id)
		}
	}
}

func (c *Controller) StopAnswer(ctx context.Context) error {
	return c.capture.Stop(ctx)
}

// CancelAnswer stops recording and discards the output.
func (c *Controller) CancelAnswer(ctx context.Context) error {
	return c.capture.Cancel(ctx)
}

// CanEnd is false while any upload is in flight.
func (c *Controller) CanEnd() bool {
	return c.uploads.Pending() == 0
}

// End closes the attempt, releasing devices and the voice channel. It
// refuses while an answer is recording or stopping, and while uploads are
// pending, so no recording is lost.
func (c *Controller) End(ctx context.Context) error {
	switch st := c.capture.Status(); st.State {
	case capture.StateInitializing, capture.StateRecording, capture.StateStopping:
		return fmt.Errorf("%w: %s", ErrAnswerInProgress, st.State)
	}
	if n := c.uploads.Pending(); n > 0 {
		return fmt.Errorf("%w: %d in flight", ErrUploadsPending, n)
	}

	c.mu.Lock()
	a := c.attempt
	v := c.voice
	c.attempt = nil
	c.voice = nil
	c.mu.Unlock()
	if a == nil {
		return ErrNoAttempt
	}

	c.stall.Disarm()
	var errs []error
	if err := c.capture.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose capture: %w", err))
	}
	if v != nil {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close voice: %w", err))
		}
	}

	endedAt := c.now().UTC()
	if c.store != nil {
		if err := c.store.EndAttempt(a.ID, endedAt); err != nil {
			errs = append(errs, fmt.Errorf("end attempt: %w", err))
		}
	}

	slog.Info("interview: attempt ended", "attempt_id", a.ID, "duration", endedAt.Sub(a.StartedAt))
	if c.hub != nil {
		c.hub.BroadcastAttemptEnded(a.ID, endedAt.Sub(a.StartedAt))
	}
	return errors.Join(errs...)
}

// Voice returns the attempt's voice session, creating it on first use. It
// returns nil when no voice factory is configured.
func (c *Controller) Voice() Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voice == nil && c.newVoice != nil {
		c.voice = c.newVoice(c.voiceChanged, c.stall.OnActivity)
	}
	return c.voice
}

func (c *Controller) currentVoice() Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

func (c *Controller) voiceChanged(info voice.Info) {
	switch info.Status {
	case voice.StatusConnected, voice.StatusRecording:
		c.stall.Arm()
	default:
		c.stall.Disarm()
	}
	if c.hub != nil {
		c.hub.BroadcastVoiceStatus(info)
	}
}

func (c *Controller) recoverVoice(ctx context.Context) {
	v := c.currentVoice()
	if v == nil {
		return
	}
	if st := v.Status(); st != voice.StatusConnected && st != voice.StatusRecording {
		return
	}
	slog.Warn("interview: voice channel stalled, resetting")
	if err := v.Reset(ctx); err != nil {
		slog.Error("interview: voice reset failed", "err", err)
	}
}

func (c *Controller) InterimCaption(speaker int, text string, start float64) {
	if c.hub != nil {
		c.hub.BroadcastLiveTranscriptInterim(speaker, text, start)
	}
}

// FinalCaption persists a finished caption segment under the open attempt.
// Segments outside an attempt are only broadcast.
func (c *Controller) FinalCaption(seg transcribe.Segment) {
	if a, ok := c.Attempt(); ok {
		if c.store != nil {
			if err := c.store.AppendSegment(a.ID, seg); err != nil {
				slog.Error("interview: append segment failed", "attempt_id", a.ID, "err", err)
			}
		}
		if c.writer != nil {
			if err := c.writer.Append(a.ID, seg); err != nil {
				slog.Warn("interview: transcript file append failed", "attempt_id", a.ID, "err", err)
			}
		}
	}
	if c.hub != nil {
		c.hub.BroadcastLiveTranscript(seg)
	}
}

func (c *Controller) Snapshot() Snapshot {
	pending := c.uploads.Pending()
	snap := Snapshot{PendingUploads: pending, CanEnd: pending == 0}
	if a, ok := c.Attempt(); ok {
		snap.Attempt = &a
	}
	if v := c.currentVoice(); v != nil {
		info := v.Info()
		snap.Voice = &info
	}
	return snap
}
