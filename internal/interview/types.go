package interview

import (
	"context"
	"time"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/transcribe"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

type Store interface {
	CreateAttempt(id string, startedAt time.Time) error
	EndAttempt(id string, endedAt time.Time) error
	AppendSegment(attemptID string, seg transcribe.Segment) error
}

// TranscriptWriter mirrors caption segments to a per-attempt file.
type TranscriptWriter interface {
	Append(attemptID string, seg transcribe.Segment) error
}

type Capture interface {
	Start(ctx context.Context, cb capture.Callbacks) error
	Stop(ctx context.Context) error
	Cancel(ctx context.Context) error
	Dispose(ctx context.Context) error
	Status() capture.Status
}

type Uploads interface {
	Submit(rec capture.Recording, meta upload.Metadata) string
	Pending() int
}

// Voice is the live voice session of an attempt.
type Voice interface {
	Init(ctx context.Context) error
	Connect(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording()
	Reset(ctx context.Context) error
	Close() error
	Status() voice.Status
	Info() voice.Info
}

type EventBroadcaster interface {
	BroadcastRecordingComplete(rec capture.Recording, uploadID string)
	BroadcastVoiceStatus(info voice.Info)
	BroadcastLiveTranscript(seg transcribe.Segment)
	BroadcastLiveTranscriptInterim(speaker int, text string, start float64)
	BroadcastAttemptStarted(attemptID string)
	BroadcastAttemptEnded(attemptID string, duration time.Duration)
}
