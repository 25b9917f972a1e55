package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type RecordingStateEvent struct {
	Event
	State      string   `json:"state"`
	Recording  bool     `json:"recording"`
	Processing bool     `json:"processing"`
	Channels   []string `json:"channels"`
}

type RecordingCompleteEvent struct {
	Event
	Channel  string  `json:"channel"`
	MIMEType string  `json:"mime_type"`
	Size     int     `json:"size"`
	Chunks   int     `json:"chunks"`
	Duration float64 `json:"duration"`
	UploadID string  `json:"upload_id"`
}

type AlertEvent struct {
	Event
	Message string `json:"message"`
}

type UploadStartedEvent struct {
	Event
	UploadID string `json:"upload_id"`
	Channel  string `json:"channel"`
	Key      string `json:"key"`
	Size     int    `json:"size"`
}

type UploadFinishedEvent struct {
	Event
	UploadID      string `json:"upload_id"`
	Channel       string `json:"channel"`
	Location      string `json:"location,omitempty"`
	IngestSkipped bool   `json:"ingest_skipped"`
}

// UploadFailedEvent is non-fatal. The recording is kept in the journal for
// a manual retry.
type UploadFailedEvent struct {
	Event
	UploadID   string `json:"upload_id"`
	Channel    string `json:"channel"`
	Key        string `json:"key"`
	DurableErr string `json:"durable_error,omitempty"`
	IngestErr  string `json:"ingest_error,omitempty"`
}

type VoiceStatusEvent struct {
	Event
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Recording bool    `json:"recording"`
	InFlight  int     `json:"in_flight"`
	NextStart float64 `json:"next_start_seconds"`
}

type LiveTranscriptEvent struct {
	Event
	Speaker   int     `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Interim   bool    `json:"interim,omitempty"`
}

type AttemptStartedEvent struct {
	Event
	AttemptID string `json:"attempt_id"`
}

type AttemptEndedEvent struct {
	Event
	AttemptID string  `json:"attempt_id"`
	Duration  float64 `json:"duration"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
