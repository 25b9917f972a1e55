package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/interview"
	"github.com/sjawhar/interview-live/internal/transcribe"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

var (
	_ interview.EventBroadcaster = (*Hub)(nil)
	_ upload.Notifier            = (*Hub)(nil)
	_ capture.Alerter            = (*Hub)(nil)
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast drops the message for clients whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastRecordingState(st capture.Status) {
	channels := make([]string, 0, len(st.Channels))
	for _, ch := range st.Channels {
		channels = append(channels, string(ch))
	}
	h.broadcastEvent(RecordingStateEvent{
		Event:      newEvent("recording_state", time.Now().UTC()),
		State:      string(st.State),
		Recording:  st.Recording,
		Processing: st.Processing,
		Channels:   channels,
	})
}

func (h *Hub) BroadcastRecordingComplete(rec capture.Recording, uploadID string) {
	h.broadcastEvent(RecordingCompleteEvent{
		Event:    newEvent("recording_complete", rec.StoppedAt),
		Channel:  string(rec.Channel),
		MIMEType: rec.MIMEType,
		Size:     len(rec.Data),
		Chunks:   rec.Chunks,
		Duration: rec.Duration().Seconds(),
		UploadID: uploadID,
	})
}

// Alert reports a recorder fault.
func (h *Hub) Alert(message string) {
	h.broadcastEvent(AlertEvent{
		Event:   newEvent("alert", time.Now().UTC()),
		Message: message,
	})
}

func (h *Hub) UploadStarted(p upload.PendingUpload) {
	h.broadcastEvent(UploadStartedEvent{
		Event:    newEvent("upload_started", p.CreatedAt),
		UploadID: p.ID,
		Channel:  string(p.Channel),
		Key:      p.Key,
		Size:     p.Size,
	})
}

// UploadFinished emits upload_failed instead of upload_finished when either
// sink failed.
func (h *Hub) UploadFinished(r upload.Result) {
	now := time.Now().UTC()
	if r.Err() != nil {
		h.broadcastEvent(UploadFailedEvent{
			Event:      newEvent("upload_failed", now),
			UploadID:   r.ID,
			Channel:    string(r.Channel),
			Key:        r.Key,
			DurableErr: errString(r.DurableErr),
			IngestErr:  errString(r.IngestErr),
		})
		return
	}
	h.broadcastEvent(UploadFinishedEvent{
		Event:         newEvent("upload_finished", now),
		UploadID:      r.ID,
		Channel:       string(r.Channel),
		Location:      r.Location,
		IngestSkipped: r.IngestSkipped,
	})
}

func (h *Hub) BroadcastVoiceStatus(info voice.Info) {
	h.broadcastEvent(VoiceStatusEvent{
		Event:     newEvent("voice_status", time.Now().UTC()),
		Status:    string(info.Status),
		Error:     info.Error,
		Recording: info.Recording,
		InFlight:  info.InFlight,
		NextStart: info.NextStart,
	})
}

func (h *Hub) BroadcastLiveTranscript(seg transcribe.Segment) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:     newEvent("live_transcript", seg.Timestamp),
		Speaker:   seg.Speaker,
		Text:      seg.Text,
		StartTime: seg.StartTime,
		EndTime:   seg.EndTime,
	})
}

func (h *Hub) BroadcastLiveTranscriptInterim(speaker int, text string, start float64) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:     newEvent("live_transcript", time.Now().UTC()),
		Speaker:   speaker,
		Text:      text,
		StartTime: start,
		EndTime:   start,
		Interim:   true,
	})
}

func (h *Hub) BroadcastAttemptStarted(attemptID string) {
	h.broadcastEvent(AttemptStartedEvent{
		Event:     newEvent("attempt_started", time.Now().UTC()),
		AttemptID: attemptID,
	})
}

func (h *Hub) BroadcastAttemptEnded(attemptID string, duration time.Duration) {
	h.broadcastEvent(AttemptEndedEvent{
		Event:     newEvent("attempt_ended", time.Now().UTC()),
		AttemptID: attemptID,
		Duration:  duration.Seconds(),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("server: event marshal failed", "err", err)
		return
	}
	h.Broadcast(payload)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
