// Package media models capture devices and the live tracks acquired from them.
package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes microphone from camera inputs.
type Kind string

const (
	KindAudioInput Kind = "audioinput"
	KindVideoInput Kind = "videoinput"
)

// Device is an enumerated input device. Devices are immutable; a permission
// change invalidates the list and it has to be enumerated again.
type Device struct {
	ID    string `json:"deviceId"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Constraints selects which devices a stream acquires. Empty device IDs mean
// the system default for that kind.
type Constraints struct {
	Audio           bool
	AudioDeviceID   string
	Video           bool
	VideoDeviceID   string
	SampleRate      int
	FramesPerBuffer int
}

// Track is a live handle to one device. Stop releases the device and is safe
// to call more than once.
type Track interface {
	ID() string
	Kind() Kind
	DeviceID() string
	Stop()
}

// PCMSource is implemented by audio tracks that can deliver samples.
// ReadFrames blocks until one buffer of interleaved float32 samples is ready.
type PCMSource interface {
	SampleRate() int
	Channels() int
	ReadFrames() ([]float32, error)
}

// Backend acquires device streams and enumerates devices.
type Backend interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	EnumerateDevices(ctx context.Context) ([]Device, error)
}

// Stream groups the tracks acquired by a single GetUserMedia call.
type Stream struct {
	id     string
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []Track { return s.byKind(KindAudioInput) }

func (s *Stream) VideoTracks() []Track { return s.byKind(KindVideoInput) }

func (s *Stream) byKind(kind Kind) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopAll stops every track of the stream. A nil stream is a no-op.
func StopAll(s *Stream) {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// trackState carries the bookkeeping shared by host tracks.
type trackState struct {
	id       string
	kind     Kind
	deviceID string

	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func newTrackState(kind Kind, deviceID string) trackState {
	return trackState{id: uuid.NewString(), kind: kind, deviceID: deviceID}
}

func (t *trackState) ID() string       { return t.id }
func (t *trackState) Kind() Kind       { return t.kind }
func (t *trackState) DeviceID() string { return t.deviceID }

func (t *trackState) ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *trackState) markStopped(release func()) {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		if release != nil {
			release()
		}
	})
}
