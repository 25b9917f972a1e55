// Package mediatest provides an in-memory media.Backend for tests.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/interview-live/internal/media"
)

// Track is a fake device handle that counts every Stop call.
type Track struct {
	id       string
	kind     media.Kind
	deviceID string
	rate     int
	frames   []float32
	interval time.Duration

	mu    sync.Mutex
	stops int
	done  chan struct{}
}

func (t *Track) ID() string         { return t.id }
func (t *Track) Kind() media.Kind   { return t.kind }
func (t *Track) DeviceID() string   { return t.deviceID }
func (t *Track) SampleRate() int    { return t.rate }
func (t *Track) Channels() int      { return 1 }
func (t *Track) DevicePath() string { return "/dev/fake-" + t.deviceID }

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	if t.stops == 1 {
		close(t.done)
	}
}

// Stops reports how many times Stop was called.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// ReadFrames returns a copy of the configured frames every interval until
// the track is stopped.
func (t *Track) ReadFrames() ([]float32, error) {
	if t.interval > 0 {
		select {
		case <-t.done:
			return nil, media.ErrTrackEnded
		case <-time.After(t.interval):
		}
	}
	select {
	case <-t.done:
		return nil, media.ErrTrackEnded
	default:
	}
	out := make([]float32, len(t.frames))
	copy(out, t.frames)
	return out, nil
}

// Backend is a scriptable media.Backend.
type Backend struct {
	mu sync.Mutex

	devices        []media.Device
	denyPermission bool
	enumerateErr   error
	audioErr       error
	videoErr       error
	frames         []float32
	interval       time.Duration

	requests []media.Constraints
	tracks   []*Track
}

func NewBackend(devices ...media.Device) *Backend {
	return &Backend{devices: devices, frames: make([]float32, 256), interval: 5 * time.Millisecond}
}

// DefaultDevices returns two microphones and one camera.
func DefaultDevices() []media.Device {
	return []media.Device{
		{ID: "mic-1", Label: "Built-in Microphone", Kind: media.KindAudioInput},
		{ID: "mic-2", Label: "USB Microphone", Kind: media.KindAudioInput},
		{ID: "cam-1", Label: "Integrated Camera", Kind: media.KindVideoInput},
	}
}

func (b *Backend) DenyPermission() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denyPermission = true
}

func (b *Backend) FailEnumerate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enumerateErr = err
}

// FailAudioOnly makes audio-only acquisitions fail.
func (b *Backend) FailAudioOnly(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioErr = err
}

// FailVideo makes every acquisition that includes video fail.
func (b *Backend) FailVideo(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.videoErr = err
}

// SetFrames sets the samples returned by audio tracks and their pacing.
func (b *Backend) SetFrames(frames []float32, interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = frames
	b.interval = interval
}

func (b *Backend) EnumerateDevices(ctx context.Context) ([]media.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enumerateErr != nil {
		return nil, b.enumerateErr
	}
	return append([]media.Device(nil), b.devices...), nil
}

func (b *Backend) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if !c.Audio && !c.Video {
		return nil, media.ErrNoTracks
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, c)
	if b.denyPermission {
		return nil, media.ErrPermissionDenied
	}
	if c.Video && b.videoErr != nil {
		return nil, b.videoErr
	}
	if c.Audio && !c.Video && b.audioErr != nil {
		return nil, b.audioErr
	}

	var audioID, videoID string
	var err error
	if c.Audio {
		if audioID, err = b.resolve(media.KindAudioInput, c.AudioDeviceID); err != nil {
			return nil, err
		}
	}
	if c.Video {
		if videoID, err = b.resolve(media.KindVideoInput, c.VideoDeviceID); err != nil {
			return nil, err
		}
	}

	var tracks []media.Track
	if c.Audio {
		rate := c.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		frames := b.frames
		if c.FramesPerBuffer > 0 {
			frames = make([]float32, c.FramesPerBuffer)
			for i := range frames {
				if len(b.frames) > 0 {
					frames[i] = b.frames[i%len(b.frames)]
				}
			}
		}
		tracks = append(tracks, b.newTrack(media.KindAudioInput, audioID, rate, frames))
	}
	if c.Video {
		tracks = append(tracks, b.newTrack(media.KindVideoInput, videoID, 0, nil))
	}
	return media.NewStream(tracks...), nil
}

func (b *Backend) resolve(kind media.Kind, id string) (string, error) {
	for _, d := range b.devices {
		if d.Kind != kind {
			continue
		}
		if id == "" || d.ID == id {
			return d.ID, nil
		}
	}
	if id == "" {
		return "", fmt.Errorf("%w: no %s", media.ErrDeviceNotFound, kind)
	}
	return "", fmt.Errorf("%w: %s", media.ErrDeviceNotFound, id)
}

func (b *Backend) newTrack(kind media.Kind, deviceID string, rate int, frames []float32) *Track {
	t := &Track{
		id:       uuid.NewString(),
		kind:     kind,
		deviceID: deviceID,
		rate:     rate,
		frames:   frames,
		interval: b.interval,
		done:     make(chan struct{}),
	}
	b.tracks = append(b.tracks, t)
	return t
}

// Tracks returns every track handed out so far.
func (b *Backend) Tracks() []*Track {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Track(nil), b.tracks...)
}

// Requests returns the constraints of every GetUserMedia call.
func (b *Backend) Requests() []media.Constraints {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]media.Constraints(nil), b.requests...)
}

// Live returns the tracks that have not been stopped.
func (b *Backend) Live() []*Track {
	var live []*Track
	for _, t := range b.Tracks() {
		if t.Stops() == 0 {
			live = append(live, t)
		}
	}
	return live
}

// ErrFake is a convenient failure for scripted errors.
var ErrFake = errors.New("mediatest: scripted failure")
