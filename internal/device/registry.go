// Package device discovers capture devices and owns the current selection
// and its preview stream.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sjawhar/interview-live/internal/media"
)

// Selection holds the chosen device IDs. An empty ID means nothing is
// selected and marshals as false.
type Selection struct {
	Audio string
	Video string
}

func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Audio any `json:"audio"`
		Video any `json:"video"`
	}{Audio: idOrFalse(s.Audio), Video: idOrFalse(s.Video)})
}

func idOrFalse(id string) any {
	if id == "" {
		return false
	}
	return id
}

// Registry enumerates devices and holds the user's selection. It is the
// single holder of the preview stream.
type Registry struct {
	backend media.Backend

	mu          sync.Mutex
	initialized bool
	devices     []media.Device
	selection   Selection
	preview     *media.Stream
	err         error
}

func NewRegistry(backend media.Backend) *Registry {
	return &Registry{backend: backend}
}

// Initialize unlocks device labels with a combined permission probe, releases
// the probe, enumerates and auto-selects the first device of each kind.
// Repeated calls return the cached selection. Failures are recorded in Err
// and yield an empty selection.
func (r *Registry) Initialize(ctx context.Context) Selection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return r.selection
	}

	probe, err := r.backend.GetUserMedia(ctx, media.Constraints{Audio: true, Video: true})
	if errors.Is(err, media.ErrDeviceNotFound) {
		// No camera attached; microphone-only machines are still usable.
		probe, err = r.backend.GetUserMedia(ctx, media.Constraints{Audio: true})
	}
	if err != nil {
		r.err = classify(err)
		slog.Warn("device: permission probe failed", "err", err)
		return Selection{}
	}
	media.StopAll(probe)

	devices, err := r.backend.EnumerateDevices(ctx)
	if err != nil {
		r.err = classify(err)
		slog.Warn("device: enumerate failed", "err", err)
		return Selection{}
	}

	sel := Selection{Audio: firstOf(devices, media.KindAudioInput), Video: firstOf(devices, media.KindVideoInput)}
	if sel.Audio == "" && sel.Video == "" {
		r.err = ErrNoDevices
		return Selection{}
	}

	r.devices = devices
	r.selection = sel
	r.initialized = true
	r.err = nil
	return sel
}

func classify(err error) error {
	switch {
	case errors.Is(err, media.ErrDeviceNotFound):
		return fmt.Errorf("%w: %v", ErrNoDevices, err)
	default:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
}

func firstOf(devices []media.Device, kind media.Kind) string {
	for _, d := range devices {
		if d.Kind == kind {
			return d.ID
		}
	}
	return ""
}

// SelectAudio changes the microphone. A live preview is torn down and
// reacquired against the new selection.
func (r *Registry) SelectAudio(ctx context.Context, id string) error {
	return r.selectDevice(ctx, media.KindAudioInput, id)
}

// SelectVideo changes the camera. A live preview is torn down and
// reacquired against the new selection.
func (r *Registry) SelectVideo(ctx context.Context, id string) error {
	return r.selectDevice(ctx, media.KindVideoInput, id)
}

func (r *Registry) selectDevice(ctx context.Context, kind media.Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	if !r.known(kind, id) {
		return fmt.Errorf("%w: %s %s", ErrUnknownDevice, kind, id)
	}

	next := r.selection
	if kind == media.KindAudioInput {
		next.Audio = id
	} else {
		next.Video = id
	}
	if next == r.selection {
		return nil
	}
	r.selection = next

	if r.preview == nil {
		return nil
	}
	media.StopAll(r.preview)
	r.preview = nil
	return r.acquirePreview(ctx)
}

func (r *Registry) known(kind media.Kind, id string) bool {
	for _, d := range r.devices {
		if d.Kind == kind && d.ID == id {
			return true
		}
	}
	return false
}

// Preview returns the preview stream for the current selection, acquiring
// it on first use.
func (r *Registry) Preview(ctx context.Context) (*media.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if r.preview == nil {
		if err := r.acquirePreview(ctx); err != nil {
			return nil, err
		}
	}
	return r.preview, nil
}

func (r *Registry) acquirePreview(ctx context.Context) error {
	stream, err := r.backend.GetUserMedia(ctx, r.constraints(true, true))
	if err != nil {
		r.err = classify(err)
		return r.err
	}
	r.preview = stream
	return nil
}

// ReleasePreview stops the preview tracks, if any.
func (r *Registry) ReleasePreview() {
	r.mu.Lock()
	defer r.mu.Unlock()
	media.StopAll(r.preview)
	r.preview = nil
}

// Refresh re-enumerates after a permission or hardware change. Selections
// that disappeared fall back to the first device of their kind.
func (r *Registry) Refresh(ctx context.Context) ([]media.Device, error) {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		r.Initialize(ctx)
		return r.Devices(), r.Err()
	}
	defer r.mu.Unlock()

	devices, err := r.backend.EnumerateDevices(ctx)
	if err != nil {
		r.err = classify(err)
		return nil, r.err
	}
	r.devices = devices

	next := r.selection
	if !r.known(media.KindAudioInput, next.Audio) {
		next.Audio = firstOf(devices, media.KindAudioInput)
	}
	if !r.known(media.KindVideoInput, next.Video) {
		next.Video = firstOf(devices, media.KindVideoInput)
	}
	if next != r.selection {
		r.selection = next
		if r.preview != nil {
			media.StopAll(r.preview)
			r.preview = nil
			if err := r.acquirePreview(ctx); err != nil {
				return append([]media.Device(nil), devices...), err
			}
		}
	}
	return append([]media.Device(nil), devices...), nil
}

// Constraints returns acquisition constraints scoped to the current selection.
func (r *Registry) Constraints(audio, video bool) media.Constraints {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constraints(audio, video)
}

func (r *Registry) constraints(audio, video bool) media.Constraints {
	c := media.Constraints{}
	if audio && (r.selection.Audio != "" || !r.initialized) {
		c.Audio = true
		c.AudioDeviceID = r.selection.Audio
	}
	if video && (r.selection.Video != "" || !r.initialized) {
		c.Video = true
		c.VideoDeviceID = r.selection.Video
	}
	return c
}

func (r *Registry) Selection() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selection
}

func (r *Registry) Devices() []media.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Device(nil), r.devices...)
}

// Err returns the last user-facing device error, or nil.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}
