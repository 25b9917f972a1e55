package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
)

const (
	defaultFramesPerBuffer = 1024
	defaultVideoGlob       = "/dev/video*"
	defaultSysfsRoot       = "/sys/class/video4linux"
)

// VideoSource is implemented by host video tracks; recorders hand the device
// path to the capture process.
type VideoSource interface {
	DevicePath() string
}

// HostBackend acquires microphones through PortAudio and cameras through
// V4L2 device nodes.
type HostBackend struct {
	videoGlob string
	sysfsRoot string

	mu     sync.Mutex
	opened bool
}

func NewHostBackend() *HostBackend {
	return &HostBackend{videoGlob: defaultVideoGlob, sysfsRoot: defaultSysfsRoot}
}

// Open initializes PortAudio. It must be called before any audio device is used.
func (b *HostBackend) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	b.opened = true
	return nil
}

func (b *HostBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil
	}
	b.opened = false
	return portaudio.Terminate()
}

func (b *HostBackend) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	var devices []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, Device{ID: audioDeviceID(info), Label: info.Name, Kind: KindAudioInput})
	}

	video, err := b.videoDevices()
	if err != nil {
		return nil, err
	}
	return append(devices, video...), nil
}

func (b *HostBackend) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoTracks
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []Track
	if c.Audio {
		track, err := b.openAudio(c)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	if c.Video {
		track, err := b.openVideo(c.VideoDeviceID)
		if err != nil {
			StopAll(NewStream(tracks...))
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return NewStream(tracks...), nil
}

func (b *HostBackend) openAudio(c Constraints) (*hostAudioTrack, error) {
	info, err := findAudioInput(c.AudioDeviceID)
	if err != nil {
		return nil, err
	}

	rate := c.SampleRate
	if rate <= 0 {
		rate = int(info.DefaultSampleRate)
	}
	frames := c.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}

	params := portaudio.HighLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = frames

	buf := make([]float32, frames)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open audio input %q: %w", info.Name, err)
	}

	return &hostAudioTrack{
		trackState: newTrackState(KindAudioInput, audioDeviceID(info)),
		rate:       rate,
		channels:   1,
		stream:     stream,
		buf:        buf,
	}, nil
}

func findAudioInput(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default input: %v", ErrDeviceNotFound, err)
		}
		return info, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, info := range infos {
		if info.MaxInputChannels > 0 && audioDeviceID(info) == id {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: audio %s", ErrDeviceNotFound, id)
}

func audioDeviceID(info *portaudio.DeviceInfo) string {
	api := ""
	if info.HostApi != nil {
		api = info.HostApi.Name
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("portaudio:"+api+":"+info.Name)).String()
}

type videoNode struct {
	path   string
	device Device
}

func (b *HostBackend) videoDevices() ([]Device, error) {
	nodes, err := b.videoNodes()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(nodes))
	for _, n := range nodes {
		devices = append(devices, n.device)
	}
	return devices, nil
}

func (b *HostBackend) videoNodes() ([]videoNode, error) {
	paths, err := filepath.Glob(b.videoGlob)
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}
	sort.Strings(paths)

	var nodes []videoNode
	for _, path := range paths {
		base := filepath.Base(path)
		// Drivers expose metadata nodes next to the capture node; only index 0 captures.
		if idx, err := os.ReadFile(filepath.Join(b.sysfsRoot, base, "index")); err == nil {
			if strings.TrimSpace(string(idx)) != "0" {
				continue
			}
		}
		label := base
		if name, err := os.ReadFile(filepath.Join(b.sysfsRoot, base, "name")); err == nil {
			if trimmed := strings.TrimSpace(string(name)); trimmed != "" {
				label = trimmed
			}
		}
		nodes = append(nodes, videoNode{
			path:   path,
			device: Device{ID: videoDeviceID(path), Label: label, Kind: KindVideoInput},
		})
	}
	return nodes, nil
}

func videoDeviceID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("v4l2:"+path)).String()
}

func (b *HostBackend) openVideo(id string) (*hostVideoTrack, error) {
	nodes, err := b.videoNodes()
	if err != nil {
		return nil, err
	}

	var node *videoNode
	for i := range nodes {
		if id == "" || nodes[i].device.ID == id {
			node = &nodes[i]
			break
		}
	}
	if node == nil {
		return nil, fmt.Errorf("%w: video %s", ErrDeviceNotFound, id)
	}

	f, err := os.OpenFile(node.path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, node.path)
		}
		return nil, fmt.Errorf("open video device %s: %w", node.path, err)
	}
	_ = f.Close()

	return &hostVideoTrack{trackState: newTrackState(KindVideoInput, node.device.ID), path: node.path}, nil
}

type hostAudioTrack struct {
	trackState

	rate     int
	channels int
	stream   *portaudio.Stream
	buf      []float32

	readMu  sync.Mutex
	started bool
}

func (t *hostAudioTrack) SampleRate() int { return t.rate }
func (t *hostAudioTrack) Channels() int   { return t.channels }

func (t *hostAudioTrack) ReadFrames() ([]float32, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.ended() {
		return nil, ErrTrackEnded
	}
	if !t.started {
		if err := t.stream.Start(); err != nil {
			return nil, fmt.Errorf("start audio input: %w", err)
		}
		t.started = true
	}

	if err := t.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		if t.ended() {
			return nil, ErrTrackEnded
		}
		return nil, fmt.Errorf("read audio input: %w", err)
	}

	out := make([]float32, len(t.buf))
	copy(out, t.buf)
	return out, nil
}

func (t *hostAudioTrack) Stop() {
	t.markStopped(func() {
		t.readMu.Lock()
		defer t.readMu.Unlock()
		if t.started {
			_ = t.stream.Stop()
		}
		_ = t.stream.Close()
	})
}

type hostVideoTrack struct {
	trackState
	path string
}

func (t *hostVideoTrack) DevicePath() string { return t.path }

func (t *hostVideoTrack) Stop() { t.markStopped(nil) }
