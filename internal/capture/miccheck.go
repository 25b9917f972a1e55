package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

// Player plays a local audio file and returns once playback has ended.
type Player interface {
	Play(ctx context.Context, path string) error
}

// ExecPlayer plays files through the first audio player found on PATH.
type ExecPlayer struct {
	players  []string
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewExecPlayer() *ExecPlayer {
	return &ExecPlayer{
		players:  []string{"ffplay", "mpv", "vlc", "aplay"},
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

func (p *ExecPlayer) Play(ctx context.Context, path string) error {
	player, err := p.find()
	if err != nil {
		return err
	}

	var args []string
	switch player {
	case "ffplay":
		args = []string{"-nodisp", "-autoexit", "-loglevel", "error", path}
	case "mpv":
		args = []string{"--no-video", "--really-quiet", path}
	case "vlc":
		args = []string{"--intf", "dummy", "--play-and-exit", path}
	default:
		args = []string{"-q", path}
	}

	if err := p.command(ctx, player, args...).Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func (p *ExecPlayer) find() (string, error) {
	for _, player := range p.players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(p.players, ", "))
}

// MicCheck records a short audio-only clip and plays it back so the user
// can hear their microphone. It does not touch the recorder slots.
type MicCheck struct {
	Backend    media.Backend
	Devices    Devices
	Player     Player
	Dir        string
	Duration   time.Duration
	SampleRate int
}

// MicCheckResult describes a finished self-check.
type MicCheckResult struct {
	DeviceID string        `json:"deviceId"`
	Duration time.Duration `json:"duration"`
	Bytes    int           `json:"bytes"`
	Peak     float32       `json:"peak"`
}

// Run records, writes the clip to a temporary WAV, plays it and removes the
// file once playback has ended.
func (m *MicCheck) Run(ctx context.Context) (MicCheckResult, error) {
	c := media.Constraints{Audio: true}
	if m.Devices != nil {
		c = m.Devices.Constraints(true, false)
	}
	if m.SampleRate > 0 {
		c.SampleRate = m.SampleRate
	}

	stream, err := m.Backend.GetUserMedia(ctx, c)
	if err != nil {
		return MicCheckResult{}, fmt.Errorf("acquire microphone: %w", err)
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		media.StopAll(stream)
		return MicCheckResult{}, fmt.Errorf("%w: no audio track", ErrUnsupportedSource)
	}
	src, ok := tracks[0].(media.PCMSource)
	if !ok {
		media.StopAll(stream)
		return MicCheckResult{}, fmt.Errorf("%w: audio track has no pcm", ErrUnsupportedSource)
	}

	samples, peak, err := m.capture(ctx, src)
	media.StopAll(stream)
	if err != nil {
		return MicCheckResult{}, err
	}

	path, size, err := m.writeClip(samples, src.SampleRate(), src.Channels())
	if err != nil {
		return MicCheckResult{}, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("capture: remove mic check clip", "path", path, "err", err)
		}
	}()

	if m.Player != nil {
		if err := m.Player.Play(ctx, path); err != nil {
			return MicCheckResult{}, err
		}
	}

	frames := len(samples) / max(src.Channels(), 1)
	return MicCheckResult{
		DeviceID: tracks[0].DeviceID(),
		Duration: time.Duration(frames) * time.Second / time.Duration(max(src.SampleRate(), 1)),
		Bytes:    size,
		Peak:     peak,
	}, nil
}

func (m *MicCheck) capture(ctx context.Context, src media.PCMSource) ([]float32, float32, error) {
	duration := m.Duration
	if duration <= 0 {
		duration = 3 * time.Second
	}
	want := int(duration.Seconds() * float64(src.SampleRate()*max(src.Channels(), 1)))

	var samples []float32
	var peak float32
	for len(samples) < want {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		frames, err := src.ReadFrames()
		if err != nil {
			return nil, 0, fmt.Errorf("record mic check: %w", err)
		}
		for _, s := range frames {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		samples = append(samples, frames...)
	}
	return samples[:want], peak, nil
}

func (m *MicCheck) writeClip(samples []float32, sampleRate, channels int) (string, int, error) {
	dir := m.Dir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", 0, fmt.Errorf("create mic check directory: %w", err)
		}
	}
	f, err := os.CreateTemp(dir, "mic-check-*.wav")
	if err != nil {
		return "", 0, fmt.Errorf("create mic check clip: %w", err)
	}
	defer f.Close()

	pcm := media.EncodePCM16(samples)
	header, err := wavHeader(uint32(len(pcm)), sampleRate, max(channels, 1), pcmBitDepth)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("build wav header: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("write wav header: %w", err)
	}
	if _, err := f.Write(pcm); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("write wav payload: %w", err)
	}
	return f.Name(), len(header) + len(pcm), nil
}
