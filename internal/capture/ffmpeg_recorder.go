package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

const ffmpegStopTimeout = 5 * time.Second

// ffmpegRecorder captures a V4L2 camera and muxes it with the stream's own
// microphone track, fed to ffmpeg as raw PCM16 on stdin. WebM comes back on
// stdout.
type ffmpegRecorder struct {
	devicePath string
	audio      media.PCMSource
	cfg        HostRecorderConfig
	events     RecorderEvents
	command    func(name string, args ...string) *exec.Cmd

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopping bool
	feedErr  error
	stopOnce sync.Once
	exited   chan struct{}
}

func newFFmpegRecorder(devicePath string, audio media.PCMSource, cfg HostRecorderConfig, events RecorderEvents) *ffmpegRecorder {
	if cfg.VideoBitrate == "" {
		cfg.VideoBitrate = "1M"
	}
	return &ffmpegRecorder{
		devicePath: devicePath,
		audio:      audio,
		cfg:        cfg,
		events:     events,
		command:    exec.Command,
		exited:     make(chan struct{}),
	}
}

func (r *ffmpegRecorder) MIMEType() string { return "video/webm" }

func (r *ffmpegRecorder) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", r.devicePath,
		"-f", "s16le",
		"-ar", strconv.Itoa(r.audio.SampleRate()),
		"-ac", strconv.Itoa(r.audio.Channels()),
		"-i", "pipe:0",
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-b:v", r.cfg.VideoBitrate,
		"-c:a", "libopus",
		"-f", "webm", "pipe:1",
	}
}

func (r *ffmpegRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return fmt.Errorf("ffmpeg recorder already started")
	}

	cmd := r.command("ffmpeg", r.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	r.cmd = cmd

	go r.feed(stdin)
	go r.run(cmd, stdout, stderr, timeslice)
	return nil
}

// feed copies the microphone into ffmpeg until the track ends or ffmpeg stops
// reading. A failing microphone aborts the recording.
func (r *ffmpegRecorder) feed(stdin io.WriteCloser) {
	defer func() { _ = stdin.Close() }()
	for {
		frames, err := r.audio.ReadFrames()
		if err != nil {
			if errors.Is(err, media.ErrTrackEnded) {
				return
			}
			r.mu.Lock()
			r.feedErr = err
			r.mu.Unlock()
			_ = r.Stop()
			return
		}
		if _, err := stdin.Write(media.EncodePCM16(frames)); err != nil {
			return
		}
	}
}

func (r *ffmpegRecorder) run(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, timeslice time.Duration) {
	defer r.events.OnStop()
	defer close(r.exited)

	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunks <- bytes.Clone(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending bytes.Buffer
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := bytes.Clone(pending.Bytes())
		pending.Reset()
		r.events.OnData(chunk)
	}

	for open := true; open; {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				open = false
				break
			}
			pending.Write(chunk)
		case <-ticker.C:
			flush()
		}
	}
	flush()

	err := cmd.Wait()
	r.mu.Lock()
	feedErr := r.feedErr
	r.mu.Unlock()
	if feedErr != nil {
		r.events.OnError(fmt.Errorf("read microphone: %w", feedErr))
		return
	}
	if err == nil || r.stopRequested() && interruptedExit(err) {
		return
	}
	r.events.OnError(fmt.Errorf("ffmpeg exited: %w: %s", err, bytes.TrimSpace(stderr.Bytes())))
}

func (r *ffmpegRecorder) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// interruptedExit reports whether ffmpeg ended because of our interrupt.
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}

// Stop interrupts ffmpeg so it finalizes the stream, and kills it if it has
// not exited within ffmpegStopTimeout.
func (r *ffmpegRecorder) Stop() error {
	r.mu.Lock()
	cmd := r.cmd
	if cmd == nil {
		r.mu.Unlock()
		return ErrRecorderInactive
	}
	r.stopping = true
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("capture: interrupt ffmpeg failed, killing", "err", err)
			_ = cmd.Process.Kill()
			return
		}
		go func() {
			select {
			case <-r.exited:
			case <-time.After(ffmpegStopTimeout):
				slog.Warn("capture: ffmpeg did not exit in time, killing")
				_ = cmd.Process.Kill()
			}
		}()
	})
	return nil
}
