// Package capture runs the audio-only and audio+video recorders of an
// interview answer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

type Channel string

const (
	ChannelAudio Channel = "audio"
	ChannelVideo Channel = "video"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
)

const defaultTimeslice = time.Second

// Recording is the flushed output of one recorder slot.
type Recording struct {
	Channel   Channel
	MIMEType  string
	Data      []byte
	Chunks    int
	StartedAt time.Time
	StoppedAt time.Time
}

func (r Recording) Duration() time.Duration { return r.StoppedAt.Sub(r.StartedAt) }

// Callbacks selects the channels to record. A channel runs only when its
// callback is set; the callback receives the recording once it stops.
type Callbacks struct {
	OnAudioDone func(Recording)
	OnVideoDone func(Recording)
}

// Devices scopes stream acquisition to the selected devices.
type Devices interface {
	Constraints(audio, video bool) media.Constraints
}

// Alerter surfaces recorder faults to the user.
type Alerter interface {
	Alert(message string)
}

// Status is a snapshot of the session flags.
type Status struct {
	State      State     `json:"state"`
	Recording  bool      `json:"recording"`
	Processing bool      `json:"processing"`
	Channels   []Channel `json:"channels"`
}

type Options struct {
	Backend     media.Backend
	Devices     Devices
	NewRecorder RecorderFactory
	Alerter     Alerter
	Timeslice   time.Duration
	SampleRate  int
	OnChange    func(Status)
}

type slot struct {
	channel   Channel
	stream    *media.Stream
	recorder  Recorder
	chunks    *ChunkBuffer
	onDone    func(Recording)
	startedAt time.Time

	active        bool
	shouldProcess bool
	faulted       bool
	finished      bool

	release sync.Once
	done    chan struct{}
}

func (sl *slot) releaseTracks() {
	sl.release.Do(func() { media.StopAll(sl.stream) })
}

// Session owns up to two recorder slots. It returns to idle only after every
// slot has completed its own stop sequence.
type Session struct {
	backend     media.Backend
	devices     Devices
	newRecorder RecorderFactory
	alerter     Alerter
	timeslice   time.Duration
	sampleRate  int
	onChange    func(Status)
	now         func() time.Time

	mu         sync.Mutex
	state      State
	slots      map[Channel]*slot
	recording  bool
	processing bool
	lastErr    error
}

func NewSession(opts Options) *Session {
	timeslice := opts.Timeslice
	if timeslice <= 0 {
		timeslice = defaultTimeslice
	}
	return &Session{
		backend:     opts.Backend,
		devices:     opts.Devices,
		newRecorder: opts.NewRecorder,
		alerter:     opts.Alerter,
		timeslice:   timeslice,
		sampleRate:  opts.SampleRate,
		onChange:    opts.OnChange,
		now:         time.Now,
		state:       StateIdle,
		slots:       make(map[Channel]*slot),
	}
}

// Start acquires a fresh stream per requested channel and starts its
// recorder. A channel that fails to start does not abort the other; an error
// is returned only when nothing started.
func (s *Session) Start(ctx context.Context, cb Callbacks) error {
	type request struct {
		channel Channel
		onDone  func(Recording)
	}
	var requests []request
	if cb.OnAudioDone != nil {
		requests = append(requests, request{ChannelAudio, cb.OnAudioDone})
	}
	if cb.OnVideoDone != nil {
		requests = append(requests, request{ChannelVideo, cb.OnVideoDone})
	}
	if len(requests) == 0 {
		return ErrNoChannels
	}

	s.mu.Lock()
	if s.recording || len(s.slots) > 0 {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.state = StateInitializing
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()

	var errs []error
	started := 0
	for _, req := range requests {
		if err := s.startSlot(ctx, req.channel, req.onDone); err != nil {
			slog.Warn("capture: channel failed to start", "channel", req.channel, "err", err)
			errs = append(errs, err)
			continue
		}
		started++
	}

	s.mu.Lock()
	if started == 0 {
		s.state = StateIdle
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("%w: %w", ErrNoChannels, errors.Join(errs...))
	}
	if len(s.slots) > 0 {
		s.recording = true
		s.processing = true
		s.state = StateRecording
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) startSlot(ctx context.Context, ch Channel, onDone func(Recording)) error {
	c := media.Constraints{Audio: true, Video: ch == ChannelVideo}
	if s.devices != nil {
		c = s.devices.Constraints(true, ch == ChannelVideo)
	}
	if ch == ChannelVideo && !c.Video {
		return ErrNoVideoDevice
	}
	if ch == ChannelAudio {
		c.Video = false
		c.VideoDeviceID = ""
	}
	if c.SampleRate == 0 {
		c.SampleRate = s.sampleRate
	}

	stream, err := s.backend.GetUserMedia(ctx, c)
	if err != nil {
		return fmt.Errorf("acquire %s stream: %w", ch, err)
	}

	sl := &slot{
		channel:       ch,
		stream:        stream,
		chunks:        NewChunkBuffer(),
		onDone:        onDone,
		shouldProcess: true,
		done:          make(chan struct{}),
	}

	rec, err := s.newRecorder(stream, ch, RecorderEvents{
		OnData:  func(chunk []byte) { s.handleData(sl, chunk) },
		OnStop:  func() { s.handleStop(sl) },
		OnError: func(err error) { s.handleError(sl, err) },
	})
	if err != nil {
		sl.releaseTracks()
		return fmt.Errorf("create %s recorder: %w", ch, err)
	}
	sl.recorder = rec

	s.mu.Lock()
	sl.active = true
	sl.startedAt = s.now()
	s.slots[ch] = sl
	s.mu.Unlock()

	if err := rec.Start(s.timeslice); err != nil {
		s.mu.Lock()
		sl.active = false
		sl.finished = true
		delete(s.slots, ch)
		s.mu.Unlock()
		sl.releaseTracks()
		return fmt.Errorf("start %s recorder: %w", ch, err)
	}
	return nil
}

func (s *Session) handleData(sl *slot, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl.active {
		sl.chunks.Append(chunk)
	}
}

// handleError clears the recording flag at once and alerts the user. The
// recorder still delivers its stop callback, which releases the tracks.
func (s *Session) handleError(sl *slot, err error) {
	fault := &RecorderFault{Channel: sl.channel, Err: err}

	s.mu.Lock()
	sl.faulted = true
	sl.shouldProcess = false
	s.recording = false
	if s.state == StateRecording {
		s.state = StateStopping
	}
	s.lastErr = fault
	s.mu.Unlock()

	slog.Error("capture: recorder fault", "channel", sl.channel, "err", err)
	if s.alerter != nil {
		s.alerter.Alert(fmt.Sprintf("Recording stopped unexpectedly (%s): %v", sl.channel, err))
	}
	s.notify()
}

// handleStop runs exactly once per slot. Completion callbacks are invoked
// outside the lock, then the slot's done channel is closed.
func (s *Session) handleStop(sl *slot) {
	s.mu.Lock()
	if sl.finished {
		s.mu.Unlock()
		return
	}
	sl.finished = true
	sl.active = false

	process := sl.shouldProcess && !sl.faulted
	var rec Recording
	if process {
		rec = Recording{
			Channel:   sl.channel,
			MIMEType:  sl.recorder.MIMEType(),
			Data:      sl.chunks.Bytes(),
			Chunks:    sl.chunks.Len(),
			StartedAt: sl.startedAt,
			StoppedAt: s.now(),
		}
	}
	if s.slots[sl.channel] == sl {
		delete(s.slots, sl.channel)
	}
	last := len(s.slots) == 0
	if last {
		s.recording = false
		s.processing = false
		s.state = StateIdle
	}
	s.mu.Unlock()

	sl.releaseTracks()

	if process && sl.onDone != nil {
		sl.onDone(rec)
	} else if !process {
		slog.Info("capture: discarded recording", "channel", sl.channel, "chunks", sl.chunks.Len())
	}

	s.mu.Lock()
	sl.chunks.Reset()
	s.mu.Unlock()

	if last {
		s.notify()
	}
	close(sl.done)
}

// Stop confirms the chunks should be delivered, stops every active recorder
// and waits for each slot's stop callback.
func (s *Session) Stop(ctx context.Context) error {
	return s.finish(ctx, true)
}

// Cancel stops every active recorder and discards the chunks. Tracks are
// still released.
func (s *Session) Cancel(ctx context.Context) error {
	return s.finish(ctx, false)
}

// Dispose cancels any running recording; used on teardown.
func (s *Session) Dispose(ctx context.Context) error {
	return s.Cancel(ctx)
}

func (s *Session) finish(ctx context.Context, keep bool) error {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		sl.shouldProcess = keep && !sl.faulted
		slots = append(slots, sl)
	}
	if len(slots) > 0 {
		s.state = StateStopping
	}
	s.mu.Unlock()

	if len(slots) == 0 {
		return nil
	}
	s.notify()

	for _, sl := range slots {
		if err := sl.recorder.Stop(); err != nil {
			slog.Warn("capture: native stop failed", "channel", sl.channel, "err", err)
			s.handleStop(sl)
		}
	}

	for _, sl := range slots {
		select {
		case <-sl.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s recorder: %w", sl.channel, ctx.Err())
		}
	}
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	channels := make([]Channel, 0, len(s.slots))
	for ch, sl := range s.slots {
		if sl.active {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return Status{State: s.state, Recording: s.recording, Processing: s.processing, Channels: channels}
}

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Err returns the last recorder fault of the current or previous recording.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Status())
}
