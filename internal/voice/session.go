// Package voice streams microphone audio to a live conversational model and
// plays its spoken replies back gaplessly.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

const processorDrainTimeout = 2 * time.Second

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusRecording  Status = "recording"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

// Info is a snapshot of the session for status polling.
type Info struct {
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Recording bool    `json:"recording"`
	InFlight  int     `json:"in_flight"`
	NextStart float64 `json:"next_start_seconds"`
}

// Devices supplies the constraints of the selected microphone.
type Devices interface {
	Constraints(audio, video bool) media.Constraints
}

type Options struct {
	Tokens  TokenSource
	Dialer  Dialer
	Backend media.Backend
	Devices Devices
	Speaker Speaker
	Clock   Clock

	Model    string
	Voice    string
	Endpoint string

	// InputTap receives the raw PCM16 of every outbound buffer.
	InputTap   io.Writer
	OnChange   func(Info)
	OnActivity func()
}

// Session owns one streaming channel and the two audio graphs around it.
// Callbacks from a superseded channel are ignored by generation.
type Session struct {
	tokens     TokenSource
	dialer     Dialer
	backend    media.Backend
	devices    Devices
	speaker    Speaker
	clock      Clock
	model      string
	voiceName  string
	endpoint   string
	tap        io.Writer
	onChange   func(Info)
	onActivity func()

	mu        sync.Mutex
	status    Status
	err       error
	closed    bool
	token     string
	gen       uint64
	conn      Conn
	input     *InputGraph
	output    *OutputGraph
	stream    *media.Stream
	proc      *Processor
	recording bool
	nextStart time.Duration
	sources   map[*Source]struct{}
}

func NewSession(opts Options) *Session {
	speaker := opts.Speaker
	if speaker == nil {
		speaker = DiscardSpeaker{}
	}
	return &Session{
		tokens:     opts.Tokens,
		dialer:     opts.Dialer,
		backend:    opts.Backend,
		devices:    opts.Devices,
		speaker:    speaker,
		clock:      opts.Clock,
		model:      opts.Model,
		voiceName:  opts.Voice,
		endpoint:   opts.Endpoint,
		tap:        opts.InputTap,
		onChange:   opts.OnChange,
		onActivity: opts.OnActivity,
		status:     StatusIdle,
		sources:    make(map[*Source]struct{}),
	}
}

// Init fetches a token and builds the audio graphs. Graphs survive Reset and
// are only torn down by Close.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	token, err := s.fetchToken(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	if s.output == nil {
		clock := s.clock
		if clock == nil {
			clock = NewWallClock()
		}
		s.input = NewInputGraph(InputSampleRate)
		s.output = NewOutputGraph(OutputSampleRate, clock, s.speaker)
		s.nextStart = s.output.CurrentTime()
	}
	// A live or dialing channel keeps its status; the token waits for the
	// next Connect after it ends.
	if s.conn == nil && s.status != StatusConnecting {
		s.status = StatusIdle
		s.err = nil
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) fetchToken(ctx context.Context) (string, error) {
	var token string
	err := errors.New("no token source configured")
	if s.tokens != nil {
		token, err = s.tokens.Token(ctx)
	}
	if err != nil {
		terr := &TokenError{Err: err}
		s.mu.Lock()
		s.status = StatusError
		s.err = terr
		s.mu.Unlock()
		slog.Error("voice: token fetch failed", "err", err)
		s.notify()
		return "", terr
	}
	return token, nil
}

// Connect opens the channel with the token from Init or Reset. Each token
// is used for one connection only.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.conn != nil:
		s.mu.Unlock()
		return nil
	case s.output == nil || s.token == "":
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.gen++
	gen := s.gen
	token := s.token
	s.token = ""
	s.status = StatusConnecting
	s.err = nil
	s.mu.Unlock()
	s.notify()

	conn, err := s.dialer.Dial(ctx, ConnectConfig{
		Token:    token,
		Model:    s.model,
		Voice:    s.voiceName,
		Endpoint: s.endpoint,
	}, s.callbacks(gen))
	if err != nil {
		cerr := &ChannelError{Reason: err.Error()}
		s.fail(gen, cerr)
		return cerr
	}

	s.mu.Lock()
	if gen != s.gen {
		closed := s.closed
		s.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrSessionClosed
		}
		return nil
	}
	// The channel may have failed or closed before Dial returned.
	if s.status == StatusError || s.status == StatusClosed {
		err := s.err
		s.mu.Unlock()
		_ = conn.Close()
		if err == nil {
			err = &ChannelError{Code: NormalClosure, Reason: "closed while connecting"}
		}
		return err
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Session) callbacks(gen uint64) Callbacks {
	return Callbacks{
		OnOpen: func() {
			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			s.status = StatusConnected
			if s.recording {
				s.status = StatusRecording
			}
			s.mu.Unlock()
			slog.Info("voice: channel open", "model", s.model)
			s.notify()
		},
		OnMessage: func(msg ServerMessage) {
			s.handleMessage(gen, msg)
		},
		OnError: func(err error) {
			s.fail(gen, &ChannelError{Reason: err.Error()})
		},
		OnClose: func(code int, reason string) {
			if code == NormalClosure {
				s.closedRemotely(gen, reason)
				return
			}
			s.fail(gen, &ChannelError{Code: code, Reason: reason})
		},
	}
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.status = StatusError
	s.err = err
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	slog.Error("voice: channel failed", "err", err)
	s.notify()
}

func (s *Session) closedRemotely(gen uint64, reason string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.status = StatusClosed
	s.mu.Unlock()
	slog.Info("voice: channel closed", "reason", reason)
	s.notify()
}

// StartRecording resumes both graphs and streams the microphone.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.output == nil:
		s.mu.Unlock()
		return ErrNotInitialized
	case s.recording:
		s.mu.Unlock()
		return nil
	case s.conn == nil || s.status != StatusConnected:
		s.mu.Unlock()
		return ErrNotConnected
	}
	input, output := s.input, s.output
	s.mu.Unlock()

	if err := errors.Join(input.Resume(), output.Resume()); err != nil {
		return fmt.Errorf("resume audio graphs: %w", err)
	}

	stream, src, err := s.acquireMicrophone(ctx)
	if err != nil {
		return err
	}
	proc, err := input.Connect(src, BufferFrames, s.onInputBuffer)
	if err != nil {
		media.StopAll(stream)
		return fmt.Errorf("connect microphone: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.recording {
		closed := s.closed
		s.mu.Unlock()
		proc.Disconnect()
		media.StopAll(stream)
		if closed {
			return ErrSessionClosed
		}
		return nil
	}
	s.stream = stream
	s.proc = proc
	s.recording = true
	if s.conn != nil {
		s.status = StatusRecording
	}
	s.mu.Unlock()

	slog.Info("voice: recording started", "stream", stream.ID())
	s.notify()
	return nil
}

func (s *Session) acquireMicrophone(ctx context.Context) (*media.Stream, media.PCMSource, error) {
	if s.backend == nil {
		return nil, nil, ErrNoMicrophone
	}
	c := media.Constraints{Audio: true}
	if s.devices != nil {
		c = s.devices.Constraints(true, false)
	}
	c.Video = false
	c.VideoDeviceID = ""
	c.SampleRate = InputSampleRate
	c.FramesPerBuffer = BufferFrames

	stream, err := s.backend.GetUserMedia(ctx, c)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire microphone: %w", err)
	}
	for _, t := range stream.AudioTracks() {
		if src, ok := t.(media.PCMSource); ok {
			return stream, src, nil
		}
	}
	media.StopAll(stream)
	return nil, nil, ErrNoMicrophone
}

// onInputBuffer runs on the processor goroutine. Buffers produced while not
// recording are dropped.
func (s *Session) onInputBuffer(samples []float32) {
	s.mu.Lock()
	recording := s.recording
	conn := s.conn
	s.mu.Unlock()
	if !recording {
		return
	}

	pcm := media.EncodePCM16(samples)
	if s.tap != nil {
		if _, err := s.tap.Write(pcm); err != nil {
			slog.Debug("voice: input tap write failed", "err", err)
		}
	}
	if conn == nil {
		return
	}
	if err := conn.Send(newOutboundFrame(pcm)); err != nil {
		slog.Debug("voice: outbound frame dropped", "err", err)
	}
}

// StopRecording releases the microphone. The channel stays open.
func (s *Session) StopRecording() {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return
	}
	proc, stream := s.proc, s.stream
	s.proc, s.stream = nil, nil
	s.recording = false
	if s.status == StatusRecording {
		s.status = StatusConnected
	}
	s.mu.Unlock()

	proc.Disconnect()
	media.StopAll(stream)
	select {
	case <-proc.Done():
	case <-time.After(processorDrainTimeout):
		slog.Warn("voice: microphone reader did not exit")
	}
	slog.Info("voice: recording stopped")
	s.notify()
}

func (s *Session) handleMessage(gen uint64, msg ServerMessage) {
	s.mu.Lock()
	if gen != s.gen || s.output == nil {
		s.mu.Unlock()
		return
	}
	var stale []*Source
	if msg.Interrupted() {
		stale = s.drainSourcesLocked()
	}
	s.mu.Unlock()

	if s.onActivity != nil {
		s.onActivity()
	}
	if msg.Interrupted() {
		stopSources(stale)
		slog.Debug("voice: playback interrupted", "stopped", len(stale))
	}
	for _, payload := range msg.AudioPayloads() {
		buf, err := decodeAudio(payload, OutputSampleRate)
		if err != nil {
			slog.Warn("voice: dropping inbound audio", "err", err)
			continue
		}
		s.schedule(gen, buf)
	}
}

// schedule queues buf back to back with what is already scheduled, or at
// the output clock's now when the queue has run dry.
func (s *Session) schedule(gen uint64, buf AudioBuffer) {
	if buf.Frames() == 0 {
		return
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	start := max(s.nextStart, s.output.CurrentTime())
	src := s.output.NewSource(buf)
	src.OnEnded(func() {
		s.mu.Lock()
		delete(s.sources, src)
		s.mu.Unlock()
	})
	s.sources[src] = struct{}{}
	s.nextStart = start + buf.Duration()
	s.mu.Unlock()

	src.Start(start)
}

// drainSourcesLocked empties the in-flight set and rewinds the schedule to
// now. The caller stops the returned sources after unlocking.
func (s *Session) drainSourcesLocked() []*Source {
	out := make([]*Source, 0, len(s.sources))
	for src := range s.sources {
		out = append(out, src)
	}
	clear(s.sources)
	if s.output != nil {
		s.nextStart = s.output.CurrentTime()
	}
	return out
}

func stopSources(sources []*Source) {
	for _, src := range sources {
		src.Stop()
	}
}

// Reset replaces a stalled or failed channel with a fresh one. The audio
// graphs and an active recording are kept.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.output == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.gen++
	conn := s.conn
	s.conn = nil
	stale := s.drainSourcesLocked()
	s.status = StatusConnecting
	s.err = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	stopSources(stale)
	slog.Info("voice: resetting channel", "stopped_sources", len(stale))
	s.notify()

	token, err := s.fetchToken(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.Connect(ctx)
}

// Close stops recording, closes the channel and both graphs. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	conn := s.conn
	s.conn = nil
	proc, stream := s.proc, s.stream
	s.proc, s.stream = nil, nil
	s.recording = false
	stale := s.drainSourcesLocked()
	input, output := s.input, s.output
	s.status = StatusClosed
	s.mu.Unlock()

	if proc != nil {
		proc.Disconnect()
	}
	media.StopAll(stream)

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	stopSources(stale)
	if input != nil {
		errs = append(errs, input.Close())
	}
	if output != nil {
		errs = append(errs, output.Close())
	}
	slog.Info("voice: session closed")
	s.notify()
	return errors.Join(errs...)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error behind StatusError, a *TokenError or *ChannelError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// NextStartTime is the output clock time the next clip will start at, if
// the queue has not run dry by then.
func (s *Session) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// InFlight counts scheduled or playing sources.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Status:    s.status,
		Recording: s.recording,
		InFlight:  len(s.sources),
		NextStart: s.nextStart.Seconds(),
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Info())
}
