package voice

import (
	"sync"
	"time"
)

type sourceState int

const (
	sourceIdle sourceState = iota
	sourceScheduled
	sourcePlaying
	sourceEnded
)

// Source is a one-shot playback of a single buffer, like an audio buffer
// source node. It can be started once and fires its ended handler exactly
// once, whether it played out or was stopped.
type Source struct {
	graph *OutputGraph
	buf   AudioBuffer

	mu         sync.Mutex
	state      sourceState
	startAt    time.Duration
	startTimer Timer
	endTimer   Timer
	onEnded    func()
}

func (s *Source) Buffer() AudioBuffer { return s.buf }

func (s *Source) Duration() time.Duration { return s.buf.Duration() }

// StartAt is the graph time the source was scheduled for.
func (s *Source) StartAt() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt
}

func (s *Source) OnEnded(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = f
}

func (s *Source) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sourceEnded
}

// Start schedules playback at graph time at. A time in the past starts
// immediately.
func (s *Source) Start(at time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sourceIdle {
		return
	}
	s.state = sourceScheduled
	s.startAt = at
	delay := max(at-s.graph.clock.Now(), 0)
	s.startTimer = s.graph.clock.AfterFunc(delay, s.begin)
}

func (s *Source) begin() {
	s.mu.Lock()
	if s.state != sourceScheduled {
		s.mu.Unlock()
		return
	}
	s.state = sourcePlaying
	s.endTimer = s.graph.clock.AfterFunc(s.buf.Duration(), s.finish)
	s.mu.Unlock()

	s.graph.gain.deliver(s.buf)
}

func (s *Source) finish() {
	s.mu.Lock()
	if s.state == sourceEnded {
		s.mu.Unlock()
		return
	}
	s.state = sourceEnded
	cb := s.onEnded
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Stop halts the source. The ended handler runs before Stop returns.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.state == sourceEnded {
		s.mu.Unlock()
		return
	}
	wasPlaying := s.state == sourcePlaying
	if s.startTimer != nil {
		s.startTimer.Stop()
	}
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.state = sourceEnded
	cb := s.onEnded
	s.mu.Unlock()

	if wasPlaying {
		s.graph.gain.flush()
	}
	if cb != nil {
		cb()
	}
}
