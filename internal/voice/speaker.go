package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const speakerFrames = 1024

// PortAudioSpeaker writes scheduled buffers to the default output device.
// PortAudio must already be initialized.
type PortAudioSpeaker struct {
	stream *portaudio.Stream
	buf    []float32

	mu     sync.Mutex
	queue  [][]float32
	gen    uint64
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func NewPortAudioSpeaker(rate int) (*PortAudioSpeaker, error) {
	info, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("default output device: %w", err)
	}
	params := portaudio.HighLatencyParameters(nil, info)
	params.Output.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = speakerFrames

	buf := make([]float32, speakerFrames)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open audio output %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start audio output: %w", err)
	}

	s := &PortAudioSpeaker{
		stream: stream,
		buf:    buf,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *PortAudioSpeaker) Play(buf AudioBuffer) {
	samples := buf.Mono()
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, samples)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *PortAudioSpeaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.gen++
}

func (s *PortAudioSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	close(s.wake)
	s.mu.Unlock()

	<-s.done
	return errors.Join(s.stream.Stop(), s.stream.Close())
}

func (s *PortAudioSpeaker) next() ([]float32, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, s.gen, false
	}
	out := s.queue[0]
	s.queue = s.queue[1:]
	return out, s.gen, true
}

func (s *PortAudioSpeaker) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.gen == gen
}

func (s *PortAudioSpeaker) run() {
	defer close(s.done)
	for range s.wake {
		for {
			samples, gen, ok := s.next()
			if !ok {
				break
			}
			for off := 0; off < len(samples); off += len(s.buf) {
				if !s.current(gen) {
					break
				}
				n := copy(s.buf, samples[off:])
				clear(s.buf[n:])
				if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
					slog.Warn("voice: speaker write failed", "err", err)
				}
			}
		}
	}
}

// DiscardSpeaker drops audio. It stands in when no output device exists.
type DiscardSpeaker struct{}

func (DiscardSpeaker) Play(AudioBuffer) {}
func (DiscardSpeaker) Flush()           {}
func (DiscardSpeaker) Close() error     { return nil }
