package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	BufferFrames     = 4096
)

type GraphState string

const (
	GraphSuspended GraphState = "suspended"
	GraphRunning   GraphState = "running"
	GraphClosed    GraphState = "closed"
)

var ErrGraphClosed = errors.New("audio graph closed")

// AudioBuffer holds de-interleaved float samples, one slice per channel.
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewAudioBuffer de-interleaves samples into an AudioBuffer.
func NewAudioBuffer(samples []float32, channels, rate int) AudioBuffer {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	buf := AudioBuffer{SampleRate: rate, Channels: make([][]float32, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = samples[i*channels+c]
		}
	}
	return buf
}

func (b AudioBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Mono averages all channels into one.
func (b AudioBuffer) Mono() []float32 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	for _, ch := range b.Channels {
		for i, s := range ch {
			out[i] += s
		}
	}
	n := float32(len(b.Channels))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Speaker renders scheduled buffers. Flush drops anything queued but not
// yet rendered.
type Speaker interface {
	Play(buf AudioBuffer)
	Flush()
	Close() error
}

// GainNode is the single tap point of a graph.
type GainNode struct {
	mu   sync.Mutex
	gain float32
	out  Speaker
}

func newGainNode(out Speaker) *GainNode {
	return &GainNode{gain: 1, out: out}
}

func (g *GainNode) SetGain(v float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gain = v
}

func (g *GainNode) Gain() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *GainNode) apply(samples []float32) []float32 {
	gain := g.Gain()
	if gain == 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}

func (g *GainNode) deliver(buf AudioBuffer) {
	if g.out == nil {
		return
	}
	if g.Gain() != 1 {
		scaled := AudioBuffer{SampleRate: buf.SampleRate, Channels: make([][]float32, len(buf.Channels))}
		for c, ch := range buf.Channels {
			scaled.Channels[c] = g.apply(ch)
		}
		buf = scaled
	}
	g.out.Play(buf)
}

func (g *GainNode) flush() {
	if g.out != nil {
		g.out.Flush()
	}
}

type graphBase struct {
	rate int

	mu    sync.Mutex
	state GraphState
}

func (g *graphBase) SampleRate() int { return g.rate }

func (g *graphBase) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resume moves a suspended graph to running.
func (g *graphBase) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GraphClosed {
		return ErrGraphClosed
	}
	g.state = GraphRunning
	return nil
}

func (g *graphBase) markClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GraphClosed {
		return false
	}
	g.state = GraphClosed
	return true
}

// OutputGraph plays inbound audio through its gain node. Its clock is the
// reference for playback scheduling.
type OutputGraph struct {
	graphBase
	clock   Clock
	gain    *GainNode
	speaker Speaker
}

func NewOutputGraph(rate int, clock Clock, speaker Speaker) *OutputGraph {
	if clock == nil {
		clock = NewWallClock()
	}
	return &OutputGraph{
		graphBase: graphBase{rate: rate, state: GraphSuspended},
		clock:     clock,
		gain:      newGainNode(speaker),
		speaker:   speaker,
	}
}

func (g *OutputGraph) CurrentTime() time.Duration { return g.clock.Now() }

func (g *OutputGraph) Gain() *GainNode { return g.gain }

// NewSource creates a one-shot source connected to the gain node.
func (g *OutputGraph) NewSource(buf AudioBuffer) *Source {
	return &Source{graph: g, buf: buf}
}

func (g *OutputGraph) Close() error {
	if !g.markClosed() {
		return nil
	}
	g.gain.flush()
	if g.speaker == nil {
		return nil
	}
	if err := g.speaker.Close(); err != nil {
		return fmt.Errorf("close speaker: %w", err)
	}
	return nil
}

// InputGraph routes a microphone source through its gain node into a
// fixed-size buffer processor.
type InputGraph struct {
	graphBase
	gain *GainNode
}

func NewInputGraph(rate int) *InputGraph {
	return &InputGraph{
		graphBase: graphBase{rate: rate, state: GraphSuspended},
		gain:      newGainNode(nil),
	}
}

func (g *InputGraph) Gain() *GainNode { return g.gain }

// Connect starts a processor that reads src, resamples it to the graph
// rate, and calls onBuffer with exactly frames mono samples at a time.
func (g *InputGraph) Connect(src media.PCMSource, frames int, onBuffer func([]float32)) (*Processor, error) {
	if g.State() == GraphClosed {
		return nil, ErrGraphClosed
	}
	if frames <= 0 {
		frames = BufferFrames
	}
	p := &Processor{
		src:      src,
		frames:   frames,
		rate:     g.rate,
		gain:     g.gain,
		onBuffer: onBuffer,
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (g *InputGraph) Close() error {
	g.markClosed()
	return nil
}

// Processor re-chunks a PCM source into fixed-size buffers.
type Processor struct {
	src      media.PCMSource
	frames   int
	rate     int
	gain     *GainNode
	onBuffer func([]float32)

	mu           sync.Mutex
	disconnected bool
	done         chan struct{}
}

func (p *Processor) run() {
	defer close(p.done)
	channels := max(p.src.Channels(), 1)
	srcRate := p.src.SampleRate()
	var pending []float32
	for {
		samples, err := p.src.ReadFrames()
		if err != nil {
			if !errors.Is(err, media.ErrTrackEnded) {
				slog.Warn("voice: microphone read failed", "err", err)
			}
			return
		}
		if p.isDisconnected() {
			return
		}
		mono := NewAudioBuffer(samples, channels, srcRate).Mono()
		if srcRate > 0 && srcRate != p.rate {
			mono = resampleLinear(mono, srcRate, p.rate)
		}
		pending = append(pending, p.gain.apply(mono)...)
		for len(pending) >= p.frames {
			buf := make([]float32, p.frames)
			copy(buf, pending)
			pending = pending[p.frames:]
			if p.isDisconnected() {
				return
			}
			p.onBuffer(buf)
		}
	}
}

func (p *Processor) isDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// Disconnect stops buffer callbacks. The read loop exits once the source's
// track is stopped.
func (p *Processor) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

// Done is closed when the read loop has exited.
func (p *Processor) Done() <-chan struct{} { return p.done }

func resampleLinear(in []float32, from, to int) []float32 {
	if len(in) == 0 || from == to {
		return in
	}
	n := len(in) * to / from
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
