// Package voicetest provides deterministic fakes for voice sessions: a manual
// clock, a scriptable dialer, a recording speaker and a token source.
package voicetest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
	"github.com/sjawhar/interview-live/internal/voice"
)

// ErrFake is a convenient failure for scripted errors.
var ErrFake = errors.New("voicetest: scripted failure")

// Clock only moves when Advance is called. Timers fire on the calling
// goroutine in deadline order.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*timer
}

type timer struct {
	clock   *Clock
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func NewClock(start time.Duration) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) voice.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, at: c.now + max(d, 0), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due,
// including timers scheduled by the callbacks themselves.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *timer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at > target {
				continue
			}
			if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = max(c.now, next.at)
		c.mu.Unlock()
		next.f()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type SpeakerEvent struct {
	Kind   string
	At     time.Duration
	Frames int
}

// Speaker records what the output graph rendered and when.
type Speaker struct {
	clock *Clock

	mu     sync.Mutex
	events []SpeakerEvent
	closed bool
}

func NewSpeaker(clock *Clock) *Speaker {
	return &Speaker{clock: clock}
}

func (s *Speaker) record(kind string, frames int) {
	var at time.Duration
	if s.clock != nil {
		at = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, SpeakerEvent{Kind: kind, At: at, Frames: frames})
}

func (s *Speaker) Play(buf voice.AudioBuffer) { s.record("play", buf.Frames()) }
func (s *Speaker) Flush()                     { s.record("flush", 0) }

func (s *Speaker) Close() error {
	s.record("close", 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Speaker) Events() []SpeakerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpeakerEvent(nil), s.events...)
}

// Plays returns only the play events.
func (s *Speaker) Plays() []SpeakerEvent {
	var out []SpeakerEvent
	for _, e := range s.Events() {
		if e.Kind == "play" {
			out = append(out, e)
		}
	}
	return out
}

func (s *Speaker) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Tokens hands out numbered tokens, or fails when told to.
type Tokens struct {
	mu     sync.Mutex
	issued int
	err    error
}

func (t *Tokens) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Tokens) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.issued++
	return fmt.Sprintf("auth_tokens/fake-%d", t.issued), nil
}

func (t *Tokens) Issued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued
}

// Dialer opens in-memory connections and fires OnOpen before returning.
type Dialer struct {
	mu        sync.Mutex
	err       error
	dials     []voice.ConnectConfig
	conns     []*Conn
	dropCode  int
	dropWhy   string
	dropArmed bool
}

func (d *Dialer) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// DropNext makes the next dial close remotely with code after OnOpen but
// before Dial returns, the way a server rejects an expired token.
func (d *Dialer) DropNext(code int, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropCode, d.dropWhy, d.dropArmed = code, reason, true
}

func (d *Dialer) Dial(ctx context.Context, cfg voice.ConnectConfig, cb voice.Callbacks) (voice.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials = append(d.dials, cfg)
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	c := &Conn{cb: cb}
	d.conns = append(d.conns, c)
	drop, code, reason := d.dropArmed, d.dropCode, d.dropWhy
	d.dropArmed = false
	d.mu.Unlock()

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	if drop {
		c.CloseRemote(code, reason)
	}
	return c, nil
}

func (d *Dialer) Dials() []voice.ConnectConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]voice.ConnectConfig(nil), d.dials...)
}

func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn records outbound frames and lets tests drive the callbacks.
type Conn struct {
	cb voice.Callbacks

	mu     sync.Mutex
	sent   []voice.OutboundFrame
	closed bool
}

func (c *Conn) Send(frame voice.OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return voice.ErrNotConnected
	}
	c.sent = append(c.sent, frame)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Sent() []voice.OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]voice.OutboundFrame(nil), c.sent...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Deliver(msg voice.ServerMessage) {
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func (c *Conn) DeliverAudio(d time.Duration) {
	c.Deliver(AudioMessage(d))
}

func (c *Conn) Interrupt() {
	c.Deliver(voice.ServerMessage{ServerContent: &voice.ServerContent{Interrupted: true}})
}

func (c *Conn) CloseRemote(code int, reason string) {
	if c.cb.OnClose != nil {
		c.cb.OnClose(code, reason)
	}
}

func (c *Conn) Fail(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

// AudioMessage is a model turn carrying d of 24 kHz PCM16 silence.
func AudioMessage(d time.Duration) voice.ServerMessage {
	frames := int(d * voice.OutputSampleRate / time.Second)
	pcm := media.EncodePCM16(make([]float32, frames))
	return voice.ServerMessage{ServerContent: &voice.ServerContent{
		ModelTurn: &voice.Turn{Parts: []voice.Part{{
			InlineData: &voice.InlineData{
				Data:     base64.StdEncoding.EncodeToString(pcm),
				MIMEType: "audio/pcm;rate=24000",
			},
		}}},
	}}
}
