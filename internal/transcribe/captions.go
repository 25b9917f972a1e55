package transcribe

import (
	"log/slog"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// CaptionSink receives captions as they are produced.
type CaptionSink interface {
	InterimCaption(speaker int, text string, start float64)
	FinalCaption(seg Segment)
}

// Captioner implements the Deepgram live callback interface and turns
// transcript messages into caption segments. Interim results are forwarded
// immediately; final words are buffered until the utterance closes.
type Captioner struct {
	sink   CaptionSink
	buffer *UtteranceBuffer
	now    func() time.Time
}

func NewCaptioner(sink CaptionSink) *Captioner {
	return &Captioner{
		sink:   sink,
		buffer: NewUtteranceBuffer(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ api.LiveMessageCallback = (*Captioner)(nil)

func (c *Captioner) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]

	sentence := strings.TrimSpace(alt.Transcript)
	if sentence == "" {
		return nil
	}

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, Word{
			Speaker:        w.Speaker,
			PunctuatedWord: w.PunctuatedWord,
			Start:          w.Start,
			End:            w.End,
		})
	}
	// Single-microphone captions carry no diarization; attribute to the candidate.
	for i := range words {
		if words[i].Speaker == nil {
			speaker := CandidateSpeaker
			words[i].Speaker = &speaker
		}
	}

	if !mr.IsFinal {
		if c.sink != nil {
			speaker, start := CandidateSpeaker, 0.0
			if len(words) > 0 {
				speaker, start = *words[0].Speaker, words[0].Start
			}
			c.sink.InterimCaption(speaker, sentence, start)
		}
		return nil
	}

	c.buffer.AddWords(words)
	if mr.SpeechFinal {
		c.flush()
	}
	return nil
}

func (c *Captioner) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.flush()
	return nil
}

// Flush emits any buffered words; called when the caption stream stops.
func (c *Captioner) Flush() {
	c.flush()
}

func (c *Captioner) flush() {
	words := c.buffer.Flush()
	if len(words) == 0 || c.sink == nil {
		return
	}
	for _, seg := range GroupWordsBySpeaker(words, c.now()) {
		c.sink.FinalCaption(seg)
	}
}

func (c *Captioner) Open(*api.OpenResponse) error {
	slog.Info("transcribe: connected to deepgram")
	return nil
}

func (c *Captioner) Metadata(*api.MetadataResponse) error { return nil }

func (c *Captioner) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *Captioner) Close(*api.CloseResponse) error {
	slog.Info("transcribe: disconnected from deepgram")
	return nil
}

func (c *Captioner) Error(er *api.ErrorResponse) error {
	slog.Warn("transcribe: deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (c *Captioner) UnhandledEvent([]byte) error { return nil }
