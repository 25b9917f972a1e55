package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts a finished audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader, source string) (string, error)
}

var ErrEmptyAudio = errors.New("audio file is empty")

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// Whisper transcribes clips through the OpenAI audio API.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(apiKey, model string, opts ...Option) *Whisper {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if model == "" {
		model = openai.Whisper1
	}

	config := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		config.BaseURL = o.baseURL
	}
	return &Whisper{client: openai.NewClientWithConfig(config), model: model}
}

// Transcribe sends the clip as-is. source names where the clip came from
// (for example "answer" or "mic-check") and is passed as the prompt hint.
func (w *Whisper) Transcribe(ctx context.Context, filename string, audio io.Reader, source string) (string, error) {
	if audio == nil {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.webm"
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   audio,
		Prompt:   sourcePrompt(source),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func sourcePrompt(source string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "":
		return ""
	case "answer", "interview":
		return "A job candidate answering an interview question."
	default:
		return ""
	}
}
