package voice

import (
	"encoding/base64"
	"fmt"

	"github.com/sjawhar/interview-live/internal/media"
)

// InputMIMEType tags every outbound microphone frame.
const InputMIMEType = "audio/pcm;rate=16000"

// OutboundFrame is one base64 PCM16 chunk of microphone audio.
type OutboundFrame struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

func newOutboundFrame(pcm []byte) OutboundFrame {
	return OutboundFrame{Data: base64.StdEncoding.EncodeToString(pcm), MIMEType: InputMIMEType}
}

// ServerMessage is the subset of an inbound Live API message we act on.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

type ServerContent struct {
	ModelTurn    *Turn `json:"modelTurn,omitempty"`
	Interrupted  bool  `json:"interrupted,omitempty"`
	TurnComplete bool  `json:"turnComplete,omitempty"`
}

type Turn struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 audio, exactly as it arrives on the wire.
type InlineData struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

func (m ServerMessage) Interrupted() bool {
	return m.ServerContent != nil && m.ServerContent.Interrupted
}

// AudioPayloads returns the base64 payloads of every part carrying inline data.
func (m ServerMessage) AudioPayloads() []string {
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var out []string
	for _, p := range m.ServerContent.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, p.InlineData.Data)
		}
	}
	return out
}

// decodeAudio turns a base64 PCM16 payload into a mono buffer at rate.
func decodeAudio(payload string, rate int) (AudioBuffer, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return AudioBuffer{}, fmt.Errorf("decode audio payload: %w", err)
	}
	samples, err := media.DecodePCM16(raw)
	if err != nil {
		return AudioBuffer{}, err
	}
	return NewAudioBuffer(samples, 1, rate), nil
}
