package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// GenAIDialer opens the channel through the Gemini Live API client. Ephemeral
// tokens are only accepted by the v1alpha surface.
type GenAIDialer struct {
	// BaseURL overrides the API host. A ws:// or wss:// scheme is kept as is.
	BaseURL string
}

func (d *GenAIDialer) Dial(ctx context.Context, cfg ConnectConfig, cb Callbacks) (Conn, error) {
	if cfg.Token == "" {
		return nil, errors.New("dial live api: empty token")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Token,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1alpha",
			BaseURL:    d.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create live client: %w", err)
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		connectCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	session, err := client.Live.Connect(ctx, cfg.Model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("dial live api: %w", err)
	}

	c := &genaiConn{session: session, cb: &closeCallback{cb: cb}, onMessage: cb.OnMessage}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go c.readLoop()
	return c, nil
}

type genaiConn struct {
	session   *genai.Session
	cb        *closeCallback
	onMessage func(ServerMessage)

	mu      sync.Mutex
	closing bool
}

func (c *genaiConn) Send(frame OutboundFrame) error {
	raw, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("decode outbound frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrNotConnected
	}
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: raw, MIMEType: frame.MIMEType},
	})
}

func (c *genaiConn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	return c.session.Close()
}

func (c *genaiConn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *genaiConn) readLoop() {
	for {
		msg, err := c.session.Receive()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				c.cb.closed(ce.Code, ce.Text)
			case c.isClosing():
				c.cb.closed(NormalClosure, "closed by client")
			default:
				c.cb.failed(err)
			}
			return
		}
		if c.onMessage != nil && msg != nil {
			c.onMessage(fromLiveMessage(msg))
		}
	}
}

func fromLiveMessage(msg *genai.LiveServerMessage) ServerMessage {
	var out ServerMessage
	if msg.SetupComplete != nil {
		out.SetupComplete = &struct{}{}
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	out.ServerContent = &ServerContent{Interrupted: sc.Interrupted, TurnComplete: sc.TurnComplete}
	if sc.ModelTurn == nil {
		return out
	}
	turn := &Turn{}
	for _, p := range sc.ModelTurn.Parts {
		if p == nil {
			continue
		}
		part := Part{Text: p.Text}
		if p.InlineData != nil {
			part.InlineData = &InlineData{
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
				MIMEType: p.InlineData.MIMEType,
			}
		}
		turn.Parts = append(turn.Parts, part)
	}
	out.ServerContent.ModelTurn = turn
	return out
}
