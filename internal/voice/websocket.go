package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer speaks the BidiGenerateContent JSON frames directly.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model            string           `json:"model"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		Audio OutboundFrame `json:"audio"`
	} `json:"realtimeInput"`
}

func (d *WebSocketDialer) Dial(ctx context.Context, cfg ConnectConfig, cb Callbacks) (Conn, error) {
	if cfg.Token == "" {
		return nil, errors.New("dial voice channel: empty token")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("dial voice channel: invalid endpoint %q", cfg.Endpoint)
	}
	q := u.Query()
	q.Set("access_token", cfg.Token)
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial voice channel: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial voice channel: %w", err)
	}

	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{Setup: setup{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if err := ws.WriteJSON(msg); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	c := &wsConn{ws: ws, cb: &closeCallback{cb: cb}, onMessage: cb.OnMessage}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	cb        *closeCallback
	onMessage func(ServerMessage)

	mu      sync.Mutex
	closing bool
}

func (c *wsConn) Send(frame OutboundFrame) error {
	var msg realtimeInputMessage
	msg.RealtimeInput.Audio = frame

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrNotConnected
	}
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
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
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("voice: unparseable server message", "err", err)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}
