package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/sjawhar/interview-live/internal/config"
)

// Callbacks are the channel lifecycle hooks. They may run on any goroutine.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(ServerMessage)
	OnError   func(error)
	OnClose   func(code int, reason string)
}

type ConnectConfig struct {
	Token    string
	Model    string
	Voice    string
	Endpoint string
}

// Dialer opens the bidirectional streaming channel.
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectConfig, cb Callbacks) (Conn, error)
}

// Conn is an open channel. Send and Close are safe for concurrent use.
type Conn interface {
	Send(frame OutboundFrame) error
	Close() error
}

// NewDialer picks the dialer for the configured transport.
func NewDialer(transport string) (Dialer, error) {
	switch transport {
	case config.TransportGenAI, "":
		return &GenAIDialer{}, nil
	case config.TransportWebSocket:
		return &WebSocketDialer{}, nil
	default:
		return nil, fmt.Errorf("unknown voice transport %q", transport)
	}
}

// closeCallback reports the end of a channel exactly once.
type closeCallback struct {
	cb   Callbacks
	once sync.Once
}

func (c *closeCallback) closed(code int, reason string) {
	c.once.Do(func() {
		if c.cb.OnClose != nil {
			c.cb.OnClose(code, reason)
		}
	})
}

func (c *closeCallback) failed(err error) {
	c.once.Do(func() {
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
	})
}
