package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var (
	ErrLiveClosed    = errors.New("live captions closed")
	ErrLiveConnect   = errors.New("deepgram connect failed")
	ErrMissingAPIKey = errors.New("deepgram api key is required")
)

var initDeepgramOnce sync.Once

// LiveConfig describes the PCM stream sent to Deepgram.
type LiveConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

type liveConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Stop()
}

// Live streams linear16 mono PCM to Deepgram. It is an io.Writer so it can
// sit on the voice session's microphone tap.
type Live struct {
	mu     sync.Mutex
	conn   liveConn
	closed bool
}

func StartLive(ctx context.Context, cfg LiveConfig, cb api.LiveMessageCallback) (*Live, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	initDeepgramOnce.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		Encoding:       "linear16",
		SampleRate:     cfg.SampleRate,
		Channels:       1,
	}

	dg, err := client.NewWSUsingCallback(ctx, cfg.APIKey, cOptions, tOptions, cb)
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	return startLive(dg)
}

func startLive(conn liveConn) (*Live, error) {
	if ok := conn.Connect(); !ok {
		return nil, ErrLiveConnect
	}
	return &Live{conn: conn}, nil
}

func (l *Live) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrLiveClosed
	}
	return l.conn.Write(p)
}

func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.conn.Stop()
	return nil
}
