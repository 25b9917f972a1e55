package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TokenSource issues single-use, time-boxed auth tokens for the channel.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPTokenSource POSTs to the token-issuance endpoint with no body.
type HTTPTokenSource struct {
	client *resty.Client
	url    string
}

func NewHTTPTokenSource(url string) *HTTPTokenSource {
	return &HTTPTokenSource{client: resty.New().SetTimeout(15 * time.Second), url: url}
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

func (t *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	if t.url == "" {
		return "", errors.New("token endpoint not configured")
	}
	var out tokenResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Post(t.url)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("request token: status %d: %s", resp.StatusCode(), out.Error)
	}
	if resp.IsError() {
		return "", fmt.Errorf("request token: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.Token == "" {
		return "", errors.New("request token: response has no token")
	}
	return out.Token, nil
}
