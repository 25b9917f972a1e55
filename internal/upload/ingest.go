package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Registrar is the transcoding ingest sink: it registers a metadata row and
// hands out a one-time URL the blob is PUT to.
type Registrar interface {
	CreateUploadURL(ctx context.Context, recordID, table string) (string, error)
	PutBlob(ctx context.Context, url, contentType string, data []byte) error
}

// HTTPRegistrar talks to the upload-URL issuance endpoint over HTTP.
type HTTPRegistrar struct {
	api *resty.Client
	put *resty.Client
	url string
}

func NewHTTPRegistrar(url, token string) *HTTPRegistrar {
	api := resty.New().SetTimeout(30 * time.Second)
	if token != "" {
		api.SetAuthToken(token)
	}
	return &HTTPRegistrar{
		api: api,
		// One-time URLs carry their own authorization.
		put: resty.New().SetTimeout(10 * time.Minute),
		url: url,
	}
}

type uploadURLRequest struct {
	RecordID         string `json:"recordId"`
	DestinationTable string `json:"destinationTable"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Error     string `json:"error"`
}

func (r *HTTPRegistrar) CreateUploadURL(ctx context.Context, recordID, table string) (string, error) {
	var out uploadURLResponse
	resp, err := r.api.R().
		SetContext(ctx).
		SetBody(uploadURLRequest{RecordID: recordID, DestinationTable: table}).
		SetResult(&out).
		SetError(&out).
		Post(r.url)
	if err != nil {
		return "", fmt.Errorf("request upload url: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("request upload url: status %d: %s", resp.StatusCode(), out.Error)
	}
	if resp.IsError() {
		return "", fmt.Errorf("request upload url: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.UploadURL == "" {
		return "", errors.New("request upload url: response has no uploadUrl")
	}
	return out.UploadURL, nil
}

func (r *HTTPRegistrar) PutBlob(ctx context.Context, url, contentType string, data []byte) error {
	resp, err := r.put.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(url)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("put blob: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
