package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// REST stores objects through a Supabase-style storage HTTP API:
// PUT {base}/storage/v1/object/{bucket}/{key} with upsert enabled.
type REST struct {
	client *resty.Client
	bucket string
}

func NewREST(baseURL, bucket, token string) *REST {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(2 * time.Minute)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &REST{client: client, bucket: bucket}
}

func (r *REST) Name() string { return "rest" }

func objectPath(bucket, key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/storage/v1/object/" + url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

func (r *REST) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	path := objectPath(r.bucket, key)
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(data).
		Put(path)
	if err != nil {
		return "", fmt.Errorf("rest upload %s: %w", key, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("rest upload %s: status %d: %s", key, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return r.client.BaseURL + path, nil
}
