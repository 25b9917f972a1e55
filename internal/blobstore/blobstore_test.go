package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/sjawhar/interview-live/internal/config"
)

func TestLocalPutWritesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir)
	key := "u1/c1/s1/m1/1700000000000.wav"

	loc, err := store.Put(context.Background(), key, "audio/wav", []byte("first"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if loc != filepath.Join(dir, "u1", "c1", "s1", "m1", "1700000000000.wav") {
		t.Fatalf("unexpected location %q", loc)
	}

	if _, err := store.Put(context.Background(), key, "audio/wav", []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected overwritten content, got %q", got)
	}

	entries, err := os.ReadDir(filepath.Dir(loc))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLocalPutRejectsTraversal(t *testing.T) {
	store := NewLocal(t.TempDir())
	for _, key := range []string{"../escape.wav", "a/../../escape.wav", ".."} {
		if _, err := store.Put(context.Background(), key, "audio/wav", []byte("x")); err == nil {
			t.Fatalf("expected traversal error for %q", key)
		}
	}
	if _, err := store.Put(context.Background(), "", "audio/wav", nil); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestLocalPutHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal(t.TempDir()).Put(ctx, "k.wav", "audio/wav", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{method: r.Method, path: r.URL.Path, headers: r.Header.Clone(), body: body})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"error":"denied"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestRESTPutUpserts(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	store := NewREST(srv.URL+"/", "recordings", "secret")

	loc, err := store.Put(context.Background(), "u1/c1/s1/m1/42.webm", "video/webm", []byte("payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", req.method)
	}
	if req.path != "/storage/v1/object/recordings/u1/c1/s1/m1/42.webm" {
		t.Fatalf("unexpected path %q", req.path)
	}
	if req.headers.Get("x-upsert") != "true" {
		t.Fatal("expected upsert header")
	}
	if req.headers.Get("Authorization") != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", req.headers.Get("Authorization"))
	}
	if req.headers.Get("Content-Type") != "video/webm" {
		t.Fatalf("unexpected content type %q", req.headers.Get("Content-Type"))
	}
	if string(req.body) != "payload" {
		t.Fatalf("unexpected body %q", req.body)
	}
	if !strings.HasSuffix(loc, req.path) {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestRESTPutReportsStatus(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusForbidden)
	store := NewREST(srv.URL, "recordings", "")

	_, err := store.Put(context.Background(), "k.wav", "audio/wav", []byte("x"))
	if err == nil {
		t.Fatal("expected error for 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestS3PutUsesPathStyleEndpoint(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)

	store, err := NewS3(context.Background(), "recordings", "us-east-1", srv.URL,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")))
	if err != nil {
		t.Fatalf("NewS3 failed: %v", err)
	}

	if _, err := store.Put(context.Background(), "u1/c1/s1/m1/7.wav", "audio/wav", []byte("riff-bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected a single PutObject, got %d requests", len(reqs))
	}
	if reqs[0].method != http.MethodPut || reqs[0].path != "/recordings/u1/c1/s1/m1/7.wav" {
		t.Fatalf("unexpected request %s %s", reqs[0].method, reqs[0].path)
	}
	if reqs[0].headers.Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected content type %q", reqs[0].headers.Get("Content-Type"))
	}
	if !bytes.Contains(reqs[0].body, []byte("riff-bytes")) {
		t.Fatalf("expected payload in body, got %q", reqs[0].body)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Config{RecordingsDir: t.TempDir()}
	cfg.Storage.Backend = config.StorageLocal
	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New(local) failed: %v", err)
	}
	if store.Name() != "local" {
		t.Fatalf("expected local store, got %s", store.Name())
	}

	cfg.Storage.Backend = config.StorageREST
	cfg.Storage.BaseURL = "http://localhost:1"
	cfg.Storage.Bucket = "recordings"
	if store, err = New(context.Background(), cfg); err != nil || store.Name() != "rest" {
		t.Fatalf("expected rest store, got %v, %v", store, err)
	}

	cfg.Storage.Backend = "ftp"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected unknown backend error")
	}

	cfg.Storage.Backend = config.StorageAzure
	cfg.Storage.Bucket = "recordings"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected azblob without connection string to fail")
	}
}
