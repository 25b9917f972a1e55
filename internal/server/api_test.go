package server

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/device"
	"github.com/sjawhar/interview-live/internal/interview"
	"github.com/sjawhar/interview-live/internal/media"
	"github.com/sjawhar/interview-live/internal/storage"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

type devicesStub struct {
	initialized bool
	devices     []media.Device
	selection   device.Selection
	err         error
	selectErr   error
}

func (d *devicesStub) Initialize(ctx context.Context) device.Selection {
	if d.err == nil {
		d.initialized = true
		d.selection = device.Selection{Audio: "mic-1"}
	}
	return d.selection
}

func (d *devicesStub) Refresh(ctx context.Context) ([]media.Device, error) { return d.devices, d.err }
func (d *devicesStub) Devices() []media.Device                             { return d.devices }
func (d *devicesStub) Selection() device.Selection                         { return d.selection }
func (d *devicesStub) Initialized() bool                                   { return d.initialized }
func (d *devicesStub) Err() error                                          { return d.err }

func (d *devicesStub) SelectAudio(ctx context.Context, id string) error {
	if d.selectErr != nil {
		return d.selectErr
	}
	d.selection.Audio = id
	return nil
}

func (d *devicesStub) SelectVideo(ctx context.Context, id string) error {
	if d.selectErr != nil {
		return d.selectErr
	}
	d.selection.Video = id
	return nil
}

type interviewStub struct {
	mu        sync.Mutex
	begun     *upload.Metadata
	startReq  []string
	startErr  error
	endErr    error
	stopCalls int
	voice     interview.Voice
}

func (s *interviewStub) Begin(meta upload.Metadata) (interview.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = &meta
	return interview.Attempt{ID: "20260301100000", SessionID: meta.SessionID}, nil
}

func (s *interviewStub) StartAnswer(ctx context.Context, messageID string, audio, video bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startReq = append(s.startReq, fmt.Sprintf("%s:%t:%t", messageID, audio, video))
	return s.startErr
}

func (s *interviewStub) StopAnswer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *interviewStub) CancelAnswer(ctx context.Context) error { return nil }
func (s *interviewStub) End(ctx context.Context) error          { return s.endErr }
func (s *interviewStub) Snapshot() interview.Snapshot           { return interview.Snapshot{CanEnd: true} }
func (s *interviewStub) Voice() interview.Voice                 { return s.voice }

type voiceStub struct {
	status     voice.Status
	connectErr error
	calls      []string
}

func (v *voiceStub) Init(ctx context.Context) error {
	v.calls = append(v.calls, "init")
	v.status = voice.StatusIdle
	return nil
}

func (v *voiceStub) Connect(ctx context.Context) error {
	v.calls = append(v.calls, "connect")
	if v.connectErr != nil {
		return v.connectErr
	}
	v.status = voice.StatusConnected
	return nil
}

func (v *voiceStub) StartRecording(ctx context.Context) error {
	v.calls = append(v.calls, "start")
	return nil
}

func (v *voiceStub) StopRecording()                  { v.calls = append(v.calls, "stop") }
func (v *voiceStub) Reset(ctx context.Context) error { v.calls = append(v.calls, "reset"); return nil }
func (v *voiceStub) Close() error                    { v.calls = append(v.calls, "close"); return nil }
func (v *voiceStub) Status() voice.Status            { return v.status }
func (v *voiceStub) Info() voice.Info                { return voice.Info{Status: v.status} }

type uploadsStub struct {
	pending []upload.PendingUpload
}

func (u uploadsStub) PendingUploads() []upload.PendingUpload { return u.pending }
func (u uploadsStub) CanEndInterview() bool                  { return len(u.pending) == 0 }

type historyStub struct {
	uploads []storage.Upload
	limit   int
}

func (h *historyStub) ListUploads(limit int) ([]storage.Upload, error) {
	h.limit = limit
	return h.uploads, nil
}

func (h *historyStub) FailedUploads() ([]storage.Upload, error) {
	var failed []storage.Upload
	for _, u := range h.uploads {
		if u.DurableStatus == storage.SinkFailed || u.IngestStatus == storage.SinkFailed {
			failed = append(failed, u)
		}
	}
	return failed, nil
}

func (h *historyStub) GetUpload(id string) (storage.Upload, error) {
	for _, u := range h.uploads {
		if u.ID == id {
			return u, nil
		}
	}
	return storage.Upload{}, fmt.Errorf("query upload %s: %w", id, sql.ErrNoRows)
}

type transcriberStub struct {
	gotName   string
	gotSource string
	gotBody   string
}

func (t *transcriberStub) Transcribe(ctx context.Context, filename string, audio io.Reader, source string) (string, error) {
	b, _ := io.ReadAll(audio)
	t.gotName, t.gotSource, t.gotBody = filename, source, string(b)
	return "hello there", nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := Handler(NewHub(), Services{
		Warnings: func() []string { return []string{"Voice token endpoint not configured"} },
		Uploads:  uploadsStub{},
	})

	rr := do(t, h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Voice token endpoint") || !strings.Contains(body, `"canEnd":true`) {
		t.Fatalf("unexpected status body %s", body)
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := Handler(NewHub(), Services{})

	rr := do(t, h, http.MethodGet, "/api/status", "")
	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array, got %s", rr.Body.String())
	}
}

func TestAPIDevicesInit(t *testing.T) {
	d := &devicesStub{devices: []media.Device{{ID: "mic-1", Label: "Mic", Kind: media.KindAudioInput}}}
	h := Handler(NewHub(), Services{Devices: d})

	rr := do(t, h, http.MethodPost, "/api/devices/init", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"audio":"mic-1"`) || !strings.Contains(body, `"video":false`) {
		t.Fatalf("expected selection in body, got %s", body)
	}
}

func TestAPIDevicesInitPermissionDenied(t *testing.T) {
	d := &devicesStub{err: device.ErrPermissionDenied}
	h := Handler(NewHub(), Services{Devices: d})

	rr := do(t, h, http.MethodPost, "/api/devices/init", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAPISelectDevice(t *testing.T) {
	d := &devicesStub{initialized: true}
	h := Handler(NewHub(), Services{Devices: d})

	rr := do(t, h, http.MethodPut, "/api/devices/video", `{"id":"cam-2"}`)
	if rr.Code != http.StatusOK || d.selection.Video != "cam-2" {
		t.Fatalf("expected camera selected, got %d selection=%+v", rr.Code, d.selection)
	}

	if rr := do(t, h, http.MethodPut, "/api/devices/speaker", `{"id":"x"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown kind, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPut, "/api/devices/audio", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rr.Code)
	}

	d.selectErr = fmt.Errorf("%w: audioinput nope", device.ErrUnknownDevice)
	if rr := do(t, h, http.MethodPut, "/api/devices/audio", `{"id":"nope"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", rr.Code)
	}
}

func TestAPIRecordingStartDefaultsToBothChannels(t *testing.T) {
	iv := &interviewStub{}
	h := Handler(NewHub(), Services{Interview: iv})

	rr := do(t, h, http.MethodPost, "/api/recording/start", `{"messageId":"m1"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/recording/start", `{"messageId":"m2","video":false}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	want := []string{"m1:true:true", "m2:true:false"}
	if strings.Join(iv.startReq, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, iv.startReq)
	}
}

func TestAPIRecordingStartErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{interview.ErrNoMessage, http.StatusBadRequest},
		{interview.ErrNoAttempt, http.StatusConflict},
		{fmt.Errorf("start answer: %w", capture.ErrAlreadyRecording), http.StatusConflict},
		{fmt.Errorf("start answer: %w: %w", capture.ErrNoChannels, media.ErrPermissionDenied), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		iv := &interviewStub{startErr: tc.err}
		h := Handler(NewHub(), Services{Interview: iv})

		rr := do(t, h, http.MethodPost, "/api/recording/start", `{"messageId":"m1"}`)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}

func TestAPIRecordingStartInvalidJSON(t *testing.T) {
	iv := &interviewStub{}
	h := Handler(NewHub(), Services{Interview: iv})

	rr := do(t, h, http.MethodPost, "/api/recording/start", `{invalid json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(iv.startReq) != 0 {
		t.Fatal("start should not be called for invalid JSON")
	}
}

func TestAPIInterviewBeginAndEnd(t *testing.T) {
	iv := &interviewStub{}
	h := Handler(NewHub(), Services{Interview: iv})

	rr := do(t, h, http.MethodPost, "/api/interview/begin", `{"userId":"u1","coachId":"c1","sessionId":"s1"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "20260301100000") {
		t.Fatalf("unexpected begin response %d %s", rr.Code, rr.Body.String())
	}
	if iv.begun == nil || iv.begun.CoachID != "c1" {
		t.Fatalf("expected metadata to reach the controller, got %+v", iv.begun)
	}

	iv.endErr = fmt.Errorf("%w: 1 in flight", interview.ErrUploadsPending)
	if rr := do(t, h, http.MethodPost, "/api/interview/end", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while uploads pending, got %d", rr.Code)
	}

	iv.endErr = fmt.Errorf("%w: recording", interview.ErrAnswerInProgress)
	if rr := do(t, h, http.MethodPost, "/api/interview/end", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while an answer is recording, got %d", rr.Code)
	}

	iv.endErr = nil
	if rr := do(t, h, http.MethodPost, "/api/interview/end", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestAPIUploadsPendingAndHistory(t *testing.T) {
	hist := &historyStub{uploads: []storage.Upload{
		{ID: "u1", DurableStatus: storage.SinkSucceeded, IngestStatus: storage.SinkSucceeded},
		{ID: "u2", DurableStatus: storage.SinkSucceeded, IngestStatus: storage.SinkFailed},
	}}
	h := Handler(NewHub(), Services{
		Uploads: uploadsStub{pending: []upload.PendingUpload{{ID: "p1"}}},
		History: hist,
	})

	rr := do(t, h, http.MethodGet, "/api/uploads", "")
	if !strings.Contains(rr.Body.String(), `"canEnd":false`) || !strings.Contains(rr.Body.String(), "p1") {
		t.Fatalf("unexpected pending body %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/uploads/history?limit=5", "")
	if rr.Code != http.StatusOK || hist.limit != 5 {
		t.Fatalf("expected limit 5, got %d (status %d)", hist.limit, rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/api/uploads/history?failed=true", "")
	if strings.Contains(rr.Body.String(), `"u1"`) || !strings.Contains(rr.Body.String(), `"u2"`) {
		t.Fatalf("expected only failed uploads, got %s", rr.Body.String())
	}

	if rr := do(t, h, http.MethodGet, "/api/uploads/history?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/uploads/history/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown upload, got %d", rr.Code)
	}
}

func TestAPIVoiceActions(t *testing.T) {
	v := &voiceStub{status: voice.StatusIdle}
	h := Handler(NewHub(), Services{Interview: &interviewStub{voice: v}})

	for _, action := range []string{"init", "connect", "start", "stop", "reset", "close"} {
		rr := do(t, h, http.MethodPost, "/api/voice/"+action, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%s", action, rr.Code, rr.Body.String())
		}
	}
	if got := strings.Join(v.calls, ","); got != "init,connect,start,stop,reset,close" {
		t.Fatalf("unexpected call order %s", got)
	}

	if rr := do(t, h, http.MethodPost, "/api/voice/dance", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rr.Code)
	}
}

func TestAPIVoiceErrors(t *testing.T) {
	v := &voiceStub{connectErr: voice.ErrNotInitialized}
	h := Handler(NewHub(), Services{Interview: &interviewStub{voice: v}})

	if rr := do(t, h, http.MethodPost, "/api/voice/connect", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before init, got %d", rr.Code)
	}

	v.connectErr = &voice.ChannelError{Reason: "dial failed"}
	if rr := do(t, h, http.MethodPost, "/api/voice/connect", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for channel failure, got %d", rr.Code)
	}

	none := Handler(NewHub(), Services{Interview: &interviewStub{}})
	if rr := do(t, none, http.MethodGet, "/api/voice", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without voice, got %d", rr.Code)
	}
}

func TestAPITranscribe(t *testing.T) {
	tr := &transcriberStub{}
	h := Handler(NewHub(), Services{Transcriber: tr})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audioFile", "answer.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("webm-bytes"))
	_ = mw.WriteField("source", "interview")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"transcription":"hello there"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if tr.gotName != "answer.webm" || tr.gotSource != "interview" || tr.gotBody != "webm-bytes" {
		t.Fatalf("unexpected transcriber input %+v", tr)
	}
}

func TestAPITranscribeRequiresFile(t *testing.T) {
	h := Handler(NewHub(), Services{Transcriber: &transcriberStub{}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("source", "interview")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAPITranscribeNotConfigured(t *testing.T) {
	h := Handler(NewHub(), Services{})
	if rr := do(t, h, http.MethodPost, "/api/transcribe", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
