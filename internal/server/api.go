package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/device"
	"github.com/sjawhar/interview-live/internal/interview"
	"github.com/sjawhar/interview-live/internal/media"
	"github.com/sjawhar/interview-live/internal/storage"
	"github.com/sjawhar/interview-live/internal/transcribe"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

const (
	maxTranscribeUpload = 25 << 20
	defaultHistoryLimit = 50
)

type Devices interface {
	Initialize(ctx context.Context) device.Selection
	Refresh(ctx context.Context) ([]media.Device, error)
	Devices() []media.Device
	Selection() device.Selection
	SelectAudio(ctx context.Context, id string) error
	SelectVideo(ctx context.Context, id string) error
	Initialized() bool
	Err() error
}

type Interview interface {
	Begin(meta upload.Metadata) (interview.Attempt, error)
	StartAnswer(ctx context.Context, messageID string, audio, video bool) error
	StopAnswer(ctx context.Context) error
	CancelAnswer(ctx context.Context) error
	End(ctx context.Context) error
	Snapshot() interview.Snapshot
	Voice() interview.Voice
}

type Recorder interface {
	Status() capture.Status
	Err() error
}

type UploadQueue interface {
	PendingUploads() []upload.PendingUpload
	CanEndInterview() bool
}

// UploadHistory is the upload journal.
type UploadHistory interface {
	ListUploads(limit int) ([]storage.Upload, error)
	FailedUploads() ([]storage.Upload, error)
	GetUpload(id string) (storage.Upload, error)
}

// Services are the components behind the API. Nil members disable their
// routes with 503.
type Services struct {
	Devices     Devices
	Interview   Interview
	Recorder    Recorder
	Uploads     UploadQueue
	History     UploadHistory
	Transcriber transcribe.Transcriber
	MicCheck    func(ctx context.Context) (capture.MicCheckResult, error)
	Warnings    func() []string
}

func registerAPIRoutes(mux *http.ServeMux, svc Services) {
	registerDeviceRoutes(mux, svc)
	registerInterviewRoutes(mux, svc)
	registerUploadRoutes(mux, svc)
	registerVoiceRoutes(mux, svc)

	mux.HandleFunc("POST /api/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if svc.Transcriber == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "transcription not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxTranscribeUpload)
		if err := r.ParseMultipartForm(maxTranscribeUpload); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("parse form: %v", err))
			return
		}
		file, header, err := r.FormFile("audioFile")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "audioFile is required")
			return
		}
		defer func() { _ = file.Close() }()

		text, err := svc.Transcriber.Transcribe(r.Context(), header.Filename, file, r.FormValue("source"))
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("transcribe: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if svc.Warnings != nil {
			warnings = svc.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		status := map[string]any{"warnings": warnings}
		if svc.Recorder != nil {
			status["recording"] = svc.Recorder.Status().Recording
		}
		if svc.Uploads != nil {
			status["canEnd"] = svc.Uploads.CanEndInterview()
		}
		if svc.Interview != nil {
			if v := svc.Interview.Voice(); v != nil {
				status["voice"] = v.Status()
			}
		}
		writeJSON(w, http.StatusOK, status)
	})
}

func registerDeviceRoutes(mux *http.ServeMux, svc Services) {
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		if svc.Devices == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "devices not available")
			return
		}
		writeDevices(w, http.StatusOK, svc.Devices)
	})

	mux.HandleFunc("POST /api/devices/init", func(w http.ResponseWriter, r *http.Request) {
		if svc.Devices == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "devices not available")
			return
		}
		svc.Devices.Initialize(r.Context())
		if err := svc.Devices.Err(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeDevices(w, http.StatusOK, svc.Devices)
	})

	mux.HandleFunc("POST /api/devices/refresh", func(w http.ResponseWriter, r *http.Request) {
		if svc.Devices == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "devices not available")
			return
		}
		if _, err := svc.Devices.Refresh(r.Context()); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeDevices(w, http.StatusOK, svc.Devices)
	})

	mux.HandleFunc("PUT /api/devices/{kind}", func(w http.ResponseWriter, r *http.Request) {
		if svc.Devices == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "devices not available")
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			writeJSONError(w, http.StatusBadRequest, "device id is required")
			return
		}

		var err error
		switch r.PathValue("kind") {
		case "audio":
			err = svc.Devices.SelectAudio(r.Context(), req.ID)
		case "video":
			err = svc.Devices.SelectVideo(r.Context(), req.ID)
		default:
			writeJSONError(w, http.StatusNotFound, "device kind must be audio or video")
			return
		}
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeDevices(w, http.StatusOK, svc.Devices)
	})

	mux.HandleFunc("POST /api/mic-check", func(w http.ResponseWriter, r *http.Request) {
		if svc.MicCheck == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "mic check not available")
			return
		}
		res, err := svc.MicCheck(r.Context())
		if err != nil {
			writeJSONError(w, statusFor(err), fmt.Sprintf("mic check: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func writeDevices(w http.ResponseWriter, status int, d Devices) {
	devices := d.Devices()
	if devices == nil {
		devices = []media.Device{}
	}
	writeJSON(w, status, map[string]any{
		"initialized": d.Initialized(),
		"devices":     devices,
		"selection":   d.Selection(),
	})
}

func registerInterviewRoutes(mux *http.ServeMux, svc Services) {
	mux.HandleFunc("GET /api/interview", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		writeJSON(w, http.StatusOK, svc.Interview.Snapshot())
	})

	mux.HandleFunc("POST /api/interview/begin", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		var meta upload.Metadata
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		attempt, err := svc.Interview.Begin(meta)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, attempt)
	})

	mux.HandleFunc("POST /api/interview/end", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		if err := svc.Interview.End(r.Context()); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/recording", func(w http.ResponseWriter, r *http.Request) {
		if svc.Recorder == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "recorder not available")
			return
		}
		st := svc.Recorder.Status()
		resp := map[string]any{"status": st}
		if err := svc.Recorder.Err(); err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		var req struct {
			MessageID string `json:"messageId"`
			Audio     *bool  `json:"audio"`
			Video     *bool  `json:"video"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		audio, video := boolOr(req.Audio, true), boolOr(req.Video, true)
		if err := svc.Interview.StartAnswer(r.Context(), req.MessageID, audio, video); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		if err := svc.Interview.StopAnswer(r.Context()); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/recording/cancel", func(w http.ResponseWriter, r *http.Request) {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interview not available")
			return
		}
		if err := svc.Interview.CancelAnswer(r.Context()); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func registerUploadRoutes(mux *http.ServeMux, svc Services) {
	mux.HandleFunc("GET /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		if svc.Uploads == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "uploads not available")
			return
		}
		pending := svc.Uploads.PendingUploads()
		if pending == nil {
			pending = []upload.PendingUpload{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending": pending,
			"canEnd":  svc.Uploads.CanEndInterview(),
		})
	})

	mux.HandleFunc("GET /api/uploads/history", func(w http.ResponseWriter, r *http.Request) {
		if svc.History == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "upload journal not available")
			return
		}

		var (
			uploads []storage.Upload
			err     error
		)
		if r.URL.Query().Get("failed") == "true" {
			uploads, err = svc.History.FailedUploads()
		} else {
			limit := defaultHistoryLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, convErr := strconv.Atoi(raw)
				if convErr != nil || n <= 0 {
					writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				limit = n
			}
			uploads, err = svc.History.ListUploads(limit)
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list uploads: %v", err))
			return
		}
		if uploads == nil {
			uploads = []storage.Upload{}
		}
		writeJSON(w, http.StatusOK, uploads)
	})

	mux.HandleFunc("GET /api/uploads/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if svc.History == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "upload journal not available")
			return
		}
		u, err := svc.History.GetUpload(r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get upload: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, u)
	})
}

func registerVoiceRoutes(mux *http.ServeMux, svc Services) {
	currentVoice := func(w http.ResponseWriter) interview.Voice {
		if svc.Interview == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "voice not configured")
			return nil
		}
		v := svc.Interview.Voice()
		if v == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "voice not configured")
		}
		return v
	}

	mux.HandleFunc("GET /api/voice", func(w http.ResponseWriter, r *http.Request) {
		if v := currentVoice(w); v != nil {
			writeJSON(w, http.StatusOK, v.Info())
		}
	})

	mux.HandleFunc("POST /api/voice/{action}", func(w http.ResponseWriter, r *http.Request) {
		v := currentVoice(w)
		if v == nil {
			return
		}

		ctx := r.Context()
		var err error
		switch r.PathValue("action") {
		case "init":
			err = v.Init(ctx)
		case "connect":
			err = v.Connect(ctx)
		case "start":
			err = v.StartRecording(ctx)
		case "stop":
			v.StopRecording()
		case "reset":
			err = v.Reset(ctx)
		case "close":
			err = v.Close()
		default:
			writeJSONError(w, http.StatusNotFound, "unknown voice action")
			return
		}
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, v.Info())
	})
}

// statusFor maps component errors to HTTP status codes.
func statusFor(err error) int {
	var tokenErr *voice.TokenError
	var channelErr *voice.ChannelError
	switch {
	case errors.Is(err, device.ErrPermissionDenied), errors.Is(err, media.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, device.ErrNoDevices), errors.Is(err, device.ErrUnknownDevice),
		errors.Is(err, voice.ErrNoMicrophone), errors.Is(err, capture.ErrNoVideoDevice):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrNoMessage):
		return http.StatusBadRequest
	case errors.Is(err, interview.ErrUploadsPending), errors.Is(err, interview.ErrAnswerInProgress),
		errors.Is(err, interview.ErrNoAttempt),
		errors.Is(err, capture.ErrAlreadyRecording), errors.Is(err, capture.ErrRecorderInactive),
		errors.Is(err, device.ErrNotInitialized),
		errors.Is(err, voice.ErrNotInitialized), errors.Is(err, voice.ErrNotConnected),
		errors.Is(err, voice.ErrSessionClosed):
		return http.StatusConflict
	case errors.As(err, &tokenErr), errors.As(err, &channelErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
