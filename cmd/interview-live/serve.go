package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/interview-live/internal/blobstore"
	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/config"
	"github.com/sjawhar/interview-live/internal/device"
	"github.com/sjawhar/interview-live/internal/interview"
	"github.com/sjawhar/interview-live/internal/media"
	"github.com/sjawhar/interview-live/internal/server"
	"github.com/sjawhar/interview-live/internal/storage"
	"github.com/sjawhar/interview-live/internal/transcribe"
	"github.com/sjawhar/interview-live/internal/upload"
	"github.com/sjawhar/interview-live/internal/voice"
)

const drainTimeout = 2 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, warnings)
	},
}

func runServe(ctx context.Context, cfg config.Config, warnings []string) error {
	slog.Info("interview-live: starting", "listen", cfg.ListenAddr, "storage", cfg.Storage.Backend, "voice", cfg.Voice.Transport)

	backend := media.NewHostBackend()
	if err := backend.Open(); err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub()
	registry := device.NewRegistry(backend)

	blobs, err := blobstore.New(ctx, cfg)
	if err != nil {
		slog.Warn("interview-live: durable storage unavailable, falling back to local", "backend", cfg.Storage.Backend, "err", err)
		warnings = append(warnings, fmt.Sprintf("Storage backend %q unavailable (%v), recordings are kept in %s.", cfg.Storage.Backend, err, cfg.RecordingsDir))
		blobs = blobstore.NewLocal(cfg.RecordingsDir)
	}

	var registrar upload.Registrar
	if cfg.Ingest.URL != "" {
		registrar = upload.NewHTTPRegistrar(cfg.Ingest.URL, cfg.StorageToken)
	}
	uploads := upload.NewCoordinator(upload.Options{
		Store:     blobs,
		Registrar: registrar,
		Journal:   store,
		Notifier:  hub,
		Table:     cfg.Ingest.DestinationTable,
	})

	recorder := capture.NewSession(capture.Options{
		Backend: backend,
		Devices: registry,
		NewRecorder: capture.HostRecorders(capture.HostRecorderConfig{
			VideoBitrate: cfg.Capture.VideoBitrate,
		}),
		Alerter:    hub,
		Timeslice:  cfg.ParsedChunkInterval(),
		SampleRate: cfg.Capture.SampleRate,
		OnChange:   hub.BroadcastRecordingState,
	})

	// Set once captions are up; voice sessions are created lazily per attempt.
	var tap io.Writer
	newVoice, err := voiceFactory(cfg, backend, registry, func() io.Writer { return tap })
	if err != nil {
		slog.Warn("interview-live: live voice disabled", "err", err)
		warnings = append(warnings, fmt.Sprintf("Live voice disabled: %v", err))
	}

	controller := interview.NewController(interview.Options{
		Capture:  recorder,
		Uploads:  uploads,
		Store:    store,
		Writer:   storage.NewWriter(filepath.Join(cfg.RecordingsDir, "transcripts")),
		Hub:      hub,
		Stall:    interview.NewStallDetector(cfg.ParsedStallTimeout()),
		NewVoice: newVoice,
	})

	var captioner *transcribe.Captioner
	if cfg.DeepgramAPIKey != "" {
		captioner = transcribe.NewCaptioner(controller)
		live, err := transcribe.StartLive(ctx, transcribe.LiveConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.Transcription.LiveModel,
			Language:   cfg.Transcription.Language,
			SampleRate: voice.InputSampleRate,
		}, captioner)
		if err != nil {
			slog.Warn("interview-live: live captions unavailable", "err", err)
			warnings = append(warnings, fmt.Sprintf("Live captions unavailable: %v", err))
		} else {
			tap = live
			defer func() { _ = live.Close() }()
		}
	}

	var transcriber transcribe.Transcriber
	if cfg.OpenAIAPIKey != "" {
		transcriber = transcribe.NewWhisper(cfg.OpenAIAPIKey, cfg.Transcription.WhisperModel)
	}

	micCheck := &capture.MicCheck{
		Backend:    backend,
		Devices:    registry,
		Player:     capture.NewExecPlayer(),
		Duration:   cfg.ParsedMicCheckDuration(),
		SampleRate: cfg.Capture.SampleRate,
	}

	svc := server.Services{
		Devices:     registry,
		Interview:   controller,
		Recorder:    recorder,
		Uploads:     uploads,
		History:     store,
		Transcriber: transcriber,
		MicCheck:    micCheck.Run,
		Warnings:    func() []string { return warnings },
	}

	serveErr := server.Serve(ctx, cfg.ListenAddr, hub, svc)

	slog.Info("interview-live: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := recorder.Stop(shutdownCtx); err != nil {
		slog.Debug("interview-live: no recording to stop", "err", err)
	}
	if err := uploads.Wait(shutdownCtx); err != nil {
		slog.Warn("interview-live: uploads still pending at exit", "pending", uploads.Pending(), "err", err)
	}
	if captioner != nil {
		captioner.Flush()
	}
	if err := controller.End(shutdownCtx); err != nil {
		slog.Debug("interview-live: end attempt on shutdown", "err", err)
	}
	registry.ReleasePreview()
	return serveErr
}

// voiceFactory builds the per-attempt voice session constructor. It returns
// nil when no token endpoint is configured.
func voiceFactory(cfg config.Config, backend media.Backend, devices voice.Devices, tap func() io.Writer) (interview.VoiceFactory, error) {
	if cfg.Voice.TokenURL == "" {
		return nil, nil
	}
	dialer, err := voice.NewDialer(cfg.Voice.Transport)
	if err != nil {
		return nil, err
	}
	tokens := voice.NewHTTPTokenSource(cfg.Voice.TokenURL)

	return func(onChange func(voice.Info), onActivity func()) interview.Voice {
		var speaker voice.Speaker = voice.DiscardSpeaker{}
		if s, err := voice.NewPortAudioSpeaker(voice.OutputSampleRate); err != nil {
			slog.Warn("voice: no output device, model audio is dropped", "err", err)
		} else {
			speaker = s
		}
		return voice.NewSession(voice.Options{
			Tokens:     tokens,
			Dialer:     dialer,
			Backend:    backend,
			Devices:    devices,
			Speaker:    speaker,
			Clock:      voice.NewWallClock(),
			Model:      cfg.Voice.Model,
			Voice:      cfg.Voice.VoiceName,
			Endpoint:   cfg.Voice.Endpoint,
			InputTap:   tap(),
			OnChange:   onChange,
			OnActivity: onActivity,
		})
	}, nil
}
