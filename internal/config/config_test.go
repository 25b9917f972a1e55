package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DB_PATH", "RECORDINGS_DIR", "LOG_LEVEL",
		"CHUNK_INTERVAL", "SAMPLE_RATE",
		"STORAGE_BACKEND", "STORAGE_BUCKET", "STORAGE_REGION", "STORAGE_BASE_URL",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE", "INGEST_URL",
		"VOICE_TOKEN_URL", "VOICE_TRANSPORT", "VOICE_MODEL", "VOICE_NAME",
		"DEEPGRAM_API_KEY", "OPENAI_API_KEY", "STORAGE_TOKEN", "AZURE_CONNECTION_STRING",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func configureAll(t *testing.T) {
	t.Helper()
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"VOICE_TOKEN_URL", "http://localhost/token")
	t.Setenv(EnvPrefix+"INGEST_URL", "http://localhost/ingest")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/interview-live.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.RecordingsDir != "data/recordings" {
		t.Fatalf("expected default recordings_dir, got %q", cfg.RecordingsDir)
	}
	if cfg.Storage.Backend != StorageLocal {
		t.Fatalf("expected default storage backend local, got %q", cfg.Storage.Backend)
	}
	if cfg.Voice.Transport != TransportGenAI {
		t.Fatalf("expected default voice transport genai, got %q", cfg.Voice.Transport)
	}
	if cfg.ParsedChunkInterval() != time.Second {
		t.Fatalf("expected default chunk interval 1s, got %v", cfg.ParsedChunkInterval())
	}
	if cfg.Capture.SampleRate != 48000 {
		t.Fatalf("expected default sample rate 48000, got %d", cfg.Capture.SampleRate)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /custom/db.sqlite
recordings_dir: /custom/recordings
capture:
  chunk_interval: 250ms
  sample_rate: 44100
storage:
  backend: s3
  bucket: interview-media
  region: eu-west-1
ingest:
  url: https://ingest.example.com/upload-url
  destination_table: answers
voice:
  transport: websocket
  model: live-model
  voice_name: Kore
  stall_timeout: 10s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if cfg.ParsedChunkInterval() != 250*time.Millisecond {
		t.Fatalf("expected yaml chunk interval, got %v", cfg.ParsedChunkInterval())
	}
	if cfg.Capture.SampleRate != 44100 {
		t.Fatalf("expected yaml sample rate, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Capture.VideoBitrate != "1M" {
		t.Fatalf("expected nested defaults to survive partial yaml, got %q", cfg.Capture.VideoBitrate)
	}
	if cfg.Storage.Backend != StorageS3 || cfg.Storage.Bucket != "interview-media" || cfg.Storage.Region != "eu-west-1" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Ingest.DestinationTable != "answers" {
		t.Fatalf("expected yaml destination_table, got %q", cfg.Ingest.DestinationTable)
	}
	if cfg.Voice.Transport != TransportWebSocket || cfg.Voice.VoiceName != "Kore" {
		t.Fatalf("unexpected voice config: %+v", cfg.Voice)
	}
	if cfg.ParsedStallTimeout() != 10*time.Second {
		t.Fatalf("expected yaml stall timeout, got %v", cfg.ParsedStallTimeout())
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /from/yaml
voice:
  model: yaml-model
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"VOICE_MODEL", "env-model")
	t.Setenv(EnvPrefix+"STORAGE_BACKEND", " GCS ")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.Voice.Model != "env-model" {
		t.Fatalf("expected env override for voice model, got %q", cfg.Voice.Model)
	}
	if cfg.Storage.Backend != StorageGCS {
		t.Fatalf("expected normalized env storage backend, got %q", cfg.Storage.Backend)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"STORAGE_TOKEN", "storage-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
	if cfg.StorageToken != "storage-secret" {
		t.Fatalf("expected storage token from env, got %q", cfg.StorageToken)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
deepgram_api_key: should-be-ignored
storage_token: also-ignored
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "" || cfg.StorageToken != "" {
		t.Fatalf("expected secrets from yaml to be ignored, got %q / %q", cfg.DeepgramAPIKey, cfg.StorageToken)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var tokenWarning, ingestWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "token endpoint") {
			tokenWarning = true
		}
		if strings.Contains(w, "Ingest endpoint") {
			ingestWarning = true
		}
	}

	if !tokenWarning {
		t.Fatalf("expected voice token warning, got warnings: %v", warnings)
	}
	if !ingestWarning {
		t.Fatalf("expected ingest warning, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	configureAll(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestUnknownBackendFallsBackToLocal(t *testing.T) {
	clearEnv(t)
	configureAll(t)
	t.Setenv(EnvPrefix+"STORAGE_BACKEND", "ftp")
	t.Setenv(EnvPrefix+"VOICE_TRANSPORT", "carrier-pigeon")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Backend != StorageLocal {
		t.Fatalf("expected fallback to local, got %q", cfg.Storage.Backend)
	}
	if cfg.Voice.Transport != TransportGenAI {
		t.Fatalf("expected fallback to genai, got %q", cfg.Voice.Transport)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected two warnings, got: %v", warnings)
	}
}

func TestBackendRequirementsWarn(t *testing.T) {
	clearEnv(t)
	configureAll(t)
	t.Setenv(EnvPrefix+"STORAGE_BACKEND", "s3")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "bucket") {
		t.Fatalf("expected bucket warning, got: %v", warnings)
	}
}

func TestInvalidChunkIntervalWarning(t *testing.T) {
	clearEnv(t)
	configureAll(t)
	t.Setenv(EnvPrefix+"CHUNK_INTERVAL", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "chunk_interval") {
		t.Fatalf("expected chunk_interval warning, got: %v", warnings)
	}
	if cfg.ParsedChunkInterval() != time.Second {
		t.Fatalf("expected fallback to 1s, got %v", cfg.ParsedChunkInterval())
	}
}

func TestStallTimeoutZeroDisables(t *testing.T) {
	cfg := defaults()
	cfg.Voice.StallTimeout = "0"
	if got := cfg.ParsedStallTimeout(); got != 0 {
		t.Fatalf("expected stall detection disabled, got %v", got)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/interview-live.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	_, _, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}
