package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all interview-live environment variables.
const EnvPrefix = "INTERVIEW_LIVE_"

// Storage backends understood by blobstore.New.
const (
	StorageLocal  = "local"
	StorageGDrive = "gdrive"
	StorageGCS    = "gcs"
	StorageS3     = "s3"
	StorageAzure  = "azblob"
	StorageREST   = "rest"
)

// Voice transports understood by voice.NewDialer.
const (
	TransportGenAI     = "genai"
	TransportWebSocket = "websocket"
)

// Config holds all application configuration. Secrets (API keys, storage
// credentials) are loaded exclusively from environment variables and never
// appear in the config file.
type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	DBPath        string        `yaml:"db_path"`
	RecordingsDir string        `yaml:"recordings_dir"`
	LogLevel      string        `yaml:"log_level"`
	Capture       Capture       `yaml:"capture"`
	Storage       Storage       `yaml:"storage"`
	Ingest        Ingest        `yaml:"ingest"`
	Voice         Voice         `yaml:"voice"`
	Transcription Transcription `yaml:"transcription"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey        string `yaml:"-"`
	OpenAIAPIKey          string `yaml:"-"`
	StorageToken          string `yaml:"-"`
	AzureConnectionString string `yaml:"-"`
}

type Capture struct {
	ChunkInterval    string `yaml:"chunk_interval"`
	SampleRate       int    `yaml:"sample_rate"`
	MicCheckDuration string `yaml:"mic_check_duration"`
	VideoBitrate     string `yaml:"video_bitrate"`
}

type Storage struct {
	Backend               string `yaml:"backend"`
	Bucket                string `yaml:"bucket"`
	Region                string `yaml:"region"`
	BaseURL               string `yaml:"base_url"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
}

type Ingest struct {
	URL              string `yaml:"url"`
	DestinationTable string `yaml:"destination_table"`
}

type Voice struct {
	TokenURL     string `yaml:"token_url"`
	Transport    string `yaml:"transport"`
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	VoiceName    string `yaml:"voice_name"`
	StallTimeout string `yaml:"stall_timeout"`
}

type Transcription struct {
	LiveModel    string `yaml:"live_model"`
	Language     string `yaml:"language"`
	WhisperModel string `yaml:"whisper_model"`
}

func defaults() Config {
	return Config{
		ListenAddr:    "127.0.0.1:8080",
		DBPath:        "data/interview-live.db",
		RecordingsDir: "data/recordings",
		LogLevel:      "info",
		Capture: Capture{
			ChunkInterval:    "1s",
			SampleRate:       48000,
			MicCheckDuration: "3s",
			VideoBitrate:     "1M",
		},
		Storage: Storage{
			Backend:               StorageLocal,
			GoogleCredentialsFile: "./service-account.json",
		},
		Ingest: Ingest{
			DestinationTable: "interview_recordings",
		},
		Voice: Voice{
			Transport:    TransportGenAI,
			Endpoint:     "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContentConstrained",
			Model:        "gemini-2.0-flash-live-001",
			VoiceName:    "Puck",
			StallTimeout: "45s",
		},
		Transcription: Transcription{
			LiveModel:    "nova-2",
			Language:     "en-US",
			WhisperModel: "whisper-1",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedChunkInterval returns the recorder timeslice, falling back to 1s.
func (c *Config) ParsedChunkInterval() time.Duration {
	return parseDurationOr(c.Capture.ChunkInterval, time.Second)
}

// ParsedMicCheckDuration returns the length of a microphone self-check clip.
func (c *Config) ParsedMicCheckDuration() time.Duration {
	return parseDurationOr(c.Capture.MicCheckDuration, 3*time.Second)
}

// ParsedStallTimeout returns how long a connected voice channel may stay
// silent before it is reset. Zero disables stall detection.
func (c *Config) ParsedStallTimeout() time.Duration {
	if strings.TrimSpace(c.Voice.StallTimeout) == "0" {
		return 0
	}
	return parseDurationOr(c.Voice.StallTimeout, 45*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDINGS_DIR"); v != "" {
		cfg.RecordingsDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "CHUNK_INTERVAL"); v != "" {
		cfg.Capture.ChunkInterval = v
	}
	if v := os.Getenv(EnvPrefix + "SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.Capture.SampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_BASE_URL"); v != "" {
		cfg.Storage.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.Storage.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.Storage.GoogleCredentialsFile = v
	}
	if v := os.Getenv(EnvPrefix + "INGEST_URL"); v != "" {
		cfg.Ingest.URL = v
	}
	if v := os.Getenv(EnvPrefix + "VOICE_TOKEN_URL"); v != "" {
		cfg.Voice.TokenURL = v
	}
	if v := os.Getenv(EnvPrefix + "VOICE_TRANSPORT"); v != "" {
		cfg.Voice.Transport = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "VOICE_MODEL"); v != "" {
		cfg.Voice.Model = v
	}
	if v := os.Getenv(EnvPrefix + "VOICE_NAME"); v != "" {
		cfg.Voice.VoiceName = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.StorageToken = os.Getenv(EnvPrefix + "STORAGE_TOKEN")
	cfg.AzureConnectionString = os.Getenv(EnvPrefix + "AZURE_CONNECTION_STRING")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.Voice.TokenURL == "" {
		warnings = append(warnings, "Voice token endpoint not configured, live voice sessions are disabled. Set "+EnvPrefix+"VOICE_TOKEN_URL.")
	}
	if cfg.Ingest.URL == "" {
		warnings = append(warnings, "Ingest endpoint not configured, recordings are only sent to durable storage. Set "+EnvPrefix+"INGEST_URL.")
	}
	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live captions are disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, file transcription is disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}

	switch cfg.Storage.Backend {
	case StorageLocal:
	case StorageGDrive:
		if cfg.Storage.GDriveFolderID == "" {
			warnings = append(warnings, "Storage backend gdrive requires gdrive_folder_id.")
		}
	case StorageGCS, StorageS3:
		if cfg.Storage.Bucket == "" {
			warnings = append(warnings, fmt.Sprintf("Storage backend %s requires a bucket.", cfg.Storage.Backend))
		}
	case StorageAzure:
		if cfg.Storage.Bucket == "" || cfg.AzureConnectionString == "" {
			warnings = append(warnings, "Storage backend azblob requires a container (bucket) and "+EnvPrefix+"AZURE_CONNECTION_STRING.")
		}
	case StorageREST:
		if cfg.Storage.BaseURL == "" || cfg.Storage.Bucket == "" {
			warnings = append(warnings, "Storage backend rest requires base_url and bucket.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown storage backend %q, using local.", cfg.Storage.Backend))
		cfg.Storage.Backend = StorageLocal
	}

	switch cfg.Voice.Transport {
	case TransportGenAI, TransportWebSocket:
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown voice transport %q, using %s.", cfg.Voice.Transport, TransportGenAI))
		cfg.Voice.Transport = TransportGenAI
	}

	if _, err := time.ParseDuration(cfg.Capture.ChunkInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid chunk_interval %q, using default 1s.", cfg.Capture.ChunkInterval))
	}

	return warnings
}
