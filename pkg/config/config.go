// Package config loads the assistant's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	LiveModel string
	TextModel string

	// Voice used when the stored profile has none.
	DefaultVoice string

	// ProfilePath is where the local profile database lives.
	ProfilePath string

	ConnectTimeout  time.Duration
	AnalysisTimeout time.Duration
	IngestTimeout   time.Duration

	// TranscriptionEnabled controls whether user speech is transcribed
	// into the conversation log.
	TranscriptionEnabled bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		APIKey:               strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		LiveModel:            envOr("JAMES_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		TextModel:            envOr("JAMES_TEXT_MODEL", "gemini-2.5-flash"),
		DefaultVoice:         envOr("JAMES_VOICE", "Zephyr"),
		ProfilePath:          envOr("JAMES_PROFILE_PATH", "james.db"),
		ConnectTimeout:       envDurationOr("JAMES_CONNECT_TIMEOUT", 15*time.Second),
		AnalysisTimeout:      envDurationOr("JAMES_ANALYSIS_TIMEOUT", 60*time.Second),
		IngestTimeout:        envDurationOr("JAMES_INGEST_TIMEOUT", 45*time.Second),
		TranscriptionEnabled: envBoolOr("JAMES_TRANSCRIPTION", true),
	}

	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("JAMES_LIVE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.TextModel) == "" {
		return Config{}, fmt.Errorf("JAMES_TEXT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		return Config{}, fmt.Errorf("JAMES_VOICE must not be empty")
	}
	if strings.TrimSpace(cfg.ProfilePath) == "" {
		return Config{}, fmt.Errorf("JAMES_PROFILE_PATH must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("JAMES_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.AnalysisTimeout <= 0 {
		return Config{}, fmt.Errorf("JAMES_ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.IngestTimeout <= 0 {
		return Config{}, fmt.Errorf("JAMES_INGEST_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
