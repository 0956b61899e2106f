package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LiveModel == "" || cfg.TextModel == "" {
		t.Fatalf("model defaults missing: %+v", cfg)
	}
	if cfg.DefaultVoice != "Zephyr" {
		t.Fatalf("voice default = %q", cfg.DefaultVoice)
	}
	if !cfg.TranscriptionEnabled {
		t.Fatalf("transcription must default on")
	}
	if cfg.AnalysisTimeout != 60*time.Second {
		t.Fatalf("analysis timeout default = %v", cfg.AnalysisTimeout)
	}
}

func TestLoadFromEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("JAMES_LIVE_MODEL", "custom-live")
	t.Setenv("JAMES_TRANSCRIPTION", "false")
	t.Setenv("JAMES_CONNECT_TIMEOUT", "3s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LiveModel != "custom-live" {
		t.Fatalf("live model = %q", cfg.LiveModel)
	}
	if cfg.TranscriptionEnabled {
		t.Fatalf("transcription override ignored")
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
}

func TestLoadFromEnv_RejectsBlankModel(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("JAMES_TEXT_MODEL", "   ")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Whitespace collapses to the default rather than an empty model.
	if cfg.TextModel != "gemini-2.5-flash" {
		t.Fatalf("text model = %q", cfg.TextModel)
	}
}
