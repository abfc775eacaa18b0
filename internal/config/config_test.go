package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// setCredentials provides the credentials every Load call requires.
func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "twilio-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ELEVENLABS_API_KEY", "xi-test")
	t.Setenv("ELEVENLABS_VOICE_ID", "voice-1")
	t.Setenv("CALLAGENT_ADMIN_SECRET", strings.Repeat("s", MinAdminSecretLen))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envMap {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	setCredentials(t)

	os.Args = []string{"callagent"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.OpenAIModel != defaultOpenAIModel {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, defaultOpenAIModel)
	}
	if cfg.AudioRetention != time.Hour {
		t.Errorf("AudioRetention = %v, want 1h", cfg.AudioRetention)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", cfg.SweepInterval)
	}
	if !cfg.ValidateSignatures {
		t.Error("ValidateSignatures should default to true")
	}
	if cfg.ElevenLabsVoiceID != "voice-1" {
		t.Errorf("ElevenLabsVoiceID = %q, want voice-1", cfg.ElevenLabsVoiceID)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	os.Args = []string{"callagent"}
	t.Setenv("CALLAGENT_HTTP_PORT", "9090")
	t.Setenv("CALLAGENT_DATA_DIR", "/tmp/callagent-test")
	t.Setenv("CALLAGENT_LOG_LEVEL", "debug")
	t.Setenv("CALLAGENT_SESSION_TTL", "45m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/callagent-test" {
		t.Errorf("DataDir = %q, want /tmp/callagent-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.SessionTTL != 45*time.Minute {
		t.Errorf("SessionTTL = %v, want 45m", cfg.SessionTTL)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	// CLI flags should override env vars.
	os.Args = []string{"callagent", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("CALLAGENT_HTTP_PORT", "9090")
	t.Setenv("CALLAGENT_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestMissingCredentials(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("ELEVENLABS_VOICE_ID")
	os.Args = []string{"callagent"}

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing credentials, got nil")
	}
	for _, name := range []string{"OPENAI_API_KEY", "ELEVENLABS_VOICE_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestAdminSecretRequired(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	os.Args = []string{"callagent"}

	os.Unsetenv("CALLAGENT_ADMIN_SECRET")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "admin-secret") {
		t.Fatalf("expected admin-secret error, got %v", err)
	}

	t.Setenv("CALLAGENT_ADMIN_SECRET", "too-short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short admin secret")
	}

	os.Args = []string{"callagent", "--admin-secret", strings.Repeat("x", MinAdminSecretLen)}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AdminSecret != strings.Repeat("x", MinAdminSecretLen) {
		t.Errorf("AdminSecret = %q, want flag value", cfg.AdminSecret)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	os.Args = []string{"callagent", "--http-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	os.Args = []string{"callagent", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidatePublicURL(t *testing.T) {
	clearEnv(t)
	setCredentials(t)

	os.Args = []string{"callagent", "--public-url", "example.com"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for relative public url")
	}

	os.Args = []string{"callagent", "--public-url", "https://agent.example.com/"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PublicURL != "https://agent.example.com" {
		t.Errorf("PublicURL = %q, want trailing slash trimmed", cfg.PublicURL)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
