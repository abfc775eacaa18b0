package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config holds all runtime configuration for the call agent.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	LogLevel  string
	LogFormat string // log output format: "text" or "json"
	PublicURL string // externally visible origin; derived from each request when empty

	// Telephony (Twilio) credentials. The auth token signs webhook requests.
	TwilioAccountSID   string
	TwilioAuthToken    string
	ValidateSignatures bool

	// AdminSecret signs the bearer tokens accepted by the admin API.
	AdminSecret string

	// Language model.
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	SystemPrompt  string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	// Speech synthesis.
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ElevenLabsModel   string
	ElevenLabsBaseURL string
	TTSTimeout        time.Duration

	Greeting       string
	MaxFailures    int           // consecutive failed turns before the call is ended, 0 disables
	SessionTTL     time.Duration // idle time before an in-memory session is reaped
	AudioRetention time.Duration // age after which generated audio is deleted
	SweepInterval  time.Duration // how often the audio directory is swept
}

// defaults
const (
	defaultDataDir         = "./data"
	defaultHTTPPort        = 8000
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultOpenAIModel     = "gpt-3.5-turbo"
	defaultElevenLabsModel = "eleven_monolingual_v1"
	defaultGreeting        = "Hello Thank you for calling Mightzen dot ca! How can I help you today?"
	defaultLLMTimeout      = 8 * time.Second
	defaultLLMMaxRetries   = 1
	defaultTTSTimeout      = 8 * time.Second
	defaultMaxFailures     = 3
	defaultSessionTTL      = 30 * time.Minute
	defaultAudioRetention  = time.Hour
	defaultSweepInterval   = 5 * time.Minute
)

// MinAdminSecretLen is the shortest accepted admin token secret.
const MinAdminSecretLen = 32

// envPrefix is the prefix for the call agent's own environment variables.
// Provider credentials use the provider-conventional names instead.
const envPrefix = "CALLAGENT_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callagent", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call log database and generated audio")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally visible base URL used for audio links (derived from requests if empty)")
	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.BoolVar(&cfg.ValidateSignatures, "validate-signatures", true, "reject webhooks without a valid X-Twilio-Signature")
	fs.StringVar(&cfg.AdminSecret, "admin-secret", "", "HMAC secret for admin API bearer tokens (at least 32 bytes)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", "", "OpenAI API key")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", defaultOpenAIModel, "OpenAI chat model")
	fs.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", "", "override the OpenAI API base URL")
	fs.StringVar(&cfg.SystemPrompt, "system-prompt", "", "optional system prompt prepended to every conversation")
	fs.DurationVar(&cfg.LLMTimeout, "llm-timeout", defaultLLMTimeout, "timeout for one language model request")
	fs.IntVar(&cfg.LLMMaxRetries, "llm-max-retries", defaultLLMMaxRetries, "retries for a failed language model request")
	fs.StringVar(&cfg.ElevenLabsKey, "elevenlabs-api-key", "", "ElevenLabs API key")
	fs.StringVar(&cfg.ElevenLabsVoiceID, "elevenlabs-voice-id", "", "ElevenLabs voice identifier")
	fs.StringVar(&cfg.ElevenLabsModel, "elevenlabs-model", defaultElevenLabsModel, "ElevenLabs model id")
	fs.StringVar(&cfg.ElevenLabsBaseURL, "elevenlabs-base-url", "", "override the ElevenLabs API base URL")
	fs.DurationVar(&cfg.TTSTimeout, "tts-timeout", defaultTTSTimeout, "timeout for one speech synthesis request")
	fs.StringVar(&cfg.Greeting, "greeting", defaultGreeting, "greeting spoken when a call is answered")
	fs.IntVar(&cfg.MaxFailures, "max-failures", defaultMaxFailures, "consecutive failed turns before hanging up (0 disables)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", defaultSessionTTL, "idle time before a call session is discarded")
	fs.DurationVar(&cfg.AudioRetention, "audio-retention", defaultAudioRetention, "age after which generated audio files are deleted")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", defaultSweepInterval, "interval between audio cleanup sweeps")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envMap maps flag names to the environment variables that may supply them.
var envMap = map[string]string{
	"data-dir":            envPrefix + "DATA_DIR",
	"http-port":           envPrefix + "HTTP_PORT",
	"log-level":           envPrefix + "LOG_LEVEL",
	"log-format":          envPrefix + "LOG_FORMAT",
	"public-url":          envPrefix + "PUBLIC_URL",
	"validate-signatures": envPrefix + "VALIDATE_SIGNATURES",
	"admin-secret":        envPrefix + "ADMIN_SECRET",
	"openai-model":        envPrefix + "OPENAI_MODEL",
	"openai-base-url":     envPrefix + "OPENAI_BASE_URL",
	"system-prompt":       envPrefix + "SYSTEM_PROMPT",
	"llm-timeout":         envPrefix + "LLM_TIMEOUT",
	"llm-max-retries":     envPrefix + "LLM_MAX_RETRIES",
	"elevenlabs-model":    envPrefix + "ELEVENLABS_MODEL",
	"elevenlabs-base-url": envPrefix + "ELEVENLABS_BASE_URL",
	"tts-timeout":         envPrefix + "TTS_TIMEOUT",
	"greeting":            envPrefix + "GREETING",
	"max-failures":        envPrefix + "MAX_FAILURES",
	"session-ttl":         envPrefix + "SESSION_TTL",
	"audio-retention":     envPrefix + "AUDIO_RETENTION",
	"sweep-interval":      envPrefix + "SWEEP_INTERVAL",

	"twilio-account-sid":  "TWILIO_ACCOUNT_SID",
	"twilio-auth-token":   "TWILIO_AUTH_TOKEN",
	"openai-api-key":      "OPENAI_API_KEY",
	"elevenlabs-api-key":  "ELEVENLABS_API_KEY",
	"elevenlabs-voice-id": "ELEVENLABS_VOICE_ID",
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. Values that fail to parse are
// logged and ignored so the default stays in effect.
func applyEnvOverrides(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		if err := fs.Set(flagName, val); err != nil {
			slog.Warn("ignoring invalid environment value", "env", envVar, "error", err)
		}
	}
}

// validate checks that the config values are sane and that every provider
// credential is present.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public-url must be an absolute http(s) URL, got %q", c.PublicURL)
		}
		c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	}

	var missing []string
	for name, val := range map[string]string{
		"TWILIO_ACCOUNT_SID":  c.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN":   c.TwilioAuthToken,
		"OPENAI_API_KEY":      c.OpenAIKey,
		"ELEVENLABS_API_KEY":  c.ElevenLabsKey,
		"ELEVENLABS_VOICE_ID": c.ElevenLabsVoiceID,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required credentials: %s", strings.Join(missing, ", "))
	}

	if len(c.AdminSecret) < MinAdminSecretLen {
		return fmt.Errorf("admin-secret (%sADMIN_SECRET) must be at least %d bytes", envPrefix, MinAdminSecretLen)
	}

	if c.LLMTimeout <= 0 || c.TTSTimeout <= 0 {
		return fmt.Errorf("llm-timeout and tts-timeout must be positive")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("llm-max-retries must not be negative, got %d", c.LLMMaxRetries)
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("max-failures must not be negative, got %d", c.MaxFailures)
	}
	if c.SessionTTL <= 0 || c.AudioRetention <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("session-ttl, audio-retention and sweep-interval must be positive")
	}
	if strings.TrimSpace(c.Greeting) == "" {
		return fmt.Errorf("greeting must not be empty")
	}

	return nil
}

// AudioDir returns the directory generated audio files are written to.
func (c *Config) AudioDir() string {
	return filepath.Join(c.DataDir, "audio")
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
