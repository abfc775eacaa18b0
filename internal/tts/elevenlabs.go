package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// DefaultElevenLabsModel is the English monolingual v1 model.
	DefaultElevenLabsModel = "eleven_monolingual_v1"

	defaultElevenLabsTimeout = 8 * time.Second

	// Fixed voice settings for every call.
	elevenLabsStability       = 0.5
	elevenLabsSimilarityBoost = 0.5

	// maxAudioBytes bounds how much of a response body is read.
	maxAudioBytes = 10 << 20
)

// ElevenLabsConfig configures the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ElevenLabs calls the ElevenLabs text-to-speech API and returns MP3 bytes.
type ElevenLabs struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabs creates an ElevenLabs client. Empty optional fields fall
// back to defaults.
func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	model := cfg.Model
	if model == "" {
		model = DefaultElevenLabsModel
	}
	base := cfg.BaseURL
	if base == "" {
		base = elevenLabsBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultElevenLabsTimeout
	}
	return &ElevenLabs{
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		model:      model,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider identifier.
func (e *ElevenLabs) Name() string {
	return "elevenlabs"
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize converts text to MP3 audio. Any failure is returned as a
// *SynthesisError.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Provider: e.Name(), Message: "invalid input", Cause: ErrEmptyText}
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: e.model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       elevenLabsStability,
			SimilarityBoost: elevenLabsSimilarityBoost,
		},
	})
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Message: "marshalling request", Cause: err}
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream", e.baseURL, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Message: "creating request", Cause: err}
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Message: "request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.statusError(resp)
	}

	// One byte past the limit tells an oversized clip from one that fits exactly.
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Status: resp.StatusCode, Message: "reading audio", Cause: err, Retryable: true}
	}
	if len(audio) > maxAudioBytes {
		return nil, &SynthesisError{Provider: e.Name(), Status: resp.StatusCode, Message: "audio exceeds size limit", Cause: ErrAudioTooLarge}
	}
	if len(audio) == 0 {
		return nil, &SynthesisError{Provider: e.Name(), Status: resp.StatusCode, Message: "empty response", Cause: ErrEmptyAudio}
	}
	return audio, nil
}

// statusError builds a SynthesisError from a non-200 response.
func (e *ElevenLabs) statusError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	var errResp elevenLabsErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &errResp) == nil && errResp.Detail.Message != "" {
		msg = errResp.Detail.Message
	}

	var cause error
	if resp.StatusCode == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}

	return &SynthesisError{
		Provider:  e.Name(),
		Status:    resp.StatusCode,
		Message:   msg,
		Cause:     cause,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
}
