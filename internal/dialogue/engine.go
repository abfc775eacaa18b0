// Package dialogue produces the assistant's next reply for a call by sending
// the conversation so far to a chat completion model.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowpbx/callagent/internal/session"
)

// ErrInference marks every failure of the language model round trip.
// Callers test for it with errors.Is.
var ErrInference = errors.New("inference failure")

const (
	defaultModel   = "gpt-3.5-turbo"
	defaultTimeout = 8 * time.Second
)

// Config configures the Engine.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string // empty uses the public OpenAI endpoint
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
}

// Engine asks the model for a reply. It keeps no per-call state; everything
// it needs arrives with each Respond call.
type Engine struct {
	client       openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Engine{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("subsystem", "dialogue", "model", model),
	}
}

// Respond sends the session's history followed by callerText and returns
// the model's top reply. It does not modify the session. Every failure,
// including an empty reply, wraps ErrInference.
func (e *Engine) Respond(ctx context.Context, s *session.CallSession, callerText string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(e.model),
		Messages: e.buildMessages(s.Turns(), callerText),
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: chat completion returned status %d: %v", ErrInference, apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%w: chat completion: %v", ErrInference, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", ErrInference)
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: chat completion returned an empty reply", ErrInference)
	}

	e.logger.Debug("reply generated",
		"call_id", s.ID,
		"history", s.TurnCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// buildMessages maps the turn history to chat messages in order, with the
// new caller utterance last.
func (e *Engine) buildMessages(turns []session.Turn, callerText string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+2)
	if e.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(e.systemPrompt))
	}
	for _, t := range turns {
		switch t.Role {
		case session.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		default:
			msgs = append(msgs, openai.UserMessage(t.Text))
		}
	}
	return append(msgs, openai.UserMessage(callerText))
}
