// Package tts turns reply text into playable audio. Synthesis failures are
// never fatal: the Gateway reports them as a nil artifact and the caller
// speaks the text through the telephony provider instead.
package tts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowpbx/callagent/internal/artifact"
)

// Provider produces audio bytes for text.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ArtifactWriter persists generated audio.
type ArtifactWriter interface {
	Write(callID string, data []byte) (artifact.Artifact, error)
}

// Gateway synthesizes speech with a provider and stores the result.
type Gateway struct {
	provider Provider
	store    ArtifactWriter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGateway creates a Gateway. A zero timeout leaves the provider's own
// timeout in charge.
func NewGateway(provider Provider, store ArtifactWriter, timeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		provider: provider,
		store:    store,
		timeout:  timeout,
		logger:   logger.With("subsystem", "tts", "provider", provider.Name()),
	}
}

// Synthesize converts text to audio for callID and returns the stored
// artifact. It returns nil on any failure, meaning "render the text
// literally".
func (g *Gateway) Synthesize(ctx context.Context, text, callID string) *artifact.Artifact {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := g.provider.Synthesize(ctx, text)
	if err != nil {
		attrs := []any{"call_id", callID, "error", err, "duration_ms", time.Since(start).Milliseconds()}
		var se *SynthesisError
		if errors.As(err, &se) {
			attrs = append(attrs, "status", se.Status, "retryable", se.Retryable)
		}
		g.logger.Warn("speech synthesis failed, falling back to text", attrs...)
		return nil
	}

	a, err := g.store.Write(callID, audio)
	if err != nil {
		g.logger.Error("storing synthesized audio failed, falling back to text", "call_id", callID, "error", err)
		return nil
	}

	g.logger.Debug("speech synthesized",
		"call_id", callID,
		"artifact", a.Name,
		"bytes", a.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &a
}
