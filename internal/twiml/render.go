// Package twiml renders call instructions as Twilio voice markup.
package twiml

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"

	"github.com/flowpbx/callagent/internal/call"
)

// ContentType is the media type markup responses are served with.
const ContentType = "application/xml"

// GatherConfig holds the fixed speech-recognition options of every gather.
type GatherConfig struct {
	Input    string // "speech"
	Language string // e.g. "en-US"
	Enhanced bool
	Method   string // how the provider calls the action URL
}

// DefaultGatherConfig returns the configuration used for every call.
func DefaultGatherConfig() GatherConfig {
	return GatherConfig{
		Input:    "speech",
		Language: "en-US",
		Enhanced: true,
		Method:   "POST",
	}
}

// Renderer converts call instructions to markup documents.
type Renderer struct {
	gather GatherConfig
}

// NewRenderer creates a Renderer with the given gather configuration.
func NewRenderer(gather GatherConfig) *Renderer {
	return &Renderer{gather: gather}
}

// Render produces the markup for ins: the audio or spoken text, then either
// a speech gather with its no-input redirect, or a hangup.
func (r *Renderer) Render(ins call.Instruction) (string, error) {
	var verbs []twiml.Element

	switch {
	case ins.AudioURL != "":
		verbs = append(verbs, &twiml.VoicePlay{Url: ins.AudioURL})
	case ins.Text != "":
		verbs = append(verbs, &twiml.VoiceSay{Message: ins.Text})
	}

	if ins.Gather {
		g := &twiml.VoiceGather{
			Input:    r.gather.Input,
			Action:   ins.Action,
			Method:   r.gather.Method,
			Language: r.gather.Language,
		}
		if r.gather.Enhanced {
			g.Enhanced = "true"
		}
		verbs = append(verbs, g)
		if ins.Redirect != "" {
			verbs = append(verbs, &twiml.VoiceRedirect{Url: ins.Redirect, Method: r.gather.Method})
		}
	}

	if ins.Hangup {
		verbs = append(verbs, &twiml.VoiceHangup{})
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("rendering twiml: %w", err)
	}
	return doc, nil
}

// Say renders a document that only speaks text. It is the last-resort
// response when an instruction cannot be rendered.
func Say(text string) string {
	doc, err := twiml.Voice([]twiml.Element{&twiml.VoiceSay{Message: text}})
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Say>` + text + `</Say></Response>`
	}
	return doc
}
