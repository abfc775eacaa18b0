// Package call drives one conversational turn per telephony event: it looks
// up the call's session, asks the dialogue engine for a reply, has it
// synthesized and describes what the telephony provider should do next.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/flowpbx/callagent/internal/artifact"
	"github.com/flowpbx/callagent/internal/dialogue"
	"github.com/flowpbx/callagent/internal/session"
)

// Fixed prompts for the degraded paths.
const (
	RepromptText = "I didn't catch that. Could you please repeat?"
	ApologyText  = "I apologize, but I'm having trouble processing your request. Please try again."
	FaultText    = "We're sorry, but there was an error processing your call. Please try again."
	GoodbyeText  = "We're sorry, but we can't help right now. Please call back later. Goodbye."
)

// Responder produces the assistant's reply for a caller utterance.
type Responder interface {
	Respond(ctx context.Context, s *session.CallSession, callerText string) (string, error)
}

// Synthesizer turns text into a stored audio artifact, or nil on failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, callID string) *artifact.Artifact
}

// Linker builds an absolute retrieval URL for an artifact.
type Linker interface {
	URL(a artifact.Artifact, origin string) string
}

// Log records call activity for later inspection. Failures are logged and
// never affect the call.
type Log interface {
	CallStarted(ctx context.Context, callID, from, to string) error
	TurnRecorded(ctx context.Context, callID, callerText, assistantText string) error
	CallEnded(ctx context.Context, callID, status string) error
}

// Options configures a Controller.
type Options struct {
	Greeting      string
	MaxFailures   int    // consecutive failed turns before hanging up, 0 disables
	GatherAction  string // where the provider posts captured speech
	SilenceTarget string // where the provider goes when the greeting gather hears nothing
	ReplyTarget   string // where the provider goes when a later gather hears nothing
}

// Instruction is the controller's answer to one event: what to say and
// what to do afterwards.
type Instruction struct {
	AudioURL string // play this when set
	Text     string // otherwise speak this
	Gather   bool
	Action   string // gather action URL
	Redirect string // followed when the gather captures nothing
	Hangup   bool
	State    session.State
}

// Stats are cumulative counters since start.
type Stats struct {
	Calls              int64
	Turns              int64
	InferenceFailures  int64
	SynthesisFallbacks int64
	Faults             int64
	Hangups            int64
}

// Controller is the per-event state machine. It is safe for concurrent use
// across calls; the telephony provider serializes events within a call.
type Controller struct {
	sessions *session.Registry
	dialogue Responder
	tts      Synthesizer
	links    Linker
	log      Log
	opts     Options
	logger   *slog.Logger

	calls              atomic.Int64
	turns              atomic.Int64
	inferenceFailures  atomic.Int64
	synthesisFallbacks atomic.Int64
	faults             atomic.Int64
	hangups            atomic.Int64
}

// NewController wires a Controller. log may be nil.
func NewController(sessions *session.Registry, d Responder, tts Synthesizer, links Linker, log Log, opts Options, logger *slog.Logger) *Controller {
	if opts.GatherAction == "" {
		opts.GatherAction = "/call/process_speech"
	}
	if opts.SilenceTarget == "" {
		opts.SilenceTarget = "/call/incoming"
	}
	if opts.ReplyTarget == "" {
		opts.ReplyTarget = opts.GatherAction
	}
	return &Controller{
		sessions: sessions,
		dialogue: d,
		tts:      tts,
		links:    links,
		log:      log,
		opts:     opts,
		logger:   logger.With("subsystem", "call"),
	}
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Calls:              c.calls.Load(),
		Turns:              c.turns.Load(),
		InferenceFailures:  c.inferenceFailures.Load(),
		SynthesisFallbacks: c.synthesisFallbacks.Load(),
		Faults:             c.faults.Load(),
		Hangups:            c.hangups.Load(),
	}
}

// Handle processes one event for the call and returns the instruction to
// render. origin is the externally visible scheme://host used for audio
// links. Handle never fails: internal errors become a spoken apology
// followed by a fresh gather.
func (c *Controller) Handle(ctx context.Context, ev Event, origin string) (ins Instruction) {
	logger := c.logger.With("call_id", ev.CallID, "event", ev.Kind.String())

	if ev.Kind == EventCallEnded {
		return c.end(ctx, ev, logger)
	}

	s, created := c.sessions.Claim(ev.CallID)
	if created && ev.Kind == EventSpeechCaptured {
		logger.Warn("no session for call, starting a new one")
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic handling call event", "panic", rec, "stack", string(debug.Stack()))
			ins = c.fault(s)
		}
	}()

	st := decide(s.State(), ev)
	switch st {
	case stepGreet:
		if created {
			c.calls.Add(1)
			c.record(logger, "call started", c.logStart(ctx, ev))
		}
		return c.finish(s, c.speak(ctx, s, c.opts.Greeting, origin), c.opts.SilenceTarget, false)

	case stepReprompt:
		logger.Info("no speech captured, re-prompting")
		return c.finish(s, c.speak(ctx, s, RepromptText, origin), c.opts.ReplyTarget, false)

	case stepRespond:
		return c.respond(ctx, s, strings.TrimSpace(ev.Transcript), origin, logger)

	default: // stepHangup
		return c.finish(s, Instruction{}, "", true)
	}
}

// respond runs one full caller turn.
func (c *Controller) respond(ctx context.Context, s *session.CallSession, text, origin string, logger *slog.Logger) Instruction {
	logger.Info("processing speech", "transcript", text)

	reply, err := c.dialogue.Respond(ctx, s, text)
	if err != nil {
		if !errors.Is(err, dialogue.ErrInference) {
			logger.Error("unexpected dialogue error", "error", err)
			return c.fault(s)
		}
		c.inferenceFailures.Add(1)
		logger.Error("dialogue engine failed", "error", err)
		if c.exhausted(s) {
			return c.hangup(ctx, s, origin, logger)
		}
		return c.finish(s, c.speak(ctx, s, ApologyText, origin), c.opts.ReplyTarget, false)
	}

	s.Append(text, reply)
	s.ResetFailures()
	c.turns.Add(1)
	c.record(logger, "turn recorded", c.logTurn(ctx, s.ID, text, reply))
	logger.Info("reply generated", "reply", reply, "turns", s.TurnCount())

	return c.finish(s, c.speak(ctx, s, reply, origin), c.opts.ReplyTarget, false)
}

// fault handles any unexpected failure. The apology is spoken as plain text
// because synthesis itself may be what failed.
func (c *Controller) fault(s *session.CallSession) Instruction {
	c.faults.Add(1)
	if c.exhausted(s) {
		return c.finish(s, Instruction{Text: GoodbyeText}, "", true)
	}
	return c.finish(s, Instruction{Text: FaultText}, c.opts.ReplyTarget, false)
}

// hangup ends the call after too many failed turns.
func (c *Controller) hangup(ctx context.Context, s *session.CallSession, origin string, logger *slog.Logger) Instruction {
	logger.Warn("too many failed turns, ending call", "max_failures", c.opts.MaxFailures)
	return c.finish(s, c.speak(ctx, s, GoodbyeText, origin), "", true)
}

// exhausted records a failed turn and reports whether the failure bound
// has been reached.
func (c *Controller) exhausted(s *session.CallSession) bool {
	n := s.RecordFailure()
	return c.opts.MaxFailures > 0 && n >= c.opts.MaxFailures
}

// speak synthesizes text and returns an instruction that plays the audio,
// or speaks the text when synthesis failed.
func (c *Controller) speak(ctx context.Context, s *session.CallSession, text, origin string) Instruction {
	if a := c.tts.Synthesize(ctx, text, s.ID); a != nil {
		return Instruction{AudioURL: c.links.URL(*a, origin), Text: text}
	}
	c.synthesisFallbacks.Add(1)
	return Instruction{Text: text}
}

// finish arms the gather (or the hangup) and moves the session to the
// resulting state.
func (c *Controller) finish(s *session.CallSession, ins Instruction, redirect string, hangup bool) Instruction {
	if hangup {
		ins.Hangup = true
		ins.State = session.StateEnded
		c.hangups.Add(1)
	} else {
		ins.Gather = true
		ins.Action = c.opts.GatherAction
		ins.Redirect = redirect
		ins.State = session.StateAwaitingSpeech
	}
	s.SetState(ins.State)
	return ins
}

// end handles the provider's call-ended notification.
func (c *Controller) end(ctx context.Context, ev Event, logger *slog.Logger) Instruction {
	if s, ok := c.sessions.Get(ev.CallID); ok {
		s.SetState(session.StateEnded)
		logger.Info("call ended", "status", ev.Status, "turns", s.TurnCount())
	}
	c.sessions.Remove(ev.CallID)
	c.record(logger, "call end recorded", c.logEnd(ctx, ev))
	return Instruction{State: session.StateEnded}
}

func (c *Controller) logStart(ctx context.Context, ev Event) error {
	if c.log == nil {
		return nil
	}
	return c.log.CallStarted(ctx, ev.CallID, ev.From, ev.To)
}

func (c *Controller) logTurn(ctx context.Context, callID, caller, assistant string) error {
	if c.log == nil {
		return nil
	}
	return c.log.TurnRecorded(ctx, callID, caller, assistant)
}

func (c *Controller) logEnd(ctx context.Context, ev Event) error {
	if c.log == nil {
		return nil
	}
	return c.log.CallEnded(ctx, ev.CallID, ev.Status)
}

func (c *Controller) record(logger *slog.Logger, what string, err error) {
	if err != nil {
		logger.Warn(fmt.Sprintf("call log: %s failed", what), "error", err)
	}
}
