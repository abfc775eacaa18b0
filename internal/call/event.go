package call

import (
	"strings"

	"github.com/flowpbx/callagent/internal/session"
)

// EventKind identifies a telephony signaling event.
type EventKind int

const (
	EventCallStarted    EventKind = iota // call answered, or the greeting gather heard nothing
	EventSpeechCaptured                  // the provider transcribed caller speech (possibly empty)
	EventCallEnded                       // the provider reports the call is over
)

func (k EventKind) String() string {
	switch k {
	case EventCallStarted:
		return "call_started"
	case EventSpeechCaptured:
		return "speech_captured"
	case EventCallEnded:
		return "call_ended"
	default:
		return "unknown"
	}
}

// Event is one inbound signaling event for a call.
type Event struct {
	Kind       EventKind
	CallID     string
	From       string
	To         string
	Transcript string // SpeechCaptured only
	Status     string // CallEnded only
}

// step is the handling chosen for an event.
type step int

const (
	stepGreet step = iota
	stepReprompt
	stepRespond
	stepHangup
)

// decide picks the handling for ev given the session's current state. It
// has no side effects.
func decide(state session.State, ev Event) step {
	if state == session.StateEnded {
		return stepHangup
	}
	switch ev.Kind {
	case EventCallStarted:
		return stepGreet
	case EventSpeechCaptured:
		if strings.TrimSpace(ev.Transcript) == "" {
			return stepReprompt
		}
		return stepRespond
	default:
		return stepHangup
	}
}
