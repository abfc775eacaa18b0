package session

import (
	"sync"
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role Role
	Text string
}

// State is the call turn controller's position for a call.
type State int

const (
	StateAwaitingGreeting State = iota // call known, greeting not yet rendered
	StateAwaitingSpeech                // a gather is armed
	StateEnded                         // call finished, no further turns
)

func (s State) String() string {
	switch s {
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateAwaitingSpeech:
		return "awaiting_speech"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallSession is the conversational state of one phone call. The turn
// history is append-only: callers can only add a caller/assistant pair or
// read a copy.
type CallSession struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	turns        []Turn
	state        State
	failures     int
	lastActivity time.Time
}

func newCallSession(id string, now time.Time) *CallSession {
	return &CallSession{
		ID:           id,
		CreatedAt:    now,
		lastActivity: now,
		state:        StateAwaitingGreeting,
	}
}

// Turns returns a copy of the conversation history in chronological order.
func (s *CallSession) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// TurnCount returns the number of recorded turns.
func (s *CallSession) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Append records a completed exchange: the caller's utterance followed by the
// assistant's reply. Both are added under one lock so the pair is never
// observed half-written.
func (s *CallSession) Append(callerText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns,
		Turn{Role: RoleCaller, Text: callerText},
		Turn{Role: RoleAssistant, Text: assistantText},
	)
}

// State returns the current controller state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to a new state.
func (s *CallSession) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RecordFailure increments the consecutive failure counter and returns the
// new value.
func (s *CallSession) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// ResetFailures clears the consecutive failure counter after a good turn.
func (s *CallSession) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// Touch marks the session as used at the given time.
func (s *CallSession) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// LastActivity returns when the session was last used.
func (s *CallSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
