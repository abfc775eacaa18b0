package models

import "time"

// Call is the log record of one telephony call.
type Call struct {
	ID        int64
	CallSID   string
	From      string
	To        string
	Status    string // "in-progress" until the provider reports the outcome
	StartedAt time.Time
	EndedAt   *time.Time
	TurnCount int
}

// CallTurn is one utterance within a call.
type CallTurn struct {
	ID        int64
	CallSID   string
	Seq       int
	Role      string // "caller" or "assistant"
	Text      string
	CreatedAt time.Time
}
