package database

import (
	"context"

	"github.com/flowpbx/callagent/internal/database/models"
)

// CallListFilter specifies pagination for call log queries.
type CallListFilter struct {
	Limit  int
	Offset int
	Status string // exact match, or "" for all
}

// CallLogRepository records calls and their turns.
type CallLogRepository interface {
	CallStarted(ctx context.Context, callSID, from, to string) error
	TurnRecorded(ctx context.Context, callSID, callerText, assistantText string) error
	CallEnded(ctx context.Context, callSID, status string) error
	GetByCallSID(ctx context.Context, callSID string) (*models.Call, error)
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
	Turns(ctx context.Context, callSID string) ([]models.CallTurn, error)
	Count(ctx context.Context) (int64, error)
}
