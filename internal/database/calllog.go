package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowpbx/callagent/internal/database/models"
)

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	db  *DB
	now func() time.Time
}

// NewCallLogRepository creates a new CallLogRepository.
func NewCallLogRepository(db *DB) CallLogRepository {
	return &callLogRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const callColumns = `id, call_sid, from_number, to_number, status, started_at, ended_at, turn_count`

// CallStarted inserts the call record. A repeated start for the same call
// is ignored.
func (r *callLogRepo) CallStarted(ctx context.Context, callSID, from, to string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_sid, from_number, to_number, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(call_sid) DO NOTHING`,
		callSID, from, to, r.now(),
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// TurnRecorded appends a caller utterance and the assistant's reply to the
// call. The call record is created if the start was never logged, which
// happens when a session is re-created after eviction.
func (r *callLogRepo) TurnRecorded(ctx context.Context, callSID, callerText, assistantText string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO calls (call_sid, started_at) VALUES (?, ?)
		 ON CONFLICT(call_sid) DO NOTHING`, callSID, now,
	); err != nil {
		return fmt.Errorf("ensuring call: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM call_turns WHERE call_sid = ?`, callSID,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading next turn seq: %w", err)
	}

	for i, t := range []struct{ role, text string }{
		{"caller", callerText},
		{"assistant", assistantText},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_turns (call_sid, seq, role, text, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			callSID, next+i, t.role, t.text, now,
		); err != nil {
			return fmt.Errorf("inserting %s turn: %w", t.role, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE calls SET turn_count = turn_count + 2 WHERE call_sid = ?`, callSID,
	); err != nil {
		return fmt.Errorf("updating turn count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}
	return nil
}

// CallEnded stores the final status and end time.
func (r *callLogRepo) CallEnded(ctx context.Context, callSID, status string) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_sid, status, started_at, ended_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(call_sid) DO UPDATE SET status = excluded.status, ended_at = excluded.ended_at`,
		callSID, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("ending call: %w", err)
	}
	return nil
}

// GetByCallSID returns the call with the given id, or nil if none exists.
func (r *callLogRepo) GetByCallSID(ctx context.Context, callSID string) (*models.Call, error) {
	var c models.Call
	err := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_sid = ?`, callSID,
	).Scan(&c.ID, &c.CallSID, &c.From, &c.To, &c.Status, &c.StartedAt, &c.EndedAt, &c.TurnCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}

// List returns calls newest first, along with the total count.
func (r *callLogRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE `+where+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.CallSID, &c.From, &c.To, &c.Status, &c.StartedAt, &c.EndedAt, &c.TurnCount); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}
	return calls, total, nil
}

// Turns returns the call's turns in spoken order.
func (r *callLogRepo) Turns(ctx context.Context, callSID string) ([]models.CallTurn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_sid, seq, role, text, created_at
		 FROM call_turns WHERE call_sid = ? ORDER BY seq`, callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var turns []models.CallTurn
	for rows.Next() {
		var t models.CallTurn
		if err := rows.Scan(&t.ID, &t.CallSID, &t.Seq, &t.Role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

// Count returns the number of logged calls.
func (r *callLogRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting calls: %w", err)
	}
	return n, nil
}
