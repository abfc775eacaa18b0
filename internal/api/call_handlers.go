package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/callagent/internal/database"
	"github.com/flowpbx/callagent/internal/database/models"
)

// callResponse is the JSON response for a logged call.
type callResponse struct {
	ID        int64   `json:"id"`
	CallSID   string  `json:"call_sid"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Status    string  `json:"status"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at"`
	TurnCount int     `json:"turn_count"`
	Active    bool    `json:"active"`
}

// turnResponse is the JSON response for one turn of a call.
type turnResponse struct {
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// callDetailResponse is a call with its transcript.
type callDetailResponse struct {
	callResponse
	Turns []turnResponse `json:"turns"`
}

// toCallResponse converts a models.Call to the API response.
func toCallResponse(c *models.Call, active map[string]bool) callResponse {
	resp := callResponse{
		ID:        c.ID,
		CallSID:   c.CallSID,
		From:      c.From,
		To:        c.To,
		Status:    c.Status,
		StartedAt: c.StartedAt.Format(time.RFC3339),
		TurnCount: c.TurnCount,
		Active:    active[c.CallSID],
	}
	if c.EndedAt != nil {
		t := c.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &t
	}
	return resp
}

// activeCalls returns the ids of calls with a live session.
func (s *Server) activeCalls() map[string]bool {
	active := make(map[string]bool)
	for _, sum := range s.deps.Sessions.Snapshot() {
		active[sum.CallID] = true
	}
	return active
}

// handleListCalls returns the call log with pagination.
// Query params: limit, offset, status.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	status := r.URL.Query().Get("status")
	if msg := validateStatusFilter("status", status); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	calls, total, err := s.deps.CallLog.List(r.Context(), database.CallListFilter{
		Limit:  pg.Limit,
		Offset: pg.Offset,
		Status: status,
	})
	if err != nil {
		s.logger.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	active := s.activeCalls()
	items := make([]callResponse, len(calls))
	for i := range calls {
		items[i] = toCallResponse(&calls[i], active)
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns one call and its transcript.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if msg := validateCallSID("sid", sid); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := s.deps.CallLog.GetByCallSID(r.Context(), sid)
	if err != nil {
		s.logger.Error("get call: failed to query", "error", err, "call_id", sid)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	turns, err := s.deps.CallLog.Turns(r.Context(), sid)
	if err != nil {
		s.logger.Error("get call: failed to query turns", "error", err, "call_id", sid)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := callDetailResponse{
		callResponse: toCallResponse(c, s.activeCalls()),
		Turns:        make([]turnResponse, len(turns)),
	}
	for i, t := range turns {
		resp.Turns[i] = turnResponse{
			Seq:       t.Seq,
			Role:      t.Role,
			Text:      t.Text,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListSessions returns the sessions currently held in memory.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.Snapshot())
}
