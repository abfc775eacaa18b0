package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// decodeEnvelope checks the JSON content type and returns the decoded body.
func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v\n%s", err, rr.Body.String())
	}
	return body
}

func TestWriteJSONWrapsSessionSummary(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"status": "ok", "active_sessions": 3})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	if _, ok := body["error"]; ok {
		t.Errorf("success response carries an error field: %s", rr.Body.String())
	}
	var data struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(body["data"], &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Status != "ok" || data.ActiveSessions != 3 {
		t.Errorf("data = %+v", data)
	}
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		msg    string
	}{
		{http.StatusBadRequest, "status is not a known call status"},
		{http.StatusNotFound, "call not found"},
		{http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, tt.status, tt.msg)

		if rr.Code != tt.status {
			t.Errorf("status = %d, want %d", rr.Code, tt.status)
		}
		body := decodeEnvelope(t, rr)
		var msg string
		json.Unmarshal(body["error"], &msg) //nolint:errcheck
		if msg != tt.msg {
			t.Errorf("error = %q, want %q", msg, tt.msg)
		}
		if string(body["data"]) != "null" {
			t.Errorf("data = %s, want null", body["data"])
		}
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"", defaultLimit, 0, ""},
		{"limit=50&offset=10", 50, 10, ""},
		{"limit=500", maxLimit, 0, ""},
		{"offset=0", defaultLimit, 0, ""},
		{"limit=abc", 0, 0, "limit must be a positive integer"},
		{"limit=0", 0, 0, "limit must be a positive integer"},
		{"limit=-5", 0, 0, "limit must be a positive integer"},
		{"offset=abc", 0, 0, "offset must be a non-negative integer"},
		{"offset=-1", 0, 0, "offset must be a non-negative integer"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/calls?"+tt.query, nil)
			p, errMsg := parsePagination(r)
			if errMsg != tt.wantErr {
				t.Fatalf("error = %q, want %q", errMsg, tt.wantErr)
			}
			if tt.wantErr != "" {
				return
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("pagination = %+v, want limit %d offset %d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestPaginatedCallPage(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, PaginatedResponse{
		Items:  []callResponse{{CallSID: "CA1", Status: "completed"}, {CallSID: "CA2", Status: "in-progress", Active: true}},
		Total:  7,
		Limit:  2,
		Offset: 4,
	})

	var page struct {
		Items  []callResponse `json:"items"`
		Total  int            `json:"total"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rr)["data"], &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 7 || page.Limit != 2 || page.Offset != 4 {
		t.Errorf("page meta = %+v", page)
	}
	if len(page.Items) != 2 || page.Items[1].CallSID != "CA2" || !page.Items[1].Active {
		t.Errorf("items = %+v", page.Items)
	}
	if !strings.Contains(rr.Body.String(), `"ended_at":null`) {
		t.Errorf("open calls should report ended_at null: %s", rr.Body.String())
	}
}

func TestWriteMarkup(t *testing.T) {
	rr := httptest.NewRecorder()
	writeMarkup(rr, "<Response></Response>")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected content-type application/xml, got %q", ct)
	}
	if rr.Body.String() != "<Response></Response>" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}
