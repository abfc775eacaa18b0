package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowpbx/callagent/internal/session"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-3.5-turbo",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"logprobs":      nil,
			"message":       map[string]any{"role": "assistant", "content": content, "refusal": ""},
		}},
	})
	return string(body)
}

func newTestEngine(t *testing.T, systemPrompt string, handler http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEngine(Config{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/v1/",
		SystemPrompt: systemPrompt,
		Timeout:      time.Second,
		MaxRetries:   0,
	}, slog.Default())
}

func TestRespondSendsHistoryThenCallerText(t *testing.T) {
	var got chatRequest
	engine := newTestEngine(t, "", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion("We're open 9 to 5"))
	})

	reg := session.NewRegistry(slog.Default())
	s := reg.GetOrCreate("CA123")
	s.Append("Hi", "Hello, how can I help?")

	reply, err := engine.Respond(context.Background(), s, "What are your hours?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "We're open 9 to 5" {
		t.Errorf("reply = %q", reply)
	}

	if got.Model != "gpt-3.5-turbo" {
		t.Errorf("model = %q", got.Model)
	}
	want := []struct{ role, content string }{
		{"user", "Hi"},
		{"assistant", "Hello, how can I help?"},
		{"user", "What are your hours?"},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(got.Messages), len(want))
	}
	for i, w := range want {
		if got.Messages[i].Role != w.role || fmt.Sprint(got.Messages[i].Content) != w.content {
			t.Errorf("message %d = %s/%v, want %s/%s", i, got.Messages[i].Role, got.Messages[i].Content, w.role, w.content)
		}
	}

	// Respond must not touch the session history.
	if s.TurnCount() != 2 {
		t.Errorf("session has %d turns after Respond, want 2", s.TurnCount())
	}
}

func TestRespondPrependsSystemPrompt(t *testing.T) {
	var got chatRequest
	engine := newTestEngine(t, "You are a receptionist.", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion("ok"))
	})

	s := session.NewRegistry(slog.Default()).GetOrCreate("CA1")
	if _, err := engine.Respond(context.Background(), s, "hello"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %+v", got.Messages)
	}
}

func TestRespondFailuresAreInferenceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{not json`)
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
		}},
		{"empty reply", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completion("  "))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, "", tt.handler)
			s := session.NewRegistry(slog.Default()).GetOrCreate("CA1")

			reply, err := engine.Respond(context.Background(), s, "hello")
			if err == nil {
				t.Fatalf("expected error, got reply %q", reply)
			}
			if !errors.Is(err, ErrInference) {
				t.Fatalf("error %v does not wrap ErrInference", err)
			}
			if reply != "" {
				t.Errorf("reply = %q, want empty on failure", reply)
			}
		})
	}
}
