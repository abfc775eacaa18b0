package api

import (
	"net/http"
	"strings"

	"github.com/flowpbx/callagent/internal/api/middleware"
	"github.com/flowpbx/callagent/internal/call"
	"github.com/flowpbx/callagent/internal/twiml"
)

// handleIncoming answers a new call, and the greeting's no-input redirect,
// with the greeting and a speech gather.
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.webhookEvent(w, r, call.EventCallStarted)
	if !ok {
		return
	}
	ev.From = r.PostForm.Get("From")
	ev.To = r.PostForm.Get("To")

	s.logger.Info("incoming call", "call_id", ev.CallID, "from", ev.From, "to", ev.To)
	s.respond(w, r, ev)
}

// handleProcessSpeech runs one conversational turn for the captured speech.
func (s *Server) handleProcessSpeech(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.webhookEvent(w, r, call.EventSpeechCaptured)
	if !ok {
		return
	}
	ev.Transcript = r.PostForm.Get("SpeechResult")
	s.respond(w, r, ev)
}

// handleStatus receives the provider's call status callbacks. Terminal
// statuses end the call; the rest are only logged.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.webhookEvent(w, r, call.EventCallEnded)
	if !ok {
		return
	}
	ev.Status = strings.ToLower(r.PostForm.Get("CallStatus"))

	if terminalStatuses[ev.Status] {
		s.deps.Calls.Handle(r.Context(), ev, "")
	} else {
		s.logger.Debug("call status update", "call_id", ev.CallID, "status", ev.Status)
	}
	w.WriteHeader(http.StatusNoContent)
}

// webhookEvent parses the form and builds the event skeleton. It writes a
// 400 and returns false when the request carries no usable call id.
func (s *Server) webhookEvent(w http.ResponseWriter, r *http.Request, kind call.EventKind) (call.Event, bool) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("unreadable webhook form", "path", r.URL.Path, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return call.Event{}, false
	}
	sid := strings.TrimSpace(r.PostForm.Get("CallSid"))
	if msg := validateCallSID("CallSid", sid); msg != "" {
		s.logger.Warn("rejecting webhook", "path", r.URL.Path, "reason", msg)
		http.Error(w, msg, http.StatusBadRequest)
		return call.Event{}, false
	}
	middleware.SetCallID(r.Context(), sid)
	return call.Event{Kind: kind, CallID: sid}, true
}

// respond hands ev to the controller and writes the resulting markup.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, ev call.Event) {
	origin := middleware.RequestOrigin(r, s.cfg.PublicURL)
	ins := s.deps.Calls.Handle(r.Context(), ev, origin)

	doc, err := s.deps.Renderer.Render(ins)
	if err != nil {
		s.logger.Error("failed to render call markup", "call_id", ev.CallID, "error", err)
		doc = twiml.Say(call.FaultText)
	}
	writeMarkup(w, doc)
}

// markupFault answers a webhook whose handler panicked.
func (s *Server) markupFault(w http.ResponseWriter, r *http.Request) {
	writeMarkup(w, twiml.Say(call.FaultText))
}
