package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/wake/internal/dialogue"
	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/version"
)

// maxBodySize bounds request bodies
const maxBodySize = 1 << 20

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message    string `json:"message"`
	DialogueID string `json:"dialogue_id,omitempty"`
}

// StatusResponse answers control requests
type StatusResponse struct {
	Status     string `json:"status"`
	DialogueID string `json:"dialogue_id,omitempty"`
}

// SessionResponse answers session creation
type SessionResponse struct {
	DialogueID string `json:"dialogue_id"`
}

// SessionsResponse lists tracked sessions
type SessionsResponse struct {
	Sessions []dialogue.Session `json:"sessions"`
	Active   int                `json:"active"`
	Max      int                `json:"max"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "wake",
		"version":   s.config.Version,
		"commit":    version.GitCommit,
		"listening": s.voice != nil && s.voice.Running(),
	})
}

// handleChat streams the reply to one message. Without a dialogue id a
// session is created first; its id is returned in X-Dialogue-Id.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(fault.CodeInvalidInput), "Invalid JSON", err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, string(fault.CodeInvalidInput), "Message required", "")
		return
	}

	id := req.DialogueID
	if id == "" {
		created, err := s.dialogues.Create()
		if err != nil {
			s.writeFault(w, err)
			return
		}
		id = created
	}

	w.Header().Set("X-Dialogue-Id", id)
	s.stream(w, r, s.chat, s.dialogues.Send(r.Context(), id, req.Message))
}

func (s *Server) handleStopDialogue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.dialogues.Get(id); !ok {
		s.writeFault(w, dialogue.ErrNotFound)
		return
	}
	s.dialogues.InterruptCurrent()
	if err := s.dialogues.Complete(id); err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "stopped"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.dialogues.Create()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, SessionResponse{DialogueID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	active, max := s.dialogues.Usage()
	s.writeJSON(w, http.StatusOK, SessionsResponse{Sessions: s.dialogues.List(), Active: active, Max: max})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.dialogues.Get(r.PathValue("id"))
	if !ok {
		s.writeFault(w, dialogue.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleStartVoice opens a session for the spoken conversation and starts
// capture. A running pipeline is left as is.
func (s *Server) handleStartVoice(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		s.writeError(w, http.StatusServiceUnavailable, "voice_unavailable", "Voice input is not configured", "")
		return
	}
	id, err := s.dialogues.Create()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	if err := s.voice.Start(); err != nil {
		s.logger.Error("failed to start voice capture", "error", err)
		if cerr := s.dialogues.Complete(id); cerr != nil {
			s.logger.Warn("failed to release voice session", "dialogue", id, "error", cerr)
		}
		s.writeError(w, http.StatusInternalServerError, string(fault.GetCode(err)), "Failed to start listening", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "started", DialogueID: id})
}

func (s *Server) handleStopVoice(w http.ResponseWriter, r *http.Request) {
	if s.voice != nil {
		s.voice.Stop()
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "stopped"})
}

func (s *Server) handleVoiceEvents(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		s.writeError(w, http.StatusServiceUnavailable, "voice_unavailable", "Voice input is not configured", "")
		return
	}
	s.stream(w, r, s.events, s.voice.Events())
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history_disabled", "Transcript store is disabled", "")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, string(fault.CodeInvalidInput), "Invalid limit", v)
			return
		}
		limit = n
	}
	sessions, err := s.history.Sessions(r.Context(), limit)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history_disabled", "Transcript store is disabled", "")
		return
	}
	id := r.PathValue("id")
	turns, err := s.history.Turns(r.Context(), id)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"dialogue_id": id, "turns": turns})
}

// stream relays src as Server-Sent Events. The write deadline is lifted
// because streams outlive the server's write timeout.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, rl *relay.Relay, src relay.Source) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("could not clear write deadline", "error", err)
	}
	res := rl.Serve(w, r, src)
	s.logger.Debug("stream finished",
		"path", r.URL.Path,
		"frames", res.Frames,
		"keepalives", res.Keepalives,
		"last", res.Last,
		"disconnected", res.Disconnected)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, details string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeFault maps a fault to its HTTP status
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	msg := err.Error()
	var f *fault.Error
	if errors.As(err, &f) {
		msg = f.Message()
	}
	s.writeError(w, fault.HTTPStatus(err), string(fault.GetCode(err)), msg, "")
}
