package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/llm"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type chatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Message) == "" {
		s.fail(w, r, badRequest("user_id and message are required"))
		return
	}

	var history []llm.Message
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	} else {
		msgs, err := s.ownedSession(r.Context(), req.SessionID, req.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, m := range msgs {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	model := req.Model
	if model == "" {
		model = s.chatModel
	}
	completion, err := llm.Chat(r.Context(), s.llm, history, req.Message, model, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	for _, m := range []backend.ChatMessage{
		{SessionID: req.SessionID, UserID: req.UserID, Role: llm.RoleUser, Content: req.Message},
		{SessionID: req.SessionID, UserID: req.UserID, Role: llm.RoleAssistant, Content: completion.Content},
	} {
		if _, err := s.backend.AppendMessage(r.Context(), &m); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Reply: completion.Content})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.backend.ListMessages(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (s *Server) handleChatSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.fail(w, r, badRequest("user_id is required"))
		return
	}
	sessions, err := s.backend.ListSessions(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// ownedSession returns the messages of sessionID, failing when any of them
// was written by a user other than userID.
func (s *Server) ownedSession(ctx context.Context, sessionID, userID string) ([]backend.ChatMessage, error) {
	msgs, err := s.backend.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.UserID != userID {
			return nil, badRequest("session belongs to another user")
		}
	}
	return msgs, nil
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.fail(w, r, badRequest("user_id is required"))
		return
	}
	if _, err := s.ownedSession(r.Context(), sessionID, userID); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.backend.DeleteSession(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
