package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/logger"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("user already registered")
	ErrBackend            = errors.New("backend error")
)

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	LLMOutput string    `json:"llm_output"`
	CreatedAt time.Time `json:"created_at"`
}

// CommitRecord is one materialized commit of a generated project.
type CommitRecord struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Sequence  int             `json:"sequence"`
	Message   string          `json:"message"`
	FileCount int             `json:"file_count"`
	Results   json.RawMessage `json:"results,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession summarizes one conversation of a user.
type ChatSession struct {
	ID           string    `json:"session_id"`
	LastMessage  string    `json:"last_message"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is what a successful signup or login returns. AccessToken is empty
// when the provider requires email confirmation first.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	User         User   `json:"user"`
}

type Store interface {
	InsertProject(ctx context.Context, p *Project) (*Project, error)
	// GetProject returns the most recent project of userID called name.
	GetProject(ctx context.Context, userID, name string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
	InsertCommit(ctx context.Context, c *CommitRecord) (*CommitRecord, error)
	ListCommits(ctx context.Context, projectID string) ([]CommitRecord, error)
	AppendMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)
	ListSessions(ctx context.Context, userID string) ([]ChatSession, error)
	// DeleteSession removes every message of a session and returns how many were removed.
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

type Auth interface {
	SignUp(ctx context.Context, email, password string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
}

// Backend is the hosted (or local) persistence and identity provider.
type Backend interface {
	Store
	Auth
	Close() error
}

// New opens the backend selected by cfg.Driver.
func New(cfg config.BackendConfig, l logger.Logger) (Backend, error) {
	switch cfg.Driver {
	case config.DriverSupabase:
		b, err := NewSupabase(cfg.URL, cfg.Key, nil, l)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.DriverSQLite:
		b, err := NewSQLite(cfg.SQLitePath, l)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend driver: %s", cfg.Driver)
	}
}

// summarizeSessions groups messages ordered newest first into sessions.
func summarizeSessions(msgs []ChatMessage) []ChatSession {
	var sessions []ChatSession
	index := map[string]int{}
	for _, m := range msgs {
		i, ok := index[m.SessionID]
		if !ok {
			index[m.SessionID] = len(sessions)
			sessions = append(sessions, ChatSession{
				ID:          m.SessionID,
				LastMessage: m.Content,
				UpdatedAt:   m.CreatedAt,
			})
			i = len(sessions) - 1
		}
		sessions[i].MessageCount++
	}
	return sessions
}
