package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devrenanferrari/genesis/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const tokenTTL = time.Hour

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	llm_output TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, created_at);

CREATE TABLE IF NOT EXISTS project_commits (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	message TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	results TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TEXT NOT NULL
);
`

// SQLite is a self-contained backend for local runs and tests.
type SQLite struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLite opens (and migrates) the database at path. ":memory:" keeps
// everything in memory.
func NewSQLite(path string, l logger.Logger) (*SQLite, error) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection, so ":memory:" is a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	l.WithField("path", path).Debug("SQLite backend ready")
	return &SQLite{db: db, logger: l.WithField("component", "sqlite")}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func (s *SQLite) InsertProject(ctx context.Context, p *Project) (*Project, error) {
	stamp(&p.ID, &p.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, prompt, llm_output, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Prompt, p.LLMOutput, formatTime(p.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return p, nil
}

func (s *SQLite) GetProject(ctx context.Context, userID, name string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, prompt, llm_output, created_at FROM projects
		 WHERE user_id = ? AND name = ? ORDER BY created_at DESC LIMIT 1`, userID, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *SQLite) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, prompt, llm_output, created_at FROM projects
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (*Project, error) {
	var p Project
	var created string
	if err := sc.Scan(&p.ID, &p.UserID, &p.Name, &p.Prompt, &p.LLMOutput, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *SQLite) InsertCommit(ctx context.Context, c *CommitRecord) (*CommitRecord, error) {
	stamp(&c.ID, &c.CreatedAt)
	var results sql.NullString
	if len(c.Results) > 0 {
		results = sql.NullString{String: string(c.Results), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_commits (id, project_id, sequence, message, file_count, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Sequence, c.Message, c.FileCount, results, formatTime(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert commit: %w", err)
	}
	return c, nil
}

func (s *SQLite) ListCommits(ctx context.Context, projectID string) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, sequence, message, file_count, results, created_at FROM project_commits
		 WHERE project_id = ? ORDER BY sequence ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	commits := []CommitRecord{}
	for rows.Next() {
		var c CommitRecord
		var results sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Sequence, &c.Message, &c.FileCount, &results, &created); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		if results.Valid {
			c.Results = []byte(results.String)
		}
		c.CreatedAt = parseTime(created)
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *SQLite) AppendMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error) {
	stamp(&m.ID, &m.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, formatTime(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat message: %w", err)
	}
	return m, nil
}

func (s *SQLite) queryMessages(ctx context.Context, where, order string, arg string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at FROM chat_messages WHERE `+where+` ORDER BY `+order, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLite) ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	return s.queryMessages(ctx, "session_id = ?", "created_at ASC, rowid ASC", sessionID)
}

func (s *SQLite) ListSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	msgs, err := s.queryMessages(ctx, "user_id = ?", "created_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, err
	}
	sessions := summarizeSessions(msgs)
	if sessions == nil {
		sessions = []ChatSession{}
	}
	return sessions, nil
}

func (s *SQLite) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chat session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete chat session: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return int(n), nil
}

func (s *SQLite) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{ID: uuid.NewString(), Email: email}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, string(hash), formatTime(time.Now()))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("User signed up")
	return s.issue(ctx, user)
}

func (s *SQLite) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user User
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash FROM users WHERE email = ?`, email).
		Scan(&user.ID, &user.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *SQLite) issue(ctx context.Context, user User) (*Session, error) {
	token := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, user.ID, formatTime(time.Now().Add(tokenTTL)))
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(tokenTTL.Seconds()),
		User:        user,
	}, nil
}
