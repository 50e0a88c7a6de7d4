package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devrenanferrari/genesis/logger"
	"github.com/google/uuid"
)

const (
	tableProjects = "projects"
	tableCommits  = "project_commits"
	tableMessages = "chat_messages"
)

type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// goTrueError covers both the legacy and the current auth error bodies.
type goTrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
}

func (e goTrueError) message() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// goTrueResponse is a session, or a bare user when signup needs confirmation.
type goTrueResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user"`
	ID           string `json:"id"`
	Email        string `json:"email"`
}

// Supabase talks to a Supabase project through its REST (PostgREST) and auth (GoTrue) APIs.
type Supabase struct {
	url        string
	key        string
	httpClient *http.Client
	logger     logger.Logger
}

func NewSupabase(baseURL, key string, httpClient *http.Client, l logger.Logger) (*Supabase, error) {
	if baseURL == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Supabase{
		url:        strings.TrimSuffix(baseURL, "/"),
		key:        key,
		httpClient: httpClient,
		logger:     l.WithField("component", "supabase"),
	}, nil
}

func (s *Supabase) Close() error { return nil }

func (s *Supabase) newRequest(ctx context.Context, method, path string, query url.Values, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}
	endpoint := s.url + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send performs req and returns the body of a 2xx response.
func (s *Supabase) send(req *http.Request) (int, []byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: error sending request: %w", ErrBackend, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: error reading response: %w", ErrBackend, err)
	}
	return resp.StatusCode, respBody, nil
}

// rest runs a PostgREST call against table and decodes the returned rows into out.
func (s *Supabase) rest(ctx context.Context, method, table string, query url.Values, in, out any) error {
	req, err := s.newRequest(ctx, method, "/rest/v1/"+table, query, in)
	if err != nil {
		return err
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	status, body, err := s.send(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		detail := string(body)
		var pgErr postgrestError
		if err := json.Unmarshal(body, &pgErr); err == nil && pgErr.Message != "" {
			detail = pgErr.Code + " - " + pgErr.Message
		}
		s.logger.WithField("table", table).WithField("status", status).Error("PostgREST request failed")
		return fmt.Errorf("%w (status %d): %s", ErrBackend, status, detail)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: error unmarshaling %s rows: %w", ErrBackend, table, err)
	}
	return nil
}

// insert posts row and decodes the single stored row back into out.
func insert[T any](ctx context.Context, s *Supabase, table string, row *T) (*T, error) {
	var rows []T
	if err := s.rest(ctx, http.MethodPost, table, nil, row, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return row, nil
	}
	return &rows[0], nil
}

func eq(v string) []string { return []string{"eq." + v} }

func (s *Supabase) InsertProject(ctx context.Context, p *Project) (*Project, error) {
	stamp(&p.ID, &p.CreatedAt)
	return insert(ctx, s, tableProjects, p)
}

func (s *Supabase) GetProject(ctx context.Context, userID, name string) (*Project, error) {
	var rows []Project
	query := url.Values{
		"user_id": eq(userID),
		"name":    eq(name),
		"order":   {"created_at.desc"},
		"limit":   {"1"},
	}
	if err := s.rest(ctx, http.MethodGet, tableProjects, query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *Supabase) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows := []Project{}
	query := url.Values{"user_id": eq(userID), "order": {"created_at.desc"}}
	if err := s.rest(ctx, http.MethodGet, tableProjects, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Supabase) InsertCommit(ctx context.Context, c *CommitRecord) (*CommitRecord, error) {
	stamp(&c.ID, &c.CreatedAt)
	return insert(ctx, s, tableCommits, c)
}

func (s *Supabase) ListCommits(ctx context.Context, projectID string) ([]CommitRecord, error) {
	rows := []CommitRecord{}
	query := url.Values{"project_id": eq(projectID), "order": {"sequence.asc"}}
	if err := s.rest(ctx, http.MethodGet, tableCommits, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Supabase) AppendMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error) {
	stamp(&m.ID, &m.CreatedAt)
	return insert(ctx, s, tableMessages, m)
}

func (s *Supabase) ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows := []ChatMessage{}
	query := url.Values{"session_id": eq(sessionID), "order": {"created_at.asc"}}
	if err := s.rest(ctx, http.MethodGet, tableMessages, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Supabase) ListSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	var rows []ChatMessage
	query := url.Values{
		"user_id": eq(userID),
		"select":  {"session_id,content,created_at"},
		"order":   {"created_at.desc"},
	}
	if err := s.rest(ctx, http.MethodGet, tableMessages, query, nil, &rows); err != nil {
		return nil, err
	}
	sessions := summarizeSessions(rows)
	if sessions == nil {
		sessions = []ChatSession{}
	}
	return sessions, nil
}

func (s *Supabase) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	var rows []ChatMessage
	query := url.Values{"session_id": eq(sessionID), "select": {"id"}}
	if err := s.rest(ctx, http.MethodDelete, tableMessages, query, nil, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrNotFound
	}
	return len(rows), nil
}

func (s *Supabase) SignUp(ctx context.Context, email, password string) (*Session, error) {
	status, body, err := s.auth(ctx, "/auth/v1/signup", nil, email, password)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		gtErr := decodeGoTrueError(body)
		msg := strings.ToLower(gtErr.message())
		if status == http.StatusUnprocessableEntity || gtErr.ErrorCode == "user_already_exists" || strings.Contains(msg, "already registered") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("%w (status %d): signup failed: %s", ErrBackend, status, gtErr.message())
	}
	return decodeSession(body)
}

func (s *Supabase) Login(ctx context.Context, email, password string) (*Session, error) {
	query := url.Values{"grant_type": {"password"}}
	status, body, err := s.auth(ctx, "/auth/v1/token", query, email, password)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w (status %d): login failed: %s", ErrBackend, status, decodeGoTrueError(body).message())
	}
	return decodeSession(body)
}

func (s *Supabase) auth(ctx context.Context, path string, query url.Values, email, password string) (int, []byte, error) {
	req, err := s.newRequest(ctx, http.MethodPost, path, query, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return 0, nil, err
	}
	return s.send(req)
}

func decodeGoTrueError(body []byte) goTrueError {
	var e goTrueError
	if err := json.Unmarshal(body, &e); err != nil || e.message() == "" {
		e.Msg = string(body)
	}
	return e
}

func decodeSession(body []byte) (*Session, error) {
	var resp goTrueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling auth response: %w", ErrBackend, err)
	}
	session := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.User != nil {
		session.User = *resp.User
	} else {
		session.User = User{ID: resp.ID, Email: resp.Email}
	}
	return session, nil
}

// stamp fills in a missing id and creation time.
func stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}
