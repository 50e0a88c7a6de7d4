package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrenanferrari/genesis/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupabase(t *testing.T, handler http.HandlerFunc) *Supabase {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewSupabase(srv.URL+"/", "service-key", srv.Client(), nil)
	require.NoError(t, err)
	return s
}

func TestNewSupabaseRequiresCredentials(t *testing.T) {
	_, err := NewSupabase("", "key", nil, nil)
	assert.Error(t, err)
	_, err = New(config.BackendConfig{Driver: "mongo"}, nil)
	assert.Error(t, err)
}

func TestSupabaseInsertProject(t *testing.T) {
	var got map[string]any
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/projects", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("[" + string(body) + "]"))
	})

	p, err := s.InsertProject(context.Background(), &Project{UserID: "u1", Name: "todo", Prompt: "a todo app", LLMOutput: "code"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "code", p.LLMOutput)
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "a todo app", got["prompt"])
	assert.Contains(t, got, "created_at")
}

func TestSupabaseGetProject(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "1", q.Get("limit"))
		if q.Get("name") == "eq.missing" {
			w.Write([]byte("[]"))
			return
		}
		w.Write([]byte(`[{"id":"p1","user_id":"u1","name":"todo","prompt":"x","llm_output":"","created_at":"2025-01-01T00:00:00.123456+00:00"}]`))
	})

	p, err := s.GetProject(context.Background(), "u1", "todo")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 2025, p.CreatedAt.Year())

	_, err = s.GetProject(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabaseRESTError(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"42P01","message":"relation \"public.projects\" does not exist"}`))
	})

	_, err := s.ListProjects(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorContains(t, err, "42P01")
}

func TestSupabaseSessions(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "session_id,content,created_at", r.URL.Query().Get("select"))
			w.Write([]byte(`[
				{"session_id":"s2","content":"latest","created_at":"2025-01-01T00:03:00Z"},
				{"session_id":"s1","content":"reply","created_at":"2025-01-01T00:02:00Z"},
				{"session_id":"s1","content":"hello","created_at":"2025-01-01T00:01:00Z"}
			]`))
		case http.MethodDelete:
			assert.Equal(t, "eq.s1", r.URL.Query().Get("session_id"))
			w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
		}
	})

	sessions, err := s.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, ChatSession{ID: "s2", LastMessage: "latest", MessageCount: 1, UpdatedAt: sessions[0].UpdatedAt}, sessions[0])
	assert.Equal(t, 2, sessions[1].MessageCount)
	assert.Equal(t, "reply", sessions[1].LastMessage)

	n, err := s.DeleteSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSupabaseSignUp(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantToken string
		wantUser  string
	}{
		{"session", 200, `{"access_token":"jwt","token_type":"bearer","expires_in":3600,"refresh_token":"r","user":{"id":"u1","email":"a@b.c"}}`, nil, "jwt", "u1"},
		{"confirmation required", 200, `{"id":"u2","email":"a@b.c","confirmation_sent_at":"2025-01-01T00:00:00Z"}`, nil, "", "u2"},
		{"exists", 422, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`, ErrUserExists, "", ""},
		{"weak password", 400, `{"code":400,"error_code":"weak_password","msg":"Password should be at least 6 characters"}`, ErrBackend, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/signup", r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "a@b.c", body["email"])
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			session, err := s.SignUp(context.Background(), "a@b.c", "secret")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, session.AccessToken)
			assert.Equal(t, tt.wantUser, session.User.ID)
		})
	}
}

func TestSupabaseLogin(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "right" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		w.Write([]byte(`{"access_token":"jwt","token_type":"bearer","expires_in":3600,"user":{"id":"u1","email":"a@b.c"}}`))
	})

	session, err := s.Login(context.Background(), "a@b.c", "right")
	require.NoError(t, err)
	assert.Equal(t, "jwt", session.AccessToken)
	assert.Equal(t, "a@b.c", session.User.Email)

	_, err = s.Login(context.Background(), "a@b.c", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
