package deploy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, teamID string) *VercelClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewVercelClient(config.DeployConfig{
		Token:   "vc-token",
		TeamID:  teamID,
		Target:  "production",
		BaseURL: srv.URL,
	}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "user-1-todo-app", ProjectName("User-1", "Todo App"))
	assert.Equal(t, "a-b", ProjectName("-a", "b."))
	assert.Equal(t, FallbackProjectName, ProjectName("-", "-"))
	assert.Equal(t, "a-b", ProjectName("a--", "-b"))

	long := ProjectName("u", strings.Repeat("a", 97)+".x")
	assert.Len(t, long, 99)
	assert.Equal(t, "u-"+strings.Repeat("a", 97), long)
}

func TestNewVercelClientRequiresToken(t *testing.T) {
	_, err := NewVercelClient(config.DeployConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestDeploy(t *testing.T) {
	var got deploymentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v13/deployments", r.URL.Path)
		assert.Equal(t, "team_1", r.URL.Query().Get("teamId"))
		assert.Equal(t, "1", r.URL.Query().Get("skipAutoDetectionConfirmation"))
		assert.Equal(t, "Bearer vc-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"dpl_1","url":"todo-abc.vercel.app","readyState":"QUEUED"}`))
	}, "team_1")

	d, err := c.Deploy(context.Background(), "user-1-todo", map[string]string{
		"package.json": "{}",
		"index.html":   "<h1>hi</h1>",
	})
	require.NoError(t, err)
	assert.Equal(t, "dpl_1", d.ID)
	assert.Equal(t, "QUEUED", d.ReadyState)
	assert.Equal(t, "https://todo-abc.vercel.app", d.PublicURL())

	assert.Equal(t, "user-1-todo", got.Name)
	assert.Equal(t, "production", got.Target)
	assert.Equal(t, []deploymentFile{
		{File: "index.html", Data: "<h1>hi</h1>"},
		{File: "package.json", Data: "{}"},
	}, got.Files)
}

func TestDeployErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusForbidden, `{"error":{"code":"forbidden","message":"Not authorized"}}`, ErrUnauthorized},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"bad_request","message":"Invalid files"}}`, ErrDeployFailed},
		{"server error", http.StatusInternalServerError, `oops`, ErrDeployFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, "")
			_, err := c.Deploy(context.Background(), "p", map[string]string{"a": "b"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, "")
	_, err := c.Deploy(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v13/deployments/dpl_1", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("teamId"))
		w.Write([]byte(`{"id":"dpl_1","url":"x.vercel.app","readyState":"READY","alias":["todo.vercel.app"]}`))
	}, "")

	d, err := c.Get(context.Background(), "dpl_1")
	require.NoError(t, err)
	assert.Equal(t, "READY", d.ReadyState)
	assert.Equal(t, []string{"todo.vercel.app"}, d.Alias)
}

func TestSinkMaterialize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body deploymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1-todo", body.Name)
		w.Write([]byte(`{"id":"dpl_2","url":"todo.vercel.app"}`))
	}, "")

	sink := NewSink(c)
	assert.Equal(t, "deploy", sink.Name())
	url, err := sink.Materialize(context.Background(), core.Snapshot{UserID: "user-1", Project: "todo", Files: map[string]string{"a": "b"}})
	require.NoError(t, err)
	assert.Equal(t, "https://todo.vercel.app", url)
}
