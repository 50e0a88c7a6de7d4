package cli

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGenerateProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate_project", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req core.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "todo", req.Project)
		assert.Equal(t, "a todo app", req.Prompt)

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"type":"thought","content":"planning"}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `{"type":"patch","path":"main.go","content":"package main"}`+"\n")
		io.WriteString(w, `{"type":"commit","commit":{"sequence":1,"message":"init","files":1}}`+"\n")
		io.WriteString(w, `{"type":"done","summary":{"commits":1,"files":1},"project_id":"p1"}`+"\n")
	}))
	defer srv.Close()

	var frames []server.Frame
	err := NewClient(srv.URL+"/", "tok").GenerateProject(context.Background(),
		core.NewRequest("u1", "todo", "a todo app"),
		func(f server.Frame) { frames = append(frames, f) })
	require.NoError(t, err)

	require.Len(t, frames, 4)
	assert.Equal(t, "planning", frames[0].Content)
	assert.Equal(t, "main.go", frames[1].Path)
	require.NotNil(t, frames[2].Commit)
	assert.Equal(t, "init", frames[2].Commit.Message)
	assert.Equal(t, server.FrameDone, frames[3].Type)
	assert.Equal(t, "p1", frames[3].ProjectID)
	require.NotNil(t, frames[3].Summary)
	assert.Equal(t, 1, frames[3].Summary.Commits)
}

func TestClientGenerateProjectErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":"prompt is required"}`)
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "").GenerateProject(context.Background(), core.NewRequest("u", "p", ""), func(server.Frame) {})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prompt is required")
	})

	t.Run("bad frame", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json\n")
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "").GenerateProject(context.Background(), core.NewRequest("u", "p", "x"), func(server.Frame) {})
		assert.ErrorContains(t, err, "invalid frame")
	})
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects/u1/todo/download":
			w.Header().Set("Content-Type", "application/zip")
			io.WriteString(w, "PK")
		case "/projects/u1/html/download":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>")
		case "/projects/u1/locked/download":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"detail":"project not found"}`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "")

	resp, err := c.Download(context.Background(), "u1", "todo")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "PK", string(body))

	_, err = c.Download(context.Background(), "u1", "html")
	assert.ErrorContains(t, err, "unexpected content type")

	_, err = c.Download(context.Background(), "u1", "locked")
	assert.ErrorContains(t, err, "token is invalid")

	_, err = c.Download(context.Background(), "u1", "missing")
	assert.ErrorContains(t, err, "project not found")
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "p.zip")
	f, err := os.Create(src)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return src
}

func TestExtractArchive(t *testing.T) {
	src := writeZip(t, map[string]string{
		"src/":        "",
		"src/main.go": "package main",
		"README.md":   "# todo",
	})

	fsys := fs.NewMemoryFileSystem()
	n, err := extractArchive(fsys, src, "out")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := fsys.ReadFiles("out")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src/main.go": "package main", "README.md": "# todo"}, files)
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	src := writeZip(t, map[string]string{"../escape.txt": "nope"})

	_, err := extractArchive(fs.NewMemoryFileSystem(), src, "out")
	assert.ErrorIs(t, err, fs.ErrInvalidPath)
}
