package fs

import (
	"archive/zip"
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryFileSystem(t *testing.T) {
	fs := NewMemoryFileSystem()
	assert.NotNil(t, fs)
	assert.IsType(t, &afero.MemMapFs{}, fs.Fs)
}

func TestNewOsFileSystem(t *testing.T) {
	fs := NewOsFileSystem("")
	assert.IsType(t, &afero.OsFs{}, fs.Fs)

	fs = NewOsFileSystem(t.TempDir())
	assert.IsType(t, &afero.BasePathFs{}, fs.Fs)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"src/index.js", "src/index.js", false},
		{`src\components\App.jsx`, "src/components/App.jsx", false},
		{"./package.json", "package.json", false},
		{"/README.md", "README.md", false},
		{"a//b/./c.txt", "a/b/c.txt", false},
		{"  docs/guide.md ", "docs/guide.md", false},
		{"", "", true},
		{".", "", true},
		{"../secret", "", true},
		{`..\..\etc\passwd`, "", true},
		{"a/../../b", "", true},
		{`C:\Windows\win.ini`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProjectRoot(t *testing.T) {
	root, err := ProjectRoot("user-1", "todo-app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("containers", "user-1", "todo-app", "root"), root)

	_, err = ProjectRoot("../user", "p")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = ProjectRoot("u", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = ProjectRoot("u", ".git")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestWriteFile(t *testing.T) {
	fs := NewMemoryFileSystem()
	err := fs.WriteFile("test/file.txt", "Hello, World!")
	assert.NoError(t, err)

	content, err := afero.ReadFile(fs.Fs, "test/file.txt")
	assert.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(content))
}

func TestWriteFilesAndReadBack(t *testing.T) {
	fs := NewMemoryFileSystem()
	n, err := fs.WriteFiles("base", map[string]string{
		`src\main.go`:  "package main",
		"./README.md":  "# hi",
		"/docs/a/b.md": "deep",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	files, err := fs.ReadFiles("base")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"src/main.go": "package main",
		"README.md":   "# hi",
		"docs/a/b.md": "deep",
	}, files)
}

func TestWriteFilesRejectsTraversal(t *testing.T) {
	fs := NewMemoryFileSystem()
	_, err := fs.WriteFiles("base", map[string]string{
		"ok.txt":      "fine",
		"../evil.txt": "nope",
	})
	assert.ErrorIs(t, err, ErrInvalidPath)

	exists, err := afero.Exists(fs.Fs, "base/ok.txt")
	require.NoError(t, err)
	assert.False(t, exists, "nothing is written when a path is invalid")
}

func TestIsDir(t *testing.T) {
	fs := NewMemoryFileSystem()
	err := fs.Fs.MkdirAll("test/dir", 0755)
	assert.NoError(t, err)

	isDir := fs.IsDir("test/dir")
	assert.True(t, isDir)

	isDir = fs.IsDir("test/nonexistent")
	assert.False(t, isDir)
}

func TestWriteToZip(t *testing.T) {
	fs := NewMemoryFileSystem()
	_, err := fs.WriteFiles("proj", map[string]string{
		"test/file.txt": "Hello, World!",
		"main.go":       "package main",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, fs.WriteToZip(&buf, "proj"))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	contents := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(b)
	}
	assert.Equal(t, map[string]string{
		"test/file.txt": "Hello, World!",
		"main.go":       "package main",
	}, contents)
}

func TestWriteToZipEmpty(t *testing.T) {
	fs := NewMemoryFileSystem()
	require.NoError(t, fs.Fs.MkdirAll("empty", 0755))

	var buf bytes.Buffer
	assert.Error(t, fs.WriteToZip(&buf, "empty"))
}

func TestListFiles(t *testing.T) {
	fs := NewMemoryFileSystem()
	err := fs.Fs.MkdirAll("test", 0755)
	assert.NoError(t, err)

	err = fs.WriteFile("test/file.txt", "Hello, World!")
	assert.NoError(t, err)

	structure, err := fs.ListFiles(".")
	assert.NoError(t, err)
	assert.NotNil(t, structure)
	assert.Equal(t, map[string]interface{}{"test": map[string]interface{}{"file.txt": nil}}, structure)
}
