package fs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidPath is returned for paths that are empty, absolute after
// normalization, or escape their base directory.
var ErrInvalidPath = errors.New("invalid path")

// ContainersDir is the directory under the storage root holding every user's projects.
const ContainersDir = "containers"

// FileSystem wraps the Afero Fs interface
type FileSystem struct {
	Fs afero.Fs
}

// NewMemoryFileSystem creates a new in-memory file system
func NewMemoryFileSystem() *FileSystem {
	return &FileSystem{
		Fs: afero.NewMemMapFs(),
	}
}

// NewOsFileSystem creates a file system rooted at root on disk.
func NewOsFileSystem(root string) *FileSystem {
	if root == "" || root == "." {
		return &FileSystem{Fs: afero.NewOsFs()}
	}
	return &FileSystem{
		Fs: afero.NewBasePathFs(afero.NewOsFs(), root),
	}
}

// NormalizePath turns a model- or user-supplied path into a clean relative
// slash path. Backslashes become slashes and leading "./" or "/" are dropped.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if len(p) >= 2 && p[1] == ':' {
		return "", fmt.Errorf("%w: drive letter in %q", ErrInvalidPath, p)
	}
	p = strings.TrimLeft(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the project root", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// SafeName validates a single path segment such as a user id or project name.
func SafeName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPath)
	}
	if len(name) > 128 {
		return fmt.Errorf("%w: name too long (max 128 chars)", ErrInvalidPath)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidPath)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: name must not start with '.'", ErrInvalidPath)
	}
	return nil
}

// ProjectRoot returns containers/<userID>/<project>/root.
func ProjectRoot(userID, project string) (string, error) {
	if err := SafeName(userID); err != nil {
		return "", fmt.Errorf("user id: %w", err)
	}
	if err := SafeName(project); err != nil {
		return "", fmt.Errorf("project: %w", err)
	}
	return filepath.Join(ContainersDir, userID, project, "root"), nil
}

// WriteFile creates a new file with the given content or overwrites an existing file with the content
func (fs *FileSystem) WriteFile(path string, content string) error {
	dir := filepath.Dir(path)
	if err := fs.Fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}
	err := afero.WriteFile(fs.Fs, path, []byte(content), 0644)
	if err != nil {
		return fmt.Errorf("error writing file %s: %w", path, err)
	}
	return nil
}

// WriteFiles writes every path->content entry below base and returns the number
// of files written. Paths are normalized first; nothing is written when any
// path is invalid.
func (fs *FileSystem) WriteFiles(base string, files map[string]string) (int, error) {
	normalized := make(map[string]string, len(files))
	for p, content := range files {
		clean, err := NormalizePath(p)
		if err != nil {
			return 0, err
		}
		normalized[clean] = content
	}

	if err := fs.Fs.MkdirAll(base, 0755); err != nil {
		return 0, fmt.Errorf("error creating directory %s: %w", base, err)
	}

	written := 0
	for _, p := range sortedKeys(normalized) {
		if err := fs.WriteFile(filepath.Join(base, filepath.FromSlash(p)), normalized[p]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ReadFiles returns every regular file below base keyed by its slash path relative to base.
func (fs *FileSystem) ReadFiles(base string) (map[string]string, error) {
	files := make(map[string]string)
	err := afero.Walk(fs.Fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		content, err := afero.ReadFile(fs.Fs, p)
		if err != nil {
			return fmt.Errorf("error reading file %s: %w", p, err)
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", base, err)
	}
	return files, nil
}

// IsDir checks if a path is a directory
func (fs *FileSystem) IsDir(path string) bool {
	info, err := fs.Fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// WriteToZip writes every file below base to w as a zip archive with paths
// relative to base.
func (fs *FileSystem) WriteToZip(w io.Writer, base string) error {
	zipWriter := zip.NewWriter(w)

	fileCount := 0
	err := afero.Walk(fs.Fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		// Skip root directory
		if rel == "." {
			return nil
		}
		zipPath := filepath.ToSlash(rel)

		if info.IsDir() {
			_, err := zipWriter.Create(zipPath + "/")
			if err != nil {
				return fmt.Errorf("error creating zip entry for directory %s: %w", zipPath, err)
			}
			return nil
		}

		writer, err := zipWriter.Create(zipPath)
		if err != nil {
			return fmt.Errorf("error creating zip entry for file %s: %w", zipPath, err)
		}

		file, err := fs.Fs.Open(p)
		if err != nil {
			return fmt.Errorf("error opening file %s: %w", p, err)
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		if err != nil {
			return fmt.Errorf("error writing file %s to zip: %w", p, err)
		}

		fileCount++
		return nil
	})

	if err != nil {
		return fmt.Errorf("error walking file system: %w", err)
	}

	if fileCount == 0 {
		return fmt.Errorf("no files to zip")
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("error closing zip writer: %w", err)
	}
	return nil
}

// ListFiles lists all files below base and returns a map representing the directory structure
func (fs *FileSystem) ListFiles(base string) (map[string]interface{}, error) {
	structure := make(map[string]interface{})

	err := afero.Walk(fs.Fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		// Skip root directory
		if rel == "." {
			return nil
		}

		parts := strings.Split(filepath.ToSlash(rel), "/")
		current := structure
		for i, part := range parts {
			if i == len(parts)-1 {
				if info.IsDir() {
					if _, exists := current[part]; !exists {
						current[part] = make(map[string]interface{})
					}
				} else {
					current[part] = nil // Use nil to represent files
				}
			} else {
				if _, exists := current[part]; !exists {
					current[part] = make(map[string]interface{})
				}
				current = current[part].(map[string]interface{})
			}
		}
		return nil
	})

	return structure, err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
