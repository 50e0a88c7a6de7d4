package core

import "sort"

// FileTable holds the latest content of every path patched so far.
type FileTable struct {
	files map[string]string
	dirty bool
}

func NewFileTable() *FileTable {
	return &FileTable{files: make(map[string]string)}
}

// Apply records a patch. The path must already be normalized.
func (t *FileTable) Apply(ev Event) {
	if ev.Delete {
		if _, ok := t.files[ev.Path]; ok {
			delete(t.files, ev.Path)
			t.dirty = true
		}
		return
	}
	if old, ok := t.files[ev.Path]; ok && old == ev.Content {
		return
	}
	t.files[ev.Path] = ev.Content
	t.dirty = true
}

func (t *FileTable) Get(path string) (string, bool) {
	c, ok := t.files[path]
	return c, ok
}

// Snapshot returns a copy that later patches cannot change.
func (t *FileTable) Snapshot() map[string]string {
	out := make(map[string]string, len(t.files))
	for p, c := range t.files {
		out[p] = c
	}
	return out
}

func (t *FileTable) Paths() []string {
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Dirty reports whether anything changed since the last MarkCommitted.
func (t *FileTable) Dirty() bool { return t.dirty }

func (t *FileTable) MarkCommitted() { t.dirty = false }

func (t *FileTable) Len() int { return len(t.files) }
