package core

import (
	"context"
	"fmt"

	"github.com/devrenanferrari/genesis/fs"
)

// Snapshot is the project state handed to sinks at a commit.
type Snapshot struct {
	UserID   string
	Project  string
	Sequence int
	Message  string
	Files    map[string]string
}

// Sink materializes a snapshot somewhere. The returned detail is a location
// a client can follow: a directory, a commit URL or a deployment URL.
type Sink interface {
	Name() string
	Materialize(ctx context.Context, snap Snapshot) (string, error)
}

// SinkResult is the outcome of one sink for one commit.
type SinkResult struct {
	Sink   string `json:"sink"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DiskSink writes snapshots below containers/<user>/<project>/root.
type DiskSink struct {
	fs *fs.FileSystem
}

func NewDiskSink(filesystem *fs.FileSystem) *DiskSink {
	return &DiskSink{fs: filesystem}
}

func (s *DiskSink) Name() string { return "disk" }

// Materialize replaces the project root with the snapshot so deleted paths disappear.
func (s *DiskSink) Materialize(ctx context.Context, snap Snapshot) (string, error) {
	root, err := fs.ProjectRoot(snap.UserID, snap.Project)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.Fs.RemoveAll(root); err != nil {
		return "", fmt.Errorf("error clearing %s: %w", root, err)
	}
	if _, err := s.fs.WriteFiles(root, snap.Files); err != nil {
		return "", err
	}
	return root, nil
}
