package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/logger"
)

// Frame types sent on /generate_project besides the event types.
const (
	FrameError = "error"
	FrameDone  = "done"
)

// Frame is one line of the /generate_project response.
type Frame struct {
	Type      string             `json:"type"`
	Content   string             `json:"content,omitempty"`
	Path      string             `json:"path,omitempty"`
	Delete    bool               `json:"delete,omitempty"`
	Commit    *core.CommitResult `json:"commit,omitempty"`
	Summary   *core.Summary      `json:"summary,omitempty"`
	ProjectID string             `json:"project_id,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// framePublisher writes pipeline output to the client as flushed JSON lines.
type framePublisher struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	logger  logger.Logger
	broken  bool
	errored bool
}

func newFramePublisher(w io.Writer, flusher http.Flusher, l logger.Logger) *framePublisher {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &framePublisher{enc: enc, flusher: flusher, logger: l}
}

func (p *framePublisher) write(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken {
		return
	}
	if err := p.enc.Encode(f); err != nil {
		// client went away; the request context ends the run and commits made so far are still stored
		p.broken = true
		p.logger.WithError(err).Warn("Client disconnected from project stream")
		return
	}
	p.flusher.Flush()
}

func (p *framePublisher) PublishEvent(ev core.Event) {
	switch ev.Type {
	case core.EventThought:
		p.write(Frame{Type: string(ev.Type), Content: ev.Content})
	case core.EventPatch:
		p.write(Frame{Type: string(ev.Type), Path: ev.Path, Content: ev.Content, Delete: ev.Delete})
	}
	// commit events are reported with their results through PublishCommit
}

func (p *framePublisher) PublishCommit(res core.CommitResult) {
	p.write(Frame{Type: string(core.EventCommit), Commit: &res})
}

// Error sends the run's error frame. Only the first error of a run is sent;
// later ones are logged.
func (p *framePublisher) Error(err error) {
	p.mu.Lock()
	already := p.errored
	p.errored = true
	p.mu.Unlock()
	if already {
		p.logger.WithError(err).Warn("Suppressing additional error frame")
		return
	}
	p.write(Frame{Type: FrameError, Detail: err.Error()})
}

func (p *framePublisher) hasErrored() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errored
}
