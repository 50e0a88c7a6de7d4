package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/llm"
)

type generateRequest struct {
	UserID  string `json:"user_id"`
	Prompt  string `json:"prompt"`
	Project string `json:"project,omitempty"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream,omitempty"`
}

type generateResponse struct {
	LLMOutput string `json:"llm_output"`
	ProjectID string `json:"project_id,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[generateRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Prompt) == "" {
		s.fail(w, r, badRequest("user_id and prompt are required"))
		return
	}
	l := s.logger.WithField("user_id", req.UserID)
	l.Info("Received /generate")

	if req.Stream {
		s.streamGenerate(w, r, req)
		return
	}

	completion, err := llm.GenerateCode(r.Context(), s.llm, req.Prompt, req.Model, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	l.WithField("chars", len(completion.Content)).Info("Completion received")

	project, err := s.backend.InsertProject(r.Context(), &backend.Project{
		UserID:    req.UserID,
		Name:      req.Project,
		Prompt:    req.Prompt,
		LLMOutput: completion.Content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{LLMOutput: completion.Content, ProjectID: project.ID})
}

// streamGenerate relays completion fragments as plain text and stores the
// full output once the stream ends.
func (s *Server) streamGenerate(w http.ResponseWriter, r *http.Request, req generateRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	stream, err := llm.StreamCode(r.Context(), s.llm, req.Prompt, req.Model, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var output strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// headers are gone; the truncated body is all the client gets
			s.logger.WithError(err).Error("Completion stream failed")
			return
		}
		output.WriteString(fragment)
		if _, err := io.WriteString(w, fragment); err != nil {
			s.logger.WithError(err).Warn("Client disconnected from completion stream")
			return
		}
		flusher.Flush()
	}

	_, err = s.backend.InsertProject(r.Context(), &backend.Project{
		UserID:    req.UserID,
		Name:      req.Project,
		Prompt:    req.Prompt,
		LLMOutput: output.String(),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store streamed project")
	}
}

func (s *Server) handleGenerateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[core.Request](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, badRequest("%v", err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	l := s.logger.WithField("user_id", req.UserID).WithField("project", req.Project)
	pub := newFramePublisher(w, flusher, l)

	var (
		pipeline *core.Pipeline
		summary  *core.Summary
	)
	// started is claimed by whichever side moves first: the worker running the
	// job, or this handler giving up on a job still queued.
	var started atomic.Bool
	result := s.engine.Submit(r.Context(), func(ctx context.Context) error {
		if !started.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		var err error
		pipeline, summary, err = core.GenerateProject(ctx, s.llm, &req, s.sinks(), pub, s.logger)
		return err
	})

	var err error
	select {
	case err = <-result:
	case <-r.Context().Done():
		if started.CompareAndSwap(false, true) {
			l.Info("Client left before the project generation started")
			return
		}
		// the job holds pub; wait for it before the response is released
		err = <-result
	}
	if err != nil && !pub.hasErrored() {
		pub.Error(err)
	}

	var projectID string
	if summary != nil {
		// the request context may be gone; the generated work is stored regardless
		projectID = s.persistProject(context.WithoutCancel(r.Context()), &req, pipeline, summary, pub)
	}
	pub.write(Frame{Type: FrameDone, Summary: summary, ProjectID: projectID})
}

func (s *Server) persistProject(ctx context.Context, req *core.Request, pipeline *core.Pipeline, summary *core.Summary, pub *framePublisher) string {
	project, err := s.backend.InsertProject(ctx, &backend.Project{
		UserID:    req.UserID,
		Name:      req.Project,
		Prompt:    req.Prompt,
		LLMOutput: summary.Output,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store project")
		pub.Error(errors.New("failed to store project"))
		return ""
	}

	for _, c := range pipeline.Commits() {
		results, err := json.Marshal(c.Results)
		if err != nil {
			results = nil
		}
		_, err = s.backend.InsertCommit(ctx, &backend.CommitRecord{
			ProjectID: project.ID,
			Sequence:  c.Sequence,
			Message:   c.Message,
			FileCount: c.Files,
			Results:   results,
		})
		if err != nil {
			s.logger.WithError(err).WithField("sequence", c.Sequence).Error("Failed to store commit")
		}
	}
	return project.ID
}
