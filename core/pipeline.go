package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/llm"
	"github.com/devrenanferrari/genesis/logger"
	"golang.org/x/sync/errgroup"
)

// FinalCommitMessage labels the commit made when a stream ends with uncommitted patches.
const FinalCommitMessage = "final snapshot"

// CommitResult reports what every sink did with one snapshot.
type CommitResult struct {
	Sequence int          `json:"sequence"`
	Message  string       `json:"message"`
	Files    int          `json:"files"`
	Implicit bool         `json:"implicit,omitempty"`
	Empty    bool         `json:"empty,omitempty"`
	Results  []SinkResult `json:"results,omitempty"`
}

// Failed lists the sinks that did not materialize the snapshot.
func (c CommitResult) Failed() []string {
	var failed []string
	for _, r := range c.Results {
		if !r.OK {
			failed = append(failed, r.Sink)
		}
	}
	return failed
}

type Summary struct {
	Thoughts  int    `json:"thoughts"`
	Patches   int    `json:"patches"`
	Commits   int    `json:"commits"`
	Skipped   int    `json:"skipped"`
	Malformed int    `json:"malformed"`
	Files     int    `json:"files"`
	Output    string `json:"-"`
}

type Publisher interface {
	PublishEvent(ev Event)
	PublishCommit(res CommitResult)
	Error(err error)
}

type DefaultPublisher struct{}

func (DefaultPublisher) PublishEvent(ev Event)          {}
func (DefaultPublisher) PublishCommit(res CommitResult) {}
func (DefaultPublisher) Error(err error)                {}

// Pipeline turns a fragment stream into events and materialized commits.
type Pipeline struct {
	request   *Request
	sinks     []Sink
	publisher Publisher
	logger    logger.Logger

	buffer   *LineBuffer
	table    *FileTable
	sequence int
	commits  []CommitResult
	output   strings.Builder
	summary  Summary
}

func NewPipeline(r *Request, sinks []Sink, pub Publisher, l logger.Logger) (*Pipeline, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		pub = DefaultPublisher{}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Pipeline{
		request:   r,
		sinks:     sinks,
		publisher: pub,
		logger:    l.WithField("user_id", r.UserID).WithField("project", r.Project),
		buffer:    NewLineBuffer(MaxLineBytes),
		table:     NewFileTable(),
	}, nil
}

// Run consumes the stream until it ends, fails or ctx is cancelled. Malformed
// lines and sink failures are reported but never stop the run.
func (p *Pipeline) Run(ctx context.Context, stream llm.Stream) (*Summary, error) {
	p.logger.Info("Starting pipeline execution")
	startTime := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Pipeline execution cancelled")
			return p.finish(), err
		}

		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.WithError(err).Error("stream failed")
			p.publisher.Error(err)
			return p.finish(), fmt.Errorf("stream failed: %w", err)
		}

		p.output.WriteString(fragment)
		for _, line := range p.buffer.Write(fragment) {
			p.handleLine(ctx, line)
		}
	}

	if rest := p.buffer.Flush(); rest != "" {
		p.handleLine(ctx, rest)
	}
	if p.table.Dirty() {
		p.commit(ctx, FinalCommitMessage, true)
	}

	summary := p.finish()
	p.logger.WithField("commits", summary.Commits).
		WithField("files", summary.Files).
		WithField("malformed", summary.Malformed).
		Info(fmt.Sprintf("Pipeline execution completed in %v", time.Since(startTime)))
	return summary, nil
}

// Files returns the current file table.
func (p *Pipeline) Files() map[string]string {
	return p.table.Snapshot()
}

// Commits returns the results of every commit made so far.
func (p *Pipeline) Commits() []CommitResult {
	return append([]CommitResult(nil), p.commits...)
}

func (p *Pipeline) finish() *Summary {
	s := p.summary
	s.Files = p.table.Len()
	s.Output = p.output.String()
	s.Malformed += p.buffer.Dropped()
	return &s
}

func (p *Pipeline) handleLine(ctx context.Context, line string) {
	ev, err := ParseEvent(line)
	switch {
	case errors.Is(err, ErrNotEvent):
		if strings.TrimSpace(line) != "" {
			p.summary.Skipped++
			p.logger.Debug(fmt.Sprintf("Skipping non-event line: %.80q", line))
		}
		return
	case err != nil:
		p.summary.Malformed++
		p.logger.WithError(err).Warn(fmt.Sprintf("Ignoring malformed line: %.80q", line))
		return
	}

	switch ev.Type {
	case EventThought:
		p.summary.Thoughts++
		p.publisher.PublishEvent(ev)
	case EventPatch:
		clean, err := fs.NormalizePath(ev.Path)
		if err != nil {
			p.summary.Malformed++
			p.logger.WithError(err).Warn("Ignoring patch with invalid path")
			return
		}
		ev.Path = clean
		p.summary.Patches++
		p.table.Apply(ev)
		p.publisher.PublishEvent(ev)
	case EventCommit:
		p.publisher.PublishEvent(ev)
		p.commit(ctx, ev.Message, false)
	}
}

func (p *Pipeline) commit(ctx context.Context, message string, implicit bool) {
	if !p.table.Dirty() {
		p.logger.Debug("Commit without changes, nothing to materialize")
		p.publisher.PublishCommit(CommitResult{
			Sequence: p.sequence,
			Message:  message,
			Files:    p.table.Len(),
			Empty:    true,
		})
		return
	}

	p.sequence++
	snap := Snapshot{
		UserID:   p.request.UserID,
		Project:  p.request.Project,
		Sequence: p.sequence,
		Message:  message,
		Files:    p.table.Snapshot(),
	}
	p.table.MarkCommitted()

	res := CommitResult{
		Sequence: snap.Sequence,
		Message:  message,
		Files:    len(snap.Files),
		Implicit: implicit,
		Results:  p.materialize(ctx, snap),
	}
	p.summary.Commits++
	p.commits = append(p.commits, res)

	l := p.logger.WithField("sequence", res.Sequence).WithField("files", res.Files)
	if failed := res.Failed(); len(failed) > 0 {
		l.WithField("failed", failed).Warn("Commit partially materialized")
	} else {
		l.Info("Commit materialized")
	}
	p.publisher.PublishCommit(res)
}

// materialize runs every sink on its own goroutine. A failing sink only marks
// its own result.
func (p *Pipeline) materialize(ctx context.Context, snap Snapshot) []SinkResult {
	results := make([]SinkResult, len(p.sinks))
	g, gctx := errgroup.WithContext(ctx)
	for i, sink := range p.sinks {
		g.Go(func() error {
			detail, err := sink.Materialize(gctx, snap)
			res := SinkResult{Sink: sink.Name(), OK: err == nil, Detail: detail}
			if err != nil {
				res.Error = err.Error()
				p.logger.WithField("sink", sink.Name()).WithError(err).Error("Sink failed")
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

// GenerateProject opens a project stream on client and runs it through a new pipeline.
func GenerateProject(ctx context.Context, client llm.Client, r *Request, sinks []Sink, pub Publisher, l logger.Logger) (*Pipeline, *Summary, error) {
	pipeline, err := NewPipeline(r, sinks, pub, l)
	if err != nil {
		return nil, nil, err
	}
	stream, err := llm.StreamProject(ctx, client, r.Project, r.Prompt, r.Model, "")
	if err != nil {
		return pipeline, nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	summary, err := pipeline.Run(ctx, stream)
	return pipeline, summary, err
}
