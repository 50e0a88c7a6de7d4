package core

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/llm"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fragmentStream replays fragments and then returns err (io.EOF when nil).
type fragmentStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *fragmentStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *fragmentStream) Close() error {
	s.closed = true
	return nil
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Name() string {
	return m.Called().String(0)
}

func (m *MockSink) Materialize(ctx context.Context, snap Snapshot) (string, error) {
	args := m.Called(ctx, snap)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	events  []Event
	commits []CommitResult
	errs    []error
}

func (p *recordingPublisher) PublishEvent(ev Event)          { p.events = append(p.events, ev) }
func (p *recordingPublisher) PublishCommit(res CommitResult) { p.commits = append(p.commits, res) }
func (p *recordingPublisher) Error(err error)                { p.errs = append(p.errs, err) }

func newTestPipeline(t *testing.T, sinks ...Sink) (*Pipeline, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	p, err := NewPipeline(NewRequest("user-1", "todo", "a todo app"), sinks, pub, nil)
	require.NoError(t, err)
	return p, pub
}

func TestNewPipelineValidatesRequest(t *testing.T) {
	_, err := NewPipeline(NewRequest("user-1", "../todo", "x"), nil, nil, nil)
	assert.ErrorIs(t, err, fs.ErrInvalidPath)

	_, err = NewPipeline(NewRequest("user-1", "todo", "  "), nil, nil, nil)
	assert.Error(t, err)
}

func TestPipelineSplitFragmentsAndCommits(t *testing.T) {
	filesystem := fs.NewMemoryFileSystem()
	p, pub := newTestPipeline(t, NewDiskSink(filesystem))

	stream := &fragmentStream{fragments: []string{
		`{"type":"thought","content":"plan"}` + "\n" + `{"type":"pa`,
		`tch","path":"src\\index.js","content":"console.log(1)"}` + "\n",
		`{"type":"patch","path":"README.md","content":"# todo"}` + "\n",
		`{"type":"commit","message":"scaffold"}` + "\n",
	}}

	summary, err := p.Run(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Thoughts)
	assert.Equal(t, 2, summary.Patches)
	assert.Equal(t, 1, summary.Commits)
	assert.Equal(t, 0, summary.Malformed)
	assert.Equal(t, 2, summary.Files)

	require.Len(t, pub.commits, 1)
	got := pub.commits[0]
	assert.Equal(t, 1, got.Sequence)
	assert.Equal(t, "scaffold", got.Message)
	assert.False(t, got.Implicit)
	assert.Empty(t, got.Failed())

	files, err := filesystem.ReadFiles("containers/user-1/todo/root")
	require.NoError(t, err)
	want := map[string]string{"src/index.js": "console.log(1)", "README.md": "# todo"}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("materialized files mismatch (-want +got):\n%s", diff)
	}

	var types []EventType
	for _, ev := range pub.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventThought, EventPatch, EventPatch, EventCommit}, types)
	assert.Equal(t, "src/index.js", pub.events[1].Path, "published patch paths are normalized")
}

func TestPipelineSinkFailureDoesNotAbort(t *testing.T) {
	broken := new(MockSink)
	broken.On("Name").Return("git")
	broken.On("Materialize", mock.Anything, mock.Anything).Return("", errors.New("github down"))

	healthy := new(MockSink)
	healthy.On("Name").Return("deploy")
	healthy.On("Materialize", mock.Anything, mock.MatchedBy(func(s Snapshot) bool {
		return s.UserID == "user-1" && s.Project == "todo"
	})).Return("https://todo.vercel.app", nil)

	p, pub := newTestPipeline(t, broken, healthy)
	stream := &fragmentStream{fragments: []string{
		`{"type":"patch","path":"a.txt","content":"1"}` + "\n",
		`{"type":"commit","message":"one"}` + "\n",
		`{"type":"patch","path":"b.txt","content":"2"}` + "\n",
		`{"type":"commit","message":"two"}` + "\n",
	}}

	summary, err := p.Run(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Commits)

	require.Len(t, pub.commits, 2)
	for i, c := range pub.commits {
		assert.Equal(t, i+1, c.Sequence)
		assert.Equal(t, []string{"git"}, c.Failed())
		require.Len(t, c.Results, 2)
		assert.Equal(t, SinkResult{Sink: "git", Error: "github down"}, c.Results[0])
		assert.Equal(t, SinkResult{Sink: "deploy", OK: true, Detail: "https://todo.vercel.app"}, c.Results[1])
	}
	broken.AssertNumberOfCalls(t, "Materialize", 2)
	healthy.AssertNumberOfCalls(t, "Materialize", 2)
}

func TestPipelineSnapshotsAreConsistent(t *testing.T) {
	var snaps []Snapshot
	sink := new(MockSink)
	sink.On("Name").Return("spy")
	sink.On("Materialize", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		snaps = append(snaps, args.Get(1).(Snapshot))
	}).Return("", nil)

	p, _ := newTestPipeline(t, sink)
	stream := &fragmentStream{fragments: []string{
		`{"type":"patch","path":"a.txt","content":"v1"}` + "\n",
		`{"type":"commit","message":"first"}` + "\n",
		`{"type":"patch","path":"a.txt","content":"v2"}` + "\n",
		`{"type":"patch","path":"old.txt","content":"x"}` + "\n",
		`{"type":"commit","message":"second"}` + "\n",
		`{"type":"patch","path":"old.txt","delete":true}` + "\n",
		`{"type":"commit","message":"third"}` + "\n",
	}}

	_, err := p.Run(context.Background(), stream)
	require.NoError(t, err)

	want := []map[string]string{
		{"a.txt": "v1"},
		{"a.txt": "v2", "old.txt": "x"},
		{"a.txt": "v2"},
	}
	require.Len(t, snaps, len(want))
	for i, snap := range snaps {
		assert.Equal(t, i+1, snap.Sequence)
		if diff := cmp.Diff(want[i], snap.Files); diff != "" {
			t.Errorf("snapshot %d mismatch (-want +got):\n%s", i+1, diff)
		}
	}
}

func TestPipelineImplicitFinalCommit(t *testing.T) {
	filesystem := fs.NewMemoryFileSystem()
	p, pub := newTestPipeline(t, NewDiskSink(filesystem))

	// last line has no trailing newline
	stream := &fragmentStream{fragments: []string{
		`{"type":"patch","path":"main.go","content":"package main"}`,
	}}

	summary, err := p.Run(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Patches)

	require.Len(t, pub.commits, 1)
	assert.True(t, pub.commits[0].Implicit)
	assert.Equal(t, FinalCommitMessage, pub.commits[0].Message)

	exists, err := afero.Exists(filesystem.Fs, "containers/user-1/todo/root/main.go")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPipelineEmptyCommit(t *testing.T) {
	sink := new(MockSink)
	sink.On("Name").Return("spy")
	sink.On("Materialize", mock.Anything, mock.Anything).Return("", nil)

	p, pub := newTestPipeline(t, sink)
	stream := &fragmentStream{fragments: []string{
		`{"type":"commit","message":"nothing yet"}` + "\n",
		`{"type":"patch","path":"a.txt","content":"1"}` + "\n",
		`{"type":"commit","message":"real"}` + "\n",
		`{"type":"commit","message":"again"}` + "\n",
	}}

	summary, err := p.Run(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Commits)

	require.Len(t, pub.commits, 3)
	assert.True(t, pub.commits[0].Empty)
	assert.Equal(t, 0, pub.commits[0].Sequence)
	assert.False(t, pub.commits[1].Empty)
	assert.Equal(t, 1, pub.commits[1].Sequence)
	assert.True(t, pub.commits[2].Empty)
	assert.Equal(t, 1, pub.commits[2].Sequence)
	sink.AssertNumberOfCalls(t, "Materialize", 1)
}

func TestPipelineToleratesMalformedInput(t *testing.T) {
	p, pub := newTestPipeline(t)
	stream := &fragmentStream{fragments: []string{
		"```json\n",
		"Sure, here is your project.\n",
		`{"type":"patch","path":"a.txt","content":` + "\n",
		`{"type":"exec","content":"rm -rf /"}` + "\n",
		`{"type":"patch","path":"../../etc/passwd","content":"x"}` + "\n",
		"\n",
		`{"type":"patch","path":"ok.txt","content":"fine"}` + "\n",
		"```\n",
	}}

	summary, err := p.Run(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 3, summary.Malformed)
	assert.Equal(t, 1, summary.Patches)
	assert.Equal(t, map[string]string{"ok.txt": "fine"}, p.Files())
	require.Len(t, pub.commits, 1)
	assert.True(t, pub.commits[0].Implicit)
}

func TestPipelineStreamErrorSkipsFinalCommit(t *testing.T) {
	sink := new(MockSink)
	sink.On("Name").Return("spy")

	p, pub := newTestPipeline(t, sink)
	streamErr := errors.New("connection reset")
	stream := &fragmentStream{
		fragments: []string{`{"type":"patch","path":"a.txt","content":"1"}` + "\n"},
		err:       streamErr,
	}

	summary, err := p.Run(context.Background(), stream)
	assert.ErrorIs(t, err, streamErr)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Patches)
	assert.Empty(t, pub.commits)
	require.Len(t, pub.errs, 1)
	sink.AssertNotCalled(t, "Materialize", mock.Anything, mock.Anything)
}

func TestPipelineCancelled(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, &fragmentStream{fragments: []string{"x\n"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Commits())
}

type fakeClient struct {
	stream *fragmentStream
	got    llm.Request
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	return nil, errors.New("not used")
}

func (c *fakeClient) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	c.got = req
	return c.stream, nil
}

func TestGenerateProject(t *testing.T) {
	client := &fakeClient{stream: &fragmentStream{fragments: []string{
		`{"type":"patch","path":"index.html","content":"<h1>hi</h1>"}` + "\n",
		`{"type":"commit","message":"page"}` + "\n",
	}}}
	filesystem := fs.NewMemoryFileSystem()
	r := NewRequest("user-1", "site", "a landing page")
	r.Model = "gpt-4.1-mini"

	pipeline, summary, err := GenerateProject(context.Background(), client, r, []Sink{NewDiskSink(filesystem)}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Commits)
	assert.True(t, client.stream.closed)
	assert.Equal(t, "gpt-4.1-mini", client.got.Model)
	assert.Contains(t, client.got.Messages[0].Content, "a landing page")
	assert.Len(t, pipeline.Commits(), 1)
	assert.Contains(t, summary.Output, "<h1>hi</h1>")
}
