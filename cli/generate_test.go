package cli

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/devrenanferrari/genesis/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() generateCmdModel {
	return newGenerateModel(genFlags{server: "http://localhost:0", userID: "u1", project: "todo"}, logger.NewNullLogger())
}

func TestGenerateModelFrames(t *testing.T) {
	m := newTestModel()
	m.state = Processing

	frames := []server.Frame{
		{Type: "thought", Content: "planning"},
		{Type: "patch", Path: "a.go", Content: "x"},
		{Type: "patch", Path: "b.go", Content: "y"},
		{Type: "patch", Path: "a.go", Delete: true},
		{Type: "commit", Commit: &core.CommitResult{Sequence: 1, Message: "init", Files: 1,
			Results: []core.SinkResult{{Sink: "disk", OK: true}, {Sink: "git", OK: false, Error: "boom"}}}},
		{Type: server.FrameDone, Summary: &core.Summary{Commits: 1, Files: 1}},
	}
	var model tea.Model = m
	for _, f := range frames {
		var cmd tea.Cmd
		model, cmd = model.Update(f)
		assert.NotNil(t, cmd)
	}

	got := model.(generateCmdModel)
	assert.Equal(t, "planning", got.lastThought)
	assert.Equal(t, map[string]bool{"b.go": true}, got.files)
	require.Len(t, got.commits, 1)
	assert.Equal(t, []string{"git"}, got.commits[0].Failed())
	require.NotNil(t, got.summary)
	assert.Contains(t, got.View(), "init (1 files), failed: git")

	model, _ = got.Update(streamEndMsg{})
	assert.Equal(t, Finished, model.(generateCmdModel).state)
}

func TestGenerateModelEmptyPrompt(t *testing.T) {
	m := newTestModel()
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, Input, model.(generateCmdModel).state)
	assert.NotNil(t, cmd)
}

func TestGenerateModelEnterStartsProcessing(t *testing.T) {
	m := newTestModel()
	m.textInput.SetValue("  a todo app ")
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	got := model.(generateCmdModel)
	assert.Equal(t, Processing, got.state)
	assert.Equal(t, "a todo app", got.request.Prompt)
	assert.NotNil(t, cmd)
	got.Shutdown()
}

func TestListenForNextFrame(t *testing.T) {
	m := newTestModel()
	m.publisher.Publish(server.Frame{Type: "thought"})
	m.publisher.Error(errors.New("stream broke"))
	m.publisher.Close()

	assert.Equal(t, server.Frame{Type: "thought"}, m.listenForNextFrame())
	assert.EqualError(t, m.listenForNextFrame().(error), "stream broke")
	assert.Equal(t, streamEndMsg{}, m.listenForNextFrame())
}

func TestDescribeCommit(t *testing.T) {
	assert.Equal(t, "commit 2 (3 files)", describeCommit(core.CommitResult{Sequence: 2, Files: 3}))
	assert.Equal(t, "noop (no changes)", describeCommit(core.CommitResult{Message: "noop", Empty: true}))
}
