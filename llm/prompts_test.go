package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptCatalogue(t *testing.T) {
	for _, name := range []string{PromptGenerate, PromptProject, PromptChat} {
		p, err := Prompt(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, p, name)
	}

	assert.Contains(t, MustPrompt(PromptProject), `"type":"commit"`)

	_, err := Prompt("nope")
	assert.Error(t, err)
}

func TestEnsureBatchID(t *testing.T) {
	id := NewBatchID()
	assert.Len(t, id, 24)
	assert.Equal(t, id, EnsureBatchID(id))
	assert.NotEqual(t, "my-project", EnsureBatchID("my-project"))
	assert.Len(t, EnsureBatchID(""), 24)
}
