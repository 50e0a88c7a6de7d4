package llm

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	PromptGenerate = "generate"
	PromptProject  = "project"
	PromptChat     = "chat"
)

//go:embed prompts.yaml
var promptsYAML []byte

var (
	prompts     map[string]string
	promptsOnce sync.Once
	promptsErr  error
)

func loadPrompts() {
	promptsErr = yaml.Unmarshal(promptsYAML, &prompts)
}

// Prompt returns the system prompt registered under name.
func Prompt(name string) (string, error) {
	promptsOnce.Do(loadPrompts)
	if promptsErr != nil {
		return "", fmt.Errorf("error parsing prompt catalogue: %w", promptsErr)
	}
	p, ok := prompts[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt: %s", name)
	}
	return p, nil
}

// MustPrompt is Prompt for the names defined in this package.
func MustPrompt(name string) string {
	p, err := Prompt(name)
	if err != nil {
		panic(err)
	}
	return p
}

func getProjectPrompt(project, prompt string) string {
	return fmt.Sprintf(`Project name: %s

Build this project:
%s`, project, prompt)
}
