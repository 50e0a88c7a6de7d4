package llm

import (
	"context"
	"fmt"

	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/logger"
)

// NewClient builds the client for the configured provider.
func NewClient(cfg config.LLMConfig, l logger.Logger) (Client, error) {
	usage := NewUsageRecorder(cfg.TellmURL, l)
	clientCfg := &Config{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		clientCfg.APIKey = cfg.OpenAIAPIKey
		c, err := NewOpenAIClient(clientCfg, usage, l)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderAnthropic:
		clientCfg.APIKey = cfg.AnthropicAPIKey
		c, err := NewAnthropicClient(clientCfg, usage, l)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// GenerateCode answers a single free-form code generation prompt.
func GenerateCode(ctx context.Context, client Client, prompt, model, batch string) (*Completion, error) {
	return client.Complete(ctx, codeRequest(prompt, model, batch))
}

// StreamCode is GenerateCode delivered as fragments.
func StreamCode(ctx context.Context, client Client, prompt, model, batch string) (Stream, error) {
	return client.Stream(ctx, codeRequest(prompt, model, batch))
}

func codeRequest(prompt, model, batch string) Request {
	return Request{
		System:   MustPrompt(PromptGenerate),
		Messages: []Message{{Role: RoleUser, Content: prompt}},
		Model:    model,
		Batch:    batch,
	}
}

// StreamProject opens a completion that emits the line-delimited project events.
func StreamProject(ctx context.Context, client Client, project, prompt, model, batch string) (Stream, error) {
	return client.Stream(ctx, Request{
		System:   MustPrompt(PromptProject),
		Messages: []Message{{Role: RoleUser, Content: getProjectPrompt(project, prompt)}},
		Model:    model,
		Batch:    batch,
	})
}

// Chat continues a conversation with the stored history.
func Chat(ctx context.Context, client Client, history []Message, message, model, batch string) (*Completion, error) {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})
	completion, err := client.Complete(ctx, Request{
		System:   MustPrompt(PromptChat),
		Messages: msgs,
		Model:    model,
		Batch:    batch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate chat reply: %w", err)
	}
	return completion, nil
}
