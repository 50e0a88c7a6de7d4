package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/devrenanferrari/genesis/logger"
	"github.com/sashabaranov/go-openai"
)

// Config holds the settings shared by every provider client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	openAIClient *openai.Client
	config       *Config
	usage        UsageRecorder
	logger       logger.Logger
}

// NewOpenAIClient creates a new OpenAI-backed client
func NewOpenAIClient(cfg *Config, usage UsageRecorder, l logger.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if usage == nil {
		usage = nopRecorder{}
	}
	return &OpenAIClient{
		openAIClient: openai.NewClientWithConfig(clientCfg),
		config:       cfg,
		usage:        usage,
		logger:       l,
	}, nil
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

// Complete sends a request to the OpenAI API and returns the generated text
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	oreq := c.buildRequest(req)
	resp, err := c.openAIClient.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	res := resp.Choices[0].Message.Content
	c.logger.WithField("model", oreq.Model).WithField("chars", len(res)).Info("completion received")
	c.usage.Record(req.Batch, lastUserContent(req.Messages), res, oreq.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return &Completion{
		Content:          res,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream opens a streaming completion.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	oreq := c.buildRequest(req)
	oreq.Stream = true
	stream, err := c.openAIClient.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	return &openAIStream{
		stream: stream,
		req:    req,
		model:  oreq.Model,
		usage:  c.usage,
		logger: c.logger,
	}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	req    Request
	model  string
	usage  UsageRecorder
	logger logger.Logger
	output strings.Builder
	done   bool
}

func (s *openAIStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			return "", io.EOF
		}
		if err != nil {
			return "", mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		fragment := resp.Choices[0].Delta.Content
		s.output.WriteString(fragment)
		return fragment, nil
	}
}

func (s *openAIStream) finish() {
	s.done = true
	s.logger.WithField("model", s.model).WithField("chars", s.output.Len()).Info("stream finished")
	s.usage.Record(s.req.Batch, lastUserContent(s.req.Messages), s.output.String(), s.model, 0, 0)
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	status := 0
	apiErr := &openai.APIError{}
	reqErr := &openai.RequestError{}
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return statusError(status, err)
}

func statusError(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized:
		// unauthorized
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		// rate limiting or engine overload
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return fmt.Errorf("%w (status %d): %w", ErrUpstream, status, err)
	}
}
