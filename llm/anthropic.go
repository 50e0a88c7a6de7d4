package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/devrenanferrari/genesis/logger"
)

const anthropicURL = "https://api.anthropic.com/v1"

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// anthropicEvent covers the SSE payloads we read from a streaming response.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	config     *Config
	usage      UsageRecorder
	logger     logger.Logger
	httpClient *http.Client
	baseURL    string
}

func NewAnthropicClient(cfg *Config, usage UsageRecorder, l logger.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := anthropicURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if usage == nil {
		usage = nopRecorder{}
	}
	return &AnthropicClient{
		config:     cfg,
		usage:      usage,
		logger:     l,
		httpClient: httpClient,
		baseURL:    baseURL,
	}, nil
}

func (a *AnthropicClient) buildRequest(req Request) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	if out.Model == "" {
		out.Model = a.config.Model
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = a.config.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = a.config.Temperature
	}
	// The messages API takes the system prompt separately.
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

func (a *AnthropicClient) do(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: error sending request: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var errResp anthropicErrorResponse
		detail := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			detail = errResp.Error.Type + " - " + errResp.Error.Message
		}
		return nil, statusError(resp.StatusCode, fmt.Errorf("anthropic API error: %s", detail))
	}
	return resp, nil
}

func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := a.buildRequest(req)
	resp, err := a.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling response: %w", ErrUpstream, err)
	}

	var text strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	res := text.String()
	a.logger.WithField("model", body.Model).WithField("chars", len(res)).Info("completion received")
	a.usage.Record(req.Batch, lastUserContent(req.Messages), res, body.Model, anthropicResp.Usage.InputTokens, anthropicResp.Usage.OutputTokens)

	return &Completion{
		Content:          res,
		Model:            anthropicResp.Model,
		PromptTokens:     anthropicResp.Usage.InputTokens,
		CompletionTokens: anthropicResp.Usage.OutputTokens,
	}, nil
}

func (a *AnthropicClient) Stream(ctx context.Context, req Request) (Stream, error) {
	body := a.buildRequest(req)
	body.Stream = true
	resp, err := a.do(ctx, body)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		req:    req,
		model:  body.Model,
		usage:  a.usage,
		logger: a.logger,
	}, nil
}

type anthropicStream struct {
	body         io.ReadCloser
	reader       *bufio.Reader
	req          Request
	model        string
	usage        UsageRecorder
	logger       logger.Logger
	output       strings.Builder
	inputTokens  int
	outputTokens int
	done         bool
}

// Recv reads SSE lines until the next text delta. Only "data:" lines carry
// payloads; "event:" lines repeat the payload type and are skipped.
func (s *anthropicStream) Recv() (string, error) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				s.finish()
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: reading stream: %w", ErrUpstream, err)
		}

		line = strings.TrimRight(line, "\r\n")
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var event anthropicEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
			s.logger.WithError(err).Debug("skipping undecodable stream payload")
			continue
		}

		switch event.Type {
		case "message_start":
			s.inputTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				s.output.WriteString(event.Delta.Text)
				return event.Delta.Text, nil
			}
		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				s.outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			s.finish()
		case "error":
			return "", fmt.Errorf("%w: %s - %s", ErrUpstream, event.Error.Type, event.Error.Message)
		}
	}
	return "", io.EOF
}

func (s *anthropicStream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.logger.WithField("model", s.model).WithField("chars", s.output.Len()).Info("stream finished")
	s.usage.Record(s.req.Batch, lastUserContent(s.req.Messages), s.output.String(), s.model, s.inputTokens, s.outputTokens)
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}
