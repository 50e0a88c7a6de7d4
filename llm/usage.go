package llm

import (
	"github.com/devrenanferrari/genesis/logger"
	tellm "github.com/santiagomed/tellm/sdk"
)

// UsageRecorder receives one record per finished completion.
type UsageRecorder interface {
	Record(batch, prompt, output, model string, promptTokens, completionTokens int)
}

type nopRecorder struct{}

func (nopRecorder) Record(batch, prompt, output, model string, promptTokens, completionTokens int) {}

type tellmRecorder struct {
	client *tellm.Client
	logger logger.Logger
}

// NewUsageRecorder logs completions to a tellm server. An empty url disables recording.
func NewUsageRecorder(url string, l logger.Logger) UsageRecorder {
	if url == "" {
		return nopRecorder{}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &tellmRecorder{client: tellm.NewClient(url), logger: l}
}

func (r *tellmRecorder) Record(batch, prompt, output, model string, promptTokens, completionTokens int) {
	batch = EnsureBatchID(batch)
	l := r.logger.WithField("batch", batch).
		WithField("model", model).
		WithField("prompt_tokens", promptTokens).
		WithField("completion_tokens", completionTokens)
	if err := r.client.Log(batch, prompt, output); err != nil {
		l.WithError(err).Warn("failed to log to tellm")
		return
	}
	l.Debug("Completion logged to tellm")
}
