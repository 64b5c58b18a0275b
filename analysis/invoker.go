package analysis

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chartflow-ai/chartflow/config"
	"github.com/chartflow-ai/chartflow/metrics"
	"github.com/chartflow-ai/chartflow/types"
)

// EmptyAnalysisPlaceholder is returned when the model answers successfully
// but with no text. An empty response is not an error.
const EmptyAnalysisPlaceholder = "No analysis was generated for this chart."

const defaultMimeType = "image/png"

// Invoker performs the remote call for one request and recovers from
// transient failures with exponential backoff.
//
// Transient errors (HTTP 429 and 5xx, marked Retryable by the provider) are
// retried up to MaxRetries times, waiting base * 2^attempt before each retry.
// Terminal errors surface after a single attempt.
type Invoker struct {
	provider    Provider
	model       string
	maxRetries  int
	backoffBase time.Duration
	maxBackoff  time.Duration
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewInvoker builds an invoker for the given provider and model.
// collector may be nil.
func NewInvoker(provider Provider, model string, cfg config.RetryConfig, collector *metrics.Collector, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		provider:    provider,
		model:       model,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		maxBackoff:  cfg.MaxBackoff,
		collector:   collector,
		logger:      logger.With(zap.String("component", "invoker")),
	}
}

// Invoke issues the remote call for req, retrying transient failures.
// It returns the analysis text or the last error once retries are exhausted.
func (iv *Invoker) Invoke(ctx context.Context, req *Request) (string, error) {
	payload := ImagePayload{
		Data:     req.Image,
		MimeType: req.Meta.MimeType,
	}
	if payload.MimeType == "" {
		payload.MimeType = defaultMimeType
	}

	var lastErr error
	for attempt := 0; attempt <= iv.maxRetries; attempt++ {
		if attempt > 0 {
			delay := iv.backoffDelay(attempt)
			iv.logger.Debug("retrying remote call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", iv.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			iv.collector.RecordRetry()

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		text, err := iv.provider.GenerateContent(ctx, iv.model, req.Prompt, payload)
		if err == nil {
			iv.collector.RecordRemoteCall(iv.provider.Name(), "ok", time.Since(start))
			if strings.TrimSpace(text) == "" {
				return EmptyAnalysisPlaceholder, nil
			}
			return text, nil
		}

		lastErr = err
		if !types.IsRetryable(err) {
			iv.collector.RecordRemoteCall(iv.provider.Name(), "terminal", time.Since(start))
			iv.logger.Debug("terminal remote error", zap.Error(err))
			return "", err
		}
		iv.collector.RecordRemoteCall(iv.provider.Name(), "transient", time.Since(start))
	}

	iv.logger.Warn("retries exhausted",
		zap.Int("attempts", iv.maxRetries+1),
		zap.Error(lastErr),
	)
	return "", lastErr
}

// backoffDelay computes base * 2^attempt, capped at maxBackoff.
func (iv *Invoker) backoffDelay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := iv.backoffBase << uint(attempt)
	if iv.maxBackoff > 0 && delay > iv.maxBackoff {
		delay = iv.maxBackoff
	}
	return delay
}
