package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chartflow-ai/chartflow/config"
	"github.com/chartflow-ai/chartflow/metrics"
)

// Analyzer is the orchestration layer. It owns the response cache, the
// in-flight de-duplication group, the rate-limited dispatcher and the
// retrying invoker; construct one per process and share it across callers.
type Analyzer struct {
	cache      *ResponseCache
	keys       KeyBuilder
	dispatcher *Dispatcher
	invoker    *Invoker
	flights    singleflight.Group
	collector  *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New wires an Analyzer from config around the given provider.
// collector may be nil to disable metrics; logger may be nil.
func New(cfg *config.Config, provider Provider, collector *metrics.Collector, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "analyzer"))

	return &Analyzer{
		cache:      NewResponseCache(cfg.Cache.Capacity, cfg.Cache.TTL),
		keys:       NewKeyBuilder(cfg.Key),
		dispatcher: NewDispatcher(cfg.Dispatcher, collector, logger),
		invoker:    NewInvoker(provider, cfg.Provider.Model, cfg.Retry, collector, logger),
		collector:  collector,
		tracer:     otel.Tracer("github.com/chartflow-ai/chartflow/analysis"),
		logger:     logger,
	}
}

// Analyze returns the analysis text for req, from cache when possible.
//
// Concurrent calls that map to the same cache key collapse onto a single
// remote invocation; every caller receives that call's result or error. The
// remote call itself runs detached from the initiating caller's cancellation,
// so an abandoning caller does not starve the callers that joined it, and a
// completed call is always written to the cache.
func (a *Analyzer) Analyze(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		a.collector.RecordRequest("invalid")
		return "", err
	}

	key := a.keys.Build(req)
	log := a.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("cache_key", key),
	)

	if text, ok := a.cache.Get(key); ok {
		log.Debug("cache hit")
		a.collector.RecordCacheHit()
		a.collector.RecordRequest("cache_hit")
		return text, nil
	}
	a.collector.RecordCacheMiss()

	v, err, shared := a.flights.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have completed and
		// cached between our miss and this closure running.
		if text, ok := a.cache.Get(key); ok {
			return text, nil
		}

		callCtx := context.WithoutCancel(ctx)
		callCtx, span := a.tracer.Start(callCtx, "analysis.generate",
			trace.WithAttributes(
				attribute.String("provider", a.invoker.provider.Name()),
				attribute.Int("image.size", len(req.Image)),
			))
		defer span.End()

		text, err := a.dispatcher.Submit(callCtx, func(taskCtx context.Context) (string, error) {
			return a.invoker.Invoke(taskCtx, req)
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		a.cache.Set(key, text)
		return text, nil
	})

	if shared {
		log.Debug("joined in-flight call")
		a.collector.RecordFlightJoin()
	}
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		a.collector.RecordRequest("error")
		return "", err
	}

	a.collector.RecordRequest("ok")
	return v.(string), nil
}

// CacheStats exposes cache counters for operational introspection.
func (a *Analyzer) CacheStats() CacheStats {
	return a.cache.Stats()
}

// TimeframeRequest is one step of a multi-timeframe workflow: a chart image
// for a named timeframe, e.g. "1D", "4H", "15m".
type TimeframeRequest struct {
	Timeframe string
	Request   Request
}

// TimeframeResult is the outcome of one timeframe step. Err is set when that
// step failed; earlier results are unaffected.
type TimeframeResult struct {
	Timeframe string
	Analysis  string
	Err       error
}

// AnalyzeTimeframes runs a chained analysis across timeframes, highest first.
// Each successful step's text is appended as context to the prompts of the
// steps after it. A failed step is surfaced in its own result and contributes
// no context; the chain continues.
func (a *Analyzer) AnalyzeTimeframes(ctx context.Context, frames []TimeframeRequest) []TimeframeResult {
	results := make([]TimeframeResult, 0, len(frames))
	var prior strings.Builder

	for _, frame := range frames {
		req := frame.Request
		if prior.Len() > 0 {
			req.Prompt = fmt.Sprintf("%s\n\nAnalysis of higher timeframes:\n%s", req.Prompt, prior.String())
		}

		text, err := a.Analyze(ctx, &req)
		results = append(results, TimeframeResult{
			Timeframe: frame.Timeframe,
			Analysis:  text,
			Err:       err,
		})

		if err == nil {
			fmt.Fprintf(&prior, "[%s]\n%s\n\n", frame.Timeframe, text)
		}
	}
	return results
}
