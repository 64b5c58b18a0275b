package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chartflow-ai/chartflow/config"
	"github.com/chartflow-ai/chartflow/types"
)

func newTestAnalyzer(p Provider, mutate func(*config.Config)) *Analyzer {
	cfg := config.Default()
	cfg.Cache = config.CacheConfig{Capacity: 8, TTL: time.Minute}
	cfg.Dispatcher = config.DispatcherConfig{
		MaxConcurrent:    4,
		CallsPerInterval: 100,
		Interval:         time.Second,
		CarryOver:        true,
		QueueTimeout:     time.Second,
	}
	cfg.Retry = config.RetryConfig{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, p, nil, zap.NewNop())
}

func TestAnalyzer_CacheHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	a := newTestAnalyzer(p, nil)

	first, err := a.Analyze(context.Background(), testRequest("btc.png"))
	require.NoError(t, err)

	second, err := a.Analyze(context.Background(), testRequest("btc.png"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.callCount(), "second call must be served from cache")

	stats := a.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)
}

func TestAnalyzer_ConcurrentCallsCollapse(t *testing.T) {
	p := &fakeProvider{delay: 100 * time.Millisecond}
	a := newTestAnalyzer(p, nil)

	results := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n > 0 {
				time.Sleep(20 * time.Millisecond)
			}
			results[n], errs[n] = a.Analyze(context.Background(), testRequest("btc.png"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, p.callCount(), "concurrent identical requests must share one remote call")
}

func TestAnalyzer_ConcurrentCallsShareFailure(t *testing.T) {
	p := &fakeProvider{delay: 50 * time.Millisecond, script: []fakeCall{{err: terminalErr()}}}
	a := newTestAnalyzer(p, nil)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n > 0 {
				time.Sleep(10 * time.Millisecond)
			}
			_, errs[n] = a.Analyze(context.Background(), testRequest("btc.png"))
		}(i)
	}
	wg.Wait()

	require.Error(t, errs[0])
	require.Error(t, errs[1])
	assert.Equal(t, types.ErrModelNotFound, types.GetErrorCode(errs[0]))
	assert.Equal(t, types.ErrModelNotFound, types.GetErrorCode(errs[1]))
	assert.Equal(t, 1, p.callCount())
}

func TestAnalyzer_FailureNotCached(t *testing.T) {
	p := &fakeProvider{script: []fakeCall{
		{err: terminalErr()},
		{text: "second try worked"},
	}}
	a := newTestAnalyzer(p, nil)

	_, err := a.Analyze(context.Background(), testRequest("btc.png"))
	require.Error(t, err)

	got, err := a.Analyze(context.Background(), testRequest("btc.png"))
	require.NoError(t, err)
	assert.Equal(t, "second try worked", got)
	assert.Equal(t, 2, p.callCount(), "a failed call must not poison the cache")
}

func TestAnalyzer_ExpiredEntryTriggersNewCall(t *testing.T) {
	p := &fakeProvider{}
	a := newTestAnalyzer(p, func(cfg *config.Config) {
		cfg.Cache.TTL = 30 * time.Millisecond
	})

	_, err := a.Analyze(context.Background(), testRequest("btc.png"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = a.Analyze(context.Background(), testRequest("btc.png"))
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount(), "an expired entry must be refreshed upstream")
}

func TestAnalyzer_ValidationShortCircuits(t *testing.T) {
	p := &fakeProvider{}
	a := newTestAnalyzer(p, nil)

	req := testRequest("btc.png")
	req.Image = nil

	_, err := a.Analyze(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Equal(t, 0, p.callCount(), "invalid requests must not reach the queue")
}

func TestAnalyzer_DistinctRequestsDoNotCollapse(t *testing.T) {
	p := &fakeProvider{}
	a := newTestAnalyzer(p, nil)

	_, err := a.Analyze(context.Background(), testRequest("btc-1d.png"))
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), testRequest("btc-4h.png"))
	require.NoError(t, err)

	assert.Equal(t, 2, p.callCount())
}

func TestAnalyzer_TimeframeChain(t *testing.T) {
	p := &fakeProvider{script: []fakeCall{
		{text: "daily trend is up"},
		{text: "4h pullback to support"},
	}}
	a := newTestAnalyzer(p, nil)

	frames := []TimeframeRequest{
		{Timeframe: "1D", Request: *testRequest("btc-1d.png")},
		{Timeframe: "4H", Request: *testRequest("btc-4h.png")},
	}
	results := a.AnalyzeTimeframes(context.Background(), frames)

	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "daily trend is up", results[0].Analysis)

	require.Len(t, p.prompts, 2)
	assert.NotContains(t, p.prompts[0], "higher timeframes")
	assert.Contains(t, p.prompts[1], "Analysis of higher timeframes:")
	assert.Contains(t, p.prompts[1], "[1D]")
	assert.Contains(t, p.prompts[1], "daily trend is up")
}

func TestAnalyzer_TimeframeChainSkipsFailedContext(t *testing.T) {
	p := &fakeProvider{script: []fakeCall{
		{text: "daily trend is up"},
		{err: terminalErr()},
		{text: "15m entry confirmed"},
	}}
	a := newTestAnalyzer(p, nil)

	frames := []TimeframeRequest{
		{Timeframe: "1D", Request: *testRequest("btc-1d.png")},
		{Timeframe: "4H", Request: *testRequest("btc-4h.png")},
		{Timeframe: "15m", Request: *testRequest("btc-15m.png")},
	}
	results := a.AnalyzeTimeframes(context.Background(), frames)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "15m entry confirmed", results[2].Analysis)

	// The failed step contributes no context to later prompts.
	require.Len(t, p.prompts, 3)
	assert.Contains(t, p.prompts[2], "[1D]")
	assert.NotContains(t, p.prompts[2], "[4H]")
}
