// Package usage maintains rolling per-provider performance windows. The
// aggregator feeds the router's cheapest/fastest strategies and the
// experiment controller's bandit scores.
package usage

import (
	"sync"
	"time"

	"github.com/davidbz/howl/internal/domain"
)

// emaAlpha weights the newest latency sample in the exponential moving average.
const emaAlpha = 0.1

type providerWindow struct {
	mu           sync.Mutex
	requests     int64
	successes    int64
	failures     int64
	totalTokens  int64
	totalCost    float64
	avgLatencyMs float64
}

// Aggregator tracks rolling stats per provider. Each provider has its own
// lock so concurrent requests against different providers never contend.
type Aggregator struct {
	mu      sync.RWMutex
	windows map[string]*providerWindow
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		mu:      sync.RWMutex{},
		windows: make(map[string]*providerWindow),
	}
}

func (a *Aggregator) window(provider string) *providerWindow {
	a.mu.RLock()
	w, ok := a.windows[provider]
	a.mu.RUnlock()
	if ok {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok = a.windows[provider]; ok {
		return w
	}
	w = &providerWindow{}
	a.windows[provider] = w
	return w
}

// RecordSuccess records a completed attempt.
func (a *Aggregator) RecordSuccess(provider string, usage domain.Usage, latency time.Duration) {
	w := a.window(provider)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.requests++
	w.successes++
	w.totalTokens += int64(usage.TotalTokens)
	w.totalCost += usage.Cost
	w.applyLatency(latency)
}

// RecordFailure records a failed attempt.
func (a *Aggregator) RecordFailure(provider string, latency time.Duration) {
	w := a.window(provider)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.requests++
	w.failures++
	w.applyLatency(latency)
}

// applyLatency folds a sample into the moving average. Caller holds w.mu.
func (w *providerWindow) applyLatency(latency time.Duration) {
	sample := float64(latency.Milliseconds())
	if w.requests == 1 {
		w.avgLatencyMs = sample
		return
	}
	w.avgLatencyMs = emaAlpha*sample + (1-emaAlpha)*w.avgLatencyMs
}

// Stats returns a snapshot of a provider's rolling window. Providers with no
// history return a zero-valued snapshot.
func (a *Aggregator) Stats(provider string) domain.ProviderStats {
	a.mu.RLock()
	w, ok := a.windows[provider]
	a.mu.RUnlock()
	if !ok {
		return domain.ProviderStats{Provider: provider}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return domain.ProviderStats{
		Provider:     provider,
		Requests:     w.requests,
		Successes:    w.successes,
		Failures:     w.failures,
		TotalTokens:  w.totalTokens,
		TotalCost:    w.totalCost,
		AvgLatencyMs: w.avgLatencyMs,
	}
}
