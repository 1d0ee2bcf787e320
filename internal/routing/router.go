// Package routing selects a provider for each completion request and runs
// the fallback cascade when the chosen provider fails.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/davidbz/howl/internal/classify"
	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
)

// Strategy selects how the primary provider is chosen.
type Strategy string

const (
	// StrategySmart dispatches on the request's task category.
	StrategySmart Strategy = "smart"

	// StrategyCheapest picks the provider with the lowest declared cost.
	StrategyCheapest Strategy = "cheapest"

	// StrategyFastest picks the provider with the lowest rolling latency.
	StrategyFastest Strategy = "fastest"

	// StrategyBestQuality picks the provider with the highest quality rank.
	StrategyBestQuality Strategy = "best-quality"
)

// defaultLatencyMs is assumed for providers with no recorded history.
const defaultLatencyMs = 500.0

// shortPromptTokens bounds what the smart strategy treats as a short prompt.
const shortPromptTokens = 500

// Config contains router settings.
type Config struct {
	Strategy        Strategy `env:"ROUTER_STRATEGY"         envDefault:"smart"`
	FallbackEnabled bool     `env:"ROUTER_FALLBACK"         envDefault:"true"`
	AttemptTimeout  int      `env:"ROUTER_ATTEMPT_TIMEOUT"  envDefault:"60"` // seconds
}

// qualityRank is the fixed quality table for the best-quality strategy.
// Higher is better.
var qualityRank = map[string]int{
	"openai":       3,
	"local-server": 2,
	"local-cli":    1,
	"echo":         0,
}

// smartPreferences maps a task category to an ordered provider preference.
var smartPreferences = map[domain.TaskCategory][]string{
	domain.TaskCreative:    {"openai", "local-server", "local-cli"},
	domain.TaskReasoning:   {"openai", "local-server", "local-cli"},
	domain.TaskTranslation: {"openai", "local-server", "local-cli"},
	domain.TaskFact:        {"local-server", "local-cli", "openai"},
	domain.TaskSummary:     {"local-server", "openai", "local-cli"},
	domain.TaskSimple:      {"local-server", "local-cli", "openai"},
}

// Router picks providers and executes requests with fallback.
type Router struct {
	config   Config
	registry domain.ProviderRegistry
	recorder domain.UsageRecorder
	costCalc domain.CostCalculator
	events   domain.EventPublisher
}

// NewRouter creates a new router (DI constructor).
func NewRouter(
	config *Config,
	registry domain.ProviderRegistry,
	recorder domain.UsageRecorder,
	costCalc domain.CostCalculator,
	events domain.EventPublisher,
) *Router {
	return &Router{
		config:   *config,
		registry: registry,
		recorder: recorder,
		costCalc: costCalc,
		events:   events,
	}
}

// Route classifies the request, selects a provider per the configured
// strategy, and executes with the fallback cascade.
func (r *Router) Route(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if req.Category == "" {
		classified := *req
		classified.Category = classify.Classify(req.PromptText())
		req = &classified
	}

	ctx = observability.WithStrategy(ctx, string(r.config.Strategy))

	return r.ExecuteWithFallback(ctx, req)
}

// Stream selects a provider per the configured strategy and opens a chunk
// stream. Streaming has no fallback cascade; a broken stream surfaces as a
// chunk error.
func (r *Router) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if req.Category == "" {
		classified := *req
		classified.Category = classify.Classify(req.PromptText())
		req = &classified
	}

	ctx = observability.WithStrategy(ctx, string(r.config.Strategy))

	provider, err := r.SelectProvider(ctx, req, r.config.Strategy)
	if err != nil {
		return nil, err
	}
	return provider.Stream(ctx, req)
}

// SelectProvider picks the primary provider for a request.
func (r *Router) SelectProvider(
	ctx context.Context,
	req *domain.CompletionRequest,
	strategy Strategy,
) (domain.Provider, error) {
	available := r.registry.Available(ctx)
	if len(available) == 0 {
		return nil, domain.ErrNoProvidersAvailable
	}

	// Explicit provider override wins over every strategy.
	if req.Provider != "" {
		for _, p := range available {
			if p.Name() == req.Provider {
				return p, nil
			}
		}
		return nil, fmt.Errorf("requested provider %s is not available", req.Provider)
	}

	switch strategy {
	case StrategyCheapest:
		return r.selectCheapest(ctx, available), nil
	case StrategyFastest:
		return r.selectFastest(available), nil
	case StrategyBestQuality:
		return r.selectBestQuality(available), nil
	case StrategySmart:
		return r.selectSmart(req, available), nil
	default:
		return r.selectSmart(req, available), nil
	}
}

// selectSmart dispatches on task category to a fixed preference ordering.
func (r *Router) selectSmart(req *domain.CompletionRequest, available []domain.Provider) domain.Provider {
	byName := make(map[string]domain.Provider, len(available))
	for _, p := range available {
		byName[p.Name()] = p
	}

	category := req.Category

	// Code goes local when the prompt is short, remote otherwise.
	if category == domain.TaskCode {
		preference := []string{"openai", "local-server", "local-cli"}
		if classify.EstimateTokens(req.PromptText()) < shortPromptTokens {
			preference = []string{"local-server", "local-cli", "openai"}
		}
		if p := firstMatch(preference, byName); p != nil {
			return p
		}
		return available[0]
	}

	if preference, ok := smartPreferences[category]; ok {
		if p := firstMatch(preference, byName); p != nil {
			return p
		}
	}

	// No category rule matched: first available.
	return available[0]
}

func firstMatch(preference []string, byName map[string]domain.Provider) domain.Provider {
	for _, name := range preference {
		if p, ok := byName[name]; ok {
			return p
		}
	}
	return nil
}

// selectCheapest sorts by the provider's lowest declared per-1K cost.
func (r *Router) selectCheapest(ctx context.Context, available []domain.Provider) domain.Provider {
	candidates := append([]domain.Provider{}, available...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return minCost(ctx, candidates[i]) < minCost(ctx, candidates[j])
	})
	return candidates[0]
}

func minCost(ctx context.Context, p domain.Provider) float64 {
	models := p.Models(ctx)
	if len(models) == 0 {
		// A provider with no declared models carries no pricing signal and
		// must not outrank providers with real costs.
		return math.MaxFloat64
	}
	min := models[0].CostPer1K
	for _, m := range models[1:] {
		if m.CostPer1K < min {
			min = m.CostPer1K
		}
	}
	return min
}

// selectFastest sorts by rolling average latency ascending.
func (r *Router) selectFastest(available []domain.Provider) domain.Provider {
	candidates := append([]domain.Provider{}, available...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return r.avgLatency(candidates[i].Name()) < r.avgLatency(candidates[j].Name())
	})
	return candidates[0]
}

func (r *Router) avgLatency(provider string) float64 {
	stats := r.recorder.Stats(provider)
	if stats.Requests == 0 {
		return defaultLatencyMs
	}
	return stats.AvgLatencyMs
}

// selectBestQuality sorts by the fixed quality rank table descending.
func (r *Router) selectBestQuality(available []domain.Provider) domain.Provider {
	candidates := append([]domain.Provider{}, available...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return qualityRank[candidates[i].Name()] > qualityRank[candidates[j].Name()]
	})
	return candidates[0]
}

// ExecuteWithFallback attempts the primary provider, then walks the
// remaining available providers in registry order until one succeeds or all
// are exhausted. Fallbacks run sequentially; a fallback is only attempted
// after a prior failure.
func (r *Router) ExecuteWithFallback(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	logger := observability.FromContext(ctx)

	primary, err := r.SelectProvider(ctx, req, r.config.Strategy)
	if err != nil {
		return nil, err
	}

	response, primaryErr := r.attempt(ctx, primary, req)
	if primaryErr == nil {
		return response, nil
	}

	logger.Warn("primary provider failed",
		observability.String("primary", primary.Name()),
		observability.Error(primaryErr))

	attempts := []domain.AttemptError{{Provider: primary.Name(), Err: primaryErr}}

	if !r.config.FallbackEnabled {
		return nil, fmt.Errorf("provider %s failed: %w", primary.Name(), primaryErr)
	}

	for _, fallback := range r.registry.Available(ctx) {
		if fallback.Name() == primary.Name() {
			continue
		}

		resp, attemptErr := r.attempt(ctx, fallback, req)
		if attemptErr == nil {
			resp.Fallback = true
			resp.FallbackFrom = primaryErr.Error()

			r.events.Publish(ctx, "router.fallback_succeeded", map[string]interface{}{
				"primary":  primary.Name(),
				"fallback": fallback.Name(),
			})
			return resp, nil
		}

		logger.Warn("fallback provider failed",
			observability.String("fallback", fallback.Name()),
			observability.Error(attemptErr))
		attempts = append(attempts, domain.AttemptError{Provider: fallback.Name(), Err: attemptErr})
	}

	r.events.Publish(ctx, "router.all_providers_failed", map[string]interface{}{
		"attempts": len(attempts),
	})

	return nil, &domain.AllProvidersFailedError{Attempts: attempts}
}

// attempt executes one provider call with a bounded timeout and records the
// outcome off the request path.
func (r *Router) attempt(
	ctx context.Context,
	provider domain.Provider,
	req *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	attemptCtx := ctx
	if r.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(r.config.AttemptTimeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	response, err := provider.Complete(attemptCtx, req)
	latency := time.Since(start)

	if err != nil {
		go r.recorder.RecordFailure(provider.Name(), latency)
		return nil, err
	}

	if response.LatencyMs == 0 {
		response.LatencyMs = latency.Milliseconds()
	}

	cost, _ := r.costCalc.Calculate(ctx, response.Model, response.Usage)
	response.Usage.Cost = cost

	recorded := response.Usage
	go r.recorder.RecordSuccess(provider.Name(), recorded, latency)

	return response, nil
}
