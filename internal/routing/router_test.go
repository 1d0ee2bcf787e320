package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/provider/registry"
	"github.com/davidbz/howl/internal/routing"
	"github.com/davidbz/howl/internal/usage"
)

// mockProvider is a scripted Provider for router tests.
type mockProvider struct {
	name      string
	available bool
	models    []domain.ModelInfo
	fail      bool
	calls     int
}

func (m *mockProvider) Complete(_ context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	m.calls++
	if m.fail {
		return nil, errors.New("backend exploded")
	}
	return &domain.CompletionResponse{
		ID:       "resp-1",
		Model:    "test-model",
		Provider: m.name,
		Content:  "ok",
		Usage:    domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *mockProvider) Stream(_ context.Context, _ *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) IsAvailable(_ context.Context) bool { return m.available }

func (m *mockProvider) Models(_ context.Context) []domain.ModelInfo { return m.models }

func (m *mockProvider) IsModelSupported(_ context.Context, model string) bool {
	for _, info := range m.models {
		if info.Name == model {
			return true
		}
	}
	return false
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ string, _ map[string]interface{}) {}

func newRouter(t *testing.T, cfg routing.Config, providers ...domain.Provider) (*routing.Router, *usage.Aggregator) {
	t.Helper()

	reg := registry.NewRegistry()
	for _, p := range providers {
		require.NoError(t, reg.Register(context.Background(), p))
	}

	agg := usage.NewAggregator()
	costCalc := domain.NewStandardCostCalculator(domain.NewInMemoryPricingRegistry())

	return routing.NewRouter(&cfg, reg, agg, costCalc, nopPublisher{}), agg
}

func userRequest(content string) *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Messages: []domain.Message{{Role: "user", Content: content}},
	}
}

func TestRouter_SelectProvider(t *testing.T) {
	t.Run("should fail when no providers are available", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "down", available: false})

		_, err := router.SelectProvider(context.Background(), userRequest("hi"), routing.StrategySmart)

		require.ErrorIs(t, err, domain.ErrNoProvidersAvailable)
	})

	t.Run("should honor explicit provider override", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "openai", available: true},
			&mockProvider{name: "local-server", available: true})

		req := userRequest("hi")
		req.Provider = "local-server"

		provider, err := router.SelectProvider(context.Background(), req, routing.StrategySmart)

		require.NoError(t, err)
		require.Equal(t, "local-server", provider.Name())
	})

	t.Run("should fail when overridden provider is unavailable", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "openai", available: true})

		req := userRequest("hi")
		req.Provider = "local-server"

		_, err := router.SelectProvider(context.Background(), req, routing.StrategySmart)

		require.Error(t, err)
		require.Contains(t, err.Error(), "not available")
	})

	t.Run("should pick cheapest by declared cost", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategyCheapest},
			&mockProvider{name: "openai", available: true,
				models: []domain.ModelInfo{{Name: "gpt-4", CostPer1K: 0.09}}},
			&mockProvider{name: "local-server", available: true,
				models: []domain.ModelInfo{{Name: "llama3", CostPer1K: 0.0001}}})

		provider, err := router.SelectProvider(context.Background(), userRequest("hi"), routing.StrategyCheapest)

		require.NoError(t, err)
		require.Equal(t, "local-server", provider.Name())
	})

	t.Run("should not let a provider without models win cheapest", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategyCheapest},
			&mockProvider{name: "custom-a", available: true},
			&mockProvider{name: "openai", available: true,
				models: []domain.ModelInfo{{Name: "gpt-4", CostPer1K: 0.09}}})

		provider, err := router.SelectProvider(context.Background(), userRequest("hi"), routing.StrategyCheapest)

		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})

	t.Run("should pick fastest by rolling latency with default for no history", func(t *testing.T) {
		router, agg := newRouter(t, routing.Config{Strategy: routing.StrategyFastest},
			&mockProvider{name: "openai", available: true},
			&mockProvider{name: "local-server", available: true})

		// local-server has history well under the 500ms default assumed for openai.
		agg.RecordSuccess("local-server", domain.Usage{}, 50*time.Millisecond)

		provider, err := router.SelectProvider(context.Background(), userRequest("hi"), routing.StrategyFastest)

		require.NoError(t, err)
		require.Equal(t, "local-server", provider.Name())
	})

	t.Run("should pick best quality by fixed rank", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategyBestQuality},
			&mockProvider{name: "local-cli", available: true},
			&mockProvider{name: "openai", available: true})

		provider, err := router.SelectProvider(context.Background(), userRequest("hi"), routing.StrategyBestQuality)

		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})

	t.Run("should route short code prompts to local provider", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "openai", available: true},
			&mockProvider{name: "local-server", available: true})

		req := userRequest("debug this function please")
		req.Category = domain.TaskCode

		provider, err := router.SelectProvider(context.Background(), req, routing.StrategySmart)

		require.NoError(t, err)
		require.Equal(t, "local-server", provider.Name())
	})

	t.Run("should route creative prompts to remote provider", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "local-server", available: true},
			&mockProvider{name: "openai", available: true})

		req := userRequest("write a poem")
		req.Category = domain.TaskCreative

		provider, err := router.SelectProvider(context.Background(), req, routing.StrategySmart)

		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})

	t.Run("should fall back to first available for unknown category", func(t *testing.T) {
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart},
			&mockProvider{name: "custom-a", available: true},
			&mockProvider{name: "custom-b", available: true})

		req := userRequest("hi")
		req.Category = domain.TaskCategory("exotic")

		provider, err := router.SelectProvider(context.Background(), req, routing.StrategySmart)

		require.NoError(t, err)
		require.Equal(t, "custom-a", provider.Name())
	})
}

func TestRouter_ExecuteWithFallback(t *testing.T) {
	t.Run("should return fallback-annotated result when primary fails", func(t *testing.T) {
		failing := &mockProvider{name: "custom-a", available: true, fail: true}
		working := &mockProvider{name: "custom-b", available: true}
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart, FallbackEnabled: true},
			failing, working)

		resp, err := router.Route(context.Background(), userRequest("hi"))

		require.NoError(t, err)
		require.Equal(t, "custom-b", resp.Provider)
		require.True(t, resp.Fallback)
		require.Contains(t, resp.FallbackFrom, "backend exploded")
	})

	t.Run("should not fall back when fallback is disabled", func(t *testing.T) {
		failing := &mockProvider{name: "custom-a", available: true, fail: true}
		working := &mockProvider{name: "custom-b", available: true}
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart, FallbackEnabled: false},
			failing, working)

		_, err := router.Route(context.Background(), userRequest("hi"))

		require.Error(t, err)
		require.Zero(t, working.calls)
	})

	t.Run("should aggregate all failures in attempt order", func(t *testing.T) {
		first := &mockProvider{name: "custom-a", available: true, fail: true}
		second := &mockProvider{name: "custom-b", available: true, fail: true}
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart, FallbackEnabled: true},
			first, second)

		_, err := router.Route(context.Background(), userRequest("hi"))

		var allFailed *domain.AllProvidersFailedError
		require.ErrorAs(t, err, &allFailed)
		require.Len(t, allFailed.Attempts, 2)
		require.Equal(t, "custom-a", allFailed.Attempts[0].Provider)
		require.Equal(t, "custom-b", allFailed.Attempts[1].Provider)
	})

	t.Run("should record outcomes in the usage aggregator", func(t *testing.T) {
		failing := &mockProvider{name: "custom-a", available: true, fail: true}
		working := &mockProvider{name: "custom-b", available: true}
		router, agg := newRouter(t, routing.Config{Strategy: routing.StrategySmart, FallbackEnabled: true},
			failing, working)

		_, err := router.Route(context.Background(), userRequest("hi"))
		require.NoError(t, err)

		// Stats are applied off the request path.
		require.Eventually(t, func() bool {
			return agg.Stats("custom-a").Failures == 1 && agg.Stats("custom-b").Successes == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("should classify uncategorized requests before selection", func(t *testing.T) {
		local := &mockProvider{name: "local-server", available: true}
		remote := &mockProvider{name: "openai", available: true}
		router, _ := newRouter(t, routing.Config{Strategy: routing.StrategySmart, FallbackEnabled: true},
			remote, local)

		// Creative prompt should land on openai even though local-server
		// was registered second.
		resp, err := router.Route(context.Background(), userRequest("write a story about a scarecrow"))

		require.NoError(t, err)
		require.Equal(t, "openai", resp.Provider)
	})
}
