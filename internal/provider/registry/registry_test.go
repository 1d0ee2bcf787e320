package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/provider/registry"
)

// mockProvider is a minimal Provider implementation for registry tests.
type mockProvider struct {
	name      string
	available bool
	models    []domain.ModelInfo
}

func (m *mockProvider) Complete(_ context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return nil, nil
}

func (m *mockProvider) Stream(_ context.Context, _ *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	return nil, nil
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) IsAvailable(_ context.Context) bool {
	return m.available
}

func (m *mockProvider) Models(_ context.Context) []domain.ModelInfo {
	return m.models
}

func (m *mockProvider) IsModelSupported(_ context.Context, model string) bool {
	for _, info := range m.models {
		if info.Name == model {
			return true
		}
	}
	return false
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should register a provider", func(t *testing.T) {
		reg := registry.NewRegistry()
		provider := &mockProvider{name: "openai", available: true}

		err := reg.Register(context.Background(), provider)

		require.NoError(t, err)
		got, err := reg.Get(context.Background(), "openai")
		require.NoError(t, err)
		require.Equal(t, provider, got)
	})

	t.Run("should reject nil provider", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(context.Background(), nil)

		require.Error(t, err)
		require.Contains(t, err.Error(), "provider cannot be nil")
	})

	t.Run("should reject duplicate registration", func(t *testing.T) {
		reg := registry.NewRegistry()
		provider := &mockProvider{name: "openai", available: true}

		require.NoError(t, reg.Register(context.Background(), provider))
		err := reg.Register(context.Background(), provider)

		require.Error(t, err)
		require.Contains(t, err.Error(), "already registered")
	})
}

func TestRegistry_List(t *testing.T) {
	t.Run("should preserve registration order", func(t *testing.T) {
		reg := registry.NewRegistry()
		ctx := context.Background()

		require.NoError(t, reg.Register(ctx, &mockProvider{name: "local-fast", available: true}))
		require.NoError(t, reg.Register(ctx, &mockProvider{name: "openai", available: true}))
		require.NoError(t, reg.Register(ctx, &mockProvider{name: "echo", available: true}))

		names, err := reg.List(ctx)

		require.NoError(t, err)
		require.Equal(t, []string{"local-fast", "openai", "echo"}, names)
	})
}

func TestRegistry_Available(t *testing.T) {
	t.Run("should skip unavailable providers", func(t *testing.T) {
		reg := registry.NewRegistry()
		ctx := context.Background()

		require.NoError(t, reg.Register(ctx, &mockProvider{name: "down", available: false}))
		require.NoError(t, reg.Register(ctx, &mockProvider{name: "up", available: true}))

		available := reg.Available(ctx)

		require.Len(t, available, 1)
		require.Equal(t, "up", available[0].Name())
	})

	t.Run("should return empty slice when nothing is available", func(t *testing.T) {
		reg := registry.NewRegistry()
		ctx := context.Background()

		require.NoError(t, reg.Register(ctx, &mockProvider{name: "down", available: false}))

		require.Empty(t, reg.Available(ctx))
	})
}

func TestRegistry_GetByModel(t *testing.T) {
	t.Run("should resolve provider from declared models", func(t *testing.T) {
		reg := registry.NewRegistry()
		ctx := context.Background()

		provider := &mockProvider{
			name:      "openai",
			available: true,
			models:    []domain.ModelInfo{{Name: "gpt-4", ContextWindow: 8192, CostPer1K: 0.045}},
		}
		require.NoError(t, reg.Register(ctx, provider))

		got, err := reg.GetByModel(ctx, "gpt-4")

		require.NoError(t, err)
		require.Equal(t, "openai", got.Name())
	})

	t.Run("should return error for unknown model", func(t *testing.T) {
		reg := registry.NewRegistry()

		_, err := reg.GetByModel(context.Background(), "unknown-model")

		require.Error(t, err)
		require.Contains(t, err.Error(), "no provider found for model")
	})
}
