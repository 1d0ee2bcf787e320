package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/cache"
	"github.com/davidbz/howl/internal/domain"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("should miss on unknown key", func(t *testing.T) {
		m := cache.NewMemory()

		_, err := m.Get(ctx, "nope")

		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("should round-trip a value within TTL", func(t *testing.T) {
		m := cache.NewMemory()

		require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

		got, err := m.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), got)
	})

	t.Run("should expire entries after TTL", func(t *testing.T) {
		m := cache.NewMemory()

		require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, err := m.Get(ctx, "k")
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("should miss after invalidate", func(t *testing.T) {
		m := cache.NewMemory()

		require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, m.Invalidate(ctx, "k"))

		_, err := m.Get(ctx, "k")
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})
}

func TestResponseCache(t *testing.T) {
	ctx := context.Background()

	req := &domain.CompletionRequest{
		Model:    "gpt-4",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	}

	t.Run("should round-trip a response", func(t *testing.T) {
		rc := cache.NewResponseCache(cache.NewMemory(), time.Hour)

		resp := &domain.CompletionResponse{ID: "r1", Provider: "openai", Content: "hi"}
		require.NoError(t, rc.Set(ctx, req, resp))

		got, err := rc.Get(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "r1", got.ID)
		require.Equal(t, "hi", got.Content)
	})

	t.Run("should derive identical keys for identical requests", func(t *testing.T) {
		rc := cache.NewResponseCache(cache.NewMemory(), time.Hour)

		other := &domain.CompletionRequest{
			Model:    "gpt-4",
			Messages: []domain.Message{{Role: "user", Content: "hello"}},
			UserID:   "user-42", // user identity must not affect the key
		}

		require.Equal(t, rc.Key(req), rc.Key(other))
	})

	t.Run("should derive different keys for different prompts", func(t *testing.T) {
		rc := cache.NewResponseCache(cache.NewMemory(), time.Hour)

		other := &domain.CompletionRequest{
			Model:    "gpt-4",
			Messages: []domain.Message{{Role: "user", Content: "goodbye"}},
		}

		require.NotEqual(t, rc.Key(req), rc.Key(other))
	})

	t.Run("should miss for uncached request", func(t *testing.T) {
		rc := cache.NewResponseCache(cache.NewMemory(), time.Hour)

		_, err := rc.Get(ctx, req)

		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})
}
