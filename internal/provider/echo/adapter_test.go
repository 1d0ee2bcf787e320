package echo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/provider/echo"
)

func TestProvider_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("should echo user messages back", func(t *testing.T) {
		p := echo.NewProvider()

		resp, err := p.Complete(ctx, &domain.CompletionRequest{
			Messages: []domain.Message{
				{Role: "system", Content: "you are ignored"},
				{Role: "user", Content: "hello world"},
			},
		})

		require.NoError(t, err)
		require.Equal(t, "echo", resp.Provider)
		require.Equal(t, "hello world", resp.Content)
		require.Equal(t, "stop", resp.FinishReason)
		require.Equal(t, 2, resp.Usage.PromptTokens)
		require.Equal(t, 4, resp.Usage.TotalTokens)
	})

	t.Run("should reject nil requests", func(t *testing.T) {
		p := echo.NewProvider()

		_, err := p.Complete(ctx, nil)

		require.Error(t, err)
	})
}

func TestProvider_Stream(t *testing.T) {
	t.Run("should stream the echo word by word", func(t *testing.T) {
		p := echo.NewProvider()

		chunks, err := p.Stream(context.Background(), &domain.CompletionRequest{
			Messages: []domain.Message{{Role: "user", Content: "one two three"}},
		})
		require.NoError(t, err)

		var content string
		var done bool
		for chunk := range chunks {
			require.NoError(t, chunk.Error)
			content += chunk.Delta
			done = chunk.Done
		}
		require.Equal(t, "one two three", content)
		require.True(t, done)
	})

	t.Run("should stop streaming on context cancellation", func(t *testing.T) {
		p := echo.NewProvider()
		ctx, cancel := context.WithCancel(context.Background())

		chunks, err := p.Stream(ctx, &domain.CompletionRequest{
			Messages: []domain.Message{{Role: "user", Content: "a b c d e f g h i j"}},
		})
		require.NoError(t, err)

		cancel()

		deadline := time.After(time.Second)
		for {
			select {
			case _, open := <-chunks:
				if !open {
					return
				}
			case <-deadline:
				t.Fatal("stream did not terminate after cancellation")
			}
		}
	})
}

func TestProvider_Metadata(t *testing.T) {
	t.Run("should always be available with one free model", func(t *testing.T) {
		p := echo.NewProvider()
		ctx := context.Background()

		require.Equal(t, "echo", p.Name())
		require.True(t, p.IsAvailable(ctx))

		models := p.Models(ctx)
		require.Len(t, models, 1)
		require.Zero(t, models[0].CostPer1K)

		require.True(t, p.IsModelSupported(ctx, models[0].Name))
		require.False(t, p.IsModelSupported(ctx, "gpt-4"))
	})
}
