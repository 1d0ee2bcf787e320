package localserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/provider/localserver"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *localserver.Provider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := localserver.NewProvider(localserver.Config{
		BaseURL:       server.URL,
		Model:         "llama3",
		ContextWindow: 8192,
		CostPer1K:     0.0001,
		Timeout:       5,
	})
	require.NoError(t, err)

	return provider
}

func TestNewProvider(t *testing.T) {
	t.Run("should require a base URL", func(t *testing.T) {
		_, err := localserver.NewProvider(localserver.Config{})

		require.Error(t, err)
		require.Contains(t, err.Error(), "base URL is required")
	})
}

func TestProvider_Complete(t *testing.T) {
	t.Run("should complete against the generate API", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/generate", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "llama3", body["model"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":             "llama3",
				"response":          "hello back",
				"done":              true,
				"done_reason":       "stop",
				"prompt_eval_count": 5,
				"eval_count":        3,
			})
		})

		resp, err := provider.Complete(context.Background(), &domain.CompletionRequest{
			Messages: []domain.Message{{Role: "user", Content: "hello"}},
		})

		require.NoError(t, err)
		require.Equal(t, "local-server", resp.Provider)
		require.Equal(t, "hello back", resp.Content)
		require.Equal(t, "stop", resp.FinishReason)
		require.Equal(t, 8, resp.Usage.TotalTokens)
	})

	t.Run("should surface server errors", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		})

		_, err := provider.Complete(context.Background(), &domain.CompletionRequest{
			Messages: []domain.Message{{Role: "user", Content: "hello"}},
		})

		require.Error(t, err)
		require.Contains(t, err.Error(), "status 500")
	})

	t.Run("should reject nil request", func(t *testing.T) {
		provider := newTestProvider(t, func(_ http.ResponseWriter, _ *http.Request) {})

		_, err := provider.Complete(context.Background(), nil)

		require.Error(t, err)
	})
}

func TestProvider_IsAvailable(t *testing.T) {
	t.Run("should report available when the server responds", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		require.True(t, provider.IsAvailable(context.Background()))
	})

	t.Run("should report unavailable when the server is down", func(t *testing.T) {
		provider, err := localserver.NewProvider(localserver.Config{
			BaseURL: "http://127.0.0.1:1",
			Model:   "llama3",
			Timeout: 1,
		})
		require.NoError(t, err)

		require.False(t, provider.IsAvailable(context.Background()))
	})
}
