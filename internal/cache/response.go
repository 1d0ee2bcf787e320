package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
)

// ResponseCache caches completed (non-streaming) responses keyed by an exact
// hash of the request. Any domain.Cache backend works.
type ResponseCache struct {
	backend domain.Cache
	ttl     time.Duration
}

// NewResponseCache creates a response cache with the given backend and TTL.
func NewResponseCache(backend domain.Cache, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		backend: backend,
		ttl:     ttl,
	}
}

// Key derives a deterministic cache key from the request fields that affect
// generation. UserID and metadata are excluded: identical prompts share one
// entry.
func (c *ResponseCache) Key(req *domain.CompletionRequest) string {
	keyData := fmt.Sprintf("%s:%s:%v:%v:%v",
		req.Model,
		req.Provider,
		req.Messages,
		req.Temperature,
		req.MaxTokens,
	)

	hash := sha256.Sum256([]byte(keyData))
	return "response:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached response; domain.ErrCacheMiss when absent.
func (c *ResponseCache) Get(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	data, err := c.backend.Get(ctx, c.Key(req))
	if err != nil {
		return nil, err
	}

	var resp domain.CompletionResponse
	if unmarshalErr := json.Unmarshal(data, &resp); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", unmarshalErr)
	}

	return &resp, nil
}

// Set stores a response.
func (c *ResponseCache) Set(ctx context.Context, req *domain.CompletionRequest, resp *domain.CompletionResponse) error {
	if req == nil || resp == nil {
		return errors.New("request and response cannot be nil")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	key := c.Key(req)
	if setErr := c.backend.Set(ctx, key, data, c.ttl); setErr != nil {
		observability.FromContext(ctx).Warn("failed to store response in cache",
			observability.String("cache_key", key),
			observability.Error(setErr))
		return setErr
	}

	return nil
}
