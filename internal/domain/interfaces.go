package domain

import (
	"context"
	"time"
)

// Provider represents any completion backend (remote API, local server,
// local CLI binary).
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream sends a completion request and returns a stream of chunks.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// Name returns the provider identifier.
	Name() string

	// IsAvailable reports whether the provider is configured and healthy.
	IsAvailable(ctx context.Context) bool

	// Models returns the models this provider declares.
	Models(ctx context.Context) []ModelInfo

	// IsModelSupported checks if the provider supports the given model.
	IsModelSupported(ctx context.Context, model string) bool
}

// ProviderRegistry manages available providers. List and Available return
// providers in registration order; the fallback cascade depends on that
// order being stable.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// List returns all registered provider names in registration order.
	List(ctx context.Context) ([]string, error)

	// Available returns the providers currently reporting availability,
	// in registration order.
	Available(ctx context.Context) []Provider

	// GetByModel retrieves a provider that supports the given model.
	GetByModel(ctx context.Context, model string) (Provider, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// UsageRecorder receives the outcome of every provider attempt.
// Implementations must not block the request path.
type UsageRecorder interface {
	// RecordSuccess records a completed attempt.
	RecordSuccess(provider string, usage Usage, latency time.Duration)

	// RecordFailure records a failed attempt.
	RecordFailure(provider string, latency time.Duration)

	// Stats returns a snapshot of a provider's rolling window.
	Stats(provider string) ProviderStats
}

// Store is the persistence contract consumed by the version manager and the
// experiment controller.
type Store interface {
	// UpsertVersion creates or updates a version keyed by (domain, name).
	UpsertVersion(ctx context.Context, version ModelVersion) error

	// ListVersions returns all versions registered for a domain.
	ListVersions(ctx context.Context, domain string) ([]ModelVersion, error)

	// RollbackVersion atomically retires fromVersion (traffic 0) and
	// activates toVersion (traffic 100). No intermediate state may be
	// observable if either half fails.
	RollbackVersion(ctx context.Context, domain, fromVersion, toVersion string) error

	// CreateExperiment persists an experiment and its variants atomically.
	CreateExperiment(ctx context.Context, exp *Experiment) error

	// GetExperiment retrieves an experiment with its variants.
	GetExperiment(ctx context.Context, experimentID string) (*Experiment, error)

	// UpdateTraffic replaces the traffic percentages for an experiment's
	// variants as a single write.
	UpdateTraffic(ctx context.Context, experimentID string, traffic map[string]float64) error

	// GetOrCreateAssignment returns the existing assignment for
	// (experimentID, userID) or atomically inserts the candidate. Exactly
	// one assignment wins under concurrent first-time calls.
	GetOrCreateAssignment(ctx context.Context, candidate Assignment) (Assignment, error)

	// AppendResult appends an outcome record.
	AppendResult(ctx context.Context, record ResultRecord) error

	// AggregateVariantStats returns per-variant rollups for an experiment.
	AggregateVariantStats(ctx context.Context, experimentID string) ([]VariantStats, error)

	// CompleteExperiment marks an experiment completed with a winner.
	CompleteExperiment(ctx context.Context, experimentID, winnerID string) error
}

// Cache is a TTL cache for read-mostly routing state (version sets, traffic
// vectors). Writes to the underlying state must Invalidate synchronously.
type Cache interface {
	// Get retrieves a raw entry; ErrCacheMiss when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores an entry with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes an entry.
	Invalidate(ctx context.Context, key string) error
}
