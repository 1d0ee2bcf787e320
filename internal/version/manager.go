// Package version manages named model variants per task domain and resolves
// which variant serves a given (domain, user) pair.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
)

// Config contains version manager settings.
type Config struct {
	CacheTTL time.Duration `env:"VERSION_CACHE_TTL" envDefault:"5m"`
}

// defaultBaseModels is the fallback table used when a domain has no
// registered versions.
var defaultBaseModels = map[domain.TaskCategory]string{
	domain.TaskCode:        "codellama",
	domain.TaskCreative:    "gpt-4-turbo",
	domain.TaskReasoning:   "gpt-4-turbo",
	domain.TaskFact:        "gpt-3.5-turbo",
	domain.TaskTranslation: "gpt-3.5-turbo",
	domain.TaskSummary:     "gpt-3.5-turbo",
	domain.TaskSimple:      "gpt-3.5-turbo",
}

const fallbackBaseModel = "gpt-3.5-turbo"

// Manager resolves model versions. Reads go through a TTL cache; every write
// invalidates the domain's entry before returning so stale reads are bounded
// by the TTL.
type Manager struct {
	store     domain.Store
	cache     domain.Cache
	cacheTTL  time.Duration
	randFloat func() float64
	publisher domain.EventPublisher
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRandFloat replaces the randomness source used for weighted-random
// selection. Tests inject a deterministic source.
func WithRandFloat(f func() float64) Option {
	return func(m *Manager) {
		m.randFloat = f
	}
}

// NewManager creates a version manager.
func NewManager(cfg *Config, store domain.Store, cache domain.Cache, publisher domain.EventPublisher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		cache:     cache,
		cacheTTL:  cfg.CacheTTL,
		randFloat: rand.Float64,
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterVersion upserts a version keyed by (domain, name). A missing
// status defaults to testing.
func (m *Manager) RegisterVersion(ctx context.Context, v domain.ModelVersion) error {
	if v.Domain == "" || v.Name == "" {
		return fmt.Errorf("version domain and name are required")
	}
	if v.TrafficPercent < 0 || v.TrafficPercent > 100 {
		return fmt.Errorf("traffic %.2f for %s/%s: %w", v.TrafficPercent, v.Domain, v.Name, domain.ErrInvalidTrafficPercent)
	}
	if v.Status == "" {
		v.Status = domain.VersionStatusTesting
	}

	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	if err := m.store.UpsertVersion(ctx, v); err != nil {
		return fmt.Errorf("failed to register version %s/%s: %w", v.Domain, v.Name, err)
	}
	m.invalidate(ctx, v.Domain)

	m.publisher.Publish(ctx, "version.registered", map[string]interface{}{
		"domain":  v.Domain,
		"version": v.Name,
		"status":  string(v.Status),
	})
	return nil
}

// ListVersions returns the versions registered for a domain, read through
// the cache.
func (m *Manager) ListVersions(ctx context.Context, taskDomain string) ([]domain.ModelVersion, error) {
	key := cacheKey(taskDomain)

	if data, err := m.cache.Get(ctx, key); err == nil {
		var cached []domain.ModelVersion
		if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
			return cached, nil
		}
		// A corrupt entry is dropped and re-read from the store.
		m.invalidate(ctx, taskDomain)
	}

	versions, err := m.store.ListVersions(ctx, taskDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for domain %q: %w", taskDomain, err)
	}

	if data, marshalErr := json.Marshal(versions); marshalErr == nil {
		if setErr := m.cache.Set(ctx, key, data, m.cacheTTL); setErr != nil {
			observability.FromContext(ctx).Warn("failed to cache version list",
				observability.String("domain", taskDomain),
				observability.Error(setErr))
		}
	}
	return versions, nil
}

// SelectVersion resolves the version serving (domain, user). With a user id
// the choice is sticky via consistent hashing over the active versions'
// traffic ranges; without one it is weighted random. Domains with no
// registered versions get a hardcoded default marked IsDefault.
func (m *Manager) SelectVersion(ctx context.Context, taskDomain, userID string) (domain.ModelVersion, error) {
	versions, err := m.ListVersions(ctx, taskDomain)
	if err != nil {
		return domain.ModelVersion{}, err
	}

	active := make([]domain.ModelVersion, 0, len(versions))
	for _, v := range versions {
		if v.Active() {
			active = append(active, v)
		}
	}

	if len(active) == 0 {
		return m.defaultVersion(taskDomain), nil
	}
	if len(active) == 1 {
		return active[0], nil
	}

	weights := make([]float64, len(active))
	for i, v := range active {
		weights[i] = v.TrafficPercent
	}

	var point float64
	if userID != "" {
		point = HashBucket(userID)
	} else {
		point = m.randFloat() * 100
	}
	return active[PickWeighted(point, weights)], nil
}

// SetTrafficPercent updates one version's traffic share.
func (m *Manager) SetTrafficPercent(ctx context.Context, taskDomain, versionName string, pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("traffic %.2f for %s/%s: %w", pct, taskDomain, versionName, domain.ErrInvalidTrafficPercent)
	}

	versions, err := m.store.ListVersions(ctx, taskDomain)
	if err != nil {
		return fmt.Errorf("failed to list versions for domain %q: %w", taskDomain, err)
	}

	for _, v := range versions {
		if v.Name != versionName {
			continue
		}
		v.TrafficPercent = pct
		v.UpdatedAt = time.Now()
		if upsertErr := m.store.UpsertVersion(ctx, v); upsertErr != nil {
			return fmt.Errorf("failed to update traffic for %s/%s: %w", taskDomain, versionName, upsertErr)
		}
		m.invalidate(ctx, taskDomain)
		return nil
	}
	return fmt.Errorf("version %q in domain %q: %w", versionName, taskDomain, domain.ErrVersionNotFound)
}

// Rollback retires fromVersion and routes all traffic to toVersion as one
// atomic store operation.
func (m *Manager) Rollback(ctx context.Context, taskDomain, fromVersion, toVersion string) error {
	if err := m.store.RollbackVersion(ctx, taskDomain, fromVersion, toVersion); err != nil {
		return fmt.Errorf("failed to roll back %s/%s to %s: %w", taskDomain, fromVersion, toVersion, err)
	}
	m.invalidate(ctx, taskDomain)

	m.publisher.Publish(ctx, "version.rolled_back", map[string]interface{}{
		"domain": taskDomain,
		"from":   fromVersion,
		"to":     toVersion,
	})
	return nil
}

func (m *Manager) defaultVersion(taskDomain string) domain.ModelVersion {
	baseModel, ok := defaultBaseModels[domain.TaskCategory(taskDomain)]
	if !ok {
		baseModel = fallbackBaseModel
	}
	return domain.ModelVersion{
		Domain:         taskDomain,
		Name:           "default",
		BaseModel:      baseModel,
		Status:         domain.VersionStatusActive,
		TrafficPercent: 100,
		IsDefault:      true,
	}
}

func (m *Manager) invalidate(ctx context.Context, taskDomain string) {
	if err := m.cache.Invalidate(ctx, cacheKey(taskDomain)); err != nil {
		observability.FromContext(ctx).Warn("failed to invalidate version cache",
			observability.String("domain", taskDomain),
			observability.Error(err))
	}
}

func cacheKey(taskDomain string) string {
	return "versions:" + taskDomain
}
