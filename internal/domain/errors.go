package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across services.
var (
	// ErrNoProvidersAvailable indicates the registry has zero available providers.
	ErrNoProvidersAvailable = errors.New("no providers available")

	// ErrInvalidTrafficAllocation indicates variant traffic does not sum to 100.
	ErrInvalidTrafficAllocation = errors.New("variant traffic must sum to 100")

	// ErrInvalidTrafficPercent indicates a traffic percentage outside [0, 100].
	ErrInvalidTrafficPercent = errors.New("traffic percent must be between 0 and 100")

	// ErrExperimentNotFound indicates an unknown experiment ID.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrVersionNotFound indicates an unknown (domain, version) pair.
	ErrVersionNotFound = errors.New("model version not found")

	// ErrInsufficientSampleSize indicates significance was requested before
	// both variants reached the minimum sample count.
	ErrInsufficientSampleSize = errors.New("insufficient sample size for significance test")

	// ErrCacheMiss indicates no cached entry was found.
	ErrCacheMiss = errors.New("cache miss")
)

// AttemptError records a single failed provider attempt in the cascade.
type AttemptError struct {
	Provider string
	Err      error
}

func (a AttemptError) Error() string {
	return fmt.Sprintf("provider %s: %v", a.Provider, a.Err)
}

func (a AttemptError) Unwrap() error {
	return a.Err
}

// AllProvidersFailedError aggregates every failed attempt of a fallback
// cascade, in the order the providers were tried.
type AllProvidersFailedError struct {
	Attempts []AttemptError
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Error())
	}
	return fmt.Sprintf("all providers failed: [%s]", strings.Join(parts, "; "))
}
