package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"

	"github.com/davidbz/howl/internal/cache"
	cacheredis "github.com/davidbz/howl/internal/cache/redis"
	"github.com/davidbz/howl/internal/config"
	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/experiment"
	howlhttp "github.com/davidbz/howl/internal/http"
	"github.com/davidbz/howl/internal/http/middleware"
	"github.com/davidbz/howl/internal/observability"
	"github.com/davidbz/howl/internal/provider/echo"
	"github.com/davidbz/howl/internal/provider/localcli"
	"github.com/davidbz/howl/internal/provider/localserver"
	"github.com/davidbz/howl/internal/provider/openai"
	"github.com/davidbz/howl/internal/provider/registry"
	"github.com/davidbz/howl/internal/routing"
	memorystore "github.com/davidbz/howl/internal/store/memory"
	"github.com/davidbz/howl/internal/store/postgres"
	"github.com/davidbz/howl/internal/usage"
	"github.com/davidbz/howl/internal/version"
)

// ErrProviderNotConfigured indicates that a provider is not configured and should be skipped.
var ErrProviderNotConfigured = errors.New("provider not configured")

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *howlhttp.Server) {
		go func() {
			if err := server.Start(); err != nil {
				log.Fatalf("Server failed to start: %v", err)
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func() domain.EventPublisher {
		return observability.NewEventBus()
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}

	// Provider Registry
	if err := container.Provide(func() domain.ProviderRegistry {
		return registry.NewRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// Pricing and usage
	if err := container.Provide(func() domain.PricingRegistry {
		return domain.NewInMemoryPricingRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide pricing registry: %v", err)
	}
	if err := container.Provide(func(pricing domain.PricingRegistry) domain.CostCalculator {
		return domain.NewStandardCostCalculator(pricing)
	}); err != nil {
		log.Fatalf("Failed to provide cost calculator: %v", err)
	}
	if err := container.Provide(func() domain.UsageRecorder {
		return usage.NewAggregator()
	}); err != nil {
		log.Fatalf("Failed to provide usage aggregator: %v", err)
	}

	// Cache backend
	if err := container.Provide(func(cfg *config.CacheConfig, redisCfg *cacheredis.Config) domain.Cache {
		if cfg.Backend == "redis" {
			return cacheredis.NewCache(cacheredis.NewClient(*redisCfg))
		}
		return cache.NewMemory()
	}); err != nil {
		log.Fatalf("Failed to provide cache: %v", err)
	}
	if err := container.Provide(func(cfg *config.CacheConfig, backend domain.Cache) *cache.ResponseCache {
		return cache.NewResponseCache(backend, cfg.ResponseTTL)
	}); err != nil {
		log.Fatalf("Failed to provide response cache: %v", err)
	}

	// Store: postgres when a DSN is configured, in-process otherwise.
	if err := container.Provide(func(cfg *postgres.Config) (domain.Store, error) {
		if cfg.DSN == "" {
			return memorystore.NewStore(), nil
		}

		ctx := context.Background()
		store, err := postgres.New(ctx, *cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return store, nil
	}); err != nil {
		log.Fatalf("Failed to provide store: %v", err)
	}

	// Providers
	if err := container.Provide(func(cfg *openai.Config) (*openai.Provider, error) {
		if cfg.APIKey == "" {
			return nil, ErrProviderNotConfigured
		}
		return openai.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide OpenAI provider: %v", err)
	}
	if err := container.Provide(func(cfg *localserver.Config) (*localserver.Provider, error) {
		return localserver.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide local server provider: %v", err)
	}
	if err := container.Provide(func(cfg *localcli.Config) (*localcli.Provider, error) {
		if cfg.BinaryPath == "" {
			return nil, ErrProviderNotConfigured
		}
		return localcli.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide local CLI provider: %v", err)
	}

	// Register providers with registry (invoked for side effects). Each
	// optional provider gets its own Invoke: dig resolves the whole
	// parameter list before invoking, so one unconfigured provider would
	// otherwise block the rest.
	if err := container.Invoke(func(
		reg domain.ProviderRegistry,
		pricing domain.PricingRegistry,
		openaiProvider *openai.Provider,
	) error {
		ctx := context.Background()
		if err := reg.Register(ctx, openaiProvider); err != nil {
			return fmt.Errorf("failed to register OpenAI provider: %w", err)
		}
		return openai.RegisterPricing(ctx, pricing)
	}); err != nil && !errors.Is(err, ErrProviderNotConfigured) {
		log.Fatalf("Failed to register OpenAI provider: %v", err)
	}

	if err := container.Invoke(func(
		reg domain.ProviderRegistry,
		localServerProvider *localserver.Provider,
	) error {
		return reg.Register(context.Background(), localServerProvider)
	}); err != nil {
		log.Fatalf("Failed to register local server provider: %v", err)
	}

	if err := container.Invoke(func(
		reg domain.ProviderRegistry,
		localCLIProvider *localcli.Provider,
	) error {
		return reg.Register(context.Background(), localCLIProvider)
	}); err != nil && !errors.Is(err, ErrProviderNotConfigured) {
		log.Fatalf("Failed to register local CLI provider: %v", err)
	}

	if err := container.Invoke(func(reg domain.ProviderRegistry) error {
		return reg.Register(context.Background(), echo.NewProvider())
	}); err != nil {
		log.Fatalf("Failed to register echo provider: %v", err)
	}

	// Core services
	if err := container.Provide(routing.NewRouter); err != nil {
		log.Fatalf("Failed to provide router: %v", err)
	}
	if err := container.Provide(func(cfg *version.Config, store domain.Store, c domain.Cache, events domain.EventPublisher) *version.Manager {
		return version.NewManager(cfg, store, c, events)
	}); err != nil {
		log.Fatalf("Failed to provide version manager: %v", err)
	}
	if err := container.Provide(experiment.NewController); err != nil {
		log.Fatalf("Failed to provide experiment controller: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(howlhttp.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(howlhttp.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
