package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/howl/internal/cache/redis"
	"github.com/davidbz/howl/internal/experiment"
	"github.com/davidbz/howl/internal/provider/localcli"
	"github.com/davidbz/howl/internal/provider/localserver"
	"github.com/davidbz/howl/internal/provider/openai"
	"github.com/davidbz/howl/internal/routing"
	"github.com/davidbz/howl/internal/store/postgres"
	"github.com/davidbz/howl/internal/version"
)

// Config represents the router configuration.
type Config struct {
	Server      ServerConfig
	CORS        CORSConfig
	Cache       CacheConfig
	OpenAI      openai.Config
	LocalServer localserver.Config
	LocalCLI    localcli.Config
	Router      routing.Config
	Redis       redis.Config
	Postgres    postgres.Config
	Version     version.Config
	Experiment  experiment.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"30"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// CacheConfig selects the cache backend and response-cache policy.
// Backend "redis" shares cached state across replicas; "memory" keeps it
// in-process.
type CacheConfig struct {
	Backend     string        `env:"CACHE_BACKEND"      envDefault:"memory"`
	ResponseTTL time.Duration `env:"RESPONSE_CACHE_TTL" envDefault:"5m"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	Server      *ServerConfig
	CORS        *CORSConfig
	Cache       *CacheConfig
	OpenAI      *openai.Config
	LocalServer *localserver.Config
	LocalCLI    *localcli.Config
	Router      *routing.Config
	Redis       *redis.Config
	Postgres    *postgres.Config
	Version     *version.Config
	Experiment  *experiment.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Cache,
		&cfg.OpenAI,
		&cfg.LocalServer,
		&cfg.LocalCLI,
		&cfg.Router,
		&cfg.Redis,
		&cfg.Postgres,
		&cfg.Version,
		&cfg.Experiment,
	}
}
