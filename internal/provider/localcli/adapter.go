// Package localcli provides a provider that shells out to a local inference
// binary (llama.cpp style). Each completion spawns one process; the prompt is
// written to stdin and the generation read from stdout.
package localcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
)

const providerName = "local-cli"

// Config contains local CLI provider settings.
type Config struct {
	BinaryPath    string  `env:"LOCAL_CLI_BINARY"`
	Model         string  `env:"LOCAL_CLI_MODEL"          envDefault:"llama3-q4"`
	ContextWindow int     `env:"LOCAL_CLI_CONTEXT_WINDOW" envDefault:"4096"`
	CostPer1K     float64 `env:"LOCAL_CLI_COST_PER_1K"    envDefault:"0.0001"`
	ExtraArgs     []string `env:"LOCAL_CLI_ARGS"          envSeparator:" "`
}

// Provider implements the domain.Provider interface over os/exec.
type Provider struct {
	config Config
}

// NewProvider creates a new local CLI provider.
func NewProvider(config Config) (*Provider, error) {
	if config.BinaryPath == "" {
		return nil, errors.New("local CLI binary path is required")
	}

	return &Provider{config: config}, nil
}

// Complete runs the binary once and returns its output as the completion.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("running local CLI inference",
		observability.String("binary", p.config.BinaryPath))

	prompt := req.PromptText()

	args := append([]string{}, p.config.ExtraArgs...)
	if req.MaxTokens > 0 {
		args = append(args, "-n", fmt.Sprintf("%d", req.MaxTokens))
	}

	cmd := exec.CommandContext(ctx, p.config.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		logger.Error("local CLI inference failed",
			observability.Error(err),
			observability.String("stderr", stderr.String()))
		return nil, fmt.Errorf("local CLI execution failed: %w", err)
	}
	latency := time.Since(start)

	content := strings.TrimSpace(stdout.String())
	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(content))

	return &domain.CompletionResponse{
		ID:           fmt.Sprintf("cli-%d", time.Now().UnixNano()),
		Model:        p.config.Model,
		Provider:     providerName,
		Content:      content,
		LatencyMs:    latency.Milliseconds(),
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			Cost:             0,
		},
		FinishTime: time.Now(),
	}, nil
}

// Stream runs the completion and emits the whole output as a single chunk.
// The CLI binary does not expose incremental output through this adapter.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	chunks := make(chan domain.StreamChunk, 2)

	go func() {
		defer close(chunks)

		resp, err := p.Complete(ctx, req)
		if err != nil {
			chunks <- domain.StreamChunk{Delta: "", Done: false, Error: err}
			return
		}

		chunks <- domain.StreamChunk{Delta: resp.Content, Done: false, Error: nil}
		chunks <- domain.StreamChunk{Delta: "", Done: true, Error: nil}
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable reports whether the configured binary can be resolved.
func (p *Provider) IsAvailable(_ context.Context) bool {
	_, err := exec.LookPath(p.config.BinaryPath)
	return err == nil
}

// Models returns the configured local model.
func (p *Provider) Models(_ context.Context) []domain.ModelInfo {
	return []domain.ModelInfo{
		{Name: p.config.Model, ContextWindow: p.config.ContextWindow, CostPer1K: p.config.CostPer1K},
	}
}

// IsModelSupported checks if the provider supports the given model.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return model == p.config.Model
}
