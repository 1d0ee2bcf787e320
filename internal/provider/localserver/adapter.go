// Package localserver provides a provider backed by a locally running
// inference server speaking the Ollama-style generate API. The client is
// hand-rolled over net/http; no SDK exists for these servers.
package localserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
)

const providerName = "local-server"

// Config contains local inference server settings.
type Config struct {
	BaseURL       string  `env:"LOCAL_SERVER_URL"            envDefault:"http://localhost:11434"`
	Model         string  `env:"LOCAL_SERVER_MODEL"          envDefault:"llama3"`
	ContextWindow int     `env:"LOCAL_SERVER_CONTEXT_WINDOW" envDefault:"8192"`
	CostPer1K     float64 `env:"LOCAL_SERVER_COST_PER_1K"    envDefault:"0.0001"`
	Timeout       int     `env:"LOCAL_SERVER_TIMEOUT"        envDefault:"120"`
}

// Provider implements the domain.Provider interface for a local server.
type Provider struct {
	config     Config
	httpClient *http.Client
}

// NewProvider creates a new local server provider.
func NewProvider(config Config) (*Provider, error) {
	if config.BaseURL == "" {
		return nil, errors.New("local server base URL is required")
	}

	return &Provider{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Request/response structures for the generate API.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a non-streaming generate request.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling local inference server")

	body, err := json.Marshal(p.toGenerateRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.BaseURL+"/api/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local server request failed: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&genResp); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	return p.toDomainResponse(&genResp, latency), nil
}

// Stream sends a streaming generate request.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	body, err := json.Marshal(p.toGenerateRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.BaseURL+"/api/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	//nolint:bodyclose // Response body is closed in the streaming goroutine
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local server request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("local server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	chunks := make(chan domain.StreamChunk)
	go p.processStream(resp, chunks)

	return chunks, nil
}

// processStream reads newline-delimited JSON chunks from the server.
func (p *Provider) processStream(resp *http.Response, chunks chan<- domain.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var chunk generateResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			chunks <- domain.StreamChunk{Delta: "", Done: false, Error: fmt.Errorf("failed to decode stream chunk: %w", err)}
			return
		}

		chunks <- domain.StreamChunk{Delta: chunk.Response, Done: chunk.Done, Error: nil}
		if chunk.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		chunks <- domain.StreamChunk{Delta: "", Done: false, Error: err}
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable probes the server's root endpoint with a short timeout.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.config.BaseURL+"/", nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
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

func (p *Provider) toGenerateRequest(req *domain.CompletionRequest, stream bool) generateRequest {
	var prompt strings.Builder
	for _, msg := range req.Messages {
		if prompt.Len() > 0 {
			prompt.WriteString("\n")
		}
		prompt.WriteString(msg.Content)
	}

	return generateRequest{
		Model:  p.config.Model,
		Prompt: prompt.String(),
		Stream: stream,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (p *Provider) toDomainResponse(resp *generateResponse, latency time.Duration) *domain.CompletionResponse {
	finishReason := resp.DoneReason
	if finishReason == "" && resp.Done {
		finishReason = "stop"
	}

	return &domain.CompletionResponse{
		ID:           fmt.Sprintf("local-%d", time.Now().UnixNano()),
		Model:        resp.Model,
		Provider:     providerName,
		Content:      resp.Response,
		LatencyMs:    latency.Milliseconds(),
		FinishReason: finishReason,
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			Cost:             0,
		},
		FinishTime: time.Now(),
	}
}
