package domain

import "time"

// TaskCategory classifies what kind of work a prompt is asking for.
type TaskCategory string

const (
	TaskCode        TaskCategory = "code"
	TaskCreative    TaskCategory = "creative"
	TaskReasoning   TaskCategory = "reasoning"
	TaskFact        TaskCategory = "fact"
	TaskTranslation TaskCategory = "translation"
	TaskSummary     TaskCategory = "summary"
	TaskSimple      TaskCategory = "simple"
)

// CompletionRequest represents a unified completion request.
// Immutable once constructed; the router never mutates it.
type CompletionRequest struct {
	Model       string            `json:"model,omitempty"`
	Provider    string            `json:"provider,omitempty"` // explicit provider override
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	UserID      string            `json:"user_id,omitempty"` // sticky routing key
	Category    TaskCategory      `json:"category,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// PromptText concatenates message contents for classification and hashing.
func (r *CompletionRequest) PromptText() string {
	text := ""
	for _, msg := range r.Messages {
		if text != "" {
			text += "\n"
		}
		text += msg.Content
	}
	return text
}

// CompletionResponse represents a unified completion response.
type CompletionResponse struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Content      string    `json:"content"`
	Usage        Usage     `json:"usage"`
	LatencyMs    int64     `json:"latency_ms"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Fallback     bool      `json:"fallback,omitempty"`
	FallbackFrom string    `json:"fallback_from,omitempty"` // error that triggered the cascade
	FinishTime   time.Time `json:"finish_time"`
}

// StreamChunk represents a single streaming response chunk.
type StreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error error  `json:"error,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// ModelInfo describes a model a provider can serve.
type ModelInfo struct {
	Name          string  `json:"name"`
	ContextWindow int     `json:"context_window"`
	CostPer1K     float64 `json:"cost_per_1k"` // blended USD per 1K tokens
}

// ProviderStats is a snapshot of a provider's rolling performance window.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// SuccessRate returns the fraction of attempts that succeeded.
func (s ProviderStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests)
}
