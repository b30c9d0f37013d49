// Package llm provides a unified interface for the model backends used
// by product extraction.
package llm

import (
	"context"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    Role
	Content string
}

// Request represents a completion request to the LLM.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONSchema  map[string]any // For structured output
	StrictMode  bool           // Use strict JSON schema validation (only for supported models)
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Response represents the result of an LLM execution.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string // Actual model used
	Duration     time.Duration
}

// Provider is the core interface that all LLM backends must implement.
type Provider interface {
	// Execute sends a completion request and returns the response.
	Execute(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier (e.g., "ollama", "anthropic").
	Name() string

	// Model returns the configured model name.
	Model() string
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string // For custom or OpenAI-compatible endpoints
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxRetries: 2,
		Timeout:    120 * time.Second,
	}
}
