package llm

import (
	"context"
	"errors"
)

// Operation is the top-level AI operation a request serves.
type Operation string

const (
	// OpDo is a single typed request/response.
	OpDo Operation = "do"

	// OpVibe is code-generation mode: the raw model text is parsed as a
	// language fragment by the engine.
	OpVibe Operation = "vibe"

	// OpAsk solicits human input. It never reaches a provider; it exists
	// so interaction logs and pending requests share one vocabulary.
	OpAsk Operation = "ask"

	// OpCompress is the engine-internal context summarization round.
	OpCompress Operation = "compress"
)

// TargetType names the structured output shape a request requires. It is
// the engine's decision, derived from the destination variable's declared
// type; how a provider enforces it is the adapter's concern.
type TargetType string

const (
	TargetText    TargetType = "text"
	TargetNumber  TargetType = "number"
	TargetBoolean TargetType = "boolean"
	TargetJSON    TargetType = "json"
	TargetArray   TargetType = "array"
)

// ModelConfig selects and tunes a model for one request.
type ModelConfig struct {
	Provider    string   `json:"provider,omitempty"`
	Name        string   `json:"name"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Request is a provider-agnostic AI request.
type Request struct {
	Operation  Operation    `json:"operation"`
	Prompt     string       `json:"prompt"`
	Context    string       `json:"context,omitempty"`
	System     string       `json:"system,omitempty"`
	TargetType TargetType   `json:"target_type,omitempty"`
	Model      ModelConfig  `json:"model"`
	Tools      []ToolSchema `json:"tools,omitempty"`

	// History carries completed tool-calling rounds of a multi-round
	// conversation. Adapters replay it ahead of the final turn.
	History []Round `json:"history,omitempty"`
}

// Response is the provider's answer to one request round.
type Response struct {
	// Content is the raw text of the response.
	Content string `json:"content"`

	// Parsed is the provider-decoded structured value, when the adapter
	// enforced TargetType itself. Nil means the engine coerces Content.
	Parsed any `json:"parsed,omitempty"`

	// ToolCalls are tool invocations the model requested this round.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	StopReason StopReason `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Usage holds per-round token and latency accounting.
type Usage struct {
	InputTokens  int   `json:"input_tokens,omitempty"`
	OutputTokens int   `json:"output_tokens,omitempty"`
	LatencyMs    int64 `json:"latency_ms,omitempty"`
}

// StopReason indicates why generation stopped.
type StopReason string

const (
	StopEnd      StopReason = "end_turn"
	StopToolUse  StopReason = "tool_use"
	StopLength   StopReason = "max_tokens"
	StopFiltered StopReason = "content_filter"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers one ToolCall. Results pair with calls by CallID,
// never by position. A failed execution carries Error and empty Content;
// it is conversation data, not a Go error.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Round records one completed request/response cycle of a tool-calling
// conversation: the calls the model made and the results fed back.
type Round struct {
	Content string       `json:"content,omitempty"`
	Calls   []ToolCall   `json:"calls"`
	Results []ToolResult `json:"results"`
}

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Provider is a model backend. Implementations must classify failures by
// returning *ProviderError with Retryable set appropriately; any other
// error is treated as fatal.
type Provider interface {
	// Execute sends one request round and returns the response.
	Execute(ctx context.Context, req Request) (*Response, error)

	// GenerateCode runs a code-generation request and returns the raw
	// model text. The engine parses it; parse failures are not the
	// provider's concern.
	GenerateCode(ctx context.Context, req Request) (string, error)
}

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider  string
	Status    int
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

// IsRetryable reports whether err is a provider failure worth retrying
// (rate limits, transient upstream errors).
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
