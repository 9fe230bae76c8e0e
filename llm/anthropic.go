package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// Anthropic is a Provider over the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
}

// AnthropicOption configures the Anthropic client.
type AnthropicOption func(*Anthropic)

// WithAPIKey sets the API key.
func WithAPIKey(key string) AnthropicOption {
	return func(a *Anthropic) {
		a.apiKey = key
	}
}

// WithModel sets the default model used when a request names none.
func WithModel(model string) AnthropicOption {
	return func(a *Anthropic) {
		a.model = model
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) AnthropicOption {
	return func(a *Anthropic) {
		a.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AnthropicOption {
	return func(a *Anthropic) {
		a.httpClient = client
	}
}

// Default Anthropic configuration values
const (
	DefaultAnthropicTimeout = 5 * time.Minute
	DefaultAnthropicModel   = "claude-sonnet-4-20250514"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultMaxTokens        = 4096
)

// NewAnthropic creates a new Anthropic provider. The API key defaults to
// the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		apiKey:  os.Getenv("ANTHROPIC_API_KEY"),
		baseURL: DefaultAnthropicBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultAnthropicTimeout,
		},
		model: DefaultAnthropicModel,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// anthropicRequest is the API request format.
type anthropicRequest struct {
	Model       string          `json:"model"`
	Messages    []anthropicMsg  `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []anthropicTool `json:"tools,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentBlock
}

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicResponse is the API response format.
type anthropicResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Execute sends one request round.
func (a *Anthropic) Execute(ctx context.Context, req Request) (*Response, error) {
	body := anthropicRequest{
		Model:       a.resolveModel(req),
		Messages:    buildMessages(req),
		System:      buildSystem(req),
		MaxTokens:   a.resolveMaxTokens(req),
		Temperature: req.Model.Temperature,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	start := time.Now()
	apiResp, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StopReason: mapStopReason(apiResp.StopReason),
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			LatencyMs:    time.Since(start).Milliseconds(),
		},
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}

	slog.Debug("anthropic call completed",
		"model", body.Model,
		"operation", req.Operation,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"latency_ms", resp.Usage.LatencyMs,
	)

	return resp, nil
}

// GenerateCode runs a code-generation request and returns the raw text.
func (a *Anthropic) GenerateCode(ctx context.Context, req Request) (string, error) {
	req.Tools = nil
	resp, err := a.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *Anthropic) resolveModel(req Request) string {
	if req.Model.Name != "" {
		return req.Model.Name
	}
	return a.model
}

func (a *Anthropic) resolveMaxTokens(req Request) int {
	if req.Model.MaxTokens > 0 {
		return req.Model.MaxTokens
	}
	return defaultMaxTokens
}

// buildSystem combines the request's system prompt with the structured
// output instruction the target type requires.
func buildSystem(req Request) string {
	system := req.System
	instr := targetInstruction(req.TargetType)
	if instr == "" {
		return system
	}
	if system == "" {
		return instr
	}
	return system + "\n\n" + instr
}

func targetInstruction(t TargetType) string {
	switch t {
	case TargetNumber:
		return "Respond with a single number and nothing else."
	case TargetBoolean:
		return "Respond with exactly true or false and nothing else."
	case TargetJSON:
		return "Respond with a single JSON value and nothing else. No markdown fences."
	case TargetArray:
		return "Respond with a single JSON array and nothing else. No markdown fences."
	default:
		return ""
	}
}

// buildMessages turns the request prompt, context, and accumulated rounds
// into the API message sequence. Each completed round contributes the
// assistant's tool_use blocks and a user message of tool_result blocks.
func buildMessages(req Request) []anthropicMsg {
	var messages []anthropicMsg

	userText := req.Prompt
	if req.Context != "" {
		userText = req.Context + "\n\n" + req.Prompt
	}
	messages = append(messages, anthropicMsg{Role: "user", Content: userText})

	for _, round := range req.History {
		var assistant []contentBlock
		if round.Content != "" {
			assistant = append(assistant, contentBlock{Type: "text", Text: round.Content})
		}
		for _, call := range round.Calls {
			assistant = append(assistant, contentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Args,
			})
		}
		messages = append(messages, anthropicMsg{Role: "assistant", Content: assistant})

		var results []contentBlock
		for _, r := range round.Results {
			block := contentBlock{
				Type:      "tool_result",
				ToolUseID: r.CallID,
				Content:   r.Content,
			}
			if r.Error != "" {
				block.Content = r.Error
				block.IsError = true
			}
			results = append(results, block)
		}
		messages = append(messages, anthropicMsg{Role: "user", Content: results})
	}

	return messages
}

func (a *Anthropic) post(ctx context.Context, body anthropicRequest) (*anthropicResponse, error) {
	if a.apiKey == "" {
		return nil, &ProviderError{Provider: "anthropic", Message: "missing API key"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Message: "read response: " + err.Error(), Retryable: true}
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		message := httpResp.Status
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return nil, &ProviderError{
			Provider:  "anthropic",
			Status:    httpResp.StatusCode,
			Message:   message,
			Retryable: retryableStatus(httpResp.StatusCode),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Message: "decode response: " + err.Error()}
	}

	return &apiResp, nil
}

// classifyTransport tags network-level failures as retryable; context
// cancellation passes through unchanged.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: "anthropic", Message: err.Error(), Retryable: true}
	}
	return &ProviderError{Provider: "anthropic", Message: err.Error(), Retryable: true}
}

// retryableStatus: rate limits, overload, and upstream 5xx are transient.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEnd
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopLength
	case "content_filter":
		return StopFiltered
	default:
		return StopReason(reason)
	}
}
