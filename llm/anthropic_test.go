package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func anthropicTestServer(t *testing.T, handler http.HandlerFunc) (*Anthropic, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider := NewAnthropic(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
	)
	return provider, server
}

func TestExecuteMapsResponse(t *testing.T) {
	var captured anthropicRequest
	provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		json.NewDecoder(r.Body).Decode(&captured)

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "hello "},
				{"type": "text", "text": "world"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	})

	resp, err := provider.Execute(context.Background(), Request{
		Operation:  OpDo,
		Prompt:     "greet",
		Context:    "frame main",
		TargetType: TargetText,
		Model:      ModelConfig{Name: "claude-test"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if resp.Content != "hello world" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.StopReason != StopEnd {
		t.Errorf("StopReason = %q, want end", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if captured.Model != "claude-test" {
		t.Errorf("request model = %q", captured.Model)
	}
	first, _ := captured.Messages[0].Content.(string)
	if first != "frame main\n\ngreet" {
		t.Errorf("first message = %q, want context prepended", first)
	}
}

func TestExecuteMapsToolUse(t *testing.T) {
	provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "tool_use", "id": "t1", "name": "lookup", "input": map[string]any{"q": "go"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	})

	resp, err := provider.Execute(context.Background(), Request{Prompt: "find go"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "t1" || call.Name != "lookup" || call.Args["q"] != "go" {
		t.Errorf("call = %+v", call)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestExecuteSendsConversationHistory(t *testing.T) {
	var captured anthropicRequest
	provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "done"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{},
		})
	})

	_, err := provider.Execute(context.Background(), Request{
		Prompt: "dig",
		History: []Round{{
			Content: "digging",
			Calls:   []ToolCall{{ID: "t1", Name: "shovel"}},
			Results: []ToolResult{{CallID: "t1", Error: "hit rock"}},
		}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// user prompt, assistant tool_use, user tool_result.
	if len(captured.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(captured.Messages))
	}
	if captured.Messages[1].Role != "assistant" || captured.Messages[2].Role != "user" {
		t.Errorf("roles = %s, %s", captured.Messages[1].Role, captured.Messages[2].Role)
	}
	raw, _ := json.Marshal(captured.Messages[2].Content)
	var blocks []contentBlock
	json.Unmarshal(raw, &blocks)
	if len(blocks) != 1 || !blocks[0].IsError || blocks[0].Content != "hit rock" {
		t.Errorf("result blocks = %+v", blocks)
	}
}

func TestTargetTypeAddsSystemInstruction(t *testing.T) {
	var captured anthropicRequest
	provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "4"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{},
		})
	})

	_, err := provider.Execute(context.Background(), Request{Prompt: "2+2?", TargetType: TargetNumber})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if captured.System != "Respond with a single number and nothing else." {
		t.Errorf("System = %q", captured.System)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"overloaded", http.StatusServiceUnavailable, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"type": "api_error", "message": "nope"},
				})
			})

			_, err := provider.Execute(context.Background(), Request{Prompt: "hi"})
			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("error = %v, want *ProviderError", err)
			}
			if provErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", provErr.Status, tt.status)
			}
			if provErr.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.retryable)
			}
			if provErr.Message != "nope" {
				t.Errorf("Message = %q, want API message", provErr.Message)
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	provider := NewAnthropic(WithAPIKey(""))
	_, err := provider.Execute(context.Background(), Request{Prompt: "hi"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if provErr.Retryable {
		t.Error("missing key should not be retryable")
	}
}

func TestGenerateCodeStripsTools(t *testing.T) {
	var captured anthropicRequest
	provider, _ := anthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "func f() {}"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{},
		})
	})

	code, err := provider.GenerateCode(context.Background(), Request{
		Operation: OpVibe,
		Prompt:    "write f",
		Tools:     []ToolSchema{{Name: "leftover"}},
	})
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	if code != "func f() {}" {
		t.Errorf("code = %q", code)
	}
	if len(captured.Tools) != 0 {
		t.Errorf("tools sent = %d, want 0", len(captured.Tools))
	}
}
