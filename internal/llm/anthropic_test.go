package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicCompleterExtractsFirstTextBlock(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-ant-test" {
			t.Fatalf("x-api-key = %q", r.Header.Get("X-Api-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": " There are 3 orders. "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	completer, err := NewAnthropicCompleter(AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter() error = %v", err)
	}

	out, err := completer.Complete(context.Background(), CompletionRequest{System: "be terse", Prompt: "how many orders?", Temperature: 0.5})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "There are 3 orders." {
		t.Fatalf("Complete() = %q", out)
	}
	if got["system"] != "be terse" || got["model"] != "claude-test" {
		t.Fatalf("payload = %#v", got)
	}
	if got["max_tokens"] != float64(1024) {
		t.Fatalf("max_tokens = %v", got["max_tokens"])
	}
}

func TestAnthropicCompleterSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	completer, err := NewAnthropicCompleter(AnthropicConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter() error = %v", err)
	}
	if _, err := completer.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error from failing API")
	}
}

func TestNewAnthropicCompleterRequiresKey(t *testing.T) {
	if _, err := NewAnthropicCompleter(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
