package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestOpenAIChat_RetriesServerErrors verifies 5xx responses are retried and the
// eventual success is returned.
func TestOpenAIChat_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["response_format"] == nil {
			t.Errorf("expected response_format in JSON mode")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"intent\":\"chat\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "sk-test", srv.URL, "gpt-test").
		WithRetry(RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Options:  map[string]interface{}{OptJSONMode: true},
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if resp.Content != `{"intent":"chat"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

// TestOpenAIChat_NoRetryOnClientError verifies 4xx (except 429) fail immediately.
func TestOpenAIChat_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "bad", srv.URL, "gpt-test").
		WithRetry(RetryConfig{Attempts: 3, MinDelay: time.Millisecond})

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if ParseRetryAfter("3") != 3*time.Second {
		t.Fatal("expected 3s")
	}
	if ParseRetryAfter("soon") != 0 || ParseRetryAfter("") != 0 {
		t.Fatal("expected 0 for invalid values")
	}
}

// TestNewCompletionRequest_VisionParts verifies image messages become content
// parts with a data URL followed by the text part.
func TestNewCompletionRequest_VisionParts(t *testing.T) {
	req := newCompletionRequest("gpt-test", ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "read receipts"},
			{Role: "user", Content: "what is this?", Images: []ImageContent{{MimeType: "image/jpeg", Data: "AAAA"}}},
		},
		Options: map[string]interface{}{OptTemperature: 0},
	})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body struct {
		Temperature *float64 `json:"temperature"`
		Messages    []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Temperature == nil || *body.Temperature != 0 {
		t.Fatalf("expected temperature 0 to be sent, got: %s", data)
	}
	if string(body.Messages[0].Content) != `"read receipts"` {
		t.Fatalf("expected plain string content, got: %s", body.Messages[0].Content)
	}
	var parts []contentPart
	if err := json.Unmarshal(body.Messages[1].Content, &parts); err != nil {
		t.Fatalf("expected content parts, got: %s", body.Messages[1].Content)
	}
	if len(parts) != 2 || parts[0].ImageURL == nil || parts[0].ImageURL.URL != "data:image/jpeg;base64,AAAA" || parts[1].Text != "what is this?" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
}
