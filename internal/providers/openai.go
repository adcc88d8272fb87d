package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultAPIBase = "https://api.openai.com/v1"
	chatPath       = "/chat/completions"
	maxErrorBody   = 4096
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/famledger/internal/providers")

// OpenAIProvider talks to any chat-completions compatible endpoint
// (OpenAI, Groq, OpenRouter, a local vLLM).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 60 * time.Second},
		retry:        DefaultRetryConfig(),
	}
}

// WithRetry overrides the retry policy.
func (p *OpenAIProvider) WithRetry(cfg RetryConfig) *OpenAIProvider {
	p.retry = cfg
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.String("llm.model", model),
			attribute.Int("llm.messages", len(req.Messages)),
		))
	defer span.End()

	payload, err := json.Marshal(newCompletionRequest(model, req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	resp, err := RetryDo(ctx, p.retry, func() (*ChatResponse, error) {
		return p.post(ctx, payload)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	return resp, nil
}

func (p *OpenAIProvider) post(ctx context.Context, payload []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       p.name + ": " + string(body),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return out.toChatResponse(), nil
}

// Wire types for /chat/completions.

type completionRequest struct {
	Model          string              `json:"model"`
	Messages       []completionMessage `json:"messages"`
	MaxTokens      any                 `json:"max_tokens,omitempty"`
	Temperature    any                 `json:"temperature,omitempty"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// completionMessage.Content is a string, or a list of parts for vision input.
type completionMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func newCompletionRequest(model string, req ChatRequest) completionRequest {
	out := completionRequest{
		Model:       model,
		Messages:    make([]completionMessage, 0, len(req.Messages)),
		MaxTokens:   req.Options[OptMaxTokens],
		Temperature: req.Options[OptTemperature],
	}
	if on, _ := req.Options[OptJSONMode].(bool); on {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			out.Messages = append(out.Messages, completionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]contentPart, 0, len(m.Images)+1)
		for _, img := range m.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: "data:" + img.MimeType + ";base64," + img.Data},
			})
		}
		if m.Content != "" {
			parts = append(parts, contentPart{Type: "text", Text: m.Content})
		}
		out.Messages = append(out.Messages, completionMessage{Role: m.Role, Content: parts})
	}
	return out
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

func (r *completionResponse) toChatResponse() *ChatResponse {
	out := &ChatResponse{FinishReason: "stop", Usage: r.Usage}
	if len(r.Choices) > 0 {
		out.Content = r.Choices[0].Message.Content
		if fr := r.Choices[0].FinishReason; fr != "" {
			out.FinishReason = fr
		}
	}
	return out
}
