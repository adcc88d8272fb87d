package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/pkg/protocol"
)

type echoDispatcher struct {
	mu   sync.Mutex
	seen []bus.InboundMessage
}

func (e *echoDispatcher) Dispatch(_ context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	e.mu.Lock()
	e.seen = append(e.seen, msg)
	e.mu.Unlock()
	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		ReplyTo: msg.ID,
		Text:    "echo: " + msg.Text,
		Buttons: [][]bus.Button{{{Label: "OK", Data: "confirm:1"}}},
	}
}

func newServer(t *testing.T, token string, limiter *channels.SenderLimiter) (*Channel, *echoDispatcher, *httptest.Server) {
	t.Helper()
	d := &echoDispatcher{}
	ch := New(d, bus.New(), token, 1024, limiter)
	mux := http.NewServeMux()
	ch.RegisterRoutes(mux)
	mux.HandleFunc("GET "+protocol.PathHealth, HealthHandler(func() map[string]bool { return map[string]bool{ChannelName: true} }, nil))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ch, d, srv
}

func post(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+protocol.PathMessages, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// TestWebhook_SynchronousReply verifies a posted message returns its reply in the body.
func TestWebhook_SynchronousReply(t *testing.T) {
	_, d, srv := newServer(t, "secret", nil)

	resp := post(t, srv, "secret", `{"id":"m1","sender_id":"u1","text":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got: %d", resp.StatusCode)
	}
	var out protocol.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Text != "echo: hello" || out.ChatID != "u1" || out.ReplyTo != "m1" {
		t.Fatalf("unexpected reply: %+v", out)
	}
	if len(out.Buttons) != 1 || out.Buttons[0][0].Data != "confirm:1" {
		t.Fatalf("unexpected buttons: %+v", out.Buttons)
	}
	if len(d.seen) != 1 || d.seen[0].Type != bus.TypeText || d.seen[0].Channel != ChannelName {
		t.Fatalf("unexpected dispatched message: %+v", d.seen)
	}
}

// TestWebhook_RequiresToken verifies missing or wrong bearer tokens are rejected.
func TestWebhook_RequiresToken(t *testing.T) {
	_, d, srv := newServer(t, "secret", nil)
	for _, tok := range []string{"", "wrong"} {
		resp := post(t, srv, tok, `{"sender_id":"u1","text":"hi"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got: %d", tok, resp.StatusCode)
		}
	}
	if len(d.seen) != 0 {
		t.Fatal("expected nothing dispatched")
	}
}

// TestWebhook_RejectsBadRequests verifies validation errors and body size limits.
func TestWebhook_RejectsBadRequests(t *testing.T) {
	_, _, srv := newServer(t, "", nil)
	cases := map[string]struct {
		body string
		code int
	}{
		"invalid json":     {`{`, http.StatusBadRequest},
		"missing sender":   {`{"text":"hi"}`, http.StatusBadRequest},
		"unknown type":     {`{"sender_id":"u1","type":"sticker"}`, http.StatusBadRequest},
		"callback no data": {`{"sender_id":"u1","type":"callback"}`, http.StatusBadRequest},
		"too large":        {`{"sender_id":"u1","text":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if resp := post(t, srv, "", tc.body); resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got: %d", tc.code, resp.StatusCode)
			}
		})
	}
}

// TestWebhook_DuplicateID verifies a retried message id is not dispatched twice.
func TestWebhook_DuplicateID(t *testing.T) {
	_, d, srv := newServer(t, "", nil)
	body := `{"id":"m1","sender_id":"u1","text":"coffee 3"}`
	if resp := post(t, srv, "", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got: %d", resp.StatusCode)
	}
	if resp := post(t, srv, "", body); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got: %d", resp.StatusCode)
	}
	if len(d.seen) != 1 {
		t.Fatalf("expected one dispatch, got: %d", len(d.seen))
	}
}

// TestWebhook_RateLimited verifies the per-sender limiter answers 429.
func TestWebhook_RateLimited(t *testing.T) {
	_, _, srv := newServer(t, "", channels.NewSenderLimiter(1))
	if resp := post(t, srv, "", `{"sender_id":"u1","text":"a"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got: %d", resp.StatusCode)
	}
	if resp := post(t, srv, "", `{"sender_id":"u1","text":"b"}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got: %d", resp.StatusCode)
	}
	if resp := post(t, srv, "", `{"sender_id":"u2","text":"c"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected other sender unaffected, got: %d", resp.StatusCode)
	}
}

// TestWebhook_Outbox verifies deferred replies are queued per chat and drained once.
func TestWebhook_Outbox(t *testing.T) {
	ch, _, srv := newServer(t, "", nil)
	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "c1", Text: "over budget"}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(context.Background(), bus.OutboundMessage{Text: "no chat"}); err == nil {
		t.Fatal("expected error without chat id")
	}

	get := func() protocol.OutboxResponse {
		resp, err := http.Get(srv.URL + "/v1/chats/c1/outbox")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out protocol.OutboxResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return out
	}
	if out := get(); len(out.Messages) != 1 || out.Messages[0].Text != "over budget" {
		t.Fatalf("unexpected outbox: %+v", out)
	}
	if out := get(); len(out.Messages) != 0 {
		t.Fatalf("expected drained outbox, got: %+v", out)
	}
}

// TestHealthHandler verifies ok and degraded responses.
func TestHealthHandler(t *testing.T) {
	_, _, srv := newServer(t, "", nil)
	resp, err := http.Get(srv.URL + protocol.PathHealth)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got: %d", resp.StatusCode)
	}

	rec := httptest.NewRecorder()
	HealthHandler(nil, func(context.Context) error { return errors.New("down") })(rec, httptest.NewRequest(http.MethodGet, protocol.PathHealth, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got: %d", rec.Code)
	}
	var out protocol.HealthResponse
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "degraded" {
		t.Fatalf("expected degraded, got: %q", out.Status)
	}
}
