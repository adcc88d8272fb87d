// Package webhook is the synchronous HTTP channel: POST a message, get the reply
// in the response body.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/pkg/protocol"
)

const (
	ChannelName = "webhook"

	defaultMaxBodyBytes = 1 << 20
	maxOutboxPerChat    = 50
	dedupeTTL           = 10 * time.Minute
	dedupeMaxKeys       = 10000
)

// Dispatcher turns one inbound message into exactly one reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage
}

// Channel serves the webhook routes. Replies produced outside a request
// (deferred notifications) are kept in a bounded per-chat outbox.
type Channel struct {
	*channels.BaseChannel
	dispatcher   Dispatcher
	token        string
	maxBodyBytes int64
	dedupe       *bus.DedupeCache

	mu     sync.Mutex
	outbox map[string][]bus.OutboundMessage
}

// New creates the webhook channel. An empty token disables authentication.
func New(d Dispatcher, msgBus *bus.MessageBus, token string, maxBodyBytes int64, limiter *channels.SenderLimiter) *Channel {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Channel{
		BaseChannel:  channels.NewBaseChannel(ChannelName, msgBus, nil, limiter),
		dispatcher:   d,
		token:        token,
		maxBodyBytes: maxBodyBytes,
		dedupe:       bus.NewDedupeCache(dedupeTTL, dedupeMaxKeys),
		outbox:       make(map[string][]bus.OutboundMessage),
	}
}

// Start only marks the channel running; the HTTP listener belongs to the gateway.
func (c *Channel) Start(context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send queues msg in its chat's outbox, dropping the oldest beyond the cap.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.ChatID == "" {
		return errors.New("webhook: outbound message without chat id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q := append(c.outbox[msg.ChatID], msg)
	if len(q) > maxOutboxPerChat {
		q = q[len(q)-maxOutboxPerChat:]
	}
	c.outbox[msg.ChatID] = q
	return nil
}

// drain removes and returns the queued replies for chatID.
func (c *Channel) drain(chatID string) []bus.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.outbox[chatID]
	delete(c.outbox, chatID)
	return q
}

// RegisterRoutes registers the webhook routes on the given mux.
func (c *Channel) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+protocol.PathMessages, c.auth(c.handleMessage))
	mux.HandleFunc("GET "+protocol.PathOutbox, c.auth(c.handleOutbox))
}

func (c *Channel) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.token != "" {
			got := extractBearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(c.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (c *Channel) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxBodyBytes)
	var req protocol.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, protocol.ErrorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	msg, err := toInbound(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	if err := c.Admit(msg); err != nil {
		status := http.StatusTooManyRequests
		if errors.Is(err, channels.ErrSenderNotAllowed) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	if c.dedupe.Seen(bus.DedupeKey(msg)) {
		writeJSON(w, http.StatusConflict, protocol.ErrorResponse{Error: "duplicate message id"})
		return
	}

	out := c.dispatcher.Dispatch(r.Context(), msg)
	slog.Debug("webhook message dispatched", "sender_id", msg.SenderID, "chat_id", msg.ChatID, "type", msg.Type)
	writeJSON(w, http.StatusOK, toResponse(out))
}

func (c *Channel) handleOutbox(w http.ResponseWriter, r *http.Request) {
	queued := c.drain(r.PathValue("chat_id"))
	resp := protocol.OutboxResponse{Messages: make([]protocol.MessageResponse, 0, len(queued))}
	for _, m := range queued {
		resp.Messages = append(resp.Messages, toResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toInbound(req protocol.MessageRequest) (bus.InboundMessage, error) {
	if strings.TrimSpace(req.SenderID) == "" {
		return bus.InboundMessage{}, errors.New("sender_id is required")
	}
	typ := bus.MessageType(req.Type)
	if typ == "" {
		typ = bus.TypeText
	}
	if !typ.Valid() {
		return bus.InboundMessage{}, errors.New("unknown message type: " + req.Type)
	}
	if typ == bus.TypeCallback && req.CallbackToken == "" {
		return bus.InboundMessage{}, errors.New("callback_token is required for callback messages")
	}
	if typ == bus.TypeLocation && req.Location == nil {
		return bus.InboundMessage{}, errors.New("location is required for location messages")
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = req.SenderID
	}
	msg := bus.InboundMessage{
		ID:            req.ID,
		Channel:       ChannelName,
		SenderID:      req.SenderID,
		ChatID:        chatID,
		Type:          typ,
		Text:          req.Text,
		Payload:       req.Payload,
		PayloadName:   req.PayloadName,
		PayloadMIME:   req.PayloadMIME,
		CallbackToken: req.CallbackToken,
		Metadata:      req.Metadata,
	}
	if req.Location != nil {
		msg.Location = &bus.Location{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude}
	}
	return msg, nil
}

func toResponse(out bus.OutboundMessage) protocol.MessageResponse {
	resp := protocol.MessageResponse{
		ChatID:         out.ChatID,
		Text:           out.Text,
		RemoveKeyboard: out.RemoveKeyboard,
		ReplyTo:        out.ReplyTo,
	}
	for _, row := range out.Buttons {
		r := make([]protocol.Button, 0, len(row))
		for _, b := range row {
			r = append(r, protocol.Button{Label: b.Label, Data: b.Data})
		}
		resp.Buttons = append(resp.Buttons, r)
	}
	if a := out.Attachment; a != nil {
		resp.Attachment = &protocol.Attachment{Name: a.Name, ContentType: a.ContentType, Data: a.Data}
	}
	return resp
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
