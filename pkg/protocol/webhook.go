// Package protocol defines the JSON wire types of the HTTP webhook channel.
package protocol

// Webhook routes.
const (
	PathMessages = "/v1/messages"
	PathOutbox   = "/v1/chats/{chat_id}/outbox"
	PathHealth   = "/health"
)

// Location is a shared geographic point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MessageRequest is one inbound message posted to PathMessages.
// Payload is base64 in JSON.
type MessageRequest struct {
	ID            string            `json:"id"`
	SenderID      string            `json:"sender_id"`
	ChatID        string            `json:"chat_id,omitempty"` // defaults to sender_id
	Type          string            `json:"type"`
	Text          string            `json:"text,omitempty"`
	Payload       []byte            `json:"payload,omitempty"`
	PayloadName   string            `json:"payload_name,omitempty"`
	PayloadMIME   string            `json:"payload_mime,omitempty"`
	CallbackToken string            `json:"callback_token,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Button is one inline choice; Data is posted back as callback_token.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// MessageResponse is the reply to a MessageRequest, or an outbox entry.
type MessageResponse struct {
	ChatID         string      `json:"chat_id"`
	Text           string      `json:"text"`
	Buttons        [][]Button  `json:"buttons,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	RemoveKeyboard bool        `json:"remove_keyboard,omitempty"`
	ReplyTo        string      `json:"reply_to,omitempty"`
}

// OutboxResponse lists replies produced outside a request, oldest first.
type OutboxResponse struct {
	Messages []MessageResponse `json:"messages"`
}

type HealthResponse struct {
	Status   string          `json:"status"` // "ok" or "degraded"
	Channels map[string]bool `json:"channels,omitempty"`
	Database string          `json:"database,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
