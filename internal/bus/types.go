package bus

import "context"

// MessageType is the closed set of inbound message kinds a channel can deliver.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypePhoto    MessageType = "photo"
	TypeVoice    MessageType = "voice"
	TypeDocument MessageType = "document"
	TypeCallback MessageType = "callback"
	TypeLocation MessageType = "location"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypePhoto, TypeVoice, TypeDocument, TypeCallback, TypeLocation:
		return true
	}
	return false
}

// Location is a shared geographic point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InboundMessage represents a message received from a channel (Telegram, webhook, etc.).
// Treat it as immutable: transformations return a new value.
type InboundMessage struct {
	ID            string            `json:"id"`
	Channel       string            `json:"channel"`
	SenderID      string            `json:"sender_id"`
	ChatID        string            `json:"chat_id"`
	Type          MessageType       `json:"type"`
	Text          string            `json:"text,omitempty"`
	Payload       []byte            `json:"payload,omitempty"`      // binary body (photo, voice, document)
	PayloadName   string            `json:"payload_name,omitempty"` // original file name if known
	PayloadMIME   string            `json:"payload_mime,omitempty"`
	CallbackToken string            `json:"callback_token,omitempty"` // "action:arg1:arg2" from an inline button
	Location      *Location         `json:"location,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// WithTranscript returns a text-typed copy of a voice message carrying the transcript.
// The receiver is left untouched.
func (m InboundMessage) WithTranscript(text string) InboundMessage {
	out := m
	out.Type = TypeText
	out.Text = text
	out.Payload = nil
	out.PayloadName = ""
	out.PayloadMIME = ""
	if len(m.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(m.Metadata)+1)
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	} else {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata["transcribed"] = "true"
	return out
}

// Button is one inline choice. Data is the callback token sent back when pressed.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Attachment is a binary file delivered alongside the reply text.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// OutboundMessage represents a channel-agnostic reply.
type OutboundMessage struct {
	Channel        string            `json:"channel"`
	ChatID         string            `json:"chat_id"`
	Text           string            `json:"text"`
	Buttons        [][]Button        `json:"buttons,omitempty"`    // rows of inline buttons
	Attachment     *Attachment       `json:"attachment,omitempty"` // optional document
	RemoveKeyboard bool              `json:"remove_keyboard,omitempty"`
	ReplyTo        string            `json:"reply_to,omitempty"` // inbound message id
	Metadata       map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// ButtonCount returns the total number of inline buttons across all rows.
func (m OutboundMessage) ButtonCount() int {
	n := 0
	for _, row := range m.Buttons {
		n += len(row)
	}
	return n
}

// FlatButtons returns the buttons in row order.
func (m OutboundMessage) FlatButtons() []Button {
	out := make([]Button, 0, m.ButtonCount())
	for _, row := range m.Buttons {
		out = append(out, row...)
	}
	return out
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channels and the dispatcher.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
