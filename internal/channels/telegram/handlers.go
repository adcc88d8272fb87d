package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/internal/dispatch"
)

// pendingFile is media that must be downloaded before the message is published.
type pendingFile struct {
	FileID string
	Name   string
	MIME   string
}

// handleMessage converts a Telegram message and publishes it to the bus.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	msg, file, ok := toInbound(message)
	if !ok {
		slog.Debug("telegram message skipped", "chat_id", message.Chat.ID)
		return
	}
	msg.Channel = c.Name()

	if err := c.Admit(msg); err != nil {
		slog.Debug("telegram message rejected", "sender_id", msg.SenderID, "chat_id", msg.ChatID, "reason", err)
		return
	}

	if file != nil {
		data, err := c.downloadFile(ctx, file.FileID, c.config.MediaMaxBytes)
		if err != nil {
			slog.Warn("telegram media download failed", "sender_id", msg.SenderID, "type", msg.Type, "error", err)
			c.reply(ctx, message.Chat.ID, "Sorry, I couldn't download that file. Please try again.")
			return
		}
		msg.Payload = data
		msg.PayloadName = file.Name
		msg.PayloadMIME = file.MIME
	}

	slog.Debug("telegram message received", "sender_id", msg.SenderID, "chat_id", msg.ChatID, "type", msg.Type)
	c.Bus().PublishInbound(msg)
}

// toInbound maps a Telegram message onto the closed message type set.
// Service messages and unsupported content report ok=false.
func toInbound(m *telego.Message) (msg bus.InboundMessage, file *pendingFile, ok bool) {
	if m == nil || m.From == nil {
		return msg, nil, false
	}

	msg = bus.InboundMessage{
		ID:       strconv.Itoa(m.MessageID),
		SenderID: strconv.FormatInt(m.From.ID, 10),
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		Metadata: senderMetadata(m.From),
	}

	switch {
	case m.Voice != nil:
		msg.Type = bus.TypeVoice
		mime := m.Voice.MimeType
		if mime == "" {
			mime = "audio/ogg"
		}
		file = &pendingFile{FileID: m.Voice.FileID, Name: "voice.ogg", MIME: mime}
	case len(m.Photo) > 0:
		// Sizes are ordered small to large.
		largest := m.Photo[len(m.Photo)-1]
		msg.Type = bus.TypePhoto
		msg.Text = m.Caption
		file = &pendingFile{FileID: largest.FileID, Name: "photo.jpg", MIME: "image/jpeg"}
	case m.Document != nil:
		msg.Type = bus.TypeDocument
		msg.Text = m.Caption
		file = &pendingFile{FileID: m.Document.FileID, Name: m.Document.FileName, MIME: m.Document.MimeType}
	case m.Location != nil:
		msg.Type = bus.TypeLocation
		msg.Location = &bus.Location{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
	case strings.TrimSpace(m.Text) != "":
		msg.Type = bus.TypeText
		msg.Text = m.Text
	default:
		return msg, nil, false
	}
	return msg, file, true
}

func senderMetadata(u *telego.User) map[string]string {
	md := map[string]string{}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		md[dispatch.MetaDisplayName] = name
	}
	if u.Username != "" {
		md[channels.MetaUsername] = u.Username
	}
	return md
}

// handleCallbackQuery acknowledges the button press and forwards its token.
func (c *Channel) handleCallbackQuery(ctx context.Context, q *telego.CallbackQuery) {
	// Answer first so the client stops its spinner even if dispatch is slow.
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: q.ID}); err != nil {
		slog.Debug("answer callback query failed", "error", err)
	}

	msg, ok := callbackInbound(q)
	if !ok {
		slog.Debug("telegram callback skipped", "query_id", q.ID)
		return
	}
	if err := c.HandleMessage(msg); err != nil {
		slog.Debug("telegram callback rejected", "sender_id", msg.SenderID, "reason", err)
	}
}

func callbackInbound(q *telego.CallbackQuery) (bus.InboundMessage, bool) {
	if q.Data == "" || q.Message == nil {
		return bus.InboundMessage{}, false
	}
	return bus.InboundMessage{
		ID:            "cb:" + q.ID,
		SenderID:      strconv.FormatInt(q.From.ID, 10),
		ChatID:        strconv.FormatInt(q.Message.GetChat().ID, 10),
		Type:          bus.TypeCallback,
		CallbackToken: q.Data,
		Metadata:      senderMetadata(&q.From),
	}, true
}

func (c *Channel) reply(ctx context.Context, chatID int64, text string) {
	if err := c.Send(ctx, bus.OutboundMessage{ChatID: fmt.Sprintf("%d", chatID), Text: text}); err != nil {
		slog.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}
