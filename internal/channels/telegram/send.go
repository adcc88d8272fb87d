package telegram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/famledger/internal/bus"
)

// telegramMaxMessageLen is the Bot API limit for one text message (in runes).
const telegramMaxMessageLen = 4096

// Send delivers msg as one or more text messages, with the inline keyboard on
// the last one, or as a document when it carries an attachment.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	if msg.Attachment != nil {
		return c.sendDocument(ctx, chatID, msg)
	}

	chunks := chunkText(msg.Text, telegramMaxMessageLen)
	for i, chunk := range chunks {
		params := tu.Message(tu.ID(chatID), chunk)
		if i == len(chunks)-1 {
			params.ReplyMarkup = replyMarkup(msg)
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (c *Channel) sendDocument(ctx context.Context, chatID int64, msg bus.OutboundMessage) error {
	a := msg.Attachment
	params := &telego.SendDocumentParams{
		ChatID:   tu.ID(chatID),
		Document: tu.File(tu.NameReader(bytes.NewReader(a.Data), a.Name)),
		Caption:  truncateRunes(msg.Text, 1024),
	}
	if markup := replyMarkup(msg); markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := c.bot.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// replyMarkup returns the inline keyboard for msg's buttons, a keyboard
// removal, or nil.
func replyMarkup(msg bus.OutboundMessage) telego.ReplyMarkup {
	if len(msg.Buttons) > 0 {
		return inlineKeyboard(msg.Buttons)
	}
	if msg.RemoveKeyboard {
		return &telego.ReplyKeyboardRemove{RemoveKeyboard: true}
	}
	return nil
}

func inlineKeyboard(rows [][]bus.Button) *telego.InlineKeyboardMarkup {
	kb := &telego.InlineKeyboardMarkup{InlineKeyboard: make([][]telego.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		out := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, telego.InlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}

// chunkText splits text into pieces of at most max runes, preferring newline
// boundaries. Empty text yields one empty chunk.
func chunkText(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}
	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
