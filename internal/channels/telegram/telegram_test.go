package telegram

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/internal/dispatch"
)

func baseMessage() *telego.Message {
	return &telego.Message{
		MessageID: 42,
		From:      &telego.User{ID: 1001, FirstName: "Ana", LastName: "Silva", Username: "ana"},
		Chat:      telego.Chat{ID: 555, Type: "private"},
	}
}

// TestToInbound_Text verifies text messages map to TypeText with sender metadata.
func TestToInbound_Text(t *testing.T) {
	m := baseMessage()
	m.Text = "coffee 3.50"

	msg, file, ok := toInbound(m)
	if !ok || file != nil {
		t.Fatalf("expected text message without file, got ok=%v file=%v", ok, file)
	}
	if msg.Type != bus.TypeText || msg.Text != "coffee 3.50" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SenderID != "1001" || msg.ChatID != "555" || msg.ID != "42" {
		t.Fatalf("unexpected ids: %+v", msg)
	}
	if msg.Metadata[dispatch.MetaDisplayName] != "Ana Silva" || msg.Metadata[channels.MetaUsername] != "ana" {
		t.Fatalf("unexpected metadata: %v", msg.Metadata)
	}
}

// TestToInbound_Media verifies each media kind picks the right type and file.
func TestToInbound_Media(t *testing.T) {
	photo := baseMessage()
	photo.Photo = []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	photo.Caption = "receipt"

	voice := baseMessage()
	voice.Voice = &telego.Voice{FileID: "v1"}

	doc := baseMessage()
	doc.Document = &telego.Document{FileID: "d1", FileName: "bank.csv", MimeType: "text/csv"}

	cases := []struct {
		name   string
		msg    *telego.Message
		typ    bus.MessageType
		fileID string
	}{
		{"photo", photo, bus.TypePhoto, "large"},
		{"voice", voice, bus.TypeVoice, "v1"},
		{"document", doc, bus.TypeDocument, "d1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, file, ok := toInbound(tc.msg)
			if !ok {
				t.Fatal("expected message to be accepted")
			}
			if msg.Type != tc.typ {
				t.Fatalf("expected type %s, got: %s", tc.typ, msg.Type)
			}
			if file == nil || file.FileID != tc.fileID {
				t.Fatalf("expected file %s, got: %+v", tc.fileID, file)
			}
		})
	}
	if msg, _, _ := toInbound(voice); msg.Text != "" {
		t.Fatalf("expected voice without text, got: %q", msg.Text)
	}
}

// TestToInbound_Location verifies coordinates are carried through.
func TestToInbound_Location(t *testing.T) {
	m := baseMessage()
	m.Location = &telego.Location{Latitude: 38.7, Longitude: -9.1}
	msg, file, ok := toInbound(m)
	if !ok || file != nil || msg.Type != bus.TypeLocation {
		t.Fatalf("unexpected result: %+v %v %v", msg, file, ok)
	}
	if msg.Location.Latitude != 38.7 || msg.Location.Longitude != -9.1 {
		t.Fatalf("unexpected location: %+v", msg.Location)
	}
}

// TestToInbound_SkipsEmpty verifies service messages without content are dropped.
func TestToInbound_SkipsEmpty(t *testing.T) {
	if _, _, ok := toInbound(baseMessage()); ok {
		t.Fatal("expected empty message to be skipped")
	}
	m := baseMessage()
	m.From = nil
	m.Text = "hi"
	if _, _, ok := toInbound(m); ok {
		t.Fatal("expected message without sender to be skipped")
	}
}

// TestCallbackInbound verifies callback queries become TypeCallback with the token.
func TestCallbackInbound(t *testing.T) {
	q := &telego.CallbackQuery{
		ID:      "q1",
		From:    telego.User{ID: 1001},
		Data:    "confirm_action:abc",
		Message: &telego.Message{MessageID: 7, Chat: telego.Chat{ID: 555}},
	}
	msg, ok := callbackInbound(q)
	if !ok {
		t.Fatal("expected callback to be accepted")
	}
	if msg.Type != bus.TypeCallback || msg.CallbackToken != "confirm_action:abc" || msg.ChatID != "555" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	q.Data = ""
	if _, ok := callbackInbound(q); ok {
		t.Fatal("expected empty callback data to be skipped")
	}
}

// TestReplyMarkup verifies keyboards, keyboard removal and plain text.
func TestReplyMarkup(t *testing.T) {
	withButtons := bus.OutboundMessage{Buttons: [][]bus.Button{{{Label: "Yes", Data: "confirm:1"}, {Label: "No", Data: "cancel:1"}}, {}}}
	kb, ok := replyMarkup(withButtons).(*telego.InlineKeyboardMarkup)
	if !ok {
		t.Fatal("expected inline keyboard")
	}
	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected one row of two buttons, got: %+v", kb.InlineKeyboard)
	}
	if kb.InlineKeyboard[0][1].CallbackData != "cancel:1" {
		t.Fatalf("unexpected callback data: %q", kb.InlineKeyboard[0][1].CallbackData)
	}

	if _, ok := replyMarkup(bus.OutboundMessage{RemoveKeyboard: true}).(*telego.ReplyKeyboardRemove); !ok {
		t.Fatal("expected keyboard removal")
	}
	if replyMarkup(bus.OutboundMessage{Text: "hi"}) != nil {
		t.Fatal("expected no markup")
	}
}

// TestChunkText verifies long text is split on newlines within the limit.
func TestChunkText(t *testing.T) {
	if got := chunkText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("expected single chunk, got: %q", got)
	}

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := chunkText(text, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got: %q", got)
	}
	if got[0] != strings.Repeat("a", 8)+"\n" || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("unexpected chunks: %q", got)
	}
	for _, c := range chunkText(strings.Repeat("é", 25), 10) {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk exceeds limit: %d runes", n)
		}
	}
}
