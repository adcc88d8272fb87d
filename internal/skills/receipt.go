package skills

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/media"
	"github.com/nextlevelbuilder/famledger/internal/providers"
)

// ErrUnreadable is returned when a recognizer finds no total on the image.
var ErrUnreadable = errors.New("skills: receipt unreadable")

// Receipt is what a recognizer reads off a photo.
type Receipt struct {
	Merchant string  `json:"merchant"`
	Total    float64 `json:"total"`
	Category string  `json:"category,omitempty"`
}

// ReceiptRecognizer extracts a Receipt from a JPEG.
type ReceiptRecognizer interface {
	Recognize(ctx context.Context, jpeg []byte, categories []string) (*Receipt, error)
}

// ScanReceipt reads a receipt photo and asks the user to confirm the entry
// before it is recorded.
type ScanReceipt struct {
	deps Deps
}

func (s *ScanReceipt) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if req.Confirmed {
		amount, ok := req.DataFloat("amount")
		if !ok {
			return nil, fmt.Errorf("scan receipt: confirmed without amount")
		}
		e, err := recordExpense(ctx, s.deps, req.Session, amount, req.DataString("description"), req.DataString("category"), "receipt")
		if err != nil {
			return nil, err
		}
		return &capability.Result{
			Text:     fmt.Sprintf("Recorded %s for %s in %s.", formatMoney(e.Amount, e.Currency), describe(e.Description), e.Category),
			EntityID: e.ID,
		}, nil
	}

	if s.deps.Recognizer == nil {
		return &capability.Result{Text: "I can't read receipts yet. Please type the amount, e.g. \"groceries 42.50\"."}, nil
	}
	if len(req.Message.Payload) == 0 {
		return &capability.Result{Text: "Please send the receipt as a photo."}, nil
	}

	img, err := media.NormalizeImage(req.Message.Payload, media.MaxReceiptSide)
	if err != nil {
		return &capability.Result{Text: "I couldn't open that image. Please send a clearer photo."}, nil
	}
	r, err := s.deps.Recognizer.Recognize(ctx, img, req.Session.Categories())
	if errors.Is(err, ErrUnreadable) {
		return &capability.Result{Text: "I couldn't find a total on that receipt. Please type the amount instead."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recognize receipt: %w", err)
	}

	category := r.Category
	if !req.Session.HasCategory(category) {
		category = ""
	}
	return &capability.Result{
		Confirm: &capability.Confirmation{
			Prompt: fmt.Sprintf("I read %s at %s. Record it?", formatMoney(r.Total, req.Session.Currency()), describe(r.Merchant)),
			Data: map[string]any{
				"amount":      r.Total,
				"description": r.Merchant,
				"category":    category,
			},
		},
	}, nil
}

// LLMRecognizer reads receipts with a vision-capable chat model.
type LLMRecognizer struct {
	provider providers.Provider
	model    string
}

func NewLLMRecognizer(p providers.Provider, model string) *LLMRecognizer {
	return &LLMRecognizer{provider: p, model: model}
}

func (r *LLMRecognizer) Recognize(ctx context.Context, jpeg []byte, categories []string) (*Receipt, error) {
	prompt := "Read this shop receipt. Answer with a JSON object " +
		`{"merchant": string, "total": number, "category": string}. ` +
		"total is the final amount paid. category must be one of: " + strings.Join(categories, ", ") +
		`. If there is no readable total answer {"total": 0}.`

	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Model: r.model,
		Messages: []providers.Message{{
			Role:    "user",
			Content: prompt,
			Images:  []providers.ImageContent{{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(jpeg)}},
		}},
		Options: map[string]interface{}{
			providers.OptJSONMode:    true,
			providers.OptTemperature: 0,
		},
	})
	if err != nil {
		return nil, err
	}

	var out Receipt
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if out.Total <= 0 {
		return nil, ErrUnreadable
	}
	out.Merchant = strings.TrimSpace(out.Merchant)
	return &out, nil
}
