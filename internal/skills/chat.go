package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/commands"
	"github.com/nextlevelbuilder/famledger/internal/providers"
)

// Chat answers free conversation with the LLM, using the assembled history.
type Chat struct {
	deps Deps
}

func (c *Chat) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if lat, ok := req.DataFloat("latitude"); ok {
		lon, _ := req.DataFloat("longitude")
		return &capability.Result{Text: fmt.Sprintf("Thanks, noted your location (%.4f, %.4f).", lat, lon)}, nil
	}
	if c.deps.Provider == nil {
		return &capability.Result{Text: "I'm here to help with your family budget.\n\n" + commands.HelpText()}, nil
	}

	system := req.SystemPrompt
	if req.Summary != "" {
		system += "\n\nConversation so far (summary):\n" + req.Summary
	}
	msgs := make([]providers.Message, 0, len(req.History)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: system})
	for _, t := range req.History {
		msgs = append(msgs, providers.Message{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: req.Message.Text})

	resp, err := c.deps.Provider.Chat(ctx, providers.ChatRequest{
		Model:    c.deps.Model,
		Messages: msgs,
		Options:  map[string]interface{}{providers.OptMaxTokens: 512},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("chat completion: empty answer")
	}
	return &capability.Result{Text: text}, nil
}
