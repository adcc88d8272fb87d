// Package clarify turns low-confidence classifications into a choice prompt
// backed by a single-use token.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/intent"
)

// ErrExpired is returned when a clarify token is absent, expired, already
// used, or does not offer the chosen intent.
var ErrExpired = errors.New("clarify: token expired or unknown")

const (
	DefaultThreshold = 0.4
	DefaultTTL       = 10 * time.Minute
)

// RetypeText is the reply for ErrExpired.
const RetypeText = "That choice has expired. Please type your request again."

// Pending is a stored clarification awaiting the user's choice.
type Pending struct {
	Token        string             `json:"token"`
	SenderKey    string             `json:"sender_key"`
	OriginalText string             `json:"original_text"`
	Candidates   []intent.Candidate `json:"candidates"`
	Data         map[string]any     `json:"data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Offers reports whether n is one of the stored candidates.
func (p *Pending) Offers(n intent.Name) bool {
	for _, c := range p.Candidates {
		if c.Intent == n {
			return true
		}
	}
	return false
}

// Store persists pending clarifications. A sender has at most one; Save
// replaces any earlier record for the same sender.
type Store interface {
	Save(ctx context.Context, p *Pending, expiresAt time.Time) error
	// Take atomically removes and returns the sender's record. An empty token
	// takes the sender's current record. Returns ErrExpired when nothing
	// unexpired matches.
	Take(ctx context.Context, senderKey, token string) (*Pending, error)
}

// Prompt is what the gate asks the user.
type Prompt struct {
	Text    string
	Buttons []bus.Button
	Token   string
}

// Gate decides when to clarify and manages the token lifecycle.
type Gate struct {
	Threshold float64
	TTL       time.Duration

	store    Store
	now      func() time.Time
	newToken func() string
}

// NewGate creates a gate. Zero threshold or ttl use the defaults.
func NewGate(store Store, threshold float64, ttl time.Duration) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		Threshold: threshold,
		TTL:       ttl,
		store:     store,
		now:       time.Now,
		newToken:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
}

// Needed reports whether r should be clarified instead of routed.
func (g *Gate) Needed(r intent.Result) bool {
	return r.Type == intent.TypeClarify || r.Confidence < g.Threshold
}

// candidates returns r's candidates in resolver order, or the top guess plus
// chat when the resolver gave none.
func candidates(r intent.Result) []intent.Candidate {
	var out []intent.Candidate
	seen := make(map[intent.Name]bool)
	add := func(c intent.Candidate) {
		if c.Intent == "" || seen[c.Intent] {
			return
		}
		if c.Label == "" {
			c.Label = intent.Label(c.Intent)
		}
		seen[c.Intent] = true
		out = append(out, c)
	}
	for _, c := range r.Candidates {
		add(c)
	}
	if len(out) == 0 {
		add(intent.Candidate{Intent: r.Intent, Confidence: r.Confidence})
		add(intent.Candidate{Intent: intent.Chat})
	}
	return out
}

// Open persists a Pending for senderKey and returns the choice prompt.
func (g *Gate) Open(ctx context.Context, senderKey, text string, r intent.Result) (*Prompt, error) {
	cands := candidates(r)
	if len(cands) == 0 {
		return nil, fmt.Errorf("clarify: no candidates for %q", text)
	}

	now := g.now()
	p := &Pending{
		Token:        g.newToken(),
		SenderKey:    senderKey,
		OriginalText: text,
		Candidates:   cands,
		Data:         r.Data,
		CreatedAt:    now,
	}
	if err := g.store.Save(ctx, p, now.Add(g.TTL)); err != nil {
		return nil, fmt.Errorf("clarify: save pending: %w", err)
	}

	buttons := make([]bus.Button, len(cands))
	for i, c := range cands {
		buttons[i] = bus.Button{Label: c.Label, Data: callback.Encode(callback.Action{
			Kind:  callback.KindClarify,
			Arg:   string(c.Intent),
			Token: p.Token,
		})}
	}
	return &Prompt{
		Text:    "I'm not sure what you meant. Did you want to:",
		Buttons: buttons,
		Token:   p.Token,
	}, nil
}

// Redeem consumes the sender's pending clarification for the chosen intent.
// token may be empty. The record is gone after the first call whatever the outcome.
func (g *Gate) Redeem(ctx context.Context, senderKey, token string, chosen intent.Name) (*Pending, error) {
	p, err := g.store.Take(ctx, senderKey, token)
	if err != nil {
		return nil, err
	}
	if !p.Offers(chosen) {
		return nil, fmt.Errorf("%w: %s not offered", ErrExpired, chosen)
	}
	return p, nil
}
