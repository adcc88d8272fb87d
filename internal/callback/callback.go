// Package callback parses inline-button tokens into typed actions.
//
// Wire form is "kind[:arg[:arg]]". Only the kinds below are accepted;
// anything else is ErrUnknownAction.
package callback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned for unrecognised kinds and malformed arguments.
var ErrUnknownAction = errors.New("callback: unknown action")

// Kind is the closed set of callback action kinds.
type Kind string

const (
	KindConfirm       Kind = "confirm"
	KindCancel        Kind = "cancel"
	KindCorrect       Kind = "correct"
	KindOnboard       Kind = "onboard"
	KindStats         Kind = "stats"
	KindClarify       Kind = "clarify"
	KindConfirmAction Kind = "confirm_action"
	KindCancelAction  Kind = "cancel_action"
)

// Onboarding choices carried by KindOnboard. Any other argument is a profile name.
const (
	OnboardNew  = "new"
	OnboardJoin = "join"
)

// Stats views carried by KindStats.
const (
	StatsWeekly = "weekly"
	StatsTrend  = "trend"
)

// Telegram caps callback_data at 64 bytes.
const maxTokenLen = 64

// Action is a parsed callback token.
//
//	confirm                       Arg=""
//	cancel:<entityId>             Arg=entityId
//	correct:<entityId>            Arg=entityId
//	onboard:new|join|<profile>    Arg=choice
//	stats:weekly|trend            Arg=view
//	clarify:<intent>[:<token>]    Arg=intent, Token=token
//	confirm_action:<pendingId>    Arg=pendingId
//	cancel_action:<pendingId>     Arg=pendingId
type Action struct {
	Kind  Kind
	Arg   string
	Token string
}

// Parse validates token against the known kinds and their arities.
func Parse(token string) (Action, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, token)
	}
	parts := strings.Split(token, ":")
	kind, args := Kind(parts[0]), parts[1:]
	for _, a := range args {
		if a == "" {
			return Action{}, fmt.Errorf("%w: empty argument in %q", ErrUnknownAction, token)
		}
	}

	switch kind {
	case KindConfirm:
		// "confirm" alone confirms the pending payload; one optional id is tolerated.
		if len(args) > 1 {
			break
		}
		a := Action{Kind: kind}
		if len(args) == 1 {
			a.Arg = args[0]
		}
		return a, nil

	case KindCancel, KindCorrect, KindConfirmAction, KindCancelAction:
		if len(args) == 1 {
			return Action{Kind: kind, Arg: args[0]}, nil
		}

	case KindOnboard:
		if len(args) == 1 {
			return Action{Kind: kind, Arg: strings.ToLower(args[0])}, nil
		}

	case KindStats:
		if len(args) == 1 && (args[0] == StatsWeekly || args[0] == StatsTrend) {
			return Action{Kind: kind, Arg: args[0]}, nil
		}

	case KindClarify:
		switch len(args) {
		case 1:
			return Action{Kind: kind, Arg: args[0]}, nil
		case 2:
			return Action{Kind: kind, Arg: args[0], Token: args[1]}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, token)
}

// Encode renders a in wire form.
func Encode(a Action) string {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	if a.Arg != "" {
		b.WriteByte(':')
		b.WriteString(a.Arg)
	}
	if a.Token != "" {
		b.WriteByte(':')
		b.WriteString(a.Token)
	}
	return b.String()
}

// Convenience constructors for button data.

func Confirm() string { return string(KindConfirm) }
func Cancel(entityID string) string { return Encode(Action{Kind: KindCancel, Arg: entityID}) }
func Correct(entityID string) string { return Encode(Action{Kind: KindCorrect, Arg: entityID}) }
func Onboard(choice string) string { return Encode(Action{Kind: KindOnboard, Arg: choice}) }
func Stats(view string) string { return Encode(Action{Kind: KindStats, Arg: view}) }
func Clarify(intent string) string { return Encode(Action{Kind: KindClarify, Arg: intent}) }
func ConfirmAction(id string) string { return Encode(Action{Kind: KindConfirmAction, Arg: id}) }
func CancelAction(id string) string { return Encode(Action{Kind: KindCancelAction, Arg: id}) }
