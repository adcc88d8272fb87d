package callback

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_KnownActions(t *testing.T) {
	tests := []struct {
		token string
		want  Action
	}{
		{"confirm", Action{Kind: KindConfirm}},
		{"cancel:exp-1", Action{Kind: KindCancel, Arg: "exp-1"}},
		{"correct:exp-1", Action{Kind: KindCorrect, Arg: "exp-1"}},
		{"onboard:new", Action{Kind: KindOnboard, Arg: OnboardNew}},
		{"onboard:Family", Action{Kind: KindOnboard, Arg: "family"}},
		{"stats:weekly", Action{Kind: KindStats, Arg: StatsWeekly}},
		{"stats:trend", Action{Kind: KindStats, Arg: StatsTrend}},
		{"clarify:send_email", Action{Kind: KindClarify, Arg: "send_email"}},
		{"clarify:send_email:abc123", Action{Kind: KindClarify, Arg: "send_email", Token: "abc123"}},
		{"confirm_action:p1", Action{Kind: KindConfirmAction, Arg: "p1"}},
		{"cancel_action:p1", Action{Kind: KindCancelAction, Arg: "p1"}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.token)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.token, got, tt.want)
		}
	}
}

func TestParse_RejectsUnknownAndMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"explode",
		"explode:1",
		"cancel",
		"cancel:",
		"cancel:a:b",
		"stats:monthly",
		"clarify",
		"clarify:a:b:c",
		"confirm:a:b",
		"onboard",
		strings.Repeat("x", 65),
	} {
		if _, err := Parse(token); !errors.Is(err, ErrUnknownAction) {
			t.Errorf("Parse(%q) expected ErrUnknownAction, got: %v", token, err)
		}
	}
}

func TestEncode_ParsesBack(t *testing.T) {
	for _, token := range []string{
		Confirm(),
		Cancel("e1"),
		Correct("e1"),
		Onboard(OnboardJoin),
		Stats(StatsTrend),
		Clarify("add_expense"),
		ConfirmAction("p1"),
		CancelAction("p1"),
	} {
		a, err := Parse(token)
		if err != nil {
			t.Fatalf("Parse(%q): %v", token, err)
		}
		if Encode(a) != token {
			t.Errorf("Encode(Parse(%q)) = %q", token, Encode(a))
		}
	}
}
