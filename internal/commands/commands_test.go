package commands

import "testing"

func TestMatch(t *testing.T) {
	s := Default()
	tests := []struct {
		text string
		ok   bool
		name Name
		args string
	}{
		{"/export", true, Export, ""},
		{"/EXPORT", true, Export, ""},
		{"/export@famledger_bot", true, Export, ""},
		{"/invite ABCD1234", true, Invite, "ABCD1234"},
		{"/invite@famledger_bot   code42  ", true, Invite, "code42"},
		{"  /delete_all", true, DeleteAll, ""},
		{"/unknown", false, "", ""},
		{"export", false, "", ""},
		{"/", false, "", ""},
		{"", false, "", ""},
	}
	for _, tt := range tests {
		cmd, ok := s.Match(tt.text)
		if ok != tt.ok || cmd.Name != tt.name || cmd.Args != tt.args {
			t.Errorf("Match(%q) = %+v,%v; want %s %q,%v", tt.text, cmd, ok, tt.name, tt.args, tt.ok)
		}
	}
}

func TestNewSet_OnlyKnowsGivenCommands(t *testing.T) {
	s := NewSet(Export)
	if _, ok := s.Match("/delete_all"); ok {
		t.Fatal("command outside the set must not match")
	}
	if len(s.Names()) != 1 {
		t.Fatalf("expected 1 name, got %d", len(s.Names()))
	}
}
