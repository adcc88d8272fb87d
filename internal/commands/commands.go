// Package commands recognises slash commands before intent classification.
package commands

import "strings"

// Name identifies a slash command.
type Name string

const (
	Export    Name = "/export"
	DeleteAll Name = "/delete_all"
	Invite    Name = "/invite"
	Start     Name = "/start"
	Help      Name = "/help"
)

// Command is a matched slash command and its trimmed argument text.
type Command struct {
	Name Name
	Args string
}

// Set is an immutable set of known commands, safe for concurrent use.
type Set struct {
	known map[Name]struct{}
}

// NewSet compiles the given commands into a Set.
func NewSet(names ...Name) *Set {
	s := &Set{known: make(map[Name]struct{}, len(names))}
	for _, n := range names {
		s.known[Name(strings.ToLower(string(n)))] = struct{}{}
	}
	return s
}

// Default is the built-in command set.
func Default() *Set {
	return NewSet(Export, DeleteAll, Invite, Start, Help)
}

// Names returns the known command names.
func (s *Set) Names() []Name {
	out := make([]Name, 0, len(s.known))
	for n := range s.known {
		out = append(out, n)
	}
	return out
}

// Match reports whether text starts with a known command.
// "@botname" suffixes are stripped and matching is case-insensitive.
func (s *Set) Match(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return Command{}, false
	}

	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	name := Name(strings.ToLower(head))
	if _, ok := s.known[name]; !ok {
		return Command{}, false
	}
	return Command{Name: name, Args: strings.TrimSpace(rest)}, true
}

// Descriptions lists the help text shown by /help and registered with the bot menu.
var Descriptions = []struct {
	Name        Name
	Description string
}{
	{Start, "Start or restart registration"},
	{Help, "Show available commands"},
	{Export, "Export expenses as CSV"},
	{DeleteAll, "Delete all family data"},
	{Invite, "Join a family with an invite code"},
}

// HelpText renders Descriptions for a chat reply.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, d := range Descriptions {
		b.WriteString(string(d.Name))
		b.WriteString(" - ")
		b.WriteString(d.Description)
		b.WriteByte('\n')
	}
	b.WriteString("\nOr just tell me what you spent, e.g. \"coffee 3.50\".")
	return b.String()
}
