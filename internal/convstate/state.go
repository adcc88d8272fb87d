// Package convstate holds the per-sender conversation state machine and its stores.
package convstate

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	// ErrIllegalTransition is returned when a move is not in the edge table.
	ErrIllegalTransition = errors.New("convstate: illegal transition")
	// ErrNotFound is returned by stores when no (unexpired) state exists for a key.
	ErrNotFound = errors.New("convstate: state not found")
)

// State is one node of the conversation FSM.
type State string

const (
	Unregistered               State = "unregistered"
	OnboardingAwaitingChoice   State = "onboarding_awaiting_choice"
	OnboardingAwaitingActivity State = "onboarding_awaiting_activity"
	OnboardingAwaitingInvite   State = "onboarding_awaiting_invite_code"
	Normal                     State = "normal"
	Correcting                 State = "correcting"
	AwaitingConfirm            State = "awaiting_confirm"
)

// edges lists every legal move. Self-loops are always legal and not listed.
var edges = map[State][]State{
	Unregistered:               {OnboardingAwaitingChoice, OnboardingAwaitingActivity, OnboardingAwaitingInvite},
	OnboardingAwaitingChoice:   {OnboardingAwaitingActivity, OnboardingAwaitingInvite},
	OnboardingAwaitingActivity: {Normal, OnboardingAwaitingInvite},
	OnboardingAwaitingInvite:   {Normal, OnboardingAwaitingActivity},
	Normal:                     {Correcting, AwaitingConfirm},
	Correcting:                 {Normal},
	AwaitingConfirm:            {Normal},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := edges[s]
	return ok
}

// Onboarding reports whether s belongs to the unregistered-sender branch.
func (s State) Onboarding() bool {
	switch s {
	case Unregistered, OnboardingAwaitingChoice, OnboardingAwaitingActivity, OnboardingAwaitingInvite:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PendingConfirmation is an action a handler asked the user to confirm.
type PendingConfirmation struct {
	Intent string         `json:"intent"`
	Data   map[string]any `json:"data,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
}

// ConversationState is the stored record for one sender.
type ConversationState struct {
	Key          string               `json:"key"`
	State        State                `json:"state"`
	LastEntityID string               `json:"last_entity_id,omitempty"`
	Pending      *PendingConfirmation `json:"pending,omitempty"`
	MessageCount int                  `json:"message_count"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// New returns the initial state for a sender key.
func New(key string, initial State) *ConversationState {
	return &ConversationState{Key: key, State: initial}
}

// Transition moves to the given state, or returns ErrIllegalTransition and leaves s unchanged.
// Leaving Correcting or AwaitingConfirm clears the entity id and pending payload.
func (s *ConversationState) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
	}
	if to == Normal && (s.State == Correcting || s.State == AwaitingConfirm) {
		s.LastEntityID = ""
		s.Pending = nil
	}
	s.State = to
	return nil
}

// Clone returns a copy that shares no mutable data with s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Pending != nil {
		p := *s.Pending
		p.Data = maps.Clone(s.Pending.Data)
		out.Pending = &p
	}
	return &out
}
