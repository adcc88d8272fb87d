package convstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

func TestCanTransition_EdgeTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unregistered, OnboardingAwaitingChoice, true},
		{Unregistered, OnboardingAwaitingActivity, true},
		{Unregistered, OnboardingAwaitingInvite, true},
		{Unregistered, Normal, false},
		{OnboardingAwaitingInvite, Normal, true},
		{OnboardingAwaitingInvite, OnboardingAwaitingInvite, true},
		{OnboardingAwaitingActivity, Normal, true},
		{Normal, Correcting, true},
		{Normal, AwaitingConfirm, true},
		{Normal, Unregistered, false},
		{Correcting, Normal, true},
		{Correcting, AwaitingConfirm, false},
		{AwaitingConfirm, Normal, true},
		{AwaitingConfirm, Correcting, false},
		{State("bogus"), Normal, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransition_IllegalLeavesStateUnchanged(t *testing.T) {
	st := New("k", Correcting)
	st.LastEntityID = "exp-1"

	err := st.Transition(AwaitingConfirm)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got: %v", err)
	}
	if st.State != Correcting || st.LastEntityID != "exp-1" {
		t.Fatalf("state changed on illegal transition: %+v", st)
	}
}

func TestTransition_BackToNormalClearsPayload(t *testing.T) {
	st := New("k", Normal)
	if err := st.Transition(AwaitingConfirm); err != nil {
		t.Fatal(err)
	}
	st.Pending = &PendingConfirmation{Intent: "delete_all"}
	if err := st.Transition(Normal); err != nil {
		t.Fatal(err)
	}
	if st.Pending != nil || st.LastEntityID != "" {
		t.Fatalf("expected cleared payload, got %+v", st)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Put(ctx, New("k", OnboardingAwaitingInvite)); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || got.State != OnboardingAwaitingInvite {
		t.Fatalf("expected stored state, got %+v err=%v", got, err)
	}

	now = now.Add(time.Hour)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got: %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	m := NewMemoryStore(0)
	ctx := context.Background()
	st := New("k", AwaitingConfirm)
	st.Pending = &PendingConfirmation{Intent: "x", Data: map[string]any{"a": 1}}
	_ = m.Put(ctx, st)

	got, _ := m.Get(ctx, "k")
	got.Pending.Data["a"] = 2
	got.State = Normal

	again, _ := m.Get(ctx, "k")
	if again.State != AwaitingConfirm || again.Pending.Data["a"] != 1 {
		t.Fatalf("store leaked a mutable reference: %+v", again)
	}
}

func TestLoad_MissingReturnsInitial(t *testing.T) {
	st, err := Load(context.Background(), NewMemoryStore(0), "k", Unregistered)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Unregistered || st.Key != "k" {
		t.Fatalf("unexpected initial state %+v", st)
	}
}

func TestTiered_SelectsByBinding(t *testing.T) {
	eph := NewMemoryStore(time.Hour)
	dur := NewMemoryStore(0)
	tiered := Tiered{Ephemeral: eph, Durable: dur}

	_ = tiered.Put(context.Background(), New("anon", OnboardingAwaitingChoice))
	ctx, scope := tenant.Bind(context.Background(), "fam-1")
	defer scope.Release()
	_ = tiered.Put(ctx, New("member", Normal))

	if eph.Len() != 1 || dur.Len() != 1 {
		t.Fatalf("expected one entry per tier, got eph=%d dur=%d", eph.Len(), dur.Len())
	}
	if _, err := dur.Get(ctx, "member"); err != nil {
		t.Fatalf("bound write should land in durable store: %v", err)
	}

	if err := tiered.Delete(ctx, "anon"); err != nil {
		t.Fatal(err)
	}
	if eph.Len() != 0 {
		t.Fatal("delete should clear the ephemeral tier too")
	}
}
