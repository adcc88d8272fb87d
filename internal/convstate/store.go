package convstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// Store persists conversation state keyed by sender key.
type Store interface {
	Get(ctx context.Context, key string) (*ConversationState, error)
	Put(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, key string) error
}

// Load returns the stored state for key, or a fresh one in the initial state when none exists.
func Load(ctx context.Context, s Store, key string, initial State) (*ConversationState, error) {
	st, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return New(key, initial), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

type memoryEntry struct {
	state   *ConversationState
	expires time.Time // zero = never
}

// MemoryStore is an in-process Store. With a positive TTL it is the
// ephemeral store for unregistered senders; with zero TTL it never expires.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates a store whose entries expire ttl after their last Put.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	return e.state.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, st *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cp := st.Clone()
	cp.UpdatedAt = now
	e := memoryEntry{state: cp}
	if m.ttl > 0 {
		e.expires = now.Add(m.ttl)
	}
	m.entries[st.Key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Tiered routes to the durable store when a tenant is bound to ctx and to the
// ephemeral store otherwise.
type Tiered struct {
	Ephemeral Store
	Durable   Store
}

func (t Tiered) pick(ctx context.Context) Store {
	if _, ok := tenant.FromContext(ctx); ok {
		return t.Durable
	}
	return t.Ephemeral
}

func (t Tiered) Get(ctx context.Context, key string) (*ConversationState, error) {
	return t.pick(ctx).Get(ctx, key)
}

func (t Tiered) Put(ctx context.Context, st *ConversationState) error {
	return t.pick(ctx).Put(ctx, st)
}

// Delete removes key from both tiers so a sender that just registered
// leaves no stale onboarding state behind.
func (t Tiered) Delete(ctx context.Context, key string) error {
	if err := t.Ephemeral.Delete(ctx, key); err != nil {
		return err
	}
	if _, ok := tenant.FromContext(ctx); ok {
		return t.Durable.Delete(ctx, key)
	}
	return nil
}
