package clarify

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type memEntry struct {
	p         *Pending
	expiresAt time.Time
}

// MemoryStore keeps pending clarifications in process.
type MemoryStore struct {
	now func() time.Time

	mu       sync.Mutex
	byToken  map[string]memEntry
	bySender map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		byToken:  make(map[string]memEntry),
		bySender: make(map[string]string),
	}
}

func clonePending(p *Pending) *Pending {
	cp := *p
	cp.Candidates = slices.Clone(p.Candidates)
	cp.Data = maps.Clone(p.Data)
	return &cp
}

func (m *MemoryStore) Save(_ context.Context, p *Pending, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.bySender[p.SenderKey]; ok {
		delete(m.byToken, old)
	}
	m.byToken[p.Token] = memEntry{p: clonePending(p), expiresAt: expiresAt}
	m.bySender[p.SenderKey] = p.Token
	m.pruneLocked()
	return nil
}

func (m *MemoryStore) Take(_ context.Context, senderKey, token string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		token = m.bySender[senderKey]
	}
	e, ok := m.byToken[token]
	if !ok || e.p.SenderKey != senderKey {
		return nil, ErrExpired
	}
	delete(m.byToken, token)
	if m.bySender[senderKey] == token {
		delete(m.bySender, senderKey)
	}
	if !m.now().Before(e.expiresAt) {
		return nil, ErrExpired
	}
	return e.p, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}

func (m *MemoryStore) pruneLocked() {
	now := m.now()
	for tok, e := range m.byToken {
		if !now.Before(e.expiresAt) {
			delete(m.byToken, tok)
			if m.bySender[e.p.SenderKey] == tok {
				delete(m.bySender, e.p.SenderKey)
			}
		}
	}
}
