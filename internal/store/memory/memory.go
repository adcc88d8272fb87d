// Package memory implements the store contracts in process, for standalone
// mode and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/famledger/internal/clarify"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

type senderRef struct{ channel, senderID string }

type tenantData struct {
	expenses  map[string]*store.Expense
	merchants map[string]string // lower(pattern) -> category
	order     []string          // merchant insertion order
	history   map[string][]store.Turn
	summaries map[string]string
	pending   map[string]*store.PendingAction
	state     *convstate.MemoryStore
}

func newTenantData() *tenantData {
	return &tenantData{
		expenses:  make(map[string]*store.Expense),
		merchants: make(map[string]string),
		history:   make(map[string][]store.Turn),
		summaries: make(map[string]string),
		pending:   make(map[string]*store.PendingAction),
		state:     convstate.NewMemoryStore(0),
	}
}

// db is the shared backing for every in-memory store.
type db struct {
	mu      sync.RWMutex
	now     func() time.Time
	tenants map[string]*store.Tenant
	members map[senderRef]*store.Member
	invites map[string]string // upper(code) -> tenant id
	data    map[string]*tenantData
}

// scoped returns the bound tenant's data. Callers hold db.mu.
func (d *db) scoped(ctx context.Context) (*tenantData, error) {
	id, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	td, ok := d.data[id]
	if !ok {
		td = newTenantData()
		d.data[id] = td
	}
	return td, nil
}

// New returns in-memory stores sharing one backing map.
func New() *store.Stores {
	d := &db{
		now:     time.Now,
		tenants: make(map[string]*store.Tenant),
		members: make(map[senderRef]*store.Member),
		invites: make(map[string]string),
		data:    make(map[string]*tenantData),
	}
	return &store.Stores{
		Tenants:   &TenantStore{d},
		State:     &StateStore{d},
		Clarify:   clarify.NewMemoryStore(),
		History:   &HistoryStore{d},
		Expenses:  &ExpenseStore{d},
		Merchants: &MerchantStore{d},
		Pending:   &PendingStore{d},
	}
}

// ---- tenants ----

type TenantStore struct{ d *db }

func cloneTenant(t *store.Tenant) *store.Tenant {
	cp := *t
	cp.Categories = slices.Clone(t.Categories)
	return &cp
}

func (s *TenantStore) LookupMember(_ context.Context, channel, senderID string) (*store.Member, *store.Tenant, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	m, ok := s.d.members[senderRef{channel, senderID}]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	t, ok := s.d.tenants[m.TenantID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	mc := *m
	return &mc, cloneTenant(t), nil
}

func (s *TenantStore) CreateTenant(_ context.Context, t *store.Tenant, owner *store.Member) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.InviteCode == "" {
		t.InviteCode = store.NewInviteCode()
	}
	t.CreatedAt = s.d.now()
	s.d.tenants[t.ID] = cloneTenant(t)
	s.d.invites[strings.ToUpper(t.InviteCode)] = t.ID
	s.d.data[t.ID] = newTenantData()

	owner.TenantID = t.ID
	owner.Role = tenant.RoleOwner
	if owner.UserID == "" {
		owner.UserID = uuid.NewString()
	}
	owner.JoinedAt = t.CreatedAt
	m := *owner
	s.d.members[senderRef{owner.Channel, owner.SenderID}] = &m
	return nil
}

func (s *TenantStore) JoinByInvite(_ context.Context, code string, m *store.Member) (*store.Tenant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < store.MinInviteCodeLen {
		return nil, store.ErrInvalidInvite
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	id, ok := s.d.invites[code]
	if !ok {
		return nil, store.ErrInvalidInvite
	}
	t := s.d.tenants[id]
	m.TenantID = id
	m.Role = tenant.RoleMember
	if m.UserID == "" {
		m.UserID = uuid.NewString()
	}
	m.JoinedAt = s.d.now()
	mc := *m
	s.d.members[senderRef{m.Channel, m.SenderID}] = &mc
	return cloneTenant(t), nil
}

func (s *TenantStore) Current(ctx context.Context) (*store.Tenant, error) {
	id, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	t, ok := s.d.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (s *TenantStore) Purge(ctx context.Context) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	state := td.state
	*td = *newTenantData()
	td.state = state
	return nil
}

// ---- conversation state (durable tier) ----

type StateStore struct{ d *db }

func (s *StateStore) store(ctx context.Context) (*convstate.MemoryStore, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	return td.state, nil
}

func (s *StateStore) Get(ctx context.Context, key string) (*convstate.ConversationState, error) {
	st, err := s.store(ctx)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, key)
}

func (s *StateStore) Put(ctx context.Context, cs *convstate.ConversationState) error {
	st, err := s.store(ctx)
	if err != nil {
		return err
	}
	return st.Put(ctx, cs)
}

func (s *StateStore) Delete(ctx context.Context, key string) error {
	st, err := s.store(ctx)
	if err != nil {
		return err
	}
	return st.Delete(ctx, key)
}

// ---- history ----

type HistoryStore struct{ d *db }

// maxTurns bounds the per-key history kept in memory.
const maxTurns = 200

func (s *HistoryStore) Append(ctx context.Context, key string, turns ...store.Turn) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	h := append(td.history[key], turns...)
	if len(h) > maxTurns {
		h = h[len(h)-maxTurns:]
	}
	td.history[key] = h
	return nil
}

func (s *HistoryStore) Recent(ctx context.Context, key string, n int) ([]store.Turn, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	h := td.history[key]
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return slices.Clone(h), nil
}

func (s *HistoryStore) Count(ctx context.Context, key string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return 0, err
	}
	return len(td.history[key]), nil
}

func (s *HistoryStore) Summary(ctx context.Context, key string) (string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return "", err
	}
	return td.summaries[key], nil
}

func (s *HistoryStore) SetSummary(ctx context.Context, key, summary string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	td.summaries[key] = summary
	return nil
}

// ---- expenses ----

type ExpenseStore struct{ d *db }

func (s *ExpenseStore) Add(ctx context.Context, e *store.Expense) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.TenantID, _ = tenant.FromContext(ctx)
	e.CreatedAt = s.d.now()
	if e.SpentAt.IsZero() {
		e.SpentAt = e.CreatedAt
	}
	cp := *e
	td.expenses[e.ID] = &cp
	return nil
}

func (s *ExpenseStore) Get(ctx context.Context, id string) (*store.Expense, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := td.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *ExpenseStore) UpdateCategory(ctx context.Context, id, category string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	e, ok := td.expenses[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Category = category
	return nil
}

func (s *ExpenseStore) Delete(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	if _, ok := td.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(td.expenses, id)
	return nil
}

func (s *ExpenseStore) list(td *tenantData, from, to time.Time) []store.Expense {
	var out []store.Expense
	for _, e := range td.expenses {
		if !e.SpentAt.Before(from) && e.SpentAt.Before(to) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpentAt.Before(out[j].SpentAt) })
	return out
}

func (s *ExpenseStore) List(ctx context.Context, from, to time.Time) ([]store.Expense, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	return s.list(td, from, to), nil
}

func (s *ExpenseStore) TotalsByCategory(ctx context.Context, from, to time.Time) ([]store.CategoryTotal, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]*store.CategoryTotal)
	for _, e := range s.list(td, from, to) {
		cat := e.Category
		if cat == "" {
			cat = "other"
		}
		ct, ok := sums[cat]
		if !ok {
			ct = &store.CategoryTotal{Category: cat}
			sums[cat] = ct
		}
		ct.Total += e.Amount
		ct.Count++
	}
	out := make([]store.CategoryTotal, 0, len(sums))
	for _, ct := range sums {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (s *ExpenseStore) MonthlyTotals(ctx context.Context, from, to time.Time) ([]store.MonthTotal, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[time.Time]float64)
	for _, e := range s.list(td, from, to) {
		m := time.Date(e.SpentAt.Year(), e.SpentAt.Month(), 1, 0, 0, 0, 0, e.SpentAt.Location())
		sums[m] += e.Amount
	}
	out := make([]store.MonthTotal, 0, len(sums))
	for m, total := range sums {
		out = append(out, store.MonthTotal{Month: m, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// ---- merchants ----

type MerchantStore struct{ d *db }

func (s *MerchantStore) List(ctx context.Context) ([]tenant.MerchantMapping, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tenant.MerchantMapping, 0, len(td.order))
	for _, p := range td.order {
		out = append(out, tenant.MerchantMapping{Pattern: p, Category: td.merchants[p]})
	}
	return out, nil
}

func (s *MerchantStore) Upsert(ctx context.Context, pattern, category string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	if _, ok := td.merchants[pattern]; !ok {
		td.order = append(td.order, pattern)
	}
	td.merchants[pattern] = category
	return nil
}

// ---- pending actions ----

type PendingStore struct{ d *db }

func (s *PendingStore) Create(ctx context.Context, a *store.PendingAction) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.d.now()
	cp := *a
	cp.Data = maps.Clone(a.Data)
	td.pending[a.ID] = &cp
	return nil
}

func (s *PendingStore) Take(ctx context.Context, id string) (*store.PendingAction, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	td, err := s.d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := td.pending[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(td.pending, id)
	if !a.ExpiresAt.IsZero() && !s.d.now().Before(a.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return a, nil
}
