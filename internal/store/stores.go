// Package store defines the persistence contracts. Methods documented as
// tenant-scoped read the tenant from tenant.Require(ctx) and fail with
// tenant.ErrUnbound when called outside a binding.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/clarify"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrInvalidInvite = errors.New("store: invalid invite code")
)

// MinInviteCodeLen is the shortest invite code worth looking up.
const MinInviteCodeLen = 4

// Tenant is a family account.
type Tenant struct {
	ID            string
	Name          string
	Profile       string
	Currency      string
	Locale        string
	Timezone      string
	Categories    []string
	MonthlyBudget float64
	InviteCode    string
	CreatedAt     time.Time
}

// Member links a channel sender to a tenant.
type Member struct {
	TenantID    string
	UserID      string
	Channel     string
	SenderID    string
	Role        tenant.Role
	DisplayName string
	JoinedAt    time.Time
}

// Turn is one line of conversation history.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// Expense is a recorded spend.
type Expense struct {
	ID          string
	TenantID    string
	UserID      string
	Amount      float64
	Currency    string
	Category    string
	Description string
	Source      string // "text", "voice", "receipt"
	SpentAt     time.Time
	CreatedAt   time.Time
}

// CategoryTotal is a per-category sum.
type CategoryTotal struct {
	Category string
	Total    float64
	Count    int
}

// MonthTotal is the sum for one calendar month (Month is the first day).
type MonthTotal struct {
	Month time.Time
	Total float64
}

// PendingAction is a destructive action waiting for confirm_action/cancel_action.
type PendingAction struct {
	ID        string
	SenderKey string
	Intent    string
	Data      map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TenantStore manages families and their members.
type TenantStore interface {
	// LookupMember finds the member and tenant for a channel sender. Unscoped.
	LookupMember(ctx context.Context, channel, senderID string) (*Member, *Tenant, error)
	// CreateTenant creates t with owner as its first member. Unscoped.
	CreateTenant(ctx context.Context, t *Tenant, owner *Member) error
	// JoinByInvite adds m to the tenant owning code. Unscoped.
	JoinByInvite(ctx context.Context, code string, m *Member) (*Tenant, error)
	// Current returns the bound tenant. Tenant-scoped.
	Current(ctx context.Context) (*Tenant, error)
	// Purge deletes every expense, merchant mapping, history turn and pending
	// action of the bound tenant. Tenant-scoped.
	Purge(ctx context.Context) error
}

// HistoryStore keeps conversation turns and the running summary. Tenant-scoped.
type HistoryStore interface {
	Append(ctx context.Context, key string, turns ...Turn) error
	Recent(ctx context.Context, key string, n int) ([]Turn, error)
	Count(ctx context.Context, key string) (int, error)
	Summary(ctx context.Context, key string) (string, error)
	SetSummary(ctx context.Context, key, summary string) error
}

// ExpenseStore records spending. Tenant-scoped.
type ExpenseStore interface {
	Add(ctx context.Context, e *Expense) error
	Get(ctx context.Context, id string) (*Expense, error)
	UpdateCategory(ctx context.Context, id, category string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, from, to time.Time) ([]Expense, error)
	TotalsByCategory(ctx context.Context, from, to time.Time) ([]CategoryTotal, error)
	MonthlyTotals(ctx context.Context, from, to time.Time) ([]MonthTotal, error)
}

// MerchantStore keeps learned merchant -> category mappings. Tenant-scoped.
type MerchantStore interface {
	List(ctx context.Context) ([]tenant.MerchantMapping, error)
	Upsert(ctx context.Context, pattern, category string) error
}

// PendingActionStore holds actions awaiting explicit confirmation. Tenant-scoped.
type PendingActionStore interface {
	Create(ctx context.Context, a *PendingAction) error
	// Take removes and returns the action; ErrNotFound when absent or expired.
	Take(ctx context.Context, id string) (*PendingAction, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Tenants   TenantStore
	State     convstate.Store // durable, registered senders
	Clarify   clarify.Store
	History   HistoryStore
	Expenses  ExpenseStore
	Merchants MerchantStore
	Pending   PendingActionStore

	// Close releases backend resources. Nil for in-memory stores.
	Close func() error
}
