package tenant

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrUnresolved means the sender is not a member of any tenant yet.
// It is not a failure: the dispatcher routes such senders into onboarding.
var ErrUnresolved = errors.New("tenant: sender not resolved")

// Role is a member's role inside a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// MerchantMapping maps a merchant pattern to a category.
type MerchantMapping struct {
	Pattern  string
	Category string
}

// Profile is the activity profile a tenant chose during onboarding.
// It decides default categories, budget and the chat system prompt.
type Profile struct {
	Name          string
	Label         string
	Categories    []string
	MonthlyBudget float64
	SystemPrompt  string
}

// SessionFields is the input to NewSessionContext.
type SessionFields struct {
	TenantID   string
	UserID     string
	Role       Role
	Locale     string
	Currency   string
	Timezone   string
	Categories []string
	Merchants  []MerchantMapping
	Profile    Profile
}

// SessionContext is the per-message snapshot of who is talking. It is rebuilt
// from storage for every inbound message and has no setters; slice accessors
// return copies so handlers cannot alter the snapshot.
type SessionContext struct {
	tenantID   string
	userID     string
	role       Role
	locale     string
	currency   string
	timezone   string
	categories []string
	merchants  []MerchantMapping
	profile    Profile
}

// NewSessionContext builds an immutable snapshot from f. Slices are copied.
func NewSessionContext(f SessionFields) *SessionContext {
	p := f.Profile
	p.Categories = slices.Clone(p.Categories)
	return &SessionContext{
		tenantID:   f.TenantID,
		userID:     f.UserID,
		role:       f.Role,
		locale:     f.Locale,
		currency:   f.Currency,
		timezone:   f.Timezone,
		categories: slices.Clone(f.Categories),
		merchants:  slices.Clone(f.Merchants),
		profile:    p,
	}
}

func (s *SessionContext) TenantID() string { return s.tenantID }
func (s *SessionContext) UserID() string   { return s.userID }
func (s *SessionContext) Role() Role       { return s.role }
func (s *SessionContext) Locale() string   { return s.locale }
func (s *SessionContext) Currency() string { return s.currency }
func (s *SessionContext) Timezone() string { return s.timezone }

// Categories returns a copy of the tenant's category list.
func (s *SessionContext) Categories() []string { return slices.Clone(s.categories) }

// Merchants returns a copy of the tenant's merchant mappings.
func (s *SessionContext) Merchants() []MerchantMapping { return slices.Clone(s.merchants) }

// Profile returns a copy of the tenant's activity profile.
func (s *SessionContext) Profile() Profile {
	p := s.profile
	p.Categories = slices.Clone(p.Categories)
	return p
}

// HasCategory reports whether name is one of the tenant's categories.
func (s *SessionContext) HasCategory(name string) bool {
	return slices.Contains(s.categories, name)
}

// Location returns the tenant's time zone, falling back to UTC.
func (s *SessionContext) Location() *time.Location {
	if s.timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Resolver maps a channel sender to a session snapshot.
// Returns ErrUnresolved when the sender has no tenant.
type Resolver interface {
	Resolve(ctx context.Context, channel, senderID string) (*SessionContext, error)
}
