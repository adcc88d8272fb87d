package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// SessionResolver builds a fresh tenant.SessionContext from storage for every
// message. Nothing is cached.
type SessionResolver struct {
	tenants   TenantStore
	merchants MerchantStore
	profiles  map[string]tenant.Profile
}

// NewSessionResolver creates a resolver. profiles supplies the system prompt
// and labels of each activity profile.
func NewSessionResolver(tenants TenantStore, merchants MerchantStore, profiles map[string]tenant.Profile) *SessionResolver {
	return &SessionResolver{tenants: tenants, merchants: merchants, profiles: profiles}
}

func (r *SessionResolver) Resolve(ctx context.Context, channel, senderID string) (*tenant.SessionContext, error) {
	m, t, err := r.tenants.LookupMember(ctx, channel, senderID)
	if errors.Is(err, ErrNotFound) {
		return nil, tenant.ErrUnresolved
	}
	if err != nil {
		return nil, fmt.Errorf("lookup member: %w", err)
	}

	// Merchant mappings are tenant-scoped: bind just for this read.
	bctx, scope := tenant.Bind(ctx, t.ID)
	merchants, err := r.merchants.List(bctx)
	scope.Release()
	if err != nil {
		return nil, fmt.Errorf("load merchants: %w", err)
	}

	profile := r.profiles[t.Profile]
	if profile.Name == "" {
		profile.Name = t.Profile
	}
	profile.MonthlyBudget = t.MonthlyBudget

	return tenant.NewSessionContext(tenant.SessionFields{
		TenantID:   t.ID,
		UserID:     m.UserID,
		Role:       m.Role,
		Locale:     t.Locale,
		Currency:   t.Currency,
		Timezone:   t.Timezone,
		Categories: t.Categories,
		Merchants:  merchants,
		Profile:    profile,
	}), nil
}
