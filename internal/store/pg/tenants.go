package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// PGTenantStore implements store.TenantStore backed by Postgres.
type PGTenantStore struct {
	db *sql.DB
}

func NewPGTenantStore(db *sql.DB) *PGTenantStore {
	return &PGTenantStore{db: db}
}

const tenantSelectCols = `t.id, t.name, t.profile, t.currency, t.locale, t.timezone, t.categories, t.monthly_budget, t.invite_code, t.created_at`

func scanTenant(row interface{ Scan(...any) error }, t *store.Tenant) error {
	return row.Scan(&t.ID, &t.Name, &t.Profile, &t.Currency, &t.Locale, &t.Timezone,
		pq.Array(&t.Categories), &t.MonthlyBudget, &t.InviteCode, &t.CreatedAt)
}

func (s *PGTenantStore) LookupMember(ctx context.Context, channel, senderID string) (*store.Member, *store.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.user_id, m.role, m.display_name, m.joined_at, `+tenantSelectCols+`
		 FROM members m JOIN tenants t ON t.id = m.tenant_id
		 WHERE m.channel = $1 AND m.sender_id = $2`, channel, senderID)

	m := &store.Member{Channel: channel, SenderID: senderID}
	t := &store.Tenant{}
	var role string
	err := row.Scan(&m.UserID, &role, &m.DisplayName, &m.JoinedAt,
		&t.ID, &t.Name, &t.Profile, &t.Currency, &t.Locale, &t.Timezone,
		pq.Array(&t.Categories), &t.MonthlyBudget, &t.InviteCode, &t.CreatedAt)
	if err != nil {
		return nil, nil, notFound(err)
	}
	m.TenantID = t.ID
	m.Role = tenant.Role(role)
	return m, t, nil
}

func (s *PGTenantStore) CreateTenant(ctx context.Context, t *store.Tenant, owner *store.Member) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.InviteCode == "" {
		t.InviteCode = store.NewInviteCode()
	}
	t.InviteCode = strings.ToUpper(t.InviteCode)
	now := time.Now().UTC()
	t.CreatedAt = now

	owner.TenantID = t.ID
	owner.Role = tenant.RoleOwner
	if owner.UserID == "" {
		owner.UserID = uuid.NewString()
	}
	owner.JoinedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (id, name, profile, currency, locale, timezone, categories, monthly_budget, invite_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.Profile, t.Currency, t.Locale, t.Timezone,
		pq.Array(t.Categories), t.MonthlyBudget, t.InviteCode, now,
	); err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if err := insertMember(ctx, tx, owner); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGTenantStore) JoinByInvite(ctx context.Context, code string, m *store.Member) (*store.Tenant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < store.MinInviteCodeLen {
		return nil, store.ErrInvalidInvite
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t := &store.Tenant{}
	row := tx.QueryRowContext(ctx, `SELECT `+tenantSelectCols+` FROM tenants t WHERE t.invite_code = $1`, code)
	if err := scanTenant(row, t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrInvalidInvite
		}
		return nil, err
	}

	m.TenantID = t.ID
	m.Role = tenant.RoleMember
	if m.UserID == "" {
		m.UserID = uuid.NewString()
	}
	m.JoinedAt = time.Now().UTC()
	if err := insertMember(ctx, tx, m); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func insertMember(ctx context.Context, tx *sql.Tx, m *store.Member) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO members (tenant_id, user_id, channel, sender_id, role, display_name, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (channel, sender_id) DO UPDATE
		 SET tenant_id = EXCLUDED.tenant_id, user_id = EXCLUDED.user_id, role = EXCLUDED.role,
		     display_name = EXCLUDED.display_name, joined_at = EXCLUDED.joined_at`,
		m.TenantID, m.UserID, m.Channel, m.SenderID, string(m.Role), m.DisplayName, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PGTenantStore) Current(ctx context.Context) (*store.Tenant, error) {
	var t store.Tenant
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		row := tx.QueryRowContext(ctx, `SELECT `+tenantSelectCols+` FROM tenants t WHERE t.id = $1`, tenantID)
		return notFound(scanTenant(row, &t))
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// tenantTables are purged by Purge, children first.
var tenantTables = []string{"pending_actions", "history_turns", "conversation_summaries", "merchant_mappings", "expenses"}

func (s *PGTenantStore) Purge(ctx context.Context) error {
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		for _, table := range tenantTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id = $1`, tenantID); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
		return nil
	})
}
