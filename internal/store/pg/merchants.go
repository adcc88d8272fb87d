package pg

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// PGMerchantStore keeps learned merchant -> category mappings.
type PGMerchantStore struct {
	db *sql.DB
}

func NewPGMerchantStore(db *sql.DB) *PGMerchantStore {
	return &PGMerchantStore{db: db}
}

func (s *PGMerchantStore) List(ctx context.Context) ([]tenant.MerchantMapping, error) {
	var out []tenant.MerchantMapping
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT pattern, category FROM merchant_mappings WHERE tenant_id = $1 ORDER BY created_at, pattern`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m tenant.MerchantMapping
			if err := rows.Scan(&m.Pattern, &m.Category); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PGMerchantStore) Upsert(ctx context.Context, pattern, category string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil
	}
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO merchant_mappings (tenant_id, pattern, category, created_at) VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (tenant_id, pattern) DO UPDATE SET category = EXCLUDED.category`,
			tenantID, pattern, category)
		return err
	})
}
