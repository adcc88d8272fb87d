package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/famledger/internal/store"
)

// PGPendingActionStore holds actions waiting for confirm_action.
type PGPendingActionStore struct {
	db *sql.DB
}

func NewPGPendingActionStore(db *sql.DB) *PGPendingActionStore {
	return &PGPendingActionStore{db: db}
}

func (s *PGPendingActionStore) Create(ctx context.Context, a *store.PendingAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(a.Data)
	if err != nil {
		return err
	}
	var expires any
	if !a.ExpiresAt.IsZero() {
		expires = a.ExpiresAt
	}
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pending_actions (id, tenant_id, sender_key, intent, data, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, tenantID, a.SenderKey, a.Intent, data, a.CreatedAt, expires)
		return err
	})
}

// Take deletes and returns the action; expired rows are deleted too but
// reported as store.ErrNotFound.
func (s *PGPendingActionStore) Take(ctx context.Context, id string) (*store.PendingAction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	a := &store.PendingAction{ID: id}
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		var data []byte
		var expires sql.NullTime
		err := tx.QueryRowContext(ctx,
			`DELETE FROM pending_actions WHERE tenant_id = $1 AND id = $2
			 RETURNING sender_key, intent, data, created_at, expires_at`, tenantID, id,
		).Scan(&a.SenderKey, &a.Intent, &data, &a.CreatedAt, &expires)
		if err != nil {
			return notFound(err)
		}
		if expires.Valid {
			a.ExpiresAt = expires.Time
		}
		if len(data) > 0 {
			return json.Unmarshal(data, &a.Data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !a.ExpiresAt.IsZero() && !time.Now().Before(a.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return a, nil
}
