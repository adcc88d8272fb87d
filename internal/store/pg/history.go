package pg

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/store"
)

// PGHistoryStore keeps conversation turns and the running summary.
type PGHistoryStore struct {
	db *sql.DB
}

func NewPGHistoryStore(db *sql.DB) *PGHistoryStore {
	return &PGHistoryStore{db: db}
}

func (s *PGHistoryStore) Append(ctx context.Context, key string, turns ...store.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO history_turns (tenant_id, key, role, text, created_at) VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range turns {
			at := t.At
			if at.IsZero() {
				at = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx, tenantID, key, t.Role, t.Text, at); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns the last n turns, oldest first.
func (s *PGHistoryStore) Recent(ctx context.Context, key string, n int) ([]store.Turn, error) {
	var out []store.Turn
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT role, text, created_at FROM history_turns
			 WHERE tenant_id = $1 AND key = $2
			 ORDER BY id DESC LIMIT $3`, tenantID, key, n)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t store.Turn
			if err := rows.Scan(&t.Role, &t.Text, &t.At); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *PGHistoryStore) Count(ctx context.Context, key string) (int, error) {
	var n int
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM history_turns WHERE tenant_id = $1 AND key = $2`, tenantID, key).Scan(&n)
	})
	return n, err
}

func (s *PGHistoryStore) Summary(ctx context.Context, key string) (string, error) {
	var summary string
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		return tx.QueryRowContext(ctx,
			`SELECT summary FROM conversation_summaries WHERE tenant_id = $1 AND key = $2`, tenantID, key).Scan(&summary)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return summary, err
}

func (s *PGHistoryStore) SetSummary(ctx context.Context, key, summary string) error {
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_summaries (tenant_id, key, summary, updated_at) VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (tenant_id, key) DO UPDATE SET summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`,
			tenantID, key, summary)
		return err
	})
}
