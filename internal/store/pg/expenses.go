package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/famledger/internal/store"
)

// PGExpenseStore implements store.ExpenseStore backed by Postgres.
type PGExpenseStore struct {
	db *sql.DB
}

func NewPGExpenseStore(db *sql.DB) *PGExpenseStore {
	return &PGExpenseStore{db: db}
}

const expenseSelectCols = `id, tenant_id, user_id, amount, currency, category, description, source, spent_at, created_at`

func scanExpense(row interface{ Scan(...any) error }, e *store.Expense) error {
	return row.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Amount, &e.Currency, &e.Category,
		&e.Description, &e.Source, &e.SpentAt, &e.CreatedAt)
}

func (s *PGExpenseStore) Add(ctx context.Context, e *store.Expense) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.SpentAt.IsZero() {
		e.SpentAt = now
	}
	e.CreatedAt = now
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		e.TenantID = tenantID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (`+expenseSelectCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, tenantID, e.UserID, e.Amount, e.Currency, e.Category,
			e.Description, e.Source, e.SpentAt, e.CreatedAt,
		)
		return err
	})
}

func (s *PGExpenseStore) Get(ctx context.Context, id string) (*store.Expense, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	var e store.Expense
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+expenseSelectCols+` FROM expenses WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		return notFound(scanExpense(row, &e))
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGExpenseStore) UpdateCategory(ctx context.Context, id, category string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		return affectedOrNotFound(tx.ExecContext(ctx,
			`UPDATE expenses SET category = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, category))
	})
}

func (s *PGExpenseStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		return affectedOrNotFound(tx.ExecContext(ctx,
			`DELETE FROM expenses WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	})
}

func (s *PGExpenseStore) List(ctx context.Context, from, to time.Time) ([]store.Expense, error) {
	var out []store.Expense
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+expenseSelectCols+` FROM expenses
			 WHERE tenant_id = $1 AND spent_at >= $2 AND spent_at < $3
			 ORDER BY spent_at`, tenantID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e store.Expense
			if err := scanExpense(rows, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PGExpenseStore) TotalsByCategory(ctx context.Context, from, to time.Time) ([]store.CategoryTotal, error) {
	var out []store.CategoryTotal
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT COALESCE(NULLIF(category, ''), 'other') AS cat, SUM(amount), COUNT(*)
			 FROM expenses
			 WHERE tenant_id = $1 AND spent_at >= $2 AND spent_at < $3
			 GROUP BY cat ORDER BY SUM(amount) DESC, cat`, tenantID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ct store.CategoryTotal
			if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
				return err
			}
			out = append(out, ct)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PGExpenseStore) MonthlyTotals(ctx context.Context, from, to time.Time) ([]store.MonthTotal, error) {
	var out []store.MonthTotal
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT date_trunc('month', spent_at AT TIME ZONE 'UTC') AS month, SUM(amount)
			 FROM expenses
			 WHERE tenant_id = $1 AND spent_at >= $2 AND spent_at < $3
			 GROUP BY month ORDER BY month`, tenantID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var mt store.MonthTotal
			if err := rows.Scan(&mt.Month, &mt.Total); err != nil {
				return err
			}
			out = append(out, mt)
		}
		return rows.Err()
	})
	return out, err
}
