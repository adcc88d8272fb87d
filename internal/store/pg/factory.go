package pg

import (
	"database/sql"

	"github.com/nextlevelbuilder/famledger/internal/store"
)

// NewStores creates all stores on an open pool. Close closes db.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Tenants:   NewPGTenantStore(db),
		State:     NewPGStateStore(db),
		Clarify:   NewPGClarifyStore(db),
		History:   NewPGHistoryStore(db),
		Expenses:  NewPGExpenseStore(db),
		Merchants: NewPGMerchantStore(db),
		Pending:   NewPGPendingActionStore(db),
		Close:     db.Close,
	}
}
