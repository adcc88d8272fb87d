package skills

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// DeleteAll wipes the family's data. The first call only asks for confirmation;
// the purge runs when the request comes back confirmed.
type DeleteAll struct {
	deps Deps
}

func (d *DeleteAll) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if req.Session.Role() != tenant.RoleOwner {
		return &capability.Result{Text: "Only the family owner can delete all data."}, nil
	}
	if !req.Confirmed {
		return &capability.Result{Confirm: &capability.Confirmation{
			Prompt: "This deletes every expense, learned merchant and conversation of your family. It cannot be undone. Continue?",
		}}, nil
	}

	if err := d.deps.Stores.Tenants.Purge(ctx); err != nil {
		return nil, fmt.Errorf("purge tenant: %w", err)
	}
	slog.Info("tenant data purged", "tenant_id", req.Session.TenantID(), "user_id", req.Session.UserID())
	return &capability.Result{Text: "All data deleted ✓", RemoveKeyboard: true}, nil
}
