package cascade

import (
	"context"

	"github.com/jakekausler/campaign-manager/internal/cachekey"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// ShellLookup resolves the external relational fact a structure's cascade
// needs: its owning settlement. Structures are shells (spec §3) stored
// outside the Version Store, so this is a narrow seam rather than a direct
// database dependency inside the cache package.
type ShellLookup interface {
	SettlementForStructure(ctx context.Context, structureID string) (string, error)
}

// Dispatcher adapts Invalidator's type-specific cascade methods to the
// single generic Invalidate(entityType, entityId, branchId) signature the
// Version Store (C4) calls after every committed write (spec §4.4(d)).
// Settlement and structure changes route to their dedicated cascades;
// every other entity type falls back to invalidating its own computed-field
// cache entry, since spec §4.3 only names bespoke cascades for those two
// shapes.
type Dispatcher struct {
	inv    *Invalidator
	shells ShellLookup
}

func NewDispatcher(inv *Invalidator, shells ShellLookup) *Dispatcher {
	return &Dispatcher{inv: inv, shells: shells}
}

func (d *Dispatcher) Invalidate(ctx context.Context, entityType domain.EntityType, entityID, branchID string) Result {
	switch entityType {
	case domain.EntitySettlement:
		return d.inv.SettlementChanged(ctx, entityID, branchID)
	case domain.EntityStructure:
		settlementID, err := d.shells.SettlementForStructure(ctx, entityID)
		if err != nil {
			logging.WithComponent("cascade").WithError(err).
				Warn("could not resolve owning settlement, falling back to generic invalidation")
			return d.generic(ctx, "structure", entityID, branchID)
		}
		return d.inv.StructureChanged(ctx, entityID, settlementID, branchID)
	default:
		return d.generic(ctx, string(entityType), entityID, branchID)
	}
}

func (d *Dispatcher) generic(ctx context.Context, keyType, entityID, branchID string) Result {
	n := d.inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: keyType, EntityID: entityID, BranchID: branchID}))
	r := Result{OK: true, KeysDeleted: n}
	d.inv.store.RecordCascadeInvalidation("computed-fields", n)
	d.inv.log(keyType, r)
	return r
}
