// Package cascade implements the entity-shape-aware bulk invalidation
// policies from spec §4.3, layered over cachestore.Store. Shaped after
// other_examples' ericfitz-tmi cache_invalidation.go CacheInvalidator,
// which dispatches per-entity-type cascades over a Redis-backed cache -
// adapted here to the settlement/structure/campaign/branch shapes spec
// §4.3 names instead of tmi's threat/document/source/cell shapes.
package cascade

import (
	"context"

	"github.com/jakekausler/campaign-manager/internal/cachekey"
	"github.com/jakekausler/campaign-manager/internal/cachestore"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// Result is the combined outcome of a cascade, per spec §4.3.
type Result struct {
	OK          bool
	KeysDeleted int
}

// Invalidator applies the cascade policies over a Store.
type Invalidator struct {
	store *cachestore.Store
}

func New(store *cachestore.Store) *Invalidator {
	return &Invalidator{store: store}
}

func (inv *Invalidator) del(ctx context.Context, key string) int {
	return inv.store.Del(ctx, key)
}

func (inv *Invalidator) delPattern(ctx context.Context, pattern string) (bool, int) {
	r := inv.store.DeletePattern(ctx, pattern)
	return r.OK, r.KeysDeleted
}

func (inv *Invalidator) log(name string, r Result) {
	logging.WithComponent("cascade").WithField("keysDeleted", r.KeysDeleted).
		Warnf("%s cascade invalidation (ok=%v)", name, r.OK)
}

// SettlementChanged invalidates every derived cache touched by a change to
// settlement S in branch B: its own computed fields, its structure list,
// *every* structure's computed fields in the branch (an intentional
// over-invalidation trade-off per spec §9 open question 1, to avoid a DB
// scan to find exactly S's structures), and the region's spatial cache.
func (inv *Invalidator) SettlementChanged(ctx context.Context, settlementID, branchID string) Result {
	total := 0
	total += inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: "settlement", EntityID: settlementID, BranchID: branchID}))
	total += inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "structures", EntityType: "settlement", EntityID: settlementID, BranchID: branchID}))

	ok := true
	if o, n := inv.delPattern(ctx, structureComputedPattern(branchID)); true {
		ok = ok && o
		total += n
	}
	if o, n := inv.delPattern(ctx, spatialSettlementsPattern(branchID)); true {
		ok = ok && o
		total += n
	}

	r := Result{OK: ok, KeysDeleted: total}
	inv.store.RecordCascadeInvalidation("computed-fields", total)
	inv.log("settlement", r)
	return r
}

// StructureChanged invalidates caches for a structure change: the
// structure's own computed fields, its owning settlement's computed
// fields, and that settlement's structure list. Spatial caches are left
// untouched, per spec §4.3.
func (inv *Invalidator) StructureChanged(ctx context.Context, structureID, settlementID, branchID string) Result {
	total := 0
	total += inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: "structure", EntityID: structureID, BranchID: branchID}))
	total += inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: "settlement", EntityID: settlementID, BranchID: branchID}))
	total += inv.del(ctx, cachekey.Build(cachekey.Params{Prefix: "structures", EntityType: "settlement", EntityID: settlementID, BranchID: branchID}))

	r := Result{OK: true, KeysDeleted: total}
	inv.store.RecordCascadeInvalidation("computed-fields", total)
	inv.log("structure", r)
	return r
}

// ComputedFieldDefinitionsChanged invalidates every computed-field cache
// (settlement and structure) in the branch, triggered when the *definition*
// of a computed field changes rather than any one entity (spec §4.3).
func (inv *Invalidator) ComputedFieldDefinitionsChanged(ctx context.Context, branchID string) Result {
	ok1, n1 := inv.delPattern(ctx, cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: "settlement", EntityID: "*", BranchID: branchID}))
	ok2, n2 := inv.delPattern(ctx, structureComputedPattern(branchID))

	r := Result{OK: ok1 && ok2, KeysDeleted: n1 + n2}
	inv.store.RecordCascadeInvalidation("computed-fields", r.KeysDeleted)
	inv.log("computed-field-definitions", r)
	return r
}

// BranchDeleted invalidates every cache entry for a branch, regardless of
// prefix or entity type, on administrative branch deletion (spec §4.3).
func (inv *Invalidator) BranchDeleted(ctx context.Context, branchID string) Result {
	ok, n := inv.delPattern(ctx, cachekey.BranchPattern(branchID))
	r := Result{OK: ok, KeysDeleted: n}
	inv.store.RecordCascadeInvalidation("branch", n)
	inv.log("branch-deleted", r)
	return r
}

func structureComputedPattern(branchID string) string {
	return cachekey.Build(cachekey.Params{Prefix: "computed-fields", EntityType: "structure", EntityID: "*", BranchID: branchID})
}

func spatialSettlementsPattern(branchID string) string {
	return "spatial:settlements-in-region:*:" + branchID
}
