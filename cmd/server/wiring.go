package main

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jakekausler/campaign-manager/internal/branch"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/collaborators"
	"github.com/jakekausler/campaign-manager/internal/effect"
	"github.com/jakekausler/campaign-manager/internal/fork"
	"github.com/jakekausler/campaign-manager/internal/merge"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
	"github.com/jakekausler/campaign-manager/internal/resolver"
	"github.com/jakekausler/campaign-manager/internal/version"
)

// engines bundles one consistent set of core engines, all built against
// the same pgtx.DBTX. Read-only routes use the pool-wide instance built at
// startup; mutating routes rebuild this bundle against one serializable
// transaction so a fork/merge/resolve's reads and writes commit atomically
// (version.Store's CreateVersion doc comment; fork's package doc).
type engines struct {
	versions *version.Store
	branches *branch.Tree
	merges   *merge.Engine
	effects  *effect.Engine
}

// buildEngines wires every core package against db, following the
// dependency order version -> branch -> resolver -> fork -> merge ->
// effect established in cmd/server's startup wiring. None of these engines
// hold a *pubsub.Publisher: spec §5(c) requires publishes to happen
// strictly after the owning transaction commits, which no engine called
// from inside withTx can observe, so publishing is withTx's caller's job
// (handlers.go, after withTx returns successfully) - see server.withTx.
func buildEngines(db pgtx.DBTX, invalidator *cascade.Invalidator, dispatcher *cascade.Dispatcher, membership collaborators.MembershipChecker) *engines {
	branchRepo := branch.NewPGRepository(db)
	versionRepo := version.NewPGRepository(db)

	versionStore := version.New(versionRepo, branchRepo, dispatcher)
	branchTree := branch.New(branchRepo, versionRepo, invalidator, nil)

	res := resolver.New(branchRepo, versionRepo)

	forkEngine := fork.New(branchRepo, branchTree, versionRepo, res, versionRepo, dispatcher)
	branchTree.SetForkEngine(forkEngine)

	mergeRepo := merge.NewPGRepository(db)
	mergeEngine := merge.New(branchTree, versionRepo, res, versionStore, versionStore, mergeRepo, nil)

	effectRepo := effect.NewPGRepository(db)
	effectEngine := effect.New(membership, res, versionStore, effectRepo, effectRepo, effect.DefaultPathPolicy())

	return &engines{versions: versionStore, branches: branchTree, merges: mergeEngine, effects: effectEngine}
}

// withTx runs fn against an engines bundle bound to one serializable
// transaction, per spec §6's isolation requirement for fork/merge/create.
// Callers publish pub/sub notifications themselves only after withTx
// returns a nil error, so a rolled-back transaction never emits one.
func (s *server) withTx(ctx context.Context, fn func(ctx context.Context, e *engines) error) error {
	return s.pool.WithSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, buildEngines(tx, s.invalidator, s.dispatcher, s.membership))
	})
}
