// Package fork implements the Fork Engine (C7): snapshot-copy of every
// entity resolvable in a source branch at a given world-time into a new
// child branch (spec §4.7). The caller is expected to run Fork inside one
// pgtx.WithSerializableTx transaction, binding the branch/version
// repositories passed in to that transaction, so branch creation and every
// copied version commit atomically.
package fork

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/branch"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// BranchLookup resolves the source branch's campaign, so the child branch
// can be created in the same campaign.
type BranchLookup interface {
	Get(ctx context.Context, branchID string) (*domain.Branch, error)
}

// BranchCreator is the Branch Tree's branch-creation capability; matches
// branch.Tree.Create's signature.
type BranchCreator interface {
	Create(ctx context.Context, p branch.CreateParams, user string) (*domain.Branch, error)
}

// EntityEnumerator lists every (entityType, entityId) with a version on a
// branch at or before a world-time; matches version.PGRepository's
// EntitiesTouchedUpTo.
type EntityEnumerator interface {
	EntitiesTouchedUpTo(ctx context.Context, branchID string, t time.Time) ([]domain.EntityRef, error)
}

// Resolver resolves an entity's effective version on a branch at a
// world-time; matches resolver.Resolver.Resolve.
type Resolver interface {
	Resolve(ctx context.Context, entityType domain.EntityType, entityID, branchID string, worldTime time.Time) (*domain.Version, error)
}

// VersionInserter writes a raw version row. Fork writes directly via
// Insert rather than version.Store.CreateVersion, since a freshly created
// child branch has no prior open interval to close for any entity.
type VersionInserter interface {
	Insert(ctx context.Context, v *domain.Version) error
}

// Cascader invalidates caches for the newly written child-branch versions.
type Cascader interface {
	Invalidate(ctx context.Context, entityType domain.EntityType, entityID, branchID string) cascade.Result
}

// Engine implements fork. It does not publish branch.{id}.forked itself -
// spec §5(c) requires that publish to happen strictly after the owning
// transaction commits, so the caller (cmd/server) publishes once WithTx has
// actually committed.
type Engine struct {
	branches BranchLookup
	creator  BranchCreator
	entities EntityEnumerator
	resolver Resolver
	inserter VersionInserter
	cascader Cascader
}

func New(branches BranchLookup, creator BranchCreator, entities EntityEnumerator, resolver Resolver, inserter VersionInserter, cascader Cascader) *Engine {
	return &Engine{branches: branches, creator: creator, entities: entities, resolver: resolver, inserter: inserter, cascader: cascader}
}

// Fork implements spec §4.7's fork operation.
func (e *Engine) Fork(ctx context.Context, sourceBranchID, newName, description string, worldTime time.Time, user string) (*domain.Branch, int, error) {
	source, err := e.branches.Get(ctx, sourceBranchID)
	if err != nil {
		return nil, 0, apperrors.NotFoundErr("BranchUnknown", "source branch does not exist")
	}

	child, err := e.creator.Create(ctx, branch.CreateParams{
		CampaignID:  source.CampaignID,
		Name:        newName,
		Description: description,
		ParentID:    &sourceBranchID,
		DivergedAt:  &worldTime,
	}, user)
	if err != nil {
		return nil, 0, err
	}

	refs, err := e.entities.EntitiesTouchedUpTo(ctx, sourceBranchID, worldTime)
	if err != nil {
		return nil, 0, apperrors.TransientErr(err, "DB_ERROR", "failed to enumerate touched entities")
	}

	copied := 0
	for _, ref := range refs {
		resolved, err := e.resolver.Resolve(ctx, ref.EntityType, ref.EntityID, sourceBranchID, worldTime)
		if err != nil {
			return nil, 0, err
		}
		if resolved == nil {
			continue
		}

		v := &domain.Version{
			ID:              uuid.NewString(),
			EntityType:      ref.EntityType,
			EntityID:        ref.EntityID,
			BranchID:        child.ID,
			ValidFrom:       worldTime,
			Payload:         resolved.Payload,
			CreatedAt:       time.Now(),
			CreatedBy:       user,
			ParentVersionID: &resolved.ID,
		}
		if err := e.inserter.Insert(ctx, v); err != nil {
			return nil, 0, apperrors.TransientErr(err, "DB_ERROR", "failed to write forked version")
		}
		if e.cascader != nil {
			e.cascader.Invalidate(ctx, ref.EntityType, ref.EntityID, child.ID)
		}
		copied++
	}

	logging.WithComponent("fork").WithField("sourceBranchId", sourceBranchID).WithField("childBranchId", child.ID).
		WithField("versionsCopied", copied).Info("branch forked")
	return child, copied, nil
}
