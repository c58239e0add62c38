// Package resolver implements the Version Resolver (C6): "as-of" lookup of
// an entity's effective payload over a (branch, world-time) pair, walking
// the branch's ancestry chain per spec §4.6.
package resolver

import (
	"context"
	"time"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/domain"
)

// BranchLookup is the Branch Tree (C5) capability the resolver needs:
// walking a branch's own record to find its parent and divergedAt.
type BranchLookup interface {
	Get(ctx context.Context, branchID string) (*domain.Branch, error)
}

// VersionLookup is the Version Store (C4) capability the resolver needs:
// the single-branch "latest version covering t" primitive.
type VersionLookup interface {
	ResolveAt(ctx context.Context, entityType domain.EntityType, entityID, branchID string, t time.Time) (*domain.Version, error)
}

// Resolver implements resolveVersion.
type Resolver struct {
	branches BranchLookup
	versions VersionLookup
}

func New(branches BranchLookup, versions VersionLookup) *Resolver {
	return &Resolver{branches: branches, versions: versions}
}

// Resolve walks B0 = branchID, B1 = parent(B0), ... per spec §4.6. At each
// ancestor Bi it queries with ti = min(worldTime, the divergedAt at which
// the previously-visited, more-specific branch diverged from Bi) - so a
// branch never sees an ancestor's mutations made after the point it
// diverged from that ancestor (spec §4.6 property (b), §8 invariant 5).
// Returns nil (no error) if no version is found anywhere in the ancestry.
func (r *Resolver) Resolve(ctx context.Context, entityType domain.EntityType, entityID, branchID string, worldTime time.Time) (*domain.Version, error) {
	branch, err := r.branches.Get(ctx, branchID)
	if err != nil {
		return nil, apperrors.NotFoundErr("BranchUnknown", "branch does not exist")
	}

	t := worldTime
	for {
		v, err := r.versions.ResolveAt(ctx, entityType, entityID, branch.ID, t)
		if err != nil {
			return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to resolve version")
		}
		if v != nil {
			return v, nil
		}

		if branch.ParentID == nil {
			return nil, nil
		}
		// branch.DivergedAt is the instant, seen from branch, at which it
		// diverged from its parent - clamp visibility into the parent to
		// that instant, per spec §4.6.
		if branch.DivergedAt != nil && branch.DivergedAt.Before(t) {
			t = *branch.DivergedAt
		}
		branch, err = r.branches.Get(ctx, *branch.ParentID)
		if err != nil {
			return nil, apperrors.NotFoundErr("BranchUnknown", "parent branch does not exist")
		}
	}
}
