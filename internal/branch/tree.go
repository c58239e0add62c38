// Package branch implements the Branch Tree (C5): branch records forming a
// forest, ancestry traversal, and lowest-common-ancestor search. Per spec
// §9, cycle prevention walks the candidate parent's ancestors on create,
// and LCA is computed by hash-set lookup rather than recursive pointer
// chasing.
package branch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// Repository is the persistence seam Tree depends on.
type Repository interface {
	Get(ctx context.Context, id string) (*domain.Branch, error)
	GetByName(ctx context.Context, campaignID, name string) (*domain.Branch, error)
	Insert(ctx context.Context, b *domain.Branch) error
	Children(ctx context.Context, id string) ([]*domain.Branch, error)
	Delete(ctx context.Context, id string) error
}

// VersionDeleter is the narrow Version Store capability branch.Delete needs
// to remove a deleted branch's versions (spec §3: "never deleted except by
// administrative branch deletion").
type VersionDeleter interface {
	DeleteForBranch(ctx context.Context, branchID string) error
}

// Cascader invalidates caches on branch deletion (spec §4.3 branch-wide
// invalidation).
type Cascader interface {
	BranchDeleted(ctx context.Context, branchID string) cascade.Result
}

// ForkEngine is C7; branch.Fork delegates its snapshot-copy behavior to it,
// per spec §4.5.
type ForkEngine interface {
	Fork(ctx context.Context, sourceBranchID, newName, description string, worldTime time.Time, user string) (*domain.Branch, int, error)
}

// Tree implements the Branch Tree operations.
type Tree struct {
	repo     Repository
	versions VersionDeleter
	cascader Cascader
	fork     ForkEngine
}

func New(repo Repository, versions VersionDeleter, cascader Cascader, fork ForkEngine) *Tree {
	return &Tree{repo: repo, versions: versions, cascader: cascader, fork: fork}
}

// SetForkEngine binds the Fork Engine after construction, for callers that
// build a Tree and a fork.Engine whose BranchCreator is the same Tree - the
// constructors can't close that cycle in one pass, so New may be called
// with a nil fork and this invoked once the fork.Engine exists.
func (t *Tree) SetForkEngine(fork ForkEngine) {
	t.fork = fork
}

// CreateParams is the input to Create.
type CreateParams struct {
	CampaignID  string
	Name        string
	Description string
	ParentID    *string
	DivergedAt  *time.Time
}

// Create inserts a new branch, enforcing spec §3's invariants: parentId is
// null iff divergedAt is null (a), name uniqueness per campaign (c), and no
// cycle in the parent graph (spec §9).
func (t *Tree) Create(ctx context.Context, p CreateParams, user string) (*domain.Branch, error) {
	if (p.ParentID == nil) != (p.DivergedAt == nil) {
		return nil, apperrors.BadRequestErr("INVALID_BRANCH", "parentId and divergedAt must both be set or both be nil")
	}

	if existing, err := t.repo.GetByName(ctx, p.CampaignID, p.Name); err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to check branch name uniqueness")
	} else if existing != nil {
		return nil, apperrors.BadRequestErr("DUPLICATE_NAME", "branch name already used in this campaign")
	}

	if p.ParentID != nil {
		if err := t.rejectCycle(ctx, *p.ParentID); err != nil {
			return nil, err
		}
	}

	b := &domain.Branch{
		ID:          uuid.NewString(),
		CampaignID:  p.CampaignID,
		Name:        p.Name,
		Description: p.Description,
		ParentID:    p.ParentID,
		DivergedAt:  p.DivergedAt,
		CreatedAt:   time.Now(),
		CreatedBy:   user,
	}
	if err := t.repo.Insert(ctx, b); err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to insert branch")
	}
	logging.WithComponent("branch").WithField("branchId", b.ID).Info("branch created")
	return b, nil
}

// rejectCycle walks candidateParent's ancestry; since branches are only
// ever created with an already-persisted parent, any cycle would require an
// existing branch's ancestry to loop back to itself - this also catches a
// self-referential parentID.
func (t *Tree) rejectCycle(ctx context.Context, candidateParentID string) error {
	seen := map[string]bool{}
	cur := candidateParentID
	for cur != "" {
		if seen[cur] {
			return apperrors.BadRequestErr("CYCLE", "branch parent graph would contain a cycle")
		}
		seen[cur] = true
		b, err := t.repo.Get(ctx, cur)
		if err != nil {
			return apperrors.NotFoundErr("BranchUnknown", "parent branch does not exist")
		}
		if b.ParentID == nil {
			break
		}
		cur = *b.ParentID
	}
	return nil
}

// Get returns one branch by id. It also satisfies version.BranchLookup and
// resolver/fork/merge's lookup needs.
func (t *Tree) Get(ctx context.Context, id string) (*domain.Branch, error) {
	b, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFoundErr("BranchUnknown", "branch does not exist")
	}
	return b, nil
}

// Fork delegates to C7, per spec §4.5. Neither Tree.Fork nor fork.Engine
// publishes branch.{id}.forked; cmd/server's fork handler publishes it once
// the surrounding transaction commits.
func (t *Tree) Fork(ctx context.Context, sourceBranchID, newName, description string, worldTime time.Time, user string) (*domain.Branch, int, error) {
	return t.fork.Fork(ctx, sourceBranchID, newName, description, worldTime, user)
}

// Ancestors returns [branch, parent, ..., root] (spec §4.5).
func (t *Tree) Ancestors(ctx context.Context, branchID string) ([]*domain.Branch, error) {
	var chain []*domain.Branch
	cur := branchID
	for cur != "" {
		b, err := t.repo.Get(ctx, cur)
		if err != nil {
			return nil, apperrors.NotFoundErr("BranchUnknown", "branch does not exist")
		}
		chain = append(chain, b)
		if b.ParentID == nil {
			break
		}
		cur = *b.ParentID
	}
	return chain, nil
}

// FindCommonAncestor walks A's ancestry into a set, then walks B's ancestry
// returning the first branch present in that set (spec §4.5/§9's
// hash-set-based LCA). Returns nil if A and B are in disjoint trees.
func (t *Tree) FindCommonAncestor(ctx context.Context, branchAID, branchBID string) (*domain.Branch, error) {
	aChain, err := t.Ancestors(ctx, branchAID)
	if err != nil {
		return nil, err
	}
	aSet := make(map[string]bool, len(aChain))
	for _, b := range aChain {
		aSet[b.ID] = true
	}

	bChain, err := t.Ancestors(ctx, branchBID)
	if err != nil {
		return nil, err
	}
	for _, b := range bChain {
		if aSet[b.ID] {
			return b, nil
		}
	}
	return nil, nil
}

// IsAncestor reports whether candidateAncestorID appears in branchID's
// ancestry chain (including branchID itself) - used by the Merge Engine to
// validate a supplied commonAncestorId (spec §4.8 step 1).
func (t *Tree) IsAncestor(ctx context.Context, candidateAncestorID, branchID string) (bool, error) {
	chain, err := t.Ancestors(ctx, branchID)
	if err != nil {
		return false, err
	}
	for _, b := range chain {
		if b.ID == candidateAncestorID {
			return true, nil
		}
	}
	return false, nil
}

// Delete is the administrative branch deletion spec §3/§4.3 reference
// without naming an operation signature for (SPEC_FULL.md's supplemental
// branch.Delete). Refuses to delete a branch with children.
func (t *Tree) Delete(ctx context.Context, branchID, user string) error {
	children, err := t.repo.Children(ctx, branchID)
	if err != nil {
		return apperrors.TransientErr(err, "DB_ERROR", "failed to list children")
	}
	if len(children) > 0 {
		return apperrors.BadRequestErr("HAS_CHILDREN", "cannot delete a branch with child branches")
	}

	if err := t.versions.DeleteForBranch(ctx, branchID); err != nil {
		return apperrors.TransientErr(err, "DB_ERROR", "failed to delete branch versions")
	}
	if err := t.repo.Delete(ctx, branchID); err != nil {
		return apperrors.TransientErr(err, "DB_ERROR", "failed to delete branch")
	}
	if t.cascader != nil {
		t.cascader.BranchDeleted(ctx, branchID)
	}
	logging.WithComponent("branch").WithField("branchId", branchID).WithField("deletedBy", user).Info("branch deleted")
	return nil
}
