// Package version implements the Version Store (C4): the bitemporal
// payload store keyed by (entityType, entityId, branchId,
// validFrom..validTo), with compression at the storage boundary and
// per-entity cache invalidation on every write.
//
// The business logic in Store is written against the Repository interface
// below rather than directly against pgx, so it can run unit-tested against
// an in-memory fake (memRepository, in store_test.go's test harness) while
// PGRepository (pg_repository.go) backs it with real SQL in production -
// the same repository-interface split evalgo-org-eve/db/repository uses
// for its CacheRepository/MetricsRepository/DocumentRepository trio.
package version

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// Repository is the persistence seam Store depends on.
type Repository interface {
	// FindOpenInterval returns the current open (validTo == nil) version
	// for (entityType, entityId, branchId), or nil if none exists.
	FindOpenInterval(ctx context.Context, entityType domain.EntityType, entityID, branchID string) (*domain.Version, error)
	CloseInterval(ctx context.Context, versionID string, validTo time.Time) error
	Insert(ctx context.Context, v *domain.Version) error
	ListForEntity(ctx context.Context, entityType domain.EntityType, entityID, branchID string) ([]*domain.Version, error)
	Get(ctx context.Context, versionID string) (*domain.Version, error)
}

// BranchLookup is the narrow slice of the Branch Tree (C5) the Version
// Store needs: divergence-point validation for BeforeDivergence (spec
// §4.4) and BranchUnknown.
type BranchLookup interface {
	Get(ctx context.Context, branchID string) (*domain.Branch, error)
}

// Cascader invalidates the derived caches touched by a version write. The
// concrete implementation (cascade.Dispatcher) resolves entity-shape-
// specific policy; the Version Store only knows it must call this after
// every committed write (spec §4.4(d)).
type Cascader interface {
	Invalidate(ctx context.Context, entityType domain.EntityType, entityID, branchID string) cascade.Result
}

// Store implements the Version Store's operations. It does not publish
// entity.{type}.{id}.changed itself - spec §5(c) requires publishes to
// happen strictly after the owning transaction commits, which Store cannot
// see from inside CreateVersion, so the caller (cmd/server) publishes once
// its surrounding transaction has actually committed.
type Store struct {
	repo     Repository
	branches BranchLookup
	cascader Cascader
}

func New(repo Repository, branches BranchLookup, cascader Cascader) *Store {
	return &Store{repo: repo, branches: branches, cascader: cascader}
}

// CreateVersion implements spec §4.4's createVersion. It does NOT itself
// open the database transaction - the PGRepository's Insert/CloseInterval
// pair is expected to be bound to a single pgx.Tx by the caller (see
// pgtx.Pool.WithSerializableTx), so that finding-and-closing the prior open
// interval and inserting the new one commit atomically (spec §4.4, §5(a)).
func (s *Store) CreateVersion(ctx context.Context, entityType domain.EntityType, entityID, branchID string, validFrom time.Time, validTo *time.Time, payload domain.Payload, user string, parentVersionID *string) (*domain.Version, error) {
	log := logging.WithComponent("version")

	if validTo != nil && !validTo.After(validFrom) {
		return nil, apperrors.BadRequestErr("InvalidInterval", "validTo must be after validFrom")
	}

	branch, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return nil, apperrors.NotFoundErr("BranchUnknown", "branch does not exist")
	}
	if branch.DivergedAt != nil && validFrom.Before(*branch.DivergedAt) {
		return nil, apperrors.BeforeDivergenceErr("BeforeDivergence", "validFrom precedes branch divergence point")
	}

	existing, err := s.repo.FindOpenInterval(ctx, entityType, entityID, branchID)
	if err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to look up open interval")
	}
	// A new validFrom equal to the open interval's own validFrom replaces it
	// rather than being rejected, so the most recent write for a given
	// instant always wins - this keeps "at most one open interval" true
	// without forcing callers to retry with a nudged timestamp.
	if existing != nil && !validFrom.Before(existing.ValidFrom) {
		if err := s.repo.CloseInterval(ctx, existing.ID, validFrom); err != nil {
			return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to close prior interval")
		}
	}

	v := &domain.Version{
		ID:              uuid.NewString(),
		EntityType:      entityType,
		EntityID:        entityID,
		BranchID:        branchID,
		ValidFrom:       validFrom,
		ValidTo:         validTo,
		Payload:         payload,
		CreatedAt:       time.Now(),
		CreatedBy:       user,
		ParentVersionID: parentVersionID,
	}
	if err := s.repo.Insert(ctx, v); err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to insert version")
	}

	if s.cascader != nil {
		s.cascader.Invalidate(ctx, entityType, entityID, branchID)
	}
	log.WithField("entityId", entityID).WithField("branchId", branchID).Info("version created")
	return v, nil
}

// GetVersion fetches one version by id directly, independent of any
// branch/time resolution - used by cherry-pick (merge package) to load the
// named source version.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*domain.Version, error) {
	v, err := s.repo.Get(ctx, versionID)
	if err != nil {
		return nil, apperrors.NotFoundErr("VersionUnknown", "version does not exist")
	}
	return v, nil
}

// VersionsForEntity lists versions for an entity on a branch sorted by
// validFrom (spec §4.4's versionsForEntity).
func (s *Store) VersionsForEntity(ctx context.Context, entityType domain.EntityType, entityID, branchID string) ([]*domain.Version, error) {
	versions, err := s.repo.ListForEntity(ctx, entityType, entityID, branchID)
	if err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to list versions")
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ValidFrom.Before(versions[j].ValidFrom) })
	return versions, nil
}

// Decompress returns the (possibly compressed-on-wire) version's payload
// document. PGRepository gzip-compresses payloads on write and decompresses
// them when scanning rows (see pg_repository.go's compress/decompress), so a
// Version's Payload is already decoded and Decompress is the identity function;
// it exists as a named operation so callers don't need to know whether a
// given storage backend compresses on disk.
func (s *Store) Decompress(v *domain.Version) domain.Payload {
	return v.Payload
}
