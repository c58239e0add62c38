package merge

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// AncestorChecker validates a supplied commonAncestorId; matches
// branch.Tree.IsAncestor.
type AncestorChecker interface {
	IsAncestor(ctx context.Context, candidateAncestorID, branchID string) (bool, error)
}

// EntityEnumerator lists entities touched on a branch up to a world-time;
// matches version.PGRepository.EntitiesTouchedUpTo.
type EntityEnumerator interface {
	EntitiesTouchedUpTo(ctx context.Context, branchID string, t time.Time) ([]domain.EntityRef, error)
}

// Resolver resolves an entity's effective version on a branch at a
// world-time; matches resolver.Resolver.Resolve.
type Resolver interface {
	Resolve(ctx context.Context, entityType domain.EntityType, entityID, branchID string, worldTime time.Time) (*domain.Version, error)
}

// VersionGetter fetches one version by id; matches version.Store.GetVersion.
type VersionGetter interface {
	GetVersion(ctx context.Context, versionID string) (*domain.Version, error)
}

// VersionWriter writes a merged/cherry-picked payload as a new version,
// closing any prior open interval on the same (entityType, entityId,
// branchId) and triggering cascade invalidation; matches
// version.Store.CreateVersion.
type VersionWriter interface {
	CreateVersion(ctx context.Context, entityType domain.EntityType, entityID, branchID string, validFrom time.Time, validTo *time.Time, payload domain.Payload, user string, parentVersionID *string) (*domain.Version, error)
}

// HistoryRecorder persists one MergeHistory row per executed merge.
type HistoryRecorder interface {
	Insert(ctx context.Context, h *domain.MergeHistory) error
}

// Engine implements the Merge Engine's operations (spec §4.8). It does not
// publish branch.{id}.merged itself - spec §5(c) requires that publish to
// happen strictly after the owning transaction commits, so the caller
// (cmd/server) publishes once WithTx has actually committed.
type Engine struct {
	ancestors AncestorChecker
	entities  EntityEnumerator
	resolver  Resolver
	versions  VersionGetter
	writer    VersionWriter
	history   HistoryRecorder
	keys      ArrayIdentityKeys
}

func New(ancestors AncestorChecker, entities EntityEnumerator, resolver Resolver, versions VersionGetter, writer VersionWriter, history HistoryRecorder, keys ArrayIdentityKeys) *Engine {
	if keys == nil {
		keys = DefaultArrayIdentityKeys
	}
	return &Engine{ancestors: ancestors, entities: entities, resolver: resolver, versions: versions, writer: writer, history: history, keys: keys}
}

// GetEntityVersionsForMerge implements spec §4.8's
// getEntityVersionsForMerge: the three possibly-absent resolved versions
// for one entity across ancestor/source/target.
func (e *Engine) GetEntityVersionsForMerge(ctx context.Context, entityType domain.EntityType, entityID, sourceBranchID, targetBranchID, ancestorBranchID string, worldTime time.Time) (base, source, target *domain.Version, err error) {
	base, err = e.resolver.Resolve(ctx, entityType, entityID, ancestorBranchID, worldTime)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err = e.resolver.Resolve(ctx, entityType, entityID, sourceBranchID, worldTime)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err = e.resolver.Resolve(ctx, entityType, entityID, targetBranchID, worldTime)
	if err != nil {
		return nil, nil, nil, err
	}
	return base, source, target, nil
}

func payloadOf(v *domain.Version) domain.Payload {
	if v == nil {
		return nil
	}
	return v.Payload
}

// ExecuteMergeParams is executeMerge's input (spec §4.8).
type ExecuteMergeParams struct {
	SourceBranchID   string
	TargetBranchID   string
	CommonAncestorID string
	WorldTime        time.Time
	Resolutions      []domain.ConflictResolution
	User             string
}

// ExecuteMergeResult is executeMerge's output. MergedEntities carries the
// type alongside each id so a caller publishing entity.{type}.{id}.changed
// per merged entity (spec §6) doesn't have to re-derive the type.
type ExecuteMergeResult struct {
	Success         bool
	VersionsCreated int
	MergedEntities  []domain.EntityRef
	ConflictsCount  int
}

type entityMerge struct {
	ref    domain.EntityRef
	source *domain.Version
	target *domain.Version
	merged domain.Payload
}

// ExecuteMerge implements spec §4.8's executeMerge. All writes happen via
// e.writer (version.Store), so the caller wraps this call in one
// pgtx.WithSerializableTx transaction (spec §4.8/§5(a)'s "one transaction,
// no partial writes") by binding writer/history/entities/resolver to
// repositories rebound onto that transaction.
func (e *Engine) ExecuteMerge(ctx context.Context, p ExecuteMergeParams) (*ExecuteMergeResult, error) {
	okSource, err := e.ancestors.IsAncestor(ctx, p.CommonAncestorID, p.SourceBranchID)
	if err != nil {
		return nil, err
	}
	okTarget, err := e.ancestors.IsAncestor(ctx, p.CommonAncestorID, p.TargetBranchID)
	if err != nil {
		return nil, err
	}
	if !okSource || !okTarget {
		return nil, apperrors.InvalidAncestorErr("INVALID_ANCESTOR", "commonAncestorId is not an ancestor of both branches")
	}

	refs, err := e.unionTouchedEntities(ctx, p)
	if err != nil {
		return nil, err
	}

	var merges []*entityMerge
	var allConflicts []domain.Conflict
	for _, ref := range refs {
		base, source, target, err := e.GetEntityVersionsForMerge(ctx, ref.EntityType, ref.EntityID, p.SourceBranchID, p.TargetBranchID, p.CommonAncestorID, p.WorldTime)
		if err != nil {
			return nil, err
		}
		result := CompareVersions(ref.EntityType, ref.EntityID, payloadOf(base), payloadOf(source), payloadOf(target), e.keys)
		merges = append(merges, &entityMerge{ref: ref, source: source, target: target, merged: result.MergedPayload})
		allConflicts = append(allConflicts, result.Conflicts...)
	}

	unresolved := applyResolutions(merges, allConflicts, p.Resolutions)
	if len(unresolved) > 0 {
		return nil, apperrors.UnresolvedConflictsErr("UNRESOLVED_CONFLICTS", fmt.Sprintf("%d unresolved conflict(s) remain", len(unresolved)))
	}

	created := 0
	var mergedEntities []domain.EntityRef
	for _, m := range merges {
		if m.target != nil && payloadsEqual(m.target.Payload, m.merged) {
			continue
		}
		if m.target == nil && len(m.merged) == 0 {
			continue
		}
		var parentID *string
		if m.source != nil {
			parentID = &m.source.ID
		}
		if _, err := e.writer.CreateVersion(ctx, m.ref.EntityType, m.ref.EntityID, p.TargetBranchID, p.WorldTime, nil, m.merged, p.User, parentID); err != nil {
			return nil, err
		}
		created++
		mergedEntities = append(mergedEntities, m.ref)
	}

	mh := &domain.MergeHistory{
		ID:               uuid.NewString(),
		SourceBranchID:   p.SourceBranchID,
		TargetBranchID:   p.TargetBranchID,
		CommonAncestorID: p.CommonAncestorID,
		MergedAt:         time.Now(),
		MergedBy:         p.User,
		WorldTime:        p.WorldTime,
		ConflictsCount:   len(allConflicts),
		EntitiesMerged:   created,
	}
	if e.history != nil {
		if err := e.history.Insert(ctx, mh); err != nil {
			return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to record merge history")
		}
	}
	logging.WithComponent("merge").WithField("sourceBranchId", p.SourceBranchID).WithField("targetBranchId", p.TargetBranchID).
		WithField("versionsCreated", created).WithField("conflictsCount", len(allConflicts)).Info("merge executed")

	return &ExecuteMergeResult{Success: true, VersionsCreated: created, MergedEntities: mergedEntities, ConflictsCount: len(allConflicts)}, nil
}

func (e *Engine) unionTouchedEntities(ctx context.Context, p ExecuteMergeParams) ([]domain.EntityRef, error) {
	seen := map[domain.EntityRef]bool{}
	var out []domain.EntityRef
	for _, branchID := range []string{p.CommonAncestorID, p.SourceBranchID, p.TargetBranchID} {
		refs, err := e.entities.EntitiesTouchedUpTo(ctx, branchID, p.WorldTime)
		if err != nil {
			return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to enumerate touched entities")
		}
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out, nil
}

func conflictKey(entityType domain.EntityType, entityID, path string) string {
	return string(entityType) + "\x00" + entityID + "\x00" + path
}

// applyResolutions mutates each entityMerge's merged payload in place for
// every conflict matched by a supplied ConflictResolution, and returns the
// conflicts that remain unresolved.
func applyResolutions(merges []*entityMerge, conflicts []domain.Conflict, resolutions []domain.ConflictResolution) []domain.Conflict {
	byEntity := map[domain.EntityRef]*entityMerge{}
	for _, m := range merges {
		byEntity[m.ref] = m
	}

	resByKey := map[string]interface{}{}
	for _, r := range resolutions {
		resByKey[conflictKey(r.EntityType, r.EntityID, r.Path)] = r.ResolvedValue
	}

	var unresolved []domain.Conflict
	for _, c := range conflicts {
		key := conflictKey(c.EntityType, c.EntityID, c.Path)
		value, ok := resByKey[key]
		if !ok {
			unresolved = append(unresolved, c)
			continue
		}
		ref := domain.EntityRef{EntityType: c.EntityType, EntityID: c.EntityID}
		if m, ok := byEntity[ref]; ok {
			setPath(m.merged, c.Path, value)
		}
	}
	return unresolved
}

func payloadsEqual(a, b domain.Payload) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]interface{}(a), map[string]interface{}(b))
}

// CherryPickParams is cherryPickVersion's input (spec §4.8).
type CherryPickParams struct {
	VersionID      string
	TargetBranchID string
	User           string
	Resolutions    []domain.ConflictResolution
}

// CherryPickResult is cherryPickVersion's output. Entity is populated only
// on success, so a caller can publish entity.{type}.{id}.changed (spec §6)
// without having to look the source version back up.
type CherryPickResult struct {
	Success   bool
	Conflicts []domain.Conflict
	Entity    domain.EntityRef
}

// CherryPickVersion implements spec §4.8's cherryPickVersion: the "source"
// side is the single named version; "base" is the target branch resolved
// at that version's validFrom (the state it was presumed to diverge from).
// "target" is the target branch resolved at the current moment, so the
// three-way diff reflects whatever the target branch has done since.
func (e *Engine) CherryPickVersion(ctx context.Context, p CherryPickParams) (*CherryPickResult, error) {
	source, err := e.versions.GetVersion(ctx, p.VersionID)
	if err != nil {
		return nil, err
	}

	base, err := e.resolver.Resolve(ctx, source.EntityType, source.EntityID, p.TargetBranchID, source.ValidFrom)
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.Resolve(ctx, source.EntityType, source.EntityID, p.TargetBranchID, time.Now())
	if err != nil {
		return nil, err
	}

	result := CompareVersions(source.EntityType, source.EntityID, payloadOf(base), source.Payload, payloadOf(target), e.keys)
	merged := &entityMerge{ref: domain.EntityRef{EntityType: source.EntityType, EntityID: source.EntityID}, source: source, target: target, merged: result.MergedPayload}
	unresolved := applyResolutions([]*entityMerge{merged}, result.Conflicts, p.Resolutions)
	if len(unresolved) > 0 {
		return &CherryPickResult{Success: false, Conflicts: unresolved}, nil
	}

	if _, err := e.writer.CreateVersion(ctx, source.EntityType, source.EntityID, p.TargetBranchID, time.Now(), nil, merged.merged, p.User, &source.ID); err != nil {
		return nil, err
	}
	logging.WithComponent("merge").WithField("versionId", p.VersionID).WithField("targetBranchId", p.TargetBranchID).Info("cherry-pick applied")
	return &CherryPickResult{Success: true, Entity: merged.ref}, nil
}
