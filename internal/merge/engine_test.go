package merge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/domain"
)

type fakeAncestorChecker struct {
	ancestorOf map[string]map[string]bool // ancestorID -> branchID -> bool
}

func (f *fakeAncestorChecker) IsAncestor(_ context.Context, candidateAncestorID, branchID string) (bool, error) {
	return f.ancestorOf[candidateAncestorID][branchID], nil
}

type fakeEnumerator struct {
	byBranch map[string][]domain.EntityRef
}

func (f *fakeEnumerator) EntitiesTouchedUpTo(_ context.Context, branchID string, _ time.Time) ([]domain.EntityRef, error) {
	return f.byBranch[branchID], nil
}

// fakeResolver keys versions by branchID|entityID, ignoring worldTime - it
// stands in for a resolver call site that never needs to see the same
// branch/entity diverge across two different world-times in one test.
type fakeResolver struct {
	versions map[string]*domain.Version
}

func (f *fakeResolver) Resolve(_ context.Context, _ domain.EntityType, entityID, branchID string, _ time.Time) (*domain.Version, error) {
	return f.versions[branchID+"|"+entityID], nil
}

// fakeTimeAwareResolver resolves to `before` at or before cutoff and `after`
// strictly after it, for scenarios where the same (branch, entity) must
// genuinely diverge between two resolution calls at different world-times
// (cherry-pick's base-at-source.ValidFrom vs. target-at-now).
type fakeTimeAwareResolver struct {
	cutoff       time.Time
	before, after *domain.Version
}

func (f *fakeTimeAwareResolver) Resolve(_ context.Context, _ domain.EntityType, _, _ string, worldTime time.Time) (*domain.Version, error) {
	if worldTime.After(f.cutoff) {
		return f.after, nil
	}
	return f.before, nil
}

type fakeVersionGetter struct {
	byID map[string]*domain.Version
}

func (f *fakeVersionGetter) GetVersion(_ context.Context, versionID string) (*domain.Version, error) {
	v, ok := f.byID[versionID]
	if !ok {
		return nil, apperrors.NotFoundErr("VersionUnknown", "not found")
	}
	return v, nil
}

type writtenVersion struct {
	entityType domain.EntityType
	entityID   string
	branchID   string
	payload    domain.Payload
	parentID   *string
}

type fakeWriter struct {
	writes []writtenVersion
}

func (f *fakeWriter) CreateVersion(_ context.Context, entityType domain.EntityType, entityID, branchID string, validFrom time.Time, validTo *time.Time, payload domain.Payload, user string, parentVersionID *string) (*domain.Version, error) {
	f.writes = append(f.writes, writtenVersion{entityType: entityType, entityID: entityID, branchID: branchID, payload: payload, parentID: parentVersionID})
	return &domain.Version{ID: "new-version", EntityType: entityType, EntityID: entityID, BranchID: branchID, ValidFrom: validFrom, Payload: payload}, nil
}

type fakeHistory struct {
	records []*domain.MergeHistory
}

func (f *fakeHistory) Insert(_ context.Context, h *domain.MergeHistory) error {
	f.records = append(f.records, h)
	return nil
}

func setupAncestry(source, target, ancestor string) *fakeAncestorChecker {
	return &fakeAncestorChecker{ancestorOf: map[string]map[string]bool{
		ancestor: {source: true, target: true},
	}}
}

func TestExecuteMergeRejectsInvalidAncestor(t *testing.T) {
	ancestors := &fakeAncestorChecker{ancestorOf: map[string]map[string]bool{}}
	engine := New(ancestors, &fakeEnumerator{}, &fakeResolver{}, &fakeVersionGetter{}, &fakeWriter{}, &fakeHistory{}, nil)

	_, err := engine.ExecuteMerge(context.Background(), ExecuteMergeParams{
		SourceBranchID: "source", TargetBranchID: "target", CommonAncestorID: "ancestor", WorldTime: time.Now(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.InvalidAncestor))
}

func TestExecuteMergeWithResolutionsMatchesSpecScenario5(t *testing.T) {
	ancestors := setupAncestry("source", "target", "ancestor")
	enumerator := &fakeEnumerator{byBranch: map[string][]domain.EntityRef{
		"ancestor": {{EntityType: domain.EntitySettlement, EntityID: "S1"}},
	}}
	resolver := &fakeResolver{versions: map[string]*domain.Version{
		"ancestor|S1": {ID: "v-base", EntityType: domain.EntitySettlement, EntityID: "S1", Payload: domain.Payload{"population": 1000, "wealth": 500}},
		"source|S1":   {ID: "v-source", EntityType: domain.EntitySettlement, EntityID: "S1", Payload: domain.Payload{"population": 1500, "wealth": 600}},
		"target|S1":   {ID: "v-target", EntityType: domain.EntitySettlement, EntityID: "S1", Payload: domain.Payload{"population": 1200, "wealth": 550}},
	}}
	writer := &fakeWriter{}
	history := &fakeHistory{}
	engine := New(ancestors, enumerator, resolver, &fakeVersionGetter{}, writer, history, nil)

	result, err := engine.ExecuteMerge(context.Background(), ExecuteMergeParams{
		SourceBranchID: "source", TargetBranchID: "target", CommonAncestorID: "ancestor", WorldTime: time.Now(),
		Resolutions: []domain.ConflictResolution{
			{EntityType: domain.EntitySettlement, EntityID: "S1", Path: "population", ResolvedValue: 1500},
			{EntityType: domain.EntitySettlement, EntityID: "S1", Path: "wealth", ResolvedValue: 600},
		},
		User: "user-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.VersionsCreated)
	assert.Equal(t, 2, result.ConflictsCount)
	require.Len(t, writer.writes, 1)
	assert.Equal(t, 1500, writer.writes[0].payload["population"])
	assert.Equal(t, 600, writer.writes[0].payload["wealth"])
	require.Len(t, history.records, 1)
	assert.Equal(t, 2, history.records[0].ConflictsCount)
	assert.Equal(t, 1, history.records[0].EntitiesMerged)
}

func TestExecuteMergeAbortsWithUnresolvedConflicts(t *testing.T) {
	ancestors := setupAncestry("source", "target", "ancestor")
	enumerator := &fakeEnumerator{byBranch: map[string][]domain.EntityRef{
		"ancestor": {{EntityType: domain.EntitySettlement, EntityID: "S1"}},
	}}
	resolver := &fakeResolver{versions: map[string]*domain.Version{
		"ancestor|S1": {ID: "v-base", Payload: domain.Payload{"population": 1000}},
		"source|S1":   {ID: "v-source", Payload: domain.Payload{"population": 1500}},
		"target|S1":   {ID: "v-target", Payload: domain.Payload{"population": 1200}},
	}}
	writer := &fakeWriter{}
	engine := New(ancestors, enumerator, resolver, &fakeVersionGetter{}, writer, &fakeHistory{}, nil)

	_, err := engine.ExecuteMerge(context.Background(), ExecuteMergeParams{
		SourceBranchID: "source", TargetBranchID: "target", CommonAncestorID: "ancestor", WorldTime: time.Now(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.UnresolvedConflicts))
	assert.Empty(t, writer.writes, "no partial writes on abort")
}

func TestCherryPickWithConflictReturnsFailureWithoutWriting(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &domain.Version{ID: "v1", EntityType: domain.EntitySettlement, EntityID: "S1", BranchID: "branch-1", ValidFrom: t0, Payload: domain.Payload{"population": 1500}}
	versions := &fakeVersionGetter{byID: map[string]*domain.Version{"v1": source}}
	// base (resolved at source.ValidFrom == t0) reflects the pre-divergence
	// state; target (resolved "now", after t0) reflects what branch-2 has
	// done since - the two must actually differ for this to be a conflict.
	resolver := &fakeTimeAwareResolver{
		cutoff: t0,
		before: &domain.Version{ID: "v-base", Payload: domain.Payload{"population": 1000}},
		after:  &domain.Version{ID: "v-target", Payload: domain.Payload{"population": 1200}},
	}
	writer := &fakeWriter{}
	engine := New(&fakeAncestorChecker{}, &fakeEnumerator{}, resolver, versions, writer, &fakeHistory{}, nil)

	result, err := engine.CherryPickVersion(context.Background(), CherryPickParams{VersionID: "v1", TargetBranchID: "branch-2", User: "user-1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "population", result.Conflicts[0].Path)
	assert.Empty(t, writer.writes)
}

func TestCherryPickWithResolutionSucceeds(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &domain.Version{ID: "v1", EntityType: domain.EntitySettlement, EntityID: "S1", BranchID: "branch-1", ValidFrom: t0, Payload: domain.Payload{"population": 1500}}
	versions := &fakeVersionGetter{byID: map[string]*domain.Version{"v1": source}}
	resolver := &fakeResolver{versions: map[string]*domain.Version{
		"branch-2|S1": {ID: "v-target", Payload: domain.Payload{"population": 1200}},
	}}
	writer := &fakeWriter{}
	engine := New(&fakeAncestorChecker{}, &fakeEnumerator{}, resolver, versions, writer, &fakeHistory{}, nil)

	result, err := engine.CherryPickVersion(context.Background(), CherryPickParams{
		VersionID: "v1", TargetBranchID: "branch-2", User: "user-1",
		Resolutions: []domain.ConflictResolution{{EntityType: domain.EntitySettlement, EntityID: "S1", Path: "population", ResolvedValue: 1500}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, writer.writes, 1)
	assert.Equal(t, 1500, writer.writes[0].payload["population"])
	assert.Equal(t, "v1", *writer.writes[0].parentID)
}
