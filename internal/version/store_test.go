package version

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/domain"
)

// memRepository is an in-memory fake satisfying Repository, used so Store's
// invariants can be unit tested without a live Postgres instance.
type memRepository struct {
	versions map[string]*domain.Version
}

func newMemRepository() *memRepository {
	return &memRepository{versions: make(map[string]*domain.Version)}
}

func (r *memRepository) FindOpenInterval(_ context.Context, entityType domain.EntityType, entityID, branchID string) (*domain.Version, error) {
	for _, v := range r.versions {
		if v.EntityType == entityType && v.EntityID == entityID && v.BranchID == branchID && v.ValidTo == nil {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memRepository) CloseInterval(_ context.Context, versionID string, validTo time.Time) error {
	v, ok := r.versions[versionID]
	if !ok {
		return nil
	}
	vt := validTo
	v.ValidTo = &vt
	return nil
}

func (r *memRepository) Insert(_ context.Context, v *domain.Version) error {
	r.versions[v.ID] = v
	return nil
}

func (r *memRepository) Get(_ context.Context, versionID string) (*domain.Version, error) {
	v, ok := r.versions[versionID]
	if !ok {
		return nil, assertNotFound{}
	}
	return v, nil
}

func (r *memRepository) ListForEntity(_ context.Context, entityType domain.EntityType, entityID, branchID string) ([]*domain.Version, error) {
	var out []*domain.Version
	for _, v := range r.versions {
		if v.EntityType == entityType && v.EntityID == entityID && v.BranchID == branchID {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeBranchLookup struct {
	branches map[string]*domain.Branch
}

func (f *fakeBranchLookup) Get(_ context.Context, id string) (*domain.Branch, error) {
	b, ok := f.branches[id]
	if !ok {
		return nil, assertNotFound{}
	}
	return b, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

type noopCascader struct{ calls int }

func (n *noopCascader) Invalidate(_ context.Context, _ domain.EntityType, _ string, _ string) cascade.Result {
	n.calls++
	return cascade.Result{OK: true}
}

func newTestStore() (*Store, *memRepository, *fakeBranchLookup, *noopCascader) {
	repo := newMemRepository()
	branches := &fakeBranchLookup{branches: map[string]*domain.Branch{
		"main": {ID: "main", CampaignID: "C1"},
	}}
	casc := &noopCascader{}
	return New(repo, branches, casc), repo, branches, casc
}

func TestCreateVersionOpensNewInterval(t *testing.T) {
	store, _, _, casc := newTestStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	v, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, nil, domain.Payload{"stage": "initial"}, "user-1", nil)
	require.NoError(t, err)
	assert.True(t, v.IsOpen())
	assert.Equal(t, 1, casc.calls)
}

func TestCreateVersionClosesPriorOpenInterval(t *testing.T) {
	store, repo, _, _ := newTestStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	first, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, nil, domain.Payload{"stage": "initial"}, "user-1", nil)
	require.NoError(t, err)

	_, err = store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t1, nil, domain.Payload{"stage": "developed"}, "user-1", nil)
	require.NoError(t, err)

	closed := repo.versions[first.ID]
	require.NotNil(t, closed.ValidTo)
	assert.Equal(t, t1, *closed.ValidTo)
}

func TestCreateVersionReplacesOpenIntervalOnEqualValidFrom(t *testing.T) {
	store, repo, _, _ := newTestStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, nil, domain.Payload{"stage": "initial"}, "user-1", nil)
	require.NoError(t, err)

	second, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, nil, domain.Payload{"stage": "corrected"}, "user-1", nil)
	require.NoError(t, err)

	closed := repo.versions[first.ID]
	require.NotNil(t, closed.ValidTo)
	assert.Equal(t, t0, *closed.ValidTo)
	assert.True(t, second.IsOpen())

	open, err := store.repo.FindOpenInterval(context.Background(), domain.EntitySettlement, "S1", "main")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, second.ID, open.ID)
}

func TestCreateVersionRejectsInvalidInterval(t *testing.T) {
	store, _, _, _ := newTestStore()
	t0 := time.Now()
	past := t0.Add(-time.Hour)

	_, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, &past, domain.Payload{}, "user-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.BadRequest))
}

func TestCreateVersionRejectsUnknownBranch(t *testing.T) {
	store, _, _, _ := newTestStore()
	_, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "ghost", time.Now(), nil, domain.Payload{}, "user-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.NotFound))
}

func TestCreateVersionRejectsBeforeDivergence(t *testing.T) {
	repo := newMemRepository()
	diverge := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	branches := &fakeBranchLookup{branches: map[string]*domain.Branch{
		"child": {ID: "child", CampaignID: "C1", ParentID: strPtr("main"), DivergedAt: &diverge},
	}}
	store := New(repo, branches, &noopCascader{})

	_, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "child", diverge.Add(-time.Hour), nil, domain.Payload{}, "user-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.BeforeDivergence))
}

func TestVersionsForEntitySortedByValidFrom(t *testing.T) {
	store, _, _, _ := newTestStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0, nil, domain.Payload{"n": 1}, "u", nil)
	require.NoError(t, err)
	_, err = store.CreateVersion(context.Background(), domain.EntitySettlement, "S1", "main", t0.Add(time.Hour), nil, domain.Payload{"n": 2}, "u", nil)
	require.NoError(t, err)

	versions, err := store.VersionsForEntity(context.Background(), domain.EntitySettlement, "S1", "main")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, t0, versions[0].ValidFrom)
	assert.Equal(t, t0.Add(time.Hour), versions[1].ValidFrom)
}

func strPtr(s string) *string { return &s }
