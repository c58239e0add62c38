package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/domain"
)

type fakeBranches struct {
	branches map[string]*domain.Branch
}

func (f *fakeBranches) Get(_ context.Context, id string) (*domain.Branch, error) {
	b, ok := f.branches[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

// fakeVersions stores versions keyed by branch, holding the full interval
// history so ResolveAt can replicate the "latest covering interval" query.
type fakeVersions struct {
	byBranch map[string][]*domain.Version
}

func newFakeVersions() *fakeVersions { return &fakeVersions{byBranch: map[string][]*domain.Version{}} }

func (f *fakeVersions) add(branchID string, v *domain.Version) {
	f.byBranch[branchID] = append(f.byBranch[branchID], v)
}

func (f *fakeVersions) ResolveAt(_ context.Context, entityType domain.EntityType, entityID, branchID string, t time.Time) (*domain.Version, error) {
	var best *domain.Version
	for _, v := range f.byBranch[branchID] {
		if v.EntityType != entityType || v.EntityID != entityID {
			continue
		}
		if v.Covers(t) {
			if best == nil || v.ValidFrom.After(best.ValidFrom) {
				best = v
			}
		}
	}
	return best, nil
}

func t0Plus(d time.Duration) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
}

func TestResolveFindsVersionOnOwnBranch(t *testing.T) {
	branches := &fakeBranches{branches: map[string]*domain.Branch{"main": {ID: "main"}}}
	versions := newFakeVersions()
	versions.add("main", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S1", ValidFrom: t0Plus(0)})

	res := New(branches, versions)
	v, err := res.Resolve(context.Background(), domain.EntitySettlement, "S1", "main", t0Plus(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestResolveFallsBackToAncestor(t *testing.T) {
	diverge := t0Plus(24 * time.Hour)
	mainID := "main"
	branches := &fakeBranches{branches: map[string]*domain.Branch{
		"main":  {ID: "main"},
		"child": {ID: "child", ParentID: &mainID, DivergedAt: &diverge},
	}}
	versions := newFakeVersions()
	versions.add("main", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S1", ValidFrom: t0Plus(0)})

	res := New(branches, versions)
	v, err := res.Resolve(context.Background(), domain.EntitySettlement, "S1", "child", t0Plus(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestResolveNeverSeesAncestorMutationAfterDivergence(t *testing.T) {
	diverge := t0Plus(24 * time.Hour)
	mainID := "main"
	branches := &fakeBranches{branches: map[string]*domain.Branch{
		"main":  {ID: "main"},
		"child": {ID: "child", ParentID: &mainID, DivergedAt: &diverge},
	}}
	versions := newFakeVersions()
	// Version on main opens after the child's divergence point - must be
	// invisible to the child (spec §4.6 property (b), §8 invariant 5).
	versions.add("main", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S1", ValidFrom: t0Plus(48 * time.Hour)})

	res := New(branches, versions)
	v, err := res.Resolve(context.Background(), domain.EntitySettlement, "S1", "child", t0Plus(72*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveSiblingBranchesMutuallyInvisible(t *testing.T) {
	diverge := t0Plus(24 * time.Hour)
	mainID := "main"
	branches := &fakeBranches{branches: map[string]*domain.Branch{
		"main":  {ID: "main"},
		"left":  {ID: "left", ParentID: &mainID, DivergedAt: &diverge},
		"right": {ID: "right", ParentID: &mainID, DivergedAt: &diverge},
	}}
	versions := newFakeVersions()
	versions.add("left", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S1", ValidFrom: t0Plus(48 * time.Hour)})

	res := New(branches, versions)
	v, err := res.Resolve(context.Background(), domain.EntitySettlement, "S1", "right", t0Plus(72*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveReturnsNilWhenAbsentEverywhere(t *testing.T) {
	branches := &fakeBranches{branches: map[string]*domain.Branch{"main": {ID: "main"}}}
	versions := newFakeVersions()

	res := New(branches, versions)
	v, err := res.Resolve(context.Background(), domain.EntitySettlement, "S1", "main", t0Plus(0))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveMultiLevelScenarioFromSpecExample4(t *testing.T) {
	t0 := t0Plus(0)
	t1 := t0Plus(time.Hour)
	t2 := t0Plus(2 * time.Hour)
	t3 := t0Plus(3 * time.Hour)
	mainID := "main"

	branches := &fakeBranches{branches: map[string]*domain.Branch{
		"main":  {ID: "main"},
		"child": {ID: "child", ParentID: &mainID, DivergedAt: &t1},
	}}
	versions := newFakeVersions()
	validToT2 := t2
	versions.add("main", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S", ValidFrom: t0, ValidTo: &validToT2, Payload: domain.Payload{"stage": "initial"}})
	versions.add("main", &domain.Version{EntityType: domain.EntitySettlement, EntityID: "S", ValidFrom: t2, Payload: domain.Payload{"stage": "developed"}})

	res := New(branches, versions)

	onChild, err := res.Resolve(context.Background(), domain.EntitySettlement, "S", "child", t3)
	require.NoError(t, err)
	require.NotNil(t, onChild)
	assert.Equal(t, "initial", onChild.Payload["stage"])

	onMain, err := res.Resolve(context.Background(), domain.EntitySettlement, "S", "main", t3)
	require.NoError(t, err)
	require.NotNil(t, onMain)
	assert.Equal(t, "developed", onMain.Payload["stage"])
}
