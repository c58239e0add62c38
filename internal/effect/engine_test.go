package effect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/collaborators"
	"github.com/jakekausler/campaign-manager/internal/domain"
)

type fakeMembership struct {
	allowed bool
	err     error
}

func (f *fakeMembership) CanEdit(_ context.Context, _ collaborators.AuthenticatedUser, _ string) (bool, error) {
	return f.allowed, f.err
}

type fakeResolver struct {
	version *domain.Version
}

func (f *fakeResolver) Resolve(_ context.Context, _ domain.EntityType, _ string, _ string, _ time.Time) (*domain.Version, error) {
	return f.version, nil
}

type fakeEffectSource struct {
	effects []domain.Effect
}

func (f *fakeEffectSource) ListEffects(_ context.Context, _ domain.EntityType, _ string) ([]domain.Effect, error) {
	return f.effects, nil
}

type fakeWriter struct {
	written *domain.Version
}

func (f *fakeWriter) CreateVersion(_ context.Context, entityType domain.EntityType, entityID, branchID string, validFrom time.Time, _ *time.Time, payload domain.Payload, user string, parentVersionID *string) (*domain.Version, error) {
	v := &domain.Version{ID: "new-version", EntityType: entityType, EntityID: entityID, BranchID: branchID, ValidFrom: validFrom, Payload: payload, CreatedBy: user, ParentVersionID: parentVersionID}
	f.written = v
	return v, nil
}

type fakeExecutionRecorder struct {
	records []*domain.EffectExecution
}

func (f *fakeExecutionRecorder) Insert(_ context.Context, e *domain.EffectExecution) error {
	f.records = append(f.records, e)
	return nil
}

func newTestEngine(current *domain.Version, effects []domain.Effect) (*Engine, *fakeWriter, *fakeExecutionRecorder) {
	writer := &fakeWriter{}
	recorder := &fakeExecutionRecorder{}
	engine := New(&fakeMembership{allowed: true}, &fakeResolver{version: current}, writer, &fakeEffectSource{effects: effects}, recorder, DefaultPathPolicy())
	return engine, writer, recorder
}

func TestResolveEntityThreePhaseResolution(t *testing.T) {
	current := &domain.Version{ID: "v1", EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main",
		Payload: domain.Payload{"variables": map[string]interface{}{"defense": float64(50), "casualties": float64(0), "gold": float64(1000), "food": float64(400)}}}

	effects := []domain.Effect{
		{ID: "e-pre", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingPre, Priority: 1, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/variables/defense", Value: 100}}},
		{ID: "e-on", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingOnResolve, Priority: 1, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/variables/casualties", Value: 5}, {Op: "replace", Path: "/variables/gold", Value: 1500}}},
		{ID: "e-post", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingPost, Priority: 1, IsActive: true,
			Payload: []domain.PatchOp{{Op: "remove", Path: "/variables/defense"}}},
	}

	engine, writer, recorder := newTestEngine(current, effects)
	result, err := engine.ResolveEntity(context.Background(), ResolveParams{
		EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main", CampaignID: "C1",
		User: collaborators.AuthenticatedUser{ID: "user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseSummary{Total: 1, Succeeded: 1, Failed: 0}, result.EffectSummary.Pre)
	assert.Equal(t, PhaseSummary{Total: 1, Succeeded: 1, Failed: 0}, result.EffectSummary.OnResolve)
	assert.Equal(t, PhaseSummary{Total: 1, Succeeded: 1, Failed: 0}, result.EffectSummary.Post)
	assert.True(t, truthy(writer.written.Payload["isResolved"]))
	assert.Len(t, recorder.records, 3)

	vars := writer.written.Payload["variables"].(map[string]interface{})
	assert.Equal(t, float64(5), vars["casualties"])
	assert.Equal(t, float64(1500), vars["gold"])
	_, stillHasDefense := vars["defense"]
	assert.False(t, stillHasDefense)
}

func TestResolveEntityPriorityOrdering(t *testing.T) {
	current := &domain.Version{ID: "v1", EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main",
		Payload: domain.Payload{"variables": map[string]interface{}{"step": float64(0)}}}

	effects := []domain.Effect{
		{ID: "e30", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingOnResolve, Priority: 30, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/variables/step", Value: 3}}},
		{ID: "e10", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingOnResolve, Priority: 10, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/variables/step", Value: 1}}},
		{ID: "e20", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingOnResolve, Priority: 20, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/variables/step", Value: 2}}},
	}

	engine, writer, recorder := newTestEngine(current, effects)
	_, err := engine.ResolveEntity(context.Background(), ResolveParams{
		EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main", CampaignID: "C1",
		User: collaborators.AuthenticatedUser{ID: "user-1"},
	})
	require.NoError(t, err)

	require.Len(t, recorder.records, 3)
	assert.Equal(t, "e10", recorder.records[0].EffectID)
	assert.Equal(t, "e20", recorder.records[1].EffectID)
	assert.Equal(t, "e30", recorder.records[2].EffectID)

	vars := writer.written.Payload["variables"].(map[string]interface{})
	assert.Equal(t, float64(3), vars["step"])
}

func TestResolveEntityProtectedFieldStillMarksResolved(t *testing.T) {
	current := &domain.Version{ID: "v1", EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main",
		Payload: domain.Payload{"variables": map[string]interface{}{}}}

	effects := []domain.Effect{
		{ID: "e-bad", EntityType: domain.EntityEncounter, EntityID: "enc-1", Timing: domain.TimingOnResolve, Priority: 1, IsActive: true,
			Payload: []domain.PatchOp{{Op: "replace", Path: "/id", Value: "hacked"}}},
	}

	engine, writer, recorder := newTestEngine(current, effects)
	result, err := engine.ResolveEntity(context.Background(), ResolveParams{
		EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main", CampaignID: "C1",
		User: collaborators.AuthenticatedUser{ID: "user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EffectSummary.OnResolve.Succeeded)
	assert.Equal(t, 1, result.EffectSummary.OnResolve.Failed)
	require.Len(t, recorder.records, 1)
	require.NotNil(t, recorder.records[0].Error)
	assert.Contains(t, *recorder.records[0].Error, "protected")
	assert.True(t, truthy(writer.written.Payload["isResolved"]))
}

func TestResolveEntityRejectsAlreadyResolved(t *testing.T) {
	current := &domain.Version{ID: "v1", EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main",
		Payload: domain.Payload{"isResolved": true}}
	engine, _, _ := newTestEngine(current, nil)

	_, err := engine.ResolveEntity(context.Background(), ResolveParams{
		EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main", CampaignID: "C1",
		User: collaborators.AuthenticatedUser{ID: "user-1"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.BadRequest))
}

func TestResolveEntityRejectsWithoutEditAccess(t *testing.T) {
	current := &domain.Version{ID: "v1", EntityType: domain.EntityEncounter, EntityID: "enc-1", Payload: domain.Payload{}}
	writer := &fakeWriter{}
	engine := New(&fakeMembership{allowed: false}, &fakeResolver{version: current}, writer, &fakeEffectSource{}, &fakeExecutionRecorder{}, DefaultPathPolicy())

	_, err := engine.ResolveEntity(context.Background(), ResolveParams{
		EntityType: domain.EntityEncounter, EntityID: "enc-1", BranchID: "main", CampaignID: "C1",
		User: collaborators.AuthenticatedUser{ID: "user-1"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.NotFound))
	assert.Nil(t, writer.written)
}

func TestExecuteWithDependenciesNotImplemented(t *testing.T) {
	engine, _, _ := newTestEngine(nil, nil)
	_, err := engine.ExecuteWithDependencies(context.Background(), ExecuteWithDependenciesParams{})
	require.Error(t, err)
	assert.True(t, apperrors.OfKind(err, apperrors.NotImplementedKind))
}
