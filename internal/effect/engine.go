package effect

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
	"github.com/jakekausler/campaign-manager/internal/collaborators"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/logging"
)

// Resolver resolves an entity's current version on a branch; matches
// resolver.Resolver.Resolve evaluated at the current moment.
type Resolver interface {
	Resolve(ctx context.Context, entityType domain.EntityType, entityID, branchID string, worldTime time.Time) (*domain.Version, error)
}

// VersionWriter persists the post-resolution payload as a new version;
// matches version.Store.CreateVersion.
type VersionWriter interface {
	CreateVersion(ctx context.Context, entityType domain.EntityType, entityID, branchID string, validFrom time.Time, validTo *time.Time, payload domain.Payload, user string, parentVersionID *string) (*domain.Version, error)
}

// EffectSource lists the active effects registered against an entity.
type EffectSource interface {
	ListEffects(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.Effect, error)
}

// ExecutionRecorder persists one EffectExecution row per attempted effect.
type ExecutionRecorder interface {
	Insert(ctx context.Context, e *domain.EffectExecution) error
}

// Engine implements the Effect Engine's operations (spec §4.9).
type Engine struct {
	membership collaborators.MembershipChecker
	resolver   Resolver
	writer     VersionWriter
	effects    EffectSource
	executions ExecutionRecorder
	policy     PathPolicy
}

func New(membership collaborators.MembershipChecker, resolver Resolver, writer VersionWriter, effects EffectSource, executions ExecutionRecorder, policy PathPolicy) *Engine {
	return &Engine{membership: membership, resolver: resolver, writer: writer, effects: effects, executions: executions, policy: policy}
}

// PhaseSummary is one phase's {total, succeeded, failed} tally (spec
// §4.9's effectSummary).
type PhaseSummary struct {
	Total     int
	Succeeded int
	Failed    int
}

// EffectSummary is the full per-phase tally returned by ResolveEntity.
type EffectSummary struct {
	Pre       PhaseSummary
	OnResolve PhaseSummary
	Post      PhaseSummary
}

// ResolveParams is ResolveEntity's input.
type ResolveParams struct {
	EntityType domain.EntityType
	EntityID   string
	BranchID   string
	CampaignID string
	User       collaborators.AuthenticatedUser
}

// ResolveResult is ResolveEntity's output.
type ResolveResult struct {
	Entity        *domain.Version
	EffectSummary EffectSummary
}

// resolvedFieldsFor returns the payload boolean flag and timestamp field
// this entity type's resolution workflow sets - encounters set
// isResolved/resolvedAt, events set isCompleted/occurredAt (spec §4.9
// "mark the encounter/event as resolved/completed and set
// resolvedAt/occurredAt").
func resolvedFieldsFor(entityType domain.EntityType) (flag, timestamp string) {
	if entityType == domain.EntityEvent {
		return "isCompleted", "occurredAt"
	}
	return "isResolved", "resolvedAt"
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// ResolveEntity implements spec §4.9's resolution workflow: PRE →
// ON_RESOLVE → POST, one final version write, one EffectExecution row per
// attempted effect. Callers wrap this in one transaction binding
// writer/effects/executions to it, per spec §5(a).
func (e *Engine) ResolveEntity(ctx context.Context, p ResolveParams) (*ResolveResult, error) {
	log := logging.WithComponent("effect")

	canEdit, err := e.membership.CanEdit(ctx, p.User, p.CampaignID)
	if err != nil || !canEdit {
		return nil, apperrors.NotFoundErr("CampaignNotFound", "caller lacks edit access or campaign does not exist")
	}

	current, err := e.resolver.Resolve(ctx, p.EntityType, p.EntityID, p.BranchID, time.Now())
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NotFoundErr("EntityNotFound", "entity does not exist on this branch")
	}

	flagField, tsField := resolvedFieldsFor(p.EntityType)
	if truthy(current.Payload[flagField]) {
		return nil, apperrors.BadRequestErr("AlreadyResolved", "entity is already resolved")
	}

	allEffects, err := e.effects.ListEffects(ctx, p.EntityType, p.EntityID)
	if err != nil {
		return nil, apperrors.TransientErr(err, "DB_ERROR", "failed to list effects")
	}

	docBytes, err := json.Marshal(current.Payload)
	if err != nil {
		return nil, apperrors.BadRequestErr("InvalidPayload", "payload is not valid JSON")
	}

	var summary EffectSummary
	docBytes, summary.Pre, err = e.runPhase(ctx, p, docBytes, orderedByTiming(allEffects, domain.TimingPre))
	if err != nil {
		return nil, err
	}
	docBytes, summary.OnResolve, err = e.runPhase(ctx, p, docBytes, orderedByTiming(allEffects, domain.TimingOnResolve))
	if err != nil {
		return nil, err
	}
	docBytes, summary.Post, err = e.runPhase(ctx, p, docBytes, orderedByTiming(allEffects, domain.TimingPost))
	if err != nil {
		return nil, err
	}

	var final domain.Payload
	if err := json.Unmarshal(docBytes, &final); err != nil {
		return nil, apperrors.TransientErr(err, "ENCODE_ERROR", "failed to decode working copy")
	}
	final[flagField] = true
	final[tsField] = time.Now()

	newVersion, err := e.writer.CreateVersion(ctx, p.EntityType, p.EntityID, p.BranchID, time.Now(), nil, final, p.User.ID, &current.ID)
	if err != nil {
		return nil, err
	}

	log.WithField("entityId", p.EntityID).WithField("pre", summary.Pre).
		WithField("onResolve", summary.OnResolve).WithField("post", summary.Post).
		Info("resolution executed")

	return &ResolveResult{Entity: newVersion, EffectSummary: summary}, nil
}

// orderedByTiming selects the active effects for one phase, ordered by
// ascending priority then stable (creation) order (spec §4.9).
func orderedByTiming(effects []domain.Effect, timing domain.EffectTiming) []domain.Effect {
	var out []domain.Effect
	for _, eff := range effects {
		if eff.IsActive && eff.Timing == timing {
			out = append(out, eff)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// runPhase executes one ordered list of effects against docBytes,
// recording one EffectExecution per attempt. A failing effect does not
// short-circuit the phase: later effects still run against the last
// successfully-applied working copy (spec §4.9 "Failed effects do not
// short-circuit").
func (e *Engine) runPhase(ctx context.Context, p ResolveParams, docBytes []byte, effects []domain.Effect) ([]byte, PhaseSummary, error) {
	var summary PhaseSummary
	for _, eff := range effects {
		summary.Total++
		execution := &domain.EffectExecution{
			ID:         uuid.NewString(),
			EffectID:   eff.ID,
			EntityType: p.EntityType,
			EntityID:   p.EntityID,
			ExecutedAt: time.Now(),
			ExecutedBy: p.User.ID,
		}

		if err := validatePatch(e.policy, eff.EntityType, eff.Payload); err != nil {
			summary.Failed++
			msg := err.Error()
			execution.Result = domain.EffectResult{Success: false}
			execution.Error = &msg
		} else if next, affected, err := applyPatch(docBytes, eff.Payload); err != nil {
			summary.Failed++
			msg := err.Error()
			execution.Result = domain.EffectResult{Success: false}
			execution.Error = &msg
		} else {
			docBytes = next
			summary.Succeeded++
			execution.Result = domain.EffectResult{Success: true, AffectedFields: affected}
		}

		if e.executions != nil {
			if err := e.executions.Insert(ctx, execution); err != nil {
				return docBytes, summary, apperrors.TransientErr(err, "DB_ERROR", "failed to record effect execution")
			}
		}
	}
	return docBytes, summary, nil
}

// ExecuteWithDependenciesParams is executeEffectsWithDependencies'
// reserved input (spec §4.9).
type ExecuteWithDependenciesParams struct {
	EffectIDs []string
	Context   map[string]interface{}
	User      collaborators.AuthenticatedUser
}

// ExecuteWithDependencies is reserved: it must topologically sort effects
// by read/write variable dependencies and reject cycles with BadRequest
// once implemented. No implementation here provides that sort yet, so it
// raises NotImplemented per spec §4.9/§9(3) rather than silently falling
// back to unordered execution.
func (e *Engine) ExecuteWithDependencies(_ context.Context, _ ExecuteWithDependenciesParams) (*ResolveResult, error) {
	return nil, apperrors.NotImplementedErr("NOT_IMPLEMENTED", "executeEffectsWithDependencies is reserved")
}
