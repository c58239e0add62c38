// Package domain holds the shared entity types described in spec §3: the
// handful of structs every component (version store, branch tree, merge
// engine, effect engine) passes around. Entity shells (Kingdom, Settlement,
// Structure, Encounter, Event, Location) are external relational rows per
// spec §3 and are represented here only by the (entityType, entityId) pair
// the core actually needs.
package domain

import "time"

// EntityType names one of the domain entities whose time-varying state
// lives in the Version Store.
type EntityType string

const (
	EntityCampaign   EntityType = "CAMPAIGN"
	EntityKingdom    EntityType = "KINGDOM"
	EntitySettlement EntityType = "SETTLEMENT"
	EntityStructure  EntityType = "STRUCTURE"
	EntityEncounter  EntityType = "ENCOUNTER"
	EntityEvent      EntityType = "EVENT"
	EntityLocation   EntityType = "LOCATION"
)

// EntityRef identifies one time-varying entity independent of branch/time.
type EntityRef struct {
	EntityType EntityType
	EntityID   string
}

// Branch is a named line of history within a campaign (spec §3).
type Branch struct {
	ID          string
	CampaignID  string
	Name        string
	Description string
	ParentID    *string
	DivergedAt  *time.Time
	CreatedAt   time.Time
	CreatedBy   string
}

// IsRoot reports whether the branch has no parent (spec §3 invariant (a)).
func (b *Branch) IsRoot() bool { return b.ParentID == nil }

// Payload is a free-form JSON document. The core treats it as opaque except
// where protected-path/array-identity rules require reading into it.
type Payload map[string]interface{}

// Version is one immutable half-open interval of an entity's payload on one
// branch (spec §3).
type Version struct {
	ID              string
	EntityType      EntityType
	EntityID        string
	BranchID        string
	ValidFrom       time.Time
	ValidTo         *time.Time // nil means open (+inf)
	Payload         Payload
	CreatedAt       time.Time
	CreatedBy       string
	ParentVersionID *string
}

// IsOpen reports whether this version's interval has no upper bound.
func (v *Version) IsOpen() bool { return v.ValidTo == nil }

// Covers reports whether world-time t falls within [ValidFrom, ValidTo).
func (v *Version) Covers(t time.Time) bool {
	if t.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || t.Before(*v.ValidTo)
}

// EffectTiming is the phase an Effect executes in (spec §4.9).
type EffectTiming string

const (
	TimingPre        EffectTiming = "PRE"
	TimingResolution EffectTiming = "RESOLUTION" // reserved
	TimingOnResolve  EffectTiming = "ON_RESOLVE"
	TimingPost       EffectTiming = "POST"
)

// PatchOp is one RFC 6902 JSON-patch operation.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Effect is a declarative, validated mutation applied during resolution
// (spec §3/§4.9).
type Effect struct {
	ID         string
	EntityType EntityType
	EntityID   string
	Name       string
	EffectType string // "patch", ...
	Payload    []PatchOp
	Timing     EffectTiming
	Priority   int
	IsActive   bool
	CreatedAt  time.Time
	CreatedBy  string
}

// EffectResult is the outcome recorded for one applied effect.
type EffectResult struct {
	Success        bool
	AffectedFields []string
}

// EffectExecution is an append-only record of one attempted effect
// application (spec §3).
type EffectExecution struct {
	ID          string
	EffectID    string
	EntityType  EntityType
	EntityID    string
	ExecutedAt  time.Time
	ExecutedBy  string
	Context     map[string]interface{}
	Result      EffectResult
	Error       *string
}

// ConflictResolution resolves one conflicting JSON path during a merge or
// cherry-pick (spec §4.8).
type ConflictResolution struct {
	EntityType   EntityType
	EntityID     string
	Path         string
	ResolvedValue interface{}
}

// Conflict describes one unresolved three-way diff disagreement at a path.
type Conflict struct {
	EntityType EntityType
	EntityID   string
	Path       string
	BaseValue  interface{}
	SourceValue interface{}
	TargetValue interface{}
}

// MergeHistory is one record of an executed merge (spec §3).
type MergeHistory struct {
	ID               string
	SourceBranchID   string
	TargetBranchID   string
	CommonAncestorID string
	MergedAt         time.Time
	MergedBy         string
	WorldTime        time.Time
	ConflictsCount   int
	EntitiesMerged   int
}
