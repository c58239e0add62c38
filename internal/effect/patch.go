// Package effect implements the Effect Engine (C9): patch validation,
// priority/timing ordering, three-phase resolution, and execution records
// (spec §4.9).
package effect

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jakekausler/campaign-manager/internal/domain"
)

// defaultProtectedPrefixes are rejected for every entity type, regardless
// of PathPolicy (spec §4.9's protected-prefix list).
var defaultProtectedPrefixes = []string{
	"/id", "/createdAt", "/updatedAt", "/version", "/deletedAt", "/archivedAt", "/campaignId",
}

// PathPolicy is the per-entity-type allow-list/protected-relationship
// registry spec §4.9 leaves implementation-defined ("another per-entity-
// type allow-list prefix"; "relationships keys listed per entity").
type PathPolicy struct {
	Allowed                map[domain.EntityType][]string
	ProtectedRelationships map[domain.EntityType][]string
}

// DefaultPathPolicy matches every entity type's payload shape in this
// repo: a free-form `variables` object is the one thing effects may touch,
// and the relational foreign keys linking shells together are protected.
func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		Allowed: map[domain.EntityType][]string{
			domain.EntityEncounter:  {"/variables/"},
			domain.EntityEvent:      {"/variables/"},
			domain.EntitySettlement: {"/variables/"},
			domain.EntityStructure:  {"/variables/"},
			domain.EntityKingdom:    {"/variables/"},
		},
		ProtectedRelationships: map[domain.EntityType][]string{
			domain.EntityStructure:  {"/settlementId"},
			domain.EntitySettlement: {"/kingdomId", "/locationId"},
		},
	}
}

func hasPrefixPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix)
}

// validateOpPath rejects protected and non-allow-listed paths. The error
// text contains "protected" exactly when a protected prefix triggered the
// rejection, per spec §4.9's EffectExecution.error contract.
func (p PathPolicy) validateOpPath(entityType domain.EntityType, path string) error {
	for _, prefix := range defaultProtectedPrefixes {
		if hasPrefixPath(path, prefix) {
			return fmt.Errorf("path %q touches protected field %q", path, prefix)
		}
	}
	for _, prefix := range p.ProtectedRelationships[entityType] {
		if hasPrefixPath(path, prefix) {
			return fmt.Errorf("path %q touches protected relationship field %q", path, prefix)
		}
	}
	allowed := p.Allowed[entityType]
	if len(allowed) == 0 {
		allowed = []string{"/variables/"}
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return fmt.Errorf("path %q is not under an allowed prefix for %s", path, entityType)
}

// pointerToGJSONPath converts an RFC 6901 JSON pointer ("/variables/gold")
// into the dot-separated path gjson/sjson expect ("variables.gold"),
// unescaping "~1"/"~0" per the pointer spec.
func pointerToGJSONPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	segments := strings.Split(pointer, "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = seg
	}
	return strings.Join(segments, ".")
}

// validatePatchStructure checks ops form a structurally valid RFC 6902
// patch document (known op verbs, well-formed operations), delegating to
// evanphx/json-patch's own decoder rather than re-implementing the RFC.
func validatePatchStructure(ops []domain.PatchOp) error {
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	if _, err := jsonpatch.DecodePatch(raw); err != nil {
		return fmt.Errorf("invalid patch document: %w", err)
	}
	return nil
}

// validatePatch implements spec §4.9's "patch validation" step: the patch
// must be structurally valid AND every operation's path must clear the
// protected/allow-list policy. A single bad op fails the whole effect.
func validatePatch(policy PathPolicy, entityType domain.EntityType, ops []domain.PatchOp) error {
	if err := validatePatchStructure(ops); err != nil {
		return err
	}
	for _, op := range ops {
		if err := policy.validateOpPath(entityType, op.Path); err != nil {
			return err
		}
	}
	return nil
}

// applyPatch applies ops to docBytes one at a time via gjson (existence
// pre-check for replace/remove) and sjson (the actual set/delete), so a
// failing op can be attributed to its own path rather than a bulk apply
// error. Returns the new document and the list of paths touched; on any
// per-op failure, returns the ORIGINAL docBytes unchanged (no partial
// effect) and the failing error.
func applyPatch(docBytes []byte, ops []domain.PatchOp) ([]byte, []string, error) {
	cur := docBytes
	affected := make([]string, 0, len(ops))
	for _, op := range ops {
		gpath := pointerToGJSONPath(op.Path)
		switch op.Op {
		case "remove":
			if !gjson.GetBytes(cur, gpath).Exists() {
				return docBytes, nil, fmt.Errorf("remove %q: path not present", op.Path)
			}
			next, err := sjson.DeleteBytes(cur, gpath)
			if err != nil {
				return docBytes, nil, fmt.Errorf("remove %q: %w", op.Path, err)
			}
			cur = next
		case "replace":
			if !gjson.GetBytes(cur, gpath).Exists() {
				return docBytes, nil, fmt.Errorf("replace %q: path not present", op.Path)
			}
			next, err := sjson.SetBytes(cur, gpath, op.Value)
			if err != nil {
				return docBytes, nil, fmt.Errorf("replace %q: %w", op.Path, err)
			}
			cur = next
		case "add":
			next, err := sjson.SetBytes(cur, gpath, op.Value)
			if err != nil {
				return docBytes, nil, fmt.Errorf("add %q: %w", op.Path, err)
			}
			cur = next
		default:
			return docBytes, nil, fmt.Errorf("unsupported op %q at %q", op.Op, op.Path)
		}
		affected = append(affected, op.Path)
	}
	return cur, affected, nil
}
