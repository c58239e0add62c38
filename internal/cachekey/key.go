// Package cachekey implements the hierarchical cache key scheme from spec
// §4.1: prefix:[entityType]:[entityId]:*segments:branchId, branchId always
// last so a whole branch can be invalidated with "*:{branchId}".
package cachekey

import (
	"fmt"
	"strings"
)

// Params describes the pieces a cache key is built from.
type Params struct {
	Prefix     string
	EntityType string // optional; if empty, EntityID is dropped too
	EntityID   string
	Segments   []string // opaque middle segments beyond entityType/entityId
	BranchID   string
}

// Build joins Params into "prefix:[entityType]:[entityId]:*segments:branchId".
func Build(p Params) string {
	parts := []string{p.Prefix}
	if p.EntityType != "" {
		parts = append(parts, p.EntityType)
		if p.EntityID != "" {
			parts = append(parts, p.EntityID)
		}
	}
	parts = append(parts, p.Segments...)
	parts = append(parts, p.BranchID)
	return strings.Join(parts, ":")
}

// Parse splits a key on ":" into Params. The first segment is the prefix,
// the last is the branch; of the segments between, the first is returned as
// EntityType, the second as EntityID and the rest as Segments. Round-tripping
// parse(build(p)) == p therefore holds for params with both EntityType and
// EntityID set; a key built without them reads its first middle segments
// back as EntityType/EntityID.
func Parse(key string) (Params, error) {
	segs := strings.Split(key, ":")
	if len(segs) < 2 {
		return Params{}, fmt.Errorf("cachekey: invalid key %q: fewer than 2 segments", key)
	}
	prefix := segs[0]
	branchID := segs[len(segs)-1]
	middle := segs[1 : len(segs)-1]

	p := Params{Prefix: prefix, BranchID: branchID}
	if len(middle) > 0 {
		p.EntityType = middle[0]
	}
	if len(middle) > 1 {
		p.EntityID = middle[1]
	}
	if len(middle) > 2 {
		p.Segments = append([]string{}, middle[2:]...)
	}
	return p, nil
}

// PrefixPattern returns "{prefix}:*".
func PrefixPattern(prefix string) string {
	return prefix + ":*"
}

// EntityPattern returns "*:{type}:{id}:{branch}".
func EntityPattern(entityType, entityID, branchID string) string {
	return strings.Join([]string{"*", entityType, entityID, branchID}, ":")
}

// BranchPattern returns "*:{branch}", matching every key for a branch
// regardless of prefix/entity - used for branch-wide invalidation on branch
// deletion (spec §4.3).
func BranchPattern(branchID string) string {
	return "*:" + branchID
}
