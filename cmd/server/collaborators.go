package main

import (
	"context"
	"time"

	"github.com/jakekausler/campaign-manager/internal/collaborators"
	"github.com/jakekausler/campaign-manager/internal/logging"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
)

// dbMembershipChecker implements collaborators.MembershipChecker against
// the CampaignMembership table spec §6 names. It is the one concrete
// adapter cmd/server wires in place of the core's collaborator interface.
type dbMembershipChecker struct {
	db pgtx.DBTX
}

func (c *dbMembershipChecker) CanEdit(ctx context.Context, user collaborators.AuthenticatedUser, campaignID string) (bool, error) {
	var canEdit bool
	err := c.db.QueryRow(ctx, `
		SELECT can_edit FROM campaign_memberships WHERE user_id = $1 AND campaign_id = $2`,
		user.ID, campaignID).Scan(&canEdit)
	if err != nil {
		return false, err
	}
	return canEdit, nil
}

// dbAuditLogger implements collaborators.AuditLogger against the Audit
// table spec §6 names. Log failures never surface to the caller - a
// broken audit sink must not unwind a mutation that already committed.
type dbAuditLogger struct {
	db pgtx.DBTX
}

func (a *dbAuditLogger) Log(ctx context.Context, entry collaborators.AuditEntry) {
	_, err := a.db.Exec(ctx, `
		INSERT INTO audit (id, user_id, action, entity_type, entity_id, before, after, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)`,
		entry.User.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Before, entry.After, time.Now())
	if err != nil {
		logging.WithComponent("audit").WithError(err).Warn("failed to record audit entry")
	}
}

// dbShellLookup implements cascade.ShellLookup against the Structure
// table's settlementId foreign key (spec §6's Structure(settlementId)).
type dbShellLookup struct {
	db pgtx.DBTX
}

func (s *dbShellLookup) SettlementForStructure(ctx context.Context, structureID string) (string, error) {
	var settlementID string
	err := s.db.QueryRow(ctx, `SELECT settlement_id FROM structures WHERE id = $1`, structureID).Scan(&settlementID)
	if err != nil {
		return "", err
	}
	return settlementID, nil
}
