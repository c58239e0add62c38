package merge

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
)

// PGRepository implements HistoryRecorder over Postgres, mirroring
// branch.PGRepository/version.PGRepository's direct-SQL-over-pgtx.DBTX
// structure.
type PGRepository struct {
	db pgtx.DBTX
}

func NewPGRepository(db pgtx.DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// WithTx returns a repository bound to tx, so a merge's history row commits
// as part of the same serializable transaction as its version writes.
func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{db: tx}
}

func (r *PGRepository) Insert(ctx context.Context, h *domain.MergeHistory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO merge_history (id, source_branch_id, target_branch_id, common_ancestor_id, merged_at, merged_by, world_time, conflicts_count, entities_merged)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		h.ID, h.SourceBranchID, h.TargetBranchID, h.CommonAncestorID, h.MergedAt, h.MergedBy, h.WorldTime, h.ConflictsCount, h.EntitiesMerged)
	return err
}

// ForCampaign lists merge history rows touching any branch in the given
// set as source or target, most recent first.
func (r *PGRepository) ForCampaign(ctx context.Context, branchIDs []string) ([]*domain.MergeHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source_branch_id, target_branch_id, common_ancestor_id, merged_at, merged_by, world_time, conflicts_count, entities_merged
		FROM merge_history
		WHERE source_branch_id = ANY($1) OR target_branch_id = ANY($1)
		ORDER BY merged_at DESC`, branchIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MergeHistory
	for rows.Next() {
		var h domain.MergeHistory
		if err := rows.Scan(&h.ID, &h.SourceBranchID, &h.TargetBranchID, &h.CommonAncestorID, &h.MergedAt, &h.MergedBy, &h.WorldTime, &h.ConflictsCount, &h.EntitiesMerged); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
