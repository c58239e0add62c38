package branch

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
)

// PGRepository implements Repository over Postgres, mirroring
// version.PGRepository's direct-SQL-over-pgtx.DBTX structure.
type PGRepository struct {
	db pgtx.DBTX
}

func NewPGRepository(db pgtx.DBTX) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{db: tx}
}

const branchColumns = `id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by`

func scanBranch(row pgx.Row) (*domain.Branch, error) {
	var b domain.Branch
	if err := row.Scan(&b.ID, &b.CampaignID, &b.Name, &b.Description, &b.ParentID, &b.DivergedAt, &b.CreatedAt, &b.CreatedBy); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (*domain.Branch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)
	return scanBranch(row)
}

func (r *PGRepository) GetByName(ctx context.Context, campaignID, name string) (*domain.Branch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE campaign_id = $1 AND name = $2`, campaignID, name)
	b, err := scanBranch(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PGRepository) Insert(ctx context.Context, b *domain.Branch) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO branches (id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.CampaignID, b.Name, b.Description, b.ParentID, b.DivergedAt, b.CreatedAt, b.CreatedBy)
	return err
}

func (r *PGRepository) Children(ctx context.Context, id string) ([]*domain.Branch, error) {
	rows, err := r.db.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE parent_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM branches WHERE id = $1`, id)
	return err
}
