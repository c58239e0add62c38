package version

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
)

// PGRepository implements Repository over Postgres via pgx, following
// evalgo-org-eve/db/postgres_pgx.go's pattern of direct SQL over a pooled
// connection rather than an ORM. Payloads are gzip-compressed before
// storage (spec §4.4's "payload compression" - the on-wire representation
// is implementation-defined; gzip+JSON is this implementation's choice)
// and transparently decompressed on read.
type PGRepository struct {
	db pgtx.DBTX
}

func NewPGRepository(db pgtx.DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// WithTx returns a repository bound to tx, so CreateVersion's find/close/
// insert sequence commits atomically (spec §4.4).
func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{db: tx}
}

func compressPayload(p domain.Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressPayload(data []byte) (domain.Payload, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	var p domain.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

const versionColumns = `id, entity_type, entity_id, branch_id, valid_from, valid_to, payload, created_at, created_by, parent_version_id`

func scanVersion(row pgx.Row) (*domain.Version, error) {
	var v domain.Version
	var compressed []byte
	var validTo *time.Time
	var parentVersionID *string
	if err := row.Scan(&v.ID, &v.EntityType, &v.EntityID, &v.BranchID, &v.ValidFrom, &validTo, &compressed, &v.CreatedAt, &v.CreatedBy, &parentVersionID); err != nil {
		return nil, err
	}
	payload, err := decompressPayload(compressed)
	if err != nil {
		return nil, err
	}
	v.ValidTo = validTo
	v.ParentVersionID = parentVersionID
	v.Payload = payload
	return &v, nil
}

func (r *PGRepository) FindOpenInterval(ctx context.Context, entityType domain.EntityType, entityID, branchID string) (*domain.Version, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3 AND valid_to IS NULL
		FOR UPDATE`, entityType, entityID, branchID)
	v, err := scanVersion(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PGRepository) CloseInterval(ctx context.Context, versionID string, validTo time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE versions SET valid_to = $2 WHERE id = $1`, versionID, validTo)
	return err
}

func (r *PGRepository) Insert(ctx context.Context, v *domain.Version) error {
	compressed, err := compressPayload(v.Payload)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO versions (id, entity_type, entity_id, branch_id, valid_from, valid_to, payload, created_at, created_by, parent_version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.EntityType, v.EntityID, v.BranchID, v.ValidFrom, v.ValidTo, compressed, v.CreatedAt, v.CreatedBy, v.ParentVersionID)
	return err
}

func (r *PGRepository) Get(ctx context.Context, versionID string) (*domain.Version, error) {
	row := r.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("version %s not found", versionID)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PGRepository) ListForEntity(ctx context.Context, entityType domain.EntityType, entityID, branchID string) ([]*domain.Version, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		ORDER BY valid_from ASC`, entityType, entityID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ResolveAt returns the latest version on branchID whose interval covers t,
// or nil if none. It is the single-branch primitive the Version Resolver
// (C6) composes across an ancestry chain.
func (r *PGRepository) ResolveAt(ctx context.Context, entityType domain.EntityType, entityID, branchID string, t time.Time) (*domain.Version, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		  AND valid_from <= $4 AND (valid_to IS NULL OR valid_to > $4)
		ORDER BY valid_from DESC
		LIMIT 1`, entityType, entityID, branchID, t)
	v, err := scanVersion(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EntitiesTouchedUpTo enumerates every (entityType, entityId) with at least
// one version on branchID with validFrom <= t. Fork (C7) and Merge (C8)
// both need this set.
func (r *PGRepository) EntitiesTouchedUpTo(ctx context.Context, branchID string, t time.Time) ([]domain.EntityRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT entity_type, entity_id
		FROM versions
		WHERE branch_id = $1 AND valid_from <= $2`, branchID, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteForBranch removes every version belonging to branchID, used by
// administrative branch deletion (SPEC_FULL.md's supplemental
// branch.Delete operation).
func (r *PGRepository) DeleteForBranch(ctx context.Context, branchID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM versions WHERE branch_id = $1`, branchID)
	return err
}
