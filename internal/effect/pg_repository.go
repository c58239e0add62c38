package effect

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
)

// PGRepository implements EffectSource and ExecutionRecorder over
// Postgres, mirroring branch.PGRepository/merge.PGRepository's direct-SQL-
// over-pgtx.DBTX structure.
type PGRepository struct {
	db pgtx.DBTX
}

func NewPGRepository(db pgtx.DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// WithTx returns a repository bound to tx, so a resolution's execution
// rows and the final version write commit as part of the same
// serializable transaction.
func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{db: tx}
}

func (r *PGRepository) ListEffects(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.Effect, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, entity_type, entity_id, name, effect_type, payload, timing, priority, is_active, created_at, created_by
		FROM effects
		WHERE entity_type = $1 AND entity_id = $2 AND is_active = true
		ORDER BY created_at ASC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Effect
	for rows.Next() {
		var eff domain.Effect
		var payloadJSON []byte
		if err := rows.Scan(&eff.ID, &eff.EntityType, &eff.EntityID, &eff.Name, &eff.EffectType, &payloadJSON, &eff.Timing, &eff.Priority, &eff.IsActive, &eff.CreatedAt, &eff.CreatedBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payloadJSON, &eff.Payload); err != nil {
			return nil, err
		}
		out = append(out, eff)
	}
	return out, rows.Err()
}

func (r *PGRepository) InsertEffect(ctx context.Context, eff *domain.Effect) error {
	payloadJSON, err := json.Marshal(eff.Payload)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO effects (id, entity_type, entity_id, name, effect_type, payload, timing, priority, is_active, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		eff.ID, eff.EntityType, eff.EntityID, eff.Name, eff.EffectType, payloadJSON, eff.Timing, eff.Priority, eff.IsActive, eff.CreatedAt, eff.CreatedBy)
	return err
}

func (r *PGRepository) Insert(ctx context.Context, e *domain.EffectExecution) error {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO effect_executions (id, effect_id, entity_type, entity_id, executed_at, executed_by, context, result, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.EffectID, e.EntityType, e.EntityID, e.ExecutedAt, e.ExecutedBy, contextJSON, resultJSON, e.Error)
	return err
}

// ForEntity lists the execution history for one entity, most recent
// first - the supplemental audit-trail read path alongside
// collaborators.AuditLogger's external log.
func (r *PGRepository) ForEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.EffectExecution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, effect_id, entity_type, entity_id, executed_at, executed_by, context, result, error
		FROM effect_executions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY executed_at DESC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.EffectExecution
	for rows.Next() {
		var e domain.EffectExecution
		var contextJSON, resultJSON []byte
		if err := rows.Scan(&e.ID, &e.EffectID, &e.EntityType, &e.EntityID, &e.ExecutedAt, &e.ExecutedBy, &contextJSON, &resultJSON, &e.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
