package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"citizen-grievance-platform/api/internal/models"
)

const (
	EscalationStatusOpen         = "open"
	EscalationStatusAcknowledged = "acknowledged"
)

type EscalationsRepo struct {
	pool *pgxpool.Pool
}

func NewEscalationsRepo(pool *pgxpool.Pool) *EscalationsRepo {
	return &EscalationsRepo{pool: pool}
}

// CreateIfAbsent raises an escalation unless the complaint already has an
// open one; the scan worker runs every few minutes and must not stack
// duplicates for the same breach.
func (r *EscalationsRepo) CreateIfAbsent(ctx context.Context, e models.Escalation) (models.Escalation, bool, error) {
	if e.EscalationID == uuid.Nil {
		e.EscalationID = uuid.New()
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = EscalationStatusOpen
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO escalations (escalation_id, complaint_id, ward_id, type, status, deadline, detected_at, message)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM escalations WHERE complaint_id = $2 AND status = $5
		)
	`, e.EscalationID, e.ComplaintID, e.WardID, e.Type, e.Status, e.Deadline, e.DetectedAt, e.Message)
	if err != nil {
		return models.Escalation{}, false, err
	}
	return e, tag.RowsAffected() > 0, nil
}

func (r *EscalationsRepo) List(ctx context.Context, wardID string, status string, limit int) ([]models.Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT escalation_id, complaint_id, ward_id, type, status, deadline, detected_at, acked_at, acked_by, message
		FROM escalations
		WHERE ($1 = '' OR ward_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY detected_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, wardID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Escalation
	for rows.Next() {
		var e models.Escalation
		if err := rows.Scan(&e.EscalationID, &e.ComplaintID, &e.WardID, &e.Type, &e.Status, &e.Deadline, &e.DetectedAt, &e.AckedAt, &e.AckedBy, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EscalationsRepo) Acknowledge(ctx context.Context, escalationID uuid.UUID, ackedBy string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escalations
		SET status = $2, acked_at = now(), acked_by = $3
		WHERE escalation_id = $1 AND status = $4
	`, escalationID, EscalationStatusAcknowledged, ackedBy, EscalationStatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
