package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/reports"
	"citizen-grievance-platform/shared/events"
)

type ComplaintsRepo struct {
	pool   *pgxpool.Pool
	outbox *OutboxRepo
}

func NewComplaintsRepo(pool *pgxpool.Pool, outbox *OutboxRepo) *ComplaintsRepo {
	return &ComplaintsRepo{pool: pool, outbox: outbox}
}

// complaintColumns derives reopened_at from the status log so the SLA clock
// anchor is always the most recent reopen transition, never a stale column.
const complaintColumns = `
	c.complaint_id, c.type, c.status, c.priority, c.ward_id, c.sub_zone_id,
	c.description, c.submitted_on, c.resolved_on, c.closed_on,
	(
		SELECT MAX(l.occurred_at)
		FROM complaint_status_log l
		WHERE l.complaint_id = c.complaint_id AND l.to_status = 'reopened'
	) AS reopened_at,
	c.deadline, c.rating, c.created_at, c.updated_at`

func scanComplaint(row pgx.Row) (models.Complaint, error) {
	var c models.Complaint
	err := row.Scan(
		&c.ComplaintID, &c.Type, &c.Status, &c.Priority, &c.WardID, &c.SubZoneID,
		&c.Description, &c.SubmittedOn, &c.ResolvedOn, &c.ClosedOn,
		&c.ReopenedOn, &c.Deadline, &c.Rating, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *ComplaintsRepo) Create(ctx context.Context, c models.Complaint) (models.Complaint, error) {
	if c.ComplaintID == uuid.Nil {
		c.ComplaintID = uuid.New()
	}
	now := time.Now().UTC()
	if c.SubmittedOn.IsZero() {
		c.SubmittedOn = now
	}
	if c.Status == "" {
		c.Status = lifecycle.StatusRegistered
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO complaints (
			complaint_id, type, status, priority, ward_id, sub_zone_id,
			description, submitted_on, deadline, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING complaint_id, created_at, updated_at
	`, c.ComplaintID, c.Type, c.Status, c.Priority, c.WardID, c.SubZoneID,
		c.Description, c.SubmittedOn, c.Deadline, now).
		Scan(&c.ComplaintID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *ComplaintsRepo) GetByID(ctx context.Context, complaintID uuid.UUID) (models.Complaint, error) {
	return scanComplaint(r.pool.QueryRow(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints c
		WHERE c.complaint_id = $1
	`, complaintID))
}

// FetchComplaints returns the full unpaginated filtered set; aggregate math
// runs over this slice, a single bounded query per report.
func (r *ComplaintsRepo) FetchComplaints(ctx context.Context, f reports.AggregationFilter) ([]models.Complaint, error) {
	where, args := filterClause(f)
	rows, err := r.pool.Query(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints c
		`+where+`
		ORDER BY c.submitted_on DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListComplaints is the paginated row listing for report tables; the
// aggregate figures always come from FetchComplaints instead.
func (r *ComplaintsRepo) ListComplaints(ctx context.Context, f reports.AggregationFilter) ([]models.Complaint, error) {
	where, args := filterClause(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+complaintColumns+`
		FROM complaints c
		%s
		ORDER BY c.submitted_on DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ComplaintsRepo) GroupedCounts(ctx context.Context, f reports.AggregationFilter, dimensions ...string) ([]models.GroupCount, error) {
	cols := make([]string, 0, len(dimensions))
	for _, dim := range dimensions {
		switch dim {
		case "ward_id", "sub_zone_id", "type", "status":
			cols = append(cols, "c."+dim)
		default:
			return nil, fmt.Errorf("unsupported group dimension %q", dim)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("at least one group dimension is required")
	}
	where, args := filterClause(f)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*)
		FROM complaints c
		%s
		GROUP BY %s
	`, strings.Join(cols, ", "), where, strings.Join(cols, ", "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupCount
	for rows.Next() {
		gc := models.GroupCount{}
		dests := make([]any, 0, len(dimensions)+1)
		var subZone *string
		for _, dim := range dimensions {
			switch dim {
			case "ward_id":
				dests = append(dests, &gc.WardID)
			case "sub_zone_id":
				dests = append(dests, &subZone)
			case "type":
				dests = append(dests, &gc.Type)
			case "status":
				var status string
				dests = append(dests, &status)
			}
		}
		dests = append(dests, &gc.Count)
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		if subZone != nil {
			gc.SubZoneID = *subZone
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

// TransitionComplaint validates and applies a status transition under a row
// lock, appends the status log entry, and stages the outbox event in the
// same transaction. lifecycle.ErrInvalidTransition is returned unwrapped so
// handlers can map it to a 409.
func (r *ComplaintsRepo) TransitionComplaint(ctx context.Context, complaintID uuid.UUID, toStatus string, actor string, comment string) (models.Complaint, models.StatusLogEntry, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	c, err := scanComplaint(tx.QueryRow(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints c
		WHERE c.complaint_id = $1
		FOR UPDATE OF c
	`, complaintID))
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}

	fromStatus := c.Status
	entry, err := lifecycle.Transition(&c, toStatus, actor, comment, time.Now().UTC())
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}
	// The log entry and the outbox envelope share one id, so consumers that
	// project the event back into the log land on the existing row.
	entry.EntryID = uuid.New()

	_, err = tx.Exec(ctx, `
		UPDATE complaints
		SET status = $2, resolved_on = $3, closed_on = $4, updated_at = $5
		WHERE complaint_id = $1
	`, c.ComplaintID, c.Status, c.ResolvedOn, c.ClosedOn, c.UpdatedAt)
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}

	entry, err = appendStatusLog(ctx, tx, entry)
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}

	payload, err := json.Marshal(events.StatusChangedPayload{
		ComplaintID: c.ComplaintID,
		FromStatus:  fromStatus,
		ToStatus:    c.Status,
		Actor:       actor,
		Comment:     comment,
		OccurredAt:  entry.OccurredAt,
	})
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}
	envelope := events.Envelope{
		EventID:       entry.EntryID,
		OccurredAt:    entry.OccurredAt,
		AggregateType: events.AggregateComplaint,
		AggregateID:   c.ComplaintID,
		EventType:     events.EventStatusChanged,
		WardID:        c.WardID,
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}
	if _, err = r.outbox.Insert(ctx, tx, models.OutboxEvent{
		EventID:       envelope.EventID,
		AggregateType: events.AggregateComplaint,
		AggregateID:   c.ComplaintID,
		Topic:         events.TopicComplaintStatus,
		Payload:       body,
	}); err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Complaint{}, models.StatusLogEntry{}, err
	}
	return c, entry, nil
}

// IngestStatusLogEntry records an externally observed transition. The insert
// is idempotent on entry_id so replayed events are harmless.
func (r *ComplaintsRepo) IngestStatusLogEntry(ctx context.Context, entry models.StatusLogEntry) (bool, error) {
	if entry.EntryID == uuid.Nil {
		entry.EntryID = uuid.New()
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO complaint_status_log (entry_id, complaint_id, from_status, to_status, actor, comment, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entry_id) DO NOTHING
	`, entry.EntryID, entry.ComplaintID, entry.FromStatus, entry.ToStatus, entry.Actor, entry.Comment, entry.OccurredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ComplaintsRepo) StatusLog(ctx context.Context, complaintID uuid.UUID) ([]models.StatusLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entry_id, complaint_id, from_status, to_status, actor, comment, occurred_at
		FROM complaint_status_log
		WHERE complaint_id = $1
		ORDER BY occurred_at ASC
	`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusLogEntry
	for rows.Next() {
		var e models.StatusLogEntry
		if err := rows.Scan(&e.EntryID, &e.ComplaintID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Comment, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActiveWithType returns active complaints for the escalation scan.
func (r *ComplaintsRepo) ListActiveWithType(ctx context.Context, limit int) ([]models.Complaint, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints c
		WHERE c.status IN ('registered', 'assigned', 'in_progress', 'reopened')
		ORDER BY c.submitted_on ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func appendStatusLog(ctx context.Context, db DBTX, entry models.StatusLogEntry) (models.StatusLogEntry, error) {
	if entry.EntryID == uuid.Nil {
		entry.EntryID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO complaint_status_log (entry_id, complaint_id, from_status, to_status, actor, comment, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING entry_id
	`, entry.EntryID, entry.ComplaintID, entry.FromStatus, entry.ToStatus, entry.Actor, entry.Comment, entry.OccurredAt).
		Scan(&entry.EntryID)
	return entry, err
}

func filterClause(f reports.AggregationFilter) (string, []any) {
	clauses := []string{"c.submitted_on >= $1", "c.submitted_on < $2"}
	args := []any{f.From, f.WindowEnd()}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.WardID != "" {
		add("c.ward_id = $%d", f.WardID)
	}
	if f.SubZoneID != "" {
		add("c.sub_zone_id = $%d", f.SubZoneID)
	}
	if f.Type != "" {
		add("c.type = $%d", f.Type)
	}
	if f.Status != "" {
		add("c.status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("c.priority = $%d", f.Priority)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
