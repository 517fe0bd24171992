package repos

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"citizen-grievance-platform/api/internal/models"
)

// TypeConfigRepo serves the structured type catalog plus the legacy flat
// key-value table; it satisfies catalog.Store.
type TypeConfigRepo struct {
	pool *pgxpool.Pool
}

func NewTypeConfigRepo(pool *pgxpool.Pool) *TypeConfigRepo {
	return &TypeConfigRepo{pool: pool}
}

func (r *TypeConfigRepo) GetTypeConfig(ctx context.Context, typeKey string) (models.ComplaintTypeConfig, bool, error) {
	var cfg models.ComplaintTypeConfig
	err := r.pool.QueryRow(ctx, `
		SELECT type_key, display_name, sla_hours, default_priority, updated_at
		FROM complaint_type_configs
		WHERE type_key = $1
	`, typeKey).Scan(&cfg.TypeKey, &cfg.DisplayName, &cfg.SLAHours, &cfg.DefaultPriority, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ComplaintTypeConfig{}, false, nil
	}
	if err != nil {
		return models.ComplaintTypeConfig{}, false, err
	}
	return cfg, true, nil
}

func (r *TypeConfigRepo) ListTypeConfigs(ctx context.Context) ([]models.ComplaintTypeConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type_key, display_name, sla_hours, default_priority, updated_at
		FROM complaint_type_configs
		ORDER BY type_key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ComplaintTypeConfig
	for rows.Next() {
		var cfg models.ComplaintTypeConfig
		if err := rows.Scan(&cfg.TypeKey, &cfg.DisplayName, &cfg.SLAHours, &cfg.DefaultPriority, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *TypeConfigRepo) GetLegacyValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `
		SELECT value FROM legacy_config WHERE key = $1
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *TypeConfigRepo) UpsertConfig(ctx context.Context, typeKey string, slaHours float64, description string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO complaint_type_configs (type_key, display_name, sla_hours, default_priority, updated_at)
		VALUES ($1, COALESCE(NULLIF($2, ''), $1), $3, 'medium', $4)
		ON CONFLICT (type_key)
		DO UPDATE SET sla_hours = EXCLUDED.sla_hours, updated_at = EXCLUDED.updated_at
	`, typeKey, description, slaHours, time.Now().UTC())
	return err
}
