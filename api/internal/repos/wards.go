package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"citizen-grievance-platform/api/internal/models"
)

type WardsRepo struct {
	pool *pgxpool.Pool
}

func NewWardsRepo(pool *pgxpool.Pool) *WardsRepo {
	return &WardsRepo{pool: pool}
}

func (r *WardsRepo) ListWards(ctx context.Context) ([]models.Ward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ward_id, name, is_active, created_at
		FROM wards
		WHERE is_active
		ORDER BY ward_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ward
	for rows.Next() {
		var w models.Ward
		if err := rows.Scan(&w.WardID, &w.Name, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WardsRepo) ListSubZones(ctx context.Context, wardID string) ([]models.SubZone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sub_zone_id, ward_id, name, is_active
		FROM sub_zones
		WHERE ward_id = $1 AND is_active
		ORDER BY sub_zone_id ASC
	`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SubZone
	for rows.Next() {
		var sz models.SubZone
		if err := rows.Scan(&sz.SubZoneID, &sz.WardID, &sz.Name, &sz.IsActive); err != nil {
			return nil, err
		}
		out = append(out, sz)
	}
	return out, rows.Err()
}

// ReportStore bundles the two repos behind the report engine's store surface.
type ReportStore struct {
	*ComplaintsRepo
	*WardsRepo
}

func NewReportStore(complaints *ComplaintsRepo, wards *WardsRepo) *ReportStore {
	return &ReportStore{ComplaintsRepo: complaints, WardsRepo: wards}
}
