package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"citizen-grievance-platform/api/internal/catalog"
	"citizen-grievance-platform/shared/metricsx"
	"citizen-grievance-platform/shared/scopex"
)

const (
	RowDimensionWard    = "ward"
	RowDimensionSubZone = "sub_zone"
)

// Matrix is a region-by-type count grid for the heat-map view. Columns are
// ordered by descending observed frequency; rows cover every known region in
// scope, including those with zero activity, so grids stay aligned across
// filters.
type Matrix struct {
	RowDimension string   `json:"row_dimension"`
	RowIDs       []string `json:"row_ids"`
	RowLabels    []string `json:"row_labels"`
	ColumnKeys   []string `json:"column_keys"`
	ColumnLabels []string `json:"column_labels"`
	Cells        [][]int  `json:"cells"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// BuildMatrix builds the distribution grid under the actor's scope. Rows are
// wards for cross-ward actors; when the effective filter pins a single ward,
// rows switch to that ward's sub-zones. Column labels resolve through the
// same type-key fallback chain the aggregate report uses.
func (e *Engine) BuildMatrix(ctx context.Context, f AggregationFilter, scope scopex.Scope) (Matrix, error) {
	start := time.Now()
	defer func() { metricsx.ObserveReportBuild("matrix", time.Since(start)) }()

	f = ApplyScope(f, scope)
	rowDimension := RowDimensionWard
	if f.WardID != "" {
		rowDimension = RowDimensionSubZone
	}

	dims := []string{"ward_id", "type"}
	if rowDimension == RowDimensionSubZone {
		dims = []string{"sub_zone_id", "type"}
	}
	counts, err := e.store.GroupedCounts(ctx, f, dims...)
	if err != nil {
		return Matrix{}, fmt.Errorf("grouped counts: %w", err)
	}

	rowIDs, rowLabels, err := e.matrixRows(ctx, rowDimension, f.WardID)
	if err != nil {
		return Matrix{}, err
	}

	typeTotals := map[string]int{}
	cellCounts := map[string]map[string]int{}
	for _, gc := range counts {
		rowID := gc.WardID
		if rowDimension == RowDimensionSubZone {
			rowID = gc.SubZoneID
		}
		key := catalog.NormalizeKey(gc.Type)
		typeTotals[key] += gc.Count
		if cellCounts[rowID] == nil {
			cellCounts[rowID] = map[string]int{}
		}
		cellCounts[rowID][key] += gc.Count
	}

	columnKeys := make([]string, 0, len(typeTotals))
	for key := range typeTotals {
		columnKeys = append(columnKeys, key)
	}
	sort.Slice(columnKeys, func(i, j int) bool {
		if typeTotals[columnKeys[i]] != typeTotals[columnKeys[j]] {
			return typeTotals[columnKeys[i]] > typeTotals[columnKeys[j]]
		}
		return columnKeys[i] < columnKeys[j]
	})

	columnLabels := make([]string, len(columnKeys))
	for i, key := range columnKeys {
		columnLabels[i] = e.types.ResolveDisplayName(ctx, key)
	}

	cells := make([][]int, len(rowIDs))
	for r, rowID := range rowIDs {
		row := make([]int, len(columnKeys))
		for c, key := range columnKeys {
			row[c] = cellCounts[rowID][key]
		}
		cells[r] = row
	}

	return Matrix{
		RowDimension: rowDimension,
		RowIDs:       rowIDs,
		RowLabels:    rowLabels,
		ColumnKeys:   columnKeys,
		ColumnLabels: columnLabels,
		Cells:        cells,
		GeneratedAt:  e.now(),
	}, nil
}

func (e *Engine) matrixRows(ctx context.Context, rowDimension string, wardID string) ([]string, []string, error) {
	var ids, labels []string
	if rowDimension == RowDimensionSubZone {
		subZones, err := e.store.ListSubZones(ctx, wardID)
		if err != nil {
			return nil, nil, fmt.Errorf("list sub zones: %w", err)
		}
		for _, sz := range subZones {
			ids = append(ids, sz.SubZoneID)
			labels = append(labels, sz.Name)
		}
		return ids, labels, nil
	}
	wards, err := e.store.ListWards(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list wards: %w", err)
	}
	for _, w := range wards {
		ids = append(ids, w.WardID)
		labels = append(labels, w.Name)
	}
	return ids, labels, nil
}
