package sink

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/internal/gpkg"
	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

var reservedColumns = map[string]struct{}{
	gpkg.PrimaryKeyColumn: {},
	gpkg.ObjectIDColumn:   {},
	gpkg.GeometryColumn:   {},
}

// tableBatch is the merged features of one table in index order.
type tableBatch struct {
	table    string
	features []*FeatureData
}

func groupByTable(features []*FeatureData) []tableBatch {
	var batches []tableBatch
	pos := make(map[string]int)
	for _, f := range features {
		i, ok := pos[f.TableName]
		if !ok {
			i = len(batches)
			pos[f.TableName] = i
			batches = append(batches, tableBatch{table: f.TableName})
		}
		batches[i].features = append(batches[i].features, f)
	}
	return batches
}

// rowAttributes returns the insertable attributes of f. Reserved names are
// dropped and keys equal up to case keep the first occurrence.
func rowAttributes(f *FeatureData) []gpkg.Attribute {
	out := make([]gpkg.Attribute, 0, f.Attributes.Len())
	seen := make(map[string]struct{}, f.Attributes.Len())
	f.Attributes.Range(func(k, v string) bool {
		lk := strings.ToLower(k)
		if _, reserved := reservedColumns[lk]; reserved {
			return true
		}
		if _, dup := seen[lk]; dup {
			return true
		}
		seen[lk] = struct{}{}
		out = append(out, gpkg.Attribute{Column: k, Value: v})
		return true
	})
	return out
}

// writeFeatures inserts every merged feature, one transaction per table.
// It returns the number of rows written.
func (m *tableManager) writeFeatures(ctx context.Context, features []*FeatureData) (int, error) {
	written := 0
	for _, batch := range groupByTable(features) {
		h, ok := m.handler(batch.table)
		if !ok {
			m.fb.Warn("no store for table, features skipped",
				zap.String("table", batch.table),
				zap.Int("count", len(batch.features)))
			continue
		}
		n, err := m.writeBatch(ctx, h, batch)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (m *tableManager) writeBatch(ctx context.Context, h *gpkg.Handler, batch tableBatch) (n int, err error) {
	if err := m.fb.EnsureNotCanceled(); err != nil {
		return 0, err
	}
	tx, err := h.Begin(ctx)
	if err != nil {
		return 0, sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to begin write").
			WithDetail("table", batch.table)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			n = 0
		}
	}()

	rows := make([][]gpkg.Attribute, len(batch.features))
	var keys []string
	for i, f := range batch.features {
		rows[i] = rowAttributes(f)
		for _, a := range rows[i] {
			keys = append(keys, a.Column)
		}
	}
	if _, err := m.ensureColumns(ctx, tx, batch.table, keys); err != nil {
		return 0, err
	}

	for i, f := range batch.features {
		if err := m.fb.EnsureNotCanceled(); err != nil {
			return 0, err
		}
		if err := tx.InsertFeature(ctx, batch.table, f.ObjID, f.Geometry, rows[i]); err != nil {
			return 0, sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to insert feature").
				WithDetail("table", batch.table).
				WithDetail("object_id", f.ObjID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to commit features").
			WithDetail("table", batch.table)
	}

	metrics.FeaturesWritten.Add(float64(len(batch.features)))
	m.logger.Debug("features written",
		zap.String("table", batch.table),
		zap.Int("count", len(batch.features)))
	return len(batch.features), nil
}

// updateBboxes stores the extent of every table that received features.
func (m *tableManager) updateBboxes(ctx context.Context, bboxes *bboxAggregator) error {
	return bboxes.each(func(table string, b geometry.Bbox) error {
		h, ok := m.handler(table)
		if !ok || b.IsEmpty() {
			return nil
		}
		if err := m.fb.EnsureNotCanceled(); err != nil {
			return err
		}
		tx, err := h.Begin(ctx)
		if err != nil {
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to begin bbox update").
				WithDetail("table", table)
		}
		minX, minY, maxX, maxY := b.Tuple2D()
		if err := tx.UpdateBbox(ctx, table, minX, minY, maxX, maxY); err != nil {
			_ = tx.Rollback()
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to update bbox").
				WithDetail("table", table)
		}
		if err := tx.Commit(); err != nil {
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to commit bbox").
				WithDetail("table", table)
		}
		return nil
	})
}
