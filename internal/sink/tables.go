package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/internal/gpkg"
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// TableInfo is the table layout derived from one schema type.
type TableInfo struct {
	Name        string
	Columns     []gpkg.ColumnDef
	HasGeometry bool
}

// TableInfosFromSchema derives one TableInfo per schema type. Only feature
// types get a geometry and therefore a file.
func TableInfosFromSchema(schema *entity.Schema) map[string]*TableInfo {
	infos := make(map[string]*TableInfo, len(schema.Types))
	for _, td := range schema.Types {
		info := &TableInfo{
			Name:        td.Name,
			HasGeometry: td.Kind == entity.TypeKindFeature,
		}
		for _, a := range td.Attributes {
			info.Columns = append(info.Columns, gpkg.ColumnDef{Name: a.Name, Type: a.Type})
		}
		infos[td.Name] = info
	}
	return infos
}

// tableManager creates tables on first sight and evolves their columns.
// It is only used from the consumer goroutine.
type tableManager struct {
	dir      string
	naming   string
	srsID    int32
	infos    map[string]*TableInfo
	registry *Registry
	fb       *feedback.Feedback
	logger   *zap.Logger

	handlers     map[string]*gpkg.Handler
	fileNames    map[string]string
	columnsAdded int
}

func newTableManager(dir, naming string, srsID int32, infos map[string]*TableInfo, reg *Registry, fb *feedback.Feedback, logger *zap.Logger) *tableManager {
	return &tableManager{
		dir:       dir,
		naming:    naming,
		srsID:     srsID,
		infos:     infos,
		registry:  reg,
		fb:        fb,
		logger:    logger,
		handlers:  make(map[string]*gpkg.Handler),
		fileNames: make(map[string]string),
	}
}

// ensureTable creates the file and table for a feature type the first time
// it is seen. Types without geometry are accepted without creating anything.
func (m *tableManager) ensureTable(ctx context.Context, table string) error {
	info, ok := m.infos[table]
	if !ok {
		return sinkerrors.New(sinkerrors.ErrorTypeData, "type is not declared in the schema").
			WithDetail("type", table)
	}
	if !info.HasGeometry || m.registry.IsCreated(table) {
		return nil
	}
	if err := m.fb.EnsureNotCanceled(); err != nil {
		return err
	}

	path := filepath.Join(m.dir, m.uniqueFileName(table))
	h, err := gpkg.Create(ctx, path)
	if err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to create GeoPackage").
			WithDetail("path", path)
	}
	m.handlers[table] = h

	tx, err := h.Begin(ctx)
	if err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to begin table creation").
			WithDetail("table", table)
	}
	if err := tx.AddTable(ctx, gpkg.TableDef{Name: table, Columns: info.Columns}, m.srsID); err != nil {
		_ = tx.Rollback()
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to add table").
			WithDetail("table", table)
	}
	if err := tx.Commit(); err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to commit table creation").
			WithDetail("table", table)
	}

	columns := []string{gpkg.PrimaryKeyColumn, gpkg.ObjectIDColumn, gpkg.GeometryColumn}
	for _, c := range info.Columns {
		columns = append(columns, c.Name)
	}
	m.registry.MarkCreated(table, columns)
	metrics.TablesCreated.Inc()
	m.fb.Info("table created", zap.String("table", table), zap.String("path", path))
	return nil
}

// uniqueFileName returns the file name for table, suffixing a counter when
// two types map to the same name.
func (m *tableManager) uniqueFileName(table string) string {
	stem := FileStem(table, m.naming)
	name := FileName(table, m.naming)
	for i := 2; m.fileNameTaken(name); i++ {
		name = fmt.Sprintf("%s_%d%s", stem, i, FileExt)
	}
	m.fileNames[table] = name
	return name
}

func (m *tableManager) fileNameTaken(name string) bool {
	for _, n := range m.fileNames {
		if n == name {
			return true
		}
	}
	return false
}

// files returns the file names of every created table.
func (m *tableManager) files() []string {
	created := m.registry.Created()
	out := make([]string, 0, len(created))
	for _, table := range created {
		if name, ok := m.fileNames[table]; ok {
			out = append(out, name)
		}
	}
	return out
}

// handler returns the store of a created table.
func (m *tableManager) handler(table string) (*gpkg.Handler, bool) {
	h, ok := m.handlers[table]
	return h, ok
}

// ensureColumns adds, in one step, every key that is not yet a column of
// table. Keys are compared case-insensitively.
func (m *tableManager) ensureColumns(ctx context.Context, tx *gpkg.Tx, table string, keys []string) ([]string, error) {
	existing, err := tx.Columns(ctx, table)
	if err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to read columns").
			WithDetail("table", table)
	}
	m.registry.SyncColumns(table, existing)

	missing := m.registry.MissingColumns(table, keys)
	if len(missing) == 0 {
		return nil, nil
	}
	if err := tx.AddColumns(ctx, table, missing); err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to add columns").
			WithDetail("table", table).
			WithDetail("columns", missing)
	}
	m.registry.AddColumns(table, missing)
	m.columnsAdded += len(missing)
	m.logger.Debug("columns added", zap.String("table", table), zap.Strings("columns", missing))
	metrics.ColumnsAdded.Add(float64(len(missing)))
	return missing, nil
}

// closeAll closes every store in creation order.
func (m *tableManager) closeAll() error {
	var errs []error
	for _, table := range m.registry.Created() {
		h, ok := m.handlers[table]
		if !ok {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
		} else {
			m.logger.Debug("GeoPackage closed", zap.String("table", table), zap.String("path", h.Path()))
		}
		delete(m.handlers, table)
	}
	// handlers whose table creation failed half way
	for table, h := range m.handlers {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
		}
		delete(m.handlers, table)
	}
	if err := errors.Join(errs...); err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to close GeoPackages")
	}
	return nil
}
