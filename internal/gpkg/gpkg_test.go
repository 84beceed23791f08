package gpkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := Create(context.Background(), filepath.Join(t.TempDir(), "bldg_Building.gpkg"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestCreate_CoreTables(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	var appID, version int64
	require.NoError(t, h.DB().QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID))
	require.NoError(t, h.DB().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, int64(ApplicationID), appID)
	assert.Equal(t, int64(UserVersion), version)

	var n int
	require.NoError(t, h.DB().QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name LIKE 'gpkg_%'").Scan(&n))
	assert.Equal(t, 3, n)

	require.NoError(t, h.DB().QueryRowContext(ctx,
		"SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id IN (-1, 0, 4326)").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestCreate_RemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.gpkg")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o600))

	h, err := Create(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestTx_TableLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	tx, err := h.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddTable(ctx, TableDef{
		Name: "bldg:Building",
		Columns: []ColumnDef{
			{Name: "measuredHeight", Type: "double"},
			{Name: "Geometry", Type: "string"},
			{Name: "storeys", Type: "integer"},
		},
	}, 6697))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	tx, err = h.Begin(ctx)
	require.NoError(t, err)
	cols, err := tx.Columns(ctx, "bldg:Building")
	require.NoError(t, err)
	assert.Equal(t, []string{"fid", "object_id", "geometry", "measuredHeight", "storeys"}, cols)

	require.NoError(t, tx.AddColumns(ctx, "bldg:Building", []string{"Building|usage", "name"}))
	require.NoError(t, tx.InsertFeature(ctx, "bldg:Building", "b1", []byte{1, 2}, []Attribute{
		{Column: "measuredHeight", Value: "12.5"},
		{Column: "Building|usage", Value: "住宅"},
	}))
	require.NoError(t, tx.InsertFeature(ctx, "bldg:Building", "b2", []byte{3}, []Attribute{
		{Column: "measuredHeight", Value: "3"},
		{Column: "Building|usage", Value: "店舗"},
	}))
	require.NoError(t, tx.UpdateBbox(ctx, "bldg:Building", 139.1, 35.2, 139.9, 35.8))
	require.NoError(t, tx.Commit())

	var (
		count  int
		height float64
		usage  string
	)
	require.NoError(t, h.DB().QueryRowContext(ctx, `SELECT count(*) FROM "bldg:Building"`).Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, h.DB().QueryRowContext(ctx,
		`SELECT measuredHeight, "Building|usage" FROM "bldg:Building" WHERE object_id = 'b1'`).Scan(&height, &usage))
	assert.Equal(t, 12.5, height)
	assert.Equal(t, "住宅", usage)

	var minX, minY, maxX, maxY float64
	var srsID int32
	require.NoError(t, h.DB().QueryRowContext(ctx,
		`SELECT min_x, min_y, max_x, max_y, srs_id FROM gpkg_contents WHERE table_name = ?`, "bldg:Building").
		Scan(&minX, &minY, &maxX, &maxY, &srsID))
	assert.Equal(t, []float64{139.1, 35.2, 139.9, 35.8}, []float64{minX, minY, maxX, maxY})
	assert.Equal(t, int32(6697), srsID)

	var def string
	require.NoError(t, h.DB().QueryRowContext(ctx,
		`SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = 6697`).Scan(&def))
	assert.Contains(t, def, "JGD2011")
}

func TestTx_RollbackDiscardsTable(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	tx, err := h.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddTable(ctx, TableDef{Name: "wtr:WaterBody"}, 0))
	require.NoError(t, tx.Rollback())

	tx, err = h.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Columns(ctx, "wtr:WaterBody")
	assert.Error(t, err)
	assert.Error(t, tx.UpdateBbox(ctx, "wtr:WaterBody", 0, 0, 1, 1))
}

func TestSpatialRefFor(t *testing.T) {
	assert.Equal(t, "WGS 84 geodetic", SpatialRefFor(4326).Name)
	assert.Equal(t, "JGD2011", SpatialRefFor(6668).Name)
	unknown := SpatialRefFor(32654)
	assert.Equal(t, "EPSG:32654", unknown.Name)
	assert.Equal(t, "undefined", unknown.Definition)
}

func TestSqliteType(t *testing.T) {
	assert.Equal(t, "INTEGER", sqliteType("Integer"))
	assert.Equal(t, "REAL", sqliteType("measure"))
	assert.Equal(t, "TEXT", sqliteType("code"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}
