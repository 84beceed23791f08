package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gpkgsink/internal/gpkg"
	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
	"github.com/ajitpratap0/gpkgsink/pkg/testutil"
)

const (
	buildingFile  = "建築物.gpkg"
	waterBodyFile = "水部.gpkg"
)

func testSchema() *entity.Schema {
	return &entity.Schema{EPSG: 6697, Types: []entity.TypeDef{
		{Name: buildingTable, Kind: entity.TypeKindFeature, Attributes: []entity.AttrDef{
			{Name: "measuredHeight", Type: "double"},
		}},
		{Name: waterBodyTable, Kind: entity.TypeKindFeature},
		{Name: "uro:BuildingDetailAttribute", Kind: entity.TypeKindData},
		{Name: "gen:GenericAttributeSet", Kind: entity.TypeKindProperty},
	}}
}

func newTestSink(t *testing.T, mutate func(*config.Config), opts ...Option) (*Sink, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	cfg := config.NewConfig()
	cfg.Output.Dir = dir
	cfg.Performance.Workers = 4
	cfg.Performance.QueueSize = 8
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, testutil.TestLogger(t), opts...)
	require.NoError(t, err)
	return s, dir
}

func keepLoose(cfg *config.Config) { cfg.Output.KeepLooseFiles = true }

func openStore(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func looseFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*"+FileExt))
	require.NoError(t, err)
	for i, f := range files {
		files[i] = filepath.Base(f)
	}
	sort.Strings(files)
	return files
}

func sampleEntities() []*entity.Entity {
	return []*entity.Entity{
		testutil.Feature(buildingTable, "b1", 0, 0, 10,
			testutil.Attr("name", "A"),
			entity.Attribute{Name: "measuredHeight", Value: entity.Double(12.5)}),
		testutil.Feature(buildingTable, "b2", 5, 5, 20),
		testutil.Feature(waterBodyTable, "w1", -3, -2, 0),
		testutil.Data("uro:BuildingDetailAttribute", "b1", testutil.Attr("usage", "office")),
		testutil.Data("uro:BuildingDetailAttribute", "missing", testutil.Attr("usage", "shop")),
	}
}

func TestRun_ArchivesOneFilePerFeatureType(t *testing.T) {
	s, dir := newTestSink(t, nil)
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(sampleEntities()...), testSchema())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.NotEmpty(t, report.RunID)
	assert.ElementsMatch(t, []string{buildingTable, waterBodyTable}, report.TablesCreated)
	assert.Equal(t, int64(3), report.Features)
	assert.Equal(t, int64(2), report.Attributes)
	assert.Equal(t, 3, report.FeaturesWritten)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.MergeMisses)
	assert.Equal(t, 2, report.ColumnsAdded)
	assert.Equal(t, filepath.Join(dir, config.DefaultArchiveName), report.ArchivePath)

	assert.Empty(t, looseFiles(t, dir))

	r, err := zip.OpenReader(report.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{buildingFile, waterBodyFile}, names)
}

func TestRun_WritesGeoPackageContents(t *testing.T) {
	s, dir := newTestSink(t, keepLoose)
	fb, _ := testutil.TestFeedback(t)

	_, err := s.Run(fb, testutil.Feed(sampleEntities()...), testSchema())
	require.NoError(t, err)
	require.Equal(t, []string{buildingFile, waterBodyFile}, looseFiles(t, dir))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	db := openStore(t, filepath.Join(dir, buildingFile))

	var appID int64
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID))
	assert.Equal(t, int64(gpkg.ApplicationID), appID)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM "bldg:Building"`).Scan(&count))
	assert.Equal(t, 2, count)

	var name, usage string
	var height float64
	var blob []byte
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT name, usage, measuredHeight, geometry FROM "bldg:Building" WHERE object_id = 'b1'`).
		Scan(&name, &usage, &height, &blob))
	assert.Equal(t, "A", name)
	assert.Equal(t, "office", usage)
	assert.InDelta(t, 12.5, height, 1e-9)

	parsed, err := geometry.ParseBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, int32(6697), parsed.SrsID)
	assert.Equal(t, 1, parsed.Geometry.NumPolygons())

	var minX, minY, maxX, maxY float64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = 'bldg:Building'`).
		Scan(&minX, &minY, &maxX, &maxY))
	assert.Equal(t, []float64{0, 0, 6, 6}, []float64{minX, minY, maxX, maxY})

	var srsCount int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id = 6697`).Scan(&srsCount))
	assert.Equal(t, 1, srsCount)
}

func TestRun_TableCreatedOnce(t *testing.T) {
	s, dir := newTestSink(t, func(cfg *config.Config) {
		keepLoose(cfg)
		cfg.Performance.Workers = 8
		cfg.Performance.QueueSize = 2
	})
	fb, _ := testutil.TestFeedback(t)

	var entities []*entity.Entity
	for i := 0; i < 50; i++ {
		entities = append(entities, testutil.Feature(buildingTable, fmt.Sprintf("b%d", i), float64(i), 0, 0))
	}
	report, err := s.Run(fb, testutil.Feed(entities...), testSchema())
	require.NoError(t, err)

	assert.Equal(t, []string{buildingTable}, report.TablesCreated)
	assert.Equal(t, []string{buildingFile}, looseFiles(t, dir))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	var count int
	require.NoError(t, openStore(t, filepath.Join(dir, buildingFile)).
		QueryRowContext(ctx, `SELECT count(*) FROM "bldg:Building"`).Scan(&count))
	assert.Equal(t, 50, count)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	s, dir := newTestSink(t, nil)
	fb, canc := testutil.TestFeedback(t)
	canc.Cancel()

	report, err := s.Run(fb, testutil.Feed(sampleEntities()...), testSchema())
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, report.Status)
	assert.Empty(t, report.TablesCreated)
	assert.Empty(t, looseFiles(t, dir))
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultArchiveName))
}

func TestRun_CanceledMidRun(t *testing.T) {
	s, dir := newTestSink(t, nil)
	fb, canc := testutil.TestFeedback(t)

	upstream := make(chan *entity.Parcel)
	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = s.Run(fb, upstream, testSchema())
	}()

	upstream <- &entity.Parcel{Entity: testutil.Feature(buildingTable, "b1", 0, 0, 0)}
	testutil.AssertEventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, buildingFile))
		return err == nil
	}, 5*time.Second, "building store was not created")

	canc.Cancel()
	select {
	case upstream <- &entity.Parcel{Entity: testutil.Feature(waterBodyTable, "w1", 0, 0, 0)}:
	case <-time.After(100 * time.Millisecond):
	}
	close(upstream)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	require.NoError(t, runErr)
	assert.Equal(t, StatusCanceled, report.Status)
	assert.NotContains(t, report.TablesCreated, waterBodyTable)
	assert.NoFileExists(t, filepath.Join(dir, waterBodyFile))
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultArchiveName))
}

func curveFeature(id string) *entity.Entity {
	e := testutil.Feature(buildingTable, id, 0, 0, 0)
	e.Root.Object.Stereotype.Geometries = []geometry.Ref{{Type: geometry.TypeCurve, Len: 1}}
	return e
}

func TestRun_UnsupportedGeometryFails(t *testing.T) {
	s, _ := newTestSink(t, nil)
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(curveFeature("c1")), testSchema())
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeUnsupportedGeometry))
	assert.Equal(t, StatusFailed, report.Status)
}

func TestRun_UnsupportedGeometrySkipped(t *testing.T) {
	s, _ := newTestSink(t, func(cfg *config.Config) {
		cfg.Sink.OnRecordError = config.OnRecordErrorSkip
	})
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(
		curveFeature("c1"),
		testutil.Feature(buildingTable, "b1", 0, 0, 0),
	), testSchema())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, 1, report.FeaturesWritten)
	assert.GreaterOrEqual(t, report.Warnings, int64(1))
}

func TestRun_UnknownTypeFails(t *testing.T) {
	s, _ := newTestSink(t, nil)
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(testutil.Feature("xyz:Unknown", "u1", 0, 0, 0)), testSchema())
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeData))
	assert.Equal(t, StatusFailed, report.Status)
}

func TestRun_DropsObjectsAndEmptyGeometry(t *testing.T) {
	s, _ := newTestSink(t, nil)
	fb, _ := testutil.TestFeedback(t)

	empty := testutil.Feature(buildingTable, "e1", 0, 0, 0)
	empty.Root.Object.Stereotype.Geometries = nil
	object := &entity.Entity{Root: entity.ObjectValue(&entity.Object{
		TypeName:   "gen:GenericAttributeSet",
		Stereotype: entity.Stereotype{Kind: entity.StereotypeObject},
	})}
	scalar := &entity.Entity{Root: entity.String("not an object")}

	report, err := s.Run(fb, testutil.Feed(empty, object, scalar), testSchema())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.EmptyGeometry)
	assert.Equal(t, int64(1), report.Objects)
	assert.Zero(t, report.Features)
	assert.Empty(t, report.TablesCreated)
}

func TestRun_StoreFailureAborts(t *testing.T) {
	s, dir := newTestSink(t, nil)
	fb, _ := testutil.TestFeedback(t)

	// more attribute columns than SQLite allows on one table
	var attrs []entity.Attribute
	for i := 0; i < 2100; i++ {
		attrs = append(attrs, testutil.Attr(fmt.Sprintf("k%04d", i), "v"))
	}
	report, err := s.Run(fb, testutil.Feed(testutil.Feature(buildingTable, "b1", 0, 0, 0, attrs...)), testSchema())
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeStore), "got %v", err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Zero(t, report.FeaturesWritten)
	assert.Zero(t, report.ColumnsAdded)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultArchiveName))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	db := openStore(t, filepath.Join(dir, buildingFile))

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM "bldg:Building"`).Scan(&rows))
	assert.Zero(t, rows)

	var columns int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM pragma_table_info('bldg:Building')`).Scan(&columns))
	assert.Equal(t, 4, columns)
}

func TestRun_LeavesForeignGeoPackages(t *testing.T) {
	s, dir := newTestSink(t, nil)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	foreign := filepath.Join(dir, "earlier.gpkg")
	require.NoError(t, os.WriteFile(foreign, []byte("not from this run"), 0o644))
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(testutil.Feature(buildingTable, "b1", 0, 0, 0)), testSchema())
	require.NoError(t, err)

	assert.Equal(t, []string{"earlier.gpkg"}, looseFiles(t, dir))
	r, err := zip.OpenReader(report.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, buildingFile, r.File[0].Name)
}

type fakePublisher struct {
	path, runID string
	closed      bool
}

func (f *fakePublisher) Publish(_ context.Context, localPath, runID string) (string, error) {
	f.path, f.runID = localPath, runID
	return "mem://" + runID + "/" + filepath.Base(localPath), nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestRun_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	s, _ := newTestSink(t, func(cfg *config.Config) {
		cfg.Publish = config.PublishConfig{Target: config.PublishS3, Bucket: "city"}
	}, WithPublisher(pub))
	fb, _ := testutil.TestFeedback(t)

	report, err := s.Run(fb, testutil.Feed(testutil.Feature(buildingTable, "b1", 0, 0, 0)), testSchema())
	require.NoError(t, err)

	assert.Equal(t, report.ArchivePath, pub.path)
	assert.Equal(t, report.RunID, pub.runID)
	assert.True(t, pub.closed)
	assert.Equal(t, "mem://"+report.RunID+"/"+config.DefaultArchiveName, report.PublishedURL)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Sink.OnRecordError = "explode"
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeConfig))
}

func TestEnsureTable_CreatesOnceAndReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, buildingFile)
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	fb, _ := testutil.TestFeedback(t)
	reg := NewRegistry()
	m := newTableManager(dir, config.NamingLocalized, 6697, TableInfosFromSchema(testSchema()), reg, fb, testutil.TestLogger(t))
	defer func() { require.NoError(t, m.closeAll()) }()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	require.NoError(t, m.ensureTable(ctx, buildingTable))
	h, ok := m.handler(buildingTable)
	require.True(t, ok)
	require.NoError(t, m.ensureTable(ctx, buildingTable))
	h2, _ := m.handler(buildingTable)
	assert.Same(t, h, h2)

	require.NoError(t, m.ensureTable(ctx, "uro:BuildingDetailAttribute"))
	assert.Equal(t, []string{buildingTable}, reg.Created())
	assert.Len(t, looseFiles(t, dir), 1)
}
